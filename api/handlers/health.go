package handlers

import (
	"net/http"

	"github.com/BaSui01/voiceflow/daily"
	"github.com/BaSui01/voiceflow/persona"
	"github.com/BaSui01/voiceflow/session"
)

// HealthHandler serves liveness and service metadata endpoints.
type HealthHandler struct {
	daily    *daily.Client
	registry *session.Registry
	persona  persona.Persona
	version  string
}

// NewHealthHandler creates the health endpoints handler.
func NewHealthHandler(client *daily.Client, registry *session.Registry, p persona.Persona, version string) *HealthHandler {
	return &HealthHandler{daily: client, registry: registry, persona: p, version: version}
}

type healthResponse struct {
	Status          string `json:"status"`
	Service         string `json:"service"`
	DailyConfigured bool   `json:"daily_configured"`
	ActiveRooms     int    `json:"active_rooms"`
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, healthResponse{
		Status:          "ok",
		Service:         "voiceflow",
		DailyConfigured: h.daily.Configured(),
		ActiveRooms:     h.registry.Len(),
	})
}

type rootResponse struct {
	Service   string   `json:"service"`
	Version   string   `json:"version"`
	Persona   string   `json:"persona"`
	Personas  []string `json:"available_personas"`
	Endpoints []string `json:"endpoints"`
}

// Root handles GET /: service metadata.
func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, rootResponse{
		Service:  "voiceflow",
		Version:  h.version,
		Persona:  h.persona.Name,
		Personas: persona.Names(),
		Endpoints: []string{
			"POST /room",
			"GET /rooms",
			"DELETE /room/{name}",
			"GET /health",
		},
	})
}
