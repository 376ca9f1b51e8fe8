package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/daily"
	"github.com/BaSui01/voiceflow/session"
	"github.com/BaSui01/voiceflow/types"
)

// RoomHandler serves room provisioning and session lifecycle endpoints.
type RoomHandler struct {
	daily      *daily.Client
	supervisor *session.Supervisor
	botName    string
	logger     *zap.Logger
}

// NewRoomHandler creates the room endpoints handler.
func NewRoomHandler(client *daily.Client, supervisor *session.Supervisor, botName string, logger *zap.Logger) *RoomHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoomHandler{
		daily:      client,
		supervisor: supervisor,
		botName:    botName,
		logger:     logger.With(zap.String("component", "room_handler")),
	}
}

type createRoomResponse struct {
	RoomURL  string `json:"room_url"`
	RoomName string `json:"room_name"`
	Token    string `json:"token"`
}

// Create handles POST /room: provisions a room, mints a bot token and a
// participant token, launches the bot session, and returns the join info.
// An explicit ?name= is forwarded upstream; otherwise the API assigns one.
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.daily.Configured() {
		WriteError(w, types.NewError(types.ErrConfigMissing, "daily API key not configured"))
		return
	}

	room, err := h.daily.CreateRoom(ctx, r.URL.Query().Get("name"))
	if err != nil {
		h.logger.Error("room creation failed", zap.Error(err))
		WriteError(w, err)
		return
	}

	botToken, err := h.daily.MeetingToken(ctx, room.Name, true, h.botName)
	if err != nil {
		h.logger.Error("bot token mint failed", zap.Error(err), zap.String("room", room.Name))
		WriteError(w, err)
		return
	}
	userToken, err := h.daily.MeetingToken(ctx, room.Name, false, "")
	if err != nil {
		h.logger.Error("user token mint failed", zap.Error(err), zap.String("room", room.Name))
		WriteError(w, err)
		return
	}

	if _, err := h.supervisor.Start(ctx, session.StartParams{
		RoomName: room.Name,
		RoomURL:  room.URL,
		Token:    botToken,
	}); err != nil {
		WriteError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, createRoomResponse{
		RoomURL:  room.URL,
		RoomName: room.Name,
		Token:    userToken,
	})
}

type roomInfo struct {
	RoomName  string `json:"room_name"`
	RoomURL   string `json:"room_url"`
	Persona   string `json:"persona"`
	State     string `json:"state"`
	StartedAt string `json:"started_at"`
}

type listRoomsResponse struct {
	Rooms []roomInfo `json:"rooms"`
	Count int        `json:"count"`
}

// List handles GET /rooms: the rooms with live bot sessions.
func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions := h.supervisor.Registry().All()
	rooms := make([]roomInfo, 0, len(sessions))
	for _, s := range sessions {
		rooms = append(rooms, roomInfo{
			RoomName:  s.RoomName,
			RoomURL:   s.RoomURL,
			Persona:   s.Persona,
			State:     s.State().String(),
			StartedAt: s.StartedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	WriteJSON(w, http.StatusOK, listRoomsResponse{Rooms: rooms, Count: len(rooms)})
}

type deleteRoomResponse struct {
	Status   string `json:"status"`
	RoomName string `json:"room_name"`
}

// Delete handles DELETE /room/{name}: asks the room's bot session to
// finish and deletes the room upstream.
func (h *RoomHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "missing room name"))
		return
	}
	if !h.daily.Configured() {
		WriteError(w, types.NewError(types.ErrConfigMissing, "daily API key not configured"))
		return
	}

	h.supervisor.Stop(name)

	if err := h.daily.DeleteRoom(r.Context(), name); err != nil {
		h.logger.Error("room deletion failed", zap.Error(err), zap.String("room", name))
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, deleteRoomResponse{Status: "deleted", RoomName: name})
}
