// Package handlers implements the voiceflow HTTP API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/BaSui01/voiceflow/types"
)

// ResponseWriter wraps http.ResponseWriter and records the status code
// for logging and metrics.
type ResponseWriter struct {
	http.ResponseWriter
	Status int
}

// NewResponseWriter wraps w with a 200 default status.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, Status: http.StatusOK}
}

// WriteHeader records the status before delegating.
func (w *ResponseWriter) WriteHeader(status int) {
	w.Status = status
	w.ResponseWriter.WriteHeader(status)
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes err as a JSON error response. Typed errors carry
// their own status; anything else maps to 500.
func WriteError(w http.ResponseWriter, err error) {
	code := types.GetErrorCode(err)
	status := statusForError(err, code)
	WriteJSON(w, status, errorBody{Error: errorDetail{
		Code:    string(code),
		Message: err.Error(),
	}})
}

func statusForError(err error, code types.ErrorCode) int {
	var typed *types.Error
	if errors.As(err, &typed) && typed.HTTPStatus != 0 {
		return typed.HTTPStatus
	}
	return StatusForCode(code)
}

// StatusForCode maps an error code to its default HTTP status.
func StatusForCode(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrSessionNotFound:
		return http.StatusNotFound
	case types.ErrSessionExists:
		return http.StatusConflict
	case types.ErrProvisioningFailed, types.ErrUpstreamError:
		return http.StatusBadGateway
	case types.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSONBody decodes the request body into v, rejecting unknown fields.
func DecodeJSONBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}
