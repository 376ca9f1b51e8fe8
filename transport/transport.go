// Package transport connects a session to a media room: audio frames in
// and out, plus participant presence events.
package transport

import (
	"context"
	"time"

	"github.com/BaSui01/voiceflow/speech"
)

// EventKind identifies a presence event.
type EventKind string

const (
	// EventParticipantJoined fires when a remote participant enters the room.
	EventParticipantJoined EventKind = "participant_joined"
	// EventParticipantLeft fires when a remote participant leaves the room.
	EventParticipantLeft EventKind = "participant_left"
	// EventUserStartedSpeaking fires when the gateway's voice activity
	// detection hears the participant begin talking.
	EventUserStartedSpeaking EventKind = "user_started_speaking"
)

// Event is a room presence change.
type Event struct {
	Kind          EventKind `json:"kind"`
	ParticipantID string    `json:"participant_id"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Transport is a live connection to a room. Recv blocks for the next
// inbound audio chunk and returns io.EOF when the room connection ends.
// Events is closed when the connection ends. Close is idempotent.
type Transport interface {
	Recv(ctx context.Context) (speech.AudioChunk, error)
	Send(ctx context.Context, chunk speech.AudioChunk) error
	Events() <-chan Event
	Close() error
}

// Dialer opens transports into rooms.
type Dialer interface {
	Dial(ctx context.Context, roomURL, token string) (Transport, error)
}
