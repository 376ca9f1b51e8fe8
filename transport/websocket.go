package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/speech"
)

// writeTimeout bounds each outbound frame write.
const writeTimeout = 10 * time.Second

// WSDialer dials room media gateways over websocket.
type WSDialer struct {
	SampleRate int
	Logger     *zap.Logger
}

// NewWSDialer creates a dialer. sampleRate applies to inbound chunks that
// carry no rate of their own.
func NewWSDialer(sampleRate int, logger *zap.Logger) *WSDialer {
	if sampleRate == 0 {
		sampleRate = 16000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSDialer{SampleRate: sampleRate, Logger: logger}
}

// Dial connects to the room's media gateway. Binary frames carry raw PCM;
// text frames carry JSON presence events.
func (d *WSDialer) Dial(ctx context.Context, roomURL, token string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, roomURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return nil, fmt.Errorf("room dial: %w", err)
	}
	// Raw PCM frames run well past the library default.
	conn.SetReadLimit(1 << 20)

	t := &wsTransport{
		conn:       conn,
		sampleRate: d.SampleRate,
		audio:      make(chan speech.AudioChunk, 32),
		events:     make(chan Event, 8),
		done:       make(chan struct{}),
		logger:     d.Logger.With(zap.String("component", "ws_transport")),
	}
	go t.readLoop()
	return t, nil
}

type wsTransport struct {
	conn       *websocket.Conn
	sampleRate int
	audio      chan speech.AudioChunk
	events     chan Event
	done       chan struct{}
	logger     *zap.Logger

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

type wireEvent struct {
	Type          string `json:"type"`
	ParticipantID string `json:"participant_id"`
	Reason        string `json:"reason,omitempty"`
}

// Recv blocks for the next inbound audio chunk.
func (t *wsTransport) Recv(ctx context.Context) (speech.AudioChunk, error) {
	select {
	case chunk, ok := <-t.audio:
		if !ok {
			return speech.AudioChunk{}, io.EOF
		}
		return chunk, nil
	case <-t.done:
		return speech.AudioChunk{}, io.EOF
	case <-ctx.Done():
		return speech.AudioChunk{}, ctx.Err()
	}
}

// Send writes one audio chunk to the room.
func (t *wsTransport) Send(ctx context.Context, chunk speech.AudioChunk) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	select {
	case <-t.done:
		return io.EOF
	default:
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := t.conn.Write(wctx, websocket.MessageBinary, chunk.Data); err != nil {
		return fmt.Errorf("room write: %w", err)
	}
	return nil
}

// Events returns the presence event channel.
func (t *wsTransport) Events() <-chan Event {
	return t.events
}

// Close ends the room connection. Idempotent.
func (t *wsTransport) Close() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return t.conn.Close(websocket.StatusNormalClosure, "session ended")
}

func (t *wsTransport) readLoop() {
	defer close(t.audio)
	defer close(t.events)

	ctx := context.Background()
	for {
		kind, data, err := t.conn.Read(ctx)
		if err != nil {
			t.closeMu.Lock()
			closed := t.closed
			t.closeMu.Unlock()
			if !closed {
				t.logger.Debug("room connection ended", zap.Error(err))
			}
			return
		}

		switch kind {
		case websocket.MessageBinary:
			chunk := speech.AudioChunk{
				Data:       data,
				SampleRate: t.sampleRate,
				Timestamp:  time.Now(),
			}
			select {
			case t.audio <- chunk:
			case <-t.done:
				return
			}
		case websocket.MessageText:
			var we wireEvent
			if err := json.Unmarshal(data, &we); err != nil {
				t.logger.Warn("malformed room event", zap.Error(err))
				continue
			}
			ev, ok := eventFromWire(we)
			if !ok {
				continue
			}
			select {
			case t.events <- ev:
			case <-t.done:
				return
			}
		}
	}
}

func eventFromWire(we wireEvent) (Event, bool) {
	var kind EventKind
	switch we.Type {
	case "participant-joined", "participant_joined":
		kind = EventParticipantJoined
	case "participant-left", "participant_left":
		kind = EventParticipantLeft
	case "user-started-speaking", "user_started_speaking":
		kind = EventUserStartedSpeaking
	default:
		return Event{}, false
	}
	return Event{
		Kind:          kind,
		ParticipantID: we.ParticipantID,
		Reason:        we.Reason,
		Timestamp:     time.Now(),
	}, true
}
