package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/config"
)

// RivaSTT performs streaming recognition against a Riva function endpoint.
// Audio goes up as binary frames; incremental transcripts come back as
// JSON text frames.
type RivaSTT struct {
	cfg    config.STTConfig
	logger *zap.Logger
}

// NewRivaSTT creates a streaming recognition provider.
func NewRivaSTT(cfg config.STTConfig, logger *zap.Logger) *RivaSTT {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RivaSTT{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "riva_stt")),
	}
}

func (p *RivaSTT) Name() string { return "riva-stt" }

// StartStream opens a recognition session. The stream stays valid until
// Close or until the server ends it.
func (p *RivaSTT) StartStream(ctx context.Context, sampleRate int) (STTStream, error) {
	if p.cfg.APIKey == "" {
		return nil, fmt.Errorf("stt api key not configured")
	}
	if sampleRate == 0 {
		sampleRate = p.cfg.SampleRate
	}

	q := url.Values{}
	q.Set("function_id", p.cfg.FunctionID)
	q.Set("model", p.cfg.Model)
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	endpoint := fmt.Sprintf("wss://%s/v1/asr/streaming?%s", p.cfg.Server, q.Encode())

	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + p.cfg.APIKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("stt dial: %w", err)
	}

	s := &rivaSTTStream{
		conn:        conn,
		transcripts: make(chan Transcript, 16),
		logger:      p.logger,
	}
	go s.readLoop(ctx)

	p.logger.Debug("recognition stream started",
		zap.String("model", p.cfg.Model),
		zap.Int("sample_rate", sampleRate))
	return s, nil
}

type rivaSTTStream struct {
	conn        *websocket.Conn
	transcripts chan Transcript
	logger      *zap.Logger
	mu          sync.Mutex
	closed      bool
}

type rivaTranscriptMsg struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
}

// Send writes one audio chunk to the recognition stream.
func (s *rivaSTTStream) Send(chunk AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("stt stream closed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageBinary, chunk.Data); err != nil {
		return fmt.Errorf("stt write: %w", err)
	}
	return nil
}

// Receive returns the transcript channel; it is closed when the stream ends.
func (s *rivaSTTStream) Receive() <-chan Transcript {
	return s.transcripts
}

// Close ends the recognition session. Idempotent.
func (s *rivaSTTStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close(websocket.StatusNormalClosure, "closing")
}

func (s *rivaSTTStream) readLoop(ctx context.Context) {
	defer close(s.transcripts)

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed && ctx.Err() == nil {
				s.logger.Warn("recognition stream ended", zap.Error(err))
			}
			return
		}

		var msg rivaTranscriptMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("malformed transcript message", zap.Error(err))
			continue
		}

		t := Transcript{
			Text:       msg.Text,
			Final:      msg.IsFinal,
			Confidence: msg.Confidence,
			Timestamp:  time.Now(),
		}
		select {
		case s.transcripts <- t:
		case <-ctx.Done():
			return
		}
	}
}
