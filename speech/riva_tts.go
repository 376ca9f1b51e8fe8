package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/config"
	"github.com/BaSui01/voiceflow/internal/tlsutil"
)

// ttsChunkSize is the PCM read size per emitted AudioChunk (~100ms at
// 16 kHz mono 16-bit).
const ttsChunkSize = 3200

// RivaTTS synthesizes speech through a Riva function endpoint. The server
// streams raw PCM back; the response body is sliced into AudioChunks.
type RivaTTS struct {
	cfg    config.TTSConfig
	client *http.Client
	logger *zap.Logger
}

// NewRivaTTS creates a synthesis provider.
func NewRivaTTS(cfg config.TTSConfig, logger *zap.Logger) *RivaTTS {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RivaTTS{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
		logger: logger.With(zap.String("component", "riva_tts")),
	}
}

func (p *RivaTTS) Name() string { return "riva-tts" }

type rivaTTSRequest struct {
	Text       string `json:"text"`
	FunctionID string `json:"function_id"`
	Model      string `json:"model"`
	VoiceID    string `json:"voice_id"`
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
}

// Synthesize converts text to a stream of audio chunks. Cancelling ctx
// aborts the download and closes the channel after the current read.
func (p *RivaTTS) Synthesize(ctx context.Context, text string) (<-chan AudioChunk, error) {
	if p.cfg.APIKey == "" {
		return nil, fmt.Errorf("tts api key not configured")
	}

	body := rivaTTSRequest{
		Text:       text,
		FunctionID: p.cfg.FunctionID,
		Model:      p.cfg.Model,
		VoiceID:    p.cfg.VoiceID,
		SampleRate: p.cfg.SampleRate,
		Encoding:   "pcm16",
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s/v1/tts/synthesize", p.cfg.Server)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tts request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("tts error: status=%d body=%s", resp.StatusCode, string(errBody))
	}

	out := make(chan AudioChunk, 8)
	go p.streamBody(ctx, resp.Body, out)
	return out, nil
}

func (p *RivaTTS) streamBody(ctx context.Context, body io.ReadCloser, out chan<- AudioChunk) {
	defer body.Close()
	defer close(out)

	buf := make([]byte, ttsChunkSize)
	for {
		n, err := io.ReadFull(body, buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			chunk := AudioChunk{
				Data:       data,
				SampleRate: p.cfg.SampleRate,
				Timestamp:  time.Now(),
				Final:      err != nil,
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF && ctx.Err() == nil {
				p.logger.Warn("tts stream ended", zap.Error(err))
			}
			return
		}
	}
}
