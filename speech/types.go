// Package speech provides the streaming speech recognition and synthesis
// provider interfaces and the Riva-backed implementations.
package speech

import (
	"context"
	"time"
)

// AudioChunk is one unit of raw audio flowing through the pipeline.
type AudioChunk struct {
	Data       []byte    `json:"data"`
	SampleRate int       `json:"sample_rate"`
	Timestamp  time.Time `json:"timestamp"`
	// Final marks the last chunk of a synthesized utterance.
	Final bool `json:"is_final"`
}

// Transcript is one recognition result. Final marks an utterance boundary;
// non-final transcripts are incremental partials.
type Transcript struct {
	Text       string    `json:"text"`
	Final      bool      `json:"is_final"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// STTProvider opens streaming recognition sessions.
type STTProvider interface {
	StartStream(ctx context.Context, sampleRate int) (STTStream, error)
	Name() string
}

// STTStream is one live recognition session. Receive's channel is closed
// when the stream ends; Close is idempotent.
type STTStream interface {
	Send(chunk AudioChunk) error
	Receive() <-chan Transcript
	Close() error
}

// TTSProvider converts text to an audio stream. The returned channel is
// closed when synthesis completes; cancelling ctx flushes any buffered
// audio and ends the stream early.
type TTSProvider interface {
	Synthesize(ctx context.Context, text string) (<-chan AudioChunk, error)
	Name() string
}
