// Package pipeline runs the voice turn loop of a session: inbound room
// audio through recognition, final transcripts through the chat model,
// and the model's reply through synthesis back into the room.
package pipeline

import "github.com/BaSui01/voiceflow/types"

// Frame is a unit of work queued into a running task. Control frames let
// the session layer drive the pipeline from outside the audio path.
type Frame interface {
	frame()
}

// SpeakFrame synthesizes Text verbatim, bypassing the chat model.
type SpeakFrame struct {
	Text string
}

// AppendRunFrame appends Messages to the conversation and triggers a
// model generation from the updated context.
type AppendRunFrame struct {
	Messages []types.Message
}

// InterruptFrame cancels any in-flight generation and synthesis. The
// partial assistant text is discarded from the conversation.
type InterruptFrame struct{}

// EndFrame asks the task to finish gracefully after the current turn.
type EndFrame struct{}

func (SpeakFrame) frame()     {}
func (AppendRunFrame) frame() {}
func (InterruptFrame) frame() {}
func (EndFrame) frame()       {}
