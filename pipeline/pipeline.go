package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/voiceflow/internal/metrics"
	"github.com/BaSui01/voiceflow/llm"
	"github.com/BaSui01/voiceflow/speech"
	"github.com/BaSui01/voiceflow/types"
)

// AudioIO is the audio path into and out of the room. Recv returns
// io.EOF when the room connection ends.
type AudioIO interface {
	Recv(ctx context.Context) (speech.AudioChunk, error)
	Send(ctx context.Context, chunk speech.AudioChunk) error
}

// State is the lifecycle state of a task. Terminated is absorbing.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateCancelling
	StateCompleting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateCancelling:
		return "cancelling"
	case StateCompleting:
		return "completing"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ErrTaskDone is returned by QueueFrame after the task has terminated.
var ErrTaskDone = errors.New("pipeline task done")

// Options configures a Task.
type Options struct {
	IO  AudioIO
	STT speech.STTProvider
	TTS speech.TTSProvider
	LLM llm.Provider

	// SystemPrompt seeds the conversation context.
	SystemPrompt string
	// TokenBudget caps the conversation context. Zero disables trimming.
	TokenBudget int
	// SampleRate is the PCM rate used to pace audio output. Defaults to 16000.
	SampleRate int
	// Temperature is passed through to the chat model.
	Temperature float64

	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Task drives one session's turn loop. Run blocks until the task ends;
// Cancel and QueueFrame are safe from any goroutine.
type Task struct {
	opts   Options
	convo  *ConversationContext
	frames chan Frame
	state  atomic.Int32
	logger *zap.Logger

	pacer *rate.Limiter

	mu     sync.Mutex
	cancel context.CancelFunc

	done    chan struct{}
	endOnce sync.Once
}

// NewTask creates a task. Run must be called exactly once.
func NewTask(opts Options) *Task {
	if opts.SampleRate == 0 {
		opts.SampleRate = 16000
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	bytesPerSecond := opts.SampleRate * 2 // 16-bit mono PCM
	return &Task{
		opts:   opts,
		convo:  NewConversationContext(opts.SystemPrompt, opts.TokenBudget),
		frames: make(chan Frame, 16),
		logger: opts.Logger.With(zap.String("component", "pipeline")),
		pacer:  rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond),
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (t *Task) State() State {
	return State(t.state.Load())
}

// SetIO attaches the audio path. Must be called before Run.
func (t *Task) SetIO(io AudioIO) {
	t.mu.Lock()
	t.opts.IO = io
	t.mu.Unlock()
}

// Done is closed when the task has terminated.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Context returns the conversation context.
func (t *Task) Context() *ConversationContext {
	return t.convo
}

// QueueFrame hands a control frame to the running task.
func (t *Task) QueueFrame(f Frame) error {
	select {
	case <-t.done:
		return ErrTaskDone
	case t.frames <- f:
		return nil
	}
}

// Cancel asks the task to stop. Idempotent; no-op once terminated.
func (t *Task) Cancel() {
	if !t.state.CompareAndSwap(int32(StateRunning), int32(StateCancelling)) &&
		!t.state.CompareAndSwap(int32(StateStarting), int32(StateCancelling)) {
		return
	}
	t.stop()
}

// Abandon terminates a task whose Run will never be called, releasing
// Done waiters. No-op once Run has started.
func (t *Task) Abandon() {
	if t.state.CompareAndSwap(int32(StateStarting), int32(StateTerminated)) {
		t.endOnce.Do(func() { close(t.done) })
	}
}

// stop cancels the run context, releasing the stage goroutines.
func (t *Task) stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run executes the turn loop until the room ends, Cancel is called, or a
// stage fails. Always leaves the task terminated.
func (t *Task) Run(ctx context.Context) error {
	defer func() {
		t.state.Store(int32(StateTerminated))
		t.endOnce.Do(func() { close(t.done) })
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	// Cancel may have raced Run; honor it before opening streams.
	if !t.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		return context.Canceled
	}
	if t.opts.IO == nil {
		return types.NewError(types.ErrPipelineFailed, "no audio transport attached")
	}

	sttStream, err := t.opts.STT.StartStream(ctx, t.opts.SampleRate)
	if err != nil {
		return types.NewError(types.ErrPipelineFailed, "failed to start recognition").WithCause(err)
	}
	defer sttStream.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return t.pumpAudio(gctx, sttStream)
	})
	g.Go(func() error {
		return t.runTurns(gctx, sttStream.Receive())
	})

	err = g.Wait()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled) && t.State() == StateCancelling:
		return context.Canceled
	case errors.Is(err, context.Canceled) && t.State() == StateCompleting:
		// EndFrame drain: the turn loop finished and released the pump.
		return nil
	default:
		return err
	}
}

// pumpAudio moves inbound room audio into the recognition stream. A room
// EOF moves the task to completing and closes the stream so the turn
// loop drains naturally.
func (t *Task) pumpAudio(ctx context.Context, stream speech.STTStream) error {
	for {
		chunk, err := t.opts.IO.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				t.state.CompareAndSwap(int32(StateRunning), int32(StateCompleting))
				stream.Close()
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return types.NewError(types.ErrPipelineFailed, "room receive failed").WithCause(err)
		}
		if err := stream.Send(chunk); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return types.NewError(types.ErrPipelineFailed, "recognition send failed").WithCause(err)
		}
	}
}

// generation is one in-flight reply: a model stream feeding synthesis.
type generation struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// runTurns consumes final transcripts and control frames. A new final
// transcript while a reply is in flight interrupts it; the partial
// assistant text is discarded.
func (t *Task) runTurns(ctx context.Context, transcripts <-chan speech.Transcript) error {
	var gen *generation
	var genDone chan struct{}
	ending := false

	stopGen := func(interrupted bool) {
		if gen == nil {
			return
		}
		gen.cancel()
		<-gen.done
		if interrupted {
			if t.opts.Metrics != nil {
				t.opts.Metrics.GenerationInterrupted()
			}
			t.logger.Debug("generation interrupted")
		}
		gen, genDone = nil, nil
	}

	for {
		if gen != nil {
			genDone = gen.done
		} else {
			genDone = nil
		}

		select {
		case <-ctx.Done():
			stopGen(false)
			return ctx.Err()

		case <-genDone:
			err := gen.err
			gen, genDone = nil, nil
			if err != nil && ctx.Err() == nil {
				return err
			}
			if ending {
				t.stop()
				return nil
			}

		case tr, ok := <-transcripts:
			if !ok {
				stopGen(false)
				return nil
			}
			text := strings.TrimSpace(tr.Text)
			if !tr.Final || text == "" {
				continue
			}
			stopGen(true)
			t.convo.AddUser(text)
			t.logger.Debug("user turn", zap.String("text", text))
			gen = t.startGeneration(ctx)

		case f := <-t.frames:
			switch f := f.(type) {
			case SpeakFrame:
				stopGen(true)
				gen = t.startSpeak(ctx, f.Text)
			case AppendRunFrame:
				stopGen(true)
				t.convo.Append(f.Messages...)
				gen = t.startGeneration(ctx)
			case InterruptFrame:
				stopGen(true)
			case EndFrame:
				t.state.CompareAndSwap(int32(StateRunning), int32(StateCompleting))
				if gen == nil {
					t.stop()
					return nil
				}
				ending = true
			}
		}
	}
}

// startGeneration streams a model reply from the current context and
// speaks it sentence by sentence. The assistant message is committed only
// when the reply finishes uninterrupted.
func (t *Task) startGeneration(ctx context.Context) *generation {
	gctx, cancel := context.WithCancel(ctx)
	g := &generation{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(g.done)
		defer cancel()

		start := time.Now()
		req := &llm.ChatRequest{
			Messages:    t.convo.Snapshot(),
			Temperature: t.opts.Temperature,
		}
		stream, err := t.opts.LLM.Stream(gctx, req)
		if err != nil {
			if gctx.Err() == nil {
				g.err = fmt.Errorf("model stream: %w", err)
			}
			return
		}

		var full, segment strings.Builder
		for chunk := range stream {
			if chunk.Err != nil {
				if gctx.Err() == nil {
					g.err = chunk.Err
				}
				return
			}
			full.WriteString(chunk.Delta.Content)
			segment.WriteString(chunk.Delta.Content)
			if sentence, rest, ok := splitSentence(segment.String()); ok {
				segment.Reset()
				segment.WriteString(rest)
				if err := t.speak(gctx, sentence); err != nil {
					if gctx.Err() == nil {
						g.err = err
					}
					return
				}
			}
		}
		if gctx.Err() != nil {
			return
		}
		if tail := strings.TrimSpace(segment.String()); tail != "" {
			if err := t.speak(gctx, tail); err != nil {
				if gctx.Err() == nil {
					g.err = err
				}
				return
			}
		}

		if reply := strings.TrimSpace(full.String()); reply != "" {
			t.convo.AddAssistant(reply)
		}
		if t.opts.Metrics != nil {
			t.opts.Metrics.TurnCompleted()
			t.opts.Metrics.ObserveStage("reasoning", time.Since(start))
		}
	}()
	return g
}

// startSpeak synthesizes text verbatim without touching the conversation.
func (t *Task) startSpeak(ctx context.Context, text string) *generation {
	gctx, cancel := context.WithCancel(ctx)
	g := &generation{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(g.done)
		defer cancel()
		if err := t.speak(gctx, text); err != nil && gctx.Err() == nil {
			g.err = err
		}
	}()
	return g
}

// speak synthesizes one utterance and writes the audio to the room paced
// at real time so cancellation can cut playback mid-utterance.
func (t *Task) speak(ctx context.Context, text string) error {
	start := time.Now()
	audio, err := t.opts.TTS.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesis: %w", err)
	}
	for chunk := range audio {
		if err := t.pacer.WaitN(ctx, len(chunk.Data)); err != nil {
			return err
		}
		if err := t.opts.IO.Send(ctx, chunk); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("room send: %w", err)
		}
	}
	if t.opts.Metrics != nil {
		t.opts.Metrics.ObserveStage("synthesis", time.Since(start))
	}
	return ctx.Err()
}

// splitSentence splits buf at the first sentence boundary, returning the
// complete sentence and the remainder. ok is false when no boundary exists.
func splitSentence(buf string) (sentence, rest string, ok bool) {
	for i, r := range buf {
		switch r {
		case '.', '!', '?', '\n':
			end := i + 1
			s := strings.TrimSpace(buf[:end])
			if s == "" {
				continue
			}
			return s, buf[end:], true
		}
	}
	return "", "", false
}
