package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/voiceflow/config"
	"github.com/BaSui01/voiceflow/internal/metrics"
	"github.com/BaSui01/voiceflow/llm"
	"github.com/BaSui01/voiceflow/persona"
	"github.com/BaSui01/voiceflow/pipeline"
	"github.com/BaSui01/voiceflow/speech"
	"github.com/BaSui01/voiceflow/transport"
	"github.com/BaSui01/voiceflow/types"
)

// StartParams identifies the room a new session should join.
type StartParams struct {
	RoomName string
	RoomURL  string
	Token    string
}

// Supervisor launches and tracks bot sessions. One session per room;
// sessions run in background goroutines and unregister themselves
// exactly once when their pipeline terminates.
type Supervisor struct {
	registry *Registry
	dialer   transport.Dialer
	stt      speech.STTProvider
	tts      speech.TTSProvider
	llm      llm.Provider
	persona  persona.Persona

	sessionCfg config.SessionConfig
	llmCfg     config.LLMConfig
	sampleRate int

	metrics *metrics.Collector
	logger  *zap.Logger

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup
}

// SupervisorOptions wires a supervisor's dependencies.
type SupervisorOptions struct {
	Dialer  transport.Dialer
	STT     speech.STTProvider
	TTS     speech.TTSProvider
	LLM     llm.Provider
	Persona persona.Persona

	SessionConfig config.SessionConfig
	LLMConfig     config.LLMConfig
	SampleRate    int

	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// NewSupervisor creates a supervisor. Shutdown must be called to drain it.
func NewSupervisor(opts SupervisorOptions) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SampleRate == 0 {
		opts.SampleRate = 16000
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		registry:   NewRegistry(),
		dialer:     opts.Dialer,
		stt:        opts.STT,
		tts:        opts.TTS,
		llm:        opts.LLM,
		persona:    opts.Persona,
		sessionCfg: opts.SessionConfig,
		llmCfg:     opts.LLMConfig,
		sampleRate: opts.SampleRate,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With(zap.String("component", "supervisor")),
		rootCtx:    ctx,
		rootCancel: cancel,
	}
}

// Registry exposes the session registry for read-side consumers.
func (sv *Supervisor) Registry() *Registry {
	return sv.registry
}

// Start launches a session for the room and returns immediately. A
// second start for the same room is rejected.
func (sv *Supervisor) Start(ctx context.Context, params StartParams) (*Session, error) {
	if sv.rootCtx.Err() != nil {
		return nil, types.NewError(types.ErrInternalError, "supervisor shutting down")
	}

	task := pipeline.NewTask(pipeline.Options{
		STT:          sv.stt,
		TTS:          sv.tts,
		LLM:          sv.llm,
		SystemPrompt: sv.persona.SystemPrompt,
		TokenBudget:  sv.llmCfg.ContextTokenBudget,
		SampleRate:   sv.sampleRate,
		Temperature:  sv.llmCfg.Temperature,
		Logger:       sv.logger.With(zap.String("room", params.RoomName)),
		Metrics:      sv.metrics,
	})
	s := &Session{
		RoomName:  params.RoomName,
		RoomURL:   params.RoomURL,
		Persona:   sv.persona.Name,
		StartedAt: time.Now(),
		task:      task,
	}
	if !sv.registry.Insert(s) {
		return nil, types.NewError(types.ErrSessionExists, "session already running for room "+params.RoomName)
	}

	if sv.metrics != nil {
		sv.metrics.SessionStarted()
	}
	sv.wg.Add(1)
	go sv.run(s, params)

	sv.logger.Info("session started",
		zap.String("room", params.RoomName),
		zap.String("persona", sv.persona.Name))
	return s, nil
}

// Cancel stops the room's session. No-op when the room has none.
func (sv *Supervisor) Cancel(roomName string) {
	if s, ok := sv.registry.Get(roomName); ok {
		s.task.Cancel()
	}
}

// Stop ends the room's session gracefully: any in-flight reply drains
// before the pipeline completes. Falls back to a hard cancel when the
// end frame cannot be delivered. No-op when the room has none.
func (sv *Supervisor) Stop(roomName string) {
	s, ok := sv.registry.Get(roomName)
	if !ok {
		return
	}
	if err := s.task.QueueFrame(pipeline.EndFrame{}); err != nil {
		s.task.Cancel()
	}
}

// Shutdown cancels every session and waits for them to drain, bounded by
// ctx and the configured shutdown timeout.
func (sv *Supervisor) Shutdown(ctx context.Context) error {
	sv.rootCancel()
	for _, s := range sv.registry.All() {
		s.task.Cancel()
	}

	timeout := sv.sessionCfg.ShutdownTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan struct{})
	go func() {
		sv.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run owns one session from dial to teardown. The registry entry is
// removed exactly once, whatever path the session ends by.
func (sv *Supervisor) run(s *Session, params StartParams) {
	logger := sv.logger.With(zap.String("room", params.RoomName))
	outcome := "failed"
	defer func() {
		if r := recover(); r != nil {
			logger.Error("session panicked", zap.Any("panic", r))
			outcome = "failed"
		}
		sv.registry.Remove(params.RoomName)
		if sv.metrics != nil {
			sv.metrics.SessionEnded(outcome)
		}
		logger.Info("session ended", zap.String("outcome", outcome))
		sv.wg.Done()
	}()

	ctx, cancel := context.WithCancel(sv.rootCtx)
	defer cancel()

	conn, err := sv.dialer.Dial(ctx, params.RoomURL, params.Token)
	if err != nil {
		logger.Error("room dial failed", zap.Error(err))
		s.task.Abandon()
		return
	}
	defer conn.Close()
	s.task.SetIO(conn)

	presenceDone := make(chan struct{})
	go func() {
		defer close(presenceDone)
		sv.watchPresence(ctx, s, conn.Events(), logger)
	}()

	err = s.task.Run(ctx)
	cancel()
	<-presenceDone

	switch {
	case err == nil:
		outcome = "completed"
	case errors.Is(err, context.Canceled):
		outcome = "cancelled"
		logger.Info("session cancelled")
	default:
		outcome = "failed"
		logger.Error("session failed", zap.Error(err))
	}
}

// watchPresence greets the first participant, fires the fallback greeting
// after the grace period, and cancels the session when the participant
// leaves. The greeting fires at most once.
func (sv *Supervisor) watchPresence(ctx context.Context, s *Session, events <-chan transport.Event, logger *zap.Logger) {
	var greeted atomic.Bool

	greet := func(trigger string) {
		if !greeted.CompareAndSwap(false, true) {
			return
		}
		var frame pipeline.Frame
		switch sv.persona.GreetingPolicy {
		case persona.PolicyPrompt:
			frame = pipeline.AppendRunFrame{
				Messages: []types.Message{types.NewUserMessage(sv.persona.Greeting)},
			}
		default:
			frame = pipeline.SpeakFrame{Text: sv.persona.Greeting}
		}
		if err := s.task.QueueFrame(frame); err != nil {
			logger.Debug("greeting dropped", zap.Error(err))
			return
		}
		if sv.metrics != nil {
			sv.metrics.GreetingSent(trigger)
		}
		logger.Info("greeting sent", zap.String("trigger", trigger))
	}

	grace := sv.sessionCfg.GreetingGrace
	var fallback <-chan time.Time
	if grace > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		fallback = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-fallback:
			fallback = nil
			greet("fallback")
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case transport.EventParticipantJoined:
				logger.Info("participant joined", zap.String("participant", ev.ParticipantID))
				greet("joined")
			case transport.EventParticipantLeft:
				logger.Info("participant left",
					zap.String("participant", ev.ParticipantID),
					zap.String("reason", ev.Reason))
				s.task.Cancel()
			case transport.EventUserStartedSpeaking:
				// Barge-in: cut any reply in flight before the final
				// transcript arrives.
				if err := s.task.QueueFrame(pipeline.InterruptFrame{}); err == nil {
					logger.Debug("barge-in interrupt", zap.String("participant", ev.ParticipantID))
				}
			}
		}
	}
}
