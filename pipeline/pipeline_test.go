package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/voiceflow/llm"
	"github.com/BaSui01/voiceflow/speech"
	"github.com/BaSui01/voiceflow/testutil"
	"github.com/BaSui01/voiceflow/types"
)

// --- Inline mocks (function callback pattern) ---

type mockIO struct {
	recvFn func(ctx context.Context) (speech.AudioChunk, error)

	mu   sync.Mutex
	sent []speech.AudioChunk
}

func (m *mockIO) Recv(ctx context.Context) (speech.AudioChunk, error) {
	if m.recvFn != nil {
		return m.recvFn(ctx)
	}
	<-ctx.Done()
	return speech.AudioChunk{}, ctx.Err()
}

func (m *mockIO) Send(ctx context.Context, chunk speech.AudioChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, chunk)
	return nil
}

func (m *mockIO) sentBytes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.sent {
		n += len(c.Data)
	}
	return n
}

type mockSTTStream struct {
	transcripts chan speech.Transcript
	closeOnce   sync.Once

	mu   sync.Mutex
	sent []speech.AudioChunk
}

func newMockSTTStream() *mockSTTStream {
	return &mockSTTStream{transcripts: make(chan speech.Transcript, 16)}
}

func (m *mockSTTStream) Send(chunk speech.AudioChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, chunk)
	return nil
}

func (m *mockSTTStream) Receive() <-chan speech.Transcript {
	return m.transcripts
}

func (m *mockSTTStream) Close() error {
	m.closeOnce.Do(func() { close(m.transcripts) })
	return nil
}

func (m *mockSTTStream) emitFinal(text string) {
	m.transcripts <- speech.Transcript{Text: text, Final: true, Timestamp: time.Now()}
}

type mockSTTProvider struct {
	startStreamFn func(ctx context.Context, sampleRate int) (speech.STTStream, error)
}

func (m *mockSTTProvider) StartStream(ctx context.Context, sampleRate int) (speech.STTStream, error) {
	if m.startStreamFn != nil {
		return m.startStreamFn(ctx, sampleRate)
	}
	return newMockSTTStream(), nil
}

func (m *mockSTTProvider) Name() string { return "mock-stt" }

type mockTTSProvider struct {
	synthesizeFn func(ctx context.Context, text string) (<-chan speech.AudioChunk, error)

	mu    sync.Mutex
	texts []string
}

func (m *mockTTSProvider) Synthesize(ctx context.Context, text string) (<-chan speech.AudioChunk, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()
	if m.synthesizeFn != nil {
		return m.synthesizeFn(ctx, text)
	}
	ch := make(chan speech.AudioChunk, 1)
	ch <- speech.AudioChunk{Data: []byte(text), SampleRate: 16000, Final: true}
	close(ch)
	return ch, nil
}

func (m *mockTTSProvider) Name() string { return "mock-tts" }

func (m *mockTTSProvider) spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.texts))
	copy(out, m.texts)
	return out
}

type mockLLMProvider struct {
	streamFn func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error)
}

func (m *mockLLMProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("not implemented")
}

func (m *mockLLMProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	if m.streamFn != nil {
		return m.streamFn(ctx, req)
	}
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

func (m *mockLLMProvider) Name() string { return "mock-llm" }

func chunksFor(parts ...string) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk, len(parts))
	for _, p := range parts {
		ch <- llm.StreamChunk{Delta: types.NewAssistantMessage(p)}
	}
	close(ch)
	return ch
}

// closedIO yields io.EOF after the returned release func is called.
func closedIO() (*mockIO, func()) {
	release := make(chan struct{})
	var once sync.Once
	io_ := &mockIO{}
	io_.recvFn = func(ctx context.Context) (speech.AudioChunk, error) {
		select {
		case <-release:
			return speech.AudioChunk{}, io.EOF
		case <-ctx.Done():
			return speech.AudioChunk{}, ctx.Err()
		}
	}
	return io_, func() { once.Do(func() { close(release) }) }
}

func newTestTask(io_ AudioIO, stt speech.STTProvider, tts speech.TTSProvider, model llm.Provider) *Task {
	t := NewTask(Options{
		IO:           io_,
		STT:          stt,
		TTS:          tts,
		LLM:          model,
		SystemPrompt: "you are a test bot",
		SampleRate:   16000,
	})
	return t
}

// --- Tests ---

func TestTask_SpeakFrameReachesRoom(t *testing.T) {
	io_, release := closedIO()
	tts := &mockTTSProvider{}
	stream := newMockSTTStream()
	stt := &mockSTTProvider{startStreamFn: func(ctx context.Context, sr int) (speech.STTStream, error) {
		return stream, nil
	}}

	task := newTestTask(io_, stt, tts, &mockLLMProvider{})
	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(testutil.TestContext(t)) }()

	require.NoError(t, task.QueueFrame(SpeakFrame{Text: "Hello! Welcome."}))
	testutil.AssertEventuallyTrue(t, func() bool {
		return io_.sentBytes() > 0
	}, 2*time.Second, "no audio reached the room")

	release()
	err := testutil.WaitForChannel(t, errCh, 2*time.Second)
	assert.NoError(t, err)
	assert.Equal(t, StateTerminated, task.State())
	assert.Equal(t, []string{"Hello! Welcome."}, tts.spoken())
	// A verbatim utterance must not enter the conversation.
	assert.Equal(t, 1, task.Context().Len())
}

func TestTask_FinalTranscriptDrivesTurn(t *testing.T) {
	io_, release := closedIO()
	tts := &mockTTSProvider{}
	stream := newMockSTTStream()
	stt := &mockSTTProvider{startStreamFn: func(ctx context.Context, sr int) (speech.STTStream, error) {
		return stream, nil
	}}
	model := &mockLLMProvider{streamFn: func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
		return chunksFor("Hi ", "there."), nil
	}}

	task := newTestTask(io_, stt, tts, model)
	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(testutil.TestContext(t)) }()

	stream.transcripts <- speech.Transcript{Text: "hello bot", Final: false}
	stream.emitFinal("hello bot")

	testutil.AssertEventuallyTrue(t, func() bool {
		return task.Context().Len() == 3
	}, 2*time.Second, "turn did not complete")

	release()
	require.NoError(t, testutil.WaitForChannel(t, errCh, 2*time.Second))

	msgs := task.Context().Snapshot()
	require.Len(t, msgs, 3)
	assert.Equal(t, types.RoleUser, msgs[1].Role)
	assert.Equal(t, "hello bot", msgs[1].Content)
	assert.Equal(t, types.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "Hi there.", msgs[2].Content)
	assert.Equal(t, []string{"Hi there."}, tts.spoken())
}

func TestTask_PartialTranscriptsIgnored(t *testing.T) {
	io_, release := closedIO()
	stream := newMockSTTStream()
	stt := &mockSTTProvider{startStreamFn: func(ctx context.Context, sr int) (speech.STTStream, error) {
		return stream, nil
	}}
	streamed := make(chan struct{}, 8)
	model := &mockLLMProvider{streamFn: func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
		streamed <- struct{}{}
		return chunksFor("ok."), nil
	}}

	task := newTestTask(io_, stt, &mockTTSProvider{}, model)
	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(testutil.TestContext(t)) }()

	stream.transcripts <- speech.Transcript{Text: "hel", Final: false}
	stream.transcripts <- speech.Transcript{Text: "hello", Final: false}
	stream.transcripts <- speech.Transcript{Text: "   ", Final: true}

	release()
	require.NoError(t, testutil.WaitForChannel(t, errCh, 2*time.Second))
	assert.Empty(t, streamed)
	assert.Equal(t, 1, task.Context().Len())
}

func TestTask_InterruptionDiscardsPartialReply(t *testing.T) {
	io_, release := closedIO()
	stream := newMockSTTStream()
	stt := &mockSTTProvider{startStreamFn: func(ctx context.Context, sr int) (speech.STTStream, error) {
		return stream, nil
	}}

	firstStarted := make(chan struct{})
	calls := 0
	var callMu sync.Mutex
	model := &mockLLMProvider{streamFn: func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
		callMu.Lock()
		calls++
		n := calls
		callMu.Unlock()
		if n == 1 {
			// First reply hangs after one delta until cancelled.
			ch := make(chan llm.StreamChunk, 1)
			ch <- llm.StreamChunk{Delta: types.NewAssistantMessage("I was about to say")}
			go func() {
				close(firstStarted)
				<-ctx.Done()
				close(ch)
			}()
			return ch, nil
		}
		return chunksFor("Second answer."), nil
	}}

	task := newTestTask(io_, stt, &mockTTSProvider{}, model)
	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(testutil.TestContext(t)) }()

	stream.emitFinal("first question")
	testutil.WaitForChannel(t, firstStarted, 2*time.Second)
	stream.emitFinal("second question")

	testutil.AssertEventuallyTrue(t, func() bool {
		msgs := task.Context().Snapshot()
		return len(msgs) == 4 && msgs[3].Role == types.RoleAssistant
	}, 2*time.Second, "second turn did not complete")

	release()
	require.NoError(t, testutil.WaitForChannel(t, errCh, 2*time.Second))

	msgs := task.Context().Snapshot()
	require.Len(t, msgs, 4)
	assert.Equal(t, "first question", msgs[1].Content)
	assert.Equal(t, "second question", msgs[2].Content)
	assert.Equal(t, "Second answer.", msgs[3].Content)
	for _, m := range msgs {
		assert.NotContains(t, m.Content, "about to say")
	}
}

func TestTask_CancelReturnsCanceled(t *testing.T) {
	io_, _ := closedIO()
	task := newTestTask(io_, &mockSTTProvider{}, &mockTTSProvider{}, &mockLLMProvider{})
	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(testutil.TestContext(t)) }()

	testutil.AssertEventuallyTrue(t, func() bool {
		return task.State() == StateRunning
	}, 2*time.Second, "task never reached running")

	task.Cancel()
	task.Cancel() // idempotent

	err := testutil.WaitForChannel(t, errCh, 2*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateTerminated, task.State())
}

func TestTask_CancelBeforeRun(t *testing.T) {
	io_, _ := closedIO()
	task := newTestTask(io_, &mockSTTProvider{}, &mockTTSProvider{}, &mockLLMProvider{})
	task.Cancel()

	err := task.Run(testutil.TestContext(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateTerminated, task.State())
}

func TestTask_RoomEOFCompletes(t *testing.T) {
	io_, release := closedIO()
	task := newTestTask(io_, &mockSTTProvider{}, &mockTTSProvider{}, &mockLLMProvider{})
	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(testutil.TestContext(t)) }()

	release()
	err := testutil.WaitForChannel(t, errCh, 2*time.Second)
	assert.NoError(t, err)
	assert.Equal(t, StateTerminated, task.State())
}

func TestTask_STTStartFailure(t *testing.T) {
	io_, _ := closedIO()
	stt := &mockSTTProvider{startStreamFn: func(ctx context.Context, sr int) (speech.STTStream, error) {
		return nil, errors.New("dial refused")
	}}
	task := newTestTask(io_, stt, &mockTTSProvider{}, &mockLLMProvider{})

	err := task.Run(testutil.TestContext(t))
	require.Error(t, err)
	assert.Equal(t, types.ErrPipelineFailed, types.GetErrorCode(err))
	assert.Equal(t, StateTerminated, task.State())
}

func TestTask_QueueFrameAfterTermination(t *testing.T) {
	io_, release := closedIO()
	task := newTestTask(io_, &mockSTTProvider{}, &mockTTSProvider{}, &mockLLMProvider{})
	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(testutil.TestContext(t)) }()
	release()
	require.NoError(t, testutil.WaitForChannel(t, errCh, 2*time.Second))

	assert.ErrorIs(t, task.QueueFrame(SpeakFrame{Text: "too late"}), ErrTaskDone)
}

func TestTask_AppendRunFrame(t *testing.T) {
	io_, release := closedIO()
	stream := newMockSTTStream()
	stt := &mockSTTProvider{startStreamFn: func(ctx context.Context, sr int) (speech.STTStream, error) {
		return stream, nil
	}}
	tts := &mockTTSProvider{}
	model := &mockLLMProvider{streamFn: func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
		return chunksFor("Welcome in!"), nil
	}}

	task := newTestTask(io_, stt, tts, model)
	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(testutil.TestContext(t)) }()

	require.NoError(t, task.QueueFrame(AppendRunFrame{
		Messages: []types.Message{types.NewUserMessage("greet the visitor")},
	}))

	testutil.AssertEventuallyTrue(t, func() bool {
		return len(tts.spoken()) > 0
	}, 2*time.Second, "greeting never spoken")

	release()
	require.NoError(t, testutil.WaitForChannel(t, errCh, 2*time.Second))
	assert.Equal(t, []string{"Welcome in!"}, tts.spoken())

	msgs := task.Context().Snapshot()
	require.Len(t, msgs, 3)
	assert.Equal(t, "greet the visitor", msgs[1].Content)
	assert.Equal(t, "Welcome in!", msgs[2].Content)
}

func TestTask_InterruptFrameDiscardsReply(t *testing.T) {
	io_, release := closedIO()
	stream := newMockSTTStream()
	stt := &mockSTTProvider{startStreamFn: func(ctx context.Context, sr int) (speech.STTStream, error) {
		return stream, nil
	}}

	started := make(chan struct{})
	interrupted := make(chan struct{})
	model := &mockLLMProvider{streamFn: func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
		ch := make(chan llm.StreamChunk, 1)
		ch <- llm.StreamChunk{Delta: types.NewAssistantMessage("I was about to say")}
		go func() {
			close(started)
			<-ctx.Done()
			close(ch)
			close(interrupted)
		}()
		return ch, nil
	}}

	task := newTestTask(io_, stt, &mockTTSProvider{}, model)
	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(testutil.TestContext(t)) }()

	stream.emitFinal("tell me a story")
	testutil.WaitForClose(t, started, 2*time.Second)
	require.NoError(t, task.QueueFrame(InterruptFrame{}))
	testutil.WaitForClose(t, interrupted, 2*time.Second)

	release()
	require.NoError(t, testutil.WaitForChannel(t, errCh, 2*time.Second))

	// The abandoned reply must not enter the conversation.
	msgs := task.Context().Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "tell me a story", msgs[1].Content)
}

func TestTask_EndFrameDrainsInFlightReply(t *testing.T) {
	// The room connection never ends; the end frame alone must finish
	// the task after the reply drains.
	io_, _ := closedIO()
	stream := newMockSTTStream()
	stt := &mockSTTProvider{startStreamFn: func(ctx context.Context, sr int) (speech.STTStream, error) {
		return stream, nil
	}}

	started := make(chan struct{})
	proceed := make(chan struct{})
	model := &mockLLMProvider{streamFn: func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
		ch := make(chan llm.StreamChunk, 1)
		ch <- llm.StreamChunk{Delta: types.NewAssistantMessage("All done.")}
		go func() {
			close(started)
			<-proceed
			close(ch)
		}()
		return ch, nil
	}}
	tts := &mockTTSProvider{}

	task := newTestTask(io_, stt, tts, model)
	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(testutil.TestContext(t)) }()

	stream.emitFinal("wrap it up")
	testutil.WaitForClose(t, started, 2*time.Second)
	require.NoError(t, task.QueueFrame(EndFrame{}))
	close(proceed)

	assert.NoError(t, testutil.WaitForChannel(t, errCh, 2*time.Second))
	assert.Equal(t, StateTerminated, task.State())
	assert.Equal(t, []string{"All done."}, tts.spoken())

	msgs := task.Context().Snapshot()
	require.Len(t, msgs, 3)
	assert.Equal(t, "All done.", msgs[2].Content)
}

func TestTask_EndFrameCompletesIdle(t *testing.T) {
	io_, _ := closedIO()
	task := newTestTask(io_, &mockSTTProvider{}, &mockTTSProvider{}, &mockLLMProvider{})
	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(testutil.TestContext(t)) }()

	testutil.AssertEventuallyTrue(t, func() bool {
		return task.State() == StateRunning
	}, 2*time.Second, "task never reached running")

	require.NoError(t, task.QueueFrame(EndFrame{}))
	assert.NoError(t, testutil.WaitForChannel(t, errCh, 2*time.Second))
	assert.Equal(t, StateTerminated, task.State())
}

func TestTask_GenerationErrorTerminates(t *testing.T) {
	io_, _ := closedIO()
	stream := newMockSTTStream()
	stt := &mockSTTProvider{startStreamFn: func(ctx context.Context, sr int) (speech.STTStream, error) {
		return stream, nil
	}}
	model := &mockLLMProvider{streamFn: func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
		ch := make(chan llm.StreamChunk, 1)
		ch <- llm.StreamChunk{Err: errors.New("model backend gone")}
		close(ch)
		return ch, nil
	}}

	task := newTestTask(io_, stt, &mockTTSProvider{}, model)
	errCh := make(chan error, 1)
	go func() { errCh <- task.Run(testutil.TestContext(t)) }()

	stream.emitFinal("hello")
	err := testutil.WaitForChannel(t, errCh, 2*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model backend gone")
	assert.Equal(t, StateTerminated, task.State())
}

func TestTask_AbandonReleasesWaiters(t *testing.T) {
	io_, _ := closedIO()
	task := newTestTask(io_, &mockSTTProvider{}, &mockTTSProvider{}, &mockLLMProvider{})

	task.Abandon()
	testutil.WaitForClose(t, task.Done(), time.Second)
	assert.Equal(t, StateTerminated, task.State())
	assert.ErrorIs(t, task.QueueFrame(SpeakFrame{Text: "too late"}), ErrTaskDone)

	// Abandon is a no-op once Run has started.
	task2 := newTestTask(io_, &mockSTTProvider{}, &mockTTSProvider{}, &mockLLMProvider{})
	errCh := make(chan error, 1)
	go func() { errCh <- task2.Run(testutil.TestContext(t)) }()
	testutil.AssertEventuallyTrue(t, func() bool {
		return task2.State() == StateRunning
	}, 2*time.Second, "task never reached running")
	task2.Abandon()
	assert.Equal(t, StateRunning, task2.State())
	task2.Cancel()
	assert.ErrorIs(t, testutil.WaitForChannel(t, errCh, 2*time.Second), context.Canceled)
}

func TestSplitSentence(t *testing.T) {
	s, rest, ok := splitSentence("Hello there. How are")
	require.True(t, ok)
	assert.Equal(t, "Hello there.", s)
	assert.Equal(t, " How are", rest)

	_, _, ok = splitSentence("no boundary yet")
	assert.False(t, ok)

	s, _, ok = splitSentence("Wow!")
	require.True(t, ok)
	assert.Equal(t, "Wow!", s)
}
