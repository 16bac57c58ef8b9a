package capture

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"voicedraft/internal/domain"
	"voicedraft/internal/ports"
)

func newTestSession(engine *fakeEngine, audio *fakeLevelSource, sink *fakeSink) *Session {
	return NewSession(engine, audio, sink, Config{
		ChunkSize:      512,
		SampleInterval: time.Millisecond,
	})
}

func TestInitializeTransitionsToReady(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	session := newTestSession(engine, &fakeLevelSource{}, &fakeSink{})

	if err := session.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if state, _ := session.State(); state != domain.CaptureStateReady {
		t.Fatalf("expected ready, got %s", state)
	}

	// Idempotent: a second call is a no-op.
	if err := session.Initialize(context.Background()); err != nil {
		t.Fatalf("second initialize failed: %v", err)
	}
	if engine.loadCalls != 1 {
		t.Fatalf("expected one model load, got %d", engine.loadCalls)
	}
}

func TestInitializeFailureEntersErrorState(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.loadErr = errors.New("model archive corrupt")
	session := newTestSession(engine, &fakeLevelSource{}, &fakeSink{})

	if err := session.Initialize(context.Background()); err == nil {
		t.Fatalf("expected initialize error")
	}
	state, msg := session.State()
	if state != domain.CaptureStateError {
		t.Fatalf("expected error state, got %s", state)
	}
	if !strings.Contains(msg, "model archive corrupt") {
		t.Fatalf("expected message to carry cause, got %q", msg)
	}

	// Recovery path: re-initialize after clearing the fault.
	engine.loadErr = nil
	if err := session.Initialize(context.Background()); err != nil {
		t.Fatalf("re-initialize failed: %v", err)
	}
	if state, _ := session.State(); state != domain.CaptureStateReady {
		t.Fatalf("expected ready after recovery, got %s", state)
	}
}

func TestInitializeWaitsForInFlightLoad(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	gate := make(chan struct{})
	engine.loadGate = gate
	session := newTestSession(engine, &fakeLevelSource{}, &fakeSink{})

	first := make(chan error, 1)
	go func() { first <- session.Initialize(context.Background()) }()
	waitForState(t, session, domain.CaptureStateModelLoading)

	second := make(chan error, 1)
	go func() { second <- session.Initialize(context.Background()) }()

	// The second caller must not report readiness while the load is still
	// in flight.
	select {
	case err := <-second:
		t.Fatalf("initialize returned during load: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(gate)
	if err := <-first; err != nil {
		t.Fatalf("first initialize failed: %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second initialize failed: %v", err)
	}

	// A nil return means Start is immediately valid.
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start after initialize failed: %v", err)
	}
	if err := session.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	engine.mu.Lock()
	calls := engine.loadCalls
	engine.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected one model load, got %d", calls)
	}
}

func TestInitializeWaiterSeesLoadFailure(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	gate := make(chan struct{})
	engine.loadGate = gate
	engine.loadErr = errors.New("model archive corrupt")
	session := newTestSession(engine, &fakeLevelSource{}, &fakeSink{})

	first := make(chan error, 1)
	go func() { first <- session.Initialize(context.Background()) }()
	waitForState(t, session, domain.CaptureStateModelLoading)

	second := make(chan error, 1)
	go func() { second <- session.Initialize(context.Background()) }()

	close(gate)
	if err := <-first; err == nil {
		t.Fatalf("expected first initialize to fail")
	}
	err := <-second
	if err == nil {
		t.Fatalf("expected waiter to see the load failure")
	}
	if !strings.Contains(err.Error(), "model archive corrupt") {
		t.Fatalf("expected waiter error to carry cause, got %v", err)
	}
}

func waitForState(t *testing.T, session *Session, want domain.CaptureState) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if state, _ := session.State(); state == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	state, _ := session.State()
	t.Fatalf("timed out waiting for %s, state is %s", want, state)
}

func TestStartRequiresReady(t *testing.T) {
	t.Parallel()

	session := newTestSession(newFakeEngine(), &fakeLevelSource{}, &fakeSink{})
	if err := session.Start(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestTranscriptAccumulation(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	session := newTestSession(engine, &fakeLevelSource{}, &fakeSink{})

	if err := session.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	stream := engine.lastStream()
	stream.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "the brain"})
	stream.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "the brain adapts"})
	stream.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "the brain adapts constantly"})
	stream.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "through"})
	stream.waitConsumed(t)

	got := session.Transcript()
	if got != "the brain adapts constantly through" {
		t.Fatalf("unexpected transcript: %q", got)
	}

	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	// Text survives Stop until cleared.
	if session.Transcript() == "" {
		t.Fatalf("expected transcript to remain readable after stop")
	}
	session.Clear()
	if session.Transcript() != "" {
		t.Fatalf("expected empty transcript after clear")
	}
}

func TestCommittedLengthNeverRegresses(t *testing.T) {
	t.Parallel()

	acc := newAccumulator()
	events := []domain.TranscriptEvent{
		{Kind: domain.TranscriptKindPartial, Text: "a"},
		{Kind: domain.TranscriptKindPartial, Text: "a longer partial"},
		{Kind: domain.TranscriptKindPartial, Text: "x"},
		{Kind: domain.TranscriptKindFinal, Text: "first final"},
		{Kind: domain.TranscriptKindPartial, Text: "tail"},
		{Kind: domain.TranscriptKindFinal, Text: "second"},
	}

	last := 0
	for _, event := range events {
		if event.Kind == domain.TranscriptKindFinal {
			acc.ApplyFinal(event.Text)
		} else {
			acc.ApplyPartial(event.Text)
		}
		if n := len(acc.Committed()); n < last {
			t.Fatalf("committed length regressed: %d < %d", n, last)
		} else {
			last = n
		}
	}
	if acc.Committed() != "first final second" {
		t.Fatalf("unexpected committed text: %q", acc.Committed())
	}
	acc.Clear()
	if acc.Current() != "" {
		t.Fatalf("expected empty after clear")
	}
}

func TestPauseResumeKeepsText(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	session := newTestSession(engine, &fakeLevelSource{}, &fakeSink{})

	if err := session.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	first := engine.lastStream()
	first.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "before pause"})
	first.waitConsumed(t)

	if err := session.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if state, _ := session.State(); state != domain.CaptureStatePaused {
		t.Fatalf("expected paused, got %s", state)
	}
	if session.Amplitude() != 0 {
		t.Fatalf("expected amplitude 0 while paused")
	}

	if err := session.Resume(context.Background()); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	second := engine.lastStream()
	if second == first {
		t.Fatalf("expected a fresh stream after resume")
	}
	second.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "after resume"})
	second.waitConsumed(t)

	if got := session.Transcript(); got != "before pause after resume" {
		t.Fatalf("unexpected transcript: %q", got)
	}
	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestPauseOnlyValidWhileListening(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	session := newTestSession(engine, &fakeLevelSource{}, &fakeSink{})
	if err := session.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if err := session.Pause(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
}

func TestStopFromReadyIsRejected(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	session := newTestSession(engine, &fakeLevelSource{}, &fakeSink{})
	if err := session.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if err := session.Stop(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
	if state, _ := session.State(); state != domain.CaptureStateReady {
		t.Fatalf("state changed on rejected stop: %s", state)
	}
}

func TestEngineErrorForcesErrorState(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	sink := &fakeSink{}
	session := newTestSession(engine, &fakeLevelSource{}, sink)

	if err := session.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	stream := engine.lastStream()
	stream.failWith(errors.New("microphone busy"))

	waitFor(t, func() bool {
		state, _ := session.State()
		return state == domain.CaptureStateError
	})
	_, msg := session.State()
	if !strings.Contains(msg, "microphone busy") {
		t.Fatalf("expected engine error detail, got %q", msg)
	}
	if codes := sink.errorCodes(); len(codes) == 0 || codes[len(codes)-1] != domain.ErrorCodeEngine {
		t.Fatalf("expected engine error event, got %v", codes)
	}
}

func TestAmplitudeReadErrorIsNonFatal(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	audio := &fakeLevelSource{session: &fakeAudioSession{readErr: errors.New("device glitch")}}
	session := newTestSession(engine, audio, &fakeSink{})

	if err := session.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Give the sampler a few ticks to hit the read error.
	time.Sleep(20 * time.Millisecond)

	if state, _ := session.State(); state != domain.CaptureStateListening {
		t.Fatalf("amplitude failure changed state to %s", state)
	}
	if session.Amplitude() != 0 {
		t.Fatalf("expected amplitude 0 during read errors, got %f", session.Amplitude())
	}
	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestAmplitudeFromLoudFrames(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	audio := &fakeLevelSource{session: &fakeAudioSession{frame: loudFrame(512)}}
	session := newTestSession(engine, audio, &fakeSink{})

	if err := session.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	waitFor(t, func() bool { return session.Amplitude() > 0.5 })
	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if session.Amplitude() != 0 {
		t.Fatalf("expected amplitude reset on stop")
	}
}

func TestReleaseIsTerminal(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	session := newTestSession(engine, &fakeLevelSource{}, &fakeSink{})
	if err := session.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	session.Release()
	session.Release() // no-op
	if engine.releaseCalls != 1 {
		t.Fatalf("expected one engine release, got %d", engine.releaseCalls)
	}
	if err := session.Initialize(context.Background()); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}
}

func TestRMSLevel(t *testing.T) {
	t.Parallel()

	if got := rmsLevel(nil, 3); got != 0 {
		t.Fatalf("expected 0 for empty frame, got %f", got)
	}
	if got := rmsLevel(make([]byte, 64), 3); got != 0 {
		t.Fatalf("expected 0 for silence, got %f", got)
	}
	if got := rmsLevel(loudFrame(64), 3); got != 1 {
		t.Fatalf("expected clipped level 1 for full-scale input, got %f", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition never met")
}

// loudFrame returns full-scale PCM16 samples.
func loudFrame(n int) []byte {
	buf := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		buf[i] = 0xFF
		buf[i+1] = 0x7F
	}
	return buf
}

type fakeEngine struct {
	mu           sync.Mutex
	loadErr      error
	loadGate     chan struct{}
	startErr     error
	loadCalls    int
	releaseCalls int
	streams      []*fakeStream
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{}
}

func (f *fakeEngine) LoadModel(_ context.Context) error {
	f.mu.Lock()
	f.loadCalls++
	gate := f.loadGate
	err := f.loadErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeEngine) Start(_ context.Context) (ports.RecognitionStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	stream := newFakeStream()
	f.streams = append(f.streams, stream)
	return stream, nil
}

func (f *fakeEngine) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseCalls++
	return nil
}

func (f *fakeEngine) lastStream() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

type fakeStream struct {
	mu      sync.Mutex
	events  chan domain.TranscriptEvent
	waitErr error
	closed  bool
	pending sync.WaitGroup
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan domain.TranscriptEvent, 32)}
}

func (f *fakeStream) emit(event domain.TranscriptEvent) {
	f.pending.Add(1)
	f.events <- event
}

// waitConsumed blocks until every emitted event has been read off the channel.
func (f *fakeStream) waitConsumed(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		f.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		// The consumer may still be applying the last event; yield briefly.
		time.Sleep(2 * time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatalf("events were not consumed")
	}
}

func (f *fakeStream) failWith(err error) {
	f.mu.Lock()
	f.waitErr = err
	f.mu.Unlock()
	f.closeEvents()
}

func (f *fakeStream) Events() <-chan domain.TranscriptEvent {
	return f.eventsReader()
}

func (f *fakeStream) eventsReader() chan domain.TranscriptEvent {
	out := make(chan domain.TranscriptEvent)
	go func() {
		for event := range f.events {
			out <- event
			f.pending.Done()
		}
		close(out)
	}()
	return out
}

func (f *fakeStream) Stop() error {
	f.closeEvents()
	return nil
}

func (f *fakeStream) Wait() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waitErr
}

func (f *fakeStream) Close() error {
	f.closeEvents()
	return nil
}

func (f *fakeStream) closeEvents() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		close(f.events)
		f.closed = true
	}
}

type fakeLevelSource struct {
	session *fakeAudioSession
	err     error
}

func (f *fakeLevelSource) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.session == nil {
		f.session = &fakeAudioSession{frame: make([]byte, 512)}
	}
	return f.session, nil
}

type fakeAudioSession struct {
	mu      sync.Mutex
	frame   []byte
	readErr error
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.frame) == 0 {
		return 0, io.EOF
	}
	return copy(p, f.frame), nil
}

func (f *fakeAudioSession) Close() error { return nil }
func (f *fakeAudioSession) Stop() error  { return nil }

type fakeSink struct {
	mu     sync.Mutex
	states []domain.CaptureState
	errors []domain.ErrorCode
}

func (f *fakeSink) CaptureStateChanged(state domain.CaptureState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
}

func (f *fakeSink) SessionStateChanged(domain.SessionState, string) {}
func (f *fakeSink) LectureStateChanged(domain.LectureState, string) {}
func (f *fakeSink) PartialTranscript(string)                        {}
func (f *fakeSink) Amplitude(float64)                               {}
func (f *fakeSink) GenerationProgress(string)                       {}

func (f *fakeSink) Error(code domain.ErrorCode, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, code)
}

func (f *fakeSink) errorCodes() []domain.ErrorCode {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ErrorCode, len(f.errors))
	copy(out, f.errors)
	return out
}
