// Package capture wraps a speech recognition engine in an explicit lifecycle:
// model loading, listening with live transcript accumulation, pause/resume and
// amplitude monitoring.
package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"voicedraft/internal/domain"
	"voicedraft/internal/ports"
)

var (
	ErrNotReady  = errors.New("capture: session is not ready")
	ErrNotActive = errors.New("capture: no active recognition")
	ErrReleased  = errors.New("capture: session has been released")
)

// Config controls capture behavior.
type Config struct {
	Audio          ports.AudioConfig
	ChunkSize      int
	SampleInterval time.Duration
	Gain           float64
}

// Session is the speech capture state machine. One Session owns the audio
// input device while listening; callers must Stop or Release before another
// session may acquire it.
type Session struct {
	engine ports.SpeechEngine
	audio  ports.AudioLevelSource
	sink   ports.EventSink
	cfg    Config

	mu       sync.Mutex
	state    domain.CaptureState
	errMsg   string
	released bool
	loading  chan struct{} // non-nil while a model load is in flight

	acc    *accumulator
	active *activeCapture

	ampBits atomic.Uint64
}

// activeCapture tracks resources owned by one Start..Stop span.
type activeCapture struct {
	cancel     context.CancelFunc
	stream     ports.RecognitionStream
	audio      ports.AudioSession
	eventsDone chan struct{}
	ampDone    chan struct{}
}

func NewSession(engine ports.SpeechEngine, audio ports.AudioLevelSource, sink ports.EventSink, cfg Config) *Session {
	if sink == nil {
		sink = ports.NopSink{}
	}
	return &Session{
		engine: engine,
		audio:  audio,
		sink:   sink,
		cfg:    cfg,
		state:  domain.CaptureStateUninitialized,
		acc:    newAccumulator(),
	}
}

// Initialize loads the recognition model. It is idempotent: calling with the
// model already loaded is a no-op, and calling while another Initialize has a
// load in flight blocks until that load resolves and reports its outcome, so
// a nil return always means the session is ready to Start. After a failure
// the session sits in the error state until Initialize is called again.
func (s *Session) Initialize(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.released {
			s.mu.Unlock()
			return ErrReleased
		}
		switch s.state {
		case domain.CaptureStateReady, domain.CaptureStateListening, domain.CaptureStatePaused:
			s.mu.Unlock()
			return nil
		case domain.CaptureStateModelLoading:
			inFlight := s.loading
			s.mu.Unlock()
			select {
			case <-inFlight:
			case <-ctx.Done():
				return ctx.Err()
			}
			s.mu.Lock()
			if s.state == domain.CaptureStateError {
				msg := s.errMsg
				s.mu.Unlock()
				return fmt.Errorf("capture: load model: %s", msg)
			}
			s.mu.Unlock()
			continue
		}
		s.loading = make(chan struct{})
		s.setStateLocked(domain.CaptureStateModelLoading, "")
		s.mu.Unlock()
		break
	}

	err := s.engine.LoadModel(ctx)

	s.mu.Lock()
	close(s.loading)
	s.loading = nil
	if err != nil {
		msg := fmt.Sprintf("failed to load recognition model: %v", err)
		s.setStateLocked(domain.CaptureStateError, msg)
		s.mu.Unlock()
		s.sink.Error(domain.ErrorCodeModelInit, msg)
		return fmt.Errorf("capture: load model: %w", err)
	}
	s.setStateLocked(domain.CaptureStateReady, "")
	s.mu.Unlock()
	return nil
}

// Start begins listening. Valid only from the ready state. The text
// accumulator is reset and an amplitude sampling loop runs alongside
// recognition.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrReleased
	}
	if s.state != domain.CaptureStateReady {
		s.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrNotReady, s.state)
	}
	s.mu.Unlock()

	captureCtx, cancel := context.WithCancel(ctx)
	stream, err := s.engine.Start(captureCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("capture: start engine: %w", err)
	}

	active := &activeCapture{
		cancel:     cancel,
		stream:     stream,
		eventsDone: make(chan struct{}),
		ampDone:    make(chan struct{}),
	}

	// Amplitude monitoring is cosmetic: failure to open the level source is
	// reported but never blocks recognition.
	audioSession, audioErr := s.audio.Start(captureCtx, s.cfg.Audio)
	if audioErr != nil {
		s.sink.Error(domain.ErrorCodeEngine, fmt.Sprintf("amplitude source unavailable: %v", audioErr))
		close(active.ampDone)
	} else {
		active.audio = audioSession
		go s.sampleAmplitude(captureCtx, audioSession, active.ampDone)
	}

	s.mu.Lock()
	s.acc.Clear()
	s.active = active
	s.setStateLocked(domain.CaptureStateListening, "")
	s.mu.Unlock()

	go s.consumeRecognition(active)
	return nil
}

// consumeRecognition drains one recognition stream into the accumulator and
// surfaces the stream's terminal error, if any.
func (s *Session) consumeRecognition(active *activeCapture) {
	defer close(active.eventsDone)

	for event := range active.stream.Events() {
		switch event.Kind {
		case domain.TranscriptKindFinal:
			s.acc.ApplyFinal(event.Text)
		default:
			s.acc.ApplyPartial(event.Text)
		}
		s.sink.PartialTranscript(s.acc.Current())
	}

	if err := active.stream.Wait(); err != nil {
		s.handleEngineError(active, err)
	}
}

// handleEngineError force-stops listening and moves the session to the error
// state. The caller must re-Initialize to recover. Errors from streams that
// are no longer current (already stopped or replaced) are ignored.
func (s *Session) handleEngineError(active *activeCapture, err error) {
	s.mu.Lock()
	if s.active != active || (s.state != domain.CaptureStateListening && s.state != domain.CaptureStatePaused) {
		s.mu.Unlock()
		return
	}
	s.active = nil
	msg := fmt.Sprintf("recognition error: %v", err)
	s.setStateLocked(domain.CaptureStateError, msg)
	s.mu.Unlock()

	active.cancel()
	if active.audio != nil {
		_ = active.audio.Stop()
	}
	_ = active.stream.Close()
	s.publishAmplitude(0)
	s.sink.Error(domain.ErrorCodeEngine, msg)
}

// Pause stops the underlying engine without clearing accumulated text.
// Valid only while listening.
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state != domain.CaptureStateListening || s.active == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrNotActive, s.state)
	}
	active := s.active
	s.setStateLocked(domain.CaptureStatePaused, "")
	s.mu.Unlock()

	if err := active.stream.Stop(); err != nil {
		return fmt.Errorf("capture: pause: %w", err)
	}
	s.publishAmplitude(0)
	return nil
}

// Resume restarts the engine after a pause, keeping accumulated text.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	if s.state != domain.CaptureStatePaused || s.active == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrNotActive, s.state)
	}
	active := s.active
	s.mu.Unlock()

	// The previous stream was stopped by Pause; wait for its events to drain
	// so finals arrive in order, then open a fresh stream.
	<-active.eventsDone

	stream, err := s.engine.Start(ctx)
	if err != nil {
		return fmt.Errorf("capture: resume engine: %w", err)
	}

	s.mu.Lock()
	if s.active != active {
		s.mu.Unlock()
		_ = stream.Close()
		return ErrNotActive
	}
	active.stream = stream
	active.eventsDone = make(chan struct{})
	s.setStateLocked(domain.CaptureStateListening, "")
	s.mu.Unlock()

	go s.consumeRecognition(active)
	return nil
}

// Stop releases the engine and audio resources and returns to ready.
// Accumulated text remains readable until Clear. Valid from listening or
// paused; anything else is rejected with no state change.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != domain.CaptureStateListening && s.state != domain.CaptureStatePaused {
		s.mu.Unlock()
		return fmt.Errorf("%w: state is %s", ErrNotActive, s.state)
	}
	active := s.active
	s.active = nil
	s.setStateLocked(domain.CaptureStateReady, "")
	s.mu.Unlock()

	if active != nil {
		_ = active.stream.Stop()
		<-active.eventsDone
		active.cancel()
		if active.audio != nil {
			_ = active.audio.Stop()
		}
		_ = active.stream.Close()
		<-active.ampDone
	}
	s.publishAmplitude(0)
	return nil
}

// Clear resets the accumulated transcript.
func (s *Session) Clear() {
	s.acc.Clear()
}

// Release frees all engine resources. Terminal: subsequent calls are no-ops.
func (s *Session) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	active := s.active
	s.active = nil
	s.setStateLocked(domain.CaptureStateUninitialized, "")
	s.mu.Unlock()

	if active != nil {
		active.cancel()
		_ = active.stream.Close()
		if active.audio != nil {
			_ = active.audio.Stop()
		}
		<-active.eventsDone
		<-active.ampDone
	}
	_ = s.engine.Release()
	s.publishAmplitude(0)
}

// Transcript returns committed text plus the in-progress partial tail.
func (s *Session) Transcript() string {
	return s.acc.Current()
}

// State returns the current lifecycle state and, for the error state, a
// human-readable message.
func (s *Session) State() (domain.CaptureState, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.errMsg
}

// Amplitude returns the latest smoothed input level in [0,1].
func (s *Session) Amplitude() float64 {
	return math.Float64frombits(s.ampBits.Load())
}

func (s *Session) publishAmplitude(level float64) {
	s.ampBits.Store(math.Float64bits(level))
	s.sink.Amplitude(level)
}

func (s *Session) paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == domain.CaptureStatePaused
}

func (s *Session) setStateLocked(state domain.CaptureState, msg string) {
	s.state = state
	s.errMsg = msg
	s.sink.CaptureStateChanged(state)
}
