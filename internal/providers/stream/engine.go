// Package stream implements ports.SpeechEngine over a websocket transcription
// backend. The engine owns the audio input device while a recognition stream
// is live: one goroutine pumps PCM frames up the socket, one drains transcript
// events down.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voicedraft/internal/domain"
	"voicedraft/internal/ports"
)

// ErrBusy is returned by Start while another recognition stream holds the
// audio input device.
var ErrBusy = errors.New("stream: recognition input is busy")

const closeGrace = 5 * time.Second

// Config controls the websocket recognition backend.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool

	Audio     ports.AudioConfig
	ChunkSize int
}

// Engine dials the backend per recognition stream. The audio device is
// acquired exclusively: a second Start while one stream is live fails fast
// with ErrBusy instead of blocking.
type Engine struct {
	cfg   Config
	audio ports.AudioLevelSource

	active   atomic.Bool
	released atomic.Bool
}

func NewEngine(audio ports.AudioLevelSource, cfg Config) *Engine {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 4096
	}
	return &Engine{cfg: cfg, audio: audio}
}

// LoadModel probes the backend with a full websocket handshake and closes the
// connection immediately. A failed probe leaves the engine reusable; callers
// may retry.
func (e *Engine) LoadModel(ctx context.Context) error {
	if e.released.Load() {
		return errors.New("stream: engine has been released")
	}
	wsURL, err := e.listenURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, e.authHeader())
	if err != nil {
		return fmt.Errorf("stream: handshake probe failed: %w", err)
	}
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	_ = conn.Close()
	return nil
}

// Start dials the backend and begins streaming microphone audio.
func (e *Engine) Start(ctx context.Context) (ports.RecognitionStream, error) {
	if e.released.Load() {
		return nil, errors.New("stream: engine has been released")
	}
	if !e.active.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}

	stream, err := e.open(ctx)
	if err != nil {
		e.active.Store(false)
		return nil, err
	}
	return stream, nil
}

// Release marks the engine terminal. Live streams are owned by their callers
// and keep draining; only new acquisitions are refused.
func (e *Engine) Release() error {
	e.released.Store(true)
	return nil
}

func (e *Engine) open(ctx context.Context) (*recognitionStream, error) {
	wsURL, err := e.listenURL()
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, e.authHeader())
	if err != nil {
		return nil, fmt.Errorf("stream: connect: %w", err)
	}

	audio, err := e.audio.Start(ctx, e.cfg.Audio)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("stream: open audio input: %w", err)
	}

	s := &recognitionStream{
		conn:      conn,
		audio:     audio,
		chunkSize: e.cfg.ChunkSize,
		events:    make(chan domain.TranscriptEvent, 64),
		done:      make(chan struct{}),
	}

	s.wg.Add(2)
	go s.pumpAudio()
	go s.readLoop()
	// The device is released before done closes so that a caller blocked in
	// Wait can immediately reacquire the engine.
	go func() {
		s.wg.Wait()
		close(s.events)
		_ = conn.Close()
		_ = audio.Stop()
		e.active.Store(false)
		close(s.done)
	}()

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	return s, nil
}

func (e *Engine) authHeader() http.Header {
	headers := http.Header{}
	if strings.TrimSpace(e.cfg.APIKey) != "" {
		headers.Set("Authorization", "Token "+e.cfg.APIKey)
	}
	return headers
}

func (e *Engine) listenURL() (string, error) {
	return buildListenURL(e.cfg)
}

type recognitionStream struct {
	conn      *websocket.Conn
	audio     ports.AudioSession
	chunkSize int

	events chan domain.TranscriptEvent
	done   chan struct{}

	wg       sync.WaitGroup
	stopping atomic.Bool

	errMu sync.Mutex
	err   error
}

func (s *recognitionStream) Events() <-chan domain.TranscriptEvent {
	return s.events
}

// Stop ends audio input and asks the backend to flush remaining finals. The
// events channel closes once the backend finishes or the grace period runs
// out.
func (s *recognitionStream) Stop() error {
	if s.stopping.CompareAndSwap(false, true) {
		_ = s.audio.Stop()
		_ = s.conn.SetReadDeadline(time.Now().Add(closeGrace))
	}
	return nil
}

func (s *recognitionStream) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *recognitionStream) Close() error {
	_ = s.Stop()
	_ = s.conn.Close()
	<-s.done
	return s.waitErr()
}

func (s *recognitionStream) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *recognitionStream) setErr(err error) {
	if err == nil || s.stopping.Load() {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// pumpAudio is the sole socket writer. It streams microphone frames until the
// audio session ends, then sends the close marker so the backend flushes.
func (s *recognitionStream) pumpAudio() {
	defer s.wg.Done()

	buf := make([]byte, s.chunkSize)
	for {
		n, readErr := s.audio.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.setErr(fmt.Errorf("failed to send audio: %w", err))
				return
			}
		}
		if readErr != nil {
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
				s.setErr(fmt.Errorf("failed to close stream: %w", err))
			}
			return
		}
	}
}

func (s *recognitionStream) readLoop() {
	defer s.wg.Done()
	// Stopping the audio session unblocks the pump so a backend failure
	// drains the stream instead of hanging it.
	defer func() { _ = s.audio.Stop() }()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("failed to read recognition event: %w", err))
			return
		}

		var response backendResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "recognition backend returned an unknown error"
			}
			s.setErr(errors.New(message))
			return
		}

		transcript := extractTranscript(response)
		if transcript == "" {
			continue
		}

		event := domain.TranscriptEvent{Text: transcript, Kind: domain.TranscriptKindPartial}
		if response.IsFinal || response.SpeechFinal {
			event.Kind = domain.TranscriptKindFinal
		}
		s.emit(event)
	}
}

func (s *recognitionStream) emit(event domain.TranscriptEvent) {
	select {
	case s.events <- event:
	case <-s.done:
	default:
	}
}

type backendResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func extractTranscript(response backendResponse) string {
	if len(response.Channel.Alternatives) > 0 {
		if text := strings.TrimSpace(response.Channel.Alternatives[0].Transcript); text != "" {
			return text
		}
	}
	if len(response.Results.Channels) > 0 && len(response.Results.Channels[0].Alternatives) > 0 {
		return strings.TrimSpace(response.Results.Channels[0].Alternatives[0].Transcript)
	}
	return ""
}

func buildListenURL(cfg Config) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = "https://api.deepgram.com/v1"
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("stream: invalid API base URL: %w", err)
	}

	audio := cfg.Audio
	if audio.SampleRate <= 0 {
		audio.SampleRate = 16000
	}
	if audio.Channels <= 0 {
		audio.Channels = 1
	}
	query := listenURL.Query()
	query.Set("model", cfg.Model)
	// The recorder always emits raw 16-bit little-endian PCM regardless of
	// which OS capture backend it reads from.
	query.Set("encoding", "linear16")
	query.Set("sample_rate", fmt.Sprintf("%d", audio.SampleRate))
	query.Set("channels", fmt.Sprintf("%d", audio.Channels))
	query.Set("interim_results", "true")
	query.Set("smart_format", fmt.Sprintf("%t", cfg.SmartFormat))
	if cfg.Language != "" {
		query.Set("language", cfg.Language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
