package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voicedraft/internal/domain"
	"voicedraft/internal/ports"
)

type fakeAudioSession struct {
	data     chan []byte
	stopOnce sync.Once
}

func newFakeAudioSession() *fakeAudioSession {
	return &fakeAudioSession{data: make(chan []byte, 8)}
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	chunk, ok := <-f.data
	if !ok {
		return 0, io.EOF
	}
	return copy(p, chunk), nil
}

func (f *fakeAudioSession) Stop() error {
	f.stopOnce.Do(func() { close(f.data) })
	return nil
}

func (f *fakeAudioSession) Close() error { return f.Stop() }

type fakeAudioSource struct {
	mu       sync.Mutex
	sessions []*fakeAudioSession
}

func (f *fakeAudioSource) Start(context.Context, ports.AudioConfig) (ports.AudioSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session := newFakeAudioSession()
	f.sessions = append(f.sessions, session)
	return session, nil
}

func (f *fakeAudioSource) last() *fakeAudioSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[len(f.sessions)-1]
}

var upgrader = websocket.Upgrader{}

// transcriptServer echoes a partial and a final transcript after the first
// audio frame, then closes normally when the client sends CloseStream.
func transcriptServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sentTranscripts := false
		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.TextMessage && strings.Contains(string(payload), "CloseStream") {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			if kind == websocket.BinaryMessage && !sentTranscripts {
				sentTranscripts = true
				_ = conn.WriteMessage(websocket.TextMessage,
					[]byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hello"}]}}`))
				_ = conn.WriteMessage(websocket.TextMessage,
					[]byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello world"}]}}`))
			}
		}
	}))
}

func collectEvents(t *testing.T, stream ports.RecognitionStream, n int) []domain.TranscriptEvent {
	t.Helper()
	var events []domain.TranscriptEvent
	timeout := time.After(5 * time.Second)
	for len(events) < n {
		select {
		case event, ok := <-stream.Events():
			if !ok {
				t.Fatalf("events closed after %d of %d events", len(events), n)
			}
			events = append(events, event)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(events), n)
		}
	}
	return events
}

func TestNewEngineDefaults(t *testing.T) {
	t.Parallel()

	e := NewEngine(&fakeAudioSource{}, Config{})
	if e.cfg.APIBaseURL != "https://api.deepgram.com/v1" {
		t.Fatalf("unexpected base url: %q", e.cfg.APIBaseURL)
	}
	if e.cfg.Model != "nova-2" {
		t.Fatalf("unexpected model: %q", e.cfg.Model)
	}
	if e.cfg.ChunkSize != 4096 {
		t.Fatalf("unexpected chunk size: %d", e.cfg.ChunkSize)
	}
}

func TestEngineStreamsTranscripts(t *testing.T) {
	t.Parallel()

	srv := transcriptServer(t)
	defer srv.Close()

	audio := &fakeAudioSource{}
	engine := NewEngine(audio, Config{APIKey: "k", APIBaseURL: srv.URL})

	if err := engine.LoadModel(context.Background()); err != nil {
		t.Fatalf("load model: %v", err)
	}

	stream, err := engine.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	audio.last().data <- []byte{0x01, 0x00, 0x02, 0x00}

	events := collectEvents(t, stream, 2)
	if events[0].Kind != domain.TranscriptKindPartial || events[0].Text != "hello" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Kind != domain.TranscriptKindFinal || events[1].Text != "hello world" {
		t.Fatalf("unexpected second event: %+v", events[1])
	}

	if err := stream.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stream.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestEngineStartIsExclusive(t *testing.T) {
	t.Parallel()

	srv := transcriptServer(t)
	defer srv.Close()

	audio := &fakeAudioSource{}
	engine := NewEngine(audio, Config{APIKey: "k", APIBaseURL: srv.URL})

	stream, err := engine.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := engine.Start(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	_ = stream.Stop()
	if err := stream.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	// The device is free again once the first stream has drained.
	second, err := engine.Start(context.Background())
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	_ = second.Close()
}

func TestEngineReleaseRefusesNewStreams(t *testing.T) {
	t.Parallel()

	engine := NewEngine(&fakeAudioSource{}, Config{APIKey: "k"})
	if err := engine.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := engine.Start(context.Background()); err == nil {
		t.Fatalf("expected start after release to fail")
	}
	if err := engine.LoadModel(context.Background()); err == nil {
		t.Fatalf("expected load after release to fail")
	}
}

func TestEngineBackendErrorSurfacesInWait(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Error","message":"bad audio"}`))
	}))
	defer srv.Close()

	audio := &fakeAudioSource{}
	engine := NewEngine(audio, Config{APIKey: "k", APIBaseURL: srv.URL})

	stream, err := engine.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	err = stream.Wait()
	if err == nil || !strings.Contains(err.Error(), "bad audio") {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestBuildListenURLDefaults(t *testing.T) {
	t.Parallel()

	url, err := buildListenURL(Config{APIBaseURL: "https://api.deepgram.com/v1", Model: "nova-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(url, "wss://api.deepgram.com/v1/listen") {
		t.Fatalf("unexpected ws url: %s", url)
	}
	if !strings.Contains(url, "encoding=linear16") {
		t.Fatalf("expected default encoding in url: %s", url)
	}
	if !strings.Contains(url, "sample_rate=16000") {
		t.Fatalf("expected default sample_rate in url: %s", url)
	}
	if !strings.Contains(url, "channels=1") {
		t.Fatalf("expected default channels in url: %s", url)
	}
}

func TestBuildListenURLWithLanguageAndSmartFormat(t *testing.T) {
	t.Parallel()

	url, err := buildListenURL(Config{
		APIBaseURL:  "http://localhost:8080/v1",
		Model:       "m",
		Language:    "en-US",
		SmartFormat: true,
		Audio:       ports.AudioConfig{SampleRate: 8000, Channels: 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(url, "ws://localhost:8080/v1/listen") {
		t.Fatalf("unexpected ws url: %s", url)
	}
	if !strings.Contains(url, "language=en-US") {
		t.Fatalf("expected language in url: %s", url)
	}
	if !strings.Contains(url, "smart_format=true") {
		t.Fatalf("expected smart_format in url: %s", url)
	}
	if !strings.Contains(url, "sample_rate=8000") {
		t.Fatalf("expected sample rate in url: %s", url)
	}
}

func TestBuildListenURLInvalidBase(t *testing.T) {
	t.Parallel()

	if _, err := buildListenURL(Config{APIBaseURL: ":// bad"}); err == nil {
		t.Fatalf("expected invalid base url error")
	}
}

func TestExtractTranscript(t *testing.T) {
	t.Parallel()

	r1 := backendResponse{}
	r1.Channel.Alternatives = append(r1.Channel.Alternatives, struct {
		Transcript string "json:\"transcript\""
	}{Transcript: " channel "})
	if got := extractTranscript(r1); got != "channel" {
		t.Fatalf("unexpected transcript from channel: %q", got)
	}

	r2 := backendResponse{}
	r2.Results.Channels = append(r2.Results.Channels, struct {
		Alternatives []struct {
			Transcript string "json:\"transcript\""
		} "json:\"alternatives\""
	}{
		Alternatives: []struct {
			Transcript string "json:\"transcript\""
		}{{Transcript: "results"}},
	})
	if got := extractTranscript(r2); got != "results" {
		t.Fatalf("unexpected transcript from results: %q", got)
	}

	if got := extractTranscript(backendResponse{}); got != "" {
		t.Fatalf("expected empty transcript, got %q", got)
	}
}

func TestSetErrIgnoresCloseErrors(t *testing.T) {
	t.Parallel()

	s := &recognitionStream{}
	s.setErr(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "closed"})
	if s.waitErr() != nil {
		t.Fatalf("expected close error to be ignored")
	}

	s.setErr(errors.New("boom"))
	if s.waitErr() == nil || s.waitErr().Error() != "boom" {
		t.Fatalf("expected non-close error to be captured")
	}
}

func TestSetErrFirstWins(t *testing.T) {
	t.Parallel()

	s := &recognitionStream{}
	s.setErr(errors.New("first"))
	s.setErr(errors.New("second"))
	if s.waitErr() == nil || s.waitErr().Error() != "first" {
		t.Fatalf("expected first error to win")
	}
}

func TestSetErrIgnoredWhileStopping(t *testing.T) {
	t.Parallel()

	s := &recognitionStream{}
	s.stopping.Store(true)
	s.setErr(errors.New("late read failure"))
	if s.waitErr() != nil {
		t.Fatalf("expected errors after stop to be discarded")
	}
}
