package bootstrap

import (
	"fmt"

	"voicedraft/internal/audio"
	"voicedraft/internal/capture"
	"voicedraft/internal/config"
	"voicedraft/internal/genai"
	"voicedraft/internal/ports"
	"voicedraft/internal/providers/openrouter"
	"voicedraft/internal/providers/stream"
	"voicedraft/internal/store"
	"voicedraft/internal/usecase"
)

// Services is the assembled runtime graph. Orchestrators are created per
// session through the factory methods; the capture session, generation
// client and store are shared.
type Services struct {
	Config  config.Config
	Store   *store.Store
	Capture *capture.Session
	Gen     *genai.Client

	sink ports.EventSink
}

// Build wires all backend dependencies for the current runtime.
func Build(sink ports.EventSink) (*Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return BuildWith(cfg, sink)
}

// BuildWith wires the runtime graph from an already-resolved configuration.
func BuildWith(cfg config.Config, sink ports.EventSink) (*Services, error) {
	if sink == nil {
		sink = ports.NopSink{}
	}

	dbPath := cfg.Storage.Path
	if dbPath == "" {
		dbPath = store.DefaultDBPath()
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open store: %w", err)
	}

	completer, err := openrouter.NewClient(cfg.Generation.APIKey,
		openrouter.WithBaseURL(cfg.Generation.APIBaseURL),
		openrouter.WithAttribution("https://github.com/voicedraft/voicedraft", "voicedraft"),
	)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("bootstrap: generation client: %w", err)
	}
	gen := genai.NewClient(completer, cfg.Generation.Model)

	audioCfg := ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
	}
	recorder := audio.NewRecorder(cfg.Audio.RecorderCommand)
	engine := stream.NewEngine(recorder, stream.Config{
		APIKey:      cfg.Speech.APIKey,
		APIBaseURL:  cfg.Speech.APIBaseURL,
		Model:       cfg.Speech.Model,
		Language:    cfg.Speech.Language,
		SmartFormat: cfg.Speech.SmartFormat,
		Audio:       audioCfg,
		ChunkSize:   cfg.Audio.ChunkSize,
	})
	session := capture.NewSession(engine, recorder, sink, capture.Config{
		Audio:     audioCfg,
		ChunkSize: cfg.Audio.ChunkSize,
	})

	return &Services{
		Config:  cfg,
		Store:   st,
		Capture: session,
		Gen:     gen,
		sink:    sink,
	}, nil
}

// Conversation creates a voice session orchestrator over the shared graph.
func (s *Services) Conversation(opts ...usecase.ConversationOption) *usecase.ConversationOrchestrator {
	opts = append([]usecase.ConversationOption{
		usecase.WithConversationTimeout(s.Config.Generation.Timeout()),
	}, opts...)
	return usecase.NewConversationOrchestrator(s.Capture, s.Gen, s.Store, s.sink, opts...)
}

// Lecture creates a lecture recording orchestrator over the shared graph.
func (s *Services) Lecture(opts ...usecase.LectureOption) *usecase.LectureOrchestrator {
	opts = append([]usecase.LectureOption{
		usecase.WithLectureTimeout(s.Config.Generation.Timeout()),
	}, opts...)
	return usecase.NewLectureOrchestrator(s.Capture, s.Gen, s.Store, s.sink, opts...)
}

// Close releases the shared capture session and the store.
func (s *Services) Close() error {
	s.Capture.Release()
	return s.Store.Close()
}
