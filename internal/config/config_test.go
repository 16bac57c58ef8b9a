package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearVoicedraftEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"VOICEDRAFT_CONFIG",
		"VOICEDRAFT_SPEECH_API_KEY", "DEEPGRAM_API_KEY",
		"VOICEDRAFT_SPEECH_API_BASE", "VOICEDRAFT_SPEECH_MODEL",
		"VOICEDRAFT_SPEECH_LANGUAGE", "VOICEDRAFT_SPEECH_SMART_FORMAT",
		"VOICEDRAFT_GENERATION_API_KEY", "OPENROUTER_API_KEY",
		"VOICEDRAFT_GENERATION_API_BASE", "VOICEDRAFT_GENERATION_MODEL",
		"VOICEDRAFT_GENERATION_TIMEOUT_SECONDS",
		"VOICEDRAFT_FFMPEG_COMMAND", "VOICEDRAFT_AUDIO_INPUT_FORMAT",
		"VOICEDRAFT_AUDIO_INPUT_DEVICE", "VOICEDRAFT_SAMPLE_RATE",
		"VOICEDRAFT_CHANNELS", "VOICEDRAFT_AUDIO_CHUNK_SIZE",
		"VOICEDRAFT_DB_PATH",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearVoicedraftEnv(t)

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Generation.APIBaseURL != "https://openrouter.ai/api/v1" {
		t.Fatalf("unexpected generation base: %q", cfg.Generation.APIBaseURL)
	}
	if cfg.Generation.Timeout() != 30*time.Second {
		t.Fatalf("unexpected timeout: %s", cfg.Generation.Timeout())
	}
	if cfg.Speech.Model != "nova-2" || !cfg.Speech.SmartFormat {
		t.Fatalf("unexpected speech defaults: %+v", cfg.Speech)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 || cfg.Audio.ChunkSize != 4096 {
		t.Fatalf("unexpected audio defaults: %+v", cfg.Audio)
	}
	if cfg.Audio.RecorderCommand != "ffmpeg" {
		t.Fatalf("unexpected recorder command: %q", cfg.Audio.RecorderCommand)
	}
}

func TestLoadFromFile(t *testing.T) {
	clearVoicedraftEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
generation:
  api_key: file-gen-key
  model: anthropic/claude-sonnet
  timeout_seconds: 45
speech:
  api_key: file-speech-key
  language: de
audio:
  sample_rate: 48000
storage:
  path: /tmp/custom.sqlite
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Generation.APIKey != "file-gen-key" {
		t.Fatalf("unexpected api key: %q", cfg.Generation.APIKey)
	}
	if cfg.Generation.Model != "anthropic/claude-sonnet" {
		t.Fatalf("unexpected model: %q", cfg.Generation.Model)
	}
	if cfg.Generation.TimeoutSeconds != 45 {
		t.Fatalf("unexpected timeout: %d", cfg.Generation.TimeoutSeconds)
	}
	if cfg.Speech.Language != "de" {
		t.Fatalf("unexpected language: %q", cfg.Speech.Language)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Fatalf("unexpected sample rate: %d", cfg.Audio.SampleRate)
	}
	if cfg.Storage.Path != "/tmp/custom.sqlite" {
		t.Fatalf("unexpected db path: %q", cfg.Storage.Path)
	}
	// Untouched fields keep their defaults.
	if cfg.Audio.Channels != 1 {
		t.Fatalf("unexpected channels: %d", cfg.Audio.Channels)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearVoicedraftEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("generation:\n  api_key: from-file\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("OPENROUTER_API_KEY", "from-env")
	t.Setenv("DEEPGRAM_API_KEY", "dg-env")
	t.Setenv("VOICEDRAFT_SAMPLE_RATE", "22050")
	t.Setenv("VOICEDRAFT_SPEECH_SMART_FORMAT", "off")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Generation.APIKey != "from-env" {
		t.Fatalf("env should win, got %q", cfg.Generation.APIKey)
	}
	if cfg.Speech.APIKey != "dg-env" {
		t.Fatalf("unexpected speech key: %q", cfg.Speech.APIKey)
	}
	if cfg.Audio.SampleRate != 22050 {
		t.Fatalf("unexpected sample rate: %d", cfg.Audio.SampleRate)
	}
	if cfg.Speech.SmartFormat {
		t.Fatalf("smart format should be disabled")
	}
}

func TestDedicatedKeyBeatsSharedKey(t *testing.T) {
	clearVoicedraftEnv(t)

	t.Setenv("OPENROUTER_API_KEY", "shared")
	t.Setenv("VOICEDRAFT_GENERATION_API_KEY", "dedicated")

	cfg, err := LoadFrom("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Generation.APIKey != "dedicated" {
		t.Fatalf("unexpected key: %q", cfg.Generation.APIKey)
	}
}

func TestMalformedFileFails(t *testing.T) {
	clearVoicedraftEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(":\n  - not yaml {"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatalf("expected parse failure")
	}
}

func TestNormalizeRejectsNonsenseValues(t *testing.T) {
	clearVoicedraftEnv(t)

	t.Setenv("VOICEDRAFT_SAMPLE_RATE", "-1")
	t.Setenv("VOICEDRAFT_CHANNELS", "0")
	t.Setenv("VOICEDRAFT_AUDIO_CHUNK_SIZE", "10")
	t.Setenv("VOICEDRAFT_GENERATION_TIMEOUT_SECONDS", "0")

	cfg, err := LoadFrom("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 || cfg.Audio.ChunkSize != 4096 {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Generation.TimeoutSeconds != 30 {
		t.Fatalf("unexpected timeout: %d", cfg.Generation.TimeoutSeconds)
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	cases := []struct {
		value    string
		fallback bool
		want     bool
	}{
		{"", true, true},
		{"", false, false},
		{"yes", false, true},
		{"0", true, false},
		{"banana", true, true},
	}
	for _, tc := range cases {
		t.Setenv("VOICEDRAFT_TEST_BOOL", tc.value)
		if got := envOrDefaultBool("VOICEDRAFT_TEST_BOOL", tc.fallback); got != tc.want {
			t.Fatalf("envOrDefaultBool(%q, %v) = %v, want %v", tc.value, tc.fallback, got, tc.want)
		}
	}
}
