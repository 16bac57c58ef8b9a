// Package config resolves runtime configuration from an optional YAML file
// overlaid with environment variables. Precedence: defaults, then file, then
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration for voicedraft.
type Config struct {
	Speech     SpeechConfig     `yaml:"speech"`
	Generation GenerationConfig `yaml:"generation"`
	Audio      AudioConfig      `yaml:"audio"`
	Storage    StorageConfig    `yaml:"storage"`
}

// SpeechConfig configures the websocket recognition backend.
type SpeechConfig struct {
	APIKey      string `yaml:"api_key"`
	APIBaseURL  string `yaml:"api_base_url"`
	Model       string `yaml:"model"`
	Language    string `yaml:"language"`
	SmartFormat bool   `yaml:"smart_format"`
}

// GenerationConfig configures the chat-completion backend.
type GenerationConfig struct {
	APIKey         string `yaml:"api_key"`
	APIBaseURL     string `yaml:"api_base_url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-call generation deadline.
func (g GenerationConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// AudioConfig configures microphone capture.
type AudioConfig struct {
	RecorderCommand string `yaml:"recorder_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	ChunkSize       int    `yaml:"chunk_size"`
}

// StorageConfig configures the SQLite database location.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DefaultPath returns the default config file location. VOICEDRAFT_CONFIG
// overrides it.
func DefaultPath() string {
	if path := strings.TrimSpace(os.Getenv("VOICEDRAFT_CONFIG")); path != "" {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "voicedraft", "config.yaml")
}

// Load resolves configuration from the default config file location and the
// environment.
func Load() (Config, error) {
	return LoadFrom(DefaultPath())
}

// LoadFrom resolves configuration starting from defaults, overlaying the
// YAML file at path when it exists, then overlaying environment variables.
func LoadFrom(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// No file is fine; env and defaults carry everything.
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func defaults() Config {
	return Config{
		Speech: SpeechConfig{
			APIBaseURL:  "https://api.deepgram.com/v1",
			Model:       "nova-2",
			SmartFormat: true,
		},
		Generation: GenerationConfig{
			APIBaseURL:     "https://openrouter.ai/api/v1",
			Model:          "google/gemini-2.5-flash-lite",
			TimeoutSeconds: 30,
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
			ChunkSize:       4096,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Speech.APIKey = firstNonEmpty(os.Getenv("VOICEDRAFT_SPEECH_API_KEY"), os.Getenv("DEEPGRAM_API_KEY"), cfg.Speech.APIKey)
	cfg.Speech.APIBaseURL = envOrDefault("VOICEDRAFT_SPEECH_API_BASE", cfg.Speech.APIBaseURL)
	cfg.Speech.Model = envOrDefault("VOICEDRAFT_SPEECH_MODEL", cfg.Speech.Model)
	cfg.Speech.Language = envOrDefault("VOICEDRAFT_SPEECH_LANGUAGE", cfg.Speech.Language)
	cfg.Speech.SmartFormat = envOrDefaultBool("VOICEDRAFT_SPEECH_SMART_FORMAT", cfg.Speech.SmartFormat)

	cfg.Generation.APIKey = firstNonEmpty(os.Getenv("VOICEDRAFT_GENERATION_API_KEY"), os.Getenv("OPENROUTER_API_KEY"), cfg.Generation.APIKey)
	cfg.Generation.APIBaseURL = envOrDefault("VOICEDRAFT_GENERATION_API_BASE", cfg.Generation.APIBaseURL)
	cfg.Generation.Model = envOrDefault("VOICEDRAFT_GENERATION_MODEL", cfg.Generation.Model)
	cfg.Generation.TimeoutSeconds = envOrDefaultInt("VOICEDRAFT_GENERATION_TIMEOUT_SECONDS", cfg.Generation.TimeoutSeconds)

	cfg.Audio.RecorderCommand = envOrDefault("VOICEDRAFT_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("VOICEDRAFT_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = envOrDefault("VOICEDRAFT_AUDIO_INPUT_DEVICE", cfg.Audio.InputDevice)
	cfg.Audio.SampleRate = envOrDefaultInt("VOICEDRAFT_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("VOICEDRAFT_CHANNELS", cfg.Audio.Channels)
	cfg.Audio.ChunkSize = envOrDefaultInt("VOICEDRAFT_AUDIO_CHUNK_SIZE", cfg.Audio.ChunkSize)

	cfg.Storage.Path = envOrDefault("VOICEDRAFT_DB_PATH", cfg.Storage.Path)
}

func normalize(cfg *Config) {
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = 4096
	}
	if cfg.Generation.TimeoutSeconds <= 0 {
		cfg.Generation.TimeoutSeconds = 30
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
