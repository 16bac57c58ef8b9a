package ports

import (
	"context"
	"io"

	"voicedraft/internal/domain"
)

// AudioConfig describes how the microphone should be captured for amplitude
// sampling.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live PCM capture session used by the amplitude sampler.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioLevelSource creates microphone capture sessions.
type AudioLevelSource interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// RecognitionStream is an active speech recognition run.
type RecognitionStream interface {
	// Events yields partial and final transcript events. The channel closes
	// when the stream ends.
	Events() <-chan domain.TranscriptEvent
	// Stop ends recognition but keeps the engine usable for a later Start.
	Stop() error
	// Wait blocks until the stream has drained and returns its terminal error.
	Wait() error
	Close() error
}

// SpeechEngine wraps a speech recognition backend. The audio input device is
// exclusively owned by one stream at a time; a second concurrent Start must
// fail fast rather than block.
type SpeechEngine interface {
	// LoadModel prepares the recognition model. Implementations must be safe
	// to call again after a failure.
	LoadModel(ctx context.Context) error
	Start(ctx context.Context) (RecognitionStream, error)
	// Release frees native engine resources. Subsequent calls are no-ops.
	Release() error
}

// ChatRequest is the wire envelope sent to a chat-completion backend.
type ChatRequest struct {
	Model       string               `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	TopP        float64              `json:"top_p,omitempty"`
}

// ChatChoice is one completion candidate.
type ChatChoice struct {
	Index        int                `json:"index"`
	Message      domain.ChatMessage `json:"message"`
	FinishReason string             `json:"finish_reason,omitempty"`
}

// APIError is a backend-reported failure carried inside a 2xx envelope.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the wire envelope returned by a chat-completion backend.
type ChatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model,omitempty"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
	Error   *APIError    `json:"error,omitempty"`
}

// ChatCompleter produces one completion per call. Implementations bound wait
// time; retry policy belongs to the orchestrators.
type ChatCompleter interface {
	Complete(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// EventSink emits engine state and progress to the owning surface.
type EventSink interface {
	CaptureStateChanged(state domain.CaptureState)
	SessionStateChanged(state domain.SessionState, message string)
	LectureStateChanged(state domain.LectureState, message string)
	PartialTranscript(text string)
	Amplitude(level float64)
	GenerationProgress(message string)
	Error(code domain.ErrorCode, detail string)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) CaptureStateChanged(domain.CaptureState)         {}
func (NopSink) SessionStateChanged(domain.SessionState, string) {}
func (NopSink) LectureStateChanged(domain.LectureState, string) {}
func (NopSink) PartialTranscript(string)                        {}
func (NopSink) Amplitude(float64)                               {}
func (NopSink) GenerationProgress(string)                       {}
func (NopSink) Error(domain.ErrorCode, string)                  {}
