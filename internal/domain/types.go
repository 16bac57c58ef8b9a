package domain

// CaptureState models the speech capture session lifecycle.
type CaptureState string

const (
	CaptureStateUninitialized CaptureState = "uninitialized"
	CaptureStateModelLoading  CaptureState = "model_loading"
	CaptureStateReady         CaptureState = "ready"
	CaptureStateListening     CaptureState = "listening"
	CaptureStatePaused        CaptureState = "paused"
	CaptureStateError         CaptureState = "error"
)

// SessionState models the turn-based voice session lifecycle.
type SessionState string

const (
	SessionStateInitializing    SessionState = "initializing"
	SessionStateReady           SessionState = "ready"
	SessionStateRecording       SessionState = "recording"
	SessionStateProcessingAI    SessionState = "processing_ai"
	SessionStateGeneratingDraft SessionState = "generating_draft"
	SessionStateComplete        SessionState = "complete"
	SessionStateError           SessionState = "error"
)

// LectureState models the long-form lecture recording lifecycle.
type LectureState string

const (
	LectureStateIdle              LectureState = "idle"
	LectureStateInitializing      LectureState = "initializing"
	LectureStateReady             LectureState = "ready"
	LectureStateRecording         LectureState = "recording"
	LectureStateProcessing        LectureState = "processing"
	LectureStateGeneratingOutputs LectureState = "generating_outputs"
	LectureStateComplete          LectureState = "complete"
	LectureStateError             LectureState = "error"
)

// ErrorCode identifies where in the pipeline a failure originated.
type ErrorCode string

const (
	ErrorCodeModelInit  ErrorCode = "model_init"
	ErrorCodeEngine     ErrorCode = "engine"
	ErrorCodeTransport  ErrorCode = "transport"
	ErrorCodeAPI        ErrorCode = "api"
	ErrorCodeParse      ErrorCode = "parse"
	ErrorCodeNotFound   ErrorCode = "not_found"
	ErrorCodeValidation ErrorCode = "validation"
	ErrorCodeStorage    ErrorCode = "storage"
)

// TranscriptKind identifies whether a recognition event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent is incremental recognition output from a speech engine.
type TranscriptEvent struct {
	Kind TranscriptKind `json:"kind"`
	Text string         `json:"text"`
}

// ChatMessage is the provider-agnostic chat message shape used by the
// generation client and LLM transports.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
