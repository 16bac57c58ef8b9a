// Package usecase holds the two orchestrators that drive the application:
// the turn-based voice session and the long-form lecture recording. Each
// orchestrator is the single logical owner of its session; concurrent
// mutation of the same turn log or output set is prevented by scoping one
// orchestrator instance per surface, not by database locks.
package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"voicedraft/internal/domain"
	"voicedraft/internal/genai"
	"voicedraft/internal/ports"
)

const defaultGenerationTimeout = 30 * time.Second

// CaptureSession is the speech capture surface the orchestrators drive.
// Implemented by capture.Session.
type CaptureSession interface {
	Initialize(ctx context.Context) error
	Start(ctx context.Context) error
	Pause() error
	Resume(ctx context.Context) error
	Stop() error
	Clear()
	Release()
	Transcript() string
	State() (domain.CaptureState, string)
	Amplitude() float64
}

// ConversationGenerator is the slice of the generation client used by the
// voice session.
type ConversationGenerator interface {
	FollowUpQuestions(ctx context.Context, transcript string) ([]string, error)
	Draft(ctx context.Context, exchanges []genai.Exchange, cfg domain.DraftConfig) (string, error)
}

// ConversationStore is the persistence surface of the voice session.
// Implemented by store.Store.
type ConversationStore interface {
	Project(ctx context.Context, id int64) (domain.Project, error)
	TouchProject(ctx context.Context, id int64) error
	AppendTurn(ctx context.Context, turn domain.ConversationTurn) (domain.ConversationTurn, error)
	UpdateTurn(ctx context.Context, turn domain.ConversationTurn) error
	TurnsByProject(ctx context.Context, projectID int64) ([]domain.ConversationTurn, error)
	OpenTurn(ctx context.Context, projectID int64) (*domain.ConversationTurn, error)
	InsertNewDraft(ctx context.Context, projectID int64, content string) (domain.Draft, error)
	DraftConfig(ctx context.Context, projectID int64) (domain.DraftConfig, error)
}

// ConversationOrchestrator runs the voice session state machine: record a
// thought, get three follow-up questions, answer one, repeat, then compile
// the conversation into a draft.
//
// Every activation carries an epoch token. Operations capture the token
// before any suspension point (model load, generation call, persistence
// write) and re-check it before writing state back, so work that completes
// after the orchestrator moved on is discarded instead of corrupting the
// newer activation.
type ConversationOrchestrator struct {
	capture CaptureSession
	gen     ConversationGenerator
	store   ConversationStore
	sink    ports.EventSink
	timeout time.Duration

	mu        sync.Mutex
	projectID int64
	state     domain.SessionState
	errMsg    string
	epoch     uuid.UUID
}

// ConversationOption adjusts orchestrator construction.
type ConversationOption func(*ConversationOrchestrator)

// WithConversationTimeout bounds each generation call.
func WithConversationTimeout(d time.Duration) ConversationOption {
	return func(o *ConversationOrchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func NewConversationOrchestrator(
	capture CaptureSession,
	gen ConversationGenerator,
	store ConversationStore,
	sink ports.EventSink,
	opts ...ConversationOption,
) *ConversationOrchestrator {
	if sink == nil {
		sink = ports.NopSink{}
	}
	o := &ConversationOrchestrator{
		capture: capture,
		gen:     gen,
		store:   store,
		sink:    sink,
		timeout: defaultGenerationTimeout,
		state:   domain.SessionStateInitializing,
		epoch:   uuid.New(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Attach binds the orchestrator to a project and prepares the speech engine.
// A session with zero turns simply sits in Ready.
func (o *ConversationOrchestrator) Attach(ctx context.Context, projectID int64) error {
	if _, err := o.store.Project(ctx, projectID); err != nil {
		return newError(domain.ErrorCodeNotFound, fmt.Sprintf("project %d not found", projectID), err)
	}

	o.mu.Lock()
	o.projectID = projectID
	o.epoch = uuid.New()
	epoch := o.epoch
	o.setStateLocked(domain.SessionStateInitializing, "")
	o.mu.Unlock()

	if err := o.capture.Initialize(ctx); err != nil {
		o.failIfCurrent(epoch, domain.ErrorCodeModelInit, fmt.Sprintf("speech engine unavailable: %v", err))
		return newError(domain.ErrorCodeModelInit, "speech engine unavailable", err)
	}

	o.writeStateIfCurrent(epoch, domain.SessionStateReady, "")
	return nil
}

// StartRecording begins capturing the student's next contribution.
func (o *ConversationOrchestrator) StartRecording(ctx context.Context) error {
	o.mu.Lock()
	if o.state != domain.SessionStateReady {
		state := o.state
		o.mu.Unlock()
		return newError(domain.ErrorCodeValidation, fmt.Sprintf("cannot record while %s", state), nil)
	}
	epoch := o.epoch
	o.mu.Unlock()

	if err := o.capture.Start(ctx); err != nil {
		return newError(domain.ErrorCodeEngine, "failed to start recording", err)
	}
	o.writeStateIfCurrent(epoch, domain.SessionStateRecording, "")
	return nil
}

// SubmitTranscription finalizes the current contribution and asks for three
// follow-up questions over the cumulative conversation. With text == "" the
// capture session's accumulated transcript is used. A fresh contribution
// opens a new turn; when a question is pending, the text answers the open
// turn instead. Question generation failure moves the session to Error but
// destroys nothing: every prior turn survives and a retry is another
// SubmitTranscription from the UI.
func (o *ConversationOrchestrator) SubmitTranscription(ctx context.Context, text string) error {
	o.mu.Lock()
	if o.state != domain.SessionStateRecording && o.state != domain.SessionStateReady {
		state := o.state
		o.mu.Unlock()
		return newError(domain.ErrorCodeValidation, fmt.Sprintf("cannot submit while %s", state), nil)
	}
	recording := o.state == domain.SessionStateRecording
	epoch := o.epoch
	projectID := o.projectID
	o.mu.Unlock()

	if recording {
		if err := o.capture.Stop(); err != nil {
			return newError(domain.ErrorCodeEngine, "failed to stop recording", err)
		}
		if text == "" {
			text = o.capture.Transcript()
		}
		o.capture.Clear()
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return newError(domain.ErrorCodeValidation, "nothing was transcribed", nil)
	}

	open, err := o.store.OpenTurn(ctx, projectID)
	if err != nil {
		return o.storeFailure(epoch, "failed to read open turn", err)
	}
	if open != nil {
		open.Text = text
		if err := o.store.UpdateTurn(ctx, *open); err != nil {
			return o.storeFailure(epoch, "failed to save response", err)
		}
	} else {
		if _, err := o.store.AppendTurn(ctx, domain.ConversationTurn{ProjectID: projectID, Text: text}); err != nil {
			return o.storeFailure(epoch, "failed to save response", err)
		}
	}
	_ = o.store.TouchProject(ctx, projectID)

	if !o.writeStateIfCurrent(epoch, domain.SessionStateProcessingAI, "") {
		return nil
	}
	o.sink.GenerationProgress("Thinking of follow-up questions...")

	turns, err := o.store.TurnsByProject(ctx, projectID)
	if err != nil {
		return o.storeFailure(epoch, "failed to read conversation", err)
	}

	genCtx, cancel := context.WithTimeout(ctx, o.timeout)
	questions, err := o.gen.FollowUpQuestions(genCtx, cumulativeTranscript(turns))
	cancel()
	if err != nil {
		wrapped := wrapGeneration("failed to generate follow-up questions", err)
		o.failIfCurrent(epoch, wrapped.Code, wrapped.Reason)
		return wrapped
	}

	if !o.currentEpoch(epoch) {
		return nil
	}
	if _, err := o.store.AppendTurn(ctx, domain.ConversationTurn{ProjectID: projectID, Questions: questions}); err != nil {
		return o.storeFailure(epoch, "failed to save follow-up questions", err)
	}

	o.writeStateIfCurrent(epoch, domain.SessionStateReady, "")
	return nil
}

// SelectQuestion records which of the three pending questions the student
// chose to answer. The other two stay stored but are never re-presented.
func (o *ConversationOrchestrator) SelectQuestion(ctx context.Context, index int) error {
	o.mu.Lock()
	projectID := o.projectID
	o.mu.Unlock()

	open, err := o.store.OpenTurn(ctx, projectID)
	if err != nil {
		return newError(domain.ErrorCodeStorage, "failed to read open turn", err)
	}
	if open == nil {
		return newError(domain.ErrorCodeValidation, "no question is pending selection", nil)
	}
	if index < 0 || index >= len(open.Questions) {
		return newError(domain.ErrorCodeValidation, fmt.Sprintf("question index %d out of range", index), nil)
	}

	open.SelectedQuestionIndex = &index
	if err := o.store.UpdateTurn(ctx, *open); err != nil {
		return newError(domain.ErrorCodeStorage, "failed to save question selection", err)
	}
	return nil
}

// FinishSession compiles every answered turn, in sequence order, into a
// polished draft and persists it as the new current version. Prior draft
// versions are superseded atomically; on failure they remain untouched.
func (o *ConversationOrchestrator) FinishSession(ctx context.Context, cfg domain.DraftConfig) (domain.Draft, error) {
	o.mu.Lock()
	if o.state != domain.SessionStateReady {
		state := o.state
		o.mu.Unlock()
		return domain.Draft{}, newError(domain.ErrorCodeValidation, fmt.Sprintf("cannot finish while %s", state), nil)
	}
	epoch := o.epoch
	projectID := o.projectID
	o.mu.Unlock()

	turns, err := o.store.TurnsByProject(ctx, projectID)
	if err != nil {
		return domain.Draft{}, o.storeFailure(epoch, "failed to read conversation", err)
	}
	exchanges := conversationExchanges(turns)
	if len(exchanges) == 0 {
		return domain.Draft{}, newError(domain.ErrorCodeValidation, "session has no completed turns", nil)
	}

	if !o.writeStateIfCurrent(epoch, domain.SessionStateGeneratingDraft, "") {
		return domain.Draft{}, newError(domain.ErrorCodeValidation, "session is no longer current", nil)
	}
	o.sink.GenerationProgress("Compiling your draft...")

	genCtx, cancel := context.WithTimeout(ctx, o.timeout)
	content, err := o.gen.Draft(genCtx, exchanges, cfg)
	cancel()
	if err != nil {
		wrapped := wrapGeneration("failed to generate draft", err)
		o.failIfCurrent(epoch, wrapped.Code, wrapped.Reason)
		return domain.Draft{}, wrapped
	}

	if !o.currentEpoch(epoch) {
		return domain.Draft{}, newError(domain.ErrorCodeValidation, "session is no longer current", nil)
	}
	draft, err := o.store.InsertNewDraft(ctx, projectID, content)
	if err != nil {
		return domain.Draft{}, o.storeFailure(epoch, "failed to save draft", err)
	}
	_ = o.store.TouchProject(ctx, projectID)

	o.writeStateIfCurrent(epoch, domain.SessionStateComplete, "")
	return draft, nil
}

// DraftConfig reads the project's saved draft settings (or the defaults).
func (o *ConversationOrchestrator) DraftConfig(ctx context.Context) (domain.DraftConfig, error) {
	o.mu.Lock()
	projectID := o.projectID
	o.mu.Unlock()
	cfg, err := o.store.DraftConfig(ctx, projectID)
	if err != nil {
		return domain.DraftConfig{}, newError(domain.ErrorCodeStorage, "failed to read draft settings", err)
	}
	return cfg, nil
}

// State returns the orchestrator state and, in Error, its message.
func (o *ConversationOrchestrator) State() (domain.SessionState, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state, o.errMsg
}

// Close abandons the activation. In-flight work that completes afterwards is
// discarded by the epoch guard. The capture session is stopped but not
// released; its lifetime belongs to the owner that built it.
func (o *ConversationOrchestrator) Close() {
	o.mu.Lock()
	o.epoch = uuid.New()
	recording := o.state == domain.SessionStateRecording
	o.state = domain.SessionStateInitializing
	o.errMsg = ""
	o.mu.Unlock()

	if recording {
		_ = o.capture.Stop()
	}
}

func (o *ConversationOrchestrator) currentEpoch(epoch uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.epoch == epoch
}

// writeStateIfCurrent transitions only if the activation is still current and
// reports whether the write happened.
func (o *ConversationOrchestrator) writeStateIfCurrent(epoch uuid.UUID, state domain.SessionState, msg string) bool {
	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		return false
	}
	o.setStateLocked(state, msg)
	o.mu.Unlock()
	return true
}

func (o *ConversationOrchestrator) failIfCurrent(epoch uuid.UUID, code domain.ErrorCode, msg string) {
	if o.writeStateIfCurrent(epoch, domain.SessionStateError, msg) {
		o.sink.Error(code, msg)
	}
}

func (o *ConversationOrchestrator) storeFailure(epoch uuid.UUID, reason string, err error) error {
	o.failIfCurrent(epoch, domain.ErrorCodeStorage, reason)
	return newError(domain.ErrorCodeStorage, reason, err)
}

func (o *ConversationOrchestrator) setStateLocked(state domain.SessionState, msg string) {
	o.state = state
	o.errMsg = msg
	o.sink.SessionStateChanged(state, msg)
}

// cumulativeTranscript joins every finalized response in sequence order.
// Each new turn's question context is the whole conversation so far.
func cumulativeTranscript(turns []domain.ConversationTurn) string {
	var parts []string
	for _, turn := range turns {
		if turn.Answered() {
			parts = append(parts, turn.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// conversationExchanges pairs each finalized response with the question the
// student chose to answer, preserving sequence order. Trailing unanswered
// turns are dropped.
func conversationExchanges(turns []domain.ConversationTurn) []genai.Exchange {
	var exchanges []genai.Exchange
	for _, turn := range turns {
		if !turn.Answered() {
			continue
		}
		exchanges = append(exchanges, genai.Exchange{
			Response: turn.Text,
			Question: turn.SelectedQuestion(),
		})
	}
	return exchanges
}
