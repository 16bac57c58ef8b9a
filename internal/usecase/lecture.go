package usecase

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"voicedraft/internal/domain"
	"voicedraft/internal/ports"
)

const titleWordCount = 5

// LectureGenerator is the slice of the generation client used by lecture
// recording.
type LectureGenerator interface {
	LectureOutputs(ctx context.Context, transcription string) (domain.LectureOutputs, error)
	Flashcards(ctx context.Context, transcription string) (string, error)
}

// LectureStore is the persistence surface of lecture recording. Implemented
// by store.Store.
type LectureStore interface {
	InsertLecture(ctx context.Context, lecture domain.Lecture) (domain.Lecture, error)
	Lecture(ctx context.Context, id int64) (domain.Lecture, error)
	SoftDeleteLecture(ctx context.Context, id int64) error
	DeleteLecture(ctx context.Context, id int64) error
	UpsertOutput(ctx context.Context, output domain.LectureOutput) (domain.LectureOutput, error)
	Project(ctx context.Context, id int64) (domain.Project, error)
	SetProjectLectureLinks(ctx context.Context, id int64, linked string) error
}

// LectureOrchestrator runs the lecture recording state machine: capture one
// long monologue, persist it, then generate and store the overview, notes
// and summary.
type LectureOrchestrator struct {
	capture CaptureSession
	gen     LectureGenerator
	store   LectureStore
	sink    ports.EventSink
	timeout time.Duration

	mu        sync.Mutex
	state     domain.LectureState
	errMsg    string
	epoch     uuid.UUID
	projectID *int64
	tickStop  chan struct{}

	elapsed atomic.Int64
}

// LectureOption adjusts orchestrator construction.
type LectureOption func(*LectureOrchestrator)

// WithLectureTimeout bounds the combined generation call.
func WithLectureTimeout(d time.Duration) LectureOption {
	return func(o *LectureOrchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLinkedProject links recorded lectures to a parent project.
func WithLinkedProject(projectID int64) LectureOption {
	return func(o *LectureOrchestrator) {
		o.projectID = &projectID
	}
}

func NewLectureOrchestrator(
	capture CaptureSession,
	gen LectureGenerator,
	store LectureStore,
	sink ports.EventSink,
	opts ...LectureOption,
) *LectureOrchestrator {
	if sink == nil {
		sink = ports.NopSink{}
	}
	o := &LectureOrchestrator{
		capture: capture,
		gen:     gen,
		store:   store,
		sink:    sink,
		timeout: defaultGenerationTimeout,
		state:   domain.LectureStateIdle,
		epoch:   uuid.New(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// InitializeRecording prepares the speech engine. Ready is reported only
// once the engine itself is.
func (o *LectureOrchestrator) InitializeRecording(ctx context.Context) error {
	o.mu.Lock()
	o.epoch = uuid.New()
	epoch := o.epoch
	o.setStateLocked(domain.LectureStateInitializing, "")
	o.mu.Unlock()

	if err := o.capture.Initialize(ctx); err != nil {
		msg := fmt.Sprintf("speech engine unavailable: %v", err)
		if o.writeStateIfCurrent(epoch, domain.LectureStateError, msg) {
			o.sink.Error(domain.ErrorCodeModelInit, msg)
		}
		return newError(domain.ErrorCodeModelInit, "speech engine unavailable", err)
	}

	o.writeStateIfCurrent(epoch, domain.LectureStateReady, "")
	return nil
}

// StartRecording begins capture and the 1-second duration counter.
func (o *LectureOrchestrator) StartRecording(ctx context.Context) error {
	o.mu.Lock()
	if o.state != domain.LectureStateReady {
		state := o.state
		o.mu.Unlock()
		return newError(domain.ErrorCodeValidation, fmt.Sprintf("cannot record while %s", state), nil)
	}
	epoch := o.epoch
	o.mu.Unlock()

	o.capture.Clear()
	if err := o.capture.Start(ctx); err != nil {
		return newError(domain.ErrorCodeEngine, "failed to start recording", err)
	}

	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		_ = o.capture.Stop()
		return newError(domain.ErrorCodeValidation, "recording is no longer current", nil)
	}
	o.elapsed.Store(0)
	o.tickStop = make(chan struct{})
	go o.countDuration(o.tickStop)
	o.setStateLocked(domain.LectureStateRecording, "")
	o.mu.Unlock()
	return nil
}

// PauseRecording and ResumeRecording are thin wrappers over the capture
// session; the duration counter keeps running while paused, matching wall
// clock time spent in the recording screen.
func (o *LectureOrchestrator) PauseRecording() error {
	if err := o.capture.Pause(); err != nil {
		return newError(domain.ErrorCodeEngine, "failed to pause recording", err)
	}
	return nil
}

func (o *LectureOrchestrator) ResumeRecording(ctx context.Context) error {
	if err := o.capture.Resume(ctx); err != nil {
		return newError(domain.ErrorCodeEngine, "failed to resume recording", err)
	}
	return nil
}

// StopRecording ends capture, persists the lecture and generates its
// outputs. Valid only while Recording; calling from any other state is
// rejected with no state change.
//
// The lecture row is immutable once written: if the combined generation call
// fails afterwards, the orchestrator moves to Error but the lecture persists
// with zero outputs, recoverable later through RegenerateOutputs.
func (o *LectureOrchestrator) StopRecording(ctx context.Context) (domain.Lecture, error) {
	o.mu.Lock()
	if o.state != domain.LectureStateRecording {
		state := o.state
		o.mu.Unlock()
		return domain.Lecture{}, newError(domain.ErrorCodeValidation, fmt.Sprintf("cannot stop while %s", state), nil)
	}
	epoch := o.epoch
	projectID := o.projectID
	o.stopTickerLocked()
	o.setStateLocked(domain.LectureStateProcessing, "")
	o.mu.Unlock()

	if err := o.capture.Stop(); err != nil {
		o.failIfCurrent(epoch, domain.ErrorCodeEngine, fmt.Sprintf("failed to stop recording: %v", err))
		return domain.Lecture{}, newError(domain.ErrorCodeEngine, "failed to stop recording", err)
	}

	transcription := strings.TrimSpace(o.capture.Transcript())
	o.capture.Clear()
	if transcription == "" {
		msg := "nothing was transcribed"
		o.failIfCurrent(epoch, domain.ErrorCodeValidation, msg)
		return domain.Lecture{}, newError(domain.ErrorCodeValidation, msg, nil)
	}

	words := strings.Fields(transcription)
	lecture := domain.Lecture{
		Title:           lectureTitle(words),
		Transcription:   transcription,
		DurationSeconds: int(o.elapsed.Load()),
		WordCount:       len(words),
		ProjectID:       projectID,
	}

	saved, err := o.store.InsertLecture(ctx, lecture)
	if err != nil {
		o.failIfCurrent(epoch, domain.ErrorCodeStorage, "failed to save lecture")
		return domain.Lecture{}, newError(domain.ErrorCodeStorage, "failed to save lecture", err)
	}
	if projectID != nil {
		o.linkToProject(ctx, *projectID, saved.ID)
	}

	if err := o.generateOutputs(ctx, epoch, saved); err != nil {
		return saved, err
	}
	return saved, nil
}

// RegenerateOutputs re-runs output generation for an existing lecture, the
// manual recovery path after a failed or interrupted generation.
func (o *LectureOrchestrator) RegenerateOutputs(ctx context.Context, lectureID int64) error {
	o.mu.Lock()
	switch o.state {
	case domain.LectureStateRecording, domain.LectureStateProcessing, domain.LectureStateGeneratingOutputs:
		state := o.state
		o.mu.Unlock()
		return newError(domain.ErrorCodeValidation, fmt.Sprintf("cannot regenerate while %s", state), nil)
	}
	epoch := o.epoch
	o.mu.Unlock()

	lecture, err := o.store.Lecture(ctx, lectureID)
	if err != nil {
		return newError(domain.ErrorCodeNotFound, fmt.Sprintf("lecture %d not found", lectureID), err)
	}
	return o.generateOutputs(ctx, epoch, lecture)
}

// generateOutputs performs the single combined generation call and persists
// the three artifacts as independent writes. One failing write is reported
// through the sink but does not abort its siblings; a partial output set is
// valid and readable.
func (o *LectureOrchestrator) generateOutputs(ctx context.Context, epoch uuid.UUID, lecture domain.Lecture) error {
	if !o.writeStateIfCurrent(epoch, domain.LectureStateGeneratingOutputs, "") {
		return newError(domain.ErrorCodeValidation, "recording is no longer current", nil)
	}
	o.sink.GenerationProgress("Generating lecture outputs...")

	genCtx, cancel := context.WithTimeout(ctx, o.timeout)
	outputs, err := o.gen.LectureOutputs(genCtx, lecture.Transcription)
	cancel()
	if err != nil {
		wrapped := wrapGeneration("failed to generate lecture outputs", err)
		o.failIfCurrent(epoch, wrapped.Code, wrapped.Reason)
		return wrapped
	}

	if !o.currentEpoch(epoch) {
		return newError(domain.ErrorCodeValidation, "recording is no longer current", nil)
	}

	var firstWriteErr error
	for _, artifact := range []struct {
		outputType domain.OutputType
		content    string
		progress   string
	}{
		{domain.OutputOverview, outputs.Overview, "Saving overview..."},
		{domain.OutputNotes, outputs.Notes, "Saving notes..."},
		{domain.OutputSummary, outputs.Summary, "Saving summary..."},
	} {
		o.sink.GenerationProgress(artifact.progress)
		_, err := o.store.UpsertOutput(ctx, domain.LectureOutput{
			LectureID: lecture.ID,
			Type:      artifact.outputType,
			Content:   artifact.content,
		})
		if err != nil {
			o.sink.Error(domain.ErrorCodeStorage, fmt.Sprintf("failed to save %s", artifact.outputType))
			if firstWriteErr == nil {
				firstWriteErr = err
			}
		}
	}

	if firstWriteErr != nil {
		o.failIfCurrent(epoch, domain.ErrorCodeStorage, "failed to save lecture outputs")
		return newError(domain.ErrorCodeStorage, "failed to save lecture outputs", firstWriteErr)
	}

	o.writeStateIfCurrent(epoch, domain.LectureStateComplete, "")
	return nil
}

// Flashcards generates Q:/A: study cards from a recorded lecture's
// transcription. Cards are returned to the caller, not persisted; the stored
// output set stays overview/notes/summary. Read-only: no state transition.
func (o *LectureOrchestrator) Flashcards(ctx context.Context, lectureID int64) (string, error) {
	lecture, err := o.store.Lecture(ctx, lectureID)
	if err != nil {
		return "", newError(domain.ErrorCodeNotFound, fmt.Sprintf("lecture %d not found", lectureID), err)
	}

	o.sink.GenerationProgress("Generating flashcards...")
	genCtx, cancel := context.WithTimeout(ctx, o.timeout)
	cards, err := o.gen.Flashcards(genCtx, lecture.Transcription)
	cancel()
	if err != nil {
		return "", wrapGeneration("failed to generate flashcards", err)
	}
	return cards, nil
}

// DeleteLecture permanently removes a lecture, its outputs, and its link in
// the parent project's serialized lecture list.
func (o *LectureOrchestrator) DeleteLecture(ctx context.Context, lectureID int64) error {
	if err := o.store.DeleteLecture(ctx, lectureID); err != nil {
		return newError(domain.ErrorCodeStorage, "failed to delete lecture", err)
	}
	return nil
}

// Duration returns elapsed recording time in seconds.
func (o *LectureOrchestrator) Duration() int {
	return int(o.elapsed.Load())
}

// State returns the orchestrator state and, in Error, its message.
func (o *LectureOrchestrator) State() (domain.LectureState, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state, o.errMsg
}

// Close abandons the activation; late completions are discarded by the epoch
// guard.
func (o *LectureOrchestrator) Close() {
	o.mu.Lock()
	o.epoch = uuid.New()
	recording := o.state == domain.LectureStateRecording
	o.stopTickerLocked()
	o.state = domain.LectureStateIdle
	o.errMsg = ""
	o.mu.Unlock()

	if recording {
		_ = o.capture.Stop()
	}
}

func (o *LectureOrchestrator) countDuration(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.elapsed.Add(1)
		case <-stop:
			return
		}
	}
}

func (o *LectureOrchestrator) stopTickerLocked() {
	if o.tickStop != nil {
		close(o.tickStop)
		o.tickStop = nil
	}
}

func (o *LectureOrchestrator) currentEpoch(epoch uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.epoch == epoch
}

func (o *LectureOrchestrator) writeStateIfCurrent(epoch uuid.UUID, state domain.LectureState, msg string) bool {
	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		return false
	}
	o.setStateLocked(state, msg)
	o.mu.Unlock()
	return true
}

func (o *LectureOrchestrator) failIfCurrent(epoch uuid.UUID, code domain.ErrorCode, msg string) {
	if o.writeStateIfCurrent(epoch, domain.LectureStateError, msg) {
		o.sink.Error(code, msg)
	}
}

func (o *LectureOrchestrator) setStateLocked(state domain.LectureState, msg string) {
	o.state = state
	o.errMsg = msg
	o.sink.LectureStateChanged(state, msg)
}

// linkToProject appends the lecture id to the project's serialized link
// list. Failures here are reported but never fail the recording; the lecture
// row itself is already safe.
func (o *LectureOrchestrator) linkToProject(ctx context.Context, projectID, lectureID int64) {
	project, err := o.store.Project(ctx, projectID)
	if err != nil {
		o.sink.Error(domain.ErrorCodeStorage, fmt.Sprintf("failed to link lecture to project %d", projectID))
		return
	}
	linked := appendLinkedID(project.LinkedLectureIDs, lectureID)
	if err := o.store.SetProjectLectureLinks(ctx, projectID, linked); err != nil {
		o.sink.Error(domain.ErrorCodeStorage, fmt.Sprintf("failed to link lecture to project %d", projectID))
	}
}

// lectureTitle derives a display title from the first words of the
// transcription.
func lectureTitle(words []string) string {
	n := titleWordCount
	if len(words) < n {
		n = len(words)
	}
	return strings.Join(words[:n], " ") + "..."
}

// appendLinkedID adds an id to a comma-separated id list unless present.
func appendLinkedID(linked string, id int64) string {
	target := strconv.FormatInt(id, 10)
	var kept []string
	for _, part := range strings.Split(linked, ",") {
		part = strings.TrimSpace(part)
		if part == target {
			return linked
		}
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(append(kept, target), ",")
}
