package domain

import "time"

// Project is one voice session container owning turns and drafts.
type Project struct {
	ID               int64
	Title            string
	Tags             string
	LinkedLectureIDs string // comma-separated lecture ids
	CreatedAt        time.Time
	UpdatedAt        time.Time
	IsActive         bool
}

// ConversationTurn is one exchange unit in a voice session. Sequence numbers
// are strictly increasing per project and assigned at insertion time.
//
// A turn with empty text and no selected question is pending AI questions and
// is the only turn that may be mutated in place.
type ConversationTurn struct {
	ID                    int64
	ProjectID             int64
	Text                  string
	Questions             []string // up to 3 AI follow-up questions
	SelectedQuestionIndex *int     // nil until the student picks one
	SequenceNumber        int
	CreatedAt             time.Time
}

// SelectedQuestion returns the question the student chose to answer, if any.
func (t ConversationTurn) SelectedQuestion() string {
	if t.SelectedQuestionIndex == nil {
		return ""
	}
	i := *t.SelectedQuestionIndex
	if i < 0 || i >= len(t.Questions) {
		return ""
	}
	return t.Questions[i]
}

// Answered reports whether the turn carries a finalized student response.
func (t ConversationTurn) Answered() bool {
	return t.Text != ""
}

// DraftTone selects the writing voice of the generated draft.
type DraftTone string

const (
	ToneNeutral        DraftTone = "neutral"
	ToneAcademic       DraftTone = "academic"
	ToneConversational DraftTone = "conversational"
)

// PromptDescription is the phrasing handed to the generation backend.
func (t DraftTone) PromptDescription() string {
	switch t {
	case ToneNeutral:
		return "neutral, balanced tone"
	case ToneConversational:
		return "conversational, approachable tone"
	default:
		return "formal academic tone with scholarly language"
	}
}

// RefinementLevel controls how aggressively speech is restructured.
type RefinementLevel string

const (
	RefinementLight      RefinementLevel = "light"
	RefinementModerate   RefinementLevel = "moderate"
	RefinementStructured RefinementLevel = "structured"
)

func (r RefinementLevel) PromptDescription() string {
	switch r {
	case RefinementLight:
		return "minimal editing, fixing only grammar and basic flow"
	case RefinementStructured:
		return "thorough restructuring into well-organized paragraphs with strong transitions"
	default:
		return "moderate refinement improving clarity and structure"
	}
}

// DraftConfig is the per-project draft generation configuration.
type DraftConfig struct {
	WordGoal          int
	Tone              DraftTone
	Refinement        RefinementLevel
	IncludeSummary    bool
	IncludeHighlights bool
}

// DefaultDraftConfig returns the configuration used when a project has never
// saved one.
func DefaultDraftConfig() DraftConfig {
	return DraftConfig{
		WordGoal:   500,
		Tone:       ToneAcademic,
		Refinement: RefinementModerate,
	}
}

// Draft is one versioned generated document for a project. At most one draft
// per project carries IsCurrent at any observable point.
type Draft struct {
	ID        int64
	ProjectID int64
	Content   string
	Version   int
	IsCurrent bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Lecture is one recorded monologue. Created once per recording and never
// mutated except soft-delete.
type Lecture struct {
	ID              int64
	Title           string
	Transcription   string
	DurationSeconds int
	WordCount       int
	ProjectID       *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	IsActive        bool
}

// OutputType names one generated lecture artifact.
type OutputType string

const (
	OutputOverview OutputType = "overview"
	OutputNotes    OutputType = "notes"
	OutputSummary  OutputType = "summary"
)

// OutputTypes lists all artifact kinds in display order.
func OutputTypes() []OutputType {
	return []OutputType{OutputOverview, OutputNotes, OutputSummary}
}

// LectureOutput is one generated artifact for a lecture, keyed by
// (LectureID, Type). Partial output sets are valid; a missing type reads as
// "not yet available".
type LectureOutput struct {
	ID        int64
	LectureID int64
	Type      OutputType
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LectureOutputs is the bundle produced by one combined generation call.
type LectureOutputs struct {
	Overview string
	Notes    string
	Summary  string
}
