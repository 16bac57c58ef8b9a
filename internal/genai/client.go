// Package genai turns transcripts into study artifacts through a
// chat-completion backend: follow-up questions, polished drafts, and lecture
// output bundles. Every operation is stateless; retry policy belongs to the
// orchestrators.
package genai

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"voicedraft/internal/domain"
	"voicedraft/internal/ports"
)

const (
	// FallbackQuestion pads malformed follow-up responses up to three entries.
	FallbackQuestion = "Can you elaborate more on this idea?"

	questionCount = 3

	draftTokensPerWord = 2.2
	draftTokensMin     = 600
	draftTokensMax     = 3500

	outputsTokensMin = 3000
	outputsTokensMax = 16000
	overviewTokens   = 400
)

// Exchange is one (student response, chosen question) pair in sequence order.
type Exchange struct {
	Response string
	Question string
}

// Client issues generation calls against a chat-completion backend.
type Client struct {
	completer ports.ChatCompleter
	model     string
}

func NewClient(completer ports.ChatCompleter, model string) *Client {
	if model == "" {
		model = "google/gemini-2.5-flash-lite"
	}
	return &Client{completer: completer, model: model}
}

// FollowUpQuestions asks for exactly three follow-up questions about the
// transcript. Malformed backend output is never an error: the parser strips
// list markers, keeps question-marked lines, and pads with a generic prompt
// until exactly three questions remain. Only transport and API failures
// propagate.
func (c *Client) FollowUpQuestions(ctx context.Context, transcript string) ([]string, error) {
	content, err := c.complete(ctx, ports.ChatRequest{
		Model:       c.model,
		Messages:    followUpMessages(transcript),
		Temperature: 0.6,
		MaxTokens:   300,
		TopP:        0.9,
	})
	if err != nil {
		return nil, err
	}
	return parseThreeQuestions(content), nil
}

// Draft compiles the conversation exchanges into a polished document.
// Acceptance is syntactic only: the backend is instructed to hit the word
// goal, this client just rejects empty responses.
func (c *Client) Draft(ctx context.Context, exchanges []Exchange, cfg domain.DraftConfig) (string, error) {
	if cfg.WordGoal <= 0 {
		return "", newError(domain.ErrorCodeValidation, "word goal must be positive", nil)
	}
	if len(exchanges) == 0 {
		return "", newError(domain.ErrorCodeValidation, "no conversation exchanges", nil)
	}

	content, err := c.complete(ctx, ports.ChatRequest{
		Model:       c.model,
		Messages:    draftMessages(exchanges, cfg),
		Temperature: 0.2,
		MaxTokens:   draftTokenBudget(cfg.WordGoal),
		TopP:        0.9,
	})
	if err != nil {
		return "", err
	}
	if content == "" {
		return "", newError(domain.ErrorCodeAPI, "empty draft", nil)
	}
	return content, nil
}

// LectureOutputs generates the overview, notes and summary for one lecture in
// a single combined call. The backend must delimit each section with matching
// tags; if any of the three is missing, the whole call fails. This
// all-or-nothing contract is deliberate and distinct from the persistence
// layer's per-type independence.
func (c *Client) LectureOutputs(ctx context.Context, transcription string) (domain.LectureOutputs, error) {
	content, err := c.complete(ctx, ports.ChatRequest{
		Model:       c.model,
		Messages:    lectureOutputMessages(transcription),
		Temperature: 0.2,
		MaxTokens:   outputsTokenBudget(len(transcription)),
		TopP:        0.9,
	})
	if err != nil {
		return domain.LectureOutputs{}, err
	}

	outputs, ok := parseTaggedOutputs(content)
	if !ok {
		return domain.LectureOutputs{}, newError(domain.ErrorCodeParse,
			"combined outputs response is missing one or more section tags", nil)
	}
	return outputs, nil
}

// Flashcards converts a lecture transcription into Q:/A: formatted cards.
func (c *Client) Flashcards(ctx context.Context, transcription string) (string, error) {
	content, err := c.complete(ctx, ports.ChatRequest{
		Model:       c.model,
		Messages:    flashcardMessages(transcription),
		Temperature: 0.3,
		MaxTokens:   2000,
		TopP:        0.9,
	})
	if err != nil {
		return "", err
	}
	if content == "" {
		return "", newError(domain.ErrorCodeAPI, "no flashcards generated", nil)
	}
	return content, nil
}

// complete performs one backend call and maps envelope-level failures onto
// the typed taxonomy.
func (c *Client) complete(ctx context.Context, req ports.ChatRequest) (string, error) {
	resp, err := c.completer.Complete(ctx, req)
	if err != nil {
		return "", newError(domain.ErrorCodeTransport, "chat completion failed", err)
	}
	if resp.Error != nil {
		return "", newError(domain.ErrorCodeAPI, resp.Error.Message, nil)
	}
	if len(resp.Choices) == 0 {
		return "", newError(domain.ErrorCodeAPI, "no content in response", nil)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// draftTokenBudget scales the completion budget with the word goal.
func draftTokenBudget(wordGoal int) int {
	return clamp(int(float64(wordGoal)*draftTokensPerWord), draftTokensMin, draftTokensMax)
}

// outputsTokenBudget derives the combined-call budget from input length,
// roughly one token per four characters, with the output sized at half the
// input and split notes-60% / summary-30% / buffer-10% on top of a fixed
// overview allocation.
func outputsTokenBudget(transcriptionLen int) int {
	inputTokens := transcriptionLen / 4
	base := inputTokens / 2
	total := overviewTokens + base*6/10 + base*3/10 + base/10
	return clamp(total, outputsTokensMin, outputsTokensMax)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var (
	numberingRe = regexp.MustCompile(`^\d+[.):]\s*`)
	bulletRe    = regexp.MustCompile(`^[-*•]\s*`)

	overviewTagRe = regexp.MustCompile(`(?s)\[OVERVIEW\](.*?)\[/OVERVIEW\]`)
	notesTagRe    = regexp.MustCompile(`(?s)\[NOTES\](.*?)\[/NOTES\]`)
	summaryTagRe  = regexp.MustCompile(`(?s)\[SUMMARY\](.*?)\[/SUMMARY\]`)
)

// parseThreeQuestions extracts exactly three questions from free-form text.
func parseThreeQuestions(response string) []string {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(response), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}

	var questions []string
	for _, line := range lines {
		cleaned := strings.TrimSpace(bulletRe.ReplaceAllString(numberingRe.ReplaceAllString(line, ""), ""))
		if cleaned != "" && strings.Contains(cleaned, "?") {
			questions = append(questions, cleaned)
		}
	}

	// Wrong count after cleaning: retake the first three question-marked
	// lines in order, stripping numbering only.
	if len(questions) != questionCount {
		questions = questions[:0]
		for _, line := range lines {
			if strings.Contains(line, "?") {
				questions = append(questions, strings.TrimSpace(numberingRe.ReplaceAllString(line, "")))
			}
			if len(questions) == questionCount {
				break
			}
		}
	}

	for len(questions) < questionCount {
		questions = append(questions, FallbackQuestion)
	}
	return questions[:questionCount]
}

// parseTaggedOutputs extracts the three tagged sections; ok is false when any
// tag pair is missing.
func parseTaggedOutputs(content string) (domain.LectureOutputs, bool) {
	overview := overviewTagRe.FindStringSubmatch(content)
	notes := notesTagRe.FindStringSubmatch(content)
	summary := summaryTagRe.FindStringSubmatch(content)
	if overview == nil || notes == nil || summary == nil {
		return domain.LectureOutputs{}, false
	}
	return domain.LectureOutputs{
		Overview: strings.TrimSpace(overview[1]),
		Notes:    strings.TrimSpace(notes[1]),
		Summary:  strings.TrimSpace(summary[1]),
	}, true
}

// formatExchanges renders the conversation log for the draft prompt.
func formatExchanges(exchanges []Exchange) string {
	var b strings.Builder
	for i, ex := range exchanges {
		fmt.Fprintf(&b, "Exchange %d:\n", i+1)
		if strings.TrimSpace(ex.Question) != "" {
			fmt.Fprintf(&b, "AI Question: %s\n", ex.Question)
		}
		fmt.Fprintf(&b, "Student Response: %s\n\n", ex.Response)
	}
	return strings.TrimSpace(b.String())
}
