package genai

import (
	"fmt"
	"strings"

	"voicedraft/internal/domain"
)

// Prompt wording is configuration, not design: each builder returns the
// message pair for one operation and can be swapped without touching the
// client's contracts.

func followUpMessages(transcript string) []domain.ChatMessage {
	system := strings.Join([]string{
		"You are an academic thinking partner helping a student refine spoken ideas.",
		"Produce exactly three thoughtful questions, numbered 1 through 3.",
		"Focus on deepening the ideas the student has already established.",
		"One question may gently steer toward a closely related facet if it supports coverage.",
		"Keep every question concise, precise, and strictly on topic.",
	}, "\n")

	user := strings.Join([]string{
		"Based on the transcript below, provide exactly three numbered follow-up questions that help refine or explore adjacent ideas within the student's established framework.",
		"",
		"Transcript:",
		transcript,
		"",
		"Guidelines:",
		"- Stay anchored to the student's wording and intent.",
		"- Keep questions academically grounded, actionable, and concise.",
		"- Do not introduce new topics or examples absent from the transcript.",
	}, "\n")

	return []domain.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

func draftMessages(exchanges []Exchange, cfg domain.DraftConfig) []domain.ChatMessage {
	system := strings.Join([]string{
		"You are an academic writing assistant who polishes student speech into well-structured drafts without introducing new ideas.",
		"Follow every rule exactly:",
		"- Preserve all original meaning, data, and examples from the student.",
		"- Only improve grammar, clarity, transitions, and paragraph structure.",
		fmt.Sprintf("- Maintain a %s.", cfg.Tone.PromptDescription()),
		fmt.Sprintf("- Apply %s.", cfg.Refinement.PromptDescription()),
		fmt.Sprintf("- Target approximately %d words; stay within 10%% of this goal while prioritizing complete thoughts.", cfg.WordGoal),
		"- Never end mid-sentence, mid-paragraph, or mid-list item.",
		"- Obey any required sections such as summaries or key takeaways precisely as instructed.",
		"- Do not invent new content.",
	}, "\n")

	var sections []string
	if cfg.IncludeSummary {
		sections = append(sections, "- Begin with a single, well-formed summary paragraph (2-3 sentences) that clearly states the student's core idea.")
	}
	sections = append(sections, "- Arrange the main body into complete paragraphs that cover every idea from the student, ending with a concluding paragraph that ties the discussion together.")
	if cfg.IncludeHighlights {
		sections = append(sections, `- Finish with a section titled "Key Takeaways:" followed by exactly three bullet points (use "- " as the bullet) written as full sentences.`)
	}

	user := strings.Join([]string{
		"Use the conversation below to create the final draft:",
		formatExchanges(exchanges),
		"",
		"Instructions:",
		"- Organize ideas into coherent paragraphs with smooth transitions and a definitive conclusion.",
		"- Rephrase for clarity but do not add new ideas or external knowledge.",
		"- Use the AI questions purely as context to understand what the student was responding to; the draft must reflect only the student's contributions.",
		"- Keep the student's voice while polishing tone and fluency.",
		fmt.Sprintf("- Stay within ±10%% of %d words; expand or compress wording as needed to finish every section cleanly.", cfg.WordGoal),
		strings.Join(sections, "\n"),
		"- Before returning the answer, double-check that the draft satisfies every requested section and ends cleanly.",
		"Return the polished draft as plain text without front matter or metadata.",
	}, "\n")

	return []domain.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

func lectureOutputMessages(transcription string) []domain.ChatMessage {
	system := strings.Join([]string{
		"You are an expert educational assistant that helps students understand their lectures.",
		"You will receive a lecture transcription and must generate three different outputs:",
		"1. Overview (10-11 lines)",
		"2. Notes (structured markdown)",
		"3. Summary (comprehensive understanding)",
		"",
		"Critical Rules for ALL outputs:",
		"- Base ALL content ONLY on the lecture transcription provided",
		"- Do NOT add new ideas, interpretations, or external knowledge",
		"- Do NOT invent examples or concepts not mentioned in the lecture",
		"- For long lectures, cover ALL major topics and sections",
		"- Prioritize completeness over verbosity",
		"",
		"IMPORTANT: You MUST return the outputs in this EXACT format:",
		"",
		"[OVERVIEW]",
		"(10-11 line overview here)",
		"[/OVERVIEW]",
		"",
		"[NOTES]",
		"(structured notes in markdown here, covering the ENTIRE lecture)",
		"[/NOTES]",
		"",
		"[SUMMARY]",
		"(comprehensive summary here, covering key points from the ENTIRE lecture)",
		"[/SUMMARY]",
		"",
		"Do not include any other text outside these sections.",
	}, "\n")

	user := strings.Join([]string{
		"Based on the lecture transcription below, generate three outputs following the EXACT format specified:",
		"",
		"1. OVERVIEW (10-11 lines): A brief description of what the lecture covered. Simply state what topics were discussed without explaining concepts in detail.",
		"",
		"2. NOTES (structured markdown): Break the lecture into clear sections with bullet points and subheadings, key definitions and examples from the lecture, and brief reflective cues. Cover the ENTIRE lecture, not just the beginning.",
		"",
		"3. SUMMARY (comprehensive): Highlight main concepts, key arguments, and supporting evidence in simple, clear language. End with a brief \"What this means\" reflection. Include key points from the ENTIRE lecture.",
		"",
		"Lecture Transcription:",
		transcription,
		"",
		"Remember to use the EXACT format with [OVERVIEW], [NOTES], and [SUMMARY] tags.",
	}, "\n")

	return []domain.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

func flashcardMessages(transcription string) []domain.ChatMessage {
	system := strings.Join([]string{
		"You are a thoughtful learning assistant converting lecture content into comprehension-based flashcards.",
		"Format each flashcard as:",
		"Q: [Question]",
		"A: [Answer]",
		"",
		"Critical Rules:",
		"- Contain only information directly stated in the lecture",
		"- Focus on core ideas, key terms, and cause-effect relationships",
		"- Questions help the student recall or explain a concept; answers stay concise and use the lecture's phrasing",
		"- Do NOT add trivia-style questions or external knowledge",
		"- Create 10-15 flashcards covering the important concepts",
	}, "\n")

	user := strings.Join([]string{
		"Convert this lecture transcript into flashcards in the Q:/A: format specified.",
		"The aim is to help the student actively recall and connect what they've already learned, not to introduce anything new.",
		"",
		"Lecture Transcription:",
		transcription,
	}, "\n")

	return []domain.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}
