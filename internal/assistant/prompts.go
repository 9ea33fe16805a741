package assistant

import (
	"fmt"
	"strings"

	"github.com/MrWong99/speakwell/internal/analysis"
	"github.com/MrWong99/speakwell/internal/feedback"
	"github.com/MrWong99/speakwell/internal/grammar"
)

const reviewSystemPrompt = `You are an English grammar teacher reviewing a sentence a learner said out loud.
The text is a speech-to-text transcript: ignore missing punctuation and capitalisation.

Rules:
- Report only real grammar, word-choice, or spelling mistakes.
- "original" must be copied exactly from the sentence; "corrected" is its replacement.
- Keep each explanation to one short sentence suitable for level %s.
- If the sentence is correct, return an empty errors array and the sentence unchanged.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "errors": [
    {
      "type": "<snake_case error type, e.g. subject_verb_agreement, article, spelling>",
      "original": "<incorrect part>",
      "corrected": "<corrected part>",
      "explanation": "<brief explanation>",
      "severity": "low|medium|high"
    }
  ],
  "correctedSentence": "<full corrected sentence>"
}`

const feedbackSystemPrompt = `You are a supportive English teacher giving spoken feedback to a student at level %s.
Write 2-3 encouraging sentences that:
1. Acknowledge what they did well
2. Point out 1-2 main areas to improve
3. Motivate them to continue practising
Answer with the feedback text only.`

const exercisesSystemPrompt = `You are an English teacher creating speaking exercises for level %s.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "exercises": [
    {
      "id": "<short unique id>",
      "type": "pronunciation|fluency|grammar|vocabulary",
      "title": "<exercise title>",
      "prompt": "<what the student should say or talk about>",
      "duration": <seconds>,
      "difficulty": <1-5>,
      "focusAreas": ["<area>"]
    }
  ]
}`

func reviewPrompt(level feedback.Level) string {
	return fmt.Sprintf(reviewSystemPrompt, level)
}

func reviewMessage(transcript string) string {
	return fmt.Sprintf("Sentence: %q", transcript)
}

func feedbackPrompt(level feedback.Level) string {
	return fmt.Sprintf(feedbackSystemPrompt, level)
}

func feedbackMessage(req analysis.FeedbackRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Student said: %q\n", req.Transcript)
	fmt.Fprintf(&sb, "Grammar score: %d%%\n", req.Grammar)
	fmt.Fprintf(&sb, "Pronunciation score: %d%%\n", req.Pronunciation)
	fmt.Fprintf(&sb, "Fluency score: %d%%\n", req.Fluency)
	fmt.Fprintf(&sb, "Errors found: %d\n", len(req.Errors))
	for _, t := range grammar.DistinctTypes(req.Errors) {
		fmt.Fprintf(&sb, "- %s\n", t.Label())
	}
	return sb.String()
}

func exercisesPrompt(level feedback.Level) string {
	return fmt.Sprintf(exercisesSystemPrompt, level)
}

func exercisesMessage(focusAreas []string, count int) string {
	focus := "general speaking"
	if len(focusAreas) > 0 {
		focus = strings.Join(focusAreas, ", ")
	}
	return fmt.Sprintf("Focus areas: %s\nCreate %d speaking exercises.", focus, count)
}
