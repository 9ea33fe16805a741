package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/speakwell/internal/analysis"
	"github.com/MrWong99/speakwell/internal/coach"
	"github.com/MrWong99/speakwell/internal/config"
	"github.com/MrWong99/speakwell/internal/feedback"
	"github.com/MrWong99/speakwell/internal/grammar"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#C89A3A"))
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	correctStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#52C41A"))
	incorrectStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	mediumStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FAAD14"))
	speechStyle    = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#69B1FF"))
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	boxStyle       = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A")).
			Padding(0, 1)
)

// ── Startup summary ───────────────────────────────────────────────────────────

func renderSummary(cfg *config.Config) string {
	rows := []string{
		titleStyle.Render("speakwell " + version),
		summaryRow("LLM", providerValue(cfg.Providers.LLM)),
		summaryRow("STT", providerValue(cfg.Providers.STT)),
		summaryRow("TTS", providerValue(cfg.Providers.TTS)),
		summaryRow("Assistant", onOff(cfg.Assistant.Enabled)),
		summaryRow("Level", coachLevel(cfg.Coach.Level)),
		summaryRow("Listen addr", cfg.Server.ListenAddr),
	}
	if cfg.Server.TLS != nil {
		rows = append(rows, summaryRow("TLS", "enabled"))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func summaryRow(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-12s", label)) + " " + value
}

func providerValue(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	default:
		return e.Name
	}
}

func coachLevel(level string) string {
	if level == "" {
		return string(feedback.DefaultLevel)
	}
	return strings.ToUpper(level)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// ── Analysis ──────────────────────────────────────────────────────────────────

func renderAnalysis(a *analysis.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("You said:"), a.OriginalTranscript)
	if a.CorrectedSentence != "" && a.CorrectedSentence != a.OriginalTranscript {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Better:  "), correctStyle.Render(a.CorrectedSentence))
	}
	fmt.Fprintf(&b, "%s %s  %s %d  %s %d  %s %d\n",
		labelStyle.Render("Score:"), scoreStyle(a.Score).Render(fmt.Sprintf("%d", a.Score)),
		labelStyle.Render("grammar"), a.GrammarScore,
		labelStyle.Render("fluency"), a.FluencyScore,
		labelStyle.Render("pronunciation"), a.PronunciationScore,
	)
	if a.TargetMatch != nil {
		fmt.Fprintf(&b, "%s %d%%\n", labelStyle.Render("Target match:"), *a.TargetMatch)
	}
	for _, e := range a.Errors {
		b.WriteString(renderMistake(e.Type, e.Severity, e.Original, e.Corrected, e.Explanation))
	}
	b.WriteString(a.Feedback)
	if len(a.Recommendations) > 0 {
		b.WriteString("\n")
		for _, r := range a.Recommendations {
			fmt.Fprintf(&b, "\n  • %s", r)
		}
	}
	return boxStyle.Render(b.String())
}

func renderCorrection(c *analysis.Correction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Original: "), c.Original)
	fmt.Fprintf(&b, "%s %s", labelStyle.Render("Corrected:"), correctStyle.Render(c.Corrected))
	if len(c.Errors) == 0 {
		b.WriteString("\n" + noticeStyle.Render("No mistakes found."))
	}
	for _, e := range c.Errors {
		b.WriteString("\n")
		b.WriteString(strings.TrimSuffix(renderMistake(e.Type, e.Severity, e.Original, e.Corrected, e.Explanation), "\n"))
	}
	return boxStyle.Render(b.String())
}

func renderMistake(t grammar.ErrorType, sev grammar.Severity, original, corrected, explanation string) string {
	return fmt.Sprintf("%s %s → %s  %s\n    %s\n",
		severityStyle(sev).Render("["+t.Label()+"]"),
		incorrectStyle.Render(original),
		correctStyle.Render(corrected),
		labelStyle.Render(string(sev)),
		explanation,
	)
}

func severityStyle(s grammar.Severity) lipgloss.Style {
	switch s {
	case grammar.SeverityHigh:
		return incorrectStyle
	case grammar.SeverityMedium:
		return mediumStyle
	default:
		return labelStyle
	}
}

func scoreStyle(score int) lipgloss.Style {
	switch {
	case score >= 80:
		return correctStyle
	case score >= 60:
		return mediumStyle
	default:
		return incorrectStyle
	}
}

// ── Exercises ─────────────────────────────────────────────────────────────────

func renderExercises(list []feedback.Exercise) string {
	blocks := make([]string, 0, len(list))
	for i, ex := range list {
		blocks = append(blocks, fmt.Sprintf("%s %s\n%s\n%s",
			titleStyle.Render(fmt.Sprintf("%d. %s", i+1, ex.Title)),
			labelStyle.Render(fmt.Sprintf("(%s, %s, %d min, difficulty %d)", ex.Level, ex.Type, ex.Duration, ex.Difficulty)),
			ex.Prompt,
			labelStyle.Render("focus: "+strings.Join(ex.FocusAreas, ", ")),
		))
	}
	return boxStyle.Render(strings.Join(blocks, "\n\n"))
}

// ── Practice ──────────────────────────────────────────────────────────────────

func renderBanner(level string) string {
	return titleStyle.Render("Practice session, level "+level) + "\n" +
		noticeStyle.Render("Type a sentence and press Enter. Ctrl+D ends the session.")
}

func renderSpeech(text string) string {
	return speechStyle.Render("coach: " + text)
}

func renderNotice(text string) string {
	return noticeStyle.Render("· " + text)
}

func renderStats(s coach.SessionStats) string {
	rows := []string{
		titleStyle.Render("Session summary"),
		summaryRow("Sentences", fmt.Sprintf("%d", s.TotalSentences)),
		summaryRow("Mistakes", fmt.Sprintf("%d", s.TotalErrors)),
		summaryRow("Average", fmt.Sprintf("%d", s.AverageScore)),
		summaryRow("Best", fmt.Sprintf("%d", s.BestScore)),
	}
	if s.CorrectionsSpoken > 0 {
		rows = append(rows, summaryRow("Corrections", fmt.Sprintf("%d", s.CorrectionsSpoken)))
	}
	for _, t := range slices.Sorted(maps.Keys(s.ErrorsByType)) {
		rows = append(rows, summaryRow("  "+t.Label(), fmt.Sprintf("%d", s.ErrorsByType[t])))
	}
	if len(s.Improvements) > 0 {
		rows = append(rows, summaryRow("Improved", strings.Join(s.Improvements, ", ")))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}
