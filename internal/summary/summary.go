// Package summary builds the rolling per-session markdown summary
// replayed as a recovery preamble on subsequent turns.
package summary

import (
	"strings"
)

// MaxLength is the cap applied to a full rendered summary document.
const MaxLength = 4000

// maxLineLength is the cap applied to the single-line goal/decision
// sections before they are folded into the document.
const maxLineLength = 300

// Input collects the facts a completed turn contributes to the summary.
type Input struct {
	PreviousSummary string
	UserText        string
	AssistantText   string
	CommandNotes    []string
	ErrorText       string
}

// Build renders a new rolling summary document from in, trimmed to
// MaxLength.
func Build(in Input) string {
	goal := pickLine(in.UserText, "- Process the current user request")
	decision := pickLine(in.AssistantText, "- Assistant response generated")
	constraints := "- Keep Telegram to CLI bridge context stable"

	openIssues := "- none"
	if in.ErrorText != "" {
		openIssues = "- " + in.ErrorText
	}

	artifacts := "- no command execution notes"
	if len(in.CommandNotes) > 0 {
		notes := in.CommandNotes
		if len(notes) > 10 {
			notes = notes[:10]
		}
		lines := make([]string, len(notes))
		for i, n := range notes {
			lines[i] = "- " + n
		}
		artifacts = strings.Join(lines, "\n")
	}

	var b strings.Builder
	if prev := strings.TrimSpace(in.PreviousSummary); prev != "" {
		b.WriteString("## Previous Summary\n")
		b.WriteString(prev)
		b.WriteString("\n\n")
	}
	b.WriteString("## Goal\n")
	b.WriteString(goal)
	b.WriteString("\n\n## Decisions\n")
	b.WriteString(decision)
	b.WriteString("\n\n## Constraints\n")
	b.WriteString(constraints)
	b.WriteString("\n\n## Open Issues\n")
	b.WriteString(openIssues)
	b.WriteString("\n\n## Key Artifacts\n")
	b.WriteString(artifacts)
	b.WriteString("\n")

	return trim(b.String())
}

// BuildRecoveryPreamble wraps a trimmed summary as the text prepended to
// a turn's prompt after a provider switch or thread loss. Returns "" if
// summaryMD is empty.
func BuildRecoveryPreamble(summaryMD string) string {
	if strings.TrimSpace(summaryMD) == "" {
		return ""
	}
	return "[Session Memory Summary]\n" +
		"Continue work while preserving prior context using this summary.\n\n" +
		trim(summaryMD)
}

func pickLine(text, fallback string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return fallback
	}
	single := strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if len(single) <= maxLineLength {
		return "- " + single
	}
	return "- " + single[:maxLineLength-3] + "..."
}

func trim(text string) string {
	if len(text) <= MaxLength {
		return text
	}
	return text[:MaxLength-16] + "\n\n[truncated]"
}
