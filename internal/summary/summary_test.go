package summary

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuild_ContainsRequiredSections(t *testing.T) {
	got := Build(Input{
		PreviousSummary: "old",
		UserText:        "Build Telegram bridge",
		AssistantText:   "Implemented worker and streaming",
		CommandNotes:    []string{"pytest", "codex exec --json"},
	})

	assert.Contains(t, got, "## Goal")
	assert.Contains(t, got, "## Decisions")
	assert.Contains(t, got, "## Constraints")
	assert.Contains(t, got, "## Open Issues")
	assert.Contains(t, got, "## Key Artifacts")
}

func TestBuild_TrimsToMaxLength(t *testing.T) {
	huge := strings.Repeat("x", 10000)

	got := Build(Input{PreviousSummary: huge, UserText: "u", AssistantText: "a"})

	assert.LessOrEqual(t, len(got), MaxLength)
	assert.Contains(t, got, "[truncated]")
}

func TestBuild_Idempotent(t *testing.T) {
	in := Input{PreviousSummary: "p", UserText: "u", AssistantText: "a"}
	assert.Equal(t, Build(in), Build(in))
}

func TestBuildRecoveryPreamble(t *testing.T) {
	assert.Equal(t, "", BuildRecoveryPreamble(""))
	assert.Equal(t, "", BuildRecoveryPreamble("   "))
	assert.Contains(t, BuildRecoveryPreamble("abc"), "Session Memory Summary")
}

func TestBuild_ErrorTextBecomesOpenIssue(t *testing.T) {
	got := Build(Input{UserText: "u", AssistantText: "a", ErrorText: "boom"})
	assert.Contains(t, got, "## Open Issues\n- boom")
}
