package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentrelay/relay/internal/store"
)

func TestBuildSummary_FillsAllSections(t *testing.T) {
	session := &store.Session{RollingSummary: "rolling"}
	origin := &store.Turn{UserText: "hi", AssistantText: "hello"}
	latest := &store.Turn{AssistantText: "latest answer"}

	got := BuildSummary(session, origin, latest)
	assert.Contains(t, got, "rolling")
	assert.Contains(t, got, "hi")
	assert.Contains(t, got, "hello")
	assert.Contains(t, got, "latest answer")
	assert.Contains(t, got, "핵심 요약")
}

func TestBuildSummary_EmptyFieldsBecomeNone(t *testing.T) {
	session := &store.Session{}
	origin := &store.Turn{}

	got := BuildSummary(session, origin, nil)
	assert.Equal(t, 4, strings.Count(got, "(none)"))
}

func TestBuildNext_ExtractsAndDedupesLinks(t *testing.T) {
	session := &store.Session{}
	origin := &store.Turn{}
	text := "see https://a.example/x and https://a.example/x, also https://b.example/y."

	got := BuildNext(session, origin, text)
	assert.Contains(t, got, "- https://a.example/x")
	assert.Contains(t, got, "- https://b.example/y")
	assert.Equal(t, 1, strings.Count(got, "https://a.example/x"))
}

func TestBuildNext_NoLinksFallsBackToNone(t *testing.T) {
	session := &store.Session{}
	origin := &store.Turn{AssistantText: "no links here"}

	got := BuildNext(session, origin, "")
	assert.Contains(t, got, "[Detected Links]\n(none)")
}

func TestBuildRegen_IncludesConstraints(t *testing.T) {
	session := &store.Session{}
	origin := &store.Turn{UserText: "do x"}

	got := BuildRegen(session, origin)
	assert.Contains(t, got, "different approach")
	assert.Contains(t, got, "do x")
}
