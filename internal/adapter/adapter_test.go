package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposePrompt(t *testing.T) {
	assert.Equal(t, "hello", ComposePrompt("", "hello"))
	assert.Equal(t, "pre\n\n[User Message]\nhello", ComposePrompt("pre", "hello"))
}

func TestNormalizeCodexLine_ThreadAndTurnStarted(t *testing.T) {
	events := normalizeCodexLine(`{"type":"thread.started","thread_id":"t1"}`)
	require.Len(t, events, 1)
	assert.Equal(t, ThreadStarted, events[0].Type)
	assert.Equal(t, "t1", events[0].Payload["thread_id"])

	events = normalizeCodexLine(`{"type":"turn.started"}`)
	require.Len(t, events, 1)
	assert.Equal(t, TurnStarted, events[0].Type)
}

func TestNormalizeCodexLine_ThreadFallsBackToThreadObject(t *testing.T) {
	events := normalizeCodexLine(`{"type":"thread.started","thread":{"id":"t2"}}`)
	require.Len(t, events, 1)
	assert.Equal(t, "t2", events[0].Payload["thread_id"])
}

func TestNormalizeCodexLine_AssistantMessage(t *testing.T) {
	events := normalizeCodexLine(`{"type":"item.completed","item":{"type":"agent_message","text":"hi"}}`)
	require.Len(t, events, 1)
	assert.Equal(t, AssistantMsg, events[0].Type)
	assert.Equal(t, "hi", events[0].Payload["text"])
}

func TestNormalizeCodexLine_CommandLifecycle(t *testing.T) {
	started := normalizeCodexLine(`{"type":"item.started","item":{"type":"command_execution","command":"ls","status":"in_progress"}}`)
	require.Len(t, started, 1)
	assert.Equal(t, CommandStarted, started[0].Type)
	assert.Equal(t, "ls", started[0].Payload["command"])

	completed := normalizeCodexLine(`{"type":"item.completed","item":{"type":"command_execution","command":["ls","-la"],"exit_code":0,"aggregated_output":"ok"}}`)
	require.Len(t, completed, 1)
	assert.Equal(t, CommandComplete, completed[0].Type)
	assert.Equal(t, "ls -la", completed[0].Payload["command"])
	assert.Equal(t, float64(0), completed[0].Payload["exit_code"])
}

func TestNormalizeCodexLine_InvalidJSON(t *testing.T) {
	events := normalizeCodexLine(`not json`)
	require.Len(t, events, 1)
	assert.Equal(t, Error, events[0].Type)
	assert.Equal(t, "not json", events[0].Payload["raw_line"])
}

func TestNormalizeCodexLine_UnknownBecomesReasoning(t *testing.T) {
	events := normalizeCodexLine(`{"type":"something.else"}`)
	require.Len(t, events, 1)
	assert.Equal(t, Reasoning, events[0].Type)
}

func TestNormalizeGeminiLine_InitWithSession(t *testing.T) {
	events := normalizeGeminiLine(`{"type":"init","session_id":"s1"}`)
	require.Len(t, events, 2)
	assert.Equal(t, ThreadStarted, events[0].Type)
	assert.Equal(t, "s1", events[0].Payload["thread_id"])
	assert.Equal(t, TurnStarted, events[1].Type)
}

func TestNormalizeGeminiLine_InitWithoutSession(t *testing.T) {
	events := normalizeGeminiLine(`{"type":"init"}`)
	require.Len(t, events, 1)
	assert.Equal(t, TurnStarted, events[0].Type)
}

func TestNormalizeGeminiLine_AssistantMessageOnly(t *testing.T) {
	events := normalizeGeminiLine(`{"type":"message","role":"assistant","content":"hi"}`)
	require.Len(t, events, 1)
	assert.Equal(t, AssistantMsg, events[0].Type)

	events = normalizeGeminiLine(`{"type":"message","role":"user","content":"hi"}`)
	assert.Empty(t, events)
}

func TestNormalizeGeminiLine_Result(t *testing.T) {
	events := normalizeGeminiLine(`{"type":"result","status":"success"}`)
	require.Len(t, events, 1)
	assert.Equal(t, TurnCompleted, events[0].Type)
	assert.Equal(t, "success", events[0].Payload["status"])
}

func TestNormalizeClaudeLine_SystemInit(t *testing.T) {
	events := normalizeClaudeLine(`{"type":"system","subtype":"init","session_id":"c1"}`)
	require.Len(t, events, 2)
	assert.Equal(t, ThreadStarted, events[0].Type)
	assert.Equal(t, "c1", events[0].Payload["thread_id"])
}

func TestNormalizeClaudeLine_AssistantTextFromContentBlocks(t *testing.T) {
	line := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"hi"},{"type":"tool_use","text":"ignored"}]}}`
	events := normalizeClaudeLine(line)
	require.Len(t, events, 1)
	assert.Equal(t, AssistantMsg, events[0].Type)
	assert.Equal(t, "hi", events[0].Payload["text"])
}

func TestNormalizeClaudeLine_ResultErrorStatus(t *testing.T) {
	events := normalizeClaudeLine(`{"type":"result","is_error":true}`)
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Payload["status"])

	events = normalizeClaudeLine(`{"type":"result","is_error":false,"subtype":"success"}`)
	assert.Equal(t, "success", events[0].Payload["status"])
}

func TestExtractThreadID_OnlyFromThreadStarted(t *testing.T) {
	c := NewCodex("", "")
	ev := newEvent(ThreadStarted, map[string]any{"thread_id": "abc"})
	assert.Equal(t, "abc", c.ExtractThreadID(ev))

	other := newEvent(TurnStarted, map[string]any{})
	assert.Equal(t, "", c.ExtractThreadID(other))
}

func TestEchoRunNew_YieldsFixedStream(t *testing.T) {
	e := NewEcho()
	events, join := e.RunNew(RunRequest{Prompt: "hello"})

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	require.NoError(t, <-join)

	require.Len(t, got, 4)
	assert.Equal(t, ThreadStarted, got[0].Type)
	assert.Equal(t, TurnStarted, got[1].Type)
	assert.Equal(t, AssistantMsg, got[2].Type)
	assert.Equal(t, "echo: hello", got[2].Payload["text"])
	assert.Equal(t, TurnCompleted, got[3].Type)
}

func TestEchoRunResume_UsesGivenThreadID(t *testing.T) {
	e := NewEcho()
	events, join := e.RunResume(ResumeRequest{RunRequest: RunRequest{Prompt: "again"}, ThreadID: "t9"})

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	require.NoError(t, <-join)

	require.Len(t, got, 4)
	assert.Equal(t, "t9", got[0].Payload["thread_id"])
	assert.Equal(t, "echo-resume: again", got[2].Payload["text"])
}

func TestRegistry_InstalledEchoAlwaysTrue(t *testing.T) {
	r := NewRegistry("codex", "gemini", "claude", map[string]string{})
	assert.True(t, r.Installed("echo"))
	assert.False(t, r.Installed("not-a-real-provider"))
}

func TestRegistry_InstalledMissingBinaryIsFalse(t *testing.T) {
	r := NewRegistry("definitely-not-a-real-binary-xyz", "gemini", "claude", map[string]string{})
	assert.False(t, r.Installed("codex"))
}
