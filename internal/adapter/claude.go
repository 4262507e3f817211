package adapter

import "strings"

// Claude shells out to `claude -p --output-format stream-json`,
// normalizing its system/assistant/result event stream. Grounded on
// original_source/src/telegram_bot_new/adapters/claude_adapter.py.
type Claude struct {
	Bin              string
	DefaultModelName string
}

func NewClaude(bin, defaultModel string) *Claude {
	if bin == "" {
		bin = "claude"
	}
	return &Claude{Bin: bin, DefaultModelName: defaultModel}
}

func (c *Claude) Name() string         { return "claude" }
func (c *Claude) Binary() string       { return c.Bin }
func (c *Claude) DefaultModel() string { return c.DefaultModelName }

func (c *Claude) Normalize(line string) []Event   { return normalizeClaudeLine(line) }
func (c *Claude) ExtractThreadID(ev Event) string { return extractThreadIDFromThreadStarted(ev) }

func (c *Claude) RunNew(req RunRequest) (<-chan Event, <-chan error) {
	prompt := ComposePrompt(req.Preamble, req.Prompt)
	args := []string{c.Bin, "-p", "--verbose", "--output-format", "stream-json"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	args = append(args, prompt)
	return runProcess(c.Bin, args, normalizeClaudeLine, req.ShouldCancel)
}

func (c *Claude) RunResume(req ResumeRequest) (<-chan Event, <-chan error) {
	prompt := ComposePrompt(req.Preamble, req.Prompt)
	args := []string{c.Bin, "-p", "--verbose", "--output-format", "stream-json", "-r", req.ThreadID}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	args = append(args, prompt)
	return runProcess(c.Bin, args, normalizeClaudeLine, req.ShouldCancel)
}

func normalizeClaudeLine(line string) []Event {
	parsed, ok := parseJSONLine(line)
	if !ok {
		return []Event{newEvent(Error, map[string]any{"message": "invalid claude json event", "raw_line": line})}
	}

	eventType := asString(parsed, "type")

	switch {
	case eventType == "system" && asString(parsed, "subtype") == "init":
		var out []Event
		if sessionID := asString(parsed, "session_id"); sessionID != "" {
			out = append(out, newEvent(ThreadStarted, map[string]any{"thread_id": sessionID}))
		}
		out = append(out, newEvent(TurnStarted, map[string]any{}))
		return out

	case eventType == "assistant":
		message := asMap(parsed, "message")
		text := extractClaudeAssistantText(message)
		if text == "" {
			return nil
		}
		return []Event{newEvent(AssistantMsg, map[string]any{"text": text})}

	case eventType == "result":
		isError, _ := parsed["is_error"].(bool)
		subtype := asString(parsed, "subtype")
		status := "success"
		if isError || (subtype != "" && subtype != "success") {
			status = "error"
		}
		return []Event{newEvent(TurnCompleted, map[string]any{"status": status})}

	case eventType == "error":
		message := asString(parsed, "message")
		if message == "" {
			message = "claude error"
		}
		return []Event{newEvent(Error, map[string]any{"message": message, "raw": parsed})}
	}

	return []Event{newEvent(Reasoning, map[string]any{"raw": parsed})}
}

func extractClaudeAssistantText(message map[string]any) string {
	if message == nil || asString(message, "role") != "assistant" {
		return ""
	}
	content := asList(message, "content")
	var parts []string
	for _, item := range content {
		im, ok := item.(map[string]any)
		if !ok || asString(im, "type") != "text" {
			continue
		}
		if text := asString(im, "text"); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
