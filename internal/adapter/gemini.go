package adapter

// Gemini shells out to `gemini -o stream-json`, normalizing its
// init/message/result event stream. Grounded on
// original_source/src/telegram_bot_new/adapters/gemini_adapter.py.
type Gemini struct {
	Bin              string
	DefaultModelName string
}

func NewGemini(bin, defaultModel string) *Gemini {
	if bin == "" {
		bin = "gemini"
	}
	return &Gemini{Bin: bin, DefaultModelName: defaultModel}
}

func (g *Gemini) Name() string         { return "gemini" }
func (g *Gemini) Binary() string       { return g.Bin }
func (g *Gemini) DefaultModel() string { return g.DefaultModelName }

func (g *Gemini) Normalize(line string) []Event   { return normalizeGeminiLine(line) }
func (g *Gemini) ExtractThreadID(ev Event) string { return extractThreadIDFromThreadStarted(ev) }

func (g *Gemini) RunNew(req RunRequest) (<-chan Event, <-chan error) {
	prompt := ComposePrompt(req.Preamble, req.Prompt)
	// Non-interactive worker mode must not block on approval prompts.
	args := []string{g.Bin, "--approval-mode", "yolo", "-o", "stream-json"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	args = append(args, "-p", prompt)
	return runProcess(g.Bin, args, normalizeGeminiLine, req.ShouldCancel)
}

func (g *Gemini) RunResume(req ResumeRequest) (<-chan Event, <-chan error) {
	prompt := ComposePrompt(req.Preamble, req.Prompt)
	args := []string{g.Bin, "--resume", req.ThreadID, "--approval-mode", "yolo", "-o", "stream-json"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	args = append(args, "-p", prompt)
	return runProcess(g.Bin, args, normalizeGeminiLine, req.ShouldCancel)
}

func normalizeGeminiLine(line string) []Event {
	parsed, ok := parseJSONLine(line)
	if !ok {
		return []Event{newEvent(Error, map[string]any{"message": "invalid gemini json event", "raw_line": line})}
	}

	eventType := asString(parsed, "type")

	switch eventType {
	case "init":
		var out []Event
		if sessionID := asString(parsed, "session_id"); sessionID != "" {
			out = append(out, newEvent(ThreadStarted, map[string]any{"thread_id": sessionID}))
		}
		out = append(out, newEvent(TurnStarted, map[string]any{}))
		return out

	case "message":
		if asString(parsed, "role") != "assistant" {
			return nil
		}
		content, _ := parsed["content"].(string)
		if content == "" {
			return nil
		}
		return []Event{newEvent(AssistantMsg, map[string]any{"text": content})}

	case "result":
		status := asString(parsed, "status")
		if status == "" {
			status = "success"
		}
		return []Event{newEvent(TurnCompleted, map[string]any{"status": status})}

	case "error":
		message := asString(parsed, "message")
		if message == "" {
			message = "gemini error"
		}
		return []Event{newEvent(Error, map[string]any{"message": message, "raw": parsed})}
	}

	return []Event{newEvent(Reasoning, map[string]any{"raw": parsed})}
}
