package adapter

// Codex shells out to `codex exec --json`, normalizing its native
// thread./turn./item.* event stream. Grounded on
// original_source/src/telegram_bot_new/adapters/codex_adapter.py.
type Codex struct {
	Bin          string
	DefaultModelName string
}

func NewCodex(bin, defaultModel string) *Codex {
	if bin == "" {
		bin = "codex"
	}
	return &Codex{Bin: bin, DefaultModelName: defaultModel}
}

func (c *Codex) Name() string         { return "codex" }
func (c *Codex) Binary() string       { return c.Bin }
func (c *Codex) DefaultModel() string { return c.DefaultModelName }

// baseExecArgs pins the reasoning effort so a user's global codex
// config cannot push a non-interactive worker run to an unexpectedly
// slow effort level.
func (c *Codex) baseExecArgs() []string {
	return []string{c.Bin, "exec", "--json", "--skip-git-repo-check", "-c", `model_reasoning_effort="high"`}
}

func (c *Codex) RunNew(req RunRequest) (<-chan Event, <-chan error) {
	prompt := ComposePrompt(req.Preamble, req.Prompt)
	args := c.baseExecArgs()
	if req.Model != "" {
		args = append(args, "-m", req.Model)
	}
	if req.Sandbox != "" {
		args = append(args, "-s", req.Sandbox)
	}
	args = append(args, prompt)
	return runProcess(c.Bin, args, normalizeCodexLine, req.ShouldCancel)
}

func (c *Codex) Normalize(line string) []Event { return normalizeCodexLine(line) }

func (c *Codex) ExtractThreadID(ev Event) string { return extractThreadIDFromThreadStarted(ev) }

func (c *Codex) RunResume(req ResumeRequest) (<-chan Event, <-chan error) {
	prompt := ComposePrompt(req.Preamble, req.Prompt)
	args := c.baseExecArgs()
	if req.Model != "" {
		args = append(args, "-m", req.Model)
	}
	if req.Sandbox != "" {
		args = append(args, "-s", req.Sandbox)
	}
	args = append(args, "resume", req.ThreadID, prompt)
	return runProcess(c.Bin, args, normalizeCodexLine, req.ShouldCancel)
}

func normalizeCodexLine(line string) []Event {
	parsed, ok := parseJSONLine(line)
	if !ok {
		return []Event{newEvent(Error, map[string]any{"message": "invalid codex json event", "raw_line": line})}
	}

	eventType := asString(parsed, "type")

	switch eventType {
	case "thread.started":
		threadID := asString(parsed, "thread_id")
		if threadID == "" {
			if thread := asMap(parsed, "thread"); thread != nil {
				threadID = asString(thread, "id")
			}
		}
		return []Event{newEvent(ThreadStarted, map[string]any{"thread_id": threadID})}

	case "turn.started":
		return []Event{newEvent(TurnStarted, map[string]any{})}

	case "turn.completed":
		status := asString(parsed, "status")
		if status == "" {
			status = "success"
		}
		usage := parsed["usage"]
		if usage == nil {
			usage = map[string]any{}
		}
		return []Event{newEvent(TurnCompleted, map[string]any{"usage": usage, "status": status})}

	case "item.started", "item.completed":
		item := asMap(parsed, "item")
		if item == nil {
			item = map[string]any{}
		}
		itemType := asString(item, "type")
		status := asString(item, "status")

		switch {
		case itemType == "reasoning":
			return []Event{newEvent(Reasoning, map[string]any{"text": extractItemText(item)})}

		case itemType == "agent_message" || itemType == "assistant_message" || itemType == "message":
			return []Event{newEvent(AssistantMsg, map[string]any{"text": extractItemText(item)})}

		case itemType == "command_execution" && eventType == "item.started":
			if status == "" {
				status = "in_progress"
			}
			return []Event{newEvent(CommandStarted, map[string]any{
				"command": extractItemCommand(item),
				"status":  status,
			})}

		case itemType == "command_execution" && eventType == "item.completed":
			if status == "" {
				status = "completed"
			}
			output := item["aggregated_output"]
			if output == nil {
				output = ""
			}
			return []Event{newEvent(CommandComplete, map[string]any{
				"command":           extractItemCommand(item),
				"exit_code":         item["exit_code"],
				"aggregated_output": output,
				"status":            status,
			})}
		}

	case "error":
		message := asString(parsed, "message")
		if message == "" {
			message = "codex error"
		}
		return []Event{newEvent(Error, map[string]any{"message": message, "raw": parsed})}
	}

	return []Event{newEvent(Reasoning, map[string]any{"raw": parsed})}
}
