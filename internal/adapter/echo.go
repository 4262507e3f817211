package adapter

import (
	"fmt"
	"time"
)

// Echo is a sample adapter for integration testing; it spawns no
// subprocess and yields a fixed four-event stream. Grounded on
// original_source/src/telegram_bot_new/adapters/echo_adapter.py.
type Echo struct{}

func NewEcho() *Echo { return &Echo{} }

func (e *Echo) Name() string         { return "echo" }
func (e *Echo) Binary() string       { return "" }
func (e *Echo) DefaultModel() string { return "" }

func (e *Echo) Normalize(line string) []Event {
	return []Event{newEvent(Reasoning, map[string]any{"raw": line})}
}

func (e *Echo) ExtractThreadID(ev Event) string { return extractThreadIDFromThreadStarted(ev) }

func (e *Echo) RunNew(req RunRequest) (<-chan Event, <-chan error) {
	events := make(chan Event, 4)
	join := make(chan error, 1)
	go func() {
		defer close(events)
		defer close(join)
		events <- newEvent(ThreadStarted, map[string]any{"thread_id": "echo-thread"})
		events <- newEvent(TurnStarted, map[string]any{})
		time.Sleep(10 * time.Millisecond)
		events <- newEvent(AssistantMsg, map[string]any{"text": fmt.Sprintf("echo: %s", req.Prompt)})
		events <- newEvent(TurnCompleted, map[string]any{"status": "success"})
		join <- nil
	}()
	return events, join
}

func (e *Echo) RunResume(req ResumeRequest) (<-chan Event, <-chan error) {
	events := make(chan Event, 4)
	join := make(chan error, 1)
	go func() {
		defer close(events)
		defer close(join)
		events <- newEvent(ThreadStarted, map[string]any{"thread_id": req.ThreadID})
		events <- newEvent(TurnStarted, map[string]any{})
		events <- newEvent(AssistantMsg, map[string]any{"text": fmt.Sprintf("echo-resume: %s", req.Prompt)})
		events <- newEvent(TurnCompleted, map[string]any{"status": "success"})
		join <- nil
	}()
	return events, join
}
