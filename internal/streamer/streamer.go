// Package streamer relays normalized adapter events into a live
// chat message, editing one message in place per turn and opening a
// continuation message when it would overflow. Grounded on
// dmorn-m4d-coso's sdk/telegram send.go (chunk-at-newline-boundary
// algorithm) and format.go (fenced-code HTML rendering), adapted from
// "format the whole message" to "append one line per event".
package streamer

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentrelay/relay/internal/adapter"
	"github.com/agentrelay/relay/internal/telegram"
)

// maxMessageBytes (L) is the target size a single Telegram message is
// kept under; Telegram's hard cap is 4096 runes, so this leaves
// headroom for multi-byte runes and the HTML markup added by
// renderForSend.
const maxMessageBytes = 3800

type turnState struct {
	chatID    int64
	messageID int64
	textSoFar string
}

// Streamer holds one live-edited message per in-flight turn.
type Streamer struct {
	client *telegram.Client

	mu    sync.Mutex
	turns map[string]*turnState
}

// New returns a Streamer sending through client.
func New(client *telegram.Client) *Streamer {
	return &Streamer{client: client, turns: make(map[string]*turnState)}
}

// AppendEvent formats ev as one or more `[seq][hh:mm:ss][type] body`
// lines (oversized bodies are sliced into "(i/m)"-labelled chunks)
// and appends each to turnID's live message, opening a continuation
// message if the current one would overflow.
func (s *Streamer) AppendEvent(ctx context.Context, turnID string, chatID int64, ev adapter.Event) error {
	for _, line := range formatEventLines(ev) {
		if err := s.appendLine(ctx, turnID, chatID, line); err != nil {
			return err
		}
	}
	return nil
}

// CloseTurn discards turnID's per-turn state. Safe to call even if no
// state exists (e.g. the turn never emitted any event).
func (s *Streamer) CloseTurn(turnID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, turnID)
}

func (s *Streamer) appendLine(ctx context.Context, turnID string, chatID int64, line string) error {
	s.mu.Lock()
	st, ok := s.turns[turnID]
	s.mu.Unlock()

	if !ok {
		text, parseMode := renderForSend(line)
		msgID, err := s.client.SendMessage(ctx, chatID, text, parseMode, nil)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.turns[turnID] = &turnState{chatID: chatID, messageID: msgID, textSoFar: line}
		s.mu.Unlock()
		return nil
	}

	candidate := st.textSoFar + "\n" + line
	if len(candidate) <= maxMessageBytes {
		text, parseMode := renderForSend(candidate)
		if err := s.client.EditMessageText(ctx, chatID, st.messageID, text, parseMode); err != nil {
			return err
		}
		s.mu.Lock()
		st.textSoFar = candidate
		s.mu.Unlock()
		return nil
	}

	continuation := "[continued]\n" + line
	text, parseMode := renderForSend(continuation)
	msgID, err := s.client.SendMessage(ctx, chatID, text, parseMode, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	st.messageID = msgID
	st.textSoFar = continuation
	s.mu.Unlock()
	return nil
}

// formatEventLines renders ev to one or more prefixed lines. A body
// too large to fit in a single message (after accounting for the
// prefix) is sliced into consecutively labelled "(i/m)" chunks.
func formatEventLines(ev adapter.Event) []string {
	prefix := linePrefix(ev.Seq, ev.Timestamp, ev.Type)
	body := eventBody(ev.Payload)
	if body == "" {
		return []string{prefix}
	}

	full := prefix + " " + body
	if len(full) <= maxMessageBytes {
		return []string{full}
	}

	// Budget per chunk: prefix + " (NNN/NNN)" overhead, conservatively
	// reserved, then whatever's left for the chunk body.
	const labelOverhead = 16
	chunkSize := maxMessageBytes - len(prefix) - labelOverhead
	if chunkSize < 1 {
		chunkSize = maxMessageBytes / 2
	}

	runes := []rune(body)
	var chunks []string
	for start := 0; start < len(runes); start += chunkSize {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}

	total := len(chunks)
	lines := make([]string, total)
	for i, chunk := range chunks {
		lines[i] = fmt.Sprintf("%s(%d/%d) %s", prefix, i+1, total, chunk)
	}
	return lines
}

func linePrefix(seq int, timestamp, eventType string) string {
	clock := timestamp
	if len(timestamp) >= 19 {
		clock = timestamp[11:19]
	}
	return fmt.Sprintf("[%d][%s][%s]", seq, clock, eventType)
}
