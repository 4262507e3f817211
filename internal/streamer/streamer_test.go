package streamer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/relay/internal/adapter"
	"github.com/agentrelay/relay/internal/telegram"
)

type fakeMessage struct {
	MessageID int64
	Text      string
}

// newTestStreamer stands up an httptest server that records
// sendMessage/editMessageText bodies into messages, keyed by a
// monotonic message id.
func newTestStreamer(t *testing.T) (*Streamer, *[]fakeMessage) {
	t.Helper()
	var messages []fakeMessage
	var nextID int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		text, _ := body["text"].(string)

		switch {
		case strings.Contains(r.URL.Path, "sendMessage"):
			nextID++
			messages = append(messages, fakeMessage{MessageID: nextID, Text: text})
			json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"message_id": nextID}})
		case strings.Contains(r.URL.Path, "editMessageText"):
			msgID := int64(body["message_id"].(float64))
			for i := range messages {
				if messages[i].MessageID == msgID {
					messages[i].Text = text
				}
			}
			json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"message_id": msgID}})
		}
	}))
	t.Cleanup(srv.Close)

	client := telegram.NewWithBaseURL("test-token", srv.URL+"/bot%s/%s")
	return New(client), &messages
}

func ev(seq int, eventType string, payload map[string]any) adapter.Event {
	return adapter.Event{Seq: seq, Timestamp: "2026-07-30T10:00:00.000Z", Type: eventType, Payload: payload}
}

func TestAppendEvent_FirstEventSendsNewMessage(t *testing.T) {
	s, messages := newTestStreamer(t)

	err := s.AppendEvent(context.Background(), "turn1", 42, ev(1, adapter.ThreadStarted, map[string]any{"thread_id": "t1"}))
	require.NoError(t, err)

	require.Len(t, *messages, 1)
	assert.Contains(t, (*messages)[0].Text, "thread_started")
	assert.Contains(t, (*messages)[0].Text, "t1")
}

func TestAppendEvent_SubsequentEventsEditSameMessage(t *testing.T) {
	s, messages := newTestStreamer(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, "turn1", 42, ev(1, adapter.ThreadStarted, map[string]any{"thread_id": "t1"})))
	require.NoError(t, s.AppendEvent(ctx, "turn1", 42, ev(2, adapter.TurnStarted, map[string]any{})))
	require.NoError(t, s.AppendEvent(ctx, "turn1", 42, ev(3, adapter.AssistantMsg, map[string]any{"text": "hi"})))

	require.Len(t, *messages, 1)
	text := (*messages)[0].Text
	assert.Contains(t, text, "[1][10:00:00][thread_started]")
	assert.Contains(t, text, "[2][10:00:00][turn_started]")
	assert.Contains(t, text, "[3][10:00:00][assistant_message] hi")
}

func TestAppendEvent_OverflowOpensContinuation(t *testing.T) {
	s, messages := newTestStreamer(t)
	ctx := context.Background()

	big := strings.Repeat("x", maxMessageBytes)
	require.NoError(t, s.AppendEvent(ctx, "turn1", 42, ev(1, adapter.AssistantMsg, map[string]any{"text": "seed"})))
	require.NoError(t, s.AppendEvent(ctx, "turn1", 42, ev(2, adapter.Reasoning, map[string]any{"text": big})))

	require.Len(t, *messages, 3)
	assert.Contains(t, (*messages)[1].Text, "[continued]")
}

func TestCloseTurn_ForgetsState(t *testing.T) {
	s, _ := newTestStreamer(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, "turn1", 42, ev(1, adapter.TurnStarted, map[string]any{})))
	s.CloseTurn("turn1")

	s.mu.Lock()
	_, ok := s.turns["turn1"]
	s.mu.Unlock()
	assert.False(t, ok)
}
