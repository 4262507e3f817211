package command

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/relay/internal/session"
	"github.com/agentrelay/relay/internal/store"
	"github.com/agentrelay/relay/internal/telegram"
	"github.com/agentrelay/relay/internal/token"
)

type recordedCall struct {
	method string
	body   map[string]any
}

func newTestHandler(t *testing.T, owner string) (*Handler, *[]recordedCall) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	var calls []recordedCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]
		calls = append(calls, recordedCall{method: method, body: body})
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"message_id": int64(len(calls))}})
	}))
	t.Cleanup(srv.Close)

	client := telegram.NewWithBaseURL("test-token", srv.URL+"/bot%s/%s")
	bot := BotIdentity{BotID: "bot1", BotName: "TestBot", Adapter: "codex", OwnerUserID: owner}
	h := New(bot, client, session.New(st), st, token.New(st), nil, nil)
	return h, &calls
}

func msgUpdate(chatID, userID int64, text string) telegram.Update {
	return telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			MessageID: 1,
			From:      &telegram.User{ID: userID},
			Chat:      telegram.Chat{ID: chatID},
			Text:      text,
		},
	}
}

func lastCall(calls *[]recordedCall) recordedCall {
	return (*calls)[len(*calls)-1]
}

func TestHandleUpdate_OwnerGateRejectsOtherUsers(t *testing.T) {
	h, calls := newTestHandler(t, "999")
	err := h.HandleUpdate(context.Background(), msgUpdate(1, 1, "/start"), 1000)
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	assert.Equal(t, "sendMessage", lastCall(calls).method)
	assert.Contains(t, lastCall(calls).body["text"], "Access denied")
}

func TestHandleUpdate_EchoCommand(t *testing.T) {
	h, calls := newTestHandler(t, "")
	err := h.HandleUpdate(context.Background(), msgUpdate(1, 1, "/echo hello"), 1000)
	require.NoError(t, err)
	assert.Equal(t, "hello", lastCall(calls).body["text"])
}

func TestHandleUpdate_EchoCommandEmptyArg(t *testing.T) {
	h, calls := newTestHandler(t, "")
	err := h.HandleUpdate(context.Background(), msgUpdate(1, 1, "/echo"), 1000)
	require.NoError(t, err)
	assert.Equal(t, "(empty)", lastCall(calls).body["text"])
}

func TestHandleUpdate_UnknownCommand(t *testing.T) {
	h, calls := newTestHandler(t, "")
	err := h.HandleUpdate(context.Background(), msgUpdate(1, 1, "/nope"), 1000)
	require.NoError(t, err)
	assert.Contains(t, lastCall(calls).body["text"], "Unknown command: /nope")
}

func TestHandleUpdate_StopWithNoActiveRun(t *testing.T) {
	h, calls := newTestHandler(t, "")
	err := h.HandleUpdate(context.Background(), msgUpdate(1, 1, "/stop"), 1000)
	require.NoError(t, err)
	assert.Equal(t, "No active run.", lastCall(calls).body["text"])
}

func TestHandleUpdate_FreeTextEnqueuesTurnWithKeyboard(t *testing.T) {
	h, calls := newTestHandler(t, "")
	err := h.HandleUpdate(context.Background(), msgUpdate(1, 1, "do the thing"), 1000)
	require.NoError(t, err)

	last := lastCall(calls)
	assert.Contains(t, last.body["text"], "Queued turn:")
	assert.Contains(t, last.body["text"], "agent=codex")
	markup, ok := last.body["reply_markup"].(map[string]any)
	require.True(t, ok)
	rows, ok := markup["inline_keyboard"].([]any)
	require.True(t, ok)
	assert.Len(t, rows, 2)
}

func TestHandleUpdate_SecondFreeTextWhileActiveIsRejected(t *testing.T) {
	h, calls := newTestHandler(t, "")
	ctx := context.Background()
	require.NoError(t, h.HandleUpdate(ctx, msgUpdate(1, 1, "first"), 1000))
	require.NoError(t, h.HandleUpdate(ctx, msgUpdate(1, 1, "second"), 1001))

	last := lastCall(calls)
	assert.Equal(t, "A run is already active in this chat. Use /stop first.", last.body["text"])
}

func TestHandleUpdate_ModeSwitchRejectedWhileActive(t *testing.T) {
	h, calls := newTestHandler(t, "")
	ctx := context.Background()
	require.NoError(t, h.HandleUpdate(ctx, msgUpdate(1, 1, "hello"), 1000))
	require.NoError(t, h.HandleUpdate(ctx, msgUpdate(1, 1, "/mode gemini"), 1001))

	last := lastCall(calls)
	assert.Equal(t, "A run is active. Use /stop first, then retry /mode.", last.body["text"])
}

func TestHandleUpdate_ModeSwitchUnsupportedProvider(t *testing.T) {
	h, calls := newTestHandler(t, "")
	err := h.HandleUpdate(context.Background(), msgUpdate(1, 1, "/mode nonsense"), 1000)
	require.NoError(t, err)
	assert.Contains(t, lastCall(calls).body["text"], "Unsupported provider")
}

func TestHandleUpdate_ProjectWithoutArgumentShowsUsage(t *testing.T) {
	h, calls := newTestHandler(t, "")
	err := h.HandleUpdate(context.Background(), msgUpdate(1, 1, "/project"), 1000)
	require.NoError(t, err)
	text := lastCall(calls).body["text"].(string)
	assert.Contains(t, text, "project=default")
	assert.Contains(t, text, "usage: /project <dir>")
}

func TestHandleUpdate_ProjectUpdatesSession(t *testing.T) {
	h, calls := newTestHandler(t, "")
	err := h.HandleUpdate(context.Background(), msgUpdate(1, 1, "/project /tmp/work"), 1000)
	require.NoError(t, err)
	text := lastCall(calls).body["text"].(string)
	assert.Contains(t, text, "project updated: default -> /tmp/work")
}

func TestHandleUpdate_ProjectRejectedWhileActive(t *testing.T) {
	h, calls := newTestHandler(t, "")
	ctx := context.Background()
	require.NoError(t, h.HandleUpdate(ctx, msgUpdate(1, 1, "hello"), 1000))
	require.NoError(t, h.HandleUpdate(ctx, msgUpdate(1, 1, "/project /tmp/work"), 1001))

	last := lastCall(calls)
	assert.Equal(t, "A run is active. Use /stop first, then retry /project.", last.body["text"])
}

func TestHandleUpdate_UnsafeWithoutArgumentShowsUsage(t *testing.T) {
	h, calls := newTestHandler(t, "")
	err := h.HandleUpdate(context.Background(), msgUpdate(1, 1, "/unsafe"), 1000)
	require.NoError(t, err)
	text := lastCall(calls).body["text"].(string)
	assert.Contains(t, text, "unsafe_until=off")
	assert.Contains(t, text, "usage: /unsafe on [minutes] | off")
}

func TestHandleUpdate_UnsafeOnWithMinutes(t *testing.T) {
	h, calls := newTestHandler(t, "")
	err := h.HandleUpdate(context.Background(), msgUpdate(1, 1, "/unsafe on 15"), 1000)
	require.NoError(t, err)
	text := lastCall(calls).body["text"].(string)
	assert.Contains(t, text, "unsafe updated: off -> 901000")
}

func TestHandleUpdate_UnsafeOff(t *testing.T) {
	h, calls := newTestHandler(t, "")
	ctx := context.Background()
	require.NoError(t, h.HandleUpdate(ctx, msgUpdate(1, 1, "/unsafe on 15"), 1000))
	require.NoError(t, h.HandleUpdate(ctx, msgUpdate(1, 1, "/unsafe off"), 1001))
	text := lastCall(calls).body["text"].(string)
	assert.Contains(t, text, "-> off")
}

func TestHandleUpdate_UnsafeRejectedWhileActive(t *testing.T) {
	h, calls := newTestHandler(t, "")
	ctx := context.Background()
	require.NoError(t, h.HandleUpdate(ctx, msgUpdate(1, 1, "hello"), 1000))
	require.NoError(t, h.HandleUpdate(ctx, msgUpdate(1, 1, "/unsafe on"), 1001))

	last := lastCall(calls)
	assert.Equal(t, "A run is active. Use /stop first, then retry /unsafe.", last.body["text"])
}
