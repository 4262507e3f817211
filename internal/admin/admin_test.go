package admin

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/relay/internal/config"
	"github.com/agentrelay/relay/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{Bots: []config.Bot{
		{
			BotID:         "bot1",
			TelegramToken: "tok-1",
			Mode:          "gateway",
			Webhook: config.Webhook{
				PathSecret:  "path-secret",
				SecretToken: "header-secret",
			},
		},
	}}

	s := NewServer("127.0.0.1:0", cfg, map[string]*store.Store{"bot1": st})
	return s, st
}

func webhookReq(botID, pathSecret, headerSecret, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook/"+botID+"/"+pathSecret, bytes.NewBufferString(body))
	if headerSecret != "" {
		req.Header.Set("X-Telegram-Bot-Api-Secret-Token", headerSecret)
	}
	return req
}

func TestHandleWebhook_UnknownBotReturns404(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := webhookReq("nope", "path-secret", "header-secret", `{"update_id":1}`)
	req.SetPathValue("bot_id", "nope")
	req.SetPathValue("path_secret", "path-secret")

	s.handleWebhook(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleWebhook_WrongPathSecretReturns401(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := webhookReq("bot1", "wrong-secret", "header-secret", `{"update_id":1}`)
	req.SetPathValue("bot_id", "bot1")
	req.SetPathValue("path_secret", "wrong-secret")

	s.handleWebhook(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleWebhook_WrongHeaderSecretReturns401(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := webhookReq("bot1", "path-secret", "wrong-header", `{"update_id":1}`)
	req.SetPathValue("bot_id", "bot1")
	req.SetPathValue("path_secret", "path-secret")

	s.handleWebhook(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleWebhook_NonIntegerUpdateIDReturns400(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	req := webhookReq("bot1", "path-secret", "header-secret", `{"update_id":"abc"}`)
	req.SetPathValue("bot_id", "bot1")
	req.SetPathValue("path_secret", "path-secret")

	s.handleWebhook(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWebhook_AcceptsAndDedups(t *testing.T) {
	s, st := newTestServer(t)
	body := `{"update_id":777,"message":{"message_id":1,"chat":{"id":9,"type":"private"},"text":"hi","date":1}}`

	rec := httptest.NewRecorder()
	req := webhookReq("bot1", "path-secret", "header-secret", body)
	req.SetPathValue("bot_id", "bot1")
	req.SetPathValue("path_secret", "path-secret")
	s.handleWebhook(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	_, chatID, err := st.GetUpdate(context.Background(), "bot1", 777)
	require.NoError(t, err)
	assert.Equal(t, "9", chatID)

	// Second delivery of the same update_id is a no-op, not an error.
	rec2 := httptest.NewRecorder()
	req2 := webhookReq("bot1", "path-secret", "header-secret", body)
	req2.SetPathValue("bot_id", "bot1")
	req2.SetPathValue("path_secret", "path-secret")
	s.handleWebhook(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestHandleHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReadyz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.handleReadyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
