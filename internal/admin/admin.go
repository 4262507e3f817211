// Package admin is the embedded HTTP surface: health/readiness probes,
// the Prometheus /metrics endpoint, and the Telegram webhook intake used
// by bots running in mode=gateway. Grounded on leapmux/hub/server.go's
// raw http.ServeMux + graceful-shutdown shape, stripped of every
// ConnectRPC/workspace/terminal service it wires for its own domain.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/agentrelay/relay/internal/config"
	"github.com/agentrelay/relay/internal/logging"
	"github.com/agentrelay/relay/internal/metrics"
	"github.com/agentrelay/relay/internal/store"
	"github.com/agentrelay/relay/internal/telegram"
)

// Server is the admin/webhook HTTP surface for one process (run-gateway,
// or run-bot's health-only variant), spanning every bot that process serves. Each bot
// keeps its own *store.Store (its own SQLite file), so webhook delivery
// is routed to the right store by bot_id.
type Server struct {
	addr   string
	cfg    *config.Config
	stores map[string]*store.Store
	log    *slog.Logger
	server *http.Server
}

// NewServer builds the full admin/webhook HTTP server but does not
// start listening; call Serve to run it. Used by run-gateway, where cfg
// carries every mode=gateway bot's webhook secrets and stores maps each
// bot_id to its already-open store.
func NewServer(addr string, cfg *config.Config, stores map[string]*store.Store) *Server {
	s := &Server{
		addr:   addr,
		cfg:    cfg,
		stores: stores,
		log:    slog.With("component", "admin"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /telegram/webhook/{bot_id}/{path_secret}", s.handleWebhook)

	handler := logging.HTTPMiddleware(metrics.HTTPMiddleware(mux))
	s.server = &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
	return s
}

// NewHealthServer builds a health/readiness/metrics-only server with no
// webhook route, for run-bot's per-process --embedded-host/--embedded-port
// listener (mode=embedded bots poll for updates themselves and never
// receive a webhook).
func NewHealthServer(addr string, st *store.Store) *Server {
	s := &Server{
		addr:   addr,
		stores: map[string]*store.Store{"": st},
		log:    slog.With("component", "admin"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := logging.HTTPMiddleware(metrics.HTTPMiddleware(mux))
	s.server = &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	return s
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("admin server listening", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown admin server: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"ok":true}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	for _, st := range s.stores {
		if err := st.DB().PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"ok":false}`))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"ok":true}`))
}

// handleWebhook implements spec.md §6's webhook intake: 404 for an
// unknown bot, 401 for an invalid path secret or secret token, 400 for a
// malformed body (including a non-integer update_id), then at-most-once
// insert + ingest job enqueue via store.InsertUpdate.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	botID := r.PathValue("bot_id")
	pathSecret := r.PathValue("path_secret")

	bot, ok := s.cfg.Get(botID)
	if !ok {
		http.Error(w, "unknown bot", http.StatusNotFound)
		return
	}
	st, ok := s.stores[botID]
	if !ok {
		http.Error(w, "unknown bot", http.StatusNotFound)
		return
	}
	if bot.Webhook.PathSecret == "" || subtle.ConstantTimeCompare([]byte(pathSecret), []byte(bot.Webhook.PathSecret)) != 1 {
		http.Error(w, "invalid path secret", http.StatusUnauthorized)
		return
	}
	if bot.Webhook.SecretToken != "" {
		got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(bot.Webhook.SecretToken)) != 1 {
			http.Error(w, "invalid secret token", http.StatusUnauthorized)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "body too large", http.StatusBadRequest)
		return
	}

	var upd telegram.Update
	if err := json.Unmarshal(body, &upd); err != nil {
		http.Error(w, "malformed update", http.StatusBadRequest)
		return
	}

	chatID := chatIDOf(upd)
	now := time.Now().UnixMilli()
	accepted, err := st.InsertUpdate(r.Context(), botID, upd.UpdateID, chatID, string(body), now)
	if err != nil {
		s.log.Error("insert update failed", "bot_id", botID, "update_id", upd.UpdateID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !accepted {
		s.log.Debug("duplicate webhook update dropped", "bot_id", botID, "update_id", upd.UpdateID)
	}
	w.WriteHeader(http.StatusOK)
}

func chatIDOf(upd telegram.Update) string {
	switch {
	case upd.Message != nil:
		return fmt.Sprintf("%d", upd.Message.Chat.ID)
	case upd.CallbackQuery != nil && upd.CallbackQuery.Message != nil:
		return fmt.Sprintf("%d", upd.CallbackQuery.Message.Chat.ID)
	default:
		return ""
	}
}
