// Package command implements the Telegram-facing command surface: the
// owner gate, slash commands, free-text turn enqueueing, inline-button
// callbacks, and the YouTube-search intent. Grounded on
// original_source/src/telegram_bot_new/telegram/commands.py.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agentrelay/relay/internal/adapter"
	"github.com/agentrelay/relay/internal/models"
	"github.com/agentrelay/relay/internal/search"
	"github.com/agentrelay/relay/internal/session"
	"github.com/agentrelay/relay/internal/store"
	"github.com/agentrelay/relay/internal/telegram"
	"github.com/agentrelay/relay/internal/token"
)

// inlineActions are the four buttons attached to every queued turn.
var inlineActions = []string{"summary", "regen", "next", "stop"}

// BotIdentity is the static configuration of one running bot: its
// default adapter, owner gate, and per-provider default models.
type BotIdentity struct {
	BotID         string
	BotName       string
	Adapter       string
	OwnerUserID   string // empty means no owner gate
	DefaultModels map[string]string
}

// Handler dispatches parsed Telegram updates for one bot.
type Handler struct {
	bot      BotIdentity
	client   *telegram.Client
	sessions *session.Service
	store    *store.Store
	tokens   *token.Service
	youtube  *search.Service // nil disables /youtube, /yt, and the intent sniffer
	registry *adapter.Registry
}

// New builds a Handler. youtube and registry may be nil to disable the
// features they back.
func New(bot BotIdentity, client *telegram.Client, sessions *session.Service, st *store.Store, tokens *token.Service, youtube *search.Service, registry *adapter.Registry) *Handler {
	return &Handler{bot: bot, client: client, sessions: sessions, store: st, tokens: tokens, youtube: youtube, registry: registry}
}

// HandleUpdate routes one parsed Telegram update: owner gate, then
// callback-query or plain-message dispatch.
func (h *Handler) HandleUpdate(ctx context.Context, upd telegram.Update, nowMs int64) error {
	parsed := parseIncoming(upd)
	if parsed == nil {
		return nil
	}

	if h.bot.OwnerUserID != "" && parsed.userID != h.bot.OwnerUserID {
		if parsed.callbackQueryID != "" {
			h.safeAnswerCallback(ctx, parsed.callbackQueryID, "Access denied", nowMs)
		} else {
			h.send(ctx, parsed.chatID, "Access denied: owner only.")
		}
		return nil
	}

	if parsed.callbackQueryID != "" {
		if parsed.callbackData == "" {
			h.answerCallback(ctx, parsed.callbackQueryID, "Unsupported action", nowMs)
			return nil
		}
		if err := h.handleCallback(ctx, parsed.chatID, parsed.callbackQueryID, parsed.callbackData, nowMs); err != nil {
			slog.Error("callback handling failed", "bot_id", h.bot.BotID, "chat_id", parsed.chatID, "err", err)
			h.safeAnswerCallback(ctx, parsed.callbackQueryID, "Action failed", nowMs)
			return err
		}
		return nil
	}

	text := strings.TrimSpace(parsed.text)
	if text == "" {
		return nil
	}

	if isYoutube, query := parseYoutubeIntent(text); isYoutube && h.youtube != nil {
		if query == "" {
			h.send(ctx, parsed.chatID, "YouTube 검색어를 함께 입력해 주세요. 예: 파이썬 asyncio 유튜브 찾아줘")
			return nil
		}
		h.handleYoutubeSearch(ctx, parsed.chatID, query)
		return nil
	}

	if strings.HasPrefix(text, "/") {
		return h.handleCommand(ctx, parsed.chatID, text, nowMs)
	}

	return h.handleFreeText(ctx, parsed.chatID, text, nowMs)
}

func (h *Handler) handleFreeText(ctx context.Context, chatID int64, text string, nowMs int64) error {
	chatKey := chatIDKey(chatID)
	adapterName, err := h.resolveChatAdapter(ctx, chatKey)
	if err != nil {
		return err
	}
	sess, err := h.sessions.GetOrCreateActive(ctx, h.bot.BotID, chatKey, adapterName, nowMs)
	if err != nil {
		return fmt.Errorf("get or create session: %w", err)
	}

	turnID, err := h.store.CreateTurnAndJob(ctx, sess.SessionID, h.bot.BotID, chatKey, text, nowMs)
	if err != nil {
		if isActiveRunExists(err) {
			h.send(ctx, chatID, "A run is already active in this chat. Use /stop first.")
			return nil
		}
		return fmt.Errorf("enqueue turn: %w", err)
	}

	keyboard, err := h.buildTurnActionKeyboard(ctx, chatKey, sess.SessionID, turnID, nowMs)
	if err != nil {
		return err
	}
	h.sendWithKeyboard(ctx, chatID,
		fmt.Sprintf("Queued turn: %s\nsession=%s\nagent=%s", turnID, sess.SessionID, adapterName),
		keyboard)
	return nil
}

func (h *Handler) resolveChatAdapter(ctx context.Context, chatKey string) (string, error) {
	status, err := h.sessions.Status(ctx, h.bot.BotID, chatKey)
	if err != nil {
		return "", err
	}
	if status != nil && status.AdapterName != "" {
		return status.AdapterName, nil
	}
	return h.bot.Adapter, nil
}

func (h *Handler) providerDefaultModel(provider string) string {
	return h.bot.DefaultModels[provider]
}

func (h *Handler) providerDefaultOrPresetModel(provider string) string {
	return models.ResolveProviderDefault(provider, h.providerDefaultModel(provider))
}

func (h *Handler) providerModelsText(provider string) string {
	available := models.Available(provider)
	if len(available) == 0 {
		return "none"
	}
	return strings.Join(available, ", ")
}

func (h *Handler) send(ctx context.Context, chatID int64, text string) {
	if _, err := h.client.SendMessage(ctx, chatID, text, "", nil); err != nil {
		slog.Error("send message failed", "bot_id", h.bot.BotID, "chat_id", chatID, "err", err)
	}
}

func (h *Handler) sendWithKeyboard(ctx context.Context, chatID int64, text string, keyboard [][]telegram.Button) {
	if _, err := h.client.SendMessage(ctx, chatID, text, "", keyboard); err != nil {
		slog.Error("send message failed", "bot_id", h.bot.BotID, "chat_id", chatID, "err", err)
	}
}

func (h *Handler) answerCallback(ctx context.Context, callbackQueryID, text string, nowMs int64) {
	if err := h.client.AnswerCallbackQuery(ctx, callbackQueryID, text); err != nil {
		slog.Error("answer callback failed", "bot_id", h.bot.BotID, "err", err)
		h.incrementMetric(ctx, "callback_ack_failed", nowMs)
		return
	}
	h.incrementMetric(ctx, "callback_ack_success", nowMs)
}

func (h *Handler) safeAnswerCallback(ctx context.Context, callbackQueryID, text string, nowMs int64) {
	if err := h.client.AnswerCallbackQuery(ctx, callbackQueryID, text); err != nil {
		slog.Error("failed to answer callback query", "bot_id", h.bot.BotID, "callback_query_id", callbackQueryID, "err", err)
		h.incrementMetric(ctx, "callback_ack_failed", nowMs)
	}
}

func (h *Handler) incrementMetric(ctx context.Context, key string, nowMs int64) {
	if err := h.store.IncrementMetric(ctx, h.bot.BotID, key, 1, nowMs); err != nil {
		slog.Error("increment metric failed", "bot_id", h.bot.BotID, "metric", key, "err", err)
	}
}

func isActiveRunExists(err error) bool {
	return errors.Is(err, store.ErrActiveRunExists)
}

// chatIDKey renders a Telegram numeric chat id as the string key used
// throughout the store.
func chatIDKey(chatID int64) string {
	return fmt.Sprintf("%d", chatID)
}
