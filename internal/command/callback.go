package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentrelay/relay/internal/prompt"
	"github.com/agentrelay/relay/internal/store"
	"github.com/agentrelay/relay/internal/telegram"
	"github.com/agentrelay/relay/internal/token"
)

const maxDeferredQueue = 10

func (h *Handler) handleCallback(ctx context.Context, chatID int64, callbackQueryID, callbackData string, nowMs int64) error {
	chatKey := chatIDKey(chatID)

	if callbackData == "stop_run" {
		stopped, err := h.store.CancelActiveTurn(ctx, h.bot.BotID, chatKey)
		if err != nil {
			return err
		}
		h.answerCallback(ctx, callbackQueryID, stoppingText(stopped), nowMs)
		return nil
	}

	if !strings.HasPrefix(callbackData, "act:") {
		h.answerCallback(ctx, callbackQueryID, "Unsupported action", nowMs)
		return nil
	}

	tok := strings.TrimSpace(strings.SplitN(callbackData, ":", 2)[1])
	if tok == "" {
		h.answerCallback(ctx, callbackQueryID, "Invalid action token", nowMs)
		return nil
	}

	payload, err := h.tokens.Consume(ctx, tok, h.bot.BotID, chatKey, nowMs)
	if errors.Is(err, store.ErrTokenInvalid) {
		h.answerCallback(ctx, callbackQueryID, "Action expired or already used", nowMs)
		return nil
	}
	if err != nil {
		return err
	}

	if payload.RunSource == token.RunSourceDirectCancel || payload.ActionType == token.ActionStop {
		stopped, err := h.store.CancelActiveTurn(ctx, h.bot.BotID, chatKey)
		if err != nil {
			return err
		}
		h.answerCallback(ctx, callbackQueryID, stoppingText(stopped), nowMs)
		return nil
	}

	switch payload.ActionType {
	case token.ActionSummary, token.ActionRegen, token.ActionNext:
	default:
		h.answerCallback(ctx, callbackQueryID, "Unknown action", nowMs)
		return nil
	}

	promptText, err := h.buildPromptFromAction(ctx, payload)
	if err != nil {
		return err
	}
	if promptText == "" {
		h.answerCallback(ctx, callbackQueryID, "Cannot build prompt for action", nowMs)
		return nil
	}

	active, err := h.store.HasActiveRun(ctx, h.bot.BotID, chatKey)
	if err != nil {
		return err
	}
	if active {
		if err := h.enqueueDeferred(ctx, chatKey, payload, promptText, nowMs); err != nil {
			return err
		}
		h.answerCallback(ctx, callbackQueryID, "Queued after current run", nowMs)
		h.send(ctx, chatID, fmt.Sprintf("[button] queued %s action.", payload.ActionType))
		return nil
	}

	turnID, err := h.store.CreateTurnAndJob(ctx, payload.SessionID, h.bot.BotID, chatKey, promptText, nowMs)
	if err != nil {
		if isActiveRunExists(err) {
			if err := h.enqueueDeferred(ctx, chatKey, payload, promptText, nowMs); err != nil {
				return err
			}
			h.answerCallback(ctx, callbackQueryID, "Queued after current run", nowMs)
			h.send(ctx, chatID, fmt.Sprintf("[button] queued %s action.", payload.ActionType))
			return nil
		}
		return fmt.Errorf("enqueue button turn: %w", err)
	}

	h.answerCallback(ctx, callbackQueryID, "Started", nowMs)
	keyboard, err := h.buildTurnActionKeyboard(ctx, chatKey, payload.SessionID, turnID, nowMs)
	if err != nil {
		return err
	}
	h.sendWithKeyboard(ctx, chatID, fmt.Sprintf("[button] queued %s: %s", payload.ActionType, turnID), keyboard)
	return nil
}

func (h *Handler) enqueueDeferred(ctx context.Context, chatKey string, payload *token.Payload, promptText string, nowMs int64) error {
	_, err := h.store.EnqueueDeferred(ctx, h.bot.BotID, chatKey, payload.SessionID, payload.ActionType, promptText, payload.OriginTurnID, maxDeferredQueue, nowMs)
	return err
}

func (h *Handler) buildPromptFromAction(ctx context.Context, payload *token.Payload) (string, error) {
	session, err := h.store.GetSession(ctx, payload.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	originTurn, err := h.store.GetTurn(ctx, payload.OriginTurnID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	latest, err := h.store.GetLatestCompletedTurnForSession(ctx, payload.SessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	if errors.Is(err, store.ErrNotFound) {
		latest = nil
	}

	switch payload.ActionType {
	case token.ActionSummary:
		return prompt.BuildSummary(session, originTurn, latest), nil
	case token.ActionRegen:
		return prompt.BuildRegen(session, originTurn), nil
	case token.ActionNext:
		latestAssistant := ""
		if latest != nil {
			latestAssistant = latest.AssistantText
		}
		return prompt.BuildNext(session, originTurn, latestAssistant), nil
	default:
		return "", nil
	}
}

// buildTurnActionKeyboard issues one action token per inline button and
// returns the resulting 2x2 keyboard. A token issuance failure aborts
// the keyboard and is returned as an error.
func (h *Handler) buildTurnActionKeyboard(ctx context.Context, chatKey, sessionID, originTurnID string, nowMs int64) ([][]telegram.Button, error) {
	tokens := make(map[string]string, len(inlineActions))
	for _, action := range inlineActions {
		runSource := token.RunSourceButton
		if action == "stop" {
			runSource = token.RunSourceDirectCancel
		}
		tok, err := h.tokens.Issue(ctx, h.bot.BotID, chatKey, action, runSource, sessionID, originTurnID, nowMs)
		if err != nil {
			return nil, fmt.Errorf("issue action token: %w", err)
		}
		tokens[action] = tok
	}

	return [][]telegram.Button{
		{
			{Text: "요약", CallbackData: "act:" + tokens["summary"]},
			{Text: "다시생성", CallbackData: "act:" + tokens["regen"]},
		},
		{
			{Text: "다음추천", CallbackData: "act:" + tokens["next"]},
			{Text: "중단", CallbackData: "act:" + tokens["stop"]},
		},
	}, nil
}

func stoppingText(stopped bool) string {
	if stopped {
		return "Stopping..."
	}
	return "No active run"
}
