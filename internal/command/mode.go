package command

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/agentrelay/relay/internal/models"
)

func (h *Handler) handleModeCommand(ctx context.Context, chatID int64, arg string, nowMs int64) error {
	chatKey := chatIDKey(chatID)
	status, err := h.sessions.Status(ctx, h.bot.BotID, chatKey)
	if err != nil {
		return err
	}
	currentAdapter := h.bot.Adapter
	var currentModel string
	if status != nil {
		currentAdapter = status.AdapterName
		currentModel = status.AdapterModel
	}
	currentResolved := models.ResolveSelected(currentAdapter, currentModel, h.bot.DefaultModels)
	if currentResolved == "" {
		currentResolved = "default"
	}

	if arg == "" {
		h.send(ctx, chatID, strings.Join([]string{
			fmt.Sprintf("mode=cli adapter=%s model=%s", currentAdapter, currentResolved),
			"usage: /mode <codex|gemini|claude>",
			fmt.Sprintf("providers=%s", strings.Join(models.SupportedProviders, ", ")),
		}, "\n"))
		return nil
	}

	nextAdapter := strings.ToLower(strings.TrimSpace(arg))
	if !isSupportedProvider(nextAdapter) {
		h.send(ctx, chatID, fmt.Sprintf("Unsupported provider: %s. Use one of: %s", arg, strings.Join(models.SupportedProviders, ", ")))
		return nil
	}
	if nextAdapter == currentAdapter {
		h.send(ctx, chatID, fmt.Sprintf("mode unchanged: adapter=%s", currentAdapter))
		return nil
	}

	active, err := h.store.HasActiveRun(ctx, h.bot.BotID, chatKey)
	if err != nil {
		return err
	}
	if active {
		h.send(ctx, chatID, "A run is active. Use /stop first, then retry /mode.")
		return nil
	}

	var sessionID string
	if status == nil {
		sess, err := h.sessions.GetOrCreateActive(ctx, h.bot.BotID, chatKey, nextAdapter, nowMs)
		if err != nil {
			return err
		}
		sessionID = sess.SessionID
	} else {
		sessionID = status.SessionID
	}
	if err := h.sessions.SwitchAdapter(ctx, h.bot.BotID, chatKey, sessionID, nextAdapter, nowMs); err != nil {
		return err
	}

	slog.Info("provider switched", "bot_id", h.bot.BotID, "chat_id", chatID, "from", currentAdapter, "to", nextAdapter)
	h.send(ctx, chatID, strings.Join([]string{
		fmt.Sprintf("mode switched: %s -> %s", currentAdapter, nextAdapter),
		fmt.Sprintf("model=%s", orDefault(h.providerDefaultOrPresetModel(nextAdapter))),
		fmt.Sprintf("session=%s", sessionID),
		"context continuity: rolling summary retained, provider thread reset.",
	}, "\n"))
	return nil
}

func (h *Handler) handleModelCommand(ctx context.Context, chatID int64, arg string, nowMs int64) error {
	chatKey := chatIDKey(chatID)
	status, err := h.sessions.Status(ctx, h.bot.BotID, chatKey)
	if err != nil {
		return err
	}
	currentAdapter := h.bot.Adapter
	var currentModel string
	if status != nil {
		currentAdapter = status.AdapterName
		currentModel = status.AdapterModel
	}
	currentResolved := models.ResolveSelected(currentAdapter, currentModel, h.bot.DefaultModels)
	if currentResolved == "" {
		currentResolved = "default"
	}
	allowed := models.Available(currentAdapter)

	if arg == "" {
		h.send(ctx, chatID, strings.Join([]string{
			fmt.Sprintf("adapter=%s", currentAdapter),
			fmt.Sprintf("model=%s", currentResolved),
			fmt.Sprintf("available_models=%s", h.providerModelsText(currentAdapter)),
			"usage: /model <model-name>",
		}, "\n"))
		return nil
	}

	nextModel := strings.TrimSpace(arg)
	if nextModel == "" {
		h.send(ctx, chatID, "Model name is required. usage: /model <model-name>")
		return nil
	}
	if len(allowed) == 0 {
		h.send(ctx, chatID, fmt.Sprintf("No selectable model for provider=%s", currentAdapter))
		return nil
	}
	if !models.IsAllowed(currentAdapter, nextModel) {
		h.send(ctx, chatID, fmt.Sprintf("Unsupported model for %s: %s\nallowed=%s", currentAdapter, nextModel, h.providerModelsText(currentAdapter)))
		return nil
	}

	active, err := h.store.HasActiveRun(ctx, h.bot.BotID, chatKey)
	if err != nil {
		return err
	}
	if active {
		h.send(ctx, chatID, "A run is active. Use /stop first, then retry /model.")
		return nil
	}

	var sessionID string
	if status == nil {
		sess, err := h.sessions.GetOrCreateActive(ctx, h.bot.BotID, chatKey, currentAdapter, nowMs)
		if err != nil {
			return err
		}
		sessionID = sess.SessionID
	} else {
		sessionID = status.SessionID
	}
	if err := h.sessions.SetModel(ctx, h.bot.BotID, chatKey, sessionID, nextModel, nowMs); err != nil {
		return err
	}

	h.send(ctx, chatID, strings.Join([]string{
		fmt.Sprintf("model updated: %s -> %s", currentResolved, nextModel),
		fmt.Sprintf("adapter=%s", currentAdapter),
		fmt.Sprintf("model=%s", nextModel),
		fmt.Sprintf("session=%s", sessionID),
	}, "\n"))
	return nil
}

// defaultUnsafeMinutes is applied when /unsafe on is given without an
// explicit minute count.
const defaultUnsafeMinutes = 60

func (h *Handler) handleProjectCommand(ctx context.Context, chatID int64, arg string, nowMs int64) error {
	chatKey := chatIDKey(chatID)
	status, err := h.sessions.Status(ctx, h.bot.BotID, chatKey)
	if err != nil {
		return err
	}
	current := ""
	if status != nil {
		current = status.ProjectRoot
	}

	if arg == "" {
		h.send(ctx, chatID, strings.Join([]string{
			fmt.Sprintf("project=%s", projectDisplay(current)),
			"usage: /project <dir>",
		}, "\n"))
		return nil
	}

	abs, err := filepath.Abs(arg)
	if err != nil {
		h.send(ctx, chatID, fmt.Sprintf("Invalid directory: %s", arg))
		return nil
	}

	active, err := h.store.HasActiveRun(ctx, h.bot.BotID, chatKey)
	if err != nil {
		return err
	}
	if active {
		h.send(ctx, chatID, "A run is active. Use /stop first, then retry /project.")
		return nil
	}

	var sessionID string
	if status == nil {
		sess, err := h.sessions.GetOrCreateActive(ctx, h.bot.BotID, chatKey, h.bot.Adapter, nowMs)
		if err != nil {
			return err
		}
		sessionID = sess.SessionID
	} else {
		sessionID = status.SessionID
	}
	if err := h.sessions.SetProjectRoot(ctx, h.bot.BotID, chatKey, sessionID, abs, nowMs); err != nil {
		return err
	}

	h.send(ctx, chatID, fmt.Sprintf("project updated: %s -> %s", projectDisplay(current), abs))
	return nil
}

func (h *Handler) handleUnsafeCommand(ctx context.Context, chatID int64, arg string, nowMs int64) error {
	chatKey := chatIDKey(chatID)
	status, err := h.sessions.Status(ctx, h.bot.BotID, chatKey)
	if err != nil {
		return err
	}
	var currentUntil int64
	if status != nil {
		currentUntil = status.UnsafeUntil
	}

	if arg == "" {
		h.send(ctx, chatID, strings.Join([]string{
			fmt.Sprintf("unsafe_until=%s", unsafeDisplay(currentUntil)),
			"usage: /unsafe on [minutes] | off",
		}, "\n"))
		return nil
	}

	fields := strings.Fields(arg)
	var nextUntil int64
	switch strings.ToLower(fields[0]) {
	case "off":
		nextUntil = 0
	case "on":
		minutes := defaultUnsafeMinutes
		if len(fields) > 1 {
			parsed, perr := strconv.Atoi(fields[1])
			if perr != nil || parsed <= 0 {
				h.send(ctx, chatID, "Invalid minute count. usage: /unsafe on [minutes] | off")
				return nil
			}
			minutes = parsed
		}
		nextUntil = nowMs + int64(minutes)*60_000
	default:
		h.send(ctx, chatID, "usage: /unsafe on [minutes] | off")
		return nil
	}

	active, err := h.store.HasActiveRun(ctx, h.bot.BotID, chatKey)
	if err != nil {
		return err
	}
	if active {
		h.send(ctx, chatID, "A run is active. Use /stop first, then retry /unsafe.")
		return nil
	}

	var sessionID string
	if status == nil {
		sess, err := h.sessions.GetOrCreateActive(ctx, h.bot.BotID, chatKey, h.bot.Adapter, nowMs)
		if err != nil {
			return err
		}
		sessionID = sess.SessionID
	} else {
		sessionID = status.SessionID
	}
	if err := h.sessions.SetUnsafeUntil(ctx, h.bot.BotID, chatKey, sessionID, nextUntil, nowMs); err != nil {
		return err
	}

	h.send(ctx, chatID, fmt.Sprintf("unsafe updated: %s -> %s", unsafeDisplay(currentUntil), unsafeDisplay(nextUntil)))
	return nil
}

func projectDisplay(root string) string {
	if root == "" {
		return "default"
	}
	return root
}

func unsafeDisplay(until int64) string {
	if until == 0 {
		return "off"
	}
	return strconv.FormatInt(until, 10)
}

func isSupportedProvider(name string) bool {
	for _, p := range models.SupportedProviders {
		if p == name {
			return true
		}
	}
	return false
}

func orDefault(s string) string {
	if s == "" {
		return "default"
	}
	return s
}
