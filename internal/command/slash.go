package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentrelay/relay/internal/models"
)

func (h *Handler) handleCommand(ctx context.Context, chatID int64, text string, nowMs int64) error {
	fields := strings.SplitN(text, " ", 2)
	command := fields[0]
	arg := ""
	if len(fields) > 1 {
		arg = strings.TrimSpace(fields[1])
	}

	switch command {
	case "/start":
		h.send(ctx, chatID, h.welcomeText())
	case "/help":
		h.send(ctx, chatID, h.helpText())
	case "/youtube", "/yt":
		h.handleYoutubeCommand(ctx, chatID, arg)
	case "/new":
		return h.handleNewCommand(ctx, chatID, nowMs)
	case "/status":
		return h.handleStatusCommand(ctx, chatID)
	case "/reset":
		return h.handleResetCommand(ctx, chatID, nowMs)
	case "/summary":
		return h.handleSummaryCommand(ctx, chatID)
	case "/mode":
		return h.handleModeCommand(ctx, chatID, arg, nowMs)
	case "/model":
		return h.handleModelCommand(ctx, chatID, arg, nowMs)
	case "/project":
		return h.handleProjectCommand(ctx, chatID, arg, nowMs)
	case "/unsafe":
		return h.handleUnsafeCommand(ctx, chatID, arg, nowMs)
	case "/providers":
		h.handleProvidersCommand(ctx, chatID)
	case "/stop":
		return h.handleStopCommand(ctx, chatID, nowMs)
	case "/echo":
		if arg == "" {
			arg = "(empty)"
		}
		h.send(ctx, chatID, arg)
	default:
		h.send(ctx, chatID, fmt.Sprintf("Unknown command: %s\n\n%s", command, h.helpText()))
	}
	return nil
}

func (h *Handler) handleYoutubeCommand(ctx context.Context, chatID int64, arg string) {
	if h.youtube == nil {
		h.send(ctx, chatID, "YouTube search is not enabled.")
		return
	}
	if arg == "" {
		h.send(ctx, chatID, "Usage: /youtube <query>")
		return
	}
	h.handleYoutubeSearch(ctx, chatID, arg)
}

func (h *Handler) handleNewCommand(ctx context.Context, chatID int64, nowMs int64) error {
	chatKey := chatIDKey(chatID)
	adapterName, err := h.resolveChatAdapter(ctx, chatKey)
	if err != nil {
		return err
	}
	sess, err := h.sessions.CreateNew(ctx, h.bot.BotID, chatKey, adapterName, nowMs)
	if err != nil {
		return fmt.Errorf("create new session: %w", err)
	}
	h.send(ctx, chatID, fmt.Sprintf("New session created: %s (adapter=%s)", sess.SessionID, adapterName))
	return nil
}

func (h *Handler) handleStatusCommand(ctx context.Context, chatID int64) error {
	chatKey := chatIDKey(chatID)
	status, err := h.sessions.Status(ctx, h.bot.BotID, chatKey)
	if err != nil {
		return err
	}
	if status == nil {
		h.send(ctx, chatID, "No session yet. Send a message to start.")
		return nil
	}
	model := models.ResolveSelected(status.AdapterName, status.AdapterModel, h.bot.DefaultModels)
	if model == "" {
		model = "default"
	}
	thread := status.AdapterThreadID
	if thread == "" {
		thread = "none"
	}
	summary := summaryPreview(status.RollingSummary)
	if summary == "" {
		summary = "none"
	}
	h.send(ctx, chatID, strings.Join([]string{
		fmt.Sprintf("bot=%s", h.bot.BotID),
		fmt.Sprintf("adapter=%s", status.AdapterName),
		fmt.Sprintf("model=%s", model),
		fmt.Sprintf("project=%s", projectDisplay(status.ProjectRoot)),
		fmt.Sprintf("unsafe_until=%s", unsafeDisplay(status.UnsafeUntil)),
		fmt.Sprintf("session=%s", status.SessionID),
		fmt.Sprintf("thread=%s", thread),
		fmt.Sprintf("summary=%s", summary),
	}, "\n"))
	return nil
}

func (h *Handler) handleResetCommand(ctx context.Context, chatID int64, nowMs int64) error {
	chatKey := chatIDKey(chatID)
	existing, err := h.sessions.Status(ctx, h.bot.BotID, chatKey)
	if err != nil {
		return err
	}
	adapterName := h.bot.Adapter
	if existing != nil {
		adapterName = existing.AdapterName
	}
	newSess, err := h.sessions.Reset(ctx, h.bot.BotID, chatKey, adapterName, nowMs)
	if err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	h.send(ctx, chatID, fmt.Sprintf("Session reset. New session=%s (adapter=%s)", newSess.SessionID, adapterName))
	return nil
}

func (h *Handler) handleSummaryCommand(ctx context.Context, chatID int64) error {
	chatKey := chatIDKey(chatID)
	summary, err := h.sessions.GetSummary(ctx, h.bot.BotID, chatKey)
	if err != nil {
		return err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		h.send(ctx, chatID, "No summary yet.")
		return nil
	}
	if len(summary) > 3500 {
		summary = summary[:3500]
	}
	h.send(ctx, chatID, "Summary:\n"+summary)
	return nil
}

func (h *Handler) handleProvidersCommand(ctx context.Context, chatID int64) {
	lines := []string{"Available CLI providers:"}
	for _, provider := range models.SupportedProviders {
		installed := "no"
		if h.registry != nil && h.registry.Installed(provider) {
			installed = "yes"
		}
		model := h.providerDefaultModel(provider)
		if model == "" {
			model = "default"
		}
		lines = append(lines, fmt.Sprintf("- %s: installed=%s, model=%s", provider, installed, model))
	}
	h.send(ctx, chatID, strings.Join(lines, "\n"))
}

func (h *Handler) handleStopCommand(ctx context.Context, chatID int64, nowMs int64) error {
	chatKey := chatIDKey(chatID)
	stopped, err := h.store.CancelActiveTurn(ctx, h.bot.BotID, chatKey)
	if err != nil {
		return err
	}
	if stopped {
		h.send(ctx, chatID, "Stop requested.")
	} else {
		h.send(ctx, chatID, "No active run.")
	}
	return nil
}

func (h *Handler) welcomeText() string {
	return fmt.Sprintf("%s ready.\nSend a message to run CLI.\nUse /help for commands.", h.bot.BotName)
}

func (h *Handler) helpText() string {
	return "/start /help /new /status /reset /summary /mode /model /project /unsafe /providers /stop /youtube\n" +
		"Plain text message => enqueue CLI turn"
}

func summaryPreview(summary string) string {
	preview := strings.ReplaceAll(strings.TrimSpace(summary), "\n", " ")
	if len(preview) > 120 {
		preview = preview[:117] + "..."
	}
	return preview
}
