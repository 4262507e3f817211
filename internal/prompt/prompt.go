// Package prompt builds the follow-up prompts sent when the user taps
// an inline action button (summary / regen / next). Grounded on
// original_source/src/telegram_bot_new/services/button_prompt_service.py.
package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agentrelay/relay/internal/store"
)

var urlRe = regexp.MustCompile(`https?://[^\s)>"]+`)

func orNone(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(none)"
	}
	return s
}

// BuildSummary builds the Korean-language rolling-summary prompt for
// the "summary" action.
func BuildSummary(session *store.Session, originTurn, latestTurn *store.Turn) string {
	latestAssistant := ""
	if latestTurn != nil {
		latestAssistant = latestTurn.AssistantText
	}
	return fmt.Sprintf(
		"You are helping in Telegram. Create a concise Korean summary for the user.\n"+
			"Output format:\n"+
			"1) 핵심 요약 (5-8줄)\n"+
			"2) 다음 액션 3개\n"+
			"3) 주의할 점 1-2개\n\n"+
			"[Rolling Summary]\n%s\n\n"+
			"[Origin User Request]\n%s\n\n"+
			"[Origin Assistant Response]\n%s\n\n"+
			"[Latest Assistant Response]\n%s\n",
		orNone(session.RollingSummary), orNone(originTurn.UserText), orNone(originTurn.AssistantText), orNone(latestAssistant),
	)
}

// BuildRegen builds the "try again, differently" prompt for the
// "regen" action.
func BuildRegen(session *store.Session, originTurn *store.Turn) string {
	return fmt.Sprintf(
		"Regenerate an alternative answer for the same request.\n"+
			"Constraints:\n"+
			"- Use a different approach.\n"+
			"- Be more concise and structured.\n"+
			"- Keep practical and actionable style.\n\n"+
			"[Rolling Summary]\n%s\n\n"+
			"[Original User Request]\n%s\n\n"+
			"[Previous Assistant Response]\n%s\n",
		orNone(session.RollingSummary), orNone(originTurn.UserText), orNone(originTurn.AssistantText),
	)
}

// BuildNext builds the "what's next" recommendation prompt for the
// "next" action, surfacing up to 6 links seen in latestAssistantText
// (falling back to the origin turn's own response).
func BuildNext(session *store.Session, originTurn *store.Turn, latestAssistantText string) string {
	source := latestAssistantText
	if source == "" {
		source = originTurn.AssistantText
	}
	urls := extractURLs(source)
	urlBlock := "(none)"
	if len(urls) > 0 {
		if len(urls) > 6 {
			urls = urls[:6]
		}
		lines := make([]string, len(urls))
		for i, u := range urls {
			lines[i] = "- " + u
		}
		urlBlock = strings.Join(lines, "\n")
	}
	return fmt.Sprintf(
		"Suggest 3 next recommendations for Telegram user.\n"+
			"Output format for each item:\n"+
			"- title\n"+
			"- why (one line)\n"+
			"- optional link\n\n"+
			"[Rolling Summary]\n%s\n\n"+
			"[User Request]\n%s\n\n"+
			"[Assistant Context]\n%s\n\n"+
			"[Detected Links]\n%s\n",
		orNone(session.RollingSummary), orNone(originTurn.UserText), orNone(originTurn.AssistantText), urlBlock,
	)
}

func extractURLs(text string) []string {
	if text == "" {
		return nil
	}
	matches := urlRe.FindAllString(text, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		normalized := strings.TrimRight(m, ".,;!?)")
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
