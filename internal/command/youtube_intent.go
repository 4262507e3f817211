package command

import (
	"context"
	"regexp"
	"strings"
)

// youtubeVariants are the spellings (English and Korean transliterations)
// that trigger YouTube-intent sniffing on a plain-text message.
var youtubeVariants = []string{"youtube", "유튜브", "유툽", "유트브", "유트뷰"}

// searchHints must co-occur with a youtubeVariant for the message to be
// treated as a search request rather than incidental mention.
var searchHints = []string{"search", "find", "recommend", "show", "찾아", "검색", "추천", "보여"}

// cleanupRe strips the intent-carrying words (youtube + search hints +
// filler) from the message, leaving the bare query.
var cleanupRe = regexp.MustCompile(`(?i)\byoutube\b|유튜브|유툽|유트브|유트뷰|동영상|영상|찾아줘|찾아 줘|찾아|검색해줘|검색해 줘|검색|추천해줘|추천해 줘|추천|보여줘|보여 줘|보여|미리보기|미리 보기|형식으로|형식|이런|같은|please|for me`)

var trimCutset = " .,!?\n\t"

// parseYoutubeIntent detects whether text is a free-text request to
// search YouTube, returning (true, query) if so. query is "" if the
// intent is detected but no search terms remain after cleanup.
func parseYoutubeIntent(text string) (bool, string) {
	lowered := strings.ToLower(text)

	hasYoutube := false
	for _, v := range youtubeVariants {
		if strings.Contains(lowered, v) {
			hasYoutube = true
			break
		}
	}
	if !hasYoutube {
		return false, ""
	}

	hasHint := false
	for _, hint := range searchHints {
		if strings.Contains(lowered, hint) {
			hasHint = true
			break
		}
	}
	if !hasHint {
		return false, ""
	}

	cleaned := cleanupRe.ReplaceAllString(text, " ")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	cleaned = strings.Trim(cleaned, trimCutset)
	return true, cleaned
}

func (h *Handler) handleYoutubeSearch(ctx context.Context, chatID int64, query string) {
	normalized := strings.Join(strings.Fields(query), " ")
	if normalized == "" {
		h.send(ctx, chatID, "YouTube 검색어를 입력해 주세요.")
		return
	}

	result, err := h.youtube.SearchFirstVideo(ctx, normalized)
	if err != nil {
		h.send(ctx, chatID, "YouTube 검색 중 오류가 발생했습니다. 잠시 후 다시 시도해 주세요.")
		return
	}
	if result == nil {
		h.send(ctx, chatID, "YouTube 검색 결과를 찾지 못했습니다: "+normalized)
		return
	}

	// Keep the watch URL only so Telegram renders its native preview card.
	h.send(ctx, chatID, result.URL)
}
