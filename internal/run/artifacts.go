package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/agentrelay/relay/internal/adapter"
	"github.com/agentrelay/relay/internal/store"
)

// Image/HTML artifact delivery: a completed turn whose assistant text
// (or originating prompt) points at a generated file gets that file
// sent to the chat as a photo or document, once per chat. Grounded on
// original_source/src/telegram_bot_new/workers/run_worker.py's
// _deliver_generated_artifacts / _extract_local_paths /
// _find_recent_files / _augment_prompt_for_generation_request.

var (
	imageSuffixes = map[string]bool{
		".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
		".webp": true, ".bmp": true, ".svg": true,
	}
	htmlSuffixes = map[string]bool{".html": true, ".htm": true}

	skipDirNames = map[string]bool{
		".git": true, ".venv": true, "venv": true, "node_modules": true,
		"__pycache__": true, ".pytest_cache": true, ".mypy_cache": true,
	}

	imageRequestKeywords = []string{
		"image", "png", "jpg", "jpeg", "gif", "webp", "photo", "diagram",
		"chart", "plot", "figure", "draw", "render",
		"이미지", "사진", "그림", "차트", "그래프",
	}
	htmlRequestKeywords = []string{
		"html", "css", "landing page", "web page", "webpage", "site",
		"랜딩", "웹페이지", "페이지",
	}

	markdownImageLinkPattern = regexp.MustCompile(`!\[[^\]]*\]\(([^)]+)\)`)
	markdownLinkPattern      = regexp.MustCompile(`\[[^\]]*\]\(([^)]+)\)`)
)

// looksLikeImageRequest reports whether prompt reads like a request
// to generate an image, diagram, or chart.
func looksLikeImageRequest(prompt string) bool {
	return containsAnyKeyword(prompt, imageRequestKeywords)
}

// looksLikeHTMLRequest reports whether prompt reads like a request to
// generate an HTML page.
func looksLikeHTMLRequest(prompt string) bool {
	return containsAnyKeyword(prompt, htmlRequestKeywords)
}

func containsAnyKeyword(prompt string, keywords []string) bool {
	text := strings.ToLower(strings.TrimSpace(prompt))
	if text == "" {
		return false
	}
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// augmentPromptForGenerationRequest appends a delivery-contract note
// nudging the adapter to save generated artifacts as local files with
// a markdown-linkable path, so extractLocalPaths can find them later.
func augmentPromptForGenerationRequest(prompt string) string {
	result := prompt
	if looksLikeImageRequest(prompt) {
		result += "\n\n[Image Delivery Contract]\n" +
			"If you generate an image file, save it as a local file and include at least one markdown image path.\n" +
			"Preferred format:\n" +
			"![generated](./generated/<file>.png)\n" +
			"Use a real existing path only."
	}
	if looksLikeHTMLRequest(prompt) {
		result += "\n\n[HTML Delivery Contract]\n" +
			"If you generate an HTML page, save it as a local file and include a markdown link to that exact file.\n" +
			"Also generate one preview image (png) for chat preview.\n" +
			"Preferred formats:\n" +
			"[landing page](./generated/<file>.html)\n" +
			"![preview](./generated/<file>.png)\n" +
			"Use inline CSS if possible so single-file preview works."
	}
	return result
}

// quotedOrBarePathPatterns builds the suffix-anchored patterns used to
// pull candidate local file paths out of free text: a quoted path, or
// a bare relative/absolute path, each ending in one of suffixes.
func quotedOrBarePathPatterns(suffixes map[string]bool) (quoted, bare *regexp.Regexp) {
	exts := make([]string, 0, len(suffixes))
	for ext := range suffixes {
		exts = append(exts, regexp.QuoteMeta(strings.TrimPrefix(ext, ".")))
	}
	sort.Strings(exts)
	alt := strings.Join(exts, "|")
	quoted = regexp.MustCompile(`(?i)['"]([^'"]+\.(?:` + alt + `))['"]`)
	bare = regexp.MustCompile(`(?i)((?:[A-Za-z]:)?(?:[./\\][^\s'"<>|]+)+\.(?:` + alt + `))`)
	return quoted, bare
}

// extractLocalPaths pulls every existing local file reference with an
// extension in suffixes out of text: markdown image/link targets,
// quoted paths, and bare paths. Remote (http(s)/data) URLs are
// skipped, as are paths that don't resolve to an existing file.
func extractLocalPaths(text string, suffixes map[string]bool) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	quotedPat, barePat := quotedOrBarePathPatterns(suffixes)

	var candidates []string
	for _, m := range markdownImageLinkPattern.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[1])
	}
	for _, m := range markdownLinkPattern.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[1])
	}
	for _, m := range quotedPat.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[1])
	}
	for _, m := range barePat.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[1])
	}

	var paths []string
	seen := make(map[string]bool)
	for _, raw := range candidates {
		candidate := strings.Trim(strings.TrimSpace(raw), `"'`)
		if candidate == "" {
			continue
		}
		lowered := strings.ToLower(candidate)
		if strings.HasPrefix(lowered, "http://") || strings.HasPrefix(lowered, "https://") || strings.HasPrefix(lowered, "data:") {
			continue
		}
		resolved, err := resolveCandidatePath(candidate)
		if err != nil {
			continue
		}
		if !suffixes[strings.ToLower(filepath.Ext(resolved))] {
			continue
		}
		key := strings.ToLower(resolved)
		if seen[key] {
			continue
		}
		info, err := os.Stat(resolved)
		if err != nil || info.IsDir() {
			continue
		}
		seen[key] = true
		paths = append(paths, resolved)
	}
	return paths
}

func resolveCandidatePath(candidate string) (string, error) {
	if strings.HasPrefix(candidate, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		candidate = filepath.Join(home, candidate[2:])
	}
	if filepath.IsAbs(candidate) {
		return filepath.Clean(candidate), nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Clean(filepath.Join(cwd, candidate)), nil
}

// findRecentFiles scans the working directory and the OS temp
// directory for files with a matching suffix written at or after
// since (with a 2s grace window for clock skew), returning up to
// limit, most-recent first. Used as a fallback when assistantText
// contains no explicit file reference but the user's prompt clearly
// asked for a generated artifact.
func findRecentFiles(since time.Time, suffixes map[string]bool, limit int) []string {
	if limit < 1 {
		limit = 1
	}
	cutoff := since.Add(-2 * time.Second)

	var roots []string
	if cwd, err := os.Getwd(); err == nil {
		roots = append(roots, cwd)
	}
	roots = append(roots, os.TempDir())

	type candidate struct {
		modTime time.Time
		path    string
	}
	var discovered []candidate
	seen := make(map[string]bool)

	for _, root := range roots {
		resolvedRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		filepath.WalkDir(resolvedRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if skipDirNames[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if !suffixes[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			key := strings.ToLower(path)
			if seen[key] {
				return nil
			}
			info, err := d.Info()
			if err != nil || info.Size() <= 0 || info.ModTime().Before(cutoff) {
				return nil
			}
			seen[key] = true
			discovered = append(discovered, candidate{modTime: info.ModTime(), path: path})
			return nil
		})
	}

	sort.Slice(discovered, func(i, j int) bool { return discovered[i].modTime.After(discovered[j].modTime) })
	if len(discovered) > limit {
		discovered = discovered[:limit]
	}
	out := make([]string, len(discovered))
	for i, c := range discovered {
		out[i] = c.path
	}
	return out
}

// artifactDedupeKey identifies one file's content at a point in time,
// so the same file isn't delivered twice for the same chat even
// across multiple turns.
func artifactDedupeKey(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return strings.ToLower(path)
	}
	return fmt.Sprintf("%s:%d:%d", strings.ToLower(path), info.ModTime().UnixNano(), info.Size())
}

type artifactItem struct {
	path string
	kind string // "image" | "html"
}

// deliverGeneratedArtifacts extracts image/HTML file paths out of
// assistantText (falling back to a recent-file scan when the prompt
// clearly asked for one but the adapter didn't link it), then sends
// each exactly once per (bot, chat) via SendPhoto/SendDocument.
func (w *Worker) deliverGeneratedArtifacts(ctx context.Context, turn *store.Turn, botID string, chatID int64, userText, assistantText string, runStartedAt time.Time, log *slog.Logger) {
	if w.client == nil {
		return
	}

	imagePaths := extractLocalPaths(assistantText, imageSuffixes)
	htmlPaths := extractLocalPaths(assistantText, htmlSuffixes)
	if len(imagePaths) == 0 && looksLikeImageRequest(userText) {
		imagePaths = findRecentFiles(runStartedAt, imageSuffixes, 3)
	}
	if len(htmlPaths) == 0 && looksLikeHTMLRequest(userText) {
		htmlPaths = findRecentFiles(runStartedAt, htmlSuffixes, 2)
	}
	if len(imagePaths) == 0 && len(htmlPaths) == 0 {
		return
	}

	registryKey := fmt.Sprintf("%s:%d", botID, chatID)
	var items []artifactItem

	w.artifactsMu.Lock()
	sent := w.sentArtifacts[registryKey]
	if sent == nil {
		sent = make(map[string]bool)
		w.sentArtifacts[registryKey] = sent
	}
	for _, p := range imagePaths {
		key := artifactDedupeKey(p)
		if sent[key] {
			continue
		}
		sent[key] = true
		items = append(items, artifactItem{path: p, kind: "image"})
	}
	for _, p := range htmlPaths {
		key := artifactDedupeKey(p)
		if sent[key] {
			continue
		}
		sent[key] = true
		items = append(items, artifactItem{path: p, kind: "html"})
	}
	w.artifactsMu.Unlock()

	for _, item := range items {
		w.deliverOneArtifact(ctx, turn, botID, chatID, item, log)
	}
}

func (w *Worker) deliverOneArtifact(ctx context.Context, turn *store.Turn, botID string, chatID int64, item artifactItem, log *slog.Logger) {
	data, err := os.ReadFile(item.path)
	if err != nil {
		log.Warn("artifact read failed", "path", item.path, "error", err)
		w.appendDeliveryError(ctx, turn, botID, fmt.Sprintf("artifact delivery failed for %s: %v", filepath.Base(item.path), err), log)
		return
	}
	name := filepath.Base(item.path)
	caption := fmt.Sprintf("[artifact:%s] %s", item.kind, name)

	var sendErr error
	if item.kind == "image" {
		if sendErr = w.client.SendPhoto(ctx, chatID, name, data, caption); sendErr != nil {
			sendErr = w.client.SendDocument(ctx, chatID, name, data, caption)
		}
	} else {
		sendErr = w.client.SendDocument(ctx, chatID, name, data, caption)
	}
	if sendErr != nil {
		log.Warn("artifact delivery failed", "bot_id", botID, "chat_id", chatID, "path", item.path, "error", sendErr)
		w.appendDeliveryError(ctx, turn, botID, fmt.Sprintf("artifact delivery failed for %s: %v", name, sendErr), log)
	}
}

// appendDeliveryError persists a synthetic delivery_error event at the
// next unused seq for turn, for a delivery failure that happens after
// the adapter event loop (and persistAndStream with it) has already
// finished.
func (w *Worker) appendDeliveryError(ctx context.Context, turn *store.Turn, botID, message string, log *slog.Logger) {
	seq, err := w.store.GetTurnEventsCount(ctx, turn.TurnID)
	if err != nil {
		log.Warn("read turn event count for delivery_error failed", "error", err)
		return
	}
	seq++
	payload, _ := json.Marshal(map[string]any{"message": message})
	now := time.Now().UnixMilli()
	if err := w.store.AppendEvent(ctx, turn.TurnID, botID, seq, adapter.DeliveryError, string(payload), now); err != nil && !errors.Is(err, store.ErrDuplicateEvent) {
		log.Warn("append delivery_error event failed", "error", err)
	}
}
