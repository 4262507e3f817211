// Package search implements the explicit YouTube-search intent
// (/youtube, /yt): resolve a query to a video id by scraping YouTube's
// results page (falling back to DuckDuckGo), then enrich it via
// YouTube's oEmbed endpoint. Grounded on
// original_source/src/telegram_bot_new/services/youtube_search_service.go.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var (
	videoIDRe  = regexp.MustCompile(`"videoId":"([A-Za-z0-9_-]{11})"`)
	watchURLRe = regexp.MustCompile(`https?://(?:www\.)?youtube\.com/watch\?v=([A-Za-z0-9_-]{11})`)
	shortURLRe = regexp.MustCompile(`https?://youtu\.be/([A-Za-z0-9_-]{11})`)
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Result is the resolved video plus whatever oEmbed metadata could be
// fetched for it.
type Result struct {
	VideoID    string
	URL        string
	Title      string
	AuthorName string
}

// Service resolves a free-text query to a YouTube video.
type Service struct {
	httpClient *http.Client
}

// New returns a Service with the given per-request timeout.
func New(timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{httpClient: &http.Client{Timeout: timeout}}
}

// SearchFirstVideo resolves query to its first matching video,
// returning (nil, nil) if nothing could be resolved.
func (s *Service) SearchFirstVideo(ctx context.Context, query string) (*Result, error) {
	normalized := strings.Join(strings.Fields(query), " ")
	if normalized == "" {
		return nil, nil
	}

	videoID, err := s.resolveVideoID(ctx, normalized)
	if err != nil || videoID == "" {
		return nil, err
	}

	watchURL := fmt.Sprintf("https://www.youtube.com/watch?v=%s", videoID)
	title, author := s.fetchOEmbed(ctx, watchURL)
	return &Result{VideoID: videoID, URL: watchURL, Title: title, AuthorName: author}, nil
}

// resolveVideoID tries each resolver in turn, returning the first
// video id found. A resolver failure (network error, no match) is not
// fatal; it just falls through to the next resolver.
func (s *Service) resolveVideoID(ctx context.Context, query string) (string, error) {
	for _, resolve := range []func(context.Context, string) (string, error){
		s.searchFromYoutubeResults,
		s.searchFromDuckDuckGo,
	} {
		videoID, err := resolve(ctx, query)
		if err != nil {
			continue
		}
		if videoID != "" {
			return videoID, nil
		}
	}
	return "", nil
}

func (s *Service) searchFromYoutubeResults(ctx context.Context, query string) (string, error) {
	endpoint := "https://www.youtube.com/results?search_query=" + url.QueryEscape(query)
	body, err := s.get(ctx, endpoint)
	if err != nil {
		return "", err
	}
	ids := dedupeKeepOrder(firstSubmatches(videoIDRe, body))
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

func (s *Service) searchFromDuckDuckGo(ctx context.Context, query string) (string, error) {
	q := "site:youtube.com/watch " + query
	endpoint := "https://duckduckgo.com/html/?q=" + url.QueryEscape(q)
	body, err := s.get(ctx, endpoint)
	if err != nil {
		return "", err
	}
	var candidates []string
	candidates = append(candidates, firstSubmatches(watchURLRe, body)...)
	candidates = append(candidates, firstSubmatches(shortURLRe, body)...)
	ids := dedupeKeepOrder(candidates)
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

func (s *Service) fetchOEmbed(ctx context.Context, videoURL string) (title, authorName string) {
	endpoint := "https://www.youtube.com/oembed?url=" + url.QueryEscape(videoURL) + "&format=json"
	body, err := s.get(ctx, endpoint)
	if err != nil {
		return "", ""
	}

	var decoded struct {
		Title      string `json:"title"`
		AuthorName string `json:"author_name"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", ""
	}
	return strings.TrimSpace(decoded.Title), strings.TrimSpace(decoded.AuthorName)
}

func (s *Service) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search: %s returned %d", endpoint, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func firstSubmatches(re *regexp.Regexp, body []byte) []string {
	matches := re.FindAllSubmatch(body, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, string(m[1]))
	}
	return out
}

func dedupeKeepOrder(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
