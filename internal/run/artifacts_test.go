package run

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/relay/internal/adapter"
	"github.com/agentrelay/relay/internal/store"
	"github.com/agentrelay/relay/internal/streamer"
	"github.com/agentrelay/relay/internal/telegram"
)

func TestLooksLikeImageRequest(t *testing.T) {
	assert.True(t, looksLikeImageRequest("please draw a chart of monthly revenue"))
	assert.True(t, looksLikeImageRequest("이미지 하나 만들어줘"))
	assert.False(t, looksLikeImageRequest("what's the weather today"))
	assert.False(t, looksLikeImageRequest(""))
}

func TestLooksLikeHTMLRequest(t *testing.T) {
	assert.True(t, looksLikeHTMLRequest("build me a landing page for my startup"))
	assert.True(t, looksLikeHTMLRequest("웹페이지 하나 만들어줘"))
	assert.False(t, looksLikeHTMLRequest("summarize this document"))
}

func TestAugmentPromptForGenerationRequest(t *testing.T) {
	plain := augmentPromptForGenerationRequest("what time is it")
	assert.Equal(t, "what time is it", plain)

	image := augmentPromptForGenerationRequest("draw me a diagram")
	assert.Contains(t, image, "Image Delivery Contract")
	assert.NotContains(t, image, "HTML Delivery Contract")

	both := augmentPromptForGenerationRequest("build a landing page with a preview image")
	assert.Contains(t, both, "Image Delivery Contract")
	assert.Contains(t, both, "HTML Delivery Contract")
}

func TestExtractLocalPaths_MarkdownQuotedAndBarePaths(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "chart.png")
	require.NoError(t, os.WriteFile(imgPath, []byte("fake-png"), 0o644))

	text := fmt.Sprintf("Here is the chart:\n![chart](%s)\n", imgPath)
	paths := extractLocalPaths(text, imageSuffixes)
	require.Len(t, paths, 1)
	assert.Equal(t, imgPath, paths[0])
}

func TestExtractLocalPaths_SkipsRemoteURLsAndMissingFiles(t *testing.T) {
	text := "![remote](https://example.com/image.png) and [local](./does/not/exist.png)"
	paths := extractLocalPaths(text, imageSuffixes)
	assert.Empty(t, paths)
}

func TestExtractLocalPaths_DedupesRepeatedReference(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "preview.png")
	require.NoError(t, os.WriteFile(imgPath, []byte("fake"), 0o644))

	text := fmt.Sprintf("![a](%s) also see \"%s\"", imgPath, imgPath)
	paths := extractLocalPaths(text, imageSuffixes)
	assert.Len(t, paths, 1)
}

func TestFindRecentFiles_FiltersByMtimeAndSuffix(t *testing.T) {
	dir := t.TempDir()
	oldFile := filepath.Join(dir, "old.png")
	newFile := filepath.Join(dir, "new.png")
	wrongSuffix := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(oldFile, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(newFile, []byte("y"), 0o644))
	require.NoError(t, os.WriteFile(wrongSuffix, []byte("z"), 0o644))

	cutoff := time.Now()
	require.NoError(t, os.Chtimes(oldFile, cutoff.Add(-time.Hour), cutoff.Add(-time.Hour)))
	require.NoError(t, os.Chtimes(newFile, cutoff.Add(time.Minute), cutoff.Add(time.Minute)))
	require.NoError(t, os.Chtimes(wrongSuffix, cutoff.Add(time.Minute), cutoff.Add(time.Minute)))

	origWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origWD) })

	found := findRecentFiles(cutoff, imageSuffixes, 20)
	assert.Contains(t, found, newFile)
	assert.NotContains(t, found, oldFile)
	assert.NotContains(t, found, wrongSuffix)
}

func TestArtifactDedupeKey_ChangesWhenFileContentChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))
	key1 := artifactDedupeKey(path)

	require.NoError(t, os.WriteFile(path, []byte("v2-longer"), 0o644))
	require.NoError(t, os.Chtimes(path, time.Now().Add(time.Hour), time.Now().Add(time.Hour)))
	key2 := artifactDedupeKey(path)

	assert.NotEqual(t, key1, key2)
}

func TestDeliverGeneratedArtifacts_SendsOncePerChatAndDedupes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "result.png")
	require.NoError(t, os.WriteFile(imgPath, []byte("fake-png"), 0o644))

	var photoCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bottest-token/sendPhoto" {
			photoCalls++
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	client := telegram.NewWithBaseURL("test-token", srv.URL+"/bot%s/%s")
	strm := streamer.New(client)
	st, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	registry := adapter.NewRegistry("", "", "", nil)
	wk := New("bot1", "owner1", st, registry, strm, client, map[string]string{}, "workspace-write")

	turn, _ := seedTurn(t, st, "echo", "draw a chart")
	assistantText := fmt.Sprintf("here you go\n![chart](%s)", imgPath)

	wk.deliverGeneratedArtifacts(ctx, turn, "bot1", 7, "draw a chart", assistantText, time.Now(), nilLogger())
	wk.deliverGeneratedArtifacts(ctx, turn, "bot1", 7, "draw a chart", assistantText, time.Now(), nilLogger())

	assert.Equal(t, 1, photoCalls, "the same artifact must not be delivered twice to the same chat")
}

func TestDeliverGeneratedArtifacts_RecordsDeliveryErrorOnFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "result.png")
	require.NoError(t, os.WriteFile(imgPath, []byte("fake-png"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client := telegram.NewWithBaseURL("test-token", srv.URL+"/bot%s/%s")
	strm := streamer.New(client)
	st, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	registry := adapter.NewRegistry("", "", "", nil)
	wk := New("bot1", "owner1", st, registry, strm, client, map[string]string{}, "workspace-write")

	turn, _ := seedTurn(t, st, "echo", "draw a chart")
	assistantText := fmt.Sprintf("here you go\n![chart](%s)", imgPath)

	wk.deliverGeneratedArtifacts(ctx, turn, "bot1", 7, "draw a chart", assistantText, time.Now(), nilLogger())

	events, err := st.ListTurnEvents(ctx, turn.TurnID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "delivery_error", events[len(events)-1].EventType)
}
