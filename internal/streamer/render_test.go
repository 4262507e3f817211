package streamer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderForSend_PlainTextUnchanged(t *testing.T) {
	text, mode := renderForSend("hi there")
	assert.Equal(t, "hi there", text)
	assert.Equal(t, "", mode)
}

func TestRenderForSend_FencedCodeBecomesHTML(t *testing.T) {
	text, mode := renderForSend("before\n```go\nfmt.Println(\"<hi>\")\n```\nafter")
	assert.Equal(t, "HTML", mode)
	assert.Contains(t, text, `<pre><code class="language-go">`)
	assert.Contains(t, text, "&lt;hi&gt;")
	assert.Contains(t, text, "before")
	assert.Contains(t, text, "after")
}

func TestRenderForSend_FencedCodeNoLang(t *testing.T) {
	text, mode := renderForSend("```\nplain\n```")
	assert.Equal(t, "HTML", mode)
	assert.Contains(t, text, "<pre><code>plain</code></pre>")
}

func TestEventBody_PrefersText(t *testing.T) {
	assert.Equal(t, "hi", eventBody(map[string]any{"text": "hi"}))
}

func TestEventBody_EmptyPayloadIsEmptyString(t *testing.T) {
	assert.Equal(t, "", eventBody(map[string]any{}))
}

func TestEventBody_FallsBackToJSON(t *testing.T) {
	body := eventBody(map[string]any{"thread_id": "t1"})
	assert.Equal(t, `{"thread_id":"t1"}`, body)
}
