package streamer

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// fencedCodeRe matches ```lang\n...``` blocks, mirroring the teacher
// pack's markdown-to-HTML fenced-code extraction.
var fencedCodeRe = regexp.MustCompile("(?s)```([a-zA-Z0-9]*)\n?(.*?)\n?```")

// htmlPolicy whitelists exactly the tags the renderer emits. It runs
// after renderForSend has HTML-escaped all agent text, so tag-like text
// a CLI agent prints reaches the chat client as escaped text, not markup.
var htmlPolicy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("pre", "code", "b", "i", "s", "blockquote", "tg-spoiler")
	p.AllowAttrs("class").OnElements("code")
	return p
}()

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// renderForSend decides parse mode and produces the final text to
// send. If text contains a fenced code block it is rendered as
// <pre><code[ class="language-X"]>…</code></pre> with HTML escaping
// and sanitized through htmlPolicy; otherwise it is sent unmodified as
// plain text. Per spec.md §4.7.
func renderForSend(text string) (rendered string, parseMode string) {
	if !fencedCodeRe.MatchString(text) {
		return text, ""
	}

	var out strings.Builder
	last := 0
	for _, loc := range fencedCodeRe.FindAllStringSubmatchIndex(text, -1) {
		out.WriteString(htmlEscaper.Replace(text[last:loc[0]]))
		lang := text[loc[2]:loc[3]]
		code := htmlEscaper.Replace(text[loc[4]:loc[5]])
		if lang != "" {
			out.WriteString(`<pre><code class="language-` + lang + `">` + code + `</code></pre>`)
		} else {
			out.WriteString("<pre><code>" + code + "</code></pre>")
		}
		last = loc[1]
	}
	out.WriteString(htmlEscaper.Replace(text[last:]))

	return htmlPolicy.Sanitize(out.String()), "HTML"
}

// eventBody renders an event's payload to the single-line body text
// appended after the "[seq][ts][type]" prefix. Events carrying a
// "text" field render that verbatim; everything else renders as
// compact JSON; an empty payload renders as "" (no trailing body).
func eventBody(payload map[string]any) string {
	if text, ok := payload["text"].(string); ok && text != "" {
		return text
	}
	if len(payload) == 0 {
		return ""
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(b)
}
