package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Truncate strips control characters and limits s to maxLen bytes,
// trimming surrounding whitespace. Used for turn titles and for capping
// stored/displayed error text.
func Truncate(s string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		if b.Len()+utf8.RuneLen(r) > maxLen {
			break
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// ErrorText caps subprocess/exception text at 2000 bytes before it is
// persisted to a job's last_error column or a turn's error_text column.
func ErrorText(s string) string {
	const maxErrorBytes = 2000
	return Truncate(s, maxErrorBytes)
}
