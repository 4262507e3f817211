package timefmt

import "time"

// ISO8601 is the ISO-8601 format used for timestamp serialization.
const ISO8601 = "2006-01-02T15:04:05.000Z"

// Format formats a time.Time to the standard string representation.
func Format(t time.Time) string {
	return t.UTC().Format(ISO8601)
}

// ClockOnly is the "HH:MM:SS" form used as a line prefix in the live
// streamed turn message.
const ClockOnly = "15:04:05"

// Clock formats a time.Time as a bare UTC clock string for streamer output.
func Clock(t time.Time) string {
	return t.UTC().Format(ClockOnly)
}
