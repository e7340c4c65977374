package session

import (
	"strings"
	"time"
)

// timestampLines implements the Open Question spec §9 raises about
// timestamp injection: normalize CRLF to LF and drop stray CR, then prefix
// the current time to every line fragment that actually starts one,
// skipping the empty fragment SplitAfter produces after a trailing
// terminator so a buffer ending in "\n" never gets an extra timestamp with
// nothing after it.
func timestampLines(raw, format string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "")

	fragments := strings.SplitAfter(normalized, "\n")
	var b strings.Builder
	for _, fragment := range fragments {
		if fragment == "" {
			continue
		}
		b.WriteString(time.Now().Format(format))
		b.WriteString(fragment)
	}
	return b.String()
}
