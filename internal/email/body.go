package email

import (
	"regexp"
	"strings"

	"github.com/k3a/html2text"
)

var htmlTagRe = regexp.MustCompile(`(?i)<(html|body|div|p|br|table|span|a|ul|li|h[1-6])\b`)

// PlainBody returns the body as plain text. HTML bodies are flattened so the
// oracle sees prose instead of markup.
func PlainBody(body string) string {
	if !htmlTagRe.MatchString(body) {
		return strings.TrimSpace(body)
	}
	return cleanupWhitespace(html2text.HTML2Text(body))
}

// cleanupWhitespace drops runs of more than two blank lines.
func cleanupWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := 0

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blank++
			if blank <= 2 {
				out = append(out, "")
			}
			continue
		}
		blank = 0
		out = append(out, strings.TrimRight(line, " \t"))
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}
