package format

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is kept below Telegram's 4096 hard limit so the
// chunk numbering prefix and HTML tags still fit.
const MaxMessageLength = 4000

// Split breaks text into chunks of at most max bytes of source text.
// Paragraph boundaries are preferred, then line boundaries; a single
// line longer than max is hard-split on a rune boundary.
func Split(text string, max int) []string {
	if text == "" {
		return []string{""}
	}
	if len(text) <= max {
		return []string{text}
	}

	var parts []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			parts = append(parts, s)
		}
		current.Reset()
	}

	for _, paragraph := range strings.Split(text, "\n\n") {
		switch {
		case len(paragraph) > max:
			flush()
			for _, line := range strings.Split(paragraph, "\n") {
				if len(line) > max {
					flush()
					for start := 0; start < len(line); {
						end := start + cutBefore(line[start:], max)
						parts = append(parts, line[start:end])
						start = end
					}
				} else {
					if current.Len()+len(line)+1 > max {
						flush()
					}
					current.WriteString(line + "\n")
				}
			}
		case current.Len()+len(paragraph)+2 > max:
			flush()
			current.WriteString(paragraph + "\n\n")
		default:
			current.WriteString(paragraph + "\n\n")
		}
	}
	flush()

	if len(parts) == 0 {
		return []string{text[:cutBefore(text, max)]}
	}
	return parts
}

// cutBefore returns the byte length of the longest prefix of s that is
// at most max bytes and does not end mid-rune.
func cutBefore(s string, max int) int {
	if len(s) <= max {
		return len(s)
	}
	end := max
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return end
}

// Numbered prefixes each chunk with its position when the reply spans
// more than one message. A single chunk passes through untouched.
func Numbered(parts []string) []string {
	if len(parts) <= 1 {
		return parts
	}
	out := make([]string, len(parts))
	for i, part := range parts {
		out[i] = fmt.Sprintf("📄 [%d/%d]\n\n%s", i+1, len(parts), part)
	}
	return out
}
