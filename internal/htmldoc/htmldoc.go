// Package htmldoc prepares HTML documents for model analysis by
// converting them to markdown, which survives tokenization far better
// than raw markup.
package htmldoc

import (
	"fmt"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

const maxChars = 50000

// ToMarkdown converts an HTML document to markdown and bounds its size.
func ToMarkdown(raw []byte) ([]byte, error) {
	md, err := htmltomarkdown.ConvertString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("convert html: %w", err)
	}
	if len(md) > maxChars {
		md = md[:maxChars] + "\n\n[содержимое обрезано]"
	}
	return []byte(md), nil
}

// IsHTML reports whether the document should be converted first.
func IsHTML(mimeType string) bool {
	return mimeType == "text/html" || mimeType == "application/xhtml+xml"
}
