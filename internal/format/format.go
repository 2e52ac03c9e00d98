// Package format converts model markdown output into the HTML subset
// Telegram accepts, and splits long replies into sendable chunks.
package format

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	tablePattern     = regexp.MustCompile(`(?m)(?:^\|.+\|$\n?)+`)
	separatorRow     = regexp.MustCompile(`^:?-+:?$`)
	codeSpanPattern  = regexp.MustCompile("(?s)```.*?```|`[^`\n]+`")
	fencedPattern    = regexp.MustCompile("(?s)^```(\\w*)\n?(.*?)```$")
	headingPattern   = regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]+(.*?)[ \t]*$`)
	boldStarPattern  = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	boldUnderPattern = regexp.MustCompile(`__([^_]+)__`)
	italicStar       = regexp.MustCompile(`\*([^*\n]+)\*`)
	italicUnder      = regexp.MustCompile(`_([^_\n]+)_`)
	strikePattern    = regexp.MustCompile(`~~(.+?)~~`)
	bulletPattern    = regexp.MustCompile(`(?m)^[ \t]*[*\-][ \t]+`)
	linkPattern      = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	cellEmphasis     = regexp.MustCompile(`(\*\*|__)(.*?)(\*\*|__)`)
	cellItalic       = regexp.MustCompile(`([*_])(.*?)([*_])`)
	cellSpaces       = regexp.MustCompile(`\s+`)
)

// EscapeHTML escapes the three characters Telegram's HTML parser treats
// as markup.
func EscapeHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return text
}

// Format converts lightweight markdown to Telegram HTML. Pipe tables are
// column-aligned and wrapped in <pre>; code spans are escaped but
// otherwise left alone; everything else gets heading/bold/italic/strike/
// bullet/link treatment after HTML escaping.
func Format(text string) string {
	if text == "" {
		return ""
	}

	var tables []string
	text = tablePattern.ReplaceAllStringFunc(text, func(block string) string {
		placeholder := fmt.Sprintf("%%%%TABLEBLOCK%d%%%%", len(tables))
		tables = append(tables, renderTable(block))
		return placeholder
	})

	var out strings.Builder
	last := 0
	for _, span := range codeSpanPattern.FindAllStringIndex(text, -1) {
		out.WriteString(formatFragment(text[last:span[0]]))
		out.WriteString(renderCode(text[span[0]:span[1]]))
		last = span[1]
	}
	out.WriteString(formatFragment(text[last:]))

	result := out.String()
	for i, table := range tables {
		result = strings.Replace(result, fmt.Sprintf("%%%%TABLEBLOCK%d%%%%", i), table, 1)
	}
	return result
}

// renderTable strips emphasis inside cells, pads every column to its
// widest cell, and wraps the block in <pre> so it survives proportional
// fonts. Separator rows (|---|---|) are dropped.
func renderTable(block string) string {
	var rows [][]string
	cols := 0
	for _, line := range strings.Split(strings.Trim(block, "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.Trim(line, "|")
		parts := strings.Split(line, "|")
		cells := make([]string, 0, len(parts))
		separator := true
		for _, part := range parts {
			cell := normalizeCell(part)
			if !separatorRow.MatchString(cell) {
				separator = false
			}
			cells = append(cells, cell)
		}
		if separator {
			continue
		}
		if len(cells) > cols {
			cols = len(cells)
		}
		rows = append(rows, cells)
	}

	if len(rows) == 0 {
		return "<pre></pre>"
	}

	widths := make([]int, cols)
	for i := range rows {
		for len(rows[i]) < cols {
			rows[i] = append(rows[i], "")
		}
		for j, cell := range rows[i] {
			if n := len([]rune(cell)); n > widths[j] {
				widths[j] = n
			}
		}
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		padded := make([]string, cols)
		for j, cell := range row {
			padded[j] = EscapeHTML(cell + strings.Repeat(" ", widths[j]-len([]rune(cell))))
		}
		lines = append(lines, strings.Join(padded, " | "))
	}
	return "<pre>" + strings.Join(lines, "\n") + "</pre>"
}

func normalizeCell(value string) string {
	value = cellEmphasis.ReplaceAllString(value, "$2")
	value = cellItalic.ReplaceAllString(value, "$2")
	value = strings.ReplaceAll(value, "`", "")
	return strings.TrimSpace(cellSpaces.ReplaceAllString(value, " "))
}

// renderCode escapes a fenced or inline code span without applying any
// other formatting rules to its content.
func renderCode(span string) string {
	if strings.HasPrefix(span, "```") {
		if m := fencedPattern.FindStringSubmatch(span); m != nil {
			code := EscapeHTML(strings.TrimRight(m[2], " \t\n"))
			if m[1] != "" {
				return fmt.Sprintf(`<pre><code class="language-%s">%s</code></pre>`, m[1], code)
			}
			return "<pre>" + code + "</pre>"
		}
		return "<pre>" + EscapeHTML(strings.Trim(span, "`")) + "</pre>"
	}
	return "<code>" + EscapeHTML(strings.Trim(span, "`")) + "</code>"
}

// formatFragment applies the non-code rules. HTML escaping runs first so
// emphasis markers are matched against literal markup, never against
// escaped entities.
func formatFragment(fragment string) string {
	if fragment == "" {
		return ""
	}
	fragment = EscapeHTML(fragment)
	fragment = headingPattern.ReplaceAllString(fragment, "<b>$1</b>")
	fragment = boldStarPattern.ReplaceAllString(fragment, "<b>$1</b>")
	fragment = boldUnderPattern.ReplaceAllString(fragment, "<b>$1</b>")
	fragment = italicStar.ReplaceAllString(fragment, "<i>$1</i>")
	fragment = italicUnder.ReplaceAllString(fragment, "<i>$1</i>")
	fragment = strikePattern.ReplaceAllString(fragment, "<s>$1</s>")
	fragment = bulletPattern.ReplaceAllString(fragment, "• ")
	fragment = linkPattern.ReplaceAllStringFunc(fragment, func(link string) string {
		m := linkPattern.FindStringSubmatch(link)
		url := strings.ReplaceAll(m[2], `"`, "&quot;")
		return fmt.Sprintf(`<a href="%s">%s</a>`, url, m[1])
	})
	return fragment
}
