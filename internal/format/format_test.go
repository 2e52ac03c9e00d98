package format

import (
	"strings"
	"testing"
)

func TestFormatEscapesHTML(t *testing.T) {
	cases := []string{
		"check <script>alert(1)</script> out",
		"`<script>inline</script>`",
		"```\n<script>block</script>\n```",
	}
	for _, in := range cases {
		got := Format(in)
		if strings.Contains(got, "<script>") {
			t.Errorf("Format(%q) left raw <script>: %q", in, got)
		}
		if !strings.Contains(got, "&lt;script&gt;") {
			t.Errorf("Format(%q) missing escaped tag: %q", in, got)
		}
	}
}

func TestFormatBoldItalicStrike(t *testing.T) {
	cases := []struct{ in, want string }{
		{"**bold**", "<b>bold</b>"},
		{"__bold__", "<b>bold</b>"},
		{"*italic*", "<i>italic</i>"},
		{"_italic_", "<i>italic</i>"},
		{"~~gone~~", "<s>gone</s>"},
		{"## Title", "<b>Title</b>"},
		{"[site](https://example.com)", `<a href="https://example.com">site</a>`},
	}
	for _, tc := range cases {
		if got := Format(tc.in); got != tc.want {
			t.Errorf("Format(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatItalicSkipsBoldSpans(t *testing.T) {
	got := Format("**a** and *b*")
	if got != "<b>a</b> and <i>b</i>" {
		t.Errorf("got %q", got)
	}
}

func TestFormatBullets(t *testing.T) {
	got := Format("* first\n- second")
	want := "• first\n• second"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatLinkEscapesQuotes(t *testing.T) {
	got := Format(`[x](https://example.com/a"b)`)
	if !strings.Contains(got, `href="https://example.com/a&quot;b"`) {
		t.Errorf("quote not escaped: %q", got)
	}
}

func TestFormatInlineCodeUntouched(t *testing.T) {
	got := Format("use `**not bold**` here")
	if !strings.Contains(got, "<code>**not bold**</code>") {
		t.Errorf("inline code was formatted: %q", got)
	}
}

func TestFormatFencedCodeLanguage(t *testing.T) {
	got := Format("```go\nfmt.Println(1 < 2)\n```")
	want := `<pre><code class="language-go">fmt.Println(1 &lt; 2)</code></pre>`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatTableAligned(t *testing.T) {
	in := "| Name | Qty |\n|---|---|\n| apple | 3 |\n| watermelon | 12 |\n"
	got := Format(in)

	if !strings.HasPrefix(got, "<pre>") || !strings.Contains(got, "</pre>") {
		t.Fatalf("table not wrapped in <pre>: %q", got)
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(got, "<pre>"), "</pre>")
	lines := strings.Split(strings.TrimSpace(inner), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 rows (separator dropped), got %d: %q", len(lines), lines)
	}
	for _, line := range lines[1:] {
		if len(line) != len(lines[0]) {
			t.Errorf("rows not padded to equal width: %q vs %q", lines[0], line)
		}
	}
}

func TestFormatTableStripsEmphasis(t *testing.T) {
	in := "| **Bold** | `code` |\n| a | b |\n"
	got := Format(in)
	if strings.Contains(got, "**") || strings.Contains(got, "`") {
		t.Errorf("emphasis left inside table cells: %q", got)
	}
}

func TestFormatEmpty(t *testing.T) {
	if got := Format(""); got != "" {
		t.Errorf("Format(\"\") = %q", got)
	}
}
