package clean

import (
	"strings"

	"golang.org/x/net/html"
)

// Scrub normalizes one field value: byte-order marks removed, whitespace
// runs collapsed to single spaces, edges trimmed, letters lowercased.
// Scrubbing an already-scrubbed value is a no-op.
func Scrub(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\uFEFF", "")
	s = strings.Join(strings.Fields(s), " ")
	return strings.ToLower(s)
}

// StripMarkup removes inline markup fragments from element text, keeping
// the text content. Values without a '<' pass through untouched.
func StripMarkup(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}
	var b strings.Builder
	extractText(doc, &b)
	return b.String()
}

func extractText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, b)
	}
}
