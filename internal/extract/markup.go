package extract

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// FlattenMarkup converts a description fragment to plain text, rewriting
// list items as "- " bulleted lines so downstream payloads stay readable
// without carrying markup.
func FlattenMarkup(fragment string) string {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return strings.TrimSpace(fragment)
	}

	var b strings.Builder
	for _, n := range nodes {
		flattenNode(&b, n)
	}
	return tidyLines(b.String())
}

func flattenNode(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Br:
			b.WriteString("\n")
			return
		case atom.Li:
			b.WriteString("\n- ")
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				flattenNode(b, c)
			}
			b.WriteString("\n")
			return
		case atom.P, atom.Div, atom.Ul, atom.Ol:
			b.WriteString("\n")
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				flattenNode(b, c)
			}
			b.WriteString("\n")
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		flattenNode(b, c)
	}
}

// tidyLines trims each line and collapses runs of blank lines.
func tidyLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
