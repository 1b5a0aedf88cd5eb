package review

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Snippet is text recovered from a raw markup fragment.
type Snippet struct {
	Text string

	// Labels collects aria-label values found in the fragment; star
	// widgets often carry the rating only there.
	Labels []string
}

// snippetMaxLength bounds recovered text; review cards can embed large
// unrelated markup.
const snippetMaxLength = 4000

// ParseSnippet recovers readable text from a review-card HTML fragment.
// It is the extraction fallback when the platform's selectors have drifted:
// scripts, styles, and embedded frames are dropped, remaining text nodes are
// concatenated, and aria-labels are collected separately.
func ParseSnippet(fragment string) (*Snippet, error) {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("failed to parse fragment: %w", err)
	}

	snippet := &Snippet{}
	var builder strings.Builder
	collectText(doc, &builder, snippet)

	snippet.Text = strings.TrimSpace(builder.String())
	if len(snippet.Text) > snippetMaxLength {
		snippet.Text = snippet.Text[:snippetMaxLength]
	}
	return snippet, nil
}

func collectText(n *html.Node, builder *strings.Builder, snippet *Snippet) {
	if n.Type == html.CommentNode {
		return
	}

	if n.Type == html.ElementNode {
		if isSkippedElement(strings.ToLower(n.Data)) {
			return
		}
		for _, attr := range n.Attr {
			if strings.EqualFold(attr.Key, "aria-label") && attr.Val != "" {
				snippet.Labels = append(snippet.Labels, attr.Val)
			}
		}
	}

	if n.Type == html.TextNode {
		text := strings.TrimSpace(n.Data)
		if text != "" {
			if builder.Len() > 0 {
				builder.WriteString(" ")
			}
			builder.WriteString(text)
		}
		return
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, builder, snippet)
	}
}

// isSkippedElement returns true for elements that carry no review text.
func isSkippedElement(tagName string) bool {
	skipped := map[string]bool{
		"script":   true,
		"style":    true,
		"noscript": true,
		"iframe":   true,
		"embed":    true,
		"object":   true,
		"svg":      true,
	}
	return skipped[tagName]
}
