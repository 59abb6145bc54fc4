package browser

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// DOMSummary lists interactive elements in the current page DOM. The
// engine never trusts these selectors for placement slots (those are
// canvas-rendered), but the summary feeds the run diagnostic log and
// selector fallback discovery.
func (s *Session) DOMSummary(max int) ([]DOMElement, error) {
	content, err := s.Page.Content()
	if err != nil {
		return nil, fmt.Errorf("reading page content: %w", err)
	}
	return summarizeDOM(content, max)
}

// summarizeDOM extracts up to max interactive elements from raw HTML.
func summarizeDOM(rawHTML string, max int) ([]DOMElement, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var elements []DOMElement
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if max > 0 && len(elements) >= max {
			return
		}

		if n.Type == html.ElementNode && isInteractiveElement(n) {
			elements = append(elements, DOMElement{
				Tag:      strings.ToLower(n.Data),
				Text:     elementText(n),
				Selector: selectorGuess(n),
			})
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return elements, nil
}

// isInteractiveElement reports whether a node is something an operator
// could click or type into.
func isInteractiveElement(n *html.Node) bool {
	switch strings.ToLower(n.Data) {
	case "a", "button", "input", "select", "textarea":
		return true
	}
	for _, attr := range n.Attr {
		if strings.ToLower(attr.Key) == "role" && attr.Val == "button" {
			return true
		}
	}
	return false
}

// elementText returns the trimmed visible text of a node, depth-first.
func elementText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if b.Len() > 80 {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(strings.TrimSpace(n.Data))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	text := b.String()
	if text == "" {
		// Fall back to common labelling attributes
		for _, attr := range n.Attr {
			switch strings.ToLower(attr.Key) {
			case "aria-label", "placeholder", "value", "alt":
				if attr.Val != "" {
					return attr.Val
				}
			}
		}
	}
	if len(text) > 80 {
		text = text[:80]
	}
	return text
}

// selectorGuess builds the most specific cheap selector available for a
// node: id, then name, then tag with first class, then bare tag.
func selectorGuess(n *html.Node) string {
	tag := strings.ToLower(n.Data)

	var id, name, class string
	for _, attr := range n.Attr {
		switch strings.ToLower(attr.Key) {
		case "id":
			id = attr.Val
		case "name":
			name = attr.Val
		case "class":
			class = attr.Val
		}
	}

	switch {
	case id != "":
		return "#" + id
	case name != "":
		return fmt.Sprintf("%s[name=%q]", tag, name)
	case class != "":
		first := strings.Fields(class)
		if len(first) > 0 {
			return tag + "." + first[0]
		}
	}
	return tag
}
