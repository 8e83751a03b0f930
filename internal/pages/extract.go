package pages

import (
	"strings"

	"golang.org/x/net/html"
)

// Metadata is the slice of a scraped page the offer record keeps.
type Metadata struct {
	Title       string
	Description string
}

// ExtractMetadata pulls the document title and meta description out of a
// parsed page.
func ExtractMetadata(doc *html.Node) Metadata {
	var md Metadata
	if n := findElement(doc, "title"); n != nil {
		md.Title = strings.TrimSpace(textOf(n))
	}
	walk(doc, func(n *html.Node) {
		if md.Description != "" || n.Type != html.ElementNode || n.Data != "meta" {
			return
		}
		if strings.EqualFold(attrVal(n, "name"), "description") {
			md.Description = strings.TrimSpace(attrVal(n, "content"))
		}
	})
	return md
}

// MetadataFromHTML parses rawHTML and extracts its metadata. A page that
// will not parse yields empty metadata; a scrape should not fail over a
// broken <head>.
func MetadataFromHTML(rawHTML string) Metadata {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return Metadata{}
	}
	return ExtractMetadata(doc)
}

// ExtractArticle isolates the <article> element from an LLM response. Models
// sometimes wrap output in prose or code fences, so this is a tolerant
// substring scan; a response with no article element becomes one.
func ExtractArticle(response string) string {
	lower := strings.ToLower(response)
	start := strings.Index(lower, "<article")
	end := strings.LastIndex(lower, "</article>")
	if start < 0 || end < start {
		return "<article>\n" + strings.TrimSpace(stripCodeFences(response)) + "\n</article>"
	}
	return response[start : end+len("</article>")]
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```html")
	s = strings.TrimPrefix(s, "```")
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func textOf(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	})
	return b.String()
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
