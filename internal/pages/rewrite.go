package pages

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"

	"github.com/autoguard/backend/internal/core"
)

// AssetRef pairs a remote asset URL with the local filename it is served
// from after the scrape.
type AssetRef struct {
	URL  string
	Name string
}

// RewriteAssets points every stylesheet, script and image reference in
// scraped HTML at the local static prefix and returns the rewritten document
// together with the download list. Page links are left untouched.
func RewriteAssets(rawHTML string, base *url.URL, staticPrefix string) (string, []AssetRef, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", nil, core.Validationf("parse scraped html: %v", err)
	}
	rw := &rewriter{
		base:   base,
		prefix: strings.TrimRight(staticPrefix, "/"),
		seen:   map[string]string{},
		used:   map[string]bool{},
	}
	walk(doc, rw.visit)

	var b strings.Builder
	if err := html.Render(&b, doc); err != nil {
		return "", nil, fmt.Errorf("render rewritten html: %w", err)
	}
	return b.String(), rw.assets, nil
}

type rewriter struct {
	base   *url.URL
	prefix string
	seen   map[string]string // absolute URL -> local name
	used   map[string]bool
	assets []AssetRef
}

func (rw *rewriter) visit(n *html.Node) {
	if n.Type != html.ElementNode {
		return
	}
	switch n.Data {
	case "img", "source":
		rw.rewriteAttr(n, "src")
		dropAttr(n, "srcset") // the downloaded copy has no responsive set
	case "script":
		rw.rewriteAttr(n, "src")
	case "link":
		rel := strings.ToLower(attrVal(n, "rel"))
		switch {
		case strings.Contains(rel, "stylesheet"),
			strings.Contains(rel, "icon"),
			strings.Contains(rel, "preload"):
			rw.rewriteAttr(n, "href")
		}
	}
}

func (rw *rewriter) rewriteAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Key != key {
			continue
		}
		if local, ok := rw.localize(strings.TrimSpace(a.Val)); ok {
			n.Attr[i].Val = local
		}
	}
}

func (rw *rewriter) localize(ref string) (string, bool) {
	if ref == "" ||
		strings.HasPrefix(ref, "#") ||
		strings.HasPrefix(ref, "data:") ||
		strings.HasPrefix(ref, "javascript:") {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	abs := rw.base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	key := abs.String()
	if name, ok := rw.seen[key]; ok {
		return rw.prefix + "/" + name, true
	}

	name := sanitizeAssetName(path.Base(abs.Path))
	if name == "" {
		name = shortHash(key)
	}
	if rw.used[name] {
		name = shortHash(key) + "-" + name
	}
	rw.used[name] = true
	rw.seen[key] = name
	rw.assets = append(rw.assets, AssetRef{URL: key, Name: name})
	return rw.prefix + "/" + name, true
}

func sanitizeAssetName(name string) string {
	if name == "." || name == "/" {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), ".")
}

func shortHash(s string) string {
	h := fnv.New32a()
	h.Write([]byte(s))
	return fmt.Sprintf("%08x", h.Sum32())
}

func dropAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}
