// Package pages holds the HTML side of page generation: prompt/shell
// template rendering, scraped-asset rewriting, metadata extraction and the
// on-disk layout the edge serves from.
package pages

import (
	"regexp"
	"strings"
)

var varPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Render substitutes {{name}} variables globally and resolves
// {{#name}}...{{/name}} conditional sections: the body stays (itself
// rendered) when the variable is non-empty, otherwise the whole section is
// dropped. Unknown variables render as empty strings; replacement values are
// never re-scanned.
func Render(tpl string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(renderSections(tpl, vars), func(m string) string {
		return vars[m[2:len(m)-2]]
	})
}

func renderSections(tpl string, vars map[string]string) string {
	var b strings.Builder
	for {
		start := strings.Index(tpl, "{{#")
		if start < 0 {
			b.WriteString(tpl)
			return b.String()
		}
		nameEnd := strings.Index(tpl[start:], "}}")
		if nameEnd < 0 {
			b.WriteString(tpl)
			return b.String()
		}
		name := tpl[start+3 : start+nameEnd]
		bodyStart := start + nameEnd + 2
		closing := "{{/" + name + "}}"
		end := strings.Index(tpl[bodyStart:], closing)
		if end < 0 {
			// Unterminated section: keep the opener verbatim and move on.
			b.WriteString(tpl[:bodyStart])
			tpl = tpl[bodyStart:]
			continue
		}
		b.WriteString(tpl[:start])
		if vars[name] != "" {
			b.WriteString(renderSections(tpl[bodyStart:bodyStart+end], vars))
		}
		tpl = tpl[bodyStart+end+len(closing):]
	}
}
