package pages

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderReplacesVariablesGlobally(t *testing.T) {
	out := Render("{{name}} reviews {{name}} honestly", map[string]string{"name": "Acme"})
	assert.Equal(t, "Acme reviews Acme honestly", out)
}

func TestRenderUnknownVariablesBecomeEmpty(t *testing.T) {
	out := Render("Hello {{who}}!", map[string]string{})
	assert.Equal(t, "Hello !", out)
}

func TestRenderConditionalSections(t *testing.T) {
	tpl := "Intro.{{#competitors}} Compared with {{competitors}}.{{/competitors}} Outro."

	kept := Render(tpl, map[string]string{"competitors": "X, Y"})
	assert.Equal(t, "Intro. Compared with X, Y. Outro.", kept)

	dropped := Render(tpl, map[string]string{"competitors": ""})
	assert.Equal(t, "Intro. Outro.", dropped)
}

func TestRenderNestedSections(t *testing.T) {
	tpl := "{{#a}}A{{#b}} and B{{/b}}{{/a}}"

	assert.Equal(t, "A and B", Render(tpl, map[string]string{"a": "1", "b": "1"}))
	assert.Equal(t, "A", Render(tpl, map[string]string{"a": "1"}))
	assert.Equal(t, "", Render(tpl, map[string]string{"b": "1"}))
}

func TestRenderUnterminatedSectionStaysVerbatim(t *testing.T) {
	out := Render("before {{#cta}} after", map[string]string{"cta": "x"})
	assert.Equal(t, "before {{#cta}} after", out)
}

func TestRenderDoesNotRescanReplacementValues(t *testing.T) {
	out := Render("{{a}}", map[string]string{"a": "{{b}}", "b": "nope"})
	assert.Equal(t, "{{b}}", out)
}

func TestBuildSafePageShellAndCTA(t *testing.T) {
	vars := map[string]string{
		"product_name": "Acme Widget",
		"product_url":  "https://acme.example.com",
		"cta_button":   "Visit the official site",
	}
	out := BuildSafePage("<article><h1>Acme Widget Review</h1></article>", vars)

	assert.Contains(t, out, "<title>Acme Widget</title>")
	assert.Contains(t, out, "<h1>Acme Widget Review</h1>")
	assert.Contains(t, out, `href="https://acme.example.com"`)
	assert.Contains(t, out, "Visit the official site")

	// Without button text the whole CTA block disappears.
	delete(vars, "cta_button")
	out = BuildSafePage("<article></article>", vars)
	assert.NotContains(t, out, "class=\"cta\"")
}

func TestDefaultPromptPerType(t *testing.T) {
	for _, typ := range []string{"review", "tips", "comparison", "guide"} {
		p := DefaultPrompt(typ)
		assert.Contains(t, p, "{{product_name}}", typ)
		assert.Contains(t, p, "<article>", typ)
	}
	assert.Equal(t, DefaultPrompt("review"), DefaultPrompt("unheard-of"))
}
