package pages

import (
	"strconv"
	"time"
)

// safePageShell wraps generated article HTML. The CTA renders only when the
// enqueuer supplied button text, and points at the brand site, never the
// affiliate link.
const safePageShell = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{product_name}}</title>
<meta name="description" content="{{page_description}}">
<style>
  body{margin:0;font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Roboto,Helvetica,Arial,sans-serif;color:#1f2430;background:#fff;line-height:1.6}
  main{max-width:720px;margin:0 auto;padding:32px 20px}
  article h1{font-size:1.9rem;margin:0 0 .5em}
  article h2{font-size:1.3rem;margin:1.4em 0 .5em}
  article p{margin:.8em 0}
  article ul{padding-left:1.2em}
  .cta{display:inline-block;margin:28px 0;padding:14px 28px;border-radius:8px;background:#2563eb;color:#fff;text-decoration:none;font-weight:600}
  footer{max-width:720px;margin:0 auto;padding:24px 20px;font-size:.8rem;color:#8a8f98}
</style>
</head>
<body>
<main>
{{article}}
{{#cta_button}}<p><a class="cta" href="{{product_url}}" rel="nofollow">{{cta_button}}</a></p>{{/cta_button}}
</main>
<footer>&copy; {{year}} {{product_name}}. Informational content only.</footer>
</body>
</html>
`

// BuildSafePage wraps extracted article HTML in the fixed shell.
func BuildSafePage(article string, vars map[string]string) string {
	merged := make(map[string]string, len(vars)+2)
	for k, v := range vars {
		merged[k] = v
	}
	merged["article"] = article
	if merged["year"] == "" {
		merged["year"] = strconv.Itoa(time.Now().Year())
	}
	return Render(safePageShell, merged)
}

// Embedded fallback prompts, used when no active prompt version exists for
// safe-page-<type>. Each instructs the model to return a single <article>
// element so extraction stays uniform.
var defaultPrompts = map[string]string{
	"review": `You are an independent product reviewer. Write a balanced, in-depth review of {{product_name}} ({{product_url}}).
Cover what it does, who it suits, strengths, weaknesses, and a verdict.
{{#competitors}}Briefly and fairly compare it with {{competitors}}.{{/competitors}}
Do not include prices or purchase pressure. Respond with a single <article> element containing h1/h2/p/ul markup only.`,

	"tips": `You are a practical how-to writer. Write an article with 7-10 actionable tips for getting the most out of products like {{product_name}}.
Keep the tone neutral and educational{{#competitors}}, mentioning alternatives such as {{competitors}} where relevant{{/competitors}}.
Respond with a single <article> element containing h1/h2/p/ul markup only.`,

	"comparison": `You are a neutral industry analyst. Write a comparison article about {{product_name}} and similar offerings{{#competitors}} including {{competitors}}{{/competitors}}.
Use feature-by-feature sections and end with guidance on choosing. No prices, no superlatives.
Respond with a single <article> element containing h1/h2/p/ul markup only.`,

	"guide": `You are a technical writer. Write a beginner-friendly guide to the product category {{product_name}} belongs to: what it is, how it works, what to look for, common mistakes.
Mention {{product_name}} as one example{{#competitors}} alongside {{competitors}}{{/competitors}}, without promoting any option.
Respond with a single <article> element containing h1/h2/p/ul markup only.`,
}

// DefaultPrompt returns the embedded prompt template for a safe-page type,
// falling back to the review template for unknown types.
func DefaultPrompt(safePageType string) string {
	if p, ok := defaultPrompts[safePageType]; ok {
		return p
	}
	return defaultPrompts["review"]
}
