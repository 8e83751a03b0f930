package pages

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestExtractMetadata(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(`<html><head>
		<title>  Acme Widget — Official Store  </title>
		<meta NAME="Description" content=" The original Acme widget. ">
	</head><body></body></html>`))
	require.NoError(t, err)

	md := ExtractMetadata(doc)
	assert.Equal(t, "Acme Widget — Official Store", md.Title)
	assert.Equal(t, "The original Acme widget.", md.Description)
}

func TestExtractMetadataMissingFields(t *testing.T) {
	doc, err := html.Parse(strings.NewReader("<html><body><p>bare</p></body></html>"))
	require.NoError(t, err)

	md := ExtractMetadata(doc)
	assert.Empty(t, md.Title)
	assert.Empty(t, md.Description)
}

func TestExtractArticleIsolatesElement(t *testing.T) {
	resp := "Sure! Here is the review:\n<article><h1>Verdict</h1><p>Solid.</p></article>\nLet me know if you need edits."
	assert.Equal(t, "<article><h1>Verdict</h1><p>Solid.</p></article>", ExtractArticle(resp))
}

func TestExtractArticleKeepsOriginalCase(t *testing.T) {
	resp := `<ARTICLE Class="x"><p>Body</p></ARTICLE>`
	assert.Equal(t, resp, ExtractArticle(resp))
}

func TestExtractArticleWrapsBareResponse(t *testing.T) {
	assert.Equal(t, "<article>\n<h1>Five tips</h1>\n</article>", ExtractArticle("  <h1>Five tips</h1>  "))
}

func TestExtractArticleStripsCodeFences(t *testing.T) {
	resp := "```html\n<h1>Raw</h1>\n```"
	assert.Equal(t, "<article>\n<h1>Raw</h1>\n</article>", ExtractArticle(resp))
}
