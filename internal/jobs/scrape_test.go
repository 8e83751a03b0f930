package jobs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/pages"
)

func scrapeFixture(t *testing.T) (*fakeStore, *Handlers, string) {
	t.Helper()
	fs := newFakeStore()
	fs.offers[1] = &core.Offer{ID: 1, UserID: 9, BrandName: "Acme", Subdomain: "glow", ScrapeStatus: "pending"}
	fs.pages[10] = &core.Page{ID: 10, OfferID: 1, PageType: core.PageMoney, Status: core.PageStatusDraft}

	dir := t.TempDir()
	h := NewHandlers(Deps{
		Store:   fs,
		Fast:    newTestFast(t),
		Disk:    pages.NewDisk(dir),
		Fetcher: NewHTTPFetcher(5 * time.Second),
		Logger:  discardLogger(),
	})
	return fs, h, dir
}

func TestScrapeBuildsMoneyVariant(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/product", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head>
<title>Acme Widget Store</title>
<meta name="description" content="The original widget.">
<link rel="stylesheet" href="/css/site.css">
</head><body><h1>Buy</h1><img src="/img/hero.png"></body></html>`))
	})
	mux.HandleFunc("/css/site.css", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("body{color:red}"))
	})
	mux.HandleFunc("/img/hero.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("PNGDATA"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fs, h, dir := scrapeFixture(t)

	payload, err := Encode(PageJob{
		PageID: 10, OfferID: 1,
		Variant: core.VariantMoney, Action: ActionScrape,
		SourceURL: srv.URL + "/product", Subdomain: "glow",
	})
	require.NoError(t, err)
	require.NoError(t, h.HandlePageGeneration(context.Background(), payload))

	page := fs.page(t, 10)
	assert.Equal(t, core.PageStatusGenerated, page.Status)
	assert.Contains(t, page.HTMLContent, `/static/glow/a/assets/site.css`)
	assert.Contains(t, page.HTMLContent, `/static/glow/a/assets/hero.png`)

	offer := fs.offer(t, 1)
	assert.Equal(t, "completed", offer.ScrapeStatus)
	assert.Equal(t, "Acme Widget Store", offer.PageTitle)
	assert.Equal(t, "The original widget.", offer.PageDescription)
	require.NotNil(t, offer.ScrapedAt)

	idx, err := os.ReadFile(filepath.Join(dir, "glow", "a", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, page.HTMLContent, string(idx))

	css, err := os.ReadFile(filepath.Join(dir, "glow", "a", "assets", "site.css"))
	require.NoError(t, err)
	assert.Equal(t, "body{color:red}", string(css))
}

func TestScrapeDeadSourceFailsPageAndOffer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	fs, h, _ := scrapeFixture(t)

	payload, err := Encode(PageJob{
		PageID: 10, OfferID: 1,
		Variant: core.VariantMoney, Action: ActionScrape,
		SourceURL: srv.URL + "/gone", Subdomain: "glow",
	})
	require.NoError(t, err)

	err = h.HandlePageGeneration(context.Background(), payload)
	require.Error(t, err)
	assert.Equal(t, core.CodeValidation, core.CodeOf(err))

	page := fs.page(t, 10)
	assert.Equal(t, core.PageStatusFailed, page.Status)
	assert.Contains(t, page.GenerationError, "HTTP 404")

	offer := fs.offer(t, 1)
	assert.Equal(t, "failed", offer.ScrapeStatus)
	assert.Contains(t, offer.ScrapeError, "HTTP 404")
}

func TestScrapeSkipsFailedAssets(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/product", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>T</title><link rel="stylesheet" href="/css/missing.css"></head><body></body></html>`))
	})
	srv := httptest.NewServer(mux) // /css/missing.css 404s
	defer srv.Close()

	fs, h, dir := scrapeFixture(t)

	payload, err := Encode(PageJob{
		PageID: 10, OfferID: 1,
		Variant: core.VariantMoney, Action: ActionScrape,
		SourceURL: srv.URL + "/product", Subdomain: "glow",
	})
	require.NoError(t, err)
	require.NoError(t, h.HandlePageGeneration(context.Background(), payload))

	// The page ships with the reference rewritten even though the asset
	// download failed; a broken stylesheet beats a broken funnel.
	assert.Equal(t, core.PageStatusGenerated, fs.page(t, 10).Status)
	_, statErr := os.Stat(filepath.Join(dir, "glow", "a", "assets", "missing.css"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestPageJobPolicyViolations(t *testing.T) {
	fs, h, _ := scrapeFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		job  PageJob
	}{
		{"scrape must target the money variant", PageJob{PageID: 10, OfferID: 1, Variant: core.VariantSafe, Action: ActionScrape, Subdomain: "glow"}},
		{"generation must target the safe variant", PageJob{PageID: 10, OfferID: 1, Variant: core.VariantMoney, Action: ActionAIGenerate, Subdomain: "glow"}},
		{"unknown action", PageJob{PageID: 10, OfferID: 1, Variant: core.VariantMoney, Action: "publish", Subdomain: "glow"}},
		{"missing identifiers", PageJob{Action: ActionScrape, Variant: core.VariantMoney}},
	}
	for _, tc := range cases {
		payload, err := Encode(tc.job)
		require.NoError(t, err, tc.name)
		err = h.HandlePageGeneration(ctx, payload)
		assert.Equal(t, core.CodeValidation, core.CodeOf(err), tc.name)
	}

	// Rejections never touch the rows.
	assert.Equal(t, core.PageStatusDraft, fs.page(t, 10).Status)

	err := h.HandlePageGeneration(ctx, "{not json")
	assert.Equal(t, core.CodeValidation, core.CodeOf(err))
}

func TestScrapeGonePageDeadLetters(t *testing.T) {
	_, h, _ := scrapeFixture(t)

	payload, err := Encode(PageJob{
		PageID: 999, OfferID: 1,
		Variant: core.VariantMoney, Action: ActionScrape,
		SourceURL: "http://unused.invalid", Subdomain: "glow",
	})
	require.NoError(t, err)

	err = h.HandlePageGeneration(context.Background(), payload)
	assert.Equal(t, core.CodeValidation, core.CodeOf(err))
}
