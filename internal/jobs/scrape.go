package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/pages"
)

const (
	maxPageBytes  = 10 << 20
	maxAssetBytes = 5 << 20

	// Presented to scrape targets. Honest enough to pass bot filters that
	// block blank agents without masquerading as a browser build.
	scrapeUserAgent = "Mozilla/5.0 (compatible; AutoGuardBot/1.0; +https://autoguard.dev/bot)"
)

// Fetcher retrieves remote pages and their assets for the scrape pipeline.
type Fetcher interface {
	FetchPage(ctx context.Context, rawURL string) (body string, finalURL *url.URL, err error)
	FetchAsset(ctx context.Context, rawURL string) ([]byte, error)
}

// HTTPFetcher is the production Fetcher.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = scrapeTimeout
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

// FetchPage downloads an HTML document, following redirects, and returns the
// final URL so relative asset references resolve against the real location.
func (f *HTTPFetcher) FetchPage(ctx context.Context, rawURL string) (string, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, core.Validationf("invalid source url %q: %v", rawURL, err)
	}
	req.Header.Set("User-Agent", scrapeUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", nil, &core.Error{Code: core.CodeTimeout, Message: "fetch page", Err: err}
		}
		return "", nil, core.Transientf(err, "fetch page")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= 500:
		return "", nil, core.Transientf(nil, "source returned HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		// Wrong or dead URL; retrying cannot fix it.
		return "", nil, core.Validationf("source returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", nil, core.Transientf(err, "read page body")
	}
	return string(body), resp.Request.URL, nil
}

// FetchAsset downloads one referenced asset.
func (f *HTTPFetcher) FetchAsset(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, core.Validationf("invalid asset url %q: %v", rawURL, err)
	}
	req.Header.Set("User-Agent", scrapeUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, core.Transientf(err, "fetch asset")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, core.Transientf(nil, "asset returned HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
}

// scrape builds the money variant: fetch the brand page, repoint its asset
// references at the local static tree, persist everything, and promote the
// page and offer rows. Failures land on both rows so the dashboard shows
// why a funnel has no money page.
func (h *Handlers) scrape(ctx context.Context, job PageJob) error {
	ctx, cancel := context.WithTimeout(ctx, scrapeTimeout)
	defer cancel()

	if err := h.store.MarkPageGenerating(ctx, job.PageID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.Validationf("page %d no longer exists", job.PageID)
		}
		return err
	}
	if err := h.store.MarkOfferScraping(ctx, job.OfferID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.Validationf("offer %d no longer exists", job.OfferID)
		}
		return err
	}

	body, baseURL, err := h.fetcher.FetchPage(ctx, job.SourceURL)
	if err != nil {
		return h.failPage(job, fmt.Errorf("fetch %s: %w", job.SourceURL, err))
	}

	prefix := "/static/" + job.Subdomain + "/" + core.VariantMoney + "/assets"
	rewritten, assets, err := pages.RewriteAssets(body, baseURL, prefix)
	if err != nil {
		return h.failPage(job, err)
	}

	saved := 0
	for _, ref := range assets {
		data, err := h.fetcher.FetchAsset(ctx, ref.URL)
		if err != nil {
			h.logger.Warn("Asset fetch failed", "url", ref.URL, "error", err)
			continue
		}
		if _, err := h.disk.WriteAsset(job.Subdomain, core.VariantMoney, ref.Name, data); err != nil {
			h.logger.Warn("Asset write failed", "name", ref.Name, "error", err)
			continue
		}
		saved++
	}

	if _, err := h.disk.WriteIndex(job.Subdomain, core.VariantMoney, rewritten); err != nil {
		return h.failPage(job, fmt.Errorf("persist money page: %w", err))
	}

	md := pages.MetadataFromHTML(body)
	if err := h.store.SetPageGenerated(ctx, job.PageID, rewritten); err != nil {
		return err
	}
	if err := h.store.SetOfferScraped(ctx, job.OfferID, md.Title, md.Description); err != nil {
		return err
	}

	h.logger.Info("Money page scraped",
		"offerId", job.OfferID, "pageId", job.PageID,
		"assets", saved, "bytes", len(rewritten), "title", md.Title)
	return nil
}
