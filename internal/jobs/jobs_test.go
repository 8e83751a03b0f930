package jobs

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/faststore"
	"github.com/autoguard/backend/internal/infra"
)

func newTestFast(t *testing.T) faststore.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	fast, err := infra.NewGoRedisAdapter(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { fast.Close() })
	return fast
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory jobs.Store. It also satisfies the materializer's
// rule reader and the routing resolver's offer source so one fake wires a
// whole handler graph.
type fakeStore struct {
	mu      sync.Mutex
	offers  map[int64]*core.Offer
	pages   map[int64]*core.Page
	sources map[int64]*core.BlacklistSource
	prompts map[string]string
	rules   map[string][]core.Rule

	promptLookups int
	syncOutcomes  []string // FinishSourceSync errors, "" = success
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		offers:  map[int64]*core.Offer{},
		pages:   map[int64]*core.Page{},
		sources: map[int64]*core.BlacklistSource{},
		prompts: map[string]string{},
		rules:   map[string][]core.Rule{},
	}
}

func (f *fakeStore) GetOffer(_ context.Context, id int64) (*core.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[id]
	if !ok {
		return nil, core.NotFoundf("offer %d", id)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) MarkOfferScraping(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[id]
	if !ok {
		return core.NotFoundf("offer %d", id)
	}
	o.ScrapeStatus = "scraping"
	return nil
}

func (f *fakeStore) SetOfferScraped(_ context.Context, id int64, title, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[id]
	if !ok {
		return core.NotFoundf("offer %d", id)
	}
	now := time.Now()
	o.ScrapeStatus = "completed"
	o.ScrapeError = ""
	o.ScrapedAt = &now
	o.PageTitle = title
	o.PageDescription = description
	return nil
}

func (f *fakeStore) SetOfferScrapeFailed(_ context.Context, id int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[id]
	if !ok {
		return core.NotFoundf("offer %d", id)
	}
	o.ScrapeStatus = "failed"
	o.ScrapeError = reason
	return nil
}

func (f *fakeStore) SetDomainVerified(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[id]
	if !ok || o.CustomDomain == "" {
		return core.NotFoundf("offer %d with custom domain", id)
	}
	now := time.Now()
	o.CustomDomainStatus = core.DomainVerified
	o.CustomDomainVerifiedAt = &now
	o.CustomDomainError = ""
	return nil
}

func (f *fakeStore) SetDomainFailed(_ context.Context, id int64, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[id]
	if !ok || o.CustomDomain == "" {
		return core.NotFoundf("offer %d with custom domain", id)
	}
	o.CustomDomainStatus = core.DomainFailed
	o.CustomDomainVerifiedAt = nil
	o.CustomDomainError = detail
	return nil
}

func (f *fakeStore) MarkPageGenerating(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[id]
	if !ok {
		return core.NotFoundf("page %d", id)
	}
	p.Status = core.PageStatusGenerating
	return nil
}

func (f *fakeStore) SetPageGenerated(_ context.Context, id int64, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[id]
	if !ok {
		return core.NotFoundf("page %d", id)
	}
	p.Status = core.PageStatusGenerated
	p.HTMLContent = html
	p.GenerationError = ""
	return nil
}

func (f *fakeStore) SetPageFailed(_ context.Context, id int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[id]
	if !ok {
		return core.NotFoundf("page %d", id)
	}
	p.Status = core.PageStatusFailed
	p.GenerationError = reason
	return nil
}

func (f *fakeStore) GetActivePromptContent(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promptLookups++
	c, ok := f.prompts[name]
	if !ok {
		return "", core.NotFoundf("prompt %s", name)
	}
	return c, nil
}

func (f *fakeStore) GetSource(_ context.Context, id int64) (*core.BlacklistSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sources[id]
	if !ok {
		return nil, core.NotFoundf("source %d", id)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) MarkSourceSyncing(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sources[id]
	if !ok {
		return core.NotFoundf("source %d", id)
	}
	s.SyncStatus = "syncing"
	return nil
}

func (f *fakeStore) ReplaceSourceRules(_ context.Context, sourceID int64, rules []core.Rule) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tag := core.SourceTag(sourceID)
	for family := range f.rules {
		kept := f.rules[family][:0]
		for _, r := range f.rules[family] {
			if r.Source != tag {
				kept = append(kept, r)
			}
		}
		f.rules[family] = kept
	}
	for _, r := range rules {
		r.Source = tag
		if err := r.Validate(); err != nil {
			return 0, err
		}
		f.rules[r.Family] = append(f.rules[r.Family], r)
	}
	return len(rules), nil
}

func (f *fakeStore) FinishSourceSync(_ context.Context, id int64, syncErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sources[id]
	if !ok {
		return core.NotFoundf("source %d", id)
	}
	if syncErr == "" {
		s.SyncStatus = "success"
	} else {
		s.SyncStatus = "failed"
	}
	s.SyncError = syncErr
	f.syncOutcomes = append(f.syncOutcomes, syncErr)
	return nil
}

// blacklist.RuleStore, for wiring a real materializer over the fake.

func (f *fakeStore) ListEffectiveRules(_ context.Context, family string) ([]core.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Rule(nil), f.rules[family]...), nil
}

func (f *fakeStore) DeactivateExpired(context.Context) (map[string]int64, error) {
	return map[string]int64{}, nil
}

// engine.OfferSource, for wiring a real routing layer over the fake.

func (f *fakeStore) GetOfferBySubdomain(_ context.Context, subdomain string) (*core.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.offers {
		if o.Subdomain == subdomain {
			cp := *o
			return &cp, nil
		}
	}
	return nil, core.NotFoundf("offer for subdomain %s", subdomain)
}

func (f *fakeStore) GetOfferByCustomDomain(_ context.Context, domain string) (*core.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.offers {
		if o.CustomDomain == domain && o.CustomDomainStatus == core.DomainVerified {
			cp := *o
			return &cp, nil
		}
	}
	return nil, core.NotFoundf("offer for domain %s", domain)
}

func (f *fakeStore) page(t *testing.T, id int64) core.Page {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[id]
	require.True(t, ok, "page %d", id)
	return *p
}

func (f *fakeStore) offer(t *testing.T, id int64) core.Offer {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offers[id]
	require.True(t, ok, "offer %d", id)
	return *o
}

// staticBody builds an http.Response for fake RoundTrippers.
func staticBody(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}
