package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/autoguard/backend/internal/blacklist"
	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/engine"
	"github.com/autoguard/backend/internal/faststore"
	"github.com/autoguard/backend/internal/llm"
	"github.com/autoguard/backend/internal/pages"
)

// Per-handler budgets. Each handler derives its own deadline so one slow
// collaborator cannot starve the worker slot indefinitely.
const (
	scrapeTimeout   = 30 * time.Second
	generateTimeout = 60 * time.Second
	syncTimeout     = 30 * time.Second
	dnsTimeout      = 5 * time.Second
	pingTimeout     = 5 * time.Second
)

// Store is the authoritative-store surface the handlers write through.
// *store.Store satisfies it.
type Store interface {
	GetOffer(ctx context.Context, id int64) (*core.Offer, error)
	MarkOfferScraping(ctx context.Context, id int64) error
	SetOfferScraped(ctx context.Context, id int64, title, description string) error
	SetOfferScrapeFailed(ctx context.Context, id int64, reason string) error
	SetDomainVerified(ctx context.Context, id int64) error
	SetDomainFailed(ctx context.Context, id int64, detail string) error

	MarkPageGenerating(ctx context.Context, id int64) error
	SetPageGenerated(ctx context.Context, id int64, html string) error
	SetPageFailed(ctx context.Context, id int64, reason string) error
	GetActivePromptContent(ctx context.Context, name string) (string, error)

	GetSource(ctx context.Context, id int64) (*core.BlacklistSource, error)
	MarkSourceSyncing(ctx context.Context, id int64) error
	ReplaceSourceRules(ctx context.Context, sourceID int64, rules []core.Rule) (int, error)
	FinishSourceSync(ctx context.Context, id int64, syncErr string) error
}

// Deps carries everything the handlers collaborate with.
type Deps struct {
	Store        Store
	Fast         faststore.Client
	Disk         *pages.Disk
	Fetcher      Fetcher
	LLM          llm.Client
	Resolver     TXTResolver
	PingClient   *http.Client
	FeedClient   *http.Client
	Routing      *engine.Routing
	Materializer *blacklist.Materializer
	Logger       *slog.Logger
}

// Handlers owns the per-queue job implementations.
type Handlers struct {
	store    Store
	fast     faststore.Client
	disk     *pages.Disk
	fetcher  Fetcher
	llm      llm.Client
	resolver TXTResolver
	pinger   *http.Client
	feed     *http.Client
	routing  *engine.Routing
	mat      *blacklist.Materializer
	logger   *slog.Logger
}

func NewHandlers(d Deps) *Handlers {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.PingClient == nil {
		d.PingClient = &http.Client{Timeout: pingTimeout}
	}
	if d.FeedClient == nil {
		d.FeedClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Handlers{
		store:    d.Store,
		fast:     d.Fast,
		disk:     d.Disk,
		fetcher:  d.Fetcher,
		llm:      d.LLM,
		resolver: d.Resolver,
		pinger:   d.PingClient,
		feed:     d.FeedClient,
		routing:  d.Routing,
		mat:      d.Materializer,
		logger:   d.Logger,
	}
}

// Register wires every pipeline onto the pool.
func (h *Handlers) Register(p *Pool) {
	p.Handle(faststore.QueuePageGeneration, h.HandlePageGeneration)
	p.Handle(faststore.QueueBlacklistSync, h.HandleSourceSync)
	p.Handle(faststore.QueueDomainVerification, h.HandleDomainVerification)
}

// HandlePageGeneration routes a page job to the scrape or generation path,
// rejecting variant/action combinations the product does not allow.
func (h *Handlers) HandlePageGeneration(ctx context.Context, payload string) error {
	var job PageJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return core.Validationf("malformed page job: %v", err)
	}
	if job.PageID == 0 || job.OfferID == 0 || job.Subdomain == "" {
		return core.Validationf("page job missing identifiers")
	}

	switch job.Action {
	case ActionScrape:
		if job.Variant != core.VariantMoney {
			return core.Validationf("scraping only builds the money variant, got %q", job.Variant)
		}
		return h.scrape(ctx, job)
	case ActionAIGenerate:
		if job.Variant != core.VariantSafe {
			return core.Validationf("generation only builds the safe variant, got %q", job.Variant)
		}
		return h.generate(ctx, job)
	default:
		return core.Validationf("unknown page action %q", job.Action)
	}
}

// failPage records the failure on the page row (and the offer's scrape
// fields for money pages) before handing the cause back to the pool's
// retry policy. Status writes run on a fresh context so a burned job
// deadline cannot mask the outcome.
func (h *Handlers) failPage(job PageJob, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	reason := truncate(cause.Error(), 500)
	if err := h.store.SetPageFailed(ctx, job.PageID, reason); err != nil {
		h.logger.Warn("Recording page failure failed", "pageId", job.PageID, "error", err)
	}
	if job.Action == ActionScrape {
		if err := h.store.SetOfferScrapeFailed(ctx, job.OfferID, reason); err != nil {
			h.logger.Warn("Recording scrape failure failed", "offerId", job.OfferID, "error", err)
		}
	}
	return cause
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
