package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/faststore"
)

const negativeCacheTTL = 30 * time.Second

// OfferSource is the authoritative-store fallback when a host has no
// materialized routing record yet.
type OfferSource interface {
	GetOfferBySubdomain(ctx context.Context, subdomain string) (*core.Offer, error)
	GetOfferByCustomDomain(ctx context.Context, domain string) (*core.Offer, error)
}

// Routing resolves an incoming Host header to the offer that owns it.
// Lookups hit the fast store first (custom domain, then subdomain label) and
// fall back to the authoritative store, backfilling the fast-store keys on
// the way out. Unknown hosts are negative-cached briefly so scanners cannot
// hammer the store.
type Routing struct {
	fast   faststore.Client
	store  OfferSource
	misses *gocache.Cache
	logger *slog.Logger
}

func NewRouting(fast faststore.Client, store OfferSource, logger *slog.Logger) *Routing {
	if logger == nil {
		logger = slog.Default()
	}
	return &Routing{
		fast:   fast,
		store:  store,
		misses: gocache.New(negativeCacheTTL, 2*negativeCacheTTL),
		logger: logger,
	}
}

// Resolve maps a Host header (port tolerated) to a routing record.
// Returns core.ErrNotFound for hosts no offer owns.
func (r *Routing) Resolve(ctx context.Context, host string) (*core.OfferRouting, error) {
	host = normalizeHost(host)
	if host == "" {
		return nil, core.Validationf("empty host")
	}
	if _, found := r.misses.Get(host); found {
		return nil, core.NotFoundf("no offer for host %q", host)
	}

	if rt, err := r.fromFast(ctx, faststore.OfferByDomain(host)); err == nil {
		return rt, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		r.logger.Warn("Routing fast-store read failed", "host", host, "error", err)
	}

	label := firstLabel(host)
	if rt, err := r.fromFast(ctx, faststore.OfferBySubdomain(label)); err == nil {
		return rt, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		r.logger.Warn("Routing fast-store read failed", "host", host, "error", err)
	}

	offer, err := r.store.GetOfferByCustomDomain(ctx, host)
	if errors.Is(err, core.ErrNotFound) {
		offer, err = r.store.GetOfferBySubdomain(ctx, label)
	}
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			r.misses.Set(host, struct{}{}, gocache.DefaultExpiration)
		}
		return nil, err
	}

	rt := RoutingFromOffer(offer)
	if err := r.Backfill(ctx, rt); err != nil {
		r.logger.Warn("Routing backfill failed", "host", host, "error", err)
	}
	return &rt, nil
}

// Backfill writes the routing record under every key that can resolve it.
func (r *Routing) Backfill(ctx context.Context, rt core.OfferRouting) error {
	raw, err := json.Marshal(rt)
	if err != nil {
		return err
	}
	if err := r.fast.Set(ctx, faststore.OfferBySubdomain(rt.Subdomain), string(raw), 0); err != nil {
		return err
	}
	if err := r.fast.Set(ctx, faststore.OfferByID(rt.OfferID), string(raw), 0); err != nil {
		return err
	}
	if rt.CustomDomain != "" {
		if err := r.fast.Set(ctx, faststore.OfferByDomain(rt.CustomDomain), string(raw), 0); err != nil {
			return err
		}
	}
	r.misses.Delete(rt.Subdomain)
	if rt.CustomDomain != "" {
		r.misses.Delete(rt.CustomDomain)
	}
	return nil
}

// Invalidate drops every fast-store key that resolves the offer. Called on
// offer delete and before re-verification of a custom domain.
func (r *Routing) Invalidate(ctx context.Context, rt core.OfferRouting) error {
	keys := []string{
		faststore.OfferBySubdomain(rt.Subdomain),
		faststore.OfferByID(rt.OfferID),
	}
	if rt.CustomDomain != "" {
		keys = append(keys, faststore.OfferByDomain(rt.CustomDomain))
	}
	return r.fast.Del(ctx, keys...)
}

// RoutingFromOffer projects an offer row onto the routing record the edge
// needs per request.
func RoutingFromOffer(o *core.Offer) core.OfferRouting {
	rt := core.OfferRouting{
		OfferID:         o.ID,
		UserID:          o.UserID,
		Subdomain:       o.Subdomain,
		CloakEnabled:    o.CloakEnabled,
		TargetCountries: o.TargetCountries,
		Status:          o.Status,
	}
	if o.CustomDomainStatus == core.DomainVerified {
		rt.CustomDomain = o.CustomDomain
	}
	return rt
}

func (r *Routing) fromFast(ctx context.Context, key string) (*core.OfferRouting, error) {
	raw, err := r.fast.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var rt core.OfferRouting
	if err := json.Unmarshal([]byte(raw), &rt); err != nil {
		return nil, core.Transientf(err, "decode routing record %q", key)
	}
	return &rt, nil
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}

func firstLabel(host string) string {
	if i := strings.IndexByte(host, '.'); i > 0 {
		return host[:i]
	}
	return host
}
