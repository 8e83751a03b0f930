package handlers

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/engine"
	"github.com/autoguard/backend/internal/faststore"
	"github.com/autoguard/backend/internal/jobs"
	"github.com/autoguard/backend/internal/pages"
	"github.com/autoguard/backend/internal/queue"
)

type createOfferRequest struct {
	UserID           int64                  `json:"user_id"`
	BrandName        string                 `json:"brand_name"`
	BrandURL         string                 `json:"brand_url"`
	AffiliateLink    string                 `json:"affiliate_link"`
	Subdomain        string                 `json:"subdomain"`
	CloakEnabled     bool                   `json:"cloak_enabled"`
	TargetCountries  []string               `json:"target_countries"`
	SafePageType     string                 `json:"safe_page_type"`
	Competitors      []string               `json:"competitors"`
	GenerationParams map[string]interface{} `json:"generation_params"`
}

type createOfferResponse struct {
	Offer *core.Offer  `json:"offer"`
	Pages []*core.Page `json:"pages"`
}

var safePageTypes = map[string]bool{
	"review": true, "tips": true, "comparison": true, "guide": true,
}

// CreateOffer registers a draft offer with its money and safe page rows and
// kicks off both pipelines: the scraper clones the brand page into variant
// a, the generator writes the safe article into variant b.
func CreateOffer(st Store, q *queue.Reliable, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createOfferRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, logger, err)
			return
		}
		if req.UserID <= 0 {
			respondError(w, logger, core.Validationf("user_id is required"))
			return
		}
		if req.SafePageType == "" {
			req.SafePageType = "review"
		}
		if !safePageTypes[req.SafePageType] {
			respondError(w, logger, core.Validationf("invalid safe_page_type %q", req.SafePageType))
			return
		}

		ctx := r.Context()
		offer, err := st.CreateOffer(ctx, &core.Offer{
			UserID:          req.UserID,
			BrandName:       req.BrandName,
			BrandURL:        req.BrandURL,
			AffiliateLink:   req.AffiliateLink,
			Subdomain:       req.Subdomain,
			CloakEnabled:    req.CloakEnabled,
			TargetCountries: req.TargetCountries,
		})
		if err != nil {
			respondError(w, logger, err)
			return
		}

		money, err := st.UpsertPage(ctx, &core.Page{
			OfferID:       offer.ID,
			PageType:      core.PageMoney,
			ContentSource: "scraped",
		})
		if err != nil {
			respondError(w, logger, err)
			return
		}
		safe, err := st.UpsertPage(ctx, &core.Page{
			OfferID:          offer.ID,
			PageType:         core.PageSafe,
			ContentSource:    "generated",
			SafePageType:     req.SafePageType,
			Competitors:      req.Competitors,
			GenerationParams: req.GenerationParams,
		})
		if err != nil {
			respondError(w, logger, err)
			return
		}

		if err := enqueuePageJobs(r, q, offer, money, safe); err != nil {
			respondError(w, logger, err)
			return
		}

		logger.Info("Offer created",
			"offerId", offer.ID, "userId", offer.UserID, "subdomain", offer.Subdomain)
		respondJSON(w, http.StatusCreated, createOfferResponse{
			Offer: offer,
			Pages: []*core.Page{money, safe},
		})
	}
}

func enqueuePageJobs(r *http.Request, q *queue.Reliable, offer *core.Offer, money, safe *core.Page) error {
	scrape, err := jobs.Encode(jobs.PageJob{
		PageID:    money.ID,
		OfferID:   offer.ID,
		Variant:   core.VariantMoney,
		Action:    jobs.ActionScrape,
		SourceURL: offer.BrandURL,
		Subdomain: offer.Subdomain,
	})
	if err != nil {
		return err
	}
	generate, err := jobs.Encode(jobs.PageJob{
		PageID:        safe.ID,
		OfferID:       offer.ID,
		Variant:       core.VariantSafe,
		Action:        jobs.ActionAIGenerate,
		Subdomain:     offer.Subdomain,
		SafePageType:  safe.SafePageType,
		AffiliateLink: offer.AffiliateLink,
		Competitors:   safe.Competitors,
	})
	if err != nil {
		return err
	}
	ctx := r.Context()
	if err := q.Enqueue(ctx, faststore.QueuePageGeneration, scrape); err != nil {
		return err
	}
	return q.Enqueue(ctx, faststore.QueuePageGeneration, generate)
}

// GetOffer returns one offer row.
func GetOffer(st Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, logger, err)
			return
		}
		offer, err := st.GetOffer(r.Context(), id)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusOK, offer)
	}
}

// ListOffers returns the offers of one user.
func ListOffers(st Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := queryInt(r, "user_id")
		if err != nil {
			respondError(w, logger, err)
			return
		}
		if userID == 0 {
			respondError(w, logger, core.Validationf("user_id is required"))
			return
		}
		offers, err := st.ListOffersByUser(r.Context(), userID)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		if offers == nil {
			offers = []*core.Offer{}
		}
		respondJSON(w, http.StatusOK, offers)
	}
}

type updateOfferRequest struct {
	BrandName       string   `json:"brand_name"`
	BrandURL        string   `json:"brand_url"`
	AffiliateLink   string   `json:"affiliate_link"`
	CloakEnabled    bool     `json:"cloak_enabled"`
	TargetCountries []string `json:"target_countries"`
}

// UpdateOffer edits the mutable offer fields and refreshes the routing
// cache so the edge sees the new targeting without a TTL wait.
func UpdateOffer(st Store, routing *engine.Routing, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, logger, err)
			return
		}
		var req updateOfferRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, logger, err)
			return
		}
		offer, err := st.UpdateOffer(r.Context(), id,
			req.BrandName, req.BrandURL, req.AffiliateLink, req.CloakEnabled, req.TargetCountries)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		refreshRouting(r, routing, offer, logger)
		respondJSON(w, http.StatusOK, offer)
	}
}

// ActivateOffer flips a draft or paused offer live. The store enforces the
// precondition: no activation without an affiliate link and a ready page.
func ActivateOffer(st Store, routing *engine.Routing, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, logger, err)
			return
		}
		offer, err := st.ActivateOffer(r.Context(), id)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		refreshRouting(r, routing, offer, logger)
		logger.Info("Offer activated", "offerId", offer.ID, "subdomain", offer.Subdomain)
		respondJSON(w, http.StatusOK, offer)
	}
}

// PauseOffer suspends cloaking for an offer; every visitor sees the safe
// page until it is activated again.
func PauseOffer(st Store, routing *engine.Routing, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, logger, err)
			return
		}
		if err := st.PauseOffer(r.Context(), id); err != nil {
			respondError(w, logger, err)
			return
		}
		offer, err := st.GetOffer(r.Context(), id)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		refreshRouting(r, routing, offer, logger)
		respondJSON(w, http.StatusOK, offer)
	}
}

// DeleteOffer soft-deletes the offer, drops its routing keys and removes
// the rendered pages from disk.
func DeleteOffer(st Store, routing *engine.Routing, disk *pages.Disk, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, logger, err)
			return
		}
		ctx := r.Context()
		offer, err := st.GetOffer(ctx, id)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		if err := st.SoftDeleteOffer(ctx, id); err != nil {
			respondError(w, logger, err)
			return
		}

		// Force the domain key into the invalidation set even when the
		// domain never verified; a stale byDomain entry must not outlive
		// the offer.
		rt := engine.RoutingFromOffer(offer)
		rt.CustomDomain = offer.CustomDomain
		if err := routing.Invalidate(ctx, rt); err != nil {
			logger.Warn("Routing invalidation failed", "offerId", id, "error", err)
		}
		if err := disk.Remove(offer.Subdomain); err != nil {
			logger.Warn("Page directory removal failed", "offerId", id, "error", err)
		}
		logger.Info("Offer deleted", "offerId", id, "subdomain", offer.Subdomain)
		respondJSON(w, http.StatusNoContent, nil)
	}
}

type setDomainRequest struct {
	Domain string `json:"domain"`
}

type setDomainResponse struct {
	Domain   string `json:"domain"`
	Status   string `json:"status"`
	TXTName  string `json:"txt_name"`
	TXTValue string `json:"txt_value"`
}

// SetCustomDomain attaches a custom domain in the pending state and queues
// the verification job. The response carries the TXT record the operator
// must publish before verification can succeed.
func SetCustomDomain(st Store, routing *engine.Routing, q *queue.Reliable, tokenSalt string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, logger, err)
			return
		}
		var req setDomainRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, logger, err)
			return
		}
		domain, err := normalizeDomain(req.Domain)
		if err != nil {
			respondError(w, logger, err)
			return
		}

		ctx := r.Context()
		offer, err := st.GetOffer(ctx, id)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		// Replacing a domain leaves the previous byDomain key behind;
		// clear it before the new one takes over.
		if offer.CustomDomain != "" && offer.CustomDomain != domain {
			old := engine.RoutingFromOffer(offer)
			old.CustomDomain = offer.CustomDomain
			if err := routing.Invalidate(ctx, old); err != nil {
				logger.Warn("Stale domain invalidation failed", "offerId", id, "error", err)
			}
		}

		token := jobs.VerificationToken(offer.Subdomain, tokenSalt)
		if err := st.SetCustomDomain(ctx, id, domain, token); err != nil {
			respondError(w, logger, err)
			return
		}
		if err := enqueueVerifyJob(ctx, q, id, domain); err != nil {
			respondError(w, logger, err)
			return
		}

		logger.Info("Custom domain pending", "offerId", id, "domain", domain)
		respondJSON(w, http.StatusAccepted, setDomainResponse{
			Domain:   domain,
			Status:   core.DomainPending,
			TXTName:  "_autoguard." + domain,
			TXTValue: "ag-verify=" + token,
		})
	}
}

// VerifyDomain re-queues the verification job for an offer's current
// domain, typically after a failed attempt once DNS has propagated.
func VerifyDomain(st Store, q *queue.Reliable, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, logger, err)
			return
		}
		ctx := r.Context()
		offer, err := st.GetOffer(ctx, id)
		if err != nil {
			respondError(w, logger, err)
			return
		}
		if offer.CustomDomain == "" {
			respondError(w, logger, core.Validationf("offer %d has no custom domain", id))
			return
		}
		if err := enqueueVerifyJob(ctx, q, id, offer.CustomDomain); err != nil {
			respondError(w, logger, err)
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]string{
			"domain": offer.CustomDomain,
			"status": "queued",
		})
	}
}

func enqueueVerifyJob(ctx context.Context, q *queue.Reliable, offerID int64, domain string) error {
	payload, err := jobs.Encode(jobs.VerifyDomainJob{OfferID: offerID, Domain: domain})
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, faststore.QueueDomainVerification, payload)
}

// refreshRouting backfills the routing cache after an offer mutation. A
// failure only delays the edge until the next cache miss, so it logs
// instead of failing the request.
func refreshRouting(r *http.Request, routing *engine.Routing, offer *core.Offer, logger *slog.Logger) {
	if err := routing.Backfill(r.Context(), engine.RoutingFromOffer(offer)); err != nil {
		logger.Warn("Routing backfill failed", "offerId", offer.ID, "error", err)
	}
}

// normalizeDomain validates the bare-hostname shape of a custom domain.
func normalizeDomain(raw string) (string, error) {
	domain := strings.ToLower(strings.TrimSpace(raw))
	domain = strings.TrimSuffix(domain, ".")
	if domain == "" {
		return "", core.Validationf("domain is required")
	}
	if strings.Contains(domain, "://") || strings.ContainsAny(domain, "/ ") {
		return "", core.Validationf("domain must be a bare hostname, got %q", raw)
	}
	if net.ParseIP(domain) != nil {
		return "", core.Validationf("domain must be a hostname, not an ip")
	}
	if !strings.Contains(domain, ".") || len(domain) > 253 {
		return "", core.Validationf("invalid domain %q", raw)
	}
	return domain, nil
}
