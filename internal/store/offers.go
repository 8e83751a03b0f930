package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/autoguard/backend/internal/core"
)

const offerColumns = `id, user_id, brand_name, brand_url, affiliate_link, subdomain,
	custom_domain, custom_domain_status, custom_domain_token, custom_domain_verified_at,
	custom_domain_error, cloak_enabled, target_countries, scrape_status, scrape_error, scraped_at,
	page_title, page_description, status, is_deleted, created_at, updated_at`

var subdomainRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{1,61}[a-z0-9])?$`)

func scanOffer(row scanner) (*core.Offer, error) {
	var (
		o                              core.Offer
		customDomain, token, scrapeErr sql.NullString
		domainErr                      sql.NullString
		pageTitle, pageDesc            sql.NullString
		verifiedAt, scrapedAt          sql.NullTime
	)
	err := row.Scan(&o.ID, &o.UserID, &o.BrandName, &o.BrandURL, &o.AffiliateLink, &o.Subdomain,
		&customDomain, &o.CustomDomainStatus, &token, &verifiedAt,
		&domainErr, &o.CloakEnabled, pq.Array(&o.TargetCountries), &o.ScrapeStatus, &scrapeErr, &scrapedAt,
		&pageTitle, &pageDesc, &o.Status, &o.IsDeleted, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.CustomDomain = fromNullString(customDomain)
	o.CustomDomainToken = fromNullString(token)
	o.CustomDomainVerifiedAt = fromNullTime(verifiedAt)
	o.CustomDomainError = fromNullString(domainErr)
	o.ScrapeError = fromNullString(scrapeErr)
	o.ScrapedAt = fromNullTime(scrapedAt)
	o.PageTitle = fromNullString(pageTitle)
	o.PageDescription = fromNullString(pageDesc)
	return &o, nil
}

// CreateOffer inserts a draft offer. The subdomain is fixed at creation and
// never changes afterwards.
func (s *Store) CreateOffer(ctx context.Context, o *core.Offer) (*core.Offer, error) {
	sub := strings.ToLower(strings.TrimSpace(o.Subdomain))
	if !subdomainRe.MatchString(sub) {
		return nil, core.Validationf("invalid subdomain %q", sub)
	}
	if o.BrandName == "" || o.BrandURL == "" {
		return nil, core.Validationf("brand name and brand url are required")
	}
	if o.TargetCountries == nil {
		o.TargetCountries = []string{}
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO offers (user_id, brand_name, brand_url, affiliate_link, subdomain,
			cloak_enabled, target_countries, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'draft')
		RETURNING `+offerColumns,
		o.UserID, o.BrandName, o.BrandURL, o.AffiliateLink, sub,
		o.CloakEnabled, pq.Array(normalizeCountries(o.TargetCountries)))
	created, err := scanOffer(row)
	if err != nil {
		return nil, mapError(err, "create offer")
	}
	return created, nil
}

// GetOffer fetches one offer by id, excluding soft-deleted rows.
func (s *Store) GetOffer(ctx context.Context, id int64) (*core.Offer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE id = $1 AND NOT is_deleted`, id)
	o, err := scanOffer(row)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("offer %d", id))
	}
	return o, nil
}

// GetOfferBySubdomain resolves the system subdomain to its offer.
func (s *Store) GetOfferBySubdomain(ctx context.Context, subdomain string) (*core.Offer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM offers WHERE subdomain = LOWER($1) AND NOT is_deleted`, subdomain)
	o, err := scanOffer(row)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("offer for subdomain %s", subdomain))
	}
	return o, nil
}

// GetOfferByCustomDomain resolves a custom domain to its offer. Only
// verified domains route traffic; pending and failed ones do not resolve.
func (s *Store) GetOfferByCustomDomain(ctx context.Context, domain string) (*core.Offer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+offerColumns+` FROM offers
		WHERE custom_domain = LOWER($1) AND custom_domain_status = 'verified' AND NOT is_deleted`,
		domain)
	o, err := scanOffer(row)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("offer for domain %s", domain))
	}
	return o, nil
}

// ListOffersByUser returns the user's offers, newest first.
func (s *Store) ListOffersByUser(ctx context.Context, userID int64) ([]*core.Offer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+offerColumns+` FROM offers
		WHERE user_id = $1 AND NOT is_deleted
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, mapError(err, "list offers")
	}
	defer rows.Close()

	var out []*core.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, mapError(err, "scan offer")
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateOffer applies the mutable campaign fields. Subdomain, ownership and
// lifecycle fields are not touched here.
func (s *Store) UpdateOffer(ctx context.Context, id int64, brandName, brandURL, affiliateLink string, cloakEnabled bool, targetCountries []string) (*core.Offer, error) {
	if targetCountries == nil {
		targetCountries = []string{}
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE offers
		SET brand_name = $2, brand_url = $3, affiliate_link = $4,
			cloak_enabled = $5, target_countries = $6, updated_at = now()
		WHERE id = $1 AND NOT is_deleted
		RETURNING `+offerColumns,
		id, brandName, brandURL, affiliateLink, cloakEnabled, pq.Array(normalizeCountries(targetCountries)))
	o, err := scanOffer(row)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("update offer %d", id))
	}
	return o, nil
}

// ActivateOffer flips the offer to active. It requires a non-empty
// affiliate link and at least one page already generated or published;
// otherwise it fails with PreconditionFailed.
func (s *Store) ActivateOffer(ctx context.Context, id int64) (*core.Offer, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE offers
		SET status = 'active', updated_at = now()
		WHERE id = $1 AND NOT is_deleted
			AND affiliate_link <> ''
			AND EXISTS (
				SELECT 1 FROM pages
				WHERE offer_id = $1 AND status IN ('generated', 'published')
			)
		RETURNING `+offerColumns, id)
	o, err := scanOffer(row)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapError(err, fmt.Sprintf("activate offer %d", id))
	}

	// Nothing updated: distinguish a missing offer from an unmet precondition.
	if _, getErr := s.GetOffer(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, core.Preconditionf("offer %d needs a non-empty affiliate link and a generated page before activation", id)
}

// PauseOffer flips the offer to paused. Paused offers always serve the
// safe page.
func (s *Store) PauseOffer(ctx context.Context, id int64) error {
	return s.setOfferStatus(ctx, id, core.OfferPaused)
}

func (s *Store) setOfferStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE offers SET status = $2, updated_at = now() WHERE id = $1 AND NOT is_deleted`,
		id, status)
	if err != nil {
		return mapError(err, fmt.Sprintf("offer %d status", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFoundf("offer %d", id)
	}
	return nil
}

// SoftDeleteOffer marks the offer deleted. Rows stay for log attribution;
// routing and lookups stop resolving it immediately.
func (s *Store) SoftDeleteOffer(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE offers SET is_deleted = true, updated_at = now() WHERE id = $1 AND NOT is_deleted`, id)
	if err != nil {
		return mapError(err, fmt.Sprintf("delete offer %d", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFoundf("offer %d", id)
	}
	return nil
}

// MarkOfferScraping records that a scrape job picked the offer up.
func (s *Store) MarkOfferScraping(ctx context.Context, id int64) error {
	return s.setScrape(ctx, id, "scraping", "", nil, "", "")
}

// SetOfferScraped records a successful scrape with the extracted metadata.
func (s *Store) SetOfferScraped(ctx context.Context, id int64, title, description string) error {
	now := time.Now().UTC()
	return s.setScrape(ctx, id, "completed", "", &now, title, description)
}

// SetOfferScrapeFailed records a scrape failure.
func (s *Store) SetOfferScrapeFailed(ctx context.Context, id int64, reason string) error {
	return s.setScrape(ctx, id, "failed", reason, nil, "", "")
}

func (s *Store) setScrape(ctx context.Context, id int64, status, scrapeErr string, at *time.Time, title, desc string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE offers
		SET scrape_status = $2, scrape_error = $3, scraped_at = $4,
			page_title = COALESCE(NULLIF($5, ''), page_title),
			page_description = COALESCE(NULLIF($6, ''), page_description),
			updated_at = now()
		WHERE id = $1 AND NOT is_deleted`,
		id, status, nullString(scrapeErr), nullTime(at), title, desc)
	if err != nil {
		return mapError(err, fmt.Sprintf("offer %d scrape status", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFoundf("offer %d", id)
	}
	return nil
}

// SetCustomDomain attaches a custom domain in pending state with its
// verification token. Re-pointing a domain restarts verification.
func (s *Store) SetCustomDomain(ctx context.Context, id int64, domain, token string) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || !strings.Contains(domain, ".") {
		return core.Validationf("invalid custom domain %q", domain)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE offers
		SET custom_domain = $2, custom_domain_status = 'pending', custom_domain_token = $3,
			custom_domain_verified_at = NULL, custom_domain_error = NULL, updated_at = now()
		WHERE id = $1 AND NOT is_deleted`,
		id, domain, token)
	if err != nil {
		return mapError(err, fmt.Sprintf("offer %d custom domain", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFoundf("offer %d", id)
	}
	return nil
}

// SetDomainVerified marks the domain verified. Status and verifiedAt move
// together so a verified status always carries its timestamp.
func (s *Store) SetDomainVerified(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE offers
		SET custom_domain_status = 'verified', custom_domain_verified_at = now(),
			custom_domain_error = NULL, updated_at = now()
		WHERE id = $1 AND NOT is_deleted AND custom_domain IS NOT NULL`, id)
	if err != nil {
		return mapError(err, fmt.Sprintf("offer %d domain verified", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFoundf("offer %d with custom domain", id)
	}
	return nil
}

// SetDomainFailed marks verification failed, recording which check broke so
// the owner can fix the right thing.
func (s *Store) SetDomainFailed(ctx context.Context, id int64, detail string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE offers
		SET custom_domain_status = 'failed', custom_domain_verified_at = NULL,
			custom_domain_error = $2, updated_at = now()
		WHERE id = $1 AND NOT is_deleted AND custom_domain IS NOT NULL`,
		id, nullString(detail))
	if err != nil {
		return mapError(err, fmt.Sprintf("offer %d domain failed", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFoundf("offer %d with custom domain", id)
	}
	return nil
}

// normalizeCountries uppercases and dedupes ISO country codes.
func normalizeCountries(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.ToUpper(strings.TrimSpace(c))
		if len(c) != 2 || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
