package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/autoguard/backend/internal/core"
)

const pageColumns = `id, offer_id, page_type, content_source, safe_page_type, competitors,
	generation_params, html_content, status, generation_error, published_at, created_at, updated_at`

func scanPage(row scanner) (*core.Page, error) {
	var (
		p                      core.Page
		safeType, html, genErr sql.NullString
		genParams              []byte
		publishedAt            sql.NullTime
	)
	err := row.Scan(&p.ID, &p.OfferID, &p.PageType, &p.ContentSource, &safeType, pq.Array(&p.Competitors),
		&genParams, &html, &p.Status, &genErr, &publishedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.SafePageType = fromNullString(safeType)
	p.HTMLContent = fromNullString(html)
	p.GenerationError = fromNullString(genErr)
	p.PublishedAt = fromNullTime(publishedAt)
	if len(genParams) > 0 {
		if err := json.Unmarshal(genParams, &p.GenerationParams); err != nil {
			return nil, fmt.Errorf("decode generation params: %w", err)
		}
	}
	return &p, nil
}

// UpsertPage creates the page row for (offer, pageType) or refreshes its
// configuration. There is at most one row per variant.
func (s *Store) UpsertPage(ctx context.Context, p *core.Page) (*core.Page, error) {
	if p.PageType != core.PageMoney && p.PageType != core.PageSafe {
		return nil, core.Validationf("invalid page type %q", p.PageType)
	}
	if p.Competitors == nil {
		p.Competitors = []string{}
	}
	var genParams interface{}
	if p.GenerationParams != nil {
		raw, err := json.Marshal(p.GenerationParams)
		if err != nil {
			return nil, core.Validationf("generation params not serializable: %v", err)
		}
		genParams = string(raw)
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO pages (offer_id, page_type, content_source, safe_page_type, competitors, generation_params, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'draft')
		ON CONFLICT (offer_id, page_type) DO UPDATE
		SET content_source = EXCLUDED.content_source,
			safe_page_type = EXCLUDED.safe_page_type,
			competitors = EXCLUDED.competitors,
			generation_params = EXCLUDED.generation_params,
			updated_at = now()
		RETURNING `+pageColumns,
		p.OfferID, p.PageType, p.ContentSource, nullString(p.SafePageType), pq.Array(p.Competitors), genParams)
	out, err := scanPage(row)
	if err != nil {
		return nil, mapError(err, "upsert page")
	}
	return out, nil
}

// GetPage fetches one page by id.
func (s *Store) GetPage(ctx context.Context, id int64) (*core.Page, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = $1`, id)
	p, err := scanPage(row)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("page %d", id))
	}
	return p, nil
}

// GetPageByOfferAndType fetches the single page variant of an offer.
func (s *Store) GetPageByOfferAndType(ctx context.Context, offerID int64, pageType string) (*core.Page, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE offer_id = $1 AND page_type = $2`, offerID, pageType)
	p, err := scanPage(row)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("page %s for offer %d", pageType, offerID))
	}
	return p, nil
}

// MarkPageGenerating records that a generation job picked the page up.
func (s *Store) MarkPageGenerating(ctx context.Context, id int64) error {
	return s.setPageStatus(ctx, id, core.PageStatusGenerating, "")
}

// SetPageGenerated stores the rendered HTML and flips status to generated.
func (s *Store) SetPageGenerated(ctx context.Context, id int64, html string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pages
		SET status = 'generated', html_content = $2, generation_error = NULL, updated_at = now()
		WHERE id = $1`, id, html)
	if err != nil {
		return mapError(err, fmt.Sprintf("page %d generated", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFoundf("page %d", id)
	}
	return nil
}

// SetPageFailed records a generation failure with its reason.
func (s *Store) SetPageFailed(ctx context.Context, id int64, reason string) error {
	return s.setPageStatus(ctx, id, core.PageStatusFailed, reason)
}

// PublishPage flips a generated page to published.
func (s *Store) PublishPage(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pages
		SET status = 'published', published_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'generated'`, id)
	if err != nil {
		return mapError(err, fmt.Sprintf("publish page %d", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := s.GetPage(ctx, id); getErr != nil {
			return getErr
		}
		return core.Preconditionf("page %d is not in generated state", id)
	}
	return nil
}

func (s *Store) setPageStatus(ctx context.Context, id int64, status, genErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pages SET status = $2, generation_error = $3, updated_at = now() WHERE id = $1`,
		id, status, nullString(genErr))
	if err != nil {
		return mapError(err, fmt.Sprintf("page %d status", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFoundf("page %d", id)
	}
	return nil
}

// HasReadyPage reports whether the offer has any page in generated or
// published state. Offer activation gates on this.
func (s *Store) HasReadyPage(ctx context.Context, offerID int64) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pages WHERE offer_id = $1 AND status IN ('generated', 'published')
		)`, offerID).Scan(&ok)
	if err != nil {
		return false, mapError(err, fmt.Sprintf("ready pages for offer %d", offerID))
	}
	return ok, nil
}
