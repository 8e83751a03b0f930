package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/faststore"
	"github.com/autoguard/backend/internal/pages"
)

const defaultSafePageType = "review"

// generate builds the safe variant: resolve the prompt template, render it
// with the offer's product facts, ask the model for an article and wrap it
// in the fixed page shell.
func (h *Handlers) generate(ctx context.Context, job PageJob) error {
	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	if err := h.store.MarkPageGenerating(ctx, job.PageID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.Validationf("page %d no longer exists", job.PageID)
		}
		return err
	}
	offer, err := h.store.GetOffer(ctx, job.OfferID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.Validationf("offer %d no longer exists", job.OfferID)
		}
		return err
	}

	safeType := job.SafePageType
	if safeType == "" {
		safeType = defaultSafePageType
	}

	affiliate := job.AffiliateLink
	if affiliate == "" {
		affiliate = offer.AffiliateLink
	}

	vars := map[string]string{
		"product_name":   offer.BrandName,
		"product_url":    offer.BrandURL,
		"competitors":    strings.Join(job.Competitors, ", "),
		"affiliate_link": affiliate,
		"cta_button":     "Learn more",
	}
	if offer.BrandURL == "" {
		vars["cta_button"] = "" // nothing for the button to point at
	}

	prompt := pages.Render(h.promptTemplate(ctx, safeType), vars)

	resp, err := h.llm.Complete(ctx, prompt)
	if err != nil {
		return h.failPage(job, fmt.Errorf("generate %s copy: %w", safeType, err))
	}

	vars["page_description"] = offer.PageDescription
	if vars["page_description"] == "" {
		vars["page_description"] = "An independent look at " + offer.BrandName + "."
	}
	doc := pages.BuildSafePage(pages.ExtractArticle(resp), vars)

	if _, err := h.disk.WriteIndex(job.Subdomain, core.VariantSafe, doc); err != nil {
		return h.failPage(job, fmt.Errorf("persist safe page: %w", err))
	}
	if err := h.store.SetPageGenerated(ctx, job.PageID, doc); err != nil {
		return err
	}

	h.logger.Info("Safe page generated",
		"offerId", job.OfferID, "pageId", job.PageID, "type", safeType, "bytes", len(doc))
	return nil
}

// promptTemplate resolves safe-page-<type>: fast-store cache first, then the
// active version in the authoritative store, then the embedded default.
func (h *Handlers) promptTemplate(ctx context.Context, safeType string) string {
	name := "safe-page-" + safeType
	key := faststore.Prompt(name)

	if cached, err := h.fast.Get(ctx, key); err == nil && cached != "" {
		return cached
	}

	content, err := h.store.GetActivePromptContent(ctx, name)
	switch {
	case err == nil && content != "":
		if err := h.fast.Set(ctx, key, content, faststore.PromptTTL); err != nil {
			h.logger.Warn("Prompt cache write failed", "prompt", name, "error", err)
		}
		return content
	case err != nil && !errors.Is(err, core.ErrNotFound):
		h.logger.Warn("Active prompt lookup failed", "prompt", name, "error", err)
	}
	return pages.DefaultPrompt(safeType)
}
