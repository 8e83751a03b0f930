// Package jobs runs the background pipelines: money-page scraping, AI
// safe-page generation, external blacklist source sync and custom-domain
// verification. A Pool of workers drains the reliable queues and routes
// failures by error class; delivery is at-least-once, so every handler is
// idempotent around its database keys.
package jobs

import (
	"encoding/json"
	"fmt"
)

// Page-generation actions.
const (
	ActionScrape     = "scrape"
	ActionAIGenerate = "ai_generate"
)

// PageJob drives queue:pageGeneration. Variant a (money) is scrape-only,
// variant b (safe) is AI-only; the enqueuer builds conforming jobs and the
// handler rejects violations permanently.
type PageJob struct {
	PageID        int64    `json:"pageId"`
	OfferID       int64    `json:"offerId"`
	Variant       string   `json:"variant"`
	Action        string   `json:"action"`
	SourceURL     string   `json:"sourceUrl,omitempty"`
	Subdomain     string   `json:"subdomain"`
	SafePageType  string   `json:"safePageType,omitempty"`
	AffiliateLink string   `json:"affiliateLink,omitempty"`
	Competitors   []string `json:"competitors,omitempty"`
	Attempt       int      `json:"attempt,omitempty"`
}

// SourceSyncJob drives queue:blacklistSync. The handler re-reads the source
// row, so the descriptive fields exist for operators reading the DLQ.
type SourceSyncJob struct {
	SourceID    int64  `json:"sourceId"`
	SourceName  string `json:"sourceName,omitempty"`
	SourceType  string `json:"sourceType,omitempty"`
	URL         string `json:"url,omitempty"`
	TriggeredBy string `json:"triggeredBy,omitempty"`
	TriggeredAt string `json:"triggeredAt,omitempty"`
	Attempt     int    `json:"attempt,omitempty"`
}

// VerifyDomainJob drives queue:domainVerification. The handler verifies the
// offer's current domain and token, so a re-pointed domain never races a
// stale job.
type VerifyDomainJob struct {
	OfferID int64  `json:"offerId"`
	Domain  string `json:"domain,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
}

// Encode marshals a job payload for enqueueing.
func Encode(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode job payload: %w", err)
	}
	return string(raw), nil
}
