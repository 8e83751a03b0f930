package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/autoguard/backend/internal/blacklist"
	"github.com/autoguard/backend/internal/core"
)

const maxFeedBytes = 20 << 20

// HandleSourceSync re-imports one external blacklist feed: fetch, parse,
// replace the source's rules transactionally, refresh the fast store. The
// source row's sync status always reflects the outcome.
func (h *Handlers) HandleSourceSync(ctx context.Context, payload string) error {
	var job SourceSyncJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return core.Validationf("malformed source-sync job: %v", err)
	}
	if job.SourceID == 0 {
		return core.Validationf("source-sync job missing sourceId")
	}

	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	src, err := h.store.GetSource(ctx, job.SourceID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.Validationf("source %d no longer exists", job.SourceID)
		}
		return err
	}
	if !src.IsActive {
		h.logger.Info("Skipping sync of inactive source", "sourceId", src.ID, "name", src.Name)
		return nil
	}
	if src.URL == "" {
		return h.failSync(src.ID, core.Validationf("source %d has no feed url", src.ID))
	}

	if err := h.store.MarkSourceSyncing(ctx, src.ID); err != nil {
		return err
	}

	feed, err := h.fetchFeed(ctx, src.URL)
	if err != nil {
		return h.failSync(src.ID, fmt.Errorf("fetch feed %s: %w", src.URL, err))
	}

	ips, cidrs, dropped := blacklist.ParseFeed(bytes.NewReader(feed))
	rules := make([]core.Rule, 0, len(ips)+len(cidrs))
	for _, p := range ips {
		rules = append(rules, core.Rule{Family: core.FamilyIP, IPAddress: p.Value, IsActive: true})
	}
	for _, p := range cidrs {
		rules = append(rules, core.Rule{Family: core.FamilyIPRange, CIDR: p.Value, IsActive: true})
	}

	inserted, err := h.store.ReplaceSourceRules(ctx, src.ID, rules)
	if err != nil {
		return h.failSync(src.ID, fmt.Errorf("replace source rules: %w", err))
	}

	if _, err := h.mat.MaterializeAll(ctx); err != nil {
		// Rules are committed; the periodic refresh reconciles the fast store.
		h.logger.Warn("Materialize after sync failed", "sourceId", src.ID, "error", err)
	}

	if err := h.store.FinishSourceSync(ctx, src.ID, ""); err != nil {
		return err
	}
	h.logger.Info("Blacklist source synced",
		"sourceId", src.ID, "name", src.Name, "rules", inserted, "dropped", dropped)
	return nil
}

// failSync records the failure on the source row before handing the cause
// back to the retry policy.
func (h *Handlers) failSync(sourceID int64, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	if err := h.store.FinishSourceSync(ctx, sourceID, truncate(cause.Error(), 500)); err != nil {
		h.logger.Warn("Recording sync failure failed", "sourceId", sourceID, "error", err)
	}
	return cause
}

// fetchFeed GETs the feed with short in-budget retries; longer outages are
// the queue backoff's problem.
func (h *Handlers) fetchFeed(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(core.Validationf("invalid feed url %q: %v", rawURL, err))
		}
		req.Header.Set("Accept", "text/plain")

		resp, err := h.feed.Do(req)
		if err != nil {
			return core.Transientf(err, "feed request")
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
			return core.Transientf(nil, "feed returned HTTP %d", resp.StatusCode)
		case resp.StatusCode >= 300:
			return backoff.Permanent(core.Validationf("feed returned HTTP %d", resp.StatusCode))
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
		if err != nil {
			return core.Transientf(err, "read feed")
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 20 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}
