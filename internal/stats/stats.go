// Package stats moves buffered decision records out of the fast store and
// keeps the daily aggregates derived from them fresh.
package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/faststore"
)

const defaultBatch = 500

// LogStore is the authoritative-store surface the flusher writes through.
// *store.Store satisfies it.
type LogStore interface {
	InsertCloakLogs(ctx context.Context, logs []core.CloakLog) error
	UpsertDailyStatsFor(ctx context.Context, day time.Time) (int64, error)
}

// Flusher drains queue:cloakLogs into the authoritative store. The decision
// hot path only ever LPUSHes; this is the single consumer of the buffer.
//
// Delivery is at-least-once: a batch is read from the tail, bulk-inserted,
// and only then trimmed off the list. A crash between insert and trim
// replays the batch on the next pass.
type Flusher struct {
	store  LogStore
	fast   faststore.Client
	logger *slog.Logger
}

func NewFlusher(store LogStore, fast faststore.Client, logger *slog.Logger) *Flusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{store: store, fast: fast, logger: logger}
}

// Drain empties the decision-log buffer in batches of batch (default 500).
// Returns the number of records persisted. Producers keep LPUSHing at the
// head while Drain trims the tail, so the two never race.
func (f *Flusher) Drain(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = defaultBatch
	}

	drained := 0
	for {
		if err := ctx.Err(); err != nil {
			return drained, err
		}

		raw, err := f.fast.LRange(ctx, faststore.QueueCloakLogs, int64(-batch), -1)
		if err != nil {
			return drained, err
		}
		if len(raw) == 0 {
			return drained, nil
		}

		logs := make([]core.CloakLog, 0, len(raw))
		dropped := 0
		for _, entry := range raw {
			var l core.CloakLog
			if err := json.Unmarshal([]byte(entry), &l); err != nil {
				// A poison record must not wedge the buffer; it is
				// trimmed with the rest of the batch.
				dropped++
				f.logger.Warn("Dropping undecodable cloak log", "error", err)
				continue
			}
			logs = append(logs, l)
		}

		if err := f.store.InsertCloakLogs(ctx, logs); err != nil {
			return drained, err
		}
		if err := f.fast.LTrim(ctx, faststore.QueueCloakLogs, 0, int64(-len(raw)-1)); err != nil {
			return drained, err
		}
		drained += len(logs)
		if dropped > 0 {
			f.logger.Warn("Cloak log batch had undecodable entries", "dropped", dropped)
		}
		if len(raw) < batch {
			return drained, nil
		}
	}
}

// Aggregate recomputes the daily_stats rows for one UTC day from whatever
// cloak_logs holds. Idempotent; re-running a day folds in late-drained
// records.
func (f *Flusher) Aggregate(ctx context.Context, day time.Time) (int64, error) {
	n, err := f.store.UpsertDailyStatsFor(ctx, day)
	if err != nil {
		return 0, err
	}
	f.logger.Info("Daily stats aggregated",
		"day", day.UTC().Format("2006-01-02"), "rows", n)
	return n, nil
}
