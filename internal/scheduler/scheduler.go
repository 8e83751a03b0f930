// Package scheduler runs the periodic maintenance the platform needs to
// stay correct without operator attention: fast-store refreshes, rule
// expiry, delayed-job promotion, log draining, stats aggregation, log
// retention and blacklist feed re-syncs.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/autoguard/backend/internal/blacklist"
	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/faststore"
	"github.com/autoguard/backend/internal/jobs"
	"github.com/autoguard/backend/internal/metrics"
	"github.com/autoguard/backend/internal/queue"
	"github.com/autoguard/backend/internal/stats"
)

// sweepTimeout bounds one tick of any loop; a stuck sweep must not block
// the next one forever, just skip it.
const sweepTimeout = time.Minute

// reliableQueues are the job queues that need delayed-job promotion.
var reliableQueues = []string{
	faststore.QueuePageGeneration,
	faststore.QueueBlacklistSync,
	faststore.QueueDomainVerification,
}

// depthQueues additionally tracks the decision-log buffer, which only ever
// uses the ready list.
var depthQueues = append(append([]string(nil), reliableQueues...), faststore.QueueCloakLogs)

// Store is the authoritative-store surface the sweeps read and write.
// *store.Store satisfies it.
type Store interface {
	ListDueSources(ctx context.Context) ([]*core.BlacklistSource, error)
	MarkSourceSyncing(ctx context.Context, id int64) error
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SettingsSource yields the current typed settings snapshot.
// *engine.SettingsCache satisfies it.
type SettingsSource interface {
	Current() core.Settings
}

// Config carries the sweep intervals. A zero interval disables that loop,
// which tests use to run one loop in isolation.
type Config struct {
	MaterializeEvery time.Duration
	CleanupEvery     time.Duration
	StatsEvery       time.Duration
	PromoteEvery     time.Duration
	DepthEvery       time.Duration
	RetentionEvery   time.Duration
	SourceScanEvery  time.Duration

	PromoteBatch int
	DrainBatch   int
}

func DefaultConfig() Config {
	return Config{
		MaterializeEvery: 5 * time.Minute,
		CleanupEvery:     time.Hour,
		StatsEvery:       5 * time.Minute,
		PromoteEvery:     time.Second,
		DepthEvery:       30 * time.Second,
		RetentionEvery:   24 * time.Hour,
		SourceScanEvery:  time.Minute,
		PromoteBatch:     100,
		DrainBatch:       500,
	}
}

// Deps carries the collaborators the sweeps drive.
type Deps struct {
	Store        Store
	Queue        *queue.Reliable
	Materializer *blacklist.Materializer
	Flusher      *stats.Flusher
	Settings     SettingsSource
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

type Scheduler struct {
	cfg      Config
	store    Store
	q        *queue.Reliable
	mat      *blacklist.Materializer
	flusher  *stats.Flusher
	settings SettingsSource
	metrics  *metrics.Metrics
	logger   *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, d Deps) *Scheduler {
	if cfg.PromoteBatch <= 0 {
		cfg.PromoteBatch = DefaultConfig().PromoteBatch
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Scheduler{
		cfg:      cfg,
		store:    d.Store,
		q:        d.Queue,
		mat:      d.Materializer,
		flusher:  d.Flusher,
		settings: d.Settings,
		metrics:  d.Metrics,
		logger:   d.Logger,
		stopCh:   make(chan struct{}),
	}
}

// Start launches one goroutine per enabled loop. The materialize and depth
// loops run once immediately so a fresh process serves from a warm fast
// store and exports gauges from boot.
func (s *Scheduler) Start() {
	s.every("materialize", s.cfg.MaterializeEvery, true, s.sweepMaterialize)
	s.every("cleanup", s.cfg.CleanupEvery, false, s.sweepCleanup)
	s.every("stats", s.cfg.StatsEvery, false, s.sweepStats)
	s.every("promote", s.cfg.PromoteEvery, false, s.sweepPromote)
	s.every("depth", s.cfg.DepthEvery, true, s.sweepDepth)
	s.every("retention", s.cfg.RetentionEvery, false, s.sweepRetention)
	s.every("source-scan", s.cfg.SourceScanEvery, false, s.sweepSources)
	s.logger.Info("Scheduler started")
}

// Stop halts every loop and waits for in-flight sweeps.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) every(name string, interval time.Duration, immediate bool, sweep func(ctx context.Context)) {
	if interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if immediate {
			s.runSweep(sweep)
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.runSweep(sweep)
			case <-s.stopCh:
				return
			}
		}
	}()
	s.logger.Debug("Scheduler loop enabled", "loop", name, "interval", interval)
}

func (s *Scheduler) runSweep(sweep func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	sweep(ctx)
}

func (s *Scheduler) sweepMaterialize(ctx context.Context) {
	start := time.Now()
	counts, err := s.mat.MaterializeAll(ctx)
	if err != nil {
		s.logger.Error("Periodic materialize failed", "error", err)
		return
	}
	s.metrics.RecordMaterialize(time.Since(start), counts)
}

func (s *Scheduler) sweepCleanup(ctx context.Context) {
	expired, err := s.mat.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error("Rule expiry sweep failed", "error", err)
		return
	}
	total := int64(0)
	for _, n := range expired {
		total += n
	}
	if total > 0 {
		s.logger.Info("Expired rules cleaned up", "count", total)
	}
}

func (s *Scheduler) sweepStats(ctx context.Context) {
	drained, err := s.flusher.Drain(ctx, s.cfg.DrainBatch)
	if err != nil {
		s.logger.Error("Cloak log drain failed", "drained", drained, "error", err)
	}

	// Aggregate yesterday as well: records created before midnight can
	// drain after it and must still be folded into the right day.
	now := time.Now().UTC()
	for _, day := range []time.Time{now, now.AddDate(0, 0, -1)} {
		if _, err := s.flusher.Aggregate(ctx, day); err != nil {
			s.logger.Error("Daily stats aggregation failed",
				"day", day.Format("2006-01-02"), "error", err)
		}
	}
}

func (s *Scheduler) sweepPromote(ctx context.Context) {
	for _, qn := range reliableQueues {
		moved, err := s.q.PromoteDue(ctx, qn, time.Now(), s.cfg.PromoteBatch)
		if err != nil {
			s.logger.Warn("Delayed-job promotion failed", "queue", qn, "error", err)
			continue
		}
		if moved > 0 {
			s.logger.Debug("Promoted delayed jobs", "queue", qn, "count", moved)
		}
	}
}

func (s *Scheduler) sweepDepth(ctx context.Context) {
	for _, qn := range depthQueues {
		d, err := s.q.Depth(ctx, qn)
		if err != nil {
			s.logger.Warn("Queue depth read failed", "queue", qn, "error", err)
			continue
		}
		s.metrics.SetQueueDepth(qn, "ready", d.Ready)
		s.metrics.SetQueueDepth(qn, "processing", d.Processing)
		s.metrics.SetQueueDepth(qn, "delayed", d.Delayed)
		s.metrics.SetQueueDepth(qn, "dead", d.Dead)
	}
}

func (s *Scheduler) sweepRetention(ctx context.Context) {
	days := s.settings.Current().LogRetentionDays
	if days <= 0 {
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	n, err := s.store.DeleteLogsBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("Log retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("Old cloak logs deleted", "count", n, "cutoff", cutoff.Format("2006-01-02"))
	}
}

// sweepSources enqueues a sync job for every feed whose next sync is due.
// Enqueue happens before the syncing mark: if the mark fails the next scan
// may enqueue a duplicate, which the idempotent handler absorbs; the other
// order could leave a feed marked syncing with no job anywhere.
func (s *Scheduler) sweepSources(ctx context.Context) {
	due, err := s.store.ListDueSources(ctx)
	if err != nil {
		s.logger.Error("Due-source scan failed", "error", err)
		return
	}
	for _, src := range due {
		payload, err := jobs.Encode(jobs.SourceSyncJob{
			SourceID:    src.ID,
			SourceName:  src.Name,
			SourceType:  src.SourceType,
			URL:         src.URL,
			TriggeredBy: "scheduler",
			TriggeredAt: time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			s.logger.Error("Source sync job encode failed", "sourceId", src.ID, "error", err)
			continue
		}
		if err := s.q.Enqueue(ctx, faststore.QueueBlacklistSync, payload); err != nil {
			s.logger.Error("Source sync enqueue failed", "sourceId", src.ID, "error", err)
			continue
		}
		if err := s.store.MarkSourceSyncing(ctx, src.ID); err != nil {
			s.logger.Warn("Marking source syncing failed", "sourceId", src.ID, "error", err)
		}
		s.logger.Info("Blacklist source sync scheduled", "sourceId", src.ID, "name", src.Name)
	}
}
