package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoguard/backend/internal/blacklist"
	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/faststore"
	"github.com/autoguard/backend/internal/infra"
	"github.com/autoguard/backend/internal/queue"
	"github.com/autoguard/backend/internal/stats"
)

func newTestFast(t *testing.T) faststore.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	fast, err := infra.NewGoRedisAdapter(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { fast.Close() })
	return fast
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticSettings struct{ s core.Settings }

func (f staticSettings) Current() core.Settings { return f.s }

// fakeSchedStore backs every sweep: due-source scanning, retention, the
// materializer's rule reads and the flusher's log writes.
type fakeSchedStore struct {
	mu       sync.Mutex
	due      []*core.BlacklistSource
	marked   []int64
	cutoffs  []time.Time
	rules    map[string][]core.Rule
	inserted []core.CloakLog
	aggDays  []string
}

func newFakeSchedStore() *fakeSchedStore {
	return &fakeSchedStore{rules: map[string][]core.Rule{}}
}

func (f *fakeSchedStore) ListDueSources(context.Context) ([]*core.BlacklistSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*core.BlacklistSource
	for _, src := range f.due {
		enqueued := false
		for _, id := range f.marked {
			if id == src.ID {
				enqueued = true
				break
			}
		}
		if !enqueued {
			cp := *src
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSchedStore) MarkSourceSyncing(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, id)
	return nil
}

func (f *fakeSchedStore) DeleteLogsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return 3, nil
}

func (f *fakeSchedStore) ListEffectiveRules(_ context.Context, family string) ([]core.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Rule(nil), f.rules[family]...), nil
}

func (f *fakeSchedStore) DeactivateExpired(context.Context) (map[string]int64, error) {
	return map[string]int64{}, nil
}

func (f *fakeSchedStore) InsertCloakLogs(_ context.Context, logs []core.CloakLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, logs...)
	return nil
}

func (f *fakeSchedStore) UpsertDailyStatsFor(_ context.Context, day time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aggDays = append(f.aggDays, day.UTC().Format("2006-01-02"))
	return 1, nil
}

func newScheduler(t *testing.T, cfg Config, fs *fakeSchedStore) (*Scheduler, faststore.Client, *queue.Reliable) {
	t.Helper()
	fast := newTestFast(t)
	q := queue.NewReliable(fast, discardLogger())
	s := New(cfg, Deps{
		Store:        fs,
		Queue:        q,
		Materializer: blacklist.NewMaterializer(fs, fast, discardLogger()),
		Flusher:      stats.NewFlusher(fs, fast, discardLogger()),
		Settings:     staticSettings{s: core.DefaultSettings()},
		Logger:       discardLogger(),
	})
	return s, fast, q
}

func TestMaterializeLoopWarmsFastStore(t *testing.T) {
	fs := newFakeSchedStore()
	fs.rules[core.FamilyIP] = []core.Rule{
		{Family: core.FamilyIP, IPAddress: "198.51.100.7", IsActive: true},
	}

	// A long interval: only the immediate boot-time run should fire.
	s, fast, _ := newScheduler(t, Config{MaterializeEvery: time.Hour}, fs)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		hit, err := fast.SIsMember(context.Background(), faststore.BlacklistIP(core.ScopeGlobal), "198.51.100.7")
		return err == nil && hit
	}, 3*time.Second, 20*time.Millisecond)
}

func TestPromoteLoopMovesDueJobs(t *testing.T) {
	fs := newFakeSchedStore()
	s, _, q := newScheduler(t, Config{PromoteEvery: 20 * time.Millisecond}, fs)

	ctx := context.Background()
	require.NoError(t, q.EnqueueDelayed(ctx, faststore.QueuePageGeneration, `{"pageId":1}`, time.Now().Add(-time.Second)))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		d, err := q.Depth(ctx, faststore.QueuePageGeneration)
		return err == nil && d.Ready == 1 && d.Delayed == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestSourceScanEnqueuesDueFeeds(t *testing.T) {
	fs := newFakeSchedStore()
	fs.due = []*core.BlacklistSource{
		{ID: 5, Name: "firehol-level1", SourceType: "external", URL: "https://feeds.example.com/l1.txt", IsActive: true},
	}

	s, fast, _ := newScheduler(t, Config{SourceScanEvery: 20 * time.Millisecond}, fs)
	s.Start()
	defer s.Stop()

	ctx := context.Background()
	require.Eventually(t, func() bool {
		n, err := fast.LLen(ctx, faststore.QueueBlacklistSync)
		return err == nil && n == 1
	}, 3*time.Second, 20*time.Millisecond)

	entries, err := fast.LRange(ctx, faststore.QueueBlacklistSync, 0, -1)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var job map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(entries[0]), &job))
	assert.EqualValues(t, 5, job["sourceId"])
	assert.Equal(t, "scheduler", job["triggeredBy"])
	assert.Equal(t, "firehol-level1", job["sourceName"])

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Equal(t, []int64{5}, fs.marked, "the feed is marked syncing so the next scan skips it")
}

func TestRetentionUsesConfiguredWindow(t *testing.T) {
	fs := newFakeSchedStore()
	fast := newTestFast(t)
	q := queue.NewReliable(fast, discardLogger())
	s := New(Config{RetentionEvery: 20 * time.Millisecond}, Deps{
		Store:        fs,
		Queue:        q,
		Materializer: blacklist.NewMaterializer(fs, fast, discardLogger()),
		Flusher:      stats.NewFlusher(fs, fast, discardLogger()),
		Settings:     staticSettings{s: core.Settings{LogRetentionDays: 7}},
		Logger:       discardLogger(),
	})
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return len(fs.cutoffs) > 0
	}, 3*time.Second, 20*time.Millisecond)

	fs.mu.Lock()
	cutoff := fs.cutoffs[0]
	fs.mu.Unlock()
	want := time.Now().UTC().AddDate(0, 0, -7)
	assert.WithinDuration(t, want, cutoff, time.Minute)
}

func TestStatsLoopDrainsAndAggregates(t *testing.T) {
	fs := newFakeSchedStore()
	s, fast, _ := newScheduler(t, Config{StatsEvery: 20 * time.Millisecond}, fs)

	ctx := context.Background()
	raw, err := json.Marshal(core.CloakLog{UserID: 1, OfferID: 2, Decision: "money"})
	require.NoError(t, err)
	require.NoError(t, fast.LPush(ctx, faststore.QueueCloakLogs, string(raw)))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return len(fs.inserted) == 1 && len(fs.aggDays) >= 2
	}, 3*time.Second, 20*time.Millisecond)

	n, err := fast.LLen(ctx, faststore.QueueCloakLogs)
	require.NoError(t, err)
	assert.Zero(t, n)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	today := time.Now().UTC().Format("2006-01-02")
	assert.Contains(t, fs.aggDays, today)
}

func TestStopHaltsEveryLoop(t *testing.T) {
	fs := newFakeSchedStore()
	s, _, _ := newScheduler(t, Config{
		MaterializeEvery: 10 * time.Millisecond,
		CleanupEvery:     10 * time.Millisecond,
		StatsEvery:       10 * time.Millisecond,
		PromoteEvery:     10 * time.Millisecond,
		DepthEvery:       10 * time.Millisecond,
		SourceScanEvery:  10 * time.Millisecond,
	}, fs)
	s.Start()
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
