package stats

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/faststore"
	"github.com/autoguard/backend/internal/infra"
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

type fakeLogStore struct {
	mu      sync.Mutex
	batches [][]core.CloakLog
	failErr error

	aggDays []string
	aggRows int64
}

func (f *fakeLogStore) InsertCloakLogs(_ context.Context, logs []core.CloakLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.batches = append(f.batches, append([]core.CloakLog(nil), logs...))
	return nil
}

func (f *fakeLogStore) UpsertDailyStatsFor(_ context.Context, day time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return 0, f.failErr
	}
	f.aggDays = append(f.aggDays, day.UTC().Format("2006-01-02"))
	return f.aggRows, nil
}

func (f *fakeLogStore) persisted() []core.CloakLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []core.CloakLog
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

func pushLog(t *testing.T, fast faststore.Client, l core.CloakLog) {
	t.Helper()
	raw, err := json.Marshal(l)
	require.NoError(t, err)
	require.NoError(t, fast.LPush(context.Background(), faststore.QueueCloakLogs, string(raw)))
}

func bufferLen(t *testing.T, fast faststore.Client) int64 {
	t.Helper()
	n, err := fast.LLen(context.Background(), faststore.QueueCloakLogs)
	require.NoError(t, err)
	return n
}

func TestDrainPersistsBufferedLogs(t *testing.T) {
	fast := newTestFast(t)
	store := &fakeLogStore{}
	f := NewFlusher(store, fast, discardLogger())

	pushLog(t, fast, core.CloakLog{UserID: 1, OfferID: 2, IPAddress: "203.0.113.1", Decision: "money"})
	pushLog(t, fast, core.CloakLog{UserID: 1, OfferID: 2, IPAddress: "203.0.113.2", Decision: "safe", BlockedAtLayer: "L1"})
	pushLog(t, fast, core.CloakLog{UserID: 1, OfferID: 3, IPAddress: "203.0.113.3", Decision: "safe", BlockedAtLayer: "L4"})

	n, err := f.Drain(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Zero(t, bufferLen(t, fast))

	got := store.persisted()
	require.Len(t, got, 3)
	ips := []string{got[0].IPAddress, got[1].IPAddress, got[2].IPAddress}
	assert.ElementsMatch(t, []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"}, ips)
}

func TestDrainEmptiesLargeBufferInBatches(t *testing.T) {
	fast := newTestFast(t)
	store := &fakeLogStore{}
	f := NewFlusher(store, fast, discardLogger())

	for i := 0; i < 5; i++ {
		pushLog(t, fast, core.CloakLog{UserID: 1, OfferID: int64(i), Decision: "money"})
	}

	n, err := f.Drain(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Zero(t, bufferLen(t, fast))

	// 2 + 2 + 1.
	require.Len(t, store.batches, 3)
	assert.Len(t, store.batches[0], 2)
	assert.Len(t, store.batches[1], 2)
	assert.Len(t, store.batches[2], 1)
}

func TestDrainSkipsPoisonRecords(t *testing.T) {
	fast := newTestFast(t)
	store := &fakeLogStore{}
	f := NewFlusher(store, fast, discardLogger())

	require.NoError(t, fast.LPush(context.Background(), faststore.QueueCloakLogs, "{corrupt"))
	pushLog(t, fast, core.CloakLog{UserID: 1, OfferID: 2, Decision: "money"})

	n, err := f.Drain(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the decodable record counts")
	assert.Zero(t, bufferLen(t, fast), "the poison record is trimmed, not retried forever")
	assert.Len(t, store.persisted(), 1)
}

func TestDrainInsertFailureKeepsBuffer(t *testing.T) {
	fast := newTestFast(t)
	store := &fakeLogStore{failErr: errors.New("store down")}
	f := NewFlusher(store, fast, discardLogger())

	pushLog(t, fast, core.CloakLog{UserID: 1, Decision: "money"})
	pushLog(t, fast, core.CloakLog{UserID: 1, Decision: "safe"})

	n, err := f.Drain(context.Background(), 0)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.EqualValues(t, 2, bufferLen(t, fast), "a failed insert must not lose records")

	// Next pass, store healthy: same records drain.
	store.mu.Lock()
	store.failErr = nil
	store.mu.Unlock()

	n, err = f.Drain(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, bufferLen(t, fast))
}

func TestAggregateDelegatesToStore(t *testing.T) {
	fast := newTestFast(t)
	store := &fakeLogStore{aggRows: 7}
	f := NewFlusher(store, fast, discardLogger())

	day := time.Date(2025, 3, 14, 23, 50, 0, 0, time.UTC)
	n, err := f.Aggregate(context.Background(), day)
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	assert.Equal(t, []string{"2025-03-14"}, store.aggDays)
}
