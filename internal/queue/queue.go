// Package queue implements reliable job delivery over fast-store lists. A
// worker reserves a job by atomically moving it from the main list onto a
// per-queue processing list and acks it away after handling. Retryable
// failures park the job in a delayed sorted set with exponential backoff;
// exhausted or permanently failed jobs land on the dead-letter list with the
// failure annotated into the payload. Delivery is at-least-once: a crash
// between handling and acking replays the job on the next recovery pass.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/faststore"
)

const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = time.Minute
	defaultMaxDelay    = time.Hour
	reserveTimeout     = 5 * time.Second
)

// Depths is a point-in-time size snapshot of one queue's four lists.
type Depths struct {
	Ready      int64
	Processing int64
	Delayed    int64
	Dead       int64
}

// Reliable moves raw JSON payloads through the main/processing/delayed/dead
// key quartet of a named queue.
type Reliable struct {
	fast          faststore.Client
	logger        *slog.Logger
	maxAttempts   int
	baseDelay     time.Duration
	maxDelay      time.Duration
	reserveWindow time.Duration
}

func NewReliable(fast faststore.Client, logger *slog.Logger) *Reliable {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reliable{
		fast:          fast,
		logger:        logger,
		maxAttempts:   defaultMaxAttempts,
		baseDelay:     defaultBaseDelay,
		maxDelay:      defaultMaxDelay,
		reserveWindow: reserveTimeout,
	}
}

// SetReserveWindow tunes how long Reserve blocks per poll. Shorter windows
// tighten shutdown latency at the cost of more idle round-trips.
func (r *Reliable) SetReserveWindow(d time.Duration) {
	if d > 0 {
		r.reserveWindow = d
	}
}

// SetMaxAttempts tunes the retry budget before a job dead-letters.
func (r *Reliable) SetMaxAttempts(n int) {
	if n > 0 {
		r.maxAttempts = n
	}
}

// Enqueue makes the payload immediately available to workers.
func (r *Reliable) Enqueue(ctx context.Context, queue, payload string) error {
	return r.fast.LPush(ctx, queue, payload)
}

// EnqueueDelayed parks the payload until dueAt; a promotion pass moves it to
// the main list once due.
func (r *Reliable) EnqueueDelayed(ctx context.Context, queue, payload string, dueAt time.Time) error {
	return r.fast.ZAdd(ctx, faststore.QueueDelayed(queue), float64(dueAt.UnixMilli()), payload)
}

// Reserve blocks up to the reserve window for the next job and moves it onto
// the processing list in the same step. Returns core.ErrNotFound when the
// window elapses empty.
func (r *Reliable) Reserve(ctx context.Context, queue string) (string, error) {
	return r.fast.BRPopLPush(ctx, queue, faststore.QueueProcessing(queue), r.reserveWindow)
}

// Ack drops a handled job from the processing list.
func (r *Reliable) Ack(ctx context.Context, queue, payload string) error {
	n, err := r.fast.LRem(ctx, faststore.QueueProcessing(queue), 1, payload)
	if err != nil {
		return err
	}
	if n == 0 {
		// A recovery pass already moved it; the replay will be handled again.
		r.logger.Debug("Ack found no processing entry", "queue", queue)
	}
	return nil
}

// Fail reschedules a failed job with backoff, or moves it to the dead-letter
// list once attempts are exhausted. Returns true when the job will run again.
func (r *Reliable) Fail(ctx context.Context, queue, payload string, cause error) (bool, error) {
	attempt := attemptOf(payload) + 1
	if attempt >= r.maxAttempts {
		return false, r.moveDead(ctx, queue, payload, attempt, cause)
	}

	next, err := amendPayload(payload, map[string]interface{}{"attempt": attempt})
	if err != nil {
		// Unparseable payloads cannot carry an attempt counter; dead-letter
		// them rather than retrying forever.
		return false, r.moveDead(ctx, queue, payload, attempt, errors.Join(cause, err))
	}
	delay := r.backoff(attempt)
	if err := r.fast.ZAdd(ctx, faststore.QueueDelayed(queue), float64(time.Now().Add(delay).UnixMilli()), next); err != nil {
		return false, err
	}
	if _, err := r.fast.LRem(ctx, faststore.QueueProcessing(queue), 1, payload); err != nil {
		return true, err
	}
	r.logger.Info("Job scheduled for retry",
		"queue", queue, "attempt", attempt, "delay", delay, "error", cause)
	return true, nil
}

// FailPermanent dead-letters the job immediately, attempts notwithstanding.
// Used for payloads that can never succeed (validation failures).
func (r *Reliable) FailPermanent(ctx context.Context, queue, payload string, cause error) error {
	return r.moveDead(ctx, queue, payload, attemptOf(payload), cause)
}

func (r *Reliable) moveDead(ctx context.Context, queue, payload string, attempt int, cause error) error {
	msg := "unknown"
	if cause != nil {
		msg = cause.Error()
	}
	annotated, err := amendPayload(payload, map[string]interface{}{
		"attempt":  attempt,
		"failedAt": time.Now().UTC().Format(time.RFC3339),
		"error":    msg,
	})
	if err != nil {
		annotated = payload // keep the raw payload rather than losing it
	}
	if err := r.fast.LPush(ctx, faststore.QueueDead(queue), annotated); err != nil {
		return err
	}
	if _, err := r.fast.LRem(ctx, faststore.QueueProcessing(queue), 1, payload); err != nil {
		return err
	}
	r.logger.Warn("Job dead-lettered", "queue", queue, "attempt", attempt, "error", msg)
	return nil
}

// PromoteDue moves at most limit due delayed jobs back onto the main list.
func (r *Reliable) PromoteDue(ctx context.Context, queue string, now time.Time, limit int) (int, error) {
	res, err := r.fast.Eval(ctx, faststore.ScriptPromoteDue,
		[]string{faststore.QueueDelayed(queue), queue},
		now.UnixMilli(), limit)
	if err != nil {
		return 0, err
	}
	moved, _ := res.(int64)
	return int(moved), nil
}

// RecoverStuck drains the processing list back onto the main list. Run at
// startup, before workers reserve: anything still in processing belonged to
// a worker that died mid-job.
func (r *Reliable) RecoverStuck(ctx context.Context, queue string) (int, error) {
	recovered := 0
	for {
		_, err := r.fast.RPopLPush(ctx, faststore.QueueProcessing(queue), queue)
		if errors.Is(err, core.ErrNotFound) {
			return recovered, nil
		}
		if err != nil {
			return recovered, err
		}
		recovered++
	}
}

// DeadJobs returns up to limit dead payloads, newest first.
func (r *Reliable) DeadJobs(ctx context.Context, queue string, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.fast.LRange(ctx, faststore.QueueDead(queue), 0, limit-1)
}

// RequeueDead puts one dead job back onto the main queue with a fresh
// attempt counter. The removal and re-enqueue run as one script, so two
// operators requeueing the same payload cannot duplicate it; the loser gets
// core.ErrNotFound.
func (r *Reliable) RequeueDead(ctx context.Context, queue, payload string) error {
	reset, err := amendPayload(payload, map[string]interface{}{"attempt": 0}, "failedAt", "error")
	if err != nil {
		return core.Validationf("dead payload is not a JSON object: %v", err)
	}
	res, err := r.fast.Eval(ctx, faststore.ScriptRequeueDead,
		[]string{faststore.QueueDead(queue), queue},
		payload, reset)
	if err != nil {
		return err
	}
	if removed, _ := res.(int64); removed == 0 {
		return core.NotFoundf("dead job not found on %s", queue)
	}
	r.logger.Info("Dead job requeued", "queue", queue)
	return nil
}

// Depth reports the size of each list of the queue.
func (r *Reliable) Depth(ctx context.Context, queue string) (Depths, error) {
	var d Depths
	var err error
	if d.Ready, err = r.fast.LLen(ctx, queue); err != nil {
		return d, err
	}
	if d.Processing, err = r.fast.LLen(ctx, faststore.QueueProcessing(queue)); err != nil {
		return d, err
	}
	if d.Delayed, err = r.fast.ZCard(ctx, faststore.QueueDelayed(queue)); err != nil {
		return d, err
	}
	if d.Dead, err = r.fast.LLen(ctx, faststore.QueueDead(queue)); err != nil {
		return d, err
	}
	return d, nil
}

// backoff returns min(base·2^attempt, cap) plus up to 10% jitter so retries
// from one incident spread out.
func (r *Reliable) backoff(attempt int) time.Duration {
	d := r.baseDelay
	for i := 0; i < attempt && d < r.maxDelay; i++ {
		d *= 2
	}
	if d > r.maxDelay {
		d = r.maxDelay
	}
	return d + time.Duration(rand.Int63n(int64(d/10)+1))
}

// attemptOf reads the attempt counter from a raw payload; anything
// unparseable counts as the first attempt.
func attemptOf(payload string) int {
	var probe struct {
		Attempt int `json:"attempt"`
	}
	_ = json.Unmarshal([]byte(payload), &probe)
	if probe.Attempt < 0 {
		return 0
	}
	return probe.Attempt
}

// amendPayload applies field overrides and removals to a JSON object payload
// without disturbing the fields it does not touch.
func amendPayload(payload string, set map[string]interface{}, remove ...string) (string, error) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return "", err
	}
	for k, v := range set {
		m[k] = v
	}
	for _, k := range remove {
		delete(m, k)
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
