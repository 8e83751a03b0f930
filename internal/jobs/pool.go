package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/autoguard/backend/internal/core"
	"github.com/autoguard/backend/internal/metrics"
	"github.com/autoguard/backend/internal/queue"
)

const (
	defaultWorkers = 2
	shutdownGrace  = 30 * time.Second
	statusTimeout  = 10 * time.Second
)

// Handler processes one raw job payload. A nil return acks the job; a
// non-retryable error (validation, fatal) dead-letters it immediately;
// anything else schedules a retry until the attempt budget runs out.
type Handler func(ctx context.Context, payload string) error

// Pool runs a fixed number of workers per registered queue. Polling stops on
// Stop; in-flight jobs get a grace period before their contexts are cut.
type Pool struct {
	q       *queue.Reliable
	metrics *metrics.Metrics
	logger  *slog.Logger
	workers int

	handlers map[string]Handler

	pollCtx  context.Context
	pollStop context.CancelFunc
	jobCtx   context.Context
	jobStop  context.CancelFunc
	wg       sync.WaitGroup
}

func NewPool(q *queue.Reliable, m *metrics.Metrics, logger *slog.Logger, workers int) *Pool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		q:        q,
		metrics:  m,
		logger:   logger,
		workers:  workers,
		handlers: make(map[string]Handler),
	}
}

// Handle registers the handler for one queue. Must be called before Start.
func (p *Pool) Handle(queueName string, h Handler) {
	p.handlers[queueName] = h
}

// Start recovers jobs stranded in the processing lists by a previous crash,
// then launches the workers. ctx bounds the recovery reads only; lifetime is
// controlled by Stop.
func (p *Pool) Start(ctx context.Context) {
	p.pollCtx, p.pollStop = context.WithCancel(context.Background())
	p.jobCtx, p.jobStop = context.WithCancel(context.Background())

	for name, h := range p.handlers {
		n, err := p.q.RecoverStuck(ctx, name)
		switch {
		case err != nil:
			p.logger.Error("Stuck-job recovery failed", "queue", name, "error", err)
		case n > 0:
			p.logger.Info("Recovered stuck jobs", "queue", name, "count", n)
		}

		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(name, h)
		}
	}
	p.logger.Info("Worker pool started", "queues", len(p.handlers), "workers_per_queue", p.workers)
}

// Stop halts polling and waits for in-flight jobs, cutting their contexts
// when the grace period expires.
func (p *Pool) Stop() {
	p.pollStop()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		p.logger.Warn("Shutdown grace expired, aborting in-flight jobs")
		p.jobStop()
		<-done
	}
	p.jobStop()
	p.logger.Info("Worker pool stopped")
}

func (p *Pool) worker(queueName string, h Handler) {
	defer p.wg.Done()
	for {
		payload, err := p.q.Reserve(p.pollCtx, queueName)
		if err != nil {
			if p.pollCtx.Err() != nil {
				return
			}
			if errors.Is(err, core.ErrNotFound) {
				continue // idle poll timed out
			}
			p.logger.Warn("Queue reserve failed", "queue", queueName, "error", err)
			select {
			case <-time.After(time.Second):
			case <-p.pollCtx.Done():
				return
			}
			continue
		}
		p.runJob(queueName, h, payload)
	}
}

func (p *Pool) runJob(queueName string, h Handler, payload string) {
	start := time.Now()
	err := h(p.jobCtx, payload)
	elapsed := time.Since(start)

	// Queue bookkeeping runs on its own context so a job that burned its
	// deadline can still be acked, retried or dead-lettered.
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	switch {
	case err == nil:
		if ackErr := p.q.Ack(ctx, queueName, payload); ackErr != nil {
			p.logger.Warn("Job ack failed", "queue", queueName, "error", ackErr)
		}
		p.metrics.RecordJob(queueName, "ok", elapsed)

	case !core.IsRetryable(err):
		// Validation and fatal failures cannot succeed on a replay.
		if dlqErr := p.q.FailPermanent(ctx, queueName, payload, err); dlqErr != nil {
			p.logger.Error("Dead-letter write failed", "queue", queueName, "error", dlqErr)
		}
		p.metrics.RecordJob(queueName, "rejected", elapsed)
		p.logger.Error("Job rejected", "queue", queueName, "error", err)

	default:
		retried, failErr := p.q.Fail(ctx, queueName, payload, err)
		if failErr != nil {
			p.logger.Error("Job failure handling failed", "queue", queueName, "error", failErr)
		}
		outcome := "retried"
		if !retried {
			outcome = "dead"
		}
		p.metrics.RecordJob(queueName, outcome, elapsed)
		p.logger.Warn("Job failed", "queue", queueName, "outcome", outcome, "elapsed_ms", elapsed.Milliseconds(), "error", err)
	}
}
