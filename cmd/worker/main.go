// Command worker runs the background half of the platform: the job pool
// draining the Redis queues and the scheduler that feeds them. It exposes
// only /health and /metrics over HTTP; all real work arrives via Redis.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autoguard/backend/internal/api"
	"github.com/autoguard/backend/internal/blacklist"
	"github.com/autoguard/backend/internal/circuitbreaker"
	"github.com/autoguard/backend/internal/config"
	"github.com/autoguard/backend/internal/engine"
	"github.com/autoguard/backend/internal/handlers"
	"github.com/autoguard/backend/internal/infra"
	"github.com/autoguard/backend/internal/jobs"
	"github.com/autoguard/backend/internal/llm"
	"github.com/autoguard/backend/internal/metrics"
	"github.com/autoguard/backend/internal/pages"
	"github.com/autoguard/backend/internal/queue"
	"github.com/autoguard/backend/internal/scheduler"
	"github.com/autoguard/backend/internal/stats"
	"github.com/autoguard/backend/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		slog.Error("Config load failed", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.Env)
	slog.SetDefault(logger)

	st, err := store.New(cfg.Database.URL)
	if err != nil {
		logger.Error("Database connection failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	if err := st.EnsureSchema(bootCtx); err != nil {
		cancelBoot()
		logger.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}

	fast, err := infra.NewGoRedisAdapter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		cancelBoot()
		logger.Error("Redis connection failed", "error", err)
		os.Exit(1)
	}
	defer fast.Close()

	mx := metrics.New()
	breakers := circuitbreaker.NewManager(nil)

	settings := engine.NewSettingsCache(st, 30*time.Second, logger)
	if err := settings.Refresh(bootCtx); err != nil {
		logger.Warn("Initial settings load failed, serving defaults", "error", err)
	}
	cancelBoot()

	routing := engine.NewRouting(fast, st, logger)
	mat := blacklist.NewMaterializer(st, fast, logger)
	q := queue.NewReliable(fast, logger)
	q.SetMaxAttempts(cfg.Queue.MaxAttempts)

	llmClient := llm.NewGuarded(
		llm.NewHTTPClient(cfg.LLM.URL, cfg.LLM.APIKey, cfg.LLM.Model, 60*time.Second),
		breakers.GetOrCreate("llm", circuitbreaker.LLMConfig()),
	)

	h := jobs.NewHandlers(jobs.Deps{
		Store:        st,
		Fast:         fast,
		Disk:         pages.NewDisk(cfg.Pages.Dir),
		Fetcher:      jobs.NewHTTPFetcher(0),
		LLM:          llmClient,
		Resolver:     jobs.NewDNSResolver(cfg.DNS.Resolver),
		Routing:      routing,
		Materializer: mat,
		Logger:       logger,
	})

	pool := jobs.NewPool(q, mx, logger, cfg.Queue.Concurrency)
	h.Register(pool)

	recoverCtx, cancelRecover := context.WithTimeout(context.Background(), 30*time.Second)
	pool.Start(recoverCtx)
	cancelRecover()

	schedCfg := scheduler.DefaultConfig()
	schedCfg.MaterializeEvery = cfg.Scheduler.MaterializeInterval
	schedCfg.CleanupEvery = cfg.Scheduler.CleanupInterval
	schedCfg.StatsEvery = cfg.Scheduler.StatsInterval
	schedCfg.PromoteEvery = cfg.Scheduler.PromotionInterval
	schedCfg.RetentionEvery = cfg.Scheduler.RetentionInterval
	schedCfg.SourceScanEvery = cfg.Scheduler.SourceScanInterval

	sched := scheduler.New(schedCfg, scheduler.Deps{
		Store:        st,
		Queue:        q,
		Materializer: mat,
		Flusher:      stats.NewFlusher(st, fast, logger),
		Settings:     settings,
		Metrics:      mx,
		Logger:       logger,
	})
	sched.Start()

	// Probe surface only. PORT is per-process, so the worker gets its own.
	router := mux.NewRouter()
	router.HandleFunc("/health", handlers.Health(st, fast, breakers)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	srv := api.New(api.Config{Addr: ":" + cfg.Server.Port}, router, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping scheduler and pool")
		sched.Stop()
		pool.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Probe server shutdown error", "error", err)
		}
	}()

	logger.Info("Worker starting",
		"concurrency", cfg.Queue.Concurrency, "port", cfg.Server.Port, "env", cfg.Server.Env)
	if err := srv.Start(); err != nil {
		logger.Error("Probe server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped")
}

func newLogger(env string) *slog.Logger {
	if env == "development" {
		return slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
