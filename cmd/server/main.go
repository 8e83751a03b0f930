// Command server runs the public-facing half of the platform: the visitor
// decision endpoint and the operator API. It shares Postgres and Redis with
// the worker process but never executes jobs itself.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/autoguard/backend/internal/api"
	"github.com/autoguard/backend/internal/blacklist"
	"github.com/autoguard/backend/internal/circuitbreaker"
	"github.com/autoguard/backend/internal/config"
	"github.com/autoguard/backend/internal/engine"
	"github.com/autoguard/backend/internal/handlers"
	"github.com/autoguard/backend/internal/infra"
	"github.com/autoguard/backend/internal/intel"
	"github.com/autoguard/backend/internal/metrics"
	"github.com/autoguard/backend/internal/pages"
	"github.com/autoguard/backend/internal/queue"
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

	// The intel provider is optional: without it L2 is skipped and decisions
	// rest on the remaining layers.
	var intelClient intel.Client
	if cfg.Intel.URL != "" {
		intelClient = intel.NewGuarded(
			intel.NewHTTPClient(cfg.Intel.URL, cfg.Intel.APIKey, 2*time.Second),
			breakers.GetOrCreate("ip-intel", circuitbreaker.IntelConfig()),
		)
	}

	settings := engine.NewSettingsCache(st, 30*time.Second, logger)
	if err := settings.Refresh(bootCtx); err != nil {
		logger.Warn("Initial settings load failed, serving defaults", "error", err)
	}
	cancelBoot()

	routing := engine.NewRouting(fast, st, logger)
	eng := engine.New(fast, intelClient, settings, mx, logger)

	router := handlers.NewRouter(handlers.Deps{
		Store:        st,
		Fast:         fast,
		Engine:       eng,
		Routing:      routing,
		Settings:     settings,
		Queue:        queue.NewReliable(fast, logger),
		Materializer: blacklist.NewMaterializer(st, fast, logger),
		Breakers:     breakers,
		Disk:         pages.NewDisk(cfg.Pages.Dir),
		TokenSalt:    cfg.Server.TokenSalt,
		Logger:       logger,
	})

	srv := api.New(api.Config{Addr: ":" + cfg.Server.Port}, router, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, draining requests")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	}()

	logger.Info("Server starting", "port", cfg.Server.Port, "env", cfg.Server.Env)
	if err := srv.Start(); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

// newLogger keeps development output readable and everything else
// machine-parseable.
func newLogger(env string) *slog.Logger {
	if env == "development" {
		return slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
