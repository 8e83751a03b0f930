package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/autoguard/backend/internal/core"
)

const (
	settingsKey = "settings"
	// Last successfully loaded snapshot, kept forever so a store outage
	// degrades to slightly stale settings instead of hard defaults.
	settingsLastGoodKey = "settings:lastgood"

	defaultSettingsRefresh = 30 * time.Second
)

// SettingsLoader is the authoritative-store surface the cache refreshes from.
type SettingsLoader interface {
	LoadSettings(ctx context.Context) (core.Settings, error)
}

// SettingsCache serves the decision engine a typed settings snapshot without
// touching the authoritative store on the hot path. The snapshot expires on
// the refresh interval; an expired read serves the last good value and kicks
// off one background reload.
type SettingsCache struct {
	loader    SettingsLoader
	cache     *gocache.Cache
	logger    *slog.Logger
	refresh   time.Duration
	reloading atomic.Bool
}

func NewSettingsCache(loader SettingsLoader, refresh time.Duration, logger *slog.Logger) *SettingsCache {
	if refresh <= 0 {
		refresh = defaultSettingsRefresh
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsCache{
		loader:  loader,
		cache:   gocache.New(refresh, 2*refresh),
		logger:  logger,
		refresh: refresh,
	}
}

// Current returns the settings snapshot. Never blocks on the store: an
// expired snapshot triggers an async reload and the caller gets the previous
// value, or the compiled-in defaults if nothing was ever loaded.
func (c *SettingsCache) Current() core.Settings {
	if v, ok := c.cache.Get(settingsKey); ok {
		return v.(core.Settings)
	}
	out := core.DefaultSettings()
	if v, ok := c.cache.Get(settingsLastGoodKey); ok {
		out = v.(core.Settings)
	}
	if c.reloading.CompareAndSwap(false, true) {
		go func() {
			defer c.reloading.Store(false)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("Settings refresh failed, serving stale snapshot", "error", err)
			}
		}()
	}
	return out
}

// Refresh synchronously loads settings from the store. Called once at boot
// so the first decision does not race the async path.
func (c *SettingsCache) Refresh(ctx context.Context) error {
	s, err := c.loader.LoadSettings(ctx)
	if err != nil {
		return err
	}
	c.cache.Set(settingsKey, s, gocache.DefaultExpiration)
	c.cache.Set(settingsLastGoodKey, s, gocache.NoExpiration)
	return nil
}

// Invalidate expires the current snapshot so the next read reloads. Called
// after a settings write.
func (c *SettingsCache) Invalidate() {
	c.cache.Delete(settingsKey)
}
