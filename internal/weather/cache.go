package weather

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"passivac/internal/metrics"
)

// cacheTTL is how long a fetched forecast stays usable. Refreshes normally
// land well inside it; if they keep failing the cache goes unavailable and
// the control core degrades to forecast-free operation.
const cacheTTL = 2 * time.Hour

// Cache holds the most recent forecast and refreshes it in the background.
// Readers never block on the network: they see either the cached forecast
// or nulls.
type Cache struct {
	client  Client
	loc     Location
	refresh time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.RWMutex
	forecast *Forecast
}

func NewCache(client Client, loc Location, refresh time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		client:  client,
		loc:     loc,
		refresh: refresh,
		logger:  logger,
		now:     time.Now,
	}
}

// Run refreshes the forecast immediately and then on every tick until ctx is
// cancelled.
func (c *Cache) Run(ctx context.Context) {
	c.logger.Info("starting weather refresh loop",
		zap.Duration("refresh_interval", c.refresh),
		zap.Float64("latitude", c.loc.Latitude),
		zap.Float64("longitude", c.loc.Longitude),
	)

	c.Refresh(ctx)

	ticker := time.NewTicker(c.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("stopping weather refresh loop")
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

// Refresh fetches a new forecast and replaces the cached one atomically.
// On failure the previous forecast is kept; it ages out via the cache TTL.
func (c *Cache) Refresh(ctx context.Context) {
	fc, err := c.client.Fetch(ctx, c.loc)
	if err != nil {
		metrics.WeatherRefreshes.WithLabelValues("error").Inc()
		c.logger.Warn("forecast refresh failed, keeping cached forecast", zap.Error(err))
		return
	}
	metrics.WeatherRefreshes.WithLabelValues("ok").Inc()

	c.mu.Lock()
	c.forecast = fc
	c.mu.Unlock()

	c.logger.Debug("forecast refreshed", zap.Int("hours", len(fc.Hours)))
}

// Forecast returns the latest fetched forecast, stale or not. May be nil.
func (c *Cache) Forecast() *Forecast {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.forecast
}

// Available reports whether a forecast is cached and still inside its TTL.
func (c *Cache) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.forecast != nil && c.now().Sub(c.forecast.FetchedAt) <= cacheTTL
}

// CurrentOutdoorTemp returns the current-hour outdoor temperature, or nil
// when the cache is unavailable.
func (c *Cache) CurrentOutdoorTemp() *float64 {
	if !c.Available() {
		return nil
	}
	return c.Forecast().CurrentOutdoorTemp()
}

// CurrentSolar returns the current-hour shortwave radiation, or nil when the
// cache is unavailable.
func (c *Cache) CurrentSolar() *float64 {
	if !c.Available() {
		return nil
	}
	return c.Forecast().CurrentSolar()
}

// TempsForNextHours returns up to n hourly temperatures, or nil when the
// cache is unavailable.
func (c *Cache) TempsForNextHours(n int) []float64 {
	if !c.Available() {
		return nil
	}
	return c.Forecast().TempsForNextHours(n)
}

// SolarForNextHours returns up to n hourly radiation values, or nil when the
// cache is unavailable.
func (c *Cache) SolarForNextHours(n int) []float64 {
	if !c.Available() {
		return nil
	}
	return c.Forecast().SolarForNextHours(n)
}
