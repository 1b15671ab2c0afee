package blobcache

import (
	"time"

	"github.com/bool64/ctxd"
	"github.com/bool64/stats"
)

// StatsTracker collects cache metrics. See github.com/bool64/stats for the
// canonical implementations (Prometheus, StatsD, ...).
type StatsTracker = stats.Tracker

// Metric names for a configured StatsTracker. Every reported value carries a
// "name" label set to Config.Name. The stores report MetricHit, MetricMiss,
// MetricExpired, MetricWrite, MetricDelete and MetricItems; MetricCoalesced,
// MetricFetch, MetricFetchError and MetricDownload are declared but not
// reported by any code in this package.
const (
	MetricHit        = "cache_hit"
	MetricMiss       = "cache_miss"
	MetricExpired    = "cache_expired"
	MetricWrite      = "cache_write"
	MetricDelete     = "cache_delete"
	MetricItems      = "cache_items"
	MetricCoalesced  = "cache_coalesced"
	MetricFetch      = "cache_fetch"
	MetricFetchError = "cache_fetch_error"
	MetricDownload   = "cache_download"
)

const (
	// DefaultTTL defers to Config.TimeToLive.
	DefaultTTL = time.Duration(0)

	// UnlimitedTTL disables expiration for inserts that request it.
	UnlimitedTTL = time.Duration(-1)
)

// Config controls the ambient behavior shared by every store: logging,
// metrics, janitor cadence and default expiration. The zero value is a
// usable default (no logging, no metrics, 5 minute TTL).
type Config struct {
	// Name identifies the store instance in logs and metrics.
	Name string

	// TimeToLive is applied to inserts that do not carry an explicit
	// expiration and whose context wasn't adjusted with WithTTL.
	// UnlimitedTTL disables default expiration entirely.
	TimeToLive time.Duration

	// ExpirationJitter randomizes TimeToLive by +/- a fraction, to avoid a
	// thundering herd of simultaneous expirations. 0.1 means +/-5%.
	ExpirationJitter float64

	// DeleteExpiredJobInterval is how often the background janitor sweeps
	// for and vacuums expired entries. Zero disables the janitor.
	DeleteExpiredJobInterval time.Duration

	// ItemsCountReportInterval is how often the live item count is
	// reported to Stats. Zero disables the report.
	ItemsCountReportInterval time.Duration

	// Logger receives structured debug/important events. Nil disables
	// logging at zero cost.
	Logger ctxd.Logger

	// Stats receives metrics. Nil disables metrics at zero cost.
	Stats StatsTracker

	// Scheduler provides the clock and background-work dispatch (C3). Nil
	// defaults to an unbounded RealScheduler.
	Scheduler Scheduler
}

func (c Config) withDefaults() Config {
	if c.Scheduler == nil {
		c.Scheduler = NewRealScheduler(0)
	}

	if c.ExpirationJitter == 0 {
		c.ExpirationJitter = 0.1
	}

	if c.TimeToLive == 0 {
		c.TimeToLive = 5 * time.Minute
	}

	return c
}

// Option configures a Config. Stores are constructed with a variadic list of
// Options, e.g. NewMemoryStore(WithName("sessions"), WithDefaultTTL(time.Minute)).
type Option func(cfg *Config)

// WithName sets the store name used in logs and metrics.
func WithName(name string) Option {
	return func(cfg *Config) { cfg.Name = name }
}

// WithDefaultTTL sets the default time-to-live applied to inserts without
// an explicit expiration or a per-call override (see the package-level
// WithTTL context helper for the latter).
func WithDefaultTTL(ttl time.Duration) Option {
	return func(cfg *Config) { cfg.TimeToLive = ttl }
}

// WithExpirationJitter sets the fractional jitter applied to computed TTLs.
func WithExpirationJitter(jitter float64) Option {
	return func(cfg *Config) { cfg.ExpirationJitter = jitter }
}

// WithLogger attaches a structured logger.
func WithLogger(l ctxd.Logger) Option {
	return func(cfg *Config) { cfg.Logger = l }
}

// WithStats attaches a metrics tracker.
func WithStats(s StatsTracker) Option {
	return func(cfg *Config) { cfg.Stats = s }
}

// WithJanitorInterval overrides how often the background janitor vacuums
// expired entries. Zero disables the janitor.
func WithJanitorInterval(d time.Duration) Option {
	return func(cfg *Config) { cfg.DeleteExpiredJobInterval = d }
}

// WithScheduler attaches a Scheduler, overriding the default RealScheduler.
// Tests typically pass an ImmediateScheduler for deterministic clocks.
func WithScheduler(s Scheduler) Option {
	return func(cfg *Config) { cfg.Scheduler = s }
}

func buildConfig(options ...Option) Config {
	var cfg Config
	for _, o := range options {
		o(&cfg)
	}

	return cfg.withDefaults()
}
