package blobcache

import (
	"context"
	"math/rand"
	"time"

	"github.com/bool64/ctxd"
)

// logTrait is a nil-safe adapter over ctxd.Logger: when no logger is
// configured, the function fields stay nil and logging calls are skipped
// entirely rather than dispatching into a no-op implementation.
type logTrait struct {
	debug     func(ctx context.Context, msg string, keysAndValues ...interface{})
	important func(ctx context.Context, msg string, keysAndValues ...interface{})
}

func (l *logTrait) setup(logger ctxd.Logger) {
	if logger == nil {
		return
	}

	l.debug = logger.Debug
	l.important = logger.Important
}

// Trait is the ambient stack shared by every BlobStore implementation:
// structured logging, metrics, jittered TTL computation and an optional
// background janitor that vacuums expired entries on a schedule.
type Trait struct {
	Closed chan struct{}

	// Vacuum, when set, is invoked periodically by the janitor goroutine.
	Vacuum func()

	// Len, when set, feeds the periodic items-count metric.
	Len func() int

	Config Config
	Stat   StatsTracker
	Log    logTrait
}

// NewTrait builds a Trait from an already-defaulted Config. Callers attach
// Len/Vacuum closures bound to their own state after construction, then
// start background goroutines lazily once those hooks are set.
func NewTrait(config Config) *Trait {
	t := &Trait{
		Config: config,
		Stat:   config.Stats,
		Closed: make(chan struct{}),
	}
	t.Log.setup(config.Logger)

	return t
}

// Now returns the store's authoritative clock, delegating to the
// configured Scheduler (C3).
func (t *Trait) Now() time.Time {
	return t.Config.Scheduler.Now()
}

// StartBackgroundJobs launches the metrics-reporting and janitor goroutines
// if the corresponding hooks (Len, Vacuum) and config intervals are set.
// Must be called at most once per Trait, after Len/Vacuum are assigned.
func (t *Trait) StartBackgroundJobs() {
	if t.Stat != nil && t.Len != nil && t.Config.ItemsCountReportInterval > 0 {
		go t.reportItemsCount()
	}

	if t.Vacuum != nil && t.Config.DeleteExpiredJobInterval > 0 {
		go t.janitor()
	}
}

func (t *Trait) reportItemsCount() {
	for {
		select {
		case <-time.After(t.Config.ItemsCountReportInterval):
			count := t.Len()
			t.Stat.Set(context.Background(), MetricItems, float64(count), "name", t.Config.Name)
		case <-t.Closed:
			return
		}
	}
}

func (t *Trait) janitor() {
	for {
		select {
		case <-time.After(t.Config.DeleteExpiredJobInterval):
			// Dispatched through the configured Scheduler (C3) rather than
			// called directly, so a RealScheduler runs each sweep on one of
			// its worker goroutines instead of the janitor goroutine itself.
			_ = t.Config.Scheduler.Run(context.Background(), func(ctx context.Context) error {
				t.Vacuum()

				return nil
			})
		case <-t.Closed:
			if t.Log.important != nil {
				t.Log.important(context.Background(), "closing cache janitor", "name", t.Config.Name)
			}

			return
		}
	}
}

// PrepareRead turns a raw lookup result into the public (value, error)
// contract: a miss or an expired entry both surface as ErrKeyNotFound, with
// logging and metrics attached.
func (t *Trait) PrepareRead(ctx context.Context, key string, e *CacheEntry, found bool) ([]byte, error) {
	if !found {
		if t.Log.debug != nil {
			t.Log.debug(ctx, "cache miss", "name", t.Config.Name, "key", key)
		}

		if t.Stat != nil {
			t.Stat.Add(ctx, MetricMiss, 1, "name", t.Config.Name)
		}

		return nil, newKeyNotFound(key)
	}

	if e.expired(t.Now()) {
		if t.Log.debug != nil {
			t.Log.debug(ctx, "cache key expired", "name", t.Config.Name, "key", e.Key)
		}

		if t.Stat != nil {
			t.Stat.Add(ctx, MetricExpired, 1, "name", t.Config.Name)
		}

		return nil, newKeyNotFound(e.Key)
	}

	if t.Stat != nil {
		t.Stat.Add(ctx, MetricHit, 1, "name", t.Config.Name)
	}

	if t.Log.debug != nil {
		t.Log.debug(ctx, "cache hit", "name", t.Config.Name, "key", e.Key)
	}

	return e.Value, nil
}

// TTL computes the time-to-live for a new entry: a per-call override via
// WithTTL takes precedence over Config.TimeToLive, then jitter is applied.
func (t *Trait) TTL(ctx context.Context) time.Duration {
	ttl := ttlOverride(ctx)
	if ttl == DefaultTTL {
		if t.Config.TimeToLive == UnlimitedTTL {
			return 0
		}

		ttl = t.Config.TimeToLive
	}

	if ttl <= 0 {
		return 0
	}

	if t.Config.ExpirationJitter > 0 {
		ttl += time.Duration(float64(ttl) * t.Config.ExpirationJitter * (rand.Float64() - 0.5)) //nolint:gosec
	}

	return ttl
}

// ExpiresAt resolves an explicit expiration (if provided) or falls back to
// Config.TimeToLive/WithTTL via TTL. A nil return means "never expires".
func (t *Trait) ExpiresAt(ctx context.Context, explicit *time.Time) *time.Time {
	if explicit != nil {
		return explicit
	}

	ttl := t.TTL(ctx)
	if ttl <= 0 {
		return nil
	}

	at := t.Now().Add(ttl)

	return &at
}

// NotifyWritten collects logs and metrics for a successful write.
func (t *Trait) NotifyWritten(ctx context.Context, key string, typeTag string) {
	if t.Log.debug != nil {
		t.Log.debug(ctx, "wrote to cache", "name", t.Config.Name, "key", key, "type", typeTag)
	}

	if t.Stat != nil {
		t.Stat.Add(ctx, MetricWrite, 1, "name", t.Config.Name)
	}
}

// NotifyDeleted collects logs and metrics for a single-key invalidation.
func (t *Trait) NotifyDeleted(ctx context.Context, key string) {
	if t.Log.debug != nil {
		t.Log.debug(ctx, "deleted cache entry", "name", t.Config.Name, "key", key)
	}

	if t.Stat != nil {
		t.Stat.Add(ctx, MetricDelete, 1, "name", t.Config.Name)
	}
}

// NotifyDeletedAll collects logs and metrics for a bulk invalidation.
func (t *Trait) NotifyDeletedAll(ctx context.Context, start time.Time, cnt int) {
	if t.Log.important != nil {
		t.Log.important(ctx, "deleted all entries in cache",
			"name", t.Config.Name,
			"elapsed", time.Since(start).String(),
			"count", cnt,
		)
	}

	if t.Stat != nil {
		t.Stat.Add(ctx, MetricDelete, float64(cnt), "name", t.Config.Name)
	}
}

// NotifyVacuum collects logs and metrics for a vacuum pass.
func (t *Trait) NotifyVacuum(ctx context.Context, start time.Time, cnt int) {
	if t.Log.debug != nil {
		t.Log.debug(ctx, "vacuumed expired entries",
			"name", t.Config.Name,
			"elapsed", time.Since(start).String(),
			"count", cnt,
		)
	}

	if t.Stat != nil {
		t.Stat.Add(ctx, MetricExpired, float64(cnt), "name", t.Config.Name)
	}
}

// Dispose closes the background goroutines. Safe to call multiple times.
func (t *Trait) Dispose() {
	select {
	case <-t.Closed:
	default:
		close(t.Closed)
	}
}
