package blobcache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Coalescer deduplicates concurrent producers for the same key (C7): at
// most one factory call is in flight per key at a time, and every
// concurrent caller for that key shares its result. Built on
// singleflight.Group, the idiomatic primitive for exactly this pattern
// (also used this way by stumble/dcache's request-coalescing cache client
// in the retrieved corpus).
type Coalescer struct {
	group singleflight.Group

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewCoalescer builds an empty Coalescer.
func NewCoalescer() *Coalescer {
	return &Coalescer{inFlight: make(map[string]struct{})}
}

// GetOrCreateRequest runs factory for key if no call for key is already in
// flight, otherwise waits for and shares the in-flight call's result. The
// key is cleared from the in-flight set once factory returns, so the next
// call always re-enters factory (spec.md §4.7).
func (c *Coalescer) GetOrCreateRequest(ctx context.Context, key string, factory func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	c.mu.Lock()
	c.inFlight[key] = struct{}{}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		defer func() {
			c.mu.Lock()
			delete(c.inFlight, key)
			c.mu.Unlock()
		}()

		return factory(ctx)
	})
	if err != nil {
		return nil, err
	}

	return v.([]byte), nil
}

// Clear forgets key's in-flight call, if any: the next GetOrCreateRequest
// for key always starts a fresh factory call rather than sharing a call
// already in flight or just completed. Invalidation must call Clear --
// skipping it reproduces the stale-coalesced-read regression the source
// project tracked as issue #524 (spec.md §4.7, §9, scenario S2).
func (c *Coalescer) Clear(key string) {
	c.group.Forget(key)

	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()
}

// ClearAll forgets every in-flight call.
func (c *Coalescer) ClearAll() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.inFlight))
	for k := range c.inFlight {
		keys = append(keys, k)
	}
	c.inFlight = make(map[string]struct{})
	c.mu.Unlock()

	for _, k := range keys {
		c.group.Forget(k)
	}
}

// Len reports the number of calls currently in flight.
func (c *Coalescer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.inFlight)
}
