// Package blobcache implements an embedded, application-level blob cache: a
// typed, expiring key-to-bytes store with pluggable serialization, pluggable
// storage backends (in-memory, persistent via an embedded SQL engine, and an
// encrypted variant), and coordination primitives for fetch-coalescing
// (GetOrFetch) and stale-while-revalidate (GetAndFetchLatest) access
// patterns, plus an HTTP download-through-cache helper.
//
// The package is not a distributed cache: there is no cross-process
// coherence, no LRU/size-based eviction, and expiration is purely
// time-based and lazy.
package blobcache
