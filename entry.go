package blobcache

import "time"

// CacheEntry is the unit of storage in a BlobStore: a byte value under a
// key, with an optional type tag used for type-scoped operations and an
// optional expiration. See spec.md §3.
type CacheEntry struct {
	Key       string
	Value     []byte
	TypeTag   string
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// expired reports whether the entry is no longer visible at time now. An
// entry with a nil ExpiresAt never expires.
func (e *CacheEntry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// typePrefixedKey builds the alternate, type-prefixed key used by the typed
// layer's alternative-key probing (spec.md §4.2, §4.6): <typeTag>___<key>.
func typePrefixedKey(typeTag, key string) string {
	return typeTag + "___" + key
}

// ts and tsTime convert between time.Time and the Unix-nanosecond integer
// used by persistent backends (SQLStore) to store timestamps as a single
// sortable column.
func ts(t time.Time) int64 { return t.UnixNano() }

func tsTime(ns int64) time.Time { return time.Unix(0, ns) }
