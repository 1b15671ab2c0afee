package blobcache

import (
	"context"
	"time"
)

// BitmapLoader decodes raw image bytes into an application-chosen bitmap
// representation B. No concrete image codec lives in this package (spec.md
// §1 non-goal); callers supply BitmapLoader backed by whichever decoder
// (image/png, golang.org/x/image, a GPU texture loader, ...) fits their
// platform.
type BitmapLoader[B any] interface {
	Decode(data []byte) (B, error)
	Size(bitmap B) (width, height int)
}

// ImageCache layers C11's image-specific helpers over a BlobStore: decoded
// bitmaps are never cached themselves, only the raw bytes -- Loader decodes
// on every call, keeping the cache codec-agnostic.
type ImageCache[B any] struct {
	Store  BlobStore
	Loader BitmapLoader[B]
}

// NewImageCache builds an ImageCache over store using loader to decode
// cached bytes into B.
func NewImageCache[B any](store BlobStore, loader BitmapLoader[B]) *ImageCache[B] {
	return &ImageCache[B]{Store: store, Loader: loader}
}

// LoadImage decodes the bitmap cached at key.
func (c *ImageCache[B]) LoadImage(ctx context.Context, key string) (B, error) {
	var zero B

	if c.Store == nil {
		return zero, newArgumentNull("store")
	}

	if key == "" {
		return zero, newArgumentNull("key")
	}

	data, err := c.Store.Get(ctx, key)
	if err != nil {
		return zero, err
	}

	return c.Loader.Decode(data)
}

// LoadImages streams the decoded bitmaps for keys, in no particular order,
// silently skipping any absent or expired key (mirrors BlobStore.GetMany).
func (c *ImageCache[B]) LoadImages(ctx context.Context, keys []string) <-chan Result[B] {
	if c.Store == nil {
		return streamError[B](newArgumentNull("store"))
	}

	out := make(chan Result[B])

	go func() {
		defer close(out)

		for r := range c.Store.GetMany(ctx, keys) {
			if r.Err != nil {
				out <- Result[B]{Err: r.Err}
				continue
			}

			bitmap, err := c.Loader.Decode(r.Value.Value)
			out <- Result[B]{Value: bitmap, Err: err}
		}
	}()

	return out
}

// PreloadImagesFromUrls downloads and caches every url (under HashKey(url)
// as key) that isn't already cached, without decoding any of them.
// Failures for individual URLs are collected rather than aborting the
// whole batch.
func (c *ImageCache[B]) PreloadImagesFromUrls(ctx context.Context, urls []string, expiresAt *time.Time) map[string]error {
	failures := make(map[string]error)

	for _, url := range urls {
		if _, err := DownloadURL(ctx, c.Store, HashKey(url), url, expiresAt); err != nil {
			failures[url] = err
		}
	}

	return failures
}

// LoadImageWithFallback decodes the bitmap cached at key, or returns
// fallback's decode if key is absent or decoding fails. A nil store or nil
// fallback fails synchronously with ErrArgumentNull rather than silently
// falling through to a decode attempt (spec.md §4.10).
func (c *ImageCache[B]) LoadImageWithFallback(ctx context.Context, key string, fallback []byte) (B, error) {
	var zero B

	if c.Store == nil {
		return zero, newArgumentNull("store")
	}

	if fallback == nil {
		return zero, newArgumentNull("fallback")
	}

	bitmap, err := c.LoadImage(ctx, key)
	if err == nil {
		return bitmap, nil
	}

	return c.Loader.Decode(fallback)
}

// LoadImageFromUrlWithFallback downloads (or serves from cache) url,
// decodes it, and falls back to decoding fallback on any failure along the
// way. A nil store or nil fallback fails synchronously with ErrArgumentNull
// (spec.md §4.10).
func (c *ImageCache[B]) LoadImageFromUrlWithFallback(ctx context.Context, url string, expiresAt *time.Time, fallback []byte) (B, error) {
	var zero B

	if c.Store == nil {
		return zero, newArgumentNull("store")
	}

	if fallback == nil {
		return zero, newArgumentNull("fallback")
	}

	data, err := DownloadURL(ctx, c.Store, HashKey(url), url, expiresAt)
	if err != nil {
		return c.Loader.Decode(fallback)
	}

	bitmap, err := c.Loader.Decode(data)
	if err != nil {
		return c.Loader.Decode(fallback)
	}

	return bitmap, nil
}

// GetImageSize decodes the bitmap cached at key and reports its dimensions
// without requiring the caller to hold onto the decoded bitmap.
func (c *ImageCache[B]) GetImageSize(ctx context.Context, key string) (width, height int, err error) {
	bitmap, err := c.LoadImage(ctx, key)
	if err != nil {
		return 0, 0, err
	}

	w, h := c.Loader.Size(bitmap)

	return w, h, nil
}

// ClearImageCache invalidates every key for which predicate returns true.
// A nil store or nil predicate fails synchronously with ErrArgumentNull
// (spec.md §4.10) rather than being treated as "clear everything".
func (c *ImageCache[B]) ClearImageCache(ctx context.Context, predicate func(key string) bool) error {
	if c.Store == nil {
		return newArgumentNull("store")
	}

	if predicate == nil {
		return newArgumentNull("predicate")
	}

	var toRemove []string

	for r := range c.Store.GetAllKeys(ctx) {
		if r.Err != nil {
			return r.Err
		}

		if predicate(r.Value) {
			toRemove = append(toRemove, r.Value)
		}
	}

	return c.Store.InvalidateMany(ctx, toRemove)
}
