package blobcache

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// HashKey derives a short, fixed-length cache key from an arbitrary
// string (typically a URL), used wherever the natural key candidate is
// too long or irregular to use as a primary key directly (e.g. the image
// helpers' URL-keyed downloads in image.go). Grounded on
// github.com/cespare/xxhash/v2, a non-cryptographic hash chosen purely for
// speed and low collision rate, not security.
func HashKey(s string) string {
	return strconv.FormatUint(xxhash.Sum64String(s), 16)
}
