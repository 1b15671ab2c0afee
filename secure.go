package blobcache

import "context"

// Login key-schema helpers (C10) scope a BlobStore's key space into a
// "logins" namespace for storing opaque credential blobs (tokens,
// passwords, session cookies). There is no OS keychain integration here --
// that stays external to this package, matching spec.md §1's non-goal --
// callers who need OS-backed secret storage wrap a BlobStore backed by
// one.

const loginKeyPrefix = "login::"

func loginKey(host, username string) string {
	return loginKeyPrefix + host + "::" + username
}

// SaveLogin stores password under the (host, username) pair, overwriting
// any existing entry.
func SaveLogin(ctx context.Context, store BlobStore, host, username string, password []byte) error {
	if host == "" {
		return newArgumentNull("host")
	}

	if username == "" {
		return newArgumentNull("username")
	}

	return store.Insert(ctx, loginKey(host, username), password, nil)
}

// GetLogin returns the password stored for (host, username), or
// ErrKeyNotFound if none was saved.
func GetLogin(ctx context.Context, store BlobStore, host, username string) ([]byte, error) {
	if host == "" {
		return nil, newArgumentNull("host")
	}

	if username == "" {
		return nil, newArgumentNull("username")
	}

	return store.Get(ctx, loginKey(host, username))
}

// EraseLogin removes the saved credential for (host, username), if any.
func EraseLogin(ctx context.Context, store BlobStore, host, username string) error {
	if host == "" {
		return newArgumentNull("host")
	}

	if username == "" {
		return newArgumentNull("username")
	}

	return store.Invalidate(ctx, loginKey(host, username))
}

// SecureKey namespaces key to keep secure blobs out of the plain object
// key space. The actual confidentiality guarantee comes from backing the
// store with an encrypted persistent store (C5's encrypted variant), not
// from this prefix -- SecureKey is a naming convention, nothing more.
func SecureKey(key string) string {
	return "secure::" + key
}
