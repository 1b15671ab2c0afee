package blobcache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptedSQLStore_RoundTrip(t *testing.T) {
	ctx := context.Background()

	store, err := OpenEncryptedSQLStore(ctx, ":memory:", []byte("correct horse battery staple"), WithJanitorInterval(0))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Insert(ctx, "k", []byte("secret"), nil))

	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), v)
}

func TestEncryptedSQLStore_ValueIsActuallyEncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	path := "file:" + t.TempDir() + "/enc.db"

	store, err := OpenEncryptedSQLStore(ctx, path, []byte("passphrase"), WithJanitorInterval(0))
	require.NoError(t, err)

	require.NoError(t, store.Insert(ctx, "k", []byte("plaintext-marker"), nil))

	var raw []byte
	require.NoError(t, store.inner.db.QueryRowContext(ctx, `SELECT value FROM blobcache_entries WHERE key = ?`, "k").Scan(&raw))

	assert.NotContains(t, string(raw), "plaintext-marker")

	require.NoError(t, store.Close())
}

func TestEncryptedSQLStore_WrongPassphraseFailsToDecrypt(t *testing.T) {
	ctx := context.Background()
	path := "file:" + t.TempDir() + "/enc.db"

	store1, err := OpenEncryptedSQLStore(ctx, path, []byte("right-passphrase"), WithJanitorInterval(0))
	require.NoError(t, err)

	require.NoError(t, store1.Insert(ctx, "k", []byte("secret"), nil))
	require.NoError(t, store1.Close())

	store2, err := OpenEncryptedSQLStore(ctx, path, []byte("wrong-passphrase"), WithJanitorInterval(0))
	require.NoError(t, err)
	defer store2.Close()

	_, err = store2.Get(ctx, "k")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
}
