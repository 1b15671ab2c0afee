package blobcache

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"errors"
	"time"

	"golang.org/x/crypto/argon2"
)

const (
	encryptionSaltSize = 16
	encryptionKeySize  = 32 // AES-256
)

// argon2Params are the Argon2id cost parameters used to derive the AES key
// from a passphrase. Chosen to match the OWASP-recommended floor for
// interactive use (spec.md §4.5 leaves the exact KDF cost to the
// implementation).
var argon2Params = struct {
	time    uint32
	memory  uint32
	threads uint8
}{time: 1, memory: 64 * 1024, threads: 4}

// EncryptedSQLStore wraps SQLStore with AES-256-GCM authenticated
// encryption at rest (C5's encrypted variant): every value is encrypted
// before insertion and decrypted after retrieval, using a key derived from
// a passphrase via Argon2id. Keys, type tags and timestamps are stored in
// the clear -- only the blob payload is encrypted, matching spec.md §4.5's
// scope ("values, not metadata").
//
// A per-store random salt is persisted alongside the schema on first open;
// opening the same database file with the wrong passphrase fails every
// subsequent decrypt with ErrStorage (scenario S6), since GCM authenticates
// the ciphertext.
type EncryptedSQLStore struct {
	inner *SQLStore
	aead  cipher.AEAD
}

const encryptedSchema = `
CREATE TABLE IF NOT EXISTS blobcache_encryption_salt (
	id   INTEGER PRIMARY KEY CHECK (id = 0),
	salt BLOB NOT NULL
);
`

// OpenEncryptedSQLStore opens (creating if necessary) an encrypted SQLite
// store at path, deriving the AES key from passphrase and a salt
// persisted in the database on first creation.
func OpenEncryptedSQLStore(ctx context.Context, path string, passphrase []byte, options ...Option) (*EncryptedSQLStore, error) {
	inner, err := OpenSQLStore(ctx, path, options...)
	if err != nil {
		return nil, err
	}

	if _, err := inner.db.ExecContext(ctx, encryptedSchema); err != nil {
		inner.Close()

		return nil, newStorageError("migrate", err)
	}

	salt, err := loadOrCreateSalt(ctx, inner.db)
	if err != nil {
		inner.Close()

		return nil, err
	}

	key := argon2.IDKey(passphrase, salt, argon2Params.time, argon2Params.memory, argon2Params.threads, encryptionKeySize)

	block, err := aes.NewCipher(key)
	if err != nil {
		inner.Close()

		return nil, newStorageError("key-setup", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		inner.Close()

		return nil, newStorageError("key-setup", err)
	}

	return &EncryptedSQLStore{inner: inner, aead: aead}, nil
}

func loadOrCreateSalt(ctx context.Context, db *sql.DB) ([]byte, error) {
	var salt []byte

	err := db.QueryRowContext(ctx, `SELECT salt FROM blobcache_encryption_salt WHERE id = 0`).Scan(&salt)
	if err == nil {
		return salt, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return nil, newStorageError("load-salt", err)
	}

	salt = make([]byte, encryptionSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, newStorageError("generate-salt", err)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO blobcache_encryption_salt (id, salt) VALUES (0, ?)`, salt); err != nil {
		return nil, newStorageError("persist-salt", err)
	}

	return salt, nil
}

var _ BlobStore = (*EncryptedSQLStore)(nil)

func (s *EncryptedSQLStore) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, newStorageError("encrypt", err)
	}

	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *EncryptedSQLStore) open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return ciphertext, nil // the null marker is never encrypted
	}

	nonceSize := s.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, newStorageError("decrypt", errors.New("ciphertext too short"))
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, newStorageError("decrypt", err)
	}

	return plaintext, nil
}

// Insert implements BlobStore.
func (s *EncryptedSQLStore) Insert(ctx context.Context, key string, value []byte, expiresAt *time.Time) error {
	sealed, err := s.sealIfNotEmpty(value)
	if err != nil {
		return err
	}

	return s.inner.Insert(ctx, key, sealed, expiresAt)
}

// InsertTyped implements BlobStore.
func (s *EncryptedSQLStore) InsertTyped(ctx context.Context, key string, value []byte, typeTag string, expiresAt *time.Time) error {
	sealed, err := s.sealIfNotEmpty(value)
	if err != nil {
		return err
	}

	return s.inner.InsertTyped(ctx, key, sealed, typeTag, expiresAt)
}

func (s *EncryptedSQLStore) sealIfNotEmpty(value []byte) ([]byte, error) {
	if len(value) == 0 {
		return value, nil
	}

	return s.seal(value)
}

// InsertMany implements BlobStore.
func (s *EncryptedSQLStore) InsertMany(ctx context.Context, pairs map[string][]byte, expiresAt *time.Time) error {
	sealed, err := s.sealAll(pairs)
	if err != nil {
		return err
	}

	return s.inner.InsertMany(ctx, sealed, expiresAt)
}

// InsertManyTyped implements BlobStore.
func (s *EncryptedSQLStore) InsertManyTyped(ctx context.Context, pairs map[string][]byte, typeTag string, expiresAt *time.Time) error {
	sealed, err := s.sealAll(pairs)
	if err != nil {
		return err
	}

	return s.inner.InsertManyTyped(ctx, sealed, typeTag, expiresAt)
}

func (s *EncryptedSQLStore) sealAll(pairs map[string][]byte) (map[string][]byte, error) {
	sealed := make(map[string][]byte, len(pairs))

	for k, v := range pairs {
		enc, err := s.sealIfNotEmpty(v)
		if err != nil {
			return nil, err
		}

		sealed[k] = enc
	}

	return sealed, nil
}

// Get implements BlobStore.
func (s *EncryptedSQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	return s.open(data)
}

// GetTyped implements BlobStore. Like SQLStore.GetTyped, the stored type
// tag is not checked against typeTag.
func (s *EncryptedSQLStore) GetTyped(ctx context.Context, key, typeTag string) ([]byte, error) {
	data, err := s.inner.GetTyped(ctx, key, typeTag)
	if err != nil {
		return nil, err
	}

	return s.open(data)
}

// GetMany implements BlobStore.
func (s *EncryptedSQLStore) GetMany(ctx context.Context, keys []string) <-chan Result[KeyValue] {
	return s.decryptStream(s.inner.GetMany(ctx, keys))
}

// GetManyTyped implements BlobStore.
func (s *EncryptedSQLStore) GetManyTyped(ctx context.Context, keys []string, typeTag string) <-chan Result[KeyValue] {
	return s.decryptStream(s.inner.GetManyTyped(ctx, keys, typeTag))
}

// GetAll implements BlobStore.
func (s *EncryptedSQLStore) GetAll(ctx context.Context, typeTag string) <-chan Result[KeyValue] {
	return s.decryptStream(s.inner.GetAll(ctx, typeTag))
}

func (s *EncryptedSQLStore) decryptStream(in <-chan Result[KeyValue]) <-chan Result[KeyValue] {
	out := make(chan Result[KeyValue])

	go func() {
		defer close(out)

		for r := range in {
			if r.Err != nil {
				out <- r
				continue
			}

			plain, err := s.open(r.Value.Value)
			if err != nil {
				out <- Result[KeyValue]{Err: err}
				continue
			}

			out <- Result[KeyValue]{Value: KeyValue{Key: r.Value.Key, Value: plain}}
		}
	}()

	return out
}

// GetAllKeys implements BlobStore.
func (s *EncryptedSQLStore) GetAllKeys(ctx context.Context) <-chan Result[string] {
	return s.inner.GetAllKeys(ctx)
}

// GetAllKeysTyped implements BlobStore.
func (s *EncryptedSQLStore) GetAllKeysTyped(ctx context.Context, typeTag string) <-chan Result[string] {
	return s.inner.GetAllKeysTyped(ctx, typeTag)
}

// GetCreatedAt implements BlobStore.
func (s *EncryptedSQLStore) GetCreatedAt(ctx context.Context, key string) (*time.Time, error) {
	return s.inner.GetCreatedAt(ctx, key)
}

// GetCreatedAtTyped implements BlobStore.
func (s *EncryptedSQLStore) GetCreatedAtTyped(ctx context.Context, key, typeTag string) (*time.Time, error) {
	return s.inner.GetCreatedAtTyped(ctx, key, typeTag)
}

// UpdateExpiration implements BlobStore.
func (s *EncryptedSQLStore) UpdateExpiration(ctx context.Context, key string, expiresAt *time.Time) error {
	return s.inner.UpdateExpiration(ctx, key, expiresAt)
}

// UpdateExpirationTyped implements BlobStore.
func (s *EncryptedSQLStore) UpdateExpirationTyped(ctx context.Context, key, typeTag string, expiresAt *time.Time) error {
	return s.inner.UpdateExpirationTyped(ctx, key, typeTag, expiresAt)
}

// Invalidate implements BlobStore.
func (s *EncryptedSQLStore) Invalidate(ctx context.Context, key string) error {
	return s.inner.Invalidate(ctx, key)
}

// InvalidateTyped implements BlobStore.
func (s *EncryptedSQLStore) InvalidateTyped(ctx context.Context, key, typeTag string) error {
	return s.inner.InvalidateTyped(ctx, key, typeTag)
}

// InvalidateMany implements BlobStore.
func (s *EncryptedSQLStore) InvalidateMany(ctx context.Context, keys []string) error {
	return s.inner.InvalidateMany(ctx, keys)
}

// InvalidateManyTyped implements BlobStore.
func (s *EncryptedSQLStore) InvalidateManyTyped(ctx context.Context, keys []string, typeTag string) error {
	return s.inner.InvalidateManyTyped(ctx, keys, typeTag)
}

// InvalidateAll implements BlobStore.
func (s *EncryptedSQLStore) InvalidateAll(ctx context.Context) error {
	return s.inner.InvalidateAll(ctx)
}

// InvalidateAllTyped implements BlobStore.
func (s *EncryptedSQLStore) InvalidateAllTyped(ctx context.Context, typeTag string) error {
	return s.inner.InvalidateAllTyped(ctx, typeTag)
}

// Flush implements BlobStore.
func (s *EncryptedSQLStore) Flush(ctx context.Context) error { return s.inner.Flush(ctx) }

// FlushTyped implements BlobStore.
func (s *EncryptedSQLStore) FlushTyped(ctx context.Context, typeTag string) error {
	return s.inner.FlushTyped(ctx, typeTag)
}

// Vacuum implements BlobStore.
func (s *EncryptedSQLStore) Vacuum(ctx context.Context) error { return s.inner.Vacuum(ctx) }

// Close implements BlobStore.
func (s *EncryptedSQLStore) Close() error { return s.inner.Close() }
