package blobcache

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// sqlSchema creates the single table backing SQLStore. typeTag is nullable
// (untyped inserts leave it NULL); expiresAt is a Unix-nanosecond integer,
// NULL meaning "never expires".
const sqlSchema = `
CREATE TABLE IF NOT EXISTS blobcache_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	type_tag   TEXT,
	created_at INTEGER NOT NULL,
	expires_at INTEGER
);
CREATE INDEX IF NOT EXISTS blobcache_entries_type_tag ON blobcache_entries(type_tag);
`

// SQLStore is the persistent BlobStore (C5): a pure-Go SQLite-backed
// implementation using modernc.org/sqlite, requiring no cgo toolchain.
// Entries survive process restarts; Vacuum both removes expired rows and
// issues SQLite's own VACUUM to reclaim disk space.
type SQLStore struct {
	db    *sql.DB
	trait *Trait
}

// OpenSQLStore opens (creating if necessary) a SQLite database at path and
// prepares it as a BlobStore. path may be ":memory:" for a process-local,
// non-persistent instance useful in tests that still want to exercise the
// SQL code path.
func OpenSQLStore(ctx context.Context, path string, options ...Option) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, newStorageError("open", err)
	}

	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY

	if _, err := db.ExecContext(ctx, sqlSchema); err != nil {
		db.Close()

		return nil, newStorageError("migrate", err)
	}

	cfg := buildConfig(options...)

	s := &SQLStore{db: db}
	s.trait = NewTrait(cfg)
	s.trait.Len = s.length
	s.trait.Vacuum = func() {
		_ = s.Vacuum(context.Background())
	}
	s.trait.StartBackgroundJobs()

	return s, nil
}

var _ BlobStore = (*SQLStore)(nil)

func (s *SQLStore) length() int {
	var n int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM blobcache_entries WHERE expires_at IS NULL OR expires_at > ?`, ts(s.trait.Now())).Scan(&n)

	return n
}

func (s *SQLStore) checkDisposed() error {
	if s.db == nil {
		return newDisposed(s.trait.Config.Name)
	}

	return nil
}

func (s *SQLStore) insert(ctx context.Context, key string, value []byte, typeTag string, expiresAt *time.Time) error {
	if key == "" {
		return newArgumentNull("key")
	}

	if err := s.checkDisposed(); err != nil {
		return err
	}

	now := s.trait.Now()
	exp := s.trait.ExpiresAt(ctx, expiresAt)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobcache_entries (key, value, type_tag, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			type_tag = excluded.type_tag,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, key, value, nullableString(typeTag), ts(now), nullableTimestamp(exp))
	if err != nil {
		return newStorageError("insert", err)
	}

	s.trait.NotifyWritten(ctx, key, typeTag)

	return nil
}

// Insert implements BlobStore.
func (s *SQLStore) Insert(ctx context.Context, key string, value []byte, expiresAt *time.Time) error {
	return s.insert(ctx, key, value, "", expiresAt)
}

// InsertTyped implements BlobStore.
func (s *SQLStore) InsertTyped(ctx context.Context, key string, value []byte, typeTag string, expiresAt *time.Time) error {
	return s.insert(ctx, key, value, typeTag, expiresAt)
}

func (s *SQLStore) insertMany(ctx context.Context, pairs map[string][]byte, typeTag string, expiresAt *time.Time) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return newStorageError("insert-many", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.trait.Now()
	exp := s.trait.ExpiresAt(ctx, expiresAt)

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO blobcache_entries (key, value, type_tag, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			type_tag = excluded.type_tag,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`)
	if err != nil {
		return newStorageError("insert-many", err)
	}
	defer stmt.Close()

	for key, value := range pairs {
		if key == "" {
			return newArgumentNull("key")
		}

		if _, err := stmt.ExecContext(ctx, key, value, nullableString(typeTag), ts(now), nullableTimestamp(exp)); err != nil {
			return newStorageError("insert-many", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return newStorageError("insert-many", err)
	}

	for key := range pairs {
		s.trait.NotifyWritten(ctx, key, typeTag)
	}

	return nil
}

// InsertMany implements BlobStore.
func (s *SQLStore) InsertMany(ctx context.Context, pairs map[string][]byte, expiresAt *time.Time) error {
	return s.insertMany(ctx, pairs, "", expiresAt)
}

// InsertManyTyped implements BlobStore.
func (s *SQLStore) InsertManyTyped(ctx context.Context, pairs map[string][]byte, typeTag string, expiresAt *time.Time) error {
	return s.insertMany(ctx, pairs, typeTag, expiresAt)
}

func (s *SQLStore) get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, newArgumentNull("key")
	}

	if err := s.checkDisposed(); err != nil {
		return nil, err
	}

	if SkipRead(ctx) {
		return s.trait.PrepareRead(ctx, key, nil, false)
	}

	var (
		value     []byte
		expiresAt sql.NullInt64
	)

	row := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM blobcache_entries WHERE key = ?`, key)

	err := row.Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s.trait.PrepareRead(ctx, key, nil, false)
	}

	if err != nil {
		return nil, newStorageError("get", err)
	}

	e := &CacheEntry{Key: key, Value: value}
	if expiresAt.Valid {
		at := tsTime(expiresAt.Int64)
		e.ExpiresAt = &at
	}

	data, prepErr := s.trait.PrepareRead(ctx, key, e, true)
	if prepErr != nil && errors.Is(prepErr, ErrKeyNotFound) && e.expired(s.trait.Now()) {
		_ = s.invalidate(ctx, key)
	}

	return data, prepErr
}

// Get implements BlobStore.
func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.get(ctx, key)
}

// GetTyped implements BlobStore. The stored type tag is not checked
// against typeTag, matching MemoryStore's resolution of the same open
// question (see DESIGN.md).
func (s *SQLStore) GetTyped(ctx context.Context, key, _ string) ([]byte, error) {
	return s.get(ctx, key)
}

func (s *SQLStore) queryKeyValues(ctx context.Context, query string, args ...any) <-chan Result[KeyValue] {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return streamError[KeyValue](newStorageError("query", err))
	}
	defer rows.Close()

	var values []KeyValue

	now := s.trait.Now()

	for rows.Next() {
		var (
			key       string
			value     []byte
			expiresAt sql.NullInt64
		)

		if err := rows.Scan(&key, &value, &expiresAt); err != nil {
			return streamError[KeyValue](newStorageError("query", err))
		}

		if expiresAt.Valid && !now.Before(tsTime(expiresAt.Int64)) {
			continue
		}

		values = append(values, KeyValue{Key: key, Value: value})
	}

	return streamValues(values)
}

// GetMany implements BlobStore.
func (s *SQLStore) GetMany(ctx context.Context, keys []string) <-chan Result[KeyValue] {
	if err := s.checkDisposed(); err != nil {
		return streamError[KeyValue](err)
	}

	if len(keys) == 0 {
		return streamValues[KeyValue](nil)
	}

	placeholders, args := inClause(keys)

	return s.queryKeyValues(ctx, `SELECT key, value, expires_at FROM blobcache_entries WHERE key IN (`+placeholders+`)`, args...)
}

// GetManyTyped implements BlobStore.
func (s *SQLStore) GetManyTyped(ctx context.Context, keys []string, typeTag string) <-chan Result[KeyValue] {
	return s.GetMany(ctx, keys)
}

// GetAll implements BlobStore.
func (s *SQLStore) GetAll(ctx context.Context, typeTag string) <-chan Result[KeyValue] {
	if err := s.checkDisposed(); err != nil {
		return streamError[KeyValue](err)
	}

	return s.queryKeyValues(ctx, `SELECT key, value, expires_at FROM blobcache_entries WHERE type_tag = ?`, typeTag)
}

// GetAllKeys implements BlobStore.
func (s *SQLStore) GetAllKeys(ctx context.Context) <-chan Result[string] {
	return s.getAllKeys(ctx, "")
}

// GetAllKeysTyped implements BlobStore.
func (s *SQLStore) GetAllKeysTyped(ctx context.Context, typeTag string) <-chan Result[string] {
	return s.getAllKeys(ctx, typeTag)
}

func (s *SQLStore) getAllKeys(ctx context.Context, typeTag string) <-chan Result[string] {
	if err := s.checkDisposed(); err != nil {
		return streamError[string](err)
	}

	query := `SELECT key, expires_at FROM blobcache_entries`
	args := []any{}

	if typeTag != "" {
		query += ` WHERE type_tag = ?`
		args = append(args, typeTag)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return streamError[string](newStorageError("query", err))
	}
	defer rows.Close()

	var keys []string

	now := s.trait.Now()

	for rows.Next() {
		var (
			key       string
			expiresAt sql.NullInt64
		)

		if err := rows.Scan(&key, &expiresAt); err != nil {
			return streamError[string](newStorageError("query", err))
		}

		if expiresAt.Valid && !now.Before(tsTime(expiresAt.Int64)) {
			continue
		}

		keys = append(keys, key)
	}

	return streamValues(keys)
}

func (s *SQLStore) getCreatedAt(ctx context.Context, key string) (*time.Time, error) {
	if err := s.checkDisposed(); err != nil {
		return nil, err
	}

	var (
		createdAt int64
		expiresAt sql.NullInt64
	)

	row := s.db.QueryRowContext(ctx, `SELECT created_at, expires_at FROM blobcache_entries WHERE key = ?`, key)

	err := row.Scan(&createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		return nil, newStorageError("get-created-at", err)
	}

	if expiresAt.Valid && !s.trait.Now().Before(tsTime(expiresAt.Int64)) {
		return nil, nil //nolint:nilnil
	}

	t := tsTime(createdAt)

	return &t, nil
}

// GetCreatedAt implements BlobStore.
func (s *SQLStore) GetCreatedAt(ctx context.Context, key string) (*time.Time, error) {
	return s.getCreatedAt(ctx, key)
}

// GetCreatedAtTyped implements BlobStore.
func (s *SQLStore) GetCreatedAtTyped(ctx context.Context, key, _ string) (*time.Time, error) {
	return s.getCreatedAt(ctx, key)
}

func (s *SQLStore) updateExpiration(ctx context.Context, key string, expiresAt *time.Time) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}

	exp := s.trait.ExpiresAt(ctx, expiresAt)

	res, err := s.db.ExecContext(ctx, `UPDATE blobcache_entries SET expires_at = ? WHERE key = ?`, nullableTimestamp(exp), key)
	if err != nil {
		return newStorageError("update-expiration", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return newStorageError("update-expiration", err)
	}

	if n == 0 {
		return newKeyNotFound(key)
	}

	return nil
}

// UpdateExpiration implements BlobStore.
func (s *SQLStore) UpdateExpiration(ctx context.Context, key string, expiresAt *time.Time) error {
	return s.updateExpiration(ctx, key, expiresAt)
}

// UpdateExpirationTyped implements BlobStore.
func (s *SQLStore) UpdateExpirationTyped(ctx context.Context, key, _ string, expiresAt *time.Time) error {
	return s.updateExpiration(ctx, key, expiresAt)
}

func (s *SQLStore) invalidate(ctx context.Context, key string) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobcache_entries WHERE key = ?`, key); err != nil {
		return newStorageError("invalidate", err)
	}

	s.trait.NotifyDeleted(ctx, key)

	return nil
}

// Invalidate implements BlobStore.
func (s *SQLStore) Invalidate(ctx context.Context, key string) error {
	return s.invalidate(ctx, key)
}

// InvalidateTyped implements BlobStore.
func (s *SQLStore) InvalidateTyped(ctx context.Context, key, _ string) error {
	return s.invalidate(ctx, key)
}

// InvalidateMany implements BlobStore.
func (s *SQLStore) InvalidateMany(ctx context.Context, keys []string) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}

	if len(keys) == 0 {
		return nil
	}

	placeholders, args := inClause(keys)

	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobcache_entries WHERE key IN (`+placeholders+`)`, args...); err != nil {
		return newStorageError("invalidate-many", err)
	}

	for _, key := range keys {
		s.trait.NotifyDeleted(ctx, key)
	}

	return nil
}

// InvalidateManyTyped implements BlobStore.
func (s *SQLStore) InvalidateManyTyped(ctx context.Context, keys []string, _ string) error {
	return s.InvalidateMany(ctx, keys)
}

// InvalidateAll implements BlobStore.
func (s *SQLStore) InvalidateAll(ctx context.Context) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}

	start := s.trait.Now()

	res, err := s.db.ExecContext(ctx, `DELETE FROM blobcache_entries`)
	if err != nil {
		return newStorageError("invalidate-all", err)
	}

	n, _ := res.RowsAffected()
	s.trait.NotifyDeletedAll(ctx, start, int(n))

	return nil
}

// InvalidateAllTyped implements BlobStore.
func (s *SQLStore) InvalidateAllTyped(ctx context.Context, typeTag string) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}

	start := s.trait.Now()

	res, err := s.db.ExecContext(ctx, `DELETE FROM blobcache_entries WHERE type_tag = ?`, typeTag)
	if err != nil {
		return newStorageError("invalidate-all-typed", err)
	}

	n, _ := res.RowsAffected()
	s.trait.NotifyDeletedAll(ctx, start, int(n))

	return nil
}

// Flush implements BlobStore: every write already went through a
// committed transaction, so Flush is a WAL checkpoint, making even a
// WAL-mode database's data visible to other readers of the same file.
func (s *SQLStore) Flush(ctx context.Context) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return newStorageError("flush", err)
	}

	return nil
}

// FlushTyped implements BlobStore.
func (s *SQLStore) FlushTyped(ctx context.Context, _ string) error {
	return s.Flush(ctx)
}

// Vacuum implements BlobStore: expired rows are deleted, then SQLite's own
// VACUUM reclaims the freed pages.
func (s *SQLStore) Vacuum(ctx context.Context) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}

	start := s.trait.Now()

	res, err := s.db.ExecContext(ctx, `DELETE FROM blobcache_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`, ts(start))
	if err != nil {
		return newStorageError("vacuum", err)
	}

	n, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return newStorageError("vacuum", err)
	}

	s.trait.NotifyVacuum(ctx, start, int(n))

	return nil
}

// Close implements BlobStore.
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}

	s.trait.Dispose()

	err := s.db.Close()
	s.db = nil

	if err != nil {
		return newStorageError("close", err)
	}

	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}

	return s
}

func nullableTimestamp(t *time.Time) any {
	if t == nil {
		return nil
	}

	return ts(*t)
}

func inClause(keys []string) (string, []any) {
	placeholders := ""
	args := make([]any, len(keys))

	for i, k := range keys {
		if i > 0 {
			placeholders += ","
		}

		placeholders += "?"
		args[i] = k
	}

	return placeholders, args
}
