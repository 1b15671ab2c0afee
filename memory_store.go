package blobcache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a thread-safe, in-memory BlobStore (C4). Entries are kept
// in a map guarded by a single mutex, with a secondary typeTag->keys index
// for type-scoped operations, mirroring the teacher's single-mutex Trait
// model generalized from a scalar TTL cache to the typed blob contract.
//
// Open question (spec.md §9) resolved here: a type-qualified read
// (GetTyped) does NOT require the stored entry's type tag to match the
// requested one -- it behaves exactly like Get. This matches the teacher's
// single key->entry map, where the key alone determines the lookup; only
// type-scoped enumeration (GetAll, InvalidateAllTyped, ...) consults the
// type index. See DESIGN.md.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*CacheEntry
	typeIndex  map[string]map[string]struct{}
	disposed   bool

	trait *Trait
}

var _ BlobStore = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty in-memory blob store.
func NewMemoryStore(options ...Option) *MemoryStore {
	cfg := buildConfig(options...)

	s := &MemoryStore{
		entries:   make(map[string]*CacheEntry),
		typeIndex: make(map[string]map[string]struct{}),
	}

	s.trait = NewTrait(cfg)
	s.trait.Len = s.length
	s.trait.Vacuum = func() {
		_ = s.Vacuum(context.Background())
	}
	s.trait.StartBackgroundJobs()

	return s
}

func (s *MemoryStore) length() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

func (s *MemoryStore) checkDisposed() error {
	if s.disposed {
		return newDisposed(s.trait.Config.Name)
	}

	return nil
}

func (s *MemoryStore) indexAdd(typeTag, key string) {
	if typeTag == "" {
		return
	}

	set, ok := s.typeIndex[typeTag]
	if !ok {
		set = make(map[string]struct{})
		s.typeIndex[typeTag] = set
	}

	set[key] = struct{}{}
}

func (s *MemoryStore) indexRemove(typeTag, key string) {
	if typeTag == "" {
		return
	}

	if set, ok := s.typeIndex[typeTag]; ok {
		delete(set, key)

		if len(set) == 0 {
			delete(s.typeIndex, typeTag)
		}
	}
}

// upsert stores e, removing any stale type-index membership from a
// previous entry under the same key. Caller holds s.mu.
func (s *MemoryStore) upsert(e *CacheEntry) {
	if old, ok := s.entries[e.Key]; ok && old.TypeTag != e.TypeTag {
		s.indexRemove(old.TypeTag, e.Key)
	}

	s.entries[e.Key] = e
	s.indexAdd(e.TypeTag, e.Key)
}

// removeLocked deletes key from entries and every type index bucket.
// Caller holds s.mu.
func (s *MemoryStore) removeLocked(key string) {
	if e, ok := s.entries[key]; ok {
		s.indexRemove(e.TypeTag, key)
		delete(s.entries, key)
	}
}

// lookupLocked returns the live entry for key, lazily deleting it if
// expired. Caller holds s.mu.
func (s *MemoryStore) lookupLocked(key string) (*CacheEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}

	if e.expired(s.trait.Now()) {
		s.removeLocked(key)

		return nil, false
	}

	return e, true
}

func (s *MemoryStore) insert(ctx context.Context, key string, value []byte, typeTag string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDisposed(); err != nil {
		return err
	}

	s.upsert(&CacheEntry{
		Key:       key,
		Value:     value,
		TypeTag:   typeTag,
		CreatedAt: s.trait.Now(),
		ExpiresAt: s.trait.ExpiresAt(ctx, expiresAt),
	})

	s.trait.NotifyWritten(ctx, key, typeTag)

	return nil
}

// Insert implements BlobStore.
func (s *MemoryStore) Insert(ctx context.Context, key string, value []byte, expiresAt *time.Time) error {
	return s.insert(ctx, key, value, "", expiresAt)
}

// InsertTyped implements BlobStore.
func (s *MemoryStore) InsertTyped(ctx context.Context, key string, value []byte, typeTag string, expiresAt *time.Time) error {
	return s.insert(ctx, key, value, typeTag, expiresAt)
}

func (s *MemoryStore) insertMany(ctx context.Context, pairs map[string][]byte, typeTag string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDisposed(); err != nil {
		return err
	}

	now := s.trait.Now()
	resolved := s.trait.ExpiresAt(ctx, expiresAt)

	for k, v := range pairs {
		s.upsert(&CacheEntry{Key: k, Value: v, TypeTag: typeTag, CreatedAt: now, ExpiresAt: resolved})
	}

	for k := range pairs {
		s.trait.NotifyWritten(ctx, k, typeTag)
	}

	return nil
}

// InsertMany implements BlobStore.
func (s *MemoryStore) InsertMany(ctx context.Context, pairs map[string][]byte, expiresAt *time.Time) error {
	return s.insertMany(ctx, pairs, "", expiresAt)
}

// InsertManyTyped implements BlobStore.
func (s *MemoryStore) InsertManyTyped(ctx context.Context, pairs map[string][]byte, typeTag string, expiresAt *time.Time) error {
	return s.insertMany(ctx, pairs, typeTag, expiresAt)
}

func (s *MemoryStore) get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDisposed(); err != nil {
		return nil, err
	}

	if SkipRead(ctx) {
		return s.trait.PrepareRead(ctx, key, nil, false)
	}

	e, found := s.lookupLocked(key)

	return s.trait.PrepareRead(ctx, key, e, found)
}

// Get implements BlobStore.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.get(ctx, key)
}

// GetTyped implements BlobStore. Type tags are not enforced on read; see
// the MemoryStore doc comment and DESIGN.md.
func (s *MemoryStore) GetTyped(ctx context.Context, key, _ string) ([]byte, error) {
	return s.Get(ctx, key)
}

func (s *MemoryStore) getMany(ctx context.Context, keys []string, typeTag string) <-chan Result[KeyValue] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDisposed(); err != nil {
		return streamError[KeyValue](err)
	}

	_ = typeTag // the in-memory store does not gate GetMany by type, see GetTyped.

	values := make([]KeyValue, 0, len(keys))

	for _, k := range keys {
		e, found := s.lookupLocked(k)
		if !found {
			continue
		}

		values = append(values, KeyValue{Key: k, Value: e.Value})
	}

	return streamValues(values)
}

// GetMany implements BlobStore.
func (s *MemoryStore) GetMany(ctx context.Context, keys []string) <-chan Result[KeyValue] {
	return s.getMany(ctx, keys, "")
}

// GetManyTyped implements BlobStore.
func (s *MemoryStore) GetManyTyped(ctx context.Context, keys []string, typeTag string) <-chan Result[KeyValue] {
	return s.getMany(ctx, keys, typeTag)
}

// GetAll implements BlobStore.
func (s *MemoryStore) GetAll(ctx context.Context, typeTag string) <-chan Result[KeyValue] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDisposed(); err != nil {
		return streamError[KeyValue](err)
	}

	set := s.typeIndex[typeTag]
	values := make([]KeyValue, 0, len(set))

	for k := range set {
		e, found := s.lookupLocked(k)
		if !found {
			continue
		}

		values = append(values, KeyValue{Key: k, Value: e.Value})
	}

	return streamValues(values)
}

func (s *MemoryStore) getAllKeys(ctx context.Context, typeTag string) <-chan Result[string] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDisposed(); err != nil {
		return streamError[string](err)
	}

	var keys []string

	now := s.trait.Now()

	if typeTag == "" {
		keys = make([]string, 0, len(s.entries))

		for k, e := range s.entries {
			if !e.expired(now) {
				keys = append(keys, k)
			}
		}
	} else {
		set := s.typeIndex[typeTag]
		keys = make([]string, 0, len(set))

		for k := range set {
			if e, ok := s.entries[k]; ok && !e.expired(now) {
				keys = append(keys, k)
			}
		}
	}

	return streamValues(keys)
}

// GetAllKeys implements BlobStore.
func (s *MemoryStore) GetAllKeys(ctx context.Context) <-chan Result[string] {
	return s.getAllKeys(ctx, "")
}

// GetAllKeysTyped implements BlobStore.
func (s *MemoryStore) GetAllKeysTyped(ctx context.Context, typeTag string) <-chan Result[string] {
	return s.getAllKeys(ctx, typeTag)
}

func (s *MemoryStore) getCreatedAt(ctx context.Context, key string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDisposed(); err != nil {
		return nil, err
	}

	e, found := s.lookupLocked(key)
	if !found {
		return nil, nil //nolint:nilnil // absent key is a valid "no answer", not an error.
	}

	createdAt := e.CreatedAt

	return &createdAt, nil
}

// GetCreatedAt implements BlobStore.
func (s *MemoryStore) GetCreatedAt(ctx context.Context, key string) (*time.Time, error) {
	return s.getCreatedAt(ctx, key)
}

// GetCreatedAtTyped implements BlobStore.
func (s *MemoryStore) GetCreatedAtTyped(ctx context.Context, key, _ string) (*time.Time, error) {
	return s.getCreatedAt(ctx, key)
}

func (s *MemoryStore) updateExpiration(ctx context.Context, key string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDisposed(); err != nil {
		return err
	}

	e, found := s.lookupLocked(key)
	if !found {
		return newKeyNotFound(key)
	}

	e.ExpiresAt = expiresAt

	return nil
}

// UpdateExpiration implements BlobStore.
func (s *MemoryStore) UpdateExpiration(ctx context.Context, key string, expiresAt *time.Time) error {
	return s.updateExpiration(ctx, key, expiresAt)
}

// UpdateExpirationTyped implements BlobStore.
func (s *MemoryStore) UpdateExpirationTyped(ctx context.Context, key, _ string, expiresAt *time.Time) error {
	return s.updateExpiration(ctx, key, expiresAt)
}

func (s *MemoryStore) invalidate(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDisposed(); err != nil {
		return err
	}

	s.removeLocked(key)
	s.trait.NotifyDeleted(ctx, key)

	return nil
}

// Invalidate implements BlobStore.
func (s *MemoryStore) Invalidate(ctx context.Context, key string) error {
	return s.invalidate(ctx, key)
}

// InvalidateTyped implements BlobStore.
func (s *MemoryStore) InvalidateTyped(ctx context.Context, key, _ string) error {
	return s.invalidate(ctx, key)
}

func (s *MemoryStore) invalidateMany(ctx context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDisposed(); err != nil {
		return err
	}

	for _, k := range keys {
		s.removeLocked(k)
	}

	for _, k := range keys {
		s.trait.NotifyDeleted(ctx, k)
	}

	return nil
}

// InvalidateMany implements BlobStore.
func (s *MemoryStore) InvalidateMany(ctx context.Context, keys []string) error {
	return s.invalidateMany(ctx, keys)
}

// InvalidateManyTyped implements BlobStore.
func (s *MemoryStore) InvalidateManyTyped(ctx context.Context, keys []string, _ string) error {
	return s.invalidateMany(ctx, keys)
}

// InvalidateAll implements BlobStore.
func (s *MemoryStore) InvalidateAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDisposed(); err != nil {
		return err
	}

	start := s.trait.Now()
	cnt := len(s.entries)

	s.entries = make(map[string]*CacheEntry)
	s.typeIndex = make(map[string]map[string]struct{})

	s.trait.NotifyDeletedAll(ctx, start, cnt)

	return nil
}

// InvalidateAllTyped implements BlobStore.
func (s *MemoryStore) InvalidateAllTyped(ctx context.Context, typeTag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDisposed(); err != nil {
		return err
	}

	start := s.trait.Now()

	set := s.typeIndex[typeTag]
	cnt := len(set)

	for k := range set {
		delete(s.entries, k)
	}

	delete(s.typeIndex, typeTag)

	s.trait.NotifyDeletedAll(ctx, start, cnt)

	return nil
}

// Flush implements BlobStore: a no-op, the in-memory store is never
// buffered.
func (s *MemoryStore) Flush(ctx context.Context) error {
	return s.checkDisposedLocked()
}

// FlushTyped implements BlobStore.
func (s *MemoryStore) FlushTyped(ctx context.Context, _ string) error {
	return s.checkDisposedLocked()
}

func (s *MemoryStore) checkDisposedLocked() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.checkDisposed()
}

// Vacuum implements BlobStore.
func (s *MemoryStore) Vacuum(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDisposed(); err != nil {
		return err
	}

	start := s.trait.Now()
	now := s.trait.Now()
	cnt := 0

	for k, e := range s.entries {
		if e.expired(now) {
			s.removeLocked(k)

			cnt++
		}
	}

	s.trait.NotifyVacuum(ctx, start, cnt)

	return nil
}

// Close implements BlobStore. Idempotent.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return nil
	}

	s.disposed = true
	s.entries = make(map[string]*CacheEntry)
	s.typeIndex = make(map[string]map[string]struct{})
	s.trait.Dispose()

	return nil
}
