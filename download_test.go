package blobcache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHTTPService struct {
	status int
	body   string
	calls  int
	err    error
}

func (s *stubHTTPService) Do(req *http.Request) (*http.Response, error) {
	s.calls++

	if s.err != nil {
		return nil, s.err
	}

	return &http.Response{
		StatusCode: s.status,
		Body:       io.NopCloser(bytes.NewBufferString(s.body)),
		Header:     make(http.Header),
	}, nil
}

func TestDownloadURL_FetchesAndCaches(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithJanitorInterval(0))
	svc := &stubHTTPService{status: 200, body: "image-bytes"}

	data, err := DownloadURL(ctx, store, "k", "https://example.invalid/a.png", nil, WithHTTPService(svc))
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(data))
	assert.Equal(t, 1, svc.calls)

	cached, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(cached))
}

func TestDownloadURL_CacheHitSkipsNetwork(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithJanitorInterval(0))
	svc := &stubHTTPService{status: 200, body: "fresh"}

	require.NoError(t, store.Insert(ctx, "k", []byte("already-cached"), nil))

	data, err := DownloadURL(ctx, store, "k", "https://example.invalid/a.png", nil, WithHTTPService(svc))
	require.NoError(t, err)
	assert.Equal(t, "already-cached", string(data))
	assert.Equal(t, 0, svc.calls)
}

func TestDownloadURL_FetchAlwaysBypassesCache(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithJanitorInterval(0))
	svc := &stubHTTPService{status: 200, body: "fresh"}

	require.NoError(t, store.Insert(ctx, "k", []byte("stale"), nil))

	data, err := DownloadURL(ctx, store, "k", "https://example.invalid/a.png", nil, WithHTTPService(svc), WithFetchAlways(true))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
	assert.Equal(t, 1, svc.calls)
}

func TestDownloadURL_NonSuccessStatusIsHTTPFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithJanitorInterval(0))
	svc := &stubHTTPService{status: 404, body: "not found"}

	_, err := DownloadURL(ctx, store, "k", "https://example.invalid/missing.png", nil, WithHTTPService(svc))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHTTPFailure))
}

func TestDownloadURL_TransportErrorIsHTTPFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithJanitorInterval(0))
	svc := &stubHTTPService{err: errors.New("connection refused")}

	_, err := DownloadURL(ctx, store, "k", "https://example.invalid/a.png", nil, WithHTTPService(svc))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHTTPFailure))
}

func TestDownloadURL_NilStoreFailsBeforeNetwork(t *testing.T) {
	ctx := context.Background()
	svc := &stubHTTPService{status: 200, body: "x"}

	_, err := DownloadURL(ctx, nil, "k", "https://example.invalid/a.png", nil, WithHTTPService(svc))
	assert.ErrorIs(t, err, ErrArgumentNull)
	assert.Equal(t, 0, svc.calls)
}

func TestDownloadURL_EmptyKeyOrURLFailsBeforeNetwork(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(WithJanitorInterval(0))
	svc := &stubHTTPService{status: 200, body: "x"}

	_, err := DownloadURL(ctx, store, "", "https://example.invalid/a.png", nil, WithHTTPService(svc))
	assert.ErrorIs(t, err, ErrArgumentNull)

	_, err = DownloadURL(ctx, store, "k", "", nil, WithHTTPService(svc))
	assert.ErrorIs(t, err, ErrArgumentNull)

	assert.Equal(t, 0, svc.calls)
}
