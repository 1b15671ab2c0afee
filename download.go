package blobcache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"
)

// HTTPService performs the actual network round trip behind
// DownloadURL (C9), isolated behind an interface so tests can substitute a
// fake transport without a listening socket.
type HTTPService interface {
	Do(req *http.Request) (*http.Response, error)
}

var (
	defaultHTTPServiceMu sync.RWMutex
	defaultHTTPService   HTTPService = &http.Client{Timeout: 30 * time.Second}
)

// SetDefaultHTTPService overrides the process-wide HTTPService used by
// DownloadURL when no explicit service is passed. Spec.md §9's redesign
// note replaces the source's ModernHttpClient static singleton with this
// explicit, swappable seam: production wires a real *http.Client once at
// startup, tests inject a stub.
func SetDefaultHTTPService(svc HTTPService) {
	defaultHTTPServiceMu.Lock()
	defer defaultHTTPServiceMu.Unlock()

	if svc == nil {
		svc = &http.Client{Timeout: 30 * time.Second}
	}

	defaultHTTPService = svc
}

func currentDefaultHTTPService() HTTPService {
	defaultHTTPServiceMu.RLock()
	defer defaultHTTPServiceMu.RUnlock()

	return defaultHTTPService
}

// DownloadOption configures DownloadURL.
type DownloadOption func(cfg *downloadConfig)

type downloadConfig struct {
	method      string
	headers     map[string]string
	fetchAlways bool
	service     HTTPService
}

// WithMethod sets the HTTP method; GET is the default.
func WithMethod(method string) DownloadOption {
	return func(cfg *downloadConfig) { cfg.method = method }
}

// WithHeaders attaches request headers.
func WithHeaders(headers map[string]string) DownloadOption {
	return func(cfg *downloadConfig) { cfg.headers = headers }
}

// WithFetchAlways forces a network round trip even when key is already
// cached, overwriting the cached bytes with the fresh response.
func WithFetchAlways(fetchAlways bool) DownloadOption {
	return func(cfg *downloadConfig) { cfg.fetchAlways = fetchAlways }
}

// WithHTTPService overrides the HTTPService used for this call only,
// instead of the process-wide default.
func WithHTTPService(svc HTTPService) DownloadOption {
	return func(cfg *downloadConfig) { cfg.service = svc }
}

// DownloadURL implements C9: a download-through-cache primitive. A cache
// hit (and fetchAlways false) returns the cached bytes without touching
// the network; otherwise url is fetched, the response body cached under
// key, and the bytes returned. A non-2xx response is reported as
// ErrHTTPFailure wrapping the status code (spec.md §7).
func DownloadURL(ctx context.Context, store BlobStore, key, url string, expiresAt *time.Time, opts ...DownloadOption) ([]byte, error) {
	if store == nil {
		return nil, newArgumentNull("store")
	}

	if key == "" {
		return nil, newArgumentNull("key")
	}

	if url == "" {
		return nil, newArgumentNull("url")
	}

	cfg := downloadConfig{method: http.MethodGet}
	for _, o := range opts {
		o(&cfg)
	}

	if !cfg.fetchAlways {
		if data, err := store.Get(ctx, key); err == nil {
			return data, nil
		} else if !errors.Is(err, ErrKeyNotFound) {
			return nil, err
		}
	}

	svc := cfg.service
	if svc == nil {
		svc = currentDefaultHTTPService()
	}

	req, err := http.NewRequestWithContext(ctx, cfg.method, url, nil)
	if err != nil {
		return nil, newHTTPError(url, 0, err)
	}

	for k, v := range cfg.headers {
		req.Header.Set(k, v)
	}

	resp, err := svc.Do(req)
	if err != nil {
		return nil, newHTTPError(url, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newHTTPError(url, resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newHTTPError(url, resp.StatusCode, nil)
	}

	if err := store.Insert(ctx, key, body, expiresAt); err != nil {
		return nil, err
	}

	return body, nil
}
