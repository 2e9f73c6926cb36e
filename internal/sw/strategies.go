package sw

import (
	"context"
	"errors"
	"net/http"

	"github.com/JSH-Team/vidcache/internal/storage"
	"github.com/JSH-Team/vidcache/internal/utils/logger"
	urlutils "github.com/JSH-Team/vidcache/internal/utils/url"
)

// Fetch answers an intercepted request. Requests the worker does not
// intercept, and video range requests, go to the network untouched; their
// network errors are returned as-is. The caching strategies never return an
// error: they degrade to the cache and then to the offline document.
func (w *Worker) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	route := Classify(req, w.rules)

	switch route.Strategy {
	case StrategyNetworkFirst:
		return w.networkFirst(ctx, req, route.Generation), nil
	case StrategyCacheFirst:
		return w.cacheFirst(ctx, req, route.Generation), nil
	default:
		return w.fetcher.Fetch(ctx, req)
	}
}

func (w *Worker) networkFirst(ctx context.Context, req *http.Request, generation string) *http.Response {
	key, err := urlutils.CacheKey(req.URL.String())
	if err != nil {
		logger.Warn("Cannot derive cache key for %s: %v", req.URL, err)
		key = req.URL.String()
	}

	if resp, ok := w.fromNetwork(ctx, req, key, generation); ok {
		return resp
	}

	if cached := w.match(ctx, generation, key); cached != nil {
		return cached.HTTPResponse(req)
	}

	return OfflineResponse(req)
}

func (w *Worker) cacheFirst(ctx context.Context, req *http.Request, generation string) *http.Response {
	key, err := urlutils.CacheKey(req.URL.String())
	if err != nil {
		logger.Warn("Cannot derive cache key for %s: %v", req.URL, err)
		key = req.URL.String()
	}

	if cached := w.match(ctx, generation, key); cached != nil {
		return cached.HTTPResponse(req)
	}

	if resp, ok := w.fromNetwork(ctx, req, key, generation); ok {
		return resp
	}

	return OfflineResponse(req)
}

// fromNetwork fetches req and stores complete responses in generation. ok
// is false when the network could not produce a whole response.
func (w *Worker) fromNetwork(ctx context.Context, req *http.Request, key, generation string) (*http.Response, bool) {
	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		logger.Debug("Network unavailable for %s: %v", req.URL, err)
		return nil, false
	}

	if resp.StatusCode != http.StatusOK {
		return resp, true
	}

	captured, err := storage.Capture(key, resp, w.maxEntryBytes)
	if errors.Is(err, storage.ErrBodyTooLarge) {
		logger.Debug("Not caching %s: %v", req.URL, err)
		return resp, true
	}
	if err != nil {
		logger.Debug("Network dropped %s mid-body: %v", req.URL, err)
		return nil, false
	}

	w.put(ctx, generation, key, captured)

	return captured.HTTPResponse(req), true
}

// put stores resp; failures are logged and never reach the caller.
func (w *Worker) put(ctx context.Context, generation, key string, resp *storage.Response) bool {
	cache, err := w.storage.Open(ctx, generation)
	if err != nil {
		logger.Error("Failed to open cache %s: %v", generation, err)
		return false
	}
	if err := cache.Put(ctx, key, resp); err != nil {
		logger.Error("Failed to cache %s in %s: %v", key, generation, err)
		return false
	}
	return true
}

// match returns the cached entry for key or nil; store failures count as a miss.
func (w *Worker) match(ctx context.Context, generation, key string) *storage.Response {
	cache, err := w.storage.Open(ctx, generation)
	if err != nil {
		logger.Error("Failed to open cache %s: %v", generation, err)
		return nil
	}
	cached, err := cache.Match(ctx, key)
	if err != nil {
		logger.Error("Failed to match %s in %s: %v", key, generation, err)
		return nil
	}
	return cached
}
