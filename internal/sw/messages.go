package sw

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/JSH-Team/vidcache/internal/protocol"
	"github.com/JSH-Team/vidcache/internal/storage"
	"github.com/JSH-Team/vidcache/internal/utils/fetch"
	"github.com/JSH-Team/vidcache/internal/utils/logger"
	urlutils "github.com/JSH-Team/vidcache/internal/utils/url"
)

// HandleMessage answers one page request.
func (w *Worker) HandleMessage(ctx context.Context, req protocol.Request) protocol.Reply {
	switch r := req.(type) {
	case protocol.CacheVideo:
		return protocol.SuccessReply(w.cacheVideo(ctx, r.URL))
	case protocol.RemoveVideoCache:
		return protocol.SuccessReply(w.removeVideo(ctx, r.URL))
	case protocol.GetCachedVideos:
		return protocol.VideosReply(w.cachedVideos(ctx))
	default:
		logger.Error("Worker %s received unsupported message %T", w.version, req)
		return protocol.DefaultReply(req)
	}
}

// cacheVideo downloads the whole video, bypassing any stored copy, and
// keeps it only when the origin answers 200.
func (w *Worker) cacheVideo(ctx context.Context, rawURL string) bool {
	key, err := urlutils.CacheKey(rawURL)
	if err != nil {
		logger.Error("Failed to cache video: %v", err)
		return false
	}

	req, err := fetch.NewFreshRequest(ctx, key)
	if err != nil {
		logger.Error("Failed to cache video %s: %v", key, err)
		return false
	}

	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		logger.Error("Failed to cache video %s: %v", key, err)
		return false
	}

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		logger.Warn("Not caching video %s: origin answered %d", key, resp.StatusCode)
		return false
	}

	captured, err := storage.Capture(key, resp, w.maxEntryBytes)
	if errors.Is(err, storage.ErrBodyTooLarge) {
		resp.Body.Close()
		logger.Warn("Not caching video %s: %v", key, err)
		return false
	}
	if err != nil {
		logger.Error("Failed to cache video %s: %v", key, err)
		return false
	}

	return w.put(ctx, w.generations.Video, key, captured)
}

func (w *Worker) removeVideo(ctx context.Context, rawURL string) bool {
	key, err := urlutils.CacheKey(rawURL)
	if err != nil {
		logger.Error("Failed to remove video from cache: %v", err)
		return false
	}

	cache, err := w.storage.Open(ctx, w.generations.Video)
	if err != nil {
		logger.Error("Failed to remove video from cache: %v", err)
		return false
	}

	deleted, err := cache.Delete(ctx, key)
	if err != nil {
		logger.Error("Failed to remove video from cache: %v", err)
		return false
	}
	return deleted
}

func (w *Worker) cachedVideos(ctx context.Context) []string {
	cache, err := w.storage.Open(ctx, w.generations.Video)
	if err != nil {
		logger.Error("Failed to get cached videos: %v", err)
		return []string{}
	}

	keys, err := cache.Keys(ctx)
	if err != nil {
		logger.Error("Failed to get cached videos: %v", err)
		return []string{}
	}
	return keys
}
