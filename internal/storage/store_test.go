package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "index.db"), filepath.Join(dir, "blobs"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func okResponse(url, body string) *Response {
	return &Response{
		URL:    url,
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"video/mp4"}},
		Body:   []byte(body),
	}
}

func TestPutMatchRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	cache, err := store.Open(ctx, "videos-v1")
	require.NoError(t, err)

	url := "http://videos.local/a.mp4"
	require.NoError(t, cache.Put(ctx, url, okResponse(url, "frames")))

	got, err := cache.Match(ctx, url)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, http.StatusOK, got.Status)
	assert.Equal(t, "frames", string(got.Body))
	assert.Equal(t, "video/mp4", got.Header.Get("Content-Type"))
	assert.False(t, got.StoredAt.IsZero())
}

func TestMatchMissingReturnsNil(t *testing.T) {
	ctx := context.Background()
	cache, err := newTestStore(t).Open(ctx, "static-v1")
	require.NoError(t, err)

	got, err := cache.Match(ctx, "http://videos.local/missing.css")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPutRefusesIncompleteResponses(t *testing.T) {
	ctx := context.Background()
	cache, err := newTestStore(t).Open(ctx, "videos-v1")
	require.NoError(t, err)

	url := "http://videos.local/a.mp4"
	for _, status := range []int{http.StatusPartialContent, http.StatusNotFound, http.StatusInternalServerError} {
		resp := okResponse(url, "part")
		resp.Status = status

		err := cache.Put(ctx, url, resp)
		assert.True(t, errors.Is(err, ErrIncompleteResponse), "status %d", status)
	}
	assert.True(t, errors.Is(cache.Put(ctx, url, nil), ErrIncompleteResponse))

	keys, err := cache.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPutOverwritesSameURL(t *testing.T) {
	ctx := context.Background()
	cache, err := newTestStore(t).Open(ctx, "videos-v1")
	require.NoError(t, err)

	url := "http://videos.local/a.mp4"
	require.NoError(t, cache.Put(ctx, url, okResponse(url, "first")))
	require.NoError(t, cache.Put(ctx, url, okResponse(url, "second")))

	keys, err := cache.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{url}, keys)

	got, err := cache.Match(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got.Body))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	cache, err := newTestStore(t).Open(ctx, "videos-v1")
	require.NoError(t, err)

	url := "http://videos.local/a.mp4"
	require.NoError(t, cache.Put(ctx, url, okResponse(url, "frames")))

	deleted, err := cache.Delete(ctx, url)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = cache.Delete(ctx, url)
	require.NoError(t, err)
	assert.False(t, deleted)

	got, err := cache.Match(ctx, url)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestKeysKeepInsertionOrderAndGenerationIsolation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	videos, err := store.Open(ctx, "videos-v1")
	require.NoError(t, err)
	static, err := store.Open(ctx, "static-v1")
	require.NoError(t, err)

	urls := []string{"http://v.local/c.mp4", "http://v.local/a.mp4", "http://v.local/b.mp4"}
	for _, u := range urls {
		require.NoError(t, videos.Put(ctx, u, okResponse(u, u)))
	}
	require.NoError(t, static.Put(ctx, "http://v.local/app.css", okResponse("http://v.local/app.css", "body{}")))

	keys, err := videos.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, urls, keys)

	got, err := static.Match(ctx, urls[0])
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGenerationsAndDeleteGeneration(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	old, err := store.Open(ctx, "videos-v0")
	require.NoError(t, err)
	require.NoError(t, old.Put(ctx, "http://v.local/a.mp4", okResponse("http://v.local/a.mp4", "old")))
	_, err = store.Open(ctx, "videos-v1")
	require.NoError(t, err)

	names, err := store.Generations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"videos-v0", "videos-v1"}, names)

	existed, err := store.DeleteGeneration(ctx, "videos-v0")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = store.DeleteGeneration(ctx, "videos-v0")
	require.NoError(t, err)
	assert.False(t, existed)

	names, err = store.Generations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"videos-v1"}, names)

	reopened, err := store.Open(ctx, "videos-v0")
	require.NoError(t, err)
	keys, err := reopened.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	videos, err := store.Open(ctx, "videos-v1")
	require.NoError(t, err)
	require.NoError(t, videos.Put(ctx, "http://v.local/a.mp4", okResponse("http://v.local/a.mp4", "12345")))
	require.NoError(t, videos.Put(ctx, "http://v.local/b.mp4", okResponse("http://v.local/b.mp4", "123")))
	_, err = store.Open(ctx, "static-v1")
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []GenerationStats{
		{Name: "static-v1", Entries: 0, Bytes: 0},
		{Name: "videos-v1", Entries: 2, Bytes: 8},
	}, stats)
}

func TestInvalidGenerationName(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, name := range []string{"", "..", "a/b"} {
		_, err := store.Open(ctx, name)
		assert.True(t, errors.Is(err, ErrInvalidName), name)
	}
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	cache, err := store.Open(ctx, "videos-v1")
	require.NoError(t, err)

	require.NoError(t, store.Close())

	_, err = cache.Keys(ctx)
	assert.True(t, errors.Is(err, ErrStoreClosed))
	err = cache.Put(ctx, "http://v.local/a.mp4", okResponse("http://v.local/a.mp4", "x"))
	assert.True(t, errors.Is(err, ErrStoreClosed))
	_, err = store.Generations(ctx)
	assert.True(t, errors.Is(err, ErrStoreClosed))
}

func TestConcurrentPutsSameURLLeaveOneEntry(t *testing.T) {
	ctx := context.Background()
	cache, err := newTestStore(t).Open(ctx, "videos-v1")
	require.NoError(t, err)

	url := "http://videos.local/a.mp4"
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, cache.Put(ctx, url, okResponse(url, fmt.Sprintf("body-%d", i))))
		}(i)
	}
	wg.Wait()

	keys, err := cache.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{url}, keys)

	got, err := cache.Match(ctx, url)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, strings.HasPrefix(string(got.Body), "body-"))
}

func TestCaptureAndHTTPResponse(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/css"}},
		Body:       io.NopCloser(strings.NewReader("body{}")),
	}

	captured, err := Capture("http://v.local/app.css", resp, 0)
	require.NoError(t, err)
	assert.True(t, captured.Complete())

	req, err := http.NewRequest(http.MethodGet, "http://v.local/app.css", nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		out := captured.HTTPResponse(req)
		body, err := io.ReadAll(out.Body)
		require.NoError(t, err)
		assert.Equal(t, "body{}", string(body))
		assert.Equal(t, "6", out.Header.Get("Content-Length"))
		assert.Equal(t, int64(6), out.ContentLength)
	}
}

func TestCaptureLimit(t *testing.T) {
	newResp := func(body string, length int64) *http.Response {
		return &http.Response{
			StatusCode:    http.StatusOK,
			ContentLength: length,
			Body:          io.NopCloser(strings.NewReader(body)),
		}
	}

	captured, err := Capture("http://v.local/a.mp4", newResp("frames", -1), 6)
	require.NoError(t, err)
	assert.Equal(t, "frames", string(captured.Body))

	// Over the limit the caller still gets the whole stream.
	resp := newResp("frames-a", -1)
	_, err = Capture("http://v.local/a.mp4", resp, 6)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "frames-a", string(body))

	resp = newResp("frames-a", 8)
	_, err = Capture("http://v.local/a.mp4", resp, 6)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "frames-a", string(body))
}

func TestMatchDropsEntryWhoseBodyVanished(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	cache, err := store.Open(ctx, "videos-v1")
	require.NoError(t, err)

	url := "http://videos.local/a.mp4"
	require.NoError(t, cache.Put(ctx, url, okResponse(url, "frames")))

	// Simulates a generation delete that removed the body under a racing put.
	errs := store.blobs.DeletePrefix("videos-v1/")
	require.Empty(t, errs)

	got, err := cache.Match(ctx, url)
	require.NoError(t, err)
	assert.Nil(t, got)

	keys, err := cache.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDropOrphanKeepsReplacedEntry(t *testing.T) {
	ctx := context.Background()
	cache, err := newTestStore(t).Open(ctx, "videos-v1")
	require.NoError(t, err)

	url := "http://videos.local/a.mp4"
	require.NoError(t, cache.Put(ctx, url, okResponse(url, "frames")))

	assert.False(t, cache.dropOrphan(ctx, url, "videos-v1/stale/key"))

	got, err := cache.Match(ctx, url)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "frames", string(got.Body))
}
