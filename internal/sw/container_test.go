package sw

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JSH-Team/vidcache/internal/protocol"
	"github.com/JSH-Team/vidcache/internal/storage"
	"github.com/JSH-Team/vidcache/internal/utils/fetch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContainer(t *testing.T, fetcher fetch.Fetcher) *Container {
	t.Helper()
	c, err := NewContainer(testOrigin, testOptions(newTestStore(t), fetcher))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewContainerRequiresAbsoluteOrigin(t *testing.T) {
	_, err := NewContainer("/relative", Options{})
	assert.Error(t, err)

	c, err := NewContainer("http://videos.local:3000/some/path?q=1", Options{})
	require.NoError(t, err)
	assert.Equal(t, "http://videos.local:3000", c.Origin().String())
}

func TestRegisterIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t, newFakeOrigin())

	assert.Nil(t, c.Registration())

	reg, err := c.Register(ctx, ScriptPath, RootScope)
	require.NoError(t, err)
	assert.Equal(t, testOrigin+"/", reg.Scope())
	require.NotNil(t, reg.Active())
	assert.Equal(t, StateActivated, reg.Active().State())

	again, err := c.Register(ctx, ScriptPath, RootScope)
	require.NoError(t, err)
	assert.Same(t, reg, again)
	assert.Same(t, reg.Active(), again.Active())
}

func TestRegisterRejectsOtherScripts(t *testing.T) {
	ctx := context.Background()
	c := newTestContainer(t, newFakeOrigin())

	_, err := c.Register(ctx, "/worker.js", RootScope)
	assert.True(t, errors.Is(err, ErrInvalidScript))

	_, err = c.Register(ctx, ScriptPath, "/videos/")
	assert.True(t, errors.Is(err, ErrInvalidScope))

	assert.Nil(t, c.Registration())
}

func TestUpdateBeforeRegister(t *testing.T) {
	c := newTestContainer(t, newFakeOrigin())
	_, err := c.Update(context.Background(), "v2")
	assert.True(t, errors.Is(err, ErrNotRegistered))
}

func TestUpdateClaimsAndSweeps(t *testing.T) {
	ctx := context.Background()
	origin := newFakeOrigin()
	c := newTestContainer(t, origin)

	reg, err := c.Register(ctx, ScriptPath, RootScope)
	require.NoError(t, err)
	old := reg.Active()

	port := protocol.NewPort()
	require.NoError(t, reg.PostMessage(protocol.Message{Request: protocol.CacheVideo{URL: testOrigin + "/videos/a.mp4"}, Port: port}))
	reply, ok := port.Await(ctx, protocol.CacheVideo{})
	require.True(t, ok)
	require.True(t, reply.Succeeded())

	w, err := c.Update(ctx, "v2")
	require.NoError(t, err)

	assert.Same(t, w, reg.Active())
	assert.Equal(t, "v2", w.Version())
	assert.Equal(t, StateRedundant, old.State())

	names, err := w.storage.Generations(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"static-v2", "videos-v2", "offline-video-v2"}, names)

	// The new generation starts empty.
	reply = post(t, w, protocol.GetCachedVideos{})
	assert.Empty(t, reply.CachedVideos())
}

func TestUpdateDeliversRepliesAcceptedByOldWorker(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	slow := fetch.FetcherFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		if req.Header.Get("Cache-Control") == "no-cache" {
			started <- struct{}{}
			<-release
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"video/mp4"}},
			Body:       io.NopCloser(strings.NewReader("frames")),
		}, nil
	})
	c := newTestContainer(t, slow)

	reg, err := c.Register(ctx, ScriptPath, RootScope)
	require.NoError(t, err)

	port := protocol.NewPort()
	require.NoError(t, reg.PostMessage(protocol.Message{Request: protocol.CacheVideo{URL: testOrigin + "/videos/a.mp4"}, Port: port}))
	<-started

	updated := make(chan error, 1)
	go func() {
		_, err := c.Update(ctx, "v2")
		updated <- err
	}()

	// The new worker takes over while the old one is still busy.
	require.Eventually(t, func() bool {
		w := reg.Active()
		return w != nil && w.Version() == "v2"
	}, 2*time.Second, 10*time.Millisecond)

	close(release)

	select {
	case reply := <-port:
		assert.True(t, reply.Succeeded())
	case <-time.After(5 * time.Second):
		t.Fatal("reply from retired worker was lost")
	}
	require.NoError(t, <-updated)
}

// gatedStorage holds the activation sweep until released.
type gatedStorage struct {
	*storage.Store
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStorage) Generations(ctx context.Context) ([]string, error) {
	if g.armed.Load() {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.Store.Generations(ctx)
}

func TestRegistrationStaysAvailableDuringUpdate(t *testing.T) {
	ctx := context.Background()
	gated := &gatedStorage{
		Store:   newTestStore(t),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	opts := testOptions(gated.Store, newFakeOrigin())
	opts.Storage = gated
	c, err := NewContainer(testOrigin, opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	reg, err := c.Register(ctx, ScriptPath, RootScope)
	require.NoError(t, err)

	gated.armed.Store(true)
	updated := make(chan error, 1)
	go func() {
		_, err := c.Update(ctx, "v2")
		updated <- err
	}()
	<-gated.entered

	looked := make(chan *Registration, 1)
	go func() { looked <- c.Registration() }()
	select {
	case got := <-looked:
		assert.Same(t, reg, got)
	case <-time.After(2 * time.Second):
		t.Fatal("Registration blocked behind the update")
	}

	// Requests keep reaching the previous worker until v2 claims.
	assert.Equal(t, "v1", reg.Active().Version())

	gated.armed.Store(false)
	close(gated.release)
	require.NoError(t, <-updated)
	assert.Equal(t, "v2", reg.Active().Version())
}
