// Package offline is the page-side entry point to the caching worker. Every
// call resolves to a safe default instead of failing: false for mutations
// and an empty list for queries, whether the worker is missing, busy or late.
package offline

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/JSH-Team/vidcache/internal/config"
	"github.com/JSH-Team/vidcache/internal/protocol"
	"github.com/JSH-Team/vidcache/internal/utils/fetch"
	"github.com/JSH-Team/vidcache/internal/utils/logger"
	urlutils "github.com/JSH-Team/vidcache/internal/utils/url"
)

// Controller is the worker that currently controls the page.
type Controller interface {
	// PostMessage hands msg over; the reply arrives on msg.Port.
	PostMessage(msg protocol.Message) error
	// Scope is the absolute URL relative video URLs resolve against.
	Scope() string
}

// Registrar registers the worker script and returns its controller.
type Registrar interface {
	Register(ctx context.Context) (Controller, error)
}

// RegistrarFunc adapts a function to the Registrar interface.
type RegistrarFunc func(ctx context.Context) (Controller, error)

func (f RegistrarFunc) Register(ctx context.Context) (Controller, error) {
	return f(ctx)
}

type Options struct {
	// Zero values fall back to the configured timeouts at call time.
	CacheVideoTimeout time.Duration
	QueryTimeout      time.Duration

	// Fetcher loads pages for CachePage.
	Fetcher fetch.Fetcher
}

// Facade holds one page's registration.
type Facade struct {
	opts Options

	mu         sync.RWMutex
	controller Controller
}

func NewFacade(opts Options) *Facade {
	return &Facade{opts: opts}
}

// Register registers the worker and keeps its controller. It can be called
// any number of times; a failed attempt keeps the previous controller.
func (f *Facade) Register(ctx context.Context, registrar Registrar) bool {
	controller, err := registrar.Register(ctx)
	if err != nil {
		logger.Warn("Worker registration failed: %v", err)
		return false
	}

	f.mu.Lock()
	f.controller = controller
	f.mu.Unlock()

	logger.Debug("Worker registered with scope %s", controller.Scope())
	return true
}

// Registered reports whether a worker controls the page.
func (f *Facade) Registered() bool {
	return f.active() != nil
}

func (f *Facade) active() Controller {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.controller
}

// CacheVideo asks the worker to download url for offline use.
func (f *Facade) CacheVideo(ctx context.Context, url string) bool {
	controller := f.active()
	if controller == nil {
		return false
	}
	return f.call(ctx, controller, protocol.CacheVideo{URL: resolve(controller, url)}).Succeeded()
}

// UncacheVideo asks the worker to drop url.
func (f *Facade) UncacheVideo(ctx context.Context, url string) bool {
	controller := f.active()
	if controller == nil {
		return false
	}
	return f.call(ctx, controller, protocol.RemoveVideoCache{URL: resolve(controller, url)}).Succeeded()
}

// ListCachedVideos returns the URLs of every cached video.
func (f *Facade) ListCachedVideos(ctx context.Context) []string {
	controller := f.active()
	if controller == nil {
		return []string{}
	}
	return f.call(ctx, controller, protocol.GetCachedVideos{}).CachedVideos()
}

// IsCached reports whether url is among the cached videos.
func (f *Facade) IsCached(ctx context.Context, url string) bool {
	controller := f.active()
	if controller == nil {
		return false
	}
	return slices.Contains(f.ListCachedVideos(ctx), resolve(controller, url))
}

// call sends req on its own port and waits for the first of the reply, the
// call's deadline or ctx.
func (f *Facade) call(ctx context.Context, controller Controller, req protocol.Request) protocol.Reply {
	ctx, cancel := context.WithTimeout(ctx, f.timeout(req))
	defer cancel()

	port := protocol.NewPort()
	if err := controller.PostMessage(protocol.Message{Request: req, Port: port}); err != nil {
		logger.Warn("Failed to send %s: %v", req.Type(), err)
		return protocol.DefaultReply(req)
	}

	reply, ok := port.Await(ctx, req)
	if !ok {
		logger.Warn("%s got no reply: %v", req.Type(), ctx.Err())
	}
	return reply
}

func (f *Facade) timeout(req protocol.Request) time.Duration {
	if _, ok := req.(protocol.CacheVideo); ok {
		if f.opts.CacheVideoTimeout > 0 {
			return f.opts.CacheVideoTimeout
		}
		return config.CacheVideoTimeout
	}
	if f.opts.QueryTimeout > 0 {
		return f.opts.QueryTimeout
	}
	return config.QueryTimeout
}

// resolve turns url into the key the worker stores it under: absolute
// against the controller's scope, without a fragment.
func resolve(controller Controller, url string) string {
	absolute, err := urlutils.ToAbsoluteURL(controller.Scope(), url)
	if err != nil {
		logger.Debug("Cannot resolve %s: %v", url, err)
		return url
	}
	key, err := urlutils.CacheKey(absolute)
	if err != nil {
		return absolute
	}
	return key
}

func (f *Facade) fetcher() fetch.Fetcher {
	if f.opts.Fetcher != nil {
		return f.opts.Fetcher
	}
	return fetch.NewNetworkFetcher(fetch.Options{
		Timeout:           config.FetchTimeout,
		RequestsPerSecond: config.RequestsPerSecond,
	})
}

var defaultFacade = NewFacade(Options{})

// Register registers the process-wide page with registrar.
func Register(ctx context.Context, registrar Registrar) bool {
	return defaultFacade.Register(ctx, registrar)
}

func Registered() bool {
	return defaultFacade.Registered()
}

func CacheVideo(ctx context.Context, url string) bool {
	return defaultFacade.CacheVideo(ctx, url)
}

func UncacheVideo(ctx context.Context, url string) bool {
	return defaultFacade.UncacheVideo(ctx, url)
}

func ListCachedVideos(ctx context.Context) []string {
	return defaultFacade.ListCachedVideos(ctx)
}

func IsCached(ctx context.Context, url string) bool {
	return defaultFacade.IsCached(ctx, url)
}

func CachePage(ctx context.Context, pageURL string, progress func(PageVideo)) ([]PageVideo, error) {
	return defaultFacade.CachePage(ctx, pageURL, progress)
}
