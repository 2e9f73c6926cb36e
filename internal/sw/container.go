package sw

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/JSH-Team/vidcache/internal/protocol"
	"github.com/JSH-Team/vidcache/internal/utils/logger"
)

const (
	ScriptPath = "/sw.js"
	RootScope  = "/"
)

var (
	ErrInvalidScript = errors.New("unsupported worker script")
	ErrInvalidScope  = errors.New("unsupported worker scope")
	ErrNotRegistered = errors.New("no worker registered")
)

// Registration holds the worker that controls the scope. The active worker
// changes when a newer version activates and claims it.
type Registration struct {
	scriptURL string
	scope     string

	mu     sync.RWMutex
	active *Worker
}

func (r *Registration) ScriptURL() string {
	return r.scriptURL
}

// Scope returns the absolute URL every relative page URL resolves against.
func (r *Registration) Scope() string {
	return r.scope
}

// Active returns the controlling worker, nil before the first activation.
func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Claim makes w the controlling worker.
func (r *Registration) Claim(w *Worker) {
	r.mu.Lock()
	r.active = w
	r.mu.Unlock()
	logger.Debug("Worker %s claimed %s", w.Version(), r.scope)
}

// PostMessage forwards msg to the controlling worker.
func (r *Registration) PostMessage(msg protocol.Message) error {
	w := r.Active()
	if w == nil {
		return ErrNotActive
	}
	return w.PostMessage(msg)
}

// Container owns the registration for one origin and installs worker versions into it.
type Container struct {
	origin *url.URL
	opts   Options

	// lifecycle serialises Register, Update and Close; mu only guards the
	// registration pointer so lookups never wait on an install.
	lifecycle    sync.Mutex
	mu           sync.RWMutex
	registration *Registration
}

// NewContainer prepares a container for origin. opts is the template for
// every worker it installs; its Version is used by the first registration.
func NewContainer(origin string, opts Options) (*Container, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin %q: %w", origin, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("invalid origin %q: must be an absolute URL", origin)
	}

	return &Container{
		origin: &url.URL{Scheme: u.Scheme, Host: u.Host},
		opts:   opts,
	}, nil
}

func (c *Container) Origin() *url.URL {
	u := *c.origin
	return &u
}

// Register installs and activates a worker for scope. Registering the same
// script again returns the existing registration.
func (c *Container) Register(ctx context.Context, scriptURL, scope string) (*Registration, error) {
	if scriptURL != ScriptPath {
		return nil, fmt.Errorf("%w: %s", ErrInvalidScript, scriptURL)
	}
	if scope != RootScope {
		return nil, fmt.Errorf("%w: %s", ErrInvalidScope, scope)
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if reg := c.Registration(); reg != nil {
		return reg, nil
	}

	reg := &Registration{
		scriptURL: scriptURL,
		scope:     c.origin.ResolveReference(&url.URL{Path: scope}).String(),
	}

	if _, err := c.install(ctx, reg, c.opts.Version); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.registration = reg
	c.mu.Unlock()
	logger.Info("Registered %s with scope %s", scriptURL, reg.scope)
	return reg, nil
}

// Registration returns the current registration or nil.
func (c *Container) Registration() *Registration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registration
}

// Update installs version as the new controlling worker. The previous worker
// becomes redundant once the new one has claimed the scope, after answering
// every message it had already accepted.
func (c *Container) Update(ctx context.Context, version string) (*Worker, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	reg := c.Registration()
	if reg == nil {
		return nil, ErrNotRegistered
	}

	// The previous worker keeps serving until w claims the registration.
	previous := reg.Active()
	w, err := c.install(ctx, reg, version)
	if err != nil {
		return nil, err
	}

	// Retiring waits for in-flight messages; the registration already
	// points at w so nothing new reaches previous.
	if previous != nil && previous != w {
		if err := previous.Retire(); err != nil {
			logger.Warn("Worker %s did not retire cleanly: %v", previous.Version(), err)
		}
	}
	return w, nil
}

func (c *Container) install(ctx context.Context, reg *Registration, version string) (*Worker, error) {
	opts := c.opts
	opts.Version = version

	w := New(opts)
	if err := w.Install(ctx); err != nil {
		return nil, fmt.Errorf("failed to install worker %s: %w", version, err)
	}
	if err := w.Activate(ctx, reg); err != nil {
		w.Retire()
		return nil, fmt.Errorf("failed to activate worker %s: %w", version, err)
	}
	return w, nil
}

// Close retires the controlling worker.
func (c *Container) Close() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	reg := c.Registration()
	if reg == nil {
		return nil
	}
	if w := reg.Active(); w != nil {
		return w.Retire()
	}
	return nil
}
