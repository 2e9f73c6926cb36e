// Package sw implements the caching fetch worker: request classification,
// the fetch strategies, the install/activate lifecycle and the handler for
// page messages.
package sw

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JSH-Team/vidcache/internal/protocol"
	"github.com/JSH-Team/vidcache/internal/storage"
	"github.com/JSH-Team/vidcache/internal/utils/fetch"
	"github.com/JSH-Team/vidcache/internal/utils/logger"
	"github.com/JSH-Team/vidcache/internal/workers/message"
)

var (
	ErrInvalidState = errors.New("invalid worker state transition")
	ErrNotActive    = errors.New("worker is not active")
)

type State int

const (
	StateInstalling State = iota
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CacheStorage is the subset of the cache store the worker relies on.
type CacheStorage interface {
	Open(ctx context.Context, name string) (*storage.Cache, error)
	Generations(ctx context.Context) ([]string, error)
	DeleteGeneration(ctx context.Context, name string) (bool, error)
}

// Clients is told when an activated worker takes control.
type Clients interface {
	Claim(w *Worker)
}

type Options struct {
	Version          string
	Fetcher          fetch.Fetcher
	Storage          CacheStorage
	VideoExtensions  []string
	StaticExtensions []string

	// MaxEntryBytes caps stored bodies; zero stores any size.
	MaxEntryBytes int64

	MaxConcurrentMessages int
	MessageQueueSize      int
}

type Worker struct {
	version     string
	generations Generations
	rules       Rules
	fetcher     fetch.Fetcher
	storage     CacheStorage
	messages    *message.MessageWorkerPool

	maxEntryBytes int64

	mu    sync.RWMutex
	state State
}

// New creates a worker in the installing state.
func New(opts Options) *Worker {
	generations := GenerationNames(opts.Version)

	w := &Worker{
		version:     opts.Version,
		generations: generations,
		rules: Rules{
			VideoExtensions:  opts.VideoExtensions,
			StaticExtensions: opts.StaticExtensions,
			Generations:      generations,
		},
		fetcher:       opts.Fetcher,
		storage:       opts.Storage,
		maxEntryBytes: opts.MaxEntryBytes,
		state:         StateInstalling,
	}
	w.messages = message.NewMessageWorkerPool("worker-"+opts.Version, w, opts.MaxConcurrentMessages, opts.MessageQueueSize)

	return w
}

func (w *Worker) Version() string {
	return w.version
}

func (w *Worker) Generations() Generations {
	return w.generations
}

func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) transition(from, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != from {
		return fmt.Errorf("%w: %s -> %s while %s", ErrInvalidState, from, to, w.state)
	}
	w.state = to
	return nil
}

// Install creates the current generations empty; nothing is pre-cached.
// The worker skips waiting and becomes eligible for activation immediately.
func (w *Worker) Install(ctx context.Context) error {
	for _, name := range w.generations.All() {
		if _, err := w.storage.Open(ctx, name); err != nil {
			logger.Warn("Worker %s could not create cache %s: %v", w.version, name, err)
		}
	}

	if err := w.transition(StateInstalling, StateInstalled); err != nil {
		return err
	}
	logger.Info("Worker %s installed", w.version)
	return nil
}

// Activate sweeps every generation that is not current, starts answering
// messages and claims the clients.
func (w *Worker) Activate(ctx context.Context, clients Clients) error {
	if err := w.transition(StateInstalled, StateActivating); err != nil {
		return err
	}

	if err := w.sweepGenerations(ctx); err != nil {
		// A failed sweep leaves stale data behind but never blocks activation.
		logger.Error("Worker %s failed to sweep stale generations: %v", w.version, err)
	}

	if err := w.messages.Start(); err != nil {
		return fmt.Errorf("failed to start message pool: %w", err)
	}

	if err := w.transition(StateActivating, StateActivated); err != nil {
		return err
	}

	if clients != nil {
		clients.Claim(w)
	}

	logger.Info("Worker %s activated", w.version)
	return nil
}

func (w *Worker) sweepGenerations(ctx context.Context) error {
	names, err := w.storage.Generations(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, name := range names {
		if w.generations.Has(name) {
			continue
		}
		if _, err := w.storage.DeleteGeneration(ctx, name); err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Info("Deleted stale cache generation %s", name)
	}
	return errors.Join(errs...)
}

// Retire marks the worker redundant and waits for every accepted message
// to be answered.
func (w *Worker) Retire() error {
	w.mu.Lock()
	w.state = StateRedundant
	w.mu.Unlock()

	return w.messages.Stop()
}

// PostMessage hands msg to the worker. The reply arrives on msg.Port.
func (w *Worker) PostMessage(msg protocol.Message) error {
	if w.State() != StateActivated {
		return ErrNotActive
	}
	return w.messages.SubmitMessage(msg)
}
