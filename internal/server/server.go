// Package server hosts the caching worker in front of the video library
// origin and serves its registration script endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/JSH-Team/vidcache/internal/config"
	"github.com/JSH-Team/vidcache/internal/storage"
	"github.com/JSH-Team/vidcache/internal/sw"
	"github.com/JSH-Team/vidcache/internal/utils/fetch"
	"github.com/JSH-Team/vidcache/internal/utils/logger"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	store     *storage.Store
	container *sw.Container
	http      *http.Server
}

// New opens the cache store and registers the worker for config.Origin. A
// failed registration leaves the server running as a plain proxy.
func New(ctx context.Context) (*Server, error) {
	if config.Origin == "" {
		return nil, errors.New("origin is required")
	}

	store, err := storage.NewStore(config.GetIndexPath(), config.GetBlobsPath())
	if err != nil {
		return nil, err
	}

	fetcher := fetch.NewNetworkFetcher(fetch.Options{
		Timeout:           config.FetchTimeout,
		RequestsPerSecond: config.RequestsPerSecond,
	})

	container, err := sw.NewContainer(config.Origin, sw.Options{
		Version:               config.CacheVersion,
		Fetcher:               fetcher,
		Storage:               store,
		VideoExtensions:       config.VideoExtensions,
		StaticExtensions:      config.StaticExtensions,
		MaxEntryBytes:         config.MaxEntryBytes,
		MaxConcurrentMessages: config.MaxConcurrentMessages,
		MessageQueueSize:      config.MessageQueueSize,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	if _, err := container.Register(ctx, sw.ScriptPath, sw.RootScope); err != nil {
		logger.Error("Worker registration failed, serving without offline support: %v", err)
	}

	return &Server{
		store:     store,
		container: container,
		http: &http.Server{
			Handler:           sw.NewHandler(container, fetcher, config.CacheVideoTimeout),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func (s *Server) Container() *sw.Container {
	return s.container
}

// Run listens on config.ListenAddr until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", config.ListenAddr)
	if err != nil {
		s.close()
		return fmt.Errorf("failed to listen on %s: %w", config.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve answers requests on ln until ctx is cancelled, then drains open
// requests and the worker's accepted messages before closing the store.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	logger.Info("Serving %s on http://%s", config.Origin, ln.Addr())

	var serveErr error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.http.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down HTTP server: %v", err)
		}
		<-errCh
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	s.close()
	return serveErr
}

func (s *Server) close() {
	if err := s.container.Close(); err != nil {
		logger.Error("Error retiring worker: %v", err)
	}
	if err := s.store.Close(); err != nil {
		logger.Error("Error closing cache store: %v", err)
	}
}

// RunServer serves until ctx is cancelled.
func RunServer(ctx context.Context) error {
	s, err := New(ctx)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}
