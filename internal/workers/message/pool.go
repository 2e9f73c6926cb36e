package message

import (
	"context"
	"errors"
	"fmt"

	"github.com/JSH-Team/vidcache/internal/protocol"
)

var (
	ErrPoolNotRunning = errors.New("message worker pool is not running")
	ErrQueueFull      = errors.New("message queue is full")
)

// NewMessageWorkerPool creates a new message worker pool
func NewMessageWorkerPool(name string, handler Handler, maxWorkers int, queueSize int) *MessageWorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &MessageWorkerPool{
		name:      name,
		workers:   maxWorkers,
		handler:   handler,
		jobQueue:  make(chan MessageJob, queueSize),
		ctx:       ctx,
		cancel:    cancel,
		isRunning: false,
	}
}

// Start initializes and starts the message worker pool
func (p *MessageWorkerPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isRunning {
		return fmt.Errorf("message worker pool %s is already running", p.name)
	}
	if p.ctx.Err() != nil {
		return fmt.Errorf("message worker pool %s was stopped", p.name)
	}

	// Start worker goroutines
	for i := 0; i < p.workers; i++ {
		p.workerWg.Add(1)
		go p.worker(i)
	}

	p.isRunning = true
	return nil
}

// Stop closes the queue and waits for the workers to answer every message
// already accepted. Replies are still posted to their ports.
func (p *MessageWorkerPool) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isRunning {
		return nil
	}

	// Close job queue to prevent new jobs
	close(p.jobQueue)

	// Wait for all workers to drain the queue
	p.workerWg.Wait()

	// Cancel context to release anything still holding it
	p.cancel()

	p.isRunning = false
	return nil
}

// IsRunning returns whether the worker pool is currently running
func (p *MessageWorkerPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isRunning
}

// GetQueueSize returns the current number of messages in the queue
func (p *MessageWorkerPool) GetQueueSize() int {
	return len(p.jobQueue)
}

// SubmitMessage enqueues msg without blocking.
func (p *MessageWorkerPool) SubmitMessage(msg protocol.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.isRunning {
		return ErrPoolNotRunning
	}

	select {
	case p.jobQueue <- MessageJob{Message: msg}:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, p.name)
	}
}

// worker is the main worker function that processes messages
func (p *MessageWorkerPool) worker(workerID int) {
	defer p.workerWg.Done()

	for job := range p.jobQueue {
		p.processJob(workerID, job)
	}
}
