package message

import (
	"context"
	"sync"

	"github.com/JSH-Team/vidcache/internal/protocol"
)

// Handler answers one protocol request.
type Handler interface {
	HandleMessage(ctx context.Context, req protocol.Request) protocol.Reply
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req protocol.Request) protocol.Reply

func (f HandlerFunc) HandleMessage(ctx context.Context, req protocol.Request) protocol.Reply {
	return f(ctx, req)
}

// MessageJob represents a message waiting for a worker
type MessageJob struct {
	Message protocol.Message
}

// MessageWorkerPool manages a pool of workers answering protocol messages
type MessageWorkerPool struct {
	name      string
	workers   int
	handler   Handler
	jobQueue  chan MessageJob
	workerWg  sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool
	mu        sync.RWMutex
}
