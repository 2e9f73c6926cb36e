package message

import (
	"time"

	"github.com/JSH-Team/vidcache/internal/protocol"
	"github.com/JSH-Team/vidcache/internal/utils/logger"
)

// processJob answers a single message and posts the reply to its port
func (p *MessageWorkerPool) processJob(workerID int, job MessageJob) {
	startTime := time.Now()
	msg := job.Message

	reply := p.handleSafely(workerID, msg.Request)

	if msg.Port == nil {
		logger.Debug("Message worker %d: %s has no reply port, reply dropped", workerID, msg.Request.Type())
		return
	}
	if !msg.Port.Post(reply) {
		logger.Debug("Message worker %d: port for %s already answered", workerID, msg.Request.Type())
	}

	logger.Debug("Message worker %d answered %s in %v", workerID, msg.Request.Type(), time.Since(startTime))
}

// handleSafely keeps a panicking handler from taking the pool down; the
// caller then gets the default reply for its request.
func (p *MessageWorkerPool) handleSafely(workerID int, req protocol.Request) (reply protocol.Reply) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Message worker %d panicked on %s: %v", workerID, req.Type(), r)
			reply = protocol.DefaultReply(req)
		}
	}()

	return p.handler.HandleMessage(p.ctx, req)
}
