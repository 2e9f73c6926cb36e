package protocol

import "context"

// Port is a dedicated reply channel for a single call. It is buffered so
// the worker never blocks on a caller that already gave up.
type Port chan Reply

func NewPort() Port {
	return make(Port, 1)
}

// Post delivers r without blocking. Only the first reply is kept.
func (p Port) Post(r Reply) bool {
	select {
	case p <- r:
		return true
	default:
		return false
	}
}

// Message pairs a request with the port its reply must be posted to.
type Message struct {
	Request Request
	Port    Port
}

// Await waits for the reply to req. When ctx ends first it returns the safe
// default for req and false; a reply posted afterwards is dropped with the port.
func (p Port) Await(ctx context.Context, req Request) (Reply, bool) {
	select {
	case reply := <-p:
		return reply, true
	case <-ctx.Done():
		return DefaultReply(req), false
	}
}
