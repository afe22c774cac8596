package nic

import "github.com/thushan/oxide/internal/adapter/kni"

// ControlRing is the default kni.ControlRing implementation: a bounded,
// non-blocking queue of pending Linux-side requests, fed by whatever watches
// the kernel interface (netlink subscriber, test harness) and drained by the
// KNI-owning pipeline's handler on every tick.
type ControlRing struct {
	pending chan kni.Request
}

// NewControlRing allocates a control ring with the given buffer depth.
func NewControlRing(depth int) *ControlRing {
	return &ControlRing{pending: make(chan kni.Request, depth)}
}

// Enqueue submits a control request for the next Drain call; it never
// blocks, dropping the request if the ring is full.
func (c *ControlRing) Enqueue(req kni.Request) bool {
	select {
	case c.pending <- req:
		return true
	default:
		return false
	}
}

// Drain implements kni.ControlRing.
func (c *ControlRing) Drain(max int) []kni.Request {
	reqs := make([]kni.Request, 0, max)
	for i := 0; i < max; i++ {
		select {
		case req := <-c.pending:
			reqs = append(reqs, req)
		default:
			return reqs
		}
	}
	return reqs
}

// Respond implements kni.ControlRing; the default ring has no reverse
// channel back to Linux, so it is log-only via the caller.
func (c *ControlRing) Respond(req kni.Request, result error) {}
