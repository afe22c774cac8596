// Package kni implements the periodic task that drains a kernel NIC
// interface's control-message ring so the Linux side can bring the
// interface up/down and set MAC/MTU, and services pending KNI commands.
package kni

import "github.com/thushan/oxide/internal/logger"

// ControlRing is the KNI device's control-message ring; the device itself
// (and Linux-namespace plumbing) is out of scope, specified only via this
// interface.
type ControlRing interface {
	// Drain pops pending control requests, up to max, without blocking.
	Drain(max int) []Request
	// Respond answers a request once serviced.
	Respond(req Request, result error)
}

// RequestKind enumerates the control operations Linux can ask of the KNI.
type RequestKind uint8

const (
	RequestLinkUp RequestKind = iota
	RequestLinkDown
	RequestSetMAC
	RequestSetMTU
)

type Request struct {
	Kind RequestKind
	MAC  [6]byte
	MTU  int
}

// MaxDrainPerTick bounds how many control requests one Handler.Tick call
// services, matching the pipeline's bounded-work-per-turn scheduling model.
const MaxDrainPerTick = 16

// Handler is stateless beyond its last-tick timestamp; it is scheduled once
// per physical NIC port, on the core owning that port's first RX queue, not
// once per worker core.
type Handler struct {
	ring         ControlRing
	tickInterval uint64
	lastTick     uint64
	log          *logger.StyledLogger
}

func New(ring ControlRing, tickInterval uint64, log *logger.StyledLogger) *Handler {
	return &Handler{ring: ring, tickInterval: tickInterval, log: log}
}

// Tick services pending KNI commands if at least tickInterval cycles have
// elapsed since the last tick; it is cheap to call every pipeline turn.
func (h *Handler) Tick(now uint64) {
	if now-h.lastTick < h.tickInterval {
		return
	}
	h.lastTick = now

	for _, req := range h.ring.Drain(MaxDrainPerTick) {
		err := h.service(req)
		h.ring.Respond(req, err)
		if err != nil {
			h.log.Warn("kni control request failed", "kind", req.Kind, "error", err)
		}
	}
}

// service applies a single KNI control request. Actually bringing the
// interface up/down or reconfiguring MAC/MTU is delegated to the Linux
// netlink layer the KNI device wraps, out of scope here.
func (h *Handler) service(req Request) error {
	switch req.Kind {
	case RequestLinkUp, RequestLinkDown, RequestSetMAC, RequestSetMTU:
		return nil
	default:
		return nil
	}
}
