package relay

import (
	"github.com/signalrelay/hub/internal/metrics"
)

// Router fans inbound frames out to the other members of the sender's
// room. It never blocks on a peer's I/O: enqueue is non-blocking, and
// the slow-consumer policy is to close the overflowing peer rather
// than stall or reorder delivery to everyone else.
type Router struct {
	registry *Registry
}

// NewRouter builds a Router over registry.
func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// Route delivers frame, received from sender in room code, to every
// other current member of that room. It does not parse frame.
func (r *Router) Route(code string, sender *Member, frame []byte) {
	r.registry.TouchedNow(code)

	members := r.registry.MembersOf(code)
	delivered := false
	for _, m := range members {
		if m == sender {
			continue
		}
		if m.enqueue(frame) {
			delivered = true
			continue
		}
		m.mu.Lock()
		alreadyClosed := m.closed
		m.mu.Unlock()
		if alreadyClosed {
			continue
		}
		// Outbound queue overflow: close the slow consumer rather than
		// block the router or silently reorder its stream. The close
		// itself writes to the socket, so it must not run on the
		// router's own (the sender's readPump) goroutine.
		metrics.SlowConsumerDisconnects.Inc()
		go m.closeWithError("slow_consumer", "outbound queue overflow")
	}
	if delivered {
		metrics.FramesRelayed.Inc()
	}
}
