package hub

import "github.com/v-Sharan/skybrush-server/internal/envelope"

// Acknowledge enqueues a success or failure acknowledgement for request,
// addressed back to sender. It is a thin convenience wrapper around
// envelope.Acknowledge + Enqueue for handlers and transport adapters that
// need to ack outside the normal WithBody/WithResponse handler return path.
func (h *Hub) Acknowledge(request *envelope.Envelope, senderID string, outcome bool, reason string) error {
	return h.Enqueue(envelope.Acknowledge(request, outcome, reason), senderID, nil)
}

// Stats summarizes hub state for operator introspection (§ SUPPLEMENTED
// FEATURES: health/liveness), not part of the correctness contract.
type Stats struct {
	QueueDepth    int
	QueueCapacity int
	ChannelTypes  []string
	LimiterNames  []string
}

// Stats returns a point-in-time snapshot of hub load.
func (h *Hub) Stats() Stats {
	return Stats{
		QueueDepth:    len(h.queue),
		QueueCapacity: cap(h.queue),
		ChannelTypes:  h.channelTypes.IDs(),
		LimiterNames:  h.limiters.Names(),
	}
}
