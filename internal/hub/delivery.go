package hub

import (
	"context"
	"errors"

	"github.com/v-Sharan/skybrush-server/internal/envelope"
)

// deliverUnicast implements spec §4.4: resolve the recipient, log, send,
// and interpret the sink's failure modes.
func (h *Hub) deliverUnicast(ctx context.Context, req sendRequest) {
	client, ok := h.clients.Lookup(req.to)
	if !ok {
		if _, already := h.warnedMissing.LoadOrStore(req.to, struct{}{}); !already {
			h.log.Warn("unicast send to unknown client %s dropped", req.to)
		}
		return
	}
	h.warnedMissing.Delete(req.to)

	h.log.Egress(req.env.ID, req.env.Body.Type(), h.semantics(req.env))

	err := client.Sink.Send(ctx, req.env)
	if err == nil {
		return
	}
	if errors.Is(err, ErrChannelClosed) {
		h.log.Warn("client %s disconnected, dropping %s", req.to, req.env.Body.Type())
		return
	}
	h.log.Error("send to client %s failed: %v", req.to, err)
}

// deliverBroadcast implements spec §4.5: evaluate the (cached) broadcast
// plan sequentially, absorbing closed-channel failures silently and
// counting any other failure for one aggregated summary log.
func (h *Hub) deliverBroadcast(ctx context.Context, req sendRequest) {
	plan := h.broadcastPlan()

	failures := 0
	for _, step := range plan {
		if err := step(ctx, req.env); err != nil {
			if errors.Is(err, ErrChannelClosed) {
				continue
			}
			failures++
		}
	}

	if failures > 0 {
		h.log.Error("broadcast of %s failed for %d recipient(s)", req.env.Body.Type(), failures)
	}
}

// invalidatePlan marks the broadcast plan stale; it is rebuilt lazily on
// the next broadcast.
func (h *Hub) invalidatePlan() {
	h.planMu.Lock()
	h.planValid = false
	h.plan = nil
	h.planMu.Unlock()
}

// broadcastPlan returns the cached plan, building it first if stale.
func (h *Hub) broadcastPlan() []broadcastStep {
	h.planMu.Lock()
	defer h.planMu.Unlock()

	if h.planValid {
		return h.plan
	}

	var plan []broadcastStep
	for _, ctID := range h.channelTypes.IDs() {
		ct, ok := h.channelTypes.Lookup(ctID)
		if !ok {
			continue
		}

		if ct.Broadcaster != nil && h.clients.HasClientsForChannelType(ctID) {
			broadcaster := ct.Broadcaster
			plan = append(plan, func(ctx context.Context, env *envelope.Envelope) error {
				return broadcaster(ctx, env)
			})
			continue
		}

		for _, clientID := range h.clients.ClientIDsForChannelType(ctID) {
			clientID := clientID
			plan = append(plan, func(ctx context.Context, env *envelope.Envelope) error {
				client, ok := h.clients.Lookup(clientID)
				if !ok {
					return nil
				}
				return client.Sink.Send(ctx, env)
			})
		}
	}

	h.plan = plan
	h.planValid = true
	return plan
}
