package hub

import (
	"context"

	"github.com/v-Sharan/skybrush-server/internal/envelope"
	"github.com/v-Sharan/skybrush-server/internal/handler"
)

// IterItem is one (body, sender, responder) triple yielded by Iterate.
type IterItem struct {
	Body    envelope.Body
	Sender  handler.Sender
	Respond func(body envelope.Body) error
}

// Iterate installs a handler for the given types that pushes every
// matching incoming message onto a rendezvous channel (spec §4.7). The
// returned stop function uninstalls the handler and closes the channel;
// callers must call it exactly once when done consuming.
//
// The installed handler unconditionally reports itself as handled: a
// consumer using Iterate cannot decline a message back to other handlers,
// and the internal channel has no buffer, so a slow consumer back-pressures
// the incoming pipeline for these types until it reads the next item.
func (h *Hub) Iterate(types ...string) (<-chan IterItem, func()) {
	ch := make(chan IterItem) // rendezvous: capacity 0, by design

	push := func(pctx context.Context, env *envelope.Envelope, sender handler.Sender, d handler.Dispatcher) (handler.Result, error) {
		item := IterItem{
			Body:   env.Body,
			Sender: sender,
			Respond: func(body envelope.Body) error {
				resp := envelope.NewResponseTo(env, body)
				return d.Enqueue(resp, sender.ID, nil)
			},
		}
		select {
		case ch <- item:
		case <-pctx.Done():
		}
		return handler.HandledResult(), nil
	}

	release := h.handlers.Use(push, types...)
	stop := func() {
		release()
		close(ch)
	}

	return ch, stop
}
