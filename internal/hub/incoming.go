package hub

import (
	"context"
	"fmt"

	"github.com/v-Sharan/skybrush-server/internal/envelope"
	"github.com/v-Sharan/skybrush-server/internal/handler"
)

// noHandlerReason is the fixed ACK-NAK reason spec §4.6 step 6 mandates
// verbatim.
const noHandlerReason = "No handler managed to parse this message in the server"

// HandleIncoming implements the incoming pipeline (spec §4.6). raw is a
// decoded but unvalidated mapping; sender identifies the client that sent
// it. It returns whether the message was handled.
func (h *Hub) HandleIncoming(ctx context.Context, raw map[string]interface{}, sender handler.Sender) bool {
	env, err := envelope.FromRaw(raw)
	if err != nil {
		if id, _ := raw["id"].(string); id != "" {
			// A malformed request that at least carries an id gets a NAK;
			// build just enough of a request envelope to correlate it.
			pseudo := &envelope.Envelope{ID: id, Body: envelope.Body{}}
			nak := envelope.Acknowledge(pseudo, false, err.Error())
			if sendErr := h.Enqueue(nak, sender.ID, nil); sendErr != nil {
				h.log.Warn("failed to NAK invalid envelope from %s: %v", sender.ID, sendErr)
			}
		}
		return false
	}

	if _, hasError := raw["error"]; hasError {
		h.log.Warn("received error envelope %s from %s", env.ID, sender.ID)
		return true
	}

	h.log.Ingress(env.ID, env.Body.Type())

	handled := false
	for _, hd := range h.handlers.Snapshot(env.Body.Type()) {
		result, err := h.invokeHandler(ctx, hd, env, sender)
		if err != nil {
			h.log.Error("handler for %s failed: %v", env.Body.Type(), err)
			continue
		}

		switch result.Kind {
		case handler.Declined:
			continue
		case handler.Handled:
			handled = true
		case handler.WithBody:
			handled = true
			h.respondTo(env, sender, envelope.NewResponseTo(env, result.Body))
		case handler.WithResponse:
			handled = true
			if result.Response.CorrelationID != env.ID {
				h.log.Error("handler for %s returned a response correlated to the wrong request", env.Body.Type())
				continue
			}
			h.respondTo(env, sender, result.Response)
		}
	}

	if !handled {
		nak := envelope.Acknowledge(env, false, noHandlerReason)
		if err := h.Enqueue(nak, sender.ID, nil); err != nil {
			h.log.Warn("failed to enqueue unhandled-message NAK for %s: %v", env.ID, err)
		}
	}

	return handled
}

func (h *Hub) respondTo(_ *envelope.Envelope, sender handler.Sender, resp *envelope.Envelope) {
	if err := h.Enqueue(resp, sender.ID, nil); err != nil {
		h.log.Warn("failed to enqueue response %s to %s: %v", resp.ID, sender.ID, err)
	}
}

// invokeHandler calls hd, isolating both panics and ordinary errors so a
// single bad handler never stops the fan-in (spec §4.6 step 5).
func (h *Hub) invokeHandler(ctx context.Context, hd handler.Handler, env *envelope.Envelope, sender handler.Sender) (result handler.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			result = handler.DeclinedResult()
		}
	}()
	return hd(ctx, env, sender, h)
}
