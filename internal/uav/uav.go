// Package uav is a small illustrative domain extension shipped with
// flockhubd to demonstrate how a real handler set drives the hub's rate
// limiters and handler registry: UAV telemetry batching and connection-
// state reporting. It is example wiring, not part of the hub's contract.
package uav

import (
	"context"
	"fmt"
	"time"

	"github.com/v-Sharan/skybrush-server/internal/envelope"
	"github.com/v-Sharan/skybrush-server/internal/handler"
	"github.com/v-Sharan/skybrush-server/internal/hub"
	"github.com/v-Sharan/skybrush-server/internal/ratelimit"
)

// uavBatchLimiterName is the name the UAV telemetry limiter is registered
// under in the hub's rate-limiter registry.
const uavBatchLimiterName = "uav-inf"

// connStateLimiterName is the name the connection-state limiter is
// registered under in the hub's rate-limiter registry.
const connStateLimiterName = "conn-state"

// Register wires the UAV telemetry batching limiter and the connection-
// state limiter into h, and installs a SYS-VER handler purely to give the
// demo binary something to answer besides telemetry. It must be called
// before h.Run starts (rate limiter registration is forbidden afterward).
// batchDelay and settleWindow of zero fall back to the limiters' own
// 100ms defaults.
func Register(h *hub.Hub, batchDelay, settleWindow time.Duration) error {
	batcher := ratelimit.NewGenericBatchingLimiter(uavBatchLimiterName, uavTelemetryFactory, h, nil, batchDelay)
	if err := h.RateLimiters().Register(uavBatchLimiterName, batcher); err != nil {
		return fmt.Errorf("uav: registering %s: %w", uavBatchLimiterName, err)
	}

	connLimiter := ratelimit.NewConnectionStateLimiter(connStateLimiterName, connStateFactory, h, nil, settleWindow)
	if err := h.RateLimiters().Register(connStateLimiterName, connLimiter); err != nil {
		return fmt.Errorf("uav: registering %s: %w", connStateLimiterName, err)
	}

	h.Handlers().Register(sysVerHandler, "SYS-VER")
	return nil
}

// ReportTelemetry is called by a transport or domain producer whenever a
// UAV reports its status; it feeds the batching limiter rather than
// enqueuing a notification directly, so bursts from many UAVs coalesce
// into one UAV-INF envelope per batch window.
func ReportTelemetry(h *hub.Hub, uavID string) {
	h.RateLimiters().RequestToSend(uavBatchLimiterName, []string{uavID})
}

// ReportConnectionTransition feeds one change of a connection's lifecycle
// state into the connection-state limiter so flapping through a
// transitioning state doesn't spam CONN-INF. The TCP and WebSocket
// listeners in package transport do not call it.
func ReportConnectionTransition(h *hub.Hub, connID string, oldState, newState ratelimit.State) {
	h.RateLimiters().RequestToSend(connStateLimiterName, connID, oldState, newState)
}

func uavTelemetryFactory(ids []string) (*envelope.Envelope, error) {
	body := envelope.Body{"type": "UAV-INF", "ids": ids}
	return envelope.NewNotification(body), nil
}

func connStateFactory(connID string, state ratelimit.State) (*envelope.Envelope, error) {
	body := envelope.Body{"type": "CONN-INF", "id": connID, "state": string(state)}
	return envelope.NewNotification(body), nil
}

// sysVerHandler answers SYS-VER with a fixed version body, the canonical
// "dict-return handler" example from the testable-properties scenarios.
func sysVerHandler(ctx context.Context, env *envelope.Envelope, sender handler.Sender, d handler.Dispatcher) (handler.Result, error) {
	return handler.BodyResult(envelope.Body{"version": "1.0"}), nil
}
