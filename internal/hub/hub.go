// Package hub implements the Flockwave Message Hub: the central
// asynchronous mailbox described by the specification. It validates and
// dispatches incoming envelopes to registered handlers, enqueues outbound
// messages toward one client or all connected clients of a channel type,
// and drives the pluggable rate limiters that batch high-frequency
// telemetry.
//
// The hub never talks to a transport directly; it consumes already
// decoded envelopes and writes through the Sender interface on a
// registered client.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/v-Sharan/skybrush-server/internal/envelope"
	"github.com/v-Sharan/skybrush-server/internal/handler"
	"github.com/v-Sharan/skybrush-server/internal/logging"
	"github.com/v-Sharan/skybrush-server/internal/ratelimit"
	"github.com/v-Sharan/skybrush-server/internal/registry"
)

// outboundQueueCapacity is the design constant from spec §4.3.
const outboundQueueCapacity = 4096

// Sender is the client-facing sink: it either completes or fails with
// ErrChannelClosed (the client disconnected) or a generic transport error.
type Sender = registry.Sender

// ErrChannelClosed is returned by a Sender when its client has
// disconnected. Delivery code treats this as an expected, silent drop
// rather than a logged failure.
var ErrChannelClosed = errors.New("hub: channel closed")

// ErrQueueFull is returned by Enqueue when the outbound queue is at
// capacity; callers decide their own drop/log policy.
var ErrQueueFull = errors.New("hub: outbound queue full")

// ErrBroadcastNotAllowed is returned when a caller combines a broadcast
// (no recipient) with an in-response-to request, which spec §4.3 forbids.
var ErrBroadcastNotAllowed = errors.New("hub: a broadcast message cannot be sent in response to a request")

// ClientRegistry is the subset of the external client registry the hub
// consults. Implemented by *registry.ClientRegistry.
type ClientRegistry interface {
	Lookup(id string) (*registry.Client, bool)
	ClientIDsForChannelType(channelType string) []string
	HasClientsForChannelType(channelType string) bool
	Subscribe(onAdded, onRemoved func(*registry.Client)) func()
}

// ChannelTypeRegistry is the subset of the external channel-type registry
// the hub consults. Implemented by *registry.ChannelTypeRegistry.
type ChannelTypeRegistry interface {
	IDs() []string
	Lookup(id string) (*registry.ChannelType, bool)
	Subscribe(onAdded, onRemoved func(*registry.ChannelType)) func()
}

type sendRequest struct {
	env *envelope.Envelope
	to  string // "" means broadcast
}

type broadcastStep func(ctx context.Context, env *envelope.Envelope) error

// Hub is the central message hub. Construct with New, then run it with
// Run inside the server's lifetime.
type Hub struct {
	clients      ClientRegistry
	channelTypes ChannelTypeRegistry
	handlers     *handler.Registry
	limiters     *ratelimit.Registry
	log          *logging.Logger

	queue chan sendRequest

	planMu    sync.Mutex
	plan      []broadcastStep // valid only when planValid is true
	planValid bool

	unsubClients      func()
	unsubChannelTypes func()

	warnedMissing sync.Map // client id -> struct{}, de-dupes repeated lookup-miss warnings
}

// Option configures a Hub at construction time.
type Option func(*Hub)

// WithDebugLogging enables debug-level log output.
func WithDebugLogging(debug bool) Option {
	return func(h *Hub) { h.log = logging.New(debug) }
}

// WithQueueCapacity overrides the outbound queue's capacity (default 4096,
// spec §4.3). A non-positive value is ignored.
func WithQueueCapacity(capacity int) Option {
	return func(h *Hub) {
		if capacity > 0 {
			h.queue = make(chan sendRequest, capacity)
		}
	}
}

// New builds a Hub wired to the given registries. The hub subscribes to
// both registries' add/remove events to keep its broadcast plan cache
// coherent; call Close to unsubscribe deterministically.
func New(clients ClientRegistry, channelTypes ChannelTypeRegistry, opts ...Option) *Hub {
	h := &Hub{
		clients:      clients,
		channelTypes: channelTypes,
		handlers:     handler.NewRegistry(),
		limiters:     ratelimit.NewRegistry(),
		log:          logging.New(false),
		queue:        make(chan sendRequest, outboundQueueCapacity),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.unsubClients = clients.Subscribe(
		func(*registry.Client) { h.invalidatePlan() },
		func(*registry.Client) { h.invalidatePlan() },
	)
	h.unsubChannelTypes = channelTypes.Subscribe(
		func(*registry.ChannelType) { h.invalidatePlan() },
		func(*registry.ChannelType) { h.invalidatePlan() },
	)

	return h
}

// Handlers returns the hub's handler registry, for registering domain
// extension handlers.
func (h *Hub) Handlers() *handler.Registry { return h.handlers }

// RateLimiters returns the hub's rate-limiter registry, for registering
// and driving named limiters.
func (h *Hub) RateLimiters() *ratelimit.Registry { return h.limiters }

// Close unsubscribes from both registries deterministically. It does not
// close the outbound queue; call Shutdown for that.
func (h *Hub) Close() {
	if h.unsubClients != nil {
		h.unsubClients()
	}
	if h.unsubChannelTypes != nil {
		h.unsubChannelTypes()
	}
}

// Shutdown closes the outbound queue. The dispatch loop drains any
// buffered requests and then terminates, per the hub's shutdown contract
// in spec §3 (Lifecycle).
func (h *Hub) Shutdown() {
	close(h.queue)
}

// Run starts the dispatch loop and every registered rate limiter inside
// one supervising task group, returning when the group's context is
// cancelled (or a limiter's Run method, which is never expected to error
// under normal operation, does).
func (h *Hub) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.dispatchLoop(gctx) })
	g.Go(func() error { return h.limiters.Run(gctx) })
	return g.Wait()
}

func (h *Hub) dispatchLoop(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-h.queue:
			if !ok {
				return nil
			}
			wg.Add(1)
			go func(req sendRequest) {
				defer wg.Done()
				h.deliver(ctx, req)
			}(req)
		}
	}
}

func (h *Hub) deliver(ctx context.Context, req sendRequest) {
	if req.to != "" {
		h.deliverUnicast(ctx, req)
		return
	}
	h.deliverBroadcast(ctx, req)
}

// Enqueue is the non-blocking outbound path. msg is either an
// *envelope.Envelope already built via the envelope package, or an
// envelope.Body to be wrapped: as a response to inResponseTo if it is
// non-nil, otherwise as a notification. to is a client id, or "" to
// broadcast to every connected client of every registered channel type.
// A broadcast combined with a non-nil inResponseTo is rejected.
func (h *Hub) Enqueue(msg interface{}, to string, inResponseTo *envelope.Envelope) error {
	env, err := h.resolveEnvelope(msg, to, inResponseTo)
	if err != nil {
		return err
	}

	select {
	case h.queue <- sendRequest{env: env, to: to}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Send is the blocking outbound path: it awaits space in the outbound
// queue instead of failing fast. Same recipient/body rules as Enqueue.
func (h *Hub) Send(ctx context.Context, msg interface{}, to string, inResponseTo *envelope.Envelope) error {
	env, err := h.resolveEnvelope(msg, to, inResponseTo)
	if err != nil {
		return err
	}

	select {
	case h.queue <- sendRequest{env: env, to: to}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) resolveEnvelope(msg interface{}, to string, inResponseTo *envelope.Envelope) (*envelope.Envelope, error) {
	if to == "" && inResponseTo != nil {
		return nil, ErrBroadcastNotAllowed
	}

	switch v := msg.(type) {
	case *envelope.Envelope:
		return v, nil
	case envelope.Body:
		if inResponseTo != nil {
			return envelope.NewResponseTo(inResponseTo, v), nil
		}
		return envelope.NewNotification(v), nil
	default:
		return nil, fmt.Errorf("hub: unsupported outbound message type %T", msg)
	}
}

func (h *Hub) semantics(env *envelope.Envelope) string {
	switch env.Kind {
	case envelope.KindResponse:
		return "response_success"
	case envelope.KindNotification:
		return "notification"
	default:
		return "request"
	}
}
