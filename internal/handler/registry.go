// Package handler implements the hub's handler table: a mapping from
// incoming message type to an ordered list of handler callables, with
// specific-before-wildcard dispatch order.
package handler

import (
	"context"
	"reflect"
	"sync"

	"github.com/v-Sharan/skybrush-server/internal/envelope"
)

// ResultKind tags the four shapes a handler's return value can take.
type ResultKind int

const (
	// Declined means the handler did not recognize or act on the message.
	Declined ResultKind = iota
	// Handled means the handler processed the message but produced no
	// response of its own (it may have enqueued one manually).
	Handled
	// WithBody means the handler returned a body to be wrapped as a
	// response and enqueued.
	WithBody
	// WithResponse means the handler returned an already-built response
	// envelope to enqueue as-is.
	WithResponse
)

// Result is the tagged sum a Handler returns, modeling the source's four
// dynamic return shapes (false/nil, true, body map, response envelope) as
// one static type.
type Result struct {
	Kind     ResultKind
	Body     envelope.Body
	Response *envelope.Envelope
}

// DeclinedResult is returned by a handler that did not act on the message.
func DeclinedResult() Result { return Result{Kind: Declined} }

// HandledResult is returned by a handler that acted but has no response
// body to hand back through the normal path.
func HandledResult() Result { return Result{Kind: Handled} }

// BodyResult wraps body as a response to the triggering request.
func BodyResult(body envelope.Body) Result { return Result{Kind: WithBody, Body: body} }

// ResponseResult carries an already-built response envelope.
func ResponseResult(resp *envelope.Envelope) Result { return Result{Kind: WithResponse, Response: resp} }

// Dispatcher is the subset of the hub a handler is given so it can send
// messages of its own (request a broadcast, enqueue an unrelated
// notification, etc). Declared here, implemented by package hub, to avoid
// an import cycle. msg is either an *envelope.Envelope or an
// envelope.Body, matching Hub.Enqueue's contract; to == "" broadcasts.
type Dispatcher interface {
	Enqueue(msg interface{}, to string, inResponseTo *envelope.Envelope) error
}

// Sender is the minimal client-facing identity passed to a handler.
type Sender struct {
	ID          string
	ChannelType string
}

// Handler processes one incoming envelope. ctx carries cancellation for
// the incoming pipeline; sender identifies the client that sent env.
type Handler func(ctx context.Context, env *envelope.Envelope, sender Sender, hub Dispatcher) (Result, error)

const wildcard = "" // internal sentinel; never a legal protocol message type

type entry struct {
	fn Handler
}

// Registry is the handler table. Construct it with NewRegistry: the zero
// value has a nil type map, so registering a specific type on it panics.
type Registry struct {
	mu        sync.RWMutex
	byType    map[string][]entry
	wildcards []entry
	started   bool
}

// NewRegistry returns an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[string][]entry)}
}

// MarkStarted freezes registration-time assumptions the hub relies on
// once dispatch has begun. It does not forbid registration (unlike the
// rate-limiter registry, handler registration stays legal for the life of
// the hub); it exists purely so callers can assert intent in tests.
func (r *Registry) MarkStarted() {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
}

// Register adds handler to the lists for each of types. No types, or a
// single empty string, registers the wildcard handler that runs for every
// message type. Duplicate registrations are permitted; each invocation
// dispatches separately.
func (r *Registry) Register(h Handler, types ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(types) == 0 {
		types = []string{wildcard}
	}
	for _, t := range types {
		if t == wildcard {
			r.wildcards = append(r.wildcards, entry{fn: h})
			continue
		}
		r.byType[t] = append(r.byType[t], entry{fn: h})
	}
}

// Unregister removes the first occurrence of handler from each of types'
// lists (or the wildcard list, for no types given). Silent if absent.
// Handlers are compared by underlying function pointer, so two separate
// closures with identical bodies are never equal to each other.
func (r *Registry) Unregister(h Handler, types ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(types) == 0 {
		types = []string{wildcard}
	}
	target := reflect.ValueOf(h).Pointer()
	for _, t := range types {
		if t == wildcard {
			r.wildcards = removeFirst(r.wildcards, target)
			continue
		}
		r.byType[t] = removeFirst(r.byType[t], target)
	}
}

func removeFirst(list []entry, target uintptr) []entry {
	for i, e := range list {
		if reflect.ValueOf(e.fn).Pointer() == target {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// Use registers handler on entry and returns a function that unregisters
// it; callers defer the returned function so unregistration happens on
// every exit path, including panics propagated through the caller.
func (r *Registry) Use(h Handler, types ...string) func() {
	r.Register(h, types...)
	return func() { r.Unregister(h, types...) }
}

// Snapshot returns the handlers that should run for an incoming message
// of the given type: specific handlers in registration order, followed by
// wildcard handlers in registration order. The slice is a copy safe to
// range over without holding the registry lock.
func (r *Registry) Snapshot(messageType string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specific := r.byType[messageType]
	out := make([]Handler, 0, len(specific)+len(r.wildcards))
	for _, e := range specific {
		out = append(out, e.fn)
	}
	for _, e := range r.wildcards {
		out = append(out, e.fn)
	}
	return out
}
