// Package ratelimit implements the two rate limiters the hub drives:
// a generic batching limiter that coalesces per-entity update bursts into
// periodic envelopes, and a connection-state limiter that suppresses
// flapping CONN-INF traffic while a connection is transiently "…ing".
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/v-Sharan/skybrush-server/internal/envelope"
	"github.com/v-Sharan/skybrush-server/internal/logging"
)

// Dispatcher is the subset of the hub a limiter needs to emit its output.
// Declared here, implemented by package hub, to avoid an import cycle.
type Dispatcher interface {
	Enqueue(msg interface{}, to string, inResponseTo *envelope.Envelope) error
}

// Limiter is the common shape the registry drives. AddRequest forwards a
// request in whatever argument shape the concrete limiter expects; Run
// blocks until ctx is cancelled.
type Limiter interface {
	AddRequest(args ...interface{})
	Run(ctx context.Context) error
}

// Factory builds a batched envelope from the exact set of accumulated ids.
type Factory func(ids []string) (*envelope.Envelope, error)

// ErrRegisteredAfterStart is returned by Register once the registry's Run
// has started; registering limiters is only legal before the hub runs.
var ErrRegisteredAfterStart = fmt.Errorf("ratelimit: limiter registered after Run started")

// Registry holds named limiters and drives them all from one task group.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]Limiter
	order    []string
	started  bool
}

// NewRegistry returns an empty limiter registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]Limiter)}
}

// Register associates name with limiter. It is a programmer error to call
// this after Run has started; ErrRegisteredAfterStart is returned instead
// of panicking so callers can surface it however they see fit.
func (r *Registry) Register(name string, limiter Limiter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrRegisteredAfterStart
	}
	if _, exists := r.limiters[name]; !exists {
		r.order = append(r.order, name)
	}
	r.limiters[name] = limiter
	return nil
}

// RequestToSend forwards args to the named limiter's AddRequest. Silent if
// name is unknown, matching the hub's own drop-and-log posture for misuse
// by extension code that forgot to register a limiter it depends on.
func (r *Registry) RequestToSend(name string, args ...interface{}) {
	r.mu.Lock()
	limiter, ok := r.limiters[name]
	r.mu.Unlock()
	if !ok {
		return
	}
	limiter.AddRequest(args...)
}

// Names returns the registered limiter names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Run starts every registered limiter in a supervising task group and
// blocks until ctx is cancelled or a limiter returns an error. With no
// limiters registered it returns nil immediately.
func (r *Registry) Run(ctx context.Context) error {
	r.mu.Lock()
	r.started = true
	limiters := make([]Limiter, 0, len(r.order))
	for _, name := range r.order {
		limiters = append(limiters, r.limiters[name])
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range limiters {
		l := l
		g.Go(func() error { return l.Run(gctx) })
	}
	return g.Wait()
}
