package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/v-Sharan/skybrush-server/internal/logging"
)

// defaultBatchDelay is the minimum inter-emission delay spec §4.8 names as
// the generic batching limiter's default.
const defaultBatchDelay = 100 * time.Millisecond

// GenericBatchingLimiter coalesces bursts of per-entity update ids (UAV ids,
// typically) into periodic batched envelopes. The first add_request after
// an idle period emits immediately; subsequent arrivals accumulate until
// the minimum delay elapses.
type GenericBatchingLimiter struct {
	factory    Factory
	dispatcher Dispatcher
	log        *logging.Logger
	name       string
	minDelay   time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
	wake    chan struct{}
}

// NewGenericBatchingLimiter builds a limiter that calls factory with the
// exact accumulated id set on each emission and dispatches the result as a
// broadcast notification. minDelay <= 0 uses the spec default of 100ms.
func NewGenericBatchingLimiter(name string, factory Factory, dispatcher Dispatcher, log *logging.Logger, minDelay time.Duration) *GenericBatchingLimiter {
	if minDelay <= 0 {
		minDelay = defaultBatchDelay
	}
	return &GenericBatchingLimiter{
		factory:    factory,
		dispatcher: dispatcher,
		log:        log,
		name:       name,
		minDelay:   minDelay,
		pending:    make(map[string]struct{}),
		wake:       make(chan struct{}, 1),
	}
}

// AddRequest expects exactly one argument: a []string of ids to union into
// the pending set. Any other shape is a no-op.
func (l *GenericBatchingLimiter) AddRequest(args ...interface{}) {
	if len(args) != 1 {
		return
	}
	ids, ok := args[0].([]string)
	if !ok {
		return
	}

	l.mu.Lock()
	for _, id := range ids {
		l.pending[id] = struct{}{}
	}
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run drives the emit/wait cadence until ctx is cancelled.
func (l *GenericBatchingLimiter) Run(ctx context.Context) error {
	for {
		if err := l.waitForPending(ctx); err != nil {
			return nil
		}
		l.emit()
		if err := sleepCtx(ctx, l.minDelay); err != nil {
			return nil
		}
	}
}

// waitForPending blocks until the pending set is non-empty or ctx is done.
// The wake channel has capacity 1 and every AddRequest attempts a
// non-blocking send to it, so a signal delivered between our pending check
// and our select is never lost: it sits buffered until the select consumes
// it on the next loop iteration.
func (l *GenericBatchingLimiter) waitForPending(ctx context.Context) error {
	for {
		l.mu.Lock()
		nonEmpty := len(l.pending) > 0
		l.mu.Unlock()
		if nonEmpty {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *GenericBatchingLimiter) emit() {
	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(l.pending))
	for id := range l.pending {
		ids = append(ids, id)
	}
	l.pending = make(map[string]struct{})
	l.mu.Unlock()

	sort.Strings(ids)
	env, err := l.factory(ids)
	if err != nil {
		l.log.Error("%s: batch factory failed: %v", l.name, err)
		return
	}
	if err := l.dispatcher.Enqueue(env, "", nil); err != nil {
		l.log.Warn("%s: failed to enqueue batch: %v", l.name, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
