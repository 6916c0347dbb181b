package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/v-Sharan/skybrush-server/internal/envelope"
	"github.com/v-Sharan/skybrush-server/internal/logging"
)

// State is a connection's lifecycle state. Stable = connected/disconnected;
// transitioning = connecting/disconnecting (spec glossary).
type State string

const (
	StateConnected     State = "connected"
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateDisconnecting State = "disconnecting"
)

// IsStable reports whether s is one of the two settled states.
func (s State) IsStable() bool {
	return s == StateConnected || s == StateDisconnected
}

// ConnFactory builds a CONN-INF envelope for one connection's state. It is
// distinct from Factory (which takes an id set) because the connection-
// state limiter always reports a single connection's state, not a union.
type ConnFactory func(connID string, state State) (*envelope.Envelope, error)

// defaultSettleWindow is the bounded wait spec §4.8 names for the
// connection-state limiter's waiter.
const defaultSettleWindow = 100 * time.Millisecond

type connEntry struct {
	hasLastStable   bool
	lastStableState State
	stopCh          chan struct{} // non-nil while a waiter is pending for this connection
}

// ConnectionStateLimiter suppresses CONN-INF traffic for a connection that
// flickers through a transitioning state and settles back to the stable
// state it started from, per spec §4.8/§4.9.
type ConnectionStateLimiter struct {
	factory      ConnFactory
	dispatcher   Dispatcher
	log          *logging.Logger
	name         string
	settleWindow time.Duration

	mu      sync.Mutex
	entries map[string]*connEntry
	ctx     context.Context

	wg sync.WaitGroup
}

// NewConnectionStateLimiter builds a connection-state limiter. settleWindow
// <= 0 uses the spec default of 100ms.
func NewConnectionStateLimiter(name string, factory ConnFactory, dispatcher Dispatcher, log *logging.Logger, settleWindow time.Duration) *ConnectionStateLimiter {
	if settleWindow <= 0 {
		settleWindow = defaultSettleWindow
	}
	return &ConnectionStateLimiter{
		factory:      factory,
		dispatcher:   dispatcher,
		log:          log,
		name:         name,
		settleWindow: settleWindow,
		entries:      make(map[string]*connEntry),
	}
}

// AddRequest expects exactly three arguments: connID string, oldState
// State, newState State. Any other shape is a no-op.
func (l *ConnectionStateLimiter) AddRequest(args ...interface{}) {
	if len(args) != 3 {
		return
	}
	connID, ok1 := args[0].(string)
	oldState, ok2 := args[1].(State)
	newState, ok3 := args[2].(State)
	if !ok1 || !ok2 || !ok3 {
		return
	}

	if newState.IsStable() {
		l.arriveStable(connID, newState)
		return
	}

	if oldState.IsStable() {
		l.startWaiter(connID, newState)
		return
	}

	// transitioning -> transitioning: emit immediately, no suppression.
	l.emit(connID, newState)
}

// arriveStable implements spec §4.8's stable-arrival branch: stop any
// pending waiter for connID, and suppress the emission if the connection's
// last observed stable state already equals newState (invariant 7).
func (l *ConnectionStateLimiter) arriveStable(connID string, newState State) {
	l.mu.Lock()
	entry, exists := l.entries[connID]
	if exists && entry.stopCh != nil {
		close(entry.stopCh)
		entry.stopCh = nil
	}
	if !exists {
		entry = &connEntry{}
		l.entries[connID] = entry
	}

	suppress := entry.hasLastStable && entry.lastStableState == newState
	entry.hasLastStable = true
	entry.lastStableState = newState
	l.mu.Unlock()

	if !suppress {
		l.emit(connID, newState)
	}
}

// startWaiter implements the transitioning-from-stable branch: arm a
// per-connection waiter that emits the transitioning state only if no
// settling stable arrival preempts it within the settle window.
func (l *ConnectionStateLimiter) startWaiter(connID string, newState State) {
	stopCh := make(chan struct{})

	l.mu.Lock()
	entry, exists := l.entries[connID]
	if !exists {
		entry = &connEntry{}
		l.entries[connID] = entry
	}
	entry.stopCh = stopCh
	ctx := l.ctx
	l.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	l.wg.Add(1)
	go l.waitAndEmit(ctx, connID, newState, stopCh)
}

func (l *ConnectionStateLimiter) waitAndEmit(ctx context.Context, connID string, newState State, stopCh chan struct{}) {
	defer l.wg.Done()

	timer := time.NewTimer(l.settleWindow)
	defer timer.Stop()

	select {
	case <-stopCh:
		// A stable arrival settled this connection; arriveStable already
		// closed stopCh and handled (or suppressed) the emission.
		return
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	l.mu.Lock()
	if entry, ok := l.entries[connID]; ok && entry.stopCh == stopCh {
		entry.stopCh = nil
	}
	l.mu.Unlock()

	l.emit(connID, newState)
}

func (l *ConnectionStateLimiter) emit(connID string, state State) {
	env, err := l.factory(connID, state)
	if err != nil {
		l.log.Error("%s: factory failed for connection %s: %v", l.name, connID, err)
		return
	}
	if err := l.dispatcher.Enqueue(env, "", nil); err != nil {
		l.log.Warn("%s: failed to enqueue CONN-INF for %s: %v", l.name, connID, err)
	}
}

// Run records ctx for in-flight and future waiters and blocks until it is
// cancelled, then waits for any in-flight waiter goroutines to exit.
func (l *ConnectionStateLimiter) Run(ctx context.Context) error {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()

	<-ctx.Done()
	l.wg.Wait()
	return nil
}
