package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v-Sharan/skybrush-server/internal/envelope"
)

func noopHandler(ctx context.Context, env *envelope.Envelope, sender Sender, d Dispatcher) (Result, error) {
	return DeclinedResult(), nil
}

func TestSnapshotOrdersSpecificBeforeWildcard(t *testing.T) {
	r := NewRegistry()

	var order []string
	specific := func(ctx context.Context, env *envelope.Envelope, sender Sender, d Dispatcher) (Result, error) {
		order = append(order, "specific")
		return DeclinedResult(), nil
	}
	wildcard := func(ctx context.Context, env *envelope.Envelope, sender Sender, d Dispatcher) (Result, error) {
		order = append(order, "wildcard")
		return DeclinedResult(), nil
	}

	r.Register(wildcard)
	r.Register(specific, "PING")

	handlers := r.Snapshot("PING")
	require.Len(t, handlers, 2)
	for _, h := range handlers {
		_, _ = h(context.Background(), nil, Sender{}, nil)
	}
	assert.Equal(t, []string{"specific", "wildcard"}, order)
}

func TestSnapshotPreservesRegistrationOrderWithinAList(t *testing.T) {
	r := NewRegistry()

	var order []string
	first := func(ctx context.Context, env *envelope.Envelope, sender Sender, d Dispatcher) (Result, error) {
		order = append(order, "first")
		return DeclinedResult(), nil
	}
	second := func(ctx context.Context, env *envelope.Envelope, sender Sender, d Dispatcher) (Result, error) {
		order = append(order, "second")
		return DeclinedResult(), nil
	}

	r.Register(first, "PING")
	r.Register(second, "PING")

	for _, h := range r.Snapshot("PING") {
		_, _ = h(context.Background(), nil, Sender{}, nil)
	}
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestUnregisterRemovesMatchingFunctionPointer(t *testing.T) {
	r := NewRegistry()

	r.Register(noopHandler, "PING")
	assert.Len(t, r.Snapshot("PING"), 1)

	r.Unregister(noopHandler, "PING")
	assert.Empty(t, r.Snapshot("PING"))
}

func TestUseReturnsWorkingUnregisterClosure(t *testing.T) {
	r := NewRegistry()

	release := r.Use(noopHandler, "PONG")
	assert.Len(t, r.Snapshot("PONG"), 1)

	release()
	assert.Empty(t, r.Snapshot("PONG"))
}

func TestUnregisterIsSilentWhenHandlerAbsent(t *testing.T) {
	r := NewRegistry()
	assert.NotPanics(t, func() { r.Unregister(noopHandler, "NOPE") })
}
