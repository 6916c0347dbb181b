package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v-Sharan/skybrush-server/internal/envelope"
	"github.com/v-Sharan/skybrush-server/internal/handler"
	"github.com/v-Sharan/skybrush-server/internal/registry"
)

// memSink is an in-memory registry.Sender that records every envelope it
// receives, for assertions, and can simulate a closed channel.
type memSink struct {
	mu     sync.Mutex
	closed bool
	recv   []*envelope.Envelope
}

func (s *memSink) Send(ctx context.Context, env *envelope.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrChannelClosed
	}
	s.recv = append(s.recv, env)
	return nil
}

func (s *memSink) snapshot() []*envelope.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*envelope.Envelope, len(s.recv))
	copy(out, s.recv)
	return out
}

func newTestHub(t *testing.T) (*Hub, *registry.ClientRegistry, *registry.ChannelTypeRegistry) {
	t.Helper()
	clients := registry.NewClientRegistry()
	channelTypes := registry.NewChannelTypeRegistry()
	channelTypes.Add(&registry.ChannelType{ID: "tcp"})
	h := New(clients, channelTypes)
	t.Cleanup(h.Close)
	return h, clients, channelTypes
}

func runHub(t *testing.T, h *Hub) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	return func() {
		h.Shutdown()
		cancel()
		<-done
	}
}

func waitForLen(t *testing.T, get func() int, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if get() >= want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.Equal(t, want, get(), "timed out waiting for delivery")
}

// TestScenarioS1UnhandledMessageNAK reproduces spec scenario S1: an
// envelope of an unregistered type is NAK'd with the fixed reason.
func TestScenarioS1UnhandledMessageNAK(t *testing.T) {
	h, clients, _ := newTestHub(t)
	stop := runHub(t, h)
	defer stop()

	sink := &memSink{}
	clients.Add(&registry.Client{ID: "c1", ChannelType: "tcp", Sink: sink})

	raw := map[string]interface{}{"id": "m1", "body": map[string]interface{}{"type": "FOO-BAR"}}
	handled := h.HandleIncoming(context.Background(), raw, handler.Sender{ID: "c1", ChannelType: "tcp"})
	assert.False(t, handled)

	waitForLen(t, func() int { return len(sink.snapshot()) }, 1)
	got := sink.snapshot()[0]
	assert.Equal(t, "m1", got.CorrelationID)
	assert.Equal(t, "ACK-NAK", got.Body.Type())
	assert.Equal(t, noHandlerReason, got.Body["reason"])
}

// TestScenarioS2DictReturnHandler reproduces spec scenario S2.
func TestScenarioS2DictReturnHandler(t *testing.T) {
	h, clients, _ := newTestHub(t)
	stop := runHub(t, h)
	defer stop()

	sink := &memSink{}
	clients.Add(&registry.Client{ID: "c1", ChannelType: "tcp", Sink: sink})

	h.Handlers().Register(func(ctx context.Context, env *envelope.Envelope, sender handler.Sender, d handler.Dispatcher) (handler.Result, error) {
		return handler.BodyResult(envelope.Body{"version": "1.2"}), nil
	}, "SYS-VER")

	raw := map[string]interface{}{"id": "m2", "body": map[string]interface{}{"type": "SYS-VER"}}
	handled := h.HandleIncoming(context.Background(), raw, handler.Sender{ID: "c1", ChannelType: "tcp"})
	assert.True(t, handled)

	waitForLen(t, func() int { return len(sink.snapshot()) }, 1)
	got := sink.snapshot()[0]
	assert.Equal(t, "m2", got.CorrelationID)
	assert.Equal(t, "SYS-VER", got.Body.Type())
	assert.Equal(t, "1.2", got.Body["version"])
}

// TestScenarioS3HandlerExceptionIsolation reproduces spec scenario S3: a
// panicking handler must not prevent the next handler for the same type
// from running and delivering its own response.
func TestScenarioS3HandlerExceptionIsolation(t *testing.T) {
	h, clients, _ := newTestHub(t)
	stop := runHub(t, h)
	defer stop()

	sink := &memSink{}
	clients.Add(&registry.Client{ID: "c1", ChannelType: "tcp", Sink: sink})

	h.Handlers().Register(func(ctx context.Context, env *envelope.Envelope, sender handler.Sender, d handler.Dispatcher) (handler.Result, error) {
		panic("boom")
	}, "PING")
	h.Handlers().Register(func(ctx context.Context, env *envelope.Envelope, sender handler.Sender, d handler.Dispatcher) (handler.Result, error) {
		resp := envelope.NewResponseTo(env, envelope.Body{"type": "PONG"})
		_ = d.Enqueue(resp, sender.ID, nil)
		return handler.HandledResult(), nil
	}, "PING")

	raw := map[string]interface{}{"id": "m3", "body": map[string]interface{}{"type": "PING"}}
	handled := h.HandleIncoming(context.Background(), raw, handler.Sender{ID: "c1", ChannelType: "tcp"})
	assert.True(t, handled)

	waitForLen(t, func() int { return len(sink.snapshot()) }, 1)
	got := sink.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "PONG", got[0].Body.Type())
	assert.Equal(t, "m3", got[0].CorrelationID)
}

// TestScenarioS4BroadcastAfterClientRemoval reproduces spec scenario S4:
// after a client is removed, a subsequent broadcast reaches only the
// remaining client.
func TestScenarioS4BroadcastAfterClientRemoval(t *testing.T) {
	h, clients, _ := newTestHub(t)
	stop := runHub(t, h)
	defer stop()

	sinkA := &memSink{}
	sinkB := &memSink{}
	clients.Add(&registry.Client{ID: "A", ChannelType: "tcp", Sink: sinkA})
	clients.Add(&registry.Client{ID: "B", ChannelType: "tcp", Sink: sinkB})

	clients.Remove("A")

	require.NoError(t, h.Enqueue(envelope.Body{"type": "N1"}, "", nil))

	waitForLen(t, func() int { return len(sinkB.snapshot()) }, 1)
	assert.Empty(t, sinkA.snapshot())
	assert.Len(t, sinkB.snapshot(), 1)
}

func TestEnqueueRejectsBroadcastInResponseTo(t *testing.T) {
	h, _, _ := newTestHub(t)
	req := &envelope.Envelope{ID: "r1", Body: envelope.Body{"type": "PING"}}
	err := h.Enqueue(envelope.Body{"type": "PONG"}, "", req)
	assert.True(t, errors.Is(err, ErrBroadcastNotAllowed))
}

func TestEnqueueFailsFastWhenQueueFull(t *testing.T) {
	clients := registry.NewClientRegistry()
	channelTypes := registry.NewChannelTypeRegistry()
	h := New(clients, channelTypes, WithQueueCapacity(1))
	defer h.Close()

	// Do not run the hub, so nothing drains the queue.
	require.NoError(t, h.Enqueue(envelope.Body{"type": "N1"}, "", nil))
	err := h.Enqueue(envelope.Body{"type": "N2"}, "", nil)
	assert.True(t, errors.Is(err, ErrQueueFull))
}
