package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v-Sharan/skybrush-server/internal/envelope"
	"github.com/v-Sharan/skybrush-server/internal/logging"
)

func connInfFactory(connID string, state State) (*envelope.Envelope, error) {
	return envelope.NewNotification(envelope.Body{"type": "CONN-INF", "id": connID, "state": string(state)}), nil
}

func runConnLimiter(t *testing.T, limiter *ConnectionStateLimiter) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		limiter.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

// TestConnectionStateLimiterScenarioS6 reproduces spec scenario S6: a
// connection settled at "disconnected" flickers through "connecting" and
// back to "disconnected" within the 100ms settle window. No CONN-INF
// should be emitted for the flicker, since the stable state never
// actually changed. The baseline add_request primes the limiter's notion
// of c1's last observed stable state, mirroring a connection's initial
// handshake announcement.
func TestConnectionStateLimiterScenarioS6(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	limiter := NewConnectionStateLimiter("conn-state", connInfFactory, dispatcher, logging.New(false), 100*time.Millisecond)
	stop := runConnLimiter(t, limiter)
	defer stop()

	limiter.AddRequest("c1", StateDisconnected, StateDisconnected)
	time.Sleep(10 * time.Millisecond)
	require.Len(t, dispatcher.snapshot(), 1, "baseline announcement should emit once")

	limiter.AddRequest("c1", StateDisconnected, StateConnecting)
	time.Sleep(50 * time.Millisecond)
	limiter.AddRequest("c1", StateConnecting, StateDisconnected)

	time.Sleep(150 * time.Millisecond) // past the 100ms settle window

	sent := dispatcher.snapshot()
	assert.Len(t, sent, 1, "flicker back to the same stable state must not emit a second CONN-INF")
}

func TestConnectionStateLimiterEmitsAfterSettleTimeout(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	limiter := NewConnectionStateLimiter("conn-state", connInfFactory, dispatcher, logging.New(false), 40*time.Millisecond)
	stop := runConnLimiter(t, limiter)
	defer stop()

	limiter.AddRequest("c1", StateDisconnected, StateDisconnected)
	time.Sleep(10 * time.Millisecond)

	limiter.AddRequest("c1", StateDisconnected, StateConnecting)
	time.Sleep(80 * time.Millisecond) // past the settle window, no stable arrival follows

	sent := dispatcher.snapshot()
	require.Len(t, sent, 2)
	assert.Equal(t, "connecting", sent[1].Body["state"])
}

func TestConnectionStateLimiterTransitioningToTransitioningEmitsImmediately(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	limiter := NewConnectionStateLimiter("conn-state", connInfFactory, dispatcher, logging.New(false), 100*time.Millisecond)
	stop := runConnLimiter(t, limiter)
	defer stop()

	limiter.AddRequest("c1", StateConnecting, StateDisconnecting)
	time.Sleep(10 * time.Millisecond)

	sent := dispatcher.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, "disconnecting", sent[0].Body["state"])
}
