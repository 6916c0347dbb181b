// Package transport provides the listener adapters that feed decoded
// envelopes into a hub.Hub: a line-delimited JSON TCP listener and a
// gorilla/websocket listener. Both follow the reference broker's
// accept-loop-plus-per-connection-goroutine shape, generalized to decode
// protocol envelopes instead of JSON-RPC requests.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/google/uuid"

	"github.com/v-Sharan/skybrush-server/internal/envelope"
	"github.com/v-Sharan/skybrush-server/internal/handler"
	"github.com/v-Sharan/skybrush-server/internal/hub"
	"github.com/v-Sharan/skybrush-server/internal/logging"
	"github.com/v-Sharan/skybrush-server/internal/registry"
)

// channelTypeTCP is the channel type id registered for every connection
// accepted by TCPListener.
const channelTypeTCP = "tcp"

// tcpSink implements registry.Sender by writing JSON text over a net.Conn.
// Writes are serialized with a 1-capacity semaphore because the dispatch
// loop may spawn concurrent workers against the same client (spec §5) and
// json.Encoder.Encode is not safe for concurrent use.
type tcpSink struct {
	encoder *json.Encoder
	done    chan struct{}
	mu      chan struct{}
}

func newTCPSink(encoder *json.Encoder) *tcpSink {
	s := &tcpSink{encoder: encoder, done: make(chan struct{}), mu: make(chan struct{}, 1)}
	s.mu <- struct{}{}
	return s
}

func (s *tcpSink) Send(ctx context.Context, env *envelope.Envelope) error {
	select {
	case <-s.done:
		return hub.ErrChannelClosed
	default:
	}

	select {
	case <-s.mu:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return hub.ErrChannelClosed
	}
	defer func() { s.mu <- struct{}{} }()

	if err := s.encoder.Encode(env); err != nil {
		return fmt.Errorf("tcp sink: %w", err)
	}
	return nil
}

// TCPListener accepts line-delimited JSON envelope connections and feeds
// them into a hub, registering/unregistering each connection's client with
// the client registry as it connects and disconnects.
type TCPListener struct {
	Addr     string
	Hub      *hub.Hub
	Clients  *registry.ClientRegistry
	Log      *logging.Logger
	listener net.Listener
}

// ListenAndServe opens Addr and accepts connections until ctx is
// cancelled, at which point the listener is closed and ListenAndServe
// returns nil once the accept loop observes the cancellation.
func (t *TCPListener) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.Addr)
	if err != nil {
		return fmt.Errorf("tcp listener: %w", err)
	}
	t.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.Log.Warn("tcp accept error: %v", err)
			continue
		}
		go t.handleConnection(ctx, conn)
	}
}

func (t *TCPListener) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connID := uuid.New().String()
	sink := newTCPSink(json.NewEncoder(conn))
	client := &registry.Client{ID: connID, ChannelType: channelTypeTCP, Sink: sink}

	t.Clients.Add(client)
	defer func() {
		close(sink.done)
		t.Clients.Remove(connID)
	}()

	t.Log.Debug("tcp: connection %s opened", connID)

	sender := handler.Sender{ID: connID, ChannelType: channelTypeTCP}
	decoder := json.NewDecoder(conn)
	for {
		var raw map[string]interface{}
		if err := decoder.Decode(&raw); err != nil {
			t.Log.Debug("tcp: connection %s closed: %v", connID, err)
			return
		}
		t.Hub.HandleIncoming(ctx, raw, sender)
	}
}
