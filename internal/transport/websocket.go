package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/v-Sharan/skybrush-server/internal/envelope"
	"github.com/v-Sharan/skybrush-server/internal/handler"
	"github.com/v-Sharan/skybrush-server/internal/hub"
	"github.com/v-Sharan/skybrush-server/internal/logging"
	"github.com/v-Sharan/skybrush-server/internal/registry"
)

// channelTypeWebSocket is the channel type id registered for every
// connection accepted by WebSocketListener.
const channelTypeWebSocket = "websocket"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSink implements registry.Sender by writing a JSON text frame per
// envelope. Writes are serialized with a 1-capacity semaphore because gorilla/websocket
// forbids concurrent writers on the same connection.
type wsSink struct {
	conn *websocket.Conn
	mu   chan struct{} // 1-capacity semaphore
}

func newWSSink(conn *websocket.Conn) *wsSink {
	s := &wsSink{conn: conn, mu: make(chan struct{}, 1)}
	s.mu <- struct{}{}
	return s
}

func (s *wsSink) Send(ctx context.Context, env *envelope.Envelope) error {
	payload, err := env.ToJSON()
	if err != nil {
		return fmt.Errorf("ws sink: encode: %w", err)
	}

	select {
	case <-s.mu:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { s.mu <- struct{}{} }()

	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return hub.ErrChannelClosed
	}
	return nil
}

// WebSocketListener upgrades HTTP connections on Path to websockets and
// feeds decoded envelopes into a hub, one read-pump goroutine per
// connection.
type WebSocketListener struct {
	Addr    string
	Path    string
	Hub     *hub.Hub
	Clients *registry.ClientRegistry
	Log     *logging.Logger
}

// ListenAndServe starts an HTTP server on Addr and blocks until ctx is
// cancelled.
func (w *WebSocketListener) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(w.Path, w.handleUpgrade)

	srv := &http.Server{Addr: w.Addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("websocket listener: %w", err)
	}
	return nil
}

func (w *WebSocketListener) handleUpgrade(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.Log.Warn("websocket upgrade failed: %v", err)
		return
	}
	w.handleConnection(r.Context(), conn)
}

func (w *WebSocketListener) handleConnection(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	connID := uuid.New().String()
	sink := newWSSink(conn)
	client := &registry.Client{ID: connID, ChannelType: channelTypeWebSocket, Sink: sink}

	w.Clients.Add(client)
	defer w.Clients.Remove(connID)

	w.Log.Debug("websocket: connection %s opened", connID)

	sender := handler.Sender{ID: connID, ChannelType: channelTypeWebSocket}
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			w.Log.Debug("websocket: connection %s closed: %v", connID, err)
			return
		}

		var raw map[string]interface{}
		if err := json.Unmarshal(payload, &raw); err != nil {
			w.Log.Warn("websocket: connection %s sent invalid JSON: %v", connID, err)
			continue
		}
		w.Hub.HandleIncoming(ctx, raw, sender)
	}
}
