// Package registry provides in-memory implementations of the two
// registries the hub only ever consults: the client registry and the
// channel-type registry. The hub treats both as external collaborators
// reachable only through the interfaces in package hub; this package
// exists so a runnable server (and the hub's own tests) have a concrete
// registry to wire up, modeled on the connection/topic bookkeeping in the
// reference broker service.
package registry

import (
	"context"
	"sync"

	"github.com/v-Sharan/skybrush-server/internal/envelope"
)

// Sender is the client-facing sink: one method that either completes or
// fails, typically with ErrChannelClosed when the client has disconnected.
// Declared here (rather than imported from package hub) because the hub
// depends on registry, not the reverse.
type Sender interface {
	Send(ctx context.Context, env *envelope.Envelope) error
}

// Client is an external entity identified by a stable id, associated with
// one channel type, exposing a send sink.
type Client struct {
	ID          string
	ChannelType string
	Sink        Sender
}

// ChannelType is an external entity identified by a string, optionally
// carrying a bulk broadcaster sink that fans an envelope out natively.
type ChannelType struct {
	ID          string
	Broadcaster func(ctx context.Context, env *envelope.Envelope) error
}

type listenerSet struct {
	mu        sync.Mutex
	nextID    int
	added     map[int]func(interface{})
	removed   map[int]func(interface{})
}

func newListenerSet() *listenerSet {
	return &listenerSet{added: make(map[int]func(interface{})), removed: make(map[int]func(interface{}))}
}

func (l *listenerSet) subscribe(onAdded, onRemoved func(interface{})) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	if onAdded != nil {
		l.added[id] = onAdded
	}
	if onRemoved != nil {
		l.removed[id] = onRemoved
	}
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.added, id)
		delete(l.removed, id)
		l.mu.Unlock()
	}
}

func (l *listenerSet) fireAdded(v interface{}) {
	l.mu.Lock()
	fns := make([]func(interface{}), 0, len(l.added))
	for _, fn := range l.added {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

func (l *listenerSet) fireRemoved(v interface{}) {
	l.mu.Lock()
	fns := make([]func(interface{}), 0, len(l.removed))
	for _, fn := range l.removed {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// ClientRegistry tracks connected clients, keyed by id and grouped by
// channel type for broadcast fan-out.
type ClientRegistry struct {
	mu        sync.RWMutex
	byID      map[string]*Client
	byChannel map[string]map[string]*Client // channel type -> client id -> client
	listeners *listenerSet
}

// NewClientRegistry returns an empty client registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		byID:      make(map[string]*Client),
		byChannel: make(map[string]map[string]*Client),
		listeners: newListenerSet(),
	}
}

// Add registers a new client, notifying subscribers.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	r.byID[c.ID] = c
	set, ok := r.byChannel[c.ChannelType]
	if !ok {
		set = make(map[string]*Client)
		r.byChannel[c.ChannelType] = set
	}
	set[c.ID] = c
	r.mu.Unlock()
	r.listeners.fireAdded(c)
}

// Remove unregisters a client by id, notifying subscribers. A no-op if
// the id is unknown.
func (r *ClientRegistry) Remove(id string) {
	r.mu.Lock()
	c, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byID, id)
	if set, ok := r.byChannel[c.ChannelType]; ok {
		delete(set, id)
	}
	r.mu.Unlock()
	r.listeners.fireRemoved(c)
}

// Lookup returns the client with the given id, if connected.
func (r *ClientRegistry) Lookup(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// ClientIDsForChannelType returns the ids of all clients currently
// connected over the given channel type.
func (r *ClientRegistry) ClientIDsForChannelType(channelType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byChannel[channelType]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// HasClientsForChannelType reports whether any client of the given
// channel type is currently connected.
func (r *ClientRegistry) HasClientsForChannelType(channelType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byChannel[channelType]) > 0
}

// Subscribe registers callbacks for add/remove events and returns a
// function that deterministically unsubscribes both.
func (r *ClientRegistry) Subscribe(onAdded, onRemoved func(*Client)) func() {
	wrapAdded := func(v interface{}) {
		if onAdded != nil {
			onAdded(v.(*Client))
		}
	}
	wrapRemoved := func(v interface{}) {
		if onRemoved != nil {
			onRemoved(v.(*Client))
		}
	}
	return r.listeners.subscribe(wrapAdded, wrapRemoved)
}

// ChannelTypeRegistry tracks registered channel types (e.g. "tcp",
// "websocket") and their optional native broadcasters.
type ChannelTypeRegistry struct {
	mu        sync.RWMutex
	byID      map[string]*ChannelType
	order     []string
	listeners *listenerSet
}

// NewChannelTypeRegistry returns an empty channel-type registry.
func NewChannelTypeRegistry() *ChannelTypeRegistry {
	return &ChannelTypeRegistry{
		byID:      make(map[string]*ChannelType),
		listeners: newListenerSet(),
	}
}

// Add registers a channel type, notifying subscribers.
func (r *ChannelTypeRegistry) Add(ct *ChannelType) {
	r.mu.Lock()
	if _, exists := r.byID[ct.ID]; !exists {
		r.order = append(r.order, ct.ID)
	}
	r.byID[ct.ID] = ct
	r.mu.Unlock()
	r.listeners.fireAdded(ct)
}

// Remove unregisters a channel type by id, notifying subscribers.
func (r *ChannelTypeRegistry) Remove(id string) {
	r.mu.Lock()
	ct, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byID, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	r.listeners.fireRemoved(ct)
}

// Lookup returns the channel type descriptor for id, if registered.
func (r *ChannelTypeRegistry) Lookup(id string) (*ChannelType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ct, ok := r.byID[id]
	return ct, ok
}

// IDs returns the registered channel type ids in registration order.
func (r *ChannelTypeRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Subscribe registers callbacks for add/remove events and returns a
// function that deterministically unsubscribes both.
func (r *ChannelTypeRegistry) Subscribe(onAdded, onRemoved func(*ChannelType)) func() {
	wrapAdded := func(v interface{}) {
		if onAdded != nil {
			onAdded(v.(*ChannelType))
		}
	}
	wrapRemoved := func(v interface{}) {
		if onRemoved != nil {
			onRemoved(v.(*ChannelType))
		}
	}
	return r.listeners.subscribe(wrapAdded, wrapRemoved)
}
