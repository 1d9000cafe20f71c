package transport

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
)

// Filter decides whether a message may pass; returning false drops it.
type Filter func(from, to string, msg protocol.Message) bool

// Hub connects in-process transports. Every message is encoded to the
// wire envelope and back, so it exercises the same codec as the network.
type Hub struct {
	mu        sync.RWMutex
	endpoints map[string]*MemoryTransport
	filter    Filter
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{endpoints: make(map[string]*MemoryTransport)}
}

// Join attaches a new transport with the given identity.
func (h *Hub) Join(peerID string) *MemoryTransport {
	t := &MemoryTransport{hub: h, id: peerID, inbox: newInbox(0)}
	go t.inbox.run()

	h.mu.Lock()
	h.endpoints[peerID] = t
	h.mu.Unlock()
	return t
}

// Disconnect detaches a transport; later sends to it fail.
func (h *Hub) Disconnect(peerID string) {
	h.mu.Lock()
	t, ok := h.endpoints[peerID]
	delete(h.endpoints, peerID)
	h.mu.Unlock()

	if ok {
		t.inbox.close()
	}
}

// SetFilter installs a drop filter, nil to pass everything.
func (h *Hub) SetFilter(f Filter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.filter = f
}

func (h *Hub) deliver(ctx context.Context, from, to string, msg protocol.Message) error {
	h.mu.RLock()
	target, ok := h.endpoints[to]
	filter := h.filter
	h.mu.RUnlock()

	if !ok {
		return protocol.NewPeerUnavailableError(to, errors.New("not connected"))
	}
	if filter != nil && !filter(from, to, msg) {
		return nil
	}

	env, err := protocol.Seal(from, msg)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "failed to encode envelope")
	}
	var decoded protocol.Envelope
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return errors.Wrap(err, "failed to decode envelope")
	}
	out, err := protocol.Open(&decoded)
	if err != nil {
		return err
	}
	return target.inbox.push(ctx, from, out)
}

// MemoryTransport is one hub endpoint.
type MemoryTransport struct {
	hub   *Hub
	id    string
	inbox *inbox
}

func (t *MemoryTransport) PeerID() string { return t.id }

func (t *MemoryTransport) SendToPeer(ctx context.Context, peerID string, msg protocol.Message) error {
	if peerID == t.id {
		return errors.Errorf("refusing to send %s to self", msg.Type())
	}
	return t.hub.deliver(ctx, t.id, peerID, msg)
}

func (t *MemoryTransport) Broadcast(ctx context.Context, msg protocol.Message) {
	for _, id := range t.Peers() {
		_ = t.hub.deliver(ctx, t.id, id, msg)
	}
}

func (t *MemoryTransport) Peers() []string {
	t.hub.mu.RLock()
	defer t.hub.mu.RUnlock()

	ids := make([]string, 0, len(t.hub.endpoints))
	for id := range t.hub.endpoints {
		if id != t.id {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (t *MemoryTransport) SetHandler(h Handler) {
	t.inbox.setHandler(h)
}
