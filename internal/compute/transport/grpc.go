package transport

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
)

// Peer is an address book entry.
type Peer struct {
	ID       string
	Endpoint string
}

// ParsePeers parses "id@host:port,id2@host:port".
func ParsePeers(raw string) ([]Peer, error) {
	var peers []Peer
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, endpoint, ok := strings.Cut(item, "@")
		if !ok || id == "" || endpoint == "" {
			return nil, errors.Errorf("invalid peer %q, want id@host:port", item)
		}
		peers = append(peers, Peer{ID: id, Endpoint: endpoint})
	}
	return peers, nil
}

// GRPCTransport links nodes over the gRPC mesh. Endpoints come from the
// static peer list and from the FromEndpoint of inbound envelopes.
type GRPCTransport struct {
	id       string
	endpoint string
	client   *GRPCClient
	server   *GRPCServer
	inbox    *inbox

	mu   sync.RWMutex
	book map[string]string
}

// NewGRPCTransport creates a transport advertising endpoint to its peers.
func NewGRPCTransport(id, endpoint string, serverCfg ServerConfig, clientCfg ClientConfig, peers []Peer) *GRPCTransport {
	t := &GRPCTransport{
		id:       id,
		endpoint: endpoint,
		client:   NewGRPCClient(clientCfg),
		inbox:    newInbox(0),
		book:     make(map[string]string),
	}
	for _, p := range peers {
		if p.ID != id {
			t.book[p.ID] = p.Endpoint
		}
	}
	t.server = NewGRPCServer(serverCfg, id, t.receive)
	go t.inbox.run()
	return t
}

// Server exposes the underlying server, e.g. to Serve on a custom listener.
func (t *GRPCTransport) Server() *GRPCServer {
	return t.server
}

// Start serves until ctx is done.
func (t *GRPCTransport) Start(ctx context.Context) error {
	return t.server.Start(ctx)
}

// Close stops the server, the dispatcher and all client connections.
func (t *GRPCTransport) Close() error {
	_ = t.server.Stop()
	t.inbox.close()
	return t.client.Close()
}

// AddPeer records or updates a peer endpoint.
func (t *GRPCTransport) AddPeer(id, endpoint string) {
	if id == "" || id == t.id || endpoint == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.book[id]; ok && old != endpoint {
		_ = t.client.CloseConnection(old)
	}
	t.book[id] = endpoint
}

func (t *GRPCTransport) receive(ctx context.Context, env *protocol.Envelope) error {
	msg, err := protocol.Open(env)
	if err != nil {
		return err
	}
	if env.FromEndpoint != "" {
		t.AddPeer(env.From, env.FromEndpoint)
	}
	return t.inbox.push(ctx, env.From, msg)
}

func (t *GRPCTransport) PeerID() string { return t.id }

func (t *GRPCTransport) SendToPeer(ctx context.Context, peerID string, msg protocol.Message) error {
	if peerID == t.id {
		return errors.Errorf("refusing to send %s to self", msg.Type())
	}

	t.mu.RLock()
	endpoint, ok := t.book[peerID]
	t.mu.RUnlock()
	if !ok {
		return protocol.NewPeerUnavailableError(peerID, errors.New("no known endpoint"))
	}

	env, err := protocol.Seal(t.id, msg)
	if err != nil {
		return err
	}
	env.FromEndpoint = t.endpoint

	if _, err := t.client.Deliver(ctx, endpoint, env); err != nil {
		return protocol.NewPeerUnavailableError(peerID, err)
	}
	return nil
}

func (t *GRPCTransport) Broadcast(ctx context.Context, msg protocol.Message) {
	for _, id := range t.Peers() {
		if err := t.SendToPeer(ctx, id, msg); err != nil {
			log.Debug().
				Err(err).
				Str("peer_id", id).
				Str("type", string(msg.Type())).
				Msg("Broadcast delivery failed")
		}
	}
}

func (t *GRPCTransport) Peers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.book))
	for id := range t.book {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *GRPCTransport) SetHandler(h Handler) {
	t.inbox.setHandler(h)
}
