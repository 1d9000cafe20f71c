package transport

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
)

// Handler receives one decoded compute message and the id of its sender.
type Handler func(ctx context.Context, from string, msg protocol.Message)

// Transport is the peer link layer the compute subsystem runs on.
type Transport interface {
	// PeerID is the local identity.
	PeerID() string

	// SendToPeer delivers msg to one peer. It fails with
	// protocol.ErrPeerUnavailable when the peer is not reachable.
	SendToPeer(ctx context.Context, peerID string, msg protocol.Message) error

	// Broadcast sends msg to every known peer, best effort.
	Broadcast(ctx context.Context, msg protocol.Message)

	// Peers lists known peer ids.
	Peers() []string

	// SetHandler installs the delivery callback.
	SetHandler(h Handler)
}

type delivery struct {
	from string
	msg  protocol.Message
}

// inbox serializes inbound messages onto one goroutine, so a node sees
// messages in arrival order and handlers never run concurrently.
type inbox struct {
	mu      sync.RWMutex
	handler Handler
	queue   chan delivery
	once    sync.Once
	stop    chan struct{}
	done    chan struct{}
}

func newInbox(size int) *inbox {
	if size <= 0 {
		size = 1024
	}
	return &inbox{
		queue: make(chan delivery, size),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (in *inbox) setHandler(h Handler) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.handler = h
}

// push blocks while the queue is full, applying backpressure to senders.
func (in *inbox) push(ctx context.Context, from string, msg protocol.Message) error {
	select {
	case in.queue <- delivery{from: from, msg: msg}:
		return nil
	case <-in.stop:
		return protocol.NewPeerUnavailableError("", context.Canceled)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (in *inbox) run() {
	defer close(in.done)
	ctx := context.Background()
	for {
		select {
		case d := <-in.queue:
			in.mu.RLock()
			h := in.handler
			in.mu.RUnlock()
			if h == nil {
				log.Debug().Str("from", d.from).Str("type", string(d.msg.Type())).Msg("No handler installed, dropping message")
				continue
			}
			h(ctx, d.from, d.msg)
		case <-in.stop:
			return
		}
	}
}

func (in *inbox) close() {
	in.once.Do(func() {
		close(in.stop)
	})
	<-in.done
}
