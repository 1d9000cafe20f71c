package transfer

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
	"github.com/ulfberto/zerocloud/internal/metrics"
)

// PeerSender is the part of the transport the sender needs.
type PeerSender interface {
	SendToPeer(ctx context.Context, peerID string, msg protocol.Message) error
}

// Sender ships a compute request and its tensor to a peer.
type Sender struct {
	peers     PeerSender
	chunkSize int
	threshold int
}

// NewSender creates a sender. Non-positive sizes fall back to the defaults.
func NewSender(peers PeerSender, chunkSize, threshold int) *Sender {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Sender{peers: peers, chunkSize: chunkSize, threshold: threshold}
}

// Send delivers req with data. Payloads below the threshold travel inline
// in a single compute-request; larger ones go as sequential tensor-chunk
// messages with the request riding on chunk 0.
func (s *Sender) Send(ctx context.Context, peerID string, req *protocol.ComputeRequest, data []byte) error {
	if req.InputTensor == "" {
		req.InputTensor = uuid.NewString()
	}

	if len(data) < s.threshold {
		inline := *req
		inline.TensorData = data
		if err := s.peers.SendToPeer(ctx, peerID, &inline); err != nil {
			return errors.Wrapf(err, "failed to send compute request to %s", peerID)
		}
		return nil
	}

	meta := *req
	meta.TensorData = nil
	chunks := Split(req.InputTensor, data, s.chunkSize)

	log.Debug().
		Str("task_id", req.TaskID).
		Str("peer_id", peerID).
		Int("bytes", len(data)).
		Int("chunks", len(chunks)).
		Msg("Sending tensor in chunks")

	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "chunk transfer interrupted")
		}
		msg := &protocol.TensorChunk{TaskID: req.TaskID, Chunk: c}
		if i == 0 {
			msg.Metadata = &meta
		}
		if err := s.peers.SendToPeer(ctx, peerID, msg); err != nil {
			return errors.Wrapf(err, "failed to send chunk %d/%d to %s", i, len(chunks), peerID)
		}
		metrics.ChunkSent()
	}
	return nil
}
