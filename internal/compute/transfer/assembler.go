package transfer

import (
	"bytes"
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
	"github.com/ulfberto/zerocloud/internal/metrics"
)

// DefaultDiscardDelay is how long partial buffers survive without progress.
const DefaultDiscardDelay = 30 * time.Second

// Assembled is a fully reassembled tensor.
type Assembled struct {
	TaskID   string
	TensorID string
	Data     []byte
	Metadata *protocol.ComputeRequest
}

type buffer struct {
	taskID   string
	slots    [][]byte
	filled   int
	metadata *protocol.ComputeRequest
	touched  time.Time
}

// Assembler collects chunks per tensor. Slots are index-addressed, so
// arrival order does not matter.
type Assembler struct {
	mu           sync.Mutex
	clock        time2.Clock
	discardDelay time.Duration
	buffers      map[string]*buffer
	released     map[string]time.Time // task id -> release time
}

// NewAssembler creates an empty assembler.
func NewAssembler(discardDelay time.Duration, clock time2.Clock) *Assembler {
	if discardDelay <= 0 {
		discardDelay = DefaultDiscardDelay
	}
	if clock == nil {
		clock = time2.DefaultClock
	}
	return &Assembler{
		clock:        clock,
		discardDelay: discardDelay,
		buffers:      make(map[string]*buffer),
		released:     make(map[string]time.Time),
	}
}

// Add stores one chunk. It returns the tensor once every slot is filled.
// A corrupt chunk is dropped and its slot stays empty.
func (a *Assembler) Add(msg *protocol.TensorChunk) (*Assembled, error) {
	c := msg.Chunk
	if c.Total <= 0 || c.Index < 0 || c.Index >= c.Total {
		return nil, errors.Errorf("chunk %d/%d of tensor %s out of range", c.Index, c.Total, c.TensorID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.released[msg.TaskID]; ok {
		log.Debug().
			Str("task_id", msg.TaskID).
			Str("tensor_id", c.TensorID).
			Msg("Dropping chunk for released task")
		return nil, nil
	}

	if !Verify(c) {
		metrics.ChunkReceived("corrupt")
		log.Warn().
			Str("task_id", msg.TaskID).
			Str("tensor_id", c.TensorID).
			Int("index", c.Index).
			Msg("Chunk checksum mismatch, dropping")
		return nil, protocol.NewChecksumMismatchError(c.TensorID, c.Index)
	}

	buf, ok := a.buffers[c.TensorID]
	if !ok {
		buf = &buffer{taskID: msg.TaskID, slots: make([][]byte, c.Total)}
		a.buffers[c.TensorID] = buf
	}
	if len(buf.slots) != c.Total {
		return nil, errors.Errorf("chunk total %d does not match buffer of %d for tensor %s", c.Total, len(buf.slots), c.TensorID)
	}
	buf.touched = a.clock.Now()
	if msg.Metadata != nil {
		buf.metadata = msg.Metadata
	}

	if buf.slots[c.Index] != nil {
		metrics.ChunkReceived("duplicate")
		return nil, nil
	}
	buf.slots[c.Index] = append([]byte{}, c.Payload...)
	buf.filled++
	metrics.ChunkReceived("ok")

	if buf.filled < c.Total {
		return nil, nil
	}

	delete(a.buffers, c.TensorID)
	return &Assembled{
		TaskID:   buf.taskID,
		TensorID: c.TensorID,
		Data:     bytes.Join(buf.slots, nil),
		Metadata: buf.metadata,
	}, nil
}

// Release drops the task's partial buffers and ignores its later chunks
// until the discard delay passes.
func (a *Assembler) Release(taskID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id, buf := range a.buffers {
		if buf.taskID == taskID {
			delete(a.buffers, id)
		}
	}
	a.released[taskID] = a.clock.Now()
}

// Collect discards buffers idle longer than the discard delay and forgets
// old releases. It returns the number of buffers dropped.
func (a *Assembler) Collect() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	dropped := 0
	for id, buf := range a.buffers {
		if now.Sub(buf.touched) > a.discardDelay {
			delete(a.buffers, id)
			dropped++
			log.Warn().
				Str("task_id", buf.taskID).
				Str("tensor_id", id).
				Int("filled", buf.filled).
				Int("total", len(buf.slots)).
				Msg("Discarding incomplete tensor")
		}
	}
	for taskID, at := range a.released {
		if now.Sub(at) > a.discardDelay {
			delete(a.released, taskID)
		}
	}
	return dropped
}

// Pending returns the number of incomplete tensors.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffers)
}
