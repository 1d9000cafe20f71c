package protocol

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Channel tags envelopes that belong to the compute subsystem so the
// transport can route them away from chat/UI traffic.
const Channel = "compute"

// Envelope 传输层看到的消息外壳
type Envelope struct {
	Channel      string          `json:"channel"`
	Type         MessageType     `json:"type"`
	From         string          `json:"from"`
	FromEndpoint string          `json:"fromEndpoint,omitempty"`
	SentAt       time.Time       `json:"sentAt"`
	Payload      json.RawMessage `json:"payload"`
}

// IsCompute reports whether the envelope is addressed to this subsystem.
func (e *Envelope) IsCompute() bool {
	return e != nil && e.Channel == Channel
}

// Seal wraps msg into an envelope sent by from.
func Seal(from string, msg Message) (*Envelope, error) {
	if msg == nil {
		return nil, errors.New("message is nil")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %s", msg.Type())
	}
	return &Envelope{
		Channel: Channel,
		Type:    msg.Type(),
		From:    from,
		SentAt:  time.Now(),
		Payload: payload,
	}, nil
}

// Open decodes the payload into the concrete message for env.Type.
func Open(env *Envelope) (Message, error) {
	if env == nil {
		return nil, errors.New("envelope is nil")
	}
	if !env.IsCompute() {
		return nil, errors.Errorf("envelope channel %q is not %q", env.Channel, Channel)
	}

	var msg Message
	switch env.Type {
	case TypeJoinCluster:
		msg = &JoinCluster{}
	case TypeLeaveCluster:
		msg = &LeaveCluster{}
	case TypeHeartbeat:
		msg = &Heartbeat{}
	case TypeGPUCapabilities:
		msg = &GPUCapabilities{}
	case TypeBenchmarkRequest:
		msg = &BenchmarkRequest{}
	case TypeBenchmarkResult:
		msg = &BenchmarkResultMessage{}
	case TypeDistributionPlan:
		msg = &DistributionPlanMessage{}
	case TypeLayerAssignment:
		msg = &LayerAssignment{}
	case TypeComputeRequest:
		msg = &ComputeRequest{}
	case TypeComputeResult:
		msg = &ComputeResult{}
	case TypeTensorChunk:
		msg = &TensorChunk{}
	case TypeComputeError:
		msg = &ComputeError{}
	case TypePipelineProgress:
		msg = &PipelineProgress{}
	default:
		return nil, errors.Errorf("unknown message type %q", env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal %s", env.Type)
		}
	}
	return msg, nil
}
