package protocol

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrorKind classifies failures of the compute subsystem.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNoCapacity
	KindPeerUnavailable
	KindStageFailure
	KindTimeout
	KindChecksumMismatch
	KindCancelled
	KindNotCoordinator
	KindNoPlan
	KindUnknownTask
	KindDuplicateTask
)

func (k ErrorKind) String() string {
	switch k {
	case KindNoCapacity:
		return "NO_CAPACITY"
	case KindPeerUnavailable:
		return "PEER_UNAVAILABLE"
	case KindStageFailure:
		return "STAGE_FAILURE"
	case KindTimeout:
		return "TIMEOUT"
	case KindChecksumMismatch:
		return "CHECKSUM_MISMATCH"
	case KindCancelled:
		return "CANCELLED"
	case KindNotCoordinator:
		return "NOT_COORDINATOR"
	case KindNoPlan:
		return "NO_PLAN"
	case KindUnknownTask:
		return "UNKNOWN_TASK"
	case KindDuplicateTask:
		return "DUPLICATE_TASK"
	default:
		return "UNKNOWN"
	}
}

// Error represents a compute subsystem failure
type Error struct {
	Kind     ErrorKind
	Message  string
	TaskID   string
	PeerID   string
	Stage    int
	Original error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Kind.String(), e.Message))
	if e.TaskID != "" {
		sb.WriteString(fmt.Sprintf(" [task: %s]", e.TaskID))
	}
	if e.PeerID != "" {
		sb.WriteString(fmt.Sprintf(" [peer: %s]", e.PeerID))
	}
	if e.Original != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Original))
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Original
}

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNoCapacity       = &Error{Kind: KindNoCapacity, Message: "no node has usable capacity"}
	ErrPeerUnavailable  = &Error{Kind: KindPeerUnavailable, Message: "peer unavailable"}
	ErrStageFailure     = &Error{Kind: KindStageFailure, Message: "stage failed"}
	ErrTimeout          = &Error{Kind: KindTimeout, Message: "timed out"}
	ErrChecksumMismatch = &Error{Kind: KindChecksumMismatch, Message: "checksum mismatch"}
	ErrCancelled        = &Error{Kind: KindCancelled, Message: "cancelled"}
	ErrNotCoordinator   = &Error{Kind: KindNotCoordinator, Message: "only the coordinator may plan"}
	ErrNoPlan           = &Error{Kind: KindNoPlan, Message: "no distribution plan"}
	ErrUnknownTask      = &Error{Kind: KindUnknownTask, Message: "unknown task"}
	ErrDuplicateTask    = &Error{Kind: KindDuplicateTask, Message: "task id already in use"}
)

// KindOf extracts the kind of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// NewNoCapacityError creates a planner failure for targetID
func NewNoCapacityError(targetID string) *Error {
	return &Error{
		Kind:    KindNoCapacity,
		Message: fmt.Sprintf("no node can host units of %q", targetID),
	}
}

// NewPeerUnavailableError creates a send failure
func NewPeerUnavailableError(peerID string, err error) *Error {
	return &Error{
		Kind:     KindPeerUnavailable,
		Message:  "peer not connected",
		PeerID:   peerID,
		Original: err,
	}
}

// NewStageFailureError creates a failure of a local stage
func NewStageFailureError(taskID string, stage int, peerID string, err error) *Error {
	return &Error{
		Kind:     KindStageFailure,
		Message:  fmt.Sprintf("stage %d failed", stage),
		TaskID:   taskID,
		PeerID:   peerID,
		Stage:    stage,
		Original: err,
	}
}

// NewRemoteStageError rebuilds a stage failure reported by a compute-error message.
func NewRemoteStageError(msg *ComputeError) *Error {
	return &Error{
		Kind:     KindStageFailure,
		Message:  fmt.Sprintf("stage %d failed remotely", msg.StageIndex),
		TaskID:   msg.TaskID,
		PeerID:   msg.NodeID,
		Stage:    msg.StageIndex,
		Original: errors.New(msg.Error),
	}
}

// NewTimeoutError creates a fallback timeout
func NewTimeoutError(taskID string, after time.Duration) *Error {
	return &Error{
		Kind:    KindTimeout,
		Message: fmt.Sprintf("no result within %s", after),
		TaskID:  taskID,
	}
}

// NewChecksumMismatchError creates a transfer-layer checksum failure
func NewChecksumMismatchError(tensorID string, index int) *Error {
	return &Error{
		Kind:    KindChecksumMismatch,
		Message: fmt.Sprintf("chunk %d of tensor %s", index, tensorID),
	}
}

// NewCancelledError creates an explicit cancellation
func NewCancelledError(taskID string) *Error {
	return &Error{
		Kind:    KindCancelled,
		Message: "task cancelled",
		TaskID:  taskID,
	}
}

// NewDuplicateTaskError rejects a task id that is still pending
func NewDuplicateTaskError(taskID string) *Error {
	return &Error{
		Kind:    KindDuplicateTask,
		Message: "task id already in use",
		TaskID:  taskID,
	}
}
