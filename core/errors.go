package core

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateLane is returned when a stream starts for a (conversation,
	// agent) pair that already has an active lane.
	ErrDuplicateLane = errors.New("duplicate lane")

	// ErrUnknownLane is returned when an event addresses a lane that is not
	// active, either never opened or already closed.
	ErrUnknownLane = errors.New("unknown lane")

	// ErrAlreadyPromoted is returned when a message id is appended to a
	// conversation history twice.
	ErrAlreadyPromoted = errors.New("message already promoted")

	// ErrRegressiveToolStatus is returned when a tool-call patch would move
	// the lifecycle backwards.
	ErrRegressiveToolStatus = errors.New("regressive tool status")

	// ErrMalformedEvent is returned for events missing required fields.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrPersist wraps failures of the durable message store.
	ErrPersist = errors.New("persist message")
)

// LaneError attaches the failing operation and lane to an error.
type LaneError struct {
	Op  string
	Key LaneKey
	Err error
}

// NewLaneError wraps err for op on key.
func NewLaneError(op string, key LaneKey, err error) *LaneError {
	return &LaneError{Op: op, Key: key, Err: err}
}

func (e *LaneError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *LaneError) Unwrap() error { return e.Err }

// ErrorKind classifies failures surfaced at the aggregator boundary.
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindDuplicateLane    ErrorKind = "duplicate_lane"
	KindUnknownLane      ErrorKind = "unknown_lane"
	KindAlreadyPromoted  ErrorKind = "already_promoted"
	KindRegressiveStatus ErrorKind = "regressive_tool_status"
	KindMalformedEvent   ErrorKind = "malformed_event"
	KindPersist          ErrorKind = "persist"
	KindStreamError      ErrorKind = "stream_error"
	KindInternal         ErrorKind = "internal"
)

// Classify maps err onto the error taxonomy.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrDuplicateLane):
		return KindDuplicateLane
	case errors.Is(err, ErrUnknownLane):
		return KindUnknownLane
	case errors.Is(err, ErrAlreadyPromoted):
		return KindAlreadyPromoted
	case errors.Is(err, ErrRegressiveToolStatus):
		return KindRegressiveStatus
	case errors.Is(err, ErrMalformedEvent):
		return KindMalformedEvent
	case errors.Is(err, ErrPersist):
		return KindPersist
	default:
		return KindInternal
	}
}
