package agq

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the server answers Nil for a single record.
	ErrNotFound = errors.New("agq: not found")
	// ErrUnexpectedReply is wrapped when a reply has the wrong shape for the operation.
	ErrUnexpectedReply = errors.New("agq: unexpected reply")
	ErrInvalidPlanID   = errors.New("agq: invalid plan id")
)

// ErrorKind classifies a TransportError.
type ErrorKind int

const (
	// KindConnect: the request never reached the server.
	KindConnect ErrorKind = iota + 1
	KindTimeout
	KindAuth
	KindProtocol
	// KindUnknownOutcome: the connection dropped after the request was fully
	// written and before a reply arrived. The server may have acted on it.
	KindUnknownOutcome
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindTimeout:
		return "timeout"
	case KindAuth:
		return "auth"
	case KindProtocol:
		return "protocol"
	case KindUnknownOutcome:
		return "unknown outcome"
	default:
		return "unknown"
	}
}

// TransportError reports a failure to complete one call.
type TransportError struct {
	Kind ErrorKind
	Op   string // first request word, e.g. "PLAN.SUBMIT" or "AUTH"
	Err  error
	// Sent is true once the full request had been written.
	Sent bool
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("agq: %s %s failed", e.Op, e.Kind)
	}
	return fmt.Sprintf("agq: %s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// OutcomeUnknown reports whether the server may have processed the request
// even though no usable reply was received.
func (e *TransportError) OutcomeUnknown() bool {
	switch e.Kind {
	case KindUnknownOutcome:
		return true
	case KindTimeout, KindProtocol:
		return e.Sent
	default:
		return false
	}
}

// RemoteError carries a Failure reply verbatim.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("agq: %s rejected: %s", e.Op, e.Message)
}
