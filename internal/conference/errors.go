package conference

import (
	"errors"
	"fmt"
)

var (
	ErrSignaling             = errors.New("signaling server error")
	ErrUnsupportedEngine     = errors.New("media engine cannot handle router capabilities")
	ErrNegotiationRefused    = errors.New("server refused consumer negotiation")
	ErrProtocolInconsistency = errors.New("protocol inconsistency")
	ErrMediaUnavailable      = errors.New("local media unavailable")
	ErrAlreadyProducing      = errors.New("already producing")
	ErrNoChannel             = errors.New("no signaling channel")
	ErrNotReady              = errors.New("not ready")
)

// Error records the operation and, for receive-path failures, the remote
// producer it concerns.
type Error struct {
	Op         string
	ProducerID string
	Err        error
	Details    string
}

func (e *Error) Error() string {
	if e.ProducerID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.ProducerID, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a failure of op.
func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

// NewProducerError wraps err as a failure of op for one remote producer.
func NewProducerError(op, producerID string, err error) *Error {
	return &Error{Op: op, ProducerID: producerID, Err: err}
}

// WrapError wraps err as a failure of op with extra details.
func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

// serverError classifies a refusal carried in a response body.
func serverError(kind error, msg string) error {
	return fmt.Errorf("%w: %s", kind, msg)
}

// requestError classifies a failed signaling round trip under ErrSignaling
// while keeping the transport error inspectable.
func requestError(err error) error {
	if errors.Is(err, ErrSignaling) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrSignaling, err)
}
