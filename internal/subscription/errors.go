package subscription

import (
	"errors"
	"fmt"
)

var ErrClosed = errors.New("subscription manager closed")

// TransportError is a failure of the shared feed connection. Retryable
// errors drive the reconnect loop; anything else moves the manager to Failed
// without retrying.
type TransportError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *TransportError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "transient"
	}
	return fmt.Sprintf("%s %s: %v", kind, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func Transient(op string, err error) error {
	return &TransportError{Op: op, Retryable: true, Err: err}
}

func Terminal(op string, err error) error {
	return &TransportError{Op: op, Retryable: false, Err: err}
}

// IsRetryable reports whether err should be retried. Errors that are not
// TransportErrors are treated as transient.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return err != nil
}

// ServerError is an error frame sent by the feed server for one filter.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return e.Code + ": " + e.Message
}
