package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrNotConfigured = errors.New("provider not configured")
	ErrUpstream      = errors.New("provider returned an error")
	ErrTimeout       = errors.New("provider timeout")
	ErrUnreachable   = errors.New("provider unreachable")
)

// ClassifyTransportError maps transport-level errors to sentinel errors.
func ClassifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// StatusError is a non-2xx provider response. It matches ErrUpstream.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %s: status %d: %s", ErrUpstream, e.Op, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrUpstream
}

// IsTransient reports whether repeating the same request may succeed:
// transport failures, timeouts, throttling and 5xx responses.
func IsTransient(err error) bool {
	if errors.Is(err, ErrUnreachable) || errors.Is(err, ErrTimeout) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError || se.Code == http.StatusTooManyRequests
	}
	return false
}
