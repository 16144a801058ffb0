package provider

import (
	"context"
	"fmt"
	"time"
)

// GetFunc fetches the current state of one job.
type GetFunc func(ctx context.Context) (*Prediction, error)

// WaitForCompletion polls get every interval until the job is terminal or
// timeout elapses. On timeout it returns ErrTimeout; the provider job itself
// keeps running. Transient errors from get (see IsTransient) are retried on
// the next tick; any other error ends the wait.
func WaitForCompletion(ctx context.Context, get GetFunc, interval, timeout time.Duration) (*Prediction, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	for {
		p, err := get(ctx)
		switch {
		case err == nil && p.Status.IsTerminal():
			return p, nil
		case err == nil:
			last = string(p.Status)
		case IsTransient(err):
			last = err.Error()
		default:
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		case <-deadline.C:
			return nil, fmt.Errorf("%w: no terminal status after %s (last: %s)", ErrTimeout, timeout, last)
		case <-ticker.C:
		}
	}
}
