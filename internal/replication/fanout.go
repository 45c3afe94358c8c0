package replication

import (
	"context"
	"fmt"
	"time"
)

type reply[T any] struct {
	id  string
	val T
	err error
}

// fanOut calls fn for every replica concurrently. Calls run under their own
// timeout, detached from ctx cancellation, so a caller that stops waiting
// leaves them to finish or expire on their own.
func fanOut[T any](ctx context.Context, replicas []string, timeout time.Duration, fn func(context.Context, string) (T, error)) <-chan reply[T] {
	ch := make(chan reply[T], len(replicas))
	base := context.WithoutCancel(ctx)
	for _, id := range replicas {
		go func() {
			cctx, cancel := context.WithTimeout(base, timeout)
			defer cancel()
			v, err := fn(cctx, id)
			ch <- reply[T]{id: id, val: v, err: err}
		}()
	}
	return ch
}

// gather collects successful replies until need of them arrived, until need
// can no longer be reached, or until timeout or ctx ends. It returns the
// successes and the last error observed.
func gather[T any](ctx context.Context, ch <-chan reply[T], total, need int, timeout time.Duration) ([]reply[T], error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	oks := make([]reply[T], 0, need)
	failed := 0
	var lastErr error
	for len(oks) < need && total-failed >= need {
		select {
		case r := <-ch:
			if r.err != nil {
				failed++
				lastErr = r.err
				continue
			}
			oks = append(oks, r)
		case <-timer.C:
			return oks, fmt.Errorf("waited %s: %w", timeout, context.DeadlineExceeded)
		case <-ctx.Done():
			return oks, ctx.Err()
		}
	}
	return oks, lastErr
}
