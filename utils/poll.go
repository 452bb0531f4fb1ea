package utils

import (
	"context"
	"fmt"
	"time"
)

// ErrPollTimeout is wrapped by Poll when every attempt is exhausted.
var ErrPollTimeout = fmt.Errorf("condition not met")

// Poll invokes check up to maxAttempts times, sleeping interval between
// attempts. It returns nil as soon as check reports done, the check's own
// error if it fails hard, or a wrapped ErrPollTimeout after the final
// attempt. All bounded waits in the codebase (node readiness, kubeconfig
// materialization) go through this single helper instead of inline loops.
func Poll(ctx context.Context, maxAttempts int, interval time.Duration, check func() (done bool, err error)) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; ; attempt++ {
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if attempt >= maxAttempts {
			return fmt.Errorf("%w after %d attempts (%s apart)", ErrPollTimeout, maxAttempts, interval)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
