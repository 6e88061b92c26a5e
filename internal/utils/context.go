package utils

import (
	"context"
	"fmt"
	"time"
)

// RunWithTimeout runs fn with a context cancelled after timeout and returns
// an error once the timeout elapses even if fn ignores its context.
func RunWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- fn(ctx)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return fmt.Errorf("timed out after %v: %w", timeout, ctx.Err())
	}
}
