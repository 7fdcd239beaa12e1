package rbridge

import (
	"context"
	"fmt"
)

// WithBridge manages bridge lifecycle with automatic cleanup.
//
// This helper creates a bridge, starts listening, executes the callback
// function, and ensures every worker is killed via Close() when done.
//
// If the callback returns an error, it is returned to the caller.
// If Close() fails, a warning is logged but does not override the callback's error.
//
// Example usage:
//
//	err := rbridge.WithBridge(ctx, func(b *rbridge.Bridge) error {
//	    w, err := b.Spawn("python3", "worker.py")
//	    if err != nil {
//	        return err
//	    }
//	    w.Emit("run", "job-1")
//	    <-w.Done()
//	    return w.ExitErr()
//	},
//	    rbridge.WithLogger(log),
//	    rbridge.WithKillTimeout(2*time.Second),
//	)
func WithBridge(ctx context.Context, fn func(*Bridge) error, opts ...Option) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	b := New(opts...)

	if err := b.Listen(ctx); err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}

	defer func() {
		if closeErr := b.Close(context.WithoutCancel(ctx)); closeErr != nil {
			b.log.Warn("failed to close bridge", "error", closeErr)
		}
	}()

	return fn(b)
}
