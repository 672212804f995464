package safego

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/pulsefit/pulsefit-client-go/internal/domain"
)

// Execute runs fn in a new goroutine and recovers any panic inside it,
// logging the panic value and a stack trace under the goroutine's name.
// Long-lived client goroutines (read loops, heartbeats, queue drains) are
// started through this so a panic in one cannot take down the host process.
func Execute(ctx context.Context, logger domain.Logger, goroutineName string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logCtx := ctx
				if ctx.Err() != nil {
					// The original context may already be done; logging
					// still has to happen.
					logCtx = context.Background()
				}
				logger.Error(logCtx, fmt.Sprintf("Panic recovered in goroutine: %s", goroutineName),
					"panic_info", fmt.Sprintf("%v", r),
					"stacktrace", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}
