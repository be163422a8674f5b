package log

import (
	"context"
	"fmt"
	"runtime/debug"
)

// SafeGo runs fn in a new goroutine and recovers from panics,
// logging the panic value and stack trace instead of crashing the process.
// The name identifies the goroutine in log output.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				Error(CatServer, "goroutine panic recovered",
					"goroutine", name,
					"panic", fmt.Sprintf("%v", r),
					"stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}

// SafeGoWithContext is SafeGo for functions that take a context.
func SafeGoWithContext(ctx context.Context, name string, fn func(context.Context)) {
	SafeGo(name, func() { fn(ctx) })
}
