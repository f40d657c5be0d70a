package scoped

import (
	"context"

	"github.com/baxromumarov/scoped/v2/internal/thread"
)

// Isolate returns a copy of ctx carrying new, unbound thread state. Use it
// before handing a context to a goroutine that is not started through a
// [Spawner]: thread state belongs to one goroutine and must not be shared.
func Isolate(ctx context.Context) context.Context {
	return thread.NewContext(ctx, thread.New())
}

// ClearCache discards the lookup cache of the thread carried by ctx.
// Lookups keep returning the same values; only their cost changes.
func ClearCache(ctx context.Context) {
	if th := thread.FromContext(ctx); th != nil {
		cacheClear(th)
	}
}

// Resync drops both the lookup cache and the thread's pointer to its
// current bindings. The next read recovers the bindings from the innermost
// active [Carrier.Run] call. Call it after thread state has been handed
// from one goroutine to another.
func Resync(ctx context.Context) {
	if th := thread.FromContext(ctx); th != nil {
		th.Unmount()
	}
}
