// Package scoped provides dynamically scoped values and the structured
// concurrency primitives that carry them into child tasks.
//
// A scoped value is an immutable binding of a [Key] to a value that is
// visible for the bounded extent of a call, on the goroutine making the
// call and in every task that goroutine forks through a [Spawner] while
// the binding is live. It replaces ad-hoc "request context" plumbing with
// bindings that cannot leak past the call that made them.
//
// # Binding and Reading
//
// Create keys once, bind them with [Where] and [And], and run code under
// the binding with [Carrier.Run], [Supply] or [Call]:
//
//	var user = scoped.NewKey[string]()
//
//	err := scoped.Where(user, "duke").Run(ctx, func(ctx context.Context) {
//	    name, err := user.Get(ctx) // "duke"
//	    ...
//	})
//
// Inner bindings shadow outer ones for their extent; the outer value is
// visible again once the inner call returns, even if it panicked.
// [Key.Get] reports an error matching [ErrUnbound] for a key with no
// binding; [Key.OrElse], [Key.OrElseErr] and [Key.IsBound] cover the
// other common cases.
//
// # Thread State
//
// Bindings belong to a goroutine's thread state, which travels in the
// [context.Context] passed down the call tree. [Carrier.Run] attaches
// fresh thread state when ctx has none. Give goroutines started outside
// a [Spawner] their own state with [Isolate].
//
// Each thread keeps a small lookup cache in front of its bindings. Its
// size comes from the SCOPED_CACHE_SIZE environment variable (see
// [CacheSizeEnv]); [ClearCache] and [Resync] drop it without changing
// what lookups return.
//
// # Structured Tasks
//
// [Run] and [New] create a task scope. Every task spawned into it starts
// with the bindings that were live when the scope was created:
//
//	err := scoped.RunWhere(ctx, user, "duke", func(ctx context.Context) {
//	    _ = scoped.Run(ctx, func(sp scoped.Spawner) {
//	        sp.Go("audit", func(ctx context.Context) error {
//	            name, _ := user.Get(ctx) // "duke"
//	            return audit(ctx, name)
//	        })
//	    })
//	})
//
// Error policies control how the scope reacts to task failures:
//
//   - [FailFast] (default): the first error cancels all sibling tasks.
//     [Scope.Wait] returns that first error.
//   - [Collect]: all errors are collected without cancelling siblings.
//     [Scope.Wait] returns all errors joined via [errors.Join].
//     Use [WithMaxErrors] to cap stored errors in high-volume scenarios.
//
// All task errors are wrapped in [*TaskError] for attribution. Use
// [IsTaskError], [TaskOf], [CauseOf], and [AllTaskErrors] to inspect them.
//
// By default, a panic in any task is captured with its stack trace and
// re-raised in [Scope.Wait]. Use [WithPanicAsError] to receive it as a
// [*PanicError] instead.
//
// # Structure Violations
//
// Task scopes and worker pools are bracketed resources of the goroutine
// that opened them and must be closed in reverse order of opening, within
// the binding that was live when they opened. When that nesting breaks,
// the package restores a consistent state and reports a
// [*StructureViolationError], matched by [ErrStructureViolation]:
//
//   - a [Carrier.Run] call that returns with a scope or pool still open
//     force-closes it and returns the violation;
//   - closing a resource while resources opened after it are still open
//     force-closes those first;
//   - a task that returns with a resource still open fails with the
//     violation;
//   - [Spawner.Spawn] panics if the caller's bindings changed since the
//     scope was created.
//
// # Helpers
//
//   - [ForEachSlice]: apply a function to every item in a slice concurrently.
//   - [MapSlice]: transform every item concurrently, preserving order.
//   - [SpawnResult]: spawn a task that returns a typed value via [Result].
//   - [SpawnTimeout]: spawn a task with a per-task deadline.
//   - [SpawnRetry]: spawn a task with exponential-backoff retries.
//   - [SpawnScope]: spawn a sub-scope as a single task.
//   - [Race]: return the first successful result and cancel the rest.
//
// [Pool] is a fixed-size worker pool whose workers inherit the bindings
// live when it was created.
//
// # Observability
//
// [WithOnStart], [WithOnDone], [WithOnEvent] and [WithInterceptor] hook
// into the task lifecycle. The observe subpackage builds Prometheus
// metrics and OpenTelemetry spans on top of them. Diagnostics, such as
// force-closed scopes, go to the logger set with [SetLogger].
package scoped
