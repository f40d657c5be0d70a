package scoped

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Policy determines how a [Scope] handles errors from child tasks.
type Policy int

const (
	// FailFast cancels all sibling tasks when the first error occurs.
	// [Scope.Wait] returns the first error encountered.
	FailFast Policy = iota

	// Collect gathers all errors without cancelling siblings.
	// [Scope.Wait] returns all errors joined via [errors.Join].
	Collect
)

// TaskInfo provides metadata about a running task.
// It is passed to observability hooks registered via [WithOnStart],
// [WithOnDone], [WithOnEvent] and [WithInterceptor].
type TaskInfo struct {
	Name    string
	ScopeID uuid.UUID
}

// Interceptor decorates the context of a task before it runs. The returned
// finish function is called with the task's error once it returns.
// The returned context must be derived from ctx.
type Interceptor func(ctx context.Context, info TaskInfo) (context.Context, func(err error))

type config struct {
	policy       Policy
	limit        int
	maxErrors    int
	panicAsErr   bool
	onStart      func(TaskInfo)
	onDone       func(TaskInfo, error, time.Duration)
	onEvent      []func(TaskEvent)
	interceptors []Interceptor
}

// Option configures a [Scope].
type Option func(*config)

func defaultConfig() config {
	return config{
		policy: FailFast,
	}
}

// WithPolicy sets the error handling policy for the scope.
// It panics if p is not a known Policy value.
func WithPolicy(p Policy) Option {
	return func(c *config) {
		switch p {
		case FailFast, Collect:
			c.policy = p
		default:
			panic("scoped: invalid policy")
		}
	}
}

// WithLimit sets the maximum number of tasks that can execute
// concurrently within the scope. Tasks beyond the limit block until
// a slot becomes available or the scope is cancelled.
//
// A limit of zero (the default) means unlimited concurrency.
// WithLimit panics if n is negative.
func WithLimit(n int) Option {
	return func(c *config) {
		if n < 0 {
			panic("scoped: limit must be non-negative")
		}
		c.limit = n
	}
}

// WithMaxErrors caps the number of errors stored in [Collect] mode.
// Errors beyond the cap are counted by [Scope.DroppedErrors].
// Zero means no cap. WithMaxErrors panics if n is negative.
func WithMaxErrors(n int) Option {
	return func(c *config) {
		if n < 0 {
			panic("scoped: max errors must be non-negative")
		}
		c.maxErrors = n
	}
}

// WithPanicAsError converts panics in child tasks to [*PanicError]
// values returned as regular errors, instead of re-raising them
// in [Scope.Wait].
func WithPanicAsError() Option {
	return func(c *config) {
		c.panicAsErr = true
	}
}

// WithOnStart registers a hook invoked when each task begins executing.
// The hook runs inside the task's goroutine before the task function.
func WithOnStart(fn func(TaskInfo)) Option {
	return func(c *config) {
		c.onStart = fn
	}
}

// WithOnDone registers a hook invoked when each task finishes.
// The hook receives the task's error (nil on success) and wall-clock duration.
// The hook runs inside the task's goroutine after the task function returns.
func WithOnDone(fn func(TaskInfo, error, time.Duration)) Option {
	return func(c *config) {
		c.onDone = fn
	}
}

// WithOnEvent registers a hook receiving a [TaskEvent] for every task
// state change. Hooks registered by repeated calls run in order.
func WithOnEvent(fn func(TaskEvent)) Option {
	return func(c *config) {
		if fn != nil {
			c.onEvent = append(c.onEvent, fn)
		}
	}
}

// WithInterceptor registers an [Interceptor] wrapped around every task.
// Interceptors registered by repeated calls nest in order: the first one
// registered is the outermost.
func WithInterceptor(fn Interceptor) Option {
	return func(c *config) {
		if fn != nil {
			c.interceptors = append(c.interceptors, fn)
		}
	}
}
