package scoped

import "context"

// Result holds the outcome of an asynchronous task that produces a typed
// value. Create one via [SpawnResult].
type Result[T any] struct {
	ch  chan struct{}
	val T
	err error
}

// SpawnResult spawns a named task that returns a typed value and wraps the
// outcome in a [Result]. The task runs within the scope of sp, inheriting
// its lifecycle, error policy and scoped value bindings.
//
//	r := scoped.SpawnResult(sp, "compute", func(ctx context.Context) (int, error) {
//	    return expensiveCalc(ctx)
//	})
//	val, err := r.Wait()
//
// If the scope is cancelled before the task starts, the Result completes
// with the scope's cancellation cause.
func SpawnResult[T any](
	sp Spawner,
	name string,
	fn func(ctx context.Context) (T, error),
) *Result[T] {
	if fn == nil {
		panic("scoped: SpawnResult requires a non-nil task")
	}
	r := &Result[T]{ch: make(chan struct{})}

	task := func(ctx context.Context, _ Spawner) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				pe := asPanicError(rec)
				r.complete(*new(T), pe)
				panic(pe)
			}
			r.complete(r.val, err)
		}()
		r.val, err = fn(ctx)
		return err
	}

	// Tasks skipped because the scope was cancelled never run fn.
	if s, ok := sp.(*spawner); ok {
		s.spawn(name, task, func(cause error) {
			r.complete(*new(T), cause)
		})
	} else {
		sp.Spawn(name, task)
	}

	return r
}

func (r *Result[T]) complete(v T, err error) {
	r.val, r.err = v, err
	close(r.ch)
}

// Wait blocks until the task completes and returns its value and error.
// It does not return early on scope cancellation.
func (r *Result[T]) Wait() (T, error) {
	<-r.ch
	return r.val, r.err
}

// Done returns a channel that is closed when the task completes.
func (r *Result[T]) Done() <-chan struct{} {
	return r.ch
}
