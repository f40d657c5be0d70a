// Scope provides structured concurrency for tasks that inherit scoped
// value bindings. It manages a group of goroutines with a coordinated
// lifecycle and error handling: tasks are spawned into the scope and
// joined by Wait, and every task starts with the bindings that were live
// when the scope was created.
//
// A Scope must be created via New() and finalized by calling Wait() on the
// goroutine that created it. While open, the scope is a bracketed resource
// of that goroutine: if a Carrier.Run call that opened it returns first,
// the scope is force-closed and Run reports a structure violation.
//
// Error handling is configurable:
//   - FailFast: The scope stops on the first error and cancels remaining tasks.
//   - Collect: All errors are collected and joined together at the end.
//
// Panics in tasks are captured and can be converted to errors (panicAsErr option) or
// re-panicked after scope finalization.
//
// Example usage:
//
//	sc, spawner := New(ctx)
//	spawner.Spawn("child", func(ctx context.Context, sp Spawner) error {
//	    user, _ := userKey.Get(ctx) // inherited from the creator
//	    return nil
//	})
//	err := sc.Wait()
package scoped

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/baxromumarov/scoped/v2/internal/thread"
)

// TaskFunc is the signature for a task function running within a scope.
// It receives a context (cancelled when the scope ends) carrying the
// task's own thread state, and a Spawner to spawn sub-tasks.
type TaskFunc func(ctx context.Context, sp Spawner) error

// scope internal
// it maintains the state of a structured concurrency scope.
type scope struct {
	id     uuid.UUID
	ctx    context.Context
	cancel context.CancelCauseFunc
	cfg    config

	// owner is the thread that created the scope; bindings is the
	// snapshot it had at that moment, inherited by every task.
	owner    *thread.Thread
	bindings *snapshot
	root     *spawner

	wg sync.WaitGroup

	firstErr atomicError // for concurrent access in Spawn and Wait
	errOnce  sync.Once

	errMu         sync.Mutex
	errs          []*TaskError
	droppedErrors int // errors exceeding maxErrors cap

	panicMu sync.Mutex
	panics  []*PanicError

	sem *semaphore.Weighted

	doneOnce sync.Once
	done     chan struct{}

	forced   atomic.Bool
	finOnce  sync.Once
	finErr   error
	finPanic *PanicError

	// Observability counters.
	totalSpawned atomic.Int64
	activeTasks  atomic.Int64
}

// atomicError holds the first error recorded in FailFast mode.
type atomicError struct {
	p atomic.Pointer[TaskError]
}

func (a *atomicError) Load() *TaskError {
	return a.p.Load()
}

func (a *atomicError) Store(te *TaskError) {
	a.p.Store(te)
}

// Run creates a [Scope], invokes fn with its root [Spawner], then waits for
// every spawned task to complete. It returns the aggregated error according to
// the configured [Policy] (default [FailFast]).
//
// Run is the primary entry point for structured concurrency. The scope is
// automatically finalized when fn returns, so no explicit cleanup is needed.
func Run(parent context.Context, fn func(sp Spawner), opts ...Option) (err error) {
	sc, sp := New(parent, opts...)

	defer func() {
		// Capture any panic from fn before cleanup.
		runPanic := recover()

		// Close the spawner, leave the owner's resource stack and wait
		// for all in-flight tasks.
		sc.close()

		// User panics take priority over task panics.
		if runPanic != nil {
			panic(runPanic)
		}
		if sc.panicVal != nil {
			panic(sc.panicVal)
		}

		err = sc.result
	}()

	fn(sp)
	return nil
}

// finalize waits for all tasks to complete and returns the aggregated error.
func (s *scope) finalize() (error, *PanicError) {
	s.finOnce.Do(func() {
		s.wg.Wait()

		// Check if context was cancelled externally (before cleanup).
		ctxWasCancelled := s.ctx.Err() != nil

		select {
		case <-s.ctx.Done():
		default:
			s.cancel(nil)
		}

		if !s.cfg.panicAsErr {
			s.panicMu.Lock()
			if len(s.panics) > 0 {
				s.finPanic = s.panics[0]
			}
			s.panicMu.Unlock()
		}

		switch s.cfg.policy {
		case FailFast:
			if v := s.firstErr.Load(); v != nil {
				s.finErr = v
			}
		case Collect:
			s.errMu.Lock()
			if len(s.errs) > 0 {
				errs := make([]error, 0, len(s.errs))
				for _, te := range s.errs {
					errs = append(errs, te)
				}
				s.finErr = errors.Join(errs...)
			}
			s.errMu.Unlock()
		}

		if s.forced.Load() {
			s.finErr = errors.Join(s.finErr, violation(reasonForcedClosing))
			return
		}

		// If no task errors were recorded but the context was cancelled
		// externally (before scope cleanup), surface the context error.
		if s.finErr == nil && ctxWasCancelled {
			s.finErr = s.ctx.Err()
		}
	})

	return s.finErr, s.finPanic
}

// ForceClose closes the scope on behalf of an enclosing extent that is
// ending while the scope is still open. Running tasks are cancelled and
// joined; their outcome is reported by a later [Scope.Wait].
func (s *scope) ForceClose() {
	s.root.close()
	s.forced.Store(true)
	s.cancel(violation(reasonLeaked))
	err, pe := s.finalize()

	attrs := []any{slog.String("scope", s.id.String())}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	if pe != nil {
		attrs = append(attrs, slog.Any("panic", pe.Value))
	}
	logger().Warn("scoped: force-closed task scope", attrs...)
}

// waitDone returns a channel closed once every task has returned.
func (s *scope) waitDone() <-chan struct{} {
	s.doneOnce.Do(func() {
		s.done = make(chan struct{})
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	return s.done
}

// exec runs a function with panic recovery.
func (s *scope) exec(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pe := asPanicError(r)
			if s.cfg.panicAsErr {
				err = pe
			} else {
				s.panicMu.Lock()
				s.panics = append(s.panics, pe)
				s.panicMu.Unlock()
				s.cancel(pe)
				err = pe
			}
		}
	}()
	return fn(ctx)
}

// emitEvent calls the onEvent hooks if registered.
func (s *scope) emitEvent(e TaskEvent) {
	for _, fn := range s.cfg.onEvent {
		fn(e)
	}
}

// emitCompletionEvent determines the correct EventKind for a completed task
// and emits the event via the onEvent hooks.
func (s *scope) emitCompletionEvent(info TaskInfo, err error, d time.Duration) {
	if len(s.cfg.onEvent) == 0 {
		return
	}

	var kind EventKind

	switch {
	case err == nil:
		kind = EventDone
	case errors.As(err, new(*PanicError)):
		kind = EventPanicked
	case s.ctx.Err() != nil:
		kind = EventCancelled
	default:
		kind = EventErrored
	}

	s.emitEvent(TaskEvent{
		Kind:     kind,
		Task:     info,
		Err:      err,
		Duration: d,
	})
}

// recordError records an error according to the configured policy.
func (s *scope) recordError(taskInfo TaskInfo, err error) {
	te := &TaskError{
		Task: taskInfo,
		Err:  err,
	}

	switch s.cfg.policy {
	case FailFast:
		s.errOnce.Do(
			func() {
				s.firstErr.Store(te)
				s.cancel(err)
			},
		)
	case Collect:
		s.errMu.Lock()
		if s.cfg.maxErrors > 0 && len(s.errs) >= s.cfg.maxErrors {
			s.droppedErrors++
		} else {
			s.errs = append(s.errs, te)
		}
		s.errMu.Unlock()
	}
}

// Scope wraps the internal scope state and exposes lifecycle and
// observability methods. Create one via [New]; finalize with [Scope.Wait].
type Scope struct {
	s        *scope
	once     sync.Once
	result   error
	panicVal *PanicError
}

// New creates a [Scope] and root [Spawner] for manual lifecycle control.
// The caller must call [Scope.Wait] to finalize the scope and collect errors.
//
// The scope captures the scoped value bindings live on the thread carried
// by parent; every task spawned into it inherits them. The root Spawner
// and Wait belong to the goroutine that called New.
//
// Prefer [Run] for most use cases; use New when you need to pass the
// [Spawner] across function boundaries or integrate with existing lifecycle
// management.
func New(parent context.Context, opts ...Option) (*Scope, Spawner) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	parent, owner := thread.Ensure(parent)
	ctx, cancel := context.WithCancelCause(parent)
	s := &scope{
		id:       uuid.New(),
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		owner:    owner,
		bindings: currentSnapshot(owner),
	}

	if cfg.limit > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.limit))
	}

	s.root = newSpawner(s, owner)
	owner.Push(s)

	return &Scope{s: s}, s.root
}

// close finalizes the scope once. Closing a scope while scopes nested in
// it are still open force-closes them and records a structure violation.
func (sc *Scope) close() {
	sc.once.Do(func() {
		sc.s.root.close()
		atTop := sc.s.owner.Pop(sc.s)
		sc.result, sc.panicVal = sc.s.finalize()
		if !atTop {
			sc.result = errors.Join(sc.result, violation(reasonOutOfOrder))
		}
	})
}

// Wait closes the root [Spawner], waits for all spawned tasks to complete,
// and returns the aggregated error. If a task panicked and [WithPanicAsError]
// was not set, Wait re-panics with the captured [*PanicError].
//
// Wait is idempotent; subsequent calls return the same result.
func (sc *Scope) Wait() error {
	sc.close()

	if sc.panicVal != nil {
		panic(sc.panicVal)
	}
	return sc.result
}

// WaitTimeout waits up to d for all tasks to complete. If they do, it
// behaves like [Scope.Wait]. Otherwise it returns
// [context.DeadlineExceeded] and leaves the scope open; the caller must
// still call Wait. No new tasks can be spawned from the root Spawner once
// WaitTimeout has been called.
func (sc *Scope) WaitTimeout(d time.Duration) error {
	sc.s.root.close()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-sc.s.waitDone():
		return sc.Wait()
	case <-timer.C:
		return context.DeadlineExceeded
	}
}

// Cancel cancels the scope's context with the given cause, signaling all
// tasks to stop. Subsequent calls have no additional effect on the context.
func (sc *Scope) Cancel(err error) {
	sc.s.cancel(err)
}

// Context returns the scope's context, which is cancelled when the scope
// finalizes or is explicitly cancelled via [Scope.Cancel].
func (sc *Scope) Context() context.Context {
	return sc.s.ctx
}

// ID returns the scope's unique identifier, also reported in [TaskInfo].
func (sc *Scope) ID() uuid.UUID {
	return sc.s.id
}

// ActiveTasks returns the number of tasks currently executing within the scope.
func (sc *Scope) ActiveTasks() int64 {
	return sc.s.activeTasks.Load()
}

// TotalSpawned returns the total number of tasks that have been spawned
// within the scope, including those that have already completed.
func (sc *Scope) TotalSpawned() int64 {
	return sc.s.totalSpawned.Load()
}

// DroppedErrors returns the number of errors that were not stored because
// the [WithMaxErrors] limit was reached. This is only meaningful in
// [Collect] mode.
func (sc *Scope) DroppedErrors() int {
	sc.s.errMu.Lock()
	defer sc.s.errMu.Unlock()

	return sc.s.droppedErrors
}
