package scoped

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/baxromumarov/scoped/v2/internal/thread"
)

// Spawner allows spawning concurrent tasks into a scope.
//
// Every task runs on its own goroutine with its own thread state, which
// starts with the scoped value bindings captured when the scope was
// created. A Spawner belongs to one goroutine: the root Spawner to the
// goroutine that created the scope, a task's Spawner to that task.
type Spawner interface {
	// Spawn starts a new concurrent task with the given name.
	// The task function receives a child Spawner allowing it to create sub-tasks.
	//
	// Spawn panics with a [*StructureViolationError] if the calling
	// goroutine has rebound scoped values since the scope was created.
	Spawn(name string, fn TaskFunc)

	// Go starts a task that does not spawn sub-tasks.
	Go(name string, fn func(ctx context.Context) error)
}

// spawner implements the Spawner interface and manages the lifecycle of tasks.
type spawner struct {
	s    *scope
	th   *thread.Thread
	open atomic.Bool
}

func newSpawner(s *scope, th *thread.Thread) *spawner {
	sp := &spawner{s: s, th: th}
	sp.open.Store(true)
	return sp
}

// Go implements Spawner.Go.
func (sp *spawner) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		panic("scoped: Go requires a non-nil task")
	}
	sp.Spawn(name, func(ctx context.Context, _ Spawner) error {
		return fn(ctx)
	})
}

// Spawn implements Spawner.Spawn.
func (sp *spawner) Spawn(name string, fn TaskFunc) {
	sp.spawn(name, fn, nil)
}

// spawn starts fn as a task. onSkip, if set, is called with the scope's
// cancellation cause when the task is dropped before it starts.
func (sp *spawner) spawn(name string, fn TaskFunc, onSkip func(cause error)) {
	if fn == nil {
		panic("scoped: Spawn requires a non-nil task")
	}
	// Check open BEFORE wg.Add to avoid TOCTOU race with finalize()'s wg.Wait().
	if !sp.open.Load() {
		panic("scoped: Spawn called after scope shutdown")
	}
	// The child inherits the scope's snapshot; refuse if the caller's
	// live bindings no longer match it.
	if currentSnapshot(sp.th) != sp.s.bindings {
		panic(violation(reasonChanged))
	}

	// A task spawned into a scope that is already cancelled never starts.
	// One forked before the cancellation runs with the cancelled context.
	cancelled := sp.s.ctx.Err() != nil

	sp.s.wg.Add(1)
	sp.s.totalSpawned.Add(1)

	info := TaskInfo{Name: name, ScopeID: sp.s.id}

	go func() {
		defer sp.s.wg.Done()

		if cancelled {
			sp.skip(onSkip)
			return
		}
		if sp.s.sem != nil {
			// Cancelled while waiting for a slot: the real cause is
			// already recorded, so this is not a task error.
			if err := sp.s.sem.Acquire(sp.s.ctx, 1); err != nil {
				sp.skip(onSkip)
				return
			}
			defer sp.s.sem.Release(1)
		}

		th := thread.Inherit(sp.s.bindings)
		ctx := thread.NewContext(sp.s.ctx, th)

		// child spawner is valid only for the lifetime of the task;
		// spawning after the task function returns will panic.
		child := newSpawner(sp.s, th)

		sp.s.activeTasks.Add(1)
		sp.s.emitEvent(TaskEvent{Kind: EventStarted, Task: info})

		start := time.Now()
		leaked := false
		// Hooks run inside exec() so panics are caught by recovery.
		err := sp.s.exec(ctx, func(ctx context.Context) (taskErr error) {
			var finishers []func(error)
			defer func() {
				r := recover()
				var pe *PanicError
				if r != nil {
					pe = asPanicError(r)
					taskErr = pe
				}
				// Scopes the task opened and never waited for end with it.
				if !th.Unwind(thread.Mark{}) {
					leaked = true
					taskErr = errors.Join(taskErr, violation(reasonTaskLeaked))
				}
				for i := len(finishers) - 1; i >= 0; i-- {
					finishers[i](taskErr)
				}
				if pe != nil {
					panic(pe)
				}
			}()
			for _, ic := range sp.s.cfg.interceptors {
				var finish func(error)
				ctx, finish = ic(ctx, info)
				if finish != nil {
					finishers = append(finishers, finish)
				}
			}
			if sp.s.cfg.onStart != nil {
				sp.s.cfg.onStart(info)
			}
			return fn(ctx, child)
		})
		elapsed := time.Since(start)

		child.close()

		if leaked && !errors.Is(err, ErrStructureViolation) {
			// The panic path re-raises the bare panic.
			err = errors.Join(err, violation(reasonTaskLeaked))
		}

		sp.s.activeTasks.Add(-1)

		if sp.s.cfg.onDone != nil {
			// onDone runs outside exec; a panic here is not recovered.
			sp.s.cfg.onDone(info, err, elapsed)
		}
		sp.s.emitCompletionEvent(info, err, elapsed)

		if err != nil {
			sp.s.recordError(info, err)
		}
	}()
}

func (sp *spawner) skip(onSkip func(error)) {
	if onSkip != nil {
		onSkip(context.Cause(sp.s.ctx))
	}
}

// close marks the spawner as closed, preventing further Spawn calls.
func (sp *spawner) close() {
	sp.open.Store(false)
}
