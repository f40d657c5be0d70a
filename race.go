package scoped

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// errRaceWon cancels the losers of a [Race] once a winner is known.
var errRaceWon = errors.New("scoped: race won by another task")

// Race runs all tasks concurrently in a scope and returns the result of
// the first task to succeed (return nil error). The contexts of remaining
// tasks are cancelled immediately upon the first success. Every task sees
// the scoped value bindings live on ctx.
//
// If all tasks fail, Race returns the zero value and the last error
// observed. If ctx is cancelled before any task succeeds, Race returns
// ctx.Err().
//
// If tasks is empty, Race returns (zero, nil).
//
// Race panics if any element of tasks is nil. A panicking task is
// re-raised once every task has returned.
func Race[T any](
	ctx context.Context,
	tasks ...func(context.Context) (T, error),
) (T, error) {
	var zero T
	if len(tasks) == 0 {
		return zero, nil
	}
	for i, fn := range tasks {
		if fn == nil {
			panic(fmt.Sprintf("scoped: Race task[%d] must not be nil", i))
		}
	}

	var (
		once    sync.Once
		won     bool
		winner  T
		mu      sync.Mutex
		lastErr error
	)

	sc, sp := New(ctx)
	for i, fn := range tasks {
		sp.Go(fmt.Sprintf("race[%d]", i), func(ctx context.Context) error {
			val, err := fn(ctx)
			if err != nil {
				// Losing is not a scope failure; only the last error is kept.
				mu.Lock()
				lastErr = err
				mu.Unlock()
				return nil
			}
			once.Do(func() {
				winner, won = val, true
				sc.Cancel(errRaceWon)
			})
			return nil
		})
	}

	if err := sc.Wait(); errors.Is(err, ErrStructureViolation) {
		return zero, err
	}

	if won {
		return winner, nil
	}
	if ctx.Err() != nil {
		return zero, ctx.Err()
	}
	return zero, lastErr
}
