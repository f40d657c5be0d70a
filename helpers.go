package scoped

import (
	"context"
	"fmt"
	"time"
)

// ForEachSlice executes fn for each item in the slice concurrently,
// using the provided options to control concurrency and error policy.
// Every call to fn sees the scoped value bindings live on ctx.
//
// This is a convenience wrapper around [Run] and [Spawner.Go].
//
//	err := scoped.ForEachSlice(ctx, urls, func(ctx context.Context, u string) error {
//	    return fetch(ctx, u)
//	}, scoped.WithLimit(10))
func ForEachSlice[T any](ctx context.Context, items []T, fn func(ctx context.Context, item T) error, opts ...Option) error {
	return Run(ctx, func(sp Spawner) {
		for i, item := range items {
			sp.Go(fmt.Sprintf("foreach[%d]", i), func(ctx context.Context) error {
				return fn(ctx, item)
			})
		}
	}, opts...)
}

// MapSlice executes fn for each item concurrently and collects the results
// in the same order as the input slice. It uses [FailFast] policy by
// default; pass [WithPolicy]([Collect]) to gather every error.
//
// On error, MapSlice returns nil and the error. On success, it returns the
// results slice and nil.
//
//	prices, err := scoped.MapSlice(ctx, products, func(ctx context.Context, p Product) (float64, error) {
//	    return fetchPrice(ctx, p)
//	}, scoped.WithLimit(5))
func MapSlice[T, R any](ctx context.Context, items []T, fn func(ctx context.Context, item T) (R, error), opts ...Option) ([]R, error) {
	results := make([]R, len(items))
	err := Run(ctx, func(sp Spawner) {
		for i, item := range items {
			sp.Go(fmt.Sprintf("map[%d]", i), func(ctx context.Context) error {
				r, err := fn(ctx, item)
				if err != nil {
					return err
				}
				results[i] = r // safe: each goroutine writes a unique index
				return nil
			})
		}
	}, opts...)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// SpawnScope spawns a task that runs a nested scope with its own options.
// The sub-scope's aggregated error becomes the task's error, so a sub-tree
// can use a different policy or limit than its parent.
//
// The nested scope is created on the task's goroutine and inherits the
// same scoped value bindings as the task.
func SpawnScope(sp Spawner, name string, fn func(sp Spawner), opts ...Option) {
	if fn == nil {
		panic("scoped: SpawnScope requires a non-nil function")
	}
	sp.Spawn(name, func(ctx context.Context, _ Spawner) error {
		return Run(ctx, fn, opts...)
	})
}

// SpawnTimeout spawns a task whose context is cancelled after d.
// A task that overruns returns [context.DeadlineExceeded] unless fn
// reports its own error first.
func SpawnTimeout(sp Spawner, name string, d time.Duration, fn TaskFunc) {
	if fn == nil {
		panic("scoped: SpawnTimeout requires a non-nil task")
	}
	sp.Spawn(name, func(ctx context.Context, sub Spawner) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return fn(ctx, sub)
	})
}

// SpawnRetry spawns a task that is retried up to retries more times while
// it fails, sleeping with exponential backoff starting at backoff between
// attempts. If the task's context ends during a backoff sleep, the task
// returns the context error.
//
// SpawnRetry panics if retries is negative or backoff is not positive.
func SpawnRetry(sp Spawner, name string, retries int, backoff time.Duration, fn TaskFunc) {
	if fn == nil {
		panic("scoped: SpawnRetry requires a non-nil task")
	}
	if retries < 0 {
		panic("scoped: SpawnRetry requires retries >= 0")
	}
	if backoff <= 0 {
		panic("scoped: SpawnRetry requires backoff > 0")
	}
	sp.Spawn(name, func(ctx context.Context, sub Spawner) error {
		var err error
		wait := backoff
		for attempt := 0; attempt <= retries; attempt++ {
			if err = fn(ctx, sub); err == nil {
				return nil
			}
			if attempt == retries {
				break
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			wait *= 2
		}
		return err
	})
}
