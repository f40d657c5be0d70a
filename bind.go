package scoped

import (
	"context"
	"errors"
	"log/slog"

	"github.com/baxromumarov/scoped/v2/internal/thread"
)

// Run binds the mappings of c for the duration of op. Code running inside
// op, and tasks forked from it through a [Spawner], observe the bindings;
// once op returns or panics the previous bindings are restored.
//
// If ctx carries no thread state, a fresh one is attached for the call.
//
// Run returns a [*StructureViolationError] if op left a task scope or pool
// open; the leaked resource is closed before Run returns. A panic in op is
// re-raised after the bindings are restored. If op also leaked a resource,
// the re-raised value is an error joining the panic with the violation.
func (c *Carrier) Run(ctx context.Context, op func(ctx context.Context)) error {
	if op == nil {
		panic("scoped: Run requires a non-nil op")
	}
	return c.run(ctx, func(ctx context.Context) error {
		op(ctx)
		return nil
	})
}

// Supply binds the mappings of c for the duration of op and returns op's
// result. The result is returned alongside a structure violation, if any.
func Supply[R any](ctx context.Context, c *Carrier, op func(ctx context.Context) R) (R, error) {
	if op == nil {
		panic("scoped: Supply requires a non-nil op")
	}
	var r R
	err := c.run(ctx, func(ctx context.Context) error {
		r = op(ctx)
		return nil
	})
	return r, err
}

// Call binds the mappings of c for the duration of op and returns op's
// result and error. A structure violation is joined with op's error.
func Call[R any](ctx context.Context, c *Carrier, op func(ctx context.Context) (R, error)) (R, error) {
	if op == nil {
		panic("scoped: Call requires a non-nil op")
	}
	var r R
	err := c.run(ctx, func(ctx context.Context) error {
		var err error
		r, err = op(ctx)
		return err
	})
	return r, err
}

// RunWhere is shorthand for Where(k, v).Run(ctx, op).
func RunWhere[T any](ctx context.Context, k *Key[T], v T, op func(ctx context.Context)) error {
	return Where(k, v).Run(ctx, op)
}

// CallWhere is shorthand for Call(ctx, Where(k, v), op).
func CallWhere[T, R any](ctx context.Context, k *Key[T], v T, op func(ctx context.Context) (R, error)) (R, error) {
	return Call(ctx, Where(k, v), op)
}

func (c *Carrier) run(ctx context.Context, op func(ctx context.Context) error) (err error) {
	ctx, th := thread.Ensure(ctx)
	mask := c.mask()

	// The new mappings may shadow values already cached for these slots.
	cacheInvalidate(th, mask)

	prev := currentSnapshot(th)
	next := prev.push(c)
	mark := th.Mark()

	th.SetBindings(next)
	th.PushFrame(next)

	completed := false
	defer func() {
		atTop := th.Unwind(mark)

		th.PopFrame()
		th.SetBindings(prev)
		cacheInvalidate(th, mask)

		if atTop {
			return
		}
		sve := violation(reasonLeaked)
		if !completed {
			// A panic is unwinding: it continues, carrying the violation.
			r := recover()
			logger().Error("scoped: structure violation during panic",
				slog.String("reason", sve.Reason),
				slog.Any("panic", r),
			)
			panic(withViolation(r, sve))
		}
		err = errors.Join(err, sve)
	}()

	err = op(ctx)
	completed = true
	return err
}

// withViolation composes a panic value with a structure violation found
// while it unwound. Non-error values are wrapped in a [*PanicError].
func withViolation(r any, sve *StructureViolationError) error {
	err, ok := r.(error)
	if !ok {
		err = newPanicError(r)
	}
	return errors.Join(err, sve)
}

// currentSnapshot resolves the thread's bindings slot. A dropped fast
// pointer is recovered from the innermost active frame and stored back.
func currentSnapshot(th *thread.Thread) *snapshot {
	b := th.Bindings()
	if s, ok := b.(*snapshot); ok {
		return s
	}
	if b == thread.NewThreadBindings {
		return emptySnapshot
	}
	s, ok := th.FindBindings().(*snapshot)
	if !ok {
		s = emptySnapshot
	}
	th.SetBindings(s)
	return s
}
