// Package thread holds the per-goroutine execution state used by scoped
// values: the current bindings, the lookup cache, the stack of active
// bind-and-run frames and the stack of open bracketed resources.
//
// A Thread is owned by exactly one goroutine. It is carried through a
// call tree inside a [context.Context]; new goroutines get their own
// Thread from the task scope that starts them.
package thread

import (
	"context"
	"math/rand/v2"
)

// newThreadBindings marks a Thread that has never bound anything.
type newThreadBindings struct{}

// NewThreadBindings is the bindings value of a freshly created Thread.
// A nil bindings value means the fast pointer was dropped and the frame
// stack must be searched.
var NewThreadBindings any = newThreadBindings{}

// Slot is one physical position in the lookup cache.
type Slot struct {
	Key   any
	Value any
}

// Thread is the execution state of one goroutine.
type Thread struct {
	bindings any
	cache    []Slot
	victims  uint32

	frames []any
	head   *entry
	opened uint64
}

// New returns a Thread with no bindings and no cache.
func New() *Thread {
	return &Thread{
		bindings: NewThreadBindings,
		victims:  seed(),
	}
}

// Inherit returns a Thread whose bindings are b. b is also recorded as the
// outermost frame, so it survives [Thread.Unmount].
func Inherit(b any) *Thread {
	t := New()
	t.bindings = b
	t.frames = append(t.frames, b)
	return t
}

// seed returns a non-zero state for the victim generator.
func seed() uint32 {
	for {
		if v := rand.Uint32(); v != 0 {
			return v
		}
	}
}

// Bindings returns the raw bindings slot: an environment,
// NewThreadBindings, or nil when the frame stack must be searched.
func (t *Thread) Bindings() any { return t.bindings }

// SetBindings replaces the bindings slot.
func (t *Thread) SetBindings(b any) { t.bindings = b }

// Cache returns the lookup cache, or nil if none was allocated yet.
func (t *Thread) Cache() []Slot { return t.cache }

// SetCache installs a lookup cache.
func (t *Thread) SetCache(c []Slot) { t.cache = c }

// Victims returns the state of the victim-selection generator.
func (t *Thread) Victims() uint32 { return t.victims }

// SetVictims stores the state of the victim-selection generator.
func (t *Thread) SetVictims(v uint32) { t.victims = v }

// PushFrame records the bindings of a bind-and-run call that is starting.
func (t *Thread) PushFrame(b any) {
	t.frames = append(t.frames, b)
}

// PopFrame removes the innermost frame.
func (t *Thread) PopFrame() {
	if n := len(t.frames); n > 0 {
		t.frames[n-1] = nil
		t.frames = t.frames[:n-1]
	}
}

// FindBindings returns the bindings of the innermost active frame,
// or nil if no bind-and-run call is active on this Thread.
func (t *Thread) FindBindings() any {
	if n := len(t.frames); n > 0 {
		return t.frames[n-1]
	}
	return nil
}

// Unmount drops the fast bindings pointer and the cache. The next lookup
// recovers the bindings from the frame stack.
func (t *Thread) Unmount() {
	t.bindings = nil
	t.cache = nil
}

type ctxKey struct{}

// NewContext returns a copy of parent carrying t.
func NewContext(parent context.Context, t *Thread) context.Context {
	return context.WithValue(parent, ctxKey{}, t)
}

// FromContext returns the Thread carried by ctx, or nil.
func FromContext(ctx context.Context) *Thread {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(ctxKey{}).(*Thread)
	return t
}

// Ensure returns the Thread carried by ctx, attaching a new one if ctx
// has none.
func Ensure(ctx context.Context) (context.Context, *Thread) {
	if t := FromContext(ctx); t != nil {
		return ctx, t
	}
	t := New()
	return NewContext(ctx, t), t
}
