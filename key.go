package scoped

import (
	"context"
	"fmt"
	"sync"

	"github.com/baxromumarov/scoped/v2/internal/thread"
)

// maxKeyAttempts bounds the search for a hash whose two table indices
// differ. The generator has full period, so the bound is never reached in
// practice.
const maxKeyAttempts = 1 << 20

var keyGen struct {
	mu   sync.Mutex
	next uint32
}

func init() {
	keyGen.next = 0xf0f0_f0f0
}

// nextHash advances the process-wide xorshift generator until it yields a
// hash whose primary and secondary indices differ under slotMask.
func nextHash(slotMask uint32) uint32 {
	keyGen.mu.Lock()
	defer keyGen.mu.Unlock()

	x := keyGen.next
	for i := 0; ; i++ {
		if i == maxKeyAttempts {
			panic("scoped: key generation exhausted")
		}
		x ^= x >> 12
		x ^= x << 9
		x ^= x >> 23
		if x&slotMask != (x>>indexBits)&slotMask {
			break
		}
	}
	keyGen.next = x
	return x
}

// key is the untyped identity of a [Key]. Keys are compared by pointer.
type key struct {
	hash      uint32
	primary   uint32
	secondary uint32
	bitmask   uint32
}

func (k *key) setHash(hash, slotMask uint32) {
	k.hash = hash
	k.primary = hash & slotMask
	k.secondary = (hash >> indexBits) & slotMask
	k.bitmask = 1<<k.primary | 1<<(k.secondary+tableSize)
}

func (k *key) String() string {
	return fmt.Sprintf("scoped.Key@%08x", k.hash)
}

// Key identifies one dynamically scoped value of type T.
//
// A Key is usually created once and stored in a package-level variable.
// Values are bound to it for the duration of a call with [Where] and
// [Carrier.Run], and read by any code running inside that call, on the
// same goroutine or in tasks forked through a [Spawner]:
//
//	var user = scoped.NewKey[string]()
//
//	err := scoped.Where(user, "duke").Run(ctx, func(ctx context.Context) {
//	    name, _ := user.Get(ctx) // "duke"
//	})
//
// Keys are safe for concurrent use.
type Key[T any] struct {
	key
}

// NewKey returns a new, distinct key.
func NewKey[T any]() *Key[T] {
	loadCacheConfig()
	k := &Key[T]{}
	k.setHash(nextHash(cacheConfig.slotMask), cacheConfig.slotMask)
	return k
}

// String returns an identifier derived from the key's hash.
func (k *Key[T]) String() string {
	return k.key.String()
}

// Get returns the value bound to k on the thread carried by ctx.
// If k is not bound, Get returns the zero value and an error matching
// [ErrUnbound].
func (k *Key[T]) Get(ctx context.Context) (T, error) {
	th := thread.FromContext(ctx)
	if th == nil {
		var zero T
		return zero, k.unbound()
	}
	if v, ok := cacheLookup(th, &k.key); ok {
		return cast[T](v), nil
	}
	return k.slowGet(th)
}

func (k *Key[T]) slowGet(th *thread.Thread) (T, error) {
	v, ok := currentSnapshot(th).find(&k.key)
	if !ok {
		var zero T
		return zero, k.unbound()
	}
	cachePut(th, &k.key, v)
	return cast[T](v), nil
}

// IsBound reports whether k has a binding on the thread carried by ctx.
func (k *Key[T]) IsBound(ctx context.Context) bool {
	th := thread.FromContext(ctx)
	if th == nil {
		return false
	}
	if _, ok := cacheLookup(th, &k.key); ok {
		return true
	}
	v, ok := currentSnapshot(th).find(&k.key)
	if ok {
		cachePut(th, &k.key, v)
	}
	return ok
}

// OrElse returns the value bound to k, or other if k is not bound.
func (k *Key[T]) OrElse(ctx context.Context, other T) T {
	if v, ok := k.find(ctx); ok {
		return cast[T](v)
	}
	return other
}

// OrElseErr returns the value bound to k. If k is not bound it returns the
// zero value and the error produced by errFn.
func (k *Key[T]) OrElseErr(ctx context.Context, errFn func() error) (T, error) {
	if errFn == nil {
		panic("scoped: OrElseErr requires a non-nil error function")
	}
	if v, ok := k.find(ctx); ok {
		return cast[T](v), nil
	}
	var zero T
	return zero, errFn()
}

// From returns the value mapped to k by c itself, ignoring any bindings
// that are currently active.
func (k *Key[T]) From(c *Carrier) (T, error) {
	if v, ok := c.find(&k.key); ok {
		return cast[T](v), nil
	}
	var zero T
	return zero, k.unbound()
}

func (k *Key[T]) find(ctx context.Context) (any, bool) {
	th := thread.FromContext(ctx)
	if th == nil {
		return nil, false
	}
	return currentSnapshot(th).find(&k.key)
}

func (k *Key[T]) unbound() error {
	return &UnboundError{Key: k.key.String()}
}

// cast converts a stored value back to T. A nil interface, stored when an
// interface-typed key is bound to nil, yields the zero value.
func cast[T any](v any) T {
	t, _ := v.(T)
	return t
}
