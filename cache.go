package scoped

import (
	"math/bits"

	"github.com/baxromumarov/scoped/v2/internal/thread"
)

// The per-thread cache is a small table of (key, value) slots. Every key
// may live in its primary or its secondary slot. It only accelerates
// lookups; dropping it never changes what Get returns.

func cacheLookup(th *thread.Thread, k *key) (any, bool) {
	c := th.Cache()
	if c == nil {
		return nil, false
	}
	if s := &c[k.primary]; s.Key == k {
		return s.Value, true
	}
	if s := &c[k.secondary]; s.Key == k {
		return s.Value, true
	}
	return nil, false
}

func cachePut(th *thread.Thread, k *key, v any) {
	c := th.Cache()
	if c == nil {
		c = make([]thread.Slot, CacheSize())
		th.SetCache(c)
	}
	victim, other := k.primary, k.secondary
	if !choosePrimary(th) {
		victim, other = other, victim
	}
	c[victim] = thread.Slot{Key: k, Value: v}
	if c[other].Key == k {
		c[other].Value = v
	}
}

// choosePrimary advances the thread's xorshift state and picks the primary
// slot with probability 11/16.
func choosePrimary(th *thread.Thread) bool {
	x := th.Victims()
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	th.SetVictims(x)
	return x&15 >= 5
}

// cacheInvalidate clears every slot named by a key bitmask: the low half
// names primary slots, the high half secondary slots.
func cacheInvalidate(th *thread.Thread, mask uint32) {
	c := th.Cache()
	if c == nil || mask == 0 {
		return
	}
	slotMask := uint32(len(c) - 1)
	slots := mask>>tableSize | mask&primaryMask
	for slots != 0 {
		i := uint32(bits.TrailingZeros32(slots))
		c[i&slotMask] = thread.Slot{}
		slots &= slots - 1
	}
}

func cacheClear(th *thread.Thread) {
	th.SetCache(nil)
}
