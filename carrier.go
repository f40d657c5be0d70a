package scoped

// Carrier is an immutable set of key/value mappings waiting to be bound.
// Build one with [Where] and extend it with [And]; each call returns a new
// Carrier linked to the previous one, so carriers can be shared and reused.
//
// Mapping the same key twice shadows the earlier mapping.
type Carrier struct {
	key   *key
	value any
	prev  *Carrier

	// bitmask is the union of the key bitmasks of this mapping and every
	// mapping before it.
	bitmask uint32
}

// Where returns a Carrier mapping k to v.
func Where[T any](k *Key[T], v T) *Carrier {
	return And(nil, k, v)
}

// And returns a Carrier holding the mappings of c plus k to v. c may be nil.
func And[T any](c *Carrier, k *Key[T], v T) *Carrier {
	if k == nil {
		panic("scoped: nil key")
	}
	bitmask := k.bitmask
	if c != nil {
		bitmask |= c.bitmask
	}
	return &Carrier{
		key:     &k.key,
		value:   v,
		prev:    c,
		bitmask: bitmask,
	}
}

// find returns the most recent mapping for k in c.
func (c *Carrier) find(k *key) (any, bool) {
	bits := k.bitmask
	for ; c != nil && containsAll(c.bitmask, bits); c = c.prev {
		if c.key == k {
			return c.value, true
		}
	}
	return nil, false
}

func (c *Carrier) mask() uint32 {
	if c == nil {
		return 0
	}
	return c.bitmask
}

func containsAll(mask, bits uint32) bool {
	return mask&bits == bits
}
