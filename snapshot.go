package scoped

// snapshot is the full set of bindings active on a thread: the carrier
// bound by the innermost bind-and-run call followed by the snapshots of
// the enclosing calls. Snapshots are immutable and shared by reference
// with forked tasks.
type snapshot struct {
	bindings *Carrier
	prev     *snapshot

	// bitmask is the union of the bitmasks of every carrier reachable
	// from this snapshot.
	bitmask uint32
}

var emptySnapshot = &snapshot{}

func (s *snapshot) push(c *Carrier) *snapshot {
	return &snapshot{
		bindings: c,
		prev:     s,
		bitmask:  c.mask() | s.bitmask,
	}
}

// find walks from the innermost snapshot outwards and, inside each, from
// the latest mapping backwards. Bitmasks are cumulative, so once a node
// lacks one of the key's bits nothing behind it can hold the key.
func (s *snapshot) find(k *key) (any, bool) {
	bits := k.bitmask
	for ; s != nil && containsAll(s.bitmask, bits); s = s.prev {
		if v, ok := s.bindings.find(k); ok {
			return v, true
		}
	}
	return nil, false
}
