package thread

// Stackable is a bracketed resource opened on a Thread, such as a task
// scope. Resources are closed in LIFO order.
type Stackable interface {
	// ForceClose closes the resource on behalf of an enclosing extent
	// that is ending. It is called after the resource was popped.
	ForceClose()
}

// entry is one open resource. seq grows with every Push, so entries are
// ordered by seq from head to bottom.
type entry struct {
	res  Stackable
	seq  uint64
	prev *entry
}

// Mark identifies a point in a Thread's history: every resource pushed
// after Mark was taken belongs to it, whatever happened to older entries.
// The zero Mark covers every resource.
type Mark struct {
	seq uint64
}

// Push opens r on t.
func (t *Thread) Push(r Stackable) {
	t.opened++
	t.head = &entry{res: r, seq: t.opened, prev: t.head}
}

// Top returns the innermost open resource, or nil.
func (t *Thread) Top() Stackable {
	if t.head == nil {
		return nil
	}
	return t.head.res
}

// Mark returns a mark covering resources opened from now on.
func (t *Thread) Mark() Mark {
	return Mark{seq: t.opened + 1}
}

// Contains reports whether r is open on t.
func (t *Thread) Contains(r Stackable) bool {
	return t.find(r) != nil
}

// Unwind force-closes every resource opened after m that is still open,
// innermost first. It reports whether there was none.
func (t *Thread) Unwind(m Mark) bool {
	atTop := true
	for t.head != nil && t.head.seq >= m.seq {
		top := t.head
		t.head = top.prev
		atTop = false
		top.res.ForceClose()
	}
	return atTop
}

func (t *Thread) find(r Stackable) *entry {
	for e := t.head; e != nil; e = e.prev {
		if e.res == r {
			return e
		}
	}
	return nil
}

// Pop closes r. Resources opened after r are force-closed first, in which
// case Pop returns false. Popping a resource that is not open is a no-op.
func (t *Thread) Pop(r Stackable) bool {
	e := t.find(r)
	if e == nil {
		return true
	}
	atTop := t.Unwind(Mark{seq: e.seq + 1})
	t.head = e.prev
	return atTop
}
