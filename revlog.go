package worldhist

import "fmt"

// RevisionLog is the history of a single key: an ordered list of stored
// entries with a cursor (the current revision) and a saved-revision marker.
//
// The log is never empty; it is seeded with the key's original entry, even
// when that entry is absent. Undo at revision 0 and redo at the last revision
// are coordination bugs in the caller and panic.
type RevisionLog[V any] interface {
	// Changed reports whether the current revision differs from the saved one.
	Changed() bool

	// IsDeleted reports whether the current revision is absent.
	IsDeleted() bool

	// Current returns the entry at the current revision.
	Current() (Entry[V], error)

	// PutNewEntry discards revisions after the current one, appends e and
	// makes it current. On error the log is left exactly as it was.
	PutNewEntry(e Entry[V]) error

	Undo()
	Redo()
	MarkSaved()

	// Index returns the current revision index; Len the number of revisions.
	Index() int
	Len() int

	// Release frees resources held by stored revisions. The log must not be
	// used afterwards.
	Release() error
}

// LogFactory creates the revision log for a key on first touch.
type LogFactory[K comparable, V any] func(key K, initial Entry[V]) (RevisionLog[V], error)

// revisionCursor holds the index bookkeeping shared by both backends.
type revisionCursor struct {
	index int
	saved int
	count int
}

func (c *revisionCursor) changed() bool {
	return c.index != c.saved
}

// advance accounts for a new revision appended after the current one. When
// the saved revision lived in the discarded future, it can no longer be
// reached, so the log stays changed until the next save.
func (c *revisionCursor) advance() (discardFrom int) {
	discardFrom = c.index + 1
	if c.saved > c.index {
		c.saved = -1
	}
	c.index++
	c.count = c.index + 1
	return discardFrom
}

func (c *revisionCursor) undo() {
	if c.index <= 0 {
		panic(fmt.Errorf("cannot undo past revision 0 (index %d of %d)", c.index, c.count))
	}
	c.index--
}

func (c *revisionCursor) redo() {
	if c.index >= c.count-1 {
		panic(fmt.Errorf("cannot redo past the last revision (index %d of %d)", c.index, c.count))
	}
	c.index++
}

func (c *revisionCursor) markSaved() {
	c.saved = c.index
}

// memRevisionLog keeps revisions in RAM. Values are cloned on the way in and
// on the way out so in-place edits of a returned value never leak into
// history.
type memRevisionLog[V any] struct {
	cur       revisionCursor
	revisions []Entry[V]
	clone     func(V) V
}

// Cloner is implemented by values that can produce an independent copy of
// themselves.
type Cloner[V any] interface {
	Clone() V
}

// NewMemRevisionLog returns a RAM-backed revision log seeded with initial.
// clone may be nil only for values that are never modified in place (e.g.
// plain structs or strings); pointer values need a deep copy.
func NewMemRevisionLog[V any](initial Entry[V], clone func(V) V) RevisionLog[V] {
	log := &memRevisionLog[V]{
		cur:   revisionCursor{count: 1},
		clone: clone,
	}
	log.revisions = []Entry[V]{log.copyIn(initial)}
	return log
}

// MemLogs returns a LogFactory producing RAM-backed revision logs.
func MemLogs[K comparable, V any](clone func(V) V) LogFactory[K, V] {
	return func(key K, initial Entry[V]) (RevisionLog[V], error) {
		return NewMemRevisionLog(initial, clone), nil
	}
}

func (log *memRevisionLog[V]) copyIn(e Entry[V]) Entry[V] {
	if !e.Present {
		return Absent[V]()
	}
	v := e.Value
	if log.clone != nil {
		v = log.clone(v)
	}
	if c, ok := any(v).(Changeable); ok {
		c.SetChanged(false)
	}
	return Present(v)
}

func (log *memRevisionLog[V]) Changed() bool {
	return log.cur.changed()
}

func (log *memRevisionLog[V]) IsDeleted() bool {
	return !log.revisions[log.cur.index].Present
}

func (log *memRevisionLog[V]) Current() (Entry[V], error) {
	e := log.revisions[log.cur.index]
	if e.Present && log.clone != nil {
		return Present(log.clone(e.Value)), nil
	}
	return e, nil
}

func (log *memRevisionLog[V]) PutNewEntry(e Entry[V]) error {
	stored := log.copyIn(e)
	from := log.cur.advance()
	clear(log.revisions[from:])
	log.revisions = append(log.revisions[:from], stored)
	return nil
}

func (log *memRevisionLog[V]) Undo()      { log.cur.undo() }
func (log *memRevisionLog[V]) Redo()      { log.cur.redo() }
func (log *memRevisionLog[V]) MarkSaved() { log.cur.markSaved() }
func (log *memRevisionLog[V]) Index() int { return log.cur.index }
func (log *memRevisionLog[V]) Len() int   { return len(log.revisions) }

func (log *memRevisionLog[V]) Release() error {
	log.revisions = nil
	return nil
}
