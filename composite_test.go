package worldhist

import "testing"

func newTestComposite(t testing.TB) (c *Composite, a, b, sec *Store[string, *item]) {
	a = newTestStore(t, ramBackend, newTestBacking("a1", "a2"))
	b = newTestStore(t, diskBackend, newTestBacking("b1"))
	sec = newTestStore(t, ramBackend, newTestBacking("s1"))
	c = NewComposite()
	c.Register(a, true)
	c.Register(b, true)
	c.Register(sec, false)
	return
}

func TestComposite_undoOnlyTouchesRecordedChildren(t *testing.T) {
	c, a, b, _ := newTestComposite(t)

	edit(t, b, "b1", 10)
	deepEq(t, undoPoint(t, c), true)
	edit(t, a, "a1", 20)
	deepEq(t, undoPoint(t, c), true)
	deepEq(t, c.Snapshot(1), []Undoable{a})

	deepEq(t, c.Undo(), true)
	deepEq(t, get(t, a, "a1"), "a1=1")
	deepEq(t, get(t, b, "b1"), "b1=10")
	deepEq(t, a.UndoCount(), 0)
	deepEq(t, b.UndoCount(), 1)

	deepEq(t, c.Undo(), true)
	deepEq(t, get(t, b, "b1"), "b1=1")
	deepEq(t, c.Undo(), false)

	deepEq(t, c.Redo(), true)
	deepEq(t, b.UndoCount(), 1)
	deepEq(t, a.UndoCount(), 0)
	deepEq(t, c.Redo(), true)
	deepEq(t, get(t, a, "a1"), "a1=20")
	deepEq(t, c.Redo(), false)
}

func TestComposite_emptyUndoPoint(t *testing.T) {
	c, a, _, _ := newTestComposite(t)
	_, _ = a.Get("a1")
	deepEq(t, undoPoint(t, c), false)
	deepEq(t, c.UndoCount(), 0)
}

func TestComposite_changed(t *testing.T) {
	c, a, _, sec := newTestComposite(t)
	deepEq(t, c.Changed(), false)

	edit(t, sec, "s1", 2)
	deepEq(t, c.Changed(), false)
	deepEq(t, undoPoint(t, c), true)
	deepEq(t, c.Changed(), true)

	c.MarkSaved()
	deepEq(t, c.Changed(), false)
	deepEq(t, sec.Changed(), false)

	// live edits on a primary child count even without an undo point
	edit(t, a, "a2", 5)
	deepEq(t, c.Changed(), true)
	c.RestoreLastUndoPoint()
	deepEq(t, c.Changed(), false)
	deepEq(t, get(t, a, "a2"), "a2=2")
}

func TestComposite_createUndoPointFor(t *testing.T) {
	c, a, _, sec := newTestComposite(t)
	edit(t, a, "a1", 3)
	edit(t, sec, "s1", 4)

	var progress []float64
	created, err := c.CreateUndoPointFor(false, true, func(p float64) { progress = append(progress, p) })
	ensure(err)
	deepEq(t, created, true)
	deepEq(t, c.Snapshot(0), []Undoable{sec})
	deepEq(t, a.UndoCount(), 0)
	deepEq(t, progress[len(progress)-1], 1.0)

	undoPoint(t, c)
	deepEq(t, c.Snapshot(1), []Undoable{a})
	deepEq(t, c.UnsavedChanges(), 2)
}

func TestComposite_register(t *testing.T) {
	c, a, _, _ := newTestComposite(t)
	mustPanic(t, func() { c.Register(a, false) })
	mustPanic(t, func() { c.Register(nil, true) })
}

func TestComposite_nested(t *testing.T) {
	inner, a, _, _ := newTestComposite(t)
	outer := NewComposite()
	outer.Register(inner, true)

	edit(t, a, "a1", 9)
	deepEq(t, undoPoint(t, outer), true)
	deepEq(t, inner.UndoCount(), 1)
	deepEq(t, outer.Undo(), true)
	deepEq(t, get(t, a, "a1"), "a1=1")
	deepEq(t, outer.Redo(), true)
	deepEq(t, get(t, a, "a1"), "a1=9")
}

func TestComposite_purge(t *testing.T) {
	c, a, b, _ := newTestComposite(t)
	edit(t, a, "a1", 3)
	edit(t, b, "b1", 3)
	undoPoint(t, c)
	c.Purge()
	deepEq(t, c.UndoCount(), 0)
	deepEq(t, a.UndoCount(), 0)
	deepEq(t, get(t, b, "b1"), "b1=1")
}
