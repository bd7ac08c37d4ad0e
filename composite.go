package worldhist

import (
	"errors"
	"fmt"
	"sync"
)

// Composite aggregates independent Undoable children into a single undo
// stack. Each of its undo points records which children produced an undo
// point, and undo/redo replay only on those children.
//
// Children are registered as primary (e.g. world data) or secondary. Only
// primary children are consulted directly by Changed.
type Composite struct {
	*History[Undoable]

	mu        sync.Mutex
	primary   []Undoable
	secondary []Undoable
}

func NewComposite() *Composite {
	c := &Composite{}
	c.History = NewHistory(HistoryHooks[Undoable]{
		Undo: func(children []Undoable) {
			for _, child := range children {
				if !child.Undo() {
					panic(fmt.Errorf("child %v has nothing to undo", child))
				}
			}
		},
		Redo: func(children []Undoable) {
			for _, child := range children {
				if !child.Redo() {
					panic(fmt.Errorf("child %v has nothing to redo", child))
				}
			}
		},
		MarkSaved: func() {
			for _, child := range c.children(true, true) {
				child.MarkSaved()
			}
		},
	})
	return c
}

// Register adds a child to track.
func (c *Composite) Register(child Undoable, primary bool) {
	if child == nil {
		panic("nil child")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.primary {
		if existing == child {
			panic(fmt.Errorf("child %v registered twice", child))
		}
	}
	for _, existing := range c.secondary {
		if existing == child {
			panic(fmt.Errorf("child %v registered twice", child))
		}
	}
	if primary {
		c.primary = append(c.primary, child)
	} else {
		c.secondary = append(c.secondary, child)
	}
}

func (c *Composite) children(primary, secondary bool) []Undoable {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []Undoable
	if primary {
		result = append(result, c.primary...)
	}
	if secondary {
		result = append(result, c.secondary...)
	}
	return result
}

// CreateUndoPoint creates an undo point on every child and records the
// children that reported a change.
func (c *Composite) CreateUndoPoint(progress ProgressFunc) (bool, error) {
	return c.CreateUndoPointFor(true, true, progress)
}

// CreateUndoPointFor is like CreateUndoPoint but only includes the primary
// and/or secondary children.
//
// A child that fails still joins the undo point if it recorded anything, so
// the composite stays aligned with the child's own stack.
func (c *Composite) CreateUndoPointFor(primary, secondary bool, progress ProgressFunc) (bool, error) {
	children := c.children(primary, secondary)
	var snapshot []Undoable
	var errs []error
	for i, child := range children {
		n := float64(len(children))
		created, err := child.CreateUndoPoint(progress.Scale(float64(i)/n, float64(i+1)/n))
		if err != nil {
			errs = append(errs, err)
		}
		if created {
			snapshot = append(snapshot, child)
		}
	}
	progress.report(1, 1)
	created := c.RegisterSnapshot(snapshot)
	if created {
		undoPointsCreated.Inc()
	}
	return created, errors.Join(errs...)
}

// RestoreLastUndoPoint discards un-recorded changes on every child.
func (c *Composite) RestoreLastUndoPoint() {
	for _, child := range c.children(true, true) {
		child.RestoreLastUndoPoint()
	}
}

// Changed reports whether the composite has unsaved undo points or any
// primary child reports changes of its own.
func (c *Composite) Changed() bool {
	if c.History.Changed() {
		return true
	}
	for _, child := range c.children(true, false) {
		if child.Changed() {
			return true
		}
	}
	return false
}

// Purge resets the composite and every child.
func (c *Composite) Purge() {
	for _, child := range c.children(true, true) {
		child.Purge()
	}
	c.History.Purge()
}

var _ Undoable = (*Composite)(nil)
