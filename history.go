package worldhist

import (
	"fmt"
	"sync"
)

// Undoable is anything that can take part in undo/redo: a Store, a Composite,
// or a custom history-tracking object.
type Undoable interface {
	// CreateUndoPoint records the changes since the previous undo point and
	// reports whether anything was recorded.
	CreateUndoPoint(progress ProgressFunc) (bool, error)

	// RestoreLastUndoPoint discards changes made since the last undo point.
	RestoreLastUndoPoint()

	Undo() bool
	Redo() bool
	MarkSaved()
	UndoCount() int
	RedoCount() int
	UnsavedChanges() int
	Changed() bool
	Purge()
}

// HistoryHooks applies snapshots to the owner of a History.
type HistoryHooks[T any] struct {
	Undo      func(snapshot []T)
	Redo      func(snapshot []T)
	MarkSaved func()
}

// History is a linear stack of undo points. Each undo point (snapshot) lists
// the items that changed in it: keys for a Store, child histories for a
// Composite.
//
// The zero save reference (-1) corresponds to the initial state. Undoing past
// a saved undo point and then recording a new one destroys the saved branch;
// the distance to the orphaned save point can never be recovered by undo, so
// it is accumulated in branchSaveCount and the save reference moves to the
// branch point.
type History[T any] struct {
	hooks HistoryHooks[T]

	mu               sync.Mutex
	snapshots        [][]T
	snapshotIndex    int
	lastSaveSnapshot int
	branchSaveCount  int
}

// NewHistory returns an empty History applying snapshots via hooks.
func NewHistory[T any](hooks HistoryHooks[T]) *History[T] {
	h := &History[T]{}
	h.init(hooks)
	return h
}

func (h *History[T]) init(hooks HistoryHooks[T]) {
	h.hooks = hooks
	h.snapshotIndex = -1
	h.lastSaveSnapshot = -1
}

// RegisterSnapshot records a new undo point containing snapshot, discarding
// any redo history. An empty snapshot records nothing and returns false.
func (h *History[T]) RegisterSnapshot(snapshot []T) bool {
	if len(snapshot) == 0 {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.lastSaveSnapshot > h.snapshotIndex {
		h.branchSaveCount += h.lastSaveSnapshot - h.snapshotIndex
		h.lastSaveSnapshot = h.snapshotIndex
	}
	h.snapshotIndex++
	clear(h.snapshots[h.snapshotIndex:])
	h.snapshots = append(h.snapshots[:h.snapshotIndex], snapshot)
	return true
}

// Undo reverts the current undo point. It does nothing and returns false
// when there is nothing to undo.
func (h *History[T]) Undo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.snapshotIndex < 0 {
		return false
	}
	if h.hooks.Undo != nil {
		h.hooks.Undo(h.snapshots[h.snapshotIndex])
	}
	h.snapshotIndex--
	undoApplied.Inc()
	return true
}

// Redo reapplies the next undo point. It does nothing and returns false when
// there is nothing to redo.
func (h *History[T]) Redo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.snapshotIndex >= len(h.snapshots)-1 {
		return false
	}
	h.snapshotIndex++
	if h.hooks.Redo != nil {
		h.hooks.Redo(h.snapshots[h.snapshotIndex])
	}
	redoApplied.Inc()
	return true
}

// MarkSaved makes the current undo point the saved one.
func (h *History[T]) MarkSaved() {
	h.mu.Lock()
	h.lastSaveSnapshot = h.snapshotIndex
	h.branchSaveCount = 0
	h.mu.Unlock()
	if h.hooks.MarkSaved != nil {
		h.hooks.MarkSaved()
	}
}

// UndoCount is the number of times Undo can be called.
func (h *History[T]) UndoCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotIndex + 1
}

// RedoCount is the number of times Redo can be called.
func (h *History[T]) RedoCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.snapshots) - (h.snapshotIndex + 1)
}

// UnsavedChanges is the number of undo points separating the current state
// from the saved one, including those lost to destroyed save branches.
func (h *History[T]) UnsavedChanges() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return absDiff(h.snapshotIndex, h.lastSaveSnapshot) + h.branchSaveCount
}

func (h *History[T]) Changed() bool {
	return h.UnsavedChanges() != 0
}

// Snapshot returns a copy of the undo point at index i (0-based).
func (h *History[T]) Snapshot(i int) []T {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i < 0 || i >= len(h.snapshots) {
		panic(fmt.Errorf("snapshot %d out of range [0, %d)", i, len(h.snapshots)))
	}
	return append([]T(nil), h.snapshots[i]...)
}

// Purge resets the history to its initial state.
func (h *History[T]) Purge() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshots = nil
	h.snapshotIndex = -1
	h.lastSaveSnapshot = -1
	h.branchSaveCount = 0
}

type historyState struct {
	SnapshotIndex    int
	LastSaveSnapshot int
	BranchSaveCount  int
	Snapshots        int
}

func (h *History[T]) state() historyState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return historyState{h.snapshotIndex, h.lastSaveSnapshot, h.branchSaveCount, len(h.snapshots)}
}
