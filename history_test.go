package worldhist

import (
	"fmt"
	"strings"
	"testing"
)

type recordingHistory struct {
	*History[string]
	ops []string
}

func newRecordingHistory() *recordingHistory {
	r := &recordingHistory{}
	r.History = NewHistory(HistoryHooks[string]{
		Undo:      func(s []string) { r.ops = append(r.ops, "undo "+strings.Join(s, ",")) },
		Redo:      func(s []string) { r.ops = append(r.ops, "redo "+strings.Join(s, ",")) },
		MarkSaved: func() { r.ops = append(r.ops, "saved") },
	})
	return r
}

func (r *recordingHistory) takeOps() string {
	s := strings.Join(r.ops, "; ")
	r.ops = nil
	return s
}

func TestHistory_branchDestroysSavePoint(t *testing.T) {
	h := newRecordingHistory()
	for i := range 3 {
		deepEq(t, h.RegisterSnapshot([]string{fmt.Sprint(i)}), true)
	}
	h.MarkSaved()
	deepEq(t, h.UnsavedChanges(), 0)

	h.Undo()
	h.Undo()
	deepEq(t, h.state(), historyState{SnapshotIndex: 0, LastSaveSnapshot: 2, Snapshots: 3})
	deepEq(t, h.UnsavedChanges(), 2)

	h.RegisterSnapshot([]string{"x"})
	deepEq(t, h.state(), historyState{SnapshotIndex: 1, LastSaveSnapshot: 0, BranchSaveCount: 2, Snapshots: 2})
	deepEq(t, h.UnsavedChanges(), 3)

	// undoing to the branch point still can't reach the orphaned save
	h.Undo()
	deepEq(t, h.UnsavedChanges(), 2)

	h.MarkSaved()
	deepEq(t, h.UnsavedChanges(), 0)
	deepEq(t, h.Changed(), false)
}

func TestHistory_undoRedo(t *testing.T) {
	h := newRecordingHistory()
	deepEq(t, h.Undo(), false)
	deepEq(t, h.Redo(), false)
	deepEq(t, h.takeOps(), "")

	h.RegisterSnapshot([]string{"a", "b"})
	h.RegisterSnapshot([]string{"c"})
	deepEq(t, h.UndoCount(), 2)
	deepEq(t, h.RedoCount(), 0)
	deepEq(t, h.UnsavedChanges(), 2)

	deepEq(t, h.Undo(), true)
	deepEq(t, h.Undo(), true)
	deepEq(t, h.Undo(), false)
	deepEq(t, h.takeOps(), "undo c; undo a,b")
	deepEq(t, h.UndoCount(), 0)
	deepEq(t, h.RedoCount(), 2)
	deepEq(t, h.Changed(), false)

	deepEq(t, h.Redo(), true)
	deepEq(t, h.takeOps(), "redo a,b")
	deepEq(t, h.Snapshot(0), []string{"a", "b"})
	mustPanic(t, func() { h.Snapshot(2) })

	h.RegisterSnapshot([]string{"d"})
	deepEq(t, h.RedoCount(), 0)
	deepEq(t, h.Redo(), false)
	deepEq(t, h.Snapshot(1), []string{"d"})
}

func TestHistory_emptySnapshotIsNotRecorded(t *testing.T) {
	h := newRecordingHistory()
	deepEq(t, h.RegisterSnapshot(nil), false)
	deepEq(t, h.RegisterSnapshot([]string{}), false)
	deepEq(t, h.UndoCount(), 0)
	deepEq(t, h.Changed(), false)
}

func TestHistory_markSavedCallsHook(t *testing.T) {
	h := newRecordingHistory()
	h.RegisterSnapshot([]string{"a"})
	h.MarkSaved()
	deepEq(t, h.takeOps(), "saved")
	h.Undo()
	deepEq(t, h.UnsavedChanges(), 1)
	h.Redo()
	deepEq(t, h.UnsavedChanges(), 0)
}

func TestHistory_purge(t *testing.T) {
	h := newRecordingHistory()
	h.RegisterSnapshot([]string{"a"})
	h.RegisterSnapshot([]string{"b"})
	h.MarkSaved()
	h.Undo()
	h.RegisterSnapshot([]string{"c"})
	h.Purge()
	deepEq(t, h.state(), historyState{SnapshotIndex: -1, LastSaveSnapshot: -1})
	deepEq(t, h.UnsavedChanges(), 0)
	deepEq(t, h.Undo(), false)
}
