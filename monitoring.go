package worldhist

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	undoPointsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worldhist_undo_points_total",
		Help: "Total number of undo points recorded",
	})

	undoApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worldhist_undo_total",
		Help: "Total number of undo points reverted",
	})

	redoApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worldhist_redo_total",
		Help: "Total number of undo points reapplied",
	})

	firstTouches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worldhist_first_touch_total",
		Help: "Total number of keys populated from a backing store",
	})

	revisionsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worldhist_disk_revisions_written_total",
		Help: "Total number of revisions serialized by disk-backed revision logs",
	})

	revisionBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worldhist_disk_revision_bytes_total",
		Help: "Total size of revisions serialized by disk-backed revision logs",
	})
)

type StoreStats struct {
	Live           int
	PendingDeletes int
	History        int
	Revisions      int
	UndoCount      int
	RedoCount      int
}
