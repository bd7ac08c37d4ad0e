package journal

import (
	"fmt"
	"iter"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// EventKind is the type of a history event.
type EventKind uint8

const (
	EventUndoPoint EventKind = iota + 1
	EventUndo
	EventRedo
	EventSave
)

func (k EventKind) String() string {
	switch k {
	case EventUndoPoint:
		return "undo_point"
	case EventUndo:
		return "undo"
	case EventRedo:
		return "redo"
	case EventSave:
		return "save"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// Event is a history event as recorded in the journal.
type Event struct {
	Kind EventKind `msgpack:"k"`

	// Keys lists the keys recorded by an undo point, formatted as strings.
	Keys []string `msgpack:"keys,omitempty"`

	UndoCount int `msgpack:"u"`
	RedoCount int `msgpack:"r"`
	Unsaved   int `msgpack:"n"`

	// Time is filled in from the record timestamp when reading.
	Time time.Time `msgpack:"-"`
}

// Append writes ev as a single record and flushes it.
func (j *Journal) Append(ev Event) error {
	data, err := msgpack.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("journal: encoding %v: %w", ev.Kind, err)
	}
	err = j.WriteRecord(0, data)
	if err != nil {
		return err
	}
	return j.Commit()
}

// Events iterates over every event in the journal.
func (j *Journal) Events() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for rec, err := range j.Records() {
			if err != nil {
				yield(Event{}, err)
				return
			}
			var ev Event
			err = msgpack.Unmarshal(rec.Data, &ev)
			if err != nil {
				yield(Event{}, fmt.Errorf("journal: record %d: %w", rec.ID, err))
				return
			}
			ev.Time = time.Unix(int64(rec.Timestamp), 0).UTC()
			if !yield(ev, nil) {
				return
			}
		}
	}
}
