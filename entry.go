package worldhist

// Changeable is implemented by values kept in a Store. The flag means
// "mutated since the value was last captured into a revision log".
type Changeable interface {
	Changed() bool
	SetChanged(changed bool)
}

// Entry is a value that may be absent. An absent entry records that the
// key's data does not exist (deleted or never created), which is different
// from having no record of the key at all.
type Entry[V any] struct {
	Value   V
	Present bool
}

func Present[V any](v V) Entry[V] {
	return Entry[V]{Value: v, Present: true}
}

func Absent[V any]() Entry[V] {
	return Entry[V]{}
}

func (e Entry[V]) IsAbsent() bool {
	return !e.Present
}

// Get returns the value, or ErrDoesNotExist for an absent entry.
func (e Entry[V]) Get() (V, error) {
	if !e.Present {
		var zero V
		return zero, ErrDoesNotExist
	}
	return e.Value, nil
}
