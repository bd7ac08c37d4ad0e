package worldhist

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
)

func get(t testing.TB, s *Store[string, *item], key string) string {
	t.Helper()
	v, err := s.Get(key)
	if errors.Is(err, ErrDoesNotExist) && !IsLoadError(err) {
		return "<absent>"
	} else if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	return v.String()
}

func edit(t testing.TB, s *Store[string, *item], key string, n int) {
	t.Helper()
	v, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get(%q): %v", key, err)
	}
	v.N = n
	s.Put(key, v)
}

func undoPoint(t testing.TB, s Undoable) bool {
	t.Helper()
	created, err := s.CreateUndoPoint(nil)
	if err != nil {
		t.Fatalf("CreateUndoPoint: %v", err)
	}
	return created
}

func sorted[K comparable](m map[K]struct{}, less func(a, b K) int) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, less)
	return keys
}

func TestStore_undoRedoRoundTrip(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		s := newTestStore(t, b, newTestBacking("a", "b"))
		deepEq(t, get(t, s, "a"), "a=1")
		edit(t, s, "a", 10)
		deepEq(t, undoPoint(t, s), true)
		deepEq(t, get(t, s, "a"), "a=10")

		edit(t, s, "a", 20)
		edit(t, s, "b", 30)
		deepEq(t, undoPoint(t, s), true)
		deepEq(t, s.UndoCount(), 2)

		deepEq(t, s.Undo(), true)
		deepEq(t, get(t, s, "a"), "a=10")
		deepEq(t, get(t, s, "b"), "b=2")
		deepEq(t, s.Undo(), true)
		deepEq(t, get(t, s, "a"), "a=1")
		deepEq(t, s.Undo(), false)

		deepEq(t, s.Redo(), true)
		deepEq(t, s.Redo(), true)
		deepEq(t, get(t, s, "a"), "a=20")
		deepEq(t, get(t, s, "b"), "b=30")
		deepEq(t, s.Redo(), false)
	})
}

func TestStore_inPlaceEditsDoNotLeakIntoHistory(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		s := newTestStore(t, b, newTestBacking("a"))
		v, _ := s.Get("a")
		v.N = 99 // not marked changed
		deepEq(t, undoPoint(t, s), false)
		deepEq(t, get(t, s, "a"), "a=1")
	})
}

func TestStore_deleteThenUndo(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		s := newTestStore(t, b, newTestBacking("a"))
		s.Delete("a")
		deepEq(t, s.Has("a"), false)
		deepEq(t, s.Known("a"), true)
		deepEq(t, s.ChangedKeys(), []string{"a"})
		deepEq(t, undoPoint(t, s), true)
		deepEq(t, get(t, s, "a"), "<absent>")

		// deleting a deleted key records nothing
		s.Delete("a")
		deepEq(t, s.ChangedKeys(), []string{"a"})
		deepEq(t, undoPoint(t, s), false)

		s.Undo()
		deepEq(t, s.Has("a"), true)
		deepEq(t, get(t, s, "a"), "a=1")
		deepEq(t, s.Changed(), false)
	})
}

func TestStore_newKey(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		backing := newTestBacking()
		s := newTestStore(t, b, backing)
		deepEq(t, s.Exists("n"), false)
		s.Put("n", &item{Name: "n", N: 5})
		deepEq(t, s.Has("n"), true)
		deepEq(t, undoPoint(t, s), true)
		deepEq(t, backing.Fetches("n"), 1)

		s.Undo()
		deepEq(t, s.Has("n"), false)
		deepEq(t, get(t, s, "n"), "<absent>")
		s.Redo()
		deepEq(t, get(t, s, "n"), "n=5")
	})
}

func TestStore_firstTouchHappensOnce(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		backing := newTestBacking("a")
		s := newTestStore(t, b, backing)

		const n = 16
		results := make([]string, n)
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := s.Get("a")
				if err != nil {
					t.Error(err)
					return
				}
				results[i] = v.String()
			}()
		}
		wg.Wait()
		deepEq(t, backing.Fetches("a"), 1)
		for _, r := range results {
			deepEq(t, r, "a=1")
		}

		s.Unload(nil)
		deepEq(t, get(t, s, "a"), "a=1")
		deepEq(t, backing.Fetches("a"), 1)
	})
}

func TestStore_foldWithoutChangesIsNoop(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		s := newTestStore(t, b, newTestBacking("a"))
		edit(t, s, "a", 2)
		keys, err := s.FoldIntoHistory(nil)
		ensure(err)
		deepEq(t, keys, []string{"a"})

		keys, err = s.FoldIntoHistory(nil)
		ensure(err)
		deepEq(t, len(keys), 0)
		deepEq(t, s.RegisterSnapshot(keys), false)
	})
}

func TestStore_allKeysDeletedWins(t *testing.T) {
	s := newTestStore(t, ramBackend, newTestBacking("a", "b", "c", "d"))
	backing := newTestBacking("a", "b", "c", "d")

	s.Delete("a")
	s.Delete("b")
	undoPoint(t, s)
	s.Put("b", &item{Name: "b"}) // live wins over history
	s.Put("e", &item{Name: "e"})
	_, _ = s.Get("c")
	s.Delete("c") // pending

	// raw keys are expected to be pre-filtered
	keys := s.AllKeys(func(k string) bool { return k != "d" }, backing.Keys())
	deepEq(t, sorted(keys, strings.Compare), []string{"b", "d", "e"})

	keys = s.AllKeys(func(k string) bool { return k != "d" }, nil)
	deepEq(t, sorted(keys, strings.Compare), []string{"b", "e"})
}

func TestStore_changedKeys(t *testing.T) {
	s := newTestStore(t, ramBackend, newTestBacking("a", "b", "c"))
	edit(t, s, "a", 5)
	_, _ = s.Get("b")
	s.Delete("c")
	deepEq(t, sorted(keySet(s.ChangedKeys()), strings.Compare), []string{"a", "c"})

	undoPoint(t, s)
	// history moved away from the saved revisions
	deepEq(t, sorted(keySet(s.ChangedKeys()), strings.Compare), []string{"a", "c"})

	s.MarkSaved()
	deepEq(t, len(s.ChangedKeys()), 0)
	deepEq(t, s.Changed(), false)

	s.Undo()
	deepEq(t, sorted(keySet(s.ChangedKeys()), strings.Compare), []string{"a", "c"})
	deepEq(t, s.Changed(), true)
}

func keySet[K comparable](keys []K) map[K]struct{} {
	m := make(map[K]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}

func TestStore_loadError(t *testing.T) {
	backing := newTestBacking("a")
	backing.broken["a"] = true
	s := newTestStore(t, ramBackend, backing)

	_, err := s.Get("a")
	if !errors.Is(err, ErrDoesNotExist) || !IsLoadError(err) {
		t.Fatalf("Get = %v, wanted a LoadError", err)
	}
	deepEq(t, s.Known("a"), false)

	// not cached: a later attempt hits the backing store again
	backing.broken["a"] = false
	deepEq(t, get(t, s, "a"), "a=1")
	deepEq(t, backing.Fetches("a"), 2)
}

func TestStore_partialFoldFailure(t *testing.T) {
	blobs := NewMemBlobStore()
	s := NewStore[string, *item](newTestBacking("a", "b"), Options[string, *item]{
		Name:   "items",
		NewLog: DiskLogs[string, *item](blobs, explodingCodec{itemCodec()}, func(k string) string { return "items/" + k }),
	})
	defer s.Purge()

	edit(t, s, "a", 7)
	v, err := s.Get("b")
	ensure(err)
	v.Name = "boom"
	s.Put("b", v)

	created, err := s.CreateUndoPoint(nil)
	deepEq(t, created, true)
	var ke *KeyError
	if !errors.As(err, &ke) || ke.Key != "b" {
		t.Fatalf("CreateUndoPoint err = %v, wanted a KeyError for b", err)
	}
	deepEq(t, s.Snapshot(0), []string{"a"})
	deepEq(t, get(t, s, "a"), "a=7")

	// the failed key stays live and is retried next time
	deepEq(t, s.Stats().Live, 2)
	deepEq(t, sorted(keySet(s.ChangedKeys()), strings.Compare), []string{"a", "b"})
	_, err = s.CreateUndoPoint(nil)
	if err == nil {
		t.Fatal("second CreateUndoPoint succeeded, wanted an error")
	}
}

func TestStore_existsAndKnown(t *testing.T) {
	backing := newTestBacking("a")
	s := newTestStore(t, ramBackend, backing)
	deepEq(t, s.Has("a"), false)
	deepEq(t, s.Exists("a"), true)
	deepEq(t, s.Known("a"), false)
	deepEq(t, backing.Fetches("a"), 0)

	s.Delete("a")
	deepEq(t, s.Exists("a"), false)
	deepEq(t, s.Known("a"), true)
	deepEq(t, s.Exists("zzz"), false)
}

func TestStore_unloadUnchanged(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		s := newTestStore(t, b, newTestBacking("a", "b", "c"))
		edit(t, s, "a", 3)
		_, _ = s.Get("b")
		s.Delete("c")
		deepEq(t, s.Stats().Live, 3)

		s.UnloadUnchanged()
		deepEq(t, s.Stats().Live, 2)
		deepEq(t, get(t, s, "a"), "a=3")
		deepEq(t, s.Has("c"), false)

		s.Unload(func(k string) bool { return k == "c" })
		deepEq(t, s.Exists("c"), true)
	})
}

func TestStore_restoreLastUndoPoint(t *testing.T) {
	eachBackend(t, func(t *testing.T, b backend) {
		s := newTestStore(t, b, newTestBacking("a"))
		edit(t, s, "a", 2)
		undoPoint(t, s)
		edit(t, s, "a", 3)
		s.Put("new", &item{Name: "new"})

		s.RestoreLastUndoPoint()
		deepEq(t, get(t, s, "a"), "a=2")
		deepEq(t, s.Has("new"), false)
		deepEq(t, s.UndoCount(), 1)
	})
}

func TestStore_stats(t *testing.T) {
	s := newTestStore(t, ramBackend, newTestBacking("a", "b"))
	edit(t, s, "a", 2)
	s.Delete("b")
	undoPoint(t, s)
	edit(t, s, "a", 3)
	undoPoint(t, s)
	s.Undo()
	s.Delete("a")

	deepEq(t, s.Stats(), StoreStats{
		Live:           1,
		PendingDeletes: 1,
		History:        2,
		Revisions:      5,
		UndoCount:      1,
		RedoCount:      1,
	})
}

func TestStore_purge(t *testing.T) {
	blobs := NewMemBlobStore()
	backing := newTestBacking("a")
	s := NewStore[string, *item](backing, Options[string, *item]{
		NewLog: DiskLogs[string](BlobStore(blobs), itemCodec(), func(k string) string { return "items/" + k }),
	})
	edit(t, s, "a", 2)
	undoPoint(t, s)
	deepEq(t, blobs.Len(), 2)

	s.Purge()
	deepEq(t, blobs.Len(), 0)
	deepEq(t, s.Stats(), StoreStats{})
	deepEq(t, get(t, s, "a"), "a=1")
	deepEq(t, backing.Fetches("a"), 2)
}

func TestStore_dump(t *testing.T) {
	s := newTestStore(t, ramBackend, newTestBacking("a", "b"))
	edit(t, s, "a", 2)
	undoPoint(t, s)
	s.Delete("b")

	deepEq(t, s.Dump(DumpLive|DumpLiveValues|DumpHistory|DumpSnapshots), strings.Join([]string{
		dumpSep2,
		"items.live b = <deleted>",
		dumpSep2,
		"items.hist a = rev 1/2 (changed)",
		dumpSep2,
		"items.undo*0: a",
		"",
	}, "\n"))
}

func TestStore_defaultOptionsCloneValues(t *testing.T) {
	backing := newTestBacking("a")
	s := NewStore[string, *item](backing, Options[string, *item]{})
	defer s.Purge()

	edit(t, s, "a", 10)
	undoPoint(t, s)
	edit(t, s, "a", 20)
	undoPoint(t, s)

	deepEq(t, s.Undo(), true)
	deepEq(t, get(t, s, "a"), "a=10")
	deepEq(t, s.Undo(), true)
	deepEq(t, get(t, s, "a"), "a=1")
	deepEq(t, s.Redo(), true)
	deepEq(t, get(t, s, "a"), "a=10")
	deepEq(t, s.Redo(), true)
	deepEq(t, get(t, s, "a"), "a=20")
}

type opaque struct{ changed bool }

func (o *opaque) Changed() bool           { return o.changed }
func (o *opaque) SetChanged(changed bool) { o.changed = changed }

type opaqueBacking struct{}

func (opaqueBacking) FetchOriginal(string) (*opaque, error) { return nil, ErrDoesNotExist }
func (opaqueBacking) Exists(string) bool                    { return false }

func TestStore_defaultOptionsRequireClone(t *testing.T) {
	mustPanic(t, func() {
		NewStore[string, *opaque](opaqueBacking{}, Options[string, *opaque]{})
	})
	s := NewStore[string, *opaque](opaqueBacking{}, Options[string, *opaque]{
		NewLog: MemLogs[string](func(o *opaque) *opaque { dup := *o; return &dup }),
	})
	s.Put("x", &opaque{})
	deepEq(t, undoPoint(t, s), true)
}
