package worldhist

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
)

// Backing is the durable source a Store consults on the first touch of a key.
type Backing[K comparable, V any] interface {
	// FetchOriginal returns the pre-edit value of key. Absence must be
	// reported as an error satisfying errors.Is(err, ErrDoesNotExist).
	FetchOriginal(key K) (V, error)

	// Exists is a cheap existence check that doesn't load the value.
	Exists(key K) bool
}

// Options configure a Store.
type Options[K comparable, V any] struct {
	// Name identifies the store in logs and errors.
	Name string

	// NewLog creates the revision log of a key on first touch. Defaults to
	// RAM-backed logs cloning values via Cloner; NewStore panics if V
	// doesn't implement it.
	NewLog LogFactory[K, V]

	Logger *slog.Logger
}

// Store is a keyed store with undo/redo history.
//
// Entries being edited live in the live map. Each key touched at least once
// has a RevisionLog in the historical map, seeded from the backing store on
// first touch. CreateUndoPoint folds changed live entries into their logs
// and records the affected keys as one undo point.
//
// The live map may be unloaded at any time without losing history.
type Store[K comparable, V Changeable] struct {
	*History[K]

	name    string
	backing Backing[K, V]
	newLog  LogFactory[K, V]
	logger  *slog.Logger

	mu   sync.Mutex
	live map[K]Entry[V]
	hist map[K]RevisionLog[V]
}

// NewStore returns an empty Store over backing.
func NewStore[K comparable, V Changeable](backing Backing[K, V], opt Options[K, V]) *Store[K, V] {
	if opt.NewLog == nil {
		opt.NewLog = MemLogs[K](cloneFunc[V]())
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Name == "" {
		opt.Name = "store"
	}
	s := &Store[K, V]{
		name:    opt.Name,
		backing: backing,
		newLog:  opt.NewLog,
		logger:  opt.Logger,
		live:    make(map[K]Entry[V]),
		hist:    make(map[K]RevisionLog[V]),
	}
	s.History = NewHistory(HistoryHooks[K]{
		Undo:      s.undoKeys,
		Redo:      s.redoKeys,
		MarkSaved: s.markLogsSaved,
	})
	return s
}

// cloneFunc returns V's Clone method as a function. Values handed out by
// Get are edited in place, so history must never share them.
func cloneFunc[V Changeable]() func(V) V {
	var zero V
	if _, ok := any(zero).(Cloner[V]); !ok {
		panic(fmt.Errorf("%T doesn't implement Clone() %T; pass Options.NewLog", zero, zero))
	}
	return func(v V) V {
		return any(v).(Cloner[V]).Clone()
	}
}

func (s *Store[K, V]) Name() string {
	return s.name
}

// Get returns the current value of key, or an error satisfying
// errors.Is(err, ErrDoesNotExist) if the key has no value. Backing store
// failures other than absence are reported as *LoadError.
func (s *Store[K, V]) Get(key K) (V, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.getLocked(key)
	if err != nil {
		var zero V
		return zero, err
	}
	return e.Get()
}

func (s *Store[K, V]) getLocked(key K) (Entry[V], error) {
	if e, ok := s.live[key]; ok {
		return e, nil
	}
	if log, ok := s.hist[key]; ok {
		e, err := log.Current()
		if err != nil {
			return Absent[V](), loadErrf(key, err)
		}
		s.live[key] = e
		return e, nil
	}
	e, err := s.registerOriginalLocked(key)
	if err != nil {
		return Absent[V](), err
	}
	s.live[key] = e
	return e, nil
}

// registerOriginalLocked fetches the original value of a never-seen key and
// seeds its revision log.
func (s *Store[K, V]) registerOriginalLocked(key K) (Entry[V], error) {
	if _, ok := s.hist[key]; ok {
		panic(fmt.Errorf("%s: revision log for %v has already been registered", s.name, key))
	}
	original := Absent[V]()
	v, err := s.backing.FetchOriginal(key)
	if err == nil {
		original = Present(v)
	} else if !errors.Is(err, ErrDoesNotExist) || IsLoadError(err) {
		return Absent[V](), loadErrf(key, err)
	}
	firstTouches.Inc()

	log, err := s.newLog(key, original)
	if err != nil {
		return Absent[V](), keyErrf(s.name, key, err, "failed to create revision log")
	}
	s.hist[key] = log
	return original, nil
}

// Put stores v under key and marks it changed.
func (s *Store[K, V]) Put(key K, v V) {
	v.SetChanged(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[key] = Present(v)
}

// Delete marks key as deleted.
func (s *Store[K, V]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[key] = Absent[V]()
}

// Has reports whether the store holds a value for key in its live or
// historical map. It never consults the backing store; see Exists.
func (s *Store[K, V]) Has(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.live[key]; ok {
		return e.Present
	}
	if log, ok := s.hist[key]; ok {
		return !log.IsDeleted()
	}
	return false
}

// Exists is like Has, but falls back to the backing store for keys that
// were never touched.
func (s *Store[K, V]) Exists(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.live[key]; ok {
		return e.Present
	}
	if log, ok := s.hist[key]; ok {
		return !log.IsDeleted()
	}
	return s.backing.Exists(key)
}

// Known reports whether key has a record in the live or historical map,
// regardless of whether it is deleted.
func (s *Store[K, V]) Known(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[key]; ok {
		return true
	}
	_, ok := s.hist[key]
	return ok
}

// ChangedKeys returns every key that differs from its saved state: pending
// deletes of keys not already deleted in history, live entries flagged as
// changed, and keys whose revision log has moved away from the saved
// revision.
func (s *Store[K, V]) ChangedKeys() []K {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changedKeysLocked(nil)
}

func (s *Store[K, V]) changedKeysLocked(limit func(K) bool) []K {
	var result []K
	seen := make(map[K]struct{})
	for key, e := range s.live {
		if limit != nil && !limit(key) {
			continue
		}
		if !e.Present {
			log, ok := s.hist[key]
			if !ok || !log.IsDeleted() {
				result = append(result, key)
				seen[key] = struct{}{}
			}
		} else if e.Value.Changed() {
			result = append(result, key)
			seen[key] = struct{}{}
		}
	}
	for key, log := range s.hist {
		if limit != nil && !limit(key) {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		if log.Changed() {
			result = append(result, key)
		}
	}
	return result
}

// Changed reports whether there are unsaved undo points or any changed key.
func (s *Store[K, V]) Changed() bool {
	if s.History.Changed() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.changedKeysLocked(nil)) > 0
}

// AllKeys merges the keys known to this store that satisfy match with the
// raw keys enumerated from the backing store. Deleted keys win over the
// backing store, which is the slowest and least authoritative source.
func (s *Store[K, V]) AllKeys(match func(K) bool, raw iter.Seq[K]) map[K]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make(map[K]struct{})
	deleted := make(map[K]struct{})
	for key, e := range s.live {
		if match != nil && !match(key) {
			continue
		}
		if e.Present {
			keys[key] = struct{}{}
		} else {
			deleted[key] = struct{}{}
		}
	}
	for key, log := range s.hist {
		if match != nil && !match(key) {
			continue
		}
		if _, ok := s.live[key]; ok {
			continue
		}
		if log.IsDeleted() {
			deleted[key] = struct{}{}
		} else {
			keys[key] = struct{}{}
		}
	}
	if raw != nil {
		for key := range raw {
			if _, ok := deleted[key]; ok {
				continue
			}
			keys[key] = struct{}{}
		}
	}
	return keys
}

// CreateUndoPoint folds changed live entries into history and records the
// affected keys as a new undo point. See FoldIntoHistory for error handling.
func (s *Store[K, V]) CreateUndoPoint(progress ProgressFunc) (bool, error) {
	snapshot, err := s.FoldIntoHistory(progress)
	created := s.RegisterSnapshot(snapshot)
	if created {
		undoPointsCreated.Inc()
		s.logger.LogAttrs(context.Background(), slog.LevelDebug, "undo point created", slog.String("store", s.name), slog.Int("keys", len(snapshot)), slog.Int("undo_count", s.UndoCount()))
	}
	return created, err
}

// FoldIntoHistory appends a new revision for every live entry that is
// changed or deleted (unless already deleted in history) and returns the
// keys that received one. The live map is cleared afterwards so that entries
// are re-derived from history on next access; this also catches values that
// were modified in place without being marked changed.
//
// A key whose revision can't be stored is left out of the snapshot, keeps
// its live entry for the next attempt, and has its error reported; other
// keys are unaffected.
func (s *Store[K, V]) FoldIntoHistory(progress ProgressFunc) ([]K, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snapshot []K
	var errs []error
	failed := make(map[K]Entry[V])

	total, done := len(s.live), 0
	for key, e := range s.live {
		done++
		if e.Present && !e.Value.Changed() {
			progress.report(done, total)
			continue
		}
		log, ok := s.hist[key]
		if !ok {
			// added without being loaded first; seed history with the original
			if _, err := s.registerOriginalLocked(key); err != nil {
				errs = append(errs, err)
				failed[key] = e
				progress.report(done, total)
				continue
			}
			log = s.hist[key]
		}
		if e.Present || !log.IsDeleted() {
			if err := log.PutNewEntry(e); err != nil {
				s.logger.LogAttrs(context.Background(), slog.LevelError, "failed to store revision", slog.String("store", s.name), slog.Any("key", key), slog.Any("err", err))
				errs = append(errs, keyErrf(s.name, key, err, "failed to store revision"))
				failed[key] = e
				progress.report(done, total)
				continue
			}
			snapshot = append(snapshot, key)
		}
		progress.report(done, total)
	}

	clear(s.live)
	for key, e := range failed {
		s.live[key] = e
	}
	if total == 0 {
		progress.report(0, 0)
	}
	return snapshot, errors.Join(errs...)
}

func (s *Store[K, V]) undoKeys(keys []K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		s.mustLog(key).Undo()
		delete(s.live, key)
	}
}

func (s *Store[K, V]) redoKeys(keys []K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		s.mustLog(key).Redo()
		delete(s.live, key)
	}
}

func (s *Store[K, V]) mustLog(key K) RevisionLog[V] {
	log, ok := s.hist[key]
	if !ok {
		panic(fmt.Errorf("%s: snapshot refers to %v which has no revision log", s.name, key))
	}
	return log
}

func (s *Store[K, V]) markLogsSaved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, log := range s.hist {
		log.MarkSaved()
	}
}

// RestoreLastUndoPoint discards all live edits made since the last undo
// point.
func (s *Store[K, V]) RestoreLastUndoPoint() {
	s.Unload(nil)
}

// Unload drops live entries for which drop returns true (all entries if drop
// is nil). History is never affected.
func (s *Store[K, V]) Unload(drop func(key K) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if drop == nil {
		clear(s.live)
		return
	}
	for key := range s.live {
		if drop(key) {
			delete(s.live, key)
		}
	}
}

// UnloadUnchanged drops live entries that are not marked as changed.
// Pending deletes are kept.
func (s *Store[K, V]) UnloadUnchanged() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.live {
		if e.Present && !e.Value.Changed() {
			delete(s.live, key)
		}
	}
}

// Purge returns the store to its construction state, releasing every
// revision log.
func (s *Store[K, V]) Purge() {
	s.mu.Lock()
	for key, log := range s.hist {
		if err := log.Release(); err != nil {
			s.logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to release revision log", slog.String("store", s.name), slog.Any("key", key), slog.Any("err", err))
		}
	}
	clear(s.live)
	clear(s.hist)
	s.mu.Unlock()
	s.History.Purge()
}

// Log returns the revision log of key, if any. Intended for inspection.
func (s *Store[K, V]) Log(key K) (RevisionLog[V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.hist[key]
	return log, ok
}

// Stats returns the sizes of the live and historical maps.
func (s *Store[K, V]) Stats() StoreStats {
	// history hooks take s.mu under History.mu, so read history first
	hs := s.History.state()

	s.mu.Lock()
	defer s.mu.Unlock()
	st := StoreStats{
		Live:    len(s.live),
		History: len(s.hist),
	}
	for _, e := range s.live {
		if !e.Present {
			st.PendingDeletes++
		}
	}
	for _, log := range s.hist {
		st.Revisions += log.Len()
	}
	st.UndoCount = hs.SnapshotIndex + 1
	st.RedoCount = hs.Snapshots - st.UndoCount
	return st
}

var _ Undoable = (*Store[string, Changeable])(nil)
