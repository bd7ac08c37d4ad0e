package worldhist

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

type DumpFlags uint64

const (
	DumpHeaders = DumpFlags(1 << iota)
	DumpStats
	DumpLive
	DumpLiveValues
	DumpHistory
	DumpSnapshots

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump returns a human-readable description of the store's live map,
// historical map and undo stack. Keys are listed in the order of their
// fmt representation.
func (s *Store[K, V]) Dump(f DumpFlags) string {
	var buf strings.Builder
	st := s.Stats()
	hs := s.History.state()

	if f.Contains(DumpHeaders) {
		fmt.Fprintln(&buf, dumpSep1)
		fmt.Fprintf(&buf, "%s (%d live, %d in history)\n", s.name, st.Live, st.History)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(&buf, "%s.stats: pending_deletes = %d, revisions = %d, snapshot_index = %d, last_save = %d, branch_save_count = %d, unsaved = %d\n", s.name, st.PendingDeletes, st.Revisions, hs.SnapshotIndex, hs.LastSaveSnapshot, hs.BranchSaveCount, s.UnsavedChanges())
	}

	s.mu.Lock()
	if f.Contains(DumpLive) {
		fmt.Fprintln(&buf, dumpSep2)
		for _, key := range sortedKeys(s.live) {
			e := s.live[key]
			switch {
			case !e.Present:
				fmt.Fprintf(&buf, "%s.live %v = <deleted>\n", s.name, key)
			case f.Contains(DumpLiveValues):
				fmt.Fprintf(&buf, "%s.live %v = %s%s\n", s.name, key, loggableVal(e.Value), changedMark(e.Value.Changed()))
			default:
				fmt.Fprintf(&buf, "%s.live %v%s\n", s.name, key, changedMark(e.Value.Changed()))
			}
		}
	}
	if f.Contains(DumpHistory) {
		fmt.Fprintln(&buf, dumpSep2)
		for _, key := range sortedKeys(s.hist) {
			log := s.hist[key]
			var deleted string
			if log.IsDeleted() {
				deleted = " <deleted>"
			}
			fmt.Fprintf(&buf, "%s.hist %v = rev %d/%d%s%s\n", s.name, key, log.Index(), log.Len(), deleted, changedMark(log.Changed()))
		}
	}
	s.mu.Unlock()

	if f.Contains(DumpSnapshots) {
		fmt.Fprintln(&buf, dumpSep2)
		for i := 0; i < hs.Snapshots; i++ {
			marker := " "
			if i == hs.SnapshotIndex {
				marker = "*"
			}
			keys := s.Snapshot(i)
			strs := make([]string, len(keys))
			for j, k := range keys {
				strs[j] = fmt.Sprint(k)
			}
			slices.Sort(strs)
			fmt.Fprintf(&buf, "%s.undo%s%d: %s\n", s.name, marker, i, strings.Join(strs, ", "))
		}
	}
	return buf.String()
}

func sortedKeys[K comparable, T any](m map[K]T) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b K) int {
		return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
	})
	return keys
}

func changedMark(changed bool) string {
	if changed {
		return " (changed)"
	}
	return ""
}

func loggableVal(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%T: %v>", v, err)
	}
	return string(raw)
}
