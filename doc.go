/*
Package worldhist implements a versioned keyed store with undo/redo history,
intended as the data backend of an editor working on large, sparse,
spatially keyed datasets (such as world chunks) that are materialized lazily
from a slow backing store.

We implement:

1. Revision logs, the per-key history of stored entries with an undo/redo
cursor and a saved-revision marker. RAM-backed logs hold values directly;
disk-backed logs serialize every revision into a BlobStore and keep only
the blob paths.

2. Stores, which keep a live map of entries being edited and a historical
map of revision logs, and fetch a key's original value from the backing
store exactly once, on first touch.

3. Histories, linear undo stacks whose undo points (snapshots) list the items
changed by each one, with accurate unsaved-change accounting across
branching edit histories.

4. Composites, which aggregate several independent histories into a single
undo stack.

# Technical Details

**Entries.**
A value is either present or absent. An absent entry means the data does not
exist (deleted or never created). Having no record of a key at all is a
different state: the backing store hasn't been consulted yet.

**Undo points.**
CreateUndoPoint moves every changed live entry into its revision log, records
the affected keys as one snapshot, and clears the live map. Entries are then
re-derived from history on next access, which also discards in-place edits
that were never marked as changed.

**Unsaved changes.**
Undoing past a saved undo point and then recording a new one destroys the
saved branch. The distance from the branch point to the orphaned save point is
permanently added to the branch save count, so UnsavedChanges is
|current - saved| + branch save count.

**Locking.**
A store serializes all access to its maps with a single mutex, which makes
first-touch population atomic: concurrent Gets of a new key fetch it from the
backing store exactly once. A single logical writer is assumed.
*/
package worldhist
