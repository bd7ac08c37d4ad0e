package worldhist

import (
	"errors"
	"fmt"
	"strconv"
)

// diskRevisionLog serializes each revision into its own blob and keeps only
// the blob paths in memory. Blobs of revisions discarded by PutNewEntry are
// deleted right away; everything else lives until Release.
type diskRevisionLog[V any] struct {
	cur       revisionCursor
	revisions []string // blob path per revision, "" if absent
	prefix    string
	seq       uint64
	blobs     BlobStore
	codec     Codec[V]
}

// NewDiskRevisionLog returns a revision log storing revisions in blobs under
// prefix, seeded with initial.
func NewDiskRevisionLog[V any](blobs BlobStore, codec Codec[V], prefix string, initial Entry[V]) (RevisionLog[V], error) {
	log := &diskRevisionLog[V]{
		cur:    revisionCursor{count: 1},
		prefix: prefix,
		blobs:  blobs,
		codec:  codec,
	}
	path, err := log.store(initial)
	if err != nil {
		return nil, err
	}
	log.revisions = []string{path}
	return log, nil
}

// DiskLogs returns a LogFactory producing disk-backed revision logs whose
// blob paths are derived from the key by prefixOf.
func DiskLogs[K comparable, V any](blobs BlobStore, codec Codec[V], prefixOf func(K) string) LogFactory[K, V] {
	return func(key K, initial Entry[V]) (RevisionLog[V], error) {
		return NewDiskRevisionLog(blobs, codec, prefixOf(key), initial)
	}
}

func (log *diskRevisionLog[V]) store(e Entry[V]) (string, error) {
	if !e.Present {
		return "", nil
	}
	path := log.prefix + "/" + strconv.FormatUint(log.seq, 10)

	var data []byte
	err := safely(func() error {
		data = log.codec.Encode(nil, e.Value)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}

	err = log.blobs.PutBlob(path, data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	log.seq++
	revisionsWritten.Inc()
	revisionBytes.Add(float64(len(data)))
	return path, nil
}

func (log *diskRevisionLog[V]) Changed() bool {
	return log.cur.changed()
}

func (log *diskRevisionLog[V]) IsDeleted() bool {
	return log.revisions[log.cur.index] == ""
}

func (log *diskRevisionLog[V]) Current() (Entry[V], error) {
	return log.load(log.revisions[log.cur.index])
}

func (log *diskRevisionLog[V]) load(path string) (Entry[V], error) {
	if path == "" {
		return Absent[V](), nil
	}
	data, err := log.blobs.GetBlob(path)
	if err != nil {
		return Absent[V](), err
	}
	v, err := log.codec.Decode(data)
	if err != nil {
		var de *DataError
		if errors.As(err, &de) && de.Path == "" {
			de.Path = path
			return Absent[V](), de
		}
		return Absent[V](), dataErrf(data, path, err, "failed to decode revision")
	}
	return Present(v), nil
}

func (log *diskRevisionLog[V]) PutNewEntry(e Entry[V]) error {
	path, err := log.store(e)
	if err != nil {
		return err
	}

	from := log.cur.advance()
	discarded := append([]string(nil), log.revisions[from:]...)
	log.revisions = append(log.revisions[:from], path)

	// a failed delete only leaks a blob; it goes away with the cache session
	for _, p := range discarded {
		if p != "" {
			_ = log.blobs.DeleteBlob(p)
		}
	}
	return nil
}

func (log *diskRevisionLog[V]) Undo()      { log.cur.undo() }
func (log *diskRevisionLog[V]) Redo()      { log.cur.redo() }
func (log *diskRevisionLog[V]) MarkSaved() { log.cur.markSaved() }
func (log *diskRevisionLog[V]) Index() int { return log.cur.index }
func (log *diskRevisionLog[V]) Len() int   { return len(log.revisions) }

// Paths returns the blob path of every revision ("" for absent ones).
func (log *diskRevisionLog[V]) Paths() []string {
	return append([]string(nil), log.revisions...)
}

func (log *diskRevisionLog[V]) Release() error {
	var errs []error
	for _, p := range log.revisions {
		if p == "" {
			continue
		}
		if err := log.blobs.DeleteBlob(p); err != nil {
			errs = append(errs, err)
		}
	}
	log.revisions = nil
	return errors.Join(errs...)
}
