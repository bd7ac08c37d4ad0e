package worldhist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// ErrBlobNotFound is returned by BlobStore.GetBlob for unknown paths.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore holds serialized revisions addressed by slash-separated paths
// chosen by the disk revision log. Implementations must be safe for
// concurrent use.
type BlobStore interface {
	// PutBlob stores data under path, replacing any previous value.
	PutBlob(path string, data []byte) error

	// GetBlob returns the data stored under path, or ErrBlobNotFound. The
	// caller owns the returned slice.
	GetBlob(path string) ([]byte, error)

	// DeleteBlob removes path. Deleting a missing path is not an error.
	DeleteBlob(path string) error
}

// DirBlobStore keeps one file per blob under a root directory.
type DirBlobStore struct {
	root string
}

// NewDirBlobStore returns a BlobStore writing files under root, which is
// created if it doesn't exist.
func NewDirBlobStore(root string) (*DirBlobStore, error) {
	err := os.MkdirAll(root, 0o777)
	if err != nil {
		return nil, err
	}
	return &DirBlobStore{root: root}, nil
}

func (s *DirBlobStore) Root() string {
	return s.root
}

func (s *DirBlobStore) fileName(path string) (string, error) {
	if path == "" || strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("invalid blob path %q", path)
	}
	for _, comp := range strings.Split(path, "/") {
		if comp == "" || comp == "." || comp == ".." {
			return "", fmt.Errorf("invalid blob path %q", path)
		}
	}
	return filepath.Join(s.root, filepath.FromSlash(path)), nil
}

func (s *DirBlobStore) PutBlob(path string, data []byte) error {
	fn, err := s.fileName(path)
	if err != nil {
		return err
	}
	err = os.MkdirAll(filepath.Dir(fn), 0o777)
	if err != nil {
		return err
	}

	// write to a temp file first so that a failed write never leaves a
	// truncated revision behind
	tmp := fn + ".tmp"
	err = os.WriteFile(tmp, data, 0o666)
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, fn)
}

func (s *DirBlobStore) GetBlob(path string) ([]byte, error) {
	fn, err := s.fileName(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fn)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", path, ErrBlobNotFound)
	}
	return data, err
}

func (s *DirBlobStore) DeleteBlob(path string) error {
	fn, err := s.fileName(path)
	if err != nil {
		return err
	}
	err = os.Remove(fn)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MemBlobStore is a transient BlobStore intended for tests.
type MemBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	puts  int
}

func NewMemBlobStore() *MemBlobStore {
	return &MemBlobStore{blobs: make(map[string][]byte)}
}

func (s *MemBlobStore) PutBlob(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[path] = append([]byte(nil), data...)
	s.puts++
	return nil
}

func (s *MemBlobStore) GetBlob(path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrBlobNotFound)
	}
	return slices.Clone(data), nil
}

func (s *MemBlobStore) DeleteBlob(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, path)
	return nil
}

// Len returns the number of stored blobs.
func (s *MemBlobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

// PutCount returns the number of PutBlob calls so far.
func (s *MemBlobStore) PutCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}
