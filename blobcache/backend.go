package blobcache

import (
	"errors"
	"sync"

	"go.etcd.io/bbolt"
)

var blobsBucket = []byte("blobs")

// backend is the disk tier of the cache (Bolt, or in-memory for tests).
type backend interface {
	// Get returns a copy of the stored value, or nil if not found.
	Get(key string) ([]byte, error)

	// PutMany stores all pairs in a single transaction.
	PutMany(items map[string][]byte) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key string) error

	// Len returns the number of stored keys (best effort).
	Len() int

	Close() error
}

type boltBackend struct {
	bdb *bbolt.DB
}

func openBoltBackend(path string, opt *bbolt.Options) (*boltBackend, error) {
	bdb, err := bbolt.Open(path, 0o666, opt)
	if err != nil {
		return nil, err
	}
	err = bdb.Update(func(btx *bbolt.Tx) error {
		_, err := btx.CreateBucketIfNotExists(blobsBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}
	return &boltBackend{bdb: bdb}, nil
}

func (b *boltBackend) Get(key string) ([]byte, error) {
	var result []byte
	err := b.bdb.View(func(btx *bbolt.Tx) error {
		v := btx.Bucket(blobsBucket).Get([]byte(key))
		if v != nil {
			// values are only valid for the life of the transaction
			result = append([]byte(nil), v...)
		}
		return nil
	})
	return result, err
}

func (b *boltBackend) PutMany(items map[string][]byte) error {
	if len(items) == 0 {
		return nil
	}
	return b.bdb.Update(func(btx *bbolt.Tx) error {
		buck := btx.Bucket(blobsBucket)
		for k, v := range items {
			if err := buck.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *boltBackend) Delete(key string) error {
	return b.bdb.Update(func(btx *bbolt.Tx) error {
		return btx.Bucket(blobsBucket).Delete([]byte(key))
	})
}

func (b *boltBackend) Len() int {
	var n int
	_ = b.bdb.View(func(btx *bbolt.Tx) error {
		n = btx.Bucket(blobsBucket).Stats().KeyN
		return nil
	})
	return n
}

func (b *boltBackend) Close() error {
	return b.bdb.Close()
}

type memBackend struct {
	mu     sync.Mutex
	items  map[string][]byte
	closed bool
}

func newMemBackend() *memBackend {
	return &memBackend{items: make(map[string][]byte)}
}

var errBackendClosed = errors.New("backend closed")

func (b *memBackend) Get(key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errBackendClosed
	}
	v, ok := b.items[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (b *memBackend) PutMany(items map[string][]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errBackendClosed
	}
	for k, v := range items {
		b.items[k] = append([]byte(nil), v...)
	}
	return nil
}

func (b *memBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errBackendClosed
	}
	delete(b.items, key)
	return nil
}

func (b *memBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *memBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.items = nil
	return nil
}
