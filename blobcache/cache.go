// Package blobcache implements a key/value blob cache with a fast RAM tier
// and a Bolt disk tier, used to hold serialized revisions outside of the Go
// heap.
//
// Values are kept in RAM until the RAM tier exceeds its budget, at which
// point the least recently used values are spilled to disk. Reading a
// spilled value brings it back into RAM.
//
// Each open Cache owns a session directory named
// "<prefix><uuid>-<unix time>" under Options.Dir. The Bolt file lock doubles
// as the session lock: on Open, session directories older than
// Options.StaleAfter whose database can be locked (i.e. no live process owns
// them) are deleted.
package blobcache

import (
	"container/list"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/andreyvit/worldhist"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.etcd.io/bbolt"
)

var (
	spilledBlobs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worldhist_blobcache_spills_total",
		Help: "Total number of blobs moved from the RAM tier to disk",
	})

	ramBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "worldhist_blobcache_ram_bytes",
		Help: "Bytes held in blob cache RAM tiers",
	})
)

const (
	DefaultMaxRAMSize = 100_000_000
	DefaultStaleAfter = 7 * 24 * time.Hour

	sessionPrefix = "worldhist-"
	dbFileName    = "cache.db"
	checksumSize  = 8
)

type Options struct {
	// Dir is the parent of session directories. Defaults to os.TempDir().
	Dir string

	// MaxRAMSize is the RAM tier budget in bytes. Zero means
	// DefaultMaxRAMSize; a negative value spills every value right away.
	MaxRAMSize int64

	// StaleAfter is the age after which unlocked session directories are
	// removed on Open. Zero means DefaultStaleAfter; negative disables.
	StaleAfter time.Duration

	// Memory keeps the disk tier in RAM too (no files are created).
	Memory bool

	Logger    *slog.Logger
	IsTesting bool
	Now       func() time.Time
}

// Cache is a two-tier blob cache. It implements worldhist.BlobStore and is
// safe for concurrent use.
type Cache struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	disk    backend
	ram     map[string]*list.Element
	lru     list.List // front = most recently used
	size    int64
	maxSize int64
	closed  bool

	stats Stats
}

type ramItem struct {
	key   string
	value []byte
	dirty bool // not yet on disk
}

type Stats struct {
	RAMItems  int
	RAMSize   int64
	DiskItems int
	Hits      uint64
	DiskReads uint64
	Spills    uint64
}

// Open creates a new session and returns its cache.
func Open(opt Options) (*Cache, error) {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.MaxRAMSize == 0 {
		opt.MaxRAMSize = DefaultMaxRAMSize
	}
	if opt.StaleAfter == 0 {
		opt.StaleAfter = DefaultStaleAfter
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}

	c := &Cache{
		logger:  opt.Logger,
		ram:     make(map[string]*list.Element),
		maxSize: opt.MaxRAMSize,
	}

	if opt.Memory {
		c.disk = newMemBackend()
		return c, nil
	}

	if opt.Dir == "" {
		opt.Dir = os.TempDir()
	}
	err := os.MkdirAll(opt.Dir, 0o777)
	if err != nil {
		return nil, fmt.Errorf("blobcache: %w", err)
	}
	if opt.StaleAfter > 0 {
		removeStaleSessions(opt.Dir, opt.Now().Add(-opt.StaleAfter), opt.Logger)
	}

	c.dir = filepath.Join(opt.Dir, fmt.Sprintf("%s%s-%d", sessionPrefix, uuid.New(), opt.Now().Unix()))
	err = os.Mkdir(c.dir, 0o777)
	if err != nil {
		return nil, fmt.Errorf("blobcache: %w", err)
	}

	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = time.Second
	// the cache is scratch space; durability doesn't matter
	bopt.NoSync = true
	bopt.NoFreelistSync = true
	bopt.FreelistType = bbolt.FreelistMapType
	if opt.IsTesting {
		bopt.InitialMmapSize = 1024 * 1024
	}
	disk, err := openBoltBackend(filepath.Join(c.dir, dbFileName), bopt)
	if err != nil {
		os.RemoveAll(c.dir)
		return nil, fmt.Errorf("blobcache: %w", err)
	}
	c.disk = disk
	c.logger.LogAttrs(context.Background(), slog.LevelDebug, "blobcache: opened", slog.String("dir", c.dir), slog.Int64("max_ram", c.maxSize))
	return c, nil
}

// Dir returns the session directory ("" for memory caches).
func (c *Cache) Dir() string {
	return c.dir
}

// MaxSize returns the RAM tier budget.
func (c *Cache) MaxSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSize
}

// SetMaxSize changes the RAM tier budget, spilling values if needed.
func (c *Cache) SetMaxSize(size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return worldhist.ErrClosed
	}
	c.maxSize = size
	return c.freeLocked()
}

func (c *Cache) PutBlob(path string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return worldhist.ErrClosed
	}
	c.removeRAMLocked(path)
	c.insertRAMLocked(path, append([]byte(nil), data...), true)
	return c.freeLocked()
}

// GetBlob returns a copy of the data stored under path.
func (c *Cache) GetBlob(path string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, worldhist.ErrClosed
	}
	if el, ok := c.ram[path]; ok {
		c.lru.MoveToFront(el)
		c.stats.Hits++
		return slices.Clone(el.Value.(*ramItem).value), nil
	}

	raw, err := c.disk.Get(path)
	if err != nil {
		return nil, fmt.Errorf("blobcache: %s: %w", path, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("blobcache: %s: %w", path, worldhist.ErrBlobNotFound)
	}
	c.stats.DiskReads++
	data, err := unseal(raw)
	if err != nil {
		return nil, fmt.Errorf("blobcache: %s: %w", path, err)
	}
	c.insertRAMLocked(path, data, false)
	if err := c.freeLocked(); err != nil {
		return nil, err
	}
	return slices.Clone(data), nil
}

func (c *Cache) DeleteBlob(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return worldhist.ErrClosed
	}
	c.removeRAMLocked(path)
	return c.disk.Delete(path)
}

func (c *Cache) insertRAMLocked(key string, value []byte, dirty bool) {
	el := c.lru.PushFront(&ramItem{key: key, value: value, dirty: dirty})
	c.ram[key] = el
	c.size += int64(len(value))
	ramBytes.Add(float64(len(value)))
}

func (c *Cache) removeRAMLocked(key string) {
	el, ok := c.ram[key]
	if !ok {
		return
	}
	item := c.lru.Remove(el).(*ramItem)
	delete(c.ram, key)
	c.size -= int64(len(item.value))
	ramBytes.Sub(float64(len(item.value)))
}

// freeLocked spills least recently used values until the RAM tier fits its
// budget. Values are only dropped from RAM once they are safely on disk.
func (c *Cache) freeLocked() error {
	if c.size <= c.maxSize {
		return nil
	}

	var victims []*list.Element
	pending := make(map[string][]byte)
	size := c.size
	for el := c.lru.Back(); el != nil && size > c.maxSize; el = el.Prev() {
		item := el.Value.(*ramItem)
		victims = append(victims, el)
		size -= int64(len(item.value))
		if item.dirty {
			pending[item.key] = seal(item.value)
		}
	}

	err := c.disk.PutMany(pending)
	if err != nil {
		return fmt.Errorf("blobcache: spilling %d values: %w", len(pending), err)
	}
	c.stats.Spills += uint64(len(pending))
	spilledBlobs.Add(float64(len(pending)))
	for _, el := range victims {
		c.removeRAMLocked(el.Value.(*ramItem).key)
	}
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats
	st.RAMItems = len(c.ram)
	st.RAMSize = c.size
	if !c.closed {
		st.DiskItems = c.disk.Len()
	}
	return st
}

// Close closes the disk tier and deletes the session directory.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	ramBytes.Sub(float64(c.size))
	c.ram = nil
	c.lru.Init()
	c.size = 0

	err := c.disk.Close()
	if c.dir != "" {
		err = errors.Join(err, os.RemoveAll(c.dir))
	}
	if err != nil {
		return fmt.Errorf("blobcache: closing: %w", err)
	}
	return nil
}

var errCorrupted = errors.New("corrupted blob")

func seal(data []byte) []byte {
	buf := make([]byte, checksumSize, checksumSize+len(data))
	binary.LittleEndian.PutUint64(buf, xxhash.Sum64(data))
	return append(buf, data...)
}

func unseal(raw []byte) ([]byte, error) {
	if len(raw) < checksumSize {
		return nil, errCorrupted
	}
	data := raw[checksumSize:]
	if binary.LittleEndian.Uint64(raw) != xxhash.Sum64(data) {
		return nil, errCorrupted
	}
	return data, nil
}

var _ worldhist.BlobStore = (*Cache)(nil)
