// Package chunktest provides an in-memory chunk.Format for tests.
package chunktest

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/andreyvit/worldhist"
	"github.com/andreyvit/worldhist/chunk"
	"github.com/vmihailenco/msgpack/v5"
)

var ErrInjected = errors.New("injected failure")

// World is an in-memory chunk.Format. Chunks are stored serialized so that
// every load returns a fresh copy, like a real world file would.
type World struct {
	mu      sync.Mutex
	chunks  map[chunk.Key][]byte
	loads   map[chunk.Key]int
	commits int
	deletes int
	broken  map[chunk.Key]bool
}

func New() *World {
	return &World{
		chunks: make(map[chunk.Key][]byte),
		loads:  make(map[chunk.Key]int),
		broken: make(map[chunk.Key]bool),
	}
}

// Add stores a chunk with every block of layer y=0 set to block.
func (w *World) Add(palettes *chunk.Palettes, dimension string, cx, cz int32, block string) {
	c := chunk.New(cx, cz)
	palettes.Attach(c)
	for x := range chunk.SectionSize {
		for z := range chunk.SectionSize {
			c.SetBlock(x, 0, z, block)
		}
	}
	if err := w.CommitChunk(chunk.MakeKey(dimension, cx, cz), c); err != nil {
		panic(err)
	}
	w.mu.Lock()
	w.commits--
	w.mu.Unlock()
}

// Break makes loads of key fail with ErrInjected.
func (w *World) Break(key chunk.Key) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.broken[key] = true
}

func (w *World) LoadChunk(key chunk.Key) (*chunk.Chunk, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loads[key]++
	if w.broken[key] {
		return nil, fmt.Errorf("%v: %w", key, ErrInjected)
	}
	data, ok := w.chunks[key]
	if !ok {
		return nil, worldhist.ErrDoesNotExist
	}
	c := &chunk.Chunk{}
	if err := msgpack.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (w *World) HasChunk(key chunk.Key) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.chunks[key]
	return ok
}

func (w *World) ChunkCoords(dimension string) iter.Seq2[chunk.Coords, error] {
	w.mu.Lock()
	var coords []chunk.Coords
	for k := range w.chunks {
		if k.Dimension == dimension {
			coords = append(coords, k.Coords())
		}
	}
	w.mu.Unlock()
	return func(yield func(chunk.Coords, error) bool) {
		for _, c := range coords {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func (w *World) CommitChunk(key chunk.Key, c *chunk.Chunk) error {
	data, err := msgpack.Marshal(c)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chunks[key] = data
	w.commits++
	return nil
}

func (w *World) DeleteChunk(key chunk.Key) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.chunks, key)
	w.deletes++
	return nil
}

func (w *World) Dimensions() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	dims := make(map[string]struct{})
	for k := range w.chunks {
		dims[k.Dimension] = struct{}{}
	}
	return slices.Sorted(maps.Keys(dims))
}

// Loads returns how many times key was loaded.
func (w *World) Loads(key chunk.Key) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loads[key]
}

// Commits and Deletes count writes made through the Format interface.
func (w *World) Commits() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.commits
}

func (w *World) Deletes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deletes
}

var _ chunk.Format = (*World)(nil)
