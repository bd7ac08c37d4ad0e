package chunk

import (
	"iter"
)

// Format is the on-disk world a chunk Store reads originals from and saves
// into. Implementations must be safe for concurrent use.
type Format interface {
	// LoadChunk returns the chunk at key. A missing chunk is reported as an
	// error satisfying errors.Is(err, worldhist.ErrDoesNotExist).
	LoadChunk(key Key) (*Chunk, error)

	HasChunk(key Key) bool

	// ChunkCoords enumerates the coordinates of every chunk stored in
	// dimension.
	ChunkCoords(dimension string) iter.Seq2[Coords, error]

	CommitChunk(key Key, c *Chunk) error
	DeleteChunk(key Key) error

	Dimensions() []string
}
