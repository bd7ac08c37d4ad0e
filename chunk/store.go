// Package chunk specializes the worldhist store for Minecraft chunks keyed
// by dimension and chunk coordinates.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/andreyvit/worldhist"
	"github.com/google/uuid"
)

type Options struct {
	// Blobs holds serialized revisions. When nil, revisions are kept in RAM
	// as cloned chunks.
	Blobs worldhist.BlobStore

	// Compression is the zstd level for serialized revisions.
	Compression int

	Logger *slog.Logger
}

// Store is the chunk store of a level. It embeds the generic store keyed by
// Key; the methods below are chunk-flavored conveniences.
type Store struct {
	*worldhist.Store[Key, *Chunk]

	format   Format
	palettes *Palettes
	codec    *Codec
	layer    string
	logger   *slog.Logger
}

func NewStore(format Format, palettes *Palettes, opt Options) (*Store, error) {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	s := &Store{
		format:   format,
		palettes: palettes,
		layer:    uuid.NewString(),
		logger:   opt.Logger,
	}

	var newLog worldhist.LogFactory[Key, *Chunk]
	if opt.Blobs != nil {
		codec, err := NewCodec(palettes, opt.Compression)
		if err != nil {
			return nil, fmt.Errorf("chunk store: %w", err)
		}
		s.codec = codec
		newLog = worldhist.DiskLogs(opt.Blobs, worldhist.Codec[*Chunk](codec), s.blobPrefix)
	} else {
		newLog = worldhist.MemLogs[Key](s.cloneAttached)
	}

	s.Store = worldhist.NewStore(backing{s}, worldhist.Options[Key, *Chunk]{
		Name:   "chunks",
		NewLog: newLog,
		Logger: opt.Logger,
	})
	return s, nil
}

// blobPrefix namespaces revision blobs per store so that several stores may
// share one blob cache.
func (s *Store) blobPrefix(key Key) string {
	return "chunks/" + s.layer + "/" + key.path()
}

func (s *Store) cloneAttached(c *Chunk) *Chunk {
	dup := c.Clone()
	s.palettes.Attach(dup)
	return dup
}

// GetChunk returns the chunk at the given coordinates. A missing chunk is
// reported as an error satisfying errors.Is(err, worldhist.ErrDoesNotExist).
func (s *Store) GetChunk(dimension string, cx, cz int32) (*Chunk, error) {
	return s.Get(MakeKey(dimension, cx, cz))
}

// PutChunk stores c at its own coordinates within dimension.
func (s *Store) PutChunk(dimension string, c *Chunk) {
	s.palettes.Attach(c)
	s.Put(MakeKey(dimension, c.X, c.Z), c)
}

func (s *Store) DeleteChunk(dimension string, cx, cz int32) {
	s.Delete(MakeKey(dimension, cx, cz))
}

// HasChunk reports whether a chunk exists, consulting the world for chunks
// that were never touched.
func (s *Store) HasChunk(dimension string, cx, cz int32) bool {
	return s.Exists(MakeKey(dimension, cx, cz))
}

// AllChunkCoords returns the coordinates of every chunk currently present in
// dimension. Chunks deleted in this store are excluded even if the world
// still has them.
func (s *Store) AllChunkCoords(dimension string) map[Coords]struct{} {
	keys := s.AllKeys(func(k Key) bool { return k.Dimension == dimension }, s.rawKeys(dimension))
	result := make(map[Coords]struct{}, len(keys))
	for k := range keys {
		result[k.Coords()] = struct{}{}
	}
	return result
}

func (s *Store) rawKeys(dimension string) iter.Seq[Key] {
	return func(yield func(Key) bool) {
		for c, err := range s.format.ChunkCoords(dimension) {
			if err != nil {
				s.logger.LogAttrs(context.Background(), slog.LevelWarn, "skipping unreadable chunk listing", slog.String("dim", dimension), slog.Any("err", err))
				continue
			}
			if !yield(Key{dimension, c.X, c.Z}) {
				return
			}
		}
	}
}

// ChangedChunks returns the keys of chunks that differ from the world.
func (s *Store) ChangedChunks() []Key {
	return s.ChangedKeys()
}

// Unload drops loaded chunks outside of area. A nil area unloads
// everything. History is unaffected.
func (s *Store) Unload(area *Area) {
	if area == nil {
		s.Store.Unload(nil)
		return
	}
	s.Store.Unload(func(k Key) bool { return !area.Contains(k) })
}

// Format returns the world the store reads from.
func (s *Store) Format() Format {
	return s.format
}

// Close releases every revision and the codec.
func (s *Store) Close() {
	s.Purge()
	if s.codec != nil {
		s.codec.Close()
	}
}

type backing struct {
	s *Store
}

func (b backing) FetchOriginal(key Key) (*Chunk, error) {
	c, err := b.s.format.LoadChunk(key)
	if err != nil {
		if errors.Is(err, worldhist.ErrDoesNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("loading chunk %v: %w", key, err)
	}
	b.s.palettes.Attach(c)
	c.SetChanged(false)
	return c, nil
}

func (b backing) Exists(key Key) bool {
	return b.s.format.HasChunk(key)
}
