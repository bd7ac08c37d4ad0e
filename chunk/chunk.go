package chunk

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

const (
	SectionSize  = 16
	sectionCells = SectionSize * SectionSize * SectionSize

	Air = "minecraft:air"
)

// Chunk is a 16-block-wide column of block data. Blocks are stored as
// indices into the owning level's shared BlockPalette; the palettes
// themselves are attached on load and never serialized.
type Chunk struct {
	X int32 `msgpack:"x"`
	Z int32 `msgpack:"z"`

	// Sections maps a section's Y index to its block indices, laid out as
	// x | z<<4 | y<<8.
	Sections map[int32][]uint32 `msgpack:"s"`

	// Biomes holds one biome index per block column (x | z<<4).
	Biomes []uint32 `msgpack:"b,omitempty"`

	Status string            `msgpack:"st,omitempty"`
	Misc   map[string][]byte `msgpack:"m,omitempty"`

	BlockPalette *Palette `msgpack:"-" json:"-"`
	BiomePalette *Palette `msgpack:"-" json:"-"`

	changed bool
}

func New(cx, cz int32) *Chunk {
	return &Chunk{X: cx, Z: cz}
}

func (c *Chunk) Changed() bool           { return c.changed }
func (c *Chunk) SetChanged(changed bool) { c.changed = changed }

// Clone returns a deep copy sharing the palettes.
func (c *Chunk) Clone() *Chunk {
	dup := *c
	if c.Sections != nil {
		dup.Sections = make(map[int32][]uint32, len(c.Sections))
		for y, blocks := range c.Sections {
			dup.Sections[y] = slices.Clone(blocks)
		}
	}
	dup.Biomes = slices.Clone(c.Biomes)
	if c.Misc != nil {
		dup.Misc = make(map[string][]byte, len(c.Misc))
		for k, v := range c.Misc {
			dup.Misc[k] = slices.Clone(v)
		}
	}
	return &dup
}

// SectionYs returns the Y indices of allocated sections in ascending order.
func (c *Chunk) SectionYs() []int32 {
	return slices.Sorted(maps.Keys(c.Sections))
}

func cellIndex(x, y, z int) int {
	return (x & 15) | (z&15)<<4 | (y&15)<<8
}

func sectionY(y int) int32 {
	if y < 0 {
		return int32((y - 15) / SectionSize)
	}
	return int32(y / SectionSize)
}

// Block returns the block name at local coordinates (x and z in 0..15).
// Missing sections read as air.
func (c *Chunk) Block(x, y, z int) string {
	blocks := c.Sections[sectionY(y)]
	if blocks == nil {
		return Air
	}
	return c.palette().Name(blocks[cellIndex(x, y, z)])
}

// SetBlock sets the block at local coordinates. It doesn't mark the chunk
// changed; put the chunk back into its store for that.
func (c *Chunk) SetBlock(x, y, z int, name string) {
	if x < 0 || x >= SectionSize || z < 0 || z >= SectionSize {
		panic(fmt.Errorf("block %d,%d,%d outside of chunk", x, y, z))
	}
	sy := sectionY(y)
	blocks := c.Sections[sy]
	if blocks == nil {
		if c.Sections == nil {
			c.Sections = make(map[int32][]uint32)
		}
		blocks = make([]uint32, sectionCells)
		c.Sections[sy] = blocks
	}
	blocks[cellIndex(x, y, z)] = c.palette().Index(name)
}

func (c *Chunk) palette() *Palette {
	if c.BlockPalette == nil {
		panic(fmt.Errorf("chunk %d.%d has no block palette attached", c.X, c.Z))
	}
	return c.BlockPalette
}

// Palette interns names into stable indices shared by every chunk of a
// level. Indices are never reused or reordered, so serialized chunks stay
// valid for the life of the palette.
type Palette struct {
	mu    sync.RWMutex
	names []string
	index map[string]uint32
}

// NewPalette returns a palette whose first entries (starting at index 0) are
// names.
func NewPalette(names ...string) *Palette {
	p := &Palette{index: make(map[string]uint32)}
	for _, name := range names {
		p.Index(name)
	}
	return p
}

func (p *Palette) Index(name string) uint32 {
	p.mu.RLock()
	i, ok := p.index[name]
	p.mu.RUnlock()
	if ok {
		return i
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if i, ok := p.index[name]; ok {
		return i
	}
	i = uint32(len(p.names))
	p.names = append(p.names, name)
	p.index[name] = i
	return i
}

func (p *Palette) Name(i uint32) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if int(i) >= len(p.names) {
		panic(fmt.Errorf("palette index %d out of range [0, %d)", i, len(p.names)))
	}
	return p.names[i]
}

func (p *Palette) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.names)
}

// Palettes are the shared palettes of a level.
type Palettes struct {
	Blocks *Palette
	Biomes *Palette
}

func NewPalettes() *Palettes {
	return &Palettes{
		Blocks: NewPalette(Air),
		Biomes: NewPalette("minecraft:plains"),
	}
}

// Attach points c at the shared palettes.
func (p *Palettes) Attach(c *Chunk) {
	c.BlockPalette = p.Blocks
	c.BiomePalette = p.Biomes
}
