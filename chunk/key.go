package chunk

import (
	"fmt"
	"net/url"
	"strconv"
)

// Key identifies a chunk: a dimension and chunk coordinates within it.
type Key struct {
	Dimension string
	X, Z      int32
}

func MakeKey(dimension string, cx, cz int32) Key {
	return Key{dimension, cx, cz}
}

func (k Key) Coords() Coords {
	return Coords{k.X, k.Z}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d.%d", k.Dimension, k.X, k.Z)
}

// path returns a slash-separated path component safe for any blob store.
func (k Key) path() string {
	return url.PathEscape(k.Dimension) + "/" + strconv.FormatInt(int64(k.X), 10) + "." + strconv.FormatInt(int64(k.Z), 10)
}

// Coords are chunk coordinates within a dimension.
type Coords struct {
	X, Z int32
}

func (c Coords) String() string {
	return fmt.Sprintf("%d.%d", c.X, c.Z)
}

// Area is a dimension plus an inclusive box of chunk coordinates.
type Area struct {
	Dimension  string
	MinX, MinZ int32
	MaxX, MaxZ int32
}

func (a *Area) Contains(k Key) bool {
	return k.Dimension == a.Dimension &&
		a.MinX <= k.X && k.X <= a.MaxX &&
		a.MinZ <= k.Z && k.Z <= a.MaxZ
}
