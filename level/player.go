package level

import (
	"errors"
	"fmt"
	"iter"

	"github.com/andreyvit/worldhist"
)

// Player is the saved state of a player.
type Player struct {
	ID        string  `msgpack:"id"`
	Dimension string  `msgpack:"dim"`
	X         float64 `msgpack:"x"`
	Y         float64 `msgpack:"y"`
	Z         float64 `msgpack:"z"`
	Yaw       float32 `msgpack:"yaw"`
	Pitch     float32 `msgpack:"pitch"`

	changed bool
}

func (p *Player) Changed() bool           { return p.changed }
func (p *Player) SetChanged(changed bool) { p.changed = changed }

func (p *Player) Clone() *Player {
	dup := *p
	return &dup
}

// PlayerFormat is the player half of a World.
type PlayerFormat interface {
	// LoadPlayer returns the player with the given ID. A missing player is
	// reported as an error satisfying errors.Is(err, worldhist.ErrDoesNotExist).
	LoadPlayer(id string) (*Player, error)
	HasPlayer(id string) bool
	PlayerIDs() iter.Seq[string]
	CommitPlayer(p *Player) error
	DeletePlayer(id string) error
}

type playerBacking struct {
	format PlayerFormat
}

func (b playerBacking) FetchOriginal(id string) (*Player, error) {
	p, err := b.format.LoadPlayer(id)
	if err != nil {
		if errors.Is(err, worldhist.ErrDoesNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("loading player %s: %w", id, err)
	}
	p.SetChanged(false)
	return p, nil
}

func (b playerBacking) Exists(id string) bool {
	return b.format.HasPlayer(id)
}
