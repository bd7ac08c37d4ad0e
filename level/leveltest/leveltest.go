// Package leveltest provides an in-memory level.World for tests.
package leveltest

import (
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/andreyvit/worldhist"
	"github.com/andreyvit/worldhist/chunk/chunktest"
	"github.com/andreyvit/worldhist/level"
)

// World extends chunktest.World with players. CommitErr, when set, makes
// every commit fail.
type World struct {
	*chunktest.World

	mu        sync.Mutex
	players   map[string]level.Player
	commitErr error
}

func New() *World {
	return &World{
		World:   chunktest.New(),
		players: make(map[string]level.Player),
	}
}

// AddPlayer stores p as if it had been saved earlier.
func (w *World) AddPlayer(p level.Player) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.players[p.ID] = p
}

// FailCommits makes CommitPlayer return err (nil restores normal behavior).
func (w *World) FailCommits(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.commitErr = err
}

// SavedPlayer returns the player as currently stored in the world.
func (w *World) SavedPlayer(id string) (level.Player, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.players[id]
	return p, ok
}

func (w *World) LoadPlayer(id string) (*level.Player, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.players[id]
	if !ok {
		return nil, worldhist.ErrDoesNotExist
	}
	return &p, nil
}

func (w *World) HasPlayer(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.players[id]
	return ok
}

func (w *World) PlayerIDs() iter.Seq[string] {
	w.mu.Lock()
	ids := slices.Sorted(maps.Keys(w.players))
	w.mu.Unlock()
	return slices.Values(ids)
}

func (w *World) CommitPlayer(p *level.Player) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.commitErr != nil {
		return fmt.Errorf("player %s: %w", p.ID, w.commitErr)
	}
	dup := *p
	dup.SetChanged(false)
	w.players[p.ID] = dup
	return nil
}

func (w *World) DeletePlayer(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.players, id)
	return nil
}

var _ level.World = (*World)(nil)
