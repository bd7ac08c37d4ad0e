// Package level ties together the stores of an open world: chunks and
// players share one undo stack, are saved together, and draw their
// revision storage from a common blob cache.
package level

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/andreyvit/worldhist"
	"github.com/andreyvit/worldhist/blobcache"
	"github.com/andreyvit/worldhist/chunk"
	"github.com/andreyvit/worldhist/config"
	"github.com/andreyvit/worldhist/journal"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// World is the on-disk representation of a level.
type World interface {
	chunk.Format
	PlayerFormat
}

type Options struct {
	// Config defaults to config.Default().
	Config *config.Config

	// Cache, when set, holds chunk revisions instead of a cache opened per
	// Config.Cache. The level doesn't close it.
	Cache *blobcache.Cache

	// Palettes are the shared block and biome palettes the world's chunks
	// are expressed in. Defaults to chunk.NewPalettes().
	Palettes *chunk.Palettes

	Logger *slog.Logger
}

type Level struct {
	world     World
	palettes  *chunk.Palettes
	cache     *blobcache.Cache
	ownsCache bool
	chunks    *chunk.Store
	players   *worldhist.Store[string, *Player]
	history   *worldhist.Composite
	journal   *journal.Journal
	logger    *slog.Logger
	tracer    trace.Tracer

	mu     sync.Mutex
	closed bool
}

// ErrClosed is returned by operations on a closed level.
var ErrClosed = worldhist.ErrClosed

func Open(world World, opt Options) (*Level, error) {
	cfg := opt.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Palettes == nil {
		opt.Palettes = chunk.NewPalettes()
	}

	l := &Level{
		world:    world,
		palettes: opt.Palettes,
		history:  worldhist.NewComposite(),
		logger:   opt.Logger,
		tracer:   otel.Tracer("github.com/andreyvit/worldhist/level"),
	}

	var ok bool
	defer func() {
		if !ok {
			l.release()
		}
	}()

	var blobs worldhist.BlobStore
	if cfg.History.DiskRevisions == nil || *cfg.History.DiskRevisions {
		l.cache = opt.Cache
		if l.cache == nil {
			cache, err := blobcache.Open(blobcache.Options{
				Dir:        cfg.Cache.Dir,
				MaxRAMSize: cfg.Cache.RAMSize,
				StaleAfter: time.Duration(cfg.Cache.StaleAfter),
				Memory:     cfg.Cache.Memory,
				Logger:     opt.Logger,
			})
			if err != nil {
				return nil, err
			}
			l.cache, l.ownsCache = cache, true
		}
		blobs = l.cache
	}

	chunks, err := chunk.NewStore(world, l.palettes, chunk.Options{
		Blobs:       blobs,
		Compression: cfg.History.Compression,
		Logger:      opt.Logger,
	})
	if err != nil {
		return nil, err
	}
	l.chunks = chunks

	l.players = worldhist.NewStore(playerBacking{world}, worldhist.Options[string, *Player]{
		Name:   "players",
		NewLog: worldhist.MemLogs[string](func(p *Player) *Player { return p.Clone() }),
		Logger: opt.Logger,
	})

	l.history.Register(l.chunks.Store, true)
	l.history.Register(l.players, true)

	if cfg.History.JournalDir != "" {
		l.journal = journal.New(cfg.History.JournalDir, journal.Options{
			FileName:  "history-*.wal",
			DebugName: "history",
			Logger:    opt.Logger,
		})
		if err := l.journal.StartWriting(); err != nil {
			return nil, fmt.Errorf("history journal: %w", err)
		}
	}

	ok = true
	return l, nil
}

func (l *Level) World() World                               { return l.world }
func (l *Level) Palettes() *chunk.Palettes                  { return l.palettes }
func (l *Level) Chunks() *chunk.Store                       { return l.chunks }
func (l *Level) Players() *worldhist.Store[string, *Player] { return l.players }
func (l *Level) History() *worldhist.Composite              { return l.history }

// Cache returns the blob cache holding chunk revisions, or nil when they are
// kept in RAM.
func (l *Level) Cache() *blobcache.Cache { return l.cache }

// Journal returns the history journal, or nil when it isn't enabled.
func (l *Level) Journal() *journal.Journal { return l.journal }

// Register adds another history-tracking object to the level's undo stack.
// World data should be primary; editor state like selections secondary.
func (l *Level) Register(child worldhist.Undoable, primary bool) {
	l.history.Register(child, primary)
}

func (l *Level) GetPlayer(id string) (*Player, error) {
	return l.players.Get(id)
}

func (l *Level) PutPlayer(p *Player) {
	l.players.Put(p.ID, p)
}

func (l *Level) DeletePlayer(id string) {
	l.players.Delete(id)
}

// AllPlayerIDs returns the IDs of every player, including ones added in
// this session and excluding deleted ones.
func (l *Level) AllPlayerIDs() map[string]struct{} {
	return l.players.AllKeys(nil, l.world.PlayerIDs())
}

// CreateUndoPoint records all changes made since the previous undo point.
func (l *Level) CreateUndoPoint(ctx context.Context, progress worldhist.ProgressFunc) (bool, error) {
	return l.CreateUndoPointFor(ctx, true, true, progress)
}

// CreateUndoPointFor is like CreateUndoPoint, but only includes world data
// (primary children) and/or other registered state (secondary children).
func (l *Level) CreateUndoPointFor(ctx context.Context, world, nonWorld bool, progress worldhist.ProgressFunc) (bool, error) {
	ctx, span := l.tracer.Start(ctx, "level.CreateUndoPoint",
		trace.WithAttributes(
			attribute.Bool("world", world),
			attribute.Bool("non_world", nonWorld),
		),
	)
	defer span.End()

	created, err := l.history.CreateUndoPointFor(world, nonWorld, progress)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Bool("created", created))
	if created {
		l.record(ctx, journal.EventUndoPoint, l.lastUndoPointKeys())
	}
	return created, err
}

// lastUndoPointKeys lists the keys recorded by the current undo point of
// each known child.
func (l *Level) lastUndoPointKeys() []string {
	var keys []string
	for _, child := range l.history.Snapshot(l.history.UndoCount() - 1) {
		switch child {
		case l.chunks.Store:
			for _, k := range l.chunks.Snapshot(l.chunks.UndoCount() - 1) {
				keys = append(keys, "chunk:"+k.String())
			}
		case l.players:
			for _, id := range l.players.Snapshot(l.players.UndoCount() - 1) {
				keys = append(keys, "player:"+id)
			}
		}
	}
	slices.Sort(keys)
	return keys
}

// RestoreLastUndoPoint drops edits made since the last undo point.
func (l *Level) RestoreLastUndoPoint() {
	l.history.RestoreLastUndoPoint()
}

// Undo reverts the last undo point, if any. It returns false on a closed
// level.
func (l *Level) Undo() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || !l.history.Undo() {
		return false
	}
	l.record(context.Background(), journal.EventUndo, nil)
	return true
}

// Redo reapplies the next undo point, if any. It returns false on a closed
// level.
func (l *Level) Redo() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || !l.history.Redo() {
		return false
	}
	l.record(context.Background(), journal.EventRedo, nil)
	return true
}

func (l *Level) UndoCount() int      { return l.history.UndoCount() }
func (l *Level) RedoCount() int      { return l.history.RedoCount() }
func (l *Level) UnsavedChanges() int { return l.history.UnsavedChanges() }
func (l *Level) Changed() bool       { return l.history.Changed() }

func (l *Level) record(ctx context.Context, kind journal.EventKind, keys []string) {
	if l.journal == nil {
		return
	}
	err := l.journal.Append(journal.Event{
		Kind:      kind,
		Keys:      keys,
		UndoCount: l.history.UndoCount(),
		RedoCount: l.history.RedoCount(),
		Unsaved:   l.history.UnsavedChanges(),
	})
	if err != nil {
		l.logger.LogAttrs(ctx, slog.LevelWarn, "failed to journal history event", slog.String("event", kind.String()), slog.Any("err", err))
	}
}

// Save records pending edits as an undo point, then writes every changed
// chunk and player to the world. The level is marked saved only if every
// write succeeds; failed entries stay changed and are retried by the next
// save.
func (l *Level) Save(ctx context.Context, progress worldhist.ProgressFunc) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	timer := prometheus.NewTimer(saveDuration)
	defer timer.ObserveDuration()

	ctx, span := l.tracer.Start(ctx, "level.Save")
	defer span.End()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	_, err := l.CreateUndoPointFor(ctx, true, true, progress.Scale(0, 0.1))
	if err != nil {
		return fail(err)
	}

	chunkKeys := l.chunks.ChangedChunks()
	slices.SortFunc(chunkKeys, func(a, b chunk.Key) int { return cmp.Compare(a.String(), b.String()) })
	playerIDs := l.players.ChangedKeys()
	slices.Sort(playerIDs)
	span.SetAttributes(attribute.Int("chunks", len(chunkKeys)), attribute.Int("players", len(playerIDs)))

	writes := progress.Scale(0.1, 1)
	total, done := len(chunkKeys)+len(playerIDs), 0
	step := func() {
		done++
		if writes != nil {
			writes(float64(done) / float64(total))
		}
	}

	var errs []error
	for _, key := range chunkKeys {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if err := l.saveChunk(key); err != nil {
			l.logger.LogAttrs(ctx, slog.LevelWarn, "failed to save chunk", slog.String("key", key.String()), slog.Any("err", err))
			errs = append(errs, err)
		}
		step()
	}
	for _, id := range playerIDs {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if err := l.savePlayer(id); err != nil {
			l.logger.LogAttrs(ctx, slog.LevelWarn, "failed to save player", slog.String("id", id), slog.Any("err", err))
			errs = append(errs, err)
		}
		step()
	}
	if len(errs) > 0 {
		return fail(errors.Join(errs...))
	}

	l.history.MarkSaved()
	if total == 0 && writes != nil {
		writes(1)
	}
	l.record(ctx, journal.EventSave, nil)
	l.logger.LogAttrs(ctx, slog.LevelInfo, "level saved", slog.Int("chunks", len(chunkKeys)), slog.Int("players", len(playerIDs)))
	return nil
}

func (l *Level) saveChunk(key chunk.Key) error {
	c, err := l.chunks.Get(key)
	switch {
	case err == nil:
		err = l.world.CommitChunk(key, c)
		if err == nil {
			savedEntries.WithLabelValues("chunk", "commit").Inc()
		}
	case errors.Is(err, worldhist.ErrDoesNotExist) && !worldhist.IsLoadError(err):
		err = l.world.DeleteChunk(key)
		if err == nil {
			savedEntries.WithLabelValues("chunk", "delete").Inc()
		}
	}
	if err != nil {
		return fmt.Errorf("chunk %v: %w", key, err)
	}
	return nil
}

func (l *Level) savePlayer(id string) error {
	p, err := l.players.Get(id)
	switch {
	case err == nil:
		err = l.world.CommitPlayer(p)
		if err == nil {
			savedEntries.WithLabelValues("player", "commit").Inc()
		}
	case errors.Is(err, worldhist.ErrDoesNotExist) && !worldhist.IsLoadError(err):
		err = l.world.DeletePlayer(id)
		if err == nil {
			savedEntries.WithLabelValues("player", "delete").Inc()
		}
	}
	if err != nil {
		return fmt.Errorf("player %s: %w", id, err)
	}
	return nil
}

// Unload drops loaded chunks outside of area (everything if area is nil)
// and unchanged players. History is unaffected.
func (l *Level) Unload(area *chunk.Area) {
	l.chunks.Unload(area)
	l.players.UnloadUnchanged()
}

// Purge discards all history and loaded data.
func (l *Level) Purge() {
	l.history.Purge()
}

// ApplyConfig applies settings that can change while the level is open.
func (l *Level) ApplyConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if l.cache != nil && l.ownsCache {
		if err := l.cache.SetMaxSize(cfg.Cache.RAMSize); err != nil {
			return err
		}
	}
	return nil
}

// Close discards all history and releases the cache. Unsaved changes are
// lost.
func (l *Level) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.release()
}

func (l *Level) release() error {
	var errs []error
	l.history.Purge()
	if l.chunks != nil {
		l.chunks.Close()
	}
	if l.players != nil {
		l.players.Purge()
	}
	if l.journal != nil {
		errs = append(errs, l.journal.FinishWriting())
	}
	if l.ownsCache && l.cache != nil {
		errs = append(errs, l.cache.Close())
	}
	return errors.Join(errs...)
}
