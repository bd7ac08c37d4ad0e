package blobcache

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

// parseSessionName extracts the creation time from a session directory name.
func parseSessionName(name string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(name, sessionPrefix)
	if !ok {
		return time.Time{}, false
	}
	i := strings.LastIndexByte(rest, '-')
	if i < 0 {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}

// removeStaleSessions deletes session directories left behind by crashed
// processes. A directory whose database is still locked belongs to a live
// cache and is kept regardless of its age.
func removeStaleSessions(dir string, cutoff time.Time, logger *slog.Logger) int {
	ents, err := os.ReadDir(dir)
	if err != nil {
		logger.LogAttrs(context.Background(), slog.LevelWarn, "blobcache: cannot list sessions", slog.String("dir", dir), slog.Any("err", err))
		return 0
	}

	var removed int
	for _, ent := range ents {
		if !ent.IsDir() {
			continue
		}
		created, ok := parseSessionName(ent.Name())
		if !ok || !created.Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, ent.Name())
		if sessionLocked(path) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			logger.LogAttrs(context.Background(), slog.LevelWarn, "blobcache: cannot remove stale session", slog.String("dir", path), slog.Any("err", err))
			continue
		}
		logger.LogAttrs(context.Background(), slog.LevelInfo, "blobcache: removed stale session", slog.String("dir", path), slog.Time("created", created))
		removed++
	}
	return removed
}

func sessionLocked(path string) bool {
	fn := filepath.Join(path, dbFileName)
	if _, err := os.Stat(fn); err != nil {
		return false
	}
	bdb, err := bbolt.Open(fn, 0o666, &bbolt.Options{Timeout: 50 * time.Millisecond, ReadOnly: true})
	if errors.Is(err, bbolt.ErrTimeout) {
		return true
	}
	if err == nil {
		bdb.Close()
	}
	return false
}
