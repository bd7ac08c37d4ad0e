// Package journaltest helps testing code that writes journals.
package journaltest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/andreyvit/worldhist/journal"
)

var Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// TestJournal is a writable journal in a temporary directory with a manually
// advanced clock.
type TestJournal struct {
	*journal.Journal

	T   testing.TB
	Dir string

	opt journal.Options
	now time.Time
}

func Writable(t testing.TB, o journal.Options) *TestJournal {
	j := &TestJournal{
		T:   t,
		Dir: t.TempDir(),
		now: Start,
	}
	o.FileName = "j*.wal"
	o.Now = func() time.Time { return j.now }
	o.Logger = TestLogger(t)
	o.Verbose = true
	j.opt = o

	j.Journal = journal.New(j.Dir, o)
	ensure(j.StartWriting())
	t.Cleanup(func() {
		err := j.FinishWriting()
		if err != nil {
			t.Error(err)
		}
	})
	return j
}

// Reopen finishes writing and opens a fresh Journal over the same directory,
// like a process restart would.
func (j *TestJournal) Reopen() {
	ensure(j.FinishWriting())
	j.Journal = journal.New(j.Dir, j.opt)
	ensure(j.StartWriting())
}

// TestLogger returns a debug-level logger writing to t.Log.
func TestLogger(t testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(&logWriter{t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func (j *TestJournal) Eq(fileName string, expected ...string) {
	j.T.Helper()
	BytesEq(j.T, j.Data(fileName), Expand(expected...))
}

func (j *TestJournal) Data(fileName string) []byte {
	b, err := os.ReadFile(filepath.Join(j.Dir, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		j.T.Fatalf("when reading %v: %v", fileName, err)
	}
	return b
}

// Corrupt flips the byte at offset (negative offsets count from the end).
func (j *TestJournal) Corrupt(fileName string, offset int) {
	data := j.Data(fileName)
	if offset < 0 {
		offset += len(data)
	}
	data[offset] ^= 0xFF
	ensure(os.WriteFile(filepath.Join(j.Dir, fileName), data, 0o644))
}

func (j *TestJournal) Advance(d time.Duration) {
	j.now = j.now.Add(d)
}

func (j *TestJournal) FileNames() []string {
	var names []string
	for _, ent := range must(os.ReadDir(j.Dir)) {
		names = append(names, ent.Name())
	}
	slices.Sort(names)
	return names
}

// AllEvents reads back every event.
func (j *TestJournal) AllEvents() []journal.Event {
	var events []journal.Event
	for ev, err := range j.Events() {
		if err != nil {
			j.T.Fatal(err)
		}
		events = append(events, ev)
	}
	return events
}

type logWriter struct{ t testing.TB }

func (c *logWriter) Write(buf []byte) (int, error) {
	c.t.Log(strings.TrimSuffix(string(buf), "\n"))
	return len(buf), nil
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

// Expand turns a compact byte description into bytes. Elements are
// whitespace-separated: hex bytes (optionally grouped with _), #123 for a
// uvarint, 'text for raw text; "x..." pads to 8 bytes, "x.." to 4, "x*N"
// repeats, and anything after "/" is a comment.
func Expand(specs ...string) []byte {
	var b []byte
	for _, spec := range specs {
		for _, elem := range strings.Fields(spec) {
			base, _, _ := strings.Cut(elem, "/")
			if base == "" {
				continue
			}

			base, repStr, _ := strings.Cut(base, "*")
			rep := 1
			if repStr != "" {
				var err error
				rep, err = strconv.Atoi(repStr)
				if err != nil {
					panic(fmt.Sprintf("invalid repeat count %q in element %q", repStr, elem))
				}
			}

			padTo := 0
			if left, right, ok := strings.Cut(base, "..."); ok {
				base, padTo = left+"|"+right, 8
			} else if left, right, ok := strings.Cut(base, ".."); ok {
				base, padTo = left+"|"+right, 4
			}
			left, right, _ := strings.Cut(base, "|")

			leftBytes, err := appendHexDecoding(nil, left)
			if err != nil {
				panic(fmt.Errorf("%w in element %q", err, elem))
			}
			rightBytes, err := appendHexDecoding(nil, right)
			if err != nil {
				panic(fmt.Errorf("%w in element %q", err, elem))
			}

			for range rep {
				b = append(b, leftBytes...)
				for n := len(leftBytes) + len(rightBytes); n < padTo; n++ {
					b = append(b, 0)
				}
				b = append(b, rightBytes...)
			}
		}
	}
	return b
}

func appendHexDecoding(data []byte, hex string) ([]byte, error) {
	if decimal, ok := strings.CutPrefix(hex, "#"); ok {
		v, err := strconv.ParseUint(decimal, 10, 64)
		if err != nil {
			return nil, err
		}
		return binary.AppendUvarint(data, v), nil
	} else if alpha, ok := strings.CutPrefix(hex, "'"); ok {
		return append(data, alpha...), nil
	}

	for _, group := range strings.Split(hex, "_") {
		if group == "" {
			continue
		}
		if len(group)%2 == 1 {
			group = "0" + group
		}
		for i := 0; i < len(group); i += 2 {
			v, err := strconv.ParseUint(group[i:i+2], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("invalid hex %q", group)
			}
			data = append(data, byte(v))
		}
	}
	return data, nil
}

func BytesEq(t testing.TB, a, e []byte) bool {
	if !bytes.Equal(a, e) {
		off := min(len(a), len(e))
		for i := range off {
			if a[i] != e[i] {
				off = i
				break
			}
		}
		t.Helper()
		t.Errorf("** got:\n%x\nwanted:\n%x\nfirst difference offset: 0x%x (%d)", a, e, off, off)
		return false
	}
	return true
}
