package blobcache

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andreyvit/worldhist"
)

func setup(t testing.TB, opt Options) *Cache {
	opt.Dir = t.TempDir()
	opt.IsTesting = true
	c, err := Open(opt)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ensure(c.Close())
	})
	return c
}

func TestCache_roundTrip(t *testing.T) {
	for _, memory := range []bool{false, true} {
		t.Run(fmt.Sprintf("memory=%v", memory), func(t *testing.T) {
			c := setup(t, Options{Memory: memory})
			ensure(c.PutBlob("a/0", []byte("hello")))
			ensure(c.PutBlob("a/1", []byte("world")))

			bytesEq(t, must(c.GetBlob("a/0")), []byte("hello"))
			bytesEq(t, must(c.GetBlob("a/1")), []byte("world"))

			ensure(c.DeleteBlob("a/0"))
			_, err := c.GetBlob("a/0")
			if !errors.Is(err, worldhist.ErrBlobNotFound) {
				t.Fatalf("GetBlob(deleted) err = %v, wanted ErrBlobNotFound", err)
			}
			ensure(c.DeleteBlob("never/existed"))
		})
	}
}

func TestCache_returnedDataIsACopy(t *testing.T) {
	c := setup(t, Options{MaxRAMSize: 10})
	ensure(c.PutBlob("k1", []byte("0123456789")))
	ensure(c.PutBlob("k2", []byte("abcdefghij"))) // spills k1

	for _, key := range []string{"k2", "k1", "k1"} { // RAM, disk, RAM
		data := must(c.GetBlob(key))
		want := bytes.Clone(data)
		data[0] = 'X'
		bytesEq(t, must(c.GetBlob(key)), want)
	}
}

func TestCache_spillsToDisk(t *testing.T) {
	c := setup(t, Options{MaxRAMSize: 10})
	ensure(c.PutBlob("k1", []byte("0123456789")))
	ensure(c.PutBlob("k2", []byte("abcdefghij")))

	st := c.Stats()
	if st.RAMItems != 1 || st.Spills != 1 || st.DiskItems != 1 {
		t.Fatalf("stats = %+v, wanted 1 RAM item, 1 spill, 1 disk item", st)
	}

	// k1 comes back from disk and pushes k2 out
	bytesEq(t, must(c.GetBlob("k1")), []byte("0123456789"))
	st = c.Stats()
	if st.DiskReads != 1 || st.DiskItems != 2 {
		t.Fatalf("stats = %+v, wanted 1 disk read and 2 disk items", st)
	}
	bytesEq(t, must(c.GetBlob("k2")), []byte("abcdefghij"))
}

func TestCache_cleanValuesAreNotRewritten(t *testing.T) {
	c := setup(t, Options{MaxRAMSize: 10})
	ensure(c.PutBlob("k1", []byte("0123456789")))
	ensure(c.PutBlob("k2", []byte("abcdefghij"))) // spills k1
	_ = must(c.GetBlob("k1"))                     // spills k2, k1 is clean
	ensure(c.PutBlob("k3", []byte("ABCDEFGHIJ"))) // drops k1 without writing
	if st := c.Stats(); st.Spills != 2 {
		t.Fatalf("Spills = %d, wanted 2", st.Spills)
	}
}

func TestCache_SetMaxSize(t *testing.T) {
	c := setup(t, Options{})
	for i := 0; i < 5; i++ {
		ensure(c.PutBlob(fmt.Sprint(i), bytes.Repeat([]byte{byte(i)}, 100)))
	}
	if st := c.Stats(); st.RAMItems != 5 {
		t.Fatalf("RAMItems = %d, wanted 5", st.RAMItems)
	}
	ensure(c.SetMaxSize(250))
	st := c.Stats()
	if st.RAMItems != 2 || st.RAMSize != 200 {
		t.Fatalf("stats = %+v, wanted 2 RAM items of 200 bytes", st)
	}
	if c.MaxSize() != 250 {
		t.Fatalf("MaxSize = %d, wanted 250", c.MaxSize())
	}
	for i := 0; i < 5; i++ {
		bytesEq(t, must(c.GetBlob(fmt.Sprint(i))), bytes.Repeat([]byte{byte(i)}, 100))
	}
}

func TestCache_closeRemovesSession(t *testing.T) {
	c, err := Open(Options{Dir: t.TempDir(), IsTesting: true})
	ensure(err)
	dir := c.Dir()
	if _, err := os.Stat(filepath.Join(dir, dbFileName)); err != nil {
		t.Fatalf("cache db missing: %v", err)
	}
	ensure(c.Close())
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("session dir still exists after Close: %v", err)
	}
	if err := c.PutBlob("x", nil); !errors.Is(err, worldhist.ErrClosed) {
		t.Fatalf("PutBlob after Close err = %v, wanted ErrClosed", err)
	}
	ensure(c.Close())
}

func TestCache_corruptedDiskValue(t *testing.T) {
	if _, err := unseal([]byte{1, 2, 3}); !errors.Is(err, errCorrupted) {
		t.Fatalf("unseal(short) err = %v, wanted errCorrupted", err)
	}
	sealed := seal([]byte("payload"))
	sealed[len(sealed)-1] ^= 0xFF
	if _, err := unseal(sealed); !errors.Is(err, errCorrupted) {
		t.Fatalf("unseal(flipped) err = %v, wanted errCorrupted", err)
	}
	bytesEq(t, must(unseal(seal([]byte("payload")))), []byte("payload"))
}

func TestRemoveStaleSessions(t *testing.T) {
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	dir := t.TempDir()

	live, err := Open(Options{Dir: dir, IsTesting: true, StaleAfter: -1, Now: func() time.Time { return now.Add(-30 * 24 * time.Hour) }})
	ensure(err)
	defer live.Close()

	stale := filepath.Join(dir, fmt.Sprintf("%sdead-%d", sessionPrefix, now.Add(-8*24*time.Hour).Unix()))
	fresh := filepath.Join(dir, fmt.Sprintf("%sfresh-%d", sessionPrefix, now.Add(-time.Hour).Unix()))
	other := filepath.Join(dir, "unrelated-1")
	for _, d := range []string{stale, fresh, other} {
		ensure(os.Mkdir(d, 0o777))
	}

	c, err := Open(Options{Dir: dir, IsTesting: true, Now: func() time.Time { return now }})
	ensure(err)
	defer c.Close()

	for _, tc := range []struct {
		dir    string
		exists bool
	}{
		{stale, false},
		{fresh, true},
		{other, true},
		{live.Dir(), true},
	} {
		_, err := os.Stat(tc.dir)
		if exists := err == nil; exists != tc.exists {
			t.Errorf("%s exists = %v, wanted %v", filepath.Base(tc.dir), exists, tc.exists)
		}
	}
}

func TestParseSessionName(t *testing.T) {
	ts, ok := parseSessionName(sessionPrefix + "0f8fad5b-d9cb-469f-a165-70867728950e-1700000000")
	if !ok || ts.Unix() != 1700000000 {
		t.Fatalf("parseSessionName = (%v, %v), wanted 1700000000", ts, ok)
	}
	for _, name := range []string{"worldhist", "other-1", sessionPrefix + "abc-notanumber"} {
		if _, ok := parseSessionName(name); ok {
			t.Errorf("parseSessionName(%q) ok = true, wanted false", name)
		}
	}
}

func bytesEq(t testing.TB, a, e []byte) {
	t.Helper()
	if !bytes.Equal(a, e) {
		t.Errorf("** got %q, wanted %q", a, e)
	}
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
