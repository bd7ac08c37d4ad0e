package worldhist

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDirBlobStore(t *testing.T) {
	s, err := NewDirBlobStore(filepath.Join(t.TempDir(), "blobs"))
	ensure(err)

	ensure(s.PutBlob("chunks/x/0", []byte("hello")))
	data, err := s.GetBlob("chunks/x/0")
	ensure(err)
	deepEq(t, string(data), "hello")

	ensure(s.PutBlob("chunks/x/0", []byte("bye")))
	data, _ = s.GetBlob("chunks/x/0")
	deepEq(t, string(data), "bye")

	_, err = os.Stat(filepath.Join(s.Root(), "chunks", "x", "0.tmp"))
	deepEq(t, os.IsNotExist(err), true)

	ensure(s.DeleteBlob("chunks/x/0"))
	ensure(s.DeleteBlob("chunks/x/0"))
	_, err = s.GetBlob("chunks/x/0")
	if !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("GetBlob = %v, wanted ErrBlobNotFound", err)
	}
}

func TestDirBlobStore_invalidPaths(t *testing.T) {
	s := must(NewDirBlobStore(t.TempDir()))
	for _, path := range []string{"", "/abs", "a//b", "a/../../b", "./a", "a/"} {
		if err := s.PutBlob(path, nil); err == nil {
			t.Errorf("PutBlob(%q) succeeded, wanted an error", path)
		}
	}
}

func TestMemBlobStore(t *testing.T) {
	s := NewMemBlobStore()
	buf := []byte("abc")
	ensure(s.PutBlob("p", buf))
	buf[0] = 'X'
	data, err := s.GetBlob("p")
	ensure(err)
	deepEq(t, string(data), "abc")
	data[1] = 'Y'
	deepEq(t, string(must(s.GetBlob("p"))), "abc")
	deepEq(t, s.Len(), 1)
	deepEq(t, s.PutCount(), 1)

	ensure(s.DeleteBlob("p"))
	_, err = s.GetBlob("p")
	deepEq(t, errors.Is(err, ErrBlobNotFound), true)
}

func TestValueCodec(t *testing.T) {
	for _, c := range []*ValueCodec[*item]{
		MsgpackCodec(func() *item { return &item{} }),
		{Method: JSON, New: func() *item { return &item{} }},
	} {
		t.Run(c.Method.String(), func(t *testing.T) {
			data := c.Encode([]byte("prefix"), &item{Name: "q", N: 4})
			deepEq(t, string(data[:6]), "prefix")
			v, err := c.Decode(data[6:])
			ensure(err)
			deepEq(t, v.String(), "q=4")

			_, err = c.Decode([]byte{0xc1, '{'})
			var de *DataError
			if !errors.As(err, &de) {
				t.Fatalf("Decode(garbage) = %v, wanted *DataError", err)
			}
		})
	}
	deepEq(t, encodingMethod(7).String(), "encoding(7)")
}
