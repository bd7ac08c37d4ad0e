package worldhist

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDoesNotExist is returned when a key has no value in the live map,
	// the historical map, or the backing store.
	ErrDoesNotExist = errors.New("entry does not exist")

	// ErrClosed is returned by blob stores and stores used after Close.
	ErrClosed = errors.New("closed")
)

// LoadError reports a failure to load a key's original value from the backing
// store for any reason other than absence (corruption, I/O failures, etc).
//
// errors.Is(err, ErrDoesNotExist) holds for every LoadError, so callers that
// only guard against absence treat a broken entry as missing. Callers that
// need to tell the two apart must check errors.As(err, **LoadError) first.
type LoadError struct {
	Key any
	Err error
}

func loadErrf(key any, err error) error {
	if err == nil {
		return nil
	}
	var le *LoadError
	if errors.As(err, &le) {
		return err
	}
	return &LoadError{Key: key, Err: err}
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %v: %v", e.Key, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func (e *LoadError) Is(target error) bool {
	return target == ErrDoesNotExist
}

// IsLoadError reports whether err is a LoadError (as opposed to a plain absence).
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// DataError reports a revision blob that could not be decoded.
type DataError struct {
	Data []byte
	Path string
	Err  error
	Msg  string
}

func dataErrf(data []byte, path string, err error, format string, args ...any) error {
	return &DataError{data, path, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	var buf strings.Builder
	if e.Path != "" {
		buf.WriteString(e.Path)
		buf.WriteString(": ")
	}
	buf.WriteString(e.Msg)
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		fmt.Fprintf(&buf, ": (%d) %x", n, e.Data)
	} else {
		fmt.Fprintf(&buf, ": (%d) %x...%x", n, e.Data[:prefixLen], e.Data[n-suffixLen:])
	}
	return buf.String()
}

// KeyError attaches a key to an error raised while folding or undoing it.
type KeyError struct {
	Store string
	Key   any
	Msg   string
	Err   error
}

func keyErrf(store string, key any, err error, format string, args ...any) error {
	return &KeyError{store, key, fmt.Sprintf(format, args...), err}
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

func (e *KeyError) Error() string {
	var buf strings.Builder
	if e.Store != "" {
		buf.WriteString(e.Store)
		buf.WriteByte('/')
	}
	fmt.Fprint(&buf, e.Key)
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}
