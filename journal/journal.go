// Package journal implements append-only segmented journal files, used to
// keep an audit trail of history events (undo points, undo, redo, save).
//
// Features:
//
//  1. Records of any size. Each record carries a running xxhash checksum of
//     the segment so far, so a torn or corrupted tail is detected and trimmed
//     when the journal is reopened for writing.
//
//  2. Automatic rotation once a segment reaches Options.MaxFileSize. (You can
//     also trigger the rotation programmatically at any time.)
//
//  3. Manages segment file naming.
//
// # File Format
//
//   - file = segmentHeader record*
//   - segmentHeader = magic:64 ver:8 pad:8 flags:16 pad:32 segmentNumber:32 timestamp:32 prevChecksum:64 journalInvariant:256 segmentInvariant:256 reserved:192 checksum:64
//   - record = size:uvarint tsDelta:uvarint bytes* checksum:64
//
// Segment files are named <prefix><segment number>-<timestamp>-<first record id><suffix>.
package journal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrIncompatible       = fmt.Errorf("incompatible journal")
	ErrUnsupportedVersion = fmt.Errorf("unsupported journal version")
	ErrNotWritable        = fmt.Errorf("journal is not open for writing")
	errCorruptedFile      = fmt.Errorf("corrupted journal segment file")
)

type Options struct {
	Context          context.Context
	FileName         string // e.g. "history-*.wal"
	MaxFileSize      int64  // new segment after this size
	DebugName        string
	Now              func() time.Time
	JournalInvariant [32]byte
	SegmentInvariant [32]byte

	Logger  *slog.Logger
	Verbose bool
}

const DefaultMaxFileSize = 4 * 1024 * 1024

const (
	magic          = 0x54414c4e52554f4a // "JOURNLAT" as little-endian uint64
	version0 uint8 = 0
)

const (
	segmentHeaderSize = 16 * 8
	checksumSize      = 8
	timestampFmt      = "20060102T150405"
)

type segmentHeader struct {
	Magic            uint64
	Version          uint8
	_                uint8
	Flags            uint16
	_                uint32
	SegmentOrdinal   uint32
	Timestamp        uint32
	PrevChecksum     uint64
	JournalInvariant [32]byte
	SegmentInvariant [32]byte
	_                [3]uint64
	Checksum         uint64
}

// Record is a single journal entry.
type Record struct {
	ID        uint64
	Segment   uint32
	Timestamp uint32
	Data      []byte
}

// Journal represents a directory of segment files.
type Journal struct {
	context          context.Context
	maxFileSize      int64
	fileNamePrefix   string
	fileNameSuffix   string
	debugName        string
	dir              string
	now              func() time.Time
	logger           *slog.Logger
	verbose          bool
	journalInvariant [32]byte
	segmentInvariant [32]byte

	writeLock    sync.Mutex
	writable     bool
	writeErr     error
	writeSeg     uint32
	writeRec     uint64
	lastChecksum uint64
	segWriter    *segmentWriter
}

func New(dir string, o Options) *Journal {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.FileName == "" {
		o.FileName = "*"
	}
	prefix, suffix, _ := strings.Cut(o.FileName, "*")
	if o.DebugName == "" {
		o.DebugName = "journal"
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Journal{
		context:          o.Context,
		maxFileSize:      o.MaxFileSize,
		fileNamePrefix:   prefix,
		fileNameSuffix:   suffix,
		debugName:        o.DebugName,
		dir:              dir,
		now:              o.Now,
		verbose:          o.Verbose,
		journalInvariant: o.JournalInvariant,
		segmentInvariant: o.SegmentInvariant,
		logger:           o.Logger,
	}
}

func (j *Journal) Now() uint32 {
	v := j.now().Unix()
	if v < 0 {
		panic("time travel disallowed")
	}
	u := uint64(v)
	if u&0xFFFF_FFFF_0000_0000 != 0 {
		panic("time travel disallowed both ways")
	}
	return uint32(u)
}

func (j *Journal) String() string {
	return j.debugName
}

func (j *Journal) Dir() string {
	return j.dir
}

// StartWriting prepares the journal for appending: it creates the directory
// if needed and trims a corrupted tail off the last segment. New records
// always go into a fresh segment.
func (j *Journal) StartWriting() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	if j.writable {
		return nil
	}
	if j.writeErr != nil {
		return j.writeErr
	}
	err := j.fail(j.prepareToWrite_locked())
	if err == nil {
		j.writable = true
	}
	return err
}

func (j *Journal) prepareToWrite_locked() error {
	err := os.MkdirAll(j.dir, 0o777)
	if err != nil {
		return err
	}

	for {
		names, err := j.segmentNames()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			return nil
		}
		lastName := names[len(names)-1]
		seq, _, firstID, err := j.parseFileName(lastName)
		if err != nil {
			return err
		}

		seg, err := j.readSegment(lastName, seq)
		if err == errCorruptedFile {
			if seg.validSize <= segmentHeaderSize {
				j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: deleting corrupted file", slog.String("jrnl", j.debugName), slog.String("file", lastName))
				err := os.Remove(filepath.Join(j.dir, lastName))
				if err != nil {
					return fmt.Errorf("journal: failed to delete corrupted file: %w", err)
				}
				continue
			}
			j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: trimming corrupted file", slog.String("jrnl", j.debugName), slog.String("file", lastName), slog.Int64("size", seg.validSize))
			err = os.Truncate(filepath.Join(j.dir, lastName), seg.validSize)
			if err != nil {
				return fmt.Errorf("journal: failed to trim corrupted file: %w", err)
			}
		} else if err != nil {
			return err
		}

		j.writeSeg = seq
		j.writeRec = firstID - 1 + uint64(len(seg.records))
		j.lastChecksum = seg.checksum
		return nil
	}
}

// FinishWriting closes the current segment. The journal can be reopened with
// StartWriting.
func (j *Journal) FinishWriting() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	return j.finishWriting_locked()
}

func (j *Journal) finishWriting_locked() error {
	j.writable = false
	return j.closeSegment_locked()
}

func (j *Journal) closeSegment_locked() error {
	if j.segWriter == nil {
		return nil
	}
	j.lastChecksum = j.segWriter.hash.Sum64()
	err := j.segWriter.close()
	j.segWriter = nil
	return err
}

func (j *Journal) fail(err error) error {
	if err == nil {
		return nil
	}

	j.logger.LogAttrs(j.context, slog.LevelError, "journal: failed", slog.String("jrnl", j.debugName), slog.Any("err", err))

	j.finishWriting_locked()

	if j.writeErr == nil {
		j.writeErr = err
	}
	return err
}

// Rotate makes the next record start a new segment.
func (j *Journal) Rotate() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	return j.closeSegment_locked()
}

// WriteRecord appends data as a single record. A zero timestamp means now.
func (j *Journal) WriteRecord(timestamp uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	if j.writeErr != nil {
		return j.writeErr
	}
	if !j.writable {
		return ErrNotWritable
	}

	if timestamp == 0 {
		timestamp = j.Now()
	}

	j.writeRec++

	if j.segWriter == nil {
		j.writeSeg++

		sw, err := startSegment(j, j.writeSeg, timestamp, j.writeRec)
		if err != nil {
			return j.fail(err)
		}
		j.segWriter = sw
		if j.verbose {
			j.logger.LogAttrs(j.context, slog.LevelDebug, "journal: new segment", slog.String("jrnl", j.debugName), slog.Uint64("seg", uint64(j.writeSeg)))
		}
	}

	err := j.segWriter.writeRecord(timestamp, data)
	if err != nil {
		return j.fail(err)
	}
	if j.segWriter.size >= j.maxFileSize {
		return j.fail(j.closeSegment_locked())
	}
	return nil
}

// Commit flushes the current segment to stable storage.
func (j *Journal) Commit() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	if j.segWriter == nil {
		return nil
	}
	return j.fail(fdatasync(j.segWriter.f))
}

// Records iterates over every valid record in segment order. A corrupted
// segment tail is logged and skipped.
func (j *Journal) Records() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		names, err := j.segmentNames()
		if err != nil {
			yield(Record{}, err)
			return
		}
		for _, name := range names {
			if err := j.context.Err(); err != nil {
				yield(Record{}, err)
				return
			}
			seq, _, _, err := j.parseFileName(name)
			if err != nil {
				yield(Record{}, err)
				return
			}
			seg, err := j.readSegment(name, seq)
			if err == errCorruptedFile {
				j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: skipping corrupted tail", slog.String("jrnl", j.debugName), slog.String("file", name), slog.Int64("valid", seg.validSize))
			} else if err != nil {
				yield(Record{}, err)
				return
			}
			for _, rec := range seg.records {
				if !yield(rec, nil) {
					return
				}
			}
		}
	}
}

func (j *Journal) segmentNames() ([]string, error) {
	ents, err := os.ReadDir(j.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var names []string
	for _, ent := range ents {
		if !ent.Type().IsRegular() {
			continue
		}
		name := ent.Name()
		if !strings.HasPrefix(name, j.fileNamePrefix) || !strings.HasSuffix(name, j.fileNameSuffix) {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (j *Journal) parseFileName(name string) (seq, ts uint32, id uint64, err error) {
	core := strings.TrimSuffix(strings.TrimPrefix(name, j.fileNamePrefix), j.fileNameSuffix)
	return parseSegmentName(core)
}

type segmentContents struct {
	records   []Record
	validSize int64
	checksum  uint64
}

// readSegment parses a whole segment file. On errCorruptedFile, the result
// holds every record before the corruption.
func (j *Journal) readSegment(name string, expectedSeq uint32) (segmentContents, error) {
	var seg segmentContents
	data, err := os.ReadFile(filepath.Join(j.dir, name))
	if err != nil {
		return seg, err
	}

	var h segmentHeader
	err = j.decodeHeader(data, &h, expectedSeq)
	if err != nil {
		return seg, err
	}

	var hash xxhash.Digest
	hash.Reset()
	hash.Write(data[:segmentHeaderSize])
	seg.validSize = segmentHeaderSize
	seg.checksum = hash.Sum64()

	_, _, id, _ := j.parseFileName(name)
	ts := h.Timestamp
	off := segmentHeaderSize
	for off < len(data) {
		size, n1 := binary.Uvarint(data[off:])
		if n1 <= 0 {
			return seg, errCorruptedFile
		}
		tsDelta, n2 := binary.Uvarint(data[off+n1:])
		if n2 <= 0 || tsDelta > 0xFFFF_FFFF {
			return seg, errCorruptedFile
		}
		dataStart := off + n1 + n2
		if size > uint64(len(data)-dataStart) || len(data)-dataStart-int(size) < checksumSize {
			return seg, errCorruptedFile
		}
		end := dataStart + int(size)
		hash.Write(data[off:end])
		if binary.LittleEndian.Uint64(data[end:]) != hash.Sum64() {
			return seg, errCorruptedFile
		}
		hash.Write(data[end : end+checksumSize])
		off = end + checksumSize

		ts += uint32(tsDelta)
		seg.records = append(seg.records, Record{
			ID:        id,
			Segment:   h.SegmentOrdinal,
			Timestamp: ts,
			Data:      data[dataStart:end],
		})
		id++
		seg.validSize = int64(off)
		seg.checksum = hash.Sum64()
	}
	return seg, nil
}

func (j *Journal) decodeHeader(data []byte, h *segmentHeader, expectedSeq uint32) error {
	if len(data) < segmentHeaderSize {
		return errCorruptedFile
	}
	buf := data[:segmentHeaderSize]
	n, err := binary.Decode(buf, binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != len(buf) {
		panic("internal size mismatch")
	}

	if h.Magic != magic {
		return errCorruptedFile
	}
	checksum := xxhash.Sum64(buf[:segmentHeaderSize-8])
	if checksum != h.Checksum {
		return errCorruptedFile
	}
	if expectedSeq != h.SegmentOrdinal {
		return errCorruptedFile
	}
	if h.Version > version0 {
		return ErrUnsupportedVersion
	}
	if h.JournalInvariant != j.journalInvariant {
		return ErrIncompatible
	}
	return nil
}

type segmentWriter struct {
	f    *os.File
	seg  uint32
	ts   uint32
	size int64
	hash xxhash.Digest
}

func startSegment(j *Journal, seg, ts uint32, rec uint64) (*segmentWriter, error) {
	name := formatSegmentName(j.fileNamePrefix, j.fileNameSuffix, seg, ts, rec)

	f, err := os.OpenFile(filepath.Join(j.dir, name), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return nil, err
	}

	var ok bool
	defer closeAndDeleteUnlessOK(f, &ok)

	sw := &segmentWriter{
		f:    f,
		seg:  seg,
		ts:   ts,
		size: segmentHeaderSize,
	}
	sw.hash.Reset()

	var hbuf [segmentHeaderSize]byte
	fillSegmentHeader(hbuf[:], j, seg, ts)
	sw.hash.Write(hbuf[:])

	_, err = f.Write(hbuf[:])
	if err != nil {
		return nil, err
	}

	ok = true
	return sw, nil
}

const maxRecHeaderLen = binary.MaxVarintLen64 + binary.MaxVarintLen32

func (sw *segmentWriter) writeRecord(ts uint32, data []byte) error {
	var tsDelta uint32
	if ts > sw.ts {
		tsDelta = ts - sw.ts
		sw.ts = ts
	}

	buf := make([]byte, 0, maxRecHeaderLen+len(data)+checksumSize)
	buf = appendRecordHeader(buf, len(data), tsDelta)
	buf = append(buf, data...)
	sw.hash.Write(buf)
	buf = binary.LittleEndian.AppendUint64(buf, sw.hash.Sum64())
	sw.hash.Write(buf[len(buf)-checksumSize:])

	_, err := sw.f.Write(buf)
	if err != nil {
		return err
	}
	sw.size += int64(len(buf))
	return nil
}

func (sw *segmentWriter) close() error {
	if sw.f == nil {
		return nil
	}
	err := sw.f.Close()
	sw.f = nil
	return err
}

func closeAndDeleteUnlessOK(f *os.File, ok *bool) {
	if *ok {
		return
	}
	f.Close()
	os.Remove(f.Name())
}

func fillSegmentHeader(buf []byte, j *Journal, seg, ts uint32) {
	h := segmentHeader{
		Magic:            magic,
		Version:          version0,
		SegmentOrdinal:   seg,
		Timestamp:        ts,
		PrevChecksum:     j.lastChecksum,
		JournalInvariant: j.journalInvariant,
		SegmentInvariant: j.segmentInvariant,
	}

	n, err := binary.Encode(buf[:], binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != len(buf) {
		panic("internal size mismatch")
	}

	binary.LittleEndian.PutUint64(buf[segmentHeaderSize-8:], xxhash.Sum64(buf[:segmentHeaderSize-8]))
}

func appendRecordHeader(b []byte, size int, tsDelta uint32) []byte {
	b = binary.AppendUvarint(b, uint64(size))
	b = binary.AppendUvarint(b, uint64(tsDelta))
	return b
}

func formatSegmentName(prefix, suffix string, seq, ts uint32, id uint64) string {
	t := time.Unix(int64(uint64(ts)), 0).UTC()
	return fmt.Sprintf("%s%012d-%s-%016x%s", prefix, seq, t.Format(timestampFmt), id, suffix)
}

func parseSegmentName(name string) (seq, ts uint32, id uint64, err error) {
	seqStr, rem, ok := strings.Cut(name, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	v, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q (invalid segment number)", name)
	}
	seq = uint32(v)

	tsStr, idStr, ok := strings.Cut(rem, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	t, err := time.ParseInLocation(timestampFmt, tsStr, time.UTC)
	if err != nil {
		return seq, 0, 0, fmt.Errorf("invalid segment file name %q (invalid timestamp)", name)
	}
	ts = uint32(t.Unix())

	id, err = strconv.ParseUint(idStr, 16, 64)
	if err != nil {
		return seq, 0, 0, fmt.Errorf("invalid segment file name %q (invalid record identifier)", name)
	}
	return
}
