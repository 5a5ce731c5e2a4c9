package ffm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"feedcast/pkg/core"
)

// File is a feed ring buffer backed by one FFM file.
//
// Records are addressed by a monotonic sequence number. Sequence s lives at
// PacketSize + (s mod capacity)*PacketSize, so the record at the write index
// is always the oldest intact one once the file has wrapped.
type File struct {
	f          *os.File
	path       string
	readonly   bool
	maxSize    int64
	size       int64
	writeIndex int64
	seq        uint64
	streams    []core.CodecParams
}

// Create writes a fresh feed file holding only the header record.
func Create(path string, streams []core.CodecParams, maxSize int64) (*File, error) {
	rec, err := EncodeHeader(streams, PacketSize)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed file: %w", err)
	}
	if _, err := f.WriteAt(rec, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write feed header: %w", err)
	}
	ff := &File{
		f:          f,
		path:       path,
		maxSize:    maxSize,
		size:       PacketSize,
		writeIndex: PacketSize,
		streams:    streams,
	}
	return ff, nil
}

// Open opens an existing feed file and restores the persisted write index.
// maxSize is clamped to the current file size so the buffer never wraps
// before its end.
func Open(path string, maxSize int64, readonly bool) (*File, error) {
	flag := os.O_RDWR
	if readonly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	rec := make([]byte, PacketSize)
	if _, err := f.ReadAt(rec, 0); err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: short file", ErrBadHeader)
		}
		return nil, err
	}
	h, err := DecodeHeader(rec)
	if err != nil {
		f.Close()
		return nil, err
	}

	size := st.Size() - st.Size()%PacketSize
	if size < PacketSize {
		size = PacketSize
	}
	if maxSize > 0 && maxSize < size {
		maxSize = size
	}
	wi := h.WriteIndex
	if wi < PacketSize || wi > size || wi%PacketSize != 0 {
		f.Close()
		return nil, fmt.Errorf("%w: write index %d", ErrBadHeader, wi)
	}
	if wi == size && maxSize > 0 && wi >= maxSize {
		wi = PacketSize
	}

	ff := &File{
		f:          f,
		path:       path,
		readonly:   readonly,
		maxSize:    maxSize,
		size:       size,
		writeIndex: wi,
		streams:    h.Streams,
	}
	ff.seq = ff.restoreSeq()
	return ff, nil
}

func (f *File) restoreSeq() uint64 {
	slot := uint64(f.writeIndex/PacketSize - 1)
	capacity := f.capacity()
	if capacity > 0 && f.size >= f.maxSize {
		// 한 바퀴 이상 돈 상태
		return capacity + slot
	}
	return slot
}

// capacity is the number of data slots, 0 when unbounded.
func (f *File) capacity() uint64 {
	if f.maxSize <= 0 {
		return 0
	}
	return uint64((f.maxSize - PacketSize + PacketSize - 1) / PacketSize)
}

// available is the number of intact records readable right now.
func (f *File) available() uint64 {
	if c := f.capacity(); c > 0 && f.seq > c {
		return c
	}
	return f.seq
}

func (f *File) offsetOf(seq uint64) int64 {
	if c := f.capacity(); c > 0 {
		seq %= c
	}
	return PacketSize + int64(seq)*PacketSize
}

// Path 피드 파일 경로
func (f *File) Path() string { return f.path }

// Streams returns the substream table stored in the header.
func (f *File) Streams() []core.CodecParams { return f.streams }

func (f *File) WriteIndex() int64 { return f.writeIndex }
func (f *File) Size() int64       { return f.size }
func (f *File) MaxSize() int64    { return f.maxSize }
func (f *File) ReadOnly() bool    { return f.readonly }

// Seq is the number of records written since the buffer was created.
func (f *File) Seq() uint64 { return f.seq }

// ValidateHeader checks the stored stream table against the configured one.
func (f *File) ValidateHeader(streams []core.CodecParams) error {
	if len(streams) != len(f.streams) {
		return fmt.Errorf("%w: %d streams in file, %d configured", ErrHeaderMismatch, len(f.streams), len(streams))
	}
	for i := range streams {
		if !streams[i].SameFormat(f.streams[i]) {
			return fmt.Errorf("%w: stream %d (%s) differs", ErrHeaderMismatch, i, streams[i].Codec)
		}
	}
	return nil
}

// SetStreams rewrites the header's stream table, keeping the write index.
func (f *File) SetStreams(streams []core.CodecParams) error {
	if f.readonly {
		return ErrReadOnly
	}
	rec, err := EncodeHeader(streams, f.writeIndex)
	if err != nil {
		return err
	}
	if _, err := f.f.WriteAt(rec, 0); err != nil {
		return fmt.Errorf("failed to rewrite feed header: %w", err)
	}
	f.streams = streams
	return nil
}

// Truncate drops every data record.
func (f *File) Truncate() error {
	if f.readonly {
		return ErrReadOnly
	}
	f.writeIndex = PacketSize
	if err := f.persistWriteIndex(); err != nil {
		return err
	}
	if err := f.f.Truncate(PacketSize); err != nil {
		return fmt.Errorf("failed to truncate feed: %w", err)
	}
	f.size = PacketSize
	f.seq = 0
	return nil
}

// AppendRecord stores one data record at the write index, advances the index
// (wrapping at the maximum size) and persists it before returning.
func (f *File) AppendRecord(rec []byte) error {
	if f.readonly {
		return ErrReadOnly
	}
	if len(rec) != PacketSize {
		return fmt.Errorf("%w: %d bytes", ErrRecordSize, len(rec))
	}
	if _, err := f.f.WriteAt(rec, f.writeIndex); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	f.writeIndex += PacketSize
	if f.writeIndex > f.size {
		f.size = f.writeIndex
	}
	if f.maxSize > 0 && f.writeIndex >= f.maxSize {
		f.writeIndex = PacketSize
	}
	f.seq++
	return f.persistWriteIndex()
}

func (f *File) persistWriteIndex() error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(f.writeIndex))
	if _, err := f.f.WriteAt(b[:], writeIndexOffset); err != nil {
		return fmt.Errorf("failed to persist write index: %w", err)
	}
	return nil
}

func (f *File) readRecord(seq uint64, rec []byte) error {
	_, err := f.f.ReadAt(rec, f.offsetOf(seq))
	return err
}

// Close 피드 파일 닫기
func (f *File) Close() error {
	return f.f.Close()
}
