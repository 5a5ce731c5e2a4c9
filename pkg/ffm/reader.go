package ffm

import (
	"sort"

	"feedcast/pkg/core"
)

// Reader is a consumer cursor over a File. It never reads a record the
// writer has not completed.
type Reader struct {
	file    *File
	seq     uint64
	synced  bool
	pending []byte
	rec     []byte
}

// NewReader returns a reader positioned at the current write position.
func (f *File) NewReader() *Reader {
	r := &Reader{
		file: f,
		rec:  make([]byte, PacketSize),
	}
	r.SeekNow()
	return r
}

func (r *Reader) resync(seq uint64) {
	r.seq = seq
	r.synced = false
	r.pending = r.pending[:0]
}

// SeekNow skips everything already written.
func (r *Reader) SeekNow() {
	r.resync(r.file.seq)
}

// SeekOldest rewinds to the oldest intact record.
func (r *Reader) SeekOldest() {
	r.resync(r.file.seq - r.file.available())
}

// SeekTime positions the reader at the first record whose frame starts at or
// after ts (µs). When no such record exists the reader waits for new data.
func (r *Reader) SeekTime(ts int64) error {
	f := r.file
	oldest := f.seq - f.available()
	n := int(f.seq - oldest)

	var hdrErr error
	hdr := make([]byte, RecordHeaderSize)
	i := sort.Search(n, func(i int) bool {
		if _, err := f.f.ReadAt(hdr, f.offsetOf(oldest+uint64(i))); err != nil {
			hdrErr = err
			return true
		}
		h, err := parseRecordHeader(hdr)
		if err != nil {
			hdrErr = err
			return true
		}
		return h.dts >= ts
	})
	if hdrErr != nil {
		return hdrErr
	}
	r.resync(oldest + uint64(i))
	return nil
}

// Pending is the number of complete records the reader has not consumed.
func (r *Reader) Pending() uint64 {
	if r.seq >= r.file.seq {
		return 0
	}
	return r.file.seq - r.seq
}

// ReadPacket returns the next packet, or ErrNoData once the reader has caught
// up with the writer. A reader overtaken by the writer restarts at the oldest
// intact record.
func (r *Reader) ReadPacket() (core.Packet, error) {
	f := r.file
	for {
		if p, ok := r.decode(); ok {
			return p, nil
		}

		if r.seq > f.seq {
			// 피드가 truncate 됨
			r.resync(f.seq)
		}
		if r.seq == f.seq {
			return core.Packet{}, ErrNoData
		}
		if oldest := f.seq - f.available(); r.seq < oldest {
			r.resync(oldest)
		}

		if err := f.readRecord(r.seq, r.rec); err != nil {
			return core.Packet{}, err
		}
		r.seq++

		h, err := parseRecordHeader(r.rec)
		if err != nil {
			return core.Packet{}, err
		}
		end := PacketSize - h.fill
		start := RecordHeaderSize
		if !r.synced {
			if h.frameOffset == 0 || h.frameOffset >= end {
				continue
			}
			start = h.frameOffset
			r.synced = true
		}
		r.pending = append(r.pending, r.rec[start:end]...)
	}
}

func (r *Reader) decode() (core.Packet, bool) {
	if len(r.pending) < FrameHeaderSize {
		return core.Packet{}, false
	}
	p, size := getFrameHeader(r.pending)
	if size > MaxFrameSize {
		// 손상된 프레임 헤더, 다음 frame offset 까지 건너뜀
		r.synced = false
		r.pending = r.pending[:0]
		return core.Packet{}, false
	}
	total := FrameHeaderSize + size
	if len(r.pending) < total {
		return core.Packet{}, false
	}
	p.Data = append([]byte(nil), r.pending[FrameHeaderSize:total]...)
	r.pending = append(r.pending[:0], r.pending[total:]...)
	return p, true
}
