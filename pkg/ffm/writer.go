package ffm

import (
	"encoding/binary"
	"fmt"

	"feedcast/pkg/core"
)

// PacketWriter frames packets into fixed-size data records. Every completed
// record is handed to emit, which must not retain the slice.
type PacketWriter struct {
	emit func(rec []byte) error

	rec         []byte
	pos         int
	frameOffset int
	key         bool
	dts         int64
}

// NewPacketWriter 레코드 단위 패킷 작성기 생성
func NewPacketWriter(emit func(rec []byte) error) *PacketWriter {
	w := &PacketWriter{
		emit: emit,
		rec:  make([]byte, PacketSize),
	}
	w.reset()
	return w
}

func (w *PacketWriter) reset() {
	clear(w.rec)
	w.rec[0] = 'f'
	w.rec[1] = 'm'
	w.pos = RecordHeaderSize
	w.frameOffset = 0
	w.key = false
}

// WritePacket appends one packet, emitting every record it completes.
func (w *PacketWriter) WritePacket(p core.Packet) error {
	if len(p.Data) > MaxFrameSize {
		return fmt.Errorf("%d bytes: %w", len(p.Data), ErrFrameTooLarge)
	}

	// 프레임이 시작되는 첫 레코드에만 frame offset 기록
	if w.frameOffset == 0 {
		w.frameOffset = w.pos
		w.dts = p.DTS
	}
	if p.IsKeyPacket() {
		w.key = true
	}

	var hdr [FrameHeaderSize]byte
	putFrameHeader(hdr[:], &p)
	if err := w.write(hdr[:]); err != nil {
		return err
	}
	return w.write(p.Data)
}

func (w *PacketWriter) write(b []byte) error {
	for len(b) > 0 {
		n := copy(w.rec[w.pos:], b)
		w.pos += n
		b = b[n:]
		if w.pos == PacketSize {
			if err := w.finish(0); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush pads and emits the current record if it holds any payload.
func (w *PacketWriter) Flush() error {
	if w.pos == RecordHeaderSize {
		return nil
	}
	return w.finish(PacketSize - w.pos)
}

func (w *PacketWriter) finish(fill int) error {
	binary.BigEndian.PutUint16(w.rec[2:4], uint16(fill))
	binary.BigEndian.PutUint64(w.rec[4:12], uint64(w.dts))
	off := uint16(w.frameOffset)
	if w.key && off != 0 {
		off |= keyFrameFlag
	}
	binary.BigEndian.PutUint16(w.rec[12:14], off)

	err := w.emit(w.rec)
	w.reset()
	return err
}
