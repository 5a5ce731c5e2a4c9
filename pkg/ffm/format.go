package ffm

import (
	"encoding/binary"
	"fmt"

	"feedcast/pkg/core"
)

// FFM 레이아웃
//
// 레코드 0 (헤더):  "FFM2" | packet size u32 | write index u64 | stream count u16 | stream table
// 데이터 레코드:     'f' 'm' | fill size u16 | dts i64 | frame offset u16 | payload
// 프레임 (payload 안에서 레코드 경계를 넘을 수 있음):
//
//	stream u8 | flags u8 | size u32 | pts i64 | dts i64 | duration u32 | data
const (
	PacketSize       = 4096
	RecordHeaderSize = 14
	FrameHeaderSize  = 26
	MaxFrameSize     = 16 << 20

	writeIndexOffset = 8
	streamTableStart = 18
	keyFrameFlag     = 0x8000
)

var fileMagic = [4]byte{'F', 'F', 'M', '2'}

// Header 피드 파일의 헤더 레코드
type Header struct {
	PacketSize int
	WriteIndex int64
	Streams    []core.CodecParams
}

// EncodeHeader builds a full header record.
func EncodeHeader(streams []core.CodecParams, writeIndex int64) ([]byte, error) {
	rec := make([]byte, PacketSize)
	copy(rec[0:4], fileMagic[:])
	binary.BigEndian.PutUint32(rec[4:8], PacketSize)
	binary.BigEndian.PutUint64(rec[writeIndexOffset:], uint64(writeIndex))
	binary.BigEndian.PutUint16(rec[16:18], uint16(len(streams)))

	pos := streamTableStart
	for i, st := range streams {
		need := 23 + len(st.Extradata)
		if pos+need > PacketSize {
			return nil, fmt.Errorf("stream %d: %w", i, ErrHeaderTooLarge)
		}
		rec[pos] = byte(st.Codec)
		binary.BigEndian.PutUint32(rec[pos+1:], uint32(st.BitRate))
		binary.BigEndian.PutUint16(rec[pos+5:], uint16(st.Width))
		binary.BigEndian.PutUint16(rec[pos+7:], uint16(st.Height))
		binary.BigEndian.PutUint16(rec[pos+9:], uint16(st.FrameRateNum))
		binary.BigEndian.PutUint16(rec[pos+11:], uint16(st.FrameRateDen))
		binary.BigEndian.PutUint16(rec[pos+13:], uint16(st.GopSize))
		binary.BigEndian.PutUint32(rec[pos+15:], uint32(st.SampleRate))
		rec[pos+19] = byte(st.Channels)
		binary.BigEndian.PutUint16(rec[pos+20:], uint16(len(st.Extradata)))
		// pos+22 reserved
		copy(rec[pos+23:], st.Extradata)
		pos += need
	}
	return rec, nil
}

// DecodeHeader parses a header record.
func DecodeHeader(rec []byte) (Header, error) {
	if len(rec) < streamTableStart {
		return Header{}, ErrBadHeader
	}
	if [4]byte(rec[0:4]) != fileMagic {
		return Header{}, fmt.Errorf("%w: magic %q", ErrBadHeader, rec[0:4])
	}
	h := Header{
		PacketSize: int(binary.BigEndian.Uint32(rec[4:8])),
		WriteIndex: int64(binary.BigEndian.Uint64(rec[writeIndexOffset:])),
	}
	if h.PacketSize != PacketSize {
		return Header{}, fmt.Errorf("%w: packet size %d", ErrBadHeader, h.PacketSize)
	}

	count := int(binary.BigEndian.Uint16(rec[16:18]))
	pos := streamTableStart
	for i := 0; i < count; i++ {
		if pos+23 > len(rec) {
			return Header{}, fmt.Errorf("%w: truncated stream table", ErrBadHeader)
		}
		st := core.CodecParams{
			Codec:        core.Codec(rec[pos]),
			BitRate:      int(binary.BigEndian.Uint32(rec[pos+1:])),
			Width:        int(binary.BigEndian.Uint16(rec[pos+5:])),
			Height:       int(binary.BigEndian.Uint16(rec[pos+7:])),
			FrameRateNum: int(binary.BigEndian.Uint16(rec[pos+9:])),
			FrameRateDen: int(binary.BigEndian.Uint16(rec[pos+11:])),
			GopSize:      int(binary.BigEndian.Uint16(rec[pos+13:])),
			SampleRate:   int(binary.BigEndian.Uint32(rec[pos+15:])),
			Channels:     int(rec[pos+19]),
		}
		extra := int(binary.BigEndian.Uint16(rec[pos+20:]))
		if pos+23+extra > len(rec) {
			return Header{}, fmt.Errorf("%w: truncated extradata", ErrBadHeader)
		}
		if extra > 0 {
			st.Extradata = append([]byte(nil), rec[pos+23:pos+23+extra]...)
		}
		h.Streams = append(h.Streams, st)
		pos += 23 + extra
	}
	return h, nil
}

// IsDataRecord reports whether rec starts with the data record magic.
func IsDataRecord(rec []byte) bool {
	return len(rec) >= 2 && rec[0] == 'f' && rec[1] == 'm'
}

type recordHeader struct {
	fill        int
	dts         int64
	frameOffset int
	key         bool
}

// parseRecordHeader decodes the record header at the start of rec. rec may be
// just the header bytes; fill is checked against the full record size.
func parseRecordHeader(rec []byte) (recordHeader, error) {
	if len(rec) < RecordHeaderSize || !IsDataRecord(rec) {
		return recordHeader{}, ErrBadMagic
	}
	off := binary.BigEndian.Uint16(rec[12:14])
	h := recordHeader{
		fill:        int(binary.BigEndian.Uint16(rec[2:4])),
		dts:         int64(binary.BigEndian.Uint64(rec[4:12])),
		frameOffset: int(off &^ keyFrameFlag),
		key:         off&keyFrameFlag != 0,
	}
	if h.fill > PacketSize-RecordHeaderSize {
		return recordHeader{}, fmt.Errorf("%w: fill size %d", ErrBadMagic, h.fill)
	}
	return h, nil
}

func putFrameHeader(b []byte, p *core.Packet) {
	b[0] = byte(p.StreamIndex)
	b[1] = byte(p.Flags)
	binary.BigEndian.PutUint32(b[2:], uint32(len(p.Data)))
	binary.BigEndian.PutUint64(b[6:], uint64(p.PTS))
	binary.BigEndian.PutUint64(b[14:], uint64(p.DTS))
	binary.BigEndian.PutUint32(b[22:], uint32(p.Duration))
}

func getFrameHeader(b []byte) (core.Packet, int) {
	p := core.Packet{
		StreamIndex: int(b[0]),
		Flags:       core.PacketFlags(b[1]),
		PTS:         int64(binary.BigEndian.Uint64(b[6:])),
		DTS:         int64(binary.BigEndian.Uint64(b[14:])),
		Duration:    int64(binary.BigEndian.Uint32(b[22:])),
	}
	return p, int(binary.BigEndian.Uint32(b[2:]))
}
