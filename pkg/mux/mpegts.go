package mux

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"feedcast/pkg/core"
)

// MPEG-TS 상수
const (
	tsPacketSize    = 188
	tsSyncByte      = 0x47
	tsHeaderMinSize = 4

	pidPAT     = 0x0000
	pidPMT     = 0x1000
	pidFirstES = 0x0100

	tableIDPAT = 0x00
	tableIDPMT = 0x02

	adaptationFieldNone        = 0x01
	adaptationFieldWithPayload = 0x03

	// 디코더 버퍼링을 위한 PTS 오프셋 (1.4초, 90kHz)
	tsPTSDelay = 126000
)

type tsStream struct {
	pid        uint16
	streamType uint8
	streamID   uint8
	video      bool
}

// tsMuxer writes a single-program transport stream.
type tsMuxer struct {
	streams            []tsStream
	pcrPID             uint16
	continuityCounters map[uint16]uint8
	basePTS            int64
	baseSet            bool
}

func tsStreamType(c core.Codec) (uint8, error) {
	switch c {
	case core.MPEG1Video:
		return 0x01, nil
	case core.MPEG2Video:
		return 0x02, nil
	case core.MPEG4:
		return 0x10, nil
	case core.H264:
		return 0x1B, nil
	case core.H265:
		return 0x24, nil
	case core.MP2, core.MP3:
		return 0x03, nil
	case core.AAC:
		return 0x0F, nil
	case core.Opus, core.PCMU, core.PCMA:
		return 0x06, nil
	}
	return 0, fmt.Errorf("%s: %w", c, ErrUnsupportedCodec)
}

func newTSMuxer(params []core.CodecParams) (Muxer, error) {
	if len(params) == 0 {
		return nil, ErrNoStreams
	}
	m := &tsMuxer{continuityCounters: make(map[uint16]uint8)}

	var videoIdx, audioIdx uint8
	pcrSet := false
	for i, p := range params {
		st, err := tsStreamType(p.Codec)
		if err != nil {
			return nil, fmt.Errorf("stream %d: %w", i, err)
		}
		s := tsStream{pid: pidFirstES + uint16(i), streamType: st, video: p.IsVideo()}
		switch {
		case st == 0x06:
			s.streamID = 0xBD
		case p.IsVideo():
			s.streamID = 0xE0 + videoIdx
			videoIdx++
		default:
			s.streamID = 0xC0 + audioIdx
			audioIdx++
		}
		// PCR 은 첫 비디오 스트림, 없으면 첫 스트림
		if s.video && !pcrSet {
			m.pcrPID = s.pid
			pcrSet = true
		}
		m.streams = append(m.streams, s)
	}
	if !pcrSet {
		m.pcrPID = m.streams[0].pid
	}
	return m, nil
}

func (m *tsMuxer) WriteHeader(w *bytes.Buffer) error {
	m.writeTables(w)
	return nil
}

func (m *tsMuxer) writeTables(w *bytes.Buffer) {
	m.writeTablePacket(w, pidPAT, m.generatePAT())
	m.writeTablePacket(w, pidPMT, m.generatePMT())
}

func (m *tsMuxer) WritePacket(w *bytes.Buffer, p core.Packet) error {
	if p.StreamIndex < 0 || p.StreamIndex >= len(m.streams) {
		return fmt.Errorf("mpegts: stream index %d out of range", p.StreamIndex)
	}
	s := m.streams[p.StreamIndex]
	if !m.baseSet {
		m.basePTS = p.DTS
		m.baseSet = true
	}

	// 키프레임마다 PAT/PMT 반복 (중간 접속 클라이언트용)
	if s.video && p.IsKeyPacket() {
		m.writeTables(w)
	}

	pts := m.toClock(p.PTS)
	dts := m.toClock(p.DTS)
	pes := generatePES(s.streamID, p.Data, pts, dts)
	m.writePESPackets(w, s.pid, pes, s.pid == m.pcrPID, dts-tsPTSDelay/2)
	return nil
}

func (m *tsMuxer) WriteTrailer(w *bytes.Buffer) error {
	return nil
}

func (m *tsMuxer) toClock(us int64) uint64 {
	v := (us-m.basePTS)*9/100 + tsPTSDelay
	if v < 0 {
		v = 0
	}
	return uint64(v)
}

// writeTablePacket 테이블 패킷 작성 (한 패킷에 들어가는 섹션만 지원)
func (m *tsMuxer) writeTablePacket(w *bytes.Buffer, pid uint16, data []byte) {
	packet := make([]byte, tsPacketSize)
	offset := m.writePacketHeader(packet, pid, true, false)

	// Pointer field
	packet[offset] = 0x00
	offset++

	n := copy(packet[offset:], data)
	for i := offset + n; i < tsPacketSize; i++ {
		packet[i] = 0xFF
	}
	w.Write(packet)
}

// writePESPackets PES 데이터를 TS 패킷들로 분할. 마지막 패킷은 adaptation field 로 채움
func (m *tsMuxer) writePESPackets(w *bytes.Buffer, pid uint16, pes []byte, withPCR bool, pcr uint64) {
	first := true
	for len(pes) > 0 {
		packet := make([]byte, tsPacketSize)
		addPCR := withPCR && first

		payloadSpace := tsPacketSize - tsHeaderMinSize
		if addPCR {
			payloadSpace -= 8
		}
		n := len(pes)
		if n > payloadSpace {
			n = payloadSpace
		}
		stuffing := payloadSpace - n

		needAdaptation := addPCR || stuffing > 0
		offset := m.writePacketHeader(packet, pid, first, needAdaptation)
		if needAdaptation {
			offset = writeAdaptationField(packet, addPCR, pcr, stuffing)
		}
		copy(packet[offset:], pes[:n])
		w.Write(packet)

		pes = pes[n:]
		first = false
	}
}

func (m *tsMuxer) writePacketHeader(packet []byte, pid uint16, payloadStart, adaptation bool) int {
	packet[0] = tsSyncByte
	packet[1] = uint8((pid >> 8) & 0x1F)
	if payloadStart {
		packet[1] |= 0x40
	}
	packet[2] = uint8(pid & 0xFF)

	control := uint8(adaptationFieldNone)
	if adaptation {
		control = adaptationFieldWithPayload
	}
	counter := m.continuityCounters[pid]
	m.continuityCounters[pid] = (counter + 1) & 0x0F
	packet[3] = control<<4 | counter
	return tsHeaderMinSize
}

// writeAdaptationField writes the adaptation field starting at byte 4 and
// returns the payload offset. stuffing counts bytes beyond the PCR block.
func writeAdaptationField(packet []byte, pcr bool, pcrValue uint64, stuffing int) int {
	length := stuffing
	if pcr {
		length += 8
	}
	// length 바이트 자체는 adaptation_field_length 에 포함되지 않음
	afLen := length - 1
	packet[4] = uint8(afLen)
	if afLen == 0 {
		return 5
	}
	pos := 5
	packet[pos] = 0x00
	if pcr {
		packet[pos] = 0x10
	}
	pos++
	if pcr {
		base := pcrValue & 0x1FFFFFFFF
		packet[pos] = uint8(base >> 25)
		packet[pos+1] = uint8(base >> 17)
		packet[pos+2] = uint8(base >> 9)
		packet[pos+3] = uint8(base >> 1)
		packet[pos+4] = uint8((base&0x01)<<7) | 0x7E
		packet[pos+5] = 0x00
		pos += 6
	}
	for pos < 5+afLen {
		packet[pos] = 0xFF
		pos++
	}
	return pos
}

// generatePAT PAT 섹션 생성 (프로그램 1개)
func (m *tsMuxer) generatePAT() []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(tableIDPAT)
	binary.Write(buf, binary.BigEndian, uint16(0xB000|13))
	binary.Write(buf, binary.BigEndian, uint16(0x0001)) // transport_stream_id
	buf.WriteByte(0xC1)                                 // version 0, current_next 1
	buf.WriteByte(0x00)
	buf.WriteByte(0x00)
	binary.Write(buf, binary.BigEndian, uint16(1))
	binary.Write(buf, binary.BigEndian, uint16(0xE000|pidPMT))
	binary.Write(buf, binary.BigEndian, mpegCRC32(buf.Bytes()))
	return buf.Bytes()
}

// generatePMT PMT 섹션 생성
func (m *tsMuxer) generatePMT() []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(tableIDPMT)
	sectionLength := 9 + 5*len(m.streams) + 4
	binary.Write(buf, binary.BigEndian, uint16(0xB000|sectionLength))
	binary.Write(buf, binary.BigEndian, uint16(1)) // program_number
	buf.WriteByte(0xC1)
	buf.WriteByte(0x00)
	buf.WriteByte(0x00)
	binary.Write(buf, binary.BigEndian, uint16(0xE000|m.pcrPID))
	binary.Write(buf, binary.BigEndian, uint16(0xF000))
	for _, s := range m.streams {
		buf.WriteByte(s.streamType)
		binary.Write(buf, binary.BigEndian, uint16(0xE000|s.pid))
		binary.Write(buf, binary.BigEndian, uint16(0xF000))
	}
	binary.Write(buf, binary.BigEndian, mpegCRC32(buf.Bytes()))
	return buf.Bytes()
}

// generatePES PES 패킷 생성 (PTS, 필요하면 DTS 포함)
func generatePES(streamID uint8, payload []byte, pts, dts uint64) []byte {
	withDTS := dts != pts
	headerData := 5
	if withDTS {
		headerData = 10
	}

	buf := bytes.NewBuffer(make([]byte, 0, 9+headerData+len(payload)))
	buf.Write([]byte{0x00, 0x00, 0x01, streamID})

	length := 3 + headerData + len(payload)
	if length > 0xFFFF || streamID >= 0xE0 && streamID <= 0xEF {
		// 비디오는 길이 0 (무제한) 허용
		length = 0
	}
	binary.Write(buf, binary.BigEndian, uint16(length))

	buf.WriteByte(0x80)
	if withDTS {
		buf.WriteByte(0xC0)
	} else {
		buf.WriteByte(0x80)
	}
	buf.WriteByte(uint8(headerData))
	if withDTS {
		writeTimestamp(buf, 0x30, pts)
		writeTimestamp(buf, 0x10, dts)
	} else {
		writeTimestamp(buf, 0x20, pts)
	}
	buf.Write(payload)
	return buf.Bytes()
}

// writeTimestamp 5바이트 PTS/DTS 필드 작성
func writeTimestamp(buf *bytes.Buffer, marker uint8, ts uint64) {
	ts &= 0x1FFFFFFFF
	buf.WriteByte(marker | uint8((ts>>29)&0x0E) | 0x01)
	buf.WriteByte(uint8(ts >> 22))
	buf.WriteByte(uint8((ts>>14)&0xFE) | 0x01)
	buf.WriteByte(uint8(ts >> 7))
	buf.WriteByte(uint8((ts<<1)&0xFE) | 0x01)
}

// mpegCRC32 MPEG-2 CRC32 (poly 0x04C11DB7, 반사 없음)
func mpegCRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc ^= uint32(b) << 24
		for i := 0; i < 8; i++ {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
