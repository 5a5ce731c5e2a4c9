package mux

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"feedcast/pkg/core"
)

const (
	// RTPMaxPayload keeps packets under a typical 1500 byte MTU.
	RTPMaxPayload = 1400

	// 패킷화 포맷의 패킷 길이 접두사
	PacketPrefixSize = 4
)

// PayloadType returns the RTP payload type used for a substream.
func PayloadType(c core.Codec, index int) uint8 {
	switch c {
	case core.PCMU:
		return 0
	case core.PCMA:
		return 8
	case core.MP2, core.MP3:
		return 14
	case core.MPEG1Video, core.MPEG2Video:
		return 32
	}
	return uint8(96 + index)
}

// RTPPacketizer splits media packets of one substream into RTP packets.
type RTPPacketizer struct {
	params      core.CodecParams
	payloadType uint8
	ssrc        uint32
	seq         uint16
	tsBase      uint32

	lastRTPTime uint32
	packetCount uint32
	octetCount  uint32
}

// NewRTPPacketizer RTP 패킷화기 생성 (SSRC, 시퀀스, 타임스탬프 기준값은 무작위)
func NewRTPPacketizer(params core.CodecParams, index int) *RTPPacketizer {
	return &RTPPacketizer{
		params:      params,
		payloadType: PayloadType(params.Codec, index),
		ssrc:        rand.Uint32(),
		seq:         uint16(rand.Uint32()),
		tsBase:      rand.Uint32(),
	}
}

func (p *RTPPacketizer) SSRC() uint32       { return p.ssrc }
func (p *RTPPacketizer) PayloadType() uint8 { return p.payloadType }

func (p *RTPPacketizer) rtpTime(us int64) uint32 {
	return p.tsBase + uint32(us*int64(p.params.ClockRate())/1000000)
}

// Packetize returns the marshalled RTP packets for one media packet.
func (p *RTPPacketizer) Packetize(pkt core.Packet) ([][]byte, error) {
	ts := p.rtpTime(pkt.PTS)
	p.lastRTPTime = ts

	var payloads [][]byte
	switch p.params.Codec {
	case core.H264:
		payloads = fragmentH264(pkt.Data, RTPMaxPayload)
	case core.MP2, core.MP3:
		payloads = fragmentRFC2250(pkt.Data, RTPMaxPayload, false)
	case core.MPEG1Video, core.MPEG2Video:
		payloads = fragmentRFC2250(pkt.Data, RTPMaxPayload, true)
	default:
		payloads = fragment(pkt.Data, RTPMaxPayload)
	}

	out := make([][]byte, 0, len(payloads))
	for i, payload := range payloads {
		rp := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == len(payloads)-1,
				PayloadType:    p.payloadType,
				SequenceNumber: p.seq,
				Timestamp:      ts,
				SSRC:           p.ssrc,
			},
			Payload: payload,
		}
		b, err := rp.Marshal()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal rtp packet: %w", err)
		}
		p.seq++
		p.packetCount++
		p.octetCount += uint32(len(payload))
		out = append(out, b)
	}
	return out, nil
}

// SenderReport builds an RTCP sender report for the packets sent so far.
func (p *RTPPacketizer) SenderReport(now time.Time) ([]byte, error) {
	sr := rtcp.SenderReport{
		SSRC:        p.ssrc,
		NTPTime:     ntpTime(now),
		RTPTime:     p.lastRTPTime,
		PacketCount: p.packetCount,
		OctetCount:  p.octetCount,
	}
	return sr.Marshal()
}

func ntpTime(t time.Time) uint64 {
	// NTP 기준 1900-01-01
	const ntpEpochOffset = 2208988800
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) << 32 / 1e9
	return secs<<32 | frac
}

func fragment(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	var out [][]byte
	for len(data) > 0 {
		n := min(len(data), size)
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

// fragmentRFC2250 MPEG 오디오/비디오 페이로드 (4바이트 헤더)
func fragmentRFC2250(data []byte, size int, video bool) [][]byte {
	var out [][]byte
	offset := 0
	for _, chunk := range fragment(data, size-4) {
		hdr := make([]byte, 4, 4+len(chunk))
		if video {
			// TR=0, 조각 시작/끝 비트만 설정
			if offset == 0 {
				hdr[2] |= 0x10
			}
			if offset+len(chunk) == len(data) {
				hdr[2] |= 0x08
			}
		} else {
			binary.BigEndian.PutUint16(hdr[2:], uint16(offset))
		}
		out = append(out, append(hdr, chunk...))
		offset += len(chunk)
	}
	return out
}

// fragmentH264 Annex-B 액세스 유닛을 단일 NAL 또는 FU-A 로 분할
func fragmentH264(data []byte, size int) [][]byte {
	var out [][]byte
	for _, nalu := range SplitAnnexB(data) {
		if len(nalu) == 0 {
			continue
		}
		if len(nalu) <= size {
			out = append(out, nalu)
			continue
		}
		indicator := nalu[0]&0xE0 | 28
		naluType := nalu[0] & 0x1F
		body := nalu[1:]
		chunks := fragment(body, size-2)
		for i, chunk := range chunks {
			header := naluType
			if i == 0 {
				header |= 0x80
			}
			if i == len(chunks)-1 {
				header |= 0x40
			}
			out = append(out, append([]byte{indicator, header}, chunk...))
		}
	}
	if len(out) == 0 {
		return [][]byte{{}}
	}
	return out
}

// SplitAnnexB splits an Annex-B byte stream into NAL units.
func SplitAnnexB(data []byte) [][]byte {
	var nalus [][]byte
	start := -1
	for i := 0; i+2 < len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 || data[i+2] != 1 {
			continue
		}
		if start >= 0 {
			end := i
			for end > start && data[end-1] == 0 {
				end--
			}
			nalus = append(nalus, data[start:end])
		}
		start = i + 3
		i += 2
	}
	if start < 0 {
		// 시작 코드가 없으면 전체를 하나의 NAL 로 취급
		return [][]byte{data}
	}
	return append(nalus, data[start:])
}

// rtpMuxer emits length-prefixed RTP packets for a single substream.
type rtpMuxer struct {
	packetizer *RTPPacketizer
}

func newRTPMuxer(streams []core.CodecParams) (Muxer, error) {
	if len(streams) != 1 {
		return nil, fmt.Errorf("rtp: expected one stream per muxer, got %d", len(streams))
	}
	return &rtpMuxer{packetizer: NewRTPPacketizer(streams[0], 0)}, nil
}

// NewRTPMuxer returns an rtp muxer bound to substream index of a stream.
func NewRTPMuxer(params core.CodecParams, index int) (Muxer, *RTPPacketizer) {
	p := NewRTPPacketizer(params, index)
	return &rtpMuxer{packetizer: p}, p
}

func (m *rtpMuxer) WriteHeader(w *bytes.Buffer) error { return nil }

func (m *rtpMuxer) WritePacket(w *bytes.Buffer, p core.Packet) error {
	pkts, err := m.packetizer.Packetize(p)
	if err != nil {
		return err
	}
	var prefix [PacketPrefixSize]byte
	for _, b := range pkts {
		binary.BigEndian.PutUint32(prefix[:], uint32(len(b)))
		w.Write(prefix[:])
		w.Write(b)
	}
	return nil
}

func (m *rtpMuxer) WriteTrailer(w *bytes.Buffer) error { return nil }
