package core

import (
	"fmt"
	"strings"
)

// Codec 비디오/오디오 코덱 식별자
type Codec uint8

const (
	Unknown Codec = 0

	// Video codecs: 1-127
	MPEG1Video Codec = 1
	MPEG2Video Codec = 2
	MPEG4      Codec = 3
	H264       Codec = 4
	H265       Codec = 5

	// Audio codecs: 128-191
	MP2  Codec = 128
	MP3  Codec = 129
	AAC  Codec = 130
	Opus Codec = 131
	PCMU Codec = 132
	PCMA Codec = 133
)

var codecNames = map[Codec]string{
	MPEG1Video: "mpeg1video",
	MPEG2Video: "mpeg2video",
	MPEG4:      "mpeg4",
	H264:       "h264",
	H265:       "hevc",
	MP2:        "mp2",
	MP3:        "mp3",
	AAC:        "aac",
	Opus:       "opus",
	PCMU:       "pcm_mulaw",
	PCMA:       "pcm_alaw",
}

func (c Codec) IsVideo() bool   { return c > 0 && c < 128 }
func (c Codec) IsAudio() bool   { return c >= 128 && c < 192 }
func (c Codec) IsUnknown() bool { return c == 0 }

func (c Codec) String() string {
	if name, ok := codecNames[c]; ok {
		return name
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

// ParseCodec 코덱 이름을 Codec 으로 변환 (대소문자 무시, 일부 별칭 허용)
func ParseCodec(name string) (Codec, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "h265":
		return H265, nil
	case "libx264", "avc":
		return H264, nil
	case "mulaw", "pcmu":
		return PCMU, nil
	case "alaw", "pcma":
		return PCMA, nil
	}
	for c, cn := range codecNames {
		if cn == n {
			return c, nil
		}
	}
	return Unknown, fmt.Errorf("unknown codec %q", name)
}

// CodecParams 서브스트림 하나의 코덱 파라미터
type CodecParams struct {
	Codec        Codec
	BitRate      int // bit/s
	Width        int
	Height       int
	FrameRateNum int
	FrameRateDen int
	GopSize      int
	SampleRate   int
	Channels     int
	Extradata    []byte
}

func (p CodecParams) IsVideo() bool { return p.Codec.IsVideo() }
func (p CodecParams) IsAudio() bool { return p.Codec.IsAudio() }

// SameFormat reports whether two substreams carry identical encoder settings.
func (p CodecParams) SameFormat(o CodecParams) bool {
	if p.Codec != o.Codec || p.BitRate != o.BitRate {
		return false
	}
	if p.IsVideo() {
		return p.Width == o.Width && p.Height == o.Height &&
			p.FrameRateNum*o.FrameRateDen == o.FrameRateNum*p.FrameRateDen &&
			p.GopSize == o.GopSize
	}
	return p.SampleRate == o.SampleRate && p.Channels == o.Channels
}

// ClockRate RTP/SDP 클록 (비디오 90kHz, 오디오 샘플레이트)
func (p CodecParams) ClockRate() int {
	if p.IsAudio() && p.SampleRate > 0 {
		switch p.Codec {
		case MP2, MP3:
			return 90000
		case Opus:
			return 48000
		}
		return p.SampleRate
	}
	return 90000
}

// FrameDuration 비디오 한 프레임의 길이 (µs), 알 수 없으면 0
func (p CodecParams) FrameDuration() int64 {
	if !p.IsVideo() || p.FrameRateNum <= 0 {
		return 0
	}
	den := p.FrameRateDen
	if den <= 0 {
		den = 1
	}
	return int64(1000000) * int64(den) / int64(p.FrameRateNum)
}

// PacketFlags 패킷 플래그
type PacketFlags uint8

const (
	FlagKey PacketFlags = 1 << 0
)

// Packet 인코딩된 미디어 패킷. 타임스탬프는 모두 마이크로초 단위
type Packet struct {
	StreamIndex int
	Flags       PacketFlags
	PTS         int64
	DTS         int64
	Duration    int64
	Data        []byte
}

func (p *Packet) IsKeyPacket() bool { return p.Flags&FlagKey != 0 }

// NewPacket 미디어 패킷 생성
func NewPacket(streamIndex int, key bool, pts, dts, duration int64, data []byte) Packet {
	var flags PacketFlags
	if key {
		flags |= FlagKey
	}
	return Packet{
		StreamIndex: streamIndex,
		Flags:       flags,
		PTS:         pts,
		DTS:         dts,
		Duration:    duration,
		Data:        data,
	}
}

// ContainsCodec 코덱 목록에서 특정 코덱 포함 여부 확인
func ContainsCodec(codecs []Codec, target Codec) bool {
	for _, codec := range codecs {
		if codec == target {
			return true
		}
	}
	return false
}
