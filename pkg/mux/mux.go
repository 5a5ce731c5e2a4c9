package mux

import (
	"bytes"
	"errors"
	"path"
	"sort"
	"strings"

	"feedcast/pkg/core"
)

var (
	ErrUnknownFormat    = errors.New("mux: unknown format")
	ErrUnsupportedCodec = errors.New("mux: codec not supported by format")
	ErrNoStreams        = errors.New("mux: no streams")
)

// Muxer turns packets into container bytes. Output goes into the caller's
// buffer, which the caller hands to the send path once a call returns.
type Muxer interface {
	WriteHeader(w *bytes.Buffer) error
	WritePacket(w *bytes.Buffer, p core.Packet) error
	WriteTrailer(w *bytes.Buffer) error
}

// Format 출력 포맷 정보
type Format struct {
	Name       string
	MimeType   string
	Extensions []string
	VideoCodec core.Codec
	AudioCodec core.Codec

	// Packetized 포맷은 4바이트 길이 접두사가 붙은 패킷 단위로 출력
	Packetized bool

	New func(streams []core.CodecParams) (Muxer, error)
}

// StatusFormat names the pseudo-format used by status pages.
const StatusFormat = "status"

var formats = map[string]*Format{}

func register(f *Format) {
	formats[f.Name] = f
}

func init() {
	register(&Format{
		Name:       "ffm",
		MimeType:   "application/x-ffm",
		Extensions: []string{"ffm"},
		VideoCodec: core.MPEG1Video,
		AudioCodec: core.MP2,
		New:        newFFMMuxer,
	})
	register(&Format{
		Name:       "mpegts",
		MimeType:   "video/MP2T",
		Extensions: []string{"ts", "m2t", "m2ts", "mts"},
		VideoCodec: core.MPEG2Video,
		AudioCodec: core.MP2,
		New:        newTSMuxer,
	})
	register(&Format{
		Name:       "rtp",
		MimeType:   "application/x-rtp",
		VideoCodec: core.MPEG4,
		AudioCodec: core.PCMU,
		Packetized: true,
		New:        newRTPMuxer,
	})
	register(&Format{
		Name:     StatusFormat,
		MimeType: "text/html",
	})
}

// Lookup 이름으로 포맷 조회
func Lookup(name string) (*Format, bool) {
	f, ok := formats[strings.ToLower(name)]
	return f, ok
}

// Guess picks a format from a file or stream name extension.
func Guess(filename string) (*Format, bool) {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")
	if ext == "" {
		return nil, false
	}
	for _, f := range formats {
		for _, e := range f.Extensions {
			if e == ext {
				return f, true
			}
		}
	}
	return nil, false
}

// Names returns the registered format names in sorted order.
func Names() []string {
	names := make([]string, 0, len(formats))
	for n := range formats {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
