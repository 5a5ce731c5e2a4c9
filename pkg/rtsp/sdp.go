package rtsp

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"

	"feedcast/pkg/catalog"
	"feedcast/pkg/core"
	"feedcast/pkg/mux"
)

// ControlAttribute is the per-substream control suffix, "streamid=N".
func ControlAttribute(index int) string {
	return "streamid=" + strconv.Itoa(index)
}

// BuildSDP describes a stream's substreams. Multicast streams advertise
// their group, ttl and per-substream ports so clients can join directly.
func BuildSDP(s *catalog.Stream) ([]byte, error) {
	title := s.Title
	if title == "" {
		title = "No Title"
	}
	desc := description.Session{Title: title}
	for i := range s.Streams {
		params := s.SourceParams(i)
		f, err := sdpFormat(params, i)
		if err != nil {
			return nil, fmt.Errorf("substream %d: %w", i, err)
		}
		typ := description.MediaTypeVideo
		if params.IsAudio() {
			typ = description.MediaTypeAudio
		}
		desc.Medias = append(desc.Medias, &description.Media{
			Type:    typ,
			Control: ControlAttribute(i),
			Formats: []format.Format{f},
		})
	}

	b, err := desc.Marshal(false)
	if err != nil {
		return nil, err
	}
	if s.IsMulticast() {
		b = rewriteMulticast(b, s.MulticastAddr.String(), s.MulticastPort, s.MulticastTTL)
	}
	return b, nil
}

func sdpFormat(p core.CodecParams, index int) (format.Format, error) {
	pt := mux.PayloadType(p.Codec, index)
	switch p.Codec {
	case core.H264:
		sps, pps := h264ParameterSets(p.Extradata)
		return &format.H264{
			PayloadTyp:        pt,
			SPS:               sps,
			PPS:               pps,
			PacketizationMode: 1,
		}, nil
	case core.MPEG4:
		return &format.MPEG4Video{
			PayloadTyp:     pt,
			ProfileLevelID: 1,
			Config:         p.Extradata,
		}, nil
	case core.MPEG1Video, core.MPEG2Video:
		return &format.MPEG1Video{}, nil
	case core.MP2, core.MP3:
		return &format.MPEG1Audio{}, nil
	}

	g := &format.Generic{PayloadTyp: pt}
	switch p.Codec {
	case core.H265:
		g.RTPMa = "H265/90000"
	case core.AAC:
		g.RTPMa = fmt.Sprintf("MPEG4-GENERIC/%d/%d", p.SampleRate, max(p.Channels, 1))
		g.FMT = map[string]string{
			"streamtype":       "5",
			"profile-level-id": "1",
			"mode":             "AAC-hbr",
			"sizelength":       "13",
			"indexlength":      "3",
			"indexdeltalength": "3",
		}
		if len(p.Extradata) > 0 {
			g.FMT["config"] = fmt.Sprintf("%x", p.Extradata)
		}
	case core.Opus:
		g.RTPMa = "opus/48000/2"
	case core.PCMU:
		g.RTPMa = fmt.Sprintf("PCMU/%d", p.SampleRate)
	case core.PCMA:
		g.RTPMa = fmt.Sprintf("PCMA/%d", p.SampleRate)
	default:
		return nil, fmt.Errorf("%w: %s", mux.ErrUnsupportedCodec, p.Codec)
	}
	if err := g.Init(); err != nil {
		return nil, err
	}
	return g, nil
}

func h264ParameterSets(extradata []byte) (sps, pps []byte) {
	if len(extradata) == 0 {
		return nil, nil
	}
	for _, nalu := range mux.SplitAnnexB(extradata) {
		if len(nalu) == 0 {
			continue
		}
		switch nalu[0] & 0x1F {
		case 7:
			sps = nalu
		case 8:
			pps = nalu
		}
	}
	return sps, pps
}

// rewriteMulticast points the connection lines at the group and gives each
// media line its port, port+2*index.
func rewriteMulticast(sdp []byte, group string, port, ttl int) []byte {
	conn := fmt.Sprintf("c=IN IP4 %s/%d", group, ttl)
	lines := strings.Split(strings.TrimRight(string(sdp), "\r\n"), "\r\n")
	media := 0
	found := false
	for i, l := range lines {
		switch {
		case strings.HasPrefix(l, "c="):
			lines[i] = conn
			found = true
		case strings.HasPrefix(l, "m="):
			fields := strings.Fields(l)
			if len(fields) >= 2 {
				fields[1] = strconv.Itoa(port + 2*media)
				lines[i] = strings.Join(fields, " ")
			}
			media++
		}
	}
	if !found {
		// 세션 레벨 c= 는 s= 바로 뒤
		for i, l := range lines {
			if strings.HasPrefix(l, "s=") {
				lines = append(lines[:i+1], append([]string{conn}, lines[i+1:]...)...)
				break
			}
		}
	}
	var b bytes.Buffer
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\r\n")
	}
	return b.Bytes()
}
