package rtsp

import (
	"bytes"
	"errors"
	"net/netip"
	"strings"
	"testing"

	"github.com/bluenviron/gortsplib/v4/pkg/base"

	"feedcast/pkg/catalog"
	"feedcast/pkg/core"
)

func TestReadRequest(t *testing.T) {
	raw := "OPTIONS rtsp://localhost/test1-rtsp RTSP/1.0\r\nCSeq: 2\r\n\r\n" +
		"DESCRIBE rtsp://localhost/test1-rtsp RTSP/1.0\r\nCSeq: 3\r\n\r\n"

	req, n, err := ReadRequest([]byte(raw))
	if err != nil {
		t.Fatalf("ReadRequest failed: %v", err)
	}
	if req.Method != base.Options {
		t.Errorf("Expected OPTIONS, got %s", req.Method)
	}
	if CSeq(req) != 2 {
		t.Errorf("Expected CSeq 2, got %d", CSeq(req))
	}
	if Path(req) != "test1-rtsp" {
		t.Errorf("Expected path test1-rtsp, got %q", Path(req))
	}

	req, _, err = ReadRequest([]byte(raw[n:]))
	if err != nil {
		t.Fatalf("second ReadRequest failed: %v", err)
	}
	if req.Method != base.Describe || CSeq(req) != 3 {
		t.Errorf("Expected DESCRIBE CSeq 3, got %s CSeq %d", req.Method, CSeq(req))
	}
}

func TestReadRequestErrors(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected error
	}{
		{"no terminator", "OPTIONS rtsp://h/x RTSP/1.0\r\nCSeq: 1\r\n", ErrIncomplete},
		{"body pending", "SET_PARAMETER rtsp://h/x RTSP/1.0\r\nCSeq: 1\r\nContent-Length: 10\r\n\r\nab", ErrIncomplete},
		{"bad version", "OPTIONS rtsp://h/x RTSP/2.0\r\nCSeq: 9\r\n\r\n", ErrUnsupportedVersion},
		{"garbage", "HELLO\r\n\r\n", ErrBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadRequest([]byte(tt.raw))
			if !errors.Is(err, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, err)
			}
		})
	}
}

func TestReadRequestVersionKeepsCSeq(t *testing.T) {
	req, n, err := ReadRequest([]byte("PLAY rtsp://h/x HTTP/1.1\r\nCSeq: 7\r\n\r\n"))
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("Expected ErrUnsupportedVersion, got %v", err)
	}
	if CSeq(req) != 7 {
		t.Errorf("Expected CSeq 7, got %d", CSeq(req))
	}
	if n == 0 {
		t.Error("Expected the request to be consumed")
	}
}

func TestReply(t *testing.T) {
	b, err := Reply(base.StatusSessionNotFound, 5, "abc", nil, nil)
	if err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	s := string(b)
	if !strings.HasPrefix(s, "RTSP/1.0 454 ") {
		t.Errorf("Expected 454 status line, got %q", s)
	}
	for _, want := range []string{"CSeq: 5\r\n", "Session: abc\r\n", "Server: feedcast\r\n"} {
		if !strings.Contains(s, want) {
			t.Errorf("Expected reply to contain %q, got %q", want, s)
		}
	}
	if !strings.HasSuffix(s, "\r\n\r\n") {
		t.Errorf("Expected header terminator, got %q", s)
	}
}

func TestSelectTransport(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		multicast bool
		expected  TransportKind
		err       error
	}{
		{"udp", "RTP/AVP;unicast;client_port=5000-5001", false, TransportUDP, nil},
		{"tcp", "RTP/AVP/TCP;unicast;interleaved=0-1", false, TransportTCP, nil},
		{"udp preferred", "RTP/AVP/TCP;unicast;interleaved=0-1,RTP/AVP;unicast;client_port=5000-5001", false, TransportUDP, nil},
		{"multicast", "RTP/AVP;multicast", true, TransportUDPMulticast, nil},
		{"multicast without group", "RTP/AVP;multicast", false, 0, ErrUnsupportedTransport},
		{"udp without ports", "RTP/AVP;unicast", false, 0, ErrNoClientPorts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := ParseTransports(base.HeaderValue{tt.header})
			if err != nil {
				t.Fatalf("ParseTransports failed: %v", err)
			}
			_, kind, err := SelectTransport(ts, tt.multicast)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Errorf("Expected %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SelectTransport failed: %v", err)
			}
			if kind != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, kind)
			}
		})
	}
}

func TestInterleavedFrame(t *testing.T) {
	frame := InterleavedFrame(3, []byte{1, 2, 3, 4, 5})
	expected := []byte{'$', 3, 0, 5, 1, 2, 3, 4, 5}
	if !bytes.Equal(frame, expected) {
		t.Errorf("Expected %v, got %v", expected, frame)
	}
}

func TestSubstreamIndex(t *testing.T) {
	tests := []struct {
		path     string
		expected int
		ok       bool
	}{
		{"live", -1, true},
		{"live/", -1, true},
		{"live/streamid=1", 1, true},
		{"live/streamid=2", 0, false},
		{"live/streamid=x", 0, false},
		{"other", 0, false},
		{"livex", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			idx, ok := SubstreamIndex(tt.path, "live", 2)
			if ok != tt.ok {
				t.Fatalf("Expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && idx != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, idx)
			}
		})
	}
}

func TestNewSessionID(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	if len(a) != 32 {
		t.Errorf("Expected 32 characters, got %d", len(a))
	}
	if a == b {
		t.Error("Expected distinct session ids")
	}
}

func testStream() *catalog.Stream {
	return &catalog.Stream{
		Name:   "test1-rtsp",
		Kind:   catalog.KindLive,
		Format: "rtp",
		Title:  "Camera",
		Streams: []core.CodecParams{
			{Codec: core.MP2, BitRate: 64000, SampleRate: 44100, Channels: 1},
			{Codec: core.MPEG1Video, BitRate: 256000, Width: 352, Height: 240, FrameRateNum: 25, FrameRateDen: 1},
		},
	}
}

func TestBuildSDP(t *testing.T) {
	b, err := BuildSDP(testStream())
	if err != nil {
		t.Fatalf("BuildSDP failed: %v", err)
	}
	s := string(b)
	for _, want := range []string{"s=Camera", "a=control:streamid=0", "a=control:streamid=1", "m=audio 0 RTP/AVP 14", "m=video 0 RTP/AVP 32"} {
		if !strings.Contains(s, want) {
			t.Errorf("Expected SDP to contain %q, got:\n%s", want, s)
		}
	}
}

func TestBuildSDPMulticast(t *testing.T) {
	st := testStream()
	st.MulticastAddr = netip.MustParseAddr("224.124.0.1")
	st.MulticastPort = 6000
	st.MulticastTTL = 16

	b, err := BuildSDP(st)
	if err != nil {
		t.Fatalf("BuildSDP failed: %v", err)
	}
	s := string(b)
	for _, want := range []string{"c=IN IP4 224.124.0.1/16", "m=audio 6000 RTP/AVP 14", "m=video 6002 RTP/AVP 32"} {
		if !strings.Contains(s, want) {
			t.Errorf("Expected SDP to contain %q, got:\n%s", want, s)
		}
	}
}

func TestBuildSDPAAC(t *testing.T) {
	st := &catalog.Stream{
		Name:   "radio.rtp",
		Kind:   catalog.KindLive,
		Format: "rtp",
		Streams: []core.CodecParams{
			{Codec: core.AAC, BitRate: 128000, SampleRate: 44100, Channels: 2, Extradata: []byte{0x12, 0x10}},
		},
	}

	b, err := BuildSDP(st)
	if err != nil {
		t.Fatalf("BuildSDP failed: %v", err)
	}
	s := string(b)
	for _, want := range []string{"m=audio 0 RTP/AVP", "MPEG4-GENERIC/44100/2", "mode=AAC-hbr", "config=1210"} {
		if !strings.Contains(s, want) {
			t.Errorf("Expected SDP to contain %q, got:\n%s", want, s)
		}
	}
}

func TestReadRequestBadKeepsCSeq(t *testing.T) {
	raw := "HELLO\r\nCSeq: 4\r\n\r\nOPTIONS rtsp://h/x RTSP/1.0\r\n"
	req, n, err := ReadRequest([]byte(raw))
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("Expected ErrBadRequest, got %v", err)
	}
	if CSeq(req) != 4 {
		t.Errorf("Expected CSeq 4, got %d", CSeq(req))
	}
	if n != len("HELLO\r\nCSeq: 4\r\n\r\n") {
		t.Errorf("Expected the bad request head to be consumed, got %d", n)
	}
}
