package media

import (
	"bytes"
	"log/slog"
	"net/netip"
	"time"

	"feedcast/pkg/catalog"
	"feedcast/pkg/core"
	"feedcast/pkg/mux"
)

const (
	httpRequestTimeout = 15 * time.Second
	rtspRequestTimeout = 24 * time.Hour
	rtpSessionTimeout  = 60 * time.Second

	maxRequestSize = 8 << 10
)

// packetSource is the input bound to a sending connection.
type packetSource interface {
	ReadPacket() (core.Packet, error)
	Close() error
}

// Connection is one entry of the registry: an HTTP or RTSP client socket,
// an SRT producer, or a socketless RTP session.
type Connection struct {
	id       uint64
	sock     socket
	remote   netip.AddrPort
	proto    Protocol
	state    ConnState
	deadline time.Time
	ready    bool
	created  time.Time
	logger   *slog.Logger

	in  []byte
	out []byte

	// 요청 정보
	method  string
	url     string
	version string
	query   string
	status  int

	closeAfterReply bool // 응답 전송 후 연결 종료

	stream        *catalog.Stream
	feedStreams   []int
	switchStreams []int
	switchPending bool
	wmpClientID   int

	// 송신 측
	src            packetSource
	fromFeed       bool
	muxer          mux.Muxer
	mbuf           bytes.Buffer
	gotKey         bool
	trailerWritten bool
	startTime      time.Time
	firstPTS       int64
	hasFirstPTS    bool

	packetized       bool
	curPTS           int64
	curFrameDuration int64
	curFrameBytes    int
	packetStream     int
	session          *rtpSession

	// 수신 측 (피드 프로듀서)
	feed      *feedState
	chunked   bool
	chunkLeft int
	record    []byte
	recordLen int

	bandwidth int
	charged   bool
	counted   bool
	dataCount int64
	rate      datarate
	destroyed bool
}

func (c *Connection) ID() uint64       { return c.id }
func (c *Connection) State() ConnState { return c.state }
func (c *Connection) Proto() Protocol  { return c.proto }
func (c *Connection) DataCount() int64 { return c.dataCount }

func (c *Connection) Stream() *catalog.Stream { return c.stream }

// substreamParams returns the parameters of output substream i given the
// connection's current feed mapping.
func (c *Connection) substreamParams(i int) core.CodecParams {
	s := c.stream
	if s.Feed != nil && s.Feed != s && i < len(c.feedStreams) {
		if j := c.feedStreams[i]; j >= 0 && j < len(s.Feed.Streams) {
			return s.Feed.Streams[j]
		}
	}
	if s.IsFeed() && i < len(s.Streams) {
		return s.Streams[i]
	}
	return s.SourceParams(i)
}

func (c *Connection) outputParams() []core.CodecParams {
	params := make([]core.CodecParams, len(c.stream.Streams))
	for i := range params {
		params[i] = c.substreamParams(i)
	}
	return params
}

// bindStream attaches the connection to s and takes a private copy of its
// feed mapping so stream switching never touches the catalog.
func (c *Connection) bindStream(s *catalog.Stream) {
	c.stream = s
	c.feedStreams = append([]int(nil), s.FeedStreams...)
	c.switchStreams = make([]int, len(c.feedStreams))
	for i := range c.switchStreams {
		c.switchStreams[i] = -1
	}
}

// queue appends b to the outbound buffer.
func (c *Connection) queue(b []byte) {
	c.out = append(c.out, b...)
}

// flush hands as much of the outbound buffer to the socket as it accepts.
// It reports whether the buffer is now empty.
func (c *Connection) flush() (bool, error) {
	for len(c.out) > 0 {
		n, err := c.sock.Write(c.out)
		c.out = c.out[n:]
		if err == errWouldBlock {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}
	c.out = nil
	return true, nil
}

// fill reads everything currently buffered on the socket into c.in.
func (c *Connection) fill() error {
	var buf [4096]byte
	for {
		n, err := c.sock.Read(buf[:])
		c.in = append(c.in, buf[:n]...)
		if err == errWouldBlock {
			return nil
		}
		if err != nil {
			if n > 0 {
				return nil
			}
			return ErrPeerClosed
		}
	}
}
