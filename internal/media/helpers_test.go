package media

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"feedcast/pkg/catalog"
	"feedcast/pkg/core"
	"feedcast/pkg/ffm"
)

// fakeSocket is an in-memory socket. Input is handed out all at once; eof
// turns an empty input buffer into io.EOF.
type fakeSocket struct {
	in     []byte
	eof    bool
	out    bytes.Buffer
	limit  int // 0 이면 무제한
	closed bool
	remote netip.AddrPort
}

func (s *fakeSocket) Read(p []byte) (int, error) {
	if len(s.in) == 0 {
		if s.eof {
			return 0, io.EOF
		}
		return 0, errWouldBlock
	}
	n := copy(p, s.in)
	s.in = s.in[n:]
	return n, nil
}

func (s *fakeSocket) Write(p []byte) (int, error) {
	if s.closed {
		return 0, net.ErrClosed
	}
	n := len(p)
	if s.limit > 0 {
		free := s.limit - s.out.Len()
		if free <= 0 {
			return 0, errWouldBlock
		}
		n = min(n, free)
	}
	s.out.Write(p[:n])
	return n, nil
}

func (s *fakeSocket) Readable() bool { return len(s.in) > 0 || s.eof }

func (s *fakeSocket) Writable() bool {
	return s.limit == 0 || s.out.Len() < s.limit
}

func (s *fakeSocket) Close() error {
	s.closed = true
	return nil
}

func (s *fakeSocket) RemoteAddr() net.Addr { return net.TCPAddrFromAddrPort(s.remote) }

func (s *fakeSocket) send(data string) { s.in = append(s.in, data...) }

var testStart = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// testServer wraps a ServerState driven by a manual clock.
type testServer struct {
	t   *testing.T
	st  *ServerState
	now time.Time
}

func newTestServer(t *testing.T, conf string, cfg Config) *testServer {
	t.Helper()
	dir := t.TempDir()
	conf = strings.ReplaceAll(conf, "$DIR", dir)
	cat, err := catalog.ParseConfig(strings.NewReader(conf), "test.conf")
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	feeds, err := BuildFeeds(cat)
	if err != nil {
		t.Fatalf("BuildFeeds failed: %v", err)
	}
	ts := &testServer{t: t, now: testStart}
	ts.st = newServerState(cfg, cat, feeds, nil, ts.now)
	t.Cleanup(func() {
		ts.st.closeAll()
		closeFeeds(feeds)
	})
	return ts
}

// connect accepts a fake connection from ip and returns it with its socket.
// The connection is nil when admission refused it.
func (ts *testServer) connect(proto Protocol, ip string) (*Connection, *fakeSocket) {
	ts.t.Helper()
	sock := &fakeSocket{remote: netip.AddrPortFrom(netip.MustParseAddr(ip), 40000)}
	last := ts.st.lastID
	ts.st.newConnection(proto, accepted{sock: sock, remote: sock.remote})
	if ts.st.lastID == last {
		return nil, sock
	}
	c, _ := ts.st.Connection(ts.st.lastID)
	return c, sock
}

// run advances the clock by step and runs n loop iterations.
func (ts *testServer) run(n int, step time.Duration) {
	for i := 0; i < n; i++ {
		ts.now = ts.now.Add(step)
		ts.st.tick(ts.now)
	}
}

func (ts *testServer) alive(c *Connection) bool {
	_, ok := ts.st.conns[c.id]
	return ok
}

func (ts *testServer) feed(name string) *feedState {
	ts.t.Helper()
	s, err := ts.st.catalog.Resolve(name)
	if err != nil {
		ts.t.Fatalf("Resolve %s failed: %v", name, err)
	}
	return ts.st.feeds[s]
}

// producerBody builds a feed upload: the header record followed by one data
// record per packet.
func producerBody(t *testing.T, streams []core.CodecParams, packets []core.Packet) []byte {
	t.Helper()
	hdr, err := ffm.EncodeHeader(streams, ffm.PacketSize)
	if err != nil {
		t.Fatalf("EncodeHeader failed: %v", err)
	}
	body := append([]byte(nil), hdr...)
	w := ffm.NewPacketWriter(func(rec []byte) error {
		body = append(body, rec...)
		return nil
	})
	for _, p := range packets {
		if err := w.WritePacket(p); err != nil {
			t.Fatalf("WritePacket failed: %v", err)
		}
		if err := w.Flush(); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
	}
	return body
}

func videoPackets(n int, start int64) []core.Packet {
	var pkts []core.Packet
	for i := 0; i < n; i++ {
		ts := start + int64(i)*40000
		pkts = append(pkts, core.NewPacket(0, i == 0, ts, ts, 40000, bytes.Repeat([]byte{byte(i + 1)}, 200)))
	}
	return pkts
}

func postRequest(name string, body []byte) string {
	return fmt.Sprintf("POST /%s HTTP/1.0\r\nContent-Length: %d\r\n\r\n%s", name, len(body), body)
}

func statusLine(out string) string {
	line, _, _ := strings.Cut(out, "\r\n")
	return line
}
