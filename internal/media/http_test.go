package media

import (
	"strings"
	"testing"
	"time"
)

const httpConf = `
<Feed cam.ffm>
File $DIR/cam.ffm
FileMaxSize 16K
</Feed>

<Stream live.ffm>
Feed cam.ffm
Format ffm
NoAudio
</Stream>

<Stream secret.ffm>
Feed cam.ffm
Format ffm
NoAudio
ACL allow 10.0.0.1
</Stream>

<Stream live.rtp>
Feed cam.ffm
Format rtp
NoAudio
VideoCodec mpeg1video
</Stream>

<Stream stat.html>
Format status
</Stream>

<Redirect index.html>
URL http://www.example.com/
</Redirect>
`

func TestRequestEnd(t *testing.T) {
	tests := []struct {
		in       string
		expected int
	}{
		{"GET / HTTP/1.0\r\n\r\n", 18},
		{"GET / HTTP/1.0\n\n", 16},
		{"GET / HTTP/1.0\r\nHost: a\r\n", -1},
		{"", -1},
	}
	for _, tt := range tests {
		if got := requestEnd([]byte(tt.in)); got != tt.expected {
			t.Errorf("Expected %d for %q, got %d", tt.expected, tt.in, got)
		}
	}
}

func TestHTTPReplies(t *testing.T) {
	tests := []struct {
		name     string
		remote   string
		request  string
		status   string
		contains string
	}{
		{"unknown stream", "127.0.0.1", "GET /nope.ffm HTTP/1.0\r\n\r\n", "HTTP/1.0 404 Not Found", "nope.ffm"},
		{"acl deny", "127.0.0.1", "GET /secret.ffm HTTP/1.0\r\n\r\n", "HTTP/1.0 403 Forbidden", "denied"},
		{"redirect", "127.0.0.1", "GET / HTTP/1.0\r\n\r\n", "HTTP/1.0 301 Moved", "Location: http://www.example.com/"},
		{"status page", "127.0.0.1", "GET /stat.html HTTP/1.0\r\n\r\n", "HTTP/1.0 200 OK", "live.ffm"},
		{"asx helper", "127.0.0.1", "GET /live.ffm.asx HTTP/1.0\r\nHost: example.org:8090\r\n\r\n", "HTTP/1.0 200 ASX Follows", "http://example.org:8090/live.ffm"},
		{"helper without host", "127.0.0.1", "GET /live.ffm.ram HTTP/1.0\r\n\r\n", "HTTP/1.0 404 Not Found", "ASX/RAM file not handled"},
		{"rtp stream over http", "127.0.0.1", "GET /live.rtp HTTP/1.0\r\nHost: example.org\r\n\r\n", "HTTP/1.0 200 OK", "rtsp://example.org:5454/live.rtp"},
		{"post to non feed", "127.0.0.1", "POST /live.ffm HTTP/1.0\r\nContent-Length: 0\r\n\r\n", "HTTP/1.0 404 Not Found", "POST command not handled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, httpConf, Config{RTSPAddr: ":5454"})
			c, sock := ts.connect(ProtoHTTP, tt.remote)
			sock.send(tt.request)

			ts.run(3, 10*time.Millisecond)

			out := sock.out.String()
			if got := statusLine(out); got != tt.status {
				t.Errorf("Expected status line %q, got %q", tt.status, got)
			}
			if !strings.Contains(out, tt.contains) {
				t.Errorf("Expected reply to contain %q, got %q", tt.contains, out)
			}
			if ts.alive(c) {
				t.Errorf("Expected connection to be closed after a one-shot reply")
			}
			if !sock.closed {
				t.Errorf("Expected socket to be closed")
			}
		})
	}
}

func TestACLAllowsListedAddress(t *testing.T) {
	ts := newTestServer(t, httpConf, Config{})
	c, sock := ts.connect(ProtoHTTP, "10.0.0.1")
	sock.send("GET /secret.ffm HTTP/1.0\r\n\r\n")

	ts.run(3, 10*time.Millisecond)

	if got := statusLine(sock.out.String()); got != "HTTP/1.0 200 OK" {
		t.Errorf("Expected 200 for allowed address, got %q", got)
	}
	if !ts.alive(c) {
		t.Fatalf("Expected viewer to stay connected")
	}
	if c.State() != StateWaitFeed {
		t.Errorf("Expected %s, got %s", StateWaitFeed, c.State())
	}
}

func TestLiveReplyHeader(t *testing.T) {
	ts := newTestServer(t, httpConf, Config{})
	c, sock := ts.connect(ProtoHTTP, "127.0.0.1")
	sock.send("GET /live.ffm HTTP/1.0\r\n\r\n")

	ts.run(1, 10*time.Millisecond)

	if c.State() != StateSendHeader {
		t.Fatalf("Expected %s, got %s", StateSendHeader, c.State())
	}
	out := string(c.out)
	for _, want := range []string{"HTTP/1.0 200 OK\r\n", "Pragma: no-cache\r\n", "Content-Type: application/x-ffm\r\n", "Pragma: client-id="} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected header to contain %q, got %q", want, out)
		}
	}
	if c.wmpClientID <= 0 {
		t.Errorf("Expected a positive client id, got %d", c.wmpClientID)
	}
}

func TestUnsupportedRequests(t *testing.T) {
	tests := []struct {
		name    string
		request string
		status  string
	}{
		{"method", "DELETE /live.ffm HTTP/1.0\r\n\r\n", "HTTP/1.0 405 Method Not Allowed"},
		{"protocol", "GET /live.ffm HTTP/2.0\r\n\r\n", "HTTP/1.0 505 HTTP Version Not Supported"},
		{"garbage", "\x01\x02\x03\r\n\r\n", "HTTP/1.0 400 Bad Request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, httpConf, Config{})
			c, sock := ts.connect(ProtoHTTP, "127.0.0.1")
			sock.send(tt.request)

			ts.run(3, 10*time.Millisecond)

			if got := statusLine(sock.out.String()); got != tt.status {
				t.Errorf("Expected status line %q, got %q", tt.status, got)
			}
			if ts.alive(c) {
				t.Errorf("Expected connection to be closed after the error reply")
			}
			if !sock.closed {
				t.Errorf("Expected socket to be closed")
			}
		})
	}
}

func TestRequestTooLarge(t *testing.T) {
	ts := newTestServer(t, httpConf, Config{})
	c, sock := ts.connect(ProtoHTTP, "127.0.0.1")
	sock.send("GET /" + strings.Repeat("a", maxRequestSize) + " HTTP/1.0\r\n")

	ts.run(1, 10*time.Millisecond)

	if ts.alive(c) {
		t.Errorf("Expected oversized request to close the connection")
	}
}

func TestRequestTimeout(t *testing.T) {
	ts := newTestServer(t, httpConf, Config{})
	c, sock := ts.connect(ProtoHTTP, "127.0.0.1")
	sock.send("GET /live.ffm HTTP/1.0\r\n")

	ts.run(1, 14*time.Second)
	if !ts.alive(c) {
		t.Fatalf("Expected connection to survive before the timeout")
	}
	ts.run(1, 2*time.Second)
	if ts.alive(c) {
		t.Errorf("Expected connection to time out after %s", httpRequestTimeout)
	}
}

func TestConnectionCeiling(t *testing.T) {
	ts := newTestServer(t, httpConf, Config{MaxConnections: 2})

	var socks []*fakeSocket
	for i := 0; i < 2; i++ {
		c, sock := ts.connect(ProtoHTTP, "127.0.0.1")
		if c == nil {
			t.Fatalf("Expected connection %d to be admitted", i)
		}
		socks = append(socks, sock)
	}

	c, sock := ts.connect(ProtoHTTP, "127.0.0.1")
	if c != nil {
		t.Fatalf("Expected third connection to be refused")
	}
	if got := statusLine(sock.out.String()); got != "HTTP/1.0 503 Server too busy" {
		t.Errorf("Expected too busy reply, got %q", got)
	}
	if !sock.closed {
		t.Errorf("Expected refused socket to be closed")
	}
	if len(ts.st.conns) != 2 {
		t.Errorf("Expected 2 registered connections, got %d", len(ts.st.conns))
	}

	// 연결이 끝나면 슬롯이 반환됨
	socks[0].eof = true
	ts.run(1, 10*time.Millisecond)
	if got := ts.st.admission.Connections(); got != 1 {
		t.Fatalf("Expected 1 counted connection, got %d", got)
	}
	if c, _ := ts.connect(ProtoHTTP, "127.0.0.1"); c == nil {
		t.Errorf("Expected a connection to be admitted after one closed")
	}
}

func TestBandwidthCeiling(t *testing.T) {
	// live.ffm 은 64 kbit/s
	ts := newTestServer(t, httpConf, Config{MaxBandwidth: 100})

	c1, s1 := ts.connect(ProtoHTTP, "127.0.0.1")
	s1.send("GET /live.ffm HTTP/1.0\r\n\r\n")
	c2, s2 := ts.connect(ProtoHTTP, "127.0.0.1")
	s2.send("GET /live.ffm HTTP/1.0\r\n\r\n")

	ts.run(3, 10*time.Millisecond)

	if !ts.alive(c1) {
		t.Fatalf("Expected first viewer to be admitted")
	}
	if got := statusLine(s2.out.String()); got != "HTTP/1.0 503 Server too busy" {
		t.Errorf("Expected bandwidth refusal, got %q", got)
	}
	if ts.alive(c2) {
		t.Errorf("Expected refused viewer to be closed")
	}
	if got := ts.st.admission.Bandwidth(); got != 64 {
		t.Errorf("Expected 64 kbit/s charged, got %d", got)
	}

	s1.eof = true
	ts.run(1, 10*time.Millisecond)
	if got := ts.st.admission.Bandwidth(); got != 0 {
		t.Errorf("Expected bandwidth released, got %d", got)
	}
}
