package media

import (
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"feedcast/pkg/catalog"
)

const switchConf = `
<Feed multi.ffm>
File $DIR/multi.ffm
FileMaxSize 16K
</Feed>

<Stream hi.ffm>
Feed multi.ffm
Format ffm
NoAudio
VideoBitRate 256
</Stream>

<Stream lo.ffm>
Feed multi.ffm
Format ffm
NoAudio
VideoBitRate 64
</Stream>
`

func TestExtractRates(t *testing.T) {
	tests := []struct {
		name     string
		pragma   []string
		n        int
		expected []int
		found    bool
	}{
		{"none", nil, 2, []int{0, 0}, false},
		{"single", []string{"stream-switch-entry=ffff:1:2"}, 2, []int{2, 0}, true},
		{"several", []string{"no-cache, stream-switch-entry=ffff:1:1 ffff:2:2"}, 2, []int{1, 2}, true},
		{"out of range", []string{"stream-switch-entry=ffff:3:2"}, 2, []int{0, 0}, false},
		{"garbage", []string{"stream-switch-entry=abc"}, 1, []int{0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for _, v := range tt.pragma {
				h.Add("Pragma", v)
			}
			rates, found := extractRates(h, tt.n)
			if found != tt.found {
				t.Errorf("Expected found %v, got %v", tt.found, found)
			}
			for i := range tt.expected {
				if rates[i] != tt.expected[i] {
					t.Errorf("Expected rates %v, got %v", tt.expected, rates)
					break
				}
			}
		})
	}
}

func TestPragmaClientID(t *testing.T) {
	h := http.Header{}
	h.Add("Pragma", "xPlayStrm=1, client-id=4242")
	id, ok := pragmaClientID(h)
	if !ok || id != 4242 {
		t.Errorf("Expected client id 4242, got %d (%v)", id, ok)
	}
	if _, ok := pragmaClientID(http.Header{}); ok {
		t.Errorf("Expected no client id without a Pragma header")
	}
}

func switchCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.ParseConfig(strings.NewReader(strings.ReplaceAll(switchConf, "$DIR", t.TempDir())), "switch.conf")
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	return cat
}

func TestPlanSwitch(t *testing.T) {
	cat := switchCatalog(t)
	hi, err := cat.Resolve("hi.ffm")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(hi.Feed.Streams) != 2 {
		t.Fatalf("Expected feed with 2 substreams, got %d", len(hi.Feed.Streams))
	}

	tests := []struct {
		name     string
		rate     int
		expected int
		changed  bool
	}{
		{"configured", 0, 0, false},
		{"half", 1, 1, true},
		{"quarter", 2, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Connection{}
			c.bindStream(hi)
			if got := c.planSwitch([]int{tt.rate}); got != tt.changed {
				t.Fatalf("Expected changed %v, got %v", tt.changed, got)
			}
			c.applySwitch()
			if c.feedStreams[0] != tt.expected {
				t.Errorf("Expected feed substream %d, got %d", tt.expected, c.feedStreams[0])
			}
			if c.switchPending {
				t.Errorf("Expected no pending switch after applySwitch")
			}
			if hi.FeedStreams[0] != 0 {
				t.Errorf("Expected catalog mapping untouched, got %d", hi.FeedStreams[0])
			}
		})
	}
}

func TestSwitchCompletesOnKeyFrame(t *testing.T) {
	cat := switchCatalog(t)
	hi, _ := cat.Resolve("hi.ffm")
	c := &Connection{}
	c.bindStream(hi)
	if !c.planSwitch([]int{2}) {
		t.Fatalf("Expected a switch to be planned")
	}

	// 새 서브스트림의 키 프레임 전에는 기존 매핑 유지
	if _, ok := c.mapPacket(1, false); ok {
		t.Errorf("Expected packets of the new substream to be dropped before its key frame")
	}
	if out, ok := c.mapPacket(0, false); !ok || out != 0 {
		t.Errorf("Expected old substream still mapped, got %d (%v)", out, ok)
	}
	if out, ok := c.mapPacket(1, true); !ok || out != 0 {
		t.Errorf("Expected switch on key frame, got %d (%v)", out, ok)
	}
	if c.switchPending {
		t.Errorf("Expected switch completed")
	}
	if _, ok := c.mapPacket(0, true); ok {
		t.Errorf("Expected old substream to be dropped after the switch")
	}
}

func TestRequestSubstreamSwitch(t *testing.T) {
	ts := newTestServer(t, switchConf, Config{})
	viewer, vsock := ts.connect(ProtoHTTP, "127.0.0.1")
	vsock.send("GET /hi.ffm HTTP/1.0\r\n\r\n")
	ts.run(1, 10*time.Millisecond)

	if ts.st.RequestSubstreamSwitch(viewer.wmpClientID+1, []int{2}) {
		t.Errorf("Expected unknown client id to be ignored")
	}

	_, psock := ts.connect(ProtoHTTP, "127.0.0.1")
	psock.send("POST /hi.ffm HTTP/1.0\r\nContent-Length: 0\r\n" +
		"Pragma: client-id=" + strconv.Itoa(viewer.wmpClientID) + "\r\n" +
		"Pragma: stream-switch-entry=ffff:1:2\r\n\r\n")
	ts.run(1, 10*time.Millisecond)

	if !viewer.switchPending {
		t.Fatalf("Expected a pending switch on the viewer")
	}
	if viewer.switchStreams[0] != 1 {
		t.Errorf("Expected switch to feed substream 1, got %d", viewer.switchStreams[0])
	}
}
