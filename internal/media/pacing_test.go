package media

import (
	"testing"
	"time"
)

func TestPacketSendClock(t *testing.T) {
	tests := []struct {
		name       string
		pts        int64
		duration   int64
		frameBytes int
		bytesLeft  int
		expected   int64
	}{
		{"frame start", 80000, 40000, 1000, 1000, 80000},
		{"half sent", 80000, 40000, 1000, 500, 100000},
		{"last packet", 0, 40000, 1000, 100, 36000},
		{"empty frame", 120000, 40000, 0, 0, 120000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := packetSendClock(tt.pts, tt.duration, tt.frameBytes, tt.bytesLeft); got != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestServerClock(t *testing.T) {
	if got := serverClock(testStart.Add(1500*time.Millisecond), testStart); got != 1500000 {
		t.Errorf("Expected 1500000, got %d", got)
	}
}

func TestDatarate(t *testing.T) {
	var d datarate
	if got := d.bytesPerSecond(testStart, 0); got != 0 {
		t.Errorf("Expected 0 before any sample, got %d", got)
	}

	d.update(testStart, 0)
	now := testStart.Add(2 * time.Second)
	d.update(now, 20000)
	if got := d.bytesPerSecond(now, 20000); got != 10000 {
		t.Errorf("Expected 10000 B/s, got %d", got)
	}

	// 윈도우가 지나면 첫 샘플이 앞으로 이동
	later := testStart.Add(6 * time.Second)
	d.update(later, 60000)
	if !d.time1.Equal(testStart) {
		t.Errorf("Expected first sample kept while the second is fresh")
	}
	evenLater := testStart.Add(12 * time.Second)
	d.update(evenLater, 120000)
	if !d.time1.Equal(later) {
		t.Errorf("Expected first sample moved to %v, got %v", later, d.time1)
	}
}

func TestPollDelay(t *testing.T) {
	ts := newTestServer(t, rtspConf, Config{})
	if got := ts.st.pollDelay(); got != idleDelay {
		t.Errorf("Expected idle delay %s, got %s", idleDelay, got)
	}

	rc := newRTSPClient(ts, "127.0.0.1")
	reply := rc.do("SETUP", "rtsp://127.0.0.1/cam.rtp/streamid=0", "Transport: RTP/AVP/TCP;unicast;interleaved=0-1")
	session := ts.st.FindSession(sessionOf(t, reply))
	session.state = StateSendData
	if got := ts.st.pollDelay(); got != pacingDelay {
		t.Errorf("Expected pacing delay %s, got %s", pacingDelay, got)
	}
}
