package media

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAccessLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	al, err := openAccessLog(path)
	if err != nil {
		t.Fatalf("openAccessLog failed: %v", err)
	}

	c := &Connection{
		remote:    netip.MustParseAddrPort("10.0.0.7:5000"),
		method:    "GET",
		url:       "/live.ffm",
		version:   "HTTP/1.0",
		status:    200,
		dataCount: 4096,
	}
	al.write(c, testStart)
	if err := al.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	line := string(data)
	for _, want := range []string{"remote=10.0.0.7", `date="01/May/2024:12:00:00 +0000"`, `request="GET /live.ffm HTTP/1.0"`, "status=200", "bytes=4096"} {
		if !strings.Contains(line, want) {
			t.Errorf("Expected %q in %q", want, line)
		}
	}
	if strings.Contains(line, "level=") || strings.Contains(line, "time=") {
		t.Errorf("Expected no level or time in %q", line)
	}
}

func TestAccessLogWrittenOnDestroy(t *testing.T) {
	ts := newTestServer(t, httpConf, Config{})
	path := filepath.Join(t.TempDir(), "access.log")
	al, err := openAccessLog(path)
	if err != nil {
		t.Fatalf("openAccessLog failed: %v", err)
	}
	ts.st.accessLog = al

	_, sock := ts.connect(ProtoHTTP, "127.0.0.1")
	sock.send("GET /nope.ffm HTTP/1.0\r\n\r\n")
	ts.run(3, 10*time.Millisecond)
	al.Close()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "status=404") {
		t.Errorf("Expected a 404 access line, got %q", data)
	}
}

func TestNilAccessLog(t *testing.T) {
	var al *accessLog
	al.write(&Connection{}, testStart)
	if err := al.Close(); err != nil {
		t.Errorf("Expected nil Close to succeed, got %v", err)
	}
}
