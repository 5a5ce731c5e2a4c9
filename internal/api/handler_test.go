package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"feedcast/internal/media"
	"feedcast/internal/metrics"
)

type fakeSource struct {
	snap media.Snapshot
	err  error
}

func (f *fakeSource) Snapshot(ctx context.Context) (media.Snapshot, error) {
	return f.snap, f.err
}

func testSnapshot() media.Snapshot {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return media.Snapshot{
		StartedAt:   start,
		Now:         start.Add(90 * time.Second),
		Connections: 2,
		Bandwidth:   64,
		Streams: []media.StreamSnapshot{
			{Name: "cam.ffm", Kind: "feed"},
			{Name: "live.ffm", Kind: "live", Format: "ffm", Bandwidth: 64, Feed: "cam.ffm"},
		},
		Feeds: []media.FeedSnapshot{{Name: "cam.ffm", File: "/tmp/cam.ffm", MaxSize: 16384, Records: 3}},
		Conns: []media.ConnSnapshot{{ID: 1, Stream: "live.ffm", State: "WAIT_FEED", Protocol: "HTTP"}},
	}
}

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.GetRouter().ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	s := NewServer(0, &fakeSource{snap: testSnapshot()}, nil)
	w := serve(t, s, "/api/v1/health")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Status != "ok" || resp.Uptime != "1m30s" || resp.Connections != 2 || resp.Bandwidth != 64 {
		t.Errorf("Unexpected health response %+v", resp)
	}
}

func TestListHandlers(t *testing.T) {
	s := NewServer(0, &fakeSource{snap: testSnapshot()}, nil)

	tests := []struct {
		path     string
		contains string
	}{
		{"/api/v1/streams", `"name":"live.ffm"`},
		{"/api/v1/streams/live.ffm", `"feed":"cam.ffm"`},
		{"/api/v1/feeds", `"records":3`},
		{"/api/v1/connections", `"state":"WAIT_FEED"`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := serve(t, s, tt.path)
			if w.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.contains) {
				t.Errorf("Expected body to contain %s, got %s", tt.contains, w.Body.String())
			}
		})
	}
}

func TestStreamNotFound(t *testing.T) {
	s := NewServer(0, &fakeSource{snap: testSnapshot()}, nil)
	w := serve(t, s, "/api/v1/streams/nope.ffm")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServerStopped(t *testing.T) {
	s := NewServer(0, &fakeSource{err: media.ErrServerStopped}, nil)
	w := serve(t, s, "/api/v1/streams")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Error == "" {
		t.Errorf("Expected an error body, got %s", w.Body.String())
	}
}

func TestMetricsRoute(t *testing.T) {
	m := metrics.New()
	m.SetConnections(3)
	s := NewServer(0, &fakeSource{snap: testSnapshot()}, m)

	w := serve(t, s, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "feedcast_connections 3") {
		t.Errorf("Expected connections gauge in metrics output")
	}

	if w := serve(t, NewServer(0, &fakeSource{}, nil), "/metrics"); w.Code != http.StatusNotFound {
		t.Errorf("Expected no metrics route without collectors, got %d", w.Code)
	}
}
