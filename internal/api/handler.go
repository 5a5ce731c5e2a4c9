package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"feedcast/internal/media"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse represents the response body for the health endpoint
type HealthResponse struct {
	Status      string `json:"status"`
	Uptime      string `json:"uptime"`
	Connections int    `json:"connections"`
	Bandwidth   int    `json:"bandwidthKbps"`
}

// snapshot reads the registry, answering 503 when the server is not running.
func (s *Server) snapshot(c *gin.Context) (media.Snapshot, bool) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), snapshotTimeout)
	defer cancel()

	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return media.Snapshot{}, false
	}
	return snap, true
}

// HealthHandler handles GET /api/v1/health
func (s *Server) HealthHandler(c *gin.Context) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "ok",
		Uptime:      snap.Now.Sub(snap.StartedAt).Truncate(time.Second).String(),
		Connections: snap.Connections,
		Bandwidth:   snap.Bandwidth,
	})
}

// StreamsHandler handles GET /api/v1/streams
func (s *Server) StreamsHandler(c *gin.Context) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, snap.Streams)
}

// StreamHandler handles GET /api/v1/streams/:name
func (s *Server) StreamHandler(c *gin.Context) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	name := c.Param("name")
	for _, st := range snap.Streams {
		if st.Name == name {
			c.JSON(http.StatusOK, st)
			return
		}
	}
	c.JSON(http.StatusNotFound, ErrorResponse{Error: "stream not found: " + name})
}

// FeedsHandler handles GET /api/v1/feeds
func (s *Server) FeedsHandler(c *gin.Context) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, snap.Feeds)
}

// ConnectionsHandler handles GET /api/v1/connections
func (s *Server) ConnectionsHandler(c *gin.Context) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, snap.Conns)
}
