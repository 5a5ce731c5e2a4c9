package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"feedcast/internal/media"
	"feedcast/internal/metrics"
)

const (
	snapshotTimeout = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

// SnapshotSource is what the API reads server state from.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (media.Snapshot, error)
}

// Server represents the API server
type Server struct {
	router  *gin.Engine
	port    int
	source  SnapshotSource // DI된 media 서버
	metrics *metrics.Collectors
	srv     *http.Server
}

// NewServer creates a new API server instance
func NewServer(port int, source SnapshotSource, m *metrics.Collectors) *Server {
	// Set Gin to release mode for production
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Add basic middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	s := &Server{
		router:  router,
		port:    port,
		source:  source,
		metrics: m,
	}
	s.SetupRoutes()
	return s
}

// SetupRoutes configures all API routes
func (s *Server) SetupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.HealthHandler)
		v1.GET("/streams", s.StreamsHandler)
		v1.GET("/streams/:name", s.StreamHandler)
		v1.GET("/feeds", s.FeedsHandler)
		v1.GET("/connections", s.ConnectionsHandler)
	}
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

func (s *Server) Name() string { return "api" }

// Start binds the port and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(s.port))
	if err != nil {
		return fmt.Errorf("failed to listen api on port %d: %w", s.port, err)
	}
	s.srv = &http.Server{Handler: s.router}

	// 논블로킹으로 서버 시작
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server error", "err", err)
		}
	}()
	slog.Info("API Server started", "addr", ln.Addr().String())
	return nil
}

// Stop shuts the HTTP server down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	if s.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		slog.Error("API server shutdown error", "err", err)
	}
}

// GetRouter returns the gin router (for testing)
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
