package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"feedcast/internal/api"
	"feedcast/internal/media"
	"feedcast/internal/metrics"
	"feedcast/internal/rlimit"
	"feedcast/pkg/catalog"
)

// service is a long running component owned by the App.
type service interface {
	Name() string
	Start() error
	Stop()
}

// Options are the command line settings that override the config file.
type Options struct {
	ConfigPath  string
	CatalogPath string
	NoLaunch    bool
	Debug       bool
}

// App represents the main application
type App struct {
	config      *Config
	catalog     *catalog.Catalog
	mediaServer *media.MediaServer
	apiServer   *api.Server
	services    []service
}

// NewApp loads the configuration and the stream catalog and builds every
// service. Feed files are opened here, so a bad feed fails startup.
func NewApp(opts Options) (*App, error) {
	config, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.CatalogPath != "" {
		config.Catalog = opts.CatalogPath
	}
	if opts.Debug {
		config.Logging.Level = "debug"
	}

	// 설정을 기반으로 로거 초기화
	InitLogger(config)

	cat, err := catalog.LoadFile(config.Catalog)
	if err != nil {
		return nil, err
	}
	config.ApplyCatalog(cat.Global)
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	slog.Info("Catalog loaded", "path", config.Catalog, "streams", len(cat.Streams), "feeds", len(cat.Feeds()))

	if limit, err := rlimit.Raise(config.HTTP.MaxConnections); err != nil {
		slog.Warn("Failed to raise open file limit", "err", err)
	} else {
		slog.Debug("Open file limit", "limit", limit)
	}

	m := metrics.New()
	mediaServer, err := media.NewMediaServer(config.ToMediaConfig(opts.NoLaunch, opts.Debug), cat, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create media server: %w", err)
	}

	app := &App{
		config:      config,
		catalog:     cat,
		mediaServer: mediaServer,
		services:    []service{mediaServer},
	}

	// API 서버 생성 (media 서버를 DI)
	if config.API.Port > 0 {
		app.apiServer = api.NewServer(config.API.Port, mediaServer, m)
		app.services = append(app.services, app.apiServer)
	}
	return app, nil
}

// Run starts every service and blocks until ctx is done or SIGINT/SIGTERM
// arrives, then stops them in reverse order.
func (app *App) Run(ctx context.Context) error {
	slog.Info("Application starting...")

	var started []service
	for _, s := range app.services {
		if err := s.Start(); err != nil {
			app.stop(started)
			return fmt.Errorf("failed to start %s: %w", s.Name(), err)
		}
		slog.Info("Service started", "service", s.Name())
		started = append(started, s)
	}

	app.waitForShutdown(ctx)
	app.stop(started)
	return nil
}

// waitForShutdown waits for shutdown signals or context cancellation
func (app *App) waitForShutdown(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal, shutting down application", "signal", sig)
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down application")
	}
}

func (app *App) stop(started []service) {
	slog.Info("Stopping application...")
	for i := len(started) - 1; i >= 0; i-- {
		s := started[i]
		s.Stop()
		slog.Info("Service stopped", "service", s.Name())
	}
	slog.Info("Application stopped successfully")
}
