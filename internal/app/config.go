package app

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"feedcast/internal/media"
	"feedcast/pkg/catalog"
)

// DefaultConfigPath is read when no --config flag is given.
const DefaultConfigPath = "configs/default.yaml"

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	RTSP     RTSPConfig     `yaml:"rtsp"`
	SRT      SRTConfig      `yaml:"srt"`
	RTP      RTPConfig      `yaml:"rtp"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	Catalog  string         `yaml:"catalog"`
	Children ChildrenConfig `yaml:"children"`
}

type HTTPConfig struct {
	BindAddress    string `yaml:"bind_address"`
	Port           int    `yaml:"port"`
	MaxConnections int    `yaml:"max_connections"`
	MaxClients     int    `yaml:"max_clients"`
	MaxBandwidth   int    `yaml:"max_bandwidth"` // kbit/s
}

type RTSPConfig struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"` // 0 이면 비활성화
}

type SRTConfig struct {
	Port    int `yaml:"port"`    // 0 이면 비활성화
	Latency int `yaml:"latency"` // ms
}

type RTPConfig struct {
	PortMin int `yaml:"port_min"`
	PortMax int `yaml:"port_max"`
}

type APIConfig struct {
	Port int `yaml:"port"` // 0 이면 비활성화
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"` // "text" or "json"
	AccessLog string `yaml:"access_log"`
}

type ChildrenConfig struct {
	Launch      bool          `yaml:"launch"`
	MinLifetime time.Duration `yaml:"min_lifetime"`
}

// GetConfigWithDefaults returns default configuration values
func GetConfigWithDefaults() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:           8090,
			MaxConnections: 2000,
			MaxClients:     1000,
			MaxBandwidth:   1000,
		},
		RTSP: RTSPConfig{
			Port: 5454,
		},
		SRT: SRTConfig{
			Port:    0,
			Latency: 120,
		},
		API: APIConfig{
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Catalog: "configs/feedcast.conf",
		Children: ChildrenConfig{
			Launch:      true,
			MinLifetime: 30 * time.Second,
		},
	}
}

// LoadConfig loads the server config from path, then applies .env and
// FEEDCAST_* environment overrides. A missing file at the default path
// leaves the defaults in place.
func LoadConfig(path string) (*Config, error) {
	config := GetConfigWithDefaults()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		slog.Debug("Config loaded", "path", path)
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		slog.Debug("Config file not found, using default values", "path", path)
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// .env 는 없어도 됨
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// applyEnv overrides selected keys from FEEDCAST_* variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("FEEDCAST_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FEEDCAST_CATALOG"); v != "" {
		c.Catalog = v
	}
	for _, e := range []struct {
		key string
		dst *int
	}{
		{"FEEDCAST_HTTP_PORT", &c.HTTP.Port},
		{"FEEDCAST_RTSP_PORT", &c.RTSP.Port},
		{"FEEDCAST_API_PORT", &c.API.Port},
	} {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", e.key, v)
		}
		*e.dst = n
	}
	return nil
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d (must be between 1-65535)", c.HTTP.Port)
	}

	// 0 은 비활성화
	for _, p := range []struct {
		name string
		port int
	}{
		{"rtsp", c.RTSP.Port},
		{"srt", c.SRT.Port},
		{"api", c.API.Port},
	} {
		if p.port < 0 || p.port > 65535 {
			return fmt.Errorf("invalid %s port: %d (must be between 0-65535)", p.name, p.port)
		}
	}

	if c.HTTP.MaxConnections < 0 || c.HTTP.MaxClients < 0 || c.HTTP.MaxBandwidth < 0 {
		return fmt.Errorf("http limits must be non-negative")
	}
	if c.HTTP.MaxConnections > 0 && c.HTTP.MaxClients > c.HTTP.MaxConnections {
		return fmt.Errorf("invalid max_clients: %d (must not exceed max_connections %d)", c.HTTP.MaxClients, c.HTTP.MaxConnections)
	}

	if c.SRT.Port > 0 && (c.SRT.Latency < 20 || c.SRT.Latency > 8000) {
		return fmt.Errorf("invalid srt latency: %d ms (must be between 20-8000 ms)", c.SRT.Latency)
	}

	if c.RTP.PortMin != 0 || c.RTP.PortMax != 0 {
		if c.RTP.PortMin <= 0 || c.RTP.PortMax > 65535 || c.RTP.PortMax-c.RTP.PortMin < 1 {
			return fmt.Errorf("invalid rtp port range: %d-%d", c.RTP.PortMin, c.RTP.PortMax)
		}
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, level := range validLevels {
		if strings.ToLower(c.Logging.Level) == level {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("invalid log level: %s (must be one of: %v)", c.Logging.Level, validLevels)
	}
	if f := strings.ToLower(c.Logging.Format); f != "text" && f != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'text' or 'json')", c.Logging.Format)
	}

	if c.Catalog == "" {
		return fmt.Errorf("catalog path is required")
	}
	if c.Children.MinLifetime < 0 {
		return fmt.Errorf("invalid children min_lifetime: %v", c.Children.MinLifetime)
	}
	return nil
}

// ApplyCatalog lets the catalog's global directives override the server
// config, the way an ffserver configuration file would.
func (c *Config) ApplyCatalog(g catalog.Global) {
	if g.HTTPPort > 0 {
		c.HTTP.Port = g.HTTPPort
	}
	if g.HTTPBindAddress != "" {
		c.HTTP.BindAddress = g.HTTPBindAddress
	}
	if g.RTSPPort > 0 {
		c.RTSP.Port = g.RTSPPort
	}
	if g.RTSPBindAddress != "" {
		c.RTSP.BindAddress = g.RTSPBindAddress
	}
	if g.MaxHTTPConnections > 0 {
		c.HTTP.MaxConnections = g.MaxHTTPConnections
	}
	if g.MaxClients > 0 {
		c.HTTP.MaxClients = g.MaxClients
	}
	if g.MaxBandwidth > 0 {
		c.HTTP.MaxBandwidth = g.MaxBandwidth
	}
	if g.CustomLog != "" {
		c.Logging.AccessLog = g.CustomLog
	}
}

// ToMediaConfig converts the listener and limit settings for the media
// server. MaxClients caps concurrent connections; MaxConnections only sizes
// the descriptor limit.
func (c *Config) ToMediaConfig(noLaunch, debug bool) media.Config {
	cfg := media.Config{
		HTTPAddr:         net.JoinHostPort(c.HTTP.BindAddress, strconv.Itoa(c.HTTP.Port)),
		RTPPortMin:       c.RTP.PortMin,
		RTPPortMax:       c.RTP.PortMax,
		MaxConnections:   c.HTTP.MaxClients,
		MaxBandwidth:     c.HTTP.MaxBandwidth,
		NoLaunch:         noLaunch || !c.Children.Launch,
		ChildMinLifetime: c.Children.MinLifetime,
		Debug:            debug,
		AccessLogPath:    c.Logging.AccessLog,
	}
	if c.RTSP.Port > 0 {
		cfg.RTSPAddr = net.JoinHostPort(c.RTSP.BindAddress, strconv.Itoa(c.RTSP.Port))
	}
	if c.SRT.Port > 0 {
		cfg.SRTAddr = net.JoinHostPort("", strconv.Itoa(c.SRT.Port))
		cfg.SRTLatency = time.Duration(c.SRT.Latency) * time.Millisecond
	}
	return cfg
}

// GetSlogLevel returns slog.Level from config
func (c *Config) GetSlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo // 기본값
	}
}
