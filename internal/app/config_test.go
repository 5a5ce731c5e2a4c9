package app

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"feedcast/pkg/catalog"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

// chdir switches the working directory for the rest of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoadConfigDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if config.HTTP.Port != 8090 || config.RTSP.Port != 5454 || config.API.Port != 8080 {
		t.Errorf("Unexpected default ports %+v", config)
	}
	if config.SRT.Port != 0 {
		t.Errorf("Expected SRT disabled by default, got port %d", config.SRT.Port)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := writeFile(t, dir, "server.yaml", `
http:
  port: 9000
  max_clients: 10
rtsp:
  port: 0
srt:
  port: 7000
  latency: 200
logging:
  level: debug
  format: json
catalog: streams.conf
children:
  launch: false
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if config.HTTP.Port != 9000 || config.HTTP.MaxClients != 10 {
		t.Errorf("Unexpected http config %+v", config.HTTP)
	}
	if config.HTTP.MaxBandwidth != 1000 {
		t.Errorf("Expected unset keys to keep defaults, got max bandwidth %d", config.HTTP.MaxBandwidth)
	}
	if config.GetSlogLevel() != slog.LevelDebug {
		t.Errorf("Expected debug level, got %v", config.GetSlogLevel())
	}

	mc := config.ToMediaConfig(false, false)
	if mc.HTTPAddr != ":9000" || mc.RTSPAddr != "" || mc.SRTAddr != ":7000" {
		t.Errorf("Unexpected listener addresses %+v", mc)
	}
	if mc.SRTLatency != 200*time.Millisecond {
		t.Errorf("Expected 200ms latency, got %v", mc.SRTLatency)
	}
	if !mc.NoLaunch {
		t.Errorf("Expected children disabled by config")
	}
	if mc.MaxConnections != 10 {
		t.Errorf("Expected MaxClients as the connection ceiling, got %d", mc.MaxConnections)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	chdir(t, t.TempDir())
	if _, err := LoadConfig("nope.yaml"); err == nil {
		t.Errorf("Expected an error for a missing explicit config file")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, dir, ".env", "FEEDCAST_API_PORT=0\n")
	// godotenv 은 os.Setenv 로 기록하므로 테스트 후 제거
	t.Cleanup(func() { os.Unsetenv("FEEDCAST_API_PORT") })
	t.Setenv("FEEDCAST_HTTP_PORT", "8181")
	t.Setenv("FEEDCAST_LOG_LEVEL", "warn")
	t.Setenv("FEEDCAST_CATALOG", "/etc/feedcast.conf")

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if config.HTTP.Port != 8181 {
		t.Errorf("Expected http port 8181, got %d", config.HTTP.Port)
	}
	if config.API.Port != 0 {
		t.Errorf("Expected api disabled from .env, got %d", config.API.Port)
	}
	if config.Logging.Level != "warn" || config.Catalog != "/etc/feedcast.conf" {
		t.Errorf("Unexpected overrides %+v", config)
	}
}

func TestLoadConfigBadEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("FEEDCAST_RTSP_PORT", "abc")
	if _, err := LoadConfig(""); err == nil || !strings.Contains(err.Error(), "FEEDCAST_RTSP_PORT") {
		t.Errorf("Expected an error naming FEEDCAST_RTSP_PORT, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"http port", func(c *Config) { c.HTTP.Port = 0 }},
		{"rtsp port", func(c *Config) { c.RTSP.Port = 70000 }},
		{"srt latency", func(c *Config) { c.SRT.Port = 9999; c.SRT.Latency = 5 }},
		{"rtp range", func(c *Config) { c.RTP.PortMin = 6000; c.RTP.PortMax = 6000 }},
		{"clients above connections", func(c *Config) { c.HTTP.MaxConnections = 5; c.HTTP.MaxClients = 10 }},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"catalog", func(c *Config) { c.Catalog = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := GetConfigWithDefaults()
			tt.modify(c)
			if err := c.validate(); err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}

	if err := GetConfigWithDefaults().validate(); err != nil {
		t.Errorf("Expected defaults to be valid, got %v", err)
	}
}

func TestApplyCatalog(t *testing.T) {
	c := GetConfigWithDefaults()
	c.ApplyCatalog(catalog.Global{
		HTTPPort:        8099,
		HTTPBindAddress: "127.0.0.1",
		RTSPPort:        5555,
		MaxClients:      50,
		MaxBandwidth:    500,
		CustomLog:       "/tmp/access.log",
	})

	mc := c.ToMediaConfig(true, true)
	if mc.HTTPAddr != "127.0.0.1:8099" || mc.RTSPAddr != ":5555" {
		t.Errorf("Unexpected addresses %q %q", mc.HTTPAddr, mc.RTSPAddr)
	}
	if mc.MaxConnections != 50 || mc.MaxBandwidth != 500 {
		t.Errorf("Unexpected limits %+v", mc)
	}
	if mc.AccessLogPath != "/tmp/access.log" {
		t.Errorf("Expected access log from CustomLog, got %q", mc.AccessLogPath)
	}
	if !mc.NoLaunch || !mc.Debug {
		t.Errorf("Expected command line flags to carry through")
	}
	if c.HTTP.MaxConnections != 2000 {
		t.Errorf("Expected unset globals to keep config values, got %d", c.HTTP.MaxConnections)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		format   string
		contains string
	}{
		{"json", `"msg":"hello"`},
		{"text", "msg=hello"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(&buf, slog.LevelInfo, tt.format)
			logger.Debug("hidden")
			logger.Info("hello")
			if !strings.Contains(buf.String(), tt.contains) {
				t.Errorf("Expected %q in %q", tt.contains, buf.String())
			}
			if strings.Contains(buf.String(), "hidden") {
				t.Errorf("Expected debug line to be filtered")
			}
		})
	}
}
