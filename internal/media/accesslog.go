package media

import (
	"fmt"
	"log/slog"
	"os"
	"time"
)

const accessLogDateFormat = "02/Jan/2006:15:04:05 -0700"

// accessLog writes one line per finished HTTP connection. A nil accessLog
// discards everything.
type accessLog struct {
	file   *os.File
	logger *slog.Logger
}

func openAccessLog(path string) (*accessLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open access log: %w", err)
	}
	return newAccessLog(f), nil
}

func newAccessLog(f *os.File) *accessLog {
	h := slog.NewTextHandler(f, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// 레벨/시간은 date 필드로 대체
			if len(groups) == 0 && (a.Key == slog.TimeKey || a.Key == slog.LevelKey) {
				return slog.Attr{}
			}
			return a
		},
	})
	return &accessLog{file: f, logger: slog.New(h)}
}

func (l *accessLog) write(c *Connection, now time.Time) {
	if l == nil {
		return
	}
	l.logger.Info("access",
		"remote", c.remote.Addr().String(),
		"date", now.Format(accessLogDateFormat),
		"request", fmt.Sprintf("%s %s %s", c.method, c.url, c.version),
		"status", c.status,
		"bytes", c.dataCount,
	)
}

func (l *accessLog) Close() error {
	if l == nil {
		return nil
	}
	return l.file.Close()
}
