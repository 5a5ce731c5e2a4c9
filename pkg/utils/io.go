package utils

import (
	"fmt"
	"io"
	"log/slog"
)

// ResourceName names v for logs: its file path when it has one, otherwise
// its runtime type.
func ResourceName(v any) string {
	if p, ok := v.(interface{ Path() string }); ok {
		return p.Path()
	}
	return fmt.Sprintf("%T", v)
}

// CloseWithLog 리소스를 닫고 실패하면 로그만 남김
func CloseWithLog(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Error("Error closing resource", "resource", ResourceName(c), "err", err)
	}
}
