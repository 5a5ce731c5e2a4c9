//go:build !windows

package rlimit

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestNeeded(t *testing.T) {
	tests := []struct {
		max      int
		expected uint64
	}{
		{0, 0},
		{-1, 0},
		{1000, 2064},
	}
	for _, tt := range tests {
		if got := Needed(tt.max); got != tt.expected {
			t.Errorf("Expected %d for %d connections, got %d", tt.expected, tt.max, got)
		}
	}
}

func TestRaiseNeverLowers(t *testing.T) {
	var before unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &before); err != nil {
		t.Skipf("Getrlimit unavailable: %v", err)
	}

	got, err := Raise(1)
	if err != nil {
		t.Fatalf("Raise failed: %v", err)
	}
	if got < before.Cur {
		t.Errorf("Expected soft limit not below %d, got %d", before.Cur, got)
	}
	if got > before.Max {
		t.Errorf("Expected soft limit within hard limit %d, got %d", before.Max, got)
	}
}
