//go:build !windows

// Package rlimit raises the open file limit of the process.
package rlimit

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// descriptorsPerConnection 연결당 소켓 + 피드 파일 여유분
const descriptorsPerConnection = 2

// reserved covers listeners, feed files, logs and the UDP sockets of RTP
// sessions that are not charged per connection.
const reserved = 64

// Needed returns the descriptor count required for maxConnections.
func Needed(maxConnections int) uint64 {
	if maxConnections <= 0 {
		return 0
	}
	return uint64(maxConnections)*descriptorsPerConnection + reserved
}

// Raise lifts the soft RLIMIT_NOFILE to cover maxConnections, bounded by the
// hard limit. It returns the resulting soft limit.
func Raise(maxConnections int) (uint64, error) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0, fmt.Errorf("failed to read RLIMIT_NOFILE: %w", err)
	}

	want := Needed(maxConnections)
	if want == 0 {
		// 제한이 없으면 hard 한도까지
		want = rl.Max
	}
	if want > rl.Max {
		want = rl.Max
	}
	if want <= rl.Cur {
		return rl.Cur, nil
	}

	rl.Cur = want
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0, fmt.Errorf("failed to raise RLIMIT_NOFILE to %d: %w", want, err)
	}
	return rl.Cur, nil
}
