package media

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gosrt "github.com/datarhei/gosrt"
)

// srtServer accepts SRT publishers. The stream id names the feed and the
// payload is the FFM byte stream an HTTP POST would carry.
type srtServer struct {
	ln       gosrt.Listener
	listener *listener
}

func newSRTServer(addr string, latency time.Duration) (*srtServer, error) {
	config := gosrt.DefaultConfig()
	config.TransmissionType = "live"
	if latency > 0 {
		config.Latency = latency
	}

	ln, err := gosrt.Listen("srt", addr, config)
	if err != nil {
		return nil, fmt.Errorf("failed to listen srt on %s: %w", addr, err)
	}
	return &srtServer{
		ln:       ln,
		listener: &listener{proto: ProtoSRT, queue: make(chan accepted, acceptQueueSize)},
	}, nil
}

// acceptLoop queues accepted publishers for the event loop, which binds
// them to their feed.
func (s *srtServer) acceptLoop(ctx context.Context, wake func()) {
	for {
		req, err := s.ln.Accept2()
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("SRT accept failed", "err", err)
			}
			return
		}

		streamID := req.StreamId()
		conn, err := req.Accept()
		if err != nil {
			slog.Error("Failed to accept SRT connection", "streamId", streamID, "err", err)
			continue
		}
		slog.Debug("SRT publisher connected", "streamId", streamID, "remoteAddr", conn.RemoteAddr())

		a := accepted{conn: conn, remote: addrPort(conn.RemoteAddr()), streamID: streamID}
		select {
		case s.listener.queue <- a:
			wake()
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

func (s *srtServer) close() {
	// gosrt.Listener.Close 는 에러를 반환하지 않음
	s.ln.Close()
	slog.Debug("SRT listener closed")
}
