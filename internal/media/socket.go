package media

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"time"
)

const (
	socketReadLimit  = 64 << 10
	socketWriteLimit = 256 << 10
	socketReadChunk  = 16 << 10

	closeLinger = 5 * time.Second
)

var errWouldBlock = errors.New("operation would block")

// socket is the non-blocking byte stream the state machine talks to.
// Read and Write never block; they return errWouldBlock instead.
type socket interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Readable() bool
	Writable() bool
	Close() error
	RemoteAddr() net.Addr
}

// netSocket adapts a blocking net.Conn. A reader goroutine fills a bounded
// inbound buffer and a writer goroutine drains a bounded outbound buffer;
// both signal the event loop through wake.
type netSocket struct {
	conn net.Conn
	wake func()

	mu      sync.Mutex
	cond    *sync.Cond
	rbuf    []byte
	rerr    error
	wbuf    []byte
	werr    error
	closing bool
}

func newNetSocket(conn net.Conn, wake func()) *netSocket {
	s := &netSocket{conn: conn, wake: wake}
	s.cond = sync.NewCond(&s.mu)
	go s.readLoop()
	go s.writeLoop()
	return s
}

func (s *netSocket) readLoop() {
	buf := make([]byte, socketReadChunk)
	for {
		s.mu.Lock()
		for len(s.rbuf) >= socketReadLimit && !s.closing {
			s.cond.Wait()
		}
		closing := s.closing
		s.mu.Unlock()
		if closing {
			return
		}

		n, err := s.conn.Read(buf)

		s.mu.Lock()
		s.rbuf = append(s.rbuf, buf[:n]...)
		if err != nil {
			s.rerr = err
		}
		s.mu.Unlock()
		s.wake()
		if err != nil {
			return
		}
	}
}

func (s *netSocket) writeLoop() {
	defer s.conn.Close()

	var chunk []byte
	for {
		s.mu.Lock()
		for len(s.wbuf) == 0 && !s.closing {
			s.cond.Wait()
		}
		if len(s.wbuf) == 0 {
			// closing 이고 모두 전송됨
			s.mu.Unlock()
			return
		}
		chunk = append(chunk[:0], s.wbuf...)
		s.mu.Unlock()

		n, err := s.conn.Write(chunk)

		s.mu.Lock()
		s.wbuf = append(s.wbuf[:0], s.wbuf[n:]...)
		if err != nil {
			s.werr = err
			s.wbuf = nil
		}
		s.mu.Unlock()
		s.wake()
		if err != nil {
			return
		}
	}
}

func (s *netSocket) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.rbuf) == 0 {
		if s.rerr != nil {
			return 0, s.rerr
		}
		return 0, errWouldBlock
	}
	paused := len(s.rbuf) >= socketReadLimit
	n := copy(p, s.rbuf)
	s.rbuf = append(s.rbuf[:0], s.rbuf[n:]...)
	if paused {
		s.cond.Broadcast()
	}
	return n, nil
}

func (s *netSocket) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.werr != nil {
		return 0, s.werr
	}
	if s.closing {
		return 0, net.ErrClosed
	}
	free := socketWriteLimit - len(s.wbuf)
	if free <= 0 {
		return 0, errWouldBlock
	}
	n := min(len(p), free)
	s.wbuf = append(s.wbuf, p[:n]...)
	s.cond.Broadcast()
	return n, nil
}

func (s *netSocket) Readable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rbuf) > 0 || s.rerr != nil
}

func (s *netSocket) Writable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.werr != nil || len(s.wbuf) < socketWriteLimit
}

// Close flushes pending output in the background and then closes the conn.
func (s *netSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil
	}
	s.closing = true
	s.cond.Broadcast()
	return s.conn.SetWriteDeadline(time.Now().Add(closeLinger))
}

func (s *netSocket) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// addrPort converts a socket address to its netip form.
func addrPort(a net.Addr) netip.AddrPort {
	switch v := a.(type) {
	case *net.TCPAddr:
		return v.AddrPort()
	case *net.UDPAddr:
		return v.AddrPort()
	}
	if a == nil {
		return netip.AddrPort{}
	}
	ap, err := netip.ParseAddrPort(a.String())
	if err != nil {
		return netip.AddrPort{}
	}
	return ap
}
