package media

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"golang.org/x/net/ipv4"

	"feedcast/pkg/catalog"
	"feedcast/pkg/mux"
	"feedcast/pkg/rtsp"
)

const defaultMulticastTTL = 16

// rtpSession is the RTP side of a socketless session connection.
type rtpSession struct {
	id   string
	kind rtsp.TransportKind
	subs []*rtpSubstream

	// TCP interleaved 전송에 쓰는 RTSP 제어 연결 id, 0 이면 없음
	control uint64
}

func (s *rtpSession) substream(i int) *rtpSubstream {
	if i < 0 || i >= len(s.subs) {
		return nil
	}
	return s.subs[i]
}

func (s *rtpSession) close() {
	for _, sub := range s.subs {
		if sub != nil && sub.out != nil {
			sub.out.close()
		}
	}
}

// rtpSubstream is one set-up substream: its packetizer and destination.
type rtpSubstream struct {
	index      int
	muxer      mux.Muxer
	packetizer *mux.RTPPacketizer
	out        *udpOutput
	channel    int
	lastReport time.Time
}

func newRTPSubstream(c *Connection, index int) *rtpSubstream {
	m, p := mux.NewRTPMuxer(c.substreamParams(index), index)
	return &rtpSubstream{index: index, muxer: m, packetizer: p}
}

// appendSenderReport adds a length-prefixed RTCP sender report to buf.
func (sub *rtpSubstream) appendSenderReport(buf *bytes.Buffer, now time.Time) error {
	sr, err := sub.packetizer.SenderReport(now)
	if err != nil {
		return err
	}
	var prefix [mux.PacketPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(sr)))
	buf.Write(prefix[:])
	buf.Write(sr)
	sub.lastReport = now
	return nil
}

// udpOutput sends the RTP and RTCP datagrams of one substream.
type udpOutput struct {
	rtp, rtcp         *net.UDPConn
	rtpAddr, rtcpAddr *net.UDPAddr
}

func (o *udpOutput) write(pkt []byte) error {
	if isRTCP(pkt) {
		_, err := o.rtcp.WriteToUDP(pkt, o.rtcpAddr)
		return err
	}
	_, err := o.rtp.WriteToUDP(pkt, o.rtpAddr)
	return err
}

func (o *udpOutput) serverPorts() [2]int {
	return [2]int{o.rtp.LocalAddr().(*net.UDPAddr).Port, o.rtcp.LocalAddr().(*net.UDPAddr).Port}
}

func (o *udpOutput) close() {
	o.rtp.Close()
	if o.rtcp != o.rtp {
		o.rtcp.Close()
	}
}

// portAllocator hands out even/odd UDP port pairs from a range. An empty
// range lets the kernel choose.
type portAllocator struct {
	lo, hi int
	next   int
}

func newPortAllocator(lo, hi int) *portAllocator {
	if lo%2 != 0 {
		lo++
	}
	return &portAllocator{lo: lo, hi: hi, next: lo}
}

func (p *portAllocator) listenPair() (*net.UDPConn, *net.UDPConn, error) {
	if p.lo <= 0 || p.hi <= p.lo {
		rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
		if err != nil {
			return nil, nil, err
		}
		rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
		if err != nil {
			rtpConn.Close()
			return nil, nil, err
		}
		return rtpConn, rtcpConn, nil
	}

	span := (p.hi - p.lo + 1) / 2
	for i := 0; i < span; i++ {
		port := p.next
		p.next += 2
		if p.next+1 > p.hi {
			p.next = p.lo
		}
		rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
		if err != nil {
			continue
		}
		rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port + 1})
		if err != nil {
			rtpConn.Close()
			continue
		}
		return rtpConn, rtcpConn, nil
	}
	return nil, nil, ErrNoPorts
}

// openUnicast opens a port pair sending to the client's RTP/RTCP ports.
func (p *portAllocator) openUnicast(dst netip.Addr, clientPorts [2]int) (*udpOutput, error) {
	rtpConn, rtcpConn, err := p.listenPair()
	if err != nil {
		return nil, err
	}
	return &udpOutput{
		rtp:      rtpConn,
		rtcp:     rtcpConn,
		rtpAddr:  net.UDPAddrFromAddrPort(netip.AddrPortFrom(dst, uint16(clientPorts[0]))),
		rtcpAddr: net.UDPAddrFromAddrPort(netip.AddrPortFrom(dst, uint16(clientPorts[1]))),
	}, nil
}

// openMulticast opens one socket sending to group:port and group:port+1.
func openMulticast(group netip.Addr, port, ttl int) (*udpOutput, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(ttl); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set multicast ttl: %w", err)
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		slog.Debug("Multicast loopback not set", "err", err)
	}
	return &udpOutput{
		rtp:      conn,
		rtcp:     conn,
		rtpAddr:  net.UDPAddrFromAddrPort(netip.AddrPortFrom(group, uint16(port))),
		rtcpAddr: net.UDPAddrFromAddrPort(netip.AddrPortFrom(group, uint16(port+1))),
	}, nil
}

// CreateSession registers a socketless RTP sender for stream s. It is
// charged against both admission ceilings.
func (st *ServerState) CreateSession(remote netip.AddrPort, s *catalog.Stream, id string, kind rtsp.TransportKind) (*Connection, error) {
	if !st.admission.TryConnection() {
		st.metrics.AdmissionRejected("connections")
		return nil, ErrTooManyConnections
	}
	bw := s.Bandwidth()
	if !st.admission.TryBandwidth(bw) {
		st.admission.ReleaseConnection()
		st.metrics.AdmissionRejected("bandwidth")
		return nil, ErrBandwidthExceeded
	}

	c := &Connection{
		id:         st.nextID(),
		remote:     remote,
		proto:      ProtoRTP,
		state:      StateReady,
		created:    st.now,
		packetized: true,
		bandwidth:  bw,
		charged:    true,
		counted:    true,
		method:     "PLAY",
		version:    kind.String(),
		session: &rtpSession{
			id:   id,
			kind: kind,
			subs: make([]*rtpSubstream, len(s.Streams)),
		},
	}
	c.bindStream(s)
	c.url = s.Name
	c.deadline = st.now.Add(rtpSessionTimeout)
	c.logger = slog.With("connId", c.id, "remote", remote.String(), "session", id, "transport", kind.String())
	st.register(c)
	st.sessions[id] = c.id
	s.ConnsServed++
	c.logger.Info("RTP session created", "stream", s.Name)
	return c, nil
}

// FindSession returns the session connection with the given id.
func (st *ServerState) FindSession(id string) *Connection {
	if id == "" {
		return nil
	}
	cid, ok := st.sessions[id]
	if !ok {
		return nil
	}
	return st.conns[cid]
}

// FindSessionByURL is FindSession restricted to sessions of the stream that
// path names, directly or through one of its substream URLs.
func (st *ServerState) FindSessionByURL(path, id string) *Connection {
	c := st.FindSession(id)
	if c == nil || c.stream == nil {
		return nil
	}
	if !rtsp.MatchesStream(path, c.stream.Name, len(c.stream.Streams)) {
		return nil
	}
	return c
}

// multicastSession returns the live multicast session of s, if any.
func (st *ServerState) multicastSession(s *catalog.Stream) *Connection {
	for _, id := range st.order {
		c := st.conns[id]
		if c.stream == s && c.session != nil && c.session.kind == rtsp.TransportUDPMulticast {
			return c
		}
	}
	return nil
}

func multicastTTL(s *catalog.Stream) int {
	if s.MulticastTTL <= 0 {
		return defaultMulticastTTL
	}
	return s.MulticastTTL
}

// startMulticast creates the permanent multicast session of every stream
// with a multicast address.
func (st *ServerState) startMulticast() error {
	for _, s := range st.catalog.Streams {
		if !s.IsMulticast() || s.Kind != catalog.KindLive {
			continue
		}
		if err := st.startMulticastStream(s); err != nil {
			return fmt.Errorf("multicast stream %s: %w", s.Name, err)
		}
	}
	return nil
}

func (st *ServerState) startMulticastStream(s *catalog.Stream) error {
	c, err := st.CreateSession(netip.AddrPortFrom(s.MulticastAddr, uint16(s.MulticastPort)), s, rtsp.NewSessionID(), rtsp.TransportUDPMulticast)
	if err != nil {
		return err
	}
	if err := st.openSource(c); err != nil {
		st.destroy(c, err)
		return err
	}
	ttl := multicastTTL(s)
	for i := range s.Streams {
		sub := newRTPSubstream(c, i)
		out, err := openMulticast(s.MulticastAddr, s.MulticastPort+2*i, ttl)
		if err != nil {
			st.destroy(c, err)
			return err
		}
		sub.out = out
		c.session.subs[i] = sub
	}
	c.state = StateSendData
	c.logger.Info("Multicast session started", "stream", s.Name, "group", s.MulticastAddr, "port", s.MulticastPort, "ttl", ttl)
	return nil
}

// restartMulticast recreates the multicast sessions fed by feed that ended
// with the previous producer.
func (st *ServerState) restartMulticast(feed *feedState) {
	for _, s := range st.catalog.Streams {
		if !s.IsMulticast() || s.Kind != catalog.KindLive || s.Feed != feed.stream {
			continue
		}
		if st.multicastSession(s) != nil {
			continue
		}
		if err := st.startMulticastStream(s); err != nil {
			slog.Warn("Failed to restart multicast session", "stream", s.Name, "err", err)
		}
	}
}
