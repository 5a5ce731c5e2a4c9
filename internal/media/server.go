package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"sync"
	"time"

	"feedcast/internal/metrics"
	"feedcast/pkg/catalog"
	"feedcast/pkg/rtsp"
	"feedcast/pkg/utils"
)

const (
	idleDelay   = 1000 * time.Millisecond
	pacingDelay = 10 * time.Millisecond

	acceptQueueSize = 64
)

// Config 미디어 서버 설정. 빈 주소는 해당 리스너 비활성화
type Config struct {
	HTTPAddr   string
	RTSPAddr   string
	SRTAddr    string
	SRTLatency time.Duration

	RTPPortMin int
	RTPPortMax int

	MaxConnections int
	MaxBandwidth   int // kbit/s

	NoLaunch         bool
	ChildMinLifetime time.Duration
	Debug            bool
	AccessLogPath    string
}

// ServerState is everything the event loop owns. Nothing in it is touched
// from another goroutine.
type ServerState struct {
	cfg       Config
	catalog   *catalog.Catalog
	conns     map[uint64]*Connection
	order     []uint64
	lastID    uint64
	sessions  map[string]uint64
	admission *Admission
	feeds     map[*catalog.Stream]*feedState
	listeners []*listener
	children  *childLauncher
	ports     *portAllocator
	accessLog *accessLog
	metrics   *metrics.Collectors
	now       time.Time
	startedAt time.Time
	wake      func()
	logger    *slog.Logger
}

func newServerState(cfg Config, cat *catalog.Catalog, feeds map[*catalog.Stream]*feedState, m *metrics.Collectors, now time.Time) *ServerState {
	return &ServerState{
		cfg:       cfg,
		catalog:   cat,
		conns:     make(map[uint64]*Connection),
		sessions:  make(map[string]uint64),
		admission: NewAdmission(cfg.MaxConnections, cfg.MaxBandwidth),
		feeds:     feeds,
		ports:     newPortAllocator(cfg.RTPPortMin, cfg.RTPPortMax),
		metrics:   m,
		now:       now,
		startedAt: now,
		wake:      func() {},
		logger:    slog.With("component", "media"),
	}
}

func (st *ServerState) nextID() uint64 {
	st.lastID++
	return st.lastID
}

func (st *ServerState) register(c *Connection) {
	st.conns[c.id] = c
	st.order = append(st.order, c.id)
	st.metrics.SetConnections(st.admission.Connections())
	st.metrics.SetBandwidth(st.admission.Bandwidth())
}

// Connection returns a registered connection by id.
func (st *ServerState) Connection(id uint64) (*Connection, bool) {
	c, ok := st.conns[id]
	return c, ok
}

// pollDelay is how long the loop may sleep when nothing wakes it.
func (st *ServerState) pollDelay() time.Duration {
	for _, c := range st.conns {
		if c.packetized && c.state.sending() {
			return pacingDelay
		}
	}
	return idleDelay
}

func (st *ServerState) isReady(c *Connection) bool {
	switch c.interest() {
	case interestRead:
		return c.sock != nil && c.sock.Readable()
	case interestWrite:
		return c.sock != nil && c.sock.Writable()
	case interestTick:
		return true
	}
	return false
}

// tick runs one loop iteration: readiness snapshot, one handler call per
// connection in registration order, then at most one accept per listener.
func (st *ServerState) tick(now time.Time) {
	st.now = now

	ids := slices.Clone(st.order)
	for _, id := range ids {
		c := st.conns[id]
		c.ready = st.isReady(c)
	}
	for _, id := range ids {
		c, ok := st.conns[id]
		if !ok {
			// 이번 틱에서 이미 제거됨
			continue
		}
		if err := st.handle(c); err != nil {
			st.destroy(c, err)
		}
	}

	st.acceptPending()

	if st.children != nil {
		st.children.relaunch(st)
	}
}

func (st *ServerState) handle(c *Connection) error {
	switch c.state {
	case StateWaitRequest, StateRtspWaitRequest:
		if st.now.After(c.deadline) {
			return ErrRequestTimeout
		}
		if c.ready {
			if err := c.fill(); err != nil {
				return err
			}
		} else if len(c.in) == 0 {
			return nil
		}
		if c.proto == ProtoRTSP {
			return st.handleRTSPRequest(c)
		}
		return st.handleHTTPRequest(c)

	case StateSendHeader:
		if !c.ready {
			return nil
		}
		done, err := c.flush()
		if err != nil || !done {
			return err
		}
		if c.closeAfterReply {
			return errFinished
		}
		c.state = StateSendDataHeader
		return nil

	case StateSendDataHeader, StateSendData, StateSendDataTrailer:
		if !c.ready {
			return nil
		}
		return st.sendData(c)

	case StateReceiveData:
		if !c.ready {
			return nil
		}
		return st.receiveData(c)

	case StateWaitFeed:
		// 대기 중에는 I/O 없음. 소켓 오류만 감지
		if c.sock == nil || !c.ready {
			return nil
		}
		return c.discardInput()

	case StateReady:
		// 설정만 하고 PLAY 하지 않은 세션
		if c.session != nil && c.session.kind != rtsp.TransportUDPMulticast && st.now.After(c.deadline) {
			return ErrSessionTimeout
		}
		return nil

	case StateRtspSendReply, StateRtspSendPacket:
		if !c.ready {
			return nil
		}
		done, err := c.flush()
		if err != nil || !done {
			return err
		}
		if c.closeAfterReply {
			return errFinished
		}
		c.state = StateRtspWaitRequest
		c.deadline = st.now.Add(rtspRequestTimeout)
		return nil
	}
	return nil
}

// discardInput drops unexpected client bytes and reports a closed peer.
func (c *Connection) discardInput() error {
	var buf [512]byte
	for {
		_, err := c.sock.Read(buf[:])
		if err == errWouldBlock {
			return nil
		}
		if err != nil {
			return ErrPeerClosed
		}
	}
}

// acceptPending takes at most one queued socket from each listener.
func (st *ServerState) acceptPending() {
	for _, l := range st.listeners {
		select {
		case a := <-l.queue:
			st.newConnection(l.proto, a)
		default:
		}
	}
}

func (st *ServerState) newConnection(proto Protocol, a accepted) {
	sock := a.sock
	if sock == nil {
		sock = newNetSocket(a.conn, st.wake)
	}
	if !st.admission.TryConnection() {
		st.metrics.AdmissionRejected("connections")
		st.logger.Warn("Connection refused, too many connections", "remote", a.remote, "proto", proto)
		switch proto {
		case ProtoHTTP:
			sock.Write(tooBusyReply(st.admission.MaxConnections()))
		case ProtoRTSP:
			sock.Write([]byte("RTSP/1.0 503 Service Unavailable\r\n\r\n"))
		}
		sock.Close()
		return
	}

	c := &Connection{
		id:      st.nextID(),
		sock:    sock,
		remote:  a.remote,
		proto:   proto,
		created: st.now,
		counted: true,
	}
	c.logger = slog.With("connId", c.id, "remote", a.remote.String(), "proto", proto.String())

	switch proto {
	case ProtoRTSP:
		c.state = StateRtspWaitRequest
		c.deadline = st.now.Add(rtspRequestTimeout)
	case ProtoSRT:
		if err := st.startSRTReceive(c, a.streamID); err != nil {
			c.logger.Warn("SRT feed refused", "streamId", a.streamID, "err", err)
			st.admission.ReleaseConnection()
			sock.Close()
			return
		}
	default:
		c.state = StateWaitRequest
		c.deadline = st.now.Add(httpRequestTimeout)
	}
	st.register(c)
	c.logger.Debug("New connection", "state", c.state)
}

// destroy removes c from the registry and releases everything it holds.
// It is safe to call more than once.
func (st *ServerState) destroy(c *Connection, cause error) {
	if c.destroyed {
		return
	}
	c.destroyed = true

	switch {
	case cause == nil, errors.Is(cause, errFinished):
		c.logger.Debug("Connection finished", "state", c.state, "bytes", c.dataCount)
	case errors.Is(cause, ErrPeerClosed):
		c.logger.Info("Connection closed by peer", "state", c.state, "bytes", c.dataCount)
	default:
		c.logger.Warn("Connection closed", "state", c.state, "bytes", c.dataCount, "err", cause)
	}

	if c.state == StateWaitFeed {
		st.leaveWaitFeed(c)
	}
	delete(st.conns, c.id)
	st.order = slices.DeleteFunc(st.order, func(id uint64) bool { return id == c.id })

	// RTSP 제어 연결 역참조 정리
	for _, o := range st.conns {
		if o.session != nil && o.session.control == c.id {
			o.session.control = 0
		}
	}
	if c.session != nil {
		if st.sessions[c.session.id] == c.id {
			delete(st.sessions, c.session.id)
		}
		c.session.close()
	}

	if c.src != nil {
		utils.CloseWithLog(c.src)
		c.src = nil
	}
	if c.sock != nil {
		c.sock.Close()
	}

	if c.charged {
		st.admission.ReleaseBandwidth(c.bandwidth)
		c.charged = false
	}
	if c.counted {
		st.admission.ReleaseConnection()
		c.counted = false
	}

	if c.feed != nil && c.feed.opened && c.feed.writer == c.id {
		c.feed.opened = false
		c.feed.writer = 0
		st.wakeWaiters(c.feed, StateSendDataTrailer)
		c.logger.Info("Feed closed", "feed", c.feed.stream.Name, "records", c.feed.records)
	}

	if c.method != "" && c.proto == ProtoHTTP {
		st.accessLog.write(c, st.now)
	}
	st.metrics.SetConnections(st.admission.Connections())
	st.metrics.SetBandwidth(st.admission.Bandwidth())
}

// closeAll tears every connection down in registration order.
func (st *ServerState) closeAll() {
	for _, id := range slices.Clone(st.order) {
		if c, ok := st.conns[id]; ok {
			st.destroy(c, ErrServerStopped)
		}
	}
}

// MediaServer runs the event loop and the listener goroutines around one
// ServerState.
type MediaServer struct {
	state     *ServerState
	wake      chan struct{}
	snapshots chan chan Snapshot
	srt       *srtServer
	nowFunc   func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMediaServer opens the feeds of cat and prepares the loop. Listeners are
// bound by Start.
func NewMediaServer(cfg Config, cat *catalog.Catalog, m *metrics.Collectors) (*MediaServer, error) {
	feeds, err := BuildFeeds(cat)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &MediaServer{
		wake:      make(chan struct{}, 1),
		snapshots: make(chan chan Snapshot),
		nowFunc:   time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.state = newServerState(cfg, cat, feeds, m, s.nowFunc())
	s.state.wake = s.signal
	s.state.children = newChildLauncher(cfg.NoLaunch, cfg.Debug, cfg.ChildMinLifetime)
	for _, feed := range feeds {
		m.AddFeedRecords(feed.stream.Name, 0)
	}
	return s, nil
}

// Name identifies the server in application logs.
func (s *MediaServer) Name() string { return "media" }

func (s *MediaServer) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start binds the listeners, starts multicast sessions and feed children,
// then runs the event loop in the background.
func (s *MediaServer) Start() error {
	slog.Info("Media server starting...")
	st := s.state

	if path := st.cfg.AccessLogPath; path != "" {
		al, err := openAccessLog(path)
		if err != nil {
			return err
		}
		st.accessLog = al
	}

	for _, spec := range []struct {
		proto Protocol
		addr  string
	}{
		{ProtoHTTP, st.cfg.HTTPAddr},
		{ProtoRTSP, st.cfg.RTSPAddr},
	} {
		if spec.addr == "" {
			continue
		}
		ln, err := net.Listen("tcp", spec.addr)
		if err != nil {
			s.closeListeners()
			return fmt.Errorf("failed to listen %s on %s: %w", spec.proto, spec.addr, err)
		}
		l := &listener{proto: spec.proto, ln: ln, queue: make(chan accepted, acceptQueueSize)}
		st.listeners = append(st.listeners, l)
		s.wg.Add(1)
		go s.acceptLoop(l)
		slog.Info("Listener started", "proto", spec.proto, "addr", ln.Addr().String())
	}

	if st.cfg.SRTAddr != "" {
		srt, err := newSRTServer(st.cfg.SRTAddr, st.cfg.SRTLatency)
		if err != nil {
			s.closeListeners()
			return err
		}
		s.srt = srt
		st.listeners = append(st.listeners, srt.listener)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			srt.acceptLoop(s.ctx, s.signal)
		}()
		slog.Info("Listener started", "proto", ProtoSRT, "addr", st.cfg.SRTAddr)
	}

	st.now = s.nowFunc()
	if err := st.startMulticast(); err != nil {
		s.closeListeners()
		st.closeAll()
		return err
	}
	st.children.start(s.ctx, st)

	s.wg.Add(1)
	go s.eventLoop()
	return nil
}

// Stop cancels the loop and waits for every goroutine it owns.
func (s *MediaServer) Stop() {
	slog.Info("Stopping Media Server...")
	s.cancel()
	s.wg.Wait()
	slog.Info("Media Server stopped successfully")
}

func (s *MediaServer) acceptLoop(l *listener) {
	defer s.wg.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("Accept failed", "proto", l.proto, "err", err)
			continue
		}
		a := accepted{conn: conn, remote: addrPort(conn.RemoteAddr())}
		select {
		case l.queue <- a:
			s.signal()
		case <-s.ctx.Done():
			conn.Close()
			return
		}
	}
}

func (s *MediaServer) eventLoop() {
	defer s.wg.Done()

	timer := time.NewTimer(idleDelay)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.state.pollDelay())

		select {
		case <-s.ctx.Done():
			s.shutdown()
			return
		case <-s.wake:
		case <-timer.C:
		case reply := <-s.snapshots:
			s.state.now = s.nowFunc()
			reply <- s.state.snapshot()
		case ex := <-s.state.children.exits:
			s.state.now = s.nowFunc()
			s.state.childExited(ex)
		}

		s.state.tick(s.nowFunc())
	}
}

func (s *MediaServer) closeListeners() {
	for _, l := range s.state.listeners {
		if l.ln != nil {
			l.ln.Close()
		}
	}
	if s.srt != nil {
		s.srt.close()
	}
}

func (s *MediaServer) shutdown() {
	slog.Info("Media event loop stopping...")
	st := s.state

	s.closeListeners()
	slog.Info("Listeners closed")

	// 큐에 남은 소켓 정리
	for _, l := range st.listeners {
		for {
			select {
			case a := <-l.queue:
				if a.conn != nil {
					a.conn.Close()
				}
				continue
			default:
			}
			break
		}
	}

	st.closeAll()
	st.children.stopAll()
	closeFeeds(st.feeds)
	if st.accessLog != nil {
		utils.CloseWithLog(st.accessLog)
	}
	slog.Info("All connections closed")
}

// listener is an accept queue filled by a goroutine and drained by the loop.
type listener struct {
	proto Protocol
	ln    net.Listener
	queue chan accepted
}

type accepted struct {
	conn     net.Conn
	sock     socket
	remote   netip.AddrPort
	streamID string
}
