package media

import (
	"errors"
	"net"

	"github.com/bluenviron/gortsplib/v4/pkg/base"

	"feedcast/pkg/catalog"
	"feedcast/pkg/rtsp"
)

// rtspReply is a reply under construction.
type rtspReply struct {
	code    base.StatusCode
	session string
	header  base.Header
	body    []byte
}

func replyStatus(code base.StatusCode) rtspReply {
	return rtspReply{code: code}
}

func (st *ServerState) handleRTSPRequest(c *Connection) error {
	// 클라이언트가 보낸 interleaved RTCP 프레임은 무시
	for len(c.in) >= rtsp.InterleavedHeaderSize && c.in[0] == '$' {
		n := rtsp.InterleavedHeaderSize + (int(c.in[2])<<8 | int(c.in[3]))
		if len(c.in) < n {
			return nil
		}
		c.in = c.in[n:]
	}
	if len(c.in) == 0 {
		return nil
	}

	req, n, err := rtsp.ReadRequest(c.in)
	switch {
	case errors.Is(err, rtsp.ErrIncomplete):
		if len(c.in) >= maxRequestSize {
			return ErrRequestTooLarge
		}
		return nil
	case errors.Is(err, rtsp.ErrUnsupportedVersion):
		c.in = c.in[n:]
		c.method = string(req.Method)
		return st.queueRTSPReply(c, rtsp.CSeq(req), replyStatus(base.StatusRTSPVersionNotSupported))
	case err != nil:
		c.logger.Warn("Bad RTSP request", "err", err)
		c.in = c.in[n:]
		c.closeAfterReply = true
		return st.queueRTSPReply(c, rtsp.CSeq(req), replyStatus(base.StatusBadRequest))
	}
	c.in = c.in[n:]
	c.method = string(req.Method)
	if req.URL != nil {
		c.url = req.URL.String()
	}
	c.version = rtsp.Version
	c.logger.Debug("RTSP request", "method", req.Method, "url", c.url)

	var r rtspReply
	teardown := (*Connection)(nil)
	switch req.Method {
	case base.Options:
		r = replyStatus(base.StatusOK)
		r.header = base.Header{"Public": base.HeaderValue{rtsp.PublicMethods}}
	case base.Describe:
		r = st.rtspDescribe(c, req)
	case base.Setup:
		r = st.rtspSetup(c, req)
	case base.Play:
		r = st.rtspPlay(req)
	case base.Pause:
		r, _ = st.rtspInterrupt(req, true)
	case base.Teardown:
		r, teardown = st.rtspInterrupt(req, false)
	default:
		r = replyStatus(base.StatusMethodNotAllowed)
	}
	if err := st.queueRTSPReply(c, rtsp.CSeq(req), r); err != nil {
		return err
	}
	if teardown != nil {
		st.destroy(teardown, errFinished)
	}
	return nil
}

func (st *ServerState) queueRTSPReply(c *Connection, cseq int, r rtspReply) error {
	b, err := rtsp.Reply(r.code, cseq, r.session, r.header, r.body)
	if err != nil {
		return err
	}
	c.status = int(r.code)
	c.queue(b)
	c.state = StateRtspSendReply
	return nil
}

// resolveRTP finds the RTP stream a request path refers to, together with
// the substream index (-1 for the aggregate URL).
func (st *ServerState) resolveRTP(path string) (*catalog.Stream, int, bool) {
	for _, s := range st.catalog.Streams {
		if s.Kind != catalog.KindLive || s.IsFeed() || !s.IsRTP() {
			continue
		}
		if idx, ok := rtsp.SubstreamIndex(path, s.Name, len(s.Streams)); ok {
			return s, idx, true
		}
	}
	return nil, 0, false
}

func (st *ServerState) rtspDescribe(c *Connection, req *base.Request) rtspReply {
	s, idx, ok := st.resolveRTP(rtsp.Path(req))
	if !ok || idx >= 0 {
		return replyStatus(base.StatusNotFound)
	}
	if !catalog.CheckACL(s, c.remote.Addr()) {
		return replyStatus(base.StatusForbidden)
	}
	sdp, err := rtsp.BuildSDP(s)
	if err != nil {
		c.logger.Error("Failed to build SDP", "stream", s.Name, "err", err)
		return replyStatus(base.StatusInternalServerError)
	}
	r := replyStatus(base.StatusOK)
	r.header = base.Header{
		"Content-Base": base.HeaderValue{req.URL.String() + "/"},
		"Content-Type": base.HeaderValue{"application/sdp"},
	}
	r.body = sdp
	return r
}

func (st *ServerState) rtspSetup(c *Connection, req *base.Request) rtspReply {
	s, idx, ok := st.resolveRTP(rtsp.Path(req))
	if !ok {
		return replyStatus(base.StatusServiceUnavailable)
	}
	if idx < 0 {
		if len(s.Streams) != 1 {
			return replyStatus(rtsp.StatusAggregateNotAllowed)
		}
		idx = 0
	}
	if !catalog.CheckACL(s, c.remote.Addr()) {
		return replyStatus(base.StatusForbidden)
	}

	offers, err := rtsp.ParseTransports(req.Header["Transport"])
	if err != nil {
		return replyStatus(base.StatusUnsupportedTransport)
	}

	id := rtsp.SessionID(req)
	if id == "" {
		id = rtsp.NewSessionID()
	}
	rc := st.FindSession(id)
	created := false
	if rc == nil {
		_, kind, err := rtsp.SelectTransport(offers, s.IsMulticast())
		if err != nil {
			return replyStatus(base.StatusUnsupportedTransport)
		}
		if kind == rtsp.TransportUDPMulticast {
			return st.joinMulticast(s, idx)
		}
		rc, err = st.CreateSession(c.remote, s, id, kind)
		if err != nil {
			c.logger.Warn("RTP session refused", "stream", s.Name, "err", err)
			return replyStatus(base.StatusNotEnoughBandwidth)
		}
		if err := st.openSource(rc); err != nil {
			c.logger.Warn("Failed to open input", "stream", s.Name, "err", err)
			st.destroy(rc, err)
			return replyStatus(base.StatusInternalServerError)
		}
		created = true
	}

	if rc.stream != s {
		return replyStatus(base.StatusServiceUnavailable)
	}
	if rc.session.kind == rtsp.TransportUDPMulticast {
		return st.joinMulticast(s, idx)
	}
	if rc.session.substream(idx) != nil {
		return replyStatus(base.StatusMethodNotValidInThisState)
	}
	rc.deadline = st.now.Add(rtpSessionTimeout)

	// 이번 요청에서 만든 세션은 실패 시 제거
	fail := func(code base.StatusCode, cause error) rtspReply {
		if created {
			st.destroy(rc, cause)
		}
		return replyStatus(code)
	}

	t, ok := rtsp.FindTransport(offers, rc.session.kind)
	if !ok {
		return fail(base.StatusUnsupportedTransport, rtsp.ErrUnsupportedTransport)
	}

	sub := newRTPSubstream(rc, idx)
	r := replyStatus(base.StatusOK)
	r.session = id
	switch rc.session.kind {
	case rtsp.TransportTCP:
		sub.channel = idx * 2
		rc.session.control = c.id
		r.header = base.Header{"Transport": rtsp.InterleavedReply([2]int{sub.channel, sub.channel + 1})}
	case rtsp.TransportUDP:
		out, err := st.ports.openUnicast(c.remote.Addr(), *t.ClientPorts)
		if err != nil {
			c.logger.Warn("Failed to open RTP ports", "err", err)
			return fail(base.StatusUnsupportedTransport, err)
		}
		sub.out = out
		r.header = base.Header{"Transport": rtsp.UnicastReply(*t.ClientPorts, out.serverPorts())}
	default:
		return fail(base.StatusUnsupportedTransport, rtsp.ErrUnsupportedTransport)
	}
	rc.session.subs[idx] = sub
	rc.logger.Info("Substream set up", "stream", s.Name, "substream", idx)
	return r
}

// joinMulticast points a client at the permanent multicast session of s.
func (st *ServerState) joinMulticast(s *catalog.Stream, idx int) rtspReply {
	mc := st.multicastSession(s)
	if mc == nil {
		return replyStatus(base.StatusServiceUnavailable)
	}
	r := replyStatus(base.StatusOK)
	r.session = mc.session.id
	r.header = base.Header{
		"Transport": rtsp.MulticastReply(net.IP(s.MulticastAddr.AsSlice()), s.MulticastPort+2*idx, multicastTTL(s)),
	}
	return r
}

func (st *ServerState) rtspPlay(req *base.Request) rtspReply {
	rc := st.FindSessionByURL(rtsp.Path(req), rtsp.SessionID(req))
	if rc == nil {
		return replyStatus(base.StatusSessionNotFound)
	}
	switch rc.state {
	case StateSendData, StateWaitFeed, StateReady:
	default:
		return replyStatus(base.StatusMethodNotValidInThisState)
	}
	if rc.state == StateWaitFeed {
		st.leaveWaitFeed(rc)
	}
	if rc.state != StateSendData {
		rc.logger.Info("Session playing")
	}
	rc.state = StateSendData
	r := replyStatus(base.StatusOK)
	r.session = rc.session.id
	return r
}

// rtspInterrupt handles PAUSE and TEARDOWN. For TEARDOWN it returns the
// session to destroy once the reply is queued.
func (st *ServerState) rtspInterrupt(req *base.Request, pause bool) (rtspReply, *Connection) {
	rc := st.FindSessionByURL(rtsp.Path(req), rtsp.SessionID(req))
	if rc == nil {
		return replyStatus(base.StatusSessionNotFound), nil
	}
	r := replyStatus(base.StatusOK)
	r.session = rc.session.id

	if pause {
		switch rc.state {
		case StateSendData, StateWaitFeed:
		default:
			return replyStatus(base.StatusMethodNotValidInThisState), nil
		}
		if rc.state == StateWaitFeed {
			st.leaveWaitFeed(rc)
		}
		rc.state = StateReady
		rc.hasFirstPTS = false
		rc.deadline = st.now.Add(rtpSessionTimeout)
		rc.logger.Info("Session paused")
		return r, nil
	}
	if rc.session.kind == rtsp.TransportUDPMulticast {
		// 멀티캐스트 세션은 서버가 소유
		return r, nil
	}
	return r, rc
}
