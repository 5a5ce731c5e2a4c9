package media

import (
	"bufio"
	"bytes"
	"fmt"
	"html"
	"math/rand"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"feedcast/pkg/catalog"
	"feedcast/pkg/ffm"
	"feedcast/pkg/rtsp"
)

const defaultMimeType = "application/x-octet-stream"

// requestEnd returns the length of the request head including its blank
// line terminator, or -1 while it is incomplete.
func requestEnd(buf []byte) int {
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))
	lf := bytes.Index(buf, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf + 4
	case lf >= 0:
		return lf + 2
	}
	return -1
}

func httpPage(code int, reason string, hdr []string, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.0 %d %s\r\n", code, reason)
	for _, h := range hdr {
		b.WriteString(h)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func httpErrorPage(code int, msg string) []byte {
	reason := http.StatusText(code)
	body := fmt.Sprintf("<html>\n<head><title>%d %s</title></head>\n<body>%s</body>\n</html>\n",
		code, reason, html.EscapeString(msg))
	return httpPage(code, reason, []string{"Content-type: text/html"}, body)
}

func tooBusyReply(maxConnections int) []byte {
	body := "<html><head><title>Too busy</title></head><body>\r\n" +
		"<p>The server is too busy to serve your request at this time.</p>\r\n" +
		fmt.Sprintf("<p>The number of current connections is %d, and this exceeds the limit of %d.</p>\r\n", maxConnections, maxConnections) +
		"</body></html>\r\n"
	return httpPage(http.StatusServiceUnavailable, "Server too busy", []string{"Content-type: text/html"}, body)
}

func bandwidthBusyReply(current, limit int) []byte {
	body := "<html><head><title>Too busy</title></head><body>\r\n" +
		"<p>The server is too busy to serve your request at this time.</p>\r\n" +
		fmt.Sprintf("<p>The bandwidth being served (including your stream) is %dkbit/s, and this exceeds the limit of %dkbit/s.</p>\r\n", current, limit) +
		"</body></html>\r\n"
	return httpPage(http.StatusServiceUnavailable, "Server too busy", []string{"Content-type: text/html"}, body)
}

// replyOnce queues a complete one-shot response; the connection is destroyed
// once it has drained.
func (c *Connection) replyOnce(code int, page []byte) {
	c.status = code
	c.closeAfterReply = true
	c.out = page
	c.state = StateSendHeader
}

func (c *Connection) replyError(code int, msg string) {
	c.replyOnce(code, httpErrorPage(code, msg))
}

func (st *ServerState) handleHTTPRequest(c *Connection) error {
	end := requestEnd(c.in)
	if end < 0 {
		if len(c.in) >= maxRequestSize {
			return ErrRequestTooLarge
		}
		return nil
	}
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(c.in[:end])))
	c.in = append([]byte(nil), c.in[end:]...)
	if err != nil {
		c.logger.Warn("Bad HTTP request", "err", fmt.Errorf("%w: %v", ErrBadRequest, err))
		c.replyError(http.StatusBadRequest, "Malformed request")
		return nil
	}
	c.method, c.url, c.version = req.Method, req.RequestURI, req.Proto

	if req.Proto != "HTTP/1.0" && req.Proto != "HTTP/1.1" {
		c.logger.Warn("Bad HTTP request", "err", fmt.Errorf("%w: %s", ErrBadProtocol, req.Proto))
		c.replyError(http.StatusHTTPVersionNotSupported, "Protocol '"+req.Proto+"' not supported")
		return nil
	}
	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		c.logger.Warn("Bad HTTP request", "err", fmt.Errorf("%w: %s", ErrMethodNotAllowed, req.Method))
		c.replyOnce(http.StatusMethodNotAllowed, httpPage(http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed),
			[]string{"Allow: GET, POST", "Content-type: text/html"}, "<html><body>Method '"+html.EscapeString(req.Method)+"' not supported</body></html>\r\n"))
		return nil
	}

	name := strings.TrimPrefix(req.URL.Path, "/")
	c.query = req.URL.RawQuery
	if name == "" {
		name = "index.html"
	}
	c.logger.Debug("HTTP request", "method", req.Method, "name", name, "query", c.query)

	if req.Method == http.MethodPost {
		if s, err := st.catalog.Resolve(name); err == nil && s.IsFeed() {
			if !catalog.CheckACL(s, c.remote.Addr()) {
				c.replyError(http.StatusForbidden, "Access to feed '"+name+"' denied")
				return nil
			}
			return st.startReceive(c, s, req)
		}
		st.handleStatusReport(c, req)
		return nil
	}

	s, helper, err := st.catalog.ResolveRedirect(name)
	if err != nil {
		c.replyError(http.StatusNotFound, "File '"+name+"' not found")
		return nil
	}
	if !catalog.CheckACL(s, c.remote.Addr()) {
		c.replyError(http.StatusForbidden, "Access to '"+name+"' denied")
		return nil
	}

	switch s.Kind {
	case catalog.KindRedirect:
		body := fmt.Sprintf("<html><head><title>Moved</title></head><body>\r\nYou should be <a href=\"%s\">redirected</a>.\r\n</body></html>\r\n",
			html.EscapeString(s.RedirectURL))
		c.replyOnce(http.StatusMovedPermanently, httpPage(http.StatusMovedPermanently, "Moved",
			[]string{"Location: " + s.RedirectURL, "Content-type: text/html"}, body))
		return nil
	case catalog.KindStatus:
		body, err := st.renderStatus()
		if err != nil {
			c.replyError(http.StatusInternalServerError, "Could not build status page")
			return nil
		}
		c.replyOnce(http.StatusOK, httpPage(http.StatusOK, "OK",
			[]string{"Content-type: text/html", "Pragma: no-cache"}, string(body)))
		return nil
	}

	if helper != "" || s.IsRTP() {
		st.replyRedirectHelper(c, req, s, helper)
		return nil
	}
	return st.startLiveHTTP(c, req, s)
}

// startLiveHTTP admits a GET for a live stream and queues its reply header.
func (st *ServerState) startLiveHTTP(c *Connection, req *http.Request, s *catalog.Stream) error {
	c.bindStream(s)
	if rates, ok := extractRates(req.Header, len(s.Streams)); ok && c.planSwitch(rates) {
		c.applySwitch()
	}

	bw := s.Bandwidth()
	if !st.admission.TryBandwidth(bw) {
		st.metrics.AdmissionRejected("bandwidth")
		c.logger.Warn("Bandwidth limit reached", "stream", s.Name, "kbps", bw)
		c.replyOnce(http.StatusServiceUnavailable,
			bandwidthBusyReply(st.admission.Bandwidth()+bw, st.admission.MaxBandwidth()))
		return nil
	}
	c.bandwidth = bw
	c.charged = true
	st.metrics.SetBandwidth(st.admission.Bandwidth())

	if err := st.openSource(c); err != nil {
		c.logger.Warn("Failed to open input", "stream", s.Name, "err", err)
		c.replyError(http.StatusNotFound, "Input stream corresponding to '"+s.Name+"' not found")
		return nil
	}

	mime := defaultMimeType
	if f := s.MuxFormat(); f != nil && f.MimeType != "" {
		mime = f.MimeType
	}
	c.wmpClientID = int(rand.Int31n(1 << 30))
	c.status = http.StatusOK
	c.out = httpPage(http.StatusOK, "OK", []string{
		"Pragma: no-cache",
		"Content-Type: " + mime,
		"Pragma: client-id=" + strconv.Itoa(c.wmpClientID),
	}, "")
	c.state = StateSendHeader
	s.ConnsServed++
	c.logger.Info("Streaming started", "stream", s.Name, "format", s.Format, "fromFeed", c.fromFeed)
	return nil
}

// replyRedirectHelper answers .asx/.ram/.asf/.rtsp/.sdp requests, and plain
// GETs of RTP streams with an rtsp:// reference.
func (st *ServerState) replyRedirectHelper(c *Connection, req *http.Request, s *catalog.Stream, helper string) {
	host := req.Host
	if host == "" {
		c.replyError(http.StatusNotFound, "ASX/RAM file not handled")
		return
	}
	hostname := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostname = h
	}
	ref := "http://" + host + "/" + s.Name
	if c.query != "" {
		ref += "?" + c.query
	}
	rtspURL := "rtsp://" + net.JoinHostPort(hostname, strconv.Itoa(st.rtspPort())) + "/" + s.Name

	var reason, mime, body string
	switch helper {
	case "asx":
		reason, mime = "ASX Follows", "video/x-ms-asf"
		body = fmt.Sprintf("<ASX Version=\"3\">\r\n<!-- Autogenerated by feedcast -->\r\n<ENTRY><REF HREF=\"%s\"/></ENTRY>\r\n</ASX>\r\n",
			html.EscapeString(ref))
	case "ram":
		reason, mime = "RAM Follows", "audio/x-pn-realaudio"
		body = "# Autogenerated by feedcast\r\n" + ref + "\r\n"
	case "asf":
		reason, mime = "ASF Redirect follows", "video/x-ms-asf"
		body = "[Reference]\r\nRef1=" + ref + "\r\n"
	case "sdp":
		if !s.IsRTP() {
			c.replyError(http.StatusNotFound, "Stream '"+s.Name+"' is not served over RTSP")
			return
		}
		sdp, err := rtsp.BuildSDP(s)
		if err != nil {
			c.replyError(http.StatusInternalServerError, "Could not build SDP")
			return
		}
		reason, mime, body = "OK", "application/sdp", string(sdp)
	default:
		// .rtsp 또는 RTP 스트림 직접 요청
		if st.cfg.RTSPAddr == "" || !s.IsRTP() {
			c.replyError(http.StatusNotFound, "Stream '"+s.Name+"' is not served over RTSP")
			return
		}
		reason, mime, body = "OK", "application/x-rtsp", rtspURL+"\r\n"
	}
	c.replyOnce(http.StatusOK, httpPage(http.StatusOK, reason, []string{"Content-Type: " + mime}, body))
}

func (st *ServerState) rtspPort() int {
	_, p, err := net.SplitHostPort(st.cfg.RTSPAddr)
	if err != nil {
		return 554
	}
	n, err := strconv.Atoi(p)
	if err != nil || n == 0 {
		return 554
	}
	return n
}

// handleStatusReport consumes a player status POST: it may carry a log line
// and a bitrate switch request for the player's streaming connection.
func (st *ServerState) handleStatusReport(c *Connection, req *http.Request) {
	for _, v := range req.Header.Values("Pragma") {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if line, ok := strings.CutPrefix(part, "log-line="); ok {
				c.logger.Info("Player log", "line", line)
			}
		}
	}
	if id, ok := pragmaClientID(req.Header); ok {
		if target := st.findClient(id); target != nil {
			if rates, ok := extractRates(req.Header, len(target.stream.Streams)); ok {
				st.RequestSubstreamSwitch(id, rates)
			}
		}
	}
	c.replyError(http.StatusNotFound, "POST command not handled")
}

// startReceive takes the feed's producer lock and moves c to ReceiveData.
func (st *ServerState) startReceive(c *Connection, s *catalog.Stream, req *http.Request) error {
	feed, ok := st.feeds[s]
	if !ok {
		c.replyError(http.StatusNotFound, "Could not open feed")
		return nil
	}
	if feed.opened {
		st.metrics.AdmissionRejected("feed_busy")
		c.logger.Warn("Feed refused", "feed", s.Name, "err", ErrFeedBusy)
		c.replyError(http.StatusServiceUnavailable, "Feed '"+s.Name+"' is already being received")
		return nil
	}
	if s.ReadOnly {
		c.logger.Warn("Feed refused", "feed", s.Name, "err", ErrFeedReadOnly)
		c.replyError(http.StatusNotFound, "Could not open feed")
		return nil
	}
	if s.Truncate {
		if err := feed.file.Truncate(); err != nil {
			c.logger.Error("Failed to truncate feed", "feed", s.Name, "err", err)
			c.replyError(http.StatusNotFound, "Could not open feed")
			return nil
		}
	}

	c.chunked = slices.Contains(req.TransferEncoding, "chunked") ||
		strings.EqualFold(req.Header.Get("Transfer-Encoding"), "chunked")
	c.status = http.StatusOK
	st.openFeed(c, feed)
	// 요청 헤더와 함께 도착한 본문 처리
	return st.consumeFeedInput(c)
}

// openFeed makes c the producer of feed.
func (st *ServerState) openFeed(c *Connection, feed *feedState) {
	feed.opened = true
	feed.writer = c.id
	c.feed = feed
	c.stream = feed.stream
	c.record = make([]byte, ffm.PacketSize)
	c.recordLen = 0
	c.dataCount = 0
	c.state = StateReceiveData
	c.logger.Info("Feed receiving", "feed", feed.stream.Name, "chunked", c.chunked)
	st.restartMulticast(feed)
}
