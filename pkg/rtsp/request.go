package rtsp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
)

// Version is the only protocol version accepted on the request line.
const Version = "RTSP/1.0"

var headerTerminator = []byte("\r\n\r\n")

// HasRequest reports whether buf holds a complete header block.
func HasRequest(buf []byte) bool {
	return bytes.Contains(buf, headerTerminator)
}

// ReadRequest parses one request from the front of buf and returns it with
// the number of bytes consumed. The request line's version is checked before
// anything else; on ErrUnsupportedVersion and ErrBadRequest the returned
// request still carries the CSeq so a reply can be produced.
func ReadRequest(buf []byte) (*base.Request, int, error) {
	if !HasRequest(buf) {
		return nil, 0, ErrIncomplete
	}

	line := buf
	if i := bytes.IndexByte(buf, '\n'); i >= 0 {
		line = buf[:i]
	}
	fields := strings.Fields(string(line))
	if len(fields) != 3 {
		return &base.Request{Header: scanHeader(buf)}, headerEnd(buf), fmt.Errorf("%w: request line %q", ErrBadRequest, line)
	}
	if fields[2] != Version {
		req := &base.Request{
			Method: base.Method(fields[0]),
			Header: scanHeader(buf),
		}
		return req, headerEnd(buf), ErrUnsupportedVersion
	}

	r := bytes.NewReader(buf)
	br := bufio.NewReader(r)
	var req base.Request
	if err := req.Unmarshal(br); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// 본문이 아직 도착하지 않음
			return nil, 0, ErrIncomplete
		}
		return &base.Request{Method: base.Method(fields[0]), Header: scanHeader(buf)}, headerEnd(buf), fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	consumed := len(buf) - r.Len() - br.Buffered()
	return &req, consumed, nil
}

func headerEnd(buf []byte) int {
	if i := bytes.Index(buf, headerTerminator); i >= 0 {
		return i + len(headerTerminator)
	}
	return len(buf)
}

// scanHeader is a lenient header reader used when the request line cannot
// be handed to the strict parser.
func scanHeader(buf []byte) base.Header {
	h := base.Header{}
	lines := strings.Split(string(buf[:headerEnd(buf)]), "\n")
	for _, l := range lines[1:] {
		l = strings.TrimRight(l, "\r")
		if l == "" {
			break
		}
		k, v, ok := strings.Cut(l, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(k), "cseq") {
			h["CSeq"] = base.HeaderValue{strings.TrimSpace(v)}
		}
	}
	return h
}

// CSeq returns the request's sequence number, 0 when absent.
func CSeq(req *base.Request) int {
	if req == nil {
		return 0
	}
	v, ok := req.Header["CSeq"]
	if !ok || len(v) == 0 {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v[0]))
	if err != nil {
		return 0
	}
	return n
}

// Path returns the request URL path without the leading slash.
func Path(req *base.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	return strings.TrimPrefix(req.URL.Path, "/")
}
