package rtsp

import (
	"strconv"
	"strings"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/headers"
	"github.com/google/uuid"
)

// NewSessionID returns a random session id of 32 hex characters.
func NewSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SessionID returns the id carried by the request's Session header.
func SessionID(req *base.Request) string {
	v, ok := req.Header["Session"]
	if !ok {
		return ""
	}
	var s headers.Session
	if err := s.Unmarshal(v); err != nil {
		return ""
	}
	return s.Session
}

// SubstreamIndex resolves a request path against a stream name. It returns
// -1 for the aggregate URL and N for "name/streamid=N".
func SubstreamIndex(path, name string, substreams int) (int, bool) {
	if path == name {
		return -1, true
	}
	rest, ok := strings.CutPrefix(path, name+"/")
	if !ok {
		return 0, false
	}
	if rest == "" {
		return -1, true
	}
	id, ok := strings.CutPrefix(rest, "streamid=")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(id)
	if err != nil || n < 0 || n >= substreams {
		return 0, false
	}
	return n, true
}

// MatchesStream reports whether path names the stream or one of its
// substream URLs.
func MatchesStream(path, name string, substreams int) bool {
	_, ok := SubstreamIndex(path, name, substreams)
	return ok
}
