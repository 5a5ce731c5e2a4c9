package rtsp

import (
	"strconv"
	"time"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/headers"
)

// ServerName is sent in the Server header of every reply.
const ServerName = "feedcast"

// PublicMethods 는 OPTIONS 응답의 Public 헤더 값
const PublicMethods = "OPTIONS, DESCRIBE, SETUP, TEARDOWN, PLAY, PAUSE"

// StatusAggregateNotAllowed is sent for a SETUP of a multi-substream
// aggregate URL.
const StatusAggregateNotAllowed base.StatusCode = 459

const dateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Reply marshals a response carrying CSeq, Date and Server, plus Session when
// session is not empty. hdr may be nil.
func Reply(code base.StatusCode, cseq int, session string, hdr base.Header, body []byte) ([]byte, error) {
	h := base.Header{}
	for k, v := range hdr {
		h[k] = v
	}
	h["CSeq"] = base.HeaderValue{strconv.Itoa(cseq)}
	h["Date"] = base.HeaderValue{time.Now().UTC().Format(dateFormat)}
	h["Server"] = base.HeaderValue{ServerName}
	if session != "" {
		h["Session"] = headers.Session{Session: session}.Marshal()
	}

	res := base.Response{
		StatusCode: code,
		Header:     h,
		Body:       body,
	}
	if code == StatusAggregateNotAllowed {
		res.StatusMessage = "Aggregate operation not allowed"
	}
	return res.Marshal()
}
