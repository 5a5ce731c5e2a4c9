package media

import "errors"

var (
	ErrFeedBusy           = errors.New("feed is already being received")
	ErrFeedReadOnly       = errors.New("feed is read-only")
	ErrFeedDesync         = errors.New("feed stream has become desynchronized")
	ErrFeedHeaderMismatch = errors.New("feed header does not match configured streams")
	ErrRequestTooLarge    = errors.New("request exceeds buffer without terminator")
	ErrRequestTimeout     = errors.New("request timeout")
	ErrBadRequest         = errors.New("malformed request")
	ErrMethodNotAllowed   = errors.New("unsupported method")
	ErrBadProtocol        = errors.New("unsupported protocol version")
	ErrPeerClosed         = errors.New("connection closed by peer")
	ErrControlGone        = errors.New("rtsp control connection gone")
	ErrTooManyConnections = errors.New("too many connections")
	ErrBandwidthExceeded  = errors.New("bandwidth limit exceeded")
	ErrNoPorts            = errors.New("no free rtp port pair")
	ErrServerStopped      = errors.New("media server stopped")
	ErrSessionTimeout     = errors.New("rtp session timed out before play")
	ErrChildExited        = errors.New("feed child exited")

	// errFinished ends a connection without reporting a failure.
	errFinished = errors.New("connection finished")
)
