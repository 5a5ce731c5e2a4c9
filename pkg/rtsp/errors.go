package rtsp

import "errors"

var (
	// ErrIncomplete means the buffer does not yet hold a whole request.
	ErrIncomplete = errors.New("rtsp: incomplete request")

	ErrUnsupportedVersion   = errors.New("rtsp: unsupported protocol version")
	ErrBadRequest           = errors.New("rtsp: malformed request")
	ErrUnsupportedTransport = errors.New("rtsp: no supported transport")
	ErrNoClientPorts        = errors.New("rtsp: udp transport without client_port")
)
