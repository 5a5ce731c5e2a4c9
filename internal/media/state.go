package media

// ConnState 연결 상태
type ConnState int

const (
	StateWaitRequest ConnState = iota
	StateSendHeader
	StateSendDataHeader
	StateSendData
	StateSendDataTrailer
	StateReceiveData
	StateWaitFeed
	StateReady
	StateRtspWaitRequest
	StateRtspSendReply
	StateRtspSendPacket
)

var stateNames = [...]string{
	StateWaitRequest:     "HTTP_WAIT_REQUEST",
	StateSendHeader:      "HTTP_SEND_HEADER",
	StateSendDataHeader:  "SEND_DATA_HEADER",
	StateSendData:        "SEND_DATA",
	StateSendDataTrailer: "SEND_DATA_TRAILER",
	StateReceiveData:     "RECEIVE_DATA",
	StateWaitFeed:        "WAIT_FEED",
	StateReady:           "READY",
	StateRtspWaitRequest: "RTSP_WAIT_REQUEST",
	StateRtspSendReply:   "RTSP_SEND_REPLY",
	StateRtspSendPacket:  "RTSP_SEND_PACKET",
}

func (s ConnState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// sending reports whether the state belongs to the data sending path.
func (s ConnState) sending() bool {
	return s == StateSendDataHeader || s == StateSendData || s == StateSendDataTrailer
}

// Protocol 연결 프로토콜
type Protocol int

const (
	ProtoHTTP Protocol = iota
	ProtoRTSP
	ProtoRTP
	ProtoSRT
)

func (p Protocol) String() string {
	switch p {
	case ProtoHTTP:
		return "HTTP"
	case ProtoRTSP:
		return "RTSP"
	case ProtoRTP:
		return "RTP"
	case ProtoSRT:
		return "SRT"
	default:
		return "unknown"
	}
}

// interest is what a connection waits for in its current state.
type interest int

const (
	interestNone interest = iota
	interestRead
	interestWrite
	interestTick // packetized senders are paced by the loop timer
)

func (c *Connection) interest() interest {
	switch c.state {
	case StateWaitRequest, StateRtspWaitRequest, StateReceiveData, StateWaitFeed:
		return interestRead
	case StateSendHeader, StateRtspSendReply, StateRtspSendPacket:
		return interestWrite
	case StateSendDataHeader, StateSendData, StateSendDataTrailer:
		if c.packetized {
			return interestTick
		}
		return interestWrite
	}
	return interestNone
}
