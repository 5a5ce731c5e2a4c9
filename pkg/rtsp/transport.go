package rtsp

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/headers"
)

// TransportKind RTP 전송 방식
type TransportKind int

const (
	TransportUDP TransportKind = iota
	TransportUDPMulticast
	TransportTCP
)

// String returns the label shown on the status page.
func (k TransportKind) String() string {
	switch k {
	case TransportUDP:
		return "RTP/UDP"
	case TransportUDPMulticast:
		return "RTP/MCAST"
	case TransportTCP:
		return "RTP/TCP"
	default:
		return "RTP/???"
	}
}

// ParseTransports decodes a Transport header.
func ParseTransports(v base.HeaderValue) (headers.Transports, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: missing Transport header", ErrUnsupportedTransport)
	}
	var ts headers.Transports
	if err := ts.Unmarshal(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedTransport, err)
	}
	return ts, nil
}

func kindOf(t headers.Transport) TransportKind {
	if t.Protocol == headers.TransportProtocolTCP {
		return TransportTCP
	}
	if t.Delivery != nil && *t.Delivery == headers.TransportDeliveryMulticast {
		return TransportUDPMulticast
	}
	return TransportUDP
}

func usable(t headers.Transport, kind TransportKind) bool {
	if t.Mode != nil && *t.Mode == headers.TransportModeRecord {
		return false
	}
	return kind != TransportUDP || t.ClientPorts != nil
}

// FindTransport returns the first usable offer of the given kind.
func FindTransport(ts headers.Transports, kind TransportKind) (headers.Transport, bool) {
	for _, t := range ts {
		if kindOf(t) == kind && usable(t, kind) {
			return t, true
		}
	}
	return headers.Transport{}, false
}

// SelectTransport picks among the client's offers: UDP unicast first, then
// UDP multicast when the stream has a group, then TCP interleaved.
func SelectTransport(ts headers.Transports, multicast bool) (headers.Transport, TransportKind, error) {
	order := []TransportKind{TransportUDP, TransportUDPMulticast, TransportTCP}
	for _, kind := range order {
		if kind == TransportUDPMulticast && !multicast {
			continue
		}
		if t, ok := FindTransport(ts, kind); ok {
			return t, kind, nil
		}
	}
	for _, t := range ts {
		if kindOf(t) == TransportUDP && t.ClientPorts == nil {
			return headers.Transport{}, 0, ErrNoClientPorts
		}
	}
	return headers.Transport{}, 0, ErrUnsupportedTransport
}

// UnicastReply is the Transport header answering a UDP unicast SETUP.
func UnicastReply(clientPorts, serverPorts [2]int) base.HeaderValue {
	de := headers.TransportDeliveryUnicast
	return headers.Transport{
		Protocol:    headers.TransportProtocolUDP,
		Delivery:    &de,
		ClientPorts: &clientPorts,
		ServerPorts: &serverPorts,
	}.Marshal()
}

// MulticastReply is the Transport header pointing a client at a group.
func MulticastReply(group net.IP, port, ttl int) base.HeaderValue {
	de := headers.TransportDeliveryMulticast
	t := uint(ttl)
	return headers.Transport{
		Protocol:    headers.TransportProtocolUDP,
		Delivery:    &de,
		Destination: &group,
		Ports:       &[2]int{port, port + 1},
		TTL:         &t,
	}.Marshal()
}

// InterleavedReply is the Transport header for RTP over the RTSP connection.
func InterleavedReply(channels [2]int) base.HeaderValue {
	de := headers.TransportDeliveryUnicast
	return headers.Transport{
		Protocol:       headers.TransportProtocolTCP,
		Delivery:       &de,
		InterleavedIDs: &channels,
	}.Marshal()
}

// InterleavedHeaderSize '$' + channel + 2바이트 길이
const InterleavedHeaderSize = 4

// InterleavedFrame prefixes payload for transmission on the RTSP connection.
func InterleavedFrame(channel int, payload []byte) []byte {
	frame := make([]byte, InterleavedHeaderSize+len(payload))
	frame[0] = '$'
	frame[1] = byte(channel)
	binary.BigEndian.PutUint16(frame[2:], uint16(len(payload)))
	copy(frame[InterleavedHeaderSize:], payload)
	return frame
}
