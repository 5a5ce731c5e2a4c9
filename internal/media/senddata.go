package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"feedcast/pkg/ffm"
	"feedcast/pkg/mux"
	"feedcast/pkg/rtsp"
)

const senderReportInterval = 5 * time.Second

// sendData pushes output of a sending connection. Packetized output is paced
// against the server clock; byte stream output goes out until the socket
// buffer is full.
func (st *ServerState) sendData(c *Connection) error {
	for {
		if len(c.out) == 0 {
			if err := st.prepareData(c); err != nil {
				return err
			}
			if !c.state.sending() {
				// WaitFeed 로 전환됨
				return nil
			}
			continue
		}

		if !c.packetized {
			n, err := c.sock.Write(c.out)
			if err == errWouldBlock {
				return nil
			}
			if err != nil {
				return err
			}
			c.out = c.out[n:]
			st.account(c, n)
			if len(c.out) > 0 {
				return nil
			}
			continue
		}

		sent, err := st.sendPacket(c)
		if err != nil || !sent {
			return err
		}
	}
}

// account charges n sent bytes to the connection and its stream.
func (st *ServerState) account(c *Connection, n int) {
	c.dataCount += int64(n)
	c.rate.update(st.now, c.dataCount)
	if c.stream != nil {
		c.stream.BytesServed += uint64(n)
		st.metrics.AddBytesSent(c.stream.Name, n)
	}
}

// sendPacket emits the next length-prefixed packet of c.out once it is due.
// It reports false when the packet has to wait.
func (st *ServerState) sendPacket(c *Connection) (bool, error) {
	if len(c.out) < mux.PacketPrefixSize {
		c.out = nil
		return true, nil
	}
	n := int(binary.BigEndian.Uint32(c.out))
	if n > len(c.out)-mux.PacketPrefixSize {
		// 잘못된 길이, 남은 버퍼 폐기
		c.out = nil
		return true, nil
	}
	if packetSendClock(c.curPTS, c.curFrameDuration, c.curFrameBytes, len(c.out)) > serverClock(st.now, c.startTime) {
		return false, nil
	}
	pkt := c.out[mux.PacketPrefixSize : mux.PacketPrefixSize+n]
	sub := c.session.substream(c.packetStream)
	if sub == nil {
		c.out = c.out[mux.PacketPrefixSize+n:]
		return true, nil
	}

	switch c.session.kind {
	case rtsp.TransportTCP:
		ctl, ok := st.conns[c.session.control]
		if !ok || c.session.control == 0 {
			return false, ErrControlGone
		}
		if ctl.state != StateRtspWaitRequest {
			// 제어 연결이 응답/패킷 전송 중이면 대기
			return false, nil
		}
		channel := sub.channel
		if isRTCP(pkt) {
			channel++
		}
		ctl.out = append(ctl.out[:0], rtsp.InterleavedFrame(channel, pkt)...)
		done, err := ctl.flush()
		if err != nil {
			st.destroy(ctl, err)
			return false, ErrControlGone
		}
		if !done {
			ctl.state = StateRtspSendPacket
		}
	default:
		if err := sub.out.write(pkt); err != nil {
			c.logger.Debug("RTP write failed", "substream", c.packetStream, "err", err)
		}
	}
	c.out = c.out[mux.PacketPrefixSize+n:]
	st.account(c, n)
	return true, nil
}

// isRTCP reports whether an RTP/RTCP packet is a sender report.
func isRTCP(pkt []byte) bool {
	return len(pkt) > 1 && pkt[1] == 200
}

// prepareData fills c.out with the next chunk of output. It changes state
// when the header is written, when the source runs dry, and at the end.
func (st *ServerState) prepareData(c *Connection) error {
	switch c.state {
	case StateSendDataHeader:
		return st.prepareHeader(c)
	case StateSendData:
		return st.preparePacket(c)
	case StateSendDataTrailer:
		if c.trailerWritten || c.packetized || c.muxer == nil {
			return errFinished
		}
		c.mbuf.Reset()
		if err := c.muxer.WriteTrailer(&c.mbuf); err != nil {
			return err
		}
		c.out = append([]byte(nil), c.mbuf.Bytes()...)
		c.trailerWritten = true
	}
	return nil
}

func (st *ServerState) prepareHeader(c *Connection) error {
	c.gotKey = false
	c.trailerWritten = false
	if c.packetized {
		// RTP 는 서브스트림별 패킷화기가 SETUP 에서 생성됨
		c.state = StateSendData
		return nil
	}
	f := c.stream.MuxFormat()
	if f == nil || f.New == nil {
		return fmt.Errorf("%w: %s", mux.ErrUnknownFormat, c.stream.Format)
	}
	m, err := f.New(c.outputParams())
	if err != nil {
		return err
	}
	c.muxer = m
	c.mbuf.Reset()
	if err := m.WriteHeader(&c.mbuf); err != nil {
		return err
	}
	c.out = append([]byte(nil), c.mbuf.Bytes()...)
	c.state = StateSendData
	return nil
}

// preparePacket reads packets until one maps to an output substream.
func (st *ServerState) preparePacket(c *Connection) error {
	s := c.stream
	if s.MaxTime > 0 && st.now.Sub(c.startTime) > time.Duration(s.MaxTime)*time.Millisecond {
		c.state = StateSendDataTrailer
		return nil
	}

	rewound := false
	for {
		pkt, err := c.src.ReadPacket()
		if err != nil {
			if !errors.Is(err, ffm.ErrNoData) {
				c.logger.Warn("Input read failed", "err", err)
				c.state = StateSendDataTrailer
				return nil
			}
			if c.fromFeed {
				st.enterWaitFeed(c)
				return nil
			}
			if fsrc, ok := c.src.(*fileSource); ok && fsrc.loop && !rewound {
				fsrc.rewind()
				rewound = true
				c.hasFirstPTS = false
				continue
			}
			c.state = StateSendDataTrailer
			return nil
		}

		if !c.hasFirstPTS {
			c.firstPTS = pkt.DTS
			c.startTime = st.now
			c.hasFirstPTS = true
		}

		out, ok := c.mapPacket(pkt.StreamIndex, pkt.IsKeyPacket())
		if !ok {
			continue
		}
		if s.SendOnKey && !c.gotKey {
			continue
		}
		pkt.StreamIndex = out

		c.mbuf.Reset()
		if c.packetized {
			sub := c.session.substream(out)
			if sub == nil {
				// SETUP 되지 않은 서브스트림
				continue
			}
			c.curPTS = pkt.DTS - c.firstPTS
			c.curFrameDuration = pkt.Duration
			c.packetStream = out
			pkt.StreamIndex = 0
			if err := sub.muxer.WritePacket(&c.mbuf, pkt); err != nil {
				return err
			}
			if st.now.Sub(sub.lastReport) >= senderReportInterval {
				if err := sub.appendSenderReport(&c.mbuf, st.now); err != nil {
					c.logger.Debug("Sender report failed", "err", err)
				}
			}
		} else if err := c.muxer.WritePacket(&c.mbuf, pkt); err != nil {
			return err
		}
		if c.mbuf.Len() == 0 {
			continue
		}
		c.out = append([]byte(nil), c.mbuf.Bytes()...)
		c.curFrameBytes = len(c.out)
		return nil
	}
}

// mapPacket translates a source substream index into an output index,
// applying any pending switch at a key frame of the new source substream.
func (c *Connection) mapPacket(src int, key bool) (int, bool) {
	s := c.stream
	if s.Feed == nil || s.IsFeed() {
		if src < 0 || src >= len(s.Streams) {
			return 0, false
		}
		c.noteKey(src, key)
		return src, true
	}

	if c.switchPending && key {
		c.completeSwitch(src)
	}
	for i, fi := range c.feedStreams {
		if fi == src {
			c.noteKey(i, key)
			return i, true
		}
	}
	return 0, false
}

// noteKey records the first key frame of a video substream, or of the only
// substream.
func (c *Connection) noteKey(out int, key bool) {
	if key && (len(c.stream.Streams) == 1 || c.substreamParams(out).IsVideo()) {
		c.gotKey = true
	}
}
