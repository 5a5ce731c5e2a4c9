package media

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"feedcast/pkg/catalog"
	"feedcast/pkg/core"
	"feedcast/pkg/ffm"
)

// maxChunkLine bounds a chunk size line; longer garbage aborts the upload.
const maxChunkLine = 10

func (st *ServerState) receiveData(c *Connection) error {
	readErr := c.fill()
	if err := st.consumeFeedInput(c); err != nil {
		return err
	}
	return readErr
}

// consumeFeedInput moves buffered upload bytes into the record accumulator,
// decoding chunked transfer encoding when negotiated.
func (st *ServerState) consumeFeedInput(c *Connection) error {
	for len(c.in) > 0 {
		if c.chunked && c.chunkLeft == 0 {
			idx := bytes.IndexByte(c.in, '\n')
			if idx < 0 {
				if len(c.in) > maxChunkLine {
					return fmt.Errorf("%w: chunk size line too long", ErrBadRequest)
				}
				return nil
			}
			line := strings.TrimSpace(string(c.in[:idx]))
			c.in = c.in[idx+1:]
			if line == "" {
				// 이전 청크 데이터 뒤의 CRLF
				continue
			}
			size, err := parseChunkSize(line)
			if err != nil {
				return err
			}
			if size == 0 {
				return errFinished
			}
			c.chunkLeft = size
			continue
		}

		n := len(c.in)
		if c.chunked && n > c.chunkLeft {
			n = c.chunkLeft
		}
		k := copy(c.record[c.recordLen:], c.in[:n])
		c.in = c.in[k:]
		if c.chunked {
			c.chunkLeft -= k
		}
		c.recordLen += k
		c.dataCount += int64(k)
		c.rate.update(st.now, c.dataCount)

		if c.recordLen >= 2 && c.dataCount > ffm.PacketSize && !ffm.IsDataRecord(c.record[:c.recordLen]) {
			return ErrFeedDesync
		}
		if c.recordLen == ffm.PacketSize {
			if err := st.storeRecord(c); err != nil {
				return err
			}
			c.recordLen = 0
		}
	}
	return nil
}

func parseChunkSize(line string) (int, error) {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(line), 16, 32)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad chunk size %q", ErrBadRequest, line)
	}
	return int(n), nil
}

// storeRecord handles one complete record. The first record of an upload is
// the producer's header; later ones are appended to the ring buffer.
func (st *ServerState) storeRecord(c *Connection) error {
	feed := c.feed
	if c.dataCount <= ffm.PacketSize {
		return st.adoptFeedHeader(feed, c.record)
	}
	if err := feed.file.AppendRecord(c.record); err != nil {
		return err
	}
	feed.records++
	st.metrics.AddFeedRecords(feed.stream.Name, 1)
	st.wakeWaiters(feed, StateSendData)
	return nil
}

// adoptFeedHeader checks the producer's stream table against the feed and
// adopts its codec parameters.
func (st *ServerState) adoptFeedHeader(feed *feedState, rec []byte) error {
	h, err := ffm.DecodeHeader(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFeedHeaderMismatch, err)
	}
	s := feed.stream
	if len(h.Streams) != len(s.Streams) {
		return fmt.Errorf("%w: producer sent %d streams, feed has %d", ErrFeedHeaderMismatch, len(h.Streams), len(s.Streams))
	}
	for i := range h.Streams {
		if h.Streams[i].Codec != s.Streams[i].Codec {
			return fmt.Errorf("%w: stream %d is %s, feed expects %s", ErrFeedHeaderMismatch, i, h.Streams[i].Codec, s.Streams[i].Codec)
		}
		s.Streams[i] = h.Streams[i]
	}
	return feed.file.SetStreams(append([]core.CodecParams(nil), s.Streams...))
}

// startSRTReceive binds an accepted SRT socket to the feed named by its
// stream id. The payload is the same FFM byte stream an HTTP POST carries.
func (st *ServerState) startSRTReceive(c *Connection, streamID string) error {
	s, err := st.catalog.Resolve(strings.TrimPrefix(streamID, "/"))
	if err != nil {
		return err
	}
	if !s.IsFeed() {
		return fmt.Errorf("%w: %s", catalog.ErrUnknownFeed, streamID)
	}
	if !catalog.CheckACL(s, c.remote.Addr()) {
		return fmt.Errorf("access to feed %s denied", streamID)
	}
	feed, ok := st.feeds[s]
	if !ok {
		return fmt.Errorf("%w: %s", catalog.ErrUnknownFeed, streamID)
	}
	if feed.opened {
		st.metrics.AdmissionRejected("feed_busy")
		return ErrFeedBusy
	}
	if s.ReadOnly {
		return ErrFeedReadOnly
	}
	if s.Truncate {
		if err := feed.file.Truncate(); err != nil {
			return err
		}
	}
	c.method = "SRT"
	c.url = streamID
	st.openFeed(c, feed)
	return nil
}
