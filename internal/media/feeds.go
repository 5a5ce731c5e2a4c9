package media

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"feedcast/pkg/catalog"
	"feedcast/pkg/core"
	"feedcast/pkg/ffm"
	"feedcast/pkg/utils"
)

// feedState is the runtime side of a feed: its ring buffer file, the
// producer lock and the connections waiting for new records.
type feedState struct {
	stream  *catalog.Stream
	file    *ffm.File
	opened  bool
	writer  uint64
	records uint64
	waiters map[uint64]struct{}
	child   *child
}

// BuildFeeds opens every feed file of the catalog. Missing files are created;
// a file whose stream table differs from the configuration is recreated
// unless the feed is read-only, which is fatal.
func BuildFeeds(cat *catalog.Catalog) (map[*catalog.Stream]*feedState, error) {
	feeds := make(map[*catalog.Stream]*feedState)
	for _, s := range cat.Feeds() {
		f, err := openFeedFile(s)
		if err != nil {
			closeFeeds(feeds)
			return nil, fmt.Errorf("feed %s: %w", s.Name, err)
		}
		feeds[s] = &feedState{
			stream:  s,
			file:    f,
			waiters: make(map[uint64]struct{}),
		}
		slog.Info("Feed ready", "feed", s.Name, "file", s.FeedFile, "writeIndex", f.WriteIndex(), "streams", len(f.Streams()))
	}
	return feeds, nil
}

func openFeedFile(s *catalog.Stream) (*ffm.File, error) {
	f, err := ffm.Open(s.FeedFile, s.FeedMaxSize, s.ReadOnly)
	switch {
	case err == nil:
		if verr := f.ValidateHeader(s.Streams); verr != nil {
			if s.ReadOnly {
				f.Close()
				return nil, verr
			}
			slog.Warn("Feed header mismatch, recreating", "feed", s.Name, "err", verr)
			f.Close()
			return ffm.Create(s.FeedFile, s.Streams, s.FeedMaxSize)
		}
		if s.Truncate {
			if err := f.Truncate(); err != nil {
				f.Close()
				return nil, err
			}
		}
		return f, nil
	case errors.Is(err, fs.ErrNotExist):
		if s.ReadOnly {
			return nil, fmt.Errorf("read-only feed file missing: %w", err)
		}
		return ffm.Create(s.FeedFile, s.Streams, s.FeedMaxSize)
	case errors.Is(err, ffm.ErrBadHeader) && !s.ReadOnly:
		slog.Warn("Feed file corrupt, recreating", "feed", s.Name, "err", err)
		return ffm.Create(s.FeedFile, s.Streams, s.FeedMaxSize)
	default:
		return nil, err
	}
}

// feedSource reads packets from a shared feed ring buffer.
type feedSource struct {
	r *ffm.Reader
}

func (s *feedSource) ReadPacket() (core.Packet, error) { return s.r.ReadPacket() }
func (s *feedSource) Close() error                     { return nil }

// fileSource plays a stored FFM file, optionally in a loop.
type fileSource struct {
	f    *ffm.File
	r    *ffm.Reader
	loop bool
}

func openFileSource(path string, loop bool) (*fileSource, error) {
	f, err := ffm.Open(path, 0, true)
	if err != nil {
		return nil, err
	}
	r := f.NewReader()
	r.SeekOldest()
	return &fileSource{f: f, r: r, loop: loop}, nil
}

func (s *fileSource) ReadPacket() (core.Packet, error) { return s.r.ReadPacket() }

func (s *fileSource) rewind() { s.r.SeekOldest() }

func (s *fileSource) Close() error { return s.f.Close() }

// Layouts accepted by the date= query parameter.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"20060102T150405",
	"2006-01-02",
}

func parseDate(v string, now time.Time) (time.Time, error) {
	if strings.EqualFold(v, "now") {
		return now, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t, nil
		}
	}
	if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(sec, 0), nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q", v)
}

// findInfoTag returns the value of tag in a "a=1&b=2" query string.
func findInfoTag(query, tag string) (string, bool) {
	for _, kv := range strings.Split(query, "&") {
		k, v, _ := strings.Cut(kv, "=")
		if k == tag {
			return v, true
		}
	}
	return "", false
}

// openSource binds the input of a sending connection. Feed readers are seeded
// at an absolute date, N seconds back, the stream's prebuffer, or now.
func (st *ServerState) openSource(c *Connection) error {
	s := c.stream
	if s.Feed != nil {
		feed, ok := st.feeds[s.Feed]
		if !ok {
			return fmt.Errorf("%w: %s", catalog.ErrUnknownFeed, s.Feed.Name)
		}
		r := feed.file.NewReader()
		if err := seekFeed(r, c.query, s.Prebuffer, st.now); err != nil {
			return err
		}
		c.src = &feedSource{r: r}
		c.fromFeed = true
	} else {
		src, err := openFileSource(s.InputFile, s.Loop)
		if err != nil {
			return err
		}
		c.src = src
		c.fromFeed = false
	}
	c.startTime = st.now
	c.hasFirstPTS = false
	return nil
}

func seekFeed(r *ffm.Reader, query string, prebufferMs int64, now time.Time) error {
	if v, ok := findInfoTag(query, "date"); ok {
		t, err := parseDate(v, now)
		if err != nil {
			return err
		}
		return r.SeekTime(t.UnixMicro())
	}
	if v, ok := findInfoTag(query, "buffer"); ok {
		sec, err := strconv.Atoi(v)
		if err != nil || sec < 0 {
			return fmt.Errorf("invalid buffer %q", v)
		}
		return r.SeekTime(now.Add(-time.Duration(sec) * time.Second).UnixMicro())
	}
	if prebufferMs > 0 {
		return r.SeekTime(now.Add(-time.Duration(prebufferMs) * time.Millisecond).UnixMicro())
	}
	r.SeekNow()
	return nil
}

// enterWaitFeed parks c on its feed until the next record arrives.
func (st *ServerState) enterWaitFeed(c *Connection) {
	c.state = StateWaitFeed
	if c.stream == nil || c.stream.Feed == nil {
		return
	}
	if feed, ok := st.feeds[c.stream.Feed]; ok {
		feed.waiters[c.id] = struct{}{}
	}
}

func (st *ServerState) leaveWaitFeed(c *Connection) {
	if c.stream == nil || c.stream.Feed == nil {
		return
	}
	if feed, ok := st.feeds[c.stream.Feed]; ok {
		delete(feed.waiters, c.id)
	}
}

// wakeWaiters moves every reader parked on feed into next.
func (st *ServerState) wakeWaiters(feed *feedState, next ConnState) {
	for id := range feed.waiters {
		if c, ok := st.conns[id]; ok && c.state == StateWaitFeed {
			c.state = next
		}
		delete(feed.waiters, id)
	}
}

// closeFeeds closes every feed file. Called once the loop has stopped.
func closeFeeds(feeds map[*catalog.Stream]*feedState) {
	for _, feed := range feeds {
		utils.CloseWithLog(feed.file)
	}
}
