package catalog

import (
	"fmt"
	"net"
	"net/netip"
	"path"
	"strings"

	"feedcast/pkg/core"
	"feedcast/pkg/mux"
)

var lookupHost = net.LookupHost

// Kind 스트림 종류
type Kind int

const (
	KindLive Kind = iota
	KindStatus
	KindRedirect
)

func (k Kind) String() string {
	switch k {
	case KindLive:
		return "live"
	case KindStatus:
		return "status"
	case KindRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Stream is one publishable entry of the catalog. A feed is a Live stream
// whose Feed points at itself.
type Stream struct {
	Name   string
	Kind   Kind
	Format string

	Title     string
	Author    string
	Comment   string
	Copyright string
	Metadata  map[string]string

	Streams     []core.CodecParams
	Feed        *Stream
	FeedName    string
	FeedStreams []int
	InputFile   string

	ACL        []ACLRule
	DynamicACL string

	MulticastAddr netip.Addr
	MulticastPort int
	MulticastTTL  int
	Loop          bool

	Prebuffer int64 // ms
	MaxTime   int64 // ms
	SendOnKey bool

	RedirectURL string

	// feed 전용
	FeedFile    string
	FeedMaxSize int64
	ReadOnly    bool
	Truncate    bool
	ChildArgv   []string

	// 런타임 카운터 (이벤트 루프에서만 갱신)
	BytesServed uint64
	ConnsServed uint64
}

// IsFeed reports whether the stream is an ingestion point.
func (s *Stream) IsFeed() bool { return s.Feed == s }

// IsMulticast reports whether the stream has a multicast group configured.
func (s *Stream) IsMulticast() bool { return s.MulticastAddr.IsValid() }

// MuxFormat 출력 포맷 조회
func (s *Stream) MuxFormat() *mux.Format {
	f, _ := mux.Lookup(s.Format)
	return f
}

// IsRTP reports whether the stream is served over RTSP.
func (s *Stream) IsRTP() bool {
	f := s.MuxFormat()
	return f != nil && f.Packetized
}

// SourceParams returns the parameters of substream i as the source
// delivers it: the feed's slot for a derived stream, else its own entry.
func (s *Stream) SourceParams(i int) core.CodecParams {
	if s.Feed != nil && s.Feed != s && i < len(s.FeedStreams) {
		if j := s.FeedStreams[i]; j >= 0 && j < len(s.Feed.Streams) {
			return s.Feed.Streams[j]
		}
	}
	return s.Streams[i]
}

// Bandwidth is the declared bandwidth in kbit/s, rounded up per substream.
func (s *Stream) Bandwidth() int {
	bw := 0
	for _, st := range s.Streams {
		bw += (st.BitRate + 999) / 1000
	}
	return bw
}

// Global 카탈로그 파일의 전역 지시어. 0/"" 은 미설정
type Global struct {
	HTTPPort           int
	HTTPBindAddress    string
	RTSPPort           int
	RTSPBindAddress    string
	MaxHTTPConnections int
	MaxClients         int
	MaxBandwidth       int
	CustomLog          string
}

// Catalog 스트림 카탈로그
type Catalog struct {
	Global  Global
	Streams []*Stream

	byName map[string]*Stream
}

// New 빈 카탈로그 생성
func New() *Catalog {
	return &Catalog{byName: make(map[string]*Stream)}
}

func (c *Catalog) add(s *Stream) error {
	if _, ok := c.byName[s.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, s.Name)
	}
	c.byName[s.Name] = s
	c.Streams = append(c.Streams, s)
	return nil
}

// Resolve looks a stream up by its exact published name.
func (c *Catalog) Resolve(name string) (*Stream, error) {
	if s, ok := c.byName[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, name)
}

// Redirect helper suffixes understood by ResolveRedirect.
var redirectHelpers = []string{"asx", "asf", "ram", "rtsp", "sdp"}

// ResolveRedirect resolves name, also accepting "<stream>.<helper>" where
// helper is one of the redirect helper suffixes. helper is "" for a direct hit.
func (c *Catalog) ResolveRedirect(name string) (s *Stream, helper string, err error) {
	if s, err := c.Resolve(name); err == nil {
		return s, "", nil
	}
	ext := strings.TrimPrefix(path.Ext(name), ".")
	for _, h := range redirectHelpers {
		if strings.EqualFold(ext, h) {
			s, err := c.Resolve(strings.TrimSuffix(name, "."+ext))
			if err != nil {
				return nil, "", err
			}
			return s, h, nil
		}
	}
	return nil, "", fmt.Errorf("%w: %s", ErrStreamNotFound, name)
}

// Feeds returns the feed streams in configuration order.
func (c *Catalog) Feeds() []*Stream {
	var feeds []*Stream
	for _, s := range c.Streams {
		if s.IsFeed() {
			feeds = append(feeds, s)
		}
	}
	return feeds
}

// link resolves feed references and builds each stream's feed substream map.
// A substream with no identical feed substream is appended to the feed.
func (c *Catalog) link() error {
	for _, s := range c.Streams {
		if s.Kind != KindLive || s.IsFeed() || s.FeedName == "" {
			continue
		}
		feed, ok := c.byName[s.FeedName]
		if !ok || !feed.IsFeed() {
			return fmt.Errorf("stream %s: %w %q", s.Name, ErrUnknownFeed, s.FeedName)
		}
		s.Feed = feed
		s.FeedStreams = make([]int, len(s.Streams))
		for i, st := range s.Streams {
			s.FeedStreams[i] = addFeedStream(feed, st)
		}
	}
	return nil
}

func addFeedStream(feed *Stream, st core.CodecParams) int {
	for i, fs := range feed.Streams {
		if fs.SameFormat(st) {
			return i
		}
	}
	feed.Streams = append(feed.Streams, st)
	return len(feed.Streams) - 1
}

// FindStreamInFeed picks the feed substream to use for params when the
// client can take at most bitRate: the fastest same-shape substream not above
// bitRate, else the slowest one above it. It returns -1 when none matches.
func FindStreamInFeed(feed *Stream, params core.CodecParams, bitRate int) int {
	best, bestRate := -1, 0
	for i, fs := range feed.Streams {
		if fs.Codec != params.Codec || fs.SampleRate != params.SampleRate ||
			fs.Width != params.Width || fs.Height != params.Height {
			continue
		}
		switch {
		case best < 0:
			best, bestRate = i, fs.BitRate
		case fs.BitRate <= bitRate:
			if bestRate > bitRate || fs.BitRate > bestRate {
				best, bestRate = i, fs.BitRate
			}
		case bestRate > bitRate && fs.BitRate < bestRate:
			best, bestRate = i, fs.BitRate
		}
	}
	return best
}
