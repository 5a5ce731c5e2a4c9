package media

import (
	"context"
	"time"

	"feedcast/pkg/catalog"
)

// Snapshot is a copy of the registry taken on the loop goroutine.
type Snapshot struct {
	StartedAt      time.Time        `json:"startedAt"`
	Now            time.Time        `json:"now"`
	Connections    int              `json:"connections"`
	MaxConnections int              `json:"maxConnections"`
	Bandwidth      int              `json:"bandwidthKbps"`
	MaxBandwidth   int              `json:"maxBandwidthKbps"`
	Streams        []StreamSnapshot `json:"streams"`
	Feeds          []FeedSnapshot   `json:"feeds"`
	Conns          []ConnSnapshot   `json:"conns"`
}

// StreamSnapshot describes one catalog entry.
type StreamSnapshot struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Format      string   `json:"format,omitempty"`
	Bandwidth   int      `json:"bandwidthKbps"`
	Codecs      []string `json:"codecs,omitempty"`
	Feed        string   `json:"feed,omitempty"`
	Multicast   string   `json:"multicast,omitempty"`
	BytesServed uint64   `json:"bytesServed"`
	ConnsServed uint64   `json:"connsServed"`
}

// FeedSnapshot describes one feed and its ring buffer.
type FeedSnapshot struct {
	Name       string `json:"name"`
	File       string `json:"file"`
	MaxSize    int64  `json:"maxSize"`
	WriteIndex int64  `json:"writeIndex"`
	Records    uint64 `json:"records"`
	Producing  bool   `json:"producing"`
	Waiters    int    `json:"waiters"`
	ReadOnly   bool   `json:"readOnly"`
	ChildPID   int    `json:"childPid,omitempty"`
}

// ConnSnapshot describes one registered connection.
type ConnSnapshot struct {
	ID        uint64    `json:"id"`
	Stream    string    `json:"stream,omitempty"`
	State     string    `json:"state"`
	Protocol  string    `json:"protocol"`
	Remote    string    `json:"remote"`
	BytesSent int64     `json:"bytes"`
	Rate      int64     `json:"rateBps"`
	Bandwidth int       `json:"bandwidthKbps"`
	Since     time.Time `json:"since"`
}

func (st *ServerState) snapshot() Snapshot {
	snap := Snapshot{
		StartedAt:      st.startedAt,
		Now:            st.now,
		Connections:    st.admission.Connections(),
		MaxConnections: st.admission.MaxConnections(),
		Bandwidth:      st.admission.Bandwidth(),
		MaxBandwidth:   st.admission.MaxBandwidth(),
	}

	for _, s := range st.catalog.Streams {
		ss := StreamSnapshot{
			Name:        s.Name,
			Kind:        s.Kind.String(),
			Format:      s.Format,
			Bandwidth:   s.Bandwidth(),
			BytesServed: s.BytesServed,
			ConnsServed: s.ConnsServed,
		}
		if s.Kind == catalog.KindLive && s.IsFeed() {
			ss.Kind = "feed"
		}
		for _, p := range s.Streams {
			ss.Codecs = append(ss.Codecs, p.Codec.String())
		}
		if s.Feed != nil && !s.IsFeed() {
			ss.Feed = s.Feed.Name
		} else if s.InputFile != "" {
			ss.Feed = s.InputFile
		}
		if s.IsMulticast() {
			ss.Multicast = s.MulticastAddr.String()
		}
		snap.Streams = append(snap.Streams, ss)

		feed, ok := st.feeds[s]
		if !ok {
			continue
		}
		fs := FeedSnapshot{
			Name:       s.Name,
			File:       feed.file.Path(),
			MaxSize:    feed.file.MaxSize(),
			WriteIndex: feed.file.WriteIndex(),
			Records:    feed.records,
			Producing:  feed.opened,
			Waiters:    len(feed.waiters),
			ReadOnly:   s.ReadOnly,
		}
		if feed.child != nil && feed.child.running {
			fs.ChildPID = feed.child.pid
		}
		snap.Feeds = append(snap.Feeds, fs)
	}

	for _, id := range st.order {
		c := st.conns[id]
		cs := ConnSnapshot{
			ID:        c.id,
			State:     c.state.String(),
			Protocol:  c.proto.String(),
			Remote:    c.remote.String(),
			BytesSent: c.dataCount,
			Rate:      c.rate.bytesPerSecond(st.now, c.dataCount),
			Bandwidth: c.bandwidth,
			Since:     c.created,
		}
		if c.session != nil {
			cs.Protocol = c.session.kind.String()
		}
		if c.stream != nil {
			cs.Stream = c.stream.Name
		}
		snap.Conns = append(snap.Conns, cs)
	}
	return snap
}

// Snapshot asks the event loop for a copy of the registry.
func (s *MediaServer) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case s.snapshots <- reply:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-s.ctx.Done():
		return Snapshot{}, ErrServerStopped
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}
