package media

import (
	"net/http"
	"strconv"
	"strings"

	"feedcast/pkg/catalog"
)

// extractRates parses "Pragma: stream-switch-entry=ffff:<stream>:<rate>"
// entries. Streams are numbered from 1; the result is indexed from 0.
func extractRates(h http.Header, n int) ([]int, bool) {
	rates := make([]int, n)
	found := false
	for _, v := range h.Values("Pragma") {
		for _, part := range strings.Split(v, ",") {
			entry, ok := strings.CutPrefix(strings.TrimSpace(part), "stream-switch-entry=")
			if !ok {
				continue
			}
			for _, tok := range strings.Fields(entry) {
				f := strings.Split(tok, ":")
				if len(f) < 3 {
					continue
				}
				sn, err1 := strconv.Atoi(f[len(f)-2])
				rn, err2 := strconv.Atoi(f[len(f)-1])
				if err1 != nil || err2 != nil {
					continue
				}
				if sn >= 1 && sn <= n {
					rates[sn-1] = rn
					found = true
				}
			}
		}
	}
	return rates, found
}

func pragmaClientID(h http.Header) (int, bool) {
	for _, v := range h.Values("Pragma") {
		for _, part := range strings.Split(v, ",") {
			if s, ok := strings.CutPrefix(strings.TrimSpace(part), "client-id="); ok {
				if id, err := strconv.Atoi(s); err == nil {
					return id, true
				}
			}
		}
	}
	return 0, false
}

// planSwitch records the feed substreams the connection should move to.
// Rate 0 is the configured mapping, 1 half and 2 a quarter of its bitrate.
func (c *Connection) planSwitch(rates []int) bool {
	s := c.stream
	if s == nil || s.Feed == nil || s.IsFeed() {
		return false
	}
	changed := false
	for i := range s.Streams {
		if i >= len(rates) || i >= len(c.feedStreams) {
			break
		}
		params := s.Streams[i]
		target := -1
		switch rates[i] {
		case 0:
			target = s.FeedStreams[i]
		case 1:
			target = catalog.FindStreamInFeed(s.Feed, params, params.BitRate/2)
		case 2:
			target = catalog.FindStreamInFeed(s.Feed, params, params.BitRate/4)
		}
		if target >= 0 && target != c.feedStreams[i] {
			c.switchStreams[i] = target
			changed = true
		}
	}
	if changed {
		c.switchPending = true
	}
	return changed
}

// applySwitch takes every planned switch immediately. Used before the first
// packet has been sent.
func (c *Connection) applySwitch() {
	for i, target := range c.switchStreams {
		if target >= 0 {
			c.feedStreams[i] = target
			c.switchStreams[i] = -1
		}
	}
	c.switchPending = false
}

// completeSwitch moves substreams waiting for src to it. It is called on a
// key frame of src.
func (c *Connection) completeSwitch(src int) {
	pending := false
	for i, target := range c.switchStreams {
		switch {
		case target < 0:
		case target == src:
			c.feedStreams[i] = target
			c.switchStreams[i] = -1
		default:
			pending = true
		}
	}
	c.switchPending = pending
}

func (st *ServerState) findClient(clientID int) *Connection {
	for _, id := range st.order {
		c := st.conns[id]
		if c.wmpClientID == clientID && c.stream != nil {
			return c
		}
	}
	return nil
}

// RequestSubstreamSwitch asks the HTTP viewer identified by clientID to move
// to other bitrates of its feed. The change takes effect at the next key
// frame of each new substream.
func (st *ServerState) RequestSubstreamSwitch(clientID int, rates []int) bool {
	c := st.findClient(clientID)
	if c == nil {
		return false
	}
	if !c.planSwitch(rates) {
		return false
	}
	c.logger.Info("Substream switch requested", "clientId", clientID, "rates", rates)
	return true
}
