package catalog

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

type yamlCatalog struct {
	Global    yamlGlobal     `yaml:"global"`
	Feeds     []yamlFeed     `yaml:"feeds"`
	Streams   []yamlStream   `yaml:"streams"`
	Redirects []yamlRedirect `yaml:"redirects"`
}

type yamlGlobal struct {
	HTTPPort           int    `yaml:"http_port"`
	HTTPBindAddress    string `yaml:"http_bind_address"`
	RTSPPort           int    `yaml:"rtsp_port"`
	RTSPBindAddress    string `yaml:"rtsp_bind_address"`
	MaxHTTPConnections int    `yaml:"max_http_connections"`
	MaxClients         int    `yaml:"max_clients"`
	MaxBandwidth       int    `yaml:"max_bandwidth"`
	CustomLog          string `yaml:"custom_log"`
}

type yamlFeed struct {
	Name        string   `yaml:"name"`
	File        string   `yaml:"file"`
	ReadOnly    bool     `yaml:"readonly"`
	Truncate    bool     `yaml:"truncate"`
	FileMaxSize string   `yaml:"file_max_size"`
	Launch      []string `yaml:"launch"`
	ACL         []string `yaml:"acl"`
}

type yamlAudio struct {
	Codec      string  `yaml:"codec"`
	BitRate    float64 `yaml:"bitrate"` // kbit/s
	SampleRate int     `yaml:"sample_rate"`
	Channels   int     `yaml:"channels"`
}

type yamlVideo struct {
	Codec     string  `yaml:"codec"`
	BitRate   float64 `yaml:"bitrate"` // kbit/s
	Size      string  `yaml:"size"`
	FrameRate string  `yaml:"frame_rate"`
	GopSize   int     `yaml:"gop_size"`
}

type yamlMulticast struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	TTL     int    `yaml:"ttl"`
}

type yamlStream struct {
	Name       string            `yaml:"name"`
	Feed       string            `yaml:"feed"`
	File       string            `yaml:"file"`
	Format     string            `yaml:"format"`
	Title      string            `yaml:"title"`
	Author     string            `yaml:"author"`
	Comment    string            `yaml:"comment"`
	Copyright  string            `yaml:"copyright"`
	Metadata   map[string]string `yaml:"metadata"`
	Preroll    float64           `yaml:"preroll"`
	MaxTime    float64           `yaml:"max_time"`
	SendOnKey  bool              `yaml:"start_send_on_key"`
	Audio      *yamlAudio        `yaml:"audio"`
	Video      *yamlVideo        `yaml:"video"`
	NoAudio    bool              `yaml:"no_audio"`
	NoVideo    bool              `yaml:"no_video"`
	ACL        []string          `yaml:"acl"`
	DynamicACL string            `yaml:"dynamic_acl"`
	Multicast  *yamlMulticast    `yaml:"multicast"`
	NoLoop     bool              `yaml:"no_loop"`
}

type yamlRedirect struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// ParseYAML reads the YAML rendition of the catalog. It applies the same
// defaults as the block syntax.
func ParseYAML(r io.Reader, filename string) (*Catalog, error) {
	var doc yamlCatalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, &ParseError{File: filename, Msg: err.Error()}
	}

	c := New()
	c.Global = Global(doc.Global)
	multicastIndex := 0
	fail := func(name string, err error) error {
		return &ParseError{File: filename, Msg: fmt.Sprintf("%s: %v", name, err)}
	}

	for _, yf := range doc.Feeds {
		d := newFeedDraft(yf.Name, 0)
		s := d.s
		if yf.File != "" {
			s.FeedFile = yf.File
		}
		s.ReadOnly = yf.ReadOnly
		s.Truncate = yf.Truncate
		s.ChildArgv = yf.Launch
		if yf.FileMaxSize != "" {
			size, err := parseSize([]string{yf.FileMaxSize})
			if err != nil {
				return nil, fail(yf.Name, err)
			}
			s.FeedMaxSize = size
		}
		acl, err := parseACLStrings(yf.ACL)
		if err != nil {
			return nil, fail(yf.Name, err)
		}
		s.ACL = acl
		if err := c.finish(d, &multicastIndex); err != nil {
			return nil, fail(yf.Name, err)
		}
	}

	for _, ys := range doc.Streams {
		d, err := ys.draft()
		if err != nil {
			return nil, fail(ys.Name, err)
		}
		if err := c.finish(d, &multicastIndex); err != nil {
			return nil, fail(ys.Name, err)
		}
	}

	for _, yr := range doc.Redirects {
		d := newDraft(yr.Name, KindRedirect, 0)
		d.s.RedirectURL = yr.URL
		if err := c.finish(d, &multicastIndex); err != nil {
			return nil, fail(yr.Name, err)
		}
	}

	if err := c.link(); err != nil {
		return nil, &ParseError{File: filename, Msg: err.Error()}
	}
	if err := c.validate(); err != nil {
		return nil, &ParseError{File: filename, Msg: err.Error()}
	}
	return c, nil
}

func (ys *yamlStream) draft() (*draft, error) {
	d := newDraft(ys.Name, KindLive, 0)
	s := d.s
	s.FeedName = ys.Feed
	s.InputFile = ys.File
	s.Format = ys.Format
	s.Title, s.Author, s.Comment, s.Copyright = ys.Title, ys.Author, ys.Comment, ys.Copyright
	for k, v := range ys.Metadata {
		s.Metadata[k] = v
	}
	s.Prebuffer = int64(ys.Preroll * 1000)
	s.MaxTime = int64(ys.MaxTime * 1000)
	s.SendOnKey = ys.SendOnKey
	s.Loop = !ys.NoLoop
	s.DynamicACL = ys.DynamicACL
	d.noAudio, d.noVideo = ys.NoAudio, ys.NoVideo

	var err error
	if a := ys.Audio; a != nil {
		if a.Codec != "" {
			if d.audioCodec, err = codecArg([]string{a.Codec}, false); err != nil {
				return nil, err
			}
		}
		if a.BitRate > 0 {
			d.audio.BitRate = int(a.BitRate * 1000)
		}
		if a.SampleRate > 0 {
			d.audio.SampleRate = a.SampleRate
		}
		if a.Channels > 0 {
			d.audio.Channels = a.Channels
		}
	}
	if v := ys.Video; v != nil {
		if v.Codec != "" {
			if d.videoCodec, err = codecArg([]string{v.Codec}, true); err != nil {
				return nil, err
			}
		}
		if v.BitRate > 0 {
			d.video.BitRate = int(v.BitRate * 1000)
		}
		if v.Size != "" {
			if d.video.Width, d.video.Height, err = parseVideoSize(v.Size); err != nil {
				return nil, err
			}
		}
		if v.FrameRate != "" {
			if d.video.FrameRateNum, d.video.FrameRateDen, err = parseFrameRate(v.FrameRate); err != nil {
				return nil, err
			}
		}
		if v.GopSize > 0 {
			d.video.GopSize = v.GopSize
		}
	}

	if s.ACL, err = parseACLStrings(ys.ACL); err != nil {
		return nil, err
	}
	if m := ys.Multicast; m != nil {
		if s.MulticastAddr, err = parseMulticast(m.Address); err != nil {
			return nil, err
		}
		s.MulticastPort = m.Port
		s.MulticastTTL = m.TTL
	}
	return d, nil
}

func parseACLStrings(rows []string) ([]ACLRule, error) {
	var rules []ACLRule
	for _, row := range rows {
		rule, err := ParseACLRule(strings.Fields(row))
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
