package catalog

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"feedcast/pkg/core"
	"feedcast/pkg/ffm"
	"feedcast/pkg/mux"
)

const (
	DefaultFeedMaxSize   = 5 * 1024 * 1024
	DefaultMulticastPort = 6000
	DefaultMulticastTTL  = 16
)

// LoadFile reads a catalog, choosing the syntax by file extension.
func LoadFile(name string) (*Catalog, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return ParseYAML(f, name)
	default:
		return ParseConfig(f, name)
	}
}

// draft collects a stream's directives until its block closes.
type draft struct {
	s          *Stream
	line       int
	audioCodec core.Codec
	videoCodec core.Codec
	noAudio    bool
	noVideo    bool
	audio      core.CodecParams
	video      core.CodecParams
}

func newDraft(name string, kind Kind, line int) *draft {
	return &draft{
		s: &Stream{
			Name:     name,
			Kind:     kind,
			Loop:     true,
			Metadata: map[string]string{},
		},
		line:  line,
		audio: core.CodecParams{BitRate: 64000, SampleRate: 22050, Channels: 1},
		video: core.CodecParams{BitRate: 64000, Width: 160, Height: 128, FrameRateNum: 5, FrameRateDen: 1, GopSize: 12},
	}
}

func newFeedDraft(name string, line int) *draft {
	d := newDraft(name, KindLive, line)
	d.s.Feed = d.s
	d.s.Format = "ffm"
	d.s.FeedMaxSize = DefaultFeedMaxSize
	file := name
	if !strings.HasSuffix(file, ".ffm") {
		file += ".ffm"
	}
	d.s.FeedFile = filepath.Join(os.TempDir(), file)
	return d
}

// finish applies format defaults and builds the substream list.
func (c *Catalog) finish(d *draft, multicastIndex *int) error {
	s := d.s
	switch s.Kind {
	case KindRedirect:
		if s.RedirectURL == "" {
			return fmt.Errorf("redirect %s has no URL", s.Name)
		}
		return c.add(s)
	case KindStatus:
		return c.add(s)
	}

	if s.IsFeed() {
		return c.add(s)
	}

	var f *mux.Format
	if s.Format != "" {
		var ok bool
		if f, ok = mux.Lookup(s.Format); !ok {
			return fmt.Errorf("unknown format %q", s.Format)
		}
	} else {
		var ok bool
		if f, ok = mux.Guess(s.Name); !ok {
			return fmt.Errorf("cannot guess format for %s, add a Format directive", s.Name)
		}
	}
	if f.Name == mux.StatusFormat {
		s.Kind = KindStatus
		s.Format = f.Name
		return c.add(s)
	}
	s.Format = f.Name

	if s.FeedName == "" && s.InputFile == "" {
		return fmt.Errorf("stream %s has neither Feed nor File", s.Name)
	}

	// 오디오 먼저, 그 다음 비디오
	if !d.noAudio {
		codec := d.audioCodec
		if codec == core.Unknown {
			codec = f.AudioCodec
		}
		if codec != core.Unknown {
			p := d.audio
			p.Codec = codec
			s.Streams = append(s.Streams, p)
		}
	}
	if !d.noVideo {
		codec := d.videoCodec
		if codec == core.Unknown {
			codec = f.VideoCodec
		}
		if codec != core.Unknown {
			p := d.video
			p.Codec = codec
			s.Streams = append(s.Streams, p)
		}
	}

	if s.IsMulticast() {
		if s.MulticastPort == 0 {
			s.MulticastPort = DefaultMulticastPort + 100*(*multicastIndex)
		}
		if s.MulticastTTL == 0 {
			s.MulticastTTL = DefaultMulticastTTL
		}
		*multicastIndex++
	}
	return c.add(s)
}

// ParseConfig parses the block configuration syntax:
//
//	HTTPPort 8090
//	<Feed feed1.ffm>
//	  FileMaxSize 5M
//	</Feed>
//	<Stream test.ts>
//	  Feed feed1.ffm
//	</Stream>
func ParseConfig(r io.Reader, filename string) (*Catalog, error) {
	c := New()
	p := &parser{cat: c, file: filename}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		p.line++
		if err := p.parseLine(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if p.cur != nil {
		return nil, &ParseError{File: filename, Line: p.cur.line, Msg: "unterminated block <" + p.block + ">"}
	}
	if err := c.link(); err != nil {
		return nil, &ParseError{File: filename, Msg: err.Error()}
	}
	if err := c.validate(); err != nil {
		return nil, &ParseError{File: filename, Msg: err.Error()}
	}
	return c, nil
}

type parser struct {
	cat   *Catalog
	file  string
	line  int
	block string
	cur   *draft

	multicastIndex int
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{File: p.file, Line: p.line, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseLine(raw string) error {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}

	if strings.HasPrefix(line, "</") {
		tag := strings.TrimSuffix(strings.TrimPrefix(line, "</"), ">")
		if p.cur == nil || !strings.EqualFold(tag, p.block) {
			return p.errorf("unexpected </%s>", tag)
		}
		if err := p.cat.finish(p.cur, &p.multicastIndex); err != nil {
			return p.errorf("%v", err)
		}
		p.cur = nil
		p.block = ""
		return nil
	}
	if strings.HasPrefix(line, "<") {
		if p.cur != nil {
			return p.errorf("nested block inside <%s>", p.block)
		}
		inner := strings.TrimSuffix(strings.TrimPrefix(line, "<"), ">")
		fields := strings.Fields(inner)
		if len(fields) != 2 {
			return p.errorf("block needs exactly one name: %q", line)
		}
		switch strings.ToLower(fields[0]) {
		case "feed":
			p.cur = newFeedDraft(fields[1], p.line)
		case "stream":
			p.cur = newDraft(fields[1], KindLive, p.line)
		case "redirect":
			p.cur = newDraft(fields[1], KindRedirect, p.line)
		default:
			return p.errorf("unknown block <%s>", fields[0])
		}
		p.block = fields[0]
		return nil
	}

	args, err := splitArgs(line)
	if err != nil {
		return p.errorf("%v", err)
	}
	cmd, args := args[0], args[1:]

	switch {
	case p.cur == nil:
		err = p.global(cmd, args)
	case p.cur.s.Kind == KindRedirect:
		err = p.redirect(cmd, args)
	case p.cur.s.IsFeed():
		err = p.feed(cmd, args)
	default:
		err = p.stream(cmd, args)
	}
	if err != nil {
		return p.errorf("%s: %v", cmd, err)
	}
	return nil
}

// splitArgs splits on whitespace, keeping double-quoted runs together.
func splitArgs(line string) ([]string, error) {
	var out []string
	var cur strings.Builder
	inQuote, have := false, false
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			have = true
		case !inQuote && (r == ' ' || r == '\t'):
			if have {
				out = append(out, cur.String())
				cur.Reset()
				have = false
			}
		default:
			cur.WriteRune(r)
			have = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	if have {
		out = append(out, cur.String())
	}
	return out, nil
}

func oneArg(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("expects one argument, got %d", len(args))
	}
	return args[0], nil
}

func intArg(args []string, lo, hi int) (int, error) {
	a, err := oneArg(args)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(a)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", a)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%d out of range [%d, %d]", v, lo, hi)
	}
	return v, nil
}

func floatArg(args []string) (float64, error) {
	a, err := oneArg(args)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", a)
	}
	return v, nil
}

func (p *parser) global(cmd string, args []string) error {
	g := &p.cat.Global
	var err error
	switch strings.ToLower(cmd) {
	case "port", "httpport":
		g.HTTPPort, err = intArg(args, 1, 65535)
	case "bindaddress", "httpbindaddress":
		g.HTTPBindAddress, err = oneArg(args)
	case "rtspport":
		g.RTSPPort, err = intArg(args, 1, 65535)
	case "rtspbindaddress":
		g.RTSPBindAddress, err = oneArg(args)
	case "maxhttpconnections":
		g.MaxHTTPConnections, err = intArg(args, 1, 65535)
	case "maxclients":
		g.MaxClients, err = intArg(args, 1, 65535)
	case "maxbandwidth":
		g.MaxBandwidth, err = intArg(args, 10, 1000000)
	case "customlog":
		g.CustomLog, err = oneArg(args)
	case "nodaemon", "usedefaults", "nodefaults":
		// 호환용, 무시
	default:
		err = fmt.Errorf("unknown global directive")
	}
	return err
}

func (p *parser) redirect(cmd string, args []string) error {
	if !strings.EqualFold(cmd, "URL") {
		return fmt.Errorf("unknown directive in <Redirect>")
	}
	url, err := oneArg(args)
	p.cur.s.RedirectURL = url
	return err
}

func (p *parser) feed(cmd string, args []string) error {
	s := p.cur.s
	var err error
	switch strings.ToLower(cmd) {
	case "launch":
		if len(args) == 0 {
			return fmt.Errorf("expects a command line")
		}
		s.ChildArgv = append([]string(nil), args...)
	case "acl":
		var rule ACLRule
		if rule, err = ParseACLRule(args); err == nil {
			s.ACL = append(s.ACL, rule)
		}
	case "file", "readonlyfile":
		s.FeedFile, err = oneArg(args)
		s.ReadOnly = strings.EqualFold(cmd, "readonlyfile")
	case "truncate":
		s.Truncate = true
	case "filemaxsize":
		s.FeedMaxSize, err = parseSize(args)
	default:
		err = fmt.Errorf("unknown directive in <Feed>")
	}
	return err
}

func parseSize(args []string) (int64, error) {
	a, err := oneArg(args)
	if err != nil {
		return 0, err
	}
	mult := 1.0
	switch strings.ToUpper(a[len(a)-1:]) {
	case "K":
		mult = 1024
	case "M":
		mult = 1024 * 1024
	case "G":
		mult = 1024 * 1024 * 1024
	}
	if mult != 1 {
		a = a[:len(a)-1]
	}
	v, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", a)
	}
	size := int64(v * mult)
	if size < 4*ffm.PacketSize {
		return 0, fmt.Errorf("feed max file size is too small, must be at least %d", 4*ffm.PacketSize)
	}
	return size, nil
}

var videoSizeAbbrev = map[string][2]int{
	"sqcif": {128, 96},
	"qcif":  {176, 144},
	"cif":   {352, 288},
	"4cif":  {704, 576},
	"qvga":  {320, 240},
	"vga":   {640, 480},
	"svga":  {800, 600},
	"hd720": {1280, 720},
}

func parseVideoSize(s string) (int, int, error) {
	if wh, ok := videoSizeAbbrev[strings.ToLower(s)]; ok {
		return wh[0], wh[1], nil
	}
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid video size %q", s)
	}
	wi, err1 := strconv.Atoi(w)
	hi, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || wi <= 0 || hi <= 0 || wi%2 != 0 || hi%2 != 0 {
		return 0, 0, fmt.Errorf("invalid video size %q", s)
	}
	return wi, hi, nil
}

func parseFrameRate(s string) (int, int, error) {
	if n, d, ok := strings.Cut(s, "/"); ok {
		ni, err1 := strconv.Atoi(n)
		di, err2 := strconv.Atoi(d)
		if err1 != nil || err2 != nil || ni <= 0 || di <= 0 {
			return 0, 0, fmt.Errorf("invalid frame rate %q", s)
		}
		return ni, di, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, 0, fmt.Errorf("invalid frame rate %q", s)
	}
	if v == float64(int(v)) {
		return int(v), 1, nil
	}
	return int(v*1001 + 0.5), 1001, nil
}

func (p *parser) stream(cmd string, args []string) error {
	d := p.cur
	s := d.s
	var err error
	switch strings.ToLower(cmd) {
	case "feed":
		s.FeedName, err = oneArg(args)
	case "file":
		s.InputFile, err = oneArg(args)
	case "format":
		s.Format, err = oneArg(args)
	case "inputformat":
		// 입력은 항상 FFM, 호환용으로 허용
		_, err = oneArg(args)
	case "title":
		s.Title, err = oneArg(args)
	case "author":
		s.Author, err = oneArg(args)
	case "comment":
		s.Comment, err = oneArg(args)
	case "copyright":
		s.Copyright, err = oneArg(args)
	case "metadata":
		if len(args) != 2 {
			return fmt.Errorf("expects key and value")
		}
		s.Metadata[args[0]] = args[1]
	case "preroll":
		var v float64
		if v, err = floatArg(args); err == nil {
			s.Prebuffer = int64(v * 1000)
		}
	case "startsendonkey":
		s.SendOnKey = true
	case "maxtime":
		var v float64
		if v, err = floatArg(args); err == nil {
			s.MaxTime = int64(v * 1000)
		}
	case "audiocodec":
		d.audioCodec, err = codecArg(args, false)
	case "videocodec":
		d.videoCodec, err = codecArg(args, true)
	case "audiobitrate":
		var v float64
		if v, err = floatArg(args); err == nil {
			d.audio.BitRate = int(v * 1000)
		}
	case "audiochannels":
		d.audio.Channels, err = intArg(args, 1, 8)
	case "audiosamplerate":
		d.audio.SampleRate, err = intArg(args, 1, 192000)
	case "videobitrate":
		var v float64
		if v, err = floatArg(args); err == nil {
			d.video.BitRate = int(v * 1000)
		}
	case "videosize":
		var a string
		if a, err = oneArg(args); err == nil {
			d.video.Width, d.video.Height, err = parseVideoSize(a)
		}
	case "videoframerate":
		var a string
		if a, err = oneArg(args); err == nil {
			d.video.FrameRateNum, d.video.FrameRateDen, err = parseFrameRate(a)
		}
	case "videogopsize":
		d.video.GopSize, err = intArg(args, 1, 10000)
	case "videointraonly":
		d.video.GopSize = 1
	case "noaudio":
		d.noAudio = true
	case "novideo":
		d.noVideo = true
	case "acl":
		var rule ACLRule
		if rule, err = ParseACLRule(args); err == nil {
			s.ACL = append(s.ACL, rule)
		}
	case "dynamicacl":
		s.DynamicACL, err = oneArg(args)
	case "multicastaddress":
		var a string
		if a, err = oneArg(args); err == nil {
			s.MulticastAddr, err = parseMulticast(a)
		}
	case "multicastport":
		s.MulticastPort, err = intArg(args, 1, 65535)
	case "multicastttl":
		s.MulticastTTL, err = intArg(args, 1, 255)
	case "noloop":
		s.Loop = false
	default:
		err = fmt.Errorf("unknown directive in <Stream>")
	}
	return err
}

func codecArg(args []string, video bool) (core.Codec, error) {
	a, err := oneArg(args)
	if err != nil {
		return core.Unknown, err
	}
	c, err := core.ParseCodec(a)
	if err != nil {
		return core.Unknown, err
	}
	if video != c.IsVideo() {
		return core.Unknown, fmt.Errorf("%s is not a %s codec", c, map[bool]string{true: "video", false: "audio"}[video])
	}
	return c, nil
}

func parseMulticast(a string) (netip.Addr, error) {
	addr, err := resolveAddr(a)
	if err != nil {
		return netip.Addr{}, err
	}
	if !addr.IsMulticast() {
		return netip.Addr{}, fmt.Errorf("%s is not a multicast address", addr)
	}
	return addr, nil
}

func (c *Catalog) validate() error {
	g := c.Global
	if g.MaxClients > 0 && g.MaxHTTPConnections > 0 && g.MaxClients > g.MaxHTTPConnections {
		return fmt.Errorf("MaxClients (%d) exceeds MaxHTTPConnections (%d)", g.MaxClients, g.MaxHTTPConnections)
	}
	for _, s := range c.Streams {
		if s.IsMulticast() && !s.IsRTP() {
			return fmt.Errorf("stream %s: multicast requires the rtp format", s.Name)
		}
	}
	return nil
}
