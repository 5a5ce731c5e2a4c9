package media

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var statusTemplate = template.Must(template.New("status").Funcs(template.FuncMap{
	"join": strings.Join,
	"kbit": func(bytesPerSecond int64) int64 { return bytesPerSecond * 8 / 1000 },
	"uptime": func(start, now time.Time) string {
		return now.Sub(start).Truncate(time.Second).String()
	},
}).Parse(`<!DOCTYPE html>
<html><head><title>feedcast Status</title></head>
<body>
<h1>feedcast Status</h1>
<p>Up {{uptime .StartedAt .Now}}</p>
<h2>Available Streams</h2>
<table cellspacing="0" cellpadding="4">
<tr><th>Path</th><th>Served<br>Conns</th><th>Served<br>bytes</th><th>Format</th><th>Bit rate<br>kbit/s</th><th>Codecs</th><th>Feed</th></tr>
{{range .Streams}}<tr><td>{{if eq .Kind "status" "redirect" "feed"}}{{.Name}}{{else}}<a href="/{{.Name}}">{{.Name}}</a>{{end}}</td><td align="right">{{.ConnsServed}}</td><td align="right">{{.BytesServed}}</td><td>{{if .Format}}{{.Format}}{{else}}{{.Kind}}{{end}}</td><td align="right">{{.Bandwidth}}</td><td>{{join .Codecs " "}}</td><td>{{.Feed}}{{if .Multicast}} (multicast {{.Multicast}}){{end}}</td></tr>
{{end}}</table>
{{if .Feeds}}<h2>Feeds</h2>
<table cellspacing="0" cellpadding="4">
<tr><th>Feed</th><th>File</th><th>Size</th><th>Write index</th><th>Records</th><th>Producer</th><th>Waiting</th></tr>
{{range .Feeds}}<tr><td>{{.Name}}</td><td>{{.File}}</td><td align="right">{{.MaxSize}}</td><td align="right">{{.WriteIndex}}</td><td align="right">{{.Records}}</td><td>{{if .Producing}}connected{{else}}-{{end}}{{if .ChildPID}} (pid {{.ChildPID}}){{end}}</td><td align="right">{{.Waiters}}</td></tr>
{{end}}</table>{{end}}
<h2>Connection Status</h2>
<p>Number of connections: {{.Connections}} / {{.MaxConnections}}<br>
Bandwidth in use: {{.Bandwidth}}k / {{.MaxBandwidth}}k</p>
<table cellspacing="0" cellpadding="4">
<tr><th>#</th><th>File</th><th>IP</th><th>Proto</th><th>State</th><th>Target bits/sec</th><th>Actual bits/sec</th><th>Bytes transferred</th></tr>
{{range $i, $c := .Conns}}<tr><td>{{$c.ID}}</td><td>{{$c.Stream}}</td><td>{{$c.Remote}}</td><td>{{$c.Protocol}}</td><td>{{$c.State}}</td><td align="right">{{$c.Bandwidth}}k</td><td align="right">{{kbit $c.Rate}}k</td><td align="right">{{$c.BytesSent}}</td></tr>
{{end}}</table>
<hr>Generated at {{.Now.UTC.Format "Mon, 02 Jan 2006 15:04:05 GMT"}}
</body></html>
`))

// renderStatus builds the HTML status page from a registry snapshot.
func (st *ServerState) renderStatus() ([]byte, error) {
	var buf bytes.Buffer
	if err := statusTemplate.Execute(&buf, st.snapshot()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
