package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/alarm-monitor/internal/query"
	"github.com/sweeney/alarm-monitor/internal/status"
	"github.com/sweeney/alarm-monitor/internal/store"
)

// pageData is everything the status page renders.
type pageData struct {
	status.Snapshot
	Uptime    time.Duration
	Selection query.Selection
	Records   []store.Record
	Filters   query.Filters
	Error     string
}

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.Local().Format("2006-01-02 15:04:05")
	},
	"selected": func(current, option string) bool {
		if current == "" {
			current = store.All
		}
		return current == option
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Alarm Monitor - {{.Config.Source}}</title>
<style>
body { font-family: monospace; max-width: 1000px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
table.status th { width: 40%; }
.alarm { color: red; font-weight: bold; }
.event { color: green; }
.connected { color: green; }
.disconnected { color: red; }
.error { color: red; }
form label { margin-right: 1em; }
</style>
</head>
<body>
<h1>Alarm Monitor - {{.Config.Source}}</h1>

<h2>Monitor</h2>
<table class="status">
<tr><th>State</th><td>{{.State}}</td></tr>
<tr><th>Fieldbus</th><td class="{{if .Connected}}connected{{else}}disconnected{{end}}">{{if .Connected}}connected{{else}}disconnected{{end}} ({{.Config.Driver}} {{.Config.Device}})</td></tr>
<tr><th>Active alarms</th><td{{if .ActiveCount}} class="alarm"{{end}}>{{.ActiveCount}} of {{.TotalCount}}</td></tr>
<tr><th>Unread points</th><td>{{.UnreadCount}}</td></tr>
<tr><th>Last scan</th><td>{{stamp .LastScan}}</td></tr>
{{if .LastError}}<tr><th>Last error</th><td class="error">{{.LastError}}</td></tr>{{end}}
</table>

<h2>Counters</h2>
<table class="status">
<tr><th>Scans</th><td>{{.Counters.Scans}}</td></tr>
<tr><th>Alarms</th><td>{{.Counters.Alarms}}</td></tr>
<tr><th>Events</th><td>{{.Counters.Events}}</td></tr>
<tr><th>Read errors</th><td>{{.Counters.ReadErrors}}</td></tr>
<tr><th>Write errors</th><td>{{.Counters.WriteErrors}}</td></tr>
<tr><th>Connect failures</th><td>{{.Counters.ConnectFailures}}</td></tr>
</table>

<h2>System</h2>
<table class="status">
<tr><th>Store</th><td class="{{if .StoreConnected}}connected{{else}}disconnected{{end}}">{{.Config.Database}} {{if .StoreConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .Config.Broker}}{{.Config.Broker}} {{if .MQTTConnected}}connected{{else}}disconnected{{end}}{{else}}disabled{{end}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{stamp .StartTime}}</td></tr>
<tr><th>Scan interval</th><td>{{.Config.ScanInterval}}</td></tr>
{{if .Config.InstanceID}}<tr><th>Instance</th><td>{{.Config.InstanceID}}</td></tr>{{end}}
</table>

<h2>History</h2>
<form method="get" action="/">
<label>From <input type="date" name="from_date" value="{{.Selection.FromDate}}"> <input type="time" step="1" name="from_time" value="{{.Selection.FromTime}}"></label>
<label>To <input type="date" name="to_date" value="{{.Selection.ToDate}}"> <input type="time" step="1" name="to_time" value="{{.Selection.ToTime}}"></label>
<br>
<label>Type <select name="kind">{{range .Filters.Kinds}}<option{{if selected $.Selection.Kind .}} selected{{end}}>{{.}}</option>{{end}}</select></label>
<label>Status <select name="status">{{range .Filters.Statuses}}<option{{if selected $.Selection.Status .}} selected{{end}}>{{.}}</option>{{end}}</select></label>
<label>Description <select name="description">{{range .Filters.Descriptions}}<option{{if selected $.Selection.Description .}} selected{{end}}>{{.}}</option>{{end}}</select></label>
<label>Source <select name="source">{{range .Filters.Sources}}<option{{if selected $.Selection.Source .}} selected{{end}}>{{.}}</option>{{end}}</select></label>
<label>Search <input type="text" name="q" value="{{.Selection.Search}}"></label>
<button type="submit">Filter</button>
</form>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
<table>
<tr><th>Log No</th><th>Date/Time</th><th>Type</th><th>Description</th><th>Status</th><th>Source</th></tr>
{{range .Records}}<tr class="{{if eq (printf "%s" .Kind) "Alarm"}}alarm{{else}}event{{end}}"><td>{{.LogNo}}</td><td>{{stamp .Timestamp}}</td><td>{{.Kind}}</td><td>{{.Description}}</td><td>{{.Status}}</td><td>{{.Source}}</td></tr>
{{else}}<tr><td colspan="6">No records</td></tr>
{{end}}</table>

<p><a href="/index.json">JSON</a> | <a href="/api/records">Records API</a> | <a href="/metrics">Metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, page pageData) error {
	return indexTmpl.Execute(w, page)
}
