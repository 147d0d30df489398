package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/evse-monitor/internal/status"
)

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
	"kwh": func(wh uint32) string {
		return fmt.Sprintf("%.3f", float64(wh)/1000)
	},
	"whFromWs": func(ws uint32) string {
		return fmt.Sprintf("%.1f", float64(ws)/3600)
	},
	"volts": func(mv uint32) string {
		return fmt.Sprintf("%.1f", float64(mv)/1000)
	},
	"amps": func(ma uint32) string {
		return fmt.Sprintf("%.2f", float64(ma)/1000)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>EVSE Monitor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok { color: green; font-weight: bold; }
.fault { color: red; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; background: orange; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
</style>
</head>
<body>
<h1>EVSE Monitor<span id="live-dot" class="live-dot" title="connecting"></span></h1>

<h2>Safety</h2>
<table>
<tr><th>Ground fault</th><td id="fault" class="{{if .Fault}}fault{{else}}ok{{end}}">{{if .Fault}}TRIPPED{{else}}clear{{end}}</td></tr>
<tr><th>Sense module</th><td>{{.Config.Variant}} ({{.Config.LineHz}} Hz)</td></tr>
{{if .SelfTest}}<tr><th>Last self-test</th><td id="selftest" class="{{if .SelfTest.Report.Result.Inconclusive}}fault{{else}}ok{{end}}">{{.SelfTest.Report.Result}} ({{.SelfTest.Trigger}}, {{.SelfTest.At.UTC.Format "2006-01-02T15:04:05Z"}})</td></tr>
<tr><th>Trip / clear</th><td>{{.SelfTest.Report.TripLatency}} / {{.SelfTest.Report.ClearLatency}}</td></tr>
{{else}}<tr><th>Last self-test</th><td id="selftest" class="off">never</td></tr>{{end}}
</table>
<form method="post" action="/selftest"><button type="submit">Run self-test</button></form>

<h2>Charging</h2>
<table>
<tr><th>Session</th><td id="session" class="{{if .InSession}}ok{{else}}off{{end}}">{{if .InSession}}active{{else}}idle{{end}}</td></tr>
<tr><th>Relay</th><td id="relay">{{if .RelayClosed}}closed{{else}}open{{end}}</td></tr>
<tr><th>Voltage</th><td id="voltage">{{volts .VoltageMv}} V</td></tr>
<tr><th>Current</th><td id="current">{{amps .CurrentMa}} A</td></tr>
<tr><th>Session energy</th><td id="session-wh">{{whFromWs .SessionWs}} Wh</td></tr>
<tr><th>Last session</th><td>{{whFromWs .LastSessionWs}} Wh</td></tr>
<tr><th>Total</th><td id="total">{{kwh .TotalWh}} kWh</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Fault</th><td>{{.Counts.Fault}}</td></tr>
<tr><th>Fault cleared</th><td>{{.Counts.FaultCleared}}</td></tr>
<tr><th>Sessions</th><td>{{.Counts.SessionStart}}</td></tr>
<tr><th>Relay closed</th><td>{{.Counts.RelayClosed}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Storage</th><td>{{.Config.Storage}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function text(id, v) { var el = document.getElementById(id); if (el) el.textContent = v; }
  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { dot.className = "live-dot ok"; dot.title = "live"; };
    ws.onclose = function() { dot.className = "live-dot err"; dot.title = "offline"; setTimeout(connect, 5000); };
    ws.onmessage = function(ev) {
      try {
        var s = JSON.parse(ev.data).status;
        var f = document.getElementById("fault");
        f.textContent = s.fault ? "TRIPPED" : "clear";
        f.className = s.fault ? "fault" : "ok";
        text("session", s.session.active ? "active" : "idle");
        text("relay", s.relay_closed ? "closed" : "open");
        text("voltage", (s.voltage_mv / 1000).toFixed(1) + " V");
        text("current", (s.current_ma / 1000).toFixed(2) + " A");
        text("session-wh", (s.session.watt_seconds / 3600).toFixed(1) + " Wh");
        text("total", (s.total_wh / 1000).toFixed(3) + " kWh");
        if (s.selftest) text("selftest", s.selftest.result + " (" + s.selftest.trigger + ", " + s.selftest.timestamp + ")");
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
