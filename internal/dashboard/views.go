package dashboard

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/a-h/templ"

	"procodus.dev/irrigation-dashboard/internal/series"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
)

type navbar struct {
	Username string
	Active   string
}

var navLinks = []struct{ Href, Label string }{
	{"/home", "Home"},
	{"/crops", "Crops"},
	{"/multi-sensor-graph", "Graphs"},
	{"/notifications", "Notifications"},
	{"/profile", "Profile"},
}

const stylesheet = `body{font-family:system-ui,sans-serif;margin:0;background:#f4f7f2;color:#1d2a1d}
.navbar{display:flex;gap:1rem;align-items:center;background:#2f6b3a;color:#fff;padding:.5rem 1rem}
.navbar a{color:#fff;text-decoration:none}.navbar ul{display:flex;gap:.75rem;list-style:none;margin:0;padding:0;flex:1}
.navbar .active{font-weight:bold;text-decoration:underline}
main{max-width:960px;margin:1.5rem auto;padding:0 1rem}
.card{background:#fff;border-radius:6px;padding:1rem;margin-bottom:1rem;box-shadow:0 1px 2px #0002}
.toast{padding:.5rem 1rem;margin:.5rem auto;max-width:960px;border-radius:4px}
.toast-info{background:#e3f0fb}.toast-success{background:#dff3e0}.toast-warning{background:#fff4d6}.toast-error{background:#fde2e1}
.readings{display:flex;gap:1rem}.reading{flex:1;text-align:center}.reading strong{font-size:1.6rem;display:block}
table{border-collapse:collapse;width:100%}td,th{border-bottom:1px solid #ddd;padding:.3rem;text-align:left}
.unread{font-weight:bold}form.inline{display:inline}`

// liveScript subscribes elements marked data-sensor to /live/stream and
// shows alert events as toasts.
const liveScript = `<script>
(function(){
  var root=document.querySelector("[data-stream]");if(!root)return;
  var es=new EventSource(root.getAttribute("data-stream"));
  es.addEventListener("snapshot",function(e){var s=JSON.parse(e.data);
    document.querySelectorAll("[data-sensor]").forEach(function(el){
      var k=el.getAttribute("data-sensor");if(s[k]!==undefined&&s[k]!==null){el.textContent=s[k].toFixed(1)+el.getAttribute("data-unit");}});});
  es.addEventListener("notification",function(e){var n=JSON.parse(e.data);
    var t=document.createElement("div");t.className="toast toast-warning";t.textContent=n.message;
    document.getElementById("toasts").appendChild(t);});
  es.addEventListener("logout",function(){es.close();window.location="/login";});
})();
</script>`

type homeData struct {
	Username string
	Selected *irrigation.UserCropMapping
	Snapshot irrigation.Snapshot
	Unread   int
}

// stream is the live endpoint, scoped to the selected crop when there is one.
func (d homeData) stream() string {
	if d.Selected == nil {
		return "/live/stream"
	}
	return fmt.Sprintf("/live/stream?cropId=%d", d.Selected.Crop.ID)
}

func mappingRanges(m *irrigation.UserCropMapping) string {
	return fmt.Sprintf("temperature %.1f to %.1f°C, humidity %.1f to %.1f%%, soil moisture %.1f to %.1f%%",
		m.CustomMinTemperature, m.CustomMaxTemperature, m.CustomMinHumidity, m.CustomMaxHumidity,
		m.CustomMinSoilMoisture, m.CustomMaxSoilMoisture)
}

// controlPanelURL builds a control panel link; suffix is a sub-path or query.
func controlPanelURL(cropID int64, suffix string) templ.SafeURL {
	return templ.SafeURL(fmt.Sprintf("/control-panel/%d%s", cropID, suffix))
}

func irrigationWindow(m *irrigation.UserCropMapping) string {
	if m.CustomIrrigationStartTime == "" && m.CustomIrrigationEndTime == "" {
		return "Not scheduled"
	}
	return m.CustomIrrigationStartTime + " – " + m.CustomIrrigationEndTime
}

var cropRangeFields = []struct{ label, name string }{
	{"Min temperature (°C)", "minTemperature"}, {"Max temperature (°C)", "maxTemperature"},
	{"Min humidity (%)", "minHumidity"}, {"Max humidity (%)", "maxHumidity"},
	{"Min soil moisture (%)", "minSoilMoisture"}, {"Max soil moisture (%)", "maxSoilMoisture"},
}

func windowURL(path string, w series.Window) templ.SafeURL {
	return templ.SafeURL(path + "?window=" + url.QueryEscape(string(w)))
}

const sparkWidth, sparkHeight = 600.0, 160.0

// sparkPoints scales values into the sparkline box as polyline points.
func sparkPoints(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo, hi = min(lo, v), max(hi, v)
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}
	points := make([]string, len(values))
	for i, v := range values {
		x := 0.0
		if len(values) > 1 {
			x = float64(i) * sparkWidth / float64(len(values)-1)
		}
		y := sparkHeight - (v-lo)/span*sparkHeight
		points[i] = fmt.Sprintf("%.1f,%.1f", x, y)
	}
	return strings.Join(points, " ")
}

type summaryLine struct {
	Label   string
	Unit    string
	Summary series.Summary
}

type graphData struct {
	Sensor   irrigation.SensorType
	Window   series.Window
	Readings []irrigation.SensorReading
	Summary  series.Summary
}

func (d graphData) values() []float64 {
	values := make([]float64, len(d.Readings))
	for i, r := range d.Readings {
		values[i] = r.Value
	}
	return values
}

func (d graphData) summaryLines() []summaryLine {
	return []summaryLine{{Label: d.Sensor.Label(), Unit: d.Sensor.Unit(), Summary: d.Summary}}
}

type multiGraphData struct {
	Window    series.Window
	Rows      []series.Row
	Summaries map[irrigation.SensorType]series.Summary
}

func (d multiGraphData) summaryLines() []summaryLine {
	lines := make([]summaryLine, 0, len(irrigation.SensorTypes))
	for _, t := range irrigation.SensorTypes {
		lines = append(lines, summaryLine{Label: t.Label(), Unit: t.Unit(), Summary: d.Summaries[t]})
	}
	return lines
}

func cell(row series.Row, t irrigation.SensorType) string {
	if v, ok := row.Value(t); ok {
		return fmt.Sprintf("%.1f%s", v, t.Unit())
	}
	return "–"
}
