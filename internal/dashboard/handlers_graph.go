package dashboard

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"procodus.dev/irrigation-dashboard/internal/poll"
	"procodus.dev/irrigation-dashboard/internal/series"
	"procodus.dev/irrigation-dashboard/internal/session"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
)

// window reads ?window=, falling back to Day with a warning toast.
func (s *Server) window(r *http.Request, rq *request) series.Window {
	w, err := series.ParseWindow(r.URL.Query().Get("window"))
	if err != nil {
		s.flash(r.Context(), rq, session.Warning, "Unknown time range; showing the last 24 hours.")
		return series.Day
	}
	return w
}

// setRefresh asks the browser to reload the graph on the poll cadence:
// live for the day window, slower for history.
func (s *Server) setRefresh(w http.ResponseWriter, win series.Window) {
	policy := s.config.HistoryGraphPolicy
	if win == series.Day {
		policy = s.config.LiveGraphPolicy
	}
	refreshEvery(w, policy)
}

// refreshEvery sets the Refresh header to one policy delay, at least a second.
func refreshEvery(w http.ResponseWriter, policy poll.Policy) {
	secs := int(math.Ceil(policy.Delay(0).Seconds()))
	w.Header().Set("Refresh", strconv.Itoa(max(secs, 1)))
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request, rq *request) {
	t, err := irrigation.ParseSensorType(r.PathValue("sensorType"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	win := s.window(r, rq)

	readings, err := rq.api.SensorSeries(r.Context(), t, string(win))
	if err != nil && !s.report(w, r, rq, err, "Could not load sensor history.") {
		return
	}
	shown := series.ForDisplay(readings, win, time.Now())

	s.setRefresh(w, win)
	s.render(w, r, rq, "graph", t.Label(), graphPage(graphData{
		Sensor:   t,
		Window:   win,
		Readings: shown,
		Summary:  series.SummarizeReadings(shown),
	}))
}

// handleMultiSensorGraph fetches every sensor concurrently and lines the
// readings up by timestamp.
func (s *Server) handleMultiSensorGraph(w http.ResponseWriter, r *http.Request, rq *request) {
	win := s.window(r, rq)
	now := time.Now()

	sets := make([][]irrigation.SensorReading, len(irrigation.SensorTypes))
	g, ctx := errgroup.WithContext(r.Context())
	for i, t := range irrigation.SensorTypes {
		g.Go(func() error {
			readings, err := rq.api.SensorSeries(ctx, t, string(win))
			if err != nil {
				return err
			}
			sets[i] = series.Filter(series.Sorted(readings), win, now)
			return nil
		})
	}
	if err := g.Wait(); err != nil && !s.report(w, r, rq, err, "Could not load sensor history.") {
		return
	}

	rows := series.GroupByTimestamp(sets...)
	if win == series.Day {
		rows = series.LastRows(rows, series.DayCap)
	}
	summaries := make(map[irrigation.SensorType]series.Summary, len(irrigation.SensorTypes))
	for _, t := range irrigation.SensorTypes {
		summaries[t] = series.Summarize(rows, t)
	}

	s.setRefresh(w, win)
	s.render(w, r, rq, "multi_sensor_graph", "All sensors", multiGraphPage(multiGraphData{
		Window:    win,
		Rows:      rows,
		Summaries: summaries,
	}))
}
