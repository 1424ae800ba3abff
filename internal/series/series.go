// Package series turns raw sensor readings into chart-ready series: window
// filtering, sliding caps, grouping by timestamp, axis labels and summaries.
// Every function here is pure.
package series

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"procodus.dev/irrigation-dashboard/pkg/irrigation"
)

// Window is a chart time range.
type Window string

const (
	Day   Window = "day"
	Week  Window = "week"
	Month Window = "month"
)

const (
	// DayCap is how many points the live day chart keeps.
	DayCap = 15
	// RetentionCap bounds every client-side reading buffer.
	RetentionCap = 1000
)

// Windows lists the selectable ranges in display order.
var Windows = []Window{Day, Week, Month}

var errUnknownWindow = errors.New("unknown time window")

// ParseWindow parses "day", "week" or "month". The empty string is Day.
func ParseWindow(s string) (Window, error) {
	switch Window(strings.ToLower(strings.TrimSpace(s))) {
	case "", Day:
		return Day, nil
	case Week:
		return Week, nil
	case Month:
		return Month, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownWindow, s)
	}
}

// Span is the window's length.
func (w Window) Span() time.Duration {
	switch w {
	case Week:
		return 7 * 24 * time.Hour
	case Month:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Label is the selector caption.
func (w Window) Label() string {
	switch w {
	case Week:
		return "Last 7 Days"
	case Month:
		return "Last 4 Weeks"
	default:
		return "Last 24 Hours"
	}
}

// Cutoff is the exclusive lower bound of the window ending at now.
func Cutoff(w Window, now time.Time) time.Time {
	return now.Add(-w.Span())
}

// Filter keeps readings strictly newer than the window cutoff, preserving order.
func Filter(readings []irrigation.SensorReading, w Window, now time.Time) []irrigation.SensorReading {
	cutoff := Cutoff(w, now)
	out := make([]irrigation.SensorReading, 0, len(readings))
	for _, r := range readings {
		if r.Timestamp.After(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// KeepLast returns at most the n most recent readings, oldest first.
// The input must already be in chronological order.
func KeepLast(readings []irrigation.SensorReading, n int) []irrigation.SensorReading {
	if n <= 0 {
		return nil
	}
	if len(readings) <= n {
		return readings
	}
	return readings[len(readings)-n:]
}

// ForDisplay applies the view policy: the window filter, and for Day the
// live-chart cap of DayCap points.
func ForDisplay(readings []irrigation.SensorReading, w Window, now time.Time) []irrigation.SensorReading {
	sorted := Sorted(readings)
	filtered := Filter(sorted, w, now)
	if w == Day {
		return KeepLast(filtered, DayCap)
	}
	return filtered
}

// Sorted returns a chronologically ordered copy.
func Sorted(readings []irrigation.SensorReading) []irrigation.SensorReading {
	out := make([]irrigation.SensorReading, len(readings))
	copy(out, readings)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp.Time)
	})
	return out
}

// Row is one chart row: a timestamp and the sensors that reported exactly then.
// Sensors missing from Values are display gaps, not errors.
type Row struct {
	Timestamp time.Time
	Values    map[irrigation.SensorType]float64
}

// Value returns a sensor's value in the row.
func (r Row) Value(t irrigation.SensorType) (float64, bool) {
	v, ok := r.Values[t]
	return v, ok
}

// GroupByTimestamp merges readings of several sensors into one row per exact
// timestamp, oldest first.
func GroupByTimestamp(readings ...[]irrigation.SensorReading) []Row {
	index := make(map[int64]*Row)
	for _, set := range readings {
		for _, r := range set {
			key := r.Timestamp.UnixNano()
			row, ok := index[key]
			if !ok {
				row = &Row{Timestamp: r.Timestamp.Time, Values: make(map[irrigation.SensorType]float64, 3)}
				index[key] = row
			}
			row.Values[r.SensorType] = r.Value
		}
	}

	rows := make([]Row, 0, len(index))
	for _, row := range index {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
	return rows
}

// LastRows keeps the n most recent rows.
func LastRows(rows []Row, n int) []Row {
	if n <= 0 {
		return nil
	}
	if len(rows) <= n {
		return rows
	}
	return rows[len(rows)-n:]
}

// AxisLabel formats an x-axis tick for the window.
func AxisLabel(t time.Time, w Window) string {
	switch w {
	case Week:
		return t.Format("02 Jan")
	case Month:
		_, week := t.ISOWeek()
		return fmt.Sprintf("W%02d", week)
	default:
		return t.Format("15:04")
	}
}
