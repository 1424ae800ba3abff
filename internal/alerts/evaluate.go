// Package alerts compares live readings with a user's crop thresholds and
// raises at most one notification per user per de-duplication window.
package alerts

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"procodus.dev/irrigation-dashboard/pkg/irrigation"
)

// DefaultDedupeWindow is the minimum time between two notifications to the
// same user.
const DefaultDedupeWindow = 30 * time.Minute

// Breach is one sensor value outside the user's range.
type Breach struct {
	Sensor irrigation.SensorType `json:"sensor"`
	Value  float64               `json:"value"`
	Min    float64               `json:"min"`
	Max    float64               `json:"max"`
}

func (b Breach) String() string {
	unit := b.Sensor.Unit()
	if b.Value < b.Min {
		return fmt.Sprintf("%s %.1f%s is below the minimum of %.1f%s", b.Sensor.Label(), b.Value, unit, b.Min, unit)
	}
	return fmt.Sprintf("%s %.1f%s is above the maximum of %.1f%s", b.Sensor.Label(), b.Value, unit, b.Max, unit)
}

// Evaluate returns every sensor in the snapshot whose value lies outside the
// mapping's custom range. Sensors without a value are not checked.
func Evaluate(snap irrigation.Snapshot, m irrigation.UserCropMapping) []Breach {
	var breaches []Breach
	for _, t := range irrigation.SensorTypes {
		v, ok := snap.Value(t)
		if !ok {
			continue
		}
		r := m.Threshold(t)
		if !r.Contains(v) {
			breaches = append(breaches, Breach{Sensor: t, Value: v, Min: r.Min, Max: r.Max})
		}
	}
	return breaches
}

// Message combines breaches into one notification text.
func Message(crop string, breaches []Breach) string {
	parts := make([]string, len(breaches))
	for i, b := range breaches {
		parts[i] = b.String()
	}
	if crop == "" {
		return "Threshold alert: " + strings.Join(parts, "; ") + "."
	}
	return fmt.Sprintf("Threshold alert for %s: %s.", crop, strings.Join(parts, "; "))
}

// Deduper remembers when each user was last notified. Safe for concurrent use,
// so one instance can be shared by every monitor in the process.
type Deduper struct {
	mu     sync.Mutex
	window time.Duration
	last   map[int64]time.Time
	now    func() time.Time
}

// NewDeduper creates a Deduper. A non-positive window means DefaultDedupeWindow.
func NewDeduper(window time.Duration) *Deduper {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	return &Deduper{window: window, last: make(map[int64]time.Time), now: time.Now}
}

// WithClock replaces the time source.
func (d *Deduper) WithClock(now func() time.Time) *Deduper {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
	return d
}

// Window returns the configured window.
func (d *Deduper) Window() time.Duration { return d.window }

// Allow reports whether the user may be notified now and, if so, records it.
func (d *Deduper) Allow(userID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.last[userID]; ok && now.Sub(last) < d.window {
		return false
	}
	d.last[userID] = now
	return true
}

// Forget drops the user's record so the next Allow succeeds.
func (d *Deduper) Forget(userID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.last, userID)
}
