// Package generator produces synthetic field conditions and crop reference
// data for the backend simulator.
package generator

import (
	"math"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"procodus.dev/irrigation-dashboard/pkg/irrigation"
)

// Field simulates one irrigated plot. It is not safe for concurrent use.
type Field struct {
	baselineTemp     float64
	baselineHumidity float64
	noise            float64
	soil             float64
	dryingRate       float64
	irrigating       bool
}

// NewField creates a field with randomised baselines.
func NewField() *Field {
	return &Field{
		baselineTemp:     20.0 + rand.Float64()*8,  // 20-28°C
		baselineHumidity: 50.0 + rand.Float64()*20, // 50-70%
		noise:            0.5 + rand.Float64()*1.5,
		soil:             35.0 + rand.Float64()*15, // 35-50%
		dryingRate:       0.2 + rand.Float64()*0.3,
	}
}

// SetIrrigating opens or closes the valve.
func (f *Field) SetIrrigating(open bool) { f.irrigating = open }

// Irrigating reports whether the valve is open.
func (f *Field) Irrigating() bool { return f.irrigating }

// Temperature follows a daily cycle peaking mid-afternoon.
func (f *Field) Temperature(t time.Time) float64 {
	hour := float64(t.Hour()) + float64(t.Minute())/60
	daily := 6 * math.Sin((hour-9)*math.Pi/12)
	noise := (rand.Float64() - 0.5) * f.noise

	// Occasional heat spikes (3% chance)
	spike := 0.0
	if rand.Float64() < 0.03 {
		spike = rand.Float64() * 10
	}
	return round1(f.baselineTemp + daily + noise + spike)
}

// Humidity moves against temperature.
func (f *Field) Humidity(t time.Time, temperature float64) float64 {
	hour := float64(t.Hour()) + float64(t.Minute())/60
	daily := -4 * math.Sin((hour-9)*math.Pi/12)
	tempEffect := -(temperature - f.baselineTemp) * 1.2
	noise := (rand.Float64() - 0.5) * f.noise
	return round1(clamp(f.baselineHumidity+daily+tempEffect+noise, 15, 98))
}

// SoilMoisture dries out slowly, faster in the heat, and recovers while the
// valve is open.
func (f *Field) SoilMoisture(temperature float64) float64 {
	if f.irrigating {
		f.soil += 2.5 + rand.Float64()
	} else {
		heat := math.Max(0, temperature-f.baselineTemp) * 0.05
		f.soil -= f.dryingRate + heat
	}
	// Rain (2% chance)
	if rand.Float64() < 0.02 {
		f.soil += 5 + rand.Float64()*10
	}
	f.soil = clamp(f.soil, 5, 95)
	return round1(f.soil + (rand.Float64()-0.5)*0.4)
}

// Reading samples every sensor at t.
func (f *Field) Reading(t time.Time) irrigation.Snapshot {
	temp := f.Temperature(t)
	return irrigation.Snapshot{Timestamp: irrigation.At(t)}.
		With(irrigation.Temperature, temp).
		With(irrigation.Humidity, f.Humidity(t, temp)).
		With(irrigation.SoilMoisture, f.SoilMoisture(temp))
}

// History samples the field every step from 'from' up to and including 'to'.
func (f *Field) History(from, to time.Time, step time.Duration) []irrigation.Snapshot {
	if step <= 0 || to.Before(from) {
		return nil
	}
	out := make([]irrigation.Snapshot, 0, int(to.Sub(from)/step)+1)
	for t := from; !t.After(to); t = t.Add(step) {
		out = append(out, f.Reading(t))
	}
	return out
}

// Split breaks a snapshot into one single-sensor frame per present sensor,
// which is how the sensor gateway pushes updates.
func Split(s irrigation.Snapshot) []irrigation.Snapshot {
	frames := make([]irrigation.Snapshot, 0, len(irrigation.SensorTypes))
	for _, t := range irrigation.SensorTypes {
		if v, ok := s.Value(t); ok {
			frames = append(frames, irrigation.Snapshot{}.With(t, v))
		}
	}
	return frames
}

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }

func round1(v float64) float64 { return math.Round(v*10) / 10 }

// NewCropName returns a random vegetable name for ad-hoc crops.
func NewCropName() string {
	return gofakeit.Vegetable()
}
