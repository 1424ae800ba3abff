package series

import (
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"procodus.dev/irrigation-dashboard/pkg/irrigation"
)

// Summary describes one sensor's values in a chart.
type Summary struct {
	Count int
	Mean  float64
	Min   float64
	Max   float64
}

// Summarize computes count, mean, min and max of a sensor over the rows.
// Rows without a value for the sensor are skipped.
func Summarize(rows []Row, t irrigation.SensorType) Summary {
	values := make([]float64, 0, len(rows))
	for _, r := range rows {
		if v, ok := r.Value(t); ok {
			values = append(values, v)
		}
	}
	return summarize(values)
}

// SummarizeReadings is Summarize for a single-sensor series.
func SummarizeReadings(readings []irrigation.SensorReading) Summary {
	values := make([]float64, len(readings))
	for i, r := range readings {
		values[i] = r.Value
	}
	return summarize(values)
}

func summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	return Summary{
		Count: len(values),
		Mean:  stat.Mean(values, nil),
		Min:   floats.Min(values),
		Max:   floats.Max(values),
	}
}

// Buffer is a bounded sliding window of readings, safe for concurrent use.
// Appending beyond the capacity drops the oldest readings.
type Buffer struct {
	mu       sync.Mutex
	readings []irrigation.SensorReading
	capacity int
}

// NewBuffer creates a buffer. A non-positive capacity means RetentionCap.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 || capacity > RetentionCap {
		capacity = RetentionCap
	}
	return &Buffer{capacity: capacity, readings: make([]irrigation.SensorReading, 0, capacity)}
}

// Append adds readings, evicting the oldest past capacity.
func (b *Buffer) Append(rs ...irrigation.SensorReading) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.readings = append(b.readings, rs...)
	if over := len(b.readings) - b.capacity; over > 0 {
		kept := make([]irrigation.SensorReading, b.capacity)
		copy(kept, b.readings[over:])
		b.readings = kept
	}
}

// Readings returns a copy of the buffered readings, oldest first.
func (b *Buffer) Readings() []irrigation.SensorReading {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]irrigation.SensorReading, len(b.readings))
	copy(out, b.readings)
	return out
}

// Len returns the number of buffered readings.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.readings)
}
