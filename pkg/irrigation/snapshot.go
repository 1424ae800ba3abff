package irrigation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Snapshot is the latest known value per sensor. A nil field means the sensor
// has not reported yet. Frames pushed over the live socket decode into the
// same shape with only the fields they carry set.
type Snapshot struct {
	Temperature  *float64  `json:"Temperature,omitempty"`
	Humidity     *float64  `json:"Humidity,omitempty"`
	SoilMoisture *float64  `json:"SoilMoisture,omitempty"`
	Timestamp    Timestamp `json:"timestamp,omitzero"`
}

// Merge returns s updated with every field present in frame. Absent fields keep
// their prior value, so a partial frame never blanks out other sensors.
func (s Snapshot) Merge(frame Snapshot) Snapshot {
	if frame.Temperature != nil {
		s.Temperature = ptr(*frame.Temperature)
	}
	if frame.Humidity != nil {
		s.Humidity = ptr(*frame.Humidity)
	}
	if frame.SoilMoisture != nil {
		s.SoilMoisture = ptr(*frame.SoilMoisture)
	}
	if !frame.Timestamp.IsZero() {
		s.Timestamp = frame.Timestamp
	}
	return s
}

// Value returns the sensor's value and whether it is known.
func (s Snapshot) Value(t SensorType) (float64, bool) {
	var p *float64
	switch t {
	case Temperature:
		p = s.Temperature
	case Humidity:
		p = s.Humidity
	case SoilMoisture:
		p = s.SoilMoisture
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// With returns a copy of s with one sensor set.
func (s Snapshot) With(t SensorType, v float64) Snapshot {
	switch t {
	case Temperature:
		s.Temperature = ptr(v)
	case Humidity:
		s.Humidity = ptr(v)
	case SoilMoisture:
		s.SoilMoisture = ptr(v)
	}
	return s
}

// Empty reports whether no sensor has a value.
func (s Snapshot) Empty() bool {
	return s.Temperature == nil && s.Humidity == nil && s.SoilMoisture == nil
}

// Readings flattens the known values into readings stamped with at.
func (s Snapshot) Readings(at time.Time) []SensorReading {
	out := make([]SensorReading, 0, len(SensorTypes))
	for _, t := range SensorTypes {
		if v, ok := s.Value(t); ok {
			out = append(out, SensorReading{SensorType: t, Value: v, Timestamp: Timestamp{at}})
		}
	}
	return out
}

// Format renders a sensor value with its unit, or "N/A".
func (s Snapshot) Format(t SensorType) string {
	v, ok := s.Value(t)
	if !ok {
		return "N/A"
	}
	return fmt.Sprintf("%.1f%s", v, t.Unit())
}

func ptr(v float64) *float64 { return &v }

// Timestamp decodes both RFC 3339 instants and the zone-less local date-times
// the backend emits, which are read as UTC.
type Timestamp struct {
	time.Time
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	// Epoch milliseconds.
	if len(b) > 0 && b[0] != '"' {
		var ms int64
		if err := json.Unmarshal(b, &ms); err != nil {
			return fmt.Errorf("invalid timestamp %s: %w", b, err)
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	for _, layout := range localLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// At wraps a time.Time.
func At(t time.Time) Timestamp { return Timestamp{t} }
