// Package irrigation holds the domain types shared by the dashboard, the live feed,
// the alert monitor and the backend simulator.
package irrigation

import (
	"errors"
	"fmt"
	"strings"
)

// SensorType identifies one of the field sensors.
type SensorType string

const (
	Temperature  SensorType = "Temperature"
	Humidity     SensorType = "Humidity"
	SoilMoisture SensorType = "SoilMoisture"
)

// SensorTypes lists every sensor in display order.
var SensorTypes = []SensorType{Temperature, Humidity, SoilMoisture}

var errUnknownSensor = errors.New("unknown sensor type")

// ParseSensorType accepts the canonical names as well as lower/camel case
// spellings such as "temperature" or "soilMoisture".
func ParseSensorType(s string) (SensorType, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "")) {
	case "temperature":
		return Temperature, nil
	case "humidity":
		return Humidity, nil
	case "soilmoisture":
		return SoilMoisture, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownSensor, s)
	}
}

// Unit returns the display unit for the sensor.
func (t SensorType) Unit() string {
	if t == Temperature {
		return "°C"
	}
	return "%"
}

// Label returns a human readable name.
func (t SensorType) Label() string {
	if t == SoilMoisture {
		return "Soil Moisture"
	}
	return string(t)
}

// SensorReading is a single timestamped value. Readings are immutable once received.
type SensorReading struct {
	Timestamp  Timestamp  `json:"timestamp"`
	SensorType SensorType `json:"sensorType"`
	Value      float64    `json:"value"`
}

// Crop is server-owned reference data describing ideal ranges for a plant type.
type Crop struct {
	Description     string  `json:"description,omitempty"`
	ImageURL        string  `json:"imageUrl,omitempty"`
	Name            string  `json:"name"`
	ID              int64   `json:"id"`
	MinTemperature  float64 `json:"minTemperature"`
	MaxTemperature  float64 `json:"maxTemperature"`
	MinHumidity     float64 `json:"minHumidity"`
	MaxHumidity     float64 `json:"maxHumidity"`
	MinSoilMoisture float64 `json:"minSoilMoisture"`
	MaxSoilMoisture float64 `json:"maxSoilMoisture"`
}

// Range is an inclusive [Min, Max] interval.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// UserCropMapping is one user's crop selection with personalised thresholds.
// Crop.ID never changes after creation; only the Custom* fields are edited.
type UserCropMapping struct {
	CustomIrrigationStartTime string  `json:"customIrrigationStartTime,omitempty"`
	CustomIrrigationEndTime   string  `json:"customIrrigationEndTime,omitempty"`
	Crop                      Crop    `json:"crop"`
	ID                        int64   `json:"id"`
	UserID                    int64   `json:"userId"`
	CustomMinTemperature      float64 `json:"customMinTemperature"`
	CustomMaxTemperature      float64 `json:"customMaxTemperature"`
	CustomMinHumidity         float64 `json:"customMinHumidity"`
	CustomMaxHumidity         float64 `json:"customMaxHumidity"`
	CustomMinSoilMoisture     float64 `json:"customMinSoilMoisture"`
	CustomMaxSoilMoisture     float64 `json:"customMaxSoilMoisture"`
}

// Threshold returns the user's active range for a sensor.
func (m UserCropMapping) Threshold(t SensorType) Range {
	switch t {
	case Temperature:
		return Range{Min: m.CustomMinTemperature, Max: m.CustomMaxTemperature}
	case Humidity:
		return Range{Min: m.CustomMinHumidity, Max: m.CustomMaxHumidity}
	default:
		return Range{Min: m.CustomMinSoilMoisture, Max: m.CustomMaxSoilMoisture}
	}
}

// ThresholdUpdate carries the mutable fields of a UserCropMapping.
type ThresholdUpdate struct {
	CustomIrrigationStartTime string  `json:"customIrrigationStartTime,omitempty"`
	CustomIrrigationEndTime   string  `json:"customIrrigationEndTime,omitempty"`
	CustomMinTemperature      float64 `json:"customMinTemperature"`
	CustomMaxTemperature      float64 `json:"customMaxTemperature"`
	CustomMinHumidity         float64 `json:"customMinHumidity"`
	CustomMaxHumidity         float64 `json:"customMaxHumidity"`
	CustomMinSoilMoisture     float64 `json:"customMinSoilMoisture"`
	CustomMaxSoilMoisture     float64 `json:"customMaxSoilMoisture"`
}

// Update returns the update that reproduces the mapping's current custom fields.
func (m UserCropMapping) Update() ThresholdUpdate {
	return ThresholdUpdate{
		CustomIrrigationStartTime: m.CustomIrrigationStartTime,
		CustomIrrigationEndTime:   m.CustomIrrigationEndTime,
		CustomMinTemperature:      m.CustomMinTemperature,
		CustomMaxTemperature:      m.CustomMaxTemperature,
		CustomMinHumidity:         m.CustomMinHumidity,
		CustomMaxHumidity:         m.CustomMaxHumidity,
		CustomMinSoilMoisture:     m.CustomMinSoilMoisture,
		CustomMaxSoilMoisture:     m.CustomMaxSoilMoisture,
	}
}

// Apply copies the update onto the mapping. The crop is left untouched.
func (m *UserCropMapping) Apply(u ThresholdUpdate) {
	m.CustomIrrigationStartTime = u.CustomIrrigationStartTime
	m.CustomIrrigationEndTime = u.CustomIrrigationEndTime
	m.CustomMinTemperature = u.CustomMinTemperature
	m.CustomMaxTemperature = u.CustomMaxTemperature
	m.CustomMinHumidity = u.CustomMinHumidity
	m.CustomMaxHumidity = u.CustomMaxHumidity
	m.CustomMinSoilMoisture = u.CustomMinSoilMoisture
	m.CustomMaxSoilMoisture = u.CustomMaxSoilMoisture
}

// DefaultMapping seeds a mapping's thresholds from the crop's ideal ranges.
func DefaultMapping(userID int64, crop Crop) UserCropMapping {
	return UserCropMapping{
		UserID:                userID,
		Crop:                  crop,
		CustomMinTemperature:  crop.MinTemperature,
		CustomMaxTemperature:  crop.MaxTemperature,
		CustomMinHumidity:     crop.MinHumidity,
		CustomMaxHumidity:     crop.MaxHumidity,
		CustomMinSoilMoisture: crop.MinSoilMoisture,
		CustomMaxSoilMoisture: crop.MaxSoilMoisture,
	}
}

// Notification is a server-owned alert message.
type Notification struct {
	CreatedAt Timestamp `json:"createdAt"`
	Message   string    `json:"message"`
	ID        int64     `json:"id,omitempty"`
	UserID    int64     `json:"userId,omitempty"`
	Read      bool      `json:"read"`
}

// User is the profile returned by the backend.
type User struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email"`
	Username string `json:"username"`
	ID       int64  `json:"id,omitempty"`
}
