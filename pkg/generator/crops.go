package generator

import (
	"fmt"
	"math"
	"strings"

	"github.com/brianvoe/gofakeit/v7"

	"procodus.dev/irrigation-dashboard/pkg/irrigation"
)

// Catalogue is the seeded crop reference data. IDs are stable.
func Catalogue() []irrigation.Crop {
	return []irrigation.Crop{
		{ID: 1, Name: "Wheat", MinTemperature: 12, MaxTemperature: 25, MinHumidity: 40, MaxHumidity: 70, MinSoilMoisture: 25, MaxSoilMoisture: 45,
			Description: "Cool-season cereal; sensitive to waterlogging."},
		{ID: 2, Name: "Rice", MinTemperature: 20, MaxTemperature: 35, MinHumidity: 60, MaxHumidity: 90, MinSoilMoisture: 60, MaxSoilMoisture: 90,
			Description: "Paddy crop that tolerates standing water."},
		{ID: 3, Name: "Tomato", MinTemperature: 18, MaxTemperature: 30, MinHumidity: 50, MaxHumidity: 80, MinSoilMoisture: 30, MaxSoilMoisture: 60,
			Description: "Warm-season fruiting crop; keep soil evenly moist."},
		{ID: 4, Name: "Potato", MinTemperature: 15, MaxTemperature: 24, MinHumidity: 55, MaxHumidity: 85, MinSoilMoisture: 35, MaxSoilMoisture: 65,
			Description: "Tuber crop; dry spells during tuber set cut yield."},
		{ID: 5, Name: "Maize", MinTemperature: 18, MaxTemperature: 32, MinHumidity: 45, MaxHumidity: 75, MinSoilMoisture: 30, MaxSoilMoisture: 55,
			Description: "Needs most water around tasselling."},
		{ID: 6, Name: "Lettuce", MinTemperature: 10, MaxTemperature: 22, MinHumidity: 50, MaxHumidity: 80, MinSoilMoisture: 40, MaxSoilMoisture: 70,
			Description: "Shallow-rooted leafy crop; bolts in heat."},
	}
}

// RandomCrop invents a plausible crop with consistent ranges.
func RandomCrop() irrigation.Crop {
	minTemp := math.Round(gofakeit.Float64Range(8, 20))
	minHum := math.Round(gofakeit.Float64Range(35, 60))
	minSoil := math.Round(gofakeit.Float64Range(20, 45))
	name := NewCropName()
	crop := irrigation.Crop{
		Name:            strings.ToUpper(name[:1]) + name[1:],
		MinTemperature:  minTemp,
		MaxTemperature:  minTemp + math.Round(gofakeit.Float64Range(8, 15)),
		MinHumidity:     minHum,
		MaxHumidity:     minHum + math.Round(gofakeit.Float64Range(20, 35)),
		MinSoilMoisture: minSoil,
		MaxSoilMoisture: minSoil + math.Round(gofakeit.Float64Range(20, 30)),
	}
	crop.Description = fmt.Sprintf("Grows best between %.0f and %.0f°C.", crop.MinTemperature, crop.MaxTemperature)
	return crop
}

// Profile is a fake account used to seed the simulator.
type Profile struct {
	Name     string `fake:"{name}"`
	Email    string `fake:"{email}"`
	Username string `fake:"{username}"`
	Password string `fake:"{password:true,true,true,false,false,12}"`
}

// NewProfile fills a Profile with gofakeit data.
func NewProfile() *Profile {
	var p Profile
	if err := gofakeit.Struct(&p); err != nil {
		return nil
	}
	p.Username = strings.ToLower(p.Username)
	return &p
}

// OTP returns a six digit one-time code.
func OTP() string {
	return gofakeit.DigitN(6)
}
