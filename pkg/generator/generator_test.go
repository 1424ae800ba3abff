package generator_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/irrigation-dashboard/pkg/generator"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
)

var _ = Describe("Field", func() {
	var (
		field *generator.Field
		at    time.Time
	)

	BeforeEach(func() {
		field = generator.NewField()
		at = time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	})

	It("should report every sensor", func() {
		snap := field.Reading(at)
		for _, t := range irrigation.SensorTypes {
			_, ok := snap.Value(t)
			Expect(ok).To(BeTrue(), string(t))
		}
		Expect(snap.Timestamp.Equal(at)).To(BeTrue())
	})

	It("should keep values in plausible ranges", func() {
		for i := range 200 {
			snap := field.Reading(at.Add(time.Duration(i) * time.Hour))
			h, _ := snap.Value(irrigation.Humidity)
			s, _ := snap.Value(irrigation.SoilMoisture)
			Expect(h).To(BeNumerically(">=", 15))
			Expect(h).To(BeNumerically("<=", 98))
			Expect(s).To(BeNumerically(">=", 4.8))
			Expect(s).To(BeNumerically("<=", 95.2))
		}
	})

	It("should wet the soil while irrigating", func() {
		field.SetIrrigating(false)
		for range 50 {
			field.Reading(at)
		}
		before, _ := field.Reading(at).Value(irrigation.SoilMoisture)

		field.SetIrrigating(true)
		Expect(field.Irrigating()).To(BeTrue())
		for range 10 {
			field.Reading(at)
		}
		after, _ := field.Reading(at).Value(irrigation.SoilMoisture)
		Expect(after).To(BeNumerically(">", before))
	})

	It("should sample history at every step inclusive", func() {
		history := field.History(at.Add(-24*time.Hour), at, time.Hour)
		Expect(history).To(HaveLen(25))
		Expect(history[0].Timestamp.Equal(at.Add(-24 * time.Hour))).To(BeTrue())
		Expect(history[24].Timestamp.Equal(at)).To(BeTrue())
	})

	It("should refuse an empty history range", func() {
		Expect(field.History(at, at.Add(-time.Hour), time.Hour)).To(BeEmpty())
		Expect(field.History(at, at, 0)).To(BeEmpty())
	})
})

var _ = Describe("Split", func() {
	It("should produce one frame per present sensor", func() {
		snap := irrigation.Snapshot{}.With(irrigation.Temperature, 21).With(irrigation.SoilMoisture, 40)
		frames := generator.Split(snap)
		Expect(frames).To(HaveLen(2))

		merged := irrigation.Snapshot{}
		for _, f := range frames {
			merged = merged.Merge(f)
		}
		Expect(merged.Temperature).To(Equal(snap.Temperature))
		Expect(merged.SoilMoisture).To(Equal(snap.SoilMoisture))
		Expect(merged.Humidity).To(BeNil())
	})
})

var _ = Describe("crops", func() {
	It("should seed Tomato with id 3", func() {
		var tomato *irrigation.Crop
		for _, c := range generator.Catalogue() {
			if c.ID == 3 {
				tomato = &c
			}
		}
		Expect(tomato).NotTo(BeNil())
		Expect(tomato.Name).To(Equal("Tomato"))
	})

	It("should invent crops with ordered ranges", func() {
		for range 20 {
			c := generator.RandomCrop()
			Expect(c.Name).NotTo(BeEmpty())
			Expect(c.MaxTemperature).To(BeNumerically(">", c.MinTemperature))
			Expect(c.MaxHumidity).To(BeNumerically(">", c.MinHumidity))
			Expect(c.MaxSoilMoisture).To(BeNumerically(">", c.MinSoilMoisture))
		}
	})

	It("should fake profiles", func() {
		p := generator.NewProfile()
		Expect(p).NotTo(BeNil())
		Expect(p.Email).To(ContainSubstring("@"))
		Expect(p.Password).To(HaveLen(12))
	})

	It("should produce six digit codes", func() {
		Expect(generator.OTP()).To(MatchRegexp(`^\d{6}$`))
	})
})
