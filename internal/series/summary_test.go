package series_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/irrigation-dashboard/internal/series"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
)

var _ = Describe("Summarize", func() {
	It("should summarize present values and skip gaps", func() {
		rows := series.GroupByTimestamp(
			[]irrigation.SensorReading{
				reading(irrigation.SoilMoisture, 3*time.Hour, 30),
				reading(irrigation.SoilMoisture, 2*time.Hour, 40),
				reading(irrigation.SoilMoisture, time.Hour, 50),
			},
			[]irrigation.SensorReading{reading(irrigation.Temperature, 90*time.Minute, 22)},
		)

		s := series.Summarize(rows, irrigation.SoilMoisture)
		Expect(s.Count).To(Equal(3))
		Expect(s.Mean).To(BeNumerically("~", 40.0, 1e-9))
		Expect(s.Min).To(Equal(30.0))
		Expect(s.Max).To(Equal(50.0))
	})

	It("should return zeros when the sensor never reported", func() {
		Expect(series.Summarize(nil, irrigation.Humidity)).To(Equal(series.Summary{}))
	})

	It("should summarize a single series", func() {
		s := series.SummarizeReadings(hourly(4))
		Expect(s.Count).To(Equal(4))
		Expect(s.Mean).To(BeNumerically("~", 2.5, 1e-9))
	})
})

var _ = Describe("Buffer", func() {
	It("should evict the oldest readings beyond capacity", func() {
		b := series.NewBuffer(3)
		b.Append(hourly(5)...)

		got := b.Readings()
		Expect(got).To(HaveLen(3))
		Expect(got[0].Value).To(Equal(3.0))
		Expect(got[2].Value).To(Equal(1.0))
	})

	It("should clamp capacity to the retention cap", func() {
		b := series.NewBuffer(0)
		b.Append(hourly(series.RetentionCap + 10)...)
		Expect(b.Len()).To(Equal(series.RetentionCap))
	})

	It("should return a copy", func() {
		b := series.NewBuffer(2)
		b.Append(hourly(2)...)
		got := b.Readings()
		got[0].Value = 999

		Expect(b.Readings()[0].Value).NotTo(Equal(999.0))
	})
})
