package series_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/irrigation-dashboard/internal/series"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
)

var now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func reading(t irrigation.SensorType, ago time.Duration, v float64) irrigation.SensorReading {
	return irrigation.SensorReading{SensorType: t, Value: v, Timestamp: irrigation.At(now.Add(-ago))}
}

// hourly returns one temperature reading per hour for the given number of hours, oldest first.
func hourly(hours int) []irrigation.SensorReading {
	out := make([]irrigation.SensorReading, 0, hours)
	for h := hours; h >= 1; h-- {
		out = append(out, reading(irrigation.Temperature, time.Duration(h)*time.Hour-time.Minute, float64(h)))
	}
	return out
}

var _ = Describe("Window", func() {
	DescribeTable("ParseWindow",
		func(in string, want series.Window) {
			got, err := series.ParseWindow(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		},
		Entry("empty defaults to day", "", series.Day),
		Entry("day", "day", series.Day),
		Entry("week upper", "WEEK", series.Week),
		Entry("month", "month", series.Month),
	)

	It("should reject unknown windows", func() {
		_, err := series.ParseWindow("year")
		Expect(err).To(MatchError(ContainSubstring("unknown time window")))
	})

	DescribeTable("Cutoff",
		func(w series.Window, want time.Duration) {
			Expect(now.Sub(series.Cutoff(w, now))).To(Equal(want))
		},
		Entry("day", series.Day, 24*time.Hour),
		Entry("week", series.Week, 7*24*time.Hour),
		Entry("month", series.Month, 30*24*time.Hour),
	)
})

var _ = Describe("Filter", func() {
	It("should keep only readings newer than 24h for the day window", func() {
		readings := hourly(72)
		out := series.Filter(readings, series.Day, now)

		Expect(out).To(HaveLen(24))
		for _, r := range out {
			Expect(r.Timestamp.After(now.Add(-24 * time.Hour))).To(BeTrue())
		}
	})

	It("should exclude a reading exactly on the cutoff", func() {
		readings := []irrigation.SensorReading{
			reading(irrigation.Humidity, 24*time.Hour, 1),
			reading(irrigation.Humidity, 24*time.Hour-time.Nanosecond, 2),
		}
		out := series.Filter(readings, series.Day, now)

		Expect(out).To(HaveLen(1))
		Expect(out[0].Value).To(Equal(2.0))
	})

	It("should keep only readings newer than 7d for the week window", func() {
		readings := hourly(24 * 10)
		out := series.Filter(readings, series.Week, now)

		Expect(out).To(HaveLen(24 * 7))
		for _, r := range out {
			Expect(r.Timestamp.After(now.Add(-7 * 24 * time.Hour))).To(BeTrue())
		}
	})

	It("should return an empty slice for no input", func() {
		Expect(series.Filter(nil, series.Month, now)).To(BeEmpty())
	})
})

var _ = Describe("ForDisplay", func() {
	It("should cap the day window at 15 points", func() {
		out := series.ForDisplay(hourly(48), series.Day, now)

		Expect(out).To(HaveLen(series.DayCap))
		Expect(out[len(out)-1].Value).To(Equal(1.0))
	})

	It("should not cap the week window", func() {
		Expect(series.ForDisplay(hourly(48), series.Week, now)).To(HaveLen(48))
	})

	It("should sort unordered input before capping", func() {
		in := hourly(20)
		reversed := make([]irrigation.SensorReading, len(in))
		for i := range in {
			reversed[len(in)-1-i] = in[i]
		}
		out := series.ForDisplay(reversed, series.Day, now)

		Expect(out).To(HaveLen(series.DayCap))
		Expect(out[0].Value).To(Equal(15.0))
		Expect(out[14].Value).To(Equal(1.0))
	})
})

var _ = Describe("KeepLast", func() {
	It("should return input unchanged when short", func() {
		in := hourly(3)
		Expect(series.KeepLast(in, 15)).To(Equal(in))
	})

	It("should return nothing for n <= 0", func() {
		Expect(series.KeepLast(hourly(3), 0)).To(BeNil())
	})
})

var _ = Describe("GroupByTimestamp", func() {
	It("should put same-instant readings on one row and leave others sparse", func() {
		temps := []irrigation.SensorReading{
			reading(irrigation.Temperature, 2*time.Hour, 20),
			reading(irrigation.Temperature, time.Hour, 21),
		}
		hums := []irrigation.SensorReading{
			reading(irrigation.Humidity, time.Hour, 60),
			reading(irrigation.Humidity, 30*time.Minute, 61),
		}

		rows := series.GroupByTimestamp(temps, hums)
		Expect(rows).To(HaveLen(3))

		Expect(rows[0].Values).To(Equal(map[irrigation.SensorType]float64{irrigation.Temperature: 20}))
		Expect(rows[1].Values).To(Equal(map[irrigation.SensorType]float64{irrigation.Temperature: 21, irrigation.Humidity: 60}))

		_, ok := rows[2].Value(irrigation.Temperature)
		Expect(ok).To(BeFalse())
		Expect(rows[2].Values[irrigation.Humidity]).To(Equal(61.0))
	})

	It("should order rows chronologically", func() {
		rows := series.GroupByTimestamp(hourly(5))
		for i := 1; i < len(rows); i++ {
			Expect(rows[i].Timestamp.After(rows[i-1].Timestamp)).To(BeTrue())
		}
	})
})

var _ = Describe("AxisLabel", func() {
	ts := time.Date(2024, 10, 17, 9, 5, 0, 0, time.UTC)

	DescribeTable("formats per window",
		func(w series.Window, want string) {
			Expect(series.AxisLabel(ts, w)).To(Equal(want))
		},
		Entry("day", series.Day, "09:05"),
		Entry("week", series.Week, "17 Oct"),
		Entry("month", series.Month, "W42"),
	)
})
