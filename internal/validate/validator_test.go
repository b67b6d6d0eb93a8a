package validate_test

import (
	"testing"
	"time"

	"github.com/gridsight/utility-bill-worker/internal/db"
	"github.com/gridsight/utility-bill-worker/internal/scraper"
	"github.com/gridsight/utility-bill-worker/internal/validate"
	"github.com/gridsight/utility-bill-worker/tools/dateparse"
)

var (
	testMeter = &db.Meter{ID: 7, Timezone: "America/New_York"}
	testNow   = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
)

func day(s string) time.Time {
	t, _ := time.Parse(dateparse.Layout, s)
	return t
}

func goodBill() db.Bill {
	return db.Bill{
		MeterID:       7,
		Start:         day("2024-04-15"),
		End:           day("2024-05-14"),
		StatementDate: day("2024-05-20"),
		UsedKWh:       1200,
		Cost:          180,
	}
}

// nyReading returns a reading aligned to the meter's local clock.
func nyReading(hour, minute int) db.IntervalReading {
	ny, _ := time.LoadLocation("America/New_York")
	return db.IntervalReading{
		MeterID:         7,
		Timestamp:       time.Date(2024, 5, 1, hour, minute, 0, 0, ny),
		Value:           1.25,
		IntervalMinutes: 15,
	}
}

func TestValidate_AcceptsWellFormedResult(t *testing.T) {
	v := validate.NewValidator()
	result := &scraper.Result{
		Bills:     []db.Bill{goodBill()},
		Intervals: []db.IntervalReading{nyReading(0, 0), nyReading(0, 15), nyReading(14, 45)},
	}

	if err := v.Validate(testMeter, result, testNow); err != nil {
		t.Errorf("Expected a well-formed result to pass, got %v", err)
	}
}

func TestValidate_RejectsBadBills(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*db.Bill)
	}{
		{"wrong meter", func(b *db.Bill) { b.MeterID = 99 }},
		{"inverted period", func(b *db.Bill) { b.Start, b.End = b.End, b.Start }},
		{"negative cost", func(b *db.Bill) { b.Cost = -0.01 }},
		{"negative usage", func(b *db.Bill) { b.UsedKWh = -1 }},
		{"too old", func(b *db.Bill) {
			b.Start = day("2010-01-01")
			b.End = day("2010-01-31")
		}},
		{"in the future", func(b *db.Bill) {
			b.Start = day("2024-07-01")
			b.End = day("2024-07-31")
		}},
	}

	v := validate.NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bill := goodBill()
			tt.mutate(&bill)
			err := v.Validate(testMeter, &scraper.Result{Bills: []db.Bill{bill}}, testNow)
			if err == nil {
				t.Fatal("Expected a validation error")
			}
			if kind := scraper.KindOf(err); kind != scraper.KindInternal {
				t.Errorf("Expected InternalError, got %s", kind)
			}
		})
	}
}

func TestValidate_RejectsBadIntervals(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*db.IntervalReading)
	}{
		{"wrong meter", func(r *db.IntervalReading) { r.MeterID = 99 }},
		{"zero cadence", func(r *db.IntervalReading) { r.IntervalMinutes = 0 }},
		{"negative cadence", func(r *db.IntervalReading) { r.IntervalMinutes = -15 }},
		{"off boundary", func(r *db.IntervalReading) { r.Timestamp = r.Timestamp.Add(7 * time.Minute) }},
		{"stray seconds", func(r *db.IntervalReading) { r.Timestamp = r.Timestamp.Add(30 * time.Second) }},
	}

	v := validate.NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reading := nyReading(10, 30)
			tt.mutate(&reading)
			err := v.Validate(testMeter, &scraper.Result{Intervals: []db.IntervalReading{reading}}, testNow)
			if err == nil {
				t.Fatal("Expected a validation error")
			}
			if kind := scraper.KindOf(err); kind != scraper.KindInternal {
				t.Errorf("Expected InternalError, got %s", kind)
			}
		})
	}
}

// Alignment is checked in the meter's zone, not UTC: a UTC-aligned timestamp
// that lands off the local quarter-hour must be rejected for a zone with a
// fractional offset.
func TestValidate_AlignmentUsesMeterZone(t *testing.T) {
	meter := &db.Meter{ID: 7, Timezone: "Asia/Kathmandu"} // UTC+5:45
	reading := db.IntervalReading{
		MeterID:         7,
		Timestamp:       time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Value:           1,
		IntervalMinutes: 30,
	}

	v := validate.NewValidator()
	err := v.Validate(meter, &scraper.Result{Intervals: []db.IntervalReading{reading}}, testNow)
	if err == nil {
		t.Error("Expected a reading off the local half-hour boundary to be rejected")
	}
}

func TestValidate_RejectsUnknownTimezone(t *testing.T) {
	meter := &db.Meter{ID: 7, Timezone: "Mars/Olympus_Mons"}

	v := validate.NewValidator()
	err := v.Validate(meter, &scraper.Result{}, testNow)
	if err == nil {
		t.Fatal("Expected an error for an unknown timezone")
	}
	if kind := scraper.KindOf(err); kind != scraper.KindInternal {
		t.Errorf("Expected InternalError, got %s", kind)
	}
}
