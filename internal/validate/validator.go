// Package validate sanity-checks a scrape result before reconciliation.
// Violations here are scraper defects, not upstream conditions, so they
// surface as InternalError.
package validate

import (
	"time"

	"github.com/gridsight/utility-bill-worker/internal/db"
	"github.com/gridsight/utility-bill-worker/internal/scraper"
	"github.com/gridsight/utility-bill-worker/tools/dateparse"
)

// Validator checks result invariants against the meter's timezone.
type Validator struct{}

// NewValidator creates a validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks every bill and interval reading in the result. The first
// violation is returned as an InternalError.
func (v *Validator) Validate(meter *db.Meter, result *scraper.Result, now time.Time) error {
	loc, err := time.LoadLocation(meter.Timezone)
	if err != nil {
		return scraper.Errorf(scraper.KindInternal, "meter %d has invalid timezone '%s': %v", meter.ID, meter.Timezone, err)
	}

	earliest := now.AddDate(-10, 0, 0)
	latest := now.AddDate(0, 0, 1)

	for i := range result.Bills {
		if err := v.validateBill(meter, &result.Bills[i], earliest, latest); err != nil {
			return err
		}
	}
	for i := range result.Intervals {
		if err := v.validateInterval(meter, &result.Intervals[i], loc); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateBill(meter *db.Meter, b *db.Bill, earliest, latest time.Time) error {
	if b.MeterID != meter.ID {
		return scraper.Errorf(scraper.KindInternal, "bill %s..%s belongs to meter %d, expected %d",
			b.Start.Format(dateparse.Layout), b.End.Format(dateparse.Layout), b.MeterID, meter.ID)
	}
	if b.Start.After(b.End) {
		return scraper.Errorf(scraper.KindInternal, "bill period start %s is after end %s",
			b.Start.Format(dateparse.Layout), b.End.Format(dateparse.Layout))
	}
	if b.Start.Before(earliest) || b.End.After(latest) {
		return scraper.Errorf(scraper.KindInternal, "bill period %s..%s is outside the acceptable window",
			b.Start.Format(dateparse.Layout), b.End.Format(dateparse.Layout))
	}
	if b.Cost < 0 {
		return scraper.Errorf(scraper.KindInternal, "bill %s..%s has negative cost %.2f",
			b.Start.Format(dateparse.Layout), b.End.Format(dateparse.Layout), b.Cost)
	}
	if b.UsedKWh < 0 {
		return scraper.Errorf(scraper.KindInternal, "bill %s..%s has negative usage %.2f kWh",
			b.Start.Format(dateparse.Layout), b.End.Format(dateparse.Layout), b.UsedKWh)
	}
	return nil
}

func (v *Validator) validateInterval(meter *db.Meter, r *db.IntervalReading, loc *time.Location) error {
	if r.MeterID != meter.ID {
		return scraper.Errorf(scraper.KindInternal, "interval reading at %s belongs to meter %d, expected %d",
			r.Timestamp.Format(time.RFC3339), r.MeterID, meter.ID)
	}
	if r.IntervalMinutes <= 0 {
		return scraper.Errorf(scraper.KindInternal, "interval reading at %s has invalid cadence %d minutes",
			r.Timestamp.Format(time.RFC3339), r.IntervalMinutes)
	}

	// Timestamps must sit on an interval boundary in the meter's zone.
	local := r.Timestamp.In(loc)
	minutesIntoDay := local.Hour()*60 + local.Minute()
	if local.Second() != 0 || local.Nanosecond() != 0 || minutesIntoDay%r.IntervalMinutes != 0 {
		return scraper.Errorf(scraper.KindInternal, "interval reading at %s is not aligned to a %d-minute boundary in %s",
			r.Timestamp.Format(time.RFC3339), r.IntervalMinutes, loc)
	}
	return nil
}
