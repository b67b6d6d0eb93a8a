package db

import (
	"time"

	"github.com/google/uuid"
)

// Meter represents a utility meter in the database. Meters are owned by an
// upstream system and are read-only to the worker.
type Meter struct {
	ID             int64
	ServicePointID string
	Timezone       string
	UtilityKey     string
}

// SourceOptions holds optional per-source settings stored as JSON on the
// data_source row.
type SourceOptions struct {
	ServiceAccountID string `json:"service_account_id,omitempty"`
	UtilityAccountID string `json:"utility_account_id,omitempty"`
	SAID             string `json:"said,omitempty"`
}

// DataSource binds a meter to a scraper implementation and its encrypted
// credentials. Read-only to the worker.
type DataSource struct {
	ID                   int64
	MeterID              int64
	ScraperKey           string
	EncryptedCredentials []byte
	Options              SourceOptions
}

// LineItem is a single charge line on a bill. Order is meaningful and is
// preserved through persistence.
type LineItem struct {
	Description string  `json:"description"`
	Class       string  `json:"class,omitempty"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	Amount      float64 `json:"amount"`
}

// Bill is a statement of charges for a continuous service period at one
// meter. Start and End are inclusive calendar dates at midnight UTC.
type Bill struct {
	MeterID       int64
	Start         time.Time
	End           time.Time
	StatementDate time.Time
	PeakDemandKW  *float64
	UsedKWh       float64
	Cost          float64
	LineItems     []LineItem
	Attachments   []string
}

// BillKey identifies the "same bill" across runs: one meter, one period.
type BillKey struct {
	MeterID int64
	Start   time.Time
	End     time.Time
}

// Key returns the reconciliation key of the bill.
func (b *Bill) Key() BillKey {
	return BillKey{MeterID: b.MeterID, Start: b.Start, End: b.End}
}

// Equal reports whether two bills carry identical content, including
// line items compared as an ordered sequence.
func (b *Bill) Equal(other *Bill) bool {
	if b.MeterID != other.MeterID ||
		!b.Start.Equal(other.Start) ||
		!b.End.Equal(other.End) ||
		!b.StatementDate.Equal(other.StatementDate) ||
		b.UsedKWh != other.UsedKWh ||
		b.Cost != other.Cost {
		return false
	}
	if (b.PeakDemandKW == nil) != (other.PeakDemandKW == nil) {
		return false
	}
	if b.PeakDemandKW != nil && *b.PeakDemandKW != *other.PeakDemandKW {
		return false
	}
	if len(b.LineItems) != len(other.LineItems) {
		return false
	}
	for i := range b.LineItems {
		if b.LineItems[i] != other.LineItems[i] {
			return false
		}
	}
	if len(b.Attachments) != len(other.Attachments) {
		return false
	}
	for i := range b.Attachments {
		if b.Attachments[i] != other.Attachments[i] {
			return false
		}
	}
	return true
}

// Overlaps reports whether two bill periods share at least one day.
func (b *Bill) Overlaps(other *Bill) bool {
	return !b.Start.After(other.End) && !other.Start.After(b.End)
}

// IntervalReading is a single usage sample at a fixed cadence. Timestamp is a
// UTC instant aligned to the interval boundary in the meter's timezone.
type IntervalReading struct {
	MeterID         int64
	Timestamp       time.Time
	Value           float64
	IntervalMinutes int
}

// Outcome is the terminal state of a scrape run.
type Outcome string

// Terminal outcomes recorded on scrape_run rows.
const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
)

// ScrapeRun records one attempt to extract data for one data source over one
// date range. Exactly one row is written per started run.
type ScrapeRun struct {
	ID           uuid.UUID
	DataSourceID int64
	RangeStart   time.Time
	RangeEnd     time.Time
	StartedAt    time.Time
	EndedAt      time.Time
	Outcome      Outcome
	ErrorKind    *string
	Retries      int
	ArtifactRefs []string
}
