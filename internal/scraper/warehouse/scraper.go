package warehouse

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/gridsight/utility-bill-worker/internal/db"
	"github.com/gridsight/utility-bill-worker/internal/scraper"
)

// billsCollection holds the normalized bills staged by the upstream
// ingestion pipeline.
const billsCollection = "staged_bills"

// stagedBill is the warehouse document shape.
type stagedBill struct {
	UtilityAccountID string           `bson:"utility_account_id"`
	PeriodStart      time.Time        `bson:"period_start"`
	PeriodEnd        time.Time        `bson:"period_end"`
	StatementDate    time.Time        `bson:"statement_date"`
	PeakDemandKW     *float64         `bson:"peak_demand_kw,omitempty"`
	UsedKWh          float64          `bson:"used_kwh"`
	Cost             float64          `bson:"cost"`
	Partial          bool             `bson:"partial"`
	LineItems        []stagedLineItem `bson:"line_items"`
}

type stagedLineItem struct {
	Description string  `bson:"description"`
	Class       string  `bson:"class,omitempty"`
	Quantity    float64 `bson:"quantity"`
	Unit        string  `bson:"unit"`
	Amount      float64 `bson:"amount"`
}

// Scraper extracts bills staged in the warehouse for one utility account.
type Scraper struct{}

// New is the registry factory for the warehouse scraper.
func New(in scraper.Inputs) (scraper.Scraper, error) {
	return &Scraper{}, nil
}

// RequiresBrowser implements scraper.Scraper.
func (s *Scraper) RequiresBrowser() bool {
	return false
}

// Scrape implements scraper.Scraper. Bills whose period overlaps the
// requested range are returned; the warehouse is queried in one shot, no
// window limit applies.
func (s *Scraper) Scrape(ctx context.Context, in scraper.Inputs) (*scraper.Result, error) {
	if in.Warehouse == nil {
		return nil, scraper.Errorf(scraper.KindDataSourceUnavailable, "staged-bills warehouse is not configured")
	}

	account := in.DataSource.Options.UtilityAccountID
	if account == "" {
		account = in.DataSource.Options.ServiceAccountID
	}
	if account == "" {
		return nil, scraper.Errorf(scraper.KindCredentialError, "data source %d has no utility account id", in.DataSource.ID)
	}

	filter := bson.M{
		"utility_account_id": account,
		"period_start":       bson.M{"$lte": in.Range.End},
		"period_end":         bson.M{"$gte": in.Range.Start},
	}
	opts := options.Find().SetSort(bson.D{{Key: "statement_date", Value: 1}})

	cursor, err := in.Warehouse.Collection(billsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, scraper.NewError(scraper.KindDataSourceUnavailable,
			fmt.Errorf("failed to query staged bills: %w", err))
	}
	defer cursor.Close(ctx)

	var staged []stagedBill
	if err := cursor.All(ctx, &staged); err != nil {
		return nil, scraper.NewError(scraper.KindDataSourceUnavailable,
			fmt.Errorf("failed to decode staged bills: %w", err))
	}

	result := &scraper.Result{}
	for _, doc := range staged {
		bill := db.Bill{
			MeterID:       in.Meter.ID,
			Start:         doc.PeriodStart.UTC(),
			End:           doc.PeriodEnd.UTC(),
			StatementDate: doc.StatementDate.UTC(),
			PeakDemandKW:  doc.PeakDemandKW,
			UsedKWh:       doc.UsedKWh,
			Cost:          doc.Cost,
		}
		for _, li := range doc.LineItems {
			bill.LineItems = append(bill.LineItems, db.LineItem{
				Description: li.Description,
				Class:       li.Class,
				Quantity:    li.Quantity,
				Unit:        li.Unit,
				Amount:      li.Amount,
			})
		}
		result.Bills = append(result.Bills, bill)
		result.PartialBilling = result.PartialBilling || doc.Partial
	}

	in.Logger.Info("warehouse scrape complete",
		zap.String("utility_account", account),
		zap.String("range", in.Range.String()),
		zap.Int("bills", len(result.Bills)),
	)

	return result, nil
}
