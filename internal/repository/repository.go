package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gridsight/utility-bill-worker/internal/db"
	"github.com/gridsight/utility-bill-worker/internal/reconcile"
	"github.com/gridsight/utility-bill-worker/internal/scraper"
	"github.com/gridsight/utility-bill-worker/tools/dateparse"
)

// Tx is an alias for pgx.Tx
type Tx = pgx.Tx

// Repository handles database operations. It carries no business logic; the
// reconciler decides what to write, the repository only executes it.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoadDataSource loads a data source by its oid. A missing row is a NotFound
// error.
func (r *Repository) LoadDataSource(ctx context.Context, oid int64) (*db.DataSource, error) {
	query := `
		SELECT id, meter_id, scraper_key, encrypted_credentials, options
		FROM data_source
		WHERE id = $1
	`
	return r.scanDataSource(r.pool.QueryRow(ctx, query, oid), fmt.Sprintf("data source %d", oid))
}

// LoadDataSourceByKey loads a meter's sole data source for a scraper key.
func (r *Repository) LoadDataSourceByKey(ctx context.Context, meterID int64, scraperKey string) (*db.DataSource, error) {
	query := `
		SELECT id, meter_id, scraper_key, encrypted_credentials, options
		FROM data_source
		WHERE meter_id = $1 AND scraper_key = $2
	`
	return r.scanDataSource(r.pool.QueryRow(ctx, query, meterID, scraperKey),
		fmt.Sprintf("data source for meter %d with key '%s'", meterID, scraperKey))
}

func (r *Repository) scanDataSource(row pgx.Row, desc string) (*db.DataSource, error) {
	var ds db.DataSource
	var options []byte
	err := row.Scan(&ds.ID, &ds.MeterID, &ds.ScraperKey, &ds.EncryptedCredentials, &options)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, scraper.Errorf(scraper.KindNotFound, "%s does not exist", desc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", desc, err)
	}

	if len(options) > 0 {
		if err := json.Unmarshal(options, &ds.Options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal options for %s: %w", desc, err)
		}
	}
	return &ds, nil
}

// LoadMeter loads a meter by id. A missing row is a NotFound error.
func (r *Repository) LoadMeter(ctx context.Context, id int64) (*db.Meter, error) {
	query := `
		SELECT id, service_point_id, timezone, utility_key
		FROM meter
		WHERE id = $1
	`

	var m db.Meter
	err := r.pool.QueryRow(ctx, query, id).Scan(&m.ID, &m.ServicePointID, &m.Timezone, &m.UtilityKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, scraper.Errorf(scraper.KindNotFound, "meter %d does not exist", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query meter %d: %w", id, err)
	}
	return &m, nil
}

// ExistingBills returns the persisted bills whose period overlaps the range.
func (r *Repository) ExistingBills(ctx context.Context, meterID int64, rng dateparse.Range) ([]db.Bill, error) {
	query := `
		SELECT meter_id, period_start, period_end, statement_date,
		       peak_demand_kw, used_kwh, cost, line_items, attachments
		FROM bill
		WHERE meter_id = $1 AND period_start <= $3 AND period_end >= $2
		ORDER BY period_start
	`

	rows, err := r.pool.Query(ctx, query, meterID, rng.Start, rng.End)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing bills: %w", err)
	}
	defer rows.Close()

	var bills []db.Bill
	for rows.Next() {
		var b db.Bill
		var lineItems []byte
		if err := rows.Scan(&b.MeterID, &b.Start, &b.End, &b.StatementDate,
			&b.PeakDemandKW, &b.UsedKWh, &b.Cost, &lineItems, &b.Attachments); err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}
		if len(lineItems) > 0 {
			if err := json.Unmarshal(lineItems, &b.LineItems); err != nil {
				return nil, fmt.Errorf("failed to unmarshal line items: %w", err)
			}
		}
		b.Start = b.Start.UTC()
		b.End = b.End.UTC()
		b.StatementDate = b.StatementDate.UTC()
		bills = append(bills, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return bills, nil
}

// ExistingIntervals returns the persisted interval readings inside the range,
// in timestamp order.
func (r *Repository) ExistingIntervals(ctx context.Context, meterID int64, rng dateparse.Range) ([]db.IntervalReading, error) {
	query := `
		SELECT meter_id, ts, value, interval_minutes
		FROM interval_reading
		WHERE meter_id = $1 AND ts >= $2 AND ts < $3
		ORDER BY ts
	`

	// End is an inclusive calendar date; the exclusive bound is the next day
	rows, err := r.pool.Query(ctx, query, meterID, rng.Start, rng.End.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to query existing intervals: %w", err)
	}
	defer rows.Close()

	var readings []db.IntervalReading
	for rows.Next() {
		var ir db.IntervalReading
		if err := rows.Scan(&ir.MeterID, &ir.Timestamp, &ir.Value, &ir.IntervalMinutes); err != nil {
			return nil, fmt.Errorf("failed to scan interval reading: %w", err)
		}
		ir.Timestamp = ir.Timestamp.UTC()
		readings = append(readings, ir)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return readings, nil
}

// WriteDelta publishes the reconciled delta and the run row in one
// serializable transaction. A per-meter advisory lock serializes concurrent
// runs against the same meter; the second writer waits.
func (r *Repository) WriteDelta(ctx context.Context, meter *db.Meter, delta *reconcile.Delta, run *db.ScrapeRun) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return scraper.NewError(scraper.KindPersistenceError, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, meter.ID); err != nil {
		return scraper.NewError(scraper.KindPersistenceError, fmt.Errorf("failed to take meter lock: %w", err))
	}

	for i := range delta.BillDeletes {
		if err := r.deleteBillTx(ctx, tx, &delta.BillDeletes[i]); err != nil {
			return err
		}
	}
	for _, update := range delta.BillUpdates {
		if err := r.deleteBillTx(ctx, tx, &update.Old); err != nil {
			return err
		}
		if err := r.insertBillTx(ctx, tx, &update.New, run.ID.String()); err != nil {
			return err
		}
	}
	for i := range delta.BillInserts {
		if err := r.insertBillTx(ctx, tx, &delta.BillInserts[i], run.ID.String()); err != nil {
			return err
		}
	}

	for _, reading := range delta.IntervalWrites {
		query := `
			INSERT INTO interval_reading (meter_id, ts, value, interval_minutes, scrape_run_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (meter_id, ts)
			DO UPDATE SET value = EXCLUDED.value,
			              interval_minutes = EXCLUDED.interval_minutes,
			              scrape_run_id = EXCLUDED.scrape_run_id
		`
		if _, err := tx.Exec(ctx, query,
			reading.MeterID, reading.Timestamp, reading.Value, reading.IntervalMinutes, run.ID.String()); err != nil {
			return scraper.NewError(scraper.KindPersistenceError, fmt.Errorf("failed to upsert interval reading: %w", err))
		}
	}

	if err := r.insertRunTx(ctx, tx, run); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return scraper.NewError(scraper.KindPersistenceError, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func (r *Repository) deleteBillTx(ctx context.Context, tx pgx.Tx, b *db.Bill) error {
	if _, err := tx.Exec(ctx,
		`DELETE FROM bill WHERE meter_id = $1 AND period_start = $2 AND period_end = $3`,
		b.MeterID, b.Start, b.End); err != nil {
		return scraper.NewError(scraper.KindPersistenceError, fmt.Errorf("failed to delete superseded bill: %w", err))
	}
	return nil
}

func (r *Repository) insertBillTx(ctx context.Context, tx pgx.Tx, b *db.Bill, runID string) error {
	lineItems, err := json.Marshal(b.LineItems)
	if err != nil {
		return scraper.NewError(scraper.KindPersistenceError, fmt.Errorf("failed to marshal line items: %w", err))
	}

	query := `
		INSERT INTO bill (meter_id, period_start, period_end, statement_date,
		                  peak_demand_kw, used_kwh, cost, line_items, attachments, scrape_run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := tx.Exec(ctx, query,
		b.MeterID, b.Start, b.End, b.StatementDate,
		b.PeakDemandKW, b.UsedKWh, b.Cost, lineItems, b.Attachments, runID); err != nil {
		return scraper.NewError(scraper.KindPersistenceError, fmt.Errorf("failed to insert bill: %w", err))
	}
	return nil
}

// RecordRun persists a run row outside any delta transaction. Used for runs
// that never reach the publish step.
func (r *Repository) RecordRun(ctx context.Context, run *db.ScrapeRun) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return scraper.NewError(scraper.KindPersistenceError, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := r.insertRunTx(ctx, tx, run); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return scraper.NewError(scraper.KindPersistenceError, fmt.Errorf("failed to commit run record: %w", err))
	}
	return nil
}

func (r *Repository) insertRunTx(ctx context.Context, tx pgx.Tx, run *db.ScrapeRun) error {
	query := `
		INSERT INTO scrape_run (id, data_source_id, range_start, range_end,
		                        started_at, ended_at, outcome, error_kind, retries, artifact_refs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := tx.Exec(ctx, query,
		run.ID, nullableDataSourceID(run), run.RangeStart, run.RangeEnd,
		run.StartedAt, run.EndedAt, run.Outcome, run.ErrorKind, run.Retries, run.ArtifactRefs); err != nil {
		return scraper.NewError(scraper.KindPersistenceError, fmt.Errorf("failed to insert scrape run: %w", err))
	}
	return nil
}

// nullableDataSourceID maps an unresolved data source to NULL. A run that
// fails before resolution still gets its row; scrape_run.data_source_id is a
// nullable foreign key for exactly this case.
func nullableDataSourceID(run *db.ScrapeRun) *int64 {
	if run.DataSourceID == 0 {
		return nil
	}
	return &run.DataSourceID
}
