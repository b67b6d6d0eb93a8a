// Package orchestrator runs the scrape lifecycle for one data source and
// date range: load, decrypt, acquire browser, scrape under a watchdog,
// reconcile, publish, and finalize exactly one scrape_run row.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/gridsight/utility-bill-worker/internal/artifact"
	"github.com/gridsight/utility-bill-worker/internal/config"
	"github.com/gridsight/utility-bill-worker/internal/db"
	"github.com/gridsight/utility-bill-worker/internal/logging"
	"github.com/gridsight/utility-bill-worker/internal/mq"
	"github.com/gridsight/utility-bill-worker/internal/reconcile"
	"github.com/gridsight/utility-bill-worker/internal/scraper"
	"github.com/gridsight/utility-bill-worker/internal/secrets"
	"github.com/gridsight/utility-bill-worker/internal/validate"
	"github.com/gridsight/utility-bill-worker/tools/dateparse"
)

// Exit codes mapped from the terminal run state.
const (
	ExitSucceeded = 0
	ExitFailed    = 1
	ExitPartial   = 2
	ExitUsage     = 64
	ExitInternal  = 70
)

// backoff parameters for transient browser acquisition failures.
const (
	backoffBase = 5 * time.Second
	backoffCap  = 60 * time.Second
)

// Request identifies the run: either a data source oid, or a scraper key
// plus the meter whose sole data source for that key should run.
type Request struct {
	DataSourceOID int64
	ScraperKey    string
	MeterOID      int64
	Range         dateparse.Range
}

// Report is the finalized outcome of one run.
type Report struct {
	Run      *db.ScrapeRun
	Summary  *reconcile.Summary
	ExitCode int
}

// Repo is the data access the orchestrator needs; implemented by
// repository.Repository.
type Repo interface {
	LoadDataSource(ctx context.Context, oid int64) (*db.DataSource, error)
	LoadDataSourceByKey(ctx context.Context, meterID int64, scraperKey string) (*db.DataSource, error)
	LoadMeter(ctx context.Context, id int64) (*db.Meter, error)
	ExistingBills(ctx context.Context, meterID int64, rng dateparse.Range) ([]db.Bill, error)
	ExistingIntervals(ctx context.Context, meterID int64, rng dateparse.Range) ([]db.IntervalReading, error)
	WriteDelta(ctx context.Context, meter *db.Meter, delta *reconcile.Delta, run *db.ScrapeRun) error
	RecordRun(ctx context.Context, run *db.ScrapeRun) error
}

// BrowserFactory acquires browser sessions; nil when no endpoint is
// configured.
type BrowserFactory interface {
	New(downloadDir string) (scraper.BrowserSession, error)
}

// BrowserFactoryFunc adapts a function to BrowserFactory.
type BrowserFactoryFunc func(downloadDir string) (scraper.BrowserSession, error)

// New implements BrowserFactory.
func (f BrowserFactoryFunc) New(downloadDir string) (scraper.BrowserSession, error) {
	return f(downloadDir)
}

// SummaryPublisher emits the run summary after the run is recorded;
// implemented by mq.Publisher.
type SummaryPublisher interface {
	PublishRunSummary(ctx context.Context, summary mq.RunSummary, routingKey string) error
}

// Params collects the orchestrator dependencies.
type Params struct {
	Config      *config.Config
	Repo        Repo
	Credentials secrets.Provider
	Registry    *scraper.Registry
	Browsers    BrowserFactory
	Store       artifact.Store
	Reconciler  *reconcile.Reconciler
	Validator   *validate.Validator
	Warehouse   *mongo.Database
	Publisher   SummaryPublisher
	Logger      *zap.Logger
}

// Orchestrator executes one run per process.
type Orchestrator struct {
	cfg        *config.Config
	repo       Repo
	creds      secrets.Provider
	registry   *scraper.Registry
	browsers   BrowserFactory
	store      artifact.Store
	reconciler *reconcile.Reconciler
	validator  *validate.Validator
	warehouse  *mongo.Database
	publisher  SummaryPublisher
	logger     *zap.Logger

	// test hooks
	now   func() time.Time
	sleep func(time.Duration)
}

// New creates an orchestrator.
func New(p Params) *Orchestrator {
	return &Orchestrator{
		cfg:        p.Config,
		repo:       p.Repo,
		creds:      p.Credentials,
		registry:   p.Registry,
		browsers:   p.Browsers,
		store:      p.Store,
		reconciler: p.Reconciler,
		validator:  p.Validator,
		warehouse:  p.Warehouse,
		publisher:  p.Publisher,
		logger:     p.Logger,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// Run executes the full lifecycle and always returns a finalized report with
// exactly one recorded scrape_run.
func (o *Orchestrator) Run(ctx context.Context, req Request) *Report {
	runID := uuid.New()
	logger := logging.WithRunID(o.logger, runID.String())

	run := &db.ScrapeRun{
		ID:         runID,
		RangeStart: req.Range.Start,
		RangeEnd:   req.Range.End,
		StartedAt:  o.now().UTC(),
	}
	artifacts := artifact.NewSet()

	workdir := filepath.Join(o.cfg.Workdir, runID.String())
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		logger.Error("failed to create run workdir", zap.Error(err))
		return o.finalize(ctx, logger, run, artifacts, nil, nil,
			scraper.NewError(scraper.KindInternal, err))
	}
	defer os.RemoveAll(workdir)

	logger.Info("run started",
		zap.Int64("data_source_oid", req.DataSourceOID),
		zap.String("scraper_key", req.ScraperKey),
		zap.String("range", req.Range.String()),
	)

	source, meter, creds, err := o.resolve(ctx, req)
	if source != nil {
		run.DataSourceID = source.ID
	}
	if err != nil {
		return o.finalize(ctx, logger, run, artifacts, meter, nil, err)
	}

	result, covered, err := o.scrape(ctx, logger, run, source, meter, creds, req.Range, workdir, artifacts)
	if err != nil {
		return o.finalize(ctx, logger, run, artifacts, meter, nil, err)
	}

	if err := o.validator.Validate(meter, result, o.now()); err != nil {
		return o.finalize(ctx, logger, run, artifacts, meter, nil, err)
	}

	delta, summary, err := o.reconcileResult(ctx, meter, req.Range, result, artifacts)
	if err != nil {
		return o.finalize(ctx, logger, run, artifacts, meter, nil, err)
	}

	run.Outcome = selectOutcome(req.Range, covered, result.PartialBilling, summary)

	return o.publish(ctx, logger, run, artifacts, meter, delta, summary)
}

// resolve loads the data source, its meter, and the decrypted credentials.
func (o *Orchestrator) resolve(ctx context.Context, req Request) (*db.DataSource, *db.Meter, *secrets.Credentials, error) {
	var source *db.DataSource
	var err error
	if req.DataSourceOID != 0 {
		source, err = o.repo.LoadDataSource(ctx, req.DataSourceOID)
	} else {
		source, err = o.repo.LoadDataSourceByKey(ctx, req.MeterOID, req.ScraperKey)
	}
	if err != nil {
		return nil, nil, nil, err
	}

	meter, err := o.repo.LoadMeter(ctx, source.MeterID)
	if err != nil {
		return source, nil, nil, err
	}

	creds, err := o.creds.Decrypt(source.EncryptedCredentials)
	if err != nil {
		return source, meter, nil, scraper.NewError(scraper.KindCredentialError, err)
	}
	return source, meter, creds, nil
}

// scrape runs the extraction, retrying once with a fresh browser session on
// an unexpected failure.
func (o *Orchestrator) scrape(
	ctx context.Context,
	logger *zap.Logger,
	run *db.ScrapeRun,
	source *db.DataSource,
	meter *db.Meter,
	creds *secrets.Credentials,
	rng dateparse.Range,
	workdir string,
	artifacts *artifact.Set,
) (*scraper.Result, int, error) {
	const internalRetries = 1

	var lastErr error
	for attempt := 0; attempt <= internalRetries; attempt++ {
		if attempt > 0 {
			run.Retries++
			logger.Warn("retrying scrape after unexpected failure", zap.Error(lastErr))
		}

		result, covered, err := o.scrapeOnce(ctx, logger, run, source, meter, creds, rng, workdir, artifacts)
		if err == nil {
			return result, covered, nil
		}
		lastErr = err

		if scraper.KindOf(err) != scraper.KindInternal {
			return nil, 0, err
		}
		if ctx.Err() != nil {
			// Cancellation surfaces as an unexpected failure; do not
			// retry a dying run
			return nil, 0, err
		}
	}
	return nil, 0, lastErr
}

// scrapeOnce performs a single attempt: instantiate the scraper, acquire a
// browser if it needs one, and run the chunked extraction under the
// watchdog. The session is released on every exit path.
func (o *Orchestrator) scrapeOnce(
	ctx context.Context,
	logger *zap.Logger,
	run *db.ScrapeRun,
	source *db.DataSource,
	meter *db.Meter,
	creds *secrets.Credentials,
	rng dateparse.Range,
	workdir string,
	artifacts *artifact.Set,
) (*scraper.Result, int, error) {
	in := scraper.Inputs{
		DataSource:  source,
		Meter:       meter,
		Credentials: creds,
		Range:       rng,
		Warehouse:   o.warehouse,
		Workdir:     workdir,
		Artifacts:   artifacts,
		Logger:      logger,
	}

	s, err := o.registry.New(source.ScraperKey, in)
	if err != nil {
		return nil, 0, err
	}

	var session scraper.BrowserSession
	if s.RequiresBrowser() {
		session, err = o.acquireBrowser(ctx, logger, run, workdir)
		if err != nil {
			return nil, 0, err
		}
		in.Browser = session
		defer session.Close()
	}

	result, covered, err := o.watchScrape(ctx, s, in, session)
	if err != nil {
		if session != nil {
			session.CaptureFailure(artifacts)
		}
		return nil, 0, err
	}

	if session != nil {
		if idxErr := session.IndexDownloads(artifacts); idxErr != nil {
			logger.Warn("failed to index downloads", zap.Error(idxErr))
		}
	}
	return result, covered, nil
}

// acquireBrowser retries transient acquisition failures with exponential
// backoff up to the configured limit.
func (o *Orchestrator) acquireBrowser(ctx context.Context, logger *zap.Logger, run *db.ScrapeRun, workdir string) (scraper.BrowserSession, error) {
	if o.browsers == nil {
		return nil, scraper.Errorf(scraper.KindBrowserUnavailable, "browser endpoint is not configured")
	}

	downloadDir := filepath.Join(workdir, "downloads")

	var lastErr error
	for attempt := 0; attempt <= o.cfg.Run.MaxRetries; attempt++ {
		if attempt > 0 {
			run.Retries++
			delay := backoffDelay(attempt)
			logger.Warn("browser acquisition failed, backing off",
				zap.Error(lastErr),
				zap.Duration("delay", delay),
				zap.Int("attempt", attempt),
			)
			o.sleep(delay)
		}
		if err := ctx.Err(); err != nil {
			return nil, scraper.NewError(scraper.KindBrowserUnavailable, err)
		}

		session, err := o.browsers.New(downloadDir)
		if err == nil {
			return session, nil
		}
		lastErr = err
	}
	return nil, scraper.NewError(scraper.KindBrowserUnavailable, lastErr)
}

// backoffDelay returns the capped exponential delay before the given attempt.
func backoffDelay(attempt int) time.Duration {
	delay := backoffBase << (attempt - 1)
	if delay > backoffCap {
		delay = backoffCap
	}
	return delay
}

// watchScrape enforces the overall wall-clock budget out of band: if the
// deadline fires while the scraper is blocked in a navigation, the session
// is forcibly torn down, which unblocks the scraper goroutine. The goroutine
// may outlive the select briefly; the process is about to exit anyway.
func (o *Orchestrator) watchScrape(ctx context.Context, s scraper.Scraper, in scraper.Inputs, session scraper.BrowserSession) (*scraper.Result, int, error) {
	timeout := time.Duration(o.cfg.Run.DefaultTimeoutSeconds) * time.Second
	scrapeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result  *scraper.Result
		covered int
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		result, covered, err := scraper.RunChunked(scrapeCtx, s, in)
		done <- outcome{result: result, covered: covered, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) {
			return nil, 0, scraper.NewError(scraper.KindTimeout, out.err)
		}
		return out.result, out.covered, out.err
	case <-scrapeCtx.Done():
		if session != nil {
			session.Close()
		}
		if errors.Is(scrapeCtx.Err(), context.DeadlineExceeded) {
			return nil, 0, scraper.Errorf(scraper.KindTimeout,
				"scrape exceeded the %s budget", timeout)
		}
		return nil, 0, scraper.NewError(scraper.KindInternal,
			fmt.Errorf("run canceled: %w", scrapeCtx.Err()))
	}
}

// reconcileResult loads the meter's existing records and computes the delta.
// Prior versions of replaced bills are archived into the artifact set.
func (o *Orchestrator) reconcileResult(
	ctx context.Context,
	meter *db.Meter,
	rng dateparse.Range,
	result *scraper.Result,
	artifacts *artifact.Set,
) (*reconcile.Delta, *reconcile.Summary, error) {
	existingBills, err := o.repo.ExistingBills(ctx, meter.ID, rng)
	if err != nil {
		return nil, nil, scraper.NewError(scraper.KindPersistenceError, err)
	}
	existingIntervals, err := o.repo.ExistingIntervals(ctx, meter.ID, rng)
	if err != nil {
		return nil, nil, scraper.NewError(scraper.KindPersistenceError, err)
	}

	delta, summary := o.reconciler.Reconcile(meter, existingBills, existingIntervals, result)

	for _, update := range delta.BillUpdates {
		archived, err := json.Marshal(update.Old)
		if err != nil {
			return nil, nil, scraper.NewError(scraper.KindInternal, err)
		}
		artifacts.Add(artifact.KindArchive, "json", archived)
	}
	for _, old := range delta.BillDeletes {
		archived, err := json.Marshal(old)
		if err != nil {
			return nil, nil, scraper.NewError(scraper.KindInternal, err)
		}
		artifacts.Add(artifact.KindArchive, "json", archived)
	}
	return delta, summary, nil
}

// selectOutcome picks the terminal state for a run whose scrape and
// reconcile both completed.
func selectOutcome(rng dateparse.Range, coveredDays int, partialBilling bool, summary *reconcile.Summary) db.Outcome {
	if partialBilling || coveredDays < rng.Days() || summary.BillsDropped > 0 {
		return db.OutcomePartial
	}
	return db.OutcomeSucceeded
}

// publish uploads artifacts and writes the delta plus the run row in one
// serializable transaction. Signals are deferred for the duration of the
// write: the transaction either commits or aborts whole.
func (o *Orchestrator) publish(
	ctx context.Context,
	logger *zap.Logger,
	run *db.ScrapeRun,
	artifacts *artifact.Set,
	meter *db.Meter,
	delta *reconcile.Delta,
	summary *reconcile.Summary,
) *Report {
	run.EndedAt = o.now().UTC()

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 60*time.Second)
	defer cancel()

	refs, err := o.store.Upload(writeCtx, run.ID.String(), artifacts)
	if err != nil {
		logger.Error("artifact upload failed", zap.Error(err))
	}
	run.ArtifactRefs = refs

	if err := o.repo.WriteDelta(writeCtx, meter, delta, run); err != nil {
		logger.Error("failed to publish delta", zap.Error(err))
		run.Outcome = db.OutcomeFailed
		kind := string(scraper.KindPersistenceError)
		run.ErrorKind = &kind
		o.recordFailed(writeCtx, logger, run)
		return o.report(ctx, logger, run, summary)
	}

	logger.Info("run finished",
		zap.String("outcome", string(run.Outcome)),
		zap.Int("bill_inserts", summary.BillsInserted),
		zap.Int("bill_updates", summary.BillsUpdated),
		zap.Int("interval_writes", summary.IntervalsWritten),
		zap.Int("artifacts", artifacts.Len()),
	)
	return o.report(ctx, logger, run, summary)
}

// finalize terminates a failed run: classify, capture artifacts, record the
// run in a short transaction, and emit the summary.
func (o *Orchestrator) finalize(
	ctx context.Context,
	logger *zap.Logger,
	run *db.ScrapeRun,
	artifacts *artifact.Set,
	meter *db.Meter,
	summary *reconcile.Summary,
	cause error,
) *Report {
	run.EndedAt = o.now().UTC()
	run.Outcome = db.OutcomeFailed
	kind := string(scraper.KindOf(cause))
	run.ErrorKind = &kind

	logger.Error("run failed",
		zap.String("error_kind", kind),
		zap.Error(cause),
	)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 60*time.Second)
	defer cancel()

	refs, err := o.store.Upload(writeCtx, run.ID.String(), artifacts)
	if err != nil {
		logger.Error("artifact upload failed", zap.Error(err))
	}
	run.ArtifactRefs = refs

	o.recordFailed(writeCtx, logger, run)
	return o.report(ctx, logger, run, summary)
}

// recordFailed writes the run row in its own short transaction so a failed
// publish still leaves exactly one terminal record.
func (o *Orchestrator) recordFailed(ctx context.Context, logger *zap.Logger, run *db.ScrapeRun) {
	if err := o.repo.RecordRun(ctx, run); err != nil {
		logger.Error("failed to record run", zap.Error(err))
	}
}

// report maps the finalized run to an exit code and emits the run summary.
func (o *Orchestrator) report(ctx context.Context, logger *zap.Logger, run *db.ScrapeRun, summary *reconcile.Summary) *Report {
	code := ExitFailed
	switch run.Outcome {
	case db.OutcomeSucceeded:
		code = ExitSucceeded
	case db.OutcomePartial:
		code = ExitPartial
	}

	if o.publisher != nil {
		rs := mq.RunSummary{
			RunID:        run.ID.String(),
			DataSourceID: run.DataSourceID,
			RangeStart:   run.RangeStart.Format(dateparse.Layout),
			RangeEnd:     run.RangeEnd.Format(dateparse.Layout),
			Outcome:      string(run.Outcome),
			Retries:      run.Retries,
			ArtifactRefs: run.ArtifactRefs,
			Reconcile:    summary,
		}
		if run.ErrorKind != nil {
			rs.ErrorKind = *run.ErrorKind
		}
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := o.publisher.PublishRunSummary(pubCtx, rs, o.cfg.RabbitMQ.SummaryRoutingKey); err != nil {
			// Summary publication never alters the run outcome
			logger.Error("failed to publish run summary", zap.Error(err))
		}
	}

	return &Report{Run: run, Summary: summary, ExitCode: code}
}
