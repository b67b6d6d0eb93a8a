package scraper

import (
	"context"
	"sort"
	"time"

	"github.com/tebeka/selenium"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/gridsight/utility-bill-worker/internal/artifact"
	"github.com/gridsight/utility-bill-worker/internal/db"
	"github.com/gridsight/utility-bill-worker/internal/secrets"
	"github.com/gridsight/utility-bill-worker/tools/dateparse"
)

// BrowserSession is the scoped browser handle a portal scraper navigates
// with. The concrete implementation lives in internal/browser; the interface
// keeps scrapers and the orchestrator testable without a live WebDriver.
type BrowserSession interface {
	// Driver exposes the raw WebDriver for scraper navigation.
	Driver() selenium.WebDriver
	// Get navigates to a URL.
	Get(url string) error
	// WaitForElement polls a CSS selector until it matches or times out.
	WaitForElement(selector string, timeout time.Duration) (selenium.WebElement, error)
	// Screenshot returns a PNG capture of the current page.
	Screenshot() ([]byte, error)
	// PageSource returns the current page HTML.
	PageSource() (string, error)
	// CaptureFailure records a final screenshot and page source, best effort.
	CaptureFailure(set *artifact.Set)
	// IndexDownloads adds downloaded files to the artifact set.
	IndexDownloads(set *artifact.Set) error
	// DownloadDir returns the private per-run download directory.
	DownloadDir() string
	// Close releases the session. Idempotent.
	Close() error
}

// Scraper is the capability every utility extractor implements. Portal
// scrapers drive a live browser session; warehouse scrapers query staged
// bills. The orchestrator does not distinguish the two past browser
// acquisition.
type Scraper interface {
	// RequiresBrowser reports whether the orchestrator must acquire a
	// browser session before Scrape is invoked.
	RequiresBrowser() bool

	// Scrape performs the one-shot extraction for the requested range.
	Scrape(ctx context.Context, in Inputs) (*Result, error)
}

// Windowed is implemented by scrapers whose upstream limits the queryable
// window. The contract scaffolding chunks the requested range accordingly.
type Windowed interface {
	// MaxWindowDays returns the widest date range a single Scrape call
	// may cover.
	MaxWindowDays() int
}

// Inputs is everything a scraper receives for one extraction.
type Inputs struct {
	DataSource  *db.DataSource
	Meter       *db.Meter
	Credentials *secrets.Credentials
	Range       dateparse.Range

	// Browser is nil unless RequiresBrowser returned true.
	Browser BrowserSession

	// Warehouse is the staged-bills database handle, nil when MONGO_URL
	// is not configured.
	Warehouse *mongo.Database

	// Workdir is a writable per-run scratch directory.
	Workdir string

	// Artifacts collects screenshots, snapshots and downloads for audit.
	Artifacts *artifact.Set

	Logger *zap.Logger
}

// Result is the in-memory outcome of one extraction.
type Result struct {
	Bills     []db.Bill
	Intervals []db.IntervalReading

	// PartialBilling is true iff the scraper only covered a subset of
	// line-item classes (e.g. generation-only supplier portals).
	PartialBilling bool
}

// Merge folds another result into r: bills are unioned by (meter, start,
// end) with later additions winning, intervals are merged in timestamp
// order, and the partial-billing flag is sticky.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}

	for _, b := range other.Bills {
		replaced := false
		for i := range r.Bills {
			if r.Bills[i].Key() == b.Key() {
				r.Bills[i] = b
				replaced = true
				break
			}
		}
		if !replaced {
			r.Bills = append(r.Bills, b)
		}
	}

	r.Intervals = append(r.Intervals, other.Intervals...)
	sort.SliceStable(r.Intervals, func(i, j int) bool {
		return r.Intervals[i].Timestamp.Before(r.Intervals[j].Timestamp)
	})

	r.PartialBilling = r.PartialBilling || other.PartialBilling
}
