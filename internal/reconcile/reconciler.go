// Package reconcile merges a scrape result against the records already
// persisted for a meter and computes the minimal write delta. Running the
// same result against its own published output must yield an empty delta.
package reconcile

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/gridsight/utility-bill-worker/internal/db"
	"github.com/gridsight/utility-bill-worker/internal/scraper"
	"github.com/gridsight/utility-bill-worker/tools/dateparse"
)

// BillUpdate replaces the persisted bill identified by Old's key with New.
// Old is archived into the run's artifacts before the write.
type BillUpdate struct {
	Old db.Bill
	New db.Bill
}

// Conflict records a new bill dropped by the overlap rule.
type Conflict struct {
	Existing db.Bill
	Dropped  db.Bill
	Reason   string
}

// Delta is the minimal set of writes produced by reconciliation.
type Delta struct {
	BillInserts    []db.Bill
	BillUpdates    []BillUpdate
	BillDeletes    []db.Bill
	IntervalWrites []db.IntervalReading
	Conflicts      []Conflict
}

// Empty reports whether the delta performs no writes.
func (d *Delta) Empty() bool {
	return len(d.BillInserts) == 0 && len(d.BillUpdates) == 0 &&
		len(d.BillDeletes) == 0 && len(d.IntervalWrites) == 0
}

// Summary counts the reconciliation outcome for the run summary record.
type Summary struct {
	BillsInserted      int      `json:"bills_inserted"`
	BillsUpdated       int      `json:"bills_updated"`
	BillsDeleted       int      `json:"bills_deleted"`
	BillsUnchanged     int      `json:"bills_unchanged"`
	BillsDropped       int      `json:"bills_dropped"`
	IntervalsWritten   int      `json:"intervals_written"`
	IntervalsUnchanged int      `json:"intervals_unchanged"`
	Diagnostics        []string `json:"diagnostics,omitempty"`
}

// Reconciler applies the bill and interval reconciliation rules.
type Reconciler struct {
	epsilon float64
	logger  *zap.Logger
}

// NewReconciler creates a reconciler. epsilon is the minimum value change
// required to overwrite an existing interval reading; zero means any
// difference triggers a replacement and equal values are skipped.
func NewReconciler(epsilon float64, logger *zap.Logger) *Reconciler {
	return &Reconciler{epsilon: epsilon, logger: logger}
}

// workingBill tracks whether an entry in the reconciliation view came from
// the database or from an insert accepted earlier in this pass. Entries
// removed by a multi-bill supersede stay in the slice with deleted set.
type workingBill struct {
	bill    db.Bill
	fromDB  bool
	deleted bool
}

// Reconcile merges the result against the meter's existing records.
func (r *Reconciler) Reconcile(
	meter *db.Meter,
	existingBills []db.Bill,
	existingIntervals []db.IntervalReading,
	result *scraper.Result,
) (*Delta, *Summary) {
	delta := &Delta{}
	summary := &Summary{}

	r.reconcileBills(existingBills, result, delta, summary)
	r.reconcileIntervals(existingIntervals, result.Intervals, delta, summary)

	r.logger.Info("reconciliation complete",
		zap.Int64("meter_id", meter.ID),
		zap.Int("bill_inserts", summary.BillsInserted),
		zap.Int("bill_updates", summary.BillsUpdated),
		zap.Int("bill_deletes", summary.BillsDeleted),
		zap.Int("bills_unchanged", summary.BillsUnchanged),
		zap.Int("bills_dropped", summary.BillsDropped),
		zap.Int("interval_writes", summary.IntervalsWritten),
	)

	return delta, summary
}

func (r *Reconciler) reconcileBills(existing []db.Bill, result *scraper.Result, delta *Delta, summary *Summary) {
	working := make([]workingBill, 0, len(existing))
	for _, b := range existing {
		working = append(working, workingBill{bill: b, fromDB: true})
	}

	for _, newBill := range dedupeBillsByKey(result.Bills) {
		r.placeBill(newBill, result.PartialBilling, &working, delta, summary)
	}
}

// placeBill applies the ordered bill rules: same-key handling first, then the
// overlap rule, then plain insert.
func (r *Reconciler) placeBill(newBill db.Bill, partialBilling bool, working *[]workingBill, delta *Delta, summary *Summary) {
	// Rule 1: identical key means "same bill"
	for i := range *working {
		entry := &(*working)[i]
		if entry.deleted || entry.bill.Key() != newBill.Key() {
			continue
		}

		merged := newBill
		if partialBilling {
			// Rule 5: contribute only the scraped line-item classes
			merged = mergeLineItems(entry.bill, newBill)
		}

		// Rule 3: equal content yields no write
		if entry.bill.Equal(&merged) {
			summary.BillsUnchanged++
			return
		}

		// Rule 4: replace, archiving the prior version
		r.replace(entry, merged, delta, summary)
		return
	}

	// Rule 2: overlapping periods under different keys. The new bill wins
	// only when its statement date is strictly later than every overlapping
	// bill; a single equal-or-later holdout drops it whole, so the persisted
	// view never ends up with overlapping periods.
	var overlapping []*workingBill
	for i := range *working {
		entry := &(*working)[i]
		if entry.deleted || !entry.bill.Overlaps(&newBill) {
			continue
		}
		if partialBilling && classesDisjoint(entry.bill.LineItems, newBill.LineItems) {
			// Disjoint line-item classes may legitimately cover the
			// same days in partial-billing mode
			continue
		}
		overlapping = append(overlapping, entry)
	}

	for _, entry := range overlapping {
		if newBill.StatementDate.After(entry.bill.StatementDate) {
			continue
		}
		reason := fmt.Sprintf("OverlapConflict: new bill %s..%s (stmt %s) overlaps existing %s..%s (stmt %s)",
			newBill.Start.Format(dateparse.Layout), newBill.End.Format(dateparse.Layout),
			newBill.StatementDate.Format(dateparse.Layout),
			entry.bill.Start.Format(dateparse.Layout), entry.bill.End.Format(dateparse.Layout),
			entry.bill.StatementDate.Format(dateparse.Layout))
		delta.Conflicts = append(delta.Conflicts, Conflict{Existing: entry.bill, Dropped: newBill, Reason: reason})
		summary.BillsDropped++
		summary.Diagnostics = append(summary.Diagnostics, reason)
		r.logger.Warn("dropped overlapping bill", zap.String("reason", reason))
		return
	}

	if len(overlapping) > 0 {
		r.replace(overlapping[0], newBill, delta, summary)
		for _, entry := range overlapping[1:] {
			r.remove(entry, delta, summary)
		}
		return
	}

	delta.BillInserts = append(delta.BillInserts, newBill)
	*working = append(*working, workingBill{bill: newBill})
	summary.BillsInserted++
}

// replace swaps entry's bill for merged. Superseding a row that exists in the
// database is an update; superseding an insert accepted earlier in this pass
// just rewrites that pending insert.
func (r *Reconciler) replace(entry *workingBill, merged db.Bill, delta *Delta, summary *Summary) {
	if entry.fromDB {
		delta.BillUpdates = append(delta.BillUpdates, BillUpdate{Old: entry.bill, New: merged})
		summary.BillsUpdated++
		entry.bill = merged
		entry.fromDB = false
		return
	}

	for i := range delta.BillInserts {
		if delta.BillInserts[i].Key() == entry.bill.Key() {
			delta.BillInserts[i] = merged
			entry.bill = merged
			return
		}
	}
	for i := range delta.BillUpdates {
		if delta.BillUpdates[i].New.Key() == entry.bill.Key() {
			delta.BillUpdates[i].New = merged
			break
		}
	}
	entry.bill = merged
}

// remove retires a further overlapping entry superseded by the same new bill.
// A database row becomes a delete; a bill accepted earlier in this pass is
// withdrawn from the pending writes, deleting its original row if it had one.
func (r *Reconciler) remove(entry *workingBill, delta *Delta, summary *Summary) {
	entry.deleted = true

	if entry.fromDB {
		delta.BillDeletes = append(delta.BillDeletes, entry.bill)
		summary.BillsDeleted++
		return
	}

	for i := range delta.BillInserts {
		if delta.BillInserts[i].Key() == entry.bill.Key() {
			delta.BillInserts = append(delta.BillInserts[:i], delta.BillInserts[i+1:]...)
			summary.BillsInserted--
			return
		}
	}
	for i := range delta.BillUpdates {
		if delta.BillUpdates[i].New.Key() == entry.bill.Key() {
			delta.BillDeletes = append(delta.BillDeletes, delta.BillUpdates[i].Old)
			summary.BillsDeleted++
			summary.BillsUpdated--
			delta.BillUpdates = append(delta.BillUpdates[:i], delta.BillUpdates[i+1:]...)
			return
		}
	}
}

func (r *Reconciler) reconcileIntervals(existing []db.IntervalReading, produced []db.IntervalReading, delta *Delta, summary *Summary) {
	existingByTS := make(map[int64]db.IntervalReading, len(existing))
	for _, reading := range existing {
		existingByTS[reading.Timestamp.Unix()] = reading
	}

	// Duplicates within one result resolve last-write-wins in produced order
	deduped := make(map[int64]db.IntervalReading, len(produced))
	order := make([]int64, 0, len(produced))
	for _, reading := range produced {
		ts := reading.Timestamp.Unix()
		if _, seen := deduped[ts]; !seen {
			order = append(order, ts)
		}
		deduped[ts] = reading
	}

	for _, ts := range order {
		reading := deduped[ts]
		if prior, ok := existingByTS[ts]; ok {
			if math.Abs(reading.Value-prior.Value) <= r.epsilon {
				summary.IntervalsUnchanged++
				continue
			}
		}
		delta.IntervalWrites = append(delta.IntervalWrites, reading)
		summary.IntervalsWritten++
	}

	sort.SliceStable(delta.IntervalWrites, func(i, j int) bool {
		return delta.IntervalWrites[i].Timestamp.Before(delta.IntervalWrites[j].Timestamp)
	})
}

// dedupeBillsByKey resolves duplicate keys within one result, last wins.
func dedupeBillsByKey(bills []db.Bill) []db.Bill {
	out := make([]db.Bill, 0, len(bills))
	index := make(map[db.BillKey]int, len(bills))
	for _, b := range bills {
		if i, seen := index[b.Key()]; seen {
			out[i] = b
			continue
		}
		index[b.Key()] = len(out)
		out = append(out, b)
	}
	return out
}

// mergeLineItems produces the partial-billing merge of existing and new: the
// new bill replaces only the line-item classes it contributes, the rest of
// the existing bill is preserved. Cost is recomputed from the merged items
// and the statement date advances to the newer of the two.
func mergeLineItems(existing, newBill db.Bill) db.Bill {
	contributed := make(map[string]bool)
	for _, li := range newBill.LineItems {
		contributed[li.Class] = true
	}

	merged := existing
	merged.LineItems = nil
	for _, li := range existing.LineItems {
		if !contributed[li.Class] {
			merged.LineItems = append(merged.LineItems, li)
		}
	}
	merged.LineItems = append(merged.LineItems, newBill.LineItems...)

	total := 0.0
	for _, li := range merged.LineItems {
		total += li.Amount
	}
	merged.Cost = total

	if newBill.StatementDate.After(merged.StatementDate) {
		merged.StatementDate = newBill.StatementDate
	}
	return merged
}

// classesDisjoint reports whether two line-item sets share no class.
func classesDisjoint(a, b []db.LineItem) bool {
	classes := make(map[string]bool)
	for _, li := range a {
		classes[li.Class] = true
	}
	for _, li := range b {
		if classes[li.Class] {
			return false
		}
	}
	return true
}
