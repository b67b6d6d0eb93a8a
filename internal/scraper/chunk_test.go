package scraper_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gridsight/utility-bill-worker/internal/db"
	"github.com/gridsight/utility-bill-worker/internal/scraper"
	"github.com/gridsight/utility-bill-worker/tools/dateparse"
)

type windowedScraper struct {
	window int
	calls  []dateparse.Range
	err    error
}

func (s *windowedScraper) RequiresBrowser() bool { return false }
func (s *windowedScraper) MaxWindowDays() int    { return s.window }

func (s *windowedScraper) Scrape(ctx context.Context, in scraper.Inputs) (*scraper.Result, error) {
	s.calls = append(s.calls, in.Range)
	if s.err != nil {
		return nil, s.err
	}
	return &scraper.Result{Bills: []db.Bill{{
		MeterID: 7,
		Start:   in.Range.Start,
		End:     in.Range.End,
	}}}, nil
}

func day(s string) time.Time {
	t, _ := time.Parse(dateparse.Layout, s)
	return t
}

func inputsOver(start, end string) scraper.Inputs {
	return scraper.Inputs{
		Range:  dateparse.Range{Start: day(start), End: day(end)},
		Logger: zap.NewNop(),
	}
}

func TestRunChunked_SplitsIntoConsecutiveWindows(t *testing.T) {
	s := &windowedScraper{window: 30}
	in := inputsOver("2024-01-01", "2024-03-31") // 91 days

	result, covered, err := scraper.RunChunked(context.Background(), s, in)
	if err != nil {
		t.Fatalf("RunChunked failed: %v", err)
	}

	if len(s.calls) != 4 {
		t.Fatalf("Expected 4 chunks of at most 30 days, got %d", len(s.calls))
	}
	if covered != in.Range.Days() {
		t.Errorf("Expected %d covered days, got %d", in.Range.Days(), covered)
	}

	// Chunks join exactly: first starts at range start, last ends at range
	// end, and each chunk starts the day after its predecessor ends
	if !s.calls[0].Start.Equal(in.Range.Start) {
		t.Errorf("First chunk starts at %s", s.calls[0].Start.Format(dateparse.Layout))
	}
	if !s.calls[len(s.calls)-1].End.Equal(in.Range.End) {
		t.Errorf("Last chunk ends at %s", s.calls[len(s.calls)-1].End.Format(dateparse.Layout))
	}
	for i := 1; i < len(s.calls); i++ {
		wantStart := s.calls[i-1].End.AddDate(0, 0, 1)
		if !s.calls[i].Start.Equal(wantStart) {
			t.Errorf("Chunk %d starts at %s, expected %s", i,
				s.calls[i].Start.Format(dateparse.Layout), wantStart.Format(dateparse.Layout))
		}
		if s.calls[i].Days() > 30 {
			t.Errorf("Chunk %d spans %d days", i, s.calls[i].Days())
		}
	}

	if len(result.Bills) != 4 {
		t.Errorf("Expected one merged bill per chunk, got %d", len(result.Bills))
	}
}

func TestRunChunked_UnwindowedRunsOnce(t *testing.T) {
	s := &windowedScraper{window: 0}
	in := inputsOver("2024-01-01", "2024-12-31")

	// window 0 falls back to the default window rather than running once
	_, covered, err := scraper.RunChunked(context.Background(), s, in)
	if err != nil {
		t.Fatalf("RunChunked failed: %v", err)
	}
	if len(s.calls) == 1 {
		t.Error("Expected the default window to apply when none is declared")
	}
	if covered != in.Range.Days() {
		t.Errorf("Expected %d covered days, got %d", in.Range.Days(), covered)
	}
}

func TestRunChunked_RangeWithinWindowRunsOnce(t *testing.T) {
	s := &windowedScraper{window: 90}
	in := inputsOver("2024-01-01", "2024-01-31")

	_, covered, err := scraper.RunChunked(context.Background(), s, in)
	if err != nil {
		t.Fatalf("RunChunked failed: %v", err)
	}
	if len(s.calls) != 1 {
		t.Errorf("Expected a single call for a range inside the window, got %d", len(s.calls))
	}
	if covered != 31 {
		t.Errorf("Expected 31 covered days, got %d", covered)
	}
}

func TestRunChunked_ErrorStopsRemainingChunks(t *testing.T) {
	s := &windowedScraper{window: 30, err: errors.New("portal down")}
	in := inputsOver("2024-01-01", "2024-03-31")

	_, _, err := scraper.RunChunked(context.Background(), s, in)
	if err == nil {
		t.Fatal("Expected the chunk error to propagate")
	}
	if len(s.calls) != 1 {
		t.Errorf("Expected extraction to stop at the first failed chunk, got %d calls", len(s.calls))
	}
}

func TestResultMerge_LaterBillWinsAndPartialSticks(t *testing.T) {
	a := &scraper.Result{Bills: []db.Bill{
		{MeterID: 7, Start: day("2024-01-01"), End: day("2024-01-31"), Cost: 100},
	}}
	b := &scraper.Result{
		Bills: []db.Bill{
			{MeterID: 7, Start: day("2024-01-01"), End: day("2024-01-31"), Cost: 120},
			{MeterID: 7, Start: day("2024-02-01"), End: day("2024-02-29"), Cost: 90},
		},
		PartialBilling: true,
	}

	a.Merge(b)
	a.Merge(nil)

	if len(a.Bills) != 2 {
		t.Fatalf("Expected 2 bills after merge, got %d", len(a.Bills))
	}
	if a.Bills[0].Cost != 120 {
		t.Errorf("Expected the later duplicate to win, got cost %.2f", a.Bills[0].Cost)
	}
	if !a.PartialBilling {
		t.Error("Expected the partial-billing flag to stick")
	}
}

func TestResultMerge_IntervalsSortedByTimestamp(t *testing.T) {
	at := func(hour int) time.Time {
		return time.Date(2024, 1, 1, hour, 0, 0, 0, time.UTC)
	}
	a := &scraper.Result{Intervals: []db.IntervalReading{
		{MeterID: 7, Timestamp: at(10), Value: 1},
	}}
	b := &scraper.Result{Intervals: []db.IntervalReading{
		{MeterID: 7, Timestamp: at(8), Value: 2},
		{MeterID: 7, Timestamp: at(12), Value: 3},
	}}

	a.Merge(b)

	for i := 1; i < len(a.Intervals); i++ {
		if a.Intervals[i].Timestamp.Before(a.Intervals[i-1].Timestamp) {
			t.Fatalf("Intervals out of order at %d", i)
		}
	}
}
