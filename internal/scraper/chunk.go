package scraper

import (
	"context"

	"go.uber.org/zap"
)

// DefaultWindowDays is the chunk width applied when a Windowed scraper
// declares a non-positive window.
const DefaultWindowDays = 90

// RunChunked invokes the scraper once per window-sized chunk of the
// requested range and concatenates the results. Scrapers without a declared
// window run once over the full range. Covered reports how many requested
// days the joined result spans, so the orchestrator can detect a proper
// subset.
func RunChunked(ctx context.Context, s Scraper, in Inputs) (result *Result, coveredDays int, err error) {
	windowed, ok := s.(Windowed)
	if !ok {
		res, err := s.Scrape(ctx, in)
		if err != nil {
			return nil, 0, err
		}
		return res, in.Range.Days(), nil
	}

	window := windowed.MaxWindowDays()
	if window <= 0 {
		window = DefaultWindowDays
	}

	chunks := in.Range.Chunks(window)
	merged := &Result{}
	covered := 0

	for i, chunk := range chunks {
		chunkIn := in
		chunkIn.Range = chunk

		in.Logger.Debug("scraping chunk",
			zap.Int("chunk", i+1),
			zap.Int("chunks", len(chunks)),
			zap.String("range", chunk.String()),
		)

		res, err := s.Scrape(ctx, chunkIn)
		if err != nil {
			return nil, covered, err
		}
		merged.Merge(res)
		covered += chunk.Days()
	}

	return merged, covered, nil
}
