package etl

import (
	"context"
	"fmt"
	"time"

	"sheetsync/internal/domain"
)

// maxReportedFailures caps the per-row errors kept in an ImportResult.
const maxReportedFailures = 50

// Destination receives rows one at a time. The sync service satisfies it, so
// imported rows go through the same validation, queue and merge rules as
// webhook edits.
type Destination interface {
	Ingest(ctx context.Context, req domain.SyncRequest) (domain.IngestResult, error)
}

// RowFailure is one row that could not be ingested. Row is 1-based and counts
// data rows only.
type RowFailure struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportResult summarizes one import run.
type ImportResult struct {
	Source   string                      `json:"source"`
	RowsRead int                         `json:"rowsRead"`
	Blank    int                         `json:"blank"`
	ByStatus map[domain.IngestStatus]int `json:"byStatus"`
	Failed   int                         `json:"failed"`
	Failures []RowFailure                `json:"failures,omitempty"`
	Duration time.Duration               `json:"duration"`
}

// Importer feeds a sheet export into a Destination row by row, in file order.
type Importer struct {
	Dest Destination
}

// Run imports every row from the source. Row failures are counted and the run
// continues; only a source error stops it.
func (im *Importer) Run(ctx context.Context, sourceType string, cfg SourceConfig) (*ImportResult, error) {
	start := time.Now()
	result := &ImportResult{Source: sourceType, ByStatus: map[domain.IngestStatus]int{}}

	source, err := GetSource(sourceType)
	if err != nil {
		return result, err
	}

	schema, err := source.Discover(ctx, cfg)
	if err != nil {
		return result, fmt.Errorf("discover: %w", err)
	}

	recCh, errCh := source.Read(ctx, cfg)
	for rec := range recCh {
		result.RowsRead++
		if rec.blank() {
			result.Blank++
			continue
		}

		res, err := im.Dest.Ingest(ctx, domain.SyncRequest{Headers: schema.Headers, Row: rec.Data})
		if err != nil {
			result.Failed++
			if len(result.Failures) < maxReportedFailures {
				result.Failures = append(result.Failures, RowFailure{Row: result.RowsRead, Error: err.Error()})
			}
			continue
		}
		result.ByStatus[res.Status]++
	}

	result.Duration = time.Since(start)
	if err := <-errCh; err != nil {
		return result, fmt.Errorf("read: %w", err)
	}
	return result, nil
}
