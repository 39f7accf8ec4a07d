package sources

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"sheetsync/internal/etl"
)

// ── CSV File Source ─────────────────────────────────────────
// Reads a "Download as CSV" export. The first row is the header row. Cells
// stay text: "007" must not become 7.

type csvFileSource struct{}

func init() { etl.RegisterSource(&csvFileSource{}) }

func (s *csvFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "csv_file",
		Label: "CSV File",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Required: true, Help: "Path to the CSV export"},
			{Key: "delimiter", Label: "Delimiter", Default: ",", Help: "Column delimiter (default: comma)"},
		},
	}
}

func (s *csvFileSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	sheet, err := openCSV(cfg)
	if err != nil {
		return nil, err
	}
	defer sheet.Close()
	return &etl.Schema{Headers: sheet.headers}, nil
}

func (s *csvFileSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		sheet, err := openCSV(cfg)
		if err != nil {
			errCh <- err
			return
		}
		defer sheet.Close()

		for {
			row, err := sheet.reader.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errCh <- fmt.Errorf("parse csv: %w", err)
				return
			}
			select {
			case out <- etl.Record{Data: sheet.record(row)}:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()

	return out, errCh
}

// csvSheet is an open export positioned after its header row.
type csvSheet struct {
	file    *os.File
	reader  *csv.Reader
	headers []string
}

func openCSV(cfg etl.SourceConfig) (*csvSheet, error) {
	filePath, _ := cfg["filePath"].(string)
	if filePath == "" {
		return nil, fmt.Errorf("filePath is required")
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	r := csv.NewReader(f)
	if delim, ok := cfg["delimiter"].(string); ok && len(delim) > 0 {
		r.Comma = rune(delim[0])
	}
	r.LazyQuotes = true
	// Trailing empty cells are often cut from exported rows.
	r.FieldsPerRecord = -1

	headers, err := r.Read()
	if errors.Is(err, io.EOF) {
		f.Close()
		return nil, fmt.Errorf("empty csv file")
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parse csv header: %w", err)
	}
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	}
	return &csvSheet{file: f, reader: r, headers: headers}, nil
}

func (s *csvSheet) record(row []string) map[string]any {
	data := make(map[string]any, len(s.headers))
	for j, h := range s.headers {
		if j < len(row) {
			data[h] = row[j]
		}
	}
	return data
}

func (s *csvSheet) Close() error { return s.file.Close() }
