package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"sheetsync/internal/etl"
)

// ── JSON File Source ────────────────────────────────────────
// Reads an export shaped like the webhook payload:
//
//	{"headers": ["Name", "Email"], "rows": [{"Name": "Ann"}, ["Bob", "b@x"]]}
//
// Rows may be objects keyed by header or arrays in header order.

type jsonFileSource struct{}

func init() { etl.RegisterSource(&jsonFileSource{}) }

func (s *jsonFileSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "json_file",
		Label: "JSON File",
		ConfigFields: []etl.ConfigField{
			{Key: "filePath", Label: "File Path", Required: true, Help: "Path to the JSON export"},
		},
	}
}

type jsonExport struct {
	Headers []string          `json:"headers"`
	Rows    []json.RawMessage `json:"rows"`
}

func (s *jsonFileSource) Discover(ctx context.Context, cfg etl.SourceConfig) (*etl.Schema, error) {
	exp, err := readJSONFile(cfg)
	if err != nil {
		return nil, err
	}
	return &etl.Schema{Headers: exp.Headers}, nil
}

func (s *jsonFileSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		exp, err := readJSONFile(cfg)
		if err != nil {
			errCh <- err
			return
		}
		for i, raw := range exp.Rows {
			data, err := decodeRow(exp.Headers, raw)
			if err != nil {
				errCh <- fmt.Errorf("row %d: %w", i+1, err)
				return
			}
			select {
			case out <- etl.Record{Data: data}:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()

	return out, errCh
}

func readJSONFile(cfg etl.SourceConfig) (*jsonExport, error) {
	filePath, _ := cfg["filePath"].(string)
	if filePath == "" {
		return nil, fmt.Errorf("filePath is required")
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var exp jsonExport
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if len(exp.Headers) == 0 {
		return nil, fmt.Errorf("export has no headers")
	}
	return &exp, nil
}

func decodeRow(headers []string, raw json.RawMessage) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj, nil
	}
	var cells []any
	if err := json.Unmarshal(raw, &cells); err != nil {
		return nil, fmt.Errorf("row must be an object or an array")
	}
	data := make(map[string]any, len(headers))
	for i, h := range headers {
		if i < len(cells) {
			data[h] = cells[i]
		}
	}
	return data, nil
}
