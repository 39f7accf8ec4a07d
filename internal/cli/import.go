package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"sheetsync/internal/etl"
	_ "sheetsync/internal/etl/sources"
)

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		format    string
		delimiter string
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load an exported copy of the sheet through the merge engine",
		Long: `Feed every row of a sheet export through the same path as webhook edits.

Rows carrying a superjoin_id update the matching record; rows without one are
created, or merged into a record created moments earlier with the same
first-column value. Blank rows are skipped.

Example:
  sheetsync import contacts.csv
  sheetsync import export.json --format json_file`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if format == "" {
				format = formatFor(path)
			}
			cfg := etl.SourceConfig{"filePath": path}
			if delimiter != "" {
				cfg["delimiter"] = delimiter
			}

			ctx := cmd.Context()
			s, err := open(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer s.close(context.Background())
			s.app.StartWorkers(ctx)

			res, err := (&etl.Importer{Dest: s.app.Sync}).Run(ctx, format, cfg)
			if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
				return perr
			}
			if err != nil {
				return err
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d row(s) failed", res.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "source type: csv_file or json_file (default: from extension)")
	cmd.Flags().StringVar(&delimiter, "delimiter", "", "CSV delimiter")
	return cmd
}

func formatFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return "json_file"
	}
	return "csv_file"
}
