// Package cli implements the sheetsync command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"sheetsync/internal/app"
	"sheetsync/internal/config"
	"sheetsync/internal/logging"
	"sheetsync/internal/secret"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Verbose    bool
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sheetsync",
		Short: "Two-way sync between a spreadsheet and a database table",
		Long: `sheetsync keeps a spreadsheet and a relational table in step.

Edits from the sheet arrive on a webhook and are merged into the table, the
table's columns follow the sheet's header row, and changes made on the
database side are pushed back to the sheet on a schedule.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file (yaml, toml or json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMCPCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewPollCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewSecretCommand(opts))

	return cmd
}

// session is a loaded config plus a built App.
type session struct {
	cfg  *config.Manager
	logs *logging.Logs
	app  *app.App
}

func open(ctx context.Context, opts *RootOptions) (*session, error) {
	cfg, err := config.Load(opts.ConfigFile, nil)
	if err != nil {
		return nil, err
	}
	current := cfg.Current()
	logs := logging.Setup(current.Log, opts.Verbose)
	logs.Debug("cli").Printf("config file %q, store driver %s", cfg.File(), current.Store.Driver)

	a, err := app.New(ctx, current, logs, secret.NewKeychainStore())
	if err != nil {
		logs.Close()
		return nil, err
	}
	if err := a.Prepare(ctx); err != nil {
		a.Shutdown(ctx)
		logs.Close()
		return nil, err
	}
	return &session{cfg: cfg, logs: logs, app: a}, nil
}

func (s *session) close(ctx context.Context) {
	s.app.Shutdown(ctx)
	s.logs.Close()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
