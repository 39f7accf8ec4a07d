package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"sheetsync/internal/domain"
	"sheetsync/internal/secret"
)

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		ids     []string
		idsFile string
		columns []string
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Delete rows and drop columns the sheet no longer has",
		Long: `Prune the table down to the sheet's current state.

Rows whose superjoin_id is not listed are deleted. With no ids at all the
table is emptied, because the sheet is taken to be empty. Columns not named in
--columns are dropped; without --columns the columns are left alone.

Example:
  sheetsync reconcile --ids-file ids.txt --columns "Name,Email,Phone"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if idsFile != "" {
				fromFile, err := readLines(idsFile)
				if err != nil {
					return err
				}
				ids = append(ids, fromFile...)
			}

			ctx := cmd.Context()
			s, err := open(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer s.close(context.Background())

			res, err := s.app.Sync.Reconcile(ctx, domain.ReconcileRequest{ActiveIdentities: ids, ActiveColumns: columns})
			if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
				return perr
			}
			if errors.Is(err, domain.ErrPartialReconcile) {
				return fmt.Errorf("%d operation(s) failed", len(res.Failures))
			}
			return err
		},
	}

	cmd.Flags().StringSliceVar(&ids, "ids", nil, "active superjoin_id values (comma-separated)")
	cmd.Flags().StringVar(&idsFile, "ids-file", "", "file with one active superjoin_id per line")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "active header row (comma-separated)")
	return cmd
}

// NewPollCommand creates the poll command.
func NewPollCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run one change poll and push pending changes to the sheet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := open(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer s.close(context.Background())

			res, err := s.app.Sync.PollNow(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the synced table's columns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := open(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer s.close(context.Background())

			snap, err := s.app.Sync.Schema(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snap)
		},
	}
}

// NewSecretCommand creates the secret command group. Config values of the
// form keychain:KEY are read from the same store.
func NewSecretCommand(_ *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage credentials referenced as keychain:KEY in the config",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key>",
		Short: "Store a secret read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && value == "" {
				return fmt.Errorf("read secret from stdin: %w", err)
			}
			value = strings.TrimRight(value, "\r\n")
			if value == "" {
				return errors.New("empty secret")
			}
			return secret.NewKeychainStore().Set(args[0], []byte(value))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return secret.NewKeychainStore().Delete(args[0])
		},
	})

	return cmd
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}
