package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sheetsync/internal/config"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the ingestion queue and the change poller",
		Long: `Run sheetsync as a service.

The webhook the sheet calls, the dashboard routes and the operational routes
are served over HTTP. Queued edits left by a previous run are picked up on
start. Edits to the config file's poller section apply without a restart.

Example:
  sheetsync serve --config sheetsync.yaml
  SHEETSYNC_STORE_DRIVER=postgres SHEETSYNC_STORE_DSN=postgres://... sheetsync serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			s, err := open(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer s.close(context.Background())

			if err := s.app.Startup(ctx); err != nil {
				return err
			}
			s.cfg.Watch(func(old, updated config.Config) {
				s.app.ApplyConfig(old, updated)
			})

			if addr == "" {
				addr = s.cfg.Current().HTTP.Addr
			}
			return s.app.ServeHTTP(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	return cmd
}

// NewMCPCommand creates the mcp command.
func NewMCPCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the sync tools over MCP on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			s, err := open(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer s.close(context.Background())

			if err := s.app.Startup(ctx); err != nil {
				return err
			}
			return s.app.ServeMCP()
		},
	}
}
