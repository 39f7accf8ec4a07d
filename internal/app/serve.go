package app

import (
	"context"
	"fmt"
	"time"

	"sheetsync/internal/httpapi"
	mcpserver "sheetsync/internal/mcp"
)

// ServeHTTP runs the API on addr until ctx is cancelled.
func (a *App) ServeHTTP(ctx context.Context, addr string) error {
	srv := httpapi.NewApp(httpapi.NewHandler(a.Sync, a.logs.For("http")))

	errCh := make(chan error, 1)
	go func() {
		a.logger.Printf("listening on %s", addr)
		errCh <- srv.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	a.logger.Println("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.ShutdownWithContext(shutdownCtx)
}

// ServeMCP runs the MCP server on stdin/stdout. It returns when the client
// disconnects or the process is signalled.
func (a *App) ServeMCP() error {
	srv := mcpserver.New(mcpserver.Deps{Sync: a.Sync, Logger: a.logs.For("mcp")})
	return srv.ServeStdio()
}
