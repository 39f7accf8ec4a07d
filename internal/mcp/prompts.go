package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("audit_sync",
		mcp.WithPromptDescription("Check the synced table for drift against what the sheet should contain"),
		mcp.WithArgument("expectation",
			mcp.ArgumentDescription("What the sheet is supposed to hold, in plain words"),
			mcp.RequiredArgument(),
		),
	), s.handleAuditPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("clean_columns",
		mcp.WithPromptDescription("Drop columns that the sheet no longer has"),
		mcp.WithArgument("headers",
			mcp.ArgumentDescription("Comma-separated header row as it is now"),
			mcp.RequiredArgument(),
		),
	), s.handleCleanColumnsPrompt)
}

func (s *Server) handleAuditPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	expectation := req.Params.Arguments["expectation"]
	return &mcp.GetPromptResult{
		Description: "Audit the synced table",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`The sheet is expected to hold: %s

1. Read the columns with get_schema.
2. Read the rows with list_records.
3. Report rows that look like duplicates (same first-column value, created seconds apart) and empty columns.
4. Check list_dead_jobs for edits that never made it in.

Do not delete or reconcile anything; only report.`, expectation),
				},
			},
		},
	}, nil
}

func (s *Server) handleCleanColumnsPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	headers := req.Params.Arguments["headers"]
	return &mcp.GetPromptResult{
		Description: "Drop stale columns",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`The sheet's header row is now: %s

1. Compare it with get_schema and list the columns that would be dropped. Engine columns (superjoin_id, created_at, updated_at) always stay.
2. Ask for confirmation.
3. Call reconcile with activeColumns set to the header row and activeIdentities set to every superjoin_id from list_records, so no row is removed.`, headers),
				},
			},
		},
	}, nil
}
