package mcpserver

import (
	"context"
	"errors"

	"sheetsync/internal/domain"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerAdminTools() {
	s.mcp.AddTool(mcp.NewTool("get_schema",
		mcp.WithDescription("Show the columns of the synced table in declaration order"),
	), s.handleGetSchema)

	s.mcp.AddTool(mcp.NewTool("reconcile",
		mcp.WithDescription("DESTRUCTIVE: delete rows and drop columns the sheet no longer has. An empty identity list empties the table."),
		mcp.WithString("activeIdentities", mcp.Description("JSON array of every superjoin_id present in the sheet"), mcp.Required()),
		mcp.WithString("activeColumns", mcp.Description("JSON array of the sheet's headers; omit to leave columns alone")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleReconcile)

	s.mcp.AddTool(mcp.NewTool("poll_now",
		mcp.WithDescription("Run one change poll and push pending changes to the sheet"),
	), s.handlePollNow)

	s.mcp.AddTool(mcp.NewTool("list_dead_jobs",
		mcp.WithDescription("List ingestion jobs that failed all their attempts"),
	), s.handleListDeadJobs)

	s.mcp.AddTool(mcp.NewTool("retry_job",
		mcp.WithDescription("Requeue a dead ingestion job"),
		mcp.WithString("jobId", mcp.Description("Job ID"), mcp.Required()),
	), s.handleRetryJob)
}

func (s *Server) handleGetSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.sync.Schema(ctx)
	if err != nil {
		return nil, s.logged("get_schema", err)
	}
	return jsonResult(snap)
}

func (s *Server) handleReconcile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	var rr domain.ReconcileRequest
	if err := jsonArg(args, "activeIdentities", true, &rr.ActiveIdentities); err != nil {
		return nil, err
	}
	if err := jsonArg(args, "activeColumns", false, &rr.ActiveColumns); err != nil {
		return nil, err
	}

	res, err := s.sync.Reconcile(ctx, rr)
	if err != nil && !errors.Is(err, domain.ErrPartialReconcile) {
		return nil, s.logged("reconcile", err)
	}
	// Partial failures are listed in the result itself.
	return jsonResult(res)
}

func (s *Server) handlePollNow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.sync.PollNow(ctx)
	if err != nil {
		return nil, s.logged("poll_now", err)
	}
	return jsonResult(res)
}

func (s *Server) handleListDeadJobs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobs, err := s.sync.DeadJobs(ctx, 100)
	if err != nil {
		return nil, err
	}
	return jsonResult(jobs)
}

func (s *Server) handleRetryJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := stringArg(req.GetArguments(), "jobId")
	if err != nil {
		return nil, err
	}
	if err := s.sync.RetryJob(ctx, id); err != nil {
		return nil, err
	}
	return textResult("requeued " + id), nil
}
