package mcpserver

import (
	"context"

	"sheetsync/internal/domain"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerRecordTools() {
	s.mcp.AddTool(mcp.NewTool("list_records",
		mcp.WithDescription("List every record of the synced table, oldest first"),
	), s.handleListRecords)

	s.mcp.AddTool(mcp.NewTool("get_record",
		mcp.WithDescription("Get one record by its superjoin_id"),
		mcp.WithString("id", mcp.Description("Record identity (superjoin_id)"), mcp.Required()),
	), s.handleGetRecord)

	s.mcp.AddTool(mcp.NewTool("ingest_row",
		mcp.WithDescription("Apply a spreadsheet row as if the sheet had sent it. Creates, updates or merges."),
		mcp.WithString("headers", mcp.Description("JSON array of the sheet's header row"), mcp.Required()),
		mcp.WithString("row", mcp.Description("JSON object of cell values keyed by header; include superjoin_id to update"), mcp.Required()),
	), s.handleIngestRow)

	s.mcp.AddTool(mcp.NewTool("update_cell",
		mcp.WithDescription("Set one cell. The change is pushed back to the sheet on the next poll."),
		mcp.WithString("id", mcp.Description("Record identity (superjoin_id)"), mcp.Required()),
		mcp.WithString("column", mcp.Description("Column name; engine-owned columns are rejected"), mcp.Required()),
		mcp.WithString("value", mcp.Description("New text value")),
	), s.handleUpdateCell)

	s.mcp.AddTool(mcp.NewTool("delete_record",
		mcp.WithDescription("DESTRUCTIVE: delete one record from the synced table"),
		mcp.WithString("id", mcp.Description("Record identity (superjoin_id)"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleDeleteRecord)
}

func (s *Server) handleListRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	recs, err := s.sync.ListRecords(ctx)
	if err != nil {
		return nil, s.logged("list_records", err)
	}
	return jsonResult(recs)
}

func (s *Server) handleGetRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := stringArg(req.GetArguments(), "id")
	if err != nil {
		return nil, err
	}
	rec, err := s.sync.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return jsonResult(rec)
}

func (s *Server) handleIngestRow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	var sr domain.SyncRequest
	if err := jsonArg(args, "headers", true, &sr.Headers); err != nil {
		return nil, err
	}
	if err := jsonArg(args, "row", true, &sr.Row); err != nil {
		return nil, err
	}
	res, err := s.sync.Ingest(ctx, sr)
	if err != nil {
		return nil, s.logged("ingest_row", err)
	}
	return jsonResult(res)
}

func (s *Server) handleUpdateCell(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	id, err := stringArg(args, "id")
	if err != nil {
		return nil, err
	}
	column, err := stringArg(args, "column")
	if err != nil {
		return nil, err
	}
	value, _ := args["value"].(string)

	if err := s.sync.UpdateCell(ctx, domain.CellUpdate{Identity: id, Column: column, Value: value}); err != nil {
		return nil, err
	}
	return textResult("updated " + id + "." + column), nil
}

func (s *Server) handleDeleteRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := stringArg(req.GetArguments(), "id")
	if err != nil {
		return nil, err
	}
	if err := s.sync.DeleteRow(ctx, id); err != nil {
		return nil, err
	}
	return textResult("deleted " + id), nil
}
