package mcpserver

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"sheetsync/internal/service"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server is the MCP server for sheetsync.
// It exposes the sync operations as tools so an agent can inspect the synced
// table, apply edits and run reconciliation.
type Server struct {
	mcp    *server.MCPServer
	sync   *service.SyncService
	logger *log.Logger
}

// Deps holds everything the MCP server needs from the caller.
type Deps struct {
	Sync   *service.SyncService
	Logger *log.Logger
}

// New creates and configures a new MCP server with all tools, resources and
// prompts.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.New(os.Stderr, "[mcp] ", log.LstdFlags)
	}
	s := &Server{sync: deps.Sync, logger: deps.Logger}

	s.mcp = server.NewMCPServer(
		"sheetsync-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerRecordTools()
	s.registerAdminTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	s.logger.Println("starting stdio server")
	return server.ServeStdio(s.mcp)
}

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

// jsonResource wraps v as a single JSON resource body.
func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(data)},
	}, nil
}

func boolPtr(v bool) *bool { return &v }

// logged records a failed tool call before handing the error to the client.
func (s *Server) logged(tool string, err error) error {
	s.logger.Printf("%s: %v", tool, err)
	return err
}
