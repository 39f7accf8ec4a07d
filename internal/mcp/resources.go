package mcpserver

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const recordURIPrefix = "sheetsync://records/"

func (s *Server) registerResources() {
	// ── sheetsync://schema ─────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		"sheetsync://schema",
		"Synced Table Schema",
		mcp.WithMIMEType("application/json"),
	), s.handleSchemaResource)

	// ── sheetsync://checkpoint ─────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		"sheetsync://checkpoint",
		"Change Poller Checkpoint",
		mcp.WithMIMEType("application/json"),
	), s.handleCheckpointResource)

	// ── sheetsync://records/{id} ───────────────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			recordURIPrefix+"{id}",
			"One Synced Record",
		),
		s.handleRecordResource,
	)
}

func (s *Server) handleSchemaResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	snap, err := s.sync.Schema(ctx)
	if err != nil {
		return nil, err
	}
	return jsonResource(req.Params.URI, snap)
}

func (s *Server) handleCheckpointResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	cp, err := s.sync.Checkpoint(ctx)
	if err != nil {
		return nil, err
	}
	return jsonResource(req.Params.URI, cp)
}

func (s *Server) handleRecordResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	rec, err := s.sync.GetRecord(ctx, recordIDFromURI(uri))
	if err != nil {
		return nil, err
	}
	return jsonResource(uri, rec)
}

// recordIDFromURI extracts the identity from "sheetsync://records/{id}".
func recordIDFromURI(uri string) string {
	id, ok := strings.CutPrefix(uri, recordURIPrefix)
	if !ok {
		return ""
	}
	return strings.Trim(id, "/")
}
