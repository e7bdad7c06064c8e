package main

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/marktorrescoding/straightshotauto/coerce"
	"github.com/marktorrescoding/straightshotauto/kit"
	"github.com/marktorrescoding/straightshotauto/snapshot"
)

// registerMCP exposes the analyze pipeline as an MCP tool. The tool shares
// the cache with the HTTP path but bypasses the per-IP rate limiter: stdio
// callers are local and trusted.
func (s *server) registerMCP(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "analyze_listing",
		Description: "Assess a used-vehicle listing: verdict, score, risks, negotiation tips",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url":                map[string]any{"type": "string", "description": "Listing URL"},
				"year":               map[string]any{"type": "integer", "description": "Model year"},
				"make":               map[string]any{"type": "string", "description": "Manufacturer"},
				"model":              map[string]any{"type": "string", "description": "Model name"},
				"trim":               map[string]any{"type": "string", "description": "Trim level"},
				"vin":                map[string]any{"type": "string", "description": "VIN if listed"},
				"price_usd":          map[string]any{"type": "number", "description": "Asking price in USD"},
				"mileage_miles":      map[string]any{"type": "number", "description": "Odometer reading in miles"},
				"seller_description": map[string]any{"type": "string", "description": "Seller's listing text"},
				"location":           map[string]any{"type": "string", "description": "Listing location"},
				"title_status":       map[string]any{"type": "string", "description": "Title status (clean, salvage, rebuilt...)"},
			},
			"required": []string{"url"},
		},
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		snap := *r.(*snapshot.Snapshot)
		snap = snap.Normalize()
		snap.URL = snapshot.NormalizeListingURL(snap.URL)
		if err := snap.Validate(); err != nil {
			return nil, err
		}

		if a, ok, err := s.store.Lookup(ctx, snap); err == nil && ok {
			return a, nil
		}

		raw, err := s.gw.Analyze(ctx, snap)
		if err != nil {
			return nil, err
		}
		a := coerce.Coerce(raw, snap)
		if err := s.store.Store(ctx, snap, a); err != nil {
			s.logger.Error("cache store", "error", err)
		}
		return a, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var snap snapshot.Snapshot
		if err := json.Unmarshal(r.Params.Arguments, &snap); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &snap}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
