package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Shamoka80/r2ready-sub010/pkg/catalog"
)

type healthResult struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	CatalogVersion string `json:"catalog_version,omitempty"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool returns the server status, build version and loaded catalog version.
func RegisterHealthTool(s ToolRegistrar, version string, registry *catalog.Registry) {
	tool := mcp.NewTool(
		ToolHealth,
		mcp.WithDescription("Returns server health status, version and the loaded question catalog version"),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := healthResult{Status: "ok", Version: version}
		if registry != nil {
			if snap := registry.Current(); snap != nil {
				result.CatalogVersion = snap.Version()
			}
		}
		return jsonResult(result)
	})
}
