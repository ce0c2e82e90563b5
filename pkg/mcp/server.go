// Package mcp exposes the compliance engine as an MCP server over streamable HTTP.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

const instructions = `Tools for reading R2v3 readiness assessments.
Every call runs in the tenant of the bearer token. Use resolve_questions to see
which catalog questions apply to an assessment, get_score for the weighted
readiness score, get_workflow for the review stage and history, and
list_corrective_actions for open remediation work. derive_corrective_actions
creates actions for non-compliant answers and is safe to repeat.`

// Server wraps the mcp-go MCPServer.
type Server struct {
	mcp    *server.MCPServer
	tools  []string
	logger *zap.Logger
}

// NewServer creates a tools-only MCP server. hooks may be nil.
func NewServer(name, version string, hooks *server.Hooks, logger *zap.Logger) *Server {
	opts := []server.ServerOption{
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	}
	if hooks != nil {
		opts = append(opts, server.WithHooks(hooks))
	}

	return &Server{
		mcp:    server.NewMCPServer(name, version, opts...),
		logger: logger.Named("mcp"),
	}
}

// MCP returns the underlying MCPServer for tool registration.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// NewStreamableHTTPServer returns a stateless HTTP transport for the server.
// Sessions are not kept: each request carries its own bearer token and
// tenant, so no per-session state could be shared safely.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
	)
}

// AddTool registers a tool and records its name.
func (s *Server) AddTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, handler)
	s.tools = append(s.tools, tool.Name)
	s.logger.Debug("Registered MCP tool", zap.String("tool", tool.Name))
}

// RegisteredTools returns the names passed to AddTool, in order.
func (s *Server) RegisteredTools() []string {
	return append([]string(nil), s.tools...)
}
