package handlers

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/config"
	"github.com/Shamoka80/r2ready-sub010/pkg/mcp"
	mcpauth "github.com/Shamoka80/r2ready-sub010/pkg/mcp/auth"
	"github.com/Shamoka80/r2ready-sub010/pkg/middleware"
)

// MCPHandler handles MCP protocol requests over HTTP.
type MCPHandler struct {
	httpServer *server.StreamableHTTPServer
	logger     *zap.Logger
	mcpConfig  config.MCPConfig
}

// NewMCPHandler creates a new MCP handler from an MCP server.
func NewMCPHandler(mcpServer *mcp.Server, logger *zap.Logger, mcpConfig config.MCPConfig) *MCPHandler {
	return &MCPHandler{
		httpServer: mcpServer.NewStreamableHTTPServer(),
		logger:     logger,
		mcpConfig:  mcpConfig,
	}
}

// RegisterRoutes registers the MCP endpoint. The tenant comes from the token.
func (h *MCPHandler) RegisterRoutes(mux *http.ServeMux, mcpAuthMiddleware *mcpauth.Middleware) {
	var handler http.Handler = h.httpServer
	if h.mcpConfig.LogRequests {
		handler = middleware.MCPRequestLogger(h.logger)(handler)
	}
	handler = mcpAuthMiddleware.RequireAuth()(handler)
	mux.Handle("/mcp", h.requirePOST(handler))
}

// requirePOST returns 405 Method Not Allowed for non-POST requests.
// MCP over HTTP Streaming requires POST for JSON-RPC requests.
func (h *MCPHandler) requirePOST(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}
