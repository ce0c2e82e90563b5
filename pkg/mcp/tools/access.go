// Package tools provides MCP tool implementations for the compliance engine.
package tools

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/auth"
	"github.com/Shamoka80/r2ready-sub010/pkg/database"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

// ToolAccessError represents an actionable error that should be returned as a
// tool result to the MCP client, not as a Go error, so the caller can see and
// act on it.
type ToolAccessError struct {
	Code    string
	Message string
	// MCPResult contains the pre-built MCP response for this error
	MCPResult *mcp.CallToolResult
}

func (e *ToolAccessError) Error() string {
	return e.Message
}

// AsToolAccessResult returns the MCP result of a ToolAccessError, or nil.
// Use this in tool handlers to convert actionable errors to JSON responses:
//
//	ctx, cleanup, err := AcquireToolAccess(ctx, deps, "my_tool")
//	if err != nil {
//	    if result := AsToolAccessResult(err); result != nil {
//	        return result, nil
//	    }
//	    return nil, err
//	}
func AsToolAccessResult(err error) *mcp.CallToolResult {
	var accessErr *ToolAccessError
	if errors.As(err, &accessErr) {
		return accessErr.MCPResult
	}
	return nil
}

// newToolAccessError creates a ToolAccessError with the given code and message.
func newToolAccessError(code, message string) *ToolAccessError {
	return &ToolAccessError{
		Code:      code,
		Message:   message,
		MCPResult: NewErrorResult(code, message),
	}
}

// ToolAccessDeps defines the common dependencies needed for tool access control.
type ToolAccessDeps interface {
	GetScopes() *database.TenantScopeProvider
	GetLogger() *zap.Logger
}

// BaseMCPToolDeps provides the common dependencies that all MCP tools need.
type BaseMCPToolDeps struct {
	Scopes *database.TenantScopeProvider
	Logger *zap.Logger
}

// GetScopes implements ToolAccessDeps.
func (d *BaseMCPToolDeps) GetScopes() *database.TenantScopeProvider { return d.Scopes }

// GetLogger implements ToolAccessDeps.
func (d *BaseMCPToolDeps) GetLogger() *zap.Logger { return d.Logger }

// Tool names.
const (
	ToolHealth           = "health"
	ToolResolveQuestions = "resolve_questions"
	ToolGetScore         = "get_score"
	ToolListActions      = "list_corrective_actions"
	ToolListMilestones   = "list_milestones"
	ToolGetWorkflow      = "get_workflow"
	ToolDeriveActions    = "derive_corrective_actions"
)

var readTools = []string{ToolHealth, ToolResolveQuestions, ToolGetScore, ToolListActions, ToolListMilestones, ToolGetWorkflow}

// ToolsForRole returns the tools a caller role may invoke. Auditors only read.
func ToolsForRole(role models.ActorRole) []string {
	switch role {
	case models.RoleBusinessUser, models.RoleConsultant:
		return append(slices.Clone(readTools), ToolDeriveActions)
	case models.RoleAuditor:
		return slices.Clone(readTools)
	default:
		return nil
	}
}

// AcquireToolAccess verifies the caller may use toolName and opens the
// tenant scope of the token. The cleanup function must be called.
// Actionable failures are returned as ToolAccessError; scope failures are
// regular errors.
func AcquireToolAccess(ctx context.Context, deps ToolAccessDeps, toolName string) (context.Context, func(), error) {
	claims, ok := auth.GetClaims(ctx)
	if !ok {
		return nil, nil, newToolAccessError("authentication_required", "authentication required")
	}

	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return nil, nil, newToolAccessError("invalid_tenant_id", fmt.Sprintf("invalid tenant ID: %v", err))
	}

	if !slices.Contains(ToolsForRole(models.ActorRole(claims.Role)), toolName) {
		deps.GetLogger().Warn("MCP tool not enabled for role",
			zap.String("tool", toolName),
			zap.String("role", claims.Role),
			zap.String("user_id", claims.Subject))
		return nil, nil, newToolAccessError("tool_not_enabled", fmt.Sprintf("%s tool is not enabled for role %q", toolName, claims.Role))
	}

	tenantCtx, cleanup, err := deps.GetScopes().WithTenantScope(ctx, tenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire tenant scope: %w", err)
	}
	return tenantCtx, cleanup, nil
}
