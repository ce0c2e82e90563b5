package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/auth"
	"github.com/Shamoka80/r2ready-sub010/pkg/logging"
	"github.com/Shamoka80/r2ready-sub010/pkg/metrics"
)

// maxParamSize bounds string parameters written to the audit log.
const maxParamSize = 1024

// previewSize bounds the result preview.
const previewSize = 200

// AuditLogger records every MCP tool call with its caller, sanitized
// parameters, duration and outcome.
type AuditLogger struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewAuditLogger creates an AuditLogger. m may be nil.
func NewAuditLogger(logger *zap.Logger, m *metrics.Metrics) *AuditLogger {
	return &AuditLogger{
		logger:  logger.Named("mcp-audit"),
		metrics: m,
	}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *AuditLogger) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *AuditLogger) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, time.Now())
}

func (a *AuditLogger) afterCallTool(ctx context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	duration := a.elapsed(id)
	fields := append(a.callFields(ctx, req), zap.Duration("duration", duration))

	// Actionable errors come back as results with IsError set.
	if result != nil && result.IsError {
		a.metrics.IncToolCall(req.Params.Name, "tool_error")
		fields = append(fields, zap.Any("result", summarizeResult(result)))
		if isAccessDenial(result) {
			a.logger.Warn("MCP tool call denied", fields...)
			return
		}
		a.logger.Info("MCP tool call returned error", fields...)
		return
	}

	a.metrics.IncToolCall(req.Params.Name, "ok")
	a.logger.Info("MCP tool call", fields...)
}

func (a *AuditLogger) onError(ctx context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}

	duration := a.elapsed(id)
	a.metrics.IncToolCall(req.Params.Name, "error")
	fields := append(a.callFields(ctx, req),
		zap.Duration("duration", duration),
		zap.String("error", logging.SanitizeError(err)))
	a.logger.Error("MCP tool call failed", fields...)
}

func (a *AuditLogger) elapsed(id any) time.Duration {
	if v, ok := a.startTimes.LoadAndDelete(id); ok {
		return time.Since(v.(time.Time))
	}
	return 0
}

func (a *AuditLogger) callFields(ctx context.Context, req *mcplib.CallToolRequest) []zap.Field {
	fields := []zap.Field{
		zap.String("tool", req.Params.Name),
		zap.Any("params", sanitizeParams(req.Params.Arguments)),
	}
	if claims, ok := auth.GetClaims(ctx); ok {
		fields = append(fields,
			zap.String("user_id", claims.Subject),
			zap.String("tenant_id", claims.TenantID),
			zap.String("role", claims.Role))
		if claims.HomeTenantID != "" && claims.HomeTenantID != claims.TenantID {
			fields = append(fields, zap.String("home_tenant_id", claims.HomeTenantID))
		}
	}
	return fields
}

// RecordAuthFailure logs a rejected MCP request.
func (a *AuditLogger) RecordAuthFailure(reason, clientIP string) {
	a.logger.Warn("MCP authentication failed",
		zap.String("reason", reason),
		zap.String("client_ip", clientIP))
}

// sensitiveKeys are parameter names whose values are hashed, never logged.
var sensitiveKeys = []string{"password", "secret", "token", "api_key", "apikey", "credential"}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// sanitizeParams prepares request parameters for the audit log: sensitive
// values are hashed and long strings truncated.
func sanitizeParams(args any) map[string]any {
	params, ok := args.(map[string]any)
	if !ok || len(params) == 0 {
		return nil
	}

	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		sanitized[k] = sanitizeValue(k, v)
	}
	return sanitized
}

func sanitizeValue(key string, value any) any {
	if isSensitiveKey(key) {
		return hashSensitiveValue(value)
	}

	switch val := value.(type) {
	case string:
		return logging.TruncateString(val, maxParamSize)
	case map[string]any:
		return sanitizeParams(val)
	default:
		return value
	}
}

// hashSensitiveValue returns a SHA-256 prefix so entries can be correlated
// without storing the value.
func hashSensitiveValue(value any) string {
	var str string
	switch v := value.(type) {
	case string:
		str = v
	default:
		str = fmt.Sprintf("%v", v)
	}
	hash := sha256.Sum256([]byte(str))
	return "sha256:" + hex.EncodeToString(hash[:8])
}

// summarizeResult creates a compact summary of the tool result.
func summarizeResult(result *mcplib.CallToolResult) map[string]any {
	if result == nil {
		return nil
	}

	summary := map[string]any{
		"is_error": result.IsError,
	}
	if len(result.Content) > 0 {
		summary["content_count"] = len(result.Content)
		for _, c := range result.Content {
			if tc, ok := c.(mcplib.TextContent); ok {
				summary["preview"] = logging.TruncateString(tc.Text, previewSize)
				break
			}
		}
	}
	return summary
}

func isAccessDenial(result *mcplib.CallToolResult) bool {
	for _, c := range result.Content {
		tc, ok := c.(mcplib.TextContent)
		if !ok {
			continue
		}
		for _, code := range []string{`"tool_not_enabled"`, `"authentication_required"`, `"forbidden"`} {
			if strings.Contains(tc.Text, code) {
				return true
			}
		}
	}
	return false
}
