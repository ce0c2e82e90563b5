package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Shamoka80/r2ready-sub010/pkg/auth"
)

func rpcHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	})
}

func TestMCPRequestLogger(t *testing.T) {
	t.Run("logs successful tool call with tenant", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		wrapped := MCPRequestLogger(zap.New(core))(rpcHandler(`{"jsonrpc":"2.0","id":1,"result":{"content":[]}}`))

		reqBody := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_score","arguments":{"assessment_id":"a-1"}}}`
		req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(reqBody))
		claims := &auth.Claims{TenantID: "tenant-1"}
		req = req.WithContext(context.WithValue(req.Context(), auth.ClaimsKey, claims))

		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)

		require.Equal(t, 2, logs.Len())
		request := logs.All()[0]
		assert.Equal(t, "MCP request", request.Message)
		assert.Equal(t, "tools/call", request.ContextMap()["method"])
		assert.Equal(t, "get_score", request.ContextMap()["tool"])
		assert.Equal(t, "tenant-1", request.ContextMap()["tenant_id"])

		response := logs.All()[1]
		assert.Equal(t, "MCP response success", response.Message)
		assert.NotNil(t, response.ContextMap()["duration"])
	})

	t.Run("logs JSON-RPC error", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		wrapped := MCPRequestLogger(zap.New(core))(
			rpcHandler(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"unknown tool"}}`))

		reqBody := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nope"}}`
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(reqBody)))

		require.Equal(t, 2, logs.Len())
		response := logs.All()[1]
		assert.Equal(t, "MCP response error", response.Message)
		assert.Equal(t, int64(-32602), response.ContextMap()["error_code"])
		assert.Equal(t, "unknown tool", response.ContextMap()["error_message"])
	})

	t.Run("body still reaches handler", func(t *testing.T) {
		core, _ := observer.New(zap.DebugLevel)
		var seen string
		wrapped := MCPRequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			buf := new(bytes.Buffer)
			_, _ = buf.ReadFrom(r.Body)
			seen = buf.String()
		}))

		wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(`{"method":"ping"}`)))
		assert.Equal(t, `{"method":"ping"}`, seen)
	})

	t.Run("passes through with nil logger", func(t *testing.T) {
		called := false
		wrapped := MCPRequestLogger(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(`{}`)))
		assert.True(t, called)
	})

	t.Run("tolerates malformed JSON", func(t *testing.T) {
		core, _ := observer.New(zap.DebugLevel)
		wrapped := MCPRequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))

		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(`{invalid`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSanitizeArguments(t *testing.T) {
	t.Run("redacts sensitive keywords", func(t *testing.T) {
		result := sanitizeArguments(map[string]any{
			"password":      "secret",
			"api_key":       "abc123",
			"access_token":  "xyz789",
			"client_secret": "hidden",
			"assessment_id": "visible",
		})

		assert.Equal(t, "[REDACTED]", result["password"])
		assert.Equal(t, "[REDACTED]", result["api_key"])
		assert.Equal(t, "[REDACTED]", result["access_token"])
		assert.Equal(t, "[REDACTED]", result["client_secret"])
		assert.Equal(t, "visible", result["assessment_id"])
	})

	t.Run("truncates long strings", func(t *testing.T) {
		result := sanitizeArguments(map[string]any{"clause": strings.Repeat("x", 250), "short": "abc"})

		truncated := result["clause"].(string)
		assert.Len(t, truncated, maxArgumentLength+3)
		assert.True(t, strings.HasSuffix(truncated, "..."))
		assert.Equal(t, "abc", result["short"])
	})

	t.Run("keeps non-string values", func(t *testing.T) {
		result := sanitizeArguments(map[string]any{"review_cycle": 2, "flag": true})
		assert.Equal(t, 2, result["review_cycle"])
		assert.Equal(t, true, result["flag"])
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, sanitizeArguments(nil))
	})
}
