package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/config"
)

func TestHealthHandler_Ping(t *testing.T) {
	cfg := &config.Config{Version: "test-version", Env: "test", Storage: config.StorageMemory}
	handler := NewHealthHandler(cfg, nil, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Ping(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp PingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "r2ready", resp.Service)
	assert.Equal(t, "test-version", resp.Version)
	assert.Equal(t, config.StorageMemory, resp.Storage)
}

func TestHealthHandler_Ready(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name       string
		pingers    map[string]Pinger
		wantStatus int
		wantDeps   map[string]string
	}{
		{"no dependencies", nil, http.StatusOK, map[string]string{}},
		{"all up", map[string]Pinger{"postgres": ok, "redis": ok}, http.StatusOK,
			map[string]string{"postgres": "ok", "redis": "ok"}},
		{"redis down", map[string]Pinger{"postgres": ok, "redis": down}, http.StatusServiceUnavailable,
			map[string]string{"postgres": "ok", "redis": "unavailable"}},
		{"nil pinger skipped", map[string]Pinger{"redis": nil}, http.StatusOK, map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(&config.Config{}, nil, tt.pingers, zap.NewNop())
			rec := httptest.NewRecorder()
			handler.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp ReadyResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantDeps, resp.Dependencies)
		})
	}
}
