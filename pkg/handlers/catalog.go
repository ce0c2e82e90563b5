package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/auth"
	"github.com/Shamoka80/r2ready-sub010/pkg/catalog"
)

// CatalogHandler exposes the loaded question catalog.
type CatalogHandler struct {
	registry *catalog.Registry
	logger   *zap.Logger
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(registry *catalog.Registry, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{registry: registry, logger: logger}
}

// RegisterRoutes registers the catalog handler's routes on the given mux.
func (h *CatalogHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/catalog", authMiddleware.RequireAuth(h.Stats))
	mux.HandleFunc("GET /api/catalog/coverage", authMiddleware.RequireAuth(h.Coverage))
}

// Stats handles GET /api/catalog
func (h *CatalogHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, h.registry.Current().Stats(), h.logger)
}

// Coverage handles GET /api/catalog/coverage
func (h *CatalogHandler) Coverage(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, catalog.Coverage(h.registry.Current()), h.logger)
}
