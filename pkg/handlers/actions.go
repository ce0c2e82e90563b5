package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/auth"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
	"github.com/Shamoka80/r2ready-sub010/pkg/services"
)

// ActionHandler handles corrective action and milestone HTTP requests.
type ActionHandler struct {
	actions services.CorrectiveActionService
	logger  *zap.Logger
}

// NewActionHandler creates a new corrective action handler.
func NewActionHandler(actions services.CorrectiveActionService, logger *zap.Logger) *ActionHandler {
	return &ActionHandler{actions: actions, logger: logger}
}

// RegisterRoutes registers the action handler's routes on the given mux.
func (h *ActionHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/assessments/{aid}"

	mux.HandleFunc("GET "+base+"/actions", authMiddleware.RequireAuth(tenantMiddleware(h.List)))
	mux.HandleFunc("POST "+base+"/actions/derive", authMiddleware.RequireAuth(tenantMiddleware(h.Derive)))
	mux.HandleFunc("GET "+base+"/milestones", authMiddleware.RequireAuth(tenantMiddleware(h.Milestones)))
}

// List handles GET /api/assessments/{aid}/actions
// Query parameters: status, clause, priority, review_cycle.
func (h *ActionHandler) List(w http.ResponseWriter, r *http.Request) {
	assessmentID, ok := ParseAssessmentID(w, r, h.logger)
	if !ok {
		return
	}
	cycle, ok := parseIntQuery(w, r, "review_cycle", 0, h.logger)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := models.CorrectiveActionFilter{
		Status:      q.Get("status"),
		ClauseID:    q.Get("clause"),
		Priority:    q.Get("priority"),
		ReviewCycle: int(cycle),
	}

	actions, err := h.actions.ListCorrectiveActions(r.Context(), assessmentID, filter)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to list corrective actions")
		return
	}
	writeOK(w, http.StatusOK, actions, h.logger)
}

// Derive handles POST /api/assessments/{aid}/actions/derive
func (h *ActionHandler) Derive(w http.ResponseWriter, r *http.Request) {
	assessmentID, ok := ParseAssessmentID(w, r, h.logger)
	if !ok {
		return
	}

	actions, err := h.actions.DeriveActions(r.Context(), assessmentID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to derive corrective actions")
		return
	}
	writeOK(w, http.StatusOK, actions, h.logger)
}

// Milestones handles GET /api/assessments/{aid}/milestones
func (h *ActionHandler) Milestones(w http.ResponseWriter, r *http.Request) {
	assessmentID, ok := ParseAssessmentID(w, r, h.logger)
	if !ok {
		return
	}

	milestones, err := h.actions.ListMilestones(r.Context(), assessmentID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to list milestones")
		return
	}
	writeOK(w, http.StatusOK, milestones, h.logger)
}
