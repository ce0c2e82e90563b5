package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/auth"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
	"github.com/Shamoka80/r2ready-sub010/pkg/services"
)

// TransitionRequest for POST /api/assessments/{aid}/workflow/transitions.
// The actor role always comes from the token.
type TransitionRequest struct {
	Action          models.WorkflowAction       `json:"action"`
	Reason          string                      `json:"reason,omitempty"`
	ExpectedVersion int64                       `json:"expected_version,omitempty"`
	Actions         []services.NewActionRequest `json:"actions,omitempty"`
}

// WorkflowHandler handles review workflow HTTP requests.
type WorkflowHandler struct {
	workflow services.WorkflowService
	logger   *zap.Logger
}

// NewWorkflowHandler creates a new workflow handler.
func NewWorkflowHandler(workflow services.WorkflowService, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{workflow: workflow, logger: logger}
}

// RegisterRoutes registers the workflow handler's routes on the given mux.
func (h *WorkflowHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/assessments/{aid}/workflow"

	mux.HandleFunc("GET "+base, authMiddleware.RequireAuth(tenantMiddleware(h.Get)))
	mux.HandleFunc("POST "+base+"/transitions", authMiddleware.RequireAuth(tenantMiddleware(h.Transition)))
	// Only the facility owner may choose its consultant.
	mux.HandleFunc("PUT "+base+"/consultant", authMiddleware.RequireAuth(tenantMiddleware(requireRole(h.AssignConsultant, models.RoleBusinessUser))))
}

// Get handles GET /api/assessments/{aid}/workflow
func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	assessmentID, ok := ParseAssessmentID(w, r, h.logger)
	if !ok {
		return
	}

	state, err := h.workflow.GetWorkflow(r.Context(), assessmentID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to get workflow")
		return
	}
	writeOK(w, http.StatusOK, state, h.logger)
}

// Transition handles POST /api/assessments/{aid}/workflow/transitions
func (h *WorkflowHandler) Transition(w http.ResponseWriter, r *http.Request) {
	assessmentID, ok := ParseAssessmentID(w, r, h.logger)
	if !ok {
		return
	}
	var req TransitionRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	state, err := h.workflow.TransitionWorkflow(r.Context(), assessmentID, req.Action, callerRole(r), services.TransitionOptions{
		Reason:          req.Reason,
		ExpectedVersion: req.ExpectedVersion,
		Actions:         req.Actions,
	})
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to transition workflow")
		return
	}
	writeOK(w, http.StatusOK, state, h.logger)
}

// AssignConsultant handles PUT /api/assessments/{aid}/workflow/consultant
func (h *WorkflowHandler) AssignConsultant(w http.ResponseWriter, r *http.Request) {
	assessmentID, ok := ParseAssessmentID(w, r, h.logger)
	if !ok {
		return
	}
	var req services.ConsultantAssignment
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	state, err := h.workflow.AssignConsultant(r.Context(), assessmentID, req)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to assign consultant")
		return
	}
	writeOK(w, http.StatusOK, state, h.logger)
}
