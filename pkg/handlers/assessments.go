package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/auth"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
	"github.com/Shamoka80/r2ready-sub010/pkg/services"
)

// SubmitAnswerRequest for PUT /api/assessments/{aid}/answers/{qid}
type SubmitAnswerRequest struct {
	Value          string                `json:"value"`
	ComplianceFlag models.ComplianceFlag `json:"compliance_flag"`
	EvidenceRefs   []string              `json:"evidence_refs,omitempty"`
	// ExpectedVersion is the answer version the client last saw; 0 creates.
	ExpectedVersion int64 `json:"expected_version"`
}

// AnswersResponse for GET /api/assessments/{aid}/answers
type AnswersResponse struct {
	Answers []*models.Answer `json:"answers"`
	Total   int              `json:"total"`
}

// AssessmentHandler handles assessment, answer and score HTTP requests.
type AssessmentHandler struct {
	assessments services.AssessmentService
	answers     services.AnswerService
	scoring     services.ScoringService
	logger      *zap.Logger
}

// NewAssessmentHandler creates a new assessment handler.
func NewAssessmentHandler(
	assessments services.AssessmentService,
	answers services.AnswerService,
	scoring services.ScoringService,
	logger *zap.Logger,
) *AssessmentHandler {
	return &AssessmentHandler{
		assessments: assessments,
		answers:     answers,
		scoring:     scoring,
		logger:      logger,
	}
}

// RegisterRoutes registers the assessment handler's routes on the given mux.
func (h *AssessmentHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/assessments/{aid}"

	mux.HandleFunc("GET "+base, authMiddleware.RequireAuth(tenantMiddleware(h.Get)))
	mux.HandleFunc("DELETE "+base, authMiddleware.RequireAuth(tenantMiddleware(requireRole(h.Delete, models.RoleBusinessUser))))
	mux.HandleFunc("GET "+base+"/answers", authMiddleware.RequireAuth(tenantMiddleware(h.ListAnswers)))
	mux.HandleFunc("PUT "+base+"/answers/{qid}", authMiddleware.RequireAuth(tenantMiddleware(requireRole(h.SubmitAnswer, models.RoleBusinessUser))))
	mux.HandleFunc("GET "+base+"/answers/{qid}/history", authMiddleware.RequireAuth(tenantMiddleware(h.AnswerHistory)))
	mux.HandleFunc("GET "+base+"/score", authMiddleware.RequireAuth(tenantMiddleware(h.Score)))
	mux.HandleFunc("GET "+base+"/evidence/missing", authMiddleware.RequireAuth(tenantMiddleware(h.MissingEvidence)))
}

// Get handles GET /api/assessments/{aid}
func (h *AssessmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	assessmentID, ok := ParseAssessmentID(w, r, h.logger)
	if !ok {
		return
	}

	a, err := h.assessments.GetAssessment(r.Context(), assessmentID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to get assessment")
		return
	}
	writeOK(w, http.StatusOK, a, h.logger)
}

// Delete handles DELETE /api/assessments/{aid}
func (h *AssessmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	assessmentID, ok := ParseAssessmentID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.assessments.DeleteAssessment(r.Context(), assessmentID); err != nil {
		WriteServiceError(w, err, h.logger, "Failed to delete assessment")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAnswers handles GET /api/assessments/{aid}/answers
func (h *AssessmentHandler) ListAnswers(w http.ResponseWriter, r *http.Request) {
	assessmentID, ok := ParseAssessmentID(w, r, h.logger)
	if !ok {
		return
	}

	answers, err := h.answers.GetAnswers(r.Context(), assessmentID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to list answers")
		return
	}
	writeOK(w, http.StatusOK, AnswersResponse{Answers: answers, Total: len(answers)}, h.logger)
}

// SubmitAnswer handles PUT /api/assessments/{aid}/answers/{qid}
func (h *AssessmentHandler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	assessmentID, ok := ParseAssessmentID(w, r, h.logger)
	if !ok {
		return
	}
	var req SubmitAnswerRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	result, err := h.answers.SubmitAnswer(r.Context(), assessmentID, r.PathValue("qid"), models.AnswerInput{
		Value:          req.Value,
		ComplianceFlag: req.ComplianceFlag,
		EvidenceRefs:   req.EvidenceRefs,
	}, req.ExpectedVersion)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to submit answer")
		return
	}
	writeOK(w, http.StatusOK, result, h.logger)
}

// AnswerHistory handles GET /api/assessments/{aid}/answers/{qid}/history
func (h *AssessmentHandler) AnswerHistory(w http.ResponseWriter, r *http.Request) {
	assessmentID, ok := ParseAssessmentID(w, r, h.logger)
	if !ok {
		return
	}

	history, err := h.answers.GetAnswerHistory(r.Context(), assessmentID, r.PathValue("qid"))
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to get answer history")
		return
	}
	writeOK(w, http.StatusOK, history, h.logger)
}

// Score handles GET /api/assessments/{aid}/score
func (h *AssessmentHandler) Score(w http.ResponseWriter, r *http.Request) {
	assessmentID, ok := ParseAssessmentID(w, r, h.logger)
	if !ok {
		return
	}

	score, err := h.scoring.ComputeScore(r.Context(), assessmentID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to compute score")
		return
	}
	writeOK(w, http.StatusOK, score, h.logger)
}

// MissingEvidence handles GET /api/assessments/{aid}/evidence/missing
func (h *AssessmentHandler) MissingEvidence(w http.ResponseWriter, r *http.Request) {
	assessmentID, ok := ParseAssessmentID(w, r, h.logger)
	if !ok {
		return
	}

	gaps, err := h.assessments.MissingEvidence(r.Context(), assessmentID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to list missing evidence")
		return
	}
	writeOK(w, http.StatusOK, gaps, h.logger)
}
