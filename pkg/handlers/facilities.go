package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/auth"
	"github.com/Shamoka80/r2ready-sub010/pkg/catalog"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
	"github.com/Shamoka80/r2ready-sub010/pkg/services"
)

// FacilityRequest for POST /api/facilities and PUT /api/facilities/{fid}
type FacilityRequest struct {
	Name            string            `json:"name"`
	FacilityType    string            `json:"facility_type,omitempty"`
	OperatingStatus string            `json:"operating_status,omitempty"`
	RecScope        []string          `json:"rec_scope"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

func (req *FacilityRequest) toModel() *models.FacilityProfile {
	return &models.FacilityProfile{
		Name:            req.Name,
		FacilityType:    req.FacilityType,
		OperatingStatus: req.OperatingStatus,
		RecScope:        req.RecScope,
		Attributes:      req.Attributes,
	}
}

// CreateAssessmentRequest for POST /api/facilities/{fid}/assessments
type CreateAssessmentRequest struct {
	CertificationCycle string `json:"certification_cycle"`
}

// QuestionsResponse for GET /api/facilities/{fid}/questions
type QuestionsResponse struct {
	CatalogVersion string             `json:"catalog_version"`
	Questions      []*models.Question `json:"questions"`
	Total          int                `json:"total"`
}

// FacilityHandler handles facility profile HTTP requests.
type FacilityHandler struct {
	facilities  services.FacilityService
	assessments services.AssessmentService
	resolver    services.ResolverService
	registry    *catalog.Registry
	logger      *zap.Logger
}

// NewFacilityHandler creates a new facility handler.
func NewFacilityHandler(
	facilities services.FacilityService,
	assessments services.AssessmentService,
	resolver services.ResolverService,
	registry *catalog.Registry,
	logger *zap.Logger,
) *FacilityHandler {
	return &FacilityHandler{
		facilities:  facilities,
		assessments: assessments,
		resolver:    resolver,
		registry:    registry,
		logger:      logger,
	}
}

// RegisterRoutes registers the facility handler's routes on the given mux.
func (h *FacilityHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	base := "/api/facilities"

	mux.HandleFunc("GET "+base, authMiddleware.RequireAuth(tenantMiddleware(h.List)))
	mux.HandleFunc("POST "+base, authMiddleware.RequireAuth(tenantMiddleware(requireRole(h.Create, models.RoleBusinessUser))))
	mux.HandleFunc("GET "+base+"/{fid}", authMiddleware.RequireAuth(tenantMiddleware(h.Get)))
	mux.HandleFunc("PUT "+base+"/{fid}", authMiddleware.RequireAuth(tenantMiddleware(requireRole(h.Update, models.RoleBusinessUser))))
	mux.HandleFunc("POST "+base+"/{fid}/archive", authMiddleware.RequireAuth(tenantMiddleware(requireRole(h.Archive, models.RoleBusinessUser))))
	mux.HandleFunc("GET "+base+"/{fid}/questions", authMiddleware.RequireAuth(tenantMiddleware(h.Questions)))
	mux.HandleFunc("GET "+base+"/{fid}/assessments", authMiddleware.RequireAuth(tenantMiddleware(h.ListAssessments)))
	mux.HandleFunc("POST "+base+"/{fid}/assessments", authMiddleware.RequireAuth(tenantMiddleware(requireRole(h.CreateAssessment, models.RoleBusinessUser))))
}

// List handles GET /api/facilities
func (h *FacilityHandler) List(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"
	facilities, err := h.facilities.ListFacilities(r.Context(), includeArchived)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to list facilities")
		return
	}
	writeOK(w, http.StatusOK, facilities, h.logger)
}

// Create handles POST /api/facilities
func (h *FacilityHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req FacilityRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	f, err := h.facilities.CreateFacility(r.Context(), req.toModel())
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to create facility")
		return
	}
	writeOK(w, http.StatusCreated, f, h.logger)
}

// Get handles GET /api/facilities/{fid}
func (h *FacilityHandler) Get(w http.ResponseWriter, r *http.Request) {
	facilityID, ok := ParseFacilityID(w, r, h.logger)
	if !ok {
		return
	}

	f, err := h.facilities.GetFacility(r.Context(), facilityID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to get facility")
		return
	}
	writeOK(w, http.StatusOK, f, h.logger)
}

// Update handles PUT /api/facilities/{fid}
func (h *FacilityHandler) Update(w http.ResponseWriter, r *http.Request) {
	facilityID, ok := ParseFacilityID(w, r, h.logger)
	if !ok {
		return
	}
	var req FacilityRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	f := req.toModel()
	f.ID = facilityID
	updated, err := h.facilities.UpdateFacility(r.Context(), f)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to update facility")
		return
	}
	writeOK(w, http.StatusOK, updated, h.logger)
}

// Archive handles POST /api/facilities/{fid}/archive
func (h *FacilityHandler) Archive(w http.ResponseWriter, r *http.Request) {
	facilityID, ok := ParseFacilityID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.facilities.ArchiveFacility(r.Context(), facilityID); err != nil {
		WriteServiceError(w, err, h.logger, "Failed to archive facility")
		return
	}
	writeOK(w, http.StatusOK, map[string]string{"status": "archived"}, h.logger)
}

// Questions handles GET /api/facilities/{fid}/questions
func (h *FacilityHandler) Questions(w http.ResponseWriter, r *http.Request) {
	facilityID, ok := ParseFacilityID(w, r, h.logger)
	if !ok {
		return
	}

	questions, err := h.resolver.ResolveActiveQuestions(r.Context(), facilityID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to resolve questions")
		return
	}
	writeOK(w, http.StatusOK, QuestionsResponse{
		CatalogVersion: h.registry.Current().Version(),
		Questions:      questions,
		Total:          len(questions),
	}, h.logger)
}

// ListAssessments handles GET /api/facilities/{fid}/assessments
func (h *FacilityHandler) ListAssessments(w http.ResponseWriter, r *http.Request) {
	facilityID, ok := ParseFacilityID(w, r, h.logger)
	if !ok {
		return
	}

	list, err := h.assessments.ListAssessments(r.Context(), facilityID)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to list assessments")
		return
	}
	writeOK(w, http.StatusOK, list, h.logger)
}

// CreateAssessment handles POST /api/facilities/{fid}/assessments
func (h *FacilityHandler) CreateAssessment(w http.ResponseWriter, r *http.Request) {
	facilityID, ok := ParseFacilityID(w, r, h.logger)
	if !ok {
		return
	}
	var req CreateAssessmentRequest
	if !decodeJSON(w, r, &req, h.logger) {
		return
	}

	a, err := h.assessments.CreateAssessment(r.Context(), facilityID, req.CertificationCycle)
	if err != nil {
		WriteServiceError(w, err, h.logger, "Failed to create assessment")
		return
	}
	writeOK(w, http.StatusCreated, a, h.logger)
}
