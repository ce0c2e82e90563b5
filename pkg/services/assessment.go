package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/apperrors"
	"github.com/Shamoka80/r2ready-sub010/pkg/auth"
	"github.com/Shamoka80/r2ready-sub010/pkg/catalog"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

// AssessmentService manages the assessment lifecycle outside the review workflow.
type AssessmentService interface {
	// CreateAssessment fails with ConflictError when the facility already has
	// an active assessment for the cycle.
	CreateAssessment(ctx context.Context, facilityID uuid.UUID, cycle string) (*models.Assessment, error)
	GetAssessment(ctx context.Context, id uuid.UUID) (*models.Assessment, error)
	ListAssessments(ctx context.Context, facilityID uuid.UUID) ([]*models.Assessment, error)
	// DeleteAssessment is allowed in DRAFT and in terminal stages only.
	DeleteAssessment(ctx context.Context, id uuid.UUID) error
	// MissingEvidence lists evidence-required active questions whose answer
	// has no evidence attached.
	MissingEvidence(ctx context.Context, id uuid.UUID) ([]catalog.EvidenceGap, error)
}

type assessmentService struct {
	deps *Deps
}

// NewAssessmentService creates a new AssessmentService.
func NewAssessmentService(deps *Deps) AssessmentService {
	return &assessmentService{deps: deps.withDefaults()}
}

var _ AssessmentService = (*assessmentService)(nil)

func (s *assessmentService) CreateAssessment(ctx context.Context, facilityID uuid.UUID, cycle string) (a *models.Assessment, err error) {
	ctx, span := s.deps.startSpan(ctx, "assessments.CreateAssessment", attribute.String("facility_id", facilityID.String()))
	defer func() { s.deps.finish(ctx, span, "create assessment", err) }()

	cycle = strings.TrimSpace(cycle)
	if cycle == "" {
		return nil, apperrors.Validation("certification_cycle", "certification cycle is required")
	}

	err = s.deps.Repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		f, err := s.deps.Repos.Facilities.Get(ctx, facilityID)
		if err != nil {
			return err
		}
		if f.IsArchived() {
			return apperrors.Validation("facility_id", "facility %s is archived", facilityID)
		}

		snap := s.deps.Catalog.Current()
		// Reject scopes that match nothing before an empty assessment exists.
		if _, err := Resolve(snap, f, models.AnswerSet{}); err != nil {
			return err
		}

		a = &models.Assessment{
			FacilityID:         facilityID,
			CertificationCycle: cycle,
			CatalogVersion:     snap.Version(),
			Status:             models.StatusDraft,
			CreatedBy:          auth.GetUserIDFromContext(ctx),
		}
		return s.deps.Repos.Assessments.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.Info("Assessment created",
		zap.String("assessment_id", a.ID.String()),
		zap.String("facility_id", facilityID.String()),
		zap.String("cycle", cycle),
		zap.String("catalog_version", a.CatalogVersion))
	return a, nil
}

func (s *assessmentService) GetAssessment(ctx context.Context, id uuid.UUID) (_ *models.Assessment, err error) {
	ctx, span := s.deps.startSpan(ctx, "assessments.GetAssessment", attribute.String("assessment_id", id.String()))
	defer func() { s.deps.finish(ctx, span, "get assessment", err) }()

	return s.deps.Repos.Assessments.Get(ctx, id)
}

func (s *assessmentService) ListAssessments(ctx context.Context, facilityID uuid.UUID) (out []*models.Assessment, err error) {
	ctx, span := s.deps.startSpan(ctx, "assessments.ListAssessments", attribute.String("facility_id", facilityID.String()))
	defer func() { s.deps.finish(ctx, span, "list assessments", err) }()

	if _, err := s.deps.Repos.Facilities.Get(ctx, facilityID); err != nil {
		return nil, err
	}
	out, err = s.deps.Repos.Assessments.ListByFacility(ctx, facilityID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*models.Assessment{}
	}
	return out, nil
}

func (s *assessmentService) DeleteAssessment(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := s.deps.startSpan(ctx, "assessments.DeleteAssessment", attribute.String("assessment_id", id.String()))
	defer func() { s.deps.finish(ctx, span, "delete assessment", err) }()

	var tenantID uuid.UUID
	err = s.deps.Repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.deps.Repos.Assessments.Get(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != models.StatusDraft && !a.Status.IsTerminal() {
			return &apperrors.IllegalTransitionError{From: string(a.Status), Action: "DELETE", Reason: "review in progress"}
		}
		tenantID = a.TenantID
		return s.deps.Repos.Assessments.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	if err := s.deps.Cache.Delete(ctx, tenantID, id); err != nil {
		s.deps.Logger.Warn("Score cache delete failed", zap.String("assessment_id", id.String()), zap.Error(err))
	}
	s.deps.Logger.Info("Assessment deleted", zap.String("assessment_id", id.String()))
	return nil
}

func (s *assessmentService) MissingEvidence(ctx context.Context, id uuid.UUID) (_ []catalog.EvidenceGap, err error) {
	ctx, span := s.deps.startSpan(ctx, "assessments.MissingEvidence", attribute.String("assessment_id", id.String()))
	defer func() { s.deps.finish(ctx, span, "missing evidence", err) }()

	res, err := s.deps.loadResolution(ctx, id)
	if err != nil {
		return nil, err
	}
	return catalog.MissingEvidence(res.active, res.answers), nil
}
