package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/apperrors"
	"github.com/Shamoka80/r2ready-sub010/pkg/catalog"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

// FacilityService manages facility profiles. Facilities are archived, never deleted.
type FacilityService interface {
	CreateFacility(ctx context.Context, f *models.FacilityProfile) (*models.FacilityProfile, error)
	GetFacility(ctx context.Context, id uuid.UUID) (*models.FacilityProfile, error)
	UpdateFacility(ctx context.Context, f *models.FacilityProfile) (*models.FacilityProfile, error)
	ArchiveFacility(ctx context.Context, id uuid.UUID) error
	ListFacilities(ctx context.Context, includeArchived bool) ([]*models.FacilityProfile, error)
}

type facilityService struct {
	deps *Deps
}

// NewFacilityService creates a new FacilityService.
func NewFacilityService(deps *Deps) FacilityService {
	return &facilityService{deps: deps.withDefaults()}
}

var _ FacilityService = (*facilityService)(nil)

func (s *facilityService) CreateFacility(ctx context.Context, f *models.FacilityProfile) (_ *models.FacilityProfile, err error) {
	ctx, span := s.deps.startSpan(ctx, "facilities.CreateFacility")
	defer func() { s.deps.finish(ctx, span, "create facility", err) }()

	if err := normalizeFacility(s.deps.Catalog.Current(), f); err != nil {
		return nil, err
	}
	f.ID = uuid.Nil
	f.ArchivedAt = nil
	if err := s.deps.Repos.Facilities.Create(ctx, f); err != nil {
		return nil, err
	}

	s.deps.Logger.Info("Facility created",
		zap.String("facility_id", f.ID.String()),
		zap.Strings("rec_scope", f.RecScope))
	return f, nil
}

func (s *facilityService) GetFacility(ctx context.Context, id uuid.UUID) (_ *models.FacilityProfile, err error) {
	ctx, span := s.deps.startSpan(ctx, "facilities.GetFacility", attribute.String("facility_id", id.String()))
	defer func() { s.deps.finish(ctx, span, "get facility", err) }()

	return s.deps.Repos.Facilities.Get(ctx, id)
}

// UpdateFacility changes a profile. Scope and attributes decide which
// questions apply, so the update is refused while any of the facility's
// assessments is in review, and draft assessments have their corrective
// actions reconciled against the new profile in the same transaction.
func (s *facilityService) UpdateFacility(ctx context.Context, f *models.FacilityProfile) (_ *models.FacilityProfile, err error) {
	ctx, span := s.deps.startSpan(ctx, "facilities.UpdateFacility", attribute.String("facility_id", f.ID.String()))
	defer func() { s.deps.finish(ctx, span, "update facility", err) }()

	if err := normalizeFacility(s.deps.Catalog.Current(), f); err != nil {
		return nil, err
	}

	err = s.deps.Repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.deps.Repos.Facilities.Get(ctx, f.ID)
		if err != nil {
			return err
		}
		if current.IsArchived() {
			return apperrors.Validation("facility", "facility %s is archived", f.ID)
		}

		assessments, err := s.deps.Repos.Assessments.ListByFacility(ctx, f.ID)
		if err != nil {
			return err
		}
		var drafts []uuid.UUID
		for _, listed := range assessments {
			if listed.Status.IsTerminal() {
				continue
			}
			a, err := s.deps.Repos.Assessments.GetForUpdate(ctx, listed.ID)
			if err != nil {
				return err
			}
			if a.Status != models.StatusDraft {
				return &apperrors.IllegalTransitionError{
					From:   string(a.Status),
					Action: "UPDATE_FACILITY",
					Reason: fmt.Sprintf("assessment %s is in review", a.ID),
				}
			}
			drafts = append(drafts, a.ID)
		}

		f.TenantID = current.TenantID
		if err := s.deps.Repos.Facilities.Update(ctx, f); err != nil {
			return err
		}

		for _, id := range drafts {
			res, err := s.deps.loadResolution(ctx, id)
			if err != nil {
				return err
			}
			if _, err := s.deps.reconcileActions(ctx, res, ""); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.Info("Facility updated",
		zap.String("facility_id", f.ID.String()),
		zap.Strings("rec_scope", f.RecScope))
	return f, nil
}

func (s *facilityService) ArchiveFacility(ctx context.Context, id uuid.UUID) (err error) {
	ctx, span := s.deps.startSpan(ctx, "facilities.ArchiveFacility", attribute.String("facility_id", id.String()))
	defer func() { s.deps.finish(ctx, span, "archive facility", err) }()

	if err := s.deps.Repos.Facilities.Archive(ctx, id, s.deps.Now()); err != nil {
		return err
	}
	s.deps.Logger.Info("Facility archived", zap.String("facility_id", id.String()))
	return nil
}

func (s *facilityService) ListFacilities(ctx context.Context, includeArchived bool) (out []*models.FacilityProfile, err error) {
	ctx, span := s.deps.startSpan(ctx, "facilities.ListFacilities")
	defer func() { s.deps.finish(ctx, span, "list facilities", err) }()

	out, err = s.deps.Repos.Facilities.List(ctx, includeArchived)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*models.FacilityProfile{}
	}
	return out, nil
}

// normalizeFacility trims and validates a profile against the REC catalog.
func normalizeFacility(snap *catalog.Snapshot, f *models.FacilityProfile) error {
	f.Name = strings.TrimSpace(f.Name)
	if f.Name == "" {
		return apperrors.Validation("name", "name is required")
	}
	if len(f.RecScope) == 0 {
		return apperrors.Validation("rec_scope", "at least one REC code is required")
	}

	seen := make(map[string]bool, len(f.RecScope))
	scope := make([]string, 0, len(f.RecScope))
	for _, code := range f.RecScope {
		code = strings.ToUpper(strings.TrimSpace(code))
		if _, ok := snap.RecCode(code); !ok {
			return apperrors.Validation("rec_scope", "unknown REC code %q", code)
		}
		if !seen[code] {
			seen[code] = true
			scope = append(scope, code)
		}
	}
	f.RecScope = scope

	f.FacilityType = strings.ToLower(strings.TrimSpace(f.FacilityType))
	f.OperatingStatus = strings.ToLower(strings.TrimSpace(f.OperatingStatus))
	if f.OperatingStatus == "" {
		f.OperatingStatus = models.OperatingStatusActive
	}
	return nil
}
