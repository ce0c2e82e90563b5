package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Shamoka80/r2ready-sub010/pkg/apperrors"
	"github.com/Shamoka80/r2ready-sub010/pkg/catalog"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

// Resolve returns the questions that apply to a facility, in catalog order.
//
// A question is in scope when one of its REC mappings falls inside the
// facility's expanded REC scope. In-scope questions are then filtered by
// their applicability predicate, evaluated against the facility attributes
// and the answers of questions already resolved as active. Because
// predicates only reference earlier questions, an answer to a question that
// is itself inactive can never activate anything, and the result depends
// only on its inputs.
func Resolve(snap *catalog.Snapshot, profile *models.FacilityProfile, answers models.AnswerSet) ([]*models.Question, error) {
	if profile == nil {
		return nil, apperrors.Validation("facility", "profile is required")
	}
	if len(profile.RecScope) == 0 {
		return nil, apperrors.Validation("rec_scope", "at least one REC code is required")
	}

	scope := snap.ExpandScope(profile.RecScope)
	resolved := make(models.AnswerSet)
	env := models.FacilityEnv{Profile: profile, Answers: resolved}

	active := []*models.Question{}
	inScope := 0
	for _, q := range snap.Questions() {
		if !snap.InScope(q.ID, scope) {
			continue
		}
		inScope++
		if !q.Applicability.Evaluate(env) {
			continue
		}
		active = append(active, q)
		if a, ok := answers[q.ID]; ok {
			resolved[q.ID] = a
		}
	}

	if inScope == 0 {
		return nil, &apperrors.InvalidScopeError{Scope: scope.SortedCodes(), CatalogVersion: snap.Version()}
	}
	return active, nil
}

// ResolverService resolves the active question set of a facility.
type ResolverService interface {
	// ResolveActiveQuestions resolves against the answers of the facility's
	// most recent non-terminal assessment, if any.
	ResolveActiveQuestions(ctx context.Context, facilityID uuid.UUID) ([]*models.Question, error)
}

type resolverService struct {
	deps *Deps
}

// NewResolverService creates a new ResolverService.
func NewResolverService(deps *Deps) ResolverService {
	return &resolverService{deps: deps.withDefaults()}
}

var _ ResolverService = (*resolverService)(nil)

func (s *resolverService) ResolveActiveQuestions(ctx context.Context, facilityID uuid.UUID) (qs []*models.Question, err error) {
	ctx, span := s.deps.startSpan(ctx, "resolver.ResolveActiveQuestions", attribute.String("facility_id", facilityID.String()))
	defer func() { s.deps.finish(ctx, span, "resolve active questions", err) }()

	f, err := s.deps.Repos.Facilities.Get(ctx, facilityID)
	if err != nil {
		return nil, err
	}

	answers := models.AnswerSet{}
	latest, err := s.latestOpenAssessment(ctx, facilityID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		list, err := s.deps.Repos.Answers.List(ctx, latest.ID)
		if err != nil {
			return nil, err
		}
		answers = models.NewAnswerSet(list)
	}

	qs, err = Resolve(s.deps.Catalog.Current(), f, answers)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("active_questions", len(qs)))
	return qs, nil
}

func (s *resolverService) latestOpenAssessment(ctx context.Context, facilityID uuid.UUID) (*models.Assessment, error) {
	list, err := s.deps.Repos.Assessments.ListByFacility(ctx, facilityID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	for _, a := range list {
		if !a.Status.IsTerminal() {
			return a, nil
		}
	}
	return nil, nil
}

// resolution is an assessment loaded together with everything needed to
// score it or validate writes against it.
type resolution struct {
	snap       *catalog.Snapshot
	assessment *models.Assessment
	facility   *models.FacilityProfile
	answers    models.AnswerSet
	active     []*models.Question
}

// loadResolution reads the assessment before its answers so a tally built
// from it is never tagged with a newer revision than its data.
func (d *Deps) loadResolution(ctx context.Context, assessmentID uuid.UUID) (*resolution, error) {
	a, err := d.Repos.Assessments.Get(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	f, err := d.Repos.Facilities.Get(ctx, a.FacilityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load facility for assessment %s: %w", assessmentID, err)
	}
	list, err := d.Repos.Answers.List(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	res := &resolution{
		snap:       d.Catalog.Current(),
		assessment: a,
		facility:   f,
		answers:    models.NewAnswerSet(list),
	}
	if res.active, err = Resolve(res.snap, f, res.answers); err != nil {
		return nil, err
	}
	return res, nil
}

// reresolve recomputes the active set after res.answers changed.
func (r *resolution) reresolve() error {
	active, err := Resolve(r.snap, r.facility, r.answers)
	if err != nil {
		return err
	}
	r.active = active
	return nil
}

func (r *resolution) isActive(questionID string) bool {
	for _, q := range r.active {
		if q.ID == questionID {
			return true
		}
	}
	return false
}
