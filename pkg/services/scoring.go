package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/catalog"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

// Score modes reported in metrics and spans.
const (
	scoreModeCached      = "cached"
	scoreModeIncremental = "incremental"
	scoreModeFull        = "full"
)

// BuildTally scores the active questions of an assessment from scratch.
// Compliant answers earn their weight, non-compliant answers earn nothing,
// not-applicable answers are excluded, and unanswered questions are reported
// but left out of both numerator and denominator.
func BuildTally(snap *catalog.Snapshot, assessmentID uuid.UUID, revision int64, active []*models.Question, answers models.AnswerSet) *models.ScoreTally {
	t := models.NewScoreTally(assessmentID, snap.Version(), revision)
	for _, q := range active {
		t.Add(q.ID, contribution(q, answers[q.ID]))
	}
	return t
}

func contribution(q *models.Question, a *models.Answer) models.QuestionContribution {
	c := models.QuestionContribution{ClauseID: q.ClauseID, Weight: q.Weight}
	if a != nil {
		c.Flag = a.ComplianceFlag
	}
	return c
}

// ScoringService computes assessment scores.
type ScoringService interface {
	ComputeScore(ctx context.Context, assessmentID uuid.UUID) (*models.ScoreSummary, error)
}

type scoringService struct {
	deps *Deps
}

// NewScoringService creates a new ScoringService.
func NewScoringService(deps *Deps) ScoringService {
	return &scoringService{deps: deps.withDefaults()}
}

var _ ScoringService = (*scoringService)(nil)

func (s *scoringService) ComputeScore(ctx context.Context, assessmentID uuid.UUID) (summary *models.ScoreSummary, err error) {
	ctx, span := s.deps.startSpan(ctx, "scoring.ComputeScore", attribute.String("assessment_id", assessmentID.String()))
	defer func() { s.deps.finish(ctx, span, "compute score", err) }()

	start := time.Now()
	a, err := s.deps.Repos.Assessments.Get(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	snap := s.deps.Catalog.Current()
	if cached := s.deps.cachedTally(ctx, a.TenantID, assessmentID); cached != nil &&
		cached.AnswerRevision == a.AnswerRevision && cached.CatalogVersion == snap.Version() {
		s.deps.Metrics.ObserveScore(scoreModeCached, time.Since(start))
		span.SetAttributes(attribute.String("mode", scoreModeCached))
		return cached.Summary(), nil
	}

	res, err := s.deps.loadResolution(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	tally := BuildTally(res.snap, assessmentID, res.assessment.AnswerRevision, res.active, res.answers)
	s.deps.storeTally(ctx, res.assessment.TenantID, tally)

	s.deps.Metrics.ObserveScore(scoreModeFull, time.Since(start))
	span.SetAttributes(attribute.String("mode", scoreModeFull))
	return tally.Summary(), nil
}

// cachedTally treats cache errors as misses.
func (d *Deps) cachedTally(ctx context.Context, tenantID, assessmentID uuid.UUID) *models.ScoreTally {
	t, err := d.Cache.Get(ctx, tenantID, assessmentID)
	if err != nil {
		d.Logger.Warn("Score cache read failed",
			zap.String("assessment_id", assessmentID.String()),
			zap.Error(err))
		return nil
	}
	return t
}

func (d *Deps) storeTally(ctx context.Context, tenantID uuid.UUID, t *models.ScoreTally) {
	if err := d.Cache.Set(ctx, tenantID, t); err != nil {
		d.Logger.Warn("Score cache write failed",
			zap.String("assessment_id", t.AssessmentID.String()),
			zap.Error(err))
	}
}

// tallyAfterAnswer produces the tally at newRevision for a resolution whose
// answers already include the new answer to q. When the cached tally is
// exactly one revision behind and q cannot change which questions apply,
// only q's contribution is swapped; otherwise the whole tally is rebuilt.
func (d *Deps) tallyAfterAnswer(ctx context.Context, res *resolution, q *models.Question, newRevision int64) (*models.ScoreTally, string) {
	a := res.assessment
	if cached := d.cachedTally(ctx, a.TenantID, a.ID); cached != nil &&
		cached.AnswerRevision == newRevision-1 &&
		cached.CatalogVersion == res.snap.Version() &&
		!res.snap.HasDependents(q.ID) {
		if _, tracked := cached.Questions[q.ID]; tracked {
			cached.Remove(q.ID)
			cached.Add(q.ID, contribution(q, res.answers[q.ID]))
			cached.AnswerRevision = newRevision
			return cached, scoreModeIncremental
		}
	}
	return BuildTally(res.snap, a.ID, newRevision, res.active, res.answers), scoreModeFull
}
