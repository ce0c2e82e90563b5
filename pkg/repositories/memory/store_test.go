package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shamoka80/r2ready-sub010/pkg/apperrors"
	"github.com/Shamoka80/r2ready-sub010/pkg/database"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

func tenantCtx(tenantID uuid.UUID) context.Context {
	return database.SetTenantScope(context.Background(), database.NewDetachedScope(tenantID))
}

func seedAssessment(t *testing.T, s *Store, ctx context.Context) *models.Assessment {
	t.Helper()
	f := &models.FacilityProfile{Name: "Plant 1", RecScope: []string{"CR1"}}
	require.NoError(t, s.Facilities().Create(ctx, f))

	a := &models.Assessment{FacilityID: f.ID, CertificationCycle: "2026", CatalogVersion: "v1"}
	require.NoError(t, s.Assessments().Create(ctx, a))
	return a
}

func TestStore_RequiresTenantScope(t *testing.T) {
	s := NewStore()

	_, err := s.Facilities().List(context.Background(), false)
	assert.ErrorIs(t, err, apperrors.ErrTenantIsolation)

	_, err = s.Answers().List(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrTenantIsolation)

	err = s.WithinTx(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, apperrors.ErrTenantIsolation)
}

func TestStore_CrossTenantAccessIsRefused(t *testing.T) {
	s := NewStore()
	tenantA := tenantCtx(uuid.New())
	tenantB := tenantCtx(uuid.New())

	a := seedAssessment(t, s, tenantA)

	_, err := s.Assessments().Get(tenantB, a.ID)
	require.Error(t, err)
	var isoErr *apperrors.TenantIsolationError
	assert.True(t, errors.As(err, &isoErr))

	err = s.Answers().Upsert(tenantB, &models.Answer{AssessmentID: a.ID, QuestionID: "Q1", Value: "yes"}, 0)
	assert.ErrorIs(t, err, apperrors.ErrTenantIsolation)

	facilities, err := s.Facilities().List(tenantB, true)
	require.NoError(t, err)
	assert.Empty(t, facilities)

	// A row stamped with another tenant is refused even inside the caller's scope.
	err = s.Facilities().Create(tenantB, &models.FacilityProfile{TenantID: a.TenantID, Name: "spoof"})
	assert.ErrorIs(t, err, apperrors.ErrTenantIsolation)
}

func TestStore_UpsertVersioning(t *testing.T) {
	s := NewStore()
	ctx := tenantCtx(uuid.New())
	a := seedAssessment(t, s, ctx)

	ans := &models.Answer{AssessmentID: a.ID, QuestionID: "Q1", Value: "yes", ComplianceFlag: models.FlagCompliant}
	require.NoError(t, s.Answers().Upsert(ctx, ans, 0))
	assert.Equal(t, int64(1), ans.Version)

	stale := &models.Answer{AssessmentID: a.ID, QuestionID: "Q1", Value: "no", ComplianceFlag: models.FlagNonCompliant}
	err := s.Answers().Upsert(ctx, stale, 0)
	var conflict *apperrors.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(1), conflict.Actual)

	got, err := s.Answers().Get(ctx, a.ID, "Q1")
	require.NoError(t, err)
	assert.Equal(t, "yes", got.Value, "stale write must not overwrite")

	upd := &models.Answer{AssessmentID: a.ID, QuestionID: "Q1", Value: "no", ComplianceFlag: models.FlagNonCompliant}
	require.NoError(t, s.Answers().Upsert(ctx, upd, 1))
	assert.Equal(t, int64(2), upd.Version)
	assert.Equal(t, ans.ID, upd.ID)
}

func TestStore_ConcurrentUpsertOneWinner(t *testing.T) {
	s := NewStore()
	ctx := tenantCtx(uuid.New())
	a := seedAssessment(t, s, ctx)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Answers().Upsert(ctx, &models.Answer{
				AssessmentID: a.ID, QuestionID: "Q1", Value: "yes", ComplianceFlag: models.FlagCompliant,
			}, 0)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, apperrors.ErrConflict)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestStore_TxRollback(t *testing.T) {
	s := NewStore()
	ctx := tenantCtx(uuid.New())
	a := seedAssessment(t, s, ctx)

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.Answers().Upsert(ctx, &models.Answer{AssessmentID: a.ID, QuestionID: "Q1", Value: "yes"}, 0); err != nil {
			return err
		}
		if _, err := s.Assessments().BumpAnswerRevision(ctx, a.ID); err != nil {
			return err
		}
		// Visible inside the transaction.
		got, err := s.Answers().Get(ctx, a.ID, "Q1")
		require.NoError(t, err)
		require.NotNil(t, got)
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Answers().Get(ctx, a.ID, "Q1")
	require.NoError(t, err)
	assert.Nil(t, got)

	cur, err := s.Assessments().Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cur.AnswerRevision)
}

func TestStore_UpdateStatusCompareAndSet(t *testing.T) {
	s := NewStore()
	ctx := tenantCtx(uuid.New())
	a := seedAssessment(t, s, ctx)

	upd, err := s.Assessments().UpdateStatus(ctx, a.ID, a.Version, models.StatusSubmittedForReview)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmittedForReview, upd.Status)
	assert.Equal(t, a.Version+1, upd.Version)

	_, err = s.Assessments().UpdateStatus(ctx, a.ID, a.Version, models.StatusSubmittedForReview)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestStore_OneActiveAssessmentPerCycle(t *testing.T) {
	s := NewStore()
	ctx := tenantCtx(uuid.New())
	a := seedAssessment(t, s, ctx)

	dup := &models.Assessment{FacilityID: a.FacilityID, CertificationCycle: "2026"}
	assert.ErrorIs(t, s.Assessments().Create(ctx, dup), apperrors.ErrConflict)

	next := &models.Assessment{FacilityID: a.FacilityID, CertificationCycle: "2027"}
	assert.NoError(t, s.Assessments().Create(ctx, next))

	_, err := s.Assessments().UpdateStatus(ctx, a.ID, a.Version, models.StatusRejected)
	require.NoError(t, err)
	again := &models.Assessment{FacilityID: a.FacilityID, CertificationCycle: "2026"}
	assert.NoError(t, s.Assessments().Create(ctx, again))
}

func TestStore_DeleteCascades(t *testing.T) {
	s := NewStore()
	ctx := tenantCtx(uuid.New())
	a := seedAssessment(t, s, ctx)

	require.NoError(t, s.Answers().Upsert(ctx, &models.Answer{AssessmentID: a.ID, QuestionID: "Q1", Value: "no"}, 0))
	require.NoError(t, s.Actions().Create(ctx, &models.CorrectiveAction{AssessmentID: a.ID, QuestionID: "Q1", Priority: models.PriorityLow}))

	require.NoError(t, s.Assessments().Delete(ctx, a.ID))

	answers, err := s.Answers().List(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, answers)
	actions, err := s.Actions().ListByAssessment(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestStore_OneOpenActionPerQuestion(t *testing.T) {
	s := NewStore()
	ctx := tenantCtx(uuid.New())
	a := seedAssessment(t, s, ctx)

	first := &models.CorrectiveAction{AssessmentID: a.ID, QuestionID: "Q1", Priority: models.PriorityLow}
	require.NoError(t, s.Actions().Create(ctx, first))
	assert.ErrorIs(t, s.Actions().Create(ctx, &models.CorrectiveAction{AssessmentID: a.ID, QuestionID: "Q1"}), apperrors.ErrConflict)

	now := time.Now()
	first.Status = models.ActionStatusClosed
	first.ClosedAt = &now
	require.NoError(t, s.Actions().Update(ctx, first))

	open, err := s.Actions().GetOpenForQuestion(ctx, a.ID, "Q1")
	require.NoError(t, err)
	assert.Nil(t, open)
	assert.NoError(t, s.Actions().Create(ctx, &models.CorrectiveAction{AssessmentID: a.ID, QuestionID: "Q1"}))
}

func TestStore_StageHistorySequence(t *testing.T) {
	s := NewStore()
	ctx := tenantCtx(uuid.New())
	a := seedAssessment(t, s, ctx)

	w := &models.ReviewWorkflow{AssessmentID: a.ID, Stage: models.StatusSubmittedForReview, ReviewCycle: 1}
	require.NoError(t, s.Workflows().Create(ctx, w))
	assert.ErrorIs(t, s.Workflows().Create(ctx, &models.ReviewWorkflow{AssessmentID: a.ID}), apperrors.ErrConflict)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Workflows().AppendStage(ctx, &models.StageRecord{WorkflowID: w.ID, Action: models.ActionSubmitForReview}))
	}
	history, err := s.Workflows().ListStages(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, rec := range history {
		assert.Equal(t, i+1, rec.Sequence)
	}
}

func TestStore_OutboxSystemScope(t *testing.T) {
	s := NewStore()
	tenantA := uuid.New()
	tenantB := uuid.New()

	require.NoError(t, s.Outbox().Append(tenantCtx(tenantA), &models.WorkflowEvent{Type: models.EventAnswerSubmitted}))
	require.NoError(t, s.Outbox().Append(tenantCtx(tenantB), &models.WorkflowEvent{Type: models.EventWorkflowTransition}))

	own, err := s.Outbox().ListPending(tenantCtx(tenantA), 10)
	require.NoError(t, err)
	assert.Len(t, own, 1)

	sys := database.SetTenantScope(context.Background(), database.NewDetachedSystemScope())
	all, err := s.Outbox().ListPending(sys, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, s.Outbox().MarkPublished(sys, all[0].ID, time.Now()))
	pending, err := s.Outbox().ListPending(sys, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.ErrorIs(t, s.Outbox().MarkPublished(sys, all[0].ID, time.Now()), apperrors.ErrNotFound)
}
