//go:build integration

package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shamoka80/r2ready-sub010/pkg/apperrors"
	"github.com/Shamoka80/r2ready-sub010/pkg/database"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
	"github.com/Shamoka80/r2ready-sub010/pkg/testhelpers"
)

type complianceTestContext struct {
	t        *testing.T
	testDB   *testhelpers.TestDB
	repos    Set
	tenantID uuid.UUID
}

func setupComplianceTest(t *testing.T) *complianceTestContext {
	return &complianceTestContext{
		t:        t,
		testDB:   testhelpers.GetTestDB(t),
		repos:    NewPostgresSet(),
		tenantID: uuid.New(),
	}
}

// tenantContext returns a context scoped to tenantID.
func (tc *complianceTestContext) tenantContext(tenantID uuid.UUID) context.Context {
	tc.t.Helper()
	scope, err := tc.testDB.DB.WithTenant(context.Background(), tenantID)
	require.NoError(tc.t, err)
	tc.t.Cleanup(scope.Close)
	return database.SetTenantScope(context.Background(), scope)
}

func (tc *complianceTestContext) systemContext() context.Context {
	tc.t.Helper()
	scope, err := tc.testDB.DB.WithoutTenant(context.Background())
	require.NoError(tc.t, err)
	tc.t.Cleanup(scope.Close)
	return database.SetTenantScope(context.Background(), scope)
}

func (tc *complianceTestContext) createAssessment(ctx context.Context) (*models.FacilityProfile, *models.Assessment) {
	tc.t.Helper()
	f := &models.FacilityProfile{Name: "Plant", RecScope: []string{"CR1"}, OperatingStatus: models.OperatingStatusActive}
	require.NoError(tc.t, tc.repos.Facilities.Create(ctx, f))

	a := &models.Assessment{FacilityID: f.ID, CertificationCycle: "2026", CatalogVersion: "v1"}
	require.NoError(tc.t, tc.repos.Assessments.Create(ctx, a))
	return f, a
}

func TestFacilityRepository_RowLevelSecurity(t *testing.T) {
	tc := setupComplianceTest(t)
	ctx := tc.tenantContext(tc.tenantID)
	f, _ := tc.createAssessment(ctx)

	got, err := tc.repos.Facilities.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, tc.tenantID, got.TenantID)
	assert.Equal(t, []string{"CR1"}, got.RecScope)

	// Another tenant cannot see the row at all.
	other := tc.tenantContext(uuid.New())
	_, err = tc.repos.Facilities.Get(other, f.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	list, err := tc.repos.Facilities.List(other, true)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAssessmentRepository_ActiveCycleIsUnique(t *testing.T) {
	tc := setupComplianceTest(t)
	ctx := tc.tenantContext(tc.tenantID)
	f, a := tc.createAssessment(ctx)
	assert.Equal(t, int64(1), a.Version)

	dup := &models.Assessment{FacilityID: f.ID, CertificationCycle: "2026", CatalogVersion: "v1"}
	err := tc.repos.Assessments.Create(ctx, dup)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	active, err := tc.repos.Assessments.GetActiveForFacility(ctx, f.ID, "2026")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, a.ID, active.ID)
}

func TestAssessmentRepository_UpdateStatusCompareAndSwap(t *testing.T) {
	tc := setupComplianceTest(t)
	ctx := tc.tenantContext(tc.tenantID)
	_, a := tc.createAssessment(ctx)

	updated, err := tc.repos.Assessments.UpdateStatus(ctx, a.ID, 1, models.StatusSubmittedForReview)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, models.StatusSubmittedForReview, updated.Status)

	_, err = tc.repos.Assessments.UpdateStatus(ctx, a.ID, 1, models.StatusUnderConsultantReview)
	var conflict *apperrors.ConflictError
	require.True(t, errors.As(err, &conflict), "expected ConflictError, got %v", err)
	assert.Equal(t, int64(2), conflict.Actual)

	rev, err := tc.repos.Assessments.BumpAnswerRevision(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	cur, err := tc.repos.Assessments.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cur.Version, "answer revisions do not bump the status version")
}

func TestAnswerRepository_OptimisticConcurrency(t *testing.T) {
	tc := setupComplianceTest(t)
	ctx := tc.tenantContext(tc.tenantID)
	_, a := tc.createAssessment(ctx)

	ans := &models.Answer{AssessmentID: a.ID, QuestionID: "Q01", Value: "yes", ComplianceFlag: models.FlagCompliant}
	require.NoError(t, tc.repos.Answers.Upsert(ctx, ans, 0))
	assert.Equal(t, int64(1), ans.Version)

	// A second create races the first and loses.
	again := &models.Answer{AssessmentID: a.ID, QuestionID: "Q01", Value: "no", ComplianceFlag: models.FlagNonCompliant}
	err := tc.repos.Answers.Upsert(ctx, again, 0)
	var conflict *apperrors.ConflictError
	require.True(t, errors.As(err, &conflict), "expected ConflictError, got %v", err)
	assert.Equal(t, int64(1), conflict.Actual)

	require.NoError(t, tc.repos.Answers.Upsert(ctx, again, 1))
	assert.Equal(t, int64(2), again.Version)

	got, err := tc.repos.Answers.Get(ctx, a.ID, "Q01")
	require.NoError(t, err)
	assert.Equal(t, "no", got.Value)
	assert.Empty(t, got.EvidenceRefs)

	missing, err := tc.repos.Answers.Get(ctx, a.ID, "Q02")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestWithinTx_RollsBack(t *testing.T) {
	tc := setupComplianceTest(t)
	ctx := tc.tenantContext(tc.tenantID)
	_, a := tc.createAssessment(ctx)

	boom := errors.New("boom")
	err := tc.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := tc.repos.Assessments.BumpAnswerRevision(ctx, a.ID); err != nil {
			return err
		}
		ans := &models.Answer{AssessmentID: a.ID, QuestionID: "Q01", Value: "yes", ComplianceFlag: models.FlagCompliant}
		if err := tc.repos.Answers.Upsert(ctx, ans, 0); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	cur, err := tc.repos.Assessments.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, cur.AnswerRevision)
	got, err := tc.repos.Answers.Get(ctx, a.ID, "Q01")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOutboxRepository_SystemScopeSeesAllTenants(t *testing.T) {
	tc := setupComplianceTest(t)
	tenantA, tenantB := uuid.New(), uuid.New()
	ctxA, ctxB := tc.tenantContext(tenantA), tc.tenantContext(tenantB)

	_, a := tc.createAssessment(ctxA)
	_, b := tc.createAssessment(ctxB)
	require.NoError(t, tc.repos.Outbox.Append(ctxA, &models.WorkflowEvent{AssessmentID: a.ID, Type: models.EventAnswerSubmitted}))
	require.NoError(t, tc.repos.Outbox.Append(ctxB, &models.WorkflowEvent{AssessmentID: b.ID, Type: models.EventActionOpened,
		Payload: map[string]any{"question_id": "Q04"}}))

	sys := tc.systemContext()
	pending, err := tc.repos.Outbox.ListPending(sys, 1000)
	require.NoError(t, err)

	var mine []*models.WorkflowEvent
	for _, e := range pending {
		if e.TenantID == tenantA || e.TenantID == tenantB {
			mine = append(mine, e)
		}
	}
	require.Len(t, mine, 2)
	assert.Equal(t, models.EventAnswerSubmitted, mine[0].Type)
	assert.Equal(t, "Q04", mine[1].Payload["question_id"])

	for _, e := range mine {
		require.NoError(t, tc.repos.Outbox.MarkPublished(sys, e.ID, time.Now().UTC()))
	}
	err = tc.repos.Outbox.MarkPublished(sys, mine[0].ID, time.Now().UTC())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// Tenant scopes only see their own events.
	own, err := tc.repos.Outbox.ListPending(ctxA, 1000)
	require.NoError(t, err)
	for _, e := range own {
		assert.Equal(t, tenantA, e.TenantID)
	}
}

func TestAssessmentRepository_GetForUpdateWaitsForAnswerWriter(t *testing.T) {
	tc := setupComplianceTest(t)
	_, a := tc.createAssessment(tc.tenantContext(tc.tenantID))

	locked := make(chan struct{})
	release := make(chan struct{})
	writerDone := make(chan error, 1)
	go func() {
		ctx := tc.tenantContext(tc.tenantID)
		writerDone <- tc.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
			if _, err := tc.repos.Assessments.BumpAnswerRevision(ctx, a.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	type lockResult struct {
		a   *models.Assessment
		err error
	}
	got := make(chan lockResult, 1)
	go func() {
		ctx := tc.tenantContext(tc.tenantID)
		_ = tc.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
			cur, err := tc.repos.Assessments.GetForUpdate(ctx, a.ID)
			got <- lockResult{cur, err}
			return err
		})
	}()

	select {
	case r := <-got:
		t.Fatalf("GetForUpdate returned while the answer writer held the row: %+v", r)
	case <-time.After(300 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-writerDone)

	select {
	case r := <-got:
		require.NoError(t, r.err)
		assert.Equal(t, int64(1), r.a.AnswerRevision, "the locked read sees the committed answer write")
	case <-time.After(10 * time.Second):
		t.Fatal("GetForUpdate never acquired the row")
	}
}
