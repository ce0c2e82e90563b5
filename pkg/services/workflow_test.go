package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/Shamoka80/r2ready-sub010/pkg/apperrors"
	"github.com/Shamoka80/r2ready-sub010/pkg/catalog"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

func (e *testEnv) transition(ctx context.Context, a *models.Assessment, action models.WorkflowAction, role models.ActorRole, opts TransitionOptions) (*models.WorkflowState, error) {
	return e.workflow.TransitionWorkflow(ctx, a.ID, action, role, opts)
}

// startReview submits a, assigns consultant-1 and starts the review.
func (e *testEnv) startReview(a *models.Assessment) {
	e.t.Helper()
	_, err := e.transition(e.owner(), a, models.ActionSubmitForReview, models.RoleBusinessUser, TransitionOptions{})
	require.NoError(e.t, err)
	_, err = e.workflow.AssignConsultant(e.owner(), a.ID, ConsultantAssignment{ConsultantUserID: "consultant-1"})
	require.NoError(e.t, err)
	_, err = e.transition(e.consultant(), a, models.ActionStartReview, models.RoleConsultant, TransitionOptions{})
	require.NoError(e.t, err)
}

// changesRequestedOnQ04 answers CR1 with only Q04 non-compliant and takes the
// assessment to CHANGES_REQUESTED.
func (e *testEnv) changesRequestedOnQ04() *models.Assessment {
	e.t.Helper()
	a := e.createAssessment([]string{"CR1"}, "")
	for i := 1; i <= 10; i++ {
		qid := fmt.Sprintf("Q%02d", i)
		if qid == "Q04" {
			e.submit(a, qid, "no", models.FlagNonCompliant)
			continue
		}
		e.submit(a, qid, "yes", models.FlagCompliant)
	}
	e.startReview(a)
	_, err := e.transition(e.consultant(), a, models.ActionRequestChanges, models.RoleConsultant, TransitionOptions{})
	require.NoError(e.t, err)
	require.Len(e.t, e.openActions(a), 1)
	return a
}

// processorOnlyQ04 is the test catalog with Q04 limited to processors.
func processorOnlyQ04(t *testing.T) *catalog.Snapshot {
	return editedSnapshot(t, "test-2", func(qs []*models.Question) []*models.Question {
		for _, q := range qs {
			if q.ID == "Q04" {
				q.Applicability = &models.Predicate{Kind: models.PredicateAttrEquals, Attribute: models.AttrFacilityType, Value: models.FacilityTypeProcessor}
			}
		}
		return qs
	})
}

func requireIllegal(t *testing.T, err error) *apperrors.IllegalTransitionError {
	t.Helper()
	var illegal *apperrors.IllegalTransitionError
	require.True(t, errors.As(err, &illegal), "expected IllegalTransitionError, got %v", err)
	return illegal
}

func TestTransition_SubmitIncompleteStaysDraft(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAssessment([]string{"CR1"}, "")
	for i := 1; i <= 9; i++ {
		env.submit(a, fmt.Sprintf("Q%02d", i), "yes", models.FlagCompliant)
	}

	_, err := env.transition(env.owner(), a, models.ActionSubmitForReview, models.RoleBusinessUser, TransitionOptions{})
	var incomplete *apperrors.IncompleteAssessmentError
	require.True(t, errors.As(err, &incomplete), "got %v", err)
	assert.Equal(t, []string{"Q10"}, incomplete.Unanswered)
	assert.Equal(t, models.StatusDraft, env.status(a))

	state, err := env.workflow.GetWorkflow(env.owner(), a.ID)
	require.NoError(t, err)
	assert.Nil(t, state.Workflow)
	assert.Empty(t, state.History)
}

func TestTransition_FullReviewCycle(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAssessment([]string{"CR1"}, "")
	env.answerScenario(a)

	state, err := env.transition(env.owner(), a, models.ActionSubmitForReview, models.RoleBusinessUser, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmittedForReview, state.Status)
	require.NotNil(t, state.Workflow)
	assert.Equal(t, env.tenantID, state.Workflow.ClientOrgID)
	assert.Equal(t, 1, state.Workflow.ReviewCycle)
	require.NotNil(t, state.Workflow.SLADueAt)
	assert.Equal(t, fixedNow.AddDate(0, 0, 3), *state.Workflow.SLADueAt)

	// Nobody to review yet.
	_, err = env.transition(env.consultant(), a, models.ActionStartReview, models.RoleConsultant, TransitionOptions{})
	assert.Equal(t, "no consultant assigned", requireIllegal(t, err).Reason)

	_, err = env.workflow.AssignConsultant(env.owner(), a.ID, ConsultantAssignment{ConsultantUserID: "consultant-1", AuditorUserID: "auditor-1"})
	require.NoError(t, err)

	_, err = env.transition(env.owner(), a, models.ActionStartReview, models.RoleBusinessUser, TransitionOptions{})
	assert.Equal(t, "role not permitted", requireIllegal(t, err).Reason)

	_, err = env.transition(env.consultant(), a, models.ActionStartReview, models.RoleConsultant, TransitionOptions{})
	require.NoError(t, err)

	// 77.8% is below the threshold.
	_, err = env.transition(env.consultant(), a, models.ActionApprove, models.RoleConsultant, TransitionOptions{})
	requireIllegal(t, err)

	state, err = env.transition(env.consultant(), a, models.ActionRequestChanges, models.RoleConsultant, TransitionOptions{
		Reason:  "two gaps and one weak answer",
		Actions: []NewActionRequest{{QuestionID: "Q01", Description: "Attach the signed scope statement"}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusChangesRequested, state.Status)
	open := env.openActions(a)
	require.Len(t, open, 3)

	// Only flagged questions are editable.
	_, err = env.answers.SubmitAnswer(env.owner(), a.ID, "Q02",
		models.AnswerInput{Value: "no", ComplianceFlag: models.FlagNonCompliant}, 1)
	assert.Equal(t, "EDIT_ANSWER", requireIllegal(t, err).Action)

	res := env.submit(a, "Q04", "yes", models.FlagCompliant)
	assert.Equal(t, models.StatusChangesRequested, res.Status)
	res = env.submit(a, "Q08", "yes", models.FlagCompliant)
	assert.Equal(t, models.StatusChangesRequested, res.Status, "consultant action on Q01 is still open")
	res = env.submit(a, "Q01", "yes", models.FlagCompliant)
	assert.Equal(t, models.StatusUnderConsultantReview, res.Status, "closing the last action resubmits")
	assert.InDelta(t, 100.0, res.Score.Overall, 0.001)

	state, err = env.workflow.GetWorkflow(env.owner(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Workflow.ReviewCycle)
	last := state.History[len(state.History)-1]
	assert.Equal(t, models.ActionResubmit, last.Action)
	assert.Equal(t, models.RoleSystem, last.ActorRole)

	state, err = env.transition(env.consultant(), a, models.ActionApprove, models.RoleConsultant, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCertificationReady, state.Status)
	assert.True(t, state.Workflow.Terminal)

	_, err = env.transition(env.consultant(), a, models.ActionClose, models.RoleConsultant, TransitionOptions{})
	requireIllegal(t, err)

	state, err = env.transition(env.auditor(), a, models.ActionClose, models.RoleAuditor, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, state.Status)
	assert.Nil(t, state.Workflow.SLADueAt)

	var actions []models.WorkflowAction
	for _, rec := range state.History {
		actions = append(actions, rec.Action)
	}
	assert.Equal(t, []models.WorkflowAction{
		models.ActionSubmitForReview,
		models.ActionStartReview,
		models.ActionRequestChanges,
		models.ActionResubmit,
		models.ActionApprove,
		models.ActionClose,
	}, actions)
	assert.Equal(t, "auditor-1", state.History[5].ActorID)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Transitions.WithLabelValues(string(models.ActionClose), "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Transitions.WithLabelValues(string(models.ActionClose), "rejected")))

	// Closed assessments are read-only and no longer accept transitions.
	_, err = env.transition(env.auditor(), a, models.ActionReject, models.RoleAuditor, TransitionOptions{})
	requireIllegal(t, err)
}

func TestTransition_Guards(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAssessment([]string{"CR7"}, "")
	env.submit(a, "D1", "no", models.FlagCompliant)

	_, err := env.transition(env.owner(), a, models.ActionSubmitForReview, models.RoleSystem, TransitionOptions{})
	assert.Equal(t, "unknown actor role", requireIllegal(t, err).Reason)

	_, err = env.transition(env.owner(), a, models.ActionApprove, models.RoleConsultant, TransitionOptions{})
	assert.Equal(t, string(models.StatusDraft), requireIllegal(t, err).From)

	_, err = env.transition(env.owner(), a, models.ActionSubmitForReview, models.RoleBusinessUser, TransitionOptions{ExpectedVersion: 7})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = env.transition(env.owner(), a, models.ActionSubmitForReview, models.RoleBusinessUser, TransitionOptions{ExpectedVersion: a.Version})
	require.NoError(t, err)
	_, err = env.workflow.AssignConsultant(env.owner(), a.ID, ConsultantAssignment{ConsultantUserID: "consultant-1"})
	require.NoError(t, err)
	_, err = env.transition(env.consultant(), a, models.ActionStartReview, models.RoleConsultant, TransitionOptions{})
	require.NoError(t, err)

	// Everything is compliant; there is nothing to ask for.
	_, err = env.transition(env.consultant(), a, models.ActionRequestChanges, models.RoleConsultant, TransitionOptions{})
	assert.Equal(t, "no open corrective actions", requireIllegal(t, err).Reason)
	assert.Equal(t, models.StatusUnderConsultantReview, env.status(a))

	_, err = env.transition(env.consultant(), a, models.ActionRequestChanges, models.RoleConsultant, TransitionOptions{
		Actions: []NewActionRequest{{QuestionID: "D2", Description: "D2 is inactive"}},
	})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Empty(t, env.openActions(a), "a refused transition files nothing")

	_, err = env.transition(env.consultant(), a, models.ActionResubmit, models.RoleConsultant, TransitionOptions{})
	requireIllegal(t, err)
}

func TestTransition_RejectIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAssessment([]string{"CR1"}, "")

	state, err := env.transition(env.consultant(), a, models.ActionReject, models.RoleConsultant, TransitionOptions{Reason: "withdrawn"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, state.Status)
	assert.True(t, state.Workflow.Terminal)
	assert.Equal(t, "withdrawn", state.History[0].Reason)

	_, err = env.workflow.AssignConsultant(env.owner(), a.ID, ConsultantAssignment{ConsultantUserID: "consultant-1"})
	requireIllegal(t, err)

	_, err = env.answers.SubmitAnswer(env.owner(), a.ID, "Q01",
		models.AnswerInput{Value: "yes", ComplianceFlag: models.FlagCompliant}, 0)
	requireIllegal(t, err)

	require.NoError(t, env.assessments.DeleteAssessment(env.owner(), a.ID))
	_, err = env.assessments.GetAssessment(env.owner(), a.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTransition_ConsultantFirmIsolation(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAssessment([]string{"CR7"}, "")
	env.submit(a, "D1", "no", models.FlagCompliant)
	_, err := env.transition(env.owner(), a, models.ActionSubmitForReview, models.RoleBusinessUser, TransitionOptions{})
	require.NoError(t, err)

	firm, rogue := uuid.New(), uuid.New()

	// A firm cannot assign itself.
	_, err = env.workflow.AssignConsultant(env.asFrom("c-7", models.RoleConsultant, firm), a.ID,
		ConsultantAssignment{ConsultantTenantID: &firm, ConsultantUserID: "c-7"})
	require.ErrorIs(t, err, apperrors.ErrTenantIsolation)

	_, err = env.workflow.AssignConsultant(env.owner(), a.ID, ConsultantAssignment{ConsultantTenantID: &firm, ConsultantUserID: "c-7"})
	require.NoError(t, err)

	_, err = env.transition(env.asFrom("r-1", models.RoleConsultant, rogue), a, models.ActionStartReview, models.RoleConsultant, TransitionOptions{})
	require.ErrorIs(t, err, apperrors.ErrTenantIsolation)
	assert.Equal(t, models.StatusSubmittedForReview, env.status(a))

	state, err := env.transition(env.asFrom("c-7", models.RoleConsultant, firm), a, models.ActionStartReview, models.RoleConsultant, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "c-7", state.History[len(state.History)-1].ActorID)

	denied := env.logs.FilterMessage("Cross-tenant access denied").All()
	require.Len(t, denied, 2)
	assert.Equal(t, zapcore.WarnLevel, denied[0].Level)
	assert.Len(t, env.logs.FilterMessage("Cross-tenant access").All(), 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.TenantIsolationViolations))
	assert.Len(t, env.logs.FilterMessage("Tenant isolation violation").All(), 2)
}

func TestTransition_UnlockedQuestionMustBeAnsweredBeforeReview(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAssessment([]string{"CR7"}, "")
	env.submit(a, "D1", "no", models.FlagNonCompliant)
	env.startReview(a)
	_, err := env.transition(env.consultant(), a, models.ActionRequestChanges, models.RoleConsultant, TransitionOptions{})
	require.NoError(t, err)

	// Fixing D1 opens its follow-up D2.
	res := env.submit(a, "D1", "yes", models.FlagCompliant)
	assert.Equal(t, models.StatusChangesRequested, res.Status)
	assert.False(t, res.Score.Complete)
	assert.Equal(t, []string{"D2"}, res.Score.Unanswered)
	assert.Empty(t, env.openActions(a))

	_, err = env.transition(env.owner(), a, models.ActionResubmit, models.RoleBusinessUser, TransitionOptions{})
	var incomplete *apperrors.IncompleteAssessmentError
	require.True(t, errors.As(err, &incomplete), "got %v", err)
	assert.Equal(t, []string{"D2"}, incomplete.Unanswered)

	res = env.submit(a, "D2", "yes", models.FlagCompliant, "crt-handling-log.pdf")
	assert.Equal(t, models.StatusChangesRequested, res.Status)
	assert.Equal(t, []string{"D3"}, res.Score.Unanswered)

	res = env.submit(a, "D3", "yes", models.FlagCompliant)
	assert.Equal(t, models.StatusUnderConsultantReview, res.Status)
	assert.True(t, res.Score.Complete)

	// Back under review, answers are read-only again.
	_, err = env.answers.SubmitAnswer(env.owner(), a.ID, "D3",
		models.AnswerInput{Value: "no", ComplianceFlag: models.FlagNonCompliant}, res.Version)
	requireIllegal(t, err)

	state, err := env.transition(env.consultant(), a, models.ActionApprove, models.RoleConsultant, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCertificationReady, state.Status)
}

func TestTransition_ApproveRequiresCompleteAnswers(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAssessment([]string{"CR1"}, "")
	for i := 1; i <= 10; i++ {
		env.submit(a, fmt.Sprintf("Q%02d", i), "yes", models.FlagCompliant)
	}
	env.startReview(a)

	env.reloadCatalog(editedSnapshot(t, "test-2", func(qs []*models.Question) []*models.Question {
		return append(qs, yesNo("Q11", "CR1", 1))
	}))

	_, err := env.transition(env.consultant(), a, models.ActionApprove, models.RoleConsultant, TransitionOptions{})
	var incomplete *apperrors.IncompleteAssessmentError
	require.True(t, errors.As(err, &incomplete), "got %v", err)
	assert.Equal(t, []string{"Q11"}, incomplete.Unanswered)
	assert.Equal(t, models.StatusUnderConsultantReview, env.status(a))
}

func TestTransition_BusinessUserResubmitsAfterCatalogReload(t *testing.T) {
	env := newTestEnv(t)
	a := env.changesRequestedOnQ04()

	_, err := env.transition(env.owner(), a, models.ActionResubmit, models.RoleBusinessUser, TransitionOptions{})
	assert.Equal(t, "1 corrective action(s) still open", requireIllegal(t, err).Reason)
	require.Len(t, env.openActions(a), 1, "a refused resubmit closes nothing")

	env.reloadCatalog(processorOnlyQ04(t))

	state, err := env.transition(env.owner(), a, models.ActionResubmit, models.RoleBusinessUser, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnderConsultantReview, state.Status)
	assert.Equal(t, 2, state.Workflow.ReviewCycle)
	assert.Equal(t, models.RoleBusinessUser, state.History[len(state.History)-1].ActorRole)

	closed, err := env.actions.ListCorrectiveActions(env.owner(), a.ID, models.CorrectiveActionFilter{Status: models.ActionStatusClosed})
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "Q04", closed[0].QuestionID)
}

func TestTransition_ConcurrentSubmitOneWins(t *testing.T) {
	env := newTestEnv(t)
	a := env.createAssessment([]string{"CR1"}, "")
	env.answerScenario(a)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.transition(env.owner(), a, models.ActionSubmitForReview, models.RoleBusinessUser,
				TransitionOptions{ExpectedVersion: a.Version})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, models.StatusSubmittedForReview, env.status(a))

	state, err := env.workflow.GetWorkflow(env.owner(), a.ID)
	require.NoError(t, err)
	assert.Len(t, state.History, 1)
	assert.Equal(t, float64(callers-1),
		testutil.ToFloat64(env.metrics.Transitions.WithLabelValues(string(models.ActionSubmitForReview), "conflict")))
}
