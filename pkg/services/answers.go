package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/apperrors"
	"github.com/Shamoka80/r2ready-sub010/pkg/audit"
	"github.com/Shamoka80/r2ready-sub010/pkg/auth"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
	"github.com/Shamoka80/r2ready-sub010/pkg/screening"
)

// SubmitResult is returned by a successful answer write.
type SubmitResult struct {
	Answer  *models.Answer          `json:"answer"`
	Version int64                   `json:"version"`
	Score   *models.ScoreSummary    `json:"score"`
	Status  models.AssessmentStatus `json:"status"`
}

// AnswerService owns answer writes and reads.
type AnswerService interface {
	// SubmitAnswer upserts an answer if expectedVersion matches the stored
	// version (0 creates). The answer, its audit entry, corrective action
	// sync and outbox events commit together; a stale version writes nothing.
	SubmitAnswer(ctx context.Context, assessmentID uuid.UUID, questionID string, input models.AnswerInput, expectedVersion int64) (*SubmitResult, error)
	GetAnswers(ctx context.Context, assessmentID uuid.UUID) ([]*models.Answer, error)
	GetAnswerHistory(ctx context.Context, assessmentID uuid.UUID, questionID string) ([]*models.AnswerAuditEntry, error)
}

type answerService struct {
	deps *Deps
}

// NewAnswerService creates a new AnswerService.
func NewAnswerService(deps *Deps) AnswerService {
	return &answerService{deps: deps.withDefaults()}
}

var _ AnswerService = (*answerService)(nil)

func (s *answerService) SubmitAnswer(ctx context.Context, assessmentID uuid.UUID, questionID string, input models.AnswerInput, expectedVersion int64) (result *SubmitResult, err error) {
	ctx, span := s.deps.startSpan(ctx, "answers.SubmitAnswer",
		attribute.String("assessment_id", assessmentID.String()),
		attribute.String("question_id", questionID),
		attribute.Int64("expected_version", expectedVersion))
	defer func() {
		s.deps.Metrics.IncAnswer(answerOutcome(err))
		s.deps.finish(ctx, span, "submit answer", err)
	}()

	if expectedVersion < 0 {
		return nil, apperrors.Validation("expected_version", "must not be negative")
	}
	if !models.IsValidComplianceFlag(input.ComplianceFlag) {
		return nil, apperrors.Validation("compliance_flag", "must be one of compliant, non_compliant, not_applicable")
	}

	var (
		tally    *models.ScoreTally
		mode     string
		tenantID uuid.UUID
	)
	start := time.Now()

	err = s.deps.Repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		// Bumping the revision first serializes concurrent writers on the
		// assessment row, so every read below sees all earlier commits.
		newRevision, err := s.deps.Repos.Assessments.BumpAnswerRevision(ctx, assessmentID)
		if err != nil {
			return err
		}

		res, err := s.deps.loadResolution(ctx, assessmentID)
		if err != nil {
			return err
		}
		a := res.assessment
		tenantID = a.TenantID

		q, ok := res.snap.Question(questionID)
		if !ok {
			return apperrors.Validation("question_id", "unknown question %q", questionID)
		}
		if !res.isActive(questionID) {
			return apperrors.Validation("question_id", "question %s does not apply to this facility", questionID)
		}
		if err := s.checkEditable(ctx, res, questionID); err != nil {
			return err
		}

		ans, err := s.normalize(ctx, a, q, input)
		if err != nil {
			return err
		}

		prev := res.answers[questionID]
		if err := s.deps.Repos.Answers.Upsert(ctx, ans, expectedVersion); err != nil {
			return err
		}

		entry := &models.AnswerAuditEntry{
			AssessmentID: a.ID,
			QuestionID:   questionID,
			Version:      ans.Version,
			NewValue:     ans.Value,
			NewFlag:      ans.ComplianceFlag,
			ChangedBy:    ans.AnsweredBy,
			ChangedAt:    ans.AnsweredAt,
		}
		if prev != nil {
			pv := prev.Value
			entry.PreviousValue = &pv
			entry.PreviousFlag = prev.ComplianceFlag
		}
		if err := s.deps.Repos.Answers.AppendAudit(ctx, entry); err != nil {
			return fmt.Errorf("failed to append answer audit: %w", err)
		}

		res.answers[questionID] = ans
		if res.snap.HasDependents(questionID) {
			if err := res.reresolve(); err != nil {
				return err
			}
		}
		tally, mode = s.deps.tallyAfterAnswer(ctx, res, q, newRevision)

		open, err := s.deps.reconcileActions(ctx, res, questionID)
		if err != nil {
			return err
		}

		if err := s.deps.Repos.Outbox.Append(ctx, &models.WorkflowEvent{
			AssessmentID: a.ID,
			Type:         models.EventAnswerSubmitted,
			Payload: map[string]any{
				"question_id":     questionID,
				"version":         ans.Version,
				"compliance_flag": string(ans.ComplianceFlag),
				"answer_revision": newRevision,
			},
		}); err != nil {
			return err
		}

		status, err := s.deps.resubmitIfSettled(ctx, res, open, "all corrective actions closed")
		if err != nil {
			return err
		}

		result = &SubmitResult{Answer: ans, Version: ans.Version, Status: status}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Published only after commit so a rolled back write never leaves a
	// tally tagged with a revision that does not exist.
	s.deps.storeTally(ctx, tenantID, tally)
	s.deps.Metrics.ObserveScore(mode, time.Since(start))
	span.SetAttributes(attribute.String("score_mode", mode))

	result.Score = tally.Summary()
	s.deps.Logger.Debug("Answer submitted",
		zap.String("assessment_id", assessmentID.String()),
		zap.String("question_id", questionID),
		zap.Int64("version", result.Version),
		zap.String("score_mode", mode))
	return result, nil
}

// checkEditable enforces read-only stages. In CHANGES_REQUESTED only
// questions with an open corrective action may change, plus applicable
// questions that have never been answered: an earlier fix can unlock a
// follow-up question that must be answered before the review resumes.
func (s *answerService) checkEditable(ctx context.Context, res *resolution, questionID string) error {
	a := res.assessment
	switch a.Status {
	case models.StatusDraft:
		return nil
	case models.StatusChangesRequested:
		if res.answers[questionID] == nil {
			return nil
		}
		open, err := s.deps.Repos.Actions.GetOpenForQuestion(ctx, a.ID, questionID)
		if err != nil {
			return err
		}
		if open == nil {
			return &apperrors.IllegalTransitionError{
				From:   string(a.Status),
				Action: "EDIT_ANSWER",
				Reason: fmt.Sprintf("question %s has no open corrective action", questionID),
			}
		}
		return nil
	default:
		return &apperrors.IllegalTransitionError{From: string(a.Status), Action: "EDIT_ANSWER", Reason: "assessment is read-only"}
	}
}

// normalize validates input against the question and builds the answer row.
func (s *answerService) normalize(ctx context.Context, a *models.Assessment, q *models.Question, in models.AnswerInput) (*models.Answer, error) {
	value := strings.TrimSpace(in.Value)
	na := in.ComplianceFlag == models.FlagNotApplicable

	switch {
	case value == "" && na:
	case value == "":
		return nil, apperrors.Validation("value", "an answer value is required")
	case q.AnswerType == models.AnswerTypeYesNo:
		value = strings.ToLower(value)
		if value != "yes" && value != "no" {
			return nil, apperrors.Validation("value", "must be yes or no")
		}
	case q.AnswerType == models.AnswerTypeChoice:
		if !q.AcceptsChoice(value) {
			return nil, apperrors.Validation("value", "must be one of %s", strings.Join(q.Choices, ", "))
		}
	case q.AnswerType == models.AnswerTypeNumber:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return nil, apperrors.Validation("value", "must be a number")
		}
	}

	refs := make([]string, 0, len(in.EvidenceRefs))
	for _, r := range in.EvidenceRefs {
		if r = strings.TrimSpace(r); r != "" {
			refs = append(refs, r)
		}
	}
	if q.EvidenceRequired && in.ComplianceFlag == models.FlagCompliant && len(refs) == 0 {
		return nil, apperrors.Validation("evidence_refs", "question %s requires evidence for a compliant answer", q.ID)
	}

	fields := map[string]string{}
	if q.AnswerType == models.AnswerTypeText {
		fields["value"] = value
	}
	for i, r := range refs {
		fields[fmt.Sprintf("evidence_refs[%d]", i)] = r
	}
	if hits := screening.CheckAll(fields); len(hits) > 0 {
		hit := hits[0]
		s.deps.Auditor.LogInjectionAttempt(ctx, a.TenantID, a.ID, audit.InjectionDetails{
			QuestionID:  q.ID,
			Field:       hit.Field,
			Value:       hit.Value,
			Fingerprint: hit.Fingerprint,
		})
		return nil, apperrors.Validation(hit.Field, "value rejected by input screening")
	}

	return &models.Answer{
		TenantID:       a.TenantID,
		AssessmentID:   a.ID,
		QuestionID:     q.ID,
		Value:          value,
		ComplianceFlag: in.ComplianceFlag,
		EvidenceRefs:   refs,
		AnsweredBy:     auth.GetUserIDFromContext(ctx),
	}, nil
}

func answerOutcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, apperrors.ErrConflict):
		return "conflict"
	default:
		return "rejected"
	}
}

func (s *answerService) GetAnswers(ctx context.Context, assessmentID uuid.UUID) (out []*models.Answer, err error) {
	ctx, span := s.deps.startSpan(ctx, "answers.GetAnswers", attribute.String("assessment_id", assessmentID.String()))
	defer func() { s.deps.finish(ctx, span, "get answers", err) }()

	if _, err := s.deps.Repos.Assessments.Get(ctx, assessmentID); err != nil {
		return nil, err
	}
	out, err = s.deps.Repos.Answers.List(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*models.Answer{}
	}
	return out, nil
}

func (s *answerService) GetAnswerHistory(ctx context.Context, assessmentID uuid.UUID, questionID string) (out []*models.AnswerAuditEntry, err error) {
	ctx, span := s.deps.startSpan(ctx, "answers.GetAnswerHistory",
		attribute.String("assessment_id", assessmentID.String()),
		attribute.String("question_id", questionID))
	defer func() { s.deps.finish(ctx, span, "get answer history", err) }()

	if _, err := s.deps.Repos.Assessments.Get(ctx, assessmentID); err != nil {
		return nil, err
	}
	out, err = s.deps.Repos.Answers.ListAudit(ctx, assessmentID, questionID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*models.AnswerAuditEntry{}
	}
	return out, nil
}
