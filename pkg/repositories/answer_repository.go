package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Shamoka80/r2ready-sub010/pkg/apperrors"
	"github.com/Shamoka80/r2ready-sub010/pkg/database"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

// AnswerRepository provides data access for answers and their audit trail.
type AnswerRepository interface {
	// Upsert writes ans if the stored version equals expectedVersion (0 means
	// the answer must not exist yet). On success ans.Version is
	// expectedVersion+1. A mismatch yields ConflictError and nothing is written.
	Upsert(ctx context.Context, ans *models.Answer, expectedVersion int64) error
	// Get returns nil, nil when the question has no answer.
	Get(ctx context.Context, assessmentID uuid.UUID, questionID string) (*models.Answer, error)
	List(ctx context.Context, assessmentID uuid.UUID) ([]*models.Answer, error)
	AppendAudit(ctx context.Context, entry *models.AnswerAuditEntry) error
	ListAudit(ctx context.Context, assessmentID uuid.UUID, questionID string) ([]*models.AnswerAuditEntry, error)
}

type answerRepository struct{}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository() AnswerRepository {
	return &answerRepository{}
}

var _ AnswerRepository = (*answerRepository)(nil)

const answerColumns = `id, tenant_id, assessment_id, question_id, value, compliance_flag,
	evidence_refs, version, answered_by, answered_at`

func (r *answerRepository) Upsert(ctx context.Context, ans *models.Answer, expectedVersion int64) error {
	scope, err := database.RequireTenantScope(ctx, "upsert answer")
	if err != nil {
		return err
	}
	if err := claimTenant(scope, &ans.TenantID, "upsert answer"); err != nil {
		return err
	}

	ans.AnsweredAt = time.Now().UTC()
	var row pgx.Row
	if expectedVersion == 0 {
		if ans.ID == uuid.Nil {
			ans.ID = uuid.New()
		}
		row = scope.DB().QueryRow(ctx, `
			INSERT INTO answers (id, tenant_id, assessment_id, question_id, value, compliance_flag,
				evidence_refs, version, answered_by, answered_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9)
			ON CONFLICT (assessment_id, question_id) DO NOTHING
			RETURNING id, version`,
			ans.ID, ans.TenantID, ans.AssessmentID, ans.QuestionID, ans.Value,
			string(ans.ComplianceFlag), nonNilStrings(ans.EvidenceRefs), ans.AnsweredBy, ans.AnsweredAt)
	} else {
		row = scope.DB().QueryRow(ctx, `
			UPDATE answers
			SET value = $4, compliance_flag = $5, evidence_refs = $6, version = version + 1,
				answered_by = $7, answered_at = $8
			WHERE assessment_id = $1 AND question_id = $2 AND version = $3 AND tenant_id = $9
			RETURNING id, version`,
			ans.AssessmentID, ans.QuestionID, expectedVersion, ans.Value, string(ans.ComplianceFlag),
			nonNilStrings(ans.EvidenceRefs), ans.AnsweredBy, ans.AnsweredAt, ans.TenantID)
	}

	err = row.Scan(&ans.ID, &ans.Version)
	if err == nil {
		return nil
	}
	if err != pgx.ErrNoRows {
		return fmt.Errorf("failed to upsert answer: %w", err)
	}

	var actual int64
	if current, getErr := r.Get(ctx, ans.AssessmentID, ans.QuestionID); getErr != nil {
		return getErr
	} else if current != nil {
		actual = current.Version
	}
	return &apperrors.ConflictError{Resource: "answer " + ans.QuestionID, Expected: expectedVersion, Actual: actual}
}

func (r *answerRepository) Get(ctx context.Context, assessmentID uuid.UUID, questionID string) (*models.Answer, error) {
	scope, err := database.RequireTenantScope(ctx, "get answer")
	if err != nil {
		return nil, err
	}

	a, err := scanAnswer(scope.DB().QueryRow(ctx, `
		SELECT `+answerColumns+` FROM answers
		WHERE assessment_id = $1 AND question_id = $2`, assessmentID, questionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get answer: %w", err)
	}
	if err := checkTenant(scope, a.TenantID, "get answer"); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *answerRepository) List(ctx context.Context, assessmentID uuid.UUID) ([]*models.Answer, error) {
	scope, err := database.RequireTenantScope(ctx, "list answers")
	if err != nil {
		return nil, err
	}

	rows, err := scope.DB().Query(ctx, `
		SELECT `+answerColumns+` FROM answers
		WHERE assessment_id = $1 AND tenant_id = $2
		ORDER BY question_id`, assessmentID, scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}
	defer rows.Close()

	var out []*models.Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan answer: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *answerRepository) AppendAudit(ctx context.Context, entry *models.AnswerAuditEntry) error {
	scope, err := database.RequireTenantScope(ctx, "append answer audit")
	if err != nil {
		return err
	}
	if err := claimTenant(scope, &entry.TenantID, "append answer audit"); err != nil {
		return err
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}

	_, err = scope.DB().Exec(ctx, `
		INSERT INTO answer_audit (id, tenant_id, assessment_id, question_id, version,
			previous_value, previous_flag, new_value, new_flag, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.TenantID, entry.AssessmentID, entry.QuestionID, entry.Version,
		entry.PreviousValue, string(entry.PreviousFlag), entry.NewValue, string(entry.NewFlag),
		entry.ChangedBy, entry.ChangedAt)
	if err != nil {
		return fmt.Errorf("failed to append answer audit: %w", err)
	}
	return nil
}

func (r *answerRepository) ListAudit(ctx context.Context, assessmentID uuid.UUID, questionID string) ([]*models.AnswerAuditEntry, error) {
	scope, err := database.RequireTenantScope(ctx, "list answer audit")
	if err != nil {
		return nil, err
	}

	rows, err := scope.DB().Query(ctx, `
		SELECT id, tenant_id, assessment_id, question_id, version, previous_value, previous_flag,
			new_value, new_flag, changed_by, changed_at
		FROM answer_audit
		WHERE assessment_id = $1 AND question_id = $2 AND tenant_id = $3
		ORDER BY version`, assessmentID, questionID, scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list answer audit: %w", err)
	}
	defer rows.Close()

	var out []*models.AnswerAuditEntry
	for rows.Next() {
		var e models.AnswerAuditEntry
		var prevFlag, newFlag string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.AssessmentID, &e.QuestionID, &e.Version,
			&e.PreviousValue, &prevFlag, &e.NewValue, &newFlag, &e.ChangedBy, &e.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan answer audit: %w", err)
		}
		e.PreviousFlag = models.ComplianceFlag(prevFlag)
		e.NewFlag = models.ComplianceFlag(newFlag)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func scanAnswer(row pgx.Row) (*models.Answer, error) {
	var a models.Answer
	var flag string
	err := row.Scan(&a.ID, &a.TenantID, &a.AssessmentID, &a.QuestionID, &a.Value, &flag,
		&a.EvidenceRefs, &a.Version, &a.AnsweredBy, &a.AnsweredAt)
	if err != nil {
		return nil, err
	}
	a.ComplianceFlag = models.ComplianceFlag(flag)
	return &a, nil
}
