package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Shamoka80/r2ready-sub010/pkg/apperrors"
	"github.com/Shamoka80/r2ready-sub010/pkg/database"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

// ---------------------------------------------------------------------------
// Facilities
// ---------------------------------------------------------------------------

type facilityRepo struct{ s *Store }

func (r *facilityRepo) Create(ctx context.Context, f *models.FacilityProfile) error {
	scope, err := database.RequireTenantScope(ctx, "create facility")
	if err != nil {
		return err
	}
	if err := claim(scope, &f.TenantID, "create facility"); err != nil {
		return err
	}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	now := time.Now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now

	return r.s.write(ctx, func(st *state) error {
		if _, exists := st.facilities[f.ID]; exists {
			return &apperrors.ConflictError{Resource: "facility", Reason: "id already exists"}
		}
		st.facilities[f.ID] = copyFacility(f)
		return nil
	})
}

func (r *facilityRepo) Get(ctx context.Context, id uuid.UUID) (*models.FacilityProfile, error) {
	scope, err := database.RequireTenantScope(ctx, "get facility")
	if err != nil {
		return nil, err
	}
	f, ok := r.s.read(ctx).facilities[id]
	if !ok {
		return nil, fmt.Errorf("facility %s: %w", id, apperrors.ErrNotFound)
	}
	if err := owned(scope, f.TenantID, "get facility"); err != nil {
		return nil, err
	}
	return copyFacility(f), nil
}

func (r *facilityRepo) Update(ctx context.Context, f *models.FacilityProfile) error {
	scope, err := database.RequireTenantScope(ctx, "update facility")
	if err != nil {
		return err
	}
	if err := claim(scope, &f.TenantID, "update facility"); err != nil {
		return err
	}

	return r.s.write(ctx, func(st *state) error {
		cur, ok := st.facilities[f.ID]
		if !ok || cur.IsArchived() {
			return fmt.Errorf("facility %s: %w", f.ID, apperrors.ErrNotFound)
		}
		if err := owned(scope, cur.TenantID, "update facility"); err != nil {
			return err
		}
		f.CreatedAt = cur.CreatedAt
		f.UpdatedAt = time.Now().UTC()
		st.facilities[f.ID] = copyFacility(f)
		return nil
	})
}

func (r *facilityRepo) Archive(ctx context.Context, id uuid.UUID, at time.Time) error {
	scope, err := database.RequireTenantScope(ctx, "archive facility")
	if err != nil {
		return err
	}

	return r.s.write(ctx, func(st *state) error {
		cur, ok := st.facilities[id]
		if !ok || cur.IsArchived() {
			return fmt.Errorf("facility %s: %w", id, apperrors.ErrNotFound)
		}
		if err := owned(scope, cur.TenantID, "archive facility"); err != nil {
			return err
		}
		next := copyFacility(cur)
		next.ArchivedAt = &at
		next.UpdatedAt = at
		st.facilities[id] = next
		return nil
	})
}

func (r *facilityRepo) List(ctx context.Context, includeArchived bool) ([]*models.FacilityProfile, error) {
	scope, err := database.RequireTenantScope(ctx, "list facilities")
	if err != nil {
		return nil, err
	}

	var out []*models.FacilityProfile
	for _, f := range r.s.read(ctx).facilities {
		if f.TenantID != scope.TenantID || (!includeArchived && f.IsArchived()) {
			continue
		}
		out = append(out, copyFacility(f))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ---------------------------------------------------------------------------
// Assessments
// ---------------------------------------------------------------------------

type assessmentRepo struct{ s *Store }

func (r *assessmentRepo) Create(ctx context.Context, a *models.Assessment) error {
	scope, err := database.RequireTenantScope(ctx, "create assessment")
	if err != nil {
		return err
	}
	if err := claim(scope, &a.TenantID, "create assessment"); err != nil {
		return err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = models.StatusDraft
	}
	a.Version = 1
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.facilities[a.FacilityID]; !ok {
			return fmt.Errorf("facility %s: %w", a.FacilityID, apperrors.ErrNotFound)
		}
		if active := findActive(st, a.TenantID, a.FacilityID, a.CertificationCycle); active != nil {
			return &apperrors.ConflictError{
				Resource: "assessment",
				Reason:   fmt.Sprintf("facility %s already has an active assessment for cycle %s", a.FacilityID, a.CertificationCycle),
			}
		}
		st.assessments[a.ID] = copyAssessment(a)
		return nil
	})
}

func findActive(st *state, tenantID, facilityID uuid.UUID, cycle string) *models.Assessment {
	for _, a := range st.assessments {
		if a.TenantID == tenantID && a.FacilityID == facilityID &&
			a.CertificationCycle == cycle && !a.Status.IsTerminal() {
			return a
		}
	}
	return nil
}

func (r *assessmentRepo) Get(ctx context.Context, id uuid.UUID) (*models.Assessment, error) {
	scope, err := database.RequireTenantScope(ctx, "get assessment")
	if err != nil {
		return nil, err
	}
	a, ok := r.s.read(ctx).assessments[id]
	if !ok {
		return nil, fmt.Errorf("assessment %s: %w", id, apperrors.ErrNotFound)
	}
	if err := owned(scope, a.TenantID, "get assessment"); err != nil {
		return nil, err
	}
	return copyAssessment(a), nil
}

// GetForUpdate needs no row lock: a transaction already holds the store's
// writer lock for its whole duration.
func (r *assessmentRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Assessment, error) {
	return r.Get(ctx, id)
}

func (r *assessmentRepo) GetActiveForFacility(ctx context.Context, facilityID uuid.UUID, cycle string) (*models.Assessment, error) {
	scope, err := database.RequireTenantScope(ctx, "get active assessment")
	if err != nil {
		return nil, err
	}
	if a := findActive(r.s.read(ctx), scope.TenantID, facilityID, cycle); a != nil {
		return copyAssessment(a), nil
	}
	return nil, nil
}

func (r *assessmentRepo) ListByFacility(ctx context.Context, facilityID uuid.UUID) ([]*models.Assessment, error) {
	scope, err := database.RequireTenantScope(ctx, "list assessments")
	if err != nil {
		return nil, err
	}

	var out []*models.Assessment
	for _, a := range r.s.read(ctx).assessments {
		if a.TenantID == scope.TenantID && a.FacilityID == facilityID {
			out = append(out, copyAssessment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *assessmentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int64, next models.AssessmentStatus) (*models.Assessment, error) {
	scope, err := database.RequireTenantScope(ctx, "update assessment status")
	if err != nil {
		return nil, err
	}

	var out *models.Assessment
	err = r.s.write(ctx, func(st *state) error {
		cur, ok := st.assessments[id]
		if !ok {
			return fmt.Errorf("assessment %s: %w", id, apperrors.ErrNotFound)
		}
		if err := owned(scope, cur.TenantID, "update assessment status"); err != nil {
			return err
		}
		if cur.Version != expectedVersion {
			return &apperrors.ConflictError{Resource: "assessment", Expected: expectedVersion, Actual: cur.Version}
		}
		upd := copyAssessment(cur)
		upd.Status = next
		upd.Version++
		upd.UpdatedAt = time.Now().UTC()
		st.assessments[id] = upd
		out = copyAssessment(upd)
		return nil
	})
	return out, err
}

func (r *assessmentRepo) BumpAnswerRevision(ctx context.Context, id uuid.UUID) (int64, error) {
	scope, err := database.RequireTenantScope(ctx, "bump answer revision")
	if err != nil {
		return 0, err
	}

	var rev int64
	err = r.s.write(ctx, func(st *state) error {
		cur, ok := st.assessments[id]
		if !ok {
			return fmt.Errorf("assessment %s: %w", id, apperrors.ErrNotFound)
		}
		if err := owned(scope, cur.TenantID, "bump answer revision"); err != nil {
			return err
		}
		upd := copyAssessment(cur)
		upd.AnswerRevision++
		upd.UpdatedAt = time.Now().UTC()
		st.assessments[id] = upd
		rev = upd.AnswerRevision
		return nil
	})
	return rev, err
}

func (r *assessmentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	scope, err := database.RequireTenantScope(ctx, "delete assessment")
	if err != nil {
		return err
	}

	return r.s.write(ctx, func(st *state) error {
		cur, ok := st.assessments[id]
		if !ok {
			return fmt.Errorf("assessment %s: %w", id, apperrors.ErrNotFound)
		}
		if err := owned(scope, cur.TenantID, "delete assessment"); err != nil {
			return err
		}
		delete(st.assessments, id)
		for k := range st.answers {
			if k.assessment == id {
				delete(st.answers, k)
			}
		}
		for k := range st.audit {
			if k.assessment == id {
				delete(st.audit, k)
			}
		}
		if w, ok := st.workflows[id]; ok {
			delete(st.stages, w.ID)
			delete(st.workflows, id)
		}
		for aid, a := range st.actions {
			if a.AssessmentID == id {
				delete(st.actions, aid)
			}
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// Answers
// ---------------------------------------------------------------------------

type answerRepo struct{ s *Store }

func (r *answerRepo) Upsert(ctx context.Context, ans *models.Answer, expectedVersion int64) error {
	scope, err := database.RequireTenantScope(ctx, "upsert answer")
	if err != nil {
		return err
	}
	if err := claim(scope, &ans.TenantID, "upsert answer"); err != nil {
		return err
	}

	return r.s.write(ctx, func(st *state) error {
		a, ok := st.assessments[ans.AssessmentID]
		if !ok {
			return fmt.Errorf("assessment %s: %w", ans.AssessmentID, apperrors.ErrNotFound)
		}
		if err := owned(scope, a.TenantID, "upsert answer"); err != nil {
			return err
		}

		key := answerKey{ans.AssessmentID, ans.QuestionID}
		var actual int64
		cur, exists := st.answers[key]
		if exists {
			actual = cur.Version
		}
		if actual != expectedVersion {
			return &apperrors.ConflictError{Resource: "answer " + ans.QuestionID, Expected: expectedVersion, Actual: actual}
		}

		if exists {
			ans.ID = cur.ID
		} else if ans.ID == uuid.Nil {
			ans.ID = uuid.New()
		}
		ans.Version = expectedVersion + 1
		ans.AnsweredAt = time.Now().UTC()
		st.answers[key] = copyAnswer(ans)
		return nil
	})
}

func (r *answerRepo) Get(ctx context.Context, assessmentID uuid.UUID, questionID string) (*models.Answer, error) {
	scope, err := database.RequireTenantScope(ctx, "get answer")
	if err != nil {
		return nil, err
	}
	a, ok := r.s.read(ctx).answers[answerKey{assessmentID, questionID}]
	if !ok {
		return nil, nil
	}
	if err := owned(scope, a.TenantID, "get answer"); err != nil {
		return nil, err
	}
	return copyAnswer(a), nil
}

func (r *answerRepo) List(ctx context.Context, assessmentID uuid.UUID) ([]*models.Answer, error) {
	scope, err := database.RequireTenantScope(ctx, "list answers")
	if err != nil {
		return nil, err
	}

	st := r.s.read(ctx)
	if a, ok := st.assessments[assessmentID]; ok {
		if err := owned(scope, a.TenantID, "list answers"); err != nil {
			return nil, err
		}
	}

	var out []*models.Answer
	for k, a := range st.answers {
		if k.assessment == assessmentID && a.TenantID == scope.TenantID {
			out = append(out, copyAnswer(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (r *answerRepo) AppendAudit(ctx context.Context, entry *models.AnswerAuditEntry) error {
	scope, err := database.RequireTenantScope(ctx, "append answer audit")
	if err != nil {
		return err
	}
	if err := claim(scope, &entry.TenantID, "append answer audit"); err != nil {
		return err
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}

	return r.s.write(ctx, func(st *state) error {
		key := answerKey{entry.AssessmentID, entry.QuestionID}
		for _, e := range st.audit[key] {
			if e.Version == entry.Version {
				return &apperrors.ConflictError{Resource: "answer audit", Reason: "version already recorded"}
			}
		}
		st.audit[key] = append(slices.Clip(st.audit[key]), copyAudit(entry))
		return nil
	})
}

func (r *answerRepo) ListAudit(ctx context.Context, assessmentID uuid.UUID, questionID string) ([]*models.AnswerAuditEntry, error) {
	scope, err := database.RequireTenantScope(ctx, "list answer audit")
	if err != nil {
		return nil, err
	}

	var out []*models.AnswerAuditEntry
	for _, e := range r.s.read(ctx).audit[answerKey{assessmentID, questionID}] {
		if err := owned(scope, e.TenantID, "list answer audit"); err != nil {
			return nil, err
		}
		out = append(out, copyAudit(e))
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Workflows
// ---------------------------------------------------------------------------

type workflowRepo struct{ s *Store }

func (r *workflowRepo) Create(ctx context.Context, w *models.ReviewWorkflow) error {
	scope, err := database.RequireTenantScope(ctx, "create workflow")
	if err != nil {
		return err
	}
	if err := claim(scope, &w.TenantID, "create workflow"); err != nil {
		return err
	}
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	now := time.Now().UTC()
	w.CreatedAt, w.UpdatedAt = now, now

	return r.s.write(ctx, func(st *state) error {
		if _, exists := st.workflows[w.AssessmentID]; exists {
			return &apperrors.ConflictError{Resource: "workflow", Reason: "assessment already has a workflow"}
		}
		st.workflows[w.AssessmentID] = copyWorkflow(w)
		return nil
	})
}

func (r *workflowRepo) GetByAssessment(ctx context.Context, assessmentID uuid.UUID) (*models.ReviewWorkflow, error) {
	scope, err := database.RequireTenantScope(ctx, "get workflow")
	if err != nil {
		return nil, err
	}
	w, ok := r.s.read(ctx).workflows[assessmentID]
	if !ok {
		return nil, nil
	}
	if err := owned(scope, w.TenantID, "get workflow"); err != nil {
		return nil, err
	}
	return copyWorkflow(w), nil
}

func (r *workflowRepo) Update(ctx context.Context, w *models.ReviewWorkflow) error {
	scope, err := database.RequireTenantScope(ctx, "update workflow")
	if err != nil {
		return err
	}
	if err := claim(scope, &w.TenantID, "update workflow"); err != nil {
		return err
	}

	return r.s.write(ctx, func(st *state) error {
		cur, ok := st.workflows[w.AssessmentID]
		if !ok || cur.ID != w.ID {
			return fmt.Errorf("workflow %s: %w", w.ID, apperrors.ErrNotFound)
		}
		if err := owned(scope, cur.TenantID, "update workflow"); err != nil {
			return err
		}
		w.CreatedAt = cur.CreatedAt
		w.UpdatedAt = time.Now().UTC()
		st.workflows[w.AssessmentID] = copyWorkflow(w)
		return nil
	})
}

func (r *workflowRepo) AppendStage(ctx context.Context, rec *models.StageRecord) error {
	scope, err := database.RequireTenantScope(ctx, "append stage record")
	if err != nil {
		return err
	}
	if err := claim(scope, &rec.TenantID, "append stage record"); err != nil {
		return err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}

	return r.s.write(ctx, func(st *state) error {
		history := st.stages[rec.WorkflowID]
		rec.Sequence = len(history) + 1
		st.stages[rec.WorkflowID] = append(slices.Clip(history), copyStage(rec))
		return nil
	})
}

func (r *workflowRepo) ListStages(ctx context.Context, workflowID uuid.UUID) ([]*models.StageRecord, error) {
	scope, err := database.RequireTenantScope(ctx, "list stage records")
	if err != nil {
		return nil, err
	}

	var out []*models.StageRecord
	for _, rec := range r.s.read(ctx).stages[workflowID] {
		if err := owned(scope, rec.TenantID, "list stage records"); err != nil {
			return nil, err
		}
		out = append(out, copyStage(rec))
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Corrective actions
// ---------------------------------------------------------------------------

type actionRepo struct{ s *Store }

func (r *actionRepo) Create(ctx context.Context, a *models.CorrectiveAction) error {
	scope, err := database.RequireTenantScope(ctx, "create corrective action")
	if err != nil {
		return err
	}
	if err := claim(scope, &a.TenantID, "create corrective action"); err != nil {
		return err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = models.ActionStatusOpen
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	return r.s.write(ctx, func(st *state) error {
		if a.IsOpen() && findOpen(st, a.AssessmentID, a.QuestionID) != nil {
			return &apperrors.ConflictError{
				Resource: "corrective action",
				Reason:   "question " + a.QuestionID + " already has an open action",
			}
		}
		st.actions[a.ID] = copyAction(a)
		return nil
	})
}

func findOpen(st *state, assessmentID uuid.UUID, questionID string) *models.CorrectiveAction {
	for _, a := range st.actions {
		if a.AssessmentID == assessmentID && a.QuestionID == questionID && a.IsOpen() {
			return a
		}
	}
	return nil
}

func (r *actionRepo) Update(ctx context.Context, a *models.CorrectiveAction) error {
	scope, err := database.RequireTenantScope(ctx, "update corrective action")
	if err != nil {
		return err
	}
	if err := claim(scope, &a.TenantID, "update corrective action"); err != nil {
		return err
	}

	return r.s.write(ctx, func(st *state) error {
		cur, ok := st.actions[a.ID]
		if !ok {
			return fmt.Errorf("corrective action %s: %w", a.ID, apperrors.ErrNotFound)
		}
		if err := owned(scope, cur.TenantID, "update corrective action"); err != nil {
			return err
		}
		a.CreatedAt = cur.CreatedAt
		a.UpdatedAt = time.Now().UTC()
		st.actions[a.ID] = copyAction(a)
		return nil
	})
}

func (r *actionRepo) Get(ctx context.Context, id uuid.UUID) (*models.CorrectiveAction, error) {
	scope, err := database.RequireTenantScope(ctx, "get corrective action")
	if err != nil {
		return nil, err
	}
	a, ok := r.s.read(ctx).actions[id]
	if !ok {
		return nil, fmt.Errorf("corrective action %s: %w", id, apperrors.ErrNotFound)
	}
	if err := owned(scope, a.TenantID, "get corrective action"); err != nil {
		return nil, err
	}
	return copyAction(a), nil
}

func (r *actionRepo) ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]*models.CorrectiveAction, error) {
	scope, err := database.RequireTenantScope(ctx, "list corrective actions")
	if err != nil {
		return nil, err
	}

	var out []*models.CorrectiveAction
	for _, a := range r.s.read(ctx).actions {
		if a.AssessmentID == assessmentID && a.TenantID == scope.TenantID {
			out = append(out, copyAction(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].QuestionID < out[j].QuestionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *actionRepo) GetOpenForQuestion(ctx context.Context, assessmentID uuid.UUID, questionID string) (*models.CorrectiveAction, error) {
	scope, err := database.RequireTenantScope(ctx, "get open corrective action")
	if err != nil {
		return nil, err
	}
	a := findOpen(r.s.read(ctx), assessmentID, questionID)
	if a == nil {
		return nil, nil
	}
	if err := owned(scope, a.TenantID, "get open corrective action"); err != nil {
		return nil, err
	}
	return copyAction(a), nil
}

// ---------------------------------------------------------------------------
// Outbox
// ---------------------------------------------------------------------------

type outboxRepo struct{ s *Store }

func (r *outboxRepo) Append(ctx context.Context, e *models.WorkflowEvent) error {
	scope, err := database.RequireTenantScope(ctx, "append event")
	if err != nil {
		return err
	}
	if err := claim(scope, &e.TenantID, "append event"); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now().UTC()

	return r.s.write(ctx, func(st *state) error {
		st.events = append(st.events, copyEvent(e))
		return nil
	})
}

func (r *outboxRepo) ListPending(ctx context.Context, limit int) ([]*models.WorkflowEvent, error) {
	scope, err := database.RequireAnyScope(ctx, "list pending events")
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	var out []*models.WorkflowEvent
	for _, e := range r.s.read(ctx).events {
		if e.PublishedAt != nil {
			continue
		}
		if !scope.System && e.TenantID != scope.TenantID {
			continue
		}
		out = append(out, copyEvent(e))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *outboxRepo) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	scope, err := database.RequireAnyScope(ctx, "mark event published")
	if err != nil {
		return err
	}

	return r.s.write(ctx, func(st *state) error {
		for i, e := range st.events {
			if e.ID != id || e.PublishedAt != nil {
				continue
			}
			if !scope.System {
				if err := owned(scope, e.TenantID, "mark event published"); err != nil {
					return err
				}
			}
			upd := copyEvent(e)
			upd.PublishedAt = &at
			st.events[i] = upd
			return nil
		}
		return fmt.Errorf("event %s: %w", id, apperrors.ErrNotFound)
	})
}
