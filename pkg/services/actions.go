package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/apperrors"
	"github.com/Shamoka80/r2ready-sub010/pkg/auth"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

// NewActionRequest is a consultant-authored corrective action attached to a
// REQUEST_CHANGES transition.
type NewActionRequest struct {
	QuestionID  string `json:"question_id"`
	Description string `json:"description"`
	Priority    string `json:"priority,omitempty"`
}

// CorrectiveActionService manages remediation tasks and their milestones.
type CorrectiveActionService interface {
	// DeriveActions ensures one open action per non-compliant answer and
	// returns the open actions. Repeated calls change nothing.
	DeriveActions(ctx context.Context, assessmentID uuid.UUID) ([]*models.CorrectiveAction, error)
	ListCorrectiveActions(ctx context.Context, assessmentID uuid.UUID, filter models.CorrectiveActionFilter) ([]*models.CorrectiveAction, error)
	// ListMilestones groups open actions by clause. Computed on read.
	ListMilestones(ctx context.Context, assessmentID uuid.UUID) ([]*models.Milestone, error)
}

type correctiveActionService struct {
	deps *Deps
}

// NewCorrectiveActionService creates a new CorrectiveActionService.
func NewCorrectiveActionService(deps *Deps) CorrectiveActionService {
	return &correctiveActionService{deps: deps.withDefaults()}
}

var _ CorrectiveActionService = (*correctiveActionService)(nil)

func (s *correctiveActionService) DeriveActions(ctx context.Context, assessmentID uuid.UUID) (open []*models.CorrectiveAction, err error) {
	ctx, span := s.deps.startSpan(ctx, "actions.DeriveActions", attribute.String("assessment_id", assessmentID.String()))
	defer func() { s.deps.finish(ctx, span, "derive corrective actions", err) }()

	err = s.deps.Repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.deps.Repos.Assessments.GetForUpdate(ctx, assessmentID); err != nil {
			return err
		}
		res, err := s.deps.loadResolution(ctx, assessmentID)
		if err != nil {
			return err
		}
		if open, err = s.deps.reconcileActions(ctx, res, ""); err != nil {
			return err
		}
		_, err = s.deps.resubmitIfSettled(ctx, res, open, "corrective actions closed on re-derivation")
		return err
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("open_actions", len(open)))
	return open, nil
}

func (s *correctiveActionService) ListCorrectiveActions(ctx context.Context, assessmentID uuid.UUID, filter models.CorrectiveActionFilter) (out []*models.CorrectiveAction, err error) {
	ctx, span := s.deps.startSpan(ctx, "actions.ListCorrectiveActions", attribute.String("assessment_id", assessmentID.String()))
	defer func() { s.deps.finish(ctx, span, "list corrective actions", err) }()

	if filter.Status != "" && filter.Status != models.ActionStatusOpen && filter.Status != models.ActionStatusClosed {
		return nil, apperrors.Validation("status", "must be %q or %q", models.ActionStatusOpen, models.ActionStatusClosed)
	}
	if filter.Priority != "" && !isValidPriority(filter.Priority) {
		return nil, apperrors.Validation("priority", "unknown priority %q", filter.Priority)
	}
	if _, err := s.deps.Repos.Assessments.Get(ctx, assessmentID); err != nil {
		return nil, err
	}

	all, err := s.deps.Repos.Actions.ListByAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	out = []*models.CorrectiveAction{}
	for _, a := range all {
		if filter.Matches(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *correctiveActionService) ListMilestones(ctx context.Context, assessmentID uuid.UUID) (out []*models.Milestone, err error) {
	ctx, span := s.deps.startSpan(ctx, "actions.ListMilestones", attribute.String("assessment_id", assessmentID.String()))
	defer func() { s.deps.finish(ctx, span, "list milestones", err) }()

	if _, err := s.deps.Repos.Assessments.Get(ctx, assessmentID); err != nil {
		return nil, err
	}
	all, err := s.deps.Repos.Actions.ListByAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	return BuildMilestones(assessmentID, openOnly(all), s.deps.Now()), nil
}

func isValidPriority(p string) bool {
	return p == models.PriorityHigh || p == models.PriorityMedium || p == models.PriorityLow
}

// PriorityFor derives an action's priority from its question.
func PriorityFor(q *models.Question) string {
	switch {
	case q.Critical:
		return models.PriorityHigh
	case q.Weight >= 3:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

func openOnly(actions []*models.CorrectiveAction) []*models.CorrectiveAction {
	out := make([]*models.CorrectiveAction, 0, len(actions))
	for _, a := range actions {
		if a.IsOpen() {
			out = append(out, a)
		}
	}
	return out
}

// reviewCycle is the cycle new actions are filed under: the workflow's
// current cycle, or 1 before the first submission.
func (d *Deps) reviewCycle(ctx context.Context, assessmentID uuid.UUID) (int, error) {
	wf, err := d.Repos.Workflows.GetByAssessment(ctx, assessmentID)
	if err != nil {
		return 0, err
	}
	if wf == nil || wf.ReviewCycle == 0 {
		return 1, nil
	}
	return wf.ReviewCycle, nil
}

// reconcileActions brings the corrective actions of an assessment in line
// with its answers and returns the open ones. It must run inside a
// transaction.
//
//   - every active non-compliant answer gets an open action
//   - open actions on questions that no longer apply are closed
//   - scoring-derived actions close once the answer is compliant or not applicable
//   - any action on changedQuestion closes on such an answer, including
//     consultant-authored ones
//
// blockedBy and the critical path flag are then refreshed for open actions.
func (d *Deps) reconcileActions(ctx context.Context, res *resolution, changedQuestion string) ([]*models.CorrectiveAction, error) {
	a := res.assessment
	all, err := d.Repos.Actions.ListByAssessment(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	cycle, err := d.reviewCycle(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	now := d.Now()

	openByQuestion := make(map[string]*models.CorrectiveAction)
	for _, act := range all {
		if !act.IsOpen() {
			continue
		}
		ans := res.answers[act.QuestionID]
		resolved := ans != nil && (ans.ComplianceFlag == models.FlagCompliant || ans.ComplianceFlag == models.FlagNotApplicable)
		switch {
		case !res.isActive(act.QuestionID):
			err = d.closeAction(ctx, act, now, "question no longer applies")
		case resolved && (act.Source == models.ActionSourceScoring || act.QuestionID == changedQuestion):
			err = d.closeAction(ctx, act, now, "answer is "+string(ans.ComplianceFlag))
		default:
			openByQuestion[act.QuestionID] = act
		}
		if err != nil {
			return nil, err
		}
	}

	for _, q := range res.active {
		ans := res.answers[q.ID]
		if ans == nil || ans.ComplianceFlag != models.FlagNonCompliant {
			continue
		}
		if _, exists := openByQuestion[q.ID]; exists {
			continue
		}
		act := &models.CorrectiveAction{
			AssessmentID:  a.ID,
			QuestionID:    q.ID,
			AnswerVersion: ans.Version,
			ClauseID:      q.ClauseID,
			ReviewCycle:   cycle,
			Description:   fmt.Sprintf("Remediate non-compliance: %s", q.Text),
			Priority:      PriorityFor(q),
			DueDate:       now.Add(d.Remediation.DueIn(PriorityFor(q))),
			Status:        models.ActionStatusOpen,
			Source:        models.ActionSourceScoring,
		}
		if err := d.openAction(ctx, act); err != nil {
			return nil, err
		}
		openByQuestion[q.ID] = act
	}

	return d.refreshDependencies(ctx, res, openByQuestion)
}

func (d *Deps) openAction(ctx context.Context, act *models.CorrectiveAction) error {
	if err := d.Repos.Actions.Create(ctx, act); err != nil {
		return fmt.Errorf("failed to open corrective action for %s: %w", act.QuestionID, err)
	}
	return d.Repos.Outbox.Append(ctx, &models.WorkflowEvent{
		AssessmentID: act.AssessmentID,
		Type:         models.EventActionOpened,
		Payload: map[string]any{
			"action_id":   act.ID.String(),
			"question_id": act.QuestionID,
			"priority":    act.Priority,
			"source":      act.Source,
			"due_date":    act.DueDate,
		},
	})
}

func (d *Deps) closeAction(ctx context.Context, act *models.CorrectiveAction, now time.Time, reason string) error {
	act.Status = models.ActionStatusClosed
	act.ClosedAt = &now
	act.CriticalPath = false
	act.BlockedBy = nil
	if err := d.Repos.Actions.Update(ctx, act); err != nil {
		return fmt.Errorf("failed to close corrective action %s: %w", act.ID, err)
	}
	d.Logger.Debug("Corrective action closed",
		zap.String("action_id", act.ID.String()),
		zap.String("question_id", act.QuestionID),
		zap.String("reason", reason))
	return d.Repos.Outbox.Append(ctx, &models.WorkflowEvent{
		AssessmentID: act.AssessmentID,
		Type:         models.EventActionClosed,
		Payload: map[string]any{
			"action_id":   act.ID.String(),
			"question_id": act.QuestionID,
			"reason":      reason,
		},
	})
}

// refreshDependencies recomputes blockedBy and the critical path flag of the
// open actions, writing only those that changed. Returns the open actions
// ordered by catalog position.
func (d *Deps) refreshDependencies(ctx context.Context, res *resolution, openByQuestion map[string]*models.CorrectiveAction) ([]*models.CorrectiveAction, error) {
	open := make([]*models.CorrectiveAction, 0, len(openByQuestion))
	for _, act := range openByQuestion {
		open = append(open, act)
	}
	sort.Slice(open, func(i, j int) bool {
		pi, pj := res.snap.Position(open[i].QuestionID), res.snap.Position(open[j].QuestionID)
		if pi != pj {
			return pi < pj
		}
		return open[i].CreatedAt.Before(open[j].CreatedAt)
	})

	blockers := make(map[uuid.UUID][]uuid.UUID, len(open))
	for _, act := range open {
		q, ok := res.snap.Question(act.QuestionID)
		if !ok {
			continue
		}
		for _, ref := range q.Applicability.ReferencedQuestions() {
			if b, ok := openByQuestion[ref]; ok {
				blockers[act.ID] = append(blockers[act.ID], b.ID)
			}
		}
	}

	onPath := make(map[uuid.UUID]bool)
	for _, id := range longestChain(open, blockers) {
		onPath[id] = true
	}

	for _, act := range open {
		newBlocked := blockers[act.ID]
		if sameIDs(act.BlockedBy, newBlocked) && act.CriticalPath == onPath[act.ID] {
			continue
		}
		act.BlockedBy = newBlocked
		act.CriticalPath = onPath[act.ID]
		if err := d.Repos.Actions.Update(ctx, act); err != nil {
			return nil, fmt.Errorf("failed to update corrective action %s: %w", act.ID, err)
		}
	}
	return open, nil
}

func sameIDs(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// chainLengths returns, per action, the length of the longest blocker chain
// ending at it (an unblocked action has length 1). Blocker edges follow
// predicate references, which only point to earlier questions, so the graph
// is acyclic; the visiting set guards against corrupt stored data.
func chainLengths(open []*models.CorrectiveAction, blockers map[uuid.UUID][]uuid.UUID) (map[uuid.UUID]int, map[uuid.UUID]uuid.UUID) {
	length := make(map[uuid.UUID]int, len(open))
	next := make(map[uuid.UUID]uuid.UUID)
	visiting := make(map[uuid.UUID]bool)

	var visit func(id uuid.UUID) int
	visit = func(id uuid.UUID) int {
		if n, ok := length[id]; ok {
			return n
		}
		if visiting[id] {
			return 0
		}
		visiting[id] = true
		best := 0
		for _, b := range blockers[id] {
			if n := visit(b); n > best {
				best = n
				next[id] = b
			}
		}
		visiting[id] = false
		length[id] = best + 1
		return best + 1
	}
	for _, a := range open {
		visit(a.ID)
	}
	return length, next
}

// longestChain returns the action ids of the longest blocker chain, from the
// most downstream action to its root blocker.
func longestChain(open []*models.CorrectiveAction, blockers map[uuid.UUID][]uuid.UUID) []uuid.UUID {
	length, next := chainLengths(open, blockers)
	var head uuid.UUID
	best := 0
	for _, a := range open {
		if length[a.ID] > best {
			best, head = length[a.ID], a.ID
		}
	}
	if best == 0 {
		return nil
	}
	chain := []uuid.UUID{head}
	for id, ok := next[head]; ok; id, ok = next[id] {
		chain = append(chain, id)
	}
	return chain
}

// BuildMilestones groups open actions by clause. A milestone's target date is
// the latest due date among its actions; its critical path score is the
// highest (days until due × chain length) over its actions, and its critical
// path is the longest blocker chain ending in the clause.
func BuildMilestones(assessmentID uuid.UUID, open []*models.CorrectiveAction, now time.Time) []*models.Milestone {
	blockers := make(map[uuid.UUID][]uuid.UUID, len(open))
	openIDs := make(map[uuid.UUID]bool, len(open))
	for _, a := range open {
		openIDs[a.ID] = true
	}
	for _, a := range open {
		for _, b := range a.BlockedBy {
			if openIDs[b] {
				blockers[a.ID] = append(blockers[a.ID], b)
			}
		}
	}
	length, next := chainLengths(open, blockers)

	byClause := make(map[string]*models.Milestone)
	var clauses []string
	for _, a := range open {
		m, ok := byClause[a.ClauseID]
		if !ok {
			m = &models.Milestone{
				ID:                uuid.NewSHA1(assessmentID, []byte(a.ClauseID)),
				AssessmentID:      assessmentID,
				ClauseID:          a.ClauseID,
				ActionIDs:         []uuid.UUID{},
				CriticalPath:      []uuid.UUID{},
				CriticalPathScore: math.Inf(-1),
			}
			byClause[a.ClauseID] = m
			clauses = append(clauses, a.ClauseID)
		}
		m.ActionIDs = append(m.ActionIDs, a.ID)
		if a.DueDate.After(m.TargetDate) {
			m.TargetDate = a.DueDate
		}

		days := a.DueDate.Sub(now).Hours() / 24
		if score := days * float64(length[a.ID]); score > m.CriticalPathScore {
			m.CriticalPathScore = score
		}
		if length[a.ID] > len(m.CriticalPath) {
			chain := []uuid.UUID{a.ID}
			for id, ok := next[a.ID]; ok; id, ok = next[id] {
				chain = append(chain, id)
			}
			m.CriticalPath = chain
		}
	}

	sort.Strings(clauses)
	out := make([]*models.Milestone, 0, len(clauses))
	for _, c := range clauses {
		out = append(out, byClause[c])
	}
	return out
}

// attachConsultantActions files consultant-authored actions for a change
// request. Questions that already have an open action keep it.
func (d *Deps) attachConsultantActions(ctx context.Context, res *resolution, reqs []NewActionRequest) error {
	cycle, err := d.reviewCycle(ctx, res.assessment.ID)
	if err != nil {
		return err
	}
	now := d.Now()
	for i, r := range reqs {
		field := fmt.Sprintf("actions[%d]", i)
		q, ok := res.snap.Question(r.QuestionID)
		if !ok {
			return apperrors.Validation(field+".question_id", "unknown question %q", r.QuestionID)
		}
		if !res.isActive(q.ID) {
			return apperrors.Validation(field+".question_id", "question %s does not apply to this facility", q.ID)
		}
		if strings.TrimSpace(r.Description) == "" {
			return apperrors.Validation(field+".description", "description is required")
		}
		priority := r.Priority
		if priority == "" {
			priority = PriorityFor(q)
		}
		if !isValidPriority(priority) {
			return apperrors.Validation(field+".priority", "unknown priority %q", priority)
		}

		existing, err := d.Repos.Actions.GetOpenForQuestion(ctx, res.assessment.ID, q.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}

		var answerVersion int64
		if ans := res.answers[q.ID]; ans != nil {
			answerVersion = ans.Version
		}
		act := &models.CorrectiveAction{
			AssessmentID:  res.assessment.ID,
			QuestionID:    q.ID,
			AnswerVersion: answerVersion,
			ClauseID:      q.ClauseID,
			ReviewCycle:   cycle,
			Description:   strings.TrimSpace(r.Description),
			Priority:      priority,
			DueDate:       now.Add(d.Remediation.DueIn(priority)),
			Status:        models.ActionStatusOpen,
			Source:        models.ActionSourceConsultant,
		}
		if err := d.openAction(ctx, act); err != nil {
			return err
		}
		d.Logger.Info("Consultant corrective action filed",
			zap.String("assessment_id", res.assessment.ID.String()),
			zap.String("question_id", q.ID),
			zap.String("consultant", auth.GetUserIDFromContext(ctx)))
	}
	return nil
}
