package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Shamoka80/r2ready-sub010/pkg/audit"
	"github.com/Shamoka80/r2ready-sub010/pkg/auth"
	"github.com/Shamoka80/r2ready-sub010/pkg/cache"
	"github.com/Shamoka80/r2ready-sub010/pkg/catalog"
	"github.com/Shamoka80/r2ready-sub010/pkg/config"
	"github.com/Shamoka80/r2ready-sub010/pkg/database"
	"github.com/Shamoka80/r2ready-sub010/pkg/metrics"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
	"github.com/Shamoka80/r2ready-sub010/pkg/repositories/memory"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func yesNo(id, clause string, weight float64) *models.Question {
	return &models.Question{
		ID:         id,
		Text:       "Question " + id,
		ClauseID:   clause,
		RecCodes:   []string{clause},
		Weight:     weight,
		AnswerType: models.AnswerTypeYesNo,
	}
}

// testSnapshot is a small catalog:
//
//	Q01..Q10  CR1, weight 1
//	T1        CR2 free text
//	C1        CR2 choice
//	D1..D3    CR7, D2 applies when D1=yes, D3 when D2=yes
//	P1        CR9, processors only
func testSnapshot(t *testing.T) *catalog.Snapshot {
	t.Helper()
	return editedSnapshot(t, "test-1", nil)
}

// editedSnapshot builds the test catalog under version, letting edit change
// or extend its questions first.
func editedSnapshot(t *testing.T, version string, edit func([]*models.Question) []*models.Question) *catalog.Snapshot {
	t.Helper()
	var qs []*models.Question
	for i := 1; i <= 10; i++ {
		qs = append(qs, yesNo(fmt.Sprintf("Q%02d", i), "CR1", 1))
	}

	text := yesNo("T1", "CR2", 1)
	text.AnswerType = models.AnswerTypeText
	choice := yesNo("C1", "CR2", 1)
	choice.AnswerType = models.AnswerTypeChoice
	choice.Choices = []string{"own_fleet", "contracted"}

	d1 := yesNo("D1", "CR7", 1)
	d2 := yesNo("D2", "CR7", 3)
	d2.Critical = true
	d2.EvidenceRequired = true
	d2.Applicability = &models.Predicate{Kind: models.PredicateAnswerEquals, QuestionID: "D1", Value: "yes"}
	d3 := yesNo("D3", "CR7", 1)
	d3.Applicability = &models.Predicate{Kind: models.PredicateAnswerIn, QuestionID: "D2", Values: []string{"yes", "no"}}

	p1 := yesNo("P1", "CR9", 1)
	p1.Applicability = &models.Predicate{Kind: models.PredicateAttrEquals, Attribute: models.AttrFacilityType, Value: models.FacilityTypeProcessor}

	qs = append(qs, text, choice, d1, d2, d3, p1)
	if edit != nil {
		qs = edit(qs)
	}
	snap, err := catalog.NewSnapshot(version, nil, qs, nil)
	require.NoError(t, err)
	return snap
}

// swapLoader serves whatever snapshot a test installs next.
type swapLoader struct {
	next *catalog.Snapshot
}

func (l *swapLoader) Load(context.Context) (*catalog.Snapshot, error) {
	return l.next, nil
}

type testEnv struct {
	t        *testing.T
	tenantID uuid.UUID
	store    *memory.Store
	registry *catalog.Registry
	loader   *swapLoader
	deps     *Deps
	logs     *observer.ObservedLogs
	metrics  *metrics.Metrics

	facilities  FacilityService
	assessments AssessmentService
	answers     AnswerService
	scoring     ScoringService
	actions     CorrectiveActionService
	workflow    WorkflowService
	resolver    ResolverService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	store := memory.NewStore()
	loader := &swapLoader{next: testSnapshot(t)}
	registry, err := catalog.NewRegistry(context.Background(), loader, zap.NewNop())
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())

	deps := &Deps{
		Repos:   store.Set(),
		Catalog: registry,
		Cache:   cache.NewMemoryScoreCache(),
		Scoring: config.ScoringConfig{CertificationThreshold: 80},
		Workflow: config.WorkflowConfig{
			SubmittedSLADays: 3, ReviewSLADays: 10, ChangesSLADays: 30, CertReadySLADays: 14,
		},
		Remediation: config.RemediationConfig{HighDueDays: 14, MediumDueDays: 30, LowDueDays: 60},
		Auditor:     audit.NewSecurityAuditor(logger),
		Metrics:     m,
		Logger:      logger,
		Now:         func() time.Time { return fixedNow },
	}

	return &testEnv{
		t:           t,
		tenantID:    uuid.New(),
		store:       store,
		registry:    registry,
		loader:      loader,
		deps:        deps,
		logs:        logs,
		metrics:     m,
		facilities:  NewFacilityService(deps),
		assessments: NewAssessmentService(deps),
		answers:     NewAnswerService(deps),
		scoring:     NewScoringService(deps),
		actions:     NewCorrectiveActionService(deps),
		workflow:    NewWorkflowService(deps),
		resolver:    NewResolverService(deps),
	}
}

// as returns a request context for a user of the env's tenant.
func (e *testEnv) as(userID string, role models.ActorRole) context.Context {
	return e.asFrom(userID, role, uuid.Nil)
}

// asFrom is as for a caller whose home organization is homeTenant.
func (e *testEnv) asFrom(userID string, role models.ActorRole, homeTenant uuid.UUID) context.Context {
	claims := &auth.Claims{TenantID: e.tenantID.String(), Role: string(role)}
	claims.Subject = userID
	if homeTenant != uuid.Nil {
		claims.HomeTenantID = homeTenant.String()
	}
	ctx := auth.WithClaims(context.Background(), claims)
	return database.SetTenantScope(ctx, database.NewDetachedScope(e.tenantID))
}

func (e *testEnv) owner() context.Context      { return e.as("owner-1", models.RoleBusinessUser) }
func (e *testEnv) consultant() context.Context { return e.as("consultant-1", models.RoleConsultant) }
func (e *testEnv) auditor() context.Context    { return e.as("auditor-1", models.RoleAuditor) }

func (e *testEnv) createAssessment(scope []string, facilityType string) *models.Assessment {
	e.t.Helper()
	f, err := e.facilities.CreateFacility(e.owner(), &models.FacilityProfile{
		Name:         "Plant " + uuid.NewString()[:8],
		FacilityType: facilityType,
		RecScope:     scope,
	})
	require.NoError(e.t, err)

	a, err := e.assessments.CreateAssessment(e.owner(), f.ID, "2026")
	require.NoError(e.t, err)
	return a
}

func (e *testEnv) submit(a *models.Assessment, qid, value string, flag models.ComplianceFlag, evidence ...string) *SubmitResult {
	e.t.Helper()
	version := int64(0)
	if cur, err := e.store.Answers().Get(e.owner(), a.ID, qid); err == nil && cur != nil {
		version = cur.Version
	}
	res, err := e.answers.SubmitAnswer(e.owner(), a.ID, qid, models.AnswerInput{
		Value:          value,
		ComplianceFlag: flag,
		EvidenceRefs:   evidence,
	}, version)
	require.NoError(e.t, err, "submit %s", qid)
	return res
}

// answerScenario answers Q01..Q10 with 7 compliant, 2 non-compliant (Q04,
// Q08) and 1 not applicable (Q10).
func (e *testEnv) answerScenario(a *models.Assessment) {
	e.t.Helper()
	for i := 1; i <= 10; i++ {
		qid := fmt.Sprintf("Q%02d", i)
		switch qid {
		case "Q04", "Q08":
			e.submit(a, qid, "no", models.FlagNonCompliant)
		case "Q10":
			e.submit(a, qid, "", models.FlagNotApplicable)
		default:
			e.submit(a, qid, "yes", models.FlagCompliant)
		}
	}
}

// reloadCatalog publishes snap as the current catalog.
func (e *testEnv) reloadCatalog(snap *catalog.Snapshot) {
	e.t.Helper()
	e.loader.next = snap
	_, err := e.registry.Reload(context.Background())
	require.NoError(e.t, err)
}

func (e *testEnv) status(a *models.Assessment) models.AssessmentStatus {
	e.t.Helper()
	cur, err := e.assessments.GetAssessment(e.owner(), a.ID)
	require.NoError(e.t, err)
	return cur.Status
}

func (e *testEnv) openActions(a *models.Assessment) []*models.CorrectiveAction {
	e.t.Helper()
	out, err := e.actions.ListCorrectiveActions(e.owner(), a.ID, models.CorrectiveActionFilter{Status: models.ActionStatusOpen})
	require.NoError(e.t, err)
	return out
}
