package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/auth"
	"github.com/Shamoka80/r2ready-sub010/pkg/catalog"
	"github.com/Shamoka80/r2ready-sub010/pkg/config"
	"github.com/Shamoka80/r2ready-sub010/pkg/database"
	"github.com/Shamoka80/r2ready-sub010/pkg/models"
	"github.com/Shamoka80/r2ready-sub010/pkg/repositories/memory"
	"github.com/Shamoka80/r2ready-sub010/pkg/services"
)

type toolTest struct {
	t          *testing.T
	server     *server.MCPServer
	registry   *catalog.Registry
	deps       *services.Deps
	tenantID   uuid.UUID
	assessment *models.Assessment
}

func newToolTest(t *testing.T) *toolTest {
	t.Helper()
	logger := zap.NewNop()

	q := func(id, clause string) *models.Question {
		return &models.Question{ID: id, Text: id, ClauseID: clause, RecCodes: []string{clause}, Weight: 1, AnswerType: models.AnswerTypeYesNo}
	}
	snap, err := catalog.NewSnapshot("mcp-1", nil, []*models.Question{q("Q1", "CR1"), q("Q2", "CR1"), q("Q3", "CR7")}, nil)
	require.NoError(t, err)
	registry := catalog.NewStaticRegistry(snap)

	store := memory.NewStore()
	deps := &services.Deps{
		Repos:       store.Set(),
		Catalog:     registry,
		Scoring:     config.ScoringConfig{CertificationThreshold: 80},
		Remediation: config.RemediationConfig{HighDueDays: 14, MediumDueDays: 30, LowDueDays: 60},
		Logger:      logger,
	}

	s := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterHealthTool(s, "1.2.3", registry)
	RegisterComplianceTools(s, &ComplianceToolDeps{
		BaseMCPToolDeps: BaseMCPToolDeps{
			Scopes: database.NewTenantScopeProvider(database.DetachedOpener{}),
			Logger: logger,
		},
		Resolver: services.NewResolverService(deps),
		Scoring:  services.NewScoringService(deps),
		Actions:  services.NewCorrectiveActionService(deps),
		Workflow: services.NewWorkflowService(deps),
	})

	tt := &toolTest{t: t, server: s, registry: registry, deps: deps, tenantID: uuid.New()}
	tt.seed()
	return tt
}

// seed creates one assessment with Q1 compliant and Q2 non-compliant.
func (tt *toolTest) seed() {
	ctx := tt.claimsCtx(tt.tenantID, models.RoleBusinessUser)
	ctx = database.SetTenantScope(ctx, database.NewDetachedScope(tt.tenantID))

	f, err := services.NewFacilityService(tt.deps).CreateFacility(ctx, &models.FacilityProfile{Name: "Plant", RecScope: []string{"CR1"}})
	require.NoError(tt.t, err)
	a, err := services.NewAssessmentService(tt.deps).CreateAssessment(ctx, f.ID, "2026")
	require.NoError(tt.t, err)

	answers := services.NewAnswerService(tt.deps)
	_, err = answers.SubmitAnswer(ctx, a.ID, "Q1", models.AnswerInput{Value: "yes", ComplianceFlag: models.FlagCompliant}, 0)
	require.NoError(tt.t, err)
	_, err = answers.SubmitAnswer(ctx, a.ID, "Q2", models.AnswerInput{Value: "no", ComplianceFlag: models.FlagNonCompliant}, 0)
	require.NoError(tt.t, err)
	tt.assessment = a
}

func (tt *toolTest) claimsCtx(tenantID uuid.UUID, role models.ActorRole) context.Context {
	claims := &auth.Claims{TenantID: tenantID.String(), Role: string(role)}
	claims.Subject = "user-" + string(role)
	return auth.WithClaims(context.Background(), claims)
}

type toolResponse struct {
	IsError bool
	Text    string
}

// call invokes a tool over JSON-RPC as role in tenantID.
func (tt *toolTest) call(tenantID uuid.UUID, role models.ActorRole, name string, args map[string]any) toolResponse {
	tt.t.Helper()
	params, err := json.Marshal(map[string]any{"name": name, "arguments": args})
	require.NoError(tt.t, err)
	msg := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":%s}`, params)

	result := tt.server.HandleMessage(tt.claimsCtx(tenantID, role), []byte(msg))
	raw, err := json.Marshal(result)
	require.NoError(tt.t, err)

	var response struct {
		Result struct {
			IsError bool `json:"isError"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(tt.t, json.Unmarshal(raw, &response))
	require.Nil(tt.t, response.Error, "JSON-RPC error: %s", raw)
	require.NotEmpty(tt.t, response.Result.Content, string(raw))
	return toolResponse{IsError: response.Result.IsError, Text: response.Result.Content[0].Text}
}

func (tt *toolTest) owner(name string, args map[string]any) toolResponse {
	return tt.call(tt.tenantID, models.RoleBusinessUser, name, args)
}

func decodeErrorResponse(t *testing.T, r toolResponse) ErrorResponse {
	t.Helper()
	require.True(t, r.IsError, r.Text)
	var out ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(r.Text), &out))
	return out
}

func TestHealthTool_ReportsCatalogVersion(t *testing.T) {
	tt := newToolTest(t)

	r := tt.owner(ToolHealth, nil)
	require.False(t, r.IsError)

	var health healthResult
	require.NoError(t, json.Unmarshal([]byte(r.Text), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "1.2.3", health.Version)
	assert.Equal(t, "mcp-1", health.CatalogVersion)
}

func TestGetScoreTool(t *testing.T) {
	tt := newToolTest(t)

	r := tt.owner(ToolGetScore, map[string]any{"assessment_id": tt.assessment.ID.String()})
	require.False(t, r.IsError, r.Text)

	var score models.ScoreSummary
	require.NoError(t, json.Unmarshal([]byte(r.Text), &score))
	assert.Equal(t, "mcp-1", score.CatalogVersion)
	assert.InDelta(t, 50.0, score.Overall, 0.001)
	assert.True(t, score.Complete)
}

func TestResolveQuestionsTool_FollowsScope(t *testing.T) {
	tt := newToolTest(t)

	r := tt.owner(ToolResolveQuestions, map[string]any{"facility_id": tt.assessment.FacilityID.String()})
	require.False(t, r.IsError, r.Text)

	var out questionsResult
	require.NoError(t, json.Unmarshal([]byte(r.Text), &out))
	assert.Equal(t, 2, out.Total)
	ids := []string{out.Questions[0].ID, out.Questions[1].ID}
	assert.ElementsMatch(t, []string{"Q1", "Q2"}, ids)
}

func TestDeriveAndListActionsTools(t *testing.T) {
	tt := newToolTest(t)
	args := map[string]any{"assessment_id": tt.assessment.ID.String()}

	r := tt.call(tt.tenantID, models.RoleConsultant, ToolDeriveActions, args)
	require.False(t, r.IsError, r.Text)
	var derived actionsResult
	require.NoError(t, json.Unmarshal([]byte(r.Text), &derived))
	require.Equal(t, 1, derived.Total)
	assert.Equal(t, "Q2", derived.Actions[0].QuestionID)

	// Idempotent
	r = tt.owner(ToolDeriveActions, args)
	require.NoError(t, json.Unmarshal([]byte(r.Text), &derived))
	assert.Equal(t, 1, derived.Total)

	r = tt.owner(ToolListActions, map[string]any{"assessment_id": tt.assessment.ID.String(), "clause": "CR1", "status": "open"})
	var listed actionsResult
	require.NoError(t, json.Unmarshal([]byte(r.Text), &listed))
	assert.Equal(t, 1, listed.Total)

	r = tt.owner(ToolListActions, map[string]any{"assessment_id": tt.assessment.ID.String(), "clause": "CR7"})
	require.NoError(t, json.Unmarshal([]byte(r.Text), &listed))
	assert.Equal(t, 0, listed.Total)

	r = tt.owner(ToolListMilestones, args)
	require.False(t, r.IsError, r.Text)
	var milestones []*models.Milestone
	require.NoError(t, json.Unmarshal([]byte(r.Text), &milestones))
	require.Len(t, milestones, 1)
	assert.Equal(t, "CR1", milestones[0].ClauseID)
}

func TestGetWorkflowTool(t *testing.T) {
	tt := newToolTest(t)

	r := tt.call(tt.tenantID, models.RoleAuditor, ToolGetWorkflow, map[string]any{"assessment_id": tt.assessment.ID.String()})
	require.False(t, r.IsError, r.Text)

	var state models.WorkflowState
	require.NoError(t, json.Unmarshal([]byte(r.Text), &state))
	assert.Equal(t, models.StatusDraft, state.Status)
}

func TestComplianceTools_Errors(t *testing.T) {
	tt := newToolTest(t)
	aid := tt.assessment.ID.String()

	tests := []struct {
		name     string
		tenantID uuid.UUID
		role     models.ActorRole
		tool     string
		args     map[string]any
		wantCode string
	}{
		{"missing parameter", tt.tenantID, models.RoleBusinessUser, ToolGetScore, nil, "invalid_parameters"},
		{"malformed uuid", tt.tenantID, models.RoleBusinessUser, ToolGetScore, map[string]any{"assessment_id": "nope"}, "invalid_parameters"},
		{"unknown assessment", tt.tenantID, models.RoleBusinessUser, ToolGetScore, map[string]any{"assessment_id": uuid.NewString()}, "not_found"},
		{"other tenant", uuid.New(), models.RoleBusinessUser, ToolGetScore, map[string]any{"assessment_id": aid}, "forbidden"},
		{"auditor cannot derive", tt.tenantID, models.RoleAuditor, ToolDeriveActions, map[string]any{"assessment_id": aid}, "tool_not_enabled"},
		{"system role", tt.tenantID, models.RoleSystem, ToolGetScore, map[string]any{"assessment_id": aid}, "tool_not_enabled"},
		{"bad filter", tt.tenantID, models.RoleBusinessUser, ToolListActions, map[string]any{"assessment_id": aid, "priority": "urgent"}, "validation_failed"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := tt.call(tc.tenantID, tc.role, tc.tool, tc.args)
			assert.Equal(t, tc.wantCode, decodeErrorResponse(t, r).Code)
		})
	}
}
