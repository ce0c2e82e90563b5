package tools

import (
	"context"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/Shamoka80/r2ready-sub010/pkg/models"
	"github.com/Shamoka80/r2ready-sub010/pkg/services"
)

// ComplianceToolDeps contains the services the compliance tools read from.
type ComplianceToolDeps struct {
	BaseMCPToolDeps
	Resolver services.ResolverService
	Scoring  services.ScoringService
	Actions  services.CorrectiveActionService
	Workflow services.WorkflowService
}

// RegisterComplianceTools registers the assessment tools. Every call runs in
// the tenant scope of the caller's token.
func RegisterComplianceTools(s ToolRegistrar, deps *ComplianceToolDeps) {
	registerResolveQuestionsTool(s, deps)
	registerGetScoreTool(s, deps)
	registerListActionsTool(s, deps)
	registerListMilestonesTool(s, deps)
	registerGetWorkflowTool(s, deps)
	registerDeriveActionsTool(s, deps)
}

// withAccess runs fn inside the caller's tenant scope and converts
// actionable errors into tool results.
func withAccess(
	ctx context.Context,
	deps *ComplianceToolDeps,
	toolName string,
	fn func(ctx context.Context) (any, error),
) (*mcp.CallToolResult, error) {
	ctx, cleanup, err := AcquireToolAccess(ctx, deps, toolName)
	if err != nil {
		if result := AsToolAccessResult(err); result != nil {
			return result, nil
		}
		return nil, err
	}
	defer cleanup()

	out, err := fn(ctx)
	if err != nil {
		if result := ServiceErrorResult(err); result != nil {
			return result, nil
		}
		deps.Logger.Error("MCP tool failed", zap.String("tool", toolName), zap.Error(err))
		return nil, err
	}
	return jsonResult(out)
}

type questionsResult struct {
	Questions []*models.Question `json:"questions"`
	Total     int                `json:"total"`
}

func registerResolveQuestionsTool(s ToolRegistrar, deps *ComplianceToolDeps) {
	tool := mcp.NewTool(
		ToolResolveQuestions,
		mcp.WithDescription("Lists the catalog questions that apply to a facility given its profile and current answers"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("facility_id", mcp.Required(), mcp.Description("Facility UUID")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		facilityID, bad := requireUUID(req, "facility_id")
		if bad != nil {
			return bad, nil
		}
		return withAccess(ctx, deps, ToolResolveQuestions, func(ctx context.Context) (any, error) {
			qs, err := deps.Resolver.ResolveActiveQuestions(ctx, facilityID)
			if err != nil {
				return nil, err
			}
			return questionsResult{Questions: qs, Total: len(qs)}, nil
		})
	})
}

func registerGetScoreTool(s ToolRegistrar, deps *ComplianceToolDeps) {
	tool := mcp.NewTool(
		ToolGetScore,
		mcp.WithDescription("Returns the weighted compliance score of an assessment, overall and per clause, with the unanswered questions"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("assessment_id", mcp.Required(), mcp.Description("Assessment UUID")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		assessmentID, bad := requireUUID(req, "assessment_id")
		if bad != nil {
			return bad, nil
		}
		return withAccess(ctx, deps, ToolGetScore, func(ctx context.Context) (any, error) {
			return deps.Scoring.ComputeScore(ctx, assessmentID)
		})
	})
}

type actionsResult struct {
	Actions []*models.CorrectiveAction `json:"actions"`
	Total   int                        `json:"total"`
}

func registerListActionsTool(s ToolRegistrar, deps *ComplianceToolDeps) {
	tool := mcp.NewTool(
		ToolListActions,
		mcp.WithDescription("Lists corrective actions of an assessment, optionally filtered"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("assessment_id", mcp.Required(), mcp.Description("Assessment UUID")),
		mcp.WithString("status", mcp.Description("open or closed"), mcp.Enum(models.ActionStatusOpen, models.ActionStatusClosed)),
		mcp.WithString("clause", mcp.Description("Clause ID, e.g. CR7")),
		mcp.WithString("priority", mcp.Description("high, medium or low")),
		mcp.WithNumber("review_cycle", mcp.Description("Review cycle the action was created in")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		assessmentID, bad := requireUUID(req, "assessment_id")
		if bad != nil {
			return bad, nil
		}
		filter := models.CorrectiveActionFilter{
			Status:      trimString(req.GetString("status", "")),
			ClauseID:    trimString(req.GetString("clause", "")),
			Priority:    trimString(req.GetString("priority", "")),
			ReviewCycle: req.GetInt("review_cycle", 0),
		}
		if filter.ReviewCycle < 0 {
			return NewErrorResult("invalid_parameters", "review_cycle must not be negative: "+strconv.Itoa(filter.ReviewCycle)), nil
		}
		return withAccess(ctx, deps, ToolListActions, func(ctx context.Context) (any, error) {
			actions, err := deps.Actions.ListCorrectiveActions(ctx, assessmentID, filter)
			if err != nil {
				return nil, err
			}
			return actionsResult{Actions: actions, Total: len(actions)}, nil
		})
	})
}

func registerListMilestonesTool(s ToolRegistrar, deps *ComplianceToolDeps) {
	tool := mcp.NewTool(
		ToolListMilestones,
		mcp.WithDescription("Groups open corrective actions of an assessment into per-clause milestones with a critical path"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("assessment_id", mcp.Required(), mcp.Description("Assessment UUID")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		assessmentID, bad := requireUUID(req, "assessment_id")
		if bad != nil {
			return bad, nil
		}
		return withAccess(ctx, deps, ToolListMilestones, func(ctx context.Context) (any, error) {
			return deps.Actions.ListMilestones(ctx, assessmentID)
		})
	})
}

func registerGetWorkflowTool(s ToolRegistrar, deps *ComplianceToolDeps) {
	tool := mcp.NewTool(
		ToolGetWorkflow,
		mcp.WithDescription("Returns the review workflow of an assessment: status, assignees, SLA deadline and stage history"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("assessment_id", mcp.Required(), mcp.Description("Assessment UUID")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		assessmentID, bad := requireUUID(req, "assessment_id")
		if bad != nil {
			return bad, nil
		}
		return withAccess(ctx, deps, ToolGetWorkflow, func(ctx context.Context) (any, error) {
			return deps.Workflow.GetWorkflow(ctx, assessmentID)
		})
	})
}

func registerDeriveActionsTool(s ToolRegistrar, deps *ComplianceToolDeps) {
	tool := mcp.NewTool(
		ToolDeriveActions,
		mcp.WithDescription("Creates a corrective action for every non-compliant answer that lacks one and returns the open actions"),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithString("assessment_id", mcp.Required(), mcp.Description("Assessment UUID")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		assessmentID, bad := requireUUID(req, "assessment_id")
		if bad != nil {
			return bad, nil
		}
		return withAccess(ctx, deps, ToolDeriveActions, func(ctx context.Context) (any, error) {
			actions, err := deps.Actions.DeriveActions(ctx, assessmentID)
			if err != nil {
				return nil, err
			}
			return actionsResult{Actions: actions, Total: len(actions)}, nil
		})
	})
}
