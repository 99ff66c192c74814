// Package mcp exposes the core's tool surface over the Model Context
// Protocol. The server speaks stdio; every tool takes and returns JSON,
// and domain failures come back as the error envelope inside a tool
// error result rather than as protocol errors.
package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"maestro/internal/core"
	"maestro/internal/logging"
	"maestro/internal/planner"
	"maestro/internal/types"
)

// Server wraps the MCP server around one core aggregate.
type Server struct {
	core *core.Core
	mcp  *server.MCPServer
}

// New registers the full tool surface.
func New(c *core.Core, version string) *Server {
	s := &Server{
		core: c,
		mcp: server.NewMCPServer(
			"maestro",
			version,
			server.WithToolCapabilities(true),
		),
	}
	s.registerTools()
	return s
}

// Serve blocks on the stdio transport until the host closes it.
func (s *Server) Serve() error {
	logging.MCP("server listening on stdio")
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(
		mcp.NewTool("plan",
			mcp.WithDescription("Produce an orchestration plan for an objective: which agents run, in what order, with what prompts and confidence."),
			mcp.WithString("objective", mcp.Required(), mcp.Description("Free-text task statement")),
			mcp.WithObject("context", mcp.Description("Project context: project_id, project_type, languages, tags")),
			mcp.WithObject("constraints", mcp.Description("Plan constraints: max_agents, max_tokens, prefer_parallel")),
			mcp.WithArray("past_executions", mcp.Description("Prior execution patterns to merge into retrieval")),
		),
		s.handlePlan,
	)
	s.mcp.AddTool(
		mcp.NewTool("coordinate",
			mcp.WithDescription("Synthesize the results of an executed plan, detect gaps and conflicts, and feed the outcome back into learning."),
			mcp.WithString("objective", mcp.Required(), mcp.Description("The objective that was executed")),
			mcp.WithArray("agent_results", mcp.Required(), mcp.Description("Per-agent outcomes: agent_id, output, success, tokens_used, duration_ms, error")),
			mcp.WithObject("plan", mcp.Description("The orchestration plan that was executed")),
			mcp.WithObject("project_context", mcp.Description("Project context the execution ran in")),
		),
		s.handleCoordinate,
	)
	s.mcp.AddTool(
		mcp.NewTool("analyze",
			mcp.WithDescription("Report learning-corpus health for a project: freshness, failure chains, calibration issues, and suggested agents."),
			mcp.WithObject("context", mcp.Description("Project context to scope the analysis")),
		),
		s.handleAnalyze,
	)
	s.mcp.AddTool(
		mcp.NewTool("record_feedback",
			mcp.WithDescription("Record one agent outcome outside a full coordination cycle."),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("The agent that ran")),
			mcp.WithBoolean("success", mcp.Required(), mcp.Description("Whether the agent succeeded")),
			mcp.WithNumber("tokens_used", mcp.Description("Tokens the agent consumed")),
			mcp.WithNumber("duration_ms", mcp.Description("Wall-clock duration in milliseconds")),
		),
		s.handleRecordFeedback,
	)
	s.mcp.AddTool(
		mcp.NewTool("predict_agents",
			mcp.WithDescription("Forecast per-agent success rates for an objective from similar past executions."),
			mcp.WithArray("agent_ids", mcp.Required(), mcp.Description("Agents to score")),
			mcp.WithString("objective", mcp.Required(), mcp.Description("The objective the agents would work on")),
			mcp.WithObject("context", mcp.Description("Project context")),
		),
		s.handlePredictAgents,
	)
	s.mcp.AddTool(
		mcp.NewTool("analyze_failure",
			mcp.WithDescription("Classify a failed execution: error category, severity, recovery strategy, failure chain, and suggested fixes."),
			mcp.WithString("objective", mcp.Required(), mcp.Description("The objective that failed")),
			mcp.WithString("failed_agent_id", mcp.Required(), mcp.Description("The agent that failed")),
			mcp.WithString("error", mcp.Required(), mcp.Description("The error message")),
			mcp.WithArray("preceding_agents", mcp.Description("Agents that ran before the failure")),
			mcp.WithObject("context", mcp.Description("Project context")),
		),
		s.handleAnalyzeFailure,
	)
	s.mcp.AddTool(
		mcp.NewTool("refine_plan",
			mcp.WithDescription("Rewrite a failed plan around its failure context and re-score it."),
			mcp.WithObject("original_plan", mcp.Required(), mcp.Description("The plan that failed")),
			mcp.WithObject("failure_context", mcp.Required(), mcp.Description("The failure context from analyze_failure")),
		),
		s.handleRefinePlan,
	)
	s.mcp.AddTool(
		mcp.NewTool("find_patterns",
			mcp.WithDescription("Retrieve past executions similar to an objective, blending feature and text similarity."),
			mcp.WithString("objective", mcp.Required(), mcp.Description("The objective to match against")),
			mcp.WithObject("context", mcp.Description("Project context")),
			mcp.WithNumber("limit", mcp.Description("Maximum patterns to return, default 5")),
		),
		s.handleFindPatterns,
	)
	s.mcp.AddTool(
		mcp.NewTool("discover_agents",
			mcp.WithDescription("Register host-side agents the registry has not seen. Existing agents are untouched."),
			mcp.WithArray("agent_ids", mcp.Required(), mcp.Description("Agent ids the host can invoke")),
		),
		s.handleDiscoverAgents,
	)
	s.mcp.AddTool(
		mcp.NewTool("list_learned_agents",
			mcp.WithDescription("List the agent roster with learned statistics."),
			mcp.WithBoolean("ranked", mcp.Description("Order by learned success rate instead of id")),
		),
		s.handleListLearnedAgents,
	)
}

// jsonResult marshals a response value into a text content block.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return envelope(KindInternal, "response marshal failed", err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// =============================================================================
// HANDLERS
// =============================================================================

func (s *Server) handlePlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Objective      string                   `json:"objective"`
		Context        types.ProjectContext     `json:"context"`
		Constraints    types.PlanConstraints    `json:"constraints"`
		PastExecutions []types.ExecutionPattern `json:"past_executions"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalidInput("plan: " + err.Error()), nil
	}
	if strings.TrimSpace(args.Objective) == "" {
		return invalidInput("plan: objective is required"), nil
	}

	res, err := s.core.Plan(ctx, planner.Request{
		Objective:      args.Objective,
		Context:        args.Context,
		Constraints:    args.Constraints,
		PastExecutions: args.PastExecutions,
	})
	if err != nil {
		return domainError(err), nil
	}
	return jsonResult(struct {
		Plan     *types.OrchestrationPlan `json:"plan"`
		Analysis types.ObjectiveAnalysis  `json:"analysis"`
	}{res.Plan, res.Analysis})
}

func (s *Server) handleCoordinate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Objective      string                   `json:"objective"`
		AgentResults   []types.AgentResult      `json:"agent_results"`
		Plan           *types.OrchestrationPlan `json:"plan"`
		ProjectContext types.ProjectContext     `json:"project_context"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalidInput("coordinate: " + err.Error()), nil
	}
	if strings.TrimSpace(args.Objective) == "" {
		return invalidInput("coordinate: objective is required"), nil
	}
	if len(args.AgentResults) == 0 {
		return invalidInput("coordinate: agent_results must not be empty"), nil
	}
	for _, r := range args.AgentResults {
		if r.AgentID == "" {
			return invalidInput("coordinate: every agent result needs an agent_id"), nil
		}
	}

	res, err := s.core.Coordinate(ctx, args.Objective, args.AgentResults, args.Plan, args.ProjectContext)
	if err != nil {
		return domainError(err), nil
	}
	return jsonResult(res)
}

func (s *Server) handleAnalyze(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Context types.ProjectContext `json:"context"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalidInput("analyze: " + err.Error()), nil
	}
	return jsonResult(s.core.Analyze(args.Context))
}

func (s *Server) handleRecordFeedback(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		AgentID    string `json:"agent_id"`
		Success    bool   `json:"success"`
		TokensUsed int    `json:"tokens_used"`
		DurationMs int64  `json:"duration_ms"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalidInput("record_feedback: " + err.Error()), nil
	}
	if err := s.core.RecordFeedback(args.AgentID, args.Success, args.TokensUsed, args.DurationMs); err != nil {
		return invalidInput(err.Error()), nil
	}
	return jsonResult(map[string]bool{"ok": true})
}

func (s *Server) handlePredictAgents(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		AgentIDs  []string             `json:"agent_ids"`
		Objective string               `json:"objective"`
		Context   types.ProjectContext `json:"context"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalidInput("predict_agents: " + err.Error()), nil
	}
	if len(args.AgentIDs) == 0 {
		return invalidInput("predict_agents: agent_ids must not be empty"), nil
	}
	if strings.TrimSpace(args.Objective) == "" {
		return invalidInput("predict_agents: objective is required"), nil
	}
	return jsonResult(struct {
		Predictions []core.Prediction `json:"predictions"`
	}{s.core.PredictAgents(args.AgentIDs, args.Objective, args.Context)})
}

func (s *Server) handleAnalyzeFailure(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Objective       string               `json:"objective"`
		FailedAgentID   string               `json:"failed_agent_id"`
		Error           string               `json:"error"`
		PrecedingAgents []string             `json:"preceding_agents"`
		Context         types.ProjectContext `json:"context"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalidInput("analyze_failure: " + err.Error()), nil
	}
	if args.FailedAgentID == "" {
		return invalidInput("analyze_failure: failed_agent_id is required"), nil
	}

	fc, fixes := s.core.AnalyzeFailure(args.Objective, args.FailedAgentID, args.Error, args.PrecedingAgents, args.Context)
	return jsonResult(struct {
		FailureContext *types.FailureContext `json:"failure_context"`
		SuggestedFixes []string              `json:"suggested_fixes"`
	}{fc, fixes})
}

func (s *Server) handleRefinePlan(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		OriginalPlan   *types.OrchestrationPlan `json:"original_plan"`
		FailureContext *types.FailureContext    `json:"failure_context"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalidInput("refine_plan: " + err.Error()), nil
	}
	if args.OriginalPlan == nil || len(args.OriginalPlan.Agents) == 0 {
		return invalidInput("refine_plan: original_plan with agents is required"), nil
	}
	if args.FailureContext == nil {
		return invalidInput("refine_plan: failure_context is required"), nil
	}
	return jsonResult(s.core.RefinePlan(args.OriginalPlan, args.FailureContext))
}

func (s *Server) handleFindPatterns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Objective string               `json:"objective"`
		Context   types.ProjectContext `json:"context"`
		Limit     int                  `json:"limit"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalidInput("find_patterns: " + err.Error()), nil
	}
	if strings.TrimSpace(args.Objective) == "" {
		return invalidInput("find_patterns: objective is required"), nil
	}

	type match struct {
		Pattern         types.ExecutionPattern `json:"pattern"`
		SimilarityScore float64                `json:"similarity_score"`
		SuccessRate     float64                `json:"success_rate"`
	}
	matches := s.core.FindPatterns(ctx, args.Objective, args.Context, args.Limit)
	out := make([]match, 0, len(matches))
	for _, m := range matches {
		rate := 0.0
		if m.Pattern.Success {
			rate = 1.0
		}
		out = append(out, match{Pattern: m.Pattern, SimilarityScore: m.Similarity, SuccessRate: rate})
	}
	return jsonResult(struct {
		Patterns []match `json:"patterns"`
	}{out})
}

func (s *Server) handleDiscoverAgents(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		AgentIDs []string `json:"agent_ids"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalidInput("discover_agents: " + err.Error()), nil
	}
	if len(args.AgentIDs) == 0 {
		return invalidInput("discover_agents: agent_ids must not be empty"), nil
	}
	return jsonResult(map[string]int{"added": s.core.DiscoverAgents(args.AgentIDs)})
}

func (s *Server) handleListLearnedAgents(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Ranked bool `json:"ranked"`
	}
	if err := req.BindArguments(&args); err != nil {
		return invalidInput("list_learned_agents: " + err.Error()), nil
	}
	return jsonResult(struct {
		Agents []types.AgentCapability `json:"agents"`
	}{s.core.ListLearnedAgents(args.Ranked)})
}
