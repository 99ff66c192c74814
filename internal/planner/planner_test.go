package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/internal/bayesian"
	"maestro/internal/bus"
	"maestro/internal/conflict"
	"maestro/internal/memory"
	"maestro/internal/pareto"
	"maestro/internal/registry"
	"maestro/internal/semantic"
	"maestro/internal/types"
)

type fixture struct {
	planner  *Planner
	registry *registry.Registry
	memory   *memory.PatternMemory
	graph    *conflict.Graph
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New("", 0)
	mem := memory.New(memory.Options{})
	graph := conflict.NewGraph()
	f := &fixture{
		registry: reg,
		memory:   mem,
		graph:    graph,
	}
	f.planner = New(semantic.NewAnalyzer(), reg, mem, graph,
		bayesian.NewEngine(), pareto.NewOptimizer(), bus.New())
	return f
}

// trainAgent gives an agent enough successful history to trust it.
func (f *fixture) trainAgent(id string, successes, failures int) {
	for i := 0; i < successes; i++ {
		f.registry.RecordFeedback(id, true, 8000, 60000)
	}
	for i := 0; i < failures; i++ {
		f.registry.RecordFeedback(id, false, 8000, 60000)
	}
}

func TestPlanDeploymentObjective(t *testing.T) {
	f := newFixture(t)
	res, err := f.planner.Plan(context.Background(), Request{
		Objective: "deploy the payment service to the staging kubernetes cluster",
	})
	require.NoError(t, err)

	plan := res.Plan
	assert.Equal(t, types.IntentDeploy, res.Analysis.Intent)
	assert.Equal(t, types.DomainInfrastructure, res.Analysis.Domain)
	assert.True(t, plan.Contains("the_sentinel"), "infrastructure plans must include the mandatory devops agent")
	assert.NotEmpty(t, plan.Rationale)
	assert.Greater(t, plan.EstimatedTokens, 0)
	assert.GreaterOrEqual(t, plan.ConfidenceInterval[1], plan.ConfidenceInterval[0])
}

func TestPlanColdStartSucceedsWithWarning(t *testing.T) {
	f := newFixture(t)
	res, err := f.planner.Plan(context.Background(), Request{
		Objective: "implement a rest endpoint for user profile updates in the api service",
	})
	require.NoError(t, err, "a fresh install must still produce a plan")

	joined := ""
	for _, w := range res.Plan.Warnings {
		joined += w + "\n"
	}
	assert.Contains(t, joined, "priors")
}

func TestPlanSafetyViolation(t *testing.T) {
	f := newFixture(t)
	_, err := f.planner.Plan(context.Background(), Request{
		Objective: "run rm -rf / to clean the build server",
	})
	assert.ErrorIs(t, err, ErrSafetyViolation)
}

func TestPlanVagueObjectiveRoutesToClarifier(t *testing.T) {
	f := newFixture(t)
	res, err := f.planner.Plan(context.Background(), Request{Objective: "make it better"})
	require.NoError(t, err)

	require.Len(t, res.Plan.Agents, 1)
	assert.Equal(t, "the_clarifier", res.Plan.Agents[0].AgentID)
	assert.NotEmpty(t, res.Plan.Agents[0].Prompt)
}

func TestPlanSecurityObjectiveIncludesWarden(t *testing.T) {
	f := newFixture(t)
	res, err := f.planner.Plan(context.Background(), Request{
		Objective: "patch the sql injection vulnerability in the login handler of auth/login.go",
	})
	require.NoError(t, err)
	assert.Equal(t, types.DomainSecurity, res.Analysis.Domain)
	assert.True(t, res.Plan.Contains("warden"))
}

func TestPlanRespectsMaxAgents(t *testing.T) {
	f := newFixture(t)
	res, err := f.planner.Plan(context.Background(), Request{
		Objective:   "implement the new invoice export feature in billing/export.go with tests",
		Constraints: types.PlanConstraints{MaxAgents: 2},
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res.Plan.Agents), 2)
}

func TestPlanMaxAgentsBindsMandatoryAdditions(t *testing.T) {
	f := newFixture(t)
	res, err := f.planner.Plan(context.Background(), Request{
		Objective:   "setup the security scanning pipeline on the release server",
		Constraints: types.PlanConstraints{MaxAgents: 1},
	})
	require.NoError(t, err)
	require.Len(t, res.Plan.Agents, 1, "the cap binds the final composition, mandatory agents included")
	assert.Equal(t, "warden", res.Plan.Agents[0].AgentID, "the mandatory domain agent survives the cut")
}

func TestPlanCreativeObjective(t *testing.T) {
	f := newFixture(t)
	res, err := f.planner.Plan(context.Background(), Request{
		Objective: "write a haiku about the changing seasons",
	})
	require.NoError(t, err)

	assert.Equal(t, types.DomainCreative, res.Analysis.Domain)
	require.Len(t, res.Plan.Agents, 1, "creative work is a single writer")
	assert.Equal(t, "the_scribe", res.Plan.Agents[0].AgentID)
	assert.False(t, res.Plan.Contains("the_examiner"), "nothing to verify in a poem")
	assert.LessOrEqual(t, res.Plan.EstimatedTokens, 20000)
	assert.GreaterOrEqual(t, res.Plan.Confidence, 0.7)
}

func TestPlanUnsatisfiableConstraints(t *testing.T) {
	f := newFixture(t)
	_, err := f.planner.Plan(context.Background(), Request{
		Objective:   "deploy the billing service to the production kubernetes cluster",
		Constraints: types.PlanConstraints{MaxTokens: 1},
	})
	assert.ErrorIs(t, err, ErrConstraintViolation)
}

func TestPlanDependenciesFormDAG(t *testing.T) {
	f := newFixture(t)
	res, err := f.planner.Plan(context.Background(), Request{
		Objective: "implement the audit log feature in internal/audit with full test coverage",
	})
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, a := range res.Plan.Agents {
		for _, d := range a.Dependencies {
			assert.True(t, seen[d], "dependency %s of %s must be scheduled earlier", d, a.AgentID)
		}
		seen[a.AgentID] = true
	}
}

func TestPlanReusesProvenPattern(t *testing.T) {
	f := newFixture(t)
	// trusted agents
	f.trainAgent("the_sentinel", 12, 0)
	f.trainAgent("the_examiner", 12, 0)

	objective := "deploy the payment service to the staging kubernetes cluster"
	analysis := f.planner.analyzer.Analyze(objective)
	f.memory.Record(types.ExecutionPattern{
		Objective:       objective,
		ObjectiveType:   analysis.Intent,
		Domain:          analysis.Domain,
		TaskType:        analysis.TaskType,
		Complexity:      analysis.Complexity,
		AgentsUsed:      []string{"the_examiner", "the_sentinel"},
		ExecutionOrder:  []string{"the_examiner", "the_sentinel"},
		Success:         true,
		Verified:        true,
		TotalTokens:     15000,
		TotalDurationMs: 120000,
		Timestamp:       time.Now().Add(-24 * time.Hour),
	})

	res, err := f.planner.Plan(context.Background(), Request{Objective: objective})
	require.NoError(t, err)
	assert.Contains(t, res.Plan.Rationale, "Reusing proven pattern")
	assert.Equal(t, []string{"the_examiner", "the_sentinel"}, res.Plan.AgentIDs())
}

func TestPlanReusesPatternBeforeAgentsHaveHistory(t *testing.T) {
	f := newFixture(t)

	// one verified success and an untouched registry
	objective := "deploy the payment service to the staging kubernetes cluster"
	analysis := f.planner.analyzer.Analyze(objective)
	f.memory.Record(types.ExecutionPattern{
		ID:              "fresh-1",
		Objective:       objective,
		ObjectiveType:   analysis.Intent,
		Domain:          analysis.Domain,
		TaskType:        analysis.TaskType,
		Complexity:      analysis.Complexity,
		AgentsUsed:      []string{"the_examiner", "the_sentinel"},
		ExecutionOrder:  []string{"the_examiner", "the_sentinel"},
		Success:         true,
		Verified:        true,
		TotalTokens:     15000,
		TotalDurationMs: 120000,
		Timestamp:       time.Now().Add(-24 * time.Hour),
	})

	res, err := f.planner.Plan(context.Background(), Request{Objective: objective})
	require.NoError(t, err)
	assert.Contains(t, res.Plan.Rationale, "Reusing proven pattern",
		"a proven composition is not hostage to per-agent cold-start rates")
	assert.Equal(t, []string{"the_examiner", "the_sentinel"}, res.Plan.AgentIDs())
}

func TestPlanMergesSuppliedPastExecutions(t *testing.T) {
	f := newFixture(t)

	objective := "deploy the payment service to the staging kubernetes cluster"
	analysis := f.planner.analyzer.Analyze(objective)
	past := types.ExecutionPattern{
		ID:              "long-term-1",
		Objective:       objective,
		ObjectiveType:   analysis.Intent,
		Domain:          analysis.Domain,
		TaskType:        analysis.TaskType,
		Complexity:      analysis.Complexity,
		AgentsUsed:      []string{"the_examiner", "the_sentinel"},
		ExecutionOrder:  []string{"the_examiner", "the_sentinel"},
		Success:         true,
		TotalTokens:     15000,
		TotalDurationMs: 120000,
		Timestamp:       time.Now().Add(-24 * time.Hour),
	}

	res, err := f.planner.Plan(context.Background(), Request{
		Objective:      objective,
		PastExecutions: []types.ExecutionPattern{past},
	})
	require.NoError(t, err)
	assert.Contains(t, res.Plan.Rationale, "Reusing proven pattern",
		"patterns supplied with the request feed retrieval like local ones")
	assert.Equal(t, []string{"the_examiner", "the_sentinel"}, res.Plan.AgentIDs())
}

func TestInstantiateAddsCapabilityWinner(t *testing.T) {
	a := types.ObjectiveAnalysis{Domain: types.DomainCode, Intent: types.IntentFixIssue}
	agents := instantiate(templates["fix_tests"], &a, []string{"datasmith"})

	require.Len(t, agents, 3)
	last := agents[2]
	assert.Equal(t, "datasmith", last.AgentID, "the best capability match joins even off-domain")
	assert.Equal(t, types.PriorityMedium, last.Priority)
}

func TestPlanSkipsReuseOfStalePattern(t *testing.T) {
	reg := registry.New("", 0)
	mem := memory.New(memory.Options{WindowDays: 90})
	graph := conflict.NewGraph()
	f := &fixture{registry: reg, memory: mem, graph: graph}
	f.planner = New(semantic.NewAnalyzer(), reg, mem, graph,
		bayesian.NewEngine(), pareto.NewOptimizer(), bus.New())

	f.trainAgent("the_sentinel", 12, 0)
	f.trainAgent("the_examiner", 12, 0)

	objective := "deploy the payment service to the staging kubernetes cluster"
	analysis := f.planner.analyzer.Analyze(objective)
	// in the retrieval window but past the infrastructure half-life
	f.memory.Record(types.ExecutionPattern{
		Objective:      objective,
		ObjectiveType:  analysis.Intent,
		Domain:         analysis.Domain,
		TaskType:       analysis.TaskType,
		Complexity:     analysis.Complexity,
		AgentsUsed:     []string{"the_examiner", "the_sentinel"},
		Success:        true,
		Timestamp:      time.Now().Add(-50 * 24 * time.Hour),
		TotalTokens:    15000,
		TotalDurationMs: 120000,
	})

	res, err := f.planner.Plan(context.Background(), Request{Objective: objective})
	require.NoError(t, err)
	assert.NotContains(t, res.Plan.Rationale, "Reusing proven pattern")
}

func TestPlanDeterministic(t *testing.T) {
	f := newFixture(t)
	req := Request{Objective: "fix the failing unit tests in internal/parser"}

	r1, err := f.planner.Plan(context.Background(), req)
	require.NoError(t, err)
	r2, err := f.planner.Plan(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, r1.Plan.AgentIDs(), r2.Plan.AgentIDs())
	assert.Equal(t, r1.Plan.Strategy, r2.Plan.Strategy)
}

func TestRefineInsertsStabilizer(t *testing.T) {
	plan := &types.OrchestrationPlan{
		Agents: []types.AgentSpec{
			{AgentID: "the_analyst", Priority: types.PriorityHigh},
			{AgentID: "the_sentinel", Priority: types.PriorityMedium, Dependencies: []string{"the_analyst"}},
		},
		Rationale: "original",
	}
	fc := &types.FailureContext{
		Objective:        "deploy to staging",
		FailedAgent:      "the_sentinel",
		ErrorCategory:    types.ErrNetwork,
		RecoveryStrategy: types.RecoverRetryBackoff,
		IsRecoverable:    true,
	}

	refined := Refine(plan, fc)
	require.True(t, refined.Contains("stabilizer"))

	ids := refined.AgentIDs()
	assert.Equal(t, []string{"the_analyst", "stabilizer", "the_sentinel"}, ids)

	// the failed agent now gates on the stabilizer and runs hotter
	for _, a := range refined.Agents {
		if a.AgentID == "the_sentinel" {
			assert.Equal(t, []string{"stabilizer"}, a.Dependencies)
			assert.Equal(t, types.PriorityHigh, a.Priority)
		}
		if a.AgentID == "stabilizer" {
			assert.Equal(t, []string{"the_analyst"}, a.Dependencies)
		}
	}
	assert.Contains(t, refined.Rationale, "Refined after")

	// original untouched
	assert.False(t, plan.Contains("stabilizer"))
}

func TestRefineNonRecoverableLeavesPlan(t *testing.T) {
	plan := &types.OrchestrationPlan{
		Agents: []types.AgentSpec{{AgentID: "warden", Priority: types.PriorityHigh}},
	}
	fc := &types.FailureContext{
		FailedAgent:   "warden",
		ErrorCategory: types.ErrAuthentication,
		IsRecoverable: false,
	}
	refined := Refine(plan, fc)
	assert.False(t, refined.Contains("stabilizer"))
	assert.NotEmpty(t, refined.Warnings)
}

func TestRefineOnlyOnce(t *testing.T) {
	plan := &types.OrchestrationPlan{
		Agents: []types.AgentSpec{{AgentID: "the_sentinel", Priority: types.PriorityMedium}},
	}
	fc := &types.FailureContext{
		FailedAgent:   "the_sentinel",
		ErrorCategory: types.ErrNetwork,
		IsRecoverable: true,
	}
	once := Refine(plan, fc)
	twice := Refine(once, fc)

	count := 0
	for _, a := range twice.Agents {
		if a.AgentID == "stabilizer" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestDerivePhases(t *testing.T) {
	agents := []types.AgentSpec{
		{AgentID: "a"},
		{AgentID: "b"},
		{AgentID: "c", Dependencies: []string{"a", "b"}},
	}
	phases := derivePhases(agents)
	require.Len(t, phases, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, phases[0].Agents)
	assert.True(t, phases[0].CanRunParallel)
	assert.Equal(t, []string{"c"}, phases[1].Agents)
	assert.False(t, phases[1].CanRunParallel)
}
