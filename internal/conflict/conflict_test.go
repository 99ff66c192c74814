package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/internal/types"
)

func spec(id string, prio types.Priority, deps ...string) types.AgentSpec {
	return types.AgentSpec{AgentID: id, Priority: prio, Dependencies: deps}
}

func planOf(strategy types.Strategy, agents ...types.AgentSpec) *types.OrchestrationPlan {
	return &types.OrchestrationPlan{Strategy: strategy, Agents: agents}
}

func TestGraphRiskLaplaceSmoothing(t *testing.T) {
	g := NewGraph()
	assert.InDelta(t, 0.5, g.Risk("a", "b"), 1e-9, "unseen pair is neutral")

	// ten clean co-occurrences
	for i := 0; i < 10; i++ {
		g.Learn(&types.ExecutionPattern{AgentsUsed: []string{"a", "b"}, Success: true})
	}
	assert.InDelta(t, 1.0/12.0, g.Risk("a", "b"), 1e-9)
	assert.InDelta(t, 11.0/12.0, g.Compatibility("a", "b"), 1e-9)
}

func TestGraphLearnsReportedConflicts(t *testing.T) {
	g := NewGraph()
	g.Learn(&types.ExecutionPattern{
		AgentsUsed: []string{"a", "b"},
		Success:    true,
		Conflicts:  []string{"a|b:resource"},
	})
	assert.InDelta(t, 2.0/3.0, g.Risk("a", "b"), 1e-9)
	assert.InDelta(t, g.Risk("a", "b"), g.Risk("b", "a"), 1e-9, "risk is symmetric")
}

func TestGraphBlamesFailedAgentPairings(t *testing.T) {
	g := NewGraph()
	g.Learn(&types.ExecutionPattern{
		AgentsUsed:  []string{"a", "b", "c"},
		Success:     false,
		FailedAgent: "b",
	})
	assert.Greater(t, g.Risk("a", "b"), g.Risk("a", "c"))
}

func TestRiskiestPairs(t *testing.T) {
	g := NewGraph()
	for i := 0; i < 5; i++ {
		g.Learn(&types.ExecutionPattern{AgentsUsed: []string{"x", "y"}, Success: false, FailedAgent: "y"})
		g.Learn(&types.ExecutionPattern{AgentsUsed: []string{"x", "z"}, Success: true})
	}
	pairs := g.RiskiestPairs(3, 10)
	require.NotEmpty(t, pairs)
	assert.Equal(t, "x", pairs[0].AgentA)
	assert.Equal(t, "y", pairs[0].AgentB)
}

func TestAnalyzeFlagsOrderingViolation(t *testing.T) {
	d := NewDetector(NewGraph())
	// deployment before verification violates the static ordering rule
	report := d.Analyze(planOf(types.StrategySequential,
		spec("the_sentinel", types.PriorityHigh),
		spec("the_examiner", types.PriorityMedium),
	), nil)

	assert.True(t, report.Safe, "reorderable conflicts do not make a plan unsafe")
	require.NotEmpty(t, report.Conflicts)
	assert.Equal(t, ConflictOrdering, report.Conflicts[0].Type)
	assert.Contains(t, report.Conflicts[0].Resolution, "reorder")
}

func TestAnalyzeAcceptsCorrectOrder(t *testing.T) {
	d := NewDetector(NewGraph())
	report := d.Analyze(planOf(types.StrategySequential,
		spec("the_examiner", types.PriorityMedium),
		spec("the_sentinel", types.PriorityHigh),
	), nil)
	assert.True(t, report.Safe)
	assert.Empty(t, report.Conflicts)
	assert.InDelta(t, 0.0, report.RiskScore, 1e-9)
	assert.InDelta(t, 1.0, report.ConflictFreeProbability, 1e-9)
}

func TestAnalyzeUsesLearnedRiskAfterEnoughObservations(t *testing.T) {
	g := NewGraph()
	for i := 0; i < 4; i++ {
		g.Learn(&types.ExecutionPattern{
			AgentsUsed:  []string{"alpha", "beta"},
			Success:     false,
			FailedAgent: "beta",
		})
	}
	d := NewDetector(g)
	report := d.Analyze(planOf(types.StrategySequential,
		spec("alpha", types.PriorityMedium),
		spec("beta", types.PriorityMedium),
	), nil)
	assert.False(t, report.Safe)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, ConflictSemantic, report.Conflicts[0].Type)
	assert.Greater(t, report.Conflicts[0].Risk, safeRiskThreshold)
}

func TestAnalyzeIgnoresUnseenPairs(t *testing.T) {
	d := NewDetector(NewGraph())
	report := d.Analyze(planOf(types.StrategySequential,
		spec("alpha", types.PriorityMedium),
		spec("beta", types.PriorityMedium),
	), nil)
	assert.True(t, report.Safe, "neutral prior alone never condemns a pairing")
	assert.Empty(t, report.Conflicts)
}

func TestAnalyzeFlagsConcurrentMutatingToolUse(t *testing.T) {
	roster := map[string]types.AgentCapability{
		"forgemaster": {ID: "forgemaster", Tools: []string{"editor", "shell"}},
		"cinna":       {ID: "cinna", Tools: []string{"editor"}},
	}
	d := NewDetector(NewGraph())
	report := d.Analyze(planOf(types.StrategyParallel,
		spec("forgemaster", types.PriorityHigh),
		spec("cinna", types.PriorityMedium),
	), roster)

	require.Len(t, report.Conflicts, 1)
	c := report.Conflicts[0]
	assert.Equal(t, ConflictToolOverlap, c.Type)
	assert.InDelta(t, toolOverlapRisk, c.Risk, 1e-9)
	assert.Contains(t, c.Resolution, "serialize")
	assert.True(t, report.Safe, "a single shared tool stays within tolerance")
	assert.InDelta(t, toolOverlapRisk, report.RiskScore, 1e-9)
}

func TestAnalyzeSkipsToolOverlapWhenOrdered(t *testing.T) {
	roster := map[string]types.AgentCapability{
		"forgemaster": {ID: "forgemaster", Tools: []string{"editor"}},
		"cinna":       {ID: "cinna", Tools: []string{"editor"}},
	}
	d := NewDetector(NewGraph())

	report := d.Analyze(planOf(types.StrategySequential,
		spec("forgemaster", types.PriorityHigh),
		spec("cinna", types.PriorityMedium),
	), roster)
	assert.Empty(t, report.Conflicts, "sequential plans never interleave tool access")

	report = d.Analyze(planOf(types.StrategyParallel,
		spec("forgemaster", types.PriorityHigh),
		spec("cinna", types.PriorityMedium, "forgemaster"),
	), roster)
	assert.Empty(t, report.Conflicts, "an explicit dependency already serializes the pair")
}

func TestAnalyzeFlagsWriterVerifierPairing(t *testing.T) {
	d := NewDetector(NewGraph())
	report := d.Analyze(planOf(types.StrategySequential,
		spec("the_scribe", types.PriorityCritical),
		spec("the_examiner", types.PriorityMedium),
	), nil)

	assert.False(t, report.Safe)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, ConflictSemantic, report.Conflicts[0].Type)
	assert.InDelta(t, 0.4, report.RiskScore, 1e-9)
}

func TestAnalyzeCompoundsResidualRisks(t *testing.T) {
	roster := map[string]types.AgentCapability{
		"the_scribe":   {ID: "the_scribe", Tools: []string{"editor"}},
		"the_examiner": {ID: "the_examiner", Tools: []string{"shell", "test_runner"}},
		"forgemaster":  {ID: "forgemaster", Tools: []string{"editor", "shell"}},
	}
	d := NewDetector(NewGraph())
	report := d.Analyze(planOf(types.StrategyParallel,
		spec("the_scribe", types.PriorityCritical),
		spec("the_examiner", types.PriorityMedium),
		spec("forgemaster", types.PriorityHigh),
	), roster)

	// writer/verifier semantic opposition at 0.4 plus two shared-tool
	// overlaps at 0.3 each
	assert.InDelta(t, 1.0-(1.0-0.4)*(1.0-0.3)*(1.0-0.3), report.RiskScore, 1e-9)
	assert.InDelta(t, 1.0, report.RiskScore+report.ConflictFreeProbability, 1e-9)
	assert.False(t, report.Safe)
}

func TestReorderSatisfiesStaticEdges(t *testing.T) {
	agents := []types.AgentSpec{
		spec("the_sentinel", types.PriorityCritical),
		spec("the_examiner", types.PriorityMedium),
		spec("forgemaster", types.PriorityHigh),
	}
	out, changed := Reorder(agents)
	assert.True(t, changed)

	pos := map[string]int{}
	for i, a := range out {
		pos[a.AgentID] = i
	}
	assert.Less(t, pos["forgemaster"], pos["the_sentinel"])
	assert.Less(t, pos["the_examiner"], pos["the_sentinel"])
}

func TestReorderHonorsExplicitDependencies(t *testing.T) {
	agents := []types.AgentSpec{
		spec("b", types.PriorityCritical, "a"),
		spec("a", types.PriorityLow),
	}
	out, changed := Reorder(agents)
	assert.True(t, changed)
	assert.Equal(t, "a", out[0].AgentID)
	assert.Equal(t, "b", out[1].AgentID)
}

func TestReorderBreaksCycles(t *testing.T) {
	agents := []types.AgentSpec{
		spec("a", types.PriorityHigh, "b"),
		spec("b", types.PriorityLow, "a"),
	}
	out, _ := Reorder(agents)
	require.Len(t, out, 2)
	// the more urgent agent is released first
	assert.Equal(t, "a", out[0].AgentID)
}

func TestReorderDeterministic(t *testing.T) {
	agents := []types.AgentSpec{
		spec("z", types.PriorityMedium),
		spec("a", types.PriorityMedium),
	}
	out1, _ := Reorder(agents)
	out2, _ := Reorder(agents)
	assert.Equal(t, out1, out2)
	// equal priority preserves plan order
	assert.Equal(t, "z", out1[0].AgentID)
}
