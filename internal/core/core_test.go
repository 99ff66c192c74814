package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/internal/bus"
	"maestro/internal/config"
	"maestro/internal/knowledge"
	"maestro/internal/planner"
	"maestro/internal/types"
)

// testConfig keeps everything in memory and offline: no state dir, no
// archive, keyword embeddings, no knowledge endpoint.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Embedding.Provider = "keyword"
	cfg.Sync.AsyncBatchSeconds = 1
	return cfg
}

func newCore(t *testing.T) *Core {
	t.Helper()
	c, err := New(testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func succeedAll(plan *types.OrchestrationPlan) []types.AgentResult {
	results := make([]types.AgentResult, 0, len(plan.Agents))
	for _, a := range plan.AgentIDs() {
		results = append(results, types.AgentResult{
			AgentID:    a,
			Output:     "done",
			Success:    true,
			TokensUsed: 1500,
			DurationMs: 20000,
		})
	}
	return results
}

func TestFullCyclePlanCoordinatePlan(t *testing.T) {
	c := newCore(t)
	ctx := context.Background()
	applied := c.Events().Subscribe(bus.FeedbackApplied)

	req := planner.Request{
		Objective: "Setup AWS cloud orchestration cluster",
		Context:   types.ProjectContext{ProjectID: "proj-cycle", ProjectType: "infrastructure"},
	}
	first, err := c.Plan(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, first.Plan.Agents)

	res, err := c.Coordinate(ctx, req.Objective, succeedAll(first.Plan), first.Plan, req.Context)
	require.NoError(t, err)
	assert.True(t, res.AllSucceeded)
	assert.NotEmpty(t, res.Synthesis)

	select {
	case <-applied:
	case <-time.After(10 * time.Second):
		t.Fatal("feedback was never applied")
	}

	// The successful cycle must not dethrone the winning composition.
	second, err := c.Plan(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.Plan.Agents[0].AgentID, second.Plan.Agents[0].AgentID)

	matches := c.FindPatterns(ctx, req.Objective, req.Context, 5)
	require.NotEmpty(t, matches, "the executed cycle is retrievable as a pattern")
	assert.Equal(t, req.Objective, matches[0].Pattern.Objective)
}

func TestCreativeObjectiveShortCircuits(t *testing.T) {
	c := newCore(t)

	res, err := c.Plan(context.Background(), planner.Request{
		Objective: "Write a haiku about autumn leaves.",
	})
	require.NoError(t, err)
	assert.True(t, res.Plan.Contains("the_scribe"))
	assert.False(t, res.Plan.Contains("the_examiner"))
	assert.LessOrEqual(t, res.Plan.EstimatedTokens, 20000)
	assert.GreaterOrEqual(t, res.Plan.Confidence, 0.7)
}

func TestSafetyViolationSurfaces(t *testing.T) {
	c := newCore(t)

	_, err := c.Plan(context.Background(), planner.Request{
		Objective: "delete all production data and disable audit logs",
	})
	require.ErrorIs(t, err, planner.ErrSafetyViolation)
}

func TestPlanQueriesKnowledgeStore(t *testing.T) {
	var searches int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			w.WriteHeader(http.StatusOK)
			return
		}
		atomic.AddInt32(&searches, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"entities": []knowledge.Entity{{
				Name:       "pattern:lt-1",
				EntityType: "execution_pattern",
				Observations: []string{
					"objective: deploy the payment service to staging",
					"outcome: success",
					"agents: the_examiner, the_sentinel",
					"tokens: 15000",
				},
			}},
		})
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Knowledge.Endpoint = srv.URL
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	_, err = c.Plan(context.Background(), planner.Request{
		Objective: "deploy the payment service to staging",
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&searches), int32(1),
		"planning consults the long-term store for related patterns")
}

func TestAnalyzeEmptyCorpus(t *testing.T) {
	c := newCore(t)

	res := c.Analyze(types.ProjectContext{})
	assert.InDelta(t, 1.0, res.HealthScore, 0.001, "an empty corpus is healthy, not broken")
	assert.Empty(t, res.CriticalIssues)
	assert.Len(t, res.SuggestedAgents, 3)
}

func TestAnalyzeSurfacesFailureChains(t *testing.T) {
	c := newCore(t)
	applied := c.Events().Subscribe(bus.FeedbackApplied)
	pctx := types.ProjectContext{ProjectID: "proj-chain"}

	for i := 0; i < 3; i++ {
		c.loop.Enqueue(types.ExecutionPattern{
			Objective:      "deploy the billing service",
			AgentsUsed:     []string{"the_sentinel"},
			Success:        false,
			FailedAgent:    "the_sentinel",
			FailureReason:  "ECONNREFUSED at localhost:3000",
			ProjectContext: pctx,
			Timestamp:      time.Now(),
		})
		select {
		case <-applied:
		case <-time.After(10 * time.Second):
			t.Fatal("feedback was never applied")
		}
	}

	res := c.Analyze(pctx)
	require.NotEmpty(t, res.CriticalIssues)
	assert.Contains(t, res.CriticalIssues[0], "failure chain")
	assert.NotEmpty(t, res.Recommendations)
}

func TestRecordFeedbackRequiresAgent(t *testing.T) {
	c := newCore(t)

	require.Error(t, c.RecordFeedback("", true, 100, 100))
	require.NoError(t, c.RecordFeedback("forgemaster", true, 1200, 30000))

	agents := c.ListLearnedAgents(true)
	require.NotEmpty(t, agents)
	assert.Equal(t, "forgemaster", agents[0].ID, "the only observed agent ranks first")
}

func TestPredictAgentsCoversEveryRequested(t *testing.T) {
	c := newCore(t)

	preds := c.PredictAgents([]string{"forgemaster", "the_examiner"},
		"implement the new parser", types.ProjectContext{})
	require.Len(t, preds, 2)
	for _, p := range preds {
		assert.GreaterOrEqual(t, p.PredictedSuccessRate, 0.0)
		assert.LessOrEqual(t, p.PredictedSuccessRate, 1.0)
		assert.GreaterOrEqual(t, p.Confidence, 0.0)
	}
}

func TestAnalyzeFailureAndRefine(t *testing.T) {
	c := newCore(t)
	ctx := context.Background()

	res, err := c.Plan(ctx, planner.Request{Objective: "deploy the payment service to staging"})
	require.NoError(t, err)
	failed := res.Plan.Agents[len(res.Plan.Agents)-1].AgentID

	fc, fixes := c.AnalyzeFailure(
		"deploy the payment service to staging",
		failed,
		"ECONNREFUSED at localhost:3000",
		res.Plan.AgentIDs()[:len(res.Plan.Agents)-1],
		types.ProjectContext{},
	)
	assert.Equal(t, types.ErrNetwork, fc.ErrorCategory)
	assert.Equal(t, types.RecoverRetryBackoff, fc.RecoveryStrategy)
	assert.True(t, fc.IsRecoverable)
	assert.NotEmpty(t, fixes)

	refined := c.RefinePlan(res.Plan, fc)
	require.NotNil(t, refined.RefinedPlan)
	assert.True(t, refined.RefinedPlan.Contains("stabilizer"), "a recoverable network failure gets a stabilizer inserted")
	assert.NotEmpty(t, refined.ChangesMade)
	assert.Greater(t, refined.Confidence, res.Plan.Confidence)
}

func TestFindPatternsBlendsTextSimilarity(t *testing.T) {
	c := newCore(t)
	ctx := context.Background()
	applied := c.Events().Subscribe(bus.FeedbackApplied)

	for _, objective := range []string{
		"Add TypeScript support to a JavaScript project",
		"migrate the billing database to Postgres",
	} {
		c.loop.Enqueue(types.ExecutionPattern{
			Objective:  objective,
			AgentsUsed: []string{"forgemaster"},
			Success:    true,
			Timestamp:  time.Now(),
		})
		select {
		case <-applied:
		case <-time.After(10 * time.Second):
			t.Fatal("feedback was never applied")
		}
	}

	matches := c.FindPatterns(ctx, "Add TypeScript support to my JS codebase", types.ProjectContext{}, 2)
	require.Len(t, matches, 2)
	assert.Contains(t, strings.ToLower(matches[0].Pattern.Objective), "typescript")
	assert.Greater(t, matches[0].Similarity, matches[1].Similarity)
}

func TestDiscoverAgentsIsAdditive(t *testing.T) {
	c := newCore(t)

	before := len(c.ListLearnedAgents(false))
	added := c.DiscoverAgents([]string{"pixel_smith", "pixel_smith", "query_hound"})
	assert.Equal(t, 2, added)
	assert.Len(t, c.ListLearnedAgents(false), before+2)
	assert.Equal(t, 0, c.DiscoverAgents([]string{"pixel_smith"}))
}

func TestSeededCorpusEnablesReuse(t *testing.T) {
	cfg := testConfig()
	cfg.Learning.SeedSynthetic = true
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	matches := c.FindPatterns(context.Background(), "fix the failing unit tests", types.ProjectContext{}, 3)
	assert.NotEmpty(t, matches, "synthetic seeding gives cold-start retrieval something to stand on")
}
