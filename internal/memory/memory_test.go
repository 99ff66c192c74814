package memory

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/internal/types"
)

func testPattern(id string, success bool, age time.Duration) types.ExecutionPattern {
	return types.ExecutionPattern{
		ID:              id,
		Timestamp:       time.Now().Add(-age),
		Objective:       "implement the requested feature end to end with tests",
		ObjectiveType:   types.IntentCreateNew,
		Domain:          types.DomainCode,
		TaskType:        types.TaskTechnical,
		Complexity:      types.ComplexityModerate,
		AgentsUsed:      []string{"forgemaster", "the_examiner"},
		Success:         success,
		TotalDurationMs: 120000,
		TotalTokens:     15000,
	}
}

func TestFeatureVectorShapeAndRange(t *testing.T) {
	p := testPattern("p1", true, time.Hour)
	v := FeatureVector(&p)
	require.Len(t, v, FeatureDims)
	for i, f := range v {
		assert.GreaterOrEqual(t, f, float32(0), "dim %d", i)
		assert.LessOrEqual(t, f, float32(1), "dim %d", i)
	}

	// deterministic for identical input
	assert.Equal(t, v, FeatureVector(&p))
}

func TestFeatureVectorDiscriminates(t *testing.T) {
	a := testPattern("a", true, time.Hour)
	b := a
	b.Domain = types.DomainInfrastructure
	b.ObjectiveType = types.IntentDeploy
	assert.NotEqual(t, FeatureVector(&a), FeatureVector(&b))
}

func TestKDTreeMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tree := newKDTree(FeatureDims)

	vecs := make(map[string][]float32)
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("p%03d", i)
		v := make([]float32, FeatureDims)
		for d := range v {
			v[d] = rng.Float32()
		}
		vecs[id] = v
		tree.Insert(id, v)
	}

	query := make([]float32, FeatureDims)
	for d := range query {
		query[d] = rng.Float32()
	}

	got := tree.KNN(query, 10)
	require.Len(t, got, 10)

	// brute-force reference
	bestDist := got[len(got)-1].distSq
	better := 0
	for _, v := range vecs {
		if EuclideanSq(query, v) < bestDist {
			better++
		}
	}
	assert.LessOrEqual(t, better, 10, "tree missed closer neighbors")

	// results sorted closest first
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].distSq, got[i].distSq)
	}
}

func TestKDTreeRebuildPreservesContents(t *testing.T) {
	tree := newKDTree(FeatureDims)
	ids := []string{"a", "b", "c"}
	var vecs [][]float32
	for i := range ids {
		v := make([]float32, FeatureDims)
		v[0] = float32(i) * 0.3
		vecs = append(vecs, v)
		tree.Insert(ids[i], v)
	}
	tree.Rebuild(ids, vecs)
	assert.Equal(t, 3, tree.Size())

	got := tree.KNN(vecs[1], 1)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].id)
}

func TestRecordAssignsIDAndTimestamp(t *testing.T) {
	m := New(Options{})
	p := testPattern("", true, 0)
	p.Timestamp = time.Time{}

	stored := m.Record(p)
	assert.NotEmpty(t, stored.ID)
	assert.False(t, stored.Timestamp.IsZero())
	assert.Equal(t, 1, m.Size())
}

func TestFindSimilarPrefersSuccess(t *testing.T) {
	m := New(Options{})
	good := m.Record(testPattern("good", true, time.Hour))
	bad := m.Record(testPattern("bad", false, time.Hour))

	analysis := types.ObjectiveAnalysis{
		Intent:            types.IntentCreateNew,
		Domain:            types.DomainCode,
		TaskType:          types.TaskTechnical,
		Complexity:        types.ComplexityModerate,
		RecommendedAgents: []string{"forgemaster", "the_examiner"},
	}
	query := QueryVector(good.Objective, &analysis, types.ProjectContext{})

	matches := m.FindSimilar(query, 5)
	require.NotEmpty(t, matches)
	assert.Equal(t, good.ID, matches[0].Pattern.ID)
	for _, match := range matches {
		assert.GreaterOrEqual(t, match.Similarity, MinSimilarity)
		if match.Pattern.ID == bad.ID {
			assert.LessOrEqual(t, match.Similarity, 0.5, "failed patterns cap at half weight")
		}
	}
}

func TestFindSimilarFiltersWeakMatches(t *testing.T) {
	m := New(Options{})
	far := testPattern("far", false, time.Hour)
	far.Domain = types.DomainCreative
	far.ObjectiveType = types.IntentDesign
	far.TaskType = types.TaskCreative
	m.Record(far)

	analysis := types.ObjectiveAnalysis{
		Intent:   types.IntentDeploy,
		Domain:   types.DomainInfrastructure,
		TaskType: types.TaskOperational,
	}
	query := QueryVector("deploy to staging", &analysis, types.ProjectContext{})
	for _, match := range m.FindSimilar(query, 5) {
		assert.GreaterOrEqual(t, match.Similarity, MinSimilarity)
	}
}

func TestEvictionWindowAndSoftCap(t *testing.T) {
	m := New(Options{SoftCap: 5, WindowDays: 7})

	stale := testPattern("stale", true, 8*24*time.Hour)
	m.Record(stale)

	for i := 0; i < 6; i++ {
		m.Record(testPattern(fmt.Sprintf("fresh%d", i), true, time.Minute))
	}

	assert.LessOrEqual(t, m.Size(), 5)
	_, ok := m.Get("stale")
	assert.False(t, ok, "out-of-window pattern must be evicted")
	_, ok = m.Get("fresh5")
	assert.True(t, ok, "newest pattern must survive")
}

func TestFailureChainDetection(t *testing.T) {
	m := New(Options{})
	base := time.Now()

	var last types.ExecutionPattern
	for i := 0; i < 3; i++ {
		p := testPattern(fmt.Sprintf("fail%d", i), false, 0)
		p.Timestamp = base.Add(time.Duration(i) * time.Minute)
		p.ProjectContext.ProjectID = "proj-1"
		p.FailedAgent = "the_sentinel"
		p.FailureReason = "connection refused to registry"
		last = m.Record(p)
	}

	require.NotEmpty(t, last.FailureChainID, "third related failure starts a chain")

	for i := 0; i < 3; i++ {
		p, ok := m.Get(fmt.Sprintf("fail%d", i))
		require.True(t, ok)
		assert.Equal(t, last.FailureChainID, p.FailureChainID)
	}
}

func TestFailureChainIgnoresUnrelated(t *testing.T) {
	m := New(Options{})

	p1 := testPattern("f1", false, 0)
	p1.ProjectContext.ProjectID = "proj-1"
	p1.FailedAgent = "warden"
	p1.FailureReason = "permission denied"
	m.Record(p1)

	p2 := testPattern("f2", false, 0)
	p2.ProjectContext.ProjectID = "proj-2" // different project
	p2.FailedAgent = "warden"
	p2.FailureReason = "permission denied"
	stored := m.Record(p2)

	assert.Empty(t, stored.FailureChainID)
}

func TestAggregateStatsExcludeSynthetic(t *testing.T) {
	m := New(Options{})
	SeedSynthetic(m, 5)
	m.Record(testPattern("real1", true, time.Hour))
	m.Record(testPattern("real2", false, time.Hour))

	stats := m.AggregateStats()
	assert.Equal(t, 2, stats.TotalExecutions)
	assert.InDelta(t, 0.5, stats.SuccessRate, 1e-9)
	assert.Equal(t, 2, stats.AgentUsage["forgemaster"])
}

func TestSeedSyntheticDeterministic(t *testing.T) {
	m1 := New(Options{})
	m2 := New(Options{})
	n1 := SeedSynthetic(m1, 3)
	n2 := SeedSynthetic(m2, 3)

	assert.Equal(t, n1, n2)
	assert.Equal(t, m1.Size(), m2.Size())

	p1, ok1 := m1.Get("synthetic-0-0")
	p2, ok2 := m2.Get("synthetic-0-0")
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, p1.Success, p2.Success)
	assert.Equal(t, p1.TotalTokens, p2.TotalTokens)
}

func TestRecentFailures(t *testing.T) {
	m := New(Options{})
	m.Record(testPattern("ok", true, time.Hour))

	f := testPattern("boom", false, time.Minute)
	f.FailureReason = "build failed: undefined reference"
	m.Record(f)

	failures := m.RecentFailures("", 5)
	require.Len(t, failures, 1)
	assert.Equal(t, "boom", failures[0].ID)
}

func TestAgentStats(t *testing.T) {
	m := New(Options{})
	m.Record(testPattern("a", true, time.Hour))
	m.Record(testPattern("b", false, time.Hour))

	total, succ := m.AgentStats("forgemaster")
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, succ)

	total, _ = m.AgentStats("nobody")
	assert.Zero(t, total)
}

func TestAnonymizeObjective(t *testing.T) {
	in := "fix auth for alice@example.com in /home/alice/src/app"
	out := AnonymizeObjective(in)
	assert.NotContains(t, out, "alice@example.com")
	assert.NotContains(t, out, "/home/alice")
	assert.Contains(t, out, "fix auth")
}
