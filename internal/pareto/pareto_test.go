package pareto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/internal/types"
)

func cand(id string, success, tokens, durMs float64) Candidate {
	return Candidate{ID: id, Obj: Objectives{Success: success, Tokens: tokens, DurationMs: durMs}}
}

func TestDominates(t *testing.T) {
	a := Objectives{Success: 0.9, Tokens: 100, DurationMs: 100}
	b := Objectives{Success: 0.8, Tokens: 200, DurationMs: 200}
	assert.True(t, dominates(a, b))
	assert.False(t, dominates(b, a))
	assert.False(t, dominates(a, a), "equal objectives do not dominate")
}

func TestFrontierDropsDominated(t *testing.T) {
	cands := []Candidate{
		cand("best", 0.9, 100, 100),
		cand("dominated", 0.8, 200, 200),
		cand("cheap", 0.7, 50, 300), // trades success for cost
	}
	front := Frontier(cands)
	require.Len(t, front, 2)
	assert.Equal(t, "best", front[0].ID)
	assert.Equal(t, "cheap", front[1].ID)
}

func TestRankDefaultWeightsFavorSuccess(t *testing.T) {
	o := NewOptimizer()
	front := o.Rank([]Candidate{
		cand("reliable", 0.95, 40000, 300000),
		cand("cheap", 0.60, 5000, 60000),
	})
	require.Len(t, front, 2)
	assert.Equal(t, "reliable", front[0].ID)
}

func TestRankPrefersCheaperAtEqualSuccess(t *testing.T) {
	o := NewOptimizer()
	front := o.Rank([]Candidate{
		cand("heavy", 0.8, 40000, 300000),
		cand("light", 0.8, 5000, 60000),
	})
	require.Len(t, front, 2)
	assert.Equal(t, "light", front[0].ID, "cost decides when success cannot")
}

func TestRankDeterministicTieBreak(t *testing.T) {
	o := NewOptimizer()
	cands := []Candidate{
		cand("b", 0.8, 100, 100),
		cand("a", 0.8, 100, 100),
	}
	r1 := o.Rank(cands)
	r2 := o.Rank(cands)
	assert.Equal(t, r1, r2)
	assert.Equal(t, "a", r1[0].ID)
}

func TestObserveOutcomeShiftsWeights(t *testing.T) {
	o := NewOptimizer()
	ws0, _, _ := o.Weights()

	o.ObserveOutcome(&types.ExecutionPattern{Success: false}, 0, 0)
	ws1, wt1, wd1 := o.Weights()
	assert.Greater(t, ws1, ws0)
	assert.InDelta(t, 1.0, ws1+wt1+wd1, 1e-9, "weights renormalize to 1")
}

func TestObserveOutcomeTokenOverrun(t *testing.T) {
	o := NewOptimizer()
	_, wt0, _ := o.Weights()
	o.ObserveOutcome(&types.ExecutionPattern{Success: true, TotalTokens: 20000}, 10000, 0)
	_, wt1, _ := o.Weights()
	assert.Greater(t, wt1, wt0)
}

func TestWeightsNeverCollapse(t *testing.T) {
	o := NewOptimizer()
	for i := 0; i < 100; i++ {
		o.ObserveOutcome(&types.ExecutionPattern{Success: false}, 0, 0)
	}
	ws, wt, wd := o.Weights()
	assert.GreaterOrEqual(t, wt, weightFloor)
	assert.GreaterOrEqual(t, wd, weightFloor)
	assert.InDelta(t, 1.0, ws+wt+wd, 1e-9)
}
