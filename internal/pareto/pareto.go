// Package pareto ranks candidate plans across three objectives: success
// probability (maximize), token cost and duration (minimize). Candidates
// on the Pareto frontier are scalarized with adaptive weights that shift
// toward whichever objective recent outcomes missed on.
package pareto

import (
	"sort"
	"sync"

	"maestro/internal/types"
)

// Objectives are the three axes every candidate is scored on.
type Objectives struct {
	Success    float64 `json:"success"`
	Tokens     float64 `json:"tokens"`
	DurationMs float64 `json:"duration_ms"`
}

// Candidate is one plan variant under consideration.
type Candidate struct {
	ID   string     `json:"id"`
	Obj  Objectives `json:"objectives"`
	Plan types.OrchestrationPlan
}

// dominates reports whether a is at least as good as b on every axis and
// strictly better on one.
func dominates(a, b Objectives) bool {
	if a.Success < b.Success || a.Tokens > b.Tokens || a.DurationMs > b.DurationMs {
		return false
	}
	return a.Success > b.Success || a.Tokens < b.Tokens || a.DurationMs < b.DurationMs
}

// Frontier returns the non-dominated candidates, preserving input order.
func Frontier(cands []Candidate) []Candidate {
	var out []Candidate
	for i, c := range cands {
		dominated := false
		for j, other := range cands {
			if i == j {
				continue
			}
			if dominates(other.Obj, c.Obj) {
				dominated = true
				break
			}
		}
		if !dominated {
			out = append(out, c)
		}
	}
	return out
}

const (
	weightFloor  = 0.05
	learningRate = 0.05
)

// Optimizer holds the adaptive scalarization weights. Defaults favor
// success over cost and speed.
type Optimizer struct {
	mu        sync.Mutex
	wSuccess  float64
	wTokens   float64
	wDuration float64
}

func NewOptimizer() *Optimizer {
	return &Optimizer{wSuccess: 0.6, wTokens: 0.2, wDuration: 0.2}
}

// Weights returns the current (success, tokens, duration) weights.
func (o *Optimizer) Weights() (float64, float64, float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.wSuccess, o.wTokens, o.wDuration
}

// Rank filters to the Pareto frontier and orders it best-first by the
// weighted score. Every axis is min-max normalized over the frontier so
// the weights compare like with like; an axis with no spread scores 1
// for everyone. Ties break on candidate id.
func (o *Optimizer) Rank(cands []Candidate) []Candidate {
	front := Frontier(cands)
	if len(front) <= 1 {
		return front
	}

	minS, maxS := front[0].Obj.Success, front[0].Obj.Success
	minT, maxT := front[0].Obj.Tokens, front[0].Obj.Tokens
	minD, maxD := front[0].Obj.DurationMs, front[0].Obj.DurationMs
	for _, c := range front[1:] {
		minS, maxS = min(minS, c.Obj.Success), max(maxS, c.Obj.Success)
		minT, maxT = min(minT, c.Obj.Tokens), max(maxT, c.Obj.Tokens)
		minD, maxD = min(minD, c.Obj.DurationMs), max(maxD, c.Obj.DurationMs)
	}
	norm := func(v, lo, hi float64) float64 {
		if hi <= lo {
			return 1
		}
		return (v - lo) / (hi - lo)
	}

	ws, wt, wd := o.Weights()
	score := func(c Candidate) float64 {
		return ws*norm(c.Obj.Success, minS, maxS) +
			wt*(1-norm(c.Obj.Tokens, minT, maxT)) +
			wd*(1-norm(c.Obj.DurationMs, minD, maxD))
	}

	sort.SliceStable(front, func(i, j int) bool {
		si, sj := score(front[i]), score(front[j])
		if si != sj {
			return si > sj
		}
		return front[i].ID < front[j].ID
	})
	return front
}

// ObserveOutcome nudges the weights toward the objective the outcome
// missed on: failures raise the success weight, overruns raise the cost
// weights. Weights stay above the floor and renormalize to sum 1.
func (o *Optimizer) ObserveOutcome(p *types.ExecutionPattern, estTokens int, estDurationMs int64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !p.Success {
		o.wSuccess += learningRate
	}
	if estTokens > 0 && float64(p.TotalTokens) > 1.2*float64(estTokens) {
		o.wTokens += learningRate
	}
	if estDurationMs > 0 && float64(p.TotalDurationMs) > 1.2*float64(estDurationMs) {
		o.wDuration += learningRate
	}
	o.normalizeLocked()
}

// normalizeLocked scales the weights to sum 1, then pushes any weight
// below the floor up to it, taking the difference from the largest.
func (o *Optimizer) normalizeLocked() {
	sum := o.wSuccess + o.wTokens + o.wDuration
	o.wSuccess /= sum
	o.wTokens /= sum
	o.wDuration /= sum

	ws := []*float64{&o.wSuccess, &o.wTokens, &o.wDuration}
	for _, w := range ws {
		if *w < weightFloor {
			deficit := weightFloor - *w
			*w = weightFloor
			largest := ws[0]
			for _, other := range ws[1:] {
				if *other > *largest {
					largest = other
				}
			}
			*largest -= deficit
		}
	}
}
