// Package bayesian turns historical evidence into a calibrated confidence
// for a proposed plan. Per-agent success is modeled as a Beta posterior
// over registry stats plus similarity-and-recency weighted pattern
// evidence; the joint estimate folds in pairwise agent compatibility.
package bayesian

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"maestro/internal/types"
)

const (
	// LowConfidenceThreshold marks plans the host should treat as risky.
	LowConfidenceThreshold = 0.3

	// brierShrinkAbove triggers shrinking toward 0.5 when the engine's
	// own predictions have been badly calibrated.
	brierShrinkAbove = 0.25

	minSimilarEvidence = 3
	staleHealthBelow   = 0.3
	thinAgentHistory   = 5
)

// Evidence is everything the engine scores a plan against.
type Evidence struct {
	AgentIDs []string
	Agents   map[string]types.AgentCapability // registry snapshot

	// Patterns are similar past executions, with Similarity from
	// retrieval and TemporalRelevance already stamped.
	Patterns     []types.ExecutionPattern
	Similarities []float64 // parallel to Patterns

	// Compatibility returns the learned pairwise compatibility in [0,1];
	// nil means no conflict graph is available.
	Compatibility func(a, b string) float64

	// CorpusHealth is the mean temporal relevance of the evidence corpus.
	CorpusHealth float64
}

// Assessment is the scored confidence for one plan.
type Assessment struct {
	Confidence float64            `json:"confidence"`
	Interval   [2]float64         `json:"confidence_interval"`
	Uncertainty float64           `json:"uncertainty"`
	PerAgent   map[string]float64 `json:"per_agent"`
	Warnings   []string           `json:"warnings,omitempty"`
	LowConfidence bool            `json:"low_confidence"`
}

// Engine scores plans and tracks its own calibration. Safe for
// concurrent use.
type Engine struct {
	mu       sync.Mutex
	brierSum float64
	brierN   int
}

func NewEngine() *Engine {
	return &Engine{}
}

// Score computes the joint success posterior for the agent set.
func (e *Engine) Score(ev Evidence) Assessment {
	as := Assessment{PerAgent: make(map[string]float64, len(ev.AgentIDs))}

	joint := 1.0
	minConcentration := math.Inf(1)
	for _, id := range ev.AgentIDs {
		alpha, beta := e.posterior(id, ev)
		mean := alpha / (alpha + beta)
		as.PerAgent[id] = mean
		joint *= mean
		if c := alpha + beta; c < minConcentration {
			minConcentration = c
		}

		if agent, ok := ev.Agents[id]; ok && agent.Total < thinAgentHistory {
			as.Warnings = append(as.Warnings, fmt.Sprintf("limited history for agent %s (%d runs)", id, agent.Total))
		}
	}
	if len(ev.AgentIDs) == 0 {
		minConcentration = 2
		joint = 0.5
	}

	if ev.Compatibility != nil {
		for i := 0; i < len(ev.AgentIDs); i++ {
			for j := i + 1; j < len(ev.AgentIDs); j++ {
				joint *= ev.Compatibility(ev.AgentIDs[i], ev.AgentIDs[j])
			}
		}
	}
	joint = clamp01(joint)

	if len(ev.Patterns) < minSimilarEvidence {
		as.Warnings = append(as.Warnings, fmt.Sprintf("only %d similar patterns; estimate rests mostly on priors", len(ev.Patterns)))
	}
	if ev.CorpusHealth > 0 && ev.CorpusHealth < staleHealthBelow {
		as.Warnings = append(as.Warnings, "supporting patterns are stale; domain knowledge may have drifted")
	}

	// Shrink toward the uninformed prior when past predictions have
	// been poorly calibrated.
	if brier := e.Brier(); brier > brierShrinkAbove {
		factor := clamp(1-(brier-brierShrinkAbove)*2, 0.25, 1.0)
		joint = 0.5 + (joint-0.5)*factor
		as.Warnings = append(as.Warnings, fmt.Sprintf("confidence shrunk; recent calibration error %.2f", brier))
	}

	as.Confidence = joint

	// Model the joint as a Beta with the joint mean and the weakest
	// agent's evidence mass, and take the central 90% interval.
	n := minConcentration
	a := math.Max(joint*n, 1e-6)
	b := math.Max((1-joint)*n, 1e-6)
	as.Interval = [2]float64{betaQuantile(a, b, 0.05), betaQuantile(a, b, 0.95)}
	as.Uncertainty = as.Interval[1] - as.Interval[0]
	as.LowConfidence = joint < LowConfidenceThreshold

	sort.Strings(as.Warnings)
	return as
}

// posterior builds the Beta(alpha, beta) for one agent: a uniform prior,
// the registry's lifetime counts, and pattern evidence weighted by
// similarity times temporal relevance.
func (e *Engine) posterior(agentID string, ev Evidence) (alpha, beta float64) {
	alpha, beta = 1, 1

	if agent, ok := ev.Agents[agentID]; ok {
		alpha += float64(agent.Successes)
		beta += float64(agent.Total - agent.Successes)
	}

	for i := range ev.Patterns {
		p := &ev.Patterns[i]
		used := false
		for _, a := range p.AgentsUsed {
			if a == agentID {
				used = true
				break
			}
		}
		if !used {
			continue
		}
		w := p.TemporalRelevance
		if w <= 0 {
			w = 1
		}
		if i < len(ev.Similarities) {
			w *= ev.Similarities[i]
		}
		if p.Success {
			alpha += w
		} else {
			beta += w
		}
	}
	return alpha, beta
}

// RecordOutcome folds one (predicted, observed) pair into the engine's
// Brier score.
func (e *Engine) RecordOutcome(predicted float64, success bool) {
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	e.mu.Lock()
	e.brierSum += (predicted - outcome) * (predicted - outcome)
	e.brierN++
	e.mu.Unlock()
}

// Brier returns the mean squared prediction error so far, or 0 with no
// observations.
func (e *Engine) Brier() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.brierN == 0 {
		return 0
	}
	return e.brierSum / float64(e.brierN)
}

// Observations returns how many outcomes have been recorded.
func (e *Engine) Observations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.brierN
}

func clamp01(f float64) float64 { return clamp(f, 0, 1) }

func clamp(f, lo, hi float64) float64 {
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}
