package validate

import (
	"sort"

	"maestro/internal/types"
)

// ConfidenceDecision is the validator's verdict on a low-confidence plan.
type ConfidenceDecision struct {
	Accept       bool     `json:"accept"`
	Replacements []string `json:"replacements,omitempty"` // agent ids worth swapping in
}

// ReviewConfidence decides what to do with a plan whose joint confidence
// fell below the threshold: find better-performing substitutes for the
// weakest agents, or reject outright when none exist.
//
// perAgent is the per-agent posterior from the confidence engine; roster
// is the registry snapshot.
func ReviewConfidence(plan *types.OrchestrationPlan, perAgent map[string]float64,
	roster map[string]types.AgentCapability, threshold float64) ConfidenceDecision {

	if len(perAgent) == 0 {
		return ConfidenceDecision{Accept: false}
	}

	// weakest agents first
	type weak struct {
		id   string
		conf float64
	}
	var weakest []weak
	for id, conf := range perAgent {
		if conf < threshold+0.2 {
			weakest = append(weakest, weak{id, conf})
		}
	}
	sort.Slice(weakest, func(i, j int) bool {
		if weakest[i].conf != weakest[j].conf {
			return weakest[i].conf < weakest[j].conf
		}
		return weakest[i].id < weakest[j].id
	})

	var replacements []string
	for _, w := range weakest {
		current, ok := roster[w.id]
		if !ok {
			continue
		}
		if sub := bestSubstitute(current, plan, roster); sub != "" {
			replacements = append(replacements, sub)
		}
	}

	return ConfidenceDecision{
		Accept:       len(replacements) > 0,
		Replacements: replacements,
	}
}

// bestSubstitute finds the highest-success-rate agent sharing at least
// one capability with current that is not already in the plan.
func bestSubstitute(current types.AgentCapability, plan *types.OrchestrationPlan,
	roster map[string]types.AgentCapability) string {

	best := ""
	bestRate := current.SuccessRate
	ids := make([]string, 0, len(roster))
	for id := range roster {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cand := roster[id]
		if id == current.ID || plan.Contains(id) {
			continue
		}
		if cand.SuccessRate <= bestRate {
			continue
		}
		for _, cap := range current.Capabilities {
			if cand.HasCapability(cap) {
				best = id
				bestRate = cand.SuccessRate
				break
			}
		}
	}
	return best
}
