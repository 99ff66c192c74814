package validate

import (
	"fmt"
	"sort"

	"maestro/internal/types"
)

// ApplyConstraints adjusts a plan in place to satisfy the caller's
// constraints, dropping lowest-priority agents first. Returns the
// adjustment warnings, or an error when no adjustment can satisfy the
// constraints.
//
// mandatory agents are never dropped; estTokensPerAgent estimates the
// token cost of each agent (falling back to fallbackTokens when an agent
// has no history).
func ApplyConstraints(plan *types.OrchestrationPlan, c types.PlanConstraints,
	mandatory map[string]bool, estTokensPerAgent func(id string) float64) ([]string, error) {

	var warnings []string

	if c.MaxAgents > 0 && len(plan.Agents) > c.MaxAgents {
		dropped, err := dropLowestPriority(plan, len(plan.Agents)-c.MaxAgents, mandatory)
		if err != nil {
			return nil, fmt.Errorf("max_agents=%d unsatisfiable: %w", c.MaxAgents, err)
		}
		warnings = append(warnings, fmt.Sprintf("dropped %v to satisfy max_agents=%d", dropped, c.MaxAgents))
	}

	if c.MaxTokens > 0 {
		for estimateTokens(plan, estTokensPerAgent) > c.MaxTokens {
			dropped, err := dropLowestPriority(plan, 1, mandatory)
			if err != nil {
				return nil, fmt.Errorf("max_tokens=%d unsatisfiable: %w", c.MaxTokens, err)
			}
			warnings = append(warnings, fmt.Sprintf("dropped %v to satisfy max_tokens=%d", dropped, c.MaxTokens))
		}
	}

	if c.PreferParallel && plan.Strategy == types.StrategySequential && independentAgents(plan) {
		plan.Strategy = types.StrategyParallel
		warnings = append(warnings, "promoted to parallel execution per prefer_parallel")
	}

	plan.EstimatedTokens = estimateTokens(plan, estTokensPerAgent)
	return warnings, nil
}

// estimateTokens sums per-agent estimates plus a 10% coordination
// overhead.
func estimateTokens(plan *types.OrchestrationPlan, est func(id string) float64) int {
	var sum float64
	for _, a := range plan.Agents {
		sum += est(a.AgentID)
	}
	return int(sum * 1.10)
}

// dropLowestPriority removes n non-mandatory agents, lowest priority
// first, later plan position first within a priority. Dependencies on
// dropped agents are cleaned up.
func dropLowestPriority(plan *types.OrchestrationPlan, n int, mandatory map[string]bool) ([]string, error) {
	type cand struct {
		idx  int
		rank int
	}
	var cands []cand
	for i, a := range plan.Agents {
		if mandatory[a.AgentID] {
			continue
		}
		cands = append(cands, cand{idx: i, rank: types.PriorityRank(a.Priority)})
	}
	if len(cands) < n || len(plan.Agents)-n < 1 {
		return nil, fmt.Errorf("only %d droppable agents of %d needed", len(cands), n)
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].rank != cands[j].rank {
			return cands[i].rank > cands[j].rank // lowest priority first
		}
		return cands[i].idx > cands[j].idx
	})

	dropSet := make(map[string]bool, n)
	var dropped []string
	for _, c := range cands[:n] {
		id := plan.Agents[c.idx].AgentID
		dropSet[id] = true
		dropped = append(dropped, id)
	}

	kept := plan.Agents[:0]
	for _, a := range plan.Agents {
		if dropSet[a.AgentID] {
			continue
		}
		var deps []string
		for _, d := range a.Dependencies {
			if !dropSet[d] {
				deps = append(deps, d)
			}
		}
		a.Dependencies = deps
		kept = append(kept, a)
	}
	plan.Agents = kept

	// phases reference dropped agents too
	for pi := range plan.Phases {
		var agents []string
		for _, id := range plan.Phases[pi].Agents {
			if !dropSet[id] {
				agents = append(agents, id)
			}
		}
		plan.Phases[pi].Agents = agents
	}

	sort.Strings(dropped)
	return dropped, nil
}

func independentAgents(plan *types.OrchestrationPlan) bool {
	for _, a := range plan.Agents {
		if len(a.Dependencies) > 0 {
			return false
		}
	}
	return true
}
