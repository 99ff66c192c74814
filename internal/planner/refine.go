package planner

import (
	"fmt"

	"maestro/internal/failure"
	"maestro/internal/logging"
	"maestro/internal/types"
)

// Refine rewrites a plan after a failure: a stabilizer runs before the
// failed agent to pre-check its environment and wrap it with retries,
// the failed agent's priority is raised, and the rationale records what
// is being avoided. Non-recoverable failures return an unmodified copy
// with a warning instead.
func Refine(plan *types.OrchestrationPlan, fc *types.FailureContext) *types.OrchestrationPlan {
	out := clonePlan(plan)

	if fc == nil || fc.FailedAgent == "" || !out.Contains(fc.FailedAgent) {
		out.Warnings = append(out.Warnings, "refinement skipped: failure did not name an agent in this plan")
		return out
	}
	if !fc.IsRecoverable {
		out.Warnings = append(out.Warnings,
			fmt.Sprintf("failure of %s (%s) needs manual intervention; plan unchanged", fc.FailedAgent, fc.ErrorCategory))
		return out
	}

	if out.Contains("stabilizer") {
		out.Warnings = append(out.Warnings, "already stabilized; escalate to manual review if the failure repeats")
		return out
	}

	idx := -1
	for i, a := range out.Agents {
		if a.AgentID == fc.FailedAgent {
			idx = i
			break
		}
	}

	stabilizer := types.AgentSpec{
		AgentID: "stabilizer",
		TaskDescription: fmt.Sprintf("Pre-flight checks for %s: verify the %s failure is cleared, then gate execution with retry and backoff",
			fc.FailedAgent, fc.ErrorCategory),
		Priority:     types.PriorityCritical,
		Dependencies: append([]string(nil), out.Agents[idx].Dependencies...),
	}
	stabilizer.Prompt = buildPrompt("stabilizer", stabilizer.TaskDescription, fc.Objective, nil, stabilizer.Dependencies)

	// failed agent now waits on the stabilizer and runs more urgently
	out.Agents[idx].Dependencies = []string{"stabilizer"}
	out.Agents[idx].Priority = raise(out.Agents[idx].Priority)

	out.Agents = append(out.Agents[:idx:idx], append([]types.AgentSpec{stabilizer}, out.Agents[idx:]...)...)

	rule := fc.LearnedAvoidanceRule
	if rule == "" {
		rule = "retry with pre-flight checks"
	}
	out.Rationale = fmt.Sprintf("Refined after %s failure of %s: %s. %s",
		fc.ErrorCategory, fc.FailedAgent, rule, out.Rationale)
	for _, fix := range failure.SuggestedFixes(fc) {
		out.Warnings = append(out.Warnings, "suggested: "+fix)
	}

	logging.Planner("refined plan: stabilizer inserted before %s (%s)", fc.FailedAgent, fc.ErrorCategory)
	return out
}

// raise bumps a priority one step toward critical.
func raise(p types.Priority) types.Priority {
	switch p {
	case types.PriorityLow:
		return types.PriorityMedium
	case types.PriorityMedium:
		return types.PriorityHigh
	default:
		return types.PriorityCritical
	}
}

func clonePlan(p *types.OrchestrationPlan) *types.OrchestrationPlan {
	out := *p
	out.Agents = make([]types.AgentSpec, len(p.Agents))
	for i, a := range p.Agents {
		out.Agents[i] = a
		out.Agents[i].Dependencies = append([]string(nil), a.Dependencies...)
	}
	out.Phases = append([]types.Phase(nil), p.Phases...)
	out.SuccessCriteria = append([]string(nil), p.SuccessCriteria...)
	out.Warnings = append([]string(nil), p.Warnings...)
	return &out
}
