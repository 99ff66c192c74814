package planner

import (
	"maestro/internal/types"
)

// template is one canonical plan shape. Steps are in execution order;
// dependsOnPrev chains each step to the one before it.
type template struct {
	name            string
	strategy        types.Strategy
	steps           []templateStep
	successCriteria []string
}

type templateStep struct {
	agentID       string
	task          string
	priority      types.Priority
	dependsOnPrev bool
}

// templates is the canonical plan library. Selection is by intent and
// domain; feature_implementation doubles as the general fallback.
var templates = map[string]template{
	"creative": {
		name:     "creative",
		strategy: types.StrategySequential,
		steps: []templateStep{
			{"the_scribe", "Produce the requested piece in the asked-for form and voice", types.PriorityCritical, false},
		},
		successCriteria: []string{"the piece matches the requested form, subject, and tone"},
	},
	"scaffold": {
		name:     "scaffold",
		strategy: types.StrategyPhased,
		steps: []templateStep{
			{"the_architect", "Design the project structure and module boundaries", types.PriorityCritical, false},
			{"forgemaster", "Create the scaffold: directories, build files, entry points", types.PriorityHigh, true},
			{"the_examiner", "Verify the scaffold builds and the smoke tests pass", types.PriorityMedium, true},
		},
		successCriteria: []string{
			"project builds cleanly",
			"smoke tests pass",
			"structure matches the agreed design",
		},
	},
	"fix_tests": {
		name:     "fix_tests",
		strategy: types.StrategySequential,
		steps: []templateStep{
			{"the_examiner", "Run the test suite and isolate the failing cases", types.PriorityCritical, false},
			{"forgemaster", "Fix the root causes of the failing tests", types.PriorityHigh, true},
		},
		successCriteria: []string{"full test suite passes"},
	},
	"security_fix": {
		name:     "security_fix",
		strategy: types.StrategySequential,
		steps: []templateStep{
			{"warden", "Assess the vulnerability and its blast radius", types.PriorityCritical, false},
			{"forgemaster", "Apply the fix without regressing existing behavior", types.PriorityHigh, true},
			{"the_examiner", "Verify the fix and add a regression test", types.PriorityHigh, true},
		},
		successCriteria: []string{
			"vulnerability no longer reproducible",
			"regression test in place",
		},
	},
	"deployment": {
		name:     "deployment",
		strategy: types.StrategySequential,
		steps: []templateStep{
			{"the_examiner", "Run pre-deployment verification", types.PriorityHigh, false},
			{"the_sentinel", "Execute the deployment with rollback ready", types.PriorityCritical, true},
		},
		successCriteria: []string{
			"deployment healthy in target environment",
			"rollback path verified",
		},
	},
	"feature_implementation": {
		name:     "feature_implementation",
		strategy: types.StrategyPhased,
		steps: []templateStep{
			{"the_architect", "Design the feature and its integration points", types.PriorityHigh, false},
			{"forgemaster", "Implement the feature", types.PriorityCritical, true},
			{"the_examiner", "Test the feature including edge cases", types.PriorityHigh, true},
			{"the_archivist", "Document the feature and its usage", types.PriorityLow, true},
		},
		successCriteria: []string{
			"feature works as specified",
			"tests cover the new behavior",
			"documentation updated",
		},
	},
	"bug_fix": {
		name:     "bug_fix",
		strategy: types.StrategySequential,
		steps: []templateStep{
			{"the_analyst", "Reproduce the bug and find the root cause", types.PriorityCritical, false},
			{"forgemaster", "Fix the root cause", types.PriorityHigh, true},
			{"the_examiner", "Verify the fix and add a regression test", types.PriorityMedium, true},
		},
		successCriteria: []string{
			"bug no longer reproducible",
			"regression test in place",
		},
	},
}

// selectTemplate picks the canonical shape for an analysis. Creative
// work is a single writer; a verification gate has nothing to verify.
func selectTemplate(a *types.ObjectiveAnalysis) template {
	switch {
	case a.Domain == types.DomainCreative:
		return templates["creative"]
	case a.Intent == types.IntentDeploy || a.Domain == types.DomainInfrastructure:
		return templates["deployment"]
	case a.Domain == types.DomainSecurity:
		return templates["security_fix"]
	case a.Intent == types.IntentFixIssue && a.Domain == types.DomainTesting:
		return templates["fix_tests"]
	case a.Intent == types.IntentFixIssue || a.Intent == types.IntentInvestigate:
		return templates["bug_fix"]
	case a.Intent == types.IntentCreateNew && a.Complexity == types.ComplexitySimple:
		return templates["scaffold"]
	default:
		return templates["feature_implementation"]
	}
}

// requiredCapabilities derives the capability tags a plan for this
// analysis needs covered, keyed by domain with intent refinements.
func requiredCapabilities(a *types.ObjectiveAnalysis) []string {
	byDomain := map[types.Domain][]string{
		types.DomainCreative:       {"creative_writing"},
		types.DomainSecurity:       {"security"},
		types.DomainInfrastructure: {"deployment", "infrastructure"},
		types.DomainTesting:        {"testing"},
		types.DomainUIUX:           {"design", "ui"},
		types.DomainData:           {"data"},
		types.DomainDocumentation:  {"documentation"},
		types.DomainResearch:       {"research"},
		types.DomainArchitecture:   {"architecture"},
		types.DomainCode:           {"implementation"},
	}
	tags := append([]string(nil), byDomain[a.Domain]...)
	switch a.Intent {
	case types.IntentValidate:
		tags = append(tags, "verification")
	case types.IntentFixIssue:
		tags = append(tags, "debugging")
	case types.IntentDocument:
		tags = append(tags, "documentation")
	}
	return tags
}

// instantiate builds plan agents from a template, wiring sequential
// dependencies. The initial list is the union of the template steps,
// the recommended domain specialists, and the agents whose declared
// capabilities best cover the analysis.
func instantiate(tpl template, a *types.ObjectiveAnalysis, capabilityMatches []string) []types.AgentSpec {
	agents := make([]types.AgentSpec, 0, len(tpl.steps))
	prev := ""
	for _, step := range tpl.steps {
		spec := types.AgentSpec{
			AgentID:         step.agentID,
			TaskDescription: step.task,
			Priority:        step.priority,
		}
		if step.dependsOnPrev && prev != "" {
			spec.Dependencies = []string{prev}
		}
		agents = append(agents, spec)
		prev = step.agentID
	}

	present := func(id string) bool {
		for _, ag := range agents {
			if ag.AgentID == id {
				return true
			}
		}
		return false
	}

	// Recommended specialists and the top capability-coverage agent come
	// along as additional medium-priority workers. Lesser capability
	// matches only join when they are genuine domain specialists.
	capTop := ""
	if len(capabilityMatches) > 0 {
		capTop = capabilityMatches[0]
	}
	union := append(append([]string(nil), a.RecommendedAgents...), capabilityMatches...)
	for _, id := range union {
		if present(id) {
			continue
		}
		if id != capTop && !isSpecialist(id, a.Domain) {
			continue
		}
		agents = append(agents, types.AgentSpec{
			AgentID:         id,
			TaskDescription: "Contribute " + string(a.Domain) + " expertise to the objective",
			Priority:        types.PriorityMedium,
		})
	}
	return agents
}

// isSpecialist limits template augmentation to agents that actually
// match the domain, keeping plans small.
func isSpecialist(agentID string, d types.Domain) bool {
	switch d {
	case types.DomainCreative:
		return agentID == "the_scribe"
	case types.DomainUIUX:
		return agentID == "cinna"
	case types.DomainData:
		return agentID == "datasmith"
	case types.DomainDocumentation:
		return agentID == "the_archivist"
	case types.DomainResearch:
		return agentID == "the_analyst"
	}
	return false
}
