package registry

import "maestro/internal/types"

// builtinAgents is the seed roster used when no cache exists. Token and
// duration figures are conservative first estimates; real numbers take
// over as feedback arrives.
func builtinAgents() []types.AgentCapability {
	return []types.AgentCapability{
		{
			ID:             "the_scribe",
			Specialization: "creative_writing",
			Capabilities:   []string{"creative_writing", "copywriting", "storytelling"},
			Tools:          []string{"editor"},
			UseCases:       []string{"poems", "stories", "naming", "marketing copy"},
			AvgTokens:      4000,
			AvgDurationMs:  20000,
			SuccessRate:    0.5,
		},
		{
			ID:             "the_sentinel",
			Specialization: "devops",
			Capabilities:   []string{"devops", "deployment", "infrastructure", "ci_cd"},
			Tools:          []string{"shell", "cloud_api", "container_runtime"},
			UseCases:       []string{"cluster setup", "deploy pipelines", "provisioning"},
			MandatoryFor:   []types.Domain{types.DomainInfrastructure},
			AvgTokens:      12000,
			AvgDurationMs:  90000,
			SuccessRate:    0.5,
		},
		{
			ID:             "cinna",
			Specialization: "design",
			Capabilities:   []string{"design", "ui", "ux", "visualization"},
			Tools:          []string{"editor", "browser"},
			UseCases:       []string{"dashboards", "component design", "wireframes"},
			AvgTokens:      9000,
			AvgDurationMs:  60000,
			SuccessRate:    0.5,
		},
		{
			ID:             "the_architect",
			Specialization: "architecture",
			Capabilities:   []string{"architecture", "design", "planning"},
			Tools:          []string{"editor"},
			UseCases:       []string{"system design", "module layout", "ADRs"},
			AvgTokens:      10000,
			AvgDurationMs:  60000,
			SuccessRate:    0.5,
		},
		{
			ID:             "forgemaster",
			Specialization: "implementation",
			Capabilities:   []string{"implementation", "coding", "refactoring", "debugging"},
			Tools:          []string{"editor", "shell"},
			UseCases:       []string{"feature implementation", "bug fixes", "refactors"},
			AvgTokens:      15000,
			AvgDurationMs:  120000,
			SuccessRate:    0.5,
		},
		{
			ID:             "the_examiner",
			Specialization: "verification",
			Capabilities:   []string{"testing", "verification", "qa"},
			Tools:          []string{"shell", "test_runner"},
			UseCases:       []string{"test authoring", "regression checks", "validation"},
			AvgTokens:      8000,
			AvgDurationMs:  60000,
			SuccessRate:    0.5,
		},
		{
			ID:             "the_archivist",
			Specialization: "documentation",
			Capabilities:   []string{"documentation", "writing"},
			Tools:          []string{"editor"},
			UseCases:       []string{"READMEs", "API docs", "guides"},
			AvgTokens:      6000,
			AvgDurationMs:  40000,
			SuccessRate:    0.5,
		},
		{
			ID:             "warden",
			Specialization: "security",
			Capabilities:   []string{"security", "audit", "hardening"},
			Tools:          []string{"scanner", "shell"},
			UseCases:       []string{"vulnerability review", "dependency audit"},
			MandatoryFor:   []types.Domain{types.DomainSecurity},
			AvgTokens:      10000,
			AvgDurationMs:  80000,
			SuccessRate:    0.5,
		},
		{
			ID:             "the_analyst",
			Specialization: "research",
			Capabilities:   []string{"research", "investigation", "analysis"},
			Tools:          []string{"search", "editor"},
			UseCases:       []string{"root-cause analysis", "feasibility studies"},
			AvgTokens:      7000,
			AvgDurationMs:  50000,
			SuccessRate:    0.5,
		},
		{
			ID:             "datasmith",
			Specialization: "data",
			Capabilities:   []string{"data", "sql", "etl", "analytics"},
			Tools:          []string{"database", "shell"},
			UseCases:       []string{"schema design", "pipelines", "queries"},
			AvgTokens:      9000,
			AvgDurationMs:  70000,
			SuccessRate:    0.5,
		},
		{
			ID:             "the_clarifier",
			Specialization: "requirements",
			Capabilities:   []string{"requirements", "clarification"},
			Tools:          []string{"editor"},
			UseCases:       []string{"requirements gathering for vague requests"},
			AvgTokens:      2000,
			AvgDurationMs:  15000,
			SuccessRate:    0.5,
		},
		{
			ID:             "stabilizer",
			Specialization: "recovery",
			Capabilities:   []string{"retry", "recovery", "stabilization"},
			Tools:          []string{"shell"},
			UseCases:       []string{"pre-flight checks and retry-with-backoff wrapping"},
			AvgTokens:      1500,
			AvgDurationMs:  10000,
			SuccessRate:    0.5,
		},
	}
}
