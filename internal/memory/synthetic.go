package memory

import (
	"fmt"
	"math/rand"
	"time"

	"maestro/internal/types"
)

// syntheticSeed keeps bootstrap generation deterministic so two fresh
// installs start from identical priors.
const syntheticSeed = 42

// seedTemplate is one canonical execution shape used to bootstrap an
// empty pattern store.
type seedTemplate struct {
	objective   string
	intent      types.Intent
	domain      types.Domain
	taskType    types.TaskType
	complexity  types.Complexity
	agents      []string
	successRate float64
	baseTokens  int
	baseMs      int64
	tags        []string
}

var seedTemplates = []seedTemplate{
	{
		objective:   "scaffold a new service with project structure and build tooling",
		intent:      types.IntentCreateNew,
		domain:      types.DomainCode,
		taskType:    types.TaskTechnical,
		complexity:  types.ComplexityModerate,
		agents:      []string{"the_architect", "forgemaster", "the_examiner"},
		successRate: 0.85,
		baseTokens:  28000,
		baseMs:      220000,
		tags:        []string{"scaffold"},
	},
	{
		objective:   "fix the failing test suite and restore a green build",
		intent:      types.IntentFixIssue,
		domain:      types.DomainTesting,
		taskType:    types.TaskTechnical,
		complexity:  types.ComplexitySimple,
		agents:      []string{"the_examiner", "forgemaster"},
		successRate: 0.80,
		baseTokens:  16000,
		baseMs:      110000,
		tags:        []string{"fix_tests"},
	},
	{
		objective:   "patch the reported vulnerability and audit adjacent code paths",
		intent:      types.IntentFixIssue,
		domain:      types.DomainSecurity,
		taskType:    types.TaskTechnical,
		complexity:  types.ComplexityModerate,
		agents:      []string{"warden", "forgemaster", "the_examiner"},
		successRate: 0.75,
		baseTokens:  24000,
		baseMs:      190000,
		tags:        []string{"security_fix"},
	},
	{
		objective:   "deploy the service to the staging environment with rollback in place",
		intent:      types.IntentDeploy,
		domain:      types.DomainInfrastructure,
		taskType:    types.TaskOperational,
		complexity:  types.ComplexityModerate,
		agents:      []string{"the_sentinel", "the_examiner"},
		successRate: 0.70,
		baseTokens:  18000,
		baseMs:      160000,
		tags:        []string{"deployment"},
	},
	{
		objective:   "implement the requested feature end to end with tests and docs",
		intent:      types.IntentCreateNew,
		domain:      types.DomainCode,
		taskType:    types.TaskTechnical,
		complexity:  types.ComplexityComplex,
		agents:      []string{"the_architect", "forgemaster", "the_examiner", "the_archivist"},
		successRate: 0.72,
		baseTokens:  40000,
		baseMs:      320000,
		tags:        []string{"feature_implementation"},
	},
	{
		objective:   "diagnose and fix the reported production bug",
		intent:      types.IntentFixIssue,
		domain:      types.DomainCode,
		taskType:    types.TaskAnalytical,
		complexity:  types.ComplexityModerate,
		agents:      []string{"the_analyst", "forgemaster", "the_examiner"},
		successRate: 0.78,
		baseTokens:  21000,
		baseMs:      170000,
		tags:        []string{"bug_fix"},
	},
}

// SeedSynthetic records deterministic bootstrap patterns so similarity
// retrieval and the confidence engine have priors before any real
// execution exists. Patterns are flagged synthetic: they are never
// archived and never counted in aggregate stats. Returns the number of
// patterns recorded.
func SeedSynthetic(m *PatternMemory, perTemplate int) int {
	if perTemplate <= 0 {
		perTemplate = 17
	}
	rng := rand.New(rand.NewSource(syntheticSeed))
	now := time.Now()
	count := 0

	for ti, tpl := range seedTemplates {
		for i := 0; i < perTemplate; i++ {
			success := rng.Float64() < tpl.successRate
			jitter := 0.8 + rng.Float64()*0.4

			p := types.ExecutionPattern{
				ID:              fmt.Sprintf("synthetic-%d-%d", ti, i),
				Timestamp:       now.Add(-time.Duration(rng.Intn(6*24)) * time.Hour),
				Objective:       tpl.objective,
				ObjectiveType:   tpl.intent,
				Domain:          tpl.domain,
				TaskType:        tpl.taskType,
				Complexity:      tpl.complexity,
				AgentsUsed:      append([]string(nil), tpl.agents...),
				ExecutionOrder:  append([]string(nil), tpl.agents...),
				Success:         success,
				TotalTokens:     int(float64(tpl.baseTokens) * jitter),
				TotalDurationMs: int64(float64(tpl.baseMs) * jitter),
				Tags:            append([]string(nil), tpl.tags...),
				Synthetic:       true,
			}
			if !success {
				p.FailedAgent = tpl.agents[rng.Intn(len(tpl.agents))]
				p.FailureReason = "synthetic bootstrap failure"
			}
			m.Record(p)
			count++
		}
	}
	return count
}
