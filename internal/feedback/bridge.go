package feedback

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"maestro/internal/config"
	"maestro/internal/knowledge"
	"maestro/internal/logging"
	"maestro/internal/memory"
	"maestro/internal/types"
)

const defaultValueThreshold = 0.6

// Bridge decides which execution patterns are worth keeping in the
// external knowledge graph and ships them there, subject to the active
// learning scope.
type Bridge struct {
	store     knowledge.Store
	memory    *memory.PatternMemory
	threshold float64

	scopeLevel  string // user, project, org, global
	sensitivity string // public, internal, confidential, restricted
	canShare    bool
}

func NewBridge(store knowledge.Store, mem *memory.PatternMemory, cfg config.LearningConfig) *Bridge {
	threshold := cfg.ValueThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = defaultValueThreshold
	}
	return &Bridge{
		store:       store,
		memory:      mem,
		threshold:   threshold,
		scopeLevel:  cfg.ScopeLevel,
		sensitivity: cfg.Sensitivity,
		canShare:    cfg.CanShare,
	}
}

// Persist evaluates the pattern's value and, when it clears the
// threshold and the scope permits, writes it to the knowledge store.
// Synthetic patterns never leave the process.
func (b *Bridge) Persist(ctx context.Context, p *types.ExecutionPattern) error {
	if b == nil || b.store == nil || p.Synthetic {
		return nil
	}
	if b.sensitivity == "restricted" {
		return nil
	}
	if (b.scopeLevel == "org" || b.scopeLevel == "global") && !b.canShare {
		return nil
	}

	score := b.valueScore(p)
	if score <= b.threshold {
		logging.FeedbackDebug("pattern %s below value threshold (%.2f <= %.2f), not persisted", p.ID, score, b.threshold)
		return nil
	}

	objective := p.Objective
	if b.sensitivity == "" || b.sensitivity == "internal" || b.sensitivity == "confidential" {
		objective = memory.AnonymizeObjective(objective)
	}

	entities, relations := patternGraph(p, objective)
	if err := b.store.CreateEntities(ctx, entities); err != nil {
		return fmt.Errorf("persist entities for %s: %w", p.ID, err)
	}
	if err := b.store.CreateRelations(ctx, relations); err != nil {
		return fmt.Errorf("persist relations for %s: %w", p.ID, err)
	}
	logging.Feedback("persisted pattern %s to knowledge store (value %.2f)", p.ID, score)
	return nil
}

// valueScore is a fixed heuristic over success, novelty, and project
// relevance. Range [0,1].
func (b *Bridge) valueScore(p *types.ExecutionPattern) float64 {
	score := 0.0
	if p.Success {
		score += 0.45
	}
	if p.Verified {
		score += 0.10
	}

	// Novelty: how far the pattern sits from what the memory already
	// holds. A near-duplicate of an existing pattern teaches nothing.
	novelty := 1.0
	if b.memory != nil {
		analysis := types.ObjectiveAnalysis{
			Intent:     p.ObjectiveType,
			Domain:     p.Domain,
			TaskType:   p.TaskType,
			Complexity: p.Complexity,
		}
		query := memory.QueryVector(p.Objective, &analysis, p.ProjectContext)
		for _, m := range b.memory.FindSimilar(query, 3) {
			if m.Pattern.ID == p.ID {
				continue
			}
			if 1.0-m.Similarity < novelty {
				novelty = 1.0 - m.Similarity
			}
		}
	}
	score += 0.30 * novelty

	if p.ProjectContext.ProjectID != "" {
		score += 0.15
	}
	return score
}

// patternGraph renders one pattern as knowledge-graph entities and
// relations.
func patternGraph(p *types.ExecutionPattern, objective string) ([]knowledge.Entity, []knowledge.Relation) {
	outcome := "failure"
	if p.Success {
		outcome = "success"
	}
	patternName := "pattern:" + p.ID

	entities := []knowledge.Entity{{
		Name:       patternName,
		EntityType: "execution_pattern",
		Observations: []string{
			"objective: " + objective,
			"outcome: " + outcome,
			fmt.Sprintf("domain: %s", p.Domain),
			fmt.Sprintf("intent: %s", p.ObjectiveType),
			"agents: " + strings.Join(p.AgentsUsed, ", "),
			fmt.Sprintf("tokens: %d", p.TotalTokens),
		},
	}}

	var relations []knowledge.Relation
	for _, agent := range p.AgentsUsed {
		entities = append(entities, knowledge.Entity{
			Name:       "agent:" + agent,
			EntityType: "agent",
		})
		relations = append(relations, knowledge.Relation{
			From:         patternName,
			To:           "agent:" + agent,
			RelationType: "used_agent",
		})
	}
	if p.FailedAgent != "" {
		relations = append(relations, knowledge.Relation{
			From:         patternName,
			To:           "agent:" + p.FailedAgent,
			RelationType: "failed_with",
		})
	}
	return entities, relations
}

// PatternFromEntity reverses patternGraph's encoding for entities a
// knowledge-store search returns. Entities of other types, and pattern
// entities with nothing usable in them, report ok=false.
func PatternFromEntity(e knowledge.Entity) (types.ExecutionPattern, bool) {
	if e.EntityType != "execution_pattern" {
		return types.ExecutionPattern{}, false
	}
	p := types.ExecutionPattern{ID: strings.TrimPrefix(e.Name, "pattern:")}
	for _, obs := range e.Observations {
		key, val, ok := strings.Cut(obs, ": ")
		if !ok {
			continue
		}
		switch key {
		case "objective":
			p.Objective = val
		case "outcome":
			p.Success = val == "success"
		case "domain":
			p.Domain = types.Domain(val)
		case "intent":
			p.ObjectiveType = types.Intent(val)
		case "agents":
			for _, a := range strings.Split(val, ",") {
				if a = strings.TrimSpace(a); a != "" {
					p.AgentsUsed = append(p.AgentsUsed, a)
				}
			}
		case "tokens":
			if n, err := strconv.Atoi(val); err == nil {
				p.TotalTokens = n
			}
		}
	}
	return p, p.Objective != "" || len(p.AgentsUsed) > 0
}
