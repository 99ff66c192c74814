// Package planner assembles orchestration plans: which agents run, in
// what order, with what prompts, and how confident we are that the plan
// will work. Planning is deterministic given the same memory, registry,
// and configuration state.
package planner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"maestro/internal/bayesian"
	"maestro/internal/bus"
	"maestro/internal/conflict"
	"maestro/internal/logging"
	"maestro/internal/memory"
	"maestro/internal/pareto"
	"maestro/internal/registry"
	"maestro/internal/semantic"
	"maestro/internal/temporal"
	"maestro/internal/types"
	"maestro/internal/validate"
)

// Sentinel errors the tool surface maps to its error envelope.
var (
	ErrSafetyViolation     = errors.New("objective violates safety policy")
	ErrConstraintViolation = errors.New("constraints cannot be satisfied")
	ErrLowConfidence       = errors.New("no plan meets the confidence threshold")
)

// Reuse gates: a past pattern is adopted wholesale only when it is this
// similar, its exact agent composition has succeeded at this rate among
// the retrieved matches, and it is younger than its domain's half-life.
const (
	reuseSimilarity  = 0.85
	reuseSuccessRate = 0.8
)

// retrievalLimit bounds how many similar patterns inform one plan.
const retrievalLimit = 8

// Request is one planning call. PastExecutions are patterns supplied by
// the host or fetched from the long-term knowledge store; they are
// merged into local retrieval before reuse matching.
type Request struct {
	Objective      string
	Context        types.ProjectContext
	Constraints    types.PlanConstraints
	PastExecutions []types.ExecutionPattern
}

// Result carries the plan plus the analysis that produced it.
type Result struct {
	Plan     *types.OrchestrationPlan `json:"plan"`
	Analysis types.ObjectiveAnalysis  `json:"analysis"`
	Matches  []memory.PatternMatch    `json:"-"`
}

// Planner wires the planning pipeline together.
type Planner struct {
	analyzer   *semantic.Analyzer
	registry   *registry.Registry
	memory     *memory.PatternMemory
	graph      *conflict.Graph
	detector   *conflict.Detector
	confidence *bayesian.Engine
	optimizer  *pareto.Optimizer
	events     *bus.Bus
}

func New(analyzer *semantic.Analyzer, reg *registry.Registry, mem *memory.PatternMemory,
	graph *conflict.Graph, confidence *bayesian.Engine, optimizer *pareto.Optimizer,
	events *bus.Bus) *Planner {
	return &Planner{
		analyzer:   analyzer,
		registry:   reg,
		memory:     mem,
		graph:      graph,
		detector:   conflict.NewDetector(graph),
		confidence: confidence,
		optimizer:  optimizer,
		events:     events,
	}
}

// Plan runs the full pipeline: safety gate, vagueness gate, semantic
// analysis, pattern retrieval with temporal weighting, reuse or template
// candidate generation, conflict-aware ordering, Pareto selection,
// constraint enforcement, and Bayesian confidence scoring.
func (p *Planner) Plan(ctx context.Context, req Request) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryPlanner, "plan")
	defer timer.Stop()

	if p.events != nil {
		p.events.Publish(bus.PlanStarted, map[string]interface{}{"objective": truncate(req.Objective, 120)})
	}

	// 1. Safety gate.
	safety := validate.CheckSafety(req.Objective)
	if safety.Blocked {
		logging.Get(logging.CategorySafety).Warn("blocked objective: %d threats", len(safety.Threats))
		return nil, fmt.Errorf("%w: %s", ErrSafetyViolation, safety.Threats[0].Description)
	}
	var warnings []string
	for _, th := range safety.Threats {
		warnings = append(warnings, fmt.Sprintf("safety: %s (%s)", th.Description, th.Level))
	}

	// 2. Vagueness gate short-circuits to a clarification plan.
	if validate.IsVague(req.Objective) {
		logging.Planner("objective too vague, routing to clarification")
		return p.clarificationResult(req.Objective), nil
	}

	// 3. Semantic analysis.
	analysis := p.analyzer.Analyze(req.Objective)

	// 4. Retrieval with temporal weighting, folding in any patterns the
	// host or the knowledge store supplied.
	query := memory.QueryVector(req.Objective, &analysis, req.Context)
	matches := p.memory.FindSimilar(query, retrievalLimit)
	matches = mergePast(matches, req.PastExecutions, query)
	now := time.Now()
	patterns := make([]types.ExecutionPattern, len(matches))
	sims := make([]float64, len(matches))
	for i, match := range matches {
		patterns[i] = match.Pattern
		sims[i] = match.Similarity
	}
	temporal.Enrich(patterns, now)

	// 5. Candidate plans. A qualifying reuse of a proven pattern is
	// authoritative; otherwise the canonical template and a trimmed
	// variant compete on the frontier.
	roster := p.registry.Snapshot()
	reuse := p.reuseCandidate(matches, patterns, &analysis, req.Objective, roster, now)
	var candidates []pareto.Candidate
	if reuse != nil {
		candidates = []pareto.Candidate{*reuse}
	} else {
		candidates = p.templateCandidates(&analysis, req.Objective, roster)
	}

	// 6. Conflict-aware ordering per candidate. A reused shape that turns
	// out unsafe falls back to the templates.
	candidates = p.viable(candidates, roster)
	if len(candidates) == 0 && reuse != nil {
		candidates = p.viable(p.templateCandidates(&analysis, req.Objective, roster), roster)
	}

	// 7. Pareto selection.
	ranked := p.optimizer.Rank(candidates)
	if len(ranked) == 0 {
		return nil, fmt.Errorf("%w: no viable candidates", ErrLowConfidence)
	}
	plan := ranked[0].Plan

	// 8. Mandatory domain agents join before constraints are applied, so
	// agent caps bind the final composition.
	mandatory := make(map[string]bool)
	for _, id := range p.registry.MandatoryFor(analysis.Domain) {
		mandatory[id] = true
		if !plan.Contains(id) {
			plan.Agents = append(plan.Agents, types.AgentSpec{
				AgentID:         id,
				TaskDescription: "Mandatory review for the " + string(analysis.Domain) + " domain",
				Priority:        types.PriorityHigh,
			})
		}
	}
	if reordered, changed := conflict.Reorder(plan.Agents); changed {
		plan.Agents = reordered
	}
	cWarnings, err := validate.ApplyConstraints(&plan, req.Constraints, mandatory, p.estTokens(roster))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConstraintViolation, err)
	}
	warnings = append(warnings, cWarnings...)

	// 9. Confidence. Pairwise compatibility only weighs in once a pair
	// has real history; the neutral prior would otherwise sink every
	// first-time pairing.
	compat := func(a, b string) float64 {
		if p.graph.Observations(a, b) >= 3 {
			return p.graph.Compatibility(a, b)
		}
		return 1.0
	}
	assessment := p.confidence.Score(bayesian.Evidence{
		AgentIDs:      plan.AgentIDs(),
		Agents:        roster,
		Patterns:      patterns,
		Similarities:  sims,
		Compatibility: compat,
		CorpusHealth:  temporal.CorpusHealth(patterns, now),
	})
	if !p.informedEstimate(plan.AgentIDs(), roster, len(patterns)) {
		// Nothing has run yet; a low joint here is just the uniform
		// prior compounding, not evidence against the plan. The semantic
		// margin is the only informative signal this early.
		warnings = append(warnings, "no execution history yet; confidence reflects priors only")
		if analysis.Confidence > assessment.Confidence {
			assessment.Confidence = analysis.Confidence
			assessment.Interval = [2]float64{
				math.Max(0, analysis.Confidence-assessment.Uncertainty),
				math.Min(1, analysis.Confidence+assessment.Uncertainty),
			}
		}
	} else if assessment.LowConfidence {
		decision := validate.ReviewConfidence(&plan, assessment.PerAgent, roster, bayesian.LowConfidenceThreshold)
		if !decision.Accept {
			return nil, fmt.Errorf("%w: joint confidence %.2f", ErrLowConfidence, assessment.Confidence)
		}
		p.applyReplacements(&plan, assessment.PerAgent, decision.Replacements)
		assessment = p.confidence.Score(bayesian.Evidence{
			AgentIDs:      plan.AgentIDs(),
			Agents:        roster,
			Patterns:      patterns,
			Similarities:  sims,
			Compatibility: compat,
			CorpusHealth:  temporal.CorpusHealth(patterns, now),
		})
		warnings = append(warnings, "low-confidence agents replaced with stronger substitutes")
	}

	plan.Confidence = assessment.Confidence
	plan.ConfidenceInterval = assessment.Interval
	plan.Uncertainty = assessment.Uncertainty
	plan.Warnings = append(plan.Warnings, append(warnings, assessment.Warnings...)...)
	p.finalize(&plan, &analysis, req.Objective, roster)

	logging.Planner("planned %d agents strategy=%s confidence=%.2f", len(plan.Agents), plan.Strategy, plan.Confidence)
	return &Result{Plan: &plan, Analysis: analysis, Matches: matches}, nil
}

// viable drops candidates the detector deems unsafe and reorders the
// rest to satisfy the ordering rules.
func (p *Planner) viable(candidates []pareto.Candidate, roster map[string]types.AgentCapability) []pareto.Candidate {
	out := candidates[:0]
	for i := range candidates {
		plan := &candidates[i].Plan
		report := p.detector.Analyze(plan, roster)
		if !report.Safe {
			logging.PlannerDebug("candidate %s dropped: risk %.2f", candidates[i].ID, report.RiskScore)
			continue
		}
		if reordered, changed := conflict.Reorder(plan.Agents); changed {
			plan.Agents = reordered
		}
		for _, c := range report.Conflicts {
			if c.Resolution != "" && c.Type != conflict.ConflictOrdering {
				plan.Warnings = append(plan.Warnings, fmt.Sprintf("conflict %s/%s: %s", c.AgentA, c.AgentB, c.Resolution))
			}
		}
		out = append(out, candidates[i])
	}
	return out
}

// mergePast folds supplied patterns into the retrieval set, scored with
// the same similarity floor and success weighting the memory applies.
func mergePast(matches []memory.PatternMatch, past []types.ExecutionPattern, query []float32) []memory.PatternMatch {
	if len(past) == 0 {
		return matches
	}
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		if m.Pattern.ID != "" {
			seen[m.Pattern.ID] = true
		}
	}
	for i := range past {
		pat := past[i]
		if pat.ID != "" && seen[pat.ID] {
			continue
		}
		sim := memory.CosineSimilarity(query, memory.FeatureVector(&pat))
		if !pat.Success {
			sim *= 0.5
		}
		if sim < memory.MinSimilarity {
			continue
		}
		matches = append(matches, memory.PatternMatch{Pattern: pat, Similarity: sim})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Pattern.ID < matches[j].Pattern.ID
	})
	if len(matches) > retrievalLimit {
		matches = matches[:retrievalLimit]
	}
	return matches
}

// informedEstimate reports whether the confidence estimate rests on real
// observations rather than priors alone.
func (p *Planner) informedEstimate(agentIDs []string, roster map[string]types.AgentCapability, patternCount int) bool {
	if patternCount >= 3 {
		return true
	}
	for _, id := range agentIDs {
		if agent, ok := roster[id]; ok && agent.Total >= 5 {
			return true
		}
	}
	return false
}

// reuseCandidate adopts a past execution outright when it is similar
// enough, succeeded, its composition has a strong prior success rate
// among the retrieved matches, and it is younger than its domain's
// half-life.
func (p *Planner) reuseCandidate(matches []memory.PatternMatch, enriched []types.ExecutionPattern,
	a *types.ObjectiveAnalysis, objective string, roster map[string]types.AgentCapability, now time.Time) *pareto.Candidate {

	for i, match := range matches {
		pat := &enriched[i]
		if match.Similarity < reuseSimilarity || !pat.Success {
			continue
		}
		if now.Sub(pat.Timestamp) > temporal.HalfLife(pat.Domain) {
			continue
		}
		known := true
		for _, id := range pat.AgentsUsed {
			if _, ok := roster[id]; !ok {
				known = false
				break
			}
		}
		if !known || shapeSuccessRate(matches, pat.AgentsUsed) < reuseSuccessRate {
			continue
		}

		plan := types.OrchestrationPlan{
			Strategy: types.StrategySequential,
			Rationale: fmt.Sprintf("Reusing proven pattern: %q succeeded %.0f days ago with %.0f%% similarity.",
				truncate(pat.Objective, 80), now.Sub(pat.Timestamp).Hours()/24, match.Similarity*100),
		}
		prev := ""
		for _, id := range orderOf(pat) {
			spec := types.AgentSpec{
				AgentID:         id,
				TaskDescription: "Repeat your role from the prior successful run, adapted to the new objective",
				Priority:        types.PriorityHigh,
			}
			if prev != "" {
				spec.Dependencies = []string{prev}
			}
			plan.Agents = append(plan.Agents, spec)
			prev = id
		}
		p.fillPrompts(&plan, a, objective)

		return &pareto.Candidate{
			ID:   "reuse:" + pat.ID,
			Plan: plan,
			Obj: pareto.Objectives{
				Success:    match.Similarity, // proven shape, scored by closeness
				Tokens:     float64(pat.TotalTokens),
				DurationMs: float64(pat.TotalDurationMs),
			},
		}
	}
	return nil
}

func orderOf(p *types.ExecutionPattern) []string {
	if len(p.ExecutionOrder) > 0 {
		return p.ExecutionOrder
	}
	return p.AgentsUsed
}

// shapeSuccessRate is the historical success rate of an exact agent
// composition across the retrieved matches. A single fresh success
// counts in full; the cold-start default rates carry no weight here.
func shapeSuccessRate(matches []memory.PatternMatch, agents []string) float64 {
	key := shapeKey(agents)
	succ, total := 0, 0
	for _, m := range matches {
		if shapeKey(m.Pattern.AgentsUsed) != key {
			continue
		}
		total++
		if m.Pattern.Success {
			succ++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(succ) / float64(total)
}

func shapeKey(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}

// templateCandidates builds the canonical plan and a trimmed variant
// that drops the lowest-priority step, giving the optimizer a cheaper
// point on the frontier.
func (p *Planner) templateCandidates(a *types.ObjectiveAnalysis, objective string,
	roster map[string]types.AgentCapability) []pareto.Candidate {

	tpl := selectTemplate(a)
	selected := p.registry.SelectByCapabilities(requiredCapabilities(a))
	full := types.OrchestrationPlan{
		Strategy:        tpl.strategy,
		SuccessCriteria: append([]string(nil), tpl.successCriteria...),
		Agents:          instantiate(tpl, a, selected),
	}
	p.fillPrompts(&full, a, objective)
	cands := []pareto.Candidate{p.asCandidate("template:"+tpl.name, full, roster)}

	if len(full.Agents) > 2 {
		trimmed := full
		trimmed.Agents = append([]types.AgentSpec(nil), full.Agents...)
		worst, rank := -1, -1
		for i, ag := range trimmed.Agents {
			if r := types.PriorityRank(ag.Priority); r > rank {
				worst, rank = i, r
			}
		}
		if worst >= 0 && rank >= types.PriorityRank(types.PriorityMedium) {
			dropID := trimmed.Agents[worst].AgentID
			trimmed.Agents = append(trimmed.Agents[:worst:worst], trimmed.Agents[worst+1:]...)
			for i := range trimmed.Agents {
				var deps []string
				for _, d := range trimmed.Agents[i].Dependencies {
					if d != dropID {
						deps = append(deps, d)
					}
				}
				trimmed.Agents[i].Dependencies = deps
			}
			cands = append(cands, p.asCandidate("template:"+tpl.name+":trimmed", trimmed, roster))
		}
	}
	return cands
}

// asCandidate scores a plan's objectives from roster statistics.
func (p *Planner) asCandidate(id string, plan types.OrchestrationPlan,
	roster map[string]types.AgentCapability) pareto.Candidate {

	success := 1.0
	var tokens, durMs float64
	for _, ag := range plan.Agents {
		if agent, ok := roster[ag.AgentID]; ok {
			if agent.SuccessRate > 0 {
				success *= agent.SuccessRate
			} else {
				success *= 0.5
			}
			tokens += agent.AvgTokens
			durMs += agent.AvgDurationMs
		} else {
			success *= 0.5
		}
	}
	return pareto.Candidate{
		ID:   id,
		Plan: plan,
		Obj:  pareto.Objectives{Success: success, Tokens: tokens, DurationMs: durMs},
	}
}

func (p *Planner) estTokens(roster map[string]types.AgentCapability) func(id string) float64 {
	cheapest := p.registry.CheapestAvgTokens()
	if cheapest == 0 {
		cheapest = 5000
	}
	return func(id string) float64 {
		if agent, ok := roster[id]; ok && agent.AvgTokens > 0 {
			return agent.AvgTokens
		}
		return cheapest
	}
}

func (p *Planner) fillPrompts(plan *types.OrchestrationPlan, a *types.ObjectiveAnalysis, objective string) {
	for i := range plan.Agents {
		ag := &plan.Agents[i]
		if ag.Prompt == "" {
			ag.Prompt = buildPrompt(ag.AgentID, ag.TaskDescription, objective, a, ag.Dependencies)
		}
	}
}

// applyReplacements swaps each weak agent for its substitute, weakest
// first, keeping task, prompt slot, and dependencies intact.
func (p *Planner) applyReplacements(plan *types.OrchestrationPlan, perAgent map[string]float64, subs []string) {
	type weak struct {
		id   string
		conf float64
	}
	var order []weak
	for id, conf := range perAgent {
		order = append(order, weak{id, conf})
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].conf != order[j].conf {
			return order[i].conf < order[j].conf
		}
		return order[i].id < order[j].id
	})

	si := 0
	for _, w := range order {
		if si >= len(subs) {
			break
		}
		for i := range plan.Agents {
			if plan.Agents[i].AgentID == w.id {
				old := plan.Agents[i].AgentID
				plan.Agents[i].AgentID = subs[si]
				plan.Agents[i].Prompt = ""
				for j := range plan.Agents {
					for k, d := range plan.Agents[j].Dependencies {
						if d == old {
							plan.Agents[j].Dependencies[k] = subs[si]
						}
					}
				}
				si++
				break
			}
		}
	}
}

// finalize fills derived fields: phases for phased strategies, token
// estimate, prompts, and the rationale.
func (p *Planner) finalize(plan *types.OrchestrationPlan, a *types.ObjectiveAnalysis,
	objective string, roster map[string]types.AgentCapability) {

	if plan.Strategy == types.StrategyPhased && len(plan.Phases) == 0 {
		plan.Phases = derivePhases(plan.Agents)
	}
	plan.EstimatedTokens = estimateWithOverhead(plan, roster)
	p.fillPrompts(plan, a, objective)

	if plan.Rationale == "" {
		plan.Rationale = fmt.Sprintf("%s objective in the %s domain (%s): %d agents, %s strategy.",
			a.Intent, a.Domain, a.Complexity, len(plan.Agents), plan.Strategy)
	}
}

// derivePhases groups agents into dependency layers: everything with no
// in-plan dependency is phase one, its dependents phase two, and so on.
func derivePhases(agents []types.AgentSpec) []types.Phase {
	depth := make(map[string]int, len(agents))
	var resolve func(id string, seen map[string]bool) int
	byID := make(map[string]types.AgentSpec, len(agents))
	for _, a := range agents {
		byID[a.AgentID] = a
	}
	resolve = func(id string, seen map[string]bool) int {
		if d, ok := depth[id]; ok {
			return d
		}
		if seen[id] {
			return 0 // cycle guard; Reorder has already run
		}
		seen[id] = true
		max := 0
		for _, dep := range byID[id].Dependencies {
			if _, ok := byID[dep]; !ok {
				continue
			}
			if d := resolve(dep, seen) + 1; d > max {
				max = d
			}
		}
		depth[id] = max
		return max
	}

	maxDepth := 0
	for _, a := range agents {
		if d := resolve(a.AgentID, map[string]bool{}); d > maxDepth {
			maxDepth = d
		}
	}

	phases := make([]types.Phase, maxDepth+1)
	for i := range phases {
		phases[i] = types.Phase{Name: fmt.Sprintf("phase-%d", i+1)}
	}
	for _, a := range agents {
		d := depth[a.AgentID]
		phases[d].Agents = append(phases[d].Agents, a.AgentID)
	}
	for i := range phases {
		phases[i].CanRunParallel = len(phases[i].Agents) > 1
	}
	return phases
}

func estimateWithOverhead(plan *types.OrchestrationPlan, roster map[string]types.AgentCapability) int {
	var sum float64
	for _, ag := range plan.Agents {
		if agent, ok := roster[ag.AgentID]; ok && agent.AvgTokens > 0 {
			sum += agent.AvgTokens
		} else {
			sum += 5000
		}
	}
	return int(sum * 1.10)
}

// Clarification is a single fixed-cost agent whose outcome distribution
// is stable across objectives, so its plan carries fixed confidence.
const (
	clarificationConfidence = 0.9
	clarificationTokens     = 2200
)

var clarificationInterval = [2]float64{0.8, 0.97}

// clarificationResult is the single-agent plan for vague objectives.
func (p *Planner) clarificationResult(objective string) *Result {
	plan := &types.OrchestrationPlan{
		Strategy: types.StrategySequential,
		Agents: []types.AgentSpec{{
			AgentID:         "the_clarifier",
			TaskDescription: "Gather the requirements needed to plan this objective",
			Prompt:          clarificationPrompt(objective),
			Priority:        types.PriorityCritical,
		}},
		SuccessCriteria:    []string{"objective restated with concrete scope and outcome"},
		Confidence:         clarificationConfidence,
		ConfidenceInterval: clarificationInterval,
		Rationale:          "Objective is underspecified; gathering requirements before planning.",
		EstimatedTokens:    clarificationTokens,
	}
	return &Result{
		Plan: plan,
		Analysis: types.ObjectiveAnalysis{
			Intent:            types.IntentInvestigate,
			Domain:            types.DomainResearch,
			TaskType:          types.TaskCommunicative,
			Complexity:        types.ComplexitySimple,
			RecommendedAgents: []string{"the_clarifier"},
			Confidence:        clarificationConfidence,
			Rationale:         "vague objective",
		},
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
