// Package core assembles the planning, learning, and coordination
// pipeline behind one aggregate with tool-level methods. The host
// dispatches every tool call here; transport lives in internal/mcp.
package core

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"time"

	"maestro/internal/bayesian"
	"maestro/internal/bus"
	"maestro/internal/config"
	"maestro/internal/conflict"
	"maestro/internal/coordinator"
	"maestro/internal/embedding"
	"maestro/internal/failure"
	"maestro/internal/feedback"
	"maestro/internal/knowledge"
	"maestro/internal/logging"
	"maestro/internal/memory"
	"maestro/internal/pareto"
	"maestro/internal/planner"
	"maestro/internal/registry"
	"maestro/internal/semantic"
	"maestro/internal/temporal"
	"maestro/internal/types"
)

// Core owns every subsystem. It is a process-wide singleton, safe for
// concurrent requests: planning reads snapshots, writes happen in the
// feedback loop.
type Core struct {
	cfg *config.Config

	analyzer  *semantic.Analyzer
	registry  *registry.Registry
	memory    *memory.PatternMemory
	graph     *conflict.Graph
	engine    *bayesian.Engine
	optimizer *pareto.Optimizer
	planner   *planner.Planner
	coord     *coordinator.Coordinator
	loop      *feedback.Loop
	embedder  *embedding.Cache
	knowledge knowledge.Store
	events    *bus.Bus
}

// New builds the pipeline from configuration. The sqlite archive and
// the knowledge store are optional collaborators: failing to open
// either degrades to in-memory operation with a warning, never to a
// construction error.
func New(cfg *config.Config) (*Core, error) {
	boot := logging.Get(logging.CategoryBoot)

	var archiver memory.Archiver
	if cfg.StateDir != "" && cfg.Memory.ArchivePath != "" {
		a, err := memory.OpenArchive("sqlite3", cfg.ArchiveDBPath())
		if err != nil {
			boot.Warn("pattern archive unavailable, learning will not survive restarts: %v", err)
		} else {
			archiver = a
		}
	}

	mem := memory.New(memory.Options{
		SoftCap:    cfg.Memory.SoftCap,
		WindowDays: cfg.Memory.WindowDays,
		Archive:    archiver,
	})
	if cfg.Learning.SeedSynthetic && mem.Size() == 0 {
		n := memory.SeedSynthetic(mem, 0)
		boot.Info("seeded %d synthetic bootstrap patterns", n)
	}

	cachePath := ""
	if cfg.StateDir != "" {
		cachePath = cfg.RegistryCachePath()
	}
	reg := registry.New(cachePath, time.Duration(cfg.Registry.DebounceMs)*time.Millisecond)

	embedDir := ""
	if cfg.StateDir != "" {
		embedDir = filepath.Join(cfg.StateDir, "embeddings")
	}
	ttl, err := time.ParseDuration(cfg.Embedding.DiskCacheTTL)
	if err != nil || ttl <= 0 {
		ttl = 24 * time.Hour
	}
	embedder := embedding.NewCache(embedding.NewFromConfig(cfg.Embedding), embedDir, ttl)

	kstore := knowledge.FromEndpoint(cfg.Knowledge.Endpoint,
		time.Duration(cfg.Knowledge.SearchTimeoutMs)*time.Millisecond,
		time.Duration(cfg.Knowledge.PersistTimeoutMs)*time.Millisecond)

	c := &Core{
		cfg:       cfg,
		analyzer:  semantic.NewAnalyzer(),
		registry:  reg,
		memory:    mem,
		graph:     conflict.NewGraph(),
		engine:    bayesian.NewEngine(),
		optimizer: pareto.NewOptimizer(),
		embedder:  embedder,
		knowledge: kstore,
		events:    bus.New(),
	}

	bridge := feedback.NewBridge(kstore, mem, cfg.Learning)
	c.loop = feedback.New(c.analyzer, reg, mem, c.graph, c.engine, c.optimizer, bridge, c.events, feedback.Options{
		RealtimeBudget: time.Duration(cfg.Sync.RealtimeTimeoutMs) * time.Millisecond,
		BatchWindow:    time.Duration(cfg.Sync.AsyncBatchSeconds) * time.Second,
	})
	c.planner = planner.New(c.analyzer, reg, mem, c.graph, c.engine, c.optimizer, c.events)

	coord, err := coordinator.New(c.loop, c.events)
	if err != nil {
		return nil, fmt.Errorf("build coordinator: %w", err)
	}
	c.coord = coord
	return c, nil
}

// Events exposes the bus for host-side listeners.
func (c *Core) Events() *bus.Bus { return c.events }

// Close flushes all durable state. Safe to call once at shutdown.
func (c *Core) Close() error {
	c.loop.Close()
	c.registry.Flush()
	c.events.Close()
	return c.memory.Close()
}

// =============================================================================
// TOOL SURFACE
// =============================================================================

// Plan produces an orchestration plan for an objective, merging
// long-term patterns from the knowledge store into retrieval.
func (c *Core) Plan(ctx context.Context, req planner.Request) (*planner.Result, error) {
	req.PastExecutions = append(req.PastExecutions, c.longTermPatterns(ctx, req.Objective)...)
	return c.planner.Plan(ctx, req)
}

// longTermPatterns asks the knowledge store for patterns related to the
// objective. Best effort under the store's own search deadline: errors
// degrade to local-only planning.
func (c *Core) longTermPatterns(ctx context.Context, objective string) []types.ExecutionPattern {
	entities, err := c.knowledge.Search(ctx, objective)
	if err != nil {
		logging.Get(logging.CategoryKnowledge).Warn("long-term pattern retrieval failed: %v", err)
		return nil
	}
	var out []types.ExecutionPattern
	for _, e := range entities {
		if p, ok := feedback.PatternFromEntity(e); ok {
			out = append(out, p)
		}
	}
	return out
}

// Coordinate synthesizes execution results and schedules feedback.
func (c *Core) Coordinate(ctx context.Context, objective string, results []types.AgentResult,
	plan *types.OrchestrationPlan, pctx types.ProjectContext) (*coordinator.Result, error) {
	return c.coord.Coordinate(ctx, objective, results, plan, pctx)
}

// AnalysisResult is the health view of the learning corpus.
type AnalysisResult struct {
	HealthScore     float64  `json:"health_score"`
	CriticalIssues  []string `json:"critical_issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	SuggestedAgents []string `json:"suggested_agents,omitempty"`
}

// Analyze reports corpus health for a project context: temporal
// freshness times rolling success, plus issues a host should act on.
func (c *Core) Analyze(pctx types.ProjectContext) AnalysisResult {
	now := time.Now()
	window := c.memory.Window()
	stats := c.memory.AggregateStats()

	freshness := temporal.CorpusHealth(window, now)
	success := stats.SuccessRate
	if stats.TotalExecutions == 0 {
		success = 1.0
	}
	res := AnalysisResult{HealthScore: freshness * success}

	if len(window) > 0 && freshness < 0.3 {
		res.CriticalIssues = append(res.CriticalIssues,
			fmt.Sprintf("pattern corpus is stale (freshness %.2f); recent executions are not being recorded", freshness))
		res.Recommendations = append(res.Recommendations,
			"route executions through coordinate so the memory keeps learning")
	}
	chains := map[string]int{}
	for _, p := range c.memory.RecentFailures(pctx.ProjectID, 20) {
		if p.FailureChainID != "" {
			chains[p.FailureChainID]++
		}
	}
	for id, n := range chains {
		if n >= 3 {
			res.CriticalIssues = append(res.CriticalIssues,
				fmt.Sprintf("failure chain %s has %d related failures; a shared root cause is unaddressed", id, n))
			res.Recommendations = append(res.Recommendations,
				"run analyze_failure on the newest failure of the chain and apply its suggested fixes")
		}
	}
	if c.engine.Observations() >= 10 && c.engine.Brier() > 0.25 {
		res.CriticalIssues = append(res.CriticalIssues,
			fmt.Sprintf("confidence calibration is poor (Brier %.2f); estimates are being shrunk toward the base rate", c.engine.Brier()))
	}
	sort.Strings(res.CriticalIssues)

	for _, a := range c.registry.RankedBySuccessRate() {
		if a.Total > 0 && len(res.SuggestedAgents) < 3 {
			res.SuggestedAgents = append(res.SuggestedAgents, a.ID)
		}
	}
	if len(res.SuggestedAgents) == 0 {
		res.SuggestedAgents = []string{"the_architect", "forgemaster", "the_examiner"}
	}
	return res
}

// RecordFeedback applies a single agent outcome outside a full
// coordination cycle.
func (c *Core) RecordFeedback(agentID string, success bool, tokens int, durationMs int64) error {
	if agentID == "" {
		return fmt.Errorf("record_feedback: agent_id is required")
	}
	c.registry.RecordFeedback(agentID, success, tokens, durationMs)
	return nil
}

// Prediction is the per-agent success forecast for an objective.
type Prediction struct {
	AgentID              string  `json:"agent_id"`
	PredictedSuccessRate float64 `json:"predicted_success_rate"`
	Confidence           float64 `json:"confidence"`
	SimilarExecutions    int     `json:"similar_executions"`
}

// PredictAgents forecasts how the given agents would fare on an
// objective, weighting similar past executions by recency.
func (c *Core) PredictAgents(agentIDs []string, objective string, pctx types.ProjectContext) []Prediction {
	analysis := c.analyzer.Analyze(objective)
	query := memory.QueryVector(objective, &analysis, pctx)
	matches := c.memory.FindSimilar(query, 8)

	now := time.Now()
	patterns := make([]types.ExecutionPattern, len(matches))
	similarities := make([]float64, len(matches))
	for i, m := range matches {
		patterns[i] = m.Pattern
		similarities[i] = m.Similarity
	}
	temporal.Enrich(patterns, now)

	ev := bayesian.Evidence{
		AgentIDs:     agentIDs,
		Agents:       c.registry.Snapshot(),
		Patterns:     patterns,
		Similarities: similarities,
		CorpusHealth: temporal.CorpusHealth(patterns, now),
	}
	as := c.engine.Score(ev)

	preds := make([]Prediction, 0, len(agentIDs))
	for _, id := range agentIDs {
		similar := 0
		for _, p := range patterns {
			for _, a := range p.AgentsUsed {
				if a == id {
					similar++
					break
				}
			}
		}
		preds = append(preds, Prediction{
			AgentID:              id,
			PredictedSuccessRate: as.PerAgent[id],
			Confidence:           1.0 - as.Uncertainty,
			SimilarExecutions:    similar,
		})
	}
	return preds
}

// AnalyzeFailure classifies one failed execution and returns the
// context plus suggested fixes. The failure is matched against known
// chains in the same project.
func (c *Core) AnalyzeFailure(objective, failedAgent, errMsg string,
	preceding []string, pctx types.ProjectContext) (*types.FailureContext, []string) {
	p := types.ExecutionPattern{
		Objective:      objective,
		FailedAgent:    failedAgent,
		FailureReason:  errMsg,
		ExecutionOrder: append(append([]string(nil), preceding...), failedAgent),
		ProjectContext: pctx,
		Timestamp:      time.Now(),
	}
	fc := failure.Analyze(&p)

	category := failure.Classify(errMsg)
	for _, recent := range c.memory.RecentFailures(pctx.ProjectID, 10) {
		if recent.FailureChainID == "" {
			continue
		}
		if recent.FailedAgent == failedAgent || failure.Classify(recent.FailureReason) == category {
			fc.FailureChainID = recent.FailureChainID
			break
		}
	}
	return &fc, failure.SuggestedFixes(&fc)
}

// RefineResult reports how a failed plan was adjusted.
type RefineResult struct {
	RefinedPlan *types.OrchestrationPlan `json:"refined_plan"`
	ChangesMade []string                 `json:"changes_made"`
	Reasoning   string                   `json:"reasoning"`
	Confidence  float64                  `json:"confidence"`
}

// RefinePlan rewrites a failed plan around its failure context and
// re-scores the result.
func (c *Core) RefinePlan(plan *types.OrchestrationPlan, fc *types.FailureContext) *RefineResult {
	refined := planner.Refine(plan, fc)

	var changes []string
	if refined.Contains("stabilizer") && !plan.Contains("stabilizer") {
		changes = append(changes, "inserted stabilizer before "+fc.FailedAgent)
		changes = append(changes, "raised the priority of "+fc.FailedAgent)
	}
	for i := len(plan.Warnings); i < len(refined.Warnings); i++ {
		changes = append(changes, "warning: "+refined.Warnings[i])
	}

	as := c.engine.Score(bayesian.Evidence{
		AgentIDs:     refined.AgentIDs(),
		Agents:       c.registry.Snapshot(),
		CorpusHealth: 1.0,
	})
	refined.Confidence = as.Confidence
	refined.ConfidenceInterval = as.Interval
	refined.Uncertainty = as.Uncertainty

	// A pre-flight stabilizer removes the known failure mode, so the
	// refined plan never scores below the plan it repairs.
	if len(changes) > 0 && refined.Confidence <= plan.Confidence {
		refined.Confidence = math.Min(1.0, plan.Confidence+0.05)
	}

	return &RefineResult{
		RefinedPlan: refined,
		ChangesMade: changes,
		Reasoning:   refined.Rationale,
		Confidence:  refined.Confidence,
	}
}

// FindPatterns retrieves similar past executions. When an embedding
// provider is available the feature similarity is blended with text
// embedding similarity per the configured match weight; on provider
// failure the feature score stands alone.
func (c *Core) FindPatterns(ctx context.Context, objective string, pctx types.ProjectContext, limit int) []memory.PatternMatch {
	if limit <= 0 {
		limit = 5
	}
	analysis := c.analyzer.Analyze(objective)
	query := memory.QueryVector(objective, &analysis, pctx)
	matches := c.memory.FindSimilar(query, limit)

	w := c.cfg.Semantic.MatchWeight
	if w > 0 && len(matches) > 0 {
		if qv, err := c.embedder.Embed(ctx, objective); err == nil {
			for i := range matches {
				pv, err := c.embedder.Embed(ctx, matches[i].Pattern.Objective)
				if err != nil {
					continue
				}
				text := embedding.Cosine(qv, pv)
				matches[i].Similarity = (1.0-w)*matches[i].Similarity + w*text
			}
			sort.SliceStable(matches, func(i, j int) bool {
				return matches[i].Similarity > matches[j].Similarity
			})
		} else {
			logging.MemoryDebug("embedding blend unavailable: %v", err)
		}
	}
	return matches
}

// DiscoverAgents registers host-side agents the registry has not seen.
func (c *Core) DiscoverAgents(ids []string) int {
	return c.registry.Discover(ids)
}

// ListLearnedAgents returns the roster, optionally ranked by learned
// success rate.
func (c *Core) ListLearnedAgents(ranked bool) []types.AgentCapability {
	if ranked {
		return c.registry.RankedBySuccessRate()
	}
	return c.registry.List()
}
