// Package coordinator turns raw agent results into a coordination
// result: a synthesis of what happened, post-hoc conflicts and gaps
// derived by a datalog rule program, and recommendations for the host.
// Agent failures are data here, never errors.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/mangle/ast"
	"github.com/google/uuid"

	"maestro/internal/bus"
	"maestro/internal/failure"
	"maestro/internal/logging"
	"maestro/internal/types"
)

// Conflict is a contradiction detected between two agents' outputs.
type Conflict struct {
	AgentA string `json:"agent_a"`
	AgentB string `json:"agent_b"`
	Type   string `json:"type"`
}

// Gap is missing coverage the execution should have had.
type Gap struct {
	Kind            string `json:"kind"`
	Agent           string `json:"agent"`
	SuggestedAction string `json:"suggested_action"`
}

// Result is what the host gets back from Coordinate.
type Result struct {
	PatternID          string     `json:"pattern_id"`
	Synthesis          string     `json:"synthesis"`
	AllSucceeded       bool       `json:"all_succeeded"`
	Conflicts          []Conflict `json:"conflicts,omitempty"`
	Gaps               []Gap      `json:"gaps,omitempty"`
	Recommendations    []string   `json:"recommendations,omitempty"`
	VerificationNeeded bool       `json:"verification_needed"`
}

// FeedbackSink receives the execution pattern for asynchronous
// learning. Coordinate never waits on it.
type FeedbackSink interface {
	Enqueue(p types.ExecutionPattern)
}

// Coordinator evaluates executions against the compiled rule program.
type Coordinator struct {
	rules    *ruleSet
	feedback FeedbackSink
	events   *bus.Bus
}

// New compiles the rule program once; evaluation reuses it with a
// fresh fact store per call.
func New(sink FeedbackSink, events *bus.Bus) (*Coordinator, error) {
	rs, err := newRuleSet()
	if err != nil {
		return nil, err
	}
	return &Coordinator{rules: rs, feedback: sink, events: events}, nil
}

// Coordinate synthesizes the results of one executed plan. The
// returned result is complete when this returns; learning happens
// asynchronously through the feedback sink.
func (c *Coordinator) Coordinate(ctx context.Context, objective string, results []types.AgentResult,
	plan *types.OrchestrationPlan, pctx types.ProjectContext) (*Result, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("coordinate: no agent results")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timer := logging.StartTimer(logging.CategoryCoordinator, "coordinate")
	defer timer.Stop()

	gaps, conflicts, err := c.rules.eval(buildFacts(results, plan))
	if err != nil {
		// The rules are a refinement, not a prerequisite: a bad fact must
		// not cost the host its synthesis.
		logging.Get(logging.CategoryCoordinator).Warn("rule evaluation failed: %v", err)
		gaps, conflicts = nil, nil
	}

	res := &Result{
		Synthesis:          synthesize(objective, results),
		AllSucceeded:       allSucceeded(results),
		Conflicts:          conflicts,
		Gaps:               gaps,
		VerificationNeeded: verificationNeeded(results),
	}
	res.Recommendations = recommendations(results, gaps, res.VerificationNeeded)

	pattern := buildPattern(objective, results, plan, pctx, res)
	res.PatternID = pattern.ID
	if c.feedback != nil {
		c.feedback.Enqueue(pattern)
	}
	if c.events != nil {
		c.events.Publish(bus.ExecutionRecorded, map[string]interface{}{
			"pattern_id": pattern.ID,
			"success":    pattern.Success,
			"agents":     len(results),
		})
	}

	logging.Coordinator("coordinated %d results: success=%v conflicts=%d gaps=%d",
		len(results), res.AllSucceeded, len(res.Conflicts), len(res.Gaps))
	return res, nil
}

// buildFacts renders results and plan metadata as extensional facts.
func buildFacts(results []types.AgentResult, plan *types.OrchestrationPlan) []ast.Atom {
	var facts []ast.Atom
	for _, r := range results {
		agent := nameTerm(r.AgentID)
		facts = append(facts,
			ast.NewAtom("agent_ran", agent),
			ast.NewAtom("agent_phase", agent, nameTerm(phaseOf(r.AgentID))),
		)
		if r.Success {
			facts = append(facts, ast.NewAtom("agent_succeeded", agent))
		}
		for _, tok := range extractMentions(r.Output) {
			facts = append(facts, ast.NewAtom("output_mentions", agent, ast.String(tok)))
		}
	}
	if plan != nil {
		facts = append(facts, ast.NewAtom("plan_strategy", nameTerm(string(plan.Strategy))))
		for _, spec := range plan.Agents {
			if spec.Priority == types.PriorityCritical {
				facts = append(facts, ast.NewAtom("agent_tag", nameTerm(spec.AgentID), nameTerm("critical")))
			}
		}
	}
	return facts
}

func allSucceeded(results []types.AgentResult) bool {
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return true
}

// verificationNeeded is true unless a verifier agent ran and succeeded.
func verificationNeeded(results []types.AgentResult) bool {
	for _, r := range results {
		if r.Success && phaseOf(r.AgentID) == "verification" {
			return false
		}
	}
	return true
}

func recommendations(results []types.AgentResult, gaps []Gap, verificationNeeded bool) []string {
	var recs []string
	for _, r := range results {
		if r.Success {
			continue
		}
		category := failure.Classify(r.Error)
		recs = append(recs, fmt.Sprintf("re-execute %s after addressing the %s", r.AgentID, category))
	}
	for _, g := range gaps {
		if g.SuggestedAction != "" {
			recs = append(recs, g.SuggestedAction)
		}
	}
	if verificationNeeded && len(recs) == 0 {
		recs = append(recs, "no verifier agent succeeded; verify the result before relying on it")
	}
	return recs
}

// buildPattern assembles the immutable execution record handed to the
// feedback loop.
func buildPattern(objective string, results []types.AgentResult, plan *types.OrchestrationPlan,
	pctx types.ProjectContext, res *Result) types.ExecutionPattern {
	p := types.ExecutionPattern{
		ID:             uuid.NewString(),
		Timestamp:      time.Now(),
		Objective:      objective,
		ProjectContext: pctx,
		AgentResults:   results,
		Success:        res.AllSucceeded,
		Verified:       !res.VerificationNeeded,
	}
	for _, r := range results {
		p.ExecutionOrder = append(p.ExecutionOrder, r.AgentID)
		p.TotalTokens += r.TokensUsed
		p.TotalDurationMs += r.DurationMs
		if !r.Success && p.FailedAgent == "" {
			p.FailedAgent = r.AgentID
			p.FailureReason = r.Error
		}
	}
	if plan != nil {
		p.AgentsUsed = plan.AgentIDs()
		p.PredictedConfidence = plan.Confidence
		p.EstimatedTokens = plan.EstimatedTokens
	} else {
		p.AgentsUsed = append([]string(nil), p.ExecutionOrder...)
	}
	for _, c := range res.Conflicts {
		p.Conflicts = append(p.Conflicts, fmt.Sprintf("%s|%s:%s", c.AgentA, c.AgentB, c.Type))
	}
	for _, g := range res.Gaps {
		p.Gaps = append(p.Gaps, g.Kind)
	}
	return p
}
