// Package conflict predicts and learns agent incompatibilities. A
// learned co-occurrence graph tracks how often agent pairs ran together
// and how often that pairing went wrong; a static rule table covers
// known-bad pairings before any data exists.
package conflict

import (
	"sort"
	"strings"
	"sync"

	"maestro/internal/types"
)

// pairKey is the canonical (sorted) key for an unordered agent pair.
type pairKey struct {
	a, b string
}

func keyFor(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

type pairStats struct {
	CoOccur   int
	Conflicts int
}

// Graph is the learned pairwise compatibility model. Risk per pair is
// Laplace smoothed so one bad run never condemns a pairing outright.
type Graph struct {
	mu    sync.RWMutex
	pairs map[pairKey]*pairStats
}

func NewGraph() *Graph {
	return &Graph{pairs: make(map[pairKey]*pairStats)}
}

// Learn folds one execution into the graph: every agent pair that ran
// together gains a co-occurrence, and pairs the execution flagged as
// conflicting gain a conflict. Conflict entries use the "a|b" or
// "a|b:type" form; malformed entries are skipped.
func (g *Graph) Learn(p *types.ExecutionPattern) {
	if len(p.AgentsUsed) < 2 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := 0; i < len(p.AgentsUsed); i++ {
		for j := i + 1; j < len(p.AgentsUsed); j++ {
			g.statsLocked(keyFor(p.AgentsUsed[i], p.AgentsUsed[j])).CoOccur++
		}
	}

	for _, c := range p.Conflicts {
		if a, b, ok := parseConflict(c); ok {
			g.statsLocked(keyFor(a, b)).Conflicts++
		}
	}

	// A failure attributed to one agent counts against its pairings in
	// this run: the conflict may be the real cause even when unreported.
	if !p.Success && p.FailedAgent != "" {
		for _, other := range p.AgentsUsed {
			if other != p.FailedAgent {
				g.statsLocked(keyFor(p.FailedAgent, other)).Conflicts++
			}
		}
	}
}

func (g *Graph) statsLocked(k pairKey) *pairStats {
	s, ok := g.pairs[k]
	if !ok {
		s = &pairStats{}
		g.pairs[k] = s
	}
	return s
}

func parseConflict(entry string) (a, b string, ok bool) {
	entry = strings.SplitN(entry, ":", 2)[0]
	parts := strings.Split(entry, "|")
	if len(parts) != 2 {
		return "", "", false
	}
	a = strings.TrimSpace(parts[0])
	b = strings.TrimSpace(parts[1])
	return a, b, a != "" && b != "" && a != b
}

// Risk returns the Laplace-smoothed conflict probability for a pair:
// (1+conflicts)/(2+coOccurrences). An unseen pair scores 0.5.
func (g *Graph) Risk(a, b string) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.pairs[keyFor(a, b)]
	if !ok {
		return 0.5
	}
	return float64(1+s.Conflicts) / float64(2+s.CoOccur)
}

// Compatibility is the complement of Risk, used as a pairwise factor in
// the joint confidence computation.
func (g *Graph) Compatibility(a, b string) float64 {
	return 1.0 - g.Risk(a, b)
}

// Observations returns how often the pair has co-occurred.
func (g *Graph) Observations(a, b string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if s, ok := g.pairs[keyFor(a, b)]; ok {
		return s.CoOccur
	}
	return 0
}

// RiskiestPairs returns up to limit pairs ordered by risk descending,
// considering only pairs with at least minObs co-occurrences.
func (g *Graph) RiskiestPairs(minObs, limit int) []PairRisk {
	g.mu.RLock()
	var out []PairRisk
	for k, s := range g.pairs {
		if s.CoOccur < minObs {
			continue
		}
		out = append(out, PairRisk{
			AgentA: k.a,
			AgentB: k.b,
			Risk:   float64(1+s.Conflicts) / float64(2+s.CoOccur),
		})
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Risk != out[j].Risk {
			return out[i].Risk > out[j].Risk
		}
		if out[i].AgentA != out[j].AgentA {
			return out[i].AgentA < out[j].AgentA
		}
		return out[i].AgentB < out[j].AgentB
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// PairRisk is one scored pair from the learned graph.
type PairRisk struct {
	AgentA string  `json:"agent_a"`
	AgentB string  `json:"agent_b"`
	Risk   float64 `json:"risk"`
}
