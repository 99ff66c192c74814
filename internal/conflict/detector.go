package conflict

import (
	"fmt"
	"sort"

	"maestro/internal/logging"
	"maestro/internal/types"
)

// ConflictType classifies a predicted conflict.
type ConflictType string

const (
	ConflictToolOverlap ConflictType = "tool_overlap"
	ConflictResource    ConflictType = "resource"
	ConflictSemantic    ConflictType = "semantic"
	ConflictOrdering    ConflictType = "ordering"
)

// safeRiskThreshold is the risk at or below which a pairing is accepted
// without resolution.
const safeRiskThreshold = 0.35

// minLearnedObs is how many co-occurrences the graph needs before its
// risk estimate overrides the neutral prior.
const minLearnedObs = 3

// toolOverlapRisk is the residual risk assigned to two concurrent
// agents that declare the same mutating tool.
const toolOverlapRisk = 0.3

// Conflict is one predicted incompatibility inside a plan.
type Conflict struct {
	AgentA     string       `json:"agent_a"`
	AgentB     string       `json:"agent_b"`
	Type       ConflictType `json:"type"`
	Risk       float64      `json:"risk"`
	Resolution string       `json:"resolution,omitempty"`
}

// Report is the detector's verdict on a plan. RiskScore is the
// probability that at least one predicted conflict fires;
// ConflictFreeProbability is its complement. Ordering conflicts that
// reordering resolves leave no residual risk.
type Report struct {
	Conflicts               []Conflict `json:"conflicts,omitempty"`
	RiskScore               float64    `json:"risk_score"`
	ConflictFreeProbability float64    `json:"conflict_free_probability"`
	Safe                    bool       `json:"safe_to_execute"`
	Reordered               bool       `json:"reordered"`
}

// staticRule encodes a known-bad or order-sensitive pairing that holds
// before any learned data exists.
type staticRule struct {
	a, b string
	typ  ConflictType
	risk float64
	note string
}

var staticRules = []staticRule{
	{"forgemaster", "the_sentinel", ConflictOrdering, 0.5, "implementation must land before deployment"},
	{"the_examiner", "the_sentinel", ConflictOrdering, 0.45, "verification must pass before deployment"},
	{"warden", "the_sentinel", ConflictOrdering, 0.45, "security review must finish before deployment"},
	{"the_architect", "forgemaster", ConflictOrdering, 0.4, "design precedes implementation"},
	{"forgemaster", "the_archivist", ConflictOrdering, 0.4, "documentation follows implementation"},
	{"forgemaster", "datasmith", ConflictResource, 0.4, "both write to the same tree; serialize or split scope"},
	{"the_scribe", "the_examiner", ConflictSemantic, 0.4, "creative output has no pass/fail oracle; review it editorially instead of gating on verification"},
}

// mutatingTools are tool tags whose concurrent use by two agents can
// clobber shared state.
var mutatingTools = map[string]bool{
	"editor":            true,
	"shell":             true,
	"database":          true,
	"cloud_api":         true,
	"container_runtime": true,
}

// orderingEdges lists (before, after) constraints enforced during
// reordering. Derived from the static ordering rules.
var orderingEdges = func() [][2]string {
	var edges [][2]string
	for _, r := range staticRules {
		if r.typ == ConflictOrdering {
			edges = append(edges, [2]string{r.a, r.b})
		}
	}
	return edges
}()

// Detector predicts conflicts in a plan from the static rule table and
// the learned graph, and reorders agents to satisfy ordering rules.
type Detector struct {
	graph *Graph
}

func NewDetector(g *Graph) *Detector {
	return &Detector{graph: g}
}

// Analyze scores every agent pair in the plan and aggregates the
// residual risks. Ordering conflicts that reordering can fix are
// reported as resolved and carry no residual risk; everything else
// compounds into the risk score, and the plan is safe to execute only
// while that score stays at or below the threshold.
func (d *Detector) Analyze(plan *types.OrchestrationPlan, roster map[string]types.AgentCapability) Report {
	agents := plan.Agents
	report := Report{}
	pos := make(map[string]int, len(agents))
	for i, a := range agents {
		pos[a.AgentID] = i
	}

	for i := 0; i < len(agents); i++ {
		for j := i + 1; j < len(agents); j++ {
			a, b := agents[i].AgentID, agents[j].AgentID
			c, found := d.scorePair(a, b, pos)
			if !found {
				continue
			}
			report.Conflicts = append(report.Conflicts, c)
		}
	}
	report.Conflicts = append(report.Conflicts, toolOverlaps(plan, roster)...)

	free := 1.0
	for _, c := range report.Conflicts {
		if c.Type == ConflictOrdering && c.Resolution != "" {
			continue
		}
		free *= 1 - c.Risk
	}
	report.RiskScore = 1 - free
	report.ConflictFreeProbability = free
	report.Safe = report.RiskScore <= safeRiskThreshold

	sort.Slice(report.Conflicts, func(i, j int) bool {
		if report.Conflicts[i].Risk != report.Conflicts[j].Risk {
			return report.Conflicts[i].Risk > report.Conflicts[j].Risk
		}
		return report.Conflicts[i].AgentA < report.Conflicts[j].AgentA
	})
	return report
}

// toolOverlaps flags pairs that declare the same mutating tool and can
// run at the same time. Sequential strategies order every agent, so
// only parallel and phased plans can interleave mutating access, and
// only between agents at the same dependency depth.
func toolOverlaps(plan *types.OrchestrationPlan, roster map[string]types.AgentCapability) []Conflict {
	agents := plan.Agents
	if len(roster) == 0 || len(agents) < 2 || plan.Strategy == types.StrategySequential {
		return nil
	}
	depth := dependencyDepth(agents)
	var out []Conflict
	for i := 0; i < len(agents); i++ {
		for j := i + 1; j < len(agents); j++ {
			if depth[i] != depth[j] {
				continue
			}
			a, b := agents[i].AgentID, agents[j].AgentID
			tool := sharedMutatingTool(roster[a], roster[b])
			if tool == "" {
				continue
			}
			out = append(out, Conflict{
				AgentA:     a,
				AgentB:     b,
				Type:       ConflictToolOverlap,
				Risk:       toolOverlapRisk,
				Resolution: fmt.Sprintf("serialize %s access: add a dependency between %s and %s", tool, a, b),
			})
		}
	}
	return out
}

func sharedMutatingTool(a, b types.AgentCapability) string {
	for _, ta := range a.Tools {
		if !mutatingTools[ta] {
			continue
		}
		for _, tb := range b.Tools {
			if ta == tb {
				return ta
			}
		}
	}
	return ""
}

// dependencyDepth is each agent's longest in-plan dependency chain.
// Agents at the same depth have no path between them in either
// direction.
func dependencyDepth(agents []types.AgentSpec) []int {
	index := make(map[string]int, len(agents))
	for i, a := range agents {
		index[a.AgentID] = i
	}
	depth := make([]int, len(agents))
	done := make([]bool, len(agents))
	var resolve func(i int, seen []bool) int
	resolve = func(i int, seen []bool) int {
		if done[i] {
			return depth[i]
		}
		if seen[i] {
			return 0 // cycle guard; Reorder has already run
		}
		seen[i] = true
		d := 0
		for _, dep := range agents[i].Dependencies {
			di, ok := index[dep]
			if !ok {
				continue
			}
			if v := resolve(di, seen) + 1; v > d {
				d = v
			}
		}
		depth[i], done[i] = d, true
		return d
	}
	for i := range agents {
		resolve(i, make([]bool, len(agents)))
	}
	return depth
}

// scorePair combines static rules with learned risk. Learned risk only
// applies once the pair has enough observations.
func (d *Detector) scorePair(a, b string, pos map[string]int) (Conflict, bool) {
	var c Conflict
	found := false

	for _, r := range staticRules {
		if (r.a == a && r.b == b) || (r.a == b && r.b == a) {
			c = Conflict{AgentA: a, AgentB: b, Type: r.typ, Risk: r.risk}
			if r.typ == ConflictOrdering {
				// only a conflict when the plan violates the order
				if pos[r.a] < pos[r.b] {
					return Conflict{}, false
				}
				c.Resolution = fmt.Sprintf("reorder: %s before %s", r.a, r.b)
			} else {
				c.Resolution = r.note
			}
			found = true
			break
		}
	}

	// Learned incompatibility reads as semantic opposition: the pair
	// keeps failing together without a static rule explaining why.
	if d.graph != nil && d.graph.Observations(a, b) >= minLearnedObs {
		learned := d.graph.Risk(a, b)
		if !found || learned > c.Risk {
			c = Conflict{AgentA: a, AgentB: b, Type: ConflictSemantic, Risk: learned,
				Resolution: c.Resolution}
			found = true
		}
	}

	if found && c.Risk <= safeRiskThreshold && c.Type != ConflictOrdering {
		return Conflict{}, false
	}
	return c, found
}

// Reorder topologically sorts agents over explicit dependencies plus the
// static ordering edges. Ready agents are scheduled by priority, then by
// original position. Cycles are broken by releasing the most urgent
// blocked agent; the dropped constraints are logged.
func Reorder(agents []types.AgentSpec) ([]types.AgentSpec, bool) {
	n := len(agents)
	if n < 2 {
		return agents, false
	}

	index := make(map[string]int, n)
	for i, a := range agents {
		index[a.AgentID] = i
	}

	indeg := make([]int, n)
	succ := make([][]int, n)
	addEdge := func(from, to string) {
		fi, okF := index[from]
		ti, okT := index[to]
		if !okF || !okT || fi == ti {
			return
		}
		succ[fi] = append(succ[fi], ti)
		indeg[ti]++
	}

	for _, a := range agents {
		for _, dep := range a.Dependencies {
			addEdge(dep, a.AgentID)
		}
	}
	for _, e := range orderingEdges {
		addEdge(e[0], e[1])
	}

	less := func(i, j int) bool {
		ri, rj := types.PriorityRank(agents[i].Priority), types.PriorityRank(agents[j].Priority)
		if ri != rj {
			return ri < rj
		}
		return i < j
	}

	var order []int
	done := make([]bool, n)
	for len(order) < n {
		best := -1
		for i := 0; i < n; i++ {
			if done[i] || indeg[i] != 0 {
				continue
			}
			if best == -1 || less(i, best) {
				best = i
			}
		}
		if best == -1 {
			// cycle: release the most urgent blocked agent
			for i := 0; i < n; i++ {
				if done[i] {
					continue
				}
				if best == -1 || less(i, best) {
					best = i
				}
			}
			logging.Get(logging.CategoryConflict).Warn("ordering cycle broken at agent %s", agents[best].AgentID)
			indeg[best] = 0
		}
		done[best] = true
		order = append(order, best)
		for _, t := range succ[best] {
			indeg[t]--
		}
	}

	changed := false
	out := make([]types.AgentSpec, n)
	for i, idx := range order {
		out[i] = agents[idx]
		if idx != i {
			changed = true
		}
	}
	return out, changed
}
