package coordinator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

// ruleProgram is the post-hoc analysis program. The coordinator loads
// execution results as extensional facts and the rules derive gaps and
// conflicts declaratively, so adding a new check is one more rule
// instead of another branch in Go.
//
// Extensional predicates:
//
//	agent_ran(Agent)            the agent produced a result
//	agent_succeeded(Agent)      ... and reported success
//	agent_phase(Agent, Phase)   /design /implementation /verification
//	                            /documentation /deployment
//	agent_tag(Agent, Tag)       /critical for critical-priority agents
//	output_mentions(Agent, T)   artifact tokens extracted from output
//	plan_strategy(S)            /sequential /phased /parallel
const ruleProgram = `
Decl agent_ran(Agent).
Decl agent_succeeded(Agent).
Decl agent_phase(Agent, Phase).
Decl agent_tag(Agent, Tag).
Decl output_mentions(Agent, Token).
Decl plan_strategy(Strategy).

cicd_token("ci").
cicd_token("cd").
cicd_token("pipeline").
cicd_token("workflow").
cicd_token("github actions").
cicd_token("jenkins").

ran_phase(P) :- agent_ran(A), agent_phase(A, P).
ok_phase(P) :- agent_succeeded(A), agent_phase(A, P).

gap(/implementation_without_verification, A) :-
    agent_phase(A, /implementation),
    agent_succeeded(A),
    !ok_phase(/verification).

gap(/feature_without_documentation, A) :-
    agent_phase(A, /implementation),
    agent_succeeded(A),
    !ran_phase(/documentation).

cicd_mentioned(/yes) :- output_mentions(_, T), cicd_token(T).

gap(/deploy_without_cicd, A) :-
    agent_phase(A, /deployment),
    agent_ran(A),
    !cicd_mentioned(/yes).

gap(/critical_agent_failed, A) :-
    agent_tag(A, /critical),
    agent_ran(A),
    !agent_succeeded(A).

posthoc_conflict(A, B, /logical) :-
    agent_phase(A, /design), agent_succeeded(A),
    agent_phase(B, /implementation), agent_succeeded(B),
    output_mentions(A, T),
    !output_mentions(B, T).

posthoc_conflict(A, B, /ordering) :-
    agent_phase(A, /verification), agent_succeeded(A),
    agent_phase(B, /implementation), agent_ran(B),
    !agent_succeeded(B).
`

// ruleSet is the compiled program. It is immutable after construction;
// every evaluation runs against a fresh fact store.
type ruleSet struct {
	info *analysis.ProgramInfo
}

func newRuleSet() (*ruleSet, error) {
	unit, err := parse.Unit(strings.NewReader(ruleProgram))
	if err != nil {
		return nil, fmt.Errorf("parse rule program: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("analyze rule program: %w", err)
	}
	return &ruleSet{info: info}, nil
}

// eval loads the given facts, runs the program to fixed point and
// returns the derived gaps and conflicts, deduplicated and sorted.
func (rs *ruleSet) eval(facts []ast.Atom) ([]Gap, []Conflict, error) {
	store := factstore.NewSimpleInMemoryStore()
	for _, f := range facts {
		store.Add(f)
	}
	if _, err := mengine.EvalProgramWithStats(rs.info, store); err != nil {
		return nil, nil, fmt.Errorf("evaluate rule program: %w", err)
	}

	gapSeen := map[string]Gap{}
	err := store.GetFacts(ast.NewQuery(ast.PredicateSym{Symbol: "gap", Arity: 2}), func(a ast.Atom) error {
		g := Gap{
			Kind:  constSymbol(a.Args[0]),
			Agent: constSymbol(a.Args[1]),
		}
		g.SuggestedAction = gapActions[g.Kind]
		gapSeen[g.Kind+"|"+g.Agent] = g
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	conflictSeen := map[string]Conflict{}
	err = store.GetFacts(ast.NewQuery(ast.PredicateSym{Symbol: "posthoc_conflict", Arity: 3}), func(a ast.Atom) error {
		c := Conflict{
			AgentA: constSymbol(a.Args[0]),
			AgentB: constSymbol(a.Args[1]),
			Type:   constSymbol(a.Args[2]),
		}
		conflictSeen[c.AgentA+"|"+c.AgentB+":"+c.Type] = c
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	gaps := make([]Gap, 0, len(gapSeen))
	for _, g := range gapSeen {
		gaps = append(gaps, g)
	}
	sort.Slice(gaps, func(i, j int) bool {
		if gaps[i].Kind != gaps[j].Kind {
			return gaps[i].Kind < gaps[j].Kind
		}
		return gaps[i].Agent < gaps[j].Agent
	})

	conflicts := make([]Conflict, 0, len(conflictSeen))
	for _, c := range conflictSeen {
		conflicts = append(conflicts, c)
	}
	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].AgentA != conflicts[j].AgentA {
			return conflicts[i].AgentA < conflicts[j].AgentA
		}
		if conflicts[i].AgentB != conflicts[j].AgentB {
			return conflicts[i].AgentB < conflicts[j].AgentB
		}
		return conflicts[i].Type < conflicts[j].Type
	})

	return gaps, conflicts, nil
}

// gapActions maps each gap kind to its fixed suggested action.
var gapActions = map[string]string{
	"implementation_without_verification": "run a verification agent against the new changes before shipping",
	"feature_without_documentation":       "schedule the_archivist to document the new behavior",
	"deploy_without_cicd":                 "wire the deployment into a CI/CD pipeline instead of manual runs",
	"critical_agent_failed":               "re-execute the failed critical agent before anything downstream",
}

// nameTerm renders a string as a Mangle name constant, sanitizing to
// the identifier charset. Falls back to a plain string constant for
// input that cannot form a valid name.
func nameTerm(s string) ast.BaseTerm {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-' || r == ' ' || r == '.':
			b.WriteByte('_')
		}
	}
	clean := b.String()
	if clean == "" || clean[0] >= '0' && clean[0] <= '9' {
		clean = "x" + clean
	}
	n, err := ast.Name("/" + clean)
	if err != nil {
		return ast.String(s)
	}
	return n
}

// constSymbol extracts the bare symbol of a constant, stripping the
// leading slash of name constants.
func constSymbol(t ast.BaseTerm) string {
	c, ok := t.(ast.Constant)
	if !ok {
		return t.String()
	}
	return strings.TrimPrefix(c.Symbol, "/")
}
