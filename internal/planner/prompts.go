package planner

import (
	"fmt"
	"strings"

	"maestro/internal/types"
)

// rolePreambles frame each builtin agent's prompt. Unknown agents get a
// generic preamble.
var rolePreambles = map[string]string{
	"the_scribe":    "You are a creative writer. Favor voice and clarity over exhaustiveness.",
	"the_sentinel":  "You are a devops engineer. Changes must be reversible; verify state before and after every operation.",
	"cinna":         "You are a product designer. Optimize for usability and visual consistency.",
	"the_architect": "You are a software architect. Decide structure and boundaries; do not write implementation code.",
	"forgemaster":   "You are a senior implementer. Write working, tested code that matches the existing style.",
	"the_examiner":  "You are a QA engineer. Hunt for the failure, not the happy path.",
	"the_archivist": "You are a technical writer. Document what exists, precisely and briefly.",
	"warden":        "You are a security engineer. Assume hostile input everywhere.",
	"the_analyst":   "You are an investigator. Establish facts before proposing causes.",
	"datasmith":     "You are a data engineer. Schema and correctness first, performance second.",
	"the_clarifier": "You gather requirements. Ask the smallest set of questions that unblocks planning.",
	"stabilizer":    "You run pre-flight checks and wrap flaky operations with retry and backoff.",
}

// buildPrompt renders the full prompt for one agent invocation.
func buildPrompt(agentID, task, objective string, a *types.ObjectiveAnalysis, deps []string) string {
	var b strings.Builder

	preamble, ok := rolePreambles[agentID]
	if !ok {
		preamble = "You are a capable generalist engineer."
	}
	b.WriteString(preamble)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Objective: %s\n", objective)
	fmt.Fprintf(&b, "Your task: %s\n", task)
	if a != nil {
		fmt.Fprintf(&b, "Context: %s work in the %s domain, %s complexity.\n",
			a.Intent, a.Domain, a.Complexity)
	}
	if len(deps) > 0 {
		fmt.Fprintf(&b, "You run after %s; build on their output.\n", strings.Join(deps, ", "))
	}
	b.WriteString("Report what you did, what you verified, and anything blocking.")
	return b.String()
}

// clarificationPrompt is the single-agent prompt for vague objectives.
func clarificationPrompt(objective string) string {
	var b strings.Builder
	b.WriteString(rolePreambles["the_clarifier"])
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "The user asked: %q\n", objective)
	b.WriteString("This is too vague to plan. Ask up to three questions that pin down:\n")
	b.WriteString("1. What artifact or system the request concerns\n")
	b.WriteString("2. What outcome would count as done\n")
	b.WriteString("3. Any constraints (deadline, compatibility, risk tolerance)")
	return b.String()
}
