package coordinator

import (
	"fmt"
	"regexp"
	"strings"

	"maestro/internal/types"
)

// phaseOrder fixes the section order of a successful synthesis.
var phaseOrder = []string{"design", "implementation", "verification", "documentation", "deployment"}

// agentPhases maps the builtin roster onto execution phases. Unknown
// agents are treated as implementers.
var agentPhases = map[string]string{
	"the_architect": "design",
	"cinna":         "design",
	"the_analyst":   "design",
	"the_clarifier": "design",
	"forgemaster":   "implementation",
	"datasmith":     "implementation",
	"the_scribe":    "implementation",
	"the_examiner":  "verification",
	"warden":        "verification",
	"the_archivist": "documentation",
	"the_sentinel":  "deployment",
	"stabilizer":    "deployment",
}

func phaseOf(agentID string) string {
	if p, ok := agentPhases[agentID]; ok {
		return p
	}
	return "implementation"
}

// synthesize renders the human-readable outcome of an execution. Any
// failure turns the whole synthesis into a failure report; otherwise
// outputs are grouped by phase with their summaries extracted.
func synthesize(objective string, results []types.AgentResult) string {
	var failed, succeeded []types.AgentResult
	for _, r := range results {
		if r.Success {
			succeeded = append(succeeded, r)
		} else {
			failed = append(failed, r)
		}
	}

	var b strings.Builder
	if len(failed) > 0 {
		fmt.Fprintf(&b, "Execution failed: %d of %d agents did not complete.\n\n", len(failed), len(results))
		b.WriteString("Failed:\n")
		for _, r := range failed {
			msg := r.Error
			if msg == "" {
				msg = "no error reported"
			}
			fmt.Fprintf(&b, "- %s: %s\n", r.AgentID, msg)
		}
		if len(succeeded) > 0 {
			b.WriteString("\nSucceeded:\n")
			for _, r := range succeeded {
				fmt.Fprintf(&b, "- %s\n", r.AgentID)
			}
		}
		return strings.TrimRight(b.String(), "\n")
	}

	fmt.Fprintf(&b, "## Summary\n\nObjective: %s\n", objective)
	for _, phase := range phaseOrder {
		var section []string
		for _, r := range results {
			if phaseOf(r.AgentID) != phase {
				continue
			}
			summary := extractSummary(r.Output)
			if summary == "" {
				summary = "completed with no report"
			}
			section = append(section, fmt.Sprintf("- %s: %s", r.AgentID, summary))
		}
		if len(section) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n### %s\n%s\n", capitalize(phase), strings.Join(section, "\n"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

const maxSummaryLen = 600

var summaryHeading = regexp.MustCompile(`(?mi)^#{1,3}\s*summary\s*$`)

// extractSummary pulls the report out of an agent's raw output: the
// text under a "## Summary" heading when present, else the first
// non-empty paragraph.
func extractSummary(output string) string {
	output = strings.TrimSpace(output)
	if output == "" {
		return ""
	}

	if loc := summaryHeading.FindStringIndex(output); loc != nil {
		rest := output[loc[1]:]
		if next := strings.Index(rest, "\n#"); next >= 0 {
			rest = rest[:next]
		}
		return clip(strings.TrimSpace(rest))
	}

	para := output
	if idx := strings.Index(output, "\n\n"); idx >= 0 {
		para = output[:idx]
	}
	return clip(strings.TrimSpace(para))
}

func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxSummaryLen {
		return s
	}
	cut := s[:maxSummaryLen]
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}

// mentionToken matches backtick-quoted identifiers, the convention
// agents use for files, packages and libraries in their reports.
var mentionToken = regexp.MustCompile("`([a-zA-Z][a-zA-Z0-9_./-]{1,39})`")

// cicdVocabulary is scanned unquoted; CI systems rarely get backticks.
var cicdVocabulary = []string{"pipeline", "workflow", "github actions", "jenkins", "ci/cd"}

const maxMentionsPerAgent = 32

// extractMentions collects the artifact tokens one agent's output
// refers to, lowercased and deduplicated.
func extractMentions(output string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(tok string) {
		if tok == "" || seen[tok] || len(out) >= maxMentionsPerAgent {
			return
		}
		seen[tok] = true
		out = append(out, tok)
	}

	for _, m := range mentionToken.FindAllStringSubmatch(output, -1) {
		add(strings.ToLower(m[1]))
	}
	lower := strings.ToLower(output)
	for _, word := range cicdVocabulary {
		if strings.Contains(lower, word) {
			if word == "ci/cd" {
				add("ci")
			} else {
				add(word)
			}
		}
	}
	return out
}
