// Package semantic maps free-text objectives to discrete analyses and
// multi-label embeddings. The analyzer is deterministic and needs no
// external calls; a configured embedding provider only enriches the
// separate vector path (internal/embedding).
package semantic

import (
	"fmt"
	"strings"

	"maestro/internal/logging"
	"maestro/internal/types"
)

// intentRule is one entry of the priority-ordered intent cascade.
type intentRule struct {
	intent   types.Intent
	keywords []string
}

// The cascade order is load-bearing: deploy is checked before create_new
// so "setup infrastructure" routes to deploy rather than creation.
var intentCascade = []intentRule{
	{types.IntentDeploy, []string{
		"deploy", "setup", "provision", "release", "rollout", "ship",
		"launch", "install", "spin up",
	}},
	{types.IntentCreateNew, []string{
		"create", "build", "write", "implement", "add", "scaffold",
		"generate", "develop", "make", "new ",
	}},
	{types.IntentInvestigate, []string{
		"investigate", "debug", "diagnose", "analyze", "explore",
		"understand", "why", "trace", "root cause",
	}},
	{types.IntentValidate, []string{
		"validate", "verify", "test", "check", "audit", "ensure", "confirm",
	}},
	{types.IntentFixIssue, []string{
		"fix", "repair", "resolve", "bug", "issue", "error", "broken",
		"crash", "failing",
	}},
	{types.IntentModify, []string{
		"modify", "update", "change", "refactor", "rename", "migrate",
		"upgrade", "convert",
	}},
	{types.IntentDocument, []string{
		"document", "documentation", "readme", "docs", "explain",
		"describe", "comment",
	}},
	{types.IntentOptimize, []string{
		"optimize", "performance", "speed up", "faster", "profile",
		"improve", "reduce latency", "memory usage",
	}},
	{types.IntentDesign, []string{
		"design", "architect", "sketch", "wireframe", "mockup", "blueprint",
	}},
}

type domainRule struct {
	domain   types.Domain
	keywords []string
}

// Domain cascade: creative first so "poem/story/art" never lands in a
// technical domain; code is the catch-all default.
//
// Frontend framework names (react, vue, ...) are deliberately absent:
// a framework name alone does not imply ui_ux work.
var domainCascade = []domainRule{
	{types.DomainCreative, []string{
		"haiku", "poem", "poetry", "story", "art", "song", "lyric",
		"fiction", "narrative", "creative",
	}},
	{types.DomainSecurity, []string{
		"security", "vulnerability", "cve", "exploit", "encryption",
		"credential", "penetration", "xss", "injection",
	}},
	{types.DomainInfrastructure, []string{
		"deploy", "kubernetes", "k8s", "docker", "container", "cluster",
		"terraform", "aws", "gcp", "azure", "cloud", "ci/cd", "provision",
		"helm", "server",
	}},
	{types.DomainTesting, []string{
		"test", "tests", "testing", "coverage", "unit test",
		"integration test", "e2e", "regression",
	}},
	{types.DomainUIUX, []string{
		"ui", "ux", "dashboard", "frontend", "css", "layout", "interface",
		"visualiz", "user experience", "responsive", "accessibility",
	}},
	{types.DomainData, []string{
		"database", "sql", "etl", "data pipeline", "schema", "analytics",
		"dataset", "warehouse", "query",
	}},
	{types.DomainDocumentation, []string{
		"documentation", "readme", "guide", "tutorial", "changelog",
		"api docs",
	}},
	{types.DomainArchitecture, []string{
		"architecture", "architectural", "system design", "microservice",
		"adr", "module structure",
	}},
	{types.DomainResearch, []string{
		"research", "investigate", "compare", "evaluate", "feasibility",
		"survey",
	}},
	{types.DomainCode, nil}, // default
}

// Vocabulary used to disambiguate the word "orchestration": it is an
// infrastructure signal only alongside container/cluster terms, and a
// ui_ux signal alongside dashboard/visualization terms.
var (
	containerVocab = []string{"container", "cluster", "kubernetes", "k8s", "docker", "helm", "node pool", "pod"}
	dashboardVocab = []string{"dashboard", "visualiz", "chart", "graph", "widget", "demo"}
)

var complexMarkers = []string{
	"entire", "multiple", "integrate", "across", "all ", "system-wide",
	"end-to-end", "migration", "overhaul",
}

var simpleMarkers = []string{"simple", "quick", "small", "minor", "tiny", "one-line"}

// recommendedByDomain maps domains to the default specialist roster.
var recommendedByDomain = map[types.Domain][]string{
	types.DomainCreative:       {"the_scribe"},
	types.DomainSecurity:       {"warden", "the_examiner"},
	types.DomainInfrastructure: {"the_sentinel"},
	types.DomainTesting:        {"the_examiner"},
	types.DomainUIUX:           {"cinna", "forgemaster"},
	types.DomainData:           {"datasmith"},
	types.DomainDocumentation:  {"the_archivist"},
	types.DomainArchitecture:   {"the_architect"},
	types.DomainResearch:       {"the_analyst"},
	types.DomainCode:           {"forgemaster", "the_examiner"},
}

var recommendedByIntent = map[types.Intent][]string{
	types.IntentDesign:   {"the_architect"},
	types.IntentFixIssue: {"forgemaster"},
	types.IntentDocument: {"the_archivist"},
	types.IntentValidate: {"the_examiner"},
}

// Analyzer classifies objectives. It is stateless apart from the
// calibration counters updated by the feedback loop.
type Analyzer struct {
	calibration *Calibration
}

// NewAnalyzer creates an analyzer with fresh calibration state.
func NewAnalyzer() *Analyzer {
	return &Analyzer{calibration: NewCalibration()}
}

// Calibration exposes the analyzer's calibration counters.
func (a *Analyzer) Calibration() *Calibration { return a.calibration }

// Analyze maps an objective to its discrete analysis tuple. Never returns
// an error: an empty objective yields the low-confidence investigate/
// research default.
func (a *Analyzer) Analyze(objective string) types.ObjectiveAnalysis {
	text := strings.ToLower(strings.TrimSpace(objective))
	if text == "" {
		return types.ObjectiveAnalysis{
			Intent:            types.IntentInvestigate,
			Domain:            types.DomainResearch,
			TaskType:          types.TaskAnalytical,
			Complexity:        types.ComplexitySimple,
			RecommendedAgents: []string{"the_analyst"},
			Confidence:        0.2,
			Rationale:         "empty objective; defaulting to investigation",
		}
	}

	intent, intentHits := detectIntent(text)
	domain, domainHits := detectDomain(text)
	complexity := detectComplexity(text)
	taskType := deriveTaskType(intent, domain)

	emb := a.Embed(objective)
	confidence := emb.Confidence
	if intentHits == 0 && domainHits == 0 {
		confidence = 0.3
	}

	agents := recommendAgents(intent, domain)

	rationale := fmt.Sprintf("intent=%s domain=%s task=%s complexity=%s (keyword hits: intent=%d domain=%d)",
		intent, domain, taskType, complexity, intentHits, domainHits)
	logging.Get(logging.CategorySemantic).Debug("analyzed %q: %s", truncate(objective, 80), rationale)

	return types.ObjectiveAnalysis{
		Intent:            intent,
		Domain:            domain,
		TaskType:          taskType,
		Complexity:        complexity,
		RecommendedAgents: agents,
		Confidence:        confidence,
		Rationale:         rationale,
	}
}

// Embed produces multi-label scores by counting weighted rule matches per
// label and normalizing against the best label. Confidence equals the
// margin between the top label and the runner-up, floored so that a clear
// single-label match is still trusted.
func (a *Analyzer) Embed(objective string) types.SemanticEmbedding {
	text := strings.ToLower(strings.TrimSpace(objective))

	intentScores := make(map[types.Intent]float64, len(intentCascade))
	var intentBest, intentSecond float64
	for _, rule := range intentCascade {
		score := matchScore(text, rule.keywords)
		intentScores[rule.intent] = score
		if score > intentBest {
			intentSecond = intentBest
			intentBest = score
		} else if score > intentSecond {
			intentSecond = score
		}
	}

	domainScores := make(map[types.Domain]float64, len(domainCascade))
	var domainBest, domainSecond float64
	for _, rule := range domainCascade {
		score := matchScore(text, rule.keywords)
		score += orchestrationVote(text, rule.domain)
		domainScores[rule.domain] = score
		if score > domainBest {
			domainSecond = domainBest
			domainBest = score
		} else if score > domainSecond {
			domainSecond = score
		}
	}

	normalize(intentScores, intentBest)
	normalizeDomains(domainScores, domainBest)

	confidence := 0.3
	if intentBest > 0 || domainBest > 0 {
		intentMargin := margin(intentBest, intentSecond)
		domainMargin := margin(domainBest, domainSecond)
		confidence = clamp(0.4+0.55*(intentMargin+domainMargin)/2, 0.3, 0.95)
	}

	return types.SemanticEmbedding{
		IntentScores:    intentScores,
		DomainScores:    domainScores,
		ComplexityScore: complexityScore(text),
		Confidence:      confidence,
	}
}

func detectIntent(text string) (types.Intent, int) {
	for _, rule := range intentCascade {
		if hits := countHits(text, rule.keywords); hits > 0 {
			return rule.intent, hits
		}
	}
	return types.IntentInvestigate, 0
}

func detectDomain(text string) (types.Domain, int) {
	for _, rule := range domainCascade {
		hits := countHits(text, rule.keywords)
		if orchestrationVote(text, rule.domain) > 0 {
			hits++
		}
		if hits > 0 {
			return rule.domain, hits
		}
	}
	return types.DomainCode, 0
}

// orchestrationVote resolves the ambiguous word "orchestration" by
// co-occurrence: container vocabulary makes it infrastructure, dashboard
// vocabulary makes it ui_ux, and alone it votes for neither.
func orchestrationVote(text string, d types.Domain) float64 {
	if !strings.Contains(text, "orchestration") && !strings.Contains(text, "orchestrat") {
		return 0
	}
	switch d {
	case types.DomainInfrastructure:
		if containsAny(text, containerVocab) {
			return 1
		}
	case types.DomainUIUX:
		if !containsAny(text, containerVocab) && containsAny(text, dashboardVocab) {
			return 1
		}
	}
	return 0
}

func detectComplexity(text string) types.Complexity {
	if containsAny(text, simpleMarkers) {
		return types.ComplexitySimple
	}
	words := len(strings.Fields(text))
	if containsAny(text, complexMarkers) || words > 20 {
		return types.ComplexityComplex
	}
	if words > 8 {
		return types.ComplexityModerate
	}
	return types.ComplexitySimple
}

func complexityScore(text string) float64 {
	switch detectComplexity(text) {
	case types.ComplexityComplex:
		return 0.9
	case types.ComplexityModerate:
		return 0.5
	default:
		return 0.2
	}
}

func deriveTaskType(intent types.Intent, domain types.Domain) types.TaskType {
	switch {
	case domain == types.DomainCreative:
		return types.TaskCreative
	case intent == types.IntentDocument || domain == types.DomainDocumentation:
		return types.TaskCommunicative
	case intent == types.IntentInvestigate || intent == types.IntentValidate || domain == types.DomainResearch:
		return types.TaskAnalytical
	case intent == types.IntentDeploy || domain == types.DomainInfrastructure:
		return types.TaskOperational
	default:
		return types.TaskTechnical
	}
}

func recommendAgents(intent types.Intent, domain types.Domain) []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range recommendedByIntent[intent] {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range recommendedByDomain[domain] {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// =============================================================================
// SCORING HELPERS
// =============================================================================

func countHits(text string, keywords []string) int {
	hits := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			hits++
		}
	}
	return hits
}

func containsAny(text string, keywords []string) bool {
	return countHits(text, keywords) > 0
}

// matchScore weights multi-word keywords higher: a phrase match carries
// more signal than a single token.
func matchScore(text string, keywords []string) float64 {
	var score float64
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			if strings.ContainsRune(strings.TrimSpace(kw), ' ') {
				score += 1.5
			} else {
				score += 1.0
			}
		}
	}
	return score
}

func normalize(scores map[types.Intent]float64, best float64) {
	if best <= 0 {
		return
	}
	for k, v := range scores {
		scores[k] = v / best
	}
}

func normalizeDomains(scores map[types.Domain]float64, best float64) {
	if best <= 0 {
		return
	}
	for k, v := range scores {
		scores[k] = v / best
	}
}

func margin(best, second float64) float64 {
	if best <= 0 {
		return 0
	}
	return (best - second) / best
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
