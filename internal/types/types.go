// Package types holds the value types shared by every maestro subsystem.
//
// All types here are plain data: planning takes copies, the learning loop
// owns the mutable aggregates (see internal/core). Cross-entity references
// are id-based; there are no back-pointers.
package types

import "time"

// =============================================================================
// ENUMS
// =============================================================================

// Intent classifies what the objective is trying to do.
type Intent string

const (
	IntentDeploy      Intent = "deploy"
	IntentCreateNew   Intent = "create_new"
	IntentInvestigate Intent = "investigate"
	IntentValidate    Intent = "validate"
	IntentFixIssue    Intent = "fix_issue"
	IntentModify      Intent = "modify_existing"
	IntentDocument    Intent = "document"
	IntentOptimize    Intent = "optimize"
	IntentDesign      Intent = "design"
)

// Domain classifies the subject area of the objective.
type Domain string

const (
	DomainCreative       Domain = "creative"
	DomainSecurity       Domain = "security"
	DomainInfrastructure Domain = "infrastructure"
	DomainTesting        Domain = "testing"
	DomainUIUX           Domain = "ui_ux"
	DomainData           Domain = "data"
	DomainDocumentation  Domain = "documentation"
	DomainArchitecture   Domain = "architecture"
	DomainResearch       Domain = "research"
	DomainCode           Domain = "code"
)

// Domains lists every domain in cascade priority order (creative first,
// code as the default catch-all).
var Domains = []Domain{
	DomainCreative, DomainSecurity, DomainInfrastructure, DomainTesting,
	DomainUIUX, DomainData, DomainDocumentation, DomainArchitecture,
	DomainResearch, DomainCode,
}

// TaskType is derived from intent and domain.
type TaskType string

const (
	TaskCreative      TaskType = "creative"
	TaskCommunicative TaskType = "communicative"
	TaskAnalytical    TaskType = "analytical"
	TaskOperational   TaskType = "operational"
	TaskTechnical     TaskType = "technical"
)

// Complexity buckets an objective by expected effort.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Priority orders agents within a plan.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// PriorityRank maps a priority to a sortable rank (lower is more urgent).
func PriorityRank(p Priority) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// Strategy is the execution shape of a plan.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
	StrategyPhased     Strategy = "phased"
)

// ScopeLevel bounds where learned patterns may be shared.
type ScopeLevel string

const (
	ScopeUser    ScopeLevel = "user"
	ScopeProject ScopeLevel = "project"
	ScopeOrg     ScopeLevel = "org"
	ScopeGlobal  ScopeLevel = "global"
)

// Sensitivity gates anonymization of persisted patterns.
type Sensitivity string

const (
	SensitivityPublic       Sensitivity = "public"
	SensitivityInternal     Sensitivity = "internal"
	SensitivityConfidential Sensitivity = "confidential"
	SensitivityRestricted   Sensitivity = "restricted"
)

// Scope is the sharing boundary for persisted patterns.
// Invariants: restricted implies user level, confidential implies project
// level at most.
type Scope struct {
	Level       ScopeLevel  `json:"level"`
	Identifier  string      `json:"identifier"`
	CanShare    bool        `json:"can_share"`
	Sensitivity Sensitivity `json:"sensitivity"`
}

// =============================================================================
// AGENTS
// =============================================================================

// AgentCapability describes a registered agent plus its running stats.
// Stats are updated only by the feedback loop; SuccessRate falls back to
// the 0.5 prior until observations exist.
type AgentCapability struct {
	ID             string   `json:"id"`
	Specialization string   `json:"specialization"`
	Capabilities   []string `json:"capabilities"`
	Tools          []string `json:"tools"`
	UseCases       []string `json:"use_cases,omitempty"`
	MandatoryFor   []Domain `json:"mandatory_for,omitempty"`

	AvgTokens     float64   `json:"avg_tokens"`
	AvgDurationMs float64   `json:"avg_duration_ms"`
	Total         int       `json:"total_executions"`
	Successes     int       `json:"successes"`
	SuccessRate   float64   `json:"success_rate"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// HasCapability reports whether the agent declares the given capability tag.
func (a *AgentCapability) HasCapability(tag string) bool {
	for _, c := range a.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// MandatoryIn reports whether the agent must be included for the domain.
func (a *AgentCapability) MandatoryIn(d Domain) bool {
	for _, m := range a.MandatoryFor {
		if m == d {
			return true
		}
	}
	return false
}

// =============================================================================
// ANALYSIS
// =============================================================================

// ObjectiveAnalysis is the discrete classification of an objective.
// Confidence here is the semantic top-label margin, distinct from the
// Bayesian posterior carried on the plan.
type ObjectiveAnalysis struct {
	Intent            Intent     `json:"intent"`
	Domain            Domain     `json:"domain"`
	TaskType          TaskType   `json:"task_type"`
	Complexity        Complexity `json:"complexity"`
	RecommendedAgents []string   `json:"recommended_agents"`
	Confidence        float64    `json:"confidence"`
	Rationale         string     `json:"rationale"`
}

// SemanticEmbedding holds multi-label scores for an objective. Scores are
// not required to sum to 1.
type SemanticEmbedding struct {
	IntentScores    map[Intent]float64 `json:"intent_scores"`
	DomainScores    map[Domain]float64 `json:"domain_scores"`
	ComplexityScore float64            `json:"complexity_score"`
	Confidence      float64            `json:"confidence"`
}

// =============================================================================
// PLANS
// =============================================================================

// AgentSpec is one agent invocation within a plan. Dependencies reference
// other agent ids in the same plan and must form a DAG.
type AgentSpec struct {
	AgentID         string   `json:"agent_id"`
	TaskDescription string   `json:"task_description"`
	Prompt          string   `json:"prompt"`
	Dependencies    []string `json:"dependencies,omitempty"`
	Priority        Priority `json:"priority"`
}

// Phase groups agents that belong to the same stage of a phased plan.
type Phase struct {
	Name           string   `json:"name"`
	Agents         []string `json:"agents"`
	CanRunParallel bool     `json:"can_run_parallel"`
}

// OrchestrationPlan is the planner's output. It is immutable once returned.
type OrchestrationPlan struct {
	Agents          []AgentSpec `json:"agents"`
	Strategy        Strategy    `json:"strategy"`
	Phases          []Phase     `json:"phases,omitempty"`
	SuccessCriteria []string    `json:"success_criteria,omitempty"`
	EstimatedTokens int         `json:"estimated_tokens"`
	Rationale       string      `json:"rationale"`

	Confidence         float64    `json:"confidence"`
	ConfidenceInterval [2]float64 `json:"confidence_interval"`
	Uncertainty        float64    `json:"uncertainty"`
	Warnings           []string   `json:"warnings,omitempty"`
}

// AgentIDs returns the plan's agent ids in plan order.
func (p *OrchestrationPlan) AgentIDs() []string {
	ids := make([]string, len(p.Agents))
	for i, a := range p.Agents {
		ids[i] = a.AgentID
	}
	return ids
}

// Contains reports whether the plan includes the given agent id.
func (p *OrchestrationPlan) Contains(id string) bool {
	for _, a := range p.Agents {
		if a.AgentID == id {
			return true
		}
	}
	return false
}

// PlanConstraints bound what the planner may return.
type PlanConstraints struct {
	MaxAgents      int  `json:"max_agents,omitempty"`
	MaxTokens      int  `json:"max_tokens,omitempty"`
	PreferParallel bool `json:"prefer_parallel,omitempty"`
}

// ProjectContext is the host-supplied metadata for a planning request.
type ProjectContext struct {
	ProjectID   string            `json:"project_id,omitempty"`
	ProjectType string            `json:"project_type,omitempty"`
	Languages   []string          `json:"languages,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// =============================================================================
// EXECUTION RESULTS AND PATTERNS
// =============================================================================

// AgentResult is the host-reported outcome for one executed agent.
type AgentResult struct {
	AgentID    string `json:"agent_id"`
	Output     string `json:"output"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"duration_ms"`
	TokensUsed int    `json:"tokens_used"`
	Error      string `json:"error,omitempty"`
}

// ExecutionPattern is the immutable record of one planning+execution cycle.
type ExecutionPattern struct {
	ID              string         `json:"id"`
	Timestamp       time.Time      `json:"timestamp"`
	Objective       string         `json:"objective"`
	ObjectiveType   Intent         `json:"objective_type"`
	Domain          Domain         `json:"domain"`
	TaskType        TaskType       `json:"task_type"`
	Complexity      Complexity     `json:"complexity"`
	ProjectContext  ProjectContext `json:"project_context"`
	AgentsUsed      []string       `json:"agents_used"`
	ExecutionOrder  []string       `json:"execution_order,omitempty"`
	AgentResults    []AgentResult  `json:"agent_results,omitempty"`
	Success         bool           `json:"success"`
	TotalDurationMs int64          `json:"total_duration_ms"`
	TotalTokens     int            `json:"total_tokens"`
	Conflicts       []string       `json:"conflicts,omitempty"`
	Gaps            []string       `json:"gaps,omitempty"`
	Verified        bool           `json:"verification_passed"`
	FailureReason   string         `json:"failure_reason,omitempty"`
	FailedAgent     string         `json:"failed_agent,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	Synthetic       bool           `json:"synthetic,omitempty"`
	FailureChainID  string         `json:"failure_chain_id,omitempty"`

	// Plan-time predictions, carried so the feedback loop can calibrate
	// the confidence engine and the optimizer against actuals.
	PredictedConfidence float64 `json:"predicted_confidence,omitempty"`
	EstimatedTokens     int     `json:"estimated_tokens,omitempty"`

	// Stamped by the temporal decay filter; not persisted.
	TemporalRelevance float64 `json:"-"`
}

// =============================================================================
// FAILURE ANALYSIS
// =============================================================================

// ErrorCategory is the closed classification of agent failures.
type ErrorCategory string

const (
	ErrMissingDependency ErrorCategory = "missing_dependency"
	ErrVersionMismatch   ErrorCategory = "version_mismatch"
	ErrConfiguration     ErrorCategory = "configuration_error"
	ErrCompilation       ErrorCategory = "compilation_error"
	ErrSyntax            ErrorCategory = "syntax_error"
	ErrNetwork           ErrorCategory = "network_error"
	ErrTimeout           ErrorCategory = "timeout"
	ErrAPIRateLimit      ErrorCategory = "api_rate_limit"
	ErrAuthentication    ErrorCategory = "authentication_error"
	ErrPermission        ErrorCategory = "permission_error"
	ErrResourceExhausted ErrorCategory = "resource_exhausted"
	ErrLogic             ErrorCategory = "logic_error"
	ErrUnknown           ErrorCategory = "unknown"
)

// ErrorSeverity grades a failure.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// RecoveryStrategy is what the host should do about a failure.
type RecoveryStrategy string

const (
	RecoverRetry        RecoveryStrategy = "retry"
	RecoverRetryBackoff RecoveryStrategy = "retry_backoff"
	RecoverFallback     RecoveryStrategy = "fallback"
	RecoverAbort        RecoveryStrategy = "abort"
	RecoverManual       RecoveryStrategy = "manual"
)

// FailureContext is the analyzed view of one failed execution.
type FailureContext struct {
	PatternID            string           `json:"pattern_id,omitempty"`
	Objective            string           `json:"objective"`
	FailedAgent          string           `json:"failed_agent"`
	ErrorMessage         string           `json:"error_message"`
	ErrorCategory        ErrorCategory    `json:"error_category"`
	ErrorSeverity        ErrorSeverity    `json:"error_severity"`
	ErrorDomain          Domain           `json:"error_domain,omitempty"`
	PrecedingAgents      []string         `json:"preceding_agents,omitempty"`
	RecoveryStrategy     RecoveryStrategy `json:"recovery_strategy"`
	IsRecoverable        bool             `json:"is_recoverable"`
	LearnedAvoidanceRule string           `json:"learned_avoidance_rule,omitempty"`
	FailureChainID       string           `json:"failure_chain_id,omitempty"`
	Timestamp            time.Time        `json:"timestamp"`
}

// =============================================================================
// AGGREGATES
// =============================================================================

// AggregateStats summarizes the rolling-window pattern corpus.
type AggregateStats struct {
	TotalExecutions   int            `json:"total_executions"`
	SuccessRate       float64        `json:"success_rate"`
	AvgDurationMs     float64        `json:"avg_duration_ms"`
	AvgTokens         float64        `json:"avg_tokens"`
	AgentUsage        map[string]int `json:"agent_usage"`
	ErrorFrequency    map[string]int `json:"error_frequency"`
	HourlySuccessRate [24]float64    `json:"hourly_success_rate"`
}
