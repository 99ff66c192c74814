// Package failure classifies agent errors into a closed taxonomy and
// derives severity, recoverability, and a recovery strategy for each.
package failure

import (
	"fmt"
	"strings"
	"time"

	"maestro/internal/types"
)

// classifierRule maps error-message markers to a category. Rules are
// checked in order; the first rule with a matching marker wins, so more
// specific markers come first.
type classifierRule struct {
	category types.ErrorCategory
	markers  []string
}

var classifierRules = []classifierRule{
	{types.ErrAPIRateLimit, []string{"rate limit", "429", "too many requests", "quota exceeded"}},
	{types.ErrAuthentication, []string{"401", "unauthorized", "authentication failed", "invalid credentials", "token expired"}},
	{types.ErrPermission, []string{"403", "permission denied", "eacces", "access denied", "forbidden"}},
	{types.ErrTimeout, []string{"timeout", "timed out", "deadline exceeded", "context deadline"}},
	{types.ErrNetwork, []string{"econnrefused", "connection refused", "connection reset", "no such host", "network unreachable", "dns", "broken pipe"}},
	{types.ErrMissingDependency, []string{"module not found", "cannot find module", "no module named", "package not found", "command not found", "modulenotfounderror", "unresolved import"}},
	{types.ErrVersionMismatch, []string{"version mismatch", "incompatible version", "requires version", "peer dep", "version conflict"}},
	{types.ErrConfiguration, []string{"missing env", "environment variable", "config not found", "invalid configuration", "misconfigured", "missing required field"}},
	{types.ErrSyntax, []string{"syntaxerror", "syntax error", "unexpected token", "parse error", "unterminated"}},
	{types.ErrCompilation, []string{"compilation failed", "compile error", "build failed", "undefined reference", "type error", "cannot use", "undeclared"}},
	{types.ErrResourceExhausted, []string{"out of memory", "oom", "no space left", "disk full", "resource exhausted", "too many open files"}},
	{types.ErrLogic, []string{"assertion failed", "test failed", "expected", "panic:", "nil pointer", "index out of range"}},
}

// Classify buckets an error message into the taxonomy. Unmatched and
// empty messages map to unknown.
func Classify(errorMessage string) types.ErrorCategory {
	if errorMessage == "" {
		return types.ErrUnknown
	}
	msg := strings.ToLower(errorMessage)
	for _, rule := range classifierRules {
		for _, marker := range rule.markers {
			if strings.Contains(msg, marker) {
				return rule.category
			}
		}
	}
	return types.ErrUnknown
}

// baseSeverity is the floor severity for each category before message
// markers can raise it.
var baseSeverity = map[types.ErrorCategory]types.ErrorSeverity{
	types.ErrMissingDependency: types.SeverityHigh,
	types.ErrVersionMismatch:   types.SeverityHigh,
	types.ErrConfiguration:     types.SeverityMedium,
	types.ErrCompilation:       types.SeverityHigh,
	types.ErrSyntax:            types.SeverityHigh,
	types.ErrNetwork:           types.SeverityMedium,
	types.ErrTimeout:           types.SeverityLow,
	types.ErrAPIRateLimit:      types.SeverityLow,
	types.ErrAuthentication:    types.SeverityHigh,
	types.ErrPermission:        types.SeverityHigh,
	types.ErrResourceExhausted: types.SeverityHigh,
	types.ErrLogic:             types.SeverityMedium,
	types.ErrUnknown:           types.SeverityMedium,
}

// Severity grades a failure from its category, escalating when the
// message itself flags a blocker.
func Severity(category types.ErrorCategory, errorMessage string) types.ErrorSeverity {
	sev := baseSeverity[category]
	if sev == "" {
		sev = types.SeverityMedium
	}
	msg := strings.ToLower(errorMessage)
	if strings.Contains(msg, "fatal") || strings.Contains(msg, "blocker") || strings.Contains(msg, "data loss") {
		return types.SeverityCritical
	}
	return sev
}

// recoveryByCategory maps each category to what the host should do
// next. Compilation and syntax failures poison everything downstream,
// so they abort; degraded environments fall back; transient faults
// retry, with backoff where hammering makes things worse.
var recoveryByCategory = map[types.ErrorCategory]types.RecoveryStrategy{
	types.ErrMissingDependency: types.RecoverRetry,
	types.ErrVersionMismatch:   types.RecoverFallback,
	types.ErrConfiguration:     types.RecoverFallback,
	types.ErrCompilation:       types.RecoverAbort,
	types.ErrSyntax:            types.RecoverAbort,
	types.ErrNetwork:           types.RecoverRetry,
	types.ErrTimeout:           types.RecoverRetry,
	types.ErrAPIRateLimit:      types.RecoverRetryBackoff,
	types.ErrAuthentication:    types.RecoverManual,
	types.ErrPermission:        types.RecoverManual,
	types.ErrResourceExhausted: types.RecoverRetryBackoff,
	types.ErrLogic:             types.RecoverManual,
	types.ErrUnknown:           types.RecoverManual,
}

// Recovery returns the recommended strategy for a failure. Critical
// failures abort regardless of category. Network errors split on the
// message: a refused connection means the peer is down and gets
// backoff, any other transport fault retries immediately.
func Recovery(category types.ErrorCategory, severity types.ErrorSeverity, errorMessage string) types.RecoveryStrategy {
	if severity == types.SeverityCritical {
		return types.RecoverAbort
	}
	if category == types.ErrNetwork {
		msg := strings.ToLower(errorMessage)
		if strings.Contains(msg, "connection refused") || strings.Contains(msg, "econnrefused") {
			return types.RecoverRetryBackoff
		}
		return types.RecoverRetry
	}
	if s, ok := recoveryByCategory[category]; ok {
		return s
	}
	return types.RecoverManual
}

// Recoverable reports whether an automated recovery is worth attempting.
func Recoverable(strategy types.RecoveryStrategy) bool {
	switch strategy {
	case types.RecoverRetry, types.RecoverRetryBackoff, types.RecoverFallback:
		return true
	}
	return false
}

// Analyze builds the full failure context for one failed execution.
// precedingAgents are the agents that ran before the failed one, in
// execution order.
func Analyze(p *types.ExecutionPattern) types.FailureContext {
	category := Classify(p.FailureReason)
	severity := Severity(category, p.FailureReason)
	strategy := Recovery(category, severity, p.FailureReason)

	var preceding []string
	order := p.ExecutionOrder
	if len(order) == 0 {
		order = p.AgentsUsed
	}
	for _, a := range order {
		if a == p.FailedAgent {
			break
		}
		preceding = append(preceding, a)
	}

	return types.FailureContext{
		PatternID:            p.ID,
		Objective:            p.Objective,
		FailedAgent:          p.FailedAgent,
		ErrorMessage:         p.FailureReason,
		ErrorCategory:        category,
		ErrorSeverity:        severity,
		ErrorDomain:          p.Domain,
		PrecedingAgents:      preceding,
		RecoveryStrategy:     strategy,
		IsRecoverable:        Recoverable(strategy),
		LearnedAvoidanceRule: avoidanceRule(p.FailedAgent, category),
		FailureChainID:       p.FailureChainID,
		Timestamp:            p.Timestamp,
	}
}

// avoidanceRule phrases the lesson from a failure as a short directive
// the planner can surface in rationales.
func avoidanceRule(agent string, category types.ErrorCategory) string {
	if agent == "" || category == types.ErrUnknown {
		return ""
	}
	switch category {
	case types.ErrMissingDependency:
		return fmt.Sprintf("verify dependencies are installed before running %s", agent)
	case types.ErrNetwork, types.ErrTimeout, types.ErrAPIRateLimit:
		return fmt.Sprintf("wrap %s with retry and backoff for transient failures", agent)
	case types.ErrAuthentication, types.ErrPermission:
		return fmt.Sprintf("check credentials and access before dispatching %s", agent)
	case types.ErrConfiguration:
		return fmt.Sprintf("validate configuration before dispatching %s", agent)
	case types.ErrResourceExhausted:
		return fmt.Sprintf("reduce workload or free resources before retrying %s", agent)
	default:
		return fmt.Sprintf("review %s output for %s before retrying", agent, category)
	}
}

// SuggestedFixes returns actionable next steps for a failure context,
// most relevant first.
func SuggestedFixes(fc *types.FailureContext) []string {
	var fixes []string
	switch fc.ErrorCategory {
	case types.ErrMissingDependency:
		fixes = append(fixes, "install the missing dependency and re-run the failed agent")
	case types.ErrVersionMismatch:
		fixes = append(fixes, "pin compatible versions in the project manifest")
	case types.ErrConfiguration:
		fixes = append(fixes, "set the missing configuration value and re-run")
	case types.ErrCompilation, types.ErrSyntax:
		fixes = append(fixes, "fix the reported build error before continuing downstream agents")
	case types.ErrNetwork:
		fixes = append(fixes, "check connectivity to the failing endpoint, then retry with backoff")
	case types.ErrTimeout:
		fixes = append(fixes, "raise the timeout or split the task into smaller steps")
	case types.ErrAPIRateLimit:
		fixes = append(fixes, "wait for the rate limit window to reset, then retry")
	case types.ErrAuthentication:
		fixes = append(fixes, "refresh or re-issue the credentials used by the failed agent")
	case types.ErrPermission:
		fixes = append(fixes, "grant the required access to the executing identity")
	case types.ErrResourceExhausted:
		fixes = append(fixes, "free memory or disk before retrying; consider a smaller scope")
	case types.ErrLogic:
		fixes = append(fixes, "re-run with a verification agent to isolate the failing assertion")
	default:
		fixes = append(fixes, "inspect the agent output manually; the error did not match a known class")
	}
	if fc.FailureChainID != "" {
		fixes = append(fixes, "this failure is part of a repeating chain; address the shared root cause first")
	}
	if fc.IsRecoverable {
		fixes = append(fixes, fmt.Sprintf("recovery strategy: %s", fc.RecoveryStrategy))
	}
	return fixes
}

// ChainSpan reports how long a set of chained failures has been
// recurring, given the oldest chained timestamp.
func ChainSpan(oldest, newest time.Time) time.Duration {
	if oldest.IsZero() || newest.Before(oldest) {
		return 0
	}
	return newest.Sub(oldest)
}
