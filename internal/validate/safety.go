// Package validate holds the pre-planning gates: safety screening,
// vagueness detection, constraint enforcement, and the low-confidence
// fallback decision.
package validate

import (
	"regexp"
	"strings"
)

// ThreatLevel grades a detected destructive marker.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// Threat is one matched destructive marker in an objective.
type Threat struct {
	Marker      string      `json:"marker"`
	Level       ThreatLevel `json:"level"`
	Description string      `json:"description"`
}

// SafetyReport is the result of screening one objective.
type SafetyReport struct {
	Threats []Threat `json:"threats,omitempty"`
	Blocked bool     `json:"blocked"`
}

type threatRule struct {
	re    *regexp.Regexp
	level ThreatLevel
	desc  string
}

var threatRules = []threatRule{
	{regexp.MustCompile(`rm\s+-rf\s+/(\s|$)`), ThreatCritical, "recursive delete of the filesystem root"},
	{regexp.MustCompile(`(?i)drop\s+(database|table)\s`), ThreatCritical, "destructive database statement"},
	{regexp.MustCompile(`(?i)delete\s+all\s+(\w+\s+){0,3}(data|files|records|backups)`), ThreatCritical, "bulk data destruction"},
	{regexp.MustCompile(`(?i)(wipe|format)\s+(the\s+)?(disk|drive|volume|partition)`), ThreatCritical, "disk wipe"},
	{regexp.MustCompile(`(?i)truncate\s+table`), ThreatHigh, "table truncation"},
	{regexp.MustCompile(`(?i)force[- ]push\s+(to\s+)?(main|master|production)`), ThreatHigh, "history rewrite on a protected branch"},
	{regexp.MustCompile(`(?i)disable\s+(auth|authentication|security|tls|ssl|audit|logging|logs)`), ThreatHigh, "security control removal"},
	{regexp.MustCompile(`(?i)(exfiltrate|steal|leak)\s+(credentials|secrets|keys|tokens|data)`), ThreatCritical, "credential exfiltration"},
	{regexp.MustCompile(`(?i)bypass\s+(review|approval|checks|validation)`), ThreatMedium, "process bypass"},
	{regexp.MustCompile(`(?i)chmod\s+-R\s+777`), ThreatMedium, "world-writable permission change"},
	{regexp.MustCompile(`(?i)delete\s+(the\s+)?production\s`), ThreatHigh, "production resource deletion"},
}

// CheckSafety screens an objective for destructive intent. High and
// critical threats block planning; lesser threats pass through as
// warnings for the plan.
func CheckSafety(objective string) SafetyReport {
	var report SafetyReport
	text := strings.TrimSpace(objective)
	for _, rule := range threatRules {
		if loc := rule.re.FindString(text); loc != "" {
			report.Threats = append(report.Threats, Threat{
				Marker:      strings.TrimSpace(loc),
				Level:       rule.level,
				Description: rule.desc,
			})
			if rule.level == ThreatHigh || rule.level == ThreatCritical {
				report.Blocked = true
			}
		}
	}
	return report
}
