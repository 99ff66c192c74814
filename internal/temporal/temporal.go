// Package temporal weights learned patterns by age. Knowledge decays at
// different speeds per domain: an infrastructure pattern from last
// quarter is probably wrong, a creative-writing pattern from last year
// is probably fine.
package temporal

import (
	"math"
	"time"

	"maestro/internal/types"
)

// halfLifeDays is the per-domain half-life of pattern relevance.
var halfLifeDays = map[types.Domain]float64{
	types.DomainInfrastructure: 45,
	types.DomainSecurity:       60,
	types.DomainTesting:        90,
	types.DomainUIUX:           120,
	types.DomainCode:           180,
	types.DomainData:           180,
	types.DomainResearch:       180,
	types.DomainArchitecture:   365,
	types.DomainDocumentation:  365,
	types.DomainCreative:       730,
}

// defaultHalfLifeDays covers unknown domains.
const defaultHalfLifeDays = 180

// Health buckets for a relevance score.
const (
	freshThreshold = 0.5
	staleThreshold = 0.2
)

// HealthState labels a relevance score.
type HealthState string

const (
	HealthFresh HealthState = "fresh"
	HealthAging HealthState = "aging"
	HealthStale HealthState = "stale"
)

// HalfLife returns the relevance half-life for a domain.
func HalfLife(d types.Domain) time.Duration {
	days, ok := halfLifeDays[d]
	if !ok {
		days = defaultHalfLifeDays
	}
	return time.Duration(days*24) * time.Hour
}

// Relevance returns the exponential-decay weight of a pattern of the
// given age in the given domain. Age zero gives 1.0; one half-life gives
// 0.5. Negative ages (clock skew) clamp to 1.0.
func Relevance(age time.Duration, d types.Domain) float64 {
	if age <= 0 {
		return 1.0
	}
	hl := HalfLife(d)
	return math.Pow(0.5, age.Hours()/hl.Hours())
}

// RelevanceAt computes relevance for a pattern timestamp against now.
func RelevanceAt(ts time.Time, d types.Domain, now time.Time) float64 {
	return Relevance(now.Sub(ts), d)
}

// Enrich stamps TemporalRelevance on each pattern in place.
func Enrich(patterns []types.ExecutionPattern, now time.Time) {
	for i := range patterns {
		patterns[i].TemporalRelevance = RelevanceAt(patterns[i].Timestamp, patterns[i].Domain, now)
	}
}

// Health labels a relevance score.
func Health(relevance float64) HealthState {
	switch {
	case relevance >= freshThreshold:
		return HealthFresh
	case relevance < staleThreshold:
		return HealthStale
	default:
		return HealthAging
	}
}

// CorpusHealth returns the mean relevance over a set of patterns, or 1.0
// when the set is empty (no evidence of staleness).
func CorpusHealth(patterns []types.ExecutionPattern, now time.Time) float64 {
	if len(patterns) == 0 {
		return 1.0
	}
	var sum float64
	for i := range patterns {
		sum += RelevanceAt(patterns[i].Timestamp, patterns[i].Domain, now)
	}
	return sum / float64(len(patterns))
}
