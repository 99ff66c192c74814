package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"maestro/internal/types"
)

func TestRelevanceHalvesAtHalfLife(t *testing.T) {
	hl := HalfLife(types.DomainInfrastructure)
	assert.InDelta(t, 0.5, Relevance(hl, types.DomainInfrastructure), 1e-9)
	assert.InDelta(t, 0.25, Relevance(2*hl, types.DomainInfrastructure), 1e-9)
	assert.InDelta(t, 1.0, Relevance(0, types.DomainInfrastructure), 1e-9)
}

func TestRelevanceClampsNegativeAge(t *testing.T) {
	assert.Equal(t, 1.0, Relevance(-time.Hour, types.DomainCode))
}

func TestInfrastructureDecaysFasterThanCreative(t *testing.T) {
	age := 90 * 24 * time.Hour
	infra := Relevance(age, types.DomainInfrastructure)
	creative := Relevance(age, types.DomainCreative)
	assert.Less(t, infra, creative)
}

func TestUnknownDomainUsesDefaultHalfLife(t *testing.T) {
	age := defaultHalfLifeDays * 24 * time.Hour
	assert.InDelta(t, 0.5, Relevance(age, types.Domain("mystery")), 1e-9)
}

func TestHealthBuckets(t *testing.T) {
	assert.Equal(t, HealthFresh, Health(0.9))
	assert.Equal(t, HealthFresh, Health(0.5))
	assert.Equal(t, HealthAging, Health(0.35))
	assert.Equal(t, HealthStale, Health(0.1))
}

func TestEnrichStampsRelevance(t *testing.T) {
	now := time.Now()
	patterns := []types.ExecutionPattern{
		{Domain: types.DomainCode, Timestamp: now},
		{Domain: types.DomainInfrastructure, Timestamp: now.Add(-45 * 24 * time.Hour)},
	}
	Enrich(patterns, now)
	assert.InDelta(t, 1.0, patterns[0].TemporalRelevance, 1e-9)
	assert.InDelta(t, 0.5, patterns[1].TemporalRelevance, 1e-6)
}

func TestCorpusHealth(t *testing.T) {
	now := time.Now()
	assert.Equal(t, 1.0, CorpusHealth(nil, now))

	patterns := []types.ExecutionPattern{
		{Domain: types.DomainSecurity, Timestamp: now},
		{Domain: types.DomainSecurity, Timestamp: now.Add(-60 * 24 * time.Hour)},
	}
	assert.InDelta(t, 0.75, CorpusHealth(patterns, now), 1e-6)
}
