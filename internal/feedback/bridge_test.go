package feedback

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/internal/config"
	"maestro/internal/knowledge"
	"maestro/internal/memory"
	"maestro/internal/types"
)

func bridgePattern() types.ExecutionPattern {
	return types.ExecutionPattern{
		ID:             "pat-1",
		Objective:      "migrate the billing schema",
		AgentsUsed:     []string{"datasmith", "the_examiner"},
		Success:        true,
		Verified:       true,
		TotalTokens:    9000,
		ProjectContext: types.ProjectContext{ProjectID: "proj-9"},
	}
}

func TestBridgePersistsValuablePattern(t *testing.T) {
	store := &captureStore{}
	b := NewBridge(store, memory.New(memory.Options{}), config.LearningConfig{Sensitivity: "public"})

	p := bridgePattern()
	require.NoError(t, b.Persist(context.Background(), &p))

	require.NotEmpty(t, store.entities)
	assert.Equal(t, "pattern:pat-1", store.entities[0].Name)
	assert.Equal(t, "execution_pattern", store.entities[0].EntityType)
	assert.Len(t, store.relations, 2)
	assert.Equal(t, "used_agent", store.relations[0].RelationType)
}

func TestBridgeSkipsLowValuePattern(t *testing.T) {
	store := &captureStore{}
	b := NewBridge(store, memory.New(memory.Options{}), config.LearningConfig{Sensitivity: "public"})

	p := bridgePattern()
	p.Success = false
	p.Verified = false
	require.NoError(t, b.Persist(context.Background(), &p))
	assert.Empty(t, store.entities, "a failed, unverified pattern is not worth persisting")
}

func TestBridgeSkipsNearDuplicate(t *testing.T) {
	mem := memory.New(memory.Options{})
	store := &captureStore{}
	b := NewBridge(store, mem, config.LearningConfig{Sensitivity: "public"})

	first := bridgePattern()
	mem.Record(first)

	dup := bridgePattern()
	dup.ID = "pat-2"
	dup.ProjectContext = types.ProjectContext{}
	mem.Record(dup)
	require.NoError(t, b.Persist(context.Background(), &dup))
	assert.Empty(t, store.entities, "a near-duplicate of a stored pattern has no novelty value")
}

func TestBridgeRestrictedNeverPersists(t *testing.T) {
	store := &captureStore{}
	b := NewBridge(store, memory.New(memory.Options{}), config.LearningConfig{Sensitivity: "restricted"})

	p := bridgePattern()
	require.NoError(t, b.Persist(context.Background(), &p))
	assert.Empty(t, store.entities)
}

func TestBridgeOrgScopeRequiresConsent(t *testing.T) {
	store := &captureStore{}
	b := NewBridge(store, memory.New(memory.Options{}), config.LearningConfig{
		ScopeLevel: "org", Sensitivity: "public", CanShare: false,
	})
	p := bridgePattern()
	require.NoError(t, b.Persist(context.Background(), &p))
	assert.Empty(t, store.entities)

	b = NewBridge(store, memory.New(memory.Options{}), config.LearningConfig{
		ScopeLevel: "org", Sensitivity: "public", CanShare: true,
	})
	require.NoError(t, b.Persist(context.Background(), &p))
	assert.NotEmpty(t, store.entities)
}

func TestBridgeAnonymizesSensitiveObjectives(t *testing.T) {
	store := &captureStore{}
	b := NewBridge(store, memory.New(memory.Options{}), config.LearningConfig{Sensitivity: "internal"})

	p := bridgePattern()
	p.Objective = "email ops@example.com when internal/billing/schema.sql changes"
	require.NoError(t, b.Persist(context.Background(), &p))

	require.NotEmpty(t, store.entities)
	joined := strings.Join(store.entities[0].Observations, "\n")
	assert.NotContains(t, joined, "ops@example.com")
	assert.NotContains(t, joined, "internal/billing/schema.sql")
	assert.Contains(t, joined, "<redacted>")
}

func TestPatternFromEntityRoundTrip(t *testing.T) {
	p := bridgePattern()
	p.Domain = types.DomainData
	p.ObjectiveType = types.IntentFixIssue

	entities, _ := patternGraph(&p, p.Objective)
	decoded, ok := PatternFromEntity(entities[0])
	require.True(t, ok)

	assert.Equal(t, p.ID, decoded.ID)
	assert.Equal(t, p.Objective, decoded.Objective)
	assert.Equal(t, p.Domain, decoded.Domain)
	assert.Equal(t, p.ObjectiveType, decoded.ObjectiveType)
	assert.Equal(t, p.AgentsUsed, decoded.AgentsUsed)
	assert.Equal(t, p.TotalTokens, decoded.TotalTokens)
	assert.True(t, decoded.Success)
}

func TestPatternFromEntityRejectsOtherTypes(t *testing.T) {
	_, ok := PatternFromEntity(knowledge.Entity{Name: "agent:warden", EntityType: "agent"})
	assert.False(t, ok)

	_, ok = PatternFromEntity(knowledge.Entity{Name: "pattern:empty", EntityType: "execution_pattern"})
	assert.False(t, ok, "a pattern entity with no usable observations is dropped")
}

func TestBridgeSyntheticNeverLeaves(t *testing.T) {
	store := &captureStore{}
	b := NewBridge(store, memory.New(memory.Options{}), config.LearningConfig{Sensitivity: "public"})

	p := bridgePattern()
	p.Synthetic = true
	require.NoError(t, b.Persist(context.Background(), &p))
	assert.Empty(t, store.entities)
}
