package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maestro/internal/types"
)

func TestBuiltinRosterSeeded(t *testing.T) {
	r := New("", 0)

	agents := r.List()
	require.Len(t, agents, 12)
	require.NotNil(t, r.Get("forgemaster"))
	assert.Nil(t, r.Get("nonexistent"))
}

func TestRecordFeedbackLaplaceSmoothing(t *testing.T) {
	r := New("", 0)

	r.RecordFeedback("forgemaster", true, 10000, 60000)
	a := r.Get("forgemaster")
	require.NotNil(t, a)
	assert.Equal(t, 1, a.Total)
	assert.Equal(t, 1, a.Successes)
	assert.InDelta(t, 2.0/3.0, a.SuccessRate, 0.001, "(1+1)/(2+1)")

	r.RecordFeedback("forgemaster", false, 10000, 60000)
	a = r.Get("forgemaster")
	assert.InDelta(t, 0.5, a.SuccessRate, 0.001, "(1+1)/(2+2)")
}

func TestRecordFeedbackAutoDiscovers(t *testing.T) {
	r := New("", 0)

	r.RecordFeedback("night_owl", true, 500, 1000)
	a := r.Get("night_owl")
	require.NotNil(t, a)
	assert.Equal(t, "generalist", a.Specialization)
	assert.Equal(t, 1, a.Total)
}

func TestGetReturnsCopy(t *testing.T) {
	r := New("", 0)

	a := r.Get("warden")
	a.SuccessRate = 0.99
	assert.InDelta(t, 0.5, r.Get("warden").SuccessRate, 0.001)
}

func TestDiscoverIsAdditive(t *testing.T) {
	r := New("", 0)

	assert.Equal(t, 2, r.Discover([]string{"pixel_smith", "query_hound", ""}))
	assert.Equal(t, 0, r.Discover([]string{"pixel_smith", "warden"}))

	a := r.Get("warden")
	assert.Equal(t, "security", a.Specialization, "discover never clobbers an existing agent")
}

func TestSelectByCapabilities(t *testing.T) {
	r := New("", 0)

	ids := r.SelectByCapabilities([]string{"deployment", "infrastructure"})
	require.NotEmpty(t, ids)
	assert.Equal(t, "the_sentinel", ids[0], "full coverage ranks above partial")

	assert.Empty(t, r.SelectByCapabilities(nil))
}

func TestMandatoryFor(t *testing.T) {
	r := New("", 0)

	assert.Equal(t, []string{"the_sentinel"}, r.MandatoryFor(types.DomainInfrastructure))
	assert.Equal(t, []string{"warden"}, r.MandatoryFor(types.DomainSecurity))
	assert.Empty(t, r.MandatoryFor(types.DomainCreative))
}

func TestCheapestAvgTokens(t *testing.T) {
	r := New("", 0)
	assert.InDelta(t, 1500, r.CheapestAvgTokens(), 0.001, "the stabilizer is the cheapest seed agent")
}

func TestCachePersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")

	r1 := New(path, time.Hour) // debounce long enough that only Flush writes
	r1.RecordFeedback("forgemaster", true, 12000, 90000)
	r1.RecordFeedback("the_examiner", false, 6000, 30000)
	r1.Discover([]string{"pixel_smith"})
	r1.Flush()

	r2 := New(path, time.Hour)
	diff := cmp.Diff(r1.Snapshot(), r2.Snapshot(),
		cmpopts.IgnoreFields(types.AgentCapability{}, "UpdatedAt"))
	assert.Empty(t, diff)
}

func TestCachePreservesUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	seed := map[string]interface{}{
		"version": 1,
		"host":    "workstation-7",
		"agents": map[string]interface{}{
			"forgemaster": map[string]interface{}{
				"specialization": "implementation",
				"success_rate":   0.8,
				"flavor":         "spicy",
			},
		},
	}
	data, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	r := New(path, time.Hour)
	r.RecordFeedback("forgemaster", true, 1000, 1000)
	r.Flush()

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"host"`)
	assert.Contains(t, string(out), `"flavor"`)
}

func TestCorruptCacheFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	r := New(path, time.Hour)
	assert.Len(t, r.List(), 12)
}

func TestRankedBySuccessRate(t *testing.T) {
	r := New("", 0)
	r.RecordFeedback("datasmith", true, 1000, 1000)
	r.RecordFeedback("datasmith", true, 1000, 1000)
	r.RecordFeedback("cinna", false, 1000, 1000)

	ranked := r.RankedBySuccessRate()
	assert.Equal(t, "datasmith", ranked[0].ID)
	assert.Equal(t, "cinna", ranked[len(ranked)-1].ID)
}
