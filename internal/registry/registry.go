// Package registry holds the set of known agents, their capabilities, and
// their running performance statistics. The registry is additive: agents
// are discovered or seeded, never deleted. Stats are updated only by the
// feedback loop and persisted to a small versioned JSON cache with
// debounced writes.
package registry

import (
	"sort"
	"sync"
	"time"

	"maestro/internal/logging"
	"maestro/internal/types"
)

// emaAlpha is the smoothing factor for token/duration running averages.
const emaAlpha = 0.1

// Registry is the mutable agent store. Reads return copies; the caller
// never sees internal state.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*types.AgentCapability

	persister *persister // nil when running without a cache file
}

// New creates a registry seeded from the on-disk cache when present,
// falling back to the built-in defaults. cachePath may be empty to run
// purely in memory (tests).
func New(cachePath string, debounce time.Duration) *Registry {
	r := &Registry{agents: make(map[string]*types.AgentCapability)}

	for _, a := range builtinAgents() {
		agent := a
		r.agents[agent.ID] = &agent
	}

	if cachePath != "" {
		p, err := newPersister(cachePath, debounce)
		if err != nil {
			logging.Get(logging.CategoryRegistry).Warn("registry cache unavailable, running in memory: %v", err)
		} else {
			r.persister = p
			if loaded := p.load(); len(loaded) > 0 {
				for id, agent := range loaded {
					r.agents[id] = agent
				}
				logging.Registry("hydrated %d agents from cache", len(loaded))
			}
		}
	}

	logging.Registry("registry ready with %d agents", len(r.agents))
	return r
}

// Get returns a copy of the agent, or nil when unknown.
func (r *Registry) Get(id string) *types.AgentCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

// List returns copies of all agents, sorted by id for determinism.
func (r *Registry) List() []types.AgentCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.AgentCapability, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SelectByCapabilities returns agent ids ranked by capability coverage,
// then success rate, then id (seeded tie-break).
func (r *Registry) SelectByCapabilities(required []string) []string {
	if len(required) == 0 {
		return nil
	}
	type ranked struct {
		id       string
		coverage int
		success  float64
	}

	r.mu.RLock()
	var candidates []ranked
	for _, a := range r.agents {
		coverage := 0
		for _, tag := range required {
			if a.HasCapability(tag) {
				coverage++
			}
		}
		if coverage > 0 {
			candidates = append(candidates, ranked{a.ID, coverage, a.SuccessRate})
		}
	}
	r.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].coverage != candidates[j].coverage {
			return candidates[i].coverage > candidates[j].coverage
		}
		if candidates[i].success != candidates[j].success {
			return candidates[i].success > candidates[j].success
		}
		return candidates[i].id < candidates[j].id
	})

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids
}

// RecordFeedback folds one observed execution into the agent's running
// stats. Success rate is the Laplace-smoothed running mean
// (1+successes)/(2+total); token and duration averages use an EMA.
// Unknown agents are auto-discovered first.
func (r *Registry) RecordFeedback(id string, success bool, tokens int, durationMs int64) {
	if id == "" {
		return
	}
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok {
		a = newDiscoveredAgent(id)
		r.agents[id] = a
		logging.Registry("auto-discovered agent %q via feedback", id)
	}

	a.Total++
	if success {
		a.Successes++
	}
	a.SuccessRate = float64(1+a.Successes) / float64(2+a.Total)

	if tokens > 0 {
		if a.AvgTokens == 0 {
			a.AvgTokens = float64(tokens)
		} else {
			a.AvgTokens = (1-emaAlpha)*a.AvgTokens + emaAlpha*float64(tokens)
		}
	}
	if durationMs > 0 {
		if a.AvgDurationMs == 0 {
			a.AvgDurationMs = float64(durationMs)
		} else {
			a.AvgDurationMs = (1-emaAlpha)*a.AvgDurationMs + emaAlpha*float64(durationMs)
		}
	}
	a.UpdatedAt = time.Now()
	r.mu.Unlock()

	logging.RegistryDebug("feedback for %s: success=%v rate=%.3f total=%d", id, success, a.SuccessRate, a.Total)
	r.scheduleSave()
}

// Discover registers agents the host declares available. Existing agents
// are untouched; new ones start with priors only.
func (r *Registry) Discover(ids []string) int {
	r.mu.Lock()
	added := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := r.agents[id]; !ok {
			r.agents[id] = newDiscoveredAgent(id)
			added++
		}
	}
	r.mu.Unlock()

	if added > 0 {
		logging.Registry("discovered %d new agents", added)
		r.scheduleSave()
	}
	return added
}

// RankedBySuccessRate returns all agents ordered by success rate
// descending, then total executions, then id.
func (r *Registry) RankedBySuccessRate() []types.AgentCapability {
	out := r.List()
	sort.Slice(out, func(i, j int) bool {
		if out[i].SuccessRate != out[j].SuccessRate {
			return out[i].SuccessRate > out[j].SuccessRate
		}
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MandatoryFor returns the ids of agents that must be present in any plan
// for the given domain, sorted for determinism.
func (r *Registry) MandatoryFor(d types.Domain) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for _, a := range r.agents {
		if a.MandatoryIn(d) {
			ids = append(ids, a.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a copy of the full agent map for read-mostly planning.
func (r *Registry) Snapshot() map[string]types.AgentCapability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]types.AgentCapability, len(r.agents))
	for id, a := range r.agents {
		out[id] = *a
	}
	return out
}

// CheapestAvgTokens returns the lowest non-zero avg_tokens across the
// roster, used by constraint validation.
func (r *Registry) CheapestAvgTokens() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cheapest := 0.0
	for _, a := range r.agents {
		if a.AvgTokens <= 0 {
			continue
		}
		if cheapest == 0 || a.AvgTokens < cheapest {
			cheapest = a.AvgTokens
		}
	}
	return cheapest
}

func (r *Registry) scheduleSave() {
	if r.persister == nil {
		return
	}
	r.persister.schedule(r.Snapshot)
}

// Flush forces a pending debounced write to disk. Call at shutdown.
func (r *Registry) Flush() {
	if r.persister != nil {
		r.persister.flush(r.Snapshot)
	}
}

func newDiscoveredAgent(id string) *types.AgentCapability {
	return &types.AgentCapability{
		ID:             id,
		Specialization: "generalist",
		Capabilities:   []string{"general"},
		SuccessRate:    0.5, // prior until observations arrive
		UpdatedAt:      time.Now(),
	}
}
