// Package memory is the pattern store: a rolling in-memory window of
// execution patterns indexed by a KD-tree for similarity retrieval,
// backed by a SQLite archive for durability across restarts.
package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"maestro/internal/failure"
	"maestro/internal/logging"
	"maestro/internal/types"
)

const (
	// MinSimilarity filters out matches too weak to inform planning.
	// Exported so callers merging externally supplied patterns apply
	// the same floor.
	MinSimilarity = 0.3

	// rebuildFraction triggers a KD-tree rebuild when at least this share
	// of the corpus was evicted since the last rebuild.
	rebuildFraction = 0.10

	// chainLookback bounds how far back chain detection scans.
	chainLookback  = 5
	chainWindow    = 60 * time.Minute
	chainThreshold = 3
)

// Archiver persists patterns beyond the in-memory window. Implemented by
// *Archive; a nil Archiver runs the store purely in memory.
type Archiver interface {
	InsertPattern(p *types.ExecutionPattern) error
	LoadWindow(since time.Time) ([]types.ExecutionPattern, error)
	Close() error
}

// PatternMatch pairs a retrieved pattern with its similarity to the query.
type PatternMatch struct {
	Pattern    types.ExecutionPattern `json:"pattern"`
	Similarity float64                `json:"similarity"`
}

// Options configures a PatternMemory.
type Options struct {
	SoftCap    int // max in-memory patterns before oldest are evicted
	WindowDays int // rolling window length
	Archive    Archiver
}

// PatternMemory holds the rolling window of execution patterns.
//
// Writes (Record) take the lock exclusively; reads work on the KD-tree
// and pattern map under a shared lock and return copies.
type PatternMemory struct {
	mu       sync.RWMutex
	patterns map[string]*types.ExecutionPattern
	vectors  map[string][]float32
	tree     *kdTree
	byTime   []string // pattern ids, oldest first

	softCap int
	window  time.Duration
	archive Archiver

	evictedSinceRebuild int
}

// New creates the store and hydrates the rolling window from the archive
// when one is configured.
func New(opts Options) *PatternMemory {
	if opts.SoftCap <= 0 {
		opts.SoftCap = 10000
	}
	if opts.WindowDays <= 0 {
		opts.WindowDays = 7
	}
	m := &PatternMemory{
		patterns: make(map[string]*types.ExecutionPattern),
		vectors:  make(map[string][]float32),
		tree:     newKDTree(FeatureDims),
		softCap:  opts.SoftCap,
		window:   time.Duration(opts.WindowDays) * 24 * time.Hour,
		archive:  opts.Archive,
	}

	if m.archive != nil {
		since := time.Now().Add(-m.window)
		loaded, err := m.archive.LoadWindow(since)
		if err != nil {
			logging.Get(logging.CategoryMemory).Warn("archive hydration failed: %v", err)
		} else {
			for i := range loaded {
				p := loaded[i]
				m.insertLocked(&p)
			}
			m.rebuildLocked()
			logging.Memory("hydrated %d patterns from archive", len(loaded))
		}
	}
	return m
}

// Record stores one execution pattern. A missing id or timestamp is filled
// in. Failed patterns are checked for failure chains before indexing.
// Synthetic seed patterns are indexed but never archived.
func (m *PatternMemory) Record(p types.ExecutionPattern) types.ExecutionPattern {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}

	m.mu.Lock()
	if !p.Success && !p.Synthetic {
		m.detectFailureChainLocked(&p)
	}
	m.insertLocked(&p)
	m.evictLocked()
	m.mu.Unlock()

	if m.archive != nil && !p.Synthetic {
		if err := m.archive.InsertPattern(&p); err != nil {
			logging.Get(logging.CategoryMemory).Warn("archive insert failed for %s: %v", p.ID, err)
		}
	}

	logging.MemoryDebug("recorded pattern %s intent=%s domain=%s success=%v", p.ID, p.ObjectiveType, p.Domain, p.Success)
	return p
}

// insertLocked adds the pattern to the map, time index, and KD-tree.
// Re-recording an id replaces the stored copy but not the tree entry; the
// stale tree point is harmless and disappears at the next rebuild.
func (m *PatternMemory) insertLocked(p *types.ExecutionPattern) {
	if _, exists := m.patterns[p.ID]; !exists {
		m.byTime = append(m.byTime, p.ID)
		vec := FeatureVector(p)
		m.vectors[p.ID] = vec
		m.tree.Insert(p.ID, vec)
	}
	cp := *p
	m.patterns[p.ID] = &cp
}

// evictLocked drops patterns past the rolling window, then oldest-first
// down to the soft cap. The KD-tree is rebuilt once evictions since the
// last rebuild cross the rebuild fraction.
func (m *PatternMemory) evictLocked() {
	cutoff := time.Now().Add(-m.window)
	evicted := 0

	keep := m.byTime[:0]
	for _, id := range m.byTime {
		p := m.patterns[id]
		if p != nil && p.Timestamp.Before(cutoff) {
			delete(m.patterns, id)
			delete(m.vectors, id)
			evicted++
			continue
		}
		keep = append(keep, id)
	}
	m.byTime = keep

	for len(m.byTime) > m.softCap {
		id := m.byTime[0]
		m.byTime = m.byTime[1:]
		delete(m.patterns, id)
		delete(m.vectors, id)
		evicted++
	}

	if evicted == 0 {
		return
	}
	m.evictedSinceRebuild += evicted
	total := len(m.patterns) + m.evictedSinceRebuild
	if total > 0 && float64(m.evictedSinceRebuild)/float64(total) >= rebuildFraction {
		m.rebuildLocked()
		logging.Memory("kd-tree rebuilt after %d evictions, %d patterns live", m.evictedSinceRebuild, len(m.patterns))
	}
}

func (m *PatternMemory) rebuildLocked() {
	ids := make([]string, 0, len(m.patterns))
	vecs := make([][]float32, 0, len(m.patterns))
	for id := range m.patterns {
		ids = append(ids, id)
		vecs = append(vecs, m.vectors[id])
	}
	m.tree.Rebuild(ids, vecs)
	m.evictedSinceRebuild = 0
}

// detectFailureChainLocked links a new failure to recent same-project
// failures sharing the failed agent or error category. When the run of
// related failures reaches the chain threshold they all get one chain id.
func (m *PatternMemory) detectFailureChainLocked(p *types.ExecutionPattern) {
	cat := failure.Classify(p.FailureReason)
	cutoff := p.Timestamp.Add(-chainWindow)

	var related []*types.ExecutionPattern
	seen := 0
	for i := len(m.byTime) - 1; i >= 0 && seen < chainLookback; i-- {
		prev := m.patterns[m.byTime[i]]
		if prev == nil || prev.Success {
			continue
		}
		if prev.ProjectContext.ProjectID != p.ProjectContext.ProjectID {
			continue
		}
		seen++
		if prev.Timestamp.Before(cutoff) {
			break
		}
		sameAgent := prev.FailedAgent != "" && prev.FailedAgent == p.FailedAgent
		sameCategory := cat != types.ErrUnknown && failure.Classify(prev.FailureReason) == cat
		if sameAgent || sameCategory {
			related = append(related, prev)
		}
	}

	if len(related)+1 < chainThreshold {
		return
	}

	chainID := ""
	for _, prev := range related {
		if prev.FailureChainID != "" {
			chainID = prev.FailureChainID
			break
		}
	}
	if chainID == "" {
		chainID = "chain-" + uuid.NewString()
	}
	p.FailureChainID = chainID
	for _, prev := range related {
		if prev.FailureChainID == "" {
			prev.FailureChainID = chainID
		}
	}
	logging.Memory("failure chain %s now spans %d patterns (agent=%s)", chainID, len(related)+1, p.FailedAgent)
}

// FindSimilar retrieves up to limit patterns near the query vector. The
// reported similarity is cosine similarity weighted by outcome, so a
// failed pattern can match at most 0.5. Matches below the floor are
// dropped; results are ordered best first with id as tie-break.
func (m *PatternMemory) FindSimilar(query []float32, limit int) []PatternMatch {
	if limit <= 0 {
		limit = 5
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	// Overfetch from the tree: the outcome weighting and the similarity
	// floor both thin the candidate set after the fact.
	neighbors := m.tree.KNN(query, limit*4)

	var matches []PatternMatch
	for _, n := range neighbors {
		p := m.patterns[n.id]
		if p == nil {
			continue // stale tree entry
		}
		sim := CosineSimilarity(query, m.vectors[n.id])
		weight := 0.5
		if p.Success {
			weight = 1.0
		}
		sim *= weight
		if sim < MinSimilarity {
			continue
		}
		matches = append(matches, PatternMatch{Pattern: *p, Similarity: sim})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Pattern.ID < matches[j].Pattern.ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// Get returns a copy of one pattern by id.
func (m *PatternMemory) Get(id string) (types.ExecutionPattern, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patterns[id]
	if !ok {
		return types.ExecutionPattern{}, false
	}
	return *p, true
}

// Window returns copies of every live pattern, oldest first.
func (m *PatternMemory) Window() []types.ExecutionPattern {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ExecutionPattern, 0, len(m.byTime))
	for _, id := range m.byTime {
		if p := m.patterns[id]; p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// Size returns the number of live patterns.
func (m *PatternMemory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.patterns)
}

// AggregateStats summarizes the live window. Synthetic seed patterns are
// excluded so bootstrap data never skews observed rates.
func (m *PatternMemory) AggregateStats() types.AggregateStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := types.AggregateStats{
		AgentUsage:     make(map[string]int),
		ErrorFrequency: make(map[string]int),
	}
	var succ int
	var durSum, tokSum float64
	var hourTotal, hourSucc [24]int

	for _, p := range m.patterns {
		if p.Synthetic {
			continue
		}
		stats.TotalExecutions++
		if p.Success {
			succ++
		}
		durSum += float64(p.TotalDurationMs)
		tokSum += float64(p.TotalTokens)
		for _, a := range p.AgentsUsed {
			stats.AgentUsage[a]++
		}
		if !p.Success && p.FailureReason != "" {
			stats.ErrorFrequency[string(failure.Classify(p.FailureReason))]++
		}
		h := p.Timestamp.Hour()
		hourTotal[h]++
		if p.Success {
			hourSucc[h]++
		}
	}

	if stats.TotalExecutions > 0 {
		n := float64(stats.TotalExecutions)
		stats.SuccessRate = float64(succ) / n
		stats.AvgDurationMs = durSum / n
		stats.AvgTokens = tokSum / n
	}
	for h := 0; h < 24; h++ {
		if hourTotal[h] > 0 {
			stats.HourlySuccessRate[h] = float64(hourSucc[h]) / float64(hourTotal[h])
		}
	}
	return stats
}

// RecentFailures returns up to limit failed patterns, newest first.
// projectID narrows to one project when non-empty.
func (m *PatternMemory) RecentFailures(projectID string, limit int) []types.ExecutionPattern {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.ExecutionPattern
	for i := len(m.byTime) - 1; i >= 0 && len(out) < limit; i-- {
		p := m.patterns[m.byTime[i]]
		if p == nil || p.Success || p.Synthetic {
			continue
		}
		if projectID != "" && p.ProjectContext.ProjectID != projectID {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// AgentStats returns per-agent success counts over the live window,
// excluding synthetic patterns.
func (m *PatternMemory) AgentStats(agentID string) (total, successes int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.patterns {
		if p.Synthetic {
			continue
		}
		for _, a := range p.AgentsUsed {
			if a == agentID {
				total++
				if p.Success {
					successes++
				}
				break
			}
		}
	}
	return total, successes
}

// Close flushes and closes the archive, if any.
func (m *PatternMemory) Close() error {
	if m.archive == nil {
		return nil
	}
	return m.archive.Close()
}

// anonymizeObjective strips path-like and email-like tokens from an
// objective before it leaves the local scope. Used by the knowledge
// bridge for shareable patterns.
func AnonymizeObjective(objective string) string {
	fields := strings.Fields(objective)
	for i, f := range fields {
		if strings.Contains(f, "@") || strings.Count(f, "/") >= 2 {
			fields[i] = "<redacted>"
		}
	}
	return strings.Join(fields, " ")
}
