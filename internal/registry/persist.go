package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"maestro/internal/logging"
	"maestro/internal/types"
)

const cacheVersion = 1

// persister writes the registry cache with debouncing: at most one disk
// write per debounce interval per process, plus a final flush at shutdown.
//
// Unknown JSON fields, both top-level and per-agent, are preserved
// across load/save so newer maestro versions can add fields without older
// ones destroying them.
type persister struct {
	path     string
	debounce time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	rawTop  map[string]json.RawMessage // unknown top-level fields
	rawPer  map[string]map[string]json.RawMessage
}

func newPersister(path string, debounce time.Duration) (*persister, error) {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &persister{
		path:     path,
		debounce: debounce,
		rawTop:   make(map[string]json.RawMessage),
		rawPer:   make(map[string]map[string]json.RawMessage),
	}, nil
}

// load reads the cache file. A missing file returns nil; a corrupt file is
// logged and ignored (the built-in defaults remain in effect).
func (p *persister) load() map[string]*types.AgentCapability {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Get(logging.CategoryRegistry).Warn("read registry cache: %v", err)
		}
		return nil
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		logging.Get(logging.CategoryRegistry).Warn("corrupt registry cache, ignoring: %v", err)
		return nil
	}

	p.mu.Lock()
	for k, v := range top {
		if k != "version" && k != "agents" {
			p.rawTop[k] = v
		}
	}
	p.mu.Unlock()

	var agentsRaw map[string]json.RawMessage
	if raw, ok := top["agents"]; ok {
		if err := json.Unmarshal(raw, &agentsRaw); err != nil {
			logging.Get(logging.CategoryRegistry).Warn("corrupt agents block, ignoring: %v", err)
			return nil
		}
	}

	out := make(map[string]*types.AgentCapability, len(agentsRaw))
	for id, raw := range agentsRaw {
		var agent types.AgentCapability
		if err := json.Unmarshal(raw, &agent); err != nil {
			logging.Get(logging.CategoryRegistry).Warn("skipping corrupt agent %q: %v", id, err)
			continue
		}
		agent.ID = id
		out[id] = &agent

		// Remember fields our struct doesn't know about.
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err == nil {
			unknown := make(map[string]json.RawMessage)
			for k, v := range fields {
				if !knownAgentField(k) {
					unknown[k] = v
				}
			}
			if len(unknown) > 0 {
				p.mu.Lock()
				p.rawPer[id] = unknown
				p.mu.Unlock()
			}
		}
	}
	return out
}

func knownAgentField(k string) bool {
	switch k {
	case "id", "specialization", "capabilities", "tools", "use_cases",
		"mandatory_for", "avg_tokens", "avg_duration_ms", "total_executions",
		"successes", "success_rate", "updated_at":
		return true
	}
	return false
}

// schedule arms (or re-arms does nothing to) the debounce timer. snapshot
// is evaluated at write time so the freshest state is persisted.
func (p *persister) schedule(snapshot func() map[string]types.AgentCapability) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		return // a write is already pending
	}
	p.timer = time.AfterFunc(p.debounce, func() {
		p.mu.Lock()
		p.timer = nil
		p.mu.Unlock()
		if err := p.write(snapshot()); err != nil {
			logging.Get(logging.CategoryRegistry).Error("registry cache write failed: %v", err)
		}
	})
}

// flush cancels any pending timer and writes immediately.
func (p *persister) flush(snapshot func() map[string]types.AgentCapability) {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()
	if err := p.write(snapshot()); err != nil {
		logging.Get(logging.CategoryRegistry).Error("registry cache flush failed: %v", err)
	}
}

func (p *persister) write(agents map[string]types.AgentCapability) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	agentsOut := make(map[string]json.RawMessage, len(agents))
	for id, agent := range agents {
		base, err := json.Marshal(agent)
		if err != nil {
			return fmt.Errorf("marshal agent %s: %w", id, err)
		}
		if unknown := p.rawPer[id]; len(unknown) > 0 {
			var merged map[string]json.RawMessage
			if err := json.Unmarshal(base, &merged); err == nil {
				for k, v := range unknown {
					if _, exists := merged[k]; !exists {
						merged[k] = v
					}
				}
				base, _ = json.Marshal(merged)
			}
		}
		agentsOut[id] = base
	}

	top := make(map[string]interface{}, len(p.rawTop)+2)
	for k, v := range p.rawTop {
		top[k] = v
	}
	top["version"] = cacheVersion
	top["agents"] = agentsOut

	data, err := json.MarshalIndent(top, "", "  ")
	if err != nil {
		return err
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}
