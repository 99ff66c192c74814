package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"maestro/internal/logging"
)

// Cache wraps a Chain with two tiers: an in-process map and an optional
// on-disk store with TTL. Keys are provider tagged so switching providers
// never serves vectors from the wrong space.
type Cache struct {
	chain *Chain

	mu  sync.RWMutex
	mem map[string][]float32

	dir string // empty disables the disk tier
	ttl time.Duration
}

// NewCache creates a cache over the chain. dir may be empty for a
// memory-only cache; ttl bounds disk entries.
func NewCache(chain *Chain, dir string, ttl time.Duration) *Cache {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logging.Get(logging.CategoryEmbedding).Warn("embedding disk cache disabled: %v", err)
			dir = ""
		}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{chain: chain, mem: make(map[string][]float32), dir: dir, ttl: ttl}
}

// Embed returns the cached vector when present, otherwise computes and
// stores it. The cache key includes the provider that produced the
// vector, so a fallback result never masks the primary's.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	primaryKey := cacheKey(c.chain.Primary(), text)

	c.mu.RLock()
	vec, ok := c.mem[primaryKey]
	c.mu.RUnlock()
	if ok {
		return vec, nil
	}

	if vec := c.loadDisk(primaryKey); vec != nil {
		c.mu.Lock()
		c.mem[primaryKey] = vec
		c.mu.Unlock()
		return vec, nil
	}

	vec, provider, err := c.chain.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	key := cacheKey(provider, text)
	c.mu.Lock()
	c.mem[key] = vec
	c.mu.Unlock()
	c.storeDisk(key, vec)
	return vec, nil
}

func cacheKey(provider, text string) string {
	sum := sha256.Sum256([]byte(text))
	return provider + ":" + hex.EncodeToString(sum[:])
}

type diskEntry struct {
	StoredAt time.Time `json:"stored_at"`
	Vector   []float32 `json:"vector"`
}

func (c *Cache) diskPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:16])+".json")
}

func (c *Cache) loadDisk(key string) []float32 {
	if c.dir == "" {
		return nil
	}
	data, err := os.ReadFile(c.diskPath(key))
	if err != nil {
		return nil
	}
	var e diskEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil
	}
	if time.Since(e.StoredAt) > c.ttl {
		os.Remove(c.diskPath(key))
		return nil
	}
	return e.Vector
}

func (c *Cache) storeDisk(key string, vec []float32) {
	if c.dir == "" {
		return
	}
	data, err := json.Marshal(diskEntry{StoredAt: time.Now(), Vector: vec})
	if err != nil {
		return
	}
	tmp := c.diskPath(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logging.EmbeddingDebug("disk cache write failed: %v", err)
		return
	}
	os.Rename(tmp, c.diskPath(key))
}
