// Package embedding turns objective text into vectors for semantic
// matching. Providers form a fallback chain: a local Ollama model, the
// Gemini embedding API, and a deterministic keyword hasher that always
// works offline.
package embedding

import (
	"context"
	"fmt"
	"time"

	"maestro/internal/config"
	"maestro/internal/logging"
)

// Engine is one embedding provider.
type Engine interface {
	// Embed returns the vector for text. Implementations honor ctx
	// cancellation and deadlines.
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Name() string
}

// Chain tries providers in order per call, falling back on error. The
// final keyword engine cannot fail, so Embed only errors on context
// cancellation.
type Chain struct {
	engines []Engine
	timeout time.Duration
}

func NewChain(timeout time.Duration, engines ...Engine) *Chain {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Chain{engines: engines, timeout: timeout}
}

// Embed returns the first provider's successful result along with the
// provider's name for cache keying.
func (c *Chain) Embed(ctx context.Context, text string) ([]float32, string, error) {
	var lastErr error
	for _, e := range c.engines {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		vec, err := e.Embed(callCtx, text)
		cancel()
		if err == nil {
			return vec, e.Name(), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		logging.EmbeddingDebug("provider %s failed, falling back: %v", e.Name(), err)
	}
	return nil, "", fmt.Errorf("all embedding providers failed: %w", lastErr)
}

// Primary returns the first provider's name.
func (c *Chain) Primary() string {
	if len(c.engines) == 0 {
		return ""
	}
	return c.engines[0].Name()
}

// NewFromConfig builds the provider chain for the configured mode:
//
//	auto     local, then cloud (when a key is set), then keyword
//	local    local, then keyword
//	cloud    cloud, then keyword
//	keyword  keyword only
func NewFromConfig(cfg config.EmbeddingConfig) *Chain {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	keyword := NewKeywordEngine()
	local := NewOllamaEngine(cfg.LocalEndpoint, cfg.LocalModel)

	var engines []Engine
	switch cfg.Provider {
	case "local":
		engines = []Engine{local, keyword}
	case "cloud":
		engines = []Engine{NewGenAIEngine(cfg.CloudAPIKey, cfg.CloudModel), keyword}
	case "keyword":
		engines = []Engine{keyword}
	default: // auto
		engines = []Engine{local}
		if cfg.CloudAPIKey != "" {
			engines = append(engines, NewGenAIEngine(cfg.CloudAPIKey, cfg.CloudModel))
		}
		engines = append(engines, keyword)
	}

	logging.Embedding("embedding chain: %s (%d providers)", cfg.Provider, len(engines))
	return NewChain(timeout, engines...)
}
