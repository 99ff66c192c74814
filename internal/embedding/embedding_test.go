package embedding

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordEngineDeterministic(t *testing.T) {
	k := NewKeywordEngine()
	v1, err := k.Embed(context.Background(), "deploy the payment service to staging")
	require.NoError(t, err)
	v2, err := k.Embed(context.Background(), "deploy the payment service to staging")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, v1, keywordDims)
}

func TestKeywordEngineSimilarity(t *testing.T) {
	k := NewKeywordEngine()
	ctx := context.Background()
	a, _ := k.Embed(ctx, "deploy the payment service to staging")
	b, _ := k.Embed(ctx, "deploy payment service staging environment")
	c, _ := k.Embed(ctx, "write a poem about autumn leaves")

	assert.Greater(t, Cosine(a, b), Cosine(a, c),
		"related objectives must score higher than unrelated ones")
	assert.InDelta(t, 1.0, Cosine(a, a), 1e-6)
}

func TestKeywordEngineEmptyText(t *testing.T) {
	k := NewKeywordEngine()
	v, err := k.Embed(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, v, keywordDims)
	assert.Zero(t, Cosine(v, v))
}

func TestCosineMismatchedLengths(t *testing.T) {
	assert.Zero(t, Cosine([]float32{1, 0}, []float32{1, 0, 0}))
}

type failingEngine struct{}

func (failingEngine) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("provider down")
}
func (failingEngine) Dimensions() int { return 8 }
func (failingEngine) Name() string    { return "failing" }

func TestChainFallsBack(t *testing.T) {
	chain := NewChain(time.Second, failingEngine{}, NewKeywordEngine())
	vec, provider, err := chain.Embed(context.Background(), "fix the login bug")
	require.NoError(t, err)
	assert.Equal(t, "keyword", provider)
	assert.Len(t, vec, keywordDims)
}

func TestChainAllFail(t *testing.T) {
	chain := NewChain(time.Second, failingEngine{})
	_, _, err := chain.Embed(context.Background(), "anything")
	assert.Error(t, err)
}

func TestChainHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	chain := NewChain(time.Second, failingEngine{}, NewKeywordEngine())
	_, _, err := chain.Embed(ctx, "anything")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOllamaEngine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	defer srv.Close()

	o := NewOllamaEngine(srv.URL, "embeddinggemma")
	vec, err := o.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestOllamaEngineServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	o := NewOllamaEngine(srv.URL, "missing")
	_, err := o.Embed(context.Background(), "hello")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestCacheMemoryHit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"embedding":[1,2,3]}`))
	}))
	defer srv.Close()

	chain := NewChain(time.Second, NewOllamaEngine(srv.URL, "m"), NewKeywordEngine())
	cache := NewCache(chain, "", time.Hour)

	ctx := context.Background()
	v1, err := cache.Embed(ctx, "same text")
	require.NoError(t, err)
	v2, err := cache.Embed(ctx, "same text")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, calls, "second call must hit the memory tier")
}

func TestCacheDiskTier(t *testing.T) {
	dir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embedding":[4,5,6]}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	chain := NewChain(time.Second, NewOllamaEngine(srv.URL, "m"), NewKeywordEngine())

	c1 := NewCache(chain, dir, time.Hour)
	v1, err := c1.Embed(ctx, "persisted text")
	require.NoError(t, err)

	srv.Close() // provider gone; only the disk tier can answer now
	c2 := NewCache(NewChain(time.Second, NewOllamaEngine(srv.URL, "m"), NewKeywordEngine()), dir, time.Hour)
	v2, err := c2.Embed(ctx, "persisted text")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

func TestCacheProviderTaggedKeys(t *testing.T) {
	assert.NotEqual(t, cacheKey("ollama:m", "text"), cacheKey("keyword", "text"))
	assert.NotEqual(t, cacheKey("keyword", "a"), cacheKey("keyword", "b"))
}
