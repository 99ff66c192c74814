package embedding

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

// genaiDims matches gemini-embedding-001 default output width.
const genaiDims = 3072

// GenAIEngine calls the Gemini embedding API. The client is created
// lazily so a missing key only fails when the provider is actually used.
type GenAIEngine struct {
	apiKey string
	model  string

	mu     sync.Mutex
	client *genai.Client
}

func NewGenAIEngine(apiKey, model string) *GenAIEngine {
	if model == "" {
		model = "gemini-embedding-001"
	}
	return &GenAIEngine{apiKey: apiKey, model: model}
}

func (g *GenAIEngine) Name() string    { return "genai:" + g.model }
func (g *GenAIEngine) Dimensions() int { return genaiDims }

func (g *GenAIEngine) getClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	if g.apiKey == "" {
		return nil, fmt.Errorf("no cloud embedding api key configured")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	g.client = client
	return client, nil
}

func (g *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	client, err := g.getClient(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := client.Models.EmbedContent(ctx, g.model, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("genai returned no embedding")
	}
	return resp.Embeddings[0].Values, nil
}
