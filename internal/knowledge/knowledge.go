// Package knowledge bridges valuable learned patterns to an external
// knowledge graph over HTTP. The store is optional: with no endpoint
// configured, the no-op implementation keeps everything local.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"maestro/internal/logging"
)

// Entity is one node in the external graph.
type Entity struct {
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations"`
}

// Relation links two entities.
type Relation struct {
	From         string `json:"from"`
	To           string `json:"to"`
	RelationType string `json:"relationType"`
}

// Store is the external graph surface maestro uses.
type Store interface {
	CreateEntities(ctx context.Context, entities []Entity) error
	CreateRelations(ctx context.Context, relations []Relation) error
	Search(ctx context.Context, query string) ([]Entity, error)
}

// HTTPStore talks to a knowledge-graph service with strict deadlines so
// a slow graph never stalls the feedback loop.
type HTTPStore struct {
	endpoint       string
	client         *http.Client
	searchTimeout  time.Duration
	persistTimeout time.Duration
}

func NewHTTPStore(endpoint string, searchTimeout, persistTimeout time.Duration) *HTTPStore {
	if searchTimeout <= 0 {
		searchTimeout = 2 * time.Second
	}
	if persistTimeout <= 0 {
		persistTimeout = 5 * time.Second
	}
	return &HTTPStore{
		endpoint:       endpoint,
		client:         &http.Client{},
		searchTimeout:  searchTimeout,
		persistTimeout: persistTimeout,
	}
}

func (s *HTTPStore) CreateEntities(ctx context.Context, entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()
	return s.post(ctx, "/entities", map[string]interface{}{"entities": entities}, nil)
}

func (s *HTTPStore) CreateRelations(ctx context.Context, relations []Relation) error {
	if len(relations) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()
	return s.post(ctx, "/relations", map[string]interface{}{"relations": relations}, nil)
}

func (s *HTTPStore) Search(ctx context.Context, query string) ([]Entity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.searchTimeout)
	defer cancel()

	var out struct {
		Entities []Entity `json:"entities"`
	}
	if err := s.post(ctx, "/search", map[string]string{"query": query}, &out); err != nil {
		return nil, err
	}
	return out.Entities, nil
}

func (s *HTTPStore) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("knowledge %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("knowledge %s returned %d: %s", path, resp.StatusCode, msg)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode knowledge response: %w", err)
		}
	}
	return nil
}

// Noop discards writes and finds nothing. Used when no endpoint is
// configured.
type Noop struct{}

func (Noop) CreateEntities(context.Context, []Entity) error    { return nil }
func (Noop) CreateRelations(context.Context, []Relation) error { return nil }
func (Noop) Search(context.Context, string) ([]Entity, error)  { return nil, nil }

// FromEndpoint returns the HTTP store for a configured endpoint or the
// no-op store otherwise.
func FromEndpoint(endpoint string, searchTimeout, persistTimeout time.Duration) Store {
	if endpoint == "" {
		logging.Get(logging.CategoryKnowledge).Info("no knowledge endpoint configured, persistence disabled")
		return Noop{}
	}
	return NewHTTPStore(endpoint, searchTimeout, persistTimeout)
}
