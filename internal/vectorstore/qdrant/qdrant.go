package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"neuralcraft/internal/domain"
)

// errCollectionMissing is returned by the HTTP helpers on a 404.
var errCollectionMissing = errors.New("qdrant collection missing")

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates the collection on first write.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client

	mu        sync.Mutex
	dimension int
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// Init creates the collection for the given dimension if it does not exist.
func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == dimension {
		return nil
	}
	err := s.do(ctx, http.MethodGet, s.collectionURL(""), nil, nil)
	switch {
	case err == nil:
	case errors.Is(err, errCollectionMissing):
		body := map[string]any{
			"vectors": map[string]any{
				"size":     dimension,
				"distance": "Cosine",
			},
		}
		if err := s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil); err != nil {
			return err
		}
	default:
		return err
	}
	s.dimension = dimension
	return nil
}

// Index upserts the element as a point keyed by its id.
func (s *Storage) Index(ctx context.Context, el domain.Element) error {
	if err := s.Init(ctx, len(el.Embedding)); err != nil {
		return err
	}
	body := map[string]any{
		"points": []map[string]any{{
			"id":     el.ID,
			"vector": el.Embedding,
			"payload": map[string]any{
				"name":    el.Name,
				"is_base": el.IsBase,
			},
		}},
	}
	return s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), body, nil)
}

// Nearest searches the collection. A missing collection yields no matches.
func (s *Storage) Nearest(ctx context.Context, vector []float32, minSimilarity float64, limit int) ([]domain.Match, error) {
	if limit <= 0 {
		limit = 1
	}
	req := map[string]any{
		"vector":          vector,
		"limit":           limit,
		"with_payload":    true,
		"score_threshold": minSimilarity,
	}
	var resp struct {
		Result []struct {
			ID      int64          `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp)
	if errors.Is(err, errCollectionMissing) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	matches := make([]domain.Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		if r.Score < minSimilarity {
			continue
		}
		m := domain.Match{ElementID: r.ID, Similarity: r.Score}
		if v, ok := r.Payload["name"].(string); ok {
			m.Name = v
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Clear drops the collection.
func (s *Storage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.do(ctx, http.MethodDelete, s.collectionURL(""), nil, nil)
	if err != nil && !errors.Is(err, errCollectionMissing) {
		return err
	}
	s.dimension = 0
	return nil
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

func (s *Storage) do(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errCollectionMissing
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
