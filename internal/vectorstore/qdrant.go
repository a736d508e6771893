package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// QdrantStore is a REST client for a Qdrant collection using cosine distance.
type QdrantStore struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

type qdrantStatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *qdrantStatusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %d %s", e.Method, e.Path, e.Status, e.Body)
}

func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("vectorstore: qdrant url is required")
	}
	collection := cfg.Collection
	if collection == "" {
		collection = DefaultTable
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &QdrantStore{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: collection,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

func (s *QdrantStore) EnsureCollection(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("vectorstore: invalid dimensions %d", dimensions)
	}

	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := s.do(ctx, http.MethodGet, s.collectionPath(""), nil, &info)
	if err == nil {
		if size := info.Result.Config.Params.Vectors.Size; size != dimensions {
			return fmt.Errorf("%w: collection %s has %d, want %d", ErrDimensionMismatch, s.collection, size, dimensions)
		}
		return nil
	}
	var statusErr *qdrantStatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusNotFound {
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimensions,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionPath(""), body, nil); err != nil {
		return err
	}
	for _, field := range []string{"scope", "source", "content_type", "language", "chunk_type"} {
		index := map[string]any{"field_name": field, "field_schema": "keyword"}
		if err := s.do(ctx, http.MethodPut, s.collectionPath("/index?wait=true"), index, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	body := make([]map[string]any, len(points))
	for i, p := range points {
		body[i] = map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		}
	}
	return s.do(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), map[string]any{"points": body}, nil)
}

type qdrantPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload json.RawMessage `json:"payload"`
}

func (q qdrantPoint) decode() (Point, error) {
	p := Point{ID: rawPointID(q.ID)}
	if len(q.Payload) > 0 {
		if err := json.Unmarshal(q.Payload, &p.Payload); err != nil {
			return p, fmt.Errorf("vectorstore: decode payload for %s: %w", p.ID, err)
		}
	}
	return p, nil
}

func (s *QdrantStore) Search(ctx context.Context, vector []float32, filter Filter, limit int) ([]ScoredPoint, error) {
	if limit <= 0 {
		limit = 10
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if f := qdrantFilter(filter); f != nil {
		req["filter"] = f
	}
	var resp struct {
		Result []qdrantPoint `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	out := make([]ScoredPoint, 0, len(resp.Result))
	for _, r := range resp.Result {
		p, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredPoint{Point: p, Score: r.Score})
	}
	return out, nil
}

// Delete counts matches first since the delete endpoint reports no totals.
func (s *QdrantStore) Delete(ctx context.Context, filter Filter) (int64, error) {
	if !filter.Scoped() {
		return 0, ErrUnscopedFilter
	}
	n, err := s.Count(ctx, filter)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	req := map[string]any{"filter": qdrantFilter(filter)}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *QdrantStore) Scroll(ctx context.Context, filter Filter, limit int, cursor string) ([]Point, string, error) {
	if limit <= 0 {
		limit = 100
	}
	req := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if f := qdrantFilter(filter); f != nil {
		req["filter"] = f
	}
	if cursor != "" {
		req["offset"] = cursor
	}
	var resp struct {
		Result struct {
			Points         []qdrantPoint   `json:"points"`
			NextPageOffset json.RawMessage `json:"next_page_offset"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/scroll"), req, &resp); err != nil {
		return nil, "", err
	}
	out := make([]Point, 0, len(resp.Result.Points))
	for _, r := range resp.Result.Points {
		p, err := r.decode()
		if err != nil {
			return nil, "", err
		}
		out = append(out, p)
	}
	return out, rawPointID(resp.Result.NextPageOffset), nil
}

func (s *QdrantStore) Count(ctx context.Context, filter Filter) (int64, error) {
	req := map[string]any{"exact": true}
	if f := qdrantFilter(filter); f != nil {
		req["filter"] = f
	}
	var resp struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/count"), req, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func (s *QdrantStore) collectionPath(suffix string) string {
	return "/collections/" + s.collection + suffix
}

func (s *QdrantStore) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("vectorstore: encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.url+path, reader)
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
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &qdrantStatusError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// qdrantFilter returns nil for an empty filter.
func qdrantFilter(f Filter) map[string]any {
	var must []map[string]any
	matchAny := func(key string, values []string) {
		if len(values) > 0 {
			must = append(must, map[string]any{"key": key, "match": map[string]any{"any": values}})
		}
	}
	matchAny("scope", stringsOf(f.Scopes))
	if f.Source != "" {
		must = append(must, map[string]any{"key": "source", "match": map[string]any{"value": f.Source}})
	}
	matchAny("content_type", stringsOf(f.ContentTypes))
	matchAny("language", f.Languages)
	matchAny("chunk_type", stringsOf(f.ChunkTypes))
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

// rawPointID accepts the string or integer id forms Qdrant returns.
func rawPointID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
