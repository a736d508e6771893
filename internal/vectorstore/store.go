// Package vectorstore holds the embedded chunks behind the memory gateway.
// Every point carries its scope so reads can be confined to one partition.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/repomem/internal/domain"
)

const (
	KindPGVector = "pgvector"
	KindQdrant   = "qdrant"
	KindMemory   = "memory"
)

var (
	// ErrUnscopedFilter is returned when a destructive call names no scope.
	ErrUnscopedFilter = errors.New("vectorstore: filter must name at least one scope")
	// ErrDimensionMismatch is returned when a vector does not fit the collection.
	ErrDimensionMismatch = errors.New("vectorstore: vector dimension mismatch")
	// ErrNotInitialized is returned when EnsureCollection has not run.
	ErrNotInitialized = errors.New("vectorstore: collection not initialized")
)

// pointNamespace seeds deterministic point ids.
var pointNamespace = uuid.MustParse("0b7e4f7c-3a52-4d55-9a57-6c1d0f6f8e21")

// Payload is the data stored next to each vector.
type Payload struct {
	Text        string               `json:"text"`
	Source      string               `json:"source"`
	Scope       domain.Scope         `json:"scope"`
	ContentHash string               `json:"content_hash"`
	Name        string               `json:"name,omitempty"`
	ContentType domain.ContentType   `json:"content_type,omitempty"`
	Language    string               `json:"language,omitempty"`
	ChunkType   domain.ChunkType     `json:"chunk_type,omitempty"`
	StartLine   int                  `json:"start_line,omitempty"`
	EndLine     int                  `json:"end_line,omitempty"`
	Metadata    domain.ChunkMetadata `json:"metadata"`
	IndexedAt   time.Time            `json:"indexed_at"`
}

// Point is one stored vector. Vector is nil on reads that skip it.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// ScoredPoint is a search hit; Score is cosine similarity.
type ScoredPoint struct {
	Point
	Score float64
}

// Filter is a conjunction of its non-empty fields. Scopes are ORed.
type Filter struct {
	Scopes       []domain.Scope
	Source       string
	ContentTypes []domain.ContentType
	Languages    []string
	ChunkTypes   []domain.ChunkType
}

// Scoped reports whether the filter names at least one scope.
func (f Filter) Scoped() bool {
	return len(f.Scopes) > 0
}

func (f Filter) matches(p Payload) bool {
	if len(f.Scopes) > 0 && !contains(f.Scopes, p.Scope) {
		return false
	}
	if f.Source != "" && f.Source != p.Source {
		return false
	}
	if len(f.ContentTypes) > 0 && !contains(f.ContentTypes, p.ContentType) {
		return false
	}
	if len(f.Languages) > 0 && !contains(f.Languages, p.Language) {
		return false
	}
	if len(f.ChunkTypes) > 0 && !contains(f.ChunkTypes, p.ChunkType) {
		return false
	}
	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func stringsOf[T ~string](list []T) []string {
	out := make([]string, len(list))
	for i, v := range list {
		out[i] = string(v)
	}
	return out
}

// Store is the vector index contract used by the memory gateway.
type Store interface {
	// EnsureCollection creates the backing collection if absent. It is
	// idempotent and fails when an existing collection has other dimensions.
	EnsureCollection(ctx context.Context, dimensions int) error
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, vector []float32, filter Filter, limit int) ([]ScoredPoint, error)
	// Delete removes matching points and returns how many were removed.
	Delete(ctx context.Context, filter Filter) (int64, error)
	// Scroll pages through matching points in id order. An empty next
	// cursor means the last page was returned.
	Scroll(ctx context.Context, filter Filter, limit int, cursor string) ([]Point, string, error)
	Count(ctx context.Context, filter Filter) (int64, error)
}

// PointID derives a stable id for the index-th chunk of source in scope.
func PointID(scope domain.Scope, source string, index int, contentHash string) string {
	key := string(scope) + "\x00" + source + "\x00" + strconv.Itoa(index) + "\x00" + contentHash
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

// Config selects and configures a Store implementation.
type Config struct {
	Kind             string
	Table            string
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string
	Timeout          time.Duration
}

// Open builds the configured store. pool is only used by the pgvector kind.
func Open(cfg Config, pool *pgxpool.Pool) (Store, error) {
	switch cfg.Kind {
	case "", KindPGVector:
		if pool == nil {
			return nil, fmt.Errorf("vectorstore: pgvector store requires a database pool")
		}
		return NewPGVectorStore(pool, cfg.Table)
	case KindQdrant:
		return NewQdrantStore(QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Timeout:    cfg.Timeout,
		})
	case KindMemory:
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("vectorstore: unknown store kind %q", cfg.Kind)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
