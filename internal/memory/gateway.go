// Package memory turns parsed content into stored vectors and back. All
// calls bootstrap the vector collection on first use.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/parser"
	"github.com/cloo-solutions/repomem/internal/telemetry"
	"github.com/cloo-solutions/repomem/internal/vectorstore"
)

// RetrieveLimit is the default number of matches per retrieval.
const RetrieveLimit = 10

// MaxRetrieveLimit caps explicit limits.
const MaxRetrieveLimit = 100

const summaryRunes = 200

// Embedder produces fixed-size embeddings.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// KeywordIndex mirrors ingested chunks into the keyword-searchable store.
type KeywordIndex interface {
	UpsertDocuments(ctx context.Context, docs []domain.ContentDocument) error
	DeleteSource(ctx context.Context, scope domain.Scope, source string) (int64, error)
	DeleteScope(ctx context.Context, scope domain.Scope) (int64, error)
}

type IngestInput struct {
	Content     string
	Source      string
	ContentType domain.ContentType
	Language    string
	ProjectID   string
	Scope       domain.Scope
	SourceType  string
}

type IngestResult struct {
	VectorsAdded int          `json:"vectors_added"`
	Scope        domain.Scope `json:"scope"`
	Language     string       `json:"language,omitempty"`
	FallbackUsed bool         `json:"fallback_used"`
}

// RetrieveFilters are ANDed with the scope filter.
type RetrieveFilters struct {
	Source       string               `json:"source,omitempty"`
	ContentTypes []domain.ContentType `json:"content_types,omitempty"`
	Languages    []string             `json:"languages,omitempty"`
	ChunkTypes   []domain.ChunkType   `json:"chunk_types,omitempty"`
}

type RetrieveInput struct {
	Query     string
	Filters   RetrieveFilters
	ProjectID string
	Scope     domain.RetrieveMode
	// Limit defaults to RetrieveLimit.
	Limit int
}

// Match is one retrieved chunk. Score is cosine similarity.
type Match struct {
	ID          string               `json:"id"`
	Score       float64              `json:"score"`
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

type DeleteProjectResult struct {
	Scope     domain.Scope `json:"scope"`
	Deleted   int64        `json:"deleted"`
	Remaining int64        `json:"remaining"`
}

type Gateway struct {
	parser   *parser.Framework
	embedder Embedder
	store    vectorstore.Store
	keywords KeywordIndex
	chunking ChunkConfig
	now      func() time.Time

	mu    sync.Mutex
	ready bool
}

type Option func(*Gateway)

// WithKeywordIndex mirrors every ingested chunk into idx.
func WithKeywordIndex(idx KeywordIndex) Option {
	return func(g *Gateway) { g.keywords = idx }
}

func WithChunkConfig(cfg ChunkConfig) Option {
	return func(g *Gateway) { g.chunking = cfg }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func NewGateway(framework *parser.Framework, embedder Embedder, store vectorstore.Store, opts ...Option) *Gateway {
	if framework == nil {
		framework = parser.NewFramework(nil)
	}
	g := &Gateway{
		parser:   framework,
		embedder: embedder,
		store:    store,
		chunking: DefaultChunkConfig(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ensureCollection runs the bootstrap until it succeeds once.
func (g *Gateway) ensureCollection(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ready {
		return nil
	}
	dims := g.embedder.Dimensions()
	if err := g.store.EnsureCollection(ctx, dims); err != nil {
		return fmt.Errorf("bootstrap vector collection: %w", err)
	}
	log.Printf("memory: vector collection ready (dimensions: %d)", dims)
	g.ready = true
	return nil
}

// Ingest parses content and stores one vector per non-blank chunk under the
// resolved scope. Any embedding failure aborts the whole call.
func (g *Gateway) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	if strings.TrimSpace(in.Source) == "" {
		return nil, domain.NewValidationError("source is required")
	}
	if in.Scope != "" {
		if _, err := domain.ParseScope(string(in.Scope)); err != nil {
			return nil, err
		}
	}
	if in.ContentType != "" && !domain.IsValidContentType(in.ContentType) {
		return nil, domain.NewValidationError("invalid content type: %s", in.ContentType)
	}
	scope := domain.ResolveScope(in.ProjectID, in.Scope)

	ctx, span := telemetry.StartSpan(ctx, "memory.ingest", telemetry.SpanAttributes{
		ProjectID: in.ProjectID,
		Scope:     string(scope),
		Source:    in.Source,
		Operation: "ingest",
	})
	defer span.End()

	result := &IngestResult{Scope: scope}
	if strings.TrimSpace(in.Content) == "" {
		return result, nil
	}

	if err := g.ensureCollection(ctx); err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("ingest %s: %w", in.Source, err)
	}

	parsed := g.parser.Parse(in.Content, in.Source, in.Language)
	language := parsed.Language
	if in.Language != "" && parsed.FallbackUsed {
		language = in.Language
	}
	chunks := parsed.Chunks
	if parsed.FallbackUsed && utf8.RuneCountInString(in.Content) > g.chunking.MaxChars {
		chunks = splitParagraphs(in.Content, filepath.Base(in.Source), language, g.chunking)
	}
	result.Language = language
	result.FallbackUsed = parsed.FallbackUsed

	contentType := in.ContentType
	if contentType == "" {
		contentType = domain.ContentTypeForLanguage(language)
	}
	sourceType := in.SourceType
	if sourceType == "" {
		sourceType = domain.SourceTypeManual
	}

	now := g.now()
	points := make([]vectorstore.Point, 0, len(chunks))
	docs := make([]domain.ContentDocument, 0, len(chunks))
	for i, chunk := range chunks {
		if chunk.IsBlank() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if chunk.Metadata.Language == "" {
			chunk.Metadata.Language = language
		}

		vec, err := g.embedder.GenerateEmbedding(ctx, chunk.Content)
		if err != nil {
			span.SetError(err)
			return nil, fmt.Errorf("ingest %s: embed chunk %q (lines %d-%d): %w",
				in.Source, chunk.Name, chunk.StartLine, chunk.EndLine, err)
		}

		hash := ContentHash(scope, in.Source, chunk)
		points = append(points, vectorstore.Point{
			ID:     vectorstore.PointID(scope, in.Source, i, hash),
			Vector: vec,
			Payload: vectorstore.Payload{
				Text:        chunk.Content,
				Source:      in.Source,
				Scope:       scope,
				ContentHash: hash,
				Name:        chunk.Name,
				ContentType: contentType,
				Language:    chunk.Metadata.Language,
				ChunkType:   chunk.Type,
				StartLine:   chunk.StartLine,
				EndLine:     chunk.EndLine,
				Metadata:    chunk.Metadata,
				IndexedAt:   now,
			},
		})
		docs = append(docs, contentDocument(chunk, in.Source, scope, hash, contentType, sourceType, now))
	}

	if err := g.store.Upsert(ctx, points); err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("ingest %s: upsert vectors: %w", in.Source, err)
	}
	if g.keywords != nil && len(docs) > 0 {
		if err := g.keywords.UpsertDocuments(ctx, docs); err != nil {
			span.SetError(err)
			return nil, fmt.Errorf("ingest %s: mirror keyword documents: %w", in.Source, err)
		}
	}

	result.VectorsAdded = len(points)
	return result, nil
}

// Retrieve returns the nearest matches for the query, at most in.Limit.
func (g *Gateway) Retrieve(ctx context.Context, in RetrieveInput) ([]Match, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, domain.ErrEmptyQuery
	}
	scopes, err := domain.ScopesFor(in.Scope, in.ProjectID)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "memory.retrieve", telemetry.SpanAttributes{
		ProjectID: in.ProjectID,
		Scope:     string(in.Scope),
		Operation: "retrieve",
	})
	defer span.End()

	if err := g.ensureCollection(ctx); err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	vec, err := g.embedder.GenerateEmbedding(ctx, in.Query)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("retrieve: embed query: %w", err)
	}

	hits, err := g.store.Search(ctx, vec, vectorstore.Filter{
		Scopes:       scopes,
		Source:       in.Filters.Source,
		ContentTypes: in.Filters.ContentTypes,
		Languages:    in.Filters.Languages,
		ChunkTypes:   in.Filters.ChunkTypes,
	}, retrieveLimit(in.Limit))
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("retrieve: search vectors: %w", err)
	}

	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		matches = append(matches, Match{
			ID:          h.ID,
			Score:       h.Score,
			Text:        h.Payload.Text,
			Source:      h.Payload.Source,
			Scope:       h.Payload.Scope,
			ContentHash: h.Payload.ContentHash,
			Name:        h.Payload.Name,
			ContentType: h.Payload.ContentType,
			Language:    h.Payload.Language,
			ChunkType:   h.Payload.ChunkType,
			StartLine:   h.Payload.StartLine,
			EndLine:     h.Payload.EndLine,
			Metadata:    h.Payload.Metadata,
			IndexedAt:   h.Payload.IndexedAt,
		})
	}
	return matches, nil
}

func retrieveLimit(n int) int {
	switch {
	case n <= 0:
		return RetrieveLimit
	case n > MaxRetrieveLimit:
		return MaxRetrieveLimit
	}
	return n
}

// DeleteSource removes every vector of source within scope (global when
// empty) and returns the scope it deleted from.
func (g *Gateway) DeleteSource(ctx context.Context, source string, scope domain.Scope) (domain.Scope, error) {
	if strings.TrimSpace(source) == "" {
		return "", domain.NewValidationError("source is required")
	}
	if scope == "" {
		scope = domain.ScopeGlobal
	}
	if _, err := domain.ParseScope(string(scope)); err != nil {
		return "", err
	}

	if err := g.ensureCollection(ctx); err != nil {
		return "", fmt.Errorf("delete source %s: %w", source, err)
	}
	if _, err := g.store.Delete(ctx, vectorstore.Filter{Scopes: []domain.Scope{scope}, Source: source}); err != nil {
		return "", fmt.Errorf("delete source %s: %w", source, err)
	}
	if g.keywords != nil {
		if _, err := g.keywords.DeleteSource(ctx, scope, source); err != nil {
			return "", fmt.Errorf("delete source %s: keyword documents: %w", source, err)
		}
	}
	return scope, nil
}

// DeleteAllProjectVectors clears the project scope and reports the exact
// number of vectors left behind.
func (g *Gateway) DeleteAllProjectVectors(ctx context.Context, projectID string) (*DeleteProjectResult, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, domain.NewValidationError("project id is required")
	}
	scope := domain.ProjectScope(projectID)

	ctx, span := telemetry.StartSpan(ctx, "memory.delete_project", telemetry.SpanAttributes{
		ProjectID: projectID,
		Scope:     string(scope),
		Operation: "delete_project",
	})
	defer span.End()

	if err := g.ensureCollection(ctx); err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("delete project %s: %w", projectID, err)
	}
	filter := vectorstore.Filter{Scopes: []domain.Scope{scope}}
	deleted, err := g.store.Delete(ctx, filter)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("delete project %s: %w", projectID, err)
	}
	if g.keywords != nil {
		if _, err := g.keywords.DeleteScope(ctx, scope); err != nil {
			span.SetError(err)
			return nil, fmt.Errorf("delete project %s: keyword documents: %w", projectID, err)
		}
	}
	remaining, err := g.store.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("delete project %s: count remaining: %w", projectID, err)
	}
	return &DeleteProjectResult{Scope: scope, Deleted: deleted, Remaining: remaining}, nil
}

// CountVectors returns the number of vectors stored under scope.
func (g *Gateway) CountVectors(ctx context.Context, scope domain.Scope) (int64, error) {
	if _, err := domain.ParseScope(string(scope)); err != nil {
		return 0, err
	}
	if err := g.ensureCollection(ctx); err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	n, err := g.store.Count(ctx, vectorstore.Filter{Scopes: []domain.Scope{scope}})
	if err != nil {
		return 0, fmt.Errorf("count vectors in %s: %w", scope, err)
	}
	return n, nil
}

// ContentHash identifies a chunk across the vector and keyword stores.
func ContentHash(scope domain.Scope, source string, chunk domain.SemanticChunk) string {
	h := sha256.New()
	h.Write([]byte(scope))
	h.Write([]byte{0})
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(chunk.StartLine)))
	h.Write([]byte{0})
	h.Write([]byte(chunk.Content))
	return hex.EncodeToString(h.Sum(nil))
}

func contentDocument(chunk domain.SemanticChunk, source string, scope domain.Scope, hash string, contentType domain.ContentType, sourceType string, now time.Time) domain.ContentDocument {
	title := chunk.Name
	if title == "" {
		title = filepath.Base(source)
	}
	words := len(strings.Fields(chunk.Content))
	return domain.ContentDocument{
		ContentHash: hash,
		Title:       title,
		Content:     chunk.Content,
		Summary:     summarize(chunk.Content),
		Source:      source,
		Scope:       scope,
		ContentType: contentType,
		SourceType:  sourceType,
		Language:    chunk.Metadata.Language,
		ChunkType:   chunk.Type,
		StartLine:   chunk.StartLine,
		EndLine:     chunk.EndLine,
		Complexity:  domain.ComplexityForWordCount(words),
		WordCount:   words,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// summarize returns the first non-blank line, truncated.
func summarize(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > summaryRunes {
			runes := []rune(line)
			return string(runes[:summaryRunes]) + "..."
		}
		return line
	}
	return ""
}
