package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/memory"
	"github.com/cloo-solutions/repomem/internal/repository"
	"github.com/cloo-solutions/repomem/internal/telemetry"
)

// Leg names reported in SearchResponse.Degraded.
const (
	LegSemantic    = "semantic"
	LegKeyword     = "keyword"
	LegSuggestions = "suggestions"
	LegFacets      = "facets"
)

const (
	keywordCandidates = 200
	suggestionLimit   = 5
)

type Retriever interface {
	Retrieve(ctx context.Context, in memory.RetrieveInput) ([]memory.Match, error)
}

type KeywordStore interface {
	SearchKeyword(ctx context.Context, q repository.KeywordQuery) ([]domain.ContentDocument, error)
	GetByHashes(ctx context.Context, hashes []string) ([]domain.ContentDocument, error)
	Facets(ctx context.Context, q repository.KeywordQuery) (*domain.Facets, error)
	IncrementPopularity(ctx context.Context, hashes []string) error
}

type QueryHistory interface {
	Record(ctx context.Context, query string, resultCount int, at time.Time) error
	Suggest(ctx context.Context, prefix string, limit int) ([]string, error)
}

// Engine fuses semantic and keyword results into one ranking.
type Engine struct {
	retriever Retriever
	keywords  KeywordStore
	history   QueryHistory
	cache     Cache
	now       func() time.Time
}

// NewEngine creates an Engine. history and cache may be nil.
func NewEngine(retriever Retriever, keywords KeywordStore, history QueryHistory, cache Cache) *Engine {
	return &Engine{
		retriever: retriever,
		keywords:  keywords,
		history:   history,
		cache:     cache,
		now:       time.Now,
	}
}

type candidate struct {
	hash     string
	match    *memory.Match
	doc      *domain.ContentDocument
	keyword  float64
	semantic float64
}

// Search runs the request through cache, both legs, fusion and pagination.
func (e *Engine) Search(ctx context.Context, query string, filters domain.SearchFilters, opts domain.SearchOptions) (*domain.SearchResponse, error) {
	started := e.now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.ErrEmptyQuery
	}
	if err := filters.Validate(); err != nil {
		return nil, err
	}
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "search.hybrid", telemetry.SpanAttributes{
		ProjectID: filters.ProjectID,
		Operation: string(opts.Mode),
	})
	defer span.End()

	key := CacheKey(query, filters, opts)
	if resp, ok := e.fromCache(ctx, key, opts); ok {
		resp.TookMs = e.now().Sub(started).Milliseconds()
		span.SetData("cached", true)
		e.record(ctx, query, resp.Total, nil)
		return resp, nil
	}

	scopes := []domain.Scope{domain.ScopeGlobal}
	if filters.ProjectID != "" {
		scopes, err = domain.ScopesFor(domain.RetrieveAll, filters.ProjectID)
		if err != nil {
			return nil, err
		}
	}
	kq := repository.KeywordQuery{
		Terms:   Terms(query),
		Scopes:  scopes,
		Filters: filters,
		Limit:   keywordCandidates,
	}

	resp := &domain.SearchResponse{Results: []domain.HybridSearchResult{}}
	runSem := opts.Mode != domain.SearchModeKeyword
	runKw := opts.Mode != domain.SearchModeSemantic

	var (
		matches       []memory.Match
		docs          []domain.ContentDocument
		semErr, kwErr error
		g             errgroup.Group
	)
	if runSem {
		g.Go(func() error {
			retrieveFilters := memory.RetrieveFilters{ContentTypes: filters.ContentTypes, Languages: filters.Languages}
			matches, semErr = e.retriever.Retrieve(ctx, memory.RetrieveInput{
				Query:     query,
				Filters:   retrieveFilters,
				ProjectID: filters.ProjectID,
				Scope:     domain.RetrieveAll,
				Limit:     opts.Offset + opts.Limit,
			})
			return nil
		})
	}
	if runKw {
		g.Go(func() error {
			docs, kwErr = e.keywords.SearchKeyword(ctx, kq)
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case (!runSem || semErr != nil) && (!runKw || kwErr != nil):
		cause := semErr
		if cause == nil {
			cause = kwErr
		}
		span.SetError(cause)
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeUnavailable, domain.ErrSearchUnavailable.Message, cause)
	case semErr != nil:
		log.Printf("search: semantic leg failed, serving keyword results: %v", semErr)
		resp.Degraded = append(resp.Degraded, LegSemantic)
	case kwErr != nil:
		log.Printf("search: keyword leg failed, serving semantic results: %v", kwErr)
		resp.Degraded = append(resp.Degraded, LegKeyword)
	}

	candidates := e.merge(ctx, query, matches, docs)
	results := e.rank(candidates, kq.Terms, filters, *opts.Boosts)

	resp.Total = len(results)
	resp.Results = paginate(results, opts.Offset, opts.Limit)

	if !opts.SkipSuggestions && e.history != nil {
		suggestions, err := e.history.Suggest(ctx, query, suggestionLimit)
		if err != nil {
			log.Printf("search: suggestions unavailable: %v", err)
			resp.Degraded = append(resp.Degraded, LegSuggestions)
		} else {
			resp.Suggestions = suggestions
		}
	}
	if !opts.SkipFacets {
		facets, err := e.keywords.Facets(ctx, kq)
		if err != nil {
			log.Printf("search: facets unavailable: %v", err)
			resp.Degraded = append(resp.Degraded, LegFacets)
		} else {
			resp.Facets = facets
		}
	}

	resp.TookMs = e.now().Sub(started).Milliseconds()
	if len(resp.Degraded) == 0 {
		e.store(ctx, key, resp)
	}
	span.SetData("total", resp.Total)
	e.record(ctx, query, resp.Total, resp.Results)
	return resp, nil
}

func (e *Engine) fromCache(ctx context.Context, key string, opts domain.SearchOptions) (*domain.SearchResponse, bool) {
	if e.cache == nil || opts.SkipCache {
		return nil, false
	}
	res := e.cache.Get(ctx, key)
	switch res.Status {
	case CacheHit:
	case CacheUnavailable:
		log.Printf("search: cache unavailable: %v", res.Err)
		return nil, false
	default:
		return nil, false
	}
	var resp domain.SearchResponse
	if err := json.Unmarshal(res.Payload, &resp); err != nil {
		log.Printf("search: dropping undecodable cache entry %s: %v", key, err)
		return nil, false
	}
	resp.Cached = true
	return &resp, true
}

func (e *Engine) store(ctx context.Context, key string, resp *domain.SearchResponse) {
	if e.cache == nil {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, payload); err != nil {
		log.Printf("search: cache write failed: %v", err)
	}
}

// record updates query history and result popularity. Both are best-effort.
func (e *Engine) record(ctx context.Context, query string, total int, page []domain.HybridSearchResult) {
	if e.history != nil {
		if err := e.history.Record(ctx, query, total, e.now().UTC()); err != nil {
			log.Printf("search: failed to record query: %v", err)
		}
	}
	if len(page) == 0 {
		return
	}
	hashes := make([]string, 0, len(page))
	for _, r := range page {
		hashes = append(hashes, r.ContentHash)
	}
	if err := e.keywords.IncrementPopularity(ctx, hashes); err != nil {
		log.Printf("search: failed to bump popularity: %v", err)
	}
}

// merge joins both legs on content hash. Semantic-only hits are enriched from
// the keyword store when possible so every signal can be scored.
func (e *Engine) merge(ctx context.Context, query string, matches []memory.Match, docs []domain.ContentDocument) map[string]*candidate {
	out := make(map[string]*candidate, len(matches)+len(docs))
	for i := range docs {
		d := &docs[i]
		out[d.ContentHash] = &candidate{
			hash:    d.ContentHash,
			doc:     d,
			keyword: KeywordRelevance(query, d.Title, d.Content),
		}
	}

	var missing []string
	for i := range matches {
		m := &matches[i]
		hash := m.ContentHash
		if hash == "" {
			hash = m.ID
		}
		c, ok := out[hash]
		if !ok {
			c = &candidate{hash: hash}
			out[hash] = c
			missing = append(missing, hash)
		}
		if c.match == nil || m.Score > c.semantic {
			c.match = m
			c.semantic = clamp(m.Score)
		}
	}

	if len(missing) > 0 {
		enriched, err := e.keywords.GetByHashes(ctx, missing)
		if err != nil {
			log.Printf("search: could not enrich semantic hits: %v", err)
		}
		for i := range enriched {
			if c, ok := out[enriched[i].ContentHash]; ok {
				c.doc = &enriched[i]
			}
		}
	}
	return out
}

func (e *Engine) rank(candidates map[string]*candidate, terms []string, filters domain.SearchFilters, boosts domain.Boosts) []domain.HybridSearchResult {
	now := e.now()
	var maxPopularity int64
	for _, c := range candidates {
		if c.doc != nil && c.doc.Popularity > maxPopularity {
			maxPopularity = c.doc.Popularity
		}
	}

	results := make([]domain.HybridSearchResult, 0, len(candidates))
	for _, c := range candidates {
		r := c.result(terms)
		if c.doc != nil {
			r.PopularityScore = Popularity(c.doc.Popularity, maxPopularity)
		}
		r.FreshnessScore = Freshness(r.UpdatedAt, now)
		if !passes(c, r, filters) {
			continue
		}
		r.CombinedScore = boosts.Combine(r.SemanticScore, r.KeywordScore, r.PopularityScore, r.FreshnessScore)
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CombinedScore != results[j].CombinedScore {
			return results[i].CombinedScore > results[j].CombinedScore
		}
		return results[i].ContentHash < results[j].ContentHash
	})
	return results
}

func (c *candidate) result(terms []string) domain.HybridSearchResult {
	r := domain.HybridSearchResult{
		ContentHash:   c.hash,
		SemanticScore: c.semantic,
		KeywordScore:  c.keyword,
	}
	if m := c.match; m != nil {
		meta := m.Metadata
		r.Title = m.Name
		r.Content = m.Text
		r.Source = m.Source
		r.Scope = m.Scope
		r.ContentType = m.ContentType
		r.Language = m.Language
		r.ChunkType = m.ChunkType
		r.StartLine = m.StartLine
		r.EndLine = m.EndLine
		r.UpdatedAt = m.IndexedAt
		r.Metadata = &meta
	}
	if d := c.doc; d != nil {
		r.Title = d.Title
		r.Content = d.Content
		r.Source = d.Source
		r.Scope = d.Scope
		r.ContentType = d.ContentType
		r.SourceType = d.SourceType
		r.Language = d.Language
		r.ChunkType = d.ChunkType
		r.StartLine = d.StartLine
		r.EndLine = d.EndLine
		r.UpdatedAt = d.UpdatedAt
	}
	r.Snippet = Snippet(r.Content, terms)
	return r
}

// passes applies the filters the semantic leg cannot push down, and the
// freshness range which only exists after scoring.
func passes(c *candidate, r domain.HybridSearchResult, f domain.SearchFilters) bool {
	if fr := f.Freshness; fr != nil {
		if (fr.Min != nil && r.FreshnessScore < *fr.Min) || (fr.Max != nil && r.FreshnessScore > *fr.Max) {
			return false
		}
	}
	d := c.doc
	if d == nil {
		return true
	}
	if len(f.ContentTypes) > 0 && !containsString(f.ContentTypes, d.ContentType) {
		return false
	}
	if len(f.SourceTypes) > 0 && !containsString(f.SourceTypes, d.SourceType) {
		return false
	}
	if len(f.Languages) > 0 && !containsString(f.Languages, d.Language) {
		return false
	}
	if len(f.Complexity) > 0 && !containsString(f.Complexity, d.Complexity) {
		return false
	}
	if wc := f.WordCount; wc != nil {
		if (wc.Min > 0 && d.WordCount < wc.Min) || (wc.Max > 0 && d.WordCount > wc.Max) {
			return false
		}
	}
	if ua := f.UpdatedAt; ua != nil {
		if (ua.From != nil && d.UpdatedAt.Before(*ua.From)) || (ua.To != nil && d.UpdatedAt.After(*ua.To)) {
			return false
		}
	}
	return true
}

func containsString[T ~string](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func paginate(results []domain.HybridSearchResult, offset, limit int) []domain.HybridSearchResult {
	if offset >= len(results) {
		return []domain.HybridSearchResult{}
	}
	end := min(offset+limit, len(results))
	return results[offset:end]
}

// Suggest returns frequent past queries starting with prefix.
func (e *Engine) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	if e.history == nil {
		return []string{}, nil
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, domain.NewValidationError("prefix is required")
	}
	suggestions, err := e.history.Suggest(ctx, prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("suggest: %w", err)
	}
	return suggestions, nil
}
