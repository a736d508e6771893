package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/memory"
	"github.com/cloo-solutions/repomem/internal/repository"
)

type fakeRetriever struct {
	matches []memory.Match
	err     error
	calls   int
	last    memory.RetrieveInput
}

func (f *fakeRetriever) Retrieve(_ context.Context, in memory.RetrieveInput) ([]memory.Match, error) {
	f.calls++
	f.last = in
	return f.matches, f.err
}

type fakeKeywords struct {
	mu        sync.Mutex
	docs      []domain.ContentDocument
	byHash    map[string]domain.ContentDocument
	err       error
	facetsErr error
	calls     int
	last      repository.KeywordQuery
	bumped    []string
}

func (f *fakeKeywords) SearchKeyword(_ context.Context, q repository.KeywordQuery) ([]domain.ContentDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = q
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.ContentDocument(nil), f.docs...), nil
}

func (f *fakeKeywords) GetByHashes(_ context.Context, hashes []string) ([]domain.ContentDocument, error) {
	var out []domain.ContentDocument
	for _, h := range hashes {
		if d, ok := f.byHash[h]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeKeywords) Facets(context.Context, repository.KeywordQuery) (*domain.Facets, error) {
	if f.facetsErr != nil {
		return nil, f.facetsErr
	}
	return &domain.Facets{ContentTypes: []domain.FacetCount{{Value: "code", Count: 2}}}, nil
}

func (f *fakeKeywords) IncrementPopularity(_ context.Context, hashes []string) error {
	f.bumped = append(f.bumped, hashes...)
	return nil
}

type fakeHistory struct {
	recorded []string
	freq     map[string]int
}

func (f *fakeHistory) Record(_ context.Context, query string, _ int, _ time.Time) error {
	f.recorded = append(f.recorded, query)
	if f.freq == nil {
		f.freq = map[string]int{}
	}
	f.freq[strings.ToLower(query)]++
	return nil
}

func (f *fakeHistory) Suggest(_ context.Context, prefix string, limit int) ([]string, error) {
	var out []string
	for q := range f.freq {
		if strings.HasPrefix(q, strings.ToLower(prefix)) && q != strings.ToLower(prefix) {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if f.freq[out[i]] != f.freq[out[j]] {
			return f.freq[out[i]] > f.freq[out[j]]
		}
		return out[i] < out[j]
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type engineFixture struct {
	engine    *Engine
	retriever *fakeRetriever
	keywords  *fakeKeywords
	history   *fakeHistory
	now       time.Time
}

func newEngineFixture(cache Cache) *engineFixture {
	f := &engineFixture{
		retriever: &fakeRetriever{},
		keywords:  &fakeKeywords{byHash: map[string]domain.ContentDocument{}},
		history:   &fakeHistory{},
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(f.retriever, f.keywords, f.history, cache)
	f.engine.now = func() time.Time { return f.now }
	return f
}

func TestSearch_FusesLegsByContentHash(t *testing.T) {
	f := newEngineFixture(nil)
	f.retriever.matches = []memory.Match{
		{ID: "p1", ContentHash: "h1", Score: 0.9, Text: "func Load() {}", Source: "config.go", Scope: "project:alpha"},
	}
	f.keywords.docs = []domain.ContentDocument{
		{ContentHash: "h1", Title: "loader", Content: "we parse files", Source: "config.go", Scope: "project:alpha"},
	}

	resp, err := f.engine.Search(context.Background(), "parse config", domain.SearchFilters{ProjectID: "alpha"}, domain.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	r := resp.Results[0]
	assert.Equal(t, "h1", r.ContentHash)
	assert.InDelta(t, 0.9, r.SemanticScore, 1e-9)
	assert.InDelta(t, 0.5, r.KeywordScore, 1e-9)
	assert.Zero(t, r.PopularityScore)
	assert.Zero(t, r.FreshnessScore)
	assert.InDelta(t, 0.9*0.6+0.5*0.3, r.CombinedScore, 1e-9)
	assert.Equal(t, "loader", r.Title)
	assert.Equal(t, 1, resp.Total)
	assert.False(t, resp.Cached)

	assert.Equal(t, domain.RetrieveAll, f.retriever.last.Scope)
	assert.Equal(t, "alpha", f.retriever.last.ProjectID)
	assert.Equal(t, []domain.Scope{domain.ScopeGlobal, "project:alpha"}, f.keywords.last.Scopes)
	assert.Equal(t, []string{"parse", "config"}, f.keywords.last.Terms)
	assert.Equal(t, []string{"parse config"}, f.history.recorded)
	assert.Equal(t, []string{"h1"}, f.keywords.bumped)
}

func TestSearch_OrderingAndPagination(t *testing.T) {
	f := newEngineFixture(nil)
	f.retriever.matches = []memory.Match{
		{ContentHash: "b", Score: 0.5},
		{ContentHash: "a", Score: 0.5},
		{ContentHash: "c", Score: 0.8},
	}
	f.keywords.docs = nil

	resp, err := f.engine.Search(context.Background(), "anything", domain.SearchFilters{}, domain.SearchOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Total)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "c", resp.Results[0].ContentHash)
	assert.Equal(t, "a", resp.Results[1].ContentHash)

	resp, err = f.engine.Search(context.Background(), "anything", domain.SearchFilters{}, domain.SearchOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "b", resp.Results[0].ContentHash)
}

func TestSearch_PagesStayInsideSemanticWindow(t *testing.T) {
	require.LessOrEqual(t, domain.MaxSearchWindow, memory.MaxRetrieveLimit)

	f := newEngineFixture(nil)
	_, err := f.engine.Search(context.Background(), "anything", domain.SearchFilters{}, domain.SearchOptions{Limit: 20, Offset: 80})
	require.NoError(t, err)
	assert.Equal(t, 100, f.retriever.last.Limit)

	f.retriever.calls = 0
	_, err = f.engine.Search(context.Background(), "anything", domain.SearchFilters{}, domain.SearchOptions{Limit: 20, Offset: 100})
	assert.ErrorIs(t, err, domain.ErrSearchWindowExceeded)
	assert.Zero(t, f.retriever.calls)
}

func TestSearch_PopularityAndFreshness(t *testing.T) {
	f := newEngineFixture(nil)
	f.keywords.docs = []domain.ContentDocument{
		{ContentHash: "old", Content: "cache layer", Popularity: 0, UpdatedAt: f.now.Add(-400 * 24 * time.Hour)},
		{ContentHash: "hot", Content: "cache layer", Popularity: 9, UpdatedAt: f.now.Add(-time.Hour)},
	}

	resp, err := f.engine.Search(context.Background(), "cache", domain.SearchFilters{}, domain.SearchOptions{Mode: domain.SearchModeKeyword})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "hot", resp.Results[0].ContentHash)
	assert.InDelta(t, 1.0, resp.Results[0].PopularityScore, 1e-9)
	assert.Equal(t, 1.0, resp.Results[0].FreshnessScore)
	assert.Equal(t, 0.1, resp.Results[1].FreshnessScore)
	assert.Zero(t, f.retriever.calls)

	floor := 0.5
	resp, err = f.engine.Search(context.Background(), "cache", domain.SearchFilters{Freshness: &domain.FloatRange{Min: &floor}},
		domain.SearchOptions{Mode: domain.SearchModeKeyword})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "hot", resp.Results[0].ContentHash)
}

func TestSearch_SemanticHitsAreEnrichedAndFiltered(t *testing.T) {
	f := newEngineFixture(nil)
	f.retriever.matches = []memory.Match{
		{ContentHash: "doc", Score: 0.7},
		{ContentHash: "bucket", Score: 0.9},
		{ContentHash: "unknown", Score: 0.6},
	}
	f.keywords.byHash["doc"] = domain.ContentDocument{ContentHash: "doc", Title: "README", SourceType: domain.SourceTypeRepository, Popularity: 3}
	f.keywords.byHash["bucket"] = domain.ContentDocument{ContentHash: "bucket", SourceType: domain.SourceTypeBucket}

	resp, err := f.engine.Search(context.Background(), "docs", domain.SearchFilters{SourceTypes: []string{domain.SourceTypeRepository}},
		domain.SearchOptions{Mode: domain.SearchModeSemantic})
	require.NoError(t, err)

	var hashes []string
	for _, r := range resp.Results {
		hashes = append(hashes, r.ContentHash)
	}
	assert.Equal(t, []string{"doc", "unknown"}, hashes)
	assert.Equal(t, "README", resp.Results[0].Title)
	assert.Zero(t, f.keywords.calls)
}

func TestSearch_LegDegradation(t *testing.T) {
	ctx := context.Background()

	t.Run("keyword leg down", func(t *testing.T) {
		f := newEngineFixture(NewLRUCache(10, time.Minute))
		f.retriever.matches = []memory.Match{{ContentHash: "h1", Score: 0.8}}
		f.keywords.err = errors.New("relation does not exist")

		resp, err := f.engine.Search(ctx, "query", domain.SearchFilters{}, domain.SearchOptions{})
		require.NoError(t, err)
		assert.Len(t, resp.Results, 1)
		assert.Equal(t, []string{LegKeyword}, resp.Degraded)

		// degraded responses are not cached
		resp, err = f.engine.Search(ctx, "query", domain.SearchFilters{}, domain.SearchOptions{})
		require.NoError(t, err)
		assert.False(t, resp.Cached)
	})

	t.Run("semantic leg down", func(t *testing.T) {
		f := newEngineFixture(nil)
		f.retriever.err = domain.ErrEmbeddingUnavailable
		f.keywords.docs = []domain.ContentDocument{{ContentHash: "h1", Content: "query"}}

		resp, err := f.engine.Search(ctx, "query", domain.SearchFilters{}, domain.SearchOptions{})
		require.NoError(t, err)
		assert.Len(t, resp.Results, 1)
		assert.Equal(t, []string{LegSemantic}, resp.Degraded)
	})

	t.Run("both down", func(t *testing.T) {
		f := newEngineFixture(nil)
		f.retriever.err = domain.ErrEmbeddingUnavailable
		f.keywords.err = errors.New("down")

		_, err := f.engine.Search(ctx, "query", domain.SearchFilters{}, domain.SearchOptions{})
		require.Error(t, err)
		var derr *domain.DomainError
		require.ErrorAs(t, err, &derr)
		assert.Equal(t, domain.ErrCodeUnavailable, derr.Code)
	})

	t.Run("single leg mode failing is an error", func(t *testing.T) {
		f := newEngineFixture(nil)
		f.keywords.err = errors.New("down")
		_, err := f.engine.Search(ctx, "query", domain.SearchFilters{}, domain.SearchOptions{Mode: domain.SearchModeKeyword})
		assert.Error(t, err)
	})
}

func TestSearch_Cache(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(NewLRUCache(10, time.Minute))
	f.keywords.docs = []domain.ContentDocument{{ContentHash: "h1", Content: "cached content"}}

	first, err := f.engine.Search(ctx, "cached", domain.SearchFilters{}, domain.SearchOptions{})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := f.engine.Search(ctx, "  CACHED ", domain.SearchFilters{}, domain.SearchOptions{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, 1, f.keywords.calls)
	assert.Len(t, f.history.recorded, 2)

	third, err := f.engine.Search(ctx, "cached", domain.SearchFilters{}, domain.SearchOptions{SkipCache: true})
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, 2, f.keywords.calls)
}

func TestSearch_CacheUnavailableStillAnswers(t *testing.T) {
	store := &memCacheStore{entries: map[string]domain.CacheEntry{}, err: errors.New("timeout")}
	f := newEngineFixture(NewStoreCache(store, time.Minute))
	f.keywords.docs = []domain.ContentDocument{{ContentHash: "h1", Content: "query"}}

	resp, err := f.engine.Search(context.Background(), "query", domain.SearchFilters{}, domain.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
	assert.Empty(t, resp.Degraded)
}

func TestSearch_SuggestionsAndFacets(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(nil)
	f.keywords.docs = []domain.ContentDocument{{ContentHash: "h1", Content: "config"}}

	for _, q := range []string{"config loader", "config loader", "config parser", "other"} {
		_, err := f.engine.Search(ctx, q, domain.SearchFilters{}, domain.SearchOptions{})
		require.NoError(t, err)
	}

	resp, err := f.engine.Search(ctx, "config", domain.SearchFilters{}, domain.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"config loader", "config parser"}, resp.Suggestions)
	require.NotNil(t, resp.Facets)
	assert.Equal(t, int64(2), resp.Facets.ContentTypes[0].Count)

	f.keywords.facetsErr = errors.New("down")
	resp, err = f.engine.Search(ctx, "config", domain.SearchFilters{}, domain.SearchOptions{SkipCache: true})
	require.NoError(t, err)
	assert.Nil(t, resp.Facets)
	assert.Equal(t, []string{LegFacets}, resp.Degraded)

	suggestions, err := f.engine.Suggest(ctx, "config l", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"config loader"}, suggestions)
}

func TestSearch_SkipSuggestionsAndFacets(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(nil)
	f.keywords.docs = []domain.ContentDocument{{ContentHash: "h1", Content: "config"}}

	_, err := f.engine.Search(ctx, "config loader", domain.SearchFilters{}, domain.SearchOptions{})
	require.NoError(t, err)

	resp, err := f.engine.Search(ctx, "config", domain.SearchFilters{}, domain.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"config loader"}, resp.Suggestions)
	assert.NotNil(t, resp.Facets)

	resp, err = f.engine.Search(ctx, "config", domain.SearchFilters{}, domain.SearchOptions{SkipSuggestions: true, SkipFacets: true})
	require.NoError(t, err)
	assert.Empty(t, resp.Suggestions)
	assert.Nil(t, resp.Facets)
}

func TestSearch_Validation(t *testing.T) {
	f := newEngineFixture(nil)
	ctx := context.Background()

	_, err := f.engine.Search(ctx, "   ", domain.SearchFilters{}, domain.SearchOptions{})
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)

	_, err = f.engine.Search(ctx, "q", domain.SearchFilters{Complexity: []string{"extreme"}}, domain.SearchOptions{})
	assert.Error(t, err)

	_, err = f.engine.Search(ctx, "q", domain.SearchFilters{}, domain.SearchOptions{Mode: "fuzzy"})
	assert.Error(t, err)
}
