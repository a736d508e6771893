package domain

import (
	"fmt"
	"strings"
	"time"
)

// SearchMode selects which legs a search runs.
type SearchMode string

const (
	SearchModeSemantic SearchMode = "semantic"
	SearchModeKeyword  SearchMode = "keyword"
	SearchModeHybrid   SearchMode = "hybrid"
)

// Complexity buckets assigned at ingestion from word count.
const (
	ComplexityLow    = "low"
	ComplexityMedium = "medium"
	ComplexityHigh   = "high"
)

// ComplexityForWordCount buckets a document by length.
func ComplexityForWordCount(words int) string {
	switch {
	case words < 150:
		return ComplexityLow
	case words < 600:
		return ComplexityMedium
	}
	return ComplexityHigh
}

// IntRange is an inclusive range; zero bounds are open.
type IntRange struct {
	Min int `json:"min,omitempty"`
	Max int `json:"max,omitempty"`
}

// FloatRange is an inclusive range; nil bounds are open.
type FloatRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// TimeRange is an inclusive range; nil bounds are open.
type TimeRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// SearchFilters narrows both search legs.
type SearchFilters struct {
	ProjectID    string        `json:"project_id,omitempty"`
	ContentTypes []ContentType `json:"content_types,omitempty"`
	SourceTypes  []string      `json:"source_types,omitempty"`
	Languages    []string      `json:"languages,omitempty"`
	Complexity   []string      `json:"complexity,omitempty"`
	Freshness    *FloatRange   `json:"freshness,omitempty"`
	WordCount    *IntRange     `json:"word_count,omitempty"`
	UpdatedAt    *TimeRange    `json:"updated_at,omitempty"`
}

// Validate rejects malformed filters.
func (f SearchFilters) Validate() error {
	for _, ct := range f.ContentTypes {
		if !IsValidContentType(ct) {
			return NewValidationError("invalid content type filter: %s", ct)
		}
	}
	for _, c := range f.Complexity {
		switch c {
		case ComplexityLow, ComplexityMedium, ComplexityHigh:
		default:
			return NewValidationError("invalid complexity filter: %s", c)
		}
	}
	if r := f.Freshness; r != nil {
		if (r.Min != nil && (*r.Min < 0 || *r.Min > 1)) || (r.Max != nil && (*r.Max < 0 || *r.Max > 1)) {
			return NewValidationError("freshness bounds must be within 0..1")
		}
		if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			return NewValidationError("freshness min exceeds max")
		}
	}
	if r := f.WordCount; r != nil {
		if r.Min < 0 || r.Max < 0 {
			return NewValidationError("word count bounds cannot be negative")
		}
		if r.Max > 0 && r.Min > r.Max {
			return NewValidationError("word count min exceeds max")
		}
	}
	if r := f.UpdatedAt; r != nil && r.From != nil && r.To != nil && r.From.After(*r.To) {
		return NewValidationError("date range start is after end")
	}
	return nil
}

// Boosts are the per-signal weights of the combined score.
type Boosts struct {
	Semantic   float64 `json:"semantic"`
	Keyword    float64 `json:"keyword"`
	Popularity float64 `json:"popularity"`
	Freshness  float64 `json:"freshness"`
}

// DefaultBoosts returns the 0.6/0.3/0.05/0.05 weighting.
func DefaultBoosts() Boosts {
	return Boosts{Semantic: 0.6, Keyword: 0.3, Popularity: 0.05, Freshness: 0.05}
}

// Combine computes the weighted sum of per-signal scores.
func (b Boosts) Combine(semantic, keyword, popularity, freshness float64) float64 {
	return semantic*b.Semantic + keyword*b.Keyword + popularity*b.Popularity + freshness*b.Freshness
}

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
	// MaxSearchWindow bounds offset+limit; hits past it are not ranked.
	MaxSearchWindow = 100
)

// SearchOptions controls mode, pagination and weighting. Suggestions and
// facets are part of every response unless skipped.
type SearchOptions struct {
	Mode               SearchMode `json:"mode,omitempty"`
	Limit              int        `json:"limit,omitempty"`
	Offset             int        `json:"offset,omitempty"`
	Boosts             *Boosts    `json:"boosts,omitempty"`
	SkipSuggestions    bool       `json:"skip_suggestions,omitempty"`
	SkipFacets         bool       `json:"skip_facets,omitempty"`
	SkipCache          bool       `json:"skip_cache,omitempty"`
}

// Normalize fills defaults and validates the options.
func (o SearchOptions) Normalize() (SearchOptions, error) {
	mode := SearchMode(strings.ToLower(strings.TrimSpace(string(o.Mode))))
	switch mode {
	case "":
		mode = SearchModeHybrid
	case SearchModeSemantic, SearchModeKeyword, SearchModeHybrid:
	default:
		return o, NewDomainErrorWithCause(ErrCodeValidation, "invalid search mode", fmt.Errorf("%q", o.Mode))
	}
	o.Mode = mode

	if o.Limit < 0 || o.Offset < 0 {
		return o, NewValidationError("limit and offset cannot be negative")
	}
	if o.Limit == 0 {
		o.Limit = DefaultSearchLimit
	}
	if o.Limit > MaxSearchLimit {
		o.Limit = MaxSearchLimit
	}
	if o.Offset+o.Limit > MaxSearchWindow {
		return o, ErrSearchWindowExceeded
	}
	if o.Boosts == nil {
		b := DefaultBoosts()
		o.Boosts = &b
	} else if o.Boosts.Semantic < 0 || o.Boosts.Keyword < 0 || o.Boosts.Popularity < 0 || o.Boosts.Freshness < 0 {
		return o, NewValidationError("boost weights cannot be negative")
	}
	return o, nil
}

// HybridSearchResult is one ranked search hit.
type HybridSearchResult struct {
	ContentHash     string         `json:"content_hash"`
	Title           string         `json:"title"`
	Content         string         `json:"content"`
	Snippet         string         `json:"snippet"`
	Source          string         `json:"source"`
	Scope           Scope          `json:"scope"`
	ContentType     ContentType    `json:"content_type"`
	SourceType      string         `json:"source_type"`
	Language        string         `json:"language,omitempty"`
	ChunkType       ChunkType      `json:"chunk_type,omitempty"`
	StartLine       int            `json:"start_line,omitempty"`
	EndLine         int            `json:"end_line,omitempty"`
	SemanticScore   float64        `json:"semantic_score"`
	KeywordScore    float64        `json:"keyword_score"`
	PopularityScore float64        `json:"popularity_score"`
	FreshnessScore  float64        `json:"freshness_score"`
	CombinedScore   float64        `json:"combined_score"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Metadata        *ChunkMetadata `json:"metadata,omitempty"`
}

// FacetCount is one value of a facet with its frequency.
type FacetCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// Facets aggregates result counts by dimension.
type Facets struct {
	ContentTypes []FacetCount `json:"content_types"`
	SourceTypes  []FacetCount `json:"source_types"`
	Languages    []FacetCount `json:"languages"`
	Complexity   []FacetCount `json:"complexity"`
}

// SearchResponse is the full output of a search call.
type SearchResponse struct {
	Results     []HybridSearchResult `json:"results"`
	Suggestions []string             `json:"suggestions,omitempty"`
	Facets      *Facets              `json:"facets,omitempty"`
	Total       int                  `json:"total"`
	Cached      bool                 `json:"cached"`
	TookMs      int64                `json:"took_ms"`
	Degraded    []string             `json:"degraded,omitempty"`
}

// CacheEntry wraps a serialized response with its fingerprint.
type CacheEntry struct {
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// Expired reports whether the entry is older than ttl.
func (e CacheEntry) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && now.Sub(e.CreatedAt) > ttl
}

// ContentDocument is one row of the keyword-searchable store.
type ContentDocument struct {
	ContentHash string
	Title       string
	Content     string
	Summary     string
	Source      string
	Scope       Scope
	ContentType ContentType
	SourceType  string
	Language    string
	ChunkType   ChunkType
	StartLine   int
	EndLine     int
	Complexity  string
	WordCount   int
	Popularity  int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Source types recorded on content documents.
const (
	SourceTypeRepository = "repository"
	SourceTypeManual     = "manual"
	SourceTypeBucket     = "bucket"
)
