package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/repomem/internal/domain"
)

func testPoint(scope domain.Scope, source string, index int, vec ...float32) Point {
	hash := source + "#" + string(rune('a'+index))
	return Point{
		ID:     PointID(scope, source, index, hash),
		Vector: vec,
		Payload: Payload{
			Text:        "chunk " + hash,
			Source:      source,
			Scope:       scope,
			ContentHash: hash,
			ContentType: domain.ContentTypeCode,
			Language:    "python",
			ChunkType:   domain.ChunkTypeFunction,
		},
	}
}

func seededMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.EnsureCollection(ctx, 3))
	require.NoError(t, s.Upsert(ctx, []Point{
		testPoint(domain.ScopeGlobal, "g.md", 0, 1, 0, 0),
		testPoint(domain.ProjectScope("a"), "x.py", 0, 1, 0, 0),
		testPoint(domain.ProjectScope("a"), "x.py", 1, 0, 1, 0),
		testPoint(domain.ProjectScope("b"), "x.py", 0, 1, 0, 0),
	}))
	return s
}

func TestPointID_Deterministic(t *testing.T) {
	a := PointID(domain.ProjectScope("p"), "main.go", 0, "h")
	b := PointID(domain.ProjectScope("p"), "main.go", 0, "h")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, PointID(domain.ProjectScope("q"), "main.go", 0, "h"))
	assert.NotEqual(t, a, PointID(domain.ProjectScope("p"), "main.go", 1, "h"))
	assert.Len(t, a, 36)
}

func TestMemoryStore_EnsureCollection(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	assert.ErrorIs(t, s.Upsert(ctx, []Point{testPoint(domain.ScopeGlobal, "a", 0, 1)}), ErrNotInitialized)
	require.NoError(t, s.EnsureCollection(ctx, 2))
	require.NoError(t, s.EnsureCollection(ctx, 2))
	assert.ErrorIs(t, s.EnsureCollection(ctx, 3), ErrDimensionMismatch)
	assert.Error(t, s.EnsureCollection(ctx, 0))
}

func TestMemoryStore_UpsertRejectsWrongDimensions(t *testing.T) {
	s := seededMemoryStore(t)
	err := s.Upsert(context.Background(), []Point{testPoint(domain.ScopeGlobal, "z", 0, 1, 2)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestMemoryStore_SearchScopeIsolation(t *testing.T) {
	ctx := context.Background()
	s := seededMemoryStore(t)

	hits, err := s.Search(ctx, []float32{1, 0, 0}, Filter{Scopes: []domain.Scope{domain.ProjectScope("b")}}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, domain.ProjectScope("b"), hits[0].Payload.Scope)

	hits, err = s.Search(ctx, []float32{1, 0, 0}, Filter{Scopes: []domain.Scope{domain.ScopeGlobal}}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "g.md", hits[0].Payload.Source)

	hits, err = s.Search(ctx, []float32{1, 0, 0}, Filter{Scopes: []domain.Scope{domain.ScopeGlobal, domain.ProjectScope("a")}}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for _, h := range hits {
		assert.NotEqual(t, domain.ProjectScope("b"), h.Payload.Scope)
		assert.Nil(t, h.Vector)
	}
	assert.InDelta(t, 0.0, hits[2].Score, 1e-9)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestMemoryStore_SearchLimitAndFilters(t *testing.T) {
	ctx := context.Background()
	s := seededMemoryStore(t)

	hits, err := s.Search(ctx, []float32{0, 1, 0}, Filter{Scopes: []domain.Scope{domain.ProjectScope("a")}}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, PointID(domain.ProjectScope("a"), "x.py", 1, "x.py#b"), hits[0].ID)

	hits, err = s.Search(ctx, []float32{0, 1, 0}, Filter{Languages: []string{"go"}}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryStore_DeleteAndCount(t *testing.T) {
	ctx := context.Background()
	s := seededMemoryStore(t)

	_, err := s.Delete(ctx, Filter{Source: "x.py"})
	assert.ErrorIs(t, err, ErrUnscopedFilter)

	n, err := s.Delete(ctx, Filter{Scopes: []domain.Scope{domain.ProjectScope("a")}, Source: "x.py"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	remaining, err := s.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), remaining)

	other, err := s.Count(ctx, Filter{Scopes: []domain.Scope{domain.ProjectScope("b")}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)
}

func TestMemoryStore_Scroll(t *testing.T) {
	ctx := context.Background()
	s := seededMemoryStore(t)

	var seen []string
	cursor := ""
	for {
		page, next, err := s.Scroll(ctx, Filter{}, 3, cursor)
		require.NoError(t, err)
		for _, p := range page {
			seen = append(seen, p.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	assert.Len(t, seen, 4)
	assert.IsIncreasing(t, seen)
}

func TestOpen(t *testing.T) {
	s, err := Open(Config{Kind: KindMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(Config{Kind: KindPGVector}, nil)
	assert.Error(t, err)

	_, err = Open(Config{Kind: KindQdrant}, nil)
	assert.Error(t, err)

	_, err = Open(Config{Kind: "faiss"}, nil)
	assert.Error(t, err)
}

func TestNewPGVectorStore_RejectsBadTable(t *testing.T) {
	_, err := NewPGVectorStore(nil, "vectors; DROP TABLE x")
	assert.Error(t, err)

	s, err := NewPGVectorStore(nil, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultTable, s.table)
}

func TestPGWhere(t *testing.T) {
	where, args := pgWhere(Filter{
		Scopes:       []domain.Scope{domain.ScopeGlobal, domain.ProjectScope("a")},
		Source:       "x.py",
		ContentTypes: []domain.ContentType{domain.ContentTypeCode},
	}, []any{"vec"})

	assert.Equal(t, " AND scope = ANY($2) AND source = $3 AND content_type = ANY($4)", where)
	require.Len(t, args, 4)
	assert.Equal(t, []string{"global", "project:a"}, args[1])
}
