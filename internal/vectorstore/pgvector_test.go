//go:build integration

package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/testutil"
)

func TestPGVectorStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	s, err := NewPGVectorStore(pool, "test_vectors")
	require.NoError(t, err)
	require.NoError(t, s.EnsureCollection(ctx, 3))
	require.NoError(t, s.EnsureCollection(ctx, 3))
	assert.ErrorIs(t, s.EnsureCollection(ctx, 4), ErrDimensionMismatch)

	a := testPoint(domain.ProjectScope("a"), "x.py", 0, 1, 0, 0)
	a.Payload.Metadata = domain.ChunkMetadata{Language: "python", Parent: "Loader"}
	require.NoError(t, s.Upsert(ctx, []Point{
		a,
		testPoint(domain.ProjectScope("a"), "x.py", 1, 0, 1, 0),
		testPoint(domain.ProjectScope("b"), "x.py", 0, 1, 0, 0),
		testPoint(domain.ScopeGlobal, "g.md", 0, 1, 0, 0),
	}))
	// Upserting the same id again must not duplicate.
	require.NoError(t, s.Upsert(ctx, []Point{a}))

	total, err := s.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)

	hits, err := s.Search(ctx, []float32{1, 0, 0}, Filter{Scopes: []domain.Scope{domain.ProjectScope("a")}}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, a.ID, hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "Loader", hits[0].Payload.Metadata.Parent)

	page, next, err := s.Scroll(ctx, Filter{}, 3, "")
	require.NoError(t, err)
	assert.Len(t, page, 3)
	require.NotEmpty(t, next)
	page, next, err = s.Scroll(ctx, Filter{}, 3, next)
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.Empty(t, next)

	n, err := s.Delete(ctx, Filter{Scopes: []domain.Scope{domain.ProjectScope("a")}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	remaining, err := s.Count(ctx, Filter{Scopes: []domain.Scope{domain.ProjectScope("a")}})
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestPGVectorStore_SmallScopeInLargeTable(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	s, err := NewPGVectorStore(pool, "scoped_vectors")
	require.NoError(t, err)
	require.NoError(t, s.EnsureCollection(ctx, 3))

	// global points sit right next to the query; the project's sit far away
	var global []Point
	for i := 0; i < 2000; i++ {
		jitter := float32(i%97) / 1000
		global = append(global, testPoint(domain.ScopeGlobal, "docs.md", i, 1, jitter, 0))
	}
	for start := 0; start < len(global); start += 500 {
		require.NoError(t, s.Upsert(ctx, global[start:start+500]))
	}

	project := domain.ProjectScope("billing")
	var own []Point
	for i := 0; i < 30; i++ {
		own = append(own, testPoint(project, "refunds.go", i, float32(i+1)/30, 0, 1))
	}
	require.NoError(t, s.Upsert(ctx, own))

	_, err = pool.Exec(ctx, `ANALYZE scoped_vectors`)
	require.NoError(t, err)

	hits, err := s.Search(ctx, []float32{1, 0, 0}, Filter{Scopes: []domain.Scope{project}}, 20)
	require.NoError(t, err)
	require.Len(t, hits, 20)
	for i, h := range hits {
		assert.Equal(t, project, h.Payload.Scope)
		if i > 0 {
			assert.LessOrEqual(t, h.Score, hits[i-1].Score)
		}
	}

	hits, err = s.Search(ctx, []float32{1, 0, 0}, Filter{Scopes: []domain.Scope{project}}, 100)
	require.NoError(t, err)
	assert.Len(t, hits, 30)

	// pin the planner to the hnsw index, the path that filters after scanning
	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()
	_, err = tx.Exec(ctx, `SET LOCAL enable_seqscan = off`)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, `SET LOCAL enable_sort = off`)
	require.NoError(t, err)

	inTx, err := NewPGVectorStore(tx, "scoped_vectors")
	require.NoError(t, err)
	hits, err = inTx.Search(ctx, []float32{1, 0, 0}, Filter{Scopes: []domain.Scope{project}}, 20)
	require.NoError(t, err)
	require.Len(t, hits, 20)
	assert.Equal(t, own[29].ID, hits[0].ID)
}
