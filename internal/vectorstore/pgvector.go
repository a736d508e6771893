package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/repomem/internal/domain"
)

const DefaultTable = "memory_vectors"

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Begin(ctx context.Context) (pgx.Tx, error)
}

// The HNSW index is filtered after the scan, so a small scope in a large table
// needs iterative scans and a candidate list at least as long as the limit.
const (
	defaultEFSearch = 40
	maxEFSearch     = 1000
)

// PGVectorStore keeps points in a PostgreSQL table with a pgvector column.
type PGVectorStore struct {
	db    querier
	table string
}

func NewPGVectorStore(db querier, table string) (*PGVectorStore, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("vectorstore: invalid table name %q", table)
	}
	return &PGVectorStore{db: db, table: table}, nil
}

func (s *PGVectorStore) EnsureCollection(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("vectorstore: invalid dimensions %d", dimensions)
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			scope TEXT NOT NULL,
			source TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			chunk_type TEXT NOT NULL DEFAULT '',
			start_line INT NOT NULL DEFAULT 0,
			end_line INT NOT NULL DEFAULT 0,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding vector(%d) NOT NULL,
			indexed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table, dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_scope_source_idx ON %[1]s (scope, source)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_embedding_idx ON %[1]s USING hnsw (embedding vector_cosine_ops)`, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("vectorstore: bootstrap %s: %w", s.table, err)
		}
	}

	// atttypmod of a vector column holds its dimension.
	var existing int
	err := s.db.QueryRow(ctx,
		`SELECT atttypmod FROM pg_attribute WHERE attrelid = to_regclass($1)::oid AND attname = 'embedding'`,
		s.table,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("vectorstore: inspect %s: %w", s.table, err)
	}
	if existing != dimensions {
		return fmt.Errorf("%w: table %s has %d, want %d", ErrDimensionMismatch, s.table, existing, dimensions)
	}
	return nil
}

func (s *PGVectorStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO %s
			(id, scope, source, content_hash, name, content, content_type, language, chunk_type, start_line, end_line, metadata, embedding, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			scope = EXCLUDED.scope,
			source = EXCLUDED.source,
			content_hash = EXCLUDED.content_hash,
			name = EXCLUDED.name,
			content = EXCLUDED.content,
			content_type = EXCLUDED.content_type,
			language = EXCLUDED.language,
			chunk_type = EXCLUDED.chunk_type,
			start_line = EXCLUDED.start_line,
			end_line = EXCLUDED.end_line,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			indexed_at = EXCLUDED.indexed_at`, s.table)

	batch := &pgx.Batch{}
	for _, p := range points {
		meta, err := json.Marshal(p.Payload.Metadata)
		if err != nil {
			return fmt.Errorf("vectorstore: encode metadata for %s: %w", p.ID, err)
		}
		indexedAt := p.Payload.IndexedAt
		if indexedAt.IsZero() {
			indexedAt = time.Now().UTC()
		}
		batch.Queue(query,
			p.ID,
			string(p.Payload.Scope),
			p.Payload.Source,
			p.Payload.ContentHash,
			p.Payload.Name,
			p.Payload.Text,
			string(p.Payload.ContentType),
			p.Payload.Language,
			string(p.Payload.ChunkType),
			p.Payload.StartLine,
			p.Payload.EndLine,
			meta,
			pgvector.NewVector(p.Vector),
			indexedAt,
		)
	}

	results := s.db.SendBatch(ctx, batch)
	for range points {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("vectorstore: upsert into %s: %w", s.table, err)
		}
	}
	return results.Close()
}

const pgColumns = `id::text, scope, source, content_hash, name, content, content_type, language, chunk_type, start_line, end_line, metadata, indexed_at`

func (s *PGVectorStore) Search(ctx context.Context, vector []float32, filter Filter, limit int) ([]ScoredPoint, error) {
	if limit <= 0 {
		limit = 10
	}
	args := []any{pgvector.NewVector(vector)}
	where, args := pgWhere(filter, args)

	query := fmt.Sprintf(`SELECT %s, 1 - (embedding <=> $1) AS score FROM %s WHERE 1=1%s ORDER BY embedding <=> $1 LIMIT $%d`,
		pgColumns, s.table, where, len(args)+1)
	args = append(args, limit)

	var out []ScoredPoint
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		efSearch := min(max(limit, defaultEFSearch), maxEFSearch)
		if _, err := tx.Exec(ctx, `SELECT set_config('hnsw.iterative_scan', 'strict_order', true),
			set_config('hnsw.ef_search', $1, true)`, strconv.Itoa(efSearch)); err != nil {
			return fmt.Errorf("vectorstore: tune hnsw scan: %w", err)
		}

		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("vectorstore: search %s: %w", s.table, err)
		}
		defer rows.Close()

		for rows.Next() {
			var sp ScoredPoint
			if err := scanPoint(rows, &sp.Point, &sp.Score); err != nil {
				return err
			}
			out = append(out, sp)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PGVectorStore) Delete(ctx context.Context, filter Filter) (int64, error) {
	if !filter.Scoped() {
		return 0, ErrUnscopedFilter
	}
	where, args := pgWhere(filter, nil)
	tag, err := s.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE 1=1%s`, s.table, where), args...)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: delete from %s: %w", s.table, err)
	}
	return tag.RowsAffected(), nil
}

func (s *PGVectorStore) Scroll(ctx context.Context, filter Filter, limit int, cursor string) ([]Point, string, error) {
	if limit <= 0 {
		limit = 100
	}
	where, args := pgWhere(filter, nil)
	if cursor != "" {
		args = append(args, cursor)
		where += fmt.Sprintf(" AND id > $%d::uuid", len(args))
	}
	args = append(args, limit+1)
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE 1=1%s ORDER BY id LIMIT $%d`, pgColumns, s.table, where, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("vectorstore: scroll %s: %w", s.table, err)
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		var p Point
		if err := scanPoint(rows, &p, nil); err != nil {
			return nil, "", err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, nil
}

func (s *PGVectorStore) Count(ctx context.Context, filter Filter) (int64, error) {
	where, args := pgWhere(filter, nil)
	var n int64
	err := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE 1=1%s`, s.table, where), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: count %s: %w", s.table, err)
	}
	return n, nil
}

func pgWhere(f Filter, args []any) (string, []any) {
	var b strings.Builder
	add := func(clause string, v any) {
		args = append(args, v)
		fmt.Fprintf(&b, clause, len(args))
	}
	if len(f.Scopes) > 0 {
		add(" AND scope = ANY($%d)", stringsOf(f.Scopes))
	}
	if f.Source != "" {
		add(" AND source = $%d", f.Source)
	}
	if len(f.ContentTypes) > 0 {
		add(" AND content_type = ANY($%d)", stringsOf(f.ContentTypes))
	}
	if len(f.Languages) > 0 {
		add(" AND language = ANY($%d)", f.Languages)
	}
	if len(f.ChunkTypes) > 0 {
		add(" AND chunk_type = ANY($%d)", stringsOf(f.ChunkTypes))
	}
	return b.String(), args
}

func scanPoint(rows pgx.Rows, p *Point, score *float64) error {
	var (
		scope, contentType, chunkType string
		meta                          []byte
	)
	dest := []any{
		&p.ID, &scope, &p.Payload.Source, &p.Payload.ContentHash, &p.Payload.Name, &p.Payload.Text,
		&contentType, &p.Payload.Language, &chunkType, &p.Payload.StartLine, &p.Payload.EndLine,
		&meta, &p.Payload.IndexedAt,
	}
	if score != nil {
		dest = append(dest, score)
	}
	if err := rows.Scan(dest...); err != nil {
		return fmt.Errorf("vectorstore: scan point: %w", err)
	}
	p.Payload.Scope = domain.Scope(scope)
	p.Payload.ContentType = domain.ContentType(contentType)
	p.Payload.ChunkType = domain.ChunkType(chunkType)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Payload.Metadata); err != nil {
			return fmt.Errorf("vectorstore: decode metadata for %s: %w", p.ID, err)
		}
	}
	return nil
}
