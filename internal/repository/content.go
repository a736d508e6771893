package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const contentColumns = `content_hash, title, content, summary, source, scope, content_type, source_type,
	language, chunk_type, start_line, end_line, complexity, word_count, popularity, created_at, updated_at`

// KeywordQuery selects keyword candidates. Terms are matched case-insensitively
// as substrings of title or content; at least one term must match.
type KeywordQuery struct {
	Terms   []string
	Scopes  []domain.Scope
	Filters domain.SearchFilters
	Limit   int
}

// ContentRepository is the keyword-searchable mirror of ingested chunks.
type ContentRepository struct {
	db dbtx
}

func NewContentRepository(pool *pgxpool.Pool) *ContentRepository {
	return &ContentRepository{db: pool}
}

func NewContentRepositoryWithTx(tx pgx.Tx) *ContentRepository {
	return &ContentRepository{db: tx}
}

// UpsertDocuments inserts or refreshes documents keyed by content hash.
// Popularity and creation time survive re-ingestion.
func (r *ContentRepository) UpsertDocuments(ctx context.Context, docs []domain.ContentDocument) error {
	if len(docs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, d := range docs {
		batch.Queue(
			`INSERT INTO content_documents (content_hash, title, content, summary, source, scope, content_type,
			                                source_type, language, chunk_type, start_line, end_line, complexity,
			                                word_count, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			 ON CONFLICT (content_hash) DO UPDATE
			 SET title = EXCLUDED.title,
			     content = EXCLUDED.content,
			     summary = EXCLUDED.summary,
			     source = EXCLUDED.source,
			     scope = EXCLUDED.scope,
			     content_type = EXCLUDED.content_type,
			     source_type = EXCLUDED.source_type,
			     language = EXCLUDED.language,
			     chunk_type = EXCLUDED.chunk_type,
			     start_line = EXCLUDED.start_line,
			     end_line = EXCLUDED.end_line,
			     complexity = EXCLUDED.complexity,
			     word_count = EXCLUDED.word_count,
			     updated_at = EXCLUDED.updated_at`,
			d.ContentHash, d.Title, d.Content, d.Summary, d.Source, string(d.Scope), string(d.ContentType),
			d.SourceType, d.Language, string(d.ChunkType), d.StartLine, d.EndLine, d.Complexity,
			d.WordCount, d.CreatedAt, d.UpdatedAt,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	for range docs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("upsert content document: %w", err)
		}
	}
	return br.Close()
}

func (r *ContentRepository) DeleteSource(ctx context.Context, scope domain.Scope, source string) (int64, error) {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM content_documents WHERE scope = $1 AND source = $2`, string(scope), source)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

func (r *ContentRepository) DeleteScope(ctx context.Context, scope domain.Scope) (int64, error) {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM content_documents WHERE scope = $1`, string(scope))
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

func (r *ContentRepository) GetByHash(ctx context.Context, hash string) (*domain.ContentDocument, error) {
	rows, err := r.db.Query(ctx, `SELECT `+contentColumns+` FROM content_documents WHERE content_hash = $1`, hash)
	if err != nil {
		return nil, err
	}
	docs, err := collectContent(rows)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return &docs[0], nil
}

// GetByHashes loads documents for the given hashes in no particular order.
func (r *ContentRepository) GetByHashes(ctx context.Context, hashes []string) ([]domain.ContentDocument, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+contentColumns+` FROM content_documents WHERE content_hash = ANY($1)`, hashes)
	if err != nil {
		return nil, err
	}
	return collectContent(rows)
}

// SearchKeyword returns candidate documents containing any of the query terms.
func (r *ContentRepository) SearchKeyword(ctx context.Context, q KeywordQuery) ([]domain.ContentDocument, error) {
	if len(q.Terms) == 0 {
		return []domain.ContentDocument{}, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}

	where, args := contentWhere(q)
	args = append(args, limit)
	rows, err := r.db.Query(ctx,
		`SELECT `+contentColumns+` FROM content_documents
		 WHERE `+where+`
		 ORDER BY popularity DESC, updated_at DESC, content_hash ASC
		 LIMIT $`+fmt.Sprint(len(args)),
		args...,
	)
	if err != nil {
		return nil, err
	}
	return collectContent(rows)
}

// Facets counts matching documents per content type, source type, language and complexity.
func (r *ContentRepository) Facets(ctx context.Context, q KeywordQuery) (*domain.Facets, error) {
	facets := &domain.Facets{
		ContentTypes: []domain.FacetCount{},
		SourceTypes:  []domain.FacetCount{},
		Languages:    []domain.FacetCount{},
		Complexity:   []domain.FacetCount{},
	}
	if len(q.Terms) == 0 {
		return facets, nil
	}

	where, args := contentWhere(q)
	rows, err := r.db.Query(ctx,
		`SELECT 'content_type', content_type, COUNT(*) FROM content_documents WHERE `+where+` GROUP BY content_type
		 UNION ALL
		 SELECT 'source_type', source_type, COUNT(*) FROM content_documents WHERE `+where+` GROUP BY source_type
		 UNION ALL
		 SELECT 'language', language, COUNT(*) FROM content_documents WHERE `+where+` AND language <> '' GROUP BY language
		 UNION ALL
		 SELECT 'complexity', complexity, COUNT(*) FROM content_documents WHERE `+where+` GROUP BY complexity
		 ORDER BY 1, 3 DESC, 2`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var dim string
		var fc domain.FacetCount
		if err := rows.Scan(&dim, &fc.Value, &fc.Count); err != nil {
			return nil, err
		}
		switch dim {
		case "content_type":
			facets.ContentTypes = append(facets.ContentTypes, fc)
		case "source_type":
			facets.SourceTypes = append(facets.SourceTypes, fc)
		case "language":
			facets.Languages = append(facets.Languages, fc)
		case "complexity":
			facets.Complexity = append(facets.Complexity, fc)
		}
	}
	return facets, rows.Err()
}

// IncrementPopularity bumps the popularity counter of returned documents.
func (r *ContentRepository) IncrementPopularity(ctx context.Context, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE content_documents SET popularity = popularity + 1 WHERE content_hash = ANY($1)`, hashes)
	return err
}

// contentWhere builds the shared predicate of keyword search and facets.
func contentWhere(q KeywordQuery) (string, []any) {
	patterns := make([]string, 0, len(q.Terms))
	for _, t := range q.Terms {
		patterns = append(patterns, "%"+escapeLike(t)+"%")
	}
	args := []any{patterns}
	clauses := []string{"(content ILIKE ANY($1) OR title ILIKE ANY($1))"}

	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if len(q.Scopes) > 0 {
		scopes := make([]string, 0, len(q.Scopes))
		for _, s := range q.Scopes {
			scopes = append(scopes, string(s))
		}
		add("scope = ANY($%d)", scopes)
	}
	f := q.Filters
	if len(f.ContentTypes) > 0 {
		types := make([]string, 0, len(f.ContentTypes))
		for _, ct := range f.ContentTypes {
			types = append(types, string(ct))
		}
		add("content_type = ANY($%d)", types)
	}
	if len(f.SourceTypes) > 0 {
		add("source_type = ANY($%d)", f.SourceTypes)
	}
	if len(f.Languages) > 0 {
		add("language = ANY($%d)", f.Languages)
	}
	if len(f.Complexity) > 0 {
		add("complexity = ANY($%d)", f.Complexity)
	}
	if wc := f.WordCount; wc != nil {
		if wc.Min > 0 {
			add("word_count >= $%d", wc.Min)
		}
		if wc.Max > 0 {
			add("word_count <= $%d", wc.Max)
		}
	}
	if tr := f.UpdatedAt; tr != nil {
		if tr.From != nil {
			add("updated_at >= $%d", *tr.From)
		}
		if tr.To != nil {
			add("updated_at <= $%d", *tr.To)
		}
	}
	return strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func collectContent(rows pgx.Rows) ([]domain.ContentDocument, error) {
	defer rows.Close()
	docs := []domain.ContentDocument{}
	for rows.Next() {
		var d domain.ContentDocument
		if err := rows.Scan(&d.ContentHash, &d.Title, &d.Content, &d.Summary, &d.Source, &d.Scope,
			&d.ContentType, &d.SourceType, &d.Language, &d.ChunkType, &d.StartLine, &d.EndLine,
			&d.Complexity, &d.WordCount, &d.Popularity, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
