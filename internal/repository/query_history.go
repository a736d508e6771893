package repository

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QueryHistoryRepository records search queries for suggestions.
type QueryHistoryRepository struct {
	db dbtx
}

func NewQueryHistoryRepository(pool *pgxpool.Pool) *QueryHistoryRepository {
	return &QueryHistoryRepository{db: pool}
}

func NewQueryHistoryRepositoryWithTx(tx pgx.Tx) *QueryHistoryRepository {
	return &QueryHistoryRepository{db: tx}
}

// QueryKey normalizes a query for case-insensitive frequency counting.
func QueryKey(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// Record increments the frequency of the query and stores its latest result count.
func (r *QueryHistoryRepository) Record(ctx context.Context, query string, resultCount int, at time.Time) error {
	key := QueryKey(query)
	if key == "" {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO query_history (query_key, query, frequency, last_result_count, last_searched_at)
		 VALUES ($1, $2, 1, $3, $4)
		 ON CONFLICT (query_key) DO UPDATE
		 SET frequency = query_history.frequency + 1,
		     query = EXCLUDED.query,
		     last_result_count = EXCLUDED.last_result_count,
		     last_searched_at = EXCLUDED.last_searched_at`,
		key, strings.TrimSpace(query), resultCount, at,
	)
	return err
}

// Suggest returns past queries starting with prefix, most frequent first.
func (r *QueryHistoryRepository) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	key := QueryKey(prefix)
	if key == "" {
		return []string{}, nil
	}
	if limit <= 0 {
		limit = 5
	}
	rows, err := r.db.Query(ctx,
		`SELECT query FROM query_history
		 WHERE query_key LIKE $1 AND query_key <> $2
		 ORDER BY frequency DESC, last_searched_at DESC, query_key ASC
		 LIMIT $3`,
		escapeLike(key)+"%", key, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suggestions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	return suggestions, nil
}

// Frequency returns how often the query was searched.
func (r *QueryHistoryRepository) Frequency(ctx context.Context, query string) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE((SELECT frequency FROM query_history WHERE query_key = $1), 0)`,
		QueryKey(query),
	).Scan(&n)
	return n, err
}
