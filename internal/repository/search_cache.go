package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SearchCacheRepository is a shared response cache for multi-process deployments.
type SearchCacheRepository struct {
	db dbtx
}

func NewSearchCacheRepository(pool *pgxpool.Pool) *SearchCacheRepository {
	return &SearchCacheRepository{db: pool}
}

// Get returns the entry for key, or nil when absent.
func (r *SearchCacheRepository) Get(ctx context.Context, key string) (*domain.CacheEntry, error) {
	entry := domain.CacheEntry{Key: key}
	err := r.db.QueryRow(ctx,
		`SELECT payload, created_at FROM search_cache WHERE cache_key = $1`, key,
	).Scan(&entry.Payload, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *SearchCacheRepository) Put(ctx context.Context, entry domain.CacheEntry) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO search_cache (cache_key, payload, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (cache_key) DO UPDATE SET payload = EXCLUDED.payload, created_at = EXCLUDED.created_at`,
		entry.Key, entry.Payload, entry.CreatedAt,
	)
	return err
}

// DeleteOlderThan evicts entries created before cutoff.
func (r *SearchCacheRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM search_cache WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

// Clear drops every cached response.
func (r *SearchCacheRepository) Clear(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `DELETE FROM search_cache`)
	return err
}
