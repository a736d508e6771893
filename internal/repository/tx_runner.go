package repository

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/repomem/internal/queue"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner hands queue code a set of repositories bound to one
// read committed transaction.
type TxRunner struct {
	pool *pgxpool.Pool
	opts pgx.TxOptions
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{
		pool: pool,
		opts: pgx.TxOptions{IsoLevel: pgx.ReadCommitted},
	}
}

// WithTx commits when fn returns nil and rolls back otherwise. Errors from fn
// are returned unwrapped so domain codes survive.
func (r *TxRunner) WithTx(ctx context.Context, fn func(repos queue.TxRepositories) error) error {
	var fnErr error
	err := pgx.BeginTxFunc(ctx, r.pool, r.opts, func(tx pgx.Tx) error {
		fnErr = fn(txRepos{tx: tx})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return fmt.Errorf("queue transaction: %w", err)
	}
	return nil
}

type txRepos struct {
	tx pgx.Tx
}

func (r txRepos) IndexingJobs() queue.IndexingJobStore {
	return NewIndexingJobRepositoryWithTx(r.tx)
}

func (r txRepos) Queue() queue.Broker {
	return NewQueueRepositoryWithTx(r.tx)
}
