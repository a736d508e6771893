package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const projectColumns = `id, name, repo_url, default_branch, last_indexed_revision, last_indexed_branch,
	last_indexed_at, file_count, vector_count, created_at, updated_at`

type ProjectRepository struct {
	db dbtx
}

func NewProjectRepository(pool *pgxpool.Pool) *ProjectRepository {
	return &ProjectRepository{db: pool}
}

func NewProjectRepositoryWithTx(tx pgx.Tx) *ProjectRepository {
	return &ProjectRepository{db: tx}
}

func (r *ProjectRepository) Create(ctx context.Context, project *domain.Project) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO projects (id, name, repo_url, default_branch, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		project.ID, project.Name, project.RepoURL, project.DefaultBranch, project.CreatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrProjectAlreadyExists
	}
	return err
}

func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	p, err := scanProject(r.db.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProjectNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *ProjectRepository) List(ctx context.Context) ([]*domain.Project, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ListIDs returns every registered project id.
func (r *ProjectRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM projects ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// UpdateIndexState records the revision and totals of the last successful run.
func (r *ProjectRepository) UpdateIndexState(ctx context.Context, id string, state domain.ProjectIndexState) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE projects
		 SET last_indexed_revision = $1,
		     last_indexed_branch = $2,
		     last_indexed_at = $3,
		     file_count = $4,
		     vector_count = $5,
		     updated_at = $3
		 WHERE id = $6`,
		nullableString(state.Revision), nullableString(state.Branch), state.IndexedAt,
		state.FileCount, state.VectorCount, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrProjectNotFound
	}
	return nil
}

// ResetIndexState forgets the recorded revision so the next run is a full one.
func (r *ProjectRepository) ResetIndexState(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE projects
		 SET last_indexed_revision = NULL, last_indexed_branch = NULL, last_indexed_at = NULL,
		     file_count = 0, vector_count = 0, updated_at = $1
		 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrProjectNotFound
	}
	return nil
}

func (r *ProjectRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrProjectNotFound
	}
	return nil
}

func scanProject(row pgx.Row) (*domain.Project, error) {
	var p domain.Project
	var revision, branch pgtype.Text
	var indexedAt pgtype.Timestamptz
	if err := row.Scan(&p.ID, &p.Name, &p.RepoURL, &p.DefaultBranch, &revision, &branch,
		&indexedAt, &p.FileCount, &p.VectorCount, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.LastIndexedRevision = textValue(revision)
	p.LastIndexedBranch = textValue(branch)
	p.LastIndexedAt = timePtr(indexedAt)
	return &p, nil
}
