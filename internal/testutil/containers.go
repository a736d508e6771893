// Package testutil starts the Postgres (pgvector) and S3-compatible containers
// used by integration and e2e tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cloo-solutions/repomem/internal/database"
)

const (
	pgImage     = "pgvector/pgvector:0.8.1-pg18"
	pgUser      = "repomem"
	rustfsImage = "rustfs/rustfs:latest"

	// RustFSCredential is both the access key and the secret of the test bucket store.
	RustFSCredential = "rustfsadmin"
)

// endpoint is a started container with its mapped host and port.
type endpoint struct {
	Container testcontainers.Container
	Host      string
	Port      string
}

func (e *endpoint) Terminate(ctx context.Context) error {
	return testcontainers.TerminateContainer(e.Container)
}

func startContainer(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest) endpoint {
	t.Helper()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start %s: %v", req.Image, err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get %s host: %v", req.Image, err)
	}
	port, err := c.MappedPort(ctx, nat.Port(req.ExposedPorts[0]))
	if err != nil {
		t.Fatalf("failed to get %s port: %v", req.Image, err)
	}
	return endpoint{Container: c, Host: host, Port: port.Port()}
}

type PostgresContainer struct {
	endpoint
}

// NewPostgresContainer starts PostgreSQL with the vector and pg_trgm extensions available.
func NewPostgresContainer(ctx context.Context, t *testing.T) *PostgresContainer {
	ep := startContainer(ctx, t, testcontainers.ContainerRequest{
		Image:        pgImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     pgUser,
			"POSTGRES_PASSWORD": pgUser,
			"POSTGRES_DB":       pgUser,
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithStartupTimeout(60 * time.Second),
	})
	return &PostgresContainer{endpoint: ep}
}

func (pc *PostgresContainer) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", pgUser, pgUser, pc.Host, pc.Port, pgUser)
}

type RustFSContainer struct {
	endpoint
}

// NewRustFSContainer starts an S3-compatible RustFS server.
func NewRustFSContainer(ctx context.Context, t *testing.T) *RustFSContainer {
	ep := startContainer(ctx, t, testcontainers.ContainerRequest{
		Image:        rustfsImage,
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"RUSTFS_ACCESS_KEY": RustFSCredential,
			"RUSTFS_SECRET_KEY": RustFSCredential,
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	})
	return &RustFSContainer{endpoint: ep}
}

func (rc *RustFSContainer) Endpoint() string {
	return fmt.Sprintf("http://%s:%s", rc.Host, rc.Port)
}

// NewTestPool migrates the container's database with golang-migrate and
// returns a pool sized for tests. The pool is closed on test cleanup.
func NewTestPool(ctx context.Context, t *testing.T, pc *PostgresContainer, migrationsDir string) *pgxpool.Pool {
	t.Helper()
	source, err := database.MigrationsSource(migrationsDir)
	if err != nil {
		t.Fatalf("migrations source: %v", err)
	}

	// the listening port can open before the server accepts logins
	for attempt := 1; ; attempt++ {
		err = database.Migrate(pc.ConnectionString(), source)
		if err == nil || attempt == 5 {
			break
		}
		time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	pool, err := database.NewPool(ctx, database.Config{URL: pc.ConnectionString(), MaxConns: 8})
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// TruncateAll empties every application table, including vector tables created
// at runtime, and leaves the migration bookkeeping alone.
func TruncateAll(ctx context.Context, pool *pgxpool.Pool) error {
	rows, err := pool.Query(ctx, `
		SELECT quote_ident(tablename) FROM pg_tables
		WHERE schemaname = 'public' AND tablename <> 'schema_migrations'`)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	if len(tables) == 0 {
		return nil
	}

	if _, err := pool.Exec(ctx, "TRUNCATE TABLE "+strings.Join(tables, ", ")+" CASCADE"); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}
