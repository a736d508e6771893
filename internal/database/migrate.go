package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// DefaultMigrationsSource is the migrations directory relative to the working directory.
const DefaultMigrationsSource = "file://migrations"

// MigrationsSource turns a directory into a file:// source URL. URLs pass through.
func MigrationsSource(dirOrURL string) (string, error) {
	if strings.Contains(dirOrURL, "://") {
		return dirOrURL, nil
	}
	abs, err := filepath.Abs(dirOrURL)
	if err != nil {
		return "", fmt.Errorf("resolve migrations dir: %w", err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// Migrate applies every pending up migration from source and refuses a dirty schema.
func Migrate(databaseURL, source string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	noChange := errors.Is(err, migrate.ErrNoChange)
	if err != nil && !noChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Println("migrations: no migrations found")
	case err != nil:
		return fmt.Errorf("failed to get migration version: %w", err)
	case dirty:
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	case noChange:
		log.Printf("migrations: database is up to date (version %d)", version)
	default:
		log.Printf("migrations: applied successfully (version %d)", version)
	}
	return nil
}
