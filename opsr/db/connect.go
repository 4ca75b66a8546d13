// Package db opens the embedded libsql database backing the session log
// and the document store, and keeps its schema current with goose.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	_ "github.com/tursodatabase/go-libsql"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config holds connection settings for the embedded database.
type Config struct {
	DatabasePath string // path to the .db file
}

// Connect opens (creating if needed) the embedded database at path and
// runs pending migrations.
func Connect(path string) (*sql.DB, error) {
	return ConnectWithConfig(&Config{DatabasePath: path})
}

// ConnectWithConfig opens the embedded database described by config.
func ConnectWithConfig(config *Config) (*sql.DB, error) {
	dir := filepath.Dir(config.DatabasePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create database directory %s: %w", dir, err)
	}

	if _, err := os.Stat(config.DatabasePath); os.IsNotExist(err) {
		slog.Info("Database not found, creating a new one", "path", config.DatabasePath)
		file, err := os.Create(config.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("could not create db at path %s: %w", config.DatabasePath, err)
		}
		file.Close()
	}

	// Embedded mode with WAL so readers never block the single writer
	// of a session.
	dsn := fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_synchronous=NORMAL&_temp_store=memory",
		config.DatabasePath)

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}

	if err := verify(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// migrate brings the schema up to date from the embedded migration files.
func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}
	return nil
}

// verify ensures basic connectivity and built-in features; it never loads
// extensions.
func verify(db *sql.DB) error {
	ctx := context.Background()

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("basic connectivity test failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("basic connectivity test failed: unexpected result %d", result)
	}

	// JSON1 should be present in our build
	var jsonResult string
	if err := db.QueryRowContext(ctx, `SELECT json_extract('{"test":"value"}', '$.test')`).Scan(&jsonResult); err != nil {
		slog.Warn("JSON1 test failed", "error", err)
	} else if jsonResult != "value" {
		slog.Warn("JSON1 test returned unexpected result", "result", jsonResult)
	}

	return nil
}
