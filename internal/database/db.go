package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"contactlink/internal/config"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sql.DB connection
type DB struct {
	Conn    *sql.DB
	dialect dialect
}

// New opens the configured database, applies pool settings and runs migrations
func New(ctx context.Context, cfg *config.Config) (*DB, error) {
	d, err := dialectFor(cfg.DatabaseDriver)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(d.driver, d.dsn(cfg.DatabaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(cfg.DBMaxOpenConns)
	conn.SetMaxIdleConns(cfg.DBMaxIdleConns)
	conn.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{Conn: conn, dialect: d}

	if err := db.runMigrations(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("database initialized", "driver", d.driver)
	return db, nil
}

// runMigrations creates the contacts table and its indexes
func (db *DB) runMigrations(ctx context.Context) error {
	for _, stmt := range strings.Split(db.dialect.schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema: %w", err)
		}
	}
	return nil
}

// Ping checks that the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.Conn.PingContext(ctx)
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.Conn.Close()
}
