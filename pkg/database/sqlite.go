package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/noah-isme/classroom-sync-api/pkg/config"
)

const overlaySchemaSQLite = `CREATE TABLE IF NOT EXISTS class_overlays (
	id TEXT PRIMARY KEY,
	student_id TEXT NOT NULL UNIQUE,
	class_name TEXT NOT NULL,
	group_name TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_class_overlays_group ON class_overlays (group_name);`

// NewSQLite opens a file-backed SQLite database for local development and
// bootstraps the overlay table.
func NewSQLite(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(overlaySchemaSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap sqlite schema: %w", err)
	}
	return db, nil
}

// Open selects the driver configured by DB_DRIVER.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLite(cfg)
	case "", "postgres":
		return NewPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
