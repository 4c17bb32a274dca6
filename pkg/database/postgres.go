package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/noah-isme/classroom-sync-api/pkg/config"
)

const (
	postgresConnectTimeout = 5 * time.Second

	overlaySchemaPostgres = `CREATE TABLE IF NOT EXISTS class_overlays (
	id UUID PRIMARY KEY,
	student_id TEXT NOT NULL UNIQUE,
	class_name TEXT NOT NULL,
	group_name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_class_overlays_group ON class_overlays (group_name);`
)

// NewPostgres connects to PostgreSQL and makes sure the overlay table exists.
// The statement mirrors migrations/0001_class_overlays.sql and is a no-op once
// the migration ran.
func NewPostgres(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), postgresConnectTimeout)
	defer cancel()
	if err := preparePostgres(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func preparePostgres(ctx context.Context, db *sqlx.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, overlaySchemaPostgres); err != nil {
		return fmt.Errorf("bootstrap postgres schema: %w", err)
	}
	return nil
}

// postgresDSN renders a keyword/value connection string. Values are quoted so
// passwords with spaces or quotes survive.
func postgresDSN(cfg config.DatabaseConfig) string {
	pairs := []struct {
		key   string
		value string
	}{
		{"host", cfg.Host},
		{"port", fmt.Sprintf("%d", cfg.Port)},
		{"user", cfg.User},
		{"password", cfg.Password},
		{"dbname", cfg.Name},
		{"sslmode", cfg.SSLMode},
		{"connect_timeout", fmt.Sprintf("%d", int(postgresConnectTimeout.Seconds()))},
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.value == "" {
			continue
		}
		parts = append(parts, p.key+"="+quoteDSNValue(p.value))
	}
	return strings.Join(parts, " ")
}

func quoteDSNValue(value string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value)
	return "'" + escaped + "'"
}
