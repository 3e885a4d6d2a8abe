package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresConfig mirrors internal/auth/postgres.go's connection settings,
// narrowed to what the gateway's Store needs.
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// OpenPostgres opens a Postgres-backed Store, the alternate backend to
// OpenSQLite selected by DATABASE_TYPE=postgres.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	connLifetime := cfg.ConnLifetime
	if connLifetime <= 0 {
		connLifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := runSchema(ctx, db, postgresSchema, dollarPlaceholder); err != nil {
		db.Close()
		return nil, err
	}

	return &sqlStore{db: db, w: newWriter(), ph: dollarPlaceholder}, nil
}
