package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ycwei/tender-watch/internal/config"
)

// InitDb opens the connection pool against the configured database.
func InitDb(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	if cfg.PostgresConn == "" {
		return nil, fmt.Errorf("postgres_conn is not configured")
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresConn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return pool, nil
}
