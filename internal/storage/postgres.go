package storage

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresClient struct {
	pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, cfg config.DatabaseConfig) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS auth_events (
	id          BIGSERIAL PRIMARY KEY,
	event_type  TEXT NOT NULL,
	subject     TEXT NOT NULL DEFAULT '',
	ip_address  TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	success     BOOLEAN NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS register_writes (
	id          BIGSERIAL PRIMARY KEY,
	sensor      TEXT NOT NULL,
	target      TEXT NOT NULL,
	address     INTEGER NOT NULL,
	value       SMALLINT NOT NULL,
	written_by  TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS attribute_snapshots (
	sensor      TEXT PRIMARY KEY,
	state       TEXT NOT NULL,
	mode        INTEGER NOT NULL,
	video       JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate creates the audit tables when they do not exist yet.
func (p *PostgresClient) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}
