package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// DB implements the concept and session stores on Postgres with pgvector
type DB struct {
	pool *pgxpool.Pool
}

// New opens a pool against connString and verifies it with a ping
func New(ctx context.Context, connString string, maxConns int32) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 10
	}
	poolCfg.MaxConns = maxConns
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.AfterConnect = registerVectorTypes

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{pool: pool}, nil
}

// registerVectorTypes enables the binary vector codec. Before the first
// migration the extension does not exist yet; vectors then travel in text
// form through pgvector.Vector's Scanner and Valuer.
func registerVectorTypes(ctx context.Context, conn *pgx.Conn) error {
	_ = pgxvec.RegisterTypes(ctx, conn)
	return nil
}

// Pool exposes the pool for maintenance queries
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Close closes the pool
func (db *DB) Close() {
	db.pool.Close()
}
