// Package dbstore implements the optional Postgres/pgvector mirror of
// reference embeddings (SPEC_FULL.md §4.3's mirror addition): a write-only
// copy that is never read during a run and never gates one. The file-based
// reference-embedding cache under log_root remains authoritative; this
// mirror is best-effort and its failures are logged, never propagated.
package dbstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Mirror is a pgvector-backed copy of every reference embedding computed
// this run, keyed by (engine, model, person, relative_path). It implements
// internal/reference.Mirror.
type Mirror struct {
	pool *pgxpool.Pool
}

// Connect opens a pooled connection to dsn and ensures the mirror's schema
// exists.
func Connect(ctx context.Context, dsn string, maxOpen, maxIdle int) (*Mirror, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dbstore: DATABASE_URL is required")
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("dbstore: parsing connection string: %w", err)
	}
	poolCfg.MaxConns = int32(maxOpen)
	poolCfg.MinConns = int32(maxIdle)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("dbstore: creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("dbstore: pinging database: %w", err)
	}

	m := &Mirror{pool: pool}
	if err := m.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return m, nil
}

// Close releases the connection pool.
func (m *Mirror) Close() {
	m.pool.Close()
}

func (m *Mirror) migrate(ctx context.Context) error {
	if _, err := m.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("dbstore: creating vector extension: %w", err)
	}

	_, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS reference_embeddings (
			engine      VARCHAR(64) NOT NULL,
			model       VARCHAR(64) NOT NULL,
			person      VARCHAR(255) NOT NULL,
			rel_path    VARCHAR(1024) NOT NULL,
			embedding   vector NOT NULL,
			dim         INTEGER NOT NULL,
			updated_at  TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (engine, model, person, rel_path)
		)
	`)
	if err != nil {
		return fmt.Errorf("dbstore: creating reference_embeddings table: %w", err)
	}
	return nil
}

// Upsert implements internal/reference.Mirror.
func (m *Mirror) Upsert(engine, model, person, relPath string, embedding []float32) error {
	vec := pgvector.NewVector(embedding)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := m.pool.Exec(ctx, `
		INSERT INTO reference_embeddings (engine, model, person, rel_path, embedding, dim, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (engine, model, person, rel_path)
		DO UPDATE SET embedding = $5, dim = $6, updated_at = NOW()
	`, engine, model, person, relPath, vec, len(embedding))
	if err != nil {
		return fmt.Errorf("dbstore: upserting reference embedding: %w", err)
	}
	return nil
}

// FindSimilar returns the nearest stored embeddings to embedding across all
// persons for (engine, model), ordered by cosine distance. It exists for
// operational inspection (e.g. the status server's debugging surface) and
// is not on the recognition hot path — the in-memory Matcher is.
func (m *Mirror) FindSimilar(ctx context.Context, engine, model string, embedding []float32, limit int) ([]string, error) {
	vec := pgvector.NewVector(embedding)
	rows, err := m.pool.Query(ctx, `
		SELECT person FROM reference_embeddings
		WHERE engine = $1 AND model = $2
		ORDER BY embedding <=> $3
		LIMIT $4
	`, engine, model, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("dbstore: querying similar embeddings: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var person string
		if err := rows.Scan(&person); err != nil {
			return nil, fmt.Errorf("dbstore: scanning row: %w", err)
		}
		names = append(names, person)
	}
	return names, rows.Err()
}
