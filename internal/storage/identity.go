package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/faceforge/internal/config"
	"github.com/your-org/faceforge/internal/errs"
)

// Identity is one stored reference identity.
type Identity struct {
	ID        uuid.UUID
	Name      string
	Embedding []float32
}

// IdentityStore keeps named identity embeddings in Postgres with pgvector
// similarity search.
type IdentityStore struct {
	pool *pgxpool.Pool
}

// NewIdentityStore connects and pings the database.
func NewIdentityStore(cfg config.IdentityConfig) (*IdentityStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &IdentityStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *IdentityStore) Close() { s.pool.Close() }

// Ping checks connectivity.
func (s *IdentityStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// EnsureSchema creates the identities table and vector index.
func (s *IdentityStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS identities (
			id         UUID PRIMARY KEY,
			name       TEXT UNIQUE NOT NULL,
			embedding  vector(512) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure identity schema: %w", err)
	}
	return nil
}

// SaveIdentity upserts a named identity embedding.
func (s *IdentityStore) SaveIdentity(ctx context.Context, name string, embedding []float32) (*Identity, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO identities (id, name, embedding) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET embedding = EXCLUDED.embedding`,
		id, name, pgvector.NewVector(embedding),
	)
	if err != nil {
		return nil, fmt.Errorf("save identity %s: %w", name, err)
	}
	return &Identity{ID: id, Name: name, Embedding: embedding}, nil
}

// LoadEmbedding implements task.IdentitySource.
func (s *IdentityStore) LoadEmbedding(ctx context.Context, name string) ([]float32, error) {
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`SELECT embedding FROM identities WHERE name = $1`, name,
	).Scan(&vec)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errs.New(errs.CodeFileNotFound, "identity %q not found", name)
		}
		return nil, fmt.Errorf("load identity %s: %w", name, err)
	}
	return vec.Slice(), nil
}

// NearestIdentity returns the closest identity by cosine distance, or nil
// when none is within maxDistance.
func (s *IdentityStore) NearestIdentity(ctx context.Context, embedding []float32, maxDistance float64) (*Identity, float64, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, embedding, embedding <=> $1 AS distance
		 FROM identities
		 ORDER BY distance ASC
		 LIMIT 1`,
		pgvector.NewVector(embedding),
	)

	var ident Identity
	var vec pgvector.Vector
	var distance float64
	if err := row.Scan(&ident.ID, &ident.Name, &vec, &distance); err != nil {
		if err == pgx.ErrNoRows {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("nearest identity: %w", err)
	}
	if distance > maxDistance {
		return nil, distance, nil
	}
	ident.Embedding = vec.Slice()
	return &ident, distance, nil
}
