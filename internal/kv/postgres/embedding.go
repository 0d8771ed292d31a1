package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// EmbeddingSchema creates the entity profile embedding table. The vector
// dimension matches text-embedding-3-small.
const EmbeddingSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS entity_embeddings (
	user_id    TEXT         NOT NULL,
	entity_id  TEXT         NOT NULL,
	embedding  vector(1536) NOT NULL,
	updated_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_entity_embeddings_vector
	ON entity_embeddings USING hnsw (embedding vector_cosine_ops);
`

// EntityMatch is one nearest-neighbour hit from the embedding index.
type EntityMatch struct {
	EntityID   string
	Similarity float64
}

// EmbeddingIndex stores entity profile embeddings and answers
// nearest-neighbour queries. It is an optional candidate source for
// resolution; the store works fine without it.
type EmbeddingIndex struct {
	db *sql.DB
}

// NewEmbeddingIndex initializes the embedding schema on an existing
// PostgreSQL connection.
func NewEmbeddingIndex(db *sql.DB) (*EmbeddingIndex, error) {
	if _, err := db.Exec(EmbeddingSchema); err != nil {
		return nil, fmt.Errorf("postgres: failed to create embedding schema: %w", err)
	}
	return &EmbeddingIndex{db: db}, nil
}

// Upsert writes or replaces the embedding for an entity.
func (e *EmbeddingIndex) Upsert(ctx context.Context, userID, entityID string, embedding []float32) error {
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO entity_embeddings (user_id, entity_id, embedding)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, entity_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			updated_at = now()
	`, userID, entityID, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("postgres: embedding upsert failed: %w", err)
	}
	return nil
}

// Delete removes an entity's embedding, used when entities are merged.
func (e *EmbeddingIndex) Delete(ctx context.Context, userID, entityID string) error {
	_, err := e.db.ExecContext(ctx, `
		DELETE FROM entity_embeddings WHERE user_id = $1 AND entity_id = $2
	`, userID, entityID)
	if err != nil {
		return fmt.Errorf("postgres: embedding delete failed: %w", err)
	}
	return nil
}

// Nearest returns the entities whose profile embeddings are closest to the
// query vector by cosine similarity, best first.
func (e *EmbeddingIndex) Nearest(ctx context.Context, userID string, query []float32, limit int) ([]EntityMatch, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT entity_id, 1 - (embedding <=> $2) AS similarity
		FROM entity_embeddings
		WHERE user_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`, userID, pgvector.NewVector(query), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: embedding query failed: %w", err)
	}
	defer rows.Close()

	var matches []EntityMatch
	for rows.Next() {
		var m EntityMatch
		if err := rows.Scan(&m.EntityID, &m.Similarity); err != nil {
			return nil, fmt.Errorf("postgres: embedding scan failed: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: embedding query failed: %w", err)
	}
	return matches, nil
}
