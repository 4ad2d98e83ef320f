package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
)

// EmbeddingDim is the fixed embedding width of the episodic_memory
// table
const EmbeddingDim = 256

// Embedder turns text into a fixed-width vector for similarity search
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// PoolInterface is the subset of pgxpool.Pool the store uses; pgxmock
// satisfies it in tests
type PoolInterface interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PgStore is the pgvector-backed episodic memory store
type PgStore struct {
	pool     PoolInterface
	embedder Embedder
}

// NewPgStore creates a store over an existing pool
func NewPgStore(pool PoolInterface, embedder Embedder) *PgStore {
	if embedder == nil {
		embedder = HashEmbedder{}
	}
	return &PgStore{pool: pool, embedder: embedder}
}

// NewPgStoreFromPool creates a store from a concrete pgxpool.Pool
func NewPgStoreFromPool(pool *pgxpool.Pool, embedder Embedder) *PgStore {
	return NewPgStore(pool, embedder)
}

// Add inserts one record with its embedding
func (s *PgStore) Add(ctx context.Context, content, userID string, metadata map[string]string) (string, error) {
	id := uuid.New()

	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return "", fmt.Errorf("failed to embed content: %w", err)
	}

	meta, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO episodic_memory (id, user_id, content, embedding, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.pool.Exec(ctx, query, id, userID, content, pgvector.NewVector(embedding), meta, time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to store memory record: %w", err)
	}

	log.Debug().
		Str("id", id.String()).
		Str("user_id", userID).
		Msg("Stored episodic memory record")

	return id.String(), nil
}

// Search returns up to topK records for userID by cosine distance to
// the query embedding
func (s *PgStore) Search(ctx context.Context, query, userID string, topK int) ([]Record, error) {
	if topK <= 0 {
		topK = 5
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	sql := `
		SELECT id, user_id, content, metadata, created_at
		FROM episodic_memory
		WHERE user_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, sql, pgvector.NewVector(embedding), userID, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search memory: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var id uuid.UUID
		var meta []byte
		if err := rows.Scan(&id, &r.UserID, &r.Content, &meta, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory record: %w", err)
		}
		r.ID = id.String()
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				log.Warn().Err(err).Str("id", r.ID).Msg("Failed to unmarshal record metadata")
			}
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// Update rewrites one record's content and embedding; ErrNotFound when
// the id does not exist
func (s *PgStore) Update(ctx context.Context, id, newContent string, metadata map[string]string) error {
	recordID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid record id %q: %w", id, err)
	}

	embedding, err := s.embedder.Embed(ctx, newContent)
	if err != nil {
		return fmt.Errorf("failed to embed content: %w", err)
	}

	var (
		sql  string
		args []interface{}
	)
	if metadata != nil {
		meta, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		sql = `UPDATE episodic_memory SET content = $2, embedding = $3, metadata = $4 WHERE id = $1`
		args = []interface{}{recordID, newContent, pgvector.NewVector(embedding), meta}
	} else {
		sql = `UPDATE episodic_memory SET content = $2, embedding = $3 WHERE id = $1`
		args = []interface{}{recordID, newContent, pgvector.NewVector(embedding)}
	}

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to update memory record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes exactly one record; ErrNotFound when absent
func (s *PgStore) Delete(ctx context.Context, id string) error {
	recordID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid record id %q: %w", id, err)
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM episodic_memory WHERE id = $1`, recordID)
	if err != nil {
		return fmt.Errorf("failed to delete memory record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HashEmbedder is a deterministic local embedder: hashed bag-of-words
// projected onto EmbeddingDim buckets and L2-normalized. It keeps the
// pgvector store usable without an embedding provider; swap in a real
// Embedder for semantic quality.
type HashEmbedder struct{}

// Embed implements Embedder
func (HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, EmbeddingDim)
	for token := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[h.Sum32()%EmbeddingDim] += 1.0
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1.0 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

var _ Store = (*PgStore)(nil)
var _ Embedder = HashEmbedder{}
