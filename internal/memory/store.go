// Package memory implements user-scoped episodic memory for agents.
package memory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an update or delete targets a record
// that does not exist
var ErrNotFound = errors.New("memory record not found")

// Record is one episodic memory entry. user_id scopes ownership: only
// the owning agent's reflection may mutate or delete a record.
type Record struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Store is the episodic memory capability contract. Search returns at
// most topK records scoped to userID; ordering is provider-defined.
// Writes are synchronous from the caller's view.
type Store interface {
	Add(ctx context.Context, content, userID string, metadata map[string]string) (string, error)
	Search(ctx context.Context, query, userID string, topK int) ([]Record, error)
	Update(ctx context.Context, id, newContent string, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
}
