// Package store persists document chunks with their embeddings and answers
// the two retrieval primitives the context assembler needs: top-K similarity
// search and full ordered retrieval. Every query is scoped by conversation
// and user inside the query itself; callers cannot omit the scope.
//
// Two backends exist: Postgres with pgvector for deployments, and a
// chromem-go backed local store for single-process use and tests.
package store

import (
	"errors"
	"fmt"

	"pharmgpt/internal/models"
)

var (
	// ErrDimensionMismatch is returned when a chunk's embedding length
	// disagrees with the store's configured dimensionality. Never retried
	// and never coerced.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNotFound is returned when a referenced document does not exist.
	ErrNotFound = errors.New("document not found")
)

// validateChunks rejects a batch before any of it touches storage, so a bad
// batch leaves prior state unchanged.
func validateChunks(chunks []models.Chunk, dims int) error {
	for _, c := range chunks {
		if len(c.Embedding) != dims {
			return fmt.Errorf("%w: chunk %d of document %s has %d dimensions, store configured for %d",
				ErrDimensionMismatch, c.Index, c.DocumentID, len(c.Embedding), dims)
		}
		if c.ConversationID == "" || c.UserID == "" || c.DocumentID == "" {
			return fmt.Errorf("chunk %d missing scope identifiers", c.Index)
		}
	}
	return nil
}
