package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"pharmgpt/internal/config"
	"pharmgpt/internal/logging"
	"pharmgpt/internal/models"
)

// Postgres is the pgvector-backed knowledge store.
type Postgres struct {
	db   *bun.DB
	dims int
	log  zerolog.Logger
}

func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.URL
	if !strings.Contains(dsn, "sslmode") {
		dsn += "?sslmode=disable"
	}
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn), pgdriver.WithPassword(cfg.Password))), nil
}

func NewPostgres(sqldb *sql.DB, dims int, debug bool) *Postgres {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return &Postgres{db: db, dims: dims, log: logging.Component("store")}
}

func (s *Postgres) Close() error {
	return s.db.Close()
}

// Init creates the schema. The vector column width in the model tag must
// match the configured dimensionality.
func (s *Postgres) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("enabling pgvector: %w", err)
	}
	if _, err := s.db.NewCreateTable().Model((*models.Document)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	if _, err := s.db.NewCreateTable().Model((*models.Chunk)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	return nil
}

func (s *Postgres) SaveDocument(ctx context.Context, doc *models.Document) error {
	return withRetry(ctx, s.log, "save_document", func() error {
		_, err := s.db.NewInsert().
			Model(doc).
			On("CONFLICT (id, conversation_id) DO UPDATE").
			Set("status = EXCLUDED.status").
			Set("error_detail = EXCLUDED.error_detail").
			Set("chunk_count = EXCLUDED.chunk_count").
			Set("uploaded_at = EXCLUDED.uploaded_at").
			Exec(ctx)
		return err
	})
}

func (s *Postgres) UpdateDocumentStatus(ctx context.Context, docID, convID string, status models.DocumentStatus, detail string, chunkCount int) error {
	return withRetry(ctx, s.log, "update_document_status", func() error {
		res, err := s.db.NewUpdate().
			Model((*models.Document)(nil)).
			Set("status = ?", status).
			Set("error_detail = ?", detail).
			Set("chunk_count = ?", chunkCount).
			Where("id = ?", docID).
			Where("conversation_id = ?", convID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, docID)
		}
		return nil
	})
}

func (s *Postgres) GetDocument(ctx context.Context, docID, convID string) (*models.Document, error) {
	doc := new(models.Document)
	err := s.db.NewSelect().
		Model(doc).
		Where("d.id = ?", docID).
		Where("d.conversation_id = ?", convID).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, docID)
	}
	return doc, err
}

func (s *Postgres) ListDocuments(ctx context.Context, convID, userID string) ([]models.Document, error) {
	var docs []models.Document
	err := s.db.NewSelect().
		Model(&docs).
		Where("d.conversation_id = ?", convID).
		Where("d.user_id = ?", userID).
		Order("uploaded_at ASC").
		Scan(ctx)
	return docs, err
}

// CountRecentUploads supports the rolling upload limit.
func (s *Postgres) CountRecentUploads(ctx context.Context, userID string, since time.Time) (int, error) {
	return s.db.NewSelect().
		Model((*models.Document)(nil)).
		Where("d.user_id = ?", userID).
		Where("d.uploaded_at > ?", since).
		Count(ctx)
}

// InsertChunks stores a document's chunk batch. Re-processing the same
// document replaces its previous chunks inside one transaction, so a retried
// upload never leaves duplicate (document, index) pairs.
func (s *Postgres) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := validateChunks(chunks, s.dims); err != nil {
		return err
	}
	docID, convID := chunks[0].DocumentID, chunks[0].ConversationID

	return withRetry(ctx, s.log, "insert_chunks", func() error {
		return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if _, err := tx.NewDelete().
				Model((*models.Chunk)(nil)).
				Where("document_id = ?", docID).
				Where("conversation_id = ?", convID).
				Exec(ctx); err != nil {
				return err
			}
			_, err := tx.NewInsert().Model(&chunks).Exec(ctx)
			return err
		})
	})
}

// SimilaritySearch returns up to k chunks above minScore by cosine
// similarity, best first. Conversation and user scoping is part of the WHERE
// clause, not an afterthought filter.
func (s *Postgres) SimilaritySearch(ctx context.Context, queryEmbedding []float32, convID, userID string, k int, minScore float32) ([]models.Chunk, error) {
	if len(queryEmbedding) != s.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, store configured for %d",
			ErrDimensionMismatch, len(queryEmbedding), s.dims)
	}
	lit := vectorLiteral(queryEmbedding)

	var chunks []models.Chunk
	err := withRetry(ctx, s.log, "similarity_search", func() error {
		chunks = chunks[:0]
		return s.db.NewSelect().
			Model(&chunks).
			ColumnExpr("c.*").
			ColumnExpr("1 - (c.embedding <=> ?::vector) AS similarity", lit).
			Where("c.conversation_id = ?", convID).
			Where("c.user_id = ?", userID).
			Where("1 - (c.embedding <=> ?::vector) >= ?", lit, minScore).
			OrderExpr("c.embedding <=> ?::vector", lit).
			Limit(k).
			Scan(ctx)
	})
	return chunks, err
}

// FullRetrieval returns every chunk in the conversation, grouped by document
// and ordered by ordinal index, for whole-document reconstruction.
func (s *Postgres) FullRetrieval(ctx context.Context, convID, userID string) ([]models.Chunk, error) {
	var chunks []models.Chunk
	err := withRetry(ctx, s.log, "full_retrieval", func() error {
		chunks = chunks[:0]
		return s.db.NewSelect().
			Model(&chunks).
			Where("c.conversation_id = ?", convID).
			Where("c.user_id = ?", userID).
			Order("filename ASC", "document_id ASC", "chunk_index ASC").
			Scan(ctx)
	})
	return chunks, err
}

// DeleteDocument removes a document and all of its chunks.
func (s *Postgres) DeleteDocument(ctx context.Context, docID, convID string) error {
	return withRetry(ctx, s.log, "delete_document", func() error {
		return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if _, err := tx.NewDelete().
				Model((*models.Chunk)(nil)).
				Where("document_id = ?", docID).
				Where("conversation_id = ?", convID).
				Exec(ctx); err != nil {
				return err
			}
			_, err := tx.NewDelete().
				Model((*models.Document)(nil)).
				Where("id = ?", docID).
				Where("conversation_id = ?", convID).
				Exec(ctx)
			return err
		})
	})
}

// DeleteConversation cascades removal of a conversation's knowledge base.
func (s *Postgres) DeleteConversation(ctx context.Context, convID, userID string) error {
	return withRetry(ctx, s.log, "delete_conversation", func() error {
		return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if _, err := tx.NewDelete().
				Model((*models.Chunk)(nil)).
				Where("conversation_id = ?", convID).
				Where("user_id = ?", userID).
				Exec(ctx); err != nil {
				return err
			}
			_, err := tx.NewDelete().
				Model((*models.Document)(nil)).
				Where("conversation_id = ?", convID).
				Where("user_id = ?", userID).
				Exec(ctx)
			return err
		})
	})
}

// vectorLiteral renders a pgvector input literal.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
