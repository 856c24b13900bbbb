// Package rag orchestrates the document knowledge base: the upload boundary
// (extract, chunk, embed, insert) and the query boundary (context assembly
// for the generation prompt). Every operation is scoped to one conversation
// and one user.
package rag

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/embeddings"

	"pharmgpt/internal/chunker"
	"pharmgpt/internal/config"
	"pharmgpt/internal/embedding"
	"pharmgpt/internal/helper"
	"pharmgpt/internal/logging"
	"pharmgpt/internal/llmservice"
	"pharmgpt/internal/models"
	"pharmgpt/internal/parser"
)

var (
	// ErrFileTooLarge rejects oversized uploads before extraction begins.
	ErrFileTooLarge = errors.New("file exceeds maximum size")

	// ErrUploadLimit rejects uploads past the rolling 24h quota.
	ErrUploadLimit = errors.New("upload limit reached")
)

// Store is what the pipeline needs from the knowledge store. Both the
// Postgres and the local backend satisfy it.
type Store interface {
	SaveDocument(ctx context.Context, doc *models.Document) error
	UpdateDocumentStatus(ctx context.Context, docID, convID string, status models.DocumentStatus, detail string, chunkCount int) error
	CountRecentUploads(ctx context.Context, userID string, since time.Time) (int, error)
	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, convID, userID string, k int, minScore float32) ([]models.Chunk, error)
	FullRetrieval(ctx context.Context, convID, userID string) ([]models.Chunk, error)
	DeleteDocument(ctx context.Context, docID, convID string) error
}

// Generator produces the answer for a turn from the assembled context.
type Generator interface {
	Chat(ctx context.Context, contextBlock string, history []llmservice.Message, userMessage string, onDelta func(string)) (string, error)
}

type Pipeline struct {
	store     Store
	embedder  embeddings.Embedder
	extractor *parser.Extractor
	generator Generator
	cfg       *config.Config
	log       zerolog.Logger
}

func NewPipeline(store Store, embedder embeddings.Embedder, extractor *parser.Extractor, generator Generator, cfg *config.Config) *Pipeline {
	return &Pipeline{
		store:     store,
		embedder:  embedder,
		extractor: extractor,
		generator: generator,
		cfg:       cfg,
		log:       logging.Component("rag"),
	}
}

// ProcessDocument runs the upload pipeline for one file: limits, extraction,
// chunking, embedding, insertion, status transition. Per-document failures
// are recorded on the returned document instead of propagating, so one bad
// file never fails its siblings; only storage failures return an error.
func (p *Pipeline) ProcessDocument(ctx context.Context, convID, userID, filename string, data []byte) (*models.Document, error) {
	if int64(len(data)) > p.cfg.MaxFileSizeBytes() {
		return nil, fmt.Errorf("%w: %s is %s, limit %s", ErrFileTooLarge, filename,
			helper.FormatFileSize(int64(len(data))), helper.FormatFileSize(p.cfg.MaxFileSizeBytes()))
	}

	recent, err := p.store.CountRecentUploads(ctx, userID, time.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("checking upload quota: %w", err)
	}
	if recent >= p.cfg.Upload.MaxPerDay {
		return nil, fmt.Errorf("%w: %d uploads in the last 24h", ErrUploadLimit, recent)
	}

	filename = helper.SanitizeFilename(filename)
	doc := &models.Document{
		ID:             helper.FileHash(data),
		ConversationID: convID,
		UserID:         userID,
		Filename:       filename,
		FileType:       strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."),
		FileSize:       int64(len(data)),
		Status:         models.StatusPending,
		UploadedAt:     time.Now(),
	}
	if err := p.store.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("saving document: %w", err)
	}

	// The abandoned-upload case: status writes must land even when the
	// caller has gone away, otherwise the document stays pending forever.
	statusCtx := context.WithoutCancel(ctx)

	res, extractErr := p.extractor.Extract(data, filename)
	if extractErr != nil && strings.TrimSpace(res.Text) == "" {
		p.log.Warn().Str("filename", filename).Err(extractErr).Msg("extraction failed")
		return p.finish(statusCtx, doc, models.StatusError, "could not extract content: "+extractErr.Error(), 0), nil
	}
	if extractErr != nil {
		p.log.Warn().Str("filename", filename).Err(extractErr).Msg("extraction partial, continuing")
	}

	text := res.Text
	if strings.TrimSpace(text) == "" {
		// Processed but contains no searchable content; not an error.
		return p.finish(statusCtx, doc, models.StatusProcessed, "", 0), nil
	}

	policy := chunker.PolicyFor(len(text))
	chunks := chunker.Split(text, policy)

	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
	}
	vectors, err := embedding.EmbedChunks(ctx, p.embedder, contents)
	if err != nil {
		p.finish(statusCtx, doc, models.StatusError, "embedding failed: "+err.Error(), 0)
		return doc, fmt.Errorf("embedding document %s: %w", filename, err)
	}

	batch := make([]models.Chunk, len(chunks))
	for i, c := range chunks {
		batch[i] = models.Chunk{
			DocumentID:     doc.ID,
			ConversationID: convID,
			Index:          c.Index,
			UserID:         userID,
			Filename:       filename,
			Content:        c.Content,
			Embedding:      vectors[i],
			Metadata:       chunkMetadata(doc, c.Content, res.Meta),
		}
	}
	if err := p.store.InsertChunks(statusCtx, batch); err != nil {
		p.finish(statusCtx, doc, models.StatusError, "storing chunks failed: "+err.Error(), 0)
		return doc, fmt.Errorf("storing chunks for %s: %w", filename, err)
	}

	p.log.Info().Str("filename", filename).Str("conversation", convID).
		Int("chunks", len(batch)).Msg("document processed")
	return p.finish(statusCtx, doc, models.StatusProcessed, "", len(batch)), nil
}

func (p *Pipeline) finish(ctx context.Context, doc *models.Document, status models.DocumentStatus, detail string, chunkCount int) *models.Document {
	doc.Status = status
	doc.ErrorDetail = detail
	doc.ChunkCount = chunkCount
	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, doc.ConversationID, status, detail, chunkCount); err != nil {
		p.log.Error().Str("document", doc.ID).Err(err).Msg("failed to record document status")
	}
	return doc
}

// Ask runs one chat turn: assemble context, hand it to the generation
// service together with the history.
func (p *Pipeline) Ask(ctx context.Context, message string, history []llmservice.Message, convID, userID string, onDelta func(string)) (string, error) {
	contextBlock, err := p.QueryContext(ctx, message, convID, userID)
	if err != nil {
		// Proceed without augmentation rather than failing the turn.
		p.log.Warn().Err(err).Msg("context assembly failed, answering without documents")
		contextBlock = ""
	}
	return p.generator.Chat(ctx, contextBlock, history, message, onDelta)
}

func chunkMetadata(doc *models.Document, content string, meta parser.Metadata) map[string]string {
	m := map[string]string{
		"filename":     doc.Filename,
		"file_type":    doc.FileType,
		"chunk_length": strconv.Itoa(len(content)),
		"word_count":   strconv.Itoa(len(strings.Fields(content))),
	}
	if meta.PageCount > 0 {
		m["page_count"] = strconv.Itoa(meta.PageCount)
	}
	if meta.SlideCount > 0 {
		m["slide_count"] = strconv.Itoa(meta.SlideCount)
	}
	return m
}
