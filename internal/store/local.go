package store

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"

	"pharmgpt/internal/logging"
	"pharmgpt/internal/models"
)

const localCollection = "knowledge_base"

// Local is a chromem-go backed knowledge store for single-process use and
// tests. Similarity search runs against the chromem collection with
// conversation/user metadata filters; an ordered manifest is kept alongside
// because chromem has no ordered enumeration, which full-document
// reconstruction needs.
type Local struct {
	mu         sync.RWMutex
	collection *chromem.Collection
	dims       int
	docs       map[string]*models.Document // scopeKey(conv, doc) -> document
	chunks     map[string][]models.Chunk   // scopeKey(conv, doc) -> chunks by index
	log        zerolog.Logger
}

// NewLocal creates a local store. An empty path keeps everything in memory.
func NewLocal(path string, dims int) (*Local, error) {
	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to create local vector database: %w", err)
		}
	}
	c, err := db.GetOrCreateCollection(localCollection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	return &Local{
		collection: c,
		dims:       dims,
		docs:       make(map[string]*models.Document),
		chunks:     make(map[string][]models.Chunk),
		log:        logging.Component("store"),
	}, nil
}

func scopeKey(convID, docID string) string {
	return convID + "\x00" + docID
}

func chunkID(c models.Chunk) string {
	return c.ConversationID + "/" + c.DocumentID + "/" + strconv.Itoa(c.Index)
}

func (s *Local) SaveDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *doc
	s.docs[scopeKey(doc.ConversationID, doc.ID)] = &copied
	return nil
}

func (s *Local) UpdateDocumentStatus(_ context.Context, docID, convID string, status models.DocumentStatus, detail string, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[scopeKey(convID, docID)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, docID)
	}
	doc.Status = status
	doc.ErrorDetail = detail
	doc.ChunkCount = chunkCount
	return nil
}

func (s *Local) GetDocument(_ context.Context, docID, convID string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[scopeKey(convID, docID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, docID)
	}
	copied := *doc
	return &copied, nil
}

func (s *Local) ListDocuments(_ context.Context, convID, userID string) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var docs []models.Document
	for _, doc := range s.docs {
		if doc.ConversationID == convID && doc.UserID == userID {
			docs = append(docs, *doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].UploadedAt.Before(docs[j].UploadedAt) })
	return docs, nil
}

func (s *Local) CountRecentUploads(_ context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, doc := range s.docs {
		if doc.UserID == userID && doc.UploadedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (s *Local) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := validateChunks(chunks, s.dims); err != nil {
		return err
	}
	docID, convID := chunks[0].DocumentID, chunks[0].ConversationID

	s.mu.Lock()
	defer s.mu.Unlock()

	// Replace any previous batch for this document so re-processing is
	// idempotent on (document, index).
	if _, ok := s.chunks[scopeKey(convID, docID)]; ok {
		if err := s.collection.Delete(ctx, map[string]string{
			"document_id":     docID,
			"conversation_id": convID,
		}, nil); err != nil {
			return fmt.Errorf("failed to clear previous chunks: %w", err)
		}
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, chromem.Document{
			ID:      chunkID(c),
			Content: c.Content,
			Metadata: map[string]string{
				"conversation_id": c.ConversationID,
				"user_id":         c.UserID,
				"document_id":     c.DocumentID,
				"chunk_index":     strconv.Itoa(c.Index),
				"filename":        c.Filename,
			},
			Embedding: c.Embedding,
		})
	}
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add chunks: %w", err)
	}

	stored := make([]models.Chunk, len(chunks))
	copy(stored, chunks)
	sort.Slice(stored, func(i, j int) bool { return stored[i].Index < stored[j].Index })
	s.chunks[scopeKey(convID, docID)] = stored
	return nil
}

func (s *Local) SimilaritySearch(ctx context.Context, queryEmbedding []float32, convID, userID string, k int, minScore float32) ([]models.Chunk, error) {
	if len(queryEmbedding) != s.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, store configured for %d",
			ErrDimensionMismatch, len(queryEmbedding), s.dims)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// chromem rejects nResults above the candidate count.
	scoped := 0
	for _, doc := range s.docs {
		if doc.ConversationID == convID && doc.UserID == userID {
			scoped += len(s.chunks[scopeKey(convID, doc.ID)])
		}
	}
	if scoped == 0 {
		return nil, nil
	}
	n := min(k, scoped)

	results, err := s.collection.QueryEmbedding(ctx, queryEmbedding, n, map[string]string{
		"conversation_id": convID,
		"user_id":         userID,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}

	var out []models.Chunk
	for _, r := range results {
		if r.Similarity < minScore {
			continue
		}
		idx, err := strconv.Atoi(r.Metadata["chunk_index"])
		if err != nil {
			continue
		}
		for _, c := range s.chunks[scopeKey(convID, r.Metadata["document_id"])] {
			if c.Index == idx {
				c.Similarity = r.Similarity
				out = append(out, c)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

func (s *Local) FullRetrieval(_ context.Context, convID, userID string) ([]models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []*models.Document
	for _, doc := range s.docs {
		if doc.ConversationID == convID && doc.UserID == userID {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Filename != docs[j].Filename {
			return docs[i].Filename < docs[j].Filename
		}
		return docs[i].ID < docs[j].ID
	})

	var out []models.Chunk
	for _, doc := range docs {
		out = append(out, s.chunks[scopeKey(convID, doc.ID)]...)
	}
	return out, nil
}

func (s *Local) DeleteDocument(ctx context.Context, docID, convID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopeKey(convID, docID)
	if _, ok := s.chunks[key]; ok {
		if err := s.collection.Delete(ctx, map[string]string{
			"document_id":     docID,
			"conversation_id": convID,
		}, nil); err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
	}
	delete(s.chunks, key)
	delete(s.docs, key)
	return nil
}

func (s *Local) DeleteConversation(ctx context.Context, convID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, doc := range s.docs {
		if doc.ConversationID != convID || doc.UserID != userID {
			continue
		}
		if _, ok := s.chunks[key]; ok {
			if err := s.collection.Delete(ctx, map[string]string{
				"document_id":     doc.ID,
				"conversation_id": convID,
			}, nil); err != nil {
				return fmt.Errorf("failed to delete chunks: %w", err)
			}
		}
		delete(s.chunks, key)
		delete(s.docs, key)
	}
	return nil
}
