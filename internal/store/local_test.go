package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmgpt/internal/models"
)

const testDims = 4

func newTestStore(t *testing.T) *Local {
	t.Helper()
	s, err := NewLocal("", testDims)
	require.NoError(t, err)
	return s
}

// axis returns a unit vector along one of the four axes.
func axis(i int) []float32 {
	v := make([]float32, testDims)
	v[i%testDims] = 1
	return v
}

func testDoc(docID, convID, userID, filename string) *models.Document {
	return &models.Document{
		ID:             docID,
		ConversationID: convID,
		UserID:         userID,
		Filename:       filename,
		Status:         models.StatusPending,
		UploadedAt:     time.Now(),
	}
}

func testChunks(docID, convID, userID, filename string, n int) []models.Chunk {
	chunks := make([]models.Chunk, n)
	for i := 0; i < n; i++ {
		chunks[i] = models.Chunk{
			DocumentID:     docID,
			ConversationID: convID,
			Index:          i,
			UserID:         userID,
			Filename:       filename,
			Content:        fmt.Sprintf("%s chunk %d", filename, i),
			Embedding:      axis(i),
		}
	}
	return chunks
}

func TestInsertAndFullRetrievalOrdered(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveDocument(ctx, testDoc("doc-b", "c1", "u1", "beta.txt")))
	require.NoError(t, s.SaveDocument(ctx, testDoc("doc-a", "c1", "u1", "alpha.txt")))
	require.NoError(t, s.InsertChunks(ctx, testChunks("doc-b", "c1", "u1", "beta.txt", 3)))
	require.NoError(t, s.InsertChunks(ctx, testChunks("doc-a", "c1", "u1", "alpha.txt", 2)))

	chunks, err := s.FullRetrieval(ctx, "c1", "u1")
	require.NoError(t, err)
	require.Len(t, chunks, 5)

	// Grouped by document (filename order), ordinal index ascending inside.
	assert.Equal(t, "alpha.txt chunk 0", chunks[0].Content)
	assert.Equal(t, "alpha.txt chunk 1", chunks[1].Content)
	assert.Equal(t, "beta.txt chunk 0", chunks[2].Content)
	assert.Equal(t, 1, chunks[3].Index)
	assert.Equal(t, 2, chunks[4].Index)
}

func TestDimensionMismatchRejectedWithoutCorruption(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveDocument(ctx, testDoc("doc-1", "c1", "u1", "a.txt")))
	require.NoError(t, s.InsertChunks(ctx, testChunks("doc-1", "c1", "u1", "a.txt", 2)))

	bad := testChunks("doc-2", "c1", "u1", "b.txt", 2)
	bad[1].Embedding = make([]float32, testDims+1)
	err := s.InsertChunks(ctx, bad)
	require.ErrorIs(t, err, ErrDimensionMismatch)

	// Prior state untouched, nothing from the bad batch stored.
	chunks, err := s.FullRetrieval(ctx, "c1", "u1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.Equal(t, "doc-1", c.DocumentID)
	}
}

func TestReprocessingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveDocument(ctx, testDoc("doc-1", "c1", "u1", "a.txt")))
	require.NoError(t, s.InsertChunks(ctx, testChunks("doc-1", "c1", "u1", "a.txt", 3)))
	require.NoError(t, s.InsertChunks(ctx, testChunks("doc-1", "c1", "u1", "a.txt", 3)))

	chunks, err := s.FullRetrieval(ctx, "c1", "u1")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	seen := map[int]bool{}
	for _, c := range chunks {
		assert.False(t, seen[c.Index], "duplicate (document, index) pair")
		seen[c.Index] = true
	}
}

func TestSimilaritySearchScopedAndRanked(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveDocument(ctx, testDoc("doc-1", "c1", "u1", "a.txt")))
	require.NoError(t, s.SaveDocument(ctx, testDoc("doc-2", "c2", "u1", "b.txt")))
	require.NoError(t, s.InsertChunks(ctx, testChunks("doc-1", "c1", "u1", "a.txt", 3)))
	require.NoError(t, s.InsertChunks(ctx, testChunks("doc-2", "c2", "u1", "b.txt", 3)))

	results, err := s.SimilaritySearch(ctx, axis(0), "c1", "u1", 10, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-1", results[0].DocumentID)
	assert.Equal(t, 0, results[0].Index)
	assert.InDelta(t, 1.0, float64(results[0].Similarity), 0.01)

	// Query embedding with the wrong width is a distinct, permanent error.
	_, err = s.SimilaritySearch(ctx, make([]float32, testDims+2), "c1", "u1", 5, 0)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestIsolationUnderConcurrentInserts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		conv := fmt.Sprintf("c%d", i%2+1)
		user := fmt.Sprintf("u%d", i%2+1)
		docID := fmt.Sprintf("doc-%d", i)
		require.NoError(t, s.SaveDocument(ctx, testDoc(docID, conv, user, docID+".txt")))
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.InsertChunks(ctx, testChunks(docID, conv, user, docID+".txt", 4)))
		}()
	}
	wg.Wait()

	full1, err := s.FullRetrieval(ctx, "c1", "u1")
	require.NoError(t, err)
	require.Len(t, full1, 20)
	for _, c := range full1 {
		assert.Equal(t, "c1", c.ConversationID)
		assert.Equal(t, "u1", c.UserID)
	}

	hits, err := s.SimilaritySearch(ctx, axis(1), "c2", "u2", 50, -1)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, c := range hits {
		assert.Equal(t, "c2", c.ConversationID)
		assert.Equal(t, "u2", c.UserID)
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveDocument(ctx, testDoc("doc-1", "c1", "u1", "a.txt")))
	require.NoError(t, s.InsertChunks(ctx, testChunks("doc-1", "c1", "u1", "a.txt", 2)))
	require.NoError(t, s.DeleteDocument(ctx, "doc-1", "c1"))

	chunks, err := s.FullRetrieval(ctx, "c1", "u1")
	require.NoError(t, err)
	assert.Empty(t, chunks)
	_, err = s.GetDocument(ctx, "doc-1", "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountRecentUploads(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	old := testDoc("doc-old", "c1", "u1", "old.txt")
	old.UploadedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.SaveDocument(ctx, old))
	require.NoError(t, s.SaveDocument(ctx, testDoc("doc-new", "c1", "u1", "new.txt")))

	n, err := s.CountRecentUploads(ctx, "u1", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpdateDocumentStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveDocument(ctx, testDoc("doc-1", "c1", "u1", "a.txt")))
	require.NoError(t, s.UpdateDocumentStatus(ctx, "doc-1", "c1", models.StatusError, "no readable text", 0))

	doc, err := s.GetDocument(ctx, "doc-1", "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, doc.Status)
	assert.Equal(t, "no readable text", doc.ErrorDetail)

	err = s.UpdateDocumentStatus(ctx, "missing", "c1", models.StatusProcessed, "", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}
