package models

import (
	"time"

	"github.com/uptrace/bun"
)

// DocumentStatus tracks the processing lifecycle of an uploaded file.
type DocumentStatus string

const (
	StatusPending   DocumentStatus = "pending"
	StatusProcessed DocumentStatus = "processed"
	StatusError     DocumentStatus = "error"
)

// Document is one uploaded file inside a conversation. The ID is the sha256
// of the file bytes, so the same content re-uploaded into the same
// conversation maps to the same row.
type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID             string         `bun:"id,pk"`
	ConversationID string         `bun:"conversation_id,pk"`
	UserID         string         `bun:"user_id,notnull"`
	Filename       string         `bun:"filename,notnull"`
	FileType       string         `bun:"file_type"`
	FileSize       int64          `bun:"file_size"`
	Status         DocumentStatus `bun:"status,notnull"`
	ErrorDetail    string         `bun:"error_detail,nullzero"`
	ChunkCount     int            `bun:"chunk_count"`
	UploadedAt     time.Time      `bun:"uploaded_at,notnull,default:current_timestamp"`
}

// Chunk is one ordered segment of a document's extracted text together with
// its embedding. Conversation and user ids are denormalized onto every chunk
// so the store can enforce isolation inside the query itself.
type Chunk struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`

	DocumentID     string            `bun:"document_id,pk"`
	ConversationID string            `bun:"conversation_id,pk"`
	Index          int               `bun:"chunk_index,pk"`
	UserID         string            `bun:"user_id,notnull"`
	Filename       string            `bun:"filename"`
	Content        string            `bun:"content,notnull"`
	Embedding      []float32         `bun:"embedding,notnull,type:vector(1024)"`
	Metadata       map[string]string `bun:"metadata,type:jsonb"`

	// Similarity is populated by similarity search only.
	Similarity float32 `bun:"similarity,scanonly"`
}
