// Package repository persists knowledge documents and their embedded chunks.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Document statuses. A document is pending until the indexer has embedded
// all its chunks.
const (
	StatusPending = "pending"
	StatusIndexed = "indexed"
	StatusFailed  = "failed"
)

// Document is one uploaded knowledge source for a tenant. Content is the
// sanitized text the indexer chunks; the raw upload is archived in object
// storage under ObjectKey.
type Document struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Title       string
	Source      string
	Content     string
	ContentHash string
	ObjectKey   *string
	Status      string
	ChunkCount  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Chunk is one embedded slice of a document.
type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	TenantID   uuid.UUID
	Seq        int
	Content    string
	Embedding  []float32
	CreatedAt  time.Time
}

// SimilarChunk is a search hit: a chunk with its document title and cosine
// distance to the query vector (smaller is closer).
type SimilarChunk struct {
	ChunkID       uuid.UUID
	DocumentID    uuid.UUID
	DocumentTitle string
	Seq           int
	Content       string
	Distance      float64
}

// CreateDocumentParams inserts a pending document row.
type CreateDocumentParams struct {
	TenantID    uuid.UUID
	Title       string
	Source      string
	Content     string
	ContentHash string
	ObjectKey   *string
}

// ChunkInput is one chunk ready for insertion with its embedding.
type ChunkInput struct {
	Seq       int
	Content   string
	Embedding []float32
}

// ListChunksParams pages chunks for reindexing, optionally scoped to one
// tenant.
type ListChunksParams struct {
	TenantID *uuid.UUID
	Offset   int
	Limit    int
}

// Store persists documents and chunks.
type Store interface {
	CreateDocument(ctx context.Context, params CreateDocumentParams) (Document, error)
	GetDocument(ctx context.Context, tenantID, id uuid.UUID) (Document, error)
	GetDocumentByID(ctx context.Context, id uuid.UUID) (Document, error)
	ListDocuments(ctx context.Context, tenantID uuid.UUID) ([]Document, error)
	DeleteDocument(ctx context.Context, tenantID, id uuid.UUID) (Document, error)
	// ReplaceChunks swaps the document's chunks for the given set and marks
	// it indexed, atomically.
	ReplaceChunks(ctx context.Context, documentID, tenantID uuid.UUID, chunks []ChunkInput) error
	MarkDocumentFailed(ctx context.Context, id uuid.UUID) error
	SimilarChunks(ctx context.Context, tenantID uuid.UUID, vector []float32, k int) ([]SimilarChunk, error)
	ListChunks(ctx context.Context, params ListChunksParams) ([]Chunk, error)
	UpdateChunkEmbedding(ctx context.Context, id uuid.UUID, vector []float32) error
}
