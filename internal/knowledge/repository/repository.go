package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"converzia_backend/platform/apperr"
)

const documentNotFoundMessage = "document not found"

// Repo implements the Store interface with PostgreSQL and pgvector.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new knowledge repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

var _ Store = (*Repo)(nil)

const documentColumns = `id, tenant_id, title, source, content, content_hash, object_key, status, chunk_count, created_at, updated_at`

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.TenantID, &d.Title, &d.Source, &d.Content, &d.ContentHash, &d.ObjectKey,
		&d.Status, &d.ChunkCount, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// CreateDocument inserts a pending document. The (tenant_id, content_hash)
// uniqueness turns duplicate uploads into conflicts.
func (r *Repo) CreateDocument(ctx context.Context, params CreateDocumentParams) (Document, error) {
	query := `INSERT INTO documents (tenant_id, title, source, content, content_hash, object_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, content_hash) DO NOTHING
		RETURNING ` + documentColumns

	doc, err := scanDocument(r.pool.QueryRow(ctx, query,
		params.TenantID, params.Title, params.Source, params.Content, params.ContentHash, params.ObjectKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, apperr.Conflict("document with identical content already exists")
		}
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

// GetDocument retrieves a document scoped to a tenant.
func (r *Repo) GetDocument(ctx context.Context, tenantID, id uuid.UUID) (Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE tenant_id = $1 AND id = $2`

	doc, err := scanDocument(r.pool.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, apperr.NotFound(documentNotFoundMessage)
		}
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// GetDocumentByID retrieves a document without tenant scoping. Used by the
// indexing worker, whose task payload carries only the document ID.
func (r *Repo) GetDocumentByID(ctx context.Context, id uuid.UUID) (Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	doc, err := scanDocument(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, apperr.NotFound(documentNotFoundMessage)
		}
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns a tenant's documents, newest first.
func (r *Repo) ListDocuments(ctx context.Context, tenantID uuid.UUID) ([]Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE tenant_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document (chunks cascade) and returns the deleted
// row so the caller can clean up the archived object.
func (r *Repo) DeleteDocument(ctx context.Context, tenantID, id uuid.UUID) (Document, error) {
	query := `DELETE FROM documents WHERE tenant_id = $1 AND id = $2 RETURNING ` + documentColumns

	doc, err := scanDocument(r.pool.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, apperr.NotFound(documentNotFoundMessage)
		}
		return Document{}, fmt.Errorf("delete document: %w", err)
	}
	return doc, nil
}

// ReplaceChunks swaps the document's chunks for the given set and marks the
// document indexed, all in one transaction. Re-indexing an already indexed
// document is therefore atomic: readers see the old chunks or the new ones,
// never a mix.
func (r *Repo) ReplaceChunks(ctx context.Context, documentID, tenantID uuid.UUID, chunks []ChunkInput) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin replace chunks: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}

	for _, chunk := range chunks {
		_, err := tx.Exec(ctx, `
			INSERT INTO document_chunks (document_id, tenant_id, seq, content, embedding)
			VALUES ($1, $2, $3, $4, $5)`,
			documentID, tenantID, chunk.Seq, chunk.Content, pgvector.NewVector(chunk.Embedding),
		)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", chunk.Seq, err)
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE documents SET status = 'indexed', chunk_count = $2, updated_at = now()
		WHERE id = $1`,
		documentID, len(chunks),
	)
	if err != nil {
		return fmt.Errorf("mark document indexed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(documentNotFoundMessage)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace chunks: %w", err)
	}
	return nil
}

// MarkDocumentFailed parks a document whose indexing failed.
func (r *Repo) MarkDocumentFailed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents SET status = 'failed', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark document failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(documentNotFoundMessage)
	}
	return nil
}

// SimilarChunks returns the k chunks closest to the query vector by cosine
// distance, scoped to the tenant.
func (r *Repo) SimilarChunks(ctx context.Context, tenantID uuid.UUID, vector []float32, k int) ([]SimilarChunk, error) {
	if k < 1 {
		k = 5
	}

	query := `
		SELECT c.id, c.document_id, d.title, c.seq, c.content, c.embedding <=> $2 AS distance
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.tenant_id = $1 AND c.embedding IS NOT NULL
		ORDER BY c.embedding <=> $2
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, tenantID, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("similar chunks: %w", err)
	}
	defer rows.Close()

	var hits []SimilarChunk
	for rows.Next() {
		var hit SimilarChunk
		if err := rows.Scan(&hit.ChunkID, &hit.DocumentID, &hit.DocumentTitle, &hit.Seq, &hit.Content, &hit.Distance); err != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// ListChunks pages through chunks in stable order for reindexing.
func (r *Repo) ListChunks(ctx context.Context, params ListChunksParams) ([]Chunk, error) {
	limit := params.Limit
	if limit < 1 {
		limit = 100
	}

	query := `
		SELECT id, document_id, tenant_id, seq, content, embedding, created_at
		FROM document_chunks
		WHERE ($1::uuid IS NULL OR tenant_id = $1)
		ORDER BY document_id, seq
		OFFSET $2 LIMIT $3`

	rows, err := r.pool.Query(ctx, query, params.TenantID, params.Offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var embedding *pgvector.Vector
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.TenantID, &c.Seq, &c.Content, &embedding, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if embedding != nil {
			c.Embedding = embedding.Slice()
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// UpdateChunkEmbedding overwrites one chunk's vector.
func (r *Repo) UpdateChunkEmbedding(ctx context.Context, id uuid.UUID, vector []float32) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE document_chunks SET embedding = $2 WHERE id = $1`,
		id, pgvector.NewVector(vector))
	if err != nil {
		return fmt.Errorf("update chunk embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("chunk not found")
	}
	return nil
}
