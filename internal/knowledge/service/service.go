// Package service implements the knowledge base: document intake and
// archival, background chunk indexing behind a cached embedder, and the
// retrieval operations that power search and grounded answers.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"converzia_backend/internal/events"
	"converzia_backend/internal/knowledge/repository"
	"converzia_backend/internal/knowledge/transport"
	"converzia_backend/platform/ai/embeddings"
	"converzia_backend/platform/apperr"
	"converzia_backend/platform/logger"
	"converzia_backend/platform/sanitize"
)

const (
	defaultTopK   = 5
	maxTopK       = 20
	embedWorkers  = 4
	defaultSource = "upload"
)

// Storage archives raw uploads. Indexing chunks the stored document content,
// so the module keeps working when no object store is configured.
type Storage interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	RemoveObject(ctx context.Context, key string) error
}

// TaskEnqueuer hands indexing work to the background worker.
type TaskEnqueuer interface {
	EnqueueDocumentIndex(ctx context.Context, documentID uuid.UUID) error
}

// Answerer produces a grounded answer from retrieved context snippets.
type Answerer interface {
	Answer(ctx context.Context, question string, contexts []string) (string, error)
}

// Service provides knowledge base operations.
type Service struct {
	repo     repository.Store
	embedder embeddings.Embedder
	answerer Answerer
	storage  Storage
	tasks    TaskEnqueuer
	bus      events.Bus
	log      *logger.Logger
}

// New creates a new knowledge service. storage and answerer may be nil when
// the deployment runs without MinIO or Gemini.
func New(repo repository.Store, embedder embeddings.Embedder, answerer Answerer, storage Storage, tasks TaskEnqueuer, bus events.Bus, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		embedder: embedder,
		answerer: answerer,
		storage:  storage,
		tasks:    tasks,
		bus:      bus,
		log:      log,
	}
}

// UploadDocument stores a document in pending status, archives the raw
// content when object storage is configured, and enqueues indexing. The
// content hash deduplicates: re-uploading identical content conflicts.
func (s *Service) UploadDocument(ctx context.Context, tenantID uuid.UUID, req transport.UploadDocumentRequest) (transport.DocumentResponse, error) {
	title := strings.TrimSpace(sanitize.Text(req.Title))
	content := strings.TrimSpace(req.Content)
	if title == "" || content == "" {
		return transport.DocumentResponse{}, apperr.Validation("title and content are required")
	}
	source := strings.TrimSpace(sanitize.Text(req.Source))
	if source == "" {
		source = defaultSource
	}

	sum := sha256.Sum256([]byte(content))
	contentHash := hex.EncodeToString(sum[:])

	var objectKey *string
	if s.storage != nil {
		key := fmt.Sprintf("tenants/%s/documents/%s", tenantID, contentHash)
		if err := s.storage.PutObject(ctx, key, []byte(content), "text/plain; charset=utf-8"); err != nil {
			return transport.DocumentResponse{}, fmt.Errorf("archive document content: %w", err)
		}
		objectKey = &key
	}

	doc, err := s.repo.CreateDocument(ctx, repository.CreateDocumentParams{
		TenantID:    tenantID,
		Title:       title,
		Source:      source,
		Content:     content,
		ContentHash: contentHash,
		ObjectKey:   objectKey,
	})
	if err != nil {
		return transport.DocumentResponse{}, err
	}

	if err := s.tasks.EnqueueDocumentIndex(ctx, doc.ID); err != nil {
		// The row stays parked in pending, which keeps the stall visible.
		s.log.Error("enqueue document index failed", "documentId", doc.ID, "error", err.Error())
	}

	s.log.Info("document uploaded", "documentId", doc.ID, "tenantId", tenantID, "title", title)
	return toDocumentResponse(doc), nil
}

// IndexDocument chunks the stored content, embeds each chunk with bounded
// parallelism, and swaps the document's chunks in one transaction. It is the
// worker-side counterpart of UploadDocument and safe to re-run.
func (s *Service) IndexDocument(ctx context.Context, documentID uuid.UUID) error {
	doc, err := s.repo.GetDocumentByID(ctx, documentID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			s.log.Warn("document to index no longer exists", "documentId", documentID)
			return nil
		}
		return fmt.Errorf("load document %s: %w", documentID, err)
	}

	chunks := chunkText(doc.Content, chunkSize, chunkOverlap)
	if len(chunks) == 0 {
		s.markFailed(ctx, doc.ID)
		return apperr.Validation("document has no indexable content")
	}

	inputs := make([]repository.ChunkInput, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedWorkers)
	for i, chunk := range chunks {
		g.Go(func() error {
			vec, err := s.embedder.Embed(gctx, chunk)
			if err != nil {
				return fmt.Errorf("embed chunk %d of document %s: %w", i, doc.ID, err)
			}
			inputs[i] = repository.ChunkInput{Seq: i, Content: chunk, Embedding: vec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// A later retry recovers the status: ReplaceChunks marks indexed.
		s.markFailed(ctx, doc.ID)
		return err
	}

	if err := s.repo.ReplaceChunks(ctx, doc.ID, doc.TenantID, inputs); err != nil {
		return fmt.Errorf("store chunks for document %s: %w", doc.ID, err)
	}

	s.bus.Publish(ctx, events.DocumentIndexed{
		BaseEvent:  events.NewBaseEvent(),
		DocumentID: doc.ID,
		TenantID:   doc.TenantID,
		ChunkCount: len(inputs),
	})
	s.log.Info("document indexed",
		"documentId", doc.ID,
		"tenantId", doc.TenantID,
		"chunks", len(inputs))
	return nil
}

func (s *Service) markFailed(ctx context.Context, documentID uuid.UUID) {
	if err := s.repo.MarkDocumentFailed(ctx, documentID); err != nil {
		s.log.Error("mark document failed errored", "documentId", documentID, "error", err.Error())
	}
}

// Search embeds the query and returns the tenant's nearest chunks by cosine
// distance.
func (s *Service) Search(ctx context.Context, tenantID uuid.UUID, req transport.SearchRequest) (transport.SearchResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return transport.SearchResponse{}, apperr.Validation("query is required")
	}
	k := req.TopK
	if k <= 0 {
		k = defaultTopK
	}
	if k > maxTopK {
		k = maxTopK
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return transport.SearchResponse{}, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.repo.SimilarChunks(ctx, tenantID, vec, k)
	if err != nil {
		return transport.SearchResponse{}, err
	}

	items := make([]transport.SearchHit, 0, len(hits))
	for _, hit := range hits {
		items = append(items, transport.SearchHit{
			DocumentID:    hit.DocumentID,
			DocumentTitle: hit.DocumentTitle,
			Seq:           hit.Seq,
			Content:       hit.Content,
			Distance:      hit.Distance,
		})
	}
	return transport.SearchResponse{Items: items}, nil
}

// Ask retrieves the question's nearest chunks and has the answerer respond
// grounded in them. Zero retrieved chunks is a not-found: the knowledge base
// cannot answer what it does not contain.
func (s *Service) Ask(ctx context.Context, tenantID uuid.UUID, req transport.AskRequest) (transport.AskResponse, error) {
	if s.answerer == nil {
		return transport.AskResponse{}, apperr.Unavailable("answer generation is not configured")
	}

	search, err := s.Search(ctx, tenantID, transport.SearchRequest{Query: req.Question, TopK: req.TopK})
	if err != nil {
		return transport.AskResponse{}, err
	}
	if len(search.Items) == 0 {
		return transport.AskResponse{}, apperr.NotFound("no knowledge found for this question")
	}

	contexts := make([]string, 0, len(search.Items))
	for _, item := range search.Items {
		contexts = append(contexts, item.Content)
	}

	answer, err := s.answerer.Answer(ctx, req.Question, contexts)
	if err != nil {
		return transport.AskResponse{}, fmt.Errorf("generate answer: %w", err)
	}
	return transport.AskResponse{Answer: answer, Sources: search.Items}, nil
}

// GetDocument returns one of the tenant's documents.
func (s *Service) GetDocument(ctx context.Context, tenantID, documentID uuid.UUID) (transport.DocumentResponse, error) {
	doc, err := s.repo.GetDocument(ctx, tenantID, documentID)
	if err != nil {
		return transport.DocumentResponse{}, err
	}
	return toDocumentResponse(doc), nil
}

// ListDocuments returns the tenant's documents, newest first.
func (s *Service) ListDocuments(ctx context.Context, tenantID uuid.UUID) ([]transport.DocumentResponse, error) {
	docs, err := s.repo.ListDocuments(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	items := make([]transport.DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		items = append(items, toDocumentResponse(doc))
	}
	return items, nil
}

// DeleteDocument removes the document with its chunks, then cleans up the
// archived object. Object cleanup is best-effort.
func (s *Service) DeleteDocument(ctx context.Context, tenantID, documentID uuid.UUID) error {
	doc, err := s.repo.DeleteDocument(ctx, tenantID, documentID)
	if err != nil {
		return err
	}
	if s.storage != nil && doc.ObjectKey != nil {
		if err := s.storage.RemoveObject(ctx, *doc.ObjectKey); err != nil {
			s.log.Warn("remove archived document object failed",
				"objectKey", *doc.ObjectKey,
				"error", err.Error())
		}
	}
	s.log.Info("document deleted", "documentId", documentID, "tenantId", tenantID)
	return nil
}

// ReindexChunks re-embeds stored chunks in batches, walking every tenant
// unless tenantID narrows the sweep. It exists for embedding model
// migrations and returns the number of chunks re-embedded, stopping at the
// first hard failure.
func (s *Service) ReindexChunks(ctx context.Context, tenantID *uuid.UUID, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	total := 0
	for offset := 0; ; offset += batchSize {
		chunks, err := s.repo.ListChunks(ctx, repository.ListChunksParams{
			TenantID: tenantID,
			Offset:   offset,
			Limit:    batchSize,
		})
		if err != nil {
			return total, fmt.Errorf("list chunks at offset %d: %w", offset, err)
		}
		if len(chunks) == 0 {
			return total, nil
		}
		for _, chunk := range chunks {
			vec, err := s.embedder.Embed(ctx, chunk.Content)
			if err != nil {
				return total, fmt.Errorf("embed chunk %s: %w", chunk.ID, err)
			}
			if err := s.repo.UpdateChunkEmbedding(ctx, chunk.ID, vec); err != nil {
				return total, fmt.Errorf("update chunk %s: %w", chunk.ID, err)
			}
			total++
		}
		s.log.Info("chunks re-embedded", "total", total)
		if len(chunks) < batchSize {
			return total, nil
		}
	}
}

func toDocumentResponse(doc repository.Document) transport.DocumentResponse {
	return transport.DocumentResponse{
		ID:         doc.ID,
		Title:      doc.Title,
		Source:     doc.Source,
		Status:     doc.Status,
		ChunkCount: doc.ChunkCount,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}
