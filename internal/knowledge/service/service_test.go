package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"converzia_backend/internal/events"
	"converzia_backend/internal/knowledge/repository"
	"converzia_backend/internal/knowledge/transport"
	"converzia_backend/platform/apperr"
	"converzia_backend/platform/logger"
)

type fakeStore struct {
	mu         sync.Mutex
	created    []repository.CreateDocumentParams
	createErr  error
	docs       map[uuid.UUID]repository.Document
	replaced   map[uuid.UUID][]repository.ChunkInput
	replaceErr error
	failed     []uuid.UUID
	similar    []repository.SimilarChunk
	similarErr error
	lastVec    []float32
	lastK      int
	chunks     []repository.Chunk
	updated    map[uuid.UUID][]float32
	updateErr  error
	deleted    []uuid.UUID
	deleteErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:     make(map[uuid.UUID]repository.Document),
		replaced: make(map[uuid.UUID][]repository.ChunkInput),
		updated:  make(map[uuid.UUID][]float32),
	}
}

func (f *fakeStore) CreateDocument(_ context.Context, params repository.CreateDocumentParams) (repository.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return repository.Document{}, f.createErr
	}
	f.created = append(f.created, params)
	doc := repository.Document{
		ID:          uuid.New(),
		TenantID:    params.TenantID,
		Title:       params.Title,
		Source:      params.Source,
		Content:     params.Content,
		ContentHash: params.ContentHash,
		ObjectKey:   params.ObjectKey,
		Status:      repository.StatusPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	f.docs[doc.ID] = doc
	return doc, nil
}

func (f *fakeStore) GetDocument(_ context.Context, tenantID, id uuid.UUID) (repository.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok || doc.TenantID != tenantID {
		return repository.Document{}, apperr.NotFound("document not found")
	}
	return doc, nil
}

func (f *fakeStore) GetDocumentByID(_ context.Context, id uuid.UUID) (repository.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return repository.Document{}, apperr.NotFound("document not found")
	}
	return doc, nil
}

func (f *fakeStore) ListDocuments(_ context.Context, tenantID uuid.UUID) ([]repository.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.Document
	for _, doc := range f.docs {
		if doc.TenantID == tenantID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, tenantID, id uuid.UUID) (repository.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return repository.Document{}, f.deleteErr
	}
	doc, ok := f.docs[id]
	if !ok || doc.TenantID != tenantID {
		return repository.Document{}, apperr.NotFound("document not found")
	}
	delete(f.docs, id)
	f.deleted = append(f.deleted, id)
	return doc, nil
}

func (f *fakeStore) ReplaceChunks(_ context.Context, documentID, tenantID uuid.UUID, chunks []repository.ChunkInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.replaced[documentID] = chunks
	if doc, ok := f.docs[documentID]; ok && doc.TenantID == tenantID {
		doc.Status = repository.StatusIndexed
		doc.ChunkCount = len(chunks)
		f.docs[documentID] = doc
	}
	return nil
}

func (f *fakeStore) MarkDocumentFailed(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
	if doc, ok := f.docs[id]; ok {
		doc.Status = repository.StatusFailed
		f.docs[id] = doc
	}
	return nil
}

func (f *fakeStore) SimilarChunks(_ context.Context, _ uuid.UUID, vector []float32, k int) ([]repository.SimilarChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.similarErr != nil {
		return nil, f.similarErr
	}
	f.lastVec = vector
	f.lastK = k
	return f.similar, nil
}

func (f *fakeStore) ListChunks(_ context.Context, params repository.ListChunksParams) ([]repository.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pool []repository.Chunk
	for _, chunk := range f.chunks {
		if params.TenantID != nil && chunk.TenantID != *params.TenantID {
			continue
		}
		pool = append(pool, chunk)
	}
	if params.Offset >= len(pool) {
		return nil, nil
	}
	end := params.Offset + params.Limit
	if end > len(pool) {
		end = len(pool)
	}
	return pool[params.Offset:end], nil
}

func (f *fakeStore) UpdateChunkEmbedding(_ context.Context, id uuid.UUID, vector []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated[id] = vector
	return nil
}

type fakeStorage struct {
	mu        sync.Mutex
	putKeys   []string
	putData   map[string][]byte
	putTypes  map[string]string
	putErr    error
	removed   []string
	removeErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{putData: make(map[string][]byte), putTypes: make(map[string]string)}
}

func (f *fakeStorage) PutObject(_ context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.putKeys = append(f.putKeys, key)
	f.putData[key] = data
	f.putTypes[key] = contentType
	return nil
}

func (f *fakeStorage) RemoveObject(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, key)
	return nil
}

type fakeEnqueuer struct {
	mu       sync.Mutex
	enqueued []uuid.UUID
	err      error
}

func (f *fakeEnqueuer) EnqueueDocumentIndex(_ context.Context, documentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, documentID)
	return nil
}

type fakeAnswerer struct {
	question string
	contexts []string
	answer   string
	err      error
}

func (f *fakeAnswerer) Answer(_ context.Context, question string, contexts []string) (string, error) {
	f.question = question
	f.contexts = contexts
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

type fakeBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *fakeBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *fakeBus) PublishSync(_ context.Context, event events.Event) error {
	b.Publish(context.Background(), event)
	return nil
}

func (b *fakeBus) Subscribe(string, events.Handler) {}

func (b *fakeBus) published() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.Event, len(b.events))
	copy(out, b.events)
	return out
}

type serviceEnv struct {
	store    *fakeStore
	upstream *fakeUpstream
	storage  *fakeStorage
	tasks    *fakeEnqueuer
	answerer *fakeAnswerer
	bus      *fakeBus
	svc      *Service
}

func newServiceEnv() *serviceEnv {
	env := &serviceEnv{
		store:    newFakeStore(),
		upstream: &fakeUpstream{},
		storage:  newFakeStorage(),
		tasks:    &fakeEnqueuer{},
		answerer: &fakeAnswerer{answer: "the onboarding fee is 99 euro"},
		bus:      &fakeBus{},
	}
	env.svc = New(env.store, env.upstream, env.answerer, env.storage, env.tasks, env.bus, logger.New("development"))
	return env
}

func uploadRequest() transport.UploadDocumentRequest {
	return transport.UploadDocumentRequest{
		Title:   "Pricing FAQ",
		Content: "Our standard plan costs 49 euro per month and includes onboarding support.",
	}
}

func TestUploadDocumentArchivesContentAndEnqueuesIndexing(t *testing.T) {
	env := newServiceEnv()
	tenantID := uuid.New()
	req := uploadRequest()

	doc, err := env.svc.UploadDocument(context.Background(), tenantID, req)
	if err != nil {
		t.Fatalf("expected upload to succeed, got %v", err)
	}

	if doc.Status != repository.StatusPending {
		t.Fatalf("expected pending status, got %q", doc.Status)
	}
	if len(env.store.created) != 1 {
		t.Fatalf("expected 1 document created, got %d", len(env.store.created))
	}
	params := env.store.created[0]
	sum := sha256.Sum256([]byte(req.Content))
	if params.ContentHash != hex.EncodeToString(sum[:]) {
		t.Fatalf("expected content hash of trimmed content, got %q", params.ContentHash)
	}
	wantKey := fmt.Sprintf("tenants/%s/documents/%s", tenantID, params.ContentHash)
	if params.ObjectKey == nil || *params.ObjectKey != wantKey {
		t.Fatalf("expected object key %q, got %v", wantKey, params.ObjectKey)
	}
	if len(env.storage.putKeys) != 1 || env.storage.putKeys[0] != wantKey {
		t.Fatalf("expected content archived under %q, got %v", wantKey, env.storage.putKeys)
	}
	if string(env.storage.putData[wantKey]) != req.Content {
		t.Fatal("expected archived bytes to match the uploaded content")
	}
	if len(env.tasks.enqueued) != 1 || env.tasks.enqueued[0] != doc.ID {
		t.Fatalf("expected indexing enqueued for %s, got %v", doc.ID, env.tasks.enqueued)
	}
}

func TestUploadDocumentWithoutStorageSkipsArchive(t *testing.T) {
	env := newServiceEnv()
	env.svc = New(env.store, env.upstream, env.answerer, nil, env.tasks, env.bus, logger.New("development"))

	if _, err := env.svc.UploadDocument(context.Background(), uuid.New(), uploadRequest()); err != nil {
		t.Fatalf("expected upload without storage to succeed, got %v", err)
	}
	if env.store.created[0].ObjectKey != nil {
		t.Fatalf("expected nil object key, got %q", *env.store.created[0].ObjectKey)
	}
	if len(env.tasks.enqueued) != 1 {
		t.Fatalf("expected indexing enqueued, got %d", len(env.tasks.enqueued))
	}
}

func TestUploadDocumentSanitizesTitle(t *testing.T) {
	env := newServiceEnv()
	req := uploadRequest()
	req.Title = "  <b>Pricing</b>   FAQ  "

	if _, err := env.svc.UploadDocument(context.Background(), uuid.New(), req); err != nil {
		t.Fatalf("expected upload to succeed, got %v", err)
	}
	if got := env.store.created[0].Title; got != "Pricing FAQ" {
		t.Fatalf("expected sanitized title, got %q", got)
	}
}

func TestUploadDocumentDefaultsSource(t *testing.T) {
	env := newServiceEnv()

	if _, err := env.svc.UploadDocument(context.Background(), uuid.New(), uploadRequest()); err != nil {
		t.Fatalf("expected upload to succeed, got %v", err)
	}
	if got := env.store.created[0].Source; got != "upload" {
		t.Fatalf("expected default source, got %q", got)
	}
}

func TestUploadDocumentSurvivesEnqueueFailure(t *testing.T) {
	env := newServiceEnv()
	env.tasks.err = errors.New("redis down")

	doc, err := env.svc.UploadDocument(context.Background(), uuid.New(), uploadRequest())
	if err != nil {
		t.Fatalf("expected upload to succeed despite enqueue failure, got %v", err)
	}
	if doc.Status != repository.StatusPending {
		t.Fatalf("expected document parked in pending, got %q", doc.Status)
	}
}

func TestUploadDocumentAbortsWhenArchiveFails(t *testing.T) {
	env := newServiceEnv()
	env.storage.putErr = errors.New("bucket unreachable")

	if _, err := env.svc.UploadDocument(context.Background(), uuid.New(), uploadRequest()); err == nil {
		t.Fatal("expected archive failure to surface")
	}
	if len(env.store.created) != 0 {
		t.Fatalf("expected no document row, got %d", len(env.store.created))
	}
}

func seedDocument(env *serviceEnv, content string) repository.Document {
	doc := repository.Document{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Title:    "Pricing FAQ",
		Source:   "upload",
		Content:  content,
		Status:   repository.StatusPending,
	}
	env.store.docs[doc.ID] = doc
	return doc
}

func TestIndexDocumentStoresSequentialChunks(t *testing.T) {
	env := newServiceEnv()
	paragraphs := make([]string, 6)
	for i := range paragraphs {
		paragraphs[i] = strings.TrimSpace(strings.Repeat(fmt.Sprintf("plan%d detail ", i), 40))
	}
	doc := seedDocument(env, strings.Join(paragraphs, "\n\n"))

	if err := env.svc.IndexDocument(context.Background(), doc.ID); err != nil {
		t.Fatalf("expected indexing to succeed, got %v", err)
	}

	chunks := env.store.replaced[doc.ID]
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Seq != i {
			t.Fatalf("expected chunk %d to have seq %d, got %d", i, i, chunk.Seq)
		}
		if len(chunk.Embedding) == 0 {
			t.Fatalf("expected chunk %d to carry an embedding", i)
		}
	}

	published := env.bus.published()
	if len(published) != 1 {
		t.Fatalf("expected 1 event, got %d", len(published))
	}
	indexed, ok := published[0].(events.DocumentIndexed)
	if !ok {
		t.Fatalf("expected DocumentIndexed, got %T", published[0])
	}
	if indexed.DocumentID != doc.ID || indexed.ChunkCount != len(chunks) {
		t.Fatalf("expected event for %s with %d chunks, got %+v", doc.ID, len(chunks), indexed)
	}
}

func TestIndexDocumentMissingRowIsNoop(t *testing.T) {
	env := newServiceEnv()

	if err := env.svc.IndexDocument(context.Background(), uuid.New()); err != nil {
		t.Fatalf("expected vanished document to be a no-op, got %v", err)
	}
	if len(env.store.failed) != 0 {
		t.Fatalf("expected no failure mark, got %v", env.store.failed)
	}
}

func TestIndexDocumentEmptyContentMarksFailed(t *testing.T) {
	env := newServiceEnv()
	doc := seedDocument(env, "   \n\n  ")

	err := env.svc.IndexDocument(context.Background(), doc.ID)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(env.store.failed) != 1 || env.store.failed[0] != doc.ID {
		t.Fatalf("expected document marked failed, got %v", env.store.failed)
	}
}

func TestIndexDocumentEmbedFailureMarksFailed(t *testing.T) {
	env := newServiceEnv()
	env.upstream.setErr(errors.New("embedding api unavailable"))
	doc := seedDocument(env, uploadRequest().Content)

	if err := env.svc.IndexDocument(context.Background(), doc.ID); err == nil {
		t.Fatal("expected embed failure to surface")
	}
	if len(env.store.failed) != 1 || env.store.failed[0] != doc.ID {
		t.Fatalf("expected document marked failed, got %v", env.store.failed)
	}
	if len(env.store.replaced[doc.ID]) != 0 {
		t.Fatal("expected no chunks stored after embed failure")
	}
	if len(env.bus.published()) != 0 {
		t.Fatal("expected no event after embed failure")
	}
}

func similarChunk(title, content string, distance float64) repository.SimilarChunk {
	return repository.SimilarChunk{
		ChunkID:       uuid.New(),
		DocumentID:    uuid.New(),
		DocumentTitle: title,
		Seq:           0,
		Content:       content,
		Distance:      distance,
	}
}

func TestSearchReturnsNearestChunks(t *testing.T) {
	env := newServiceEnv()
	env.store.similar = []repository.SimilarChunk{
		similarChunk("Pricing FAQ", "the standard plan costs 49 euro", 0.12),
		similarChunk("Onboarding", "onboarding takes two weeks", 0.31),
	}

	resp, err := env.svc.Search(context.Background(), uuid.New(), transport.SearchRequest{Query: "what does the plan cost"})
	if err != nil {
		t.Fatalf("expected search to succeed, got %v", err)
	}

	if env.store.lastK != 5 {
		t.Fatalf("expected default top-k of 5, got %d", env.store.lastK)
	}
	if len(env.store.lastVec) == 0 {
		t.Fatal("expected query embedded before retrieval")
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(resp.Items))
	}
	if resp.Items[0].DocumentTitle != "Pricing FAQ" || resp.Items[0].Distance != 0.12 {
		t.Fatalf("expected nearest hit first, got %+v", resp.Items[0])
	}
}

func TestSearchCapsTopK(t *testing.T) {
	env := newServiceEnv()

	if _, err := env.svc.Search(context.Background(), uuid.New(), transport.SearchRequest{Query: "pricing", TopK: 50}); err != nil {
		t.Fatalf("expected search to succeed, got %v", err)
	}
	if env.store.lastK != 20 {
		t.Fatalf("expected top-k capped at 20, got %d", env.store.lastK)
	}
}

func TestSearchRejectsBlankQuery(t *testing.T) {
	env := newServiceEnv()

	_, err := env.svc.Search(context.Background(), uuid.New(), transport.SearchRequest{Query: "   "})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAskAnswersFromRetrievedContexts(t *testing.T) {
	env := newServiceEnv()
	env.store.similar = []repository.SimilarChunk{
		similarChunk("Pricing FAQ", "the standard plan costs 49 euro", 0.12),
		similarChunk("Pricing FAQ", "the onboarding fee is 99 euro", 0.2),
	}

	resp, err := env.svc.Ask(context.Background(), uuid.New(), transport.AskRequest{Question: "what is the onboarding fee?"})
	if err != nil {
		t.Fatalf("expected ask to succeed, got %v", err)
	}

	if env.answerer.question != "what is the onboarding fee?" {
		t.Fatalf("expected question forwarded, got %q", env.answerer.question)
	}
	if len(env.answerer.contexts) != 2 || env.answerer.contexts[0] != "the standard plan costs 49 euro" {
		t.Fatalf("expected retrieved contexts forwarded, got %v", env.answerer.contexts)
	}
	if resp.Answer != "the onboarding fee is 99 euro" {
		t.Fatalf("expected answer from answerer, got %q", resp.Answer)
	}
	if len(resp.Sources) != 2 {
		t.Fatalf("expected sources attached, got %d", len(resp.Sources))
	}
}

func TestAskWithoutMatchesIsNotFound(t *testing.T) {
	env := newServiceEnv()

	_, err := env.svc.Ask(context.Background(), uuid.New(), transport.AskRequest{Question: "do you sell spaceships?"})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAskWithoutAnswererIsUnavailable(t *testing.T) {
	env := newServiceEnv()
	env.svc = New(env.store, env.upstream, nil, env.storage, env.tasks, env.bus, logger.New("development"))

	_, err := env.svc.Ask(context.Background(), uuid.New(), transport.AskRequest{Question: "what is the fee?"})
	if !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestDeleteDocumentRemovesArchivedObject(t *testing.T) {
	env := newServiceEnv()
	tenantID := uuid.New()
	key := "tenants/" + tenantID.String() + "/documents/abc"
	doc := repository.Document{ID: uuid.New(), TenantID: tenantID, ObjectKey: &key}
	env.store.docs[doc.ID] = doc

	if err := env.svc.DeleteDocument(context.Background(), tenantID, doc.ID); err != nil {
		t.Fatalf("expected delete to succeed, got %v", err)
	}
	if len(env.storage.removed) != 1 || env.storage.removed[0] != key {
		t.Fatalf("expected archived object removed, got %v", env.storage.removed)
	}
}

func TestDeleteDocumentToleratesObjectRemovalFailure(t *testing.T) {
	env := newServiceEnv()
	env.storage.removeErr = errors.New("bucket unreachable")
	tenantID := uuid.New()
	key := "tenants/" + tenantID.String() + "/documents/abc"
	doc := repository.Document{ID: uuid.New(), TenantID: tenantID, ObjectKey: &key}
	env.store.docs[doc.ID] = doc

	if err := env.svc.DeleteDocument(context.Background(), tenantID, doc.ID); err != nil {
		t.Fatalf("expected delete to succeed despite object failure, got %v", err)
	}
	if _, ok := env.store.docs[doc.ID]; ok {
		t.Fatal("expected document row removed")
	}
}

func TestReindexChunksPagesThroughEverything(t *testing.T) {
	env := newServiceEnv()
	tenantID := uuid.New()
	for i := 0; i < 5; i++ {
		env.store.chunks = append(env.store.chunks, repository.Chunk{
			ID:       uuid.New(),
			TenantID: tenantID,
			Seq:      i,
			Content:  fmt.Sprintf("chunk %d content", i),
		})
	}

	total, err := env.svc.ReindexChunks(context.Background(), nil, 2)
	if err != nil {
		t.Fatalf("expected reindex to succeed, got %v", err)
	}
	if total != 5 {
		t.Fatalf("expected 5 chunks re-embedded, got %d", total)
	}
	if len(env.store.updated) != 5 {
		t.Fatalf("expected 5 embeddings updated, got %d", len(env.store.updated))
	}
}

func TestReindexChunksFiltersByTenant(t *testing.T) {
	env := newServiceEnv()
	mine := uuid.New()
	other := uuid.New()
	env.store.chunks = []repository.Chunk{
		{ID: uuid.New(), TenantID: mine, Content: "mine"},
		{ID: uuid.New(), TenantID: other, Content: "not mine"},
	}

	total, err := env.svc.ReindexChunks(context.Background(), &mine, 10)
	if err != nil {
		t.Fatalf("expected reindex to succeed, got %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 chunk re-embedded, got %d", total)
	}
}

func TestReindexChunksStopsAtFirstFailure(t *testing.T) {
	env := newServiceEnv()
	env.store.updateErr = errors.New("connection reset")
	env.store.chunks = []repository.Chunk{
		{ID: uuid.New(), Content: "first"},
		{ID: uuid.New(), Content: "second"},
	}

	total, err := env.svc.ReindexChunks(context.Background(), nil, 10)
	if err == nil {
		t.Fatal("expected update failure to surface")
	}
	if total != 0 {
		t.Fatalf("expected no chunks counted, got %d", total)
	}
}
