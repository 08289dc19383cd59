package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Ensure DocumentStore implements the interface.
var _ driven.DocumentStore = (*DocumentStore)(nil)

// DocumentStore is an in-memory implementation of driven.DocumentStore.
// Documents are copied on the way in and out so callers never share state.
type DocumentStore struct {
	mu        sync.RWMutex
	documents map[string]domain.Document
	leases    map[string]lease

	// onDelete cascades document removal to related stores.
	onDelete []func(documentID string)
}

// NewDocumentStore creates a new in-memory document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		documents: make(map[string]domain.Document),
		leases:    make(map[string]lease),
	}
}

type lease struct {
	owner   string
	expires time.Time
}

// CreateDocument stores a new document.
func (s *DocumentStore) CreateDocument(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[doc.ID]; ok {
		return fmt.Errorf("document %s: %w", doc.ID, domain.ErrAlreadyExists)
	}
	s.documents[doc.ID] = copyDocument(*doc)
	return nil
}

// GetDocument retrieves a document by ID.
func (s *DocumentStore) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	out := copyDocument(doc)
	return &out, nil
}

// ListDocuments returns all documents ordered by creation time, without page data.
func (s *DocumentStore) ListDocuments(_ context.Context) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]domain.Document, 0, len(s.documents))
	for _, doc := range s.documents {
		out := copyDocument(doc)
		for i := range out.Pages {
			out.Pages[i].Data = nil
		}
		docs = append(docs, out)
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs, nil
}

// SavePageText stores the recognised text of a page once.
func (s *DocumentStore) SavePageText(_ context.Context, documentID string, pageIndex int, text domain.RecognizedText) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[documentID]
	if !ok {
		return fmt.Errorf("document %s: %w", documentID, domain.ErrNotFound)
	}
	for i := range doc.Pages {
		if doc.Pages[i].Index != pageIndex {
			continue
		}
		if doc.Pages[i].HasText() {
			return fmt.Errorf("page %d of %s: %w", pageIndex, documentID, domain.ErrPageImmutable)
		}
		t := text
		t.Tokens = append([]domain.Token(nil), text.Tokens...)
		doc.Pages[i].Text = &t
		s.documents[documentID] = doc
		return nil
	}
	return fmt.Errorf("page %d of %s: %w", pageIndex, documentID, domain.ErrNotFound)
}

// SaveStatus replaces the pipeline status of a document.
func (s *DocumentStore) SaveStatus(_ context.Context, documentID string, status domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[documentID]
	if !ok {
		return fmt.Errorf("document %s: %w", documentID, domain.ErrNotFound)
	}
	doc.Status = copyStatus(status)
	doc.UpdatedAt = status.UpdatedAt
	s.documents[documentID] = doc
	return nil
}

// AppendError adds an entry to the error log.
func (s *DocumentStore) AppendError(_ context.Context, documentID string, entry domain.StageError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[documentID]
	if !ok {
		return fmt.Errorf("document %s: %w", documentID, domain.ErrNotFound)
	}
	doc.Errors = append(append([]domain.StageError(nil), doc.Errors...), entry)
	s.documents[documentID] = doc
	return nil
}

// DeleteDocument removes a document and cascades to linked stores.
func (s *DocumentStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.documents[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	delete(s.documents, id)
	delete(s.leases, id)
	hooks := s.onDelete
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(id)
	}
	return nil
}

// AcquireLease claims the run lease unless another owner holds a live one.
func (s *DocumentStore) AcquireLease(_ context.Context, documentID, owner string, now, expires time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[documentID]; !ok {
		return fmt.Errorf("document %s: %w", documentID, domain.ErrNotFound)
	}
	if held, ok := s.leases[documentID]; ok && held.owner != owner && held.expires.After(now) {
		return fmt.Errorf("%w: %s held by %s", domain.ErrRunInProgress, documentID, held.owner)
	}
	s.leases[documentID] = lease{owner: owner, expires: expires}
	return nil
}

// RenewLease moves the expiry of a lease owner still holds.
func (s *DocumentStore) RenewLease(_ context.Context, documentID, owner string, expires time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	held, ok := s.leases[documentID]
	if !ok || held.owner != owner {
		return fmt.Errorf("%w: %s", domain.ErrLeaseLost, documentID)
	}
	s.leases[documentID] = lease{owner: owner, expires: expires}
	return nil
}

// ReleaseLease drops the lease if owner holds it.
func (s *DocumentStore) ReleaseLease(_ context.Context, documentID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.leases[documentID]; ok && held.owner == owner {
		delete(s.leases, documentID)
	}
	return nil
}

// LeaseActive reports whether a lease on the document outlives now.
func (s *DocumentStore) LeaseActive(_ context.Context, documentID string, now time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	held, ok := s.leases[documentID]
	return ok && held.expires.After(now), nil
}

// Cascade links chunk and record stores so deleting a document removes
// its derived data, as foreign keys do in the sqlite store.
func (s *DocumentStore) Cascade(chunks *ChunkStore, records *RecordStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chunks != nil {
		s.onDelete = append(s.onDelete, chunks.deleteDocument)
	}
	if records != nil {
		s.onDelete = append(s.onDelete, records.deleteDocument)
	}
}

func copyDocument(doc domain.Document) domain.Document {
	out := doc
	out.Pages = make([]domain.Page, len(doc.Pages))
	for i, p := range doc.Pages {
		out.Pages[i] = p
		if p.Text != nil {
			t := *p.Text
			t.Tokens = append([]domain.Token(nil), p.Text.Tokens...)
			out.Pages[i].Text = &t
		}
	}
	out.Errors = append([]domain.StageError(nil), doc.Errors...)
	out.Status = copyStatus(doc.Status)
	return out
}

func copyStatus(s domain.Status) domain.Status {
	out := s
	out.Stages = make(map[domain.Stage]domain.StageStatus, len(s.Stages))
	for k, v := range s.Stages {
		out.Stages[k] = v
	}
	return out
}
