package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Ensure RecordStore implements the interface.
var _ driven.RecordStore = (*RecordStore)(nil)

// RecordStore is an in-memory implementation of driven.RecordStore.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]domain.StructuredRecord
}

// NewRecordStore creates a new in-memory record store.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[string]domain.StructuredRecord),
	}
}

// ReplaceRecord stores rec, discarding any prior record of the document.
func (s *RecordStore) ReplaceRecord(_ context.Context, rec *domain.StructuredRecord) error {
	if rec == nil || rec.DocumentID == "" {
		return fmt.Errorf("%w: record requires a document id", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.DocumentID] = copyRecord(*rec)
	return nil
}

// GetRecord retrieves the current record of a document.
func (s *RecordStore) GetRecord(_ context.Context, documentID string) (*domain.StructuredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[documentID]
	if !ok {
		return nil, fmt.Errorf("record of %s: %w", documentID, domain.ErrNotFound)
	}
	out := copyRecord(rec)
	return &out, nil
}

func (s *RecordStore) deleteDocument(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, documentID)
}

func copyRecord(rec domain.StructuredRecord) domain.StructuredRecord {
	out := rec
	out.Fields = make(map[string]domain.FieldValue, len(rec.Fields))
	for k, v := range rec.Fields {
		out.Fields[k] = v
	}
	out.Rows = copyRows(rec.Rows)
	out.People = copyRows(rec.People)
	return out
}

func copyRows(rows []domain.Row) []domain.Row {
	if rows == nil {
		return nil
	}
	out := make([]domain.Row, len(rows))
	for i, row := range rows {
		values := make(map[string]domain.FieldValue, len(row.Values))
		for k, v := range row.Values {
			values[k] = v
		}
		out[i] = domain.Row{Values: values}
	}
	return out
}
