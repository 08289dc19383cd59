package services

import (
	"context"
	"fmt"
	"io"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
)

// Ensure RecordService implements the interface.
var _ driving.RecordService = (*RecordService)(nil)

// RecordService exposes extracted records.
type RecordService struct {
	records  driven.RecordStore
	exporter driven.RecordExporter
	schema   domain.Schema
}

// NewRecordService creates a record service.
func NewRecordService(records driven.RecordStore, exporter driven.RecordExporter, schema domain.Schema) *RecordService {
	return &RecordService{records: records, exporter: exporter, schema: schema}
}

// Get returns the current record of a document.
func (s *RecordService) Get(ctx context.Context, documentID string) (*domain.StructuredRecord, error) {
	return s.records.GetRecord(ctx, documentID)
}

// Export writes the record of a document as a spreadsheet.
func (s *RecordService) Export(ctx context.Context, documentID string, w io.Writer) error {
	if s.exporter == nil {
		return fmt.Errorf("%w: no record exporter configured", domain.ErrInvalidInput)
	}
	rec, err := s.records.GetRecord(ctx, documentID)
	if err != nil {
		return fmt.Errorf("get record: %w", err)
	}
	if err := s.exporter.Export(ctx, rec, s.schema, w); err != nil {
		return fmt.Errorf("export record: %w", err)
	}
	return nil
}
