package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/logger"
)

// StructuredExtractor runs an extraction backend, validates its output and
// replaces the document's record.
type StructuredExtractor struct {
	backend   driven.ExtractionBackend
	records   driven.RecordStore
	schema    domain.Schema
	validator *recordValidator
	caller    *caller
	now       func() time.Time
}

// NewStructuredExtractor creates an extractor for schema.
// The backend may be nil; Extract then fails with domain.ErrLLMUnavailable.
func NewStructuredExtractor(
	backend driven.ExtractionBackend,
	records driven.RecordStore,
	schema domain.Schema,
	retry domain.RetrySettings,
) (*StructuredExtractor, error) {
	validator, err := newRecordValidator(schema)
	if err != nil {
		return nil, fmt.Errorf("build validator: %w", err)
	}
	return &StructuredExtractor{
		backend:   backend,
		records:   records,
		schema:    schema,
		validator: validator,
		caller:    newCaller(retry),
		now:       time.Now,
	}, nil
}

// Schema returns the target schema.
func (e *StructuredExtractor) Schema() domain.Schema {
	return e.schema
}

// Extract produces a new record for doc under a fresh run id. On success
// the record replaces any prior record of the document.
func (e *StructuredExtractor) Extract(ctx context.Context, doc *domain.Document, stop <-chan struct{}) (*domain.StructuredRecord, error) {
	if e.backend == nil {
		return nil, domain.ErrLLMUnavailable
	}

	runID := uuid.New().String()
	req := driven.ExtractionRequest{
		DocumentID: doc.ID,
		Text:       MarkedText(doc),
		Schema:     e.schema,
	}
	logger.Debug("Extracting %s with %s (run %s)", doc.ID, e.backend.Name(), runID)

	var rec *domain.StructuredRecord
	err := e.caller.do(ctx, stop, "extract", func(callCtx context.Context) error {
		var err error
		rec, err = e.backend.Extract(callCtx, req)
		return asExtractionError(e.backend.Name(), err)
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &domain.ExtractionError{Backend: e.backend.Name(), Message: "backend returned no record"}
	}

	rec.DocumentID = doc.ID
	rec.RunID = runID
	rec.Backend = e.backend.Name()
	rec.Schema = e.schema.Name
	rec.CreatedAt = e.now()
	e.validator.apply(rec)
	stamp(rec, runID, rec.Backend)

	if err := e.records.ReplaceRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("replace record: %w", err)
	}

	logger.Info("Extracted %d fields and %d rows from %s", len(rec.Fields), len(rec.Rows), doc.ID)
	return rec, nil
}

// stamp sets run provenance on every value, so no value can carry the
// provenance of an earlier run.
func stamp(rec *domain.StructuredRecord, runID, backend string) {
	for name, fv := range rec.Fields {
		fv.Provenance = provenance(fv.Provenance, runID, backend)
		rec.Fields[name] = fv
	}
	for _, rows := range [][]domain.Row{rec.Rows, rec.People} {
		for _, row := range rows {
			for name, fv := range row.Values {
				fv.Provenance = provenance(fv.Provenance, runID, backend)
				row.Values[name] = fv
			}
		}
	}
}

func provenance(p domain.Provenance, runID, backend string) domain.Provenance {
	p.RunID = runID
	p.Backend = backend
	return p
}

// MarkedText returns the document text with a "## Page N" heading before
// each page, in page order. Page numbers are 1-based.
func MarkedText(doc *domain.Document) string {
	pages := make([]domain.Page, len(doc.Pages))
	copy(pages, doc.Pages)
	domain.SortPages(pages)

	var b strings.Builder
	for _, p := range pages {
		if !p.HasText() {
			continue
		}
		fmt.Fprintf(&b, "\n\n## Page %d\n\n%s", p.Index+1, p.Text.Text)
	}
	return strings.TrimLeft(b.String(), "\n")
}

func asExtractionError(backend string, err error) error {
	if err == nil {
		return nil
	}
	var ee *domain.ExtractionError
	if errors.As(err, &ee) || errors.Is(err, domain.ErrTimeout) || domain.IsRetryable(err) {
		return err
	}
	return &domain.ExtractionError{Backend: backend, Message: "backend failed", Err: err}
}
