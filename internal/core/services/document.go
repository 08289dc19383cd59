package services

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
	"github.com/custodia-labs/docintel/internal/logger"
)

// Ensure DocumentService implements the interface.
var _ driving.DocumentService = (*DocumentService)(nil)

// MIME types accepted by ingest.
const (
	MIMEPDF  = "application/pdf"
	MIMEPNG  = "image/png"
	MIMEJPEG = "image/jpeg"
	MIMETIFF = "image/tiff"
)

// DocumentService ingests and manages documents.
type DocumentService struct {
	docs     driven.DocumentStore
	index    driven.VectorIndex
	splitter driven.PageSplitter
	now      func() time.Time
}

// NewDocumentService creates a document service.
// splitter may be nil, in which case PDFs are stored as a single page.
func NewDocumentService(docs driven.DocumentStore, index driven.VectorIndex, splitter driven.PageSplitter) *DocumentService {
	return &DocumentService{
		docs:     docs,
		index:    index,
		splitter: splitter,
		now:      time.Now,
	}
}

// Ingest creates a document in the Uploaded state from PDFs or page images.
func (s *DocumentService) Ingest(ctx context.Context, req driving.IngestRequest) (*domain.Document, error) {
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("%w: at least one file is required", domain.ErrInvalidInput)
	}

	var pages []domain.Page
	for _, f := range req.Files {
		mimeType := DetectMIMEType(f.Name, f.MIMEType, f.Data)
		switch mimeType {
		case MIMEPDF:
			images, err := s.splitPDF(ctx, f)
			if err != nil {
				return nil, err
			}
			for _, img := range images {
				pages = append(pages, domain.Page{Index: len(pages), MIMEType: img.MIMEType, Data: img.Data})
			}
		case MIMEPNG, MIMEJPEG, MIMETIFF:
			pages = append(pages, domain.Page{Index: len(pages), MIMEType: mimeType, Data: f.Data})
		default:
			return nil, fmt.Errorf("%w: %s (%s)", domain.ErrUnsupportedType, f.Name, mimeType)
		}
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: no pages found", domain.ErrInvalidInput)
	}

	title := req.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(req.Files[0].Name), filepath.Ext(req.Files[0].Name))
	}

	now := s.now()
	doc := &domain.Document{
		ID:        uuid.NewString(),
		Title:     title,
		Pages:     pages,
		Status:    domain.NewStatus(now),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.docs.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	logger.Info("Ingested %q as %s (%d pages)", title, doc.ID, len(pages))
	return doc, nil
}

func (s *DocumentService) splitPDF(ctx context.Context, f driving.IngestFile) ([]domain.PageImage, error) {
	if s.splitter == nil {
		return []domain.PageImage{{MIMEType: MIMEPDF, Data: f.Data}}, nil
	}
	images, err := s.splitter.Split(ctx, f.Data)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", f.Name, err)
	}
	return images, nil
}

// Get retrieves a document by ID.
func (s *DocumentService) Get(ctx context.Context, documentID string) (*domain.Document, error) {
	return s.docs.GetDocument(ctx, documentID)
}

// List returns all documents.
func (s *DocumentService) List(ctx context.Context) ([]domain.Document, error) {
	return s.docs.ListDocuments(ctx)
}

// Text returns the recognised text of a document in page order.
func (s *DocumentService) Text(ctx context.Context, documentID string) (string, error) {
	doc, err := s.docs.GetDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	domain.SortPages(doc.Pages)
	text, spans := domain.JoinPages(doc.Pages)
	if len(spans) == 0 {
		return "", fmt.Errorf("%w: %s has no recognised text", domain.ErrNotReady, documentID)
	}
	return text, nil
}

// Delete removes a document with its chunks, index partition and record.
func (s *DocumentService) Delete(ctx context.Context, documentID string) error {
	if s.index != nil {
		if err := s.index.DeleteDocument(ctx, documentID); err != nil {
			return fmt.Errorf("delete index partition: %w", err)
		}
	}
	if err := s.docs.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// DetectMIMEType resolves the type of an uploaded file from the declared
// type, then the file extension, then the content.
func DetectMIMEType(name, declared string, data []byte) string {
	if declared != "" {
		return strings.ToLower(strings.TrimSpace(strings.Split(declared, ";")[0]))
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return MIMEPDF
	case ".png":
		return MIMEPNG
	case ".jpg", ".jpeg":
		return MIMEJPEG
	case ".tif", ".tiff":
		return MIMETIFF
	}
	if len(data) == 0 {
		return ""
	}
	return strings.Split(http.DetectContentType(data), ";")[0]
}
