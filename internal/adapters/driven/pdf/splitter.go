// Package pdf provides a page splitter for uploaded PDFs using pdfcpu.
package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/logger"
)

// Ensure Splitter implements the interface.
var _ driven.PageSplitter = (*Splitter)(nil)

// MIMEType is the media type of every page Split returns.
const MIMEType = "application/pdf"

// Splitter splits a PDF into single-page PDFs.
type Splitter struct {
	conf *model.Configuration
}

// NewSplitter creates a splitter that validates input in relaxed mode, so
// slightly malformed scanner output is still accepted.
func NewSplitter() *Splitter {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Splitter{conf: conf}
}

// Split returns one single-page PDF per page, in page order.
func (s *Splitter) Split(ctx context.Context, data []byte) ([]domain.PageImage, error) {
	tmpDir, err := os.MkdirTemp("", "docintel-split-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			logger.Warn("Failed to remove %s: %v", tmpDir, err)
		}
	}()

	source := filepath.Join(tmpDir, "source.pdf")
	if err := os.WriteFile(source, data, 0o600); err != nil {
		return nil, fmt.Errorf("write source: %w", err)
	}

	count, err := api.PageCountFile(source)
	if err != nil {
		return nil, fmt.Errorf("%w: read pdf: %w", domain.ErrInvalidInput, err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: pdf has no pages", domain.ErrInvalidInput)
	}

	outDir := filepath.Join(tmpDir, "pages")
	if err := os.Mkdir(outDir, 0o700); err != nil {
		return nil, fmt.Errorf("create page dir: %w", err)
	}
	if err := api.SplitFile(source, outDir, 1, s.conf); err != nil {
		return nil, fmt.Errorf("split pdf: %w", err)
	}

	pages := make([]domain.PageImage, 0, count)
	for i := 1; i <= count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := os.ReadFile(filepath.Join(outDir, fmt.Sprintf("source_%d.pdf", i)))
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", i, err)
		}
		pages = append(pages, domain.PageImage{Index: i - 1, MIMEType: MIMEType, Data: b})
	}

	logger.Debug("Split PDF into %d pages", count)
	return pages, nil
}
