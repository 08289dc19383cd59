package mcp

import (
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
)

// Ports aggregates all driving port interfaces required by the MCP server.
// This provides a single injection point for dependency injection.
type Ports struct {
	// Document ingests and lists documents.
	Document driving.DocumentService

	// Pipeline drives documents through OCR, indexing and extraction.
	Pipeline driving.PipelineService

	// Search finds keywords in recognised text.
	Search driving.KeywordSearchService

	// Ask answers questions with citations.
	Ask driving.AskService

	// Record exposes extracted records.
	Record driving.RecordService
}

// Validate ensures all required ports are set.
// Search, Ask and Record are optional; their tools report an error when unset.
func (p *Ports) Validate() error {
	if p.Document == nil {
		return ErrMissingDocumentService
	}
	if p.Pipeline == nil {
		return ErrMissingPipelineService
	}
	return nil
}
