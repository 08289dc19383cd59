// Package mcp provides an MCP (Model Context Protocol) server adapter for docintel.
// It lets AI assistants ingest documents, drive the pipeline, search recognised
// text and ask grounded questions.
package mcp

import "errors"

var (
	// ErrMissingDocumentService is returned when the document service is not provided.
	ErrMissingDocumentService = errors.New("mcp: document service is required")

	// ErrMissingPipelineService is returned when the pipeline service is not provided.
	ErrMissingPipelineService = errors.New("mcp: pipeline service is required")
)
