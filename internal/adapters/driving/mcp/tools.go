package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
	"github.com/custodia-labs/docintel/internal/logger"
)

// IngestInput is the input schema for the ingest_document tool.
type IngestInput struct {
	Paths []string `json:"paths" jsonschema:"PDF or image files readable by the server, in page order"`
	Title string   `json:"title,omitempty" jsonschema:"document title (default: first file name)"`
	Start bool     `json:"start,omitempty" jsonschema:"start the pipeline in the background after ingest"`
}

// IngestOutput is the output schema for the ingest_document tool.
type IngestOutput struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Pages      int    `json:"pages"`
	Started    bool   `json:"started"`
}

// DocumentInput identifies a document.
type DocumentInput struct {
	DocumentID string `json:"document_id" jsonschema:"the document id"`
	Wait       bool   `json:"wait,omitempty" jsonschema:"block until the run ends (start and retry only)"`
}

// StatusOutput is the pipeline status of a document.
type StatusOutput struct {
	DocumentID string            `json:"document_id"`
	State      string            `json:"state"`
	Stages     map[string]string `json:"stages"`
	Running    bool              `json:"running"`
	PagesDone  int               `json:"pages_done"`
	PagesTotal int               `json:"pages_total"`
	Errors     []string          `json:"errors,omitempty"`
	RunError   string            `json:"run_error,omitempty"`
}

// SearchInput is the input schema for the keyword_search tool.
type SearchInput struct {
	DocumentID  string `json:"document_id" jsonschema:"the document to search"`
	Keyword     string `json:"keyword" jsonschema:"word or phrase to find"`
	Fuzzy       bool   `json:"fuzzy,omitempty" jsonschema:"tolerate OCR misspellings"`
	MaxDistance *int   `json:"max_distance,omitempty" jsonschema:"fuzzy edit distance threshold (default from configuration, 0 = exact words)"`
}

// SearchOutput is the output schema for the keyword_search tool.
type SearchOutput struct {
	Matches []MatchOutput `json:"matches"`
	Count   int           `json:"count"`
}

// MatchOutput is a single keyword hit. Page is 1-based.
type MatchOutput struct {
	Page     int                  `json:"page"`
	Start    int                  `json:"start"`
	End      int                  `json:"end"`
	Snippet  string               `json:"snippet"`
	Distance int                  `json:"distance"`
	Boxes    []domain.BoundingBox `json:"boxes,omitempty"`
}

// AskInput is the input schema for the ask_document tool.
type AskInput struct {
	DocumentIDs []string `json:"document_ids" jsonschema:"documents to ground the answer on"`
	Question    string   `json:"question" jsonschema:"the question to answer"`
	TopK        int      `json:"top_k,omitempty" jsonschema:"number of chunks to retrieve (default from settings)"`
}

// AskOutput is the output schema for the ask_document tool.
type AskOutput struct {
	Answer       string           `json:"answer"`
	Insufficient bool             `json:"insufficient"`
	Citations    []CitationOutput `json:"citations,omitempty"`
}

// CitationOutput attributes an answer span to a chunk. Pages are 1-based.
type CitationOutput struct {
	ChunkID   string `json:"chunk_id"`
	FirstPage int    `json:"first_page"`
	LastPage  int    `json:"last_page"`
	Quote     string `json:"quote"`
}

// RecordOutput is the output schema for the get_record tool.
type RecordOutput struct {
	DocumentID string                         `json:"document_id"`
	RunID      string                         `json:"run_id"`
	Backend    string                         `json:"backend"`
	Fields     map[string]domain.FieldValue   `json:"fields"`
	Rows       []map[string]domain.FieldValue `json:"rows"`
	People     []map[string]domain.FieldValue `json:"people,omitempty" jsonschema:"further patients named in the document, keyed like fields"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ingest_document",
		Description: "Upload PDF or image files as a new document",
	}, s.handleIngest)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "start_pipeline",
		Description: "Run OCR, indexing and extraction for an uploaded document",
	}, s.handleStart)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "retry_pipeline",
		Description: "Resume the failed stages of a document",
	}, s.handleRetry)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "cancel_pipeline",
		Description: "Stop an active pipeline run",
	}, s.handleCancel)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "pipeline_status",
		Description: "Report the pipeline state of a document",
	}, s.handleStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "keyword_search",
		Description: "Find a keyword in the recognised text of a document",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ask_document",
		Description: "Answer a question from document content with citations",
	}, s.handleAsk)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_record",
		Description: "Return the structured fields extracted from a document",
	}, s.handleRecord)
}

// handleIngest reads files from disk and creates a document.
func (s *Server) handleIngest(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input IngestInput,
) (*mcp.CallToolResult, IngestOutput, error) {
	if len(input.Paths) == 0 {
		return nil, IngestOutput{}, errors.New("paths is required")
	}

	files := make([]driving.IngestFile, 0, len(input.Paths))
	for _, p := range input.Paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, IngestOutput{}, fmt.Errorf("reading %s: %w", p, err)
		}
		files = append(files, driving.IngestFile{Name: filepath.Base(p), Data: data})
	}

	doc, err := s.ports.Document.Ingest(ctx, driving.IngestRequest{Title: input.Title, Files: files})
	if err != nil {
		return nil, IngestOutput{}, err
	}

	output := IngestOutput{DocumentID: doc.ID, Title: doc.Title, Pages: len(doc.Pages)}
	if input.Start {
		done, err := s.ports.Pipeline.StartAsync(ctx, doc.ID)
		if err != nil {
			return nil, IngestOutput{}, fmt.Errorf("starting pipeline: %w", err)
		}
		go logRunResult(doc.ID, done)
		output.Started = true
	}
	return nil, output, nil
}

// handleStart starts the pipeline, optionally waiting for it to finish.
func (s *Server) handleStart(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input DocumentInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	var runErr error
	if input.Wait {
		runErr = s.ports.Pipeline.Start(ctx, input.DocumentID)
		if isRejection(runErr) {
			return nil, StatusOutput{}, runErr
		}
	} else {
		done, err := s.ports.Pipeline.StartAsync(ctx, input.DocumentID)
		if err != nil {
			return nil, StatusOutput{}, err
		}
		go logRunResult(input.DocumentID, done)
	}
	return s.statusOutput(ctx, input.DocumentID, runErr)
}

// handleRetry resumes failed stages. Without wait the retry runs in the
// background and outlives the request.
func (s *Server) handleRetry(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input DocumentInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	if input.Wait {
		runErr := s.ports.Pipeline.Retry(ctx, input.DocumentID)
		if isRejection(runErr) {
			return nil, StatusOutput{}, runErr
		}
		return s.statusOutput(ctx, input.DocumentID, runErr)
	}

	status, err := s.ports.Pipeline.Status(ctx, input.DocumentID)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	if status.Running {
		return nil, StatusOutput{}, domain.ErrRunInProgress
	}

	done := make(chan error, 1)
	go func() {
		done <- s.ports.Pipeline.Retry(context.WithoutCancel(ctx), input.DocumentID)
		close(done)
	}()
	go logRunResult(input.DocumentID, done)
	return nil, toStatusOutput(status, nil), nil
}

// handleCancel stops an active run.
func (s *Server) handleCancel(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input DocumentInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	if err := s.ports.Pipeline.Cancel(input.DocumentID); err != nil {
		return nil, StatusOutput{}, err
	}
	return s.statusOutput(ctx, input.DocumentID, nil)
}

// handleStatus reports pipeline progress.
func (s *Server) handleStatus(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input DocumentInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	return s.statusOutput(ctx, input.DocumentID, nil)
}

// handleSearch handles the keyword_search tool invocation.
func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	if s.ports.Search == nil {
		return nil, SearchOutput{}, errors.New("keyword search is not available")
	}

	opts := domain.SearchOptions{Fuzzy: input.Fuzzy, MaxDistance: input.MaxDistance}
	matches, err := s.ports.Search.Search(ctx, input.DocumentID, input.Keyword, opts)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	output := SearchOutput{
		Matches: make([]MatchOutput, len(matches)),
		Count:   len(matches),
	}
	for i, m := range matches {
		output.Matches[i] = MatchOutput{
			Page:     m.PageIndex + 1,
			Start:    m.Span.Start,
			End:      m.Span.End,
			Snippet:  m.Snippet,
			Distance: m.Distance,
			Boxes:    m.Boxes,
		}
	}
	return nil, output, nil
}

// handleAsk answers a question over one or more documents.
func (s *Server) handleAsk(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AskInput,
) (*mcp.CallToolResult, AskOutput, error) {
	if s.ports.Ask == nil {
		return nil, AskOutput{}, errors.New("question answering is not available")
	}
	if len(input.DocumentIDs) == 0 {
		return nil, AskOutput{}, errors.New("document_ids is required")
	}

	opts := driving.AskOptions{TopK: input.TopK}
	var (
		result *driving.AskResult
		err    error
	)
	if len(input.DocumentIDs) == 1 {
		result, err = s.ports.Ask.Ask(ctx, input.DocumentIDs[0], input.Question, opts)
	} else {
		result, err = s.ports.Ask.AskAcross(ctx, input.DocumentIDs, input.Question, opts)
	}
	if err != nil {
		return nil, AskOutput{}, err
	}

	answer := result.Answer
	output := AskOutput{Answer: answer.Text, Insufficient: answer.Insufficient}
	for _, c := range answer.Citations {
		output.Citations = append(output.Citations, CitationOutput{
			ChunkID:   c.ChunkID,
			FirstPage: c.Pages.First + 1,
			LastPage:  c.Pages.Last + 1,
			Quote:     quote(answer.Text, c.Start, c.End),
		})
	}
	return nil, output, nil
}

// handleRecord returns the extracted record of a document.
func (s *Server) handleRecord(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input DocumentInput,
) (*mcp.CallToolResult, RecordOutput, error) {
	if s.ports.Record == nil {
		return nil, RecordOutput{}, errors.New("records are not available")
	}

	rec, err := s.ports.Record.Get(ctx, input.DocumentID)
	if err != nil {
		return nil, RecordOutput{}, err
	}

	output := RecordOutput{
		DocumentID: rec.DocumentID,
		RunID:      rec.RunID,
		Backend:    rec.Backend,
		Fields:     rec.Fields,
		Rows:       make([]map[string]domain.FieldValue, len(rec.Rows)),
	}
	for i, r := range rec.Rows {
		output.Rows[i] = r.Values
	}
	for _, p := range rec.People {
		output.People = append(output.People, p.Values)
	}
	return nil, output, nil
}

func (s *Server) statusOutput(ctx context.Context, documentID string, runErr error) (*mcp.CallToolResult, StatusOutput, error) {
	status, err := s.ports.Pipeline.Status(ctx, documentID)
	if err != nil {
		return nil, StatusOutput{}, err
	}
	return nil, toStatusOutput(status, runErr), nil
}

func toStatusOutput(status *driving.PipelineStatus, runErr error) StatusOutput {
	output := StatusOutput{
		DocumentID: status.DocumentID,
		State:      status.Label,
		Stages:     make(map[string]string, len(status.Stages)),
		Running:    status.Running,
		PagesDone:  status.PagesDone,
		PagesTotal: status.PagesTotal,
	}
	for stage, st := range status.Stages {
		output.Stages[string(stage)] = string(st.State)
	}
	for _, e := range status.Errors {
		output.Errors = append(output.Errors, fmt.Sprintf("%s: %s", e.Stage, e.Message))
	}
	if runErr != nil {
		output.RunError = runErr.Error()
	}
	return output
}

// isRejection reports whether err means the run never started, as opposed
// to a run that ended in a failed stage.
func isRejection(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrRunInProgress) ||
		errors.Is(err, domain.ErrInvalidTransition)
}

func logRunResult(documentID string, done <-chan error) {
	if err := <-done; err != nil {
		logger.Warn("Pipeline run for %s ended with error: %v", documentID, err)
		return
	}
	logger.Info("Pipeline run for %s finished", documentID)
}

func quote(text string, start, end int) string {
	if start < 0 || end > len(text) || start >= end {
		return ""
	}
	return text[start:end]
}
