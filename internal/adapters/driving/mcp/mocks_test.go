package mcp

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
)

// mockDocumentService is a mock implementation of driving.DocumentService.
type mockDocumentService struct {
	documents []domain.Document
	document  *domain.Document
	text      string
	err       error

	ingested *driving.IngestRequest
}

func (m *mockDocumentService) Ingest(_ context.Context, req driving.IngestRequest) (*domain.Document, error) {
	m.ingested = &req
	return m.document, m.err
}

func (m *mockDocumentService) Get(_ context.Context, _ string) (*domain.Document, error) {
	return m.document, m.err
}

func (m *mockDocumentService) List(_ context.Context) ([]domain.Document, error) {
	return m.documents, m.err
}

func (m *mockDocumentService) Text(_ context.Context, _ string) (string, error) {
	return m.text, m.err
}

func (m *mockDocumentService) Delete(_ context.Context, _ string) error {
	return m.err
}

// mockPipelineService is a mock implementation of driving.PipelineService.
type mockPipelineService struct {
	mu        sync.Mutex
	status    *driving.PipelineStatus
	startErr  error
	runErr    error
	statusErr error
	started   []string
	retried   []string
	cancelled []string
	rerun     []domain.Stage
}

func (m *mockPipelineService) Start(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, id)
	if m.startErr != nil {
		return m.startErr
	}
	return m.runErr
}

func (m *mockPipelineService) StartAsync(_ context.Context, id string) (<-chan error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return nil, m.startErr
	}
	m.started = append(m.started, id)
	done := make(chan error, 1)
	done <- m.runErr
	close(done)
	return done, nil
}

func (m *mockPipelineService) Retry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retried = append(m.retried, id)
	return m.runErr
}

func (m *mockPipelineService) Rerun(_ context.Context, _ string, stage domain.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rerun = append(m.rerun, stage)
	return m.runErr
}

func (m *mockPipelineService) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, id)
	return m.startErr
}

func (m *mockPipelineService) Status(_ context.Context, _ string) (*driving.PipelineStatus, error) {
	return m.status, m.statusErr
}

func (m *mockPipelineService) retries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.retried...)
}

// mockSearchService is a mock implementation of driving.KeywordSearchService.
type mockSearchService struct {
	matches []domain.Match
	err     error
	opts    domain.SearchOptions
}

func (m *mockSearchService) Search(_ context.Context, _, _ string, opts domain.SearchOptions) ([]domain.Match, error) {
	m.opts = opts
	return m.matches, m.err
}

// mockAskService is a mock implementation of driving.AskService.
type mockAskService struct {
	result *driving.AskResult
	err    error
	across bool
}

func (m *mockAskService) Ask(_ context.Context, _, _ string, _ driving.AskOptions) (*driving.AskResult, error) {
	return m.result, m.err
}

func (m *mockAskService) AskAcross(_ context.Context, _ []string, _ string, _ driving.AskOptions) (*driving.AskResult, error) {
	m.across = true
	return m.result, m.err
}

// mockRecordService is a mock implementation of driving.RecordService.
type mockRecordService struct {
	record *domain.StructuredRecord
	err    error
}

func (m *mockRecordService) Get(_ context.Context, _ string) (*domain.StructuredRecord, error) {
	return m.record, m.err
}

func (m *mockRecordService) Export(_ context.Context, _ string, _ io.Writer) error {
	return m.err
}

func readyStatus(id string) *driving.PipelineStatus {
	return &driving.PipelineStatus{
		DocumentID: id,
		State:      domain.StateReady,
		Label:      "ready",
		Stages: map[domain.Stage]domain.StageStatus{
			domain.StageOCR:        {State: domain.StageDone},
			domain.StageIndexing:   {State: domain.StageDone},
			domain.StageExtraction: {State: domain.StageDone},
		},
		PagesDone:  2,
		PagesTotal: 2,
	}
}

func newTestServer(t *testing.T, ports *Ports) *Server {
	t.Helper()
	if ports.Document == nil {
		ports.Document = &mockDocumentService{}
	}
	if ports.Pipeline == nil {
		ports.Pipeline = &mockPipelineService{status: readyStatus("doc-1")}
	}
	server, err := NewServer(ports)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return server
}
