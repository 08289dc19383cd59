package cli

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
)

var errMock = errors.New("mock failure")

var testTime = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func testDocument() *domain.Document {
	text := &domain.RecognizedText{Text: "Glucose 7.9 mmol/L"}
	status := domain.NewStatus(testTime)
	return &domain.Document{
		ID:        "doc-1",
		Title:     "Test Document 1",
		Pages:     []domain.Page{{Index: 0, Text: text}, {Index: 1}},
		Status:    status,
		CreatedAt: testTime,
		UpdatedAt: testTime,
	}
}

// mockDocumentService is a mock implementation of driving.DocumentService.
type mockDocumentService struct {
	err      error
	ingested *driving.IngestRequest
	deleted  string
}

func (m *mockDocumentService) Ingest(_ context.Context, req driving.IngestRequest) (*domain.Document, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.ingested = &req
	doc := testDocument()
	if req.Title != "" {
		doc.Title = req.Title
	}
	return doc, nil
}

func (m *mockDocumentService) Get(_ context.Context, _ string) (*domain.Document, error) {
	if m.err != nil {
		return nil, m.err
	}
	doc := testDocument()
	doc.Errors = []domain.StageError{{Stage: domain.StageOCR, Message: "page 1: blurry", Timestamp: testTime}}
	return doc, nil
}

func (m *mockDocumentService) List(_ context.Context) ([]domain.Document, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []domain.Document{*testDocument()}, nil
}

func (m *mockDocumentService) Text(_ context.Context, _ string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return "Glucose 7.9 mmol/L", nil
}

func (m *mockDocumentService) Delete(_ context.Context, id string) error {
	m.deleted = id
	return m.err
}

// mockPipelineService is a mock implementation of driving.PipelineService.
type mockPipelineService struct {
	mu        sync.Mutex
	runErr    error
	calls     []string
	cancelled []string
	status    *driving.PipelineStatus
	block     chan struct{}
}

func (m *mockPipelineService) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *mockPipelineService) wait(ctx context.Context) error {
	m.mu.Lock()
	block := m.block
	m.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	return m.runErr
}

func (m *mockPipelineService) Start(ctx context.Context, id string) error {
	m.record("start " + id)
	return m.wait(ctx)
}

func (m *mockPipelineService) StartAsync(_ context.Context, id string) (<-chan error, error) {
	m.record("async " + id)
	done := make(chan error, 1)
	done <- m.runErr
	close(done)
	return done, nil
}

func (m *mockPipelineService) Retry(ctx context.Context, id string) error {
	m.record("retry " + id)
	return m.wait(ctx)
}

func (m *mockPipelineService) Rerun(ctx context.Context, id string, stage domain.Stage) error {
	m.record("rerun " + id + " " + string(stage))
	return m.wait(ctx)
}

func (m *mockPipelineService) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, id)
	if m.block != nil {
		close(m.block)
		m.block = nil
	}
	return nil
}

func (m *mockPipelineService) Status(_ context.Context, id string) (*driving.PipelineStatus, error) {
	if m.status != nil {
		return m.status, nil
	}
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
	}, nil
}

func (m *mockPipelineService) history() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// mockSearchService is a mock implementation of driving.KeywordSearchService.
type mockSearchService struct {
	err  error
	opts domain.SearchOptions
}

func (m *mockSearchService) Search(_ context.Context, _, _ string, opts domain.SearchOptions) ([]domain.Match, error) {
	m.opts = opts
	if m.err != nil {
		return nil, m.err
	}
	return []domain.Match{{
		PageIndex: 0,
		Span:      domain.TokenSpan{Start: 0, End: 7, FirstToken: 0, LastToken: 0},
		Snippet:   "Glucose 7.9 mmol/L",
		Distance:  1,
	}}, nil
}

// mockAskService is a mock implementation of driving.AskService.
type mockAskService struct {
	err    error
	across []string
}

func (m *mockAskService) Ask(_ context.Context, _, _ string, _ driving.AskOptions) (*driving.AskResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &driving.AskResult{
		Answer: &domain.Answer{
			Text:      "Glucose was 7.9 mmol/L.",
			Citations: []domain.Citation{{ChunkID: "chunk-1", Pages: domain.PageRange{First: 0, Last: 1}, Start: 0, End: 23}},
		},
		Sources: []domain.ScoredChunk{{
			Chunk: domain.Chunk{ID: "chunk-1", Pages: domain.PageRange{First: 0, Last: 1}, Content: "Glucose 7.9 mmol/L"},
			Score: 0.91,
		}},
	}, nil
}

func (m *mockAskService) AskAcross(_ context.Context, ids []string, _ string, _ driving.AskOptions) (*driving.AskResult, error) {
	m.across = ids
	if m.err != nil {
		return nil, m.err
	}
	return &driving.AskResult{Answer: domain.InsufficientContext()}, nil
}

// mockRecordService is a mock implementation of driving.RecordService.
type mockRecordService struct {
	err error
}

func (m *mockRecordService) Get(_ context.Context, id string) (*domain.StructuredRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &domain.StructuredRecord{
		DocumentID: id,
		RunID:      "run-1",
		Backend:    "agent",
		Schema:     "medical_report",
		Fields: map[string]domain.FieldValue{
			"patient_last_name": {Value: "Doe", Confidence: domain.ConfidenceHigh, Valid: true},
			"test_date":         {Value: "03/01/2024", Valid: false, Issue: "not a date"},
		},
		Rows: []domain.Row{{Values: map[string]domain.FieldValue{
			"test":   {Value: "Glucose", Valid: true},
			"result": {Value: 7.9, Valid: true},
		}}},
		People: []domain.Row{{Values: map[string]domain.FieldValue{
			"patient_first_name": {Value: "John", Valid: true},
			"patient_last_name":  {Value: "Doe", Valid: true},
		}}},
		CreatedAt: testTime,
	}, nil
}

func (m *mockRecordService) Export(_ context.Context, _ string, w io.Writer) error {
	if m.err != nil {
		return m.err
	}
	_, err := w.Write([]byte("xlsx"))
	return err
}

// mockSettingsService is a mock implementation of driving.SettingsService.
type mockSettingsService struct {
	settings    domain.AppSettings
	saved       *domain.AppSettings
	validateErr error
	pingErr     error
	provider    domain.AIProvider
	model       string
	apiKey      string
}

func newMockSettingsService() *mockSettingsService {
	return &mockSettingsService{settings: domain.DefaultAppSettings()}
}

func (m *mockSettingsService) Get() (*domain.AppSettings, error) {
	s := m.settings
	return &s, nil
}

func (m *mockSettingsService) Save(settings *domain.AppSettings) error {
	m.saved = settings
	m.settings = *settings
	return nil
}

func (m *mockSettingsService) Validate(_ *domain.AppSettings) error {
	return m.validateErr
}

func (m *mockSettingsService) SetEmbeddingProvider(provider domain.AIProvider, model, apiKey string) error {
	m.provider, m.model, m.apiKey = provider, model, apiKey
	return nil
}

func (m *mockSettingsService) SetLLMProvider(provider domain.AIProvider, model, apiKey string) error {
	m.provider, m.model, m.apiKey = provider, model, apiKey
	return nil
}

func (m *mockSettingsService) ValidateProviders() error {
	return m.pingErr
}

// testServices holds the mocks installed by setupTestServices.
type testServices struct {
	document *mockDocumentService
	pipeline *mockPipelineService
	search   *mockSearchService
	ask      *mockAskService
	record   *mockRecordService
	settings *mockSettingsService
}

// setupTestServices installs mock services and returns a cleanup function
// restoring the previous ones.
func setupTestServices() func() {
	cleanup, _ := setupTestServicesWith()
	return cleanup
}

func setupTestServicesWith() (func(), *testServices) {
	previous := Services{
		Document: documentService,
		Pipeline: pipelineService,
		Search:   searchService,
		Ask:      askService,
		Record:   recordService,
		Settings: settingsService,
	}

	mocks := &testServices{
		document: &mockDocumentService{},
		pipeline: &mockPipelineService{},
		search:   &mockSearchService{},
		ask:      &mockAskService{},
		record:   &mockRecordService{},
		settings: newMockSettingsService(),
	}
	SetServices(Services{
		Document: mocks.document,
		Pipeline: mocks.pipeline,
		Search:   mocks.search,
		Ask:      mocks.ask,
		Record:   mocks.record,
		Settings: mocks.settings,
	})

	return func() { SetServices(previous) }, mocks
}
