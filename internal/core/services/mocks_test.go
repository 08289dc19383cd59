package services

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docintel/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/postprocessors/chunker"
)

// --- Mock implementations ---

// mockOCR implements driven.TextExtractionBackend for testing.
type mockOCR struct {
	mu sync.Mutex

	// texts maps page index to the text recognised on it.
	texts map[int]string

	// failures maps page index to the number of calls that fail.
	failures map[int]int

	// block, when set, holds every call until it is closed.
	block chan struct{}

	// started receives the page index of each call.
	started chan int

	calls map[int]int
}

func newMockOCR(texts map[int]string) *mockOCR {
	return &mockOCR{
		texts:    texts,
		failures: make(map[int]int),
		calls:    make(map[int]int),
	}
}

func (m *mockOCR) Extract(_ context.Context, page domain.PageImage) (*domain.RecognizedText, error) {
	m.mu.Lock()
	m.calls[page.Index]++
	fail := m.failures[page.Index] > 0
	if fail {
		m.failures[page.Index]--
	}
	block, started := m.block, m.started
	m.mu.Unlock()

	if started != nil {
		started <- page.Index
	}
	if block != nil {
		<-block
	}
	if fail {
		return nil, &domain.OCRError{Code: "unreadable", Message: "page could not be read", Page: page.Index}
	}
	text := recognize(m.texts[page.Index])
	return &text, nil
}

func (m *mockOCR) Name() string { return "mock-ocr" }

func (m *mockOCR) Close() error { return nil }

func (m *mockOCR) callCount(page int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[page]
}

func (m *mockOCR) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

// recognize builds recognised text with one token per word.
func recognize(text string) domain.RecognizedText {
	rt := domain.RecognizedText{Text: text, Backend: "mock-ocr"}
	offset := 0
	for i, w := range strings.Fields(text) {
		at := strings.Index(text[offset:], w) + offset
		rt.Tokens = append(rt.Tokens, domain.Token{
			Text:       w,
			Offset:     at,
			Box:        domain.BoundingBox{X: 10 * i, Y: 5, Width: len(w), Height: 10},
			Confidence: 0.9,
		})
		offset = at + len(w)
	}
	return rt
}

// mockEmbedder implements driven.EmbeddingService with bag-of-words vectors.
type mockEmbedder struct {
	mu    sync.Mutex
	model string
	dims  int
	err   error
	calls int
}

func newMockEmbedder(model string) *mockEmbedder {
	return &mockEmbedder{model: model, dims: 64}
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	vec := make([]float32, m.dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,?!")))
		vec[h.Sum32()%uint32(m.dims)]++
	}
	return vec, nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int { return m.dims }

func (m *mockEmbedder) ModelName() string { return m.model }

func (m *mockEmbedder) Ping(_ context.Context) error { return nil }

func (m *mockEmbedder) Close() error { return nil }

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockLLM implements driven.LLMService for testing.
type mockLLM struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   int
	prompts []string
}

func (m *mockLLM) Generate(_ context.Context, prompt string, _ driven.GenerateOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.prompts = append(m.prompts, prompt)
	return m.reply, m.err
}

func (m *mockLLM) Chat(ctx context.Context, messages []driven.ChatMessage, _ driven.ChatOptions) (string, error) {
	var last string
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	return m.Generate(ctx, last, driven.GenerateOptions{})
}

func (m *mockLLM) ModelName() string { return "mock-llm" }

func (m *mockLLM) Ping(_ context.Context) error { return nil }

func (m *mockLLM) Close() error { return nil }

// mockExtraction implements driven.ExtractionBackend for testing.
type mockExtraction struct {
	mu       sync.Mutex
	name     string
	failures int
	calls    int
	requests []driven.ExtractionRequest
	build    func(req driven.ExtractionRequest) *domain.StructuredRecord
}

func (m *mockExtraction) Extract(_ context.Context, req driven.ExtractionRequest) (*domain.StructuredRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.requests = append(m.requests, req)
	if m.failures > 0 {
		m.failures--
		return nil, &domain.ExtractionError{Backend: m.Name(), Message: "model returned malformed JSON"}
	}
	if m.build != nil {
		return m.build(req), nil
	}
	return sampleRecord(), nil
}

func (m *mockExtraction) Name() string {
	if m.name == "" {
		return "mock-extraction"
	}
	return m.name
}

func (m *mockExtraction) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// sampleRecord is an unvalidated medical report record.
func sampleRecord() *domain.StructuredRecord {
	return &domain.StructuredRecord{
		Fields: map[string]domain.FieldValue{
			"patient_first_name": {Value: "Jane", Provenance: domain.Provenance{Page: 0}},
			"patient_last_name":  {Value: "Doe", Provenance: domain.Provenance{Page: 0}},
			"patient_dob":        {Value: "1980-02-03", Provenance: domain.Provenance{Page: 0}},
		},
		Rows: []domain.Row{
			{Values: map[string]domain.FieldValue{
				"test":   {Value: "Glucose"},
				"result": {Value: "5.4"},
				"unit":   {Value: "mmol/L"},
			}},
		},
	}
}

// --- Fixtures ---

// testPipelineSettings makes every call single-shot and immediate.
func testPipelineSettings() domain.PipelineSettings {
	s := domain.DefaultPipelineSettings()
	s.Chunk.WindowSize = 8
	s.Chunk.Overlap = 2
	s.Retry.Attempts = 1
	s.Retry.Backoff = 0
	s.Retry.CallTimeout = 0
	return s
}

type fixture struct {
	docs       *memory.DocumentStore
	chunks     *memory.ChunkStore
	records    *memory.RecordStore
	index      *memory.VectorIndex
	cache      *memory.EmbeddingCache
	ocr        *mockOCR
	embedder   *mockEmbedder
	extraction *mockExtraction
	indexer    *ChunkIndexer
	extractor  *StructuredExtractor
	settings   domain.PipelineSettings

	mu          sync.Mutex
	transitions []domain.PipelineState
}

func newFixture(t *testing.T, texts map[int]string) *fixture {
	t.Helper()
	f := &fixture{
		docs:       memory.NewDocumentStore(),
		chunks:     memory.NewChunkStore(),
		records:    memory.NewRecordStore(),
		index:      memory.NewVectorIndex(domain.MetricCosine, 0),
		cache:      memory.NewEmbeddingCache(64),
		ocr:        newMockOCR(texts),
		embedder:   newMockEmbedder("mock-embed-v1"),
		extraction: &mockExtraction{},
		settings:   testPipelineSettings(),
	}
	f.docs.Cascade(f.chunks, f.records)

	proc, err := chunker.New(
		chunker.WithWindowSize(f.settings.Chunk.WindowSize),
		chunker.WithOverlap(f.settings.Chunk.Overlap),
	)
	require.NoError(t, err)
	f.indexer = NewChunkIndexer(proc, f.chunks, f.index, f.embedder, f.cache, f.settings.Retry)

	f.extractor, err = NewStructuredExtractor(f.extraction, f.records, domain.MedicalReportSchema(), f.settings.Retry)
	require.NoError(t, err)
	return f
}

func (f *fixture) orchestrator() *PipelineOrchestrator {
	return NewPipelineOrchestrator(f.docs, f.ocr, f.indexer, f.extractor, f.settings,
		WithTransitionHook(func(_ string, s domain.Status) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.transitions = append(f.transitions, s.Derive())
		}))
}

func (f *fixture) seen(state domain.PipelineState) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.transitions {
		if s == state {
			return true
		}
	}
	return false
}

func (f *fixture) resetTransitions() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = nil
}

// addDocument stores an uploaded document with the given number of pages.
func (f *fixture) addDocument(t *testing.T, id string, pages int) *domain.Document {
	t.Helper()
	now := time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC)
	doc := &domain.Document{ID: id, Title: id, Status: domain.NewStatus(now), CreatedAt: now, UpdatedAt: now}
	for i := 0; i < pages; i++ {
		doc.Pages = append(doc.Pages, domain.Page{Index: i, MIMEType: "image/png", Data: []byte{0x89, byte(i)}})
	}
	require.NoError(t, f.docs.CreateDocument(context.Background(), doc))
	return doc
}

// addRecognized stores a document whose pages already carry text and
// whose OCR stage is done.
func (f *fixture) addRecognized(t *testing.T, id string, texts ...string) *domain.Document {
	t.Helper()
	ctx := context.Background()
	f.addDocument(t, id, len(texts))
	for i, text := range texts {
		require.NoError(t, f.docs.SavePageText(ctx, id, i, recognize(text)))
	}
	status := domain.NewStatus(time.Now())
	require.NoError(t, status.Begin(domain.StageOCR, time.Now()))
	require.NoError(t, status.Complete(domain.StageOCR, time.Now()))
	require.NoError(t, f.docs.SaveStatus(ctx, id, status))

	doc, err := f.docs.GetDocument(ctx, id)
	require.NoError(t, err)
	return doc
}

var errBoom = errors.New("boom")
