package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

var labPages = map[int]string{
	0: "Patient Jane Doe born 1980-02-03. Referred by Dr Smith for routine panel.",
	1: "Glucose 5.4 mmol/L reference 3.9 to 5.6. History of diabetes in family.",
	2: "Cholesterol 6.1 mmol/L above target. Repeat fasting sample in three months.",
}

func TestPipeline_Start_ReachesReady(t *testing.T) {
	f := newFixture(t, labPages)
	f.addDocument(t, "doc-1", 3)
	o := f.orchestrator()
	ctx := context.Background()

	require.NoError(t, o.Start(ctx, "doc-1"))

	st, err := o.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, st.State)
	assert.Equal(t, "ready", st.Label)
	assert.Equal(t, 3, st.PagesDone)
	assert.Equal(t, 3, st.PagesTotal)
	assert.False(t, st.Running)
	assert.Empty(t, st.Errors)

	for _, state := range []domain.PipelineState{
		domain.StateOCRInProgress, domain.StateOCRComplete, domain.StateIndexingInProgress, domain.StateReady,
	} {
		assert.True(t, f.seen(state), "expected transition through %s", state)
	}

	doc, err := f.docs.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "mock-embed-v1", doc.Status.IndexModel)
	assert.NotEmpty(t, doc.Status.RecordRunID)

	n, err := f.index.Count(ctx, "doc-1")
	require.NoError(t, err)
	assert.Positive(t, n)

	rec, err := f.records.GetRecord(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc.Status.RecordRunID, rec.RunID)
}

func TestPipeline_Start_RequiresUploaded(t *testing.T) {
	f := newFixture(t, labPages)
	f.addDocument(t, "doc-1", 1)
	o := f.orchestrator()
	require.NoError(t, o.Start(context.Background(), "doc-1"))

	err := o.Start(context.Background(), "doc-1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestPipeline_Start_UnknownDocument(t *testing.T) {
	f := newFixture(t, labPages)
	err := f.orchestrator().Start(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPipeline_OCRFailure_RetryResumesOnlyFailedPage(t *testing.T) {
	f := newFixture(t, labPages)
	f.ocr.failures[1] = 1
	f.addDocument(t, "doc-1", 3)
	o := f.orchestrator()
	ctx := context.Background()

	err := o.Start(ctx, "doc-1")
	require.Error(t, err)

	st, err := o.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, st.State)
	assert.Equal(t, "failed(ocr)", st.Label)
	assert.Equal(t, 2, st.PagesDone)
	require.NotEmpty(t, st.Errors)
	assert.Equal(t, domain.StageOCR, st.Errors[0].Stage)
	assert.Contains(t, st.Errors[0].Message, "page 1")
	assert.Equal(t, domain.StagePending, st.Stages[domain.StageIndexing].State)
	assert.Zero(t, f.extraction.callCount())

	f.resetTransitions()
	require.NoError(t, o.Retry(ctx, "doc-1"))

	assert.Equal(t, 1, f.ocr.callCount(0))
	assert.Equal(t, 2, f.ocr.callCount(1))
	assert.Equal(t, 1, f.ocr.callCount(2))
	assert.True(t, f.seen(domain.StateOCRComplete))

	st, err = o.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, st.State)
	assert.Equal(t, 2, st.Stages[domain.StageOCR].Attempts)
}

func TestPipeline_OCRFailureWithinBudget(t *testing.T) {
	texts := map[int]string{0: "alpha one", 1: "beta two", 2: "gamma three", 3: "delta four"}
	f := newFixture(t, texts)
	f.settings.OCR.FailureBudget = 0.25
	f.ocr.failures[2] = 1
	f.addDocument(t, "doc-1", 4)
	o := f.orchestrator()
	ctx := context.Background()

	require.NoError(t, o.Start(ctx, "doc-1"))

	st, err := o.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, st.State)
	assert.Equal(t, 3, st.PagesDone)
	require.Len(t, st.Errors, 1)
	assert.Equal(t, domain.StageOCR, st.Errors[0].Stage)
}

func TestPipeline_ConcurrentStartRejected(t *testing.T) {
	f := newFixture(t, labPages)
	f.ocr.block = make(chan struct{})
	f.ocr.started = make(chan int, 3)
	f.addDocument(t, "doc-1", 3)
	o := f.orchestrator()
	ctx := context.Background()

	done, err := o.StartAsync(ctx, "doc-1")
	require.NoError(t, err)
	<-f.ocr.started

	assert.ErrorIs(t, o.Start(ctx, "doc-1"), domain.ErrRunInProgress)
	assert.ErrorIs(t, o.Retry(ctx, "doc-1"), domain.ErrRunInProgress)

	st, err := o.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, domain.StateOCRInProgress, st.State)

	close(f.ocr.block)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not finish")
	}

	st, err = o.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, st.State)
	assert.False(t, st.Running)
}

func TestPipeline_CancelStopsNewPagesAndRetryResumes(t *testing.T) {
	f := newFixture(t, labPages)
	f.settings.OCR.Concurrency = 1
	f.ocr.block = make(chan struct{})
	f.ocr.started = make(chan int, 3)
	f.addDocument(t, "doc-1", 3)
	o := f.orchestrator()
	ctx := context.Background()

	done, err := o.StartAsync(ctx, "doc-1")
	require.NoError(t, err)
	<-f.ocr.started

	require.NoError(t, o.Cancel("doc-1"))
	close(f.ocr.block)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop")
	}
	assert.Equal(t, 1, f.ocr.totalCalls())

	st, err := o.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "failed(ocr)", st.Label)
	assert.Equal(t, 1, st.PagesDone)
	last := st.Errors[len(st.Errors)-1]
	assert.Contains(t, last.Message, "cancelled")

	f.ocr.block = nil
	f.ocr.started = nil
	require.NoError(t, o.Retry(ctx, "doc-1"))
	assert.Equal(t, 3, f.ocr.totalCalls())

	st, err = o.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, st.State)
}

func TestPipeline_CancelWithoutRun(t *testing.T) {
	f := newFixture(t, labPages)
	assert.ErrorIs(t, f.orchestrator().Cancel("doc-1"), domain.ErrNotFound)
}

func TestPipeline_ExtractionFailure_KeepsIndexAndRetriesOnlyExtraction(t *testing.T) {
	f := newFixture(t, labPages)
	f.extraction.failures = 1
	f.addDocument(t, "doc-1", 3)
	o := f.orchestrator()
	ctx := context.Background()

	err := o.Start(ctx, "doc-1")
	require.Error(t, err)

	st, err := o.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "failed(extraction)", st.Label)
	assert.Equal(t, domain.StageDone, st.Stages[domain.StageIndexing].State)

	// Keyword search needs only OCR output.
	search := NewKeywordSearchService(f.docs, f.settings.Keyword)
	matches, err := search.Search(ctx, "doc-1", "glucose", domain.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	embedCalls := f.embedder.callCount()
	require.NoError(t, o.Retry(ctx, "doc-1"))

	assert.Equal(t, embedCalls, f.embedder.callCount())
	assert.Equal(t, 3, f.ocr.totalCalls())
	assert.Equal(t, 2, f.extraction.callCount())

	st, err = o.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, st.State)
}

func TestPipeline_MissingEmbedderFailsIndexing(t *testing.T) {
	f := newFixture(t, labPages)
	f.indexer = nil
	f.addDocument(t, "doc-1", 1)
	o := f.orchestrator()
	ctx := context.Background()

	err := o.Start(ctx, "doc-1")
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)

	st, err := o.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "failed(indexing)", st.Label)
	assert.Equal(t, domain.StageDone, st.Stages[domain.StageExtraction].State)
}

func TestPipeline_RerunExtractionReplacesRecord(t *testing.T) {
	f := newFixture(t, labPages)
	f.addDocument(t, "doc-1", 3)
	o := f.orchestrator()
	ctx := context.Background()
	require.NoError(t, o.Start(ctx, "doc-1"))

	first, err := f.records.GetRecord(ctx, "doc-1")
	require.NoError(t, err)

	require.NoError(t, o.Rerun(ctx, "doc-1", domain.StageExtraction))

	second, err := f.records.GetRecord(ctx, "doc-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)
	for _, fv := range second.Fields {
		assert.Equal(t, second.RunID, fv.Provenance.RunID)
	}

	doc, err := f.docs.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, second.RunID, doc.Status.RecordRunID)
	assert.Equal(t, domain.StateReady, doc.Status.Derive())
}

func TestPipeline_RerunRejectsOCR(t *testing.T) {
	f := newFixture(t, labPages)
	f.addDocument(t, "doc-1", 1)
	o := f.orchestrator()
	ctx := context.Background()
	require.NoError(t, o.Start(ctx, "doc-1"))

	assert.ErrorIs(t, o.Rerun(ctx, "doc-1", domain.StageOCR), domain.ErrInvalidTransition)
}

func TestPipeline_RetryRecoversInterruptedRun(t *testing.T) {
	f := newFixture(t, labPages)
	f.addDocument(t, "doc-1", 2)
	ctx := context.Background()

	// A process died mid-OCR after page 0 was saved.
	require.NoError(t, f.docs.SavePageText(ctx, "doc-1", 0, recognize(labPages[0])))
	status := domain.NewStatus(time.Now())
	require.NoError(t, status.Begin(domain.StageOCR, time.Now()))
	require.NoError(t, f.docs.SaveStatus(ctx, "doc-1", status))

	o := f.orchestrator()
	require.NoError(t, o.Retry(ctx, "doc-1"))

	assert.Zero(t, f.ocr.callCount(0))
	assert.Equal(t, 1, f.ocr.callCount(1))

	doc, err := f.docs.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, doc.Status.Derive())
	entry, ok := doc.LastError(domain.StageOCR)
	require.True(t, ok)
	assert.True(t, strings.Contains(entry.Message, "interrupted"))
}

func TestPipeline_SecondOrchestratorRespectsLiveRun(t *testing.T) {
	f := newFixture(t, labPages)
	f.ocr.block = make(chan struct{})
	f.ocr.started = make(chan int, 1)
	f.addDocument(t, "doc-1", 1)
	ctx := context.Background()
	first := f.orchestrator()
	second := f.orchestrator()

	done, err := first.StartAsync(ctx, "doc-1")
	require.NoError(t, err)
	<-f.ocr.started

	assert.ErrorIs(t, second.Retry(ctx, "doc-1"), domain.ErrRunInProgress)
	assert.ErrorIs(t, second.Start(ctx, "doc-1"), domain.ErrRunInProgress)
	assert.ErrorIs(t, second.Rerun(ctx, "doc-1", domain.StageExtraction), domain.ErrRunInProgress)

	st, err := second.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, domain.StateOCRInProgress, st.State)
	assert.Empty(t, st.Errors)

	close(f.ocr.block)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not finish")
	}

	assert.Equal(t, 1, f.ocr.totalCalls())
	doc, err := f.docs.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, doc.Status.Derive())
	for _, entry := range doc.Errors {
		assert.NotContains(t, entry.Message, "interrupted")
	}

	st, err = second.Status(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, st.Running)
}

// interruptedOCR stores a two-page document whose OCR stage was left
// running after page 0, with the run lease held by owner until expires.
func interruptedOCR(t *testing.T, f *fixture, owner string, expires time.Time) {
	t.Helper()
	ctx := context.Background()
	f.addDocument(t, "doc-1", 2)
	require.NoError(t, f.docs.SavePageText(ctx, "doc-1", 0, recognize(labPages[0])))
	status := domain.NewStatus(time.Now())
	require.NoError(t, status.Begin(domain.StageOCR, time.Now()))
	require.NoError(t, f.docs.SaveStatus(ctx, "doc-1", status))
	require.NoError(t, f.docs.AcquireLease(ctx, "doc-1", owner, expires.Add(-time.Hour), expires))
}

func TestPipeline_LiveLeaseBlocksInterruptedRecovery(t *testing.T) {
	f := newFixture(t, labPages)
	interruptedOCR(t, f, "other-process", time.Now().Add(time.Hour))
	ctx := context.Background()

	o := f.orchestrator()
	assert.ErrorIs(t, o.Retry(ctx, "doc-1"), domain.ErrRunInProgress)

	assert.Zero(t, f.ocr.totalCalls())
	doc, err := f.docs.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageRunning, doc.Status.Stage(domain.StageOCR).State)
	assert.Empty(t, doc.Errors)
}

func TestPipeline_ExpiredLeaseIsTakenOver(t *testing.T) {
	f := newFixture(t, labPages)
	interruptedOCR(t, f, "crashed-process", time.Now().Add(-time.Minute))
	ctx := context.Background()

	o := f.orchestrator()
	require.NoError(t, o.Retry(ctx, "doc-1"))

	assert.Equal(t, 1, f.ocr.totalCalls())
	doc, err := f.docs.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, doc.Status.Derive())
	entry, ok := doc.LastError(domain.StageOCR)
	require.True(t, ok)
	assert.Contains(t, entry.Message, "interrupted")

	active, err := f.docs.LeaseActive(ctx, "doc-1", time.Now())
	require.NoError(t, err)
	assert.False(t, active)
}

func TestPipeline_HeartbeatKeepsLeaseAlive(t *testing.T) {
	f := newFixture(t, labPages)
	f.ocr.block = make(chan struct{})
	f.ocr.started = make(chan int, 1)
	f.addDocument(t, "doc-1", 1)
	ctx := context.Background()
	o := NewPipelineOrchestrator(f.docs, f.ocr, f.indexer, f.extractor, f.settings,
		WithLeaseTTL(60*time.Millisecond), WithOwner("runner-a"))

	done, err := o.StartAsync(ctx, "doc-1")
	require.NoError(t, err)
	<-f.ocr.started

	// Several TTLs pass; renewals keep another owner out.
	time.Sleep(200 * time.Millisecond)
	err = f.docs.AcquireLease(ctx, "doc-1", "runner-b", time.Now(), time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, domain.ErrRunInProgress)

	close(f.ocr.block)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not finish")
	}
	require.NoError(t, f.docs.AcquireLease(ctx, "doc-1", "runner-b", time.Now(), time.Now().Add(time.Minute)))
}

func TestPipeline_LostLeaseCancelsRun(t *testing.T) {
	f := newFixture(t, labPages)
	f.ocr.block = make(chan struct{})
	f.ocr.started = make(chan int, 3)
	f.settings.OCR.Concurrency = 1
	f.addDocument(t, "doc-1", 3)
	ctx := context.Background()
	o := NewPipelineOrchestrator(f.docs, f.ocr, f.indexer, f.extractor, f.settings,
		WithLeaseTTL(30*time.Millisecond), WithOwner("runner-a"))

	done, err := o.StartAsync(ctx, "doc-1")
	require.NoError(t, err)
	<-f.ocr.started

	// Another process takes the lease over; the next renewal notices.
	require.NoError(t, f.docs.ReleaseLease(ctx, "doc-1", "runner-a"))
	require.NoError(t, f.docs.AcquireLease(ctx, "doc-1", "runner-b", time.Now(), time.Now().Add(time.Hour)))
	time.Sleep(100 * time.Millisecond)
	close(f.ocr.block)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not finish")
	}
	assert.Equal(t, 1, f.ocr.totalCalls())

	// The new holder keeps its lease.
	active, err := f.docs.LeaseActive(ctx, "doc-1", time.Now())
	require.NoError(t, err)
	assert.True(t, active)
}

func TestPipeline_RetryNothingToDo(t *testing.T) {
	f := newFixture(t, labPages)
	f.addDocument(t, "doc-1", 1)
	o := f.orchestrator()
	ctx := context.Background()

	assert.ErrorIs(t, o.Retry(ctx, "doc-1"), domain.ErrInvalidTransition)

	require.NoError(t, o.Start(ctx, "doc-1"))
	assert.ErrorIs(t, o.Retry(ctx, "doc-1"), domain.ErrInvalidTransition)
}

func TestPipeline_PageTextImmutableAcrossRetry(t *testing.T) {
	f := newFixture(t, labPages)
	f.ocr.failures[2] = 1
	f.addDocument(t, "doc-1", 3)
	o := f.orchestrator()
	ctx := context.Background()

	require.Error(t, o.Start(ctx, "doc-1"))
	before, err := f.docs.GetDocument(ctx, "doc-1")
	require.NoError(t, err)

	f.ocr.texts = map[int]string{0: "changed", 1: "changed", 2: labPages[2]}
	require.NoError(t, o.Retry(ctx, "doc-1"))

	after, err := f.docs.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, before.Pages[0].Text.Text, after.Pages[0].Text.Text)
	assert.Equal(t, before.Pages[1].Text.Text, after.Pages[1].Text.Text)
	assert.Equal(t, labPages[2], after.Pages[2].Text.Text)
}
