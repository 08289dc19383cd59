package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
	"github.com/custodia-labs/docintel/internal/logger"
)

// Ensure PipelineOrchestrator implements the interface.
var _ driving.PipelineService = (*PipelineOrchestrator)(nil)

// DefaultLeaseTTL is how long a run lease outlives its last renewal.
const DefaultLeaseTTL = 30 * time.Second

// TransitionHook observes every persisted status change.
type TransitionHook func(documentID string, status domain.Status)

// PipelineOrchestrator drives documents through OCR, then indexing and
// extraction in parallel, and is the single writer of pipeline status.
type PipelineOrchestrator struct {
	docs      driven.DocumentStore
	ocr       driven.TextExtractionBackend
	indexer   *ChunkIndexer
	extractor *StructuredExtractor
	settings  domain.PipelineSettings
	caller    *caller
	hooks     []TransitionHook
	now       func() time.Time

	// owner identifies this orchestrator in run leases shared through docs.
	owner    string
	leaseTTL time.Duration

	// Active runs, one per document.
	mu   sync.Mutex
	runs map[string]*pipelineRun
}

// OrchestratorOption configures the orchestrator.
type OrchestratorOption func(*PipelineOrchestrator)

// WithTransitionHook registers a status observer.
func WithTransitionHook(hook TransitionHook) OrchestratorOption {
	return func(o *PipelineOrchestrator) {
		o.hooks = append(o.hooks, hook)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *PipelineOrchestrator) {
		o.now = now
	}
}

// WithLeaseTTL sets how long a run lease stays valid without renewal.
// The lease is renewed every third of ttl while the run is active.
func WithLeaseTTL(ttl time.Duration) OrchestratorOption {
	return func(o *PipelineOrchestrator) {
		if ttl > 0 {
			o.leaseTTL = ttl
		}
	}
}

// WithOwner sets the lease owner id. Defaults to a random UUID.
func WithOwner(owner string) OrchestratorOption {
	return func(o *PipelineOrchestrator) {
		if owner != "" {
			o.owner = owner
		}
	}
}

// NewPipelineOrchestrator creates an orchestrator.
// The ocr backend, indexer and extractor are required for a run to reach
// Ready; a missing one fails its stage.
func NewPipelineOrchestrator(
	docs driven.DocumentStore,
	ocr driven.TextExtractionBackend,
	indexer *ChunkIndexer,
	extractor *StructuredExtractor,
	settings domain.PipelineSettings,
	opts ...OrchestratorOption,
) *PipelineOrchestrator {
	if settings.OCR.Concurrency <= 0 {
		settings.OCR.Concurrency = 1
	}
	o := &PipelineOrchestrator{
		docs:      docs,
		ocr:       ocr,
		indexer:   indexer,
		extractor: extractor,
		settings:  settings,
		caller:    newCaller(settings.Retry),
		now:       time.Now,
		owner:     uuid.NewString(),
		leaseTTL:  DefaultLeaseTTL,
		runs:      make(map[string]*pipelineRun),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// pipelineRun is the in-flight run of one document.
type pipelineRun struct {
	stop     chan struct{}
	stopOnce sync.Once

	// beat ends the lease renewal loop.
	beat     chan struct{}
	beatDone chan struct{}

	// mu guards doc, which mirrors the persisted document.
	mu  sync.Mutex
	doc *domain.Document
}

func (r *pipelineRun) cancel() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *pipelineRun) stopped() bool {
	return stopped(r.stop)
}

// snapshot returns a copy of the document safe to hand to a stage.
func (r *pipelineRun) snapshot() *domain.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc := *r.doc
	doc.Pages = append([]domain.Page(nil), r.doc.Pages...)
	return &doc
}

// Start runs the pipeline of an uploaded document and blocks until the run ends.
func (o *PipelineOrchestrator) Start(ctx context.Context, documentID string) error {
	run, err := o.prepare(ctx, documentID, requireUploaded)
	if err != nil {
		return err
	}
	defer o.release(documentID)
	return o.execute(ctx, run)
}

// StartAsync launches the pipeline of an uploaded document in the background.
func (o *PipelineOrchestrator) StartAsync(ctx context.Context, documentID string) (<-chan error, error) {
	run, err := o.prepare(ctx, documentID, requireUploaded)
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() {
		defer close(done)
		defer o.release(documentID)
		done <- o.execute(context.WithoutCancel(ctx), run)
	}()
	return done, nil
}

// Retry re-enters the unfinished stages of a failed or interrupted document,
// reusing every completed upstream artifact.
func (o *PipelineOrchestrator) Retry(ctx context.Context, documentID string) error {
	run, err := o.prepare(ctx, documentID, requireRetryable)
	if err != nil {
		return err
	}
	defer o.release(documentID)
	return o.execute(ctx, run)
}

// Rerun re-enters a post-OCR stage of a document, for example to extract
// again with a different strategy. The new record replaces the old one.
func (o *PipelineOrchestrator) Rerun(ctx context.Context, documentID string, stage domain.Stage) error {
	run, err := o.prepare(ctx, documentID, requireOCRDone)
	if err != nil {
		return err
	}
	defer o.release(documentID)

	if err := o.transition(ctx, run, func(s *domain.Status) error {
		return s.Reopen(stage, o.now())
	}); err != nil {
		return err
	}
	return o.execute(ctx, run)
}

// Cancel stops an active run from launching new page or stage work.
// Calls already in flight finish or time out.
func (o *PipelineOrchestrator) Cancel(documentID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.runs[documentID]
	if !ok {
		return fmt.Errorf("no active run for %s: %w", documentID, domain.ErrNotFound)
	}
	logger.Info("Cancelling pipeline run for %s", documentID)
	run.cancel()
	return nil
}

// Status returns the persisted status of a document.
func (o *PipelineOrchestrator) Status(ctx context.Context, documentID string) (*driving.PipelineStatus, error) {
	doc, err := o.docs.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	done, total := doc.OCRCoverage()

	o.mu.Lock()
	_, running := o.runs[documentID]
	o.mu.Unlock()
	if !running {
		if running, err = o.docs.LeaseActive(ctx, documentID, o.now()); err != nil {
			return nil, fmt.Errorf("read run lease: %w", err)
		}
	}

	return &driving.PipelineStatus{
		DocumentID: doc.ID,
		State:      doc.Status.Derive(),
		Label:      doc.Status.Label(),
		Stages:     doc.Status.Stages,
		Running:    running,
		PagesDone:  done,
		PagesTotal: total,
		Errors:     doc.Errors,
	}, nil
}

func requireUploaded(doc *domain.Document) error {
	if state := doc.Status.Derive(); state != domain.StateUploaded {
		return fmt.Errorf("%w: start requires %s, document is %s (use retry)",
			domain.ErrInvalidTransition, domain.StateUploaded, doc.Status.Label())
	}
	return nil
}

func requireRetryable(doc *domain.Document) error {
	switch doc.Status.Derive() {
	case domain.StateFailed, domain.StateOCRComplete:
		return nil
	default:
		return fmt.Errorf("%w: nothing to retry, document is %s",
			domain.ErrInvalidTransition, doc.Status.Label())
	}
}

func requireOCRDone(doc *domain.Document) error {
	if doc.Status.Stage(domain.StageOCR).State != domain.StageDone {
		return fmt.Errorf("%w: rerun requires completed ocr", domain.ErrInvalidTransition)
	}
	return nil
}

// prepare claims the run slot and the persisted run lease, loads the
// document and checks the entry condition. Holding the lease means no
// other run is live, so stages still marked running belong to a process
// that died or let its lease expire and are failed first.
func (o *PipelineOrchestrator) prepare(
	ctx context.Context, documentID string, check func(*domain.Document) error,
) (*pipelineRun, error) {
	run, err := o.acquire(ctx, documentID)
	if err != nil {
		return nil, err
	}

	doc, err := o.docs.GetDocument(ctx, documentID)
	if err != nil {
		o.release(documentID)
		return nil, fmt.Errorf("get document: %w", err)
	}
	domain.SortPages(doc.Pages)
	run.doc = doc

	for _, stage := range domain.AllStages() {
		if doc.Status.Stage(stage).State != domain.StageRunning {
			continue
		}
		logger.Warn("Stage %s of %s was interrupted", stage, documentID)
		if err := o.recordFailure(ctx, run, stage, errors.New("interrupted before completion")); err != nil {
			o.release(documentID)
			return nil, err
		}
	}

	if err := check(doc); err != nil {
		o.release(documentID)
		return nil, err
	}
	return run, nil
}

func (o *PipelineOrchestrator) acquire(ctx context.Context, documentID string) (*pipelineRun, error) {
	o.mu.Lock()
	if _, ok := o.runs[documentID]; ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrRunInProgress, documentID)
	}
	run := &pipelineRun{stop: make(chan struct{})}
	o.runs[documentID] = run
	o.mu.Unlock()

	now := o.now()
	if err := o.docs.AcquireLease(ctx, documentID, o.owner, now, now.Add(o.leaseTTL)); err != nil {
		o.mu.Lock()
		delete(o.runs, documentID)
		o.mu.Unlock()
		return nil, fmt.Errorf("acquire run lease: %w", err)
	}

	run.beat = make(chan struct{})
	run.beatDone = make(chan struct{})
	go o.heartbeat(documentID, run)
	return run, nil
}

// heartbeat renews the run lease until the run is released. A lost lease
// cancels the run so it stops launching work.
func (o *PipelineOrchestrator) heartbeat(documentID string, run *pipelineRun) {
	defer close(run.beatDone)
	ticker := time.NewTicker(max(o.leaseTTL/3, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-run.beat:
			return
		case <-ticker.C:
			err := o.docs.RenewLease(context.Background(), documentID, o.owner, o.now().Add(o.leaseTTL))
			switch {
			case errors.Is(err, domain.ErrLeaseLost):
				logger.Warn("Run lease of %s was taken over, cancelling", documentID)
				run.cancel()
				return
			case err != nil:
				logger.Warn("Renewing run lease of %s: %v", documentID, err)
			}
		}
	}
}

// release drops the lease before it frees the run slot.
func (o *PipelineOrchestrator) release(documentID string) {
	o.mu.Lock()
	run, ok := o.runs[documentID]
	o.mu.Unlock()
	if !ok {
		return
	}

	if run.beat != nil {
		close(run.beat)
		<-run.beatDone
		if err := o.docs.ReleaseLease(context.Background(), documentID, o.owner); err != nil {
			logger.Warn("Releasing run lease of %s: %v", documentID, err)
		}
	}

	o.mu.Lock()
	delete(o.runs, documentID)
	o.mu.Unlock()
}

// execute runs OCR if needed, then the unfinished post-OCR stages in
// parallel, joining them before returning.
func (o *PipelineOrchestrator) execute(ctx context.Context, run *pipelineRun) error {
	logger.Section("Pipeline " + run.doc.ID)

	if run.doc.Status.Stage(domain.StageOCR).State != domain.StageDone {
		if err := o.runOCR(ctx, run); err != nil {
			return err
		}
	}

	var pending []domain.Stage
	for _, stage := range []domain.Stage{domain.StageIndexing, domain.StageExtraction} {
		if run.doc.Status.Stage(stage).State != domain.StageDone {
			pending = append(pending, stage)
		}
	}

	errs := make([]error, len(pending))
	var wg sync.WaitGroup
	for i, stage := range pending {
		if run.stopped() {
			errs[i] = fmt.Errorf("%s not started: %w", stage, domain.ErrCancelled)
			if err := o.logError(ctx, run, stage, errs[i]); err != nil {
				errs[i] = err
			}
			continue
		}
		wg.Add(1)
		go func(i int, stage domain.Stage) {
			defer wg.Done()
			errs[i] = o.runStage(ctx, run, stage)
		}(i, stage)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	logger.Info("Document %s is %s", run.doc.ID, run.doc.Status.Label())
	return nil
}

// runOCR extracts text for every page still missing it. Page failures are
// logged; the stage fails only when they exceed the failure budget.
func (o *PipelineOrchestrator) runOCR(ctx context.Context, run *pipelineRun) error {
	if err := o.transition(ctx, run, func(s *domain.Status) error {
		return s.Begin(domain.StageOCR, o.now())
	}); err != nil {
		return err
	}
	if o.ocr == nil {
		return o.failStage(ctx, run, domain.StageOCR, domain.ErrOCRUnavailable)
	}

	pending := run.doc.PendingPages()
	logger.Info("OCR %s: %d of %d pages pending", run.doc.ID, len(pending), len(run.doc.Pages))

	var g errgroup.Group
	g.SetLimit(o.settings.OCR.Concurrency)
	for _, page := range pending {
		if run.stopped() {
			break
		}
		g.Go(func() error {
			if run.stopped() {
				return nil
			}
			if err := o.ocrPage(ctx, run, page); err != nil {
				logger.Warn("OCR page %d of %s failed: %v", page.Index, run.doc.ID, err)
				if logErr := o.logError(ctx, run, domain.StageOCR, err); logErr != nil {
					return logErr
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return o.failStage(ctx, run, domain.StageOCR, err)
	}

	run.mu.Lock()
	done, total := run.doc.OCRCoverage()
	run.mu.Unlock()
	failed := total - done

	if run.stopped() && failed > 0 {
		return o.failStage(ctx, run, domain.StageOCR, fmt.Errorf("%d pages not processed: %w", failed, domain.ErrCancelled))
	}
	if failed > 0 && float64(failed)/float64(total) > o.settings.OCR.FailureBudget {
		return o.failStage(ctx, run, domain.StageOCR,
			fmt.Errorf("%d of %d pages failed ocr, budget %.2f", failed, total, o.settings.OCR.FailureBudget))
	}
	if failed > 0 {
		logger.Warn("OCR %s: continuing with %d of %d pages within failure budget", run.doc.ID, done, total)
	}

	return o.transition(ctx, run, func(s *domain.Status) error {
		return s.Complete(domain.StageOCR, o.now())
	})
}

func (o *PipelineOrchestrator) ocrPage(ctx context.Context, run *pipelineRun, page domain.Page) error {
	var text *domain.RecognizedText
	err := o.caller.do(ctx, run.stop, fmt.Sprintf("ocr page %d", page.Index), func(callCtx context.Context) error {
		var err error
		text, err = o.ocr.Extract(callCtx, page.Image())
		return asOCRError(page.Index, err)
	})
	if err != nil {
		return err
	}
	if text.Backend == "" {
		text.Backend = o.ocr.Name()
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	if err := o.docs.SavePageText(ctx, run.doc.ID, page.Index, *text); err != nil {
		return fmt.Errorf("save page %d: %w", page.Index, err)
	}
	for i := range run.doc.Pages {
		if run.doc.Pages[i].Index == page.Index {
			run.doc.Pages[i].Text = text
		}
	}
	return nil
}

// runStage runs indexing or extraction on a snapshot of OCR output.
func (o *PipelineOrchestrator) runStage(ctx context.Context, run *pipelineRun, stage domain.Stage) error {
	if err := o.transition(ctx, run, func(s *domain.Status) error {
		return s.Begin(stage, o.now())
	}); err != nil {
		return err
	}

	doc := run.snapshot()
	var apply func(*domain.Status)
	var err error

	switch stage {
	case domain.StageIndexing:
		if o.indexer == nil {
			err = domain.ErrEmbeddingUnavailable
			break
		}
		var res *IndexResult
		if res, err = o.indexer.Index(ctx, doc, run.stop); err == nil {
			apply = func(s *domain.Status) { s.IndexModel = res.Model }
		}
	case domain.StageExtraction:
		if o.extractor == nil {
			err = domain.ErrLLMUnavailable
			break
		}
		var rec *domain.StructuredRecord
		if rec, err = o.extractor.Extract(ctx, doc, run.stop); err == nil {
			apply = func(s *domain.Status) { s.RecordRunID = rec.RunID }
		}
	default:
		err = fmt.Errorf("%w: unknown stage %s", domain.ErrInvalidTransition, stage)
	}

	if err != nil {
		return o.failStage(ctx, run, stage, err)
	}
	return o.transition(ctx, run, func(s *domain.Status) error {
		apply(s)
		return s.Complete(stage, o.now())
	})
}

// failStage records err in the error log, marks the stage failed and
// returns err wrapped with the stage.
func (o *PipelineOrchestrator) failStage(ctx context.Context, run *pipelineRun, stage domain.Stage, err error) error {
	logger.Warn("Stage %s of %s failed: %v", stage, run.doc.ID, err)
	if recErr := o.recordFailure(ctx, run, stage, err); recErr != nil {
		return errors.Join(err, recErr)
	}
	return fmt.Errorf("%s: %w", stage, err)
}

func (o *PipelineOrchestrator) recordFailure(ctx context.Context, run *pipelineRun, stage domain.Stage, err error) error {
	if logErr := o.logError(ctx, run, stage, err); logErr != nil {
		return logErr
	}
	return o.transition(ctx, run, func(s *domain.Status) error {
		return s.Fail(stage, o.now())
	})
}

func (o *PipelineOrchestrator) logError(ctx context.Context, run *pipelineRun, stage domain.Stage, err error) error {
	entry := domain.StageError{Stage: stage, Message: err.Error(), Timestamp: o.now()}

	run.mu.Lock()
	defer run.mu.Unlock()
	if saveErr := o.docs.AppendError(ctx, run.doc.ID, entry); saveErr != nil {
		return fmt.Errorf("append error log: %w", saveErr)
	}
	run.doc.Errors = append(run.doc.Errors, entry)
	return nil
}

// transition applies fn to a copy of the status, persists it and only then
// publishes it to the run.
func (o *PipelineOrchestrator) transition(ctx context.Context, run *pipelineRun, fn func(*domain.Status) error) error {
	run.mu.Lock()
	defer run.mu.Unlock()

	next := run.doc.Status
	next.Stages = make(map[domain.Stage]domain.StageStatus, len(run.doc.Status.Stages))
	for k, v := range run.doc.Status.Stages {
		next.Stages[k] = v
	}
	if err := fn(&next); err != nil {
		return err
	}
	if err := o.docs.SaveStatus(ctx, run.doc.ID, next); err != nil {
		return fmt.Errorf("save status: %w", err)
	}
	run.doc.Status = next

	for _, hook := range o.hooks {
		hook(run.doc.ID, next)
	}
	return nil
}

func asOCRError(page int, err error) error {
	if err == nil {
		return nil
	}
	var oe *domain.OCRError
	if errors.As(err, &oe) || errors.Is(err, domain.ErrTimeout) {
		return err
	}
	return &domain.OCRError{Code: "backend", Message: "text extraction failed", Page: page, Err: err}
}
