// Package watcher ingests documents dropped into an inbox directory.
//
// New PDF and image files are uploaded as documents and their pipeline is
// started in the background. Bursts of create and write events for the same
// file are coalesced so a file is read once its writer has finished.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
	"github.com/custodia-labs/docintel/internal/logger"
)

// DefaultDebounce is how long a file must be quiet before it is ingested.
const DefaultDebounce = 500 * time.Millisecond

// supportedExts are the file types accepted by document ingest.
var supportedExts = map[string]struct{}{
	".pdf":  {},
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".tif":  {},
	".tiff": {},
}

// Watcher watches a directory and ingests new documents.
type Watcher struct {
	dir       string
	documents driving.DocumentService
	pipeline  driving.PipelineService
	debounce  time.Duration
	scan      bool
	onIngest  func(*domain.Document)

	mu      sync.Mutex
	pending map[string]*time.Timer
	seen    map[string]struct{}
	quit    chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period before a file is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithInitialScan ingests files already present when the watcher starts.
func WithInitialScan() Option {
	return func(w *Watcher) {
		w.scan = true
	}
}

// WithIngestHook registers a callback invoked after each ingest.
func WithIngestHook(fn func(*domain.Document)) Option {
	return func(w *Watcher) {
		w.onIngest = fn
	}
}

// New creates a watcher for dir.
func New(dir string, documents driving.DocumentService, pipeline driving.PipelineService, opts ...Option) *Watcher {
	w := &Watcher{
		dir:       dir,
		documents: documents,
		pipeline:  pipeline,
		debounce:  DefaultDebounce,
		pending:   make(map[string]*time.Timer),
		seen:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches the directory until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if w.documents == nil || w.pipeline == nil {
		return errors.New("watcher requires document and pipeline services")
	}

	info, err := os.Stat(w.dir)
	if err != nil {
		return fmt.Errorf("stat inbox: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", domain.ErrInvalidInput, w.dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	logger.Info("Watching %s for new documents", w.dir)

	ready := make(chan string, 64)
	w.mu.Lock()
	w.quit = make(chan struct{})
	w.mu.Unlock()
	defer w.stopPending()

	if w.scan {
		if err := w.scanExisting(ready); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if path, ok := w.handleEvent(event); ok {
				w.schedule(path, ready)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error: %v", err)

		case path := <-ready:
			if _, err := w.ingest(ctx, path); err != nil {
				logger.Error("Failed to ingest %s: %v", path, err)
			}
		}
	}
}

// handleEvent returns the path to ingest for an event, if any.
func (w *Watcher) handleEvent(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return "", false
	}
	if isHidden(event.Name) || !isSupported(event.Name) {
		return "", false
	}

	info, err := os.Stat(event.Name)
	if err != nil || info.IsDir() {
		return "", false
	}

	w.mu.Lock()
	_, done := w.seen[event.Name]
	w.mu.Unlock()
	return event.Name, !done
}

// schedule delivers path to ready once it has been quiet for the debounce
// period. Each new event for the same path restarts the wait.
func (w *Watcher) schedule(path string, ready chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	quit := w.quit
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case ready <- path:
		case <-quit:
		}
	})
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.quit != nil {
		close(w.quit)
		w.quit = nil
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) scanExisting(ready chan<- string) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read inbox: %w", err)
	}
	for _, e := range entries {
		path := filepath.Join(w.dir, e.Name())
		if e.IsDir() || isHidden(path) || !isSupported(path) {
			continue
		}
		w.schedule(path, ready)
	}
	return nil
}

// ingest uploads one file and starts its pipeline in the background.
func (w *Watcher) ingest(ctx context.Context, path string) (*domain.Document, error) {
	w.mu.Lock()
	if _, done := w.seen[path]; done {
		w.mu.Unlock()
		return nil, nil
	}
	w.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	name := filepath.Base(path)
	doc, err := w.documents.Ingest(ctx, driving.IngestRequest{
		Title: strings.TrimSuffix(name, filepath.Ext(name)),
		Files: []driving.IngestFile{{Name: name, Data: data}},
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	w.mu.Lock()
	w.seen[path] = struct{}{}
	w.mu.Unlock()

	logger.Info("Ingested %s as %s (%d pages)", name, doc.ID, len(doc.Pages))

	done, err := w.pipeline.StartAsync(ctx, doc.ID)
	if err != nil {
		return doc, fmt.Errorf("start pipeline: %w", err)
	}
	go func() {
		if err := <-done; err != nil {
			logger.Warn("Pipeline for %s ended with error: %v", doc.ID, err)
			return
		}
		logger.Info("Pipeline for %s finished", doc.ID)
	}()

	if w.onIngest != nil {
		w.onIngest(doc)
	}
	return doc, nil
}

func isSupported(path string) bool {
	_, ok := supportedExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// isHidden reports whether the file name starts with a dot.
func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
