// Command docintel runs the document intelligence pipeline from the
// command line or as an MCP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/custodia-labs/docintel/internal/adapters/driven/ai"
	"github.com/custodia-labs/docintel/internal/adapters/driven/config/file"
	"github.com/custodia-labs/docintel/internal/adapters/driven/export"
	"github.com/custodia-labs/docintel/internal/adapters/driven/pdf"
	"github.com/custodia-labs/docintel/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/docintel/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/docintel/internal/adapters/driving/cli"
	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/services"
	"github.com/custodia-labs/docintel/internal/logger"
	"github.com/custodia-labs/docintel/internal/postprocessors/chunker"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// embeddingCacheSize is the number of embeddings kept in memory.
const embeddingCacheSize = 4096

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanup, err := setup(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}

	// cobra reports command errors itself.
	err = cli.Execute(ctx)
	cleanup()
	if err != nil {
		stop()
		os.Exit(1)
	}
}

// setup wires the adapters and services into the CLI. The returned
// function releases the store and providers.
func setup(ctx context.Context) (_ func(), err error) {
	var closers []func()
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	defer func() {
		if err != nil {
			release()
		}
	}()

	home := os.Getenv("DOCINTEL_HOME")

	configStore, err := file.NewConfigStore(home)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	settingsBootstrap := services.NewSettingsService(configStore, nil)
	settings, err := settingsBootstrap.Get()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	factory := ai.NewFactory(settings.Vertex, nil)
	closers = append(closers, func() { _ = factory.Close() })
	settingsService := services.NewSettingsService(configStore, ai.NewConfigValidator(factory))

	promptDir, dataDir := "", ""
	if home != "" {
		promptDir = filepath.Join(home, "prompts")
		dataDir = filepath.Join(home, "data")
	}
	prompts, err := file.NewPromptStore(promptDir)
	if err != nil {
		return nil, fmt.Errorf("open prompts: %w", err)
	}

	store, err := sqlite.NewStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	closers = append(closers, func() { _ = store.Close() })
	logger.Debug("Store: %s", store.Path())

	providers, err := factory.Build(ctx, settings, prompts)
	if err != nil {
		// Settings, listing and keyword search work without providers.
		logger.Debug("Providers unavailable: %v", err)
		providers = &ai.Providers{}
		if ocr, ocrErr := factory.OCR(ctx, &settings.Pipeline.OCR); ocrErr == nil {
			providers.OCR = ocr
		}
	}
	closers = append(closers, providers.Close)

	p := settings.Pipeline
	index := memory.NewVectorIndex(p.Retrieval.Metric, 0)
	cache := memory.NewTieredEmbeddingCache(embeddingCacheSize, store.EmbeddingCache())

	textChunker, err := chunker.New(chunker.WithWindowSize(p.Chunk.WindowSize), chunker.WithOverlap(p.Chunk.Overlap))
	if err != nil {
		return nil, fmt.Errorf("configure chunker: %w", err)
	}

	schema := domain.MedicalReportSchema()
	documents := services.NewDocumentService(store.DocumentStore(), index, pdf.NewSplitter())
	indexer := services.NewChunkIndexer(textChunker, store.ChunkStore(), index, providers.Embedding, cache, p.Retry)
	extractor, err := services.NewStructuredExtractor(providers.Extraction, store.RecordStore(), schema, p.Retry)
	if err != nil {
		return nil, fmt.Errorf("configure extractor: %w", err)
	}
	orchestrator := services.NewPipelineOrchestrator(store.DocumentStore(), providers.OCR, indexer, extractor, p,
		services.WithTransitionHook(func(id string, status domain.Status) {
			logger.Debug("Pipeline %s: %s", id, status.Label())
		}),
	)

	retriever := services.NewRetriever(store.DocumentStore(), store.ChunkStore(), index, indexer,
		providers.Embedding, p.Retrieval, p.Retry)
	synthesizer := services.NewAnswerSynthesizer(providers.LLM, p.Retry)

	cli.SetVersion(version)
	cli.SetServices(cli.Services{
		Document: documents,
		Pipeline: orchestrator,
		Search:   services.NewKeywordSearchService(store.DocumentStore(), p.Keyword),
		Ask:      services.NewAskService(retriever, synthesizer, p.Retrieval.TopK),
		Record:   services.NewRecordService(store.RecordStore(), export.NewXLSXExporter(), schema),
		Settings: settingsService,
	})

	return release, nil
}
