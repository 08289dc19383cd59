// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the pipeline to function:
//
//   - TextExtractionBackend: OCR of a single page (tesseract, Vertex Gemini)
//   - DocumentStore: Document, page and pipeline status persistence
//   - ChunkStore: Chunk and embedding persistence
//   - RecordStore: Structured record persistence
//   - VectorIndex: Per-document nearest neighbour search
//   - TextChunker: Splits recognised text into chunks
//   - ConfigStore: Application configuration
//
// # Optional Interfaces
//
// These can be nil - the pipeline reports the stage as unavailable:
//
//   - EmbeddingService: Generates vector embeddings for indexing and retrieval
//   - LLMService: Generation for answers and agent extraction
//   - ExtractionBackend: Structured field extraction strategy
//   - EmbeddingCache: Content hash keyed embedding reuse
//   - PageSplitter: Splits uploaded PDFs into pages
//   - RecordExporter: Writes records to spreadsheets
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
