// Package sqlite provides a unified SQLite-based implementation of driven port interfaces.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation. It implements multiple store interfaces
// through a single database connection:
//
//   - DocumentStore: documents, pages, pipeline status, the error log and run leases
//   - ChunkStore: chunks and their embeddings
//   - RecordStore: one structured record per document
//   - EmbeddingCache: embeddings keyed by content hash and model
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
// Chunks, records, pages and error entries reference their document with
// ON DELETE CASCADE.
//
// # Data Location
//
// By default, the database is stored at ~/.docintel/data/docintel.db
//
// # Thread Safety
//
// All operations are thread-safe. The store uses database-level locking provided
// by SQLite in WAL mode.
package sqlite
