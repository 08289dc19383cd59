package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/docintel/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
)

// Store is a unified SQLite-based storage that provides access to
// all store interfaces through wrapper types.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.docintel/data/docintel.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".docintel", "data")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "docintel.db")

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	// Run migrations
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// DocumentStore returns a DocumentStore interface backed by this store.
func (s *Store) DocumentStore() driven.DocumentStore {
	return &documentStore{store: s}
}

// ChunkStore returns a ChunkStore interface backed by this store.
func (s *Store) ChunkStore() driven.ChunkStore {
	return &chunkStore{store: s}
}

// RecordStore returns a RecordStore interface backed by this store.
func (s *Store) RecordStore() driven.RecordStore {
	return &recordStore{store: s}
}

// EmbeddingCache returns an EmbeddingCache interface backed by this store.
func (s *Store) EmbeddingCache() driven.EmbeddingCache {
	return &embeddingCache{store: s}
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	// Ensure schema_migrations table exists
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	// Find all up migrations
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g., "001_initial.up.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue // Skip files that don't match pattern
		}

		if version <= currentVersion {
			continue // Already applied
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Document Store ====================

// documentStore implements driven.DocumentStore.
type documentStore struct {
	store *Store
}

var _ driven.DocumentStore = (*documentStore)(nil)

// CreateDocument stores a new document with its pages.
func (s *documentStore) CreateDocument(ctx context.Context, doc *domain.Document) error {
	statusJSON, err := json.Marshal(doc.Status)
	if err != nil {
		return fmt.Errorf("marshalling status: %w", err)
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE id = ?", doc.ID).Scan(&exists); err != nil {
		return fmt.Errorf("checking document: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("document %s: %w", doc.ID, domain.ErrAlreadyExists)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, title, state, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.Title, string(doc.Status.Derive()), string(statusJSON),
		doc.CreatedAt.UTC(), doc.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("saving document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pages (document_id, idx, mime_type, data, text)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range doc.Pages {
		text, err := marshalText(p.Text)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, doc.ID, p.Index, p.MIMEType, p.Data, text); err != nil {
			return fmt.Errorf("saving page %d: %w", p.Index, err)
		}
	}

	for _, e := range doc.Errors {
		if err := insertError(ctx, tx, doc.ID, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetDocument retrieves a document with pages, status and error log.
func (s *documentStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, title, status, created_at, updated_at
		FROM documents WHERE id = ?
	`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}

	if doc.Pages, err = s.pages(ctx, id, true); err != nil {
		return nil, err
	}
	if doc.Errors, err = s.errorLog(ctx, id); err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments returns all documents without page data.
func (s *documentStore) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, title, status, created_at, updated_at
		FROM documents ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document //nolint:prealloc // size unknown from query
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}

	for i := range docs {
		if docs[i].Pages, err = s.pages(ctx, docs[i].ID, false); err != nil {
			return nil, err
		}
		if docs[i].Errors, err = s.errorLog(ctx, docs[i].ID); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// SavePageText stores the recognised text of a page once.
func (s *documentStore) SavePageText(ctx context.Context, documentID string, pageIndex int, text domain.RecognizedText) error {
	textJSON, err := marshalText(&text)
	if err != nil {
		return err
	}

	res, err := s.store.db.ExecContext(ctx, `
		UPDATE pages SET text = ?
		WHERE document_id = ? AND idx = ? AND text IS NULL
	`, textJSON, documentID, pageIndex)
	if err != nil {
		return fmt.Errorf("saving page text: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var count int
	if err := s.store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM pages WHERE document_id = ? AND idx = ?", documentID, pageIndex).Scan(&count); err != nil {
		return fmt.Errorf("checking page: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("page %d of %s: %w", pageIndex, documentID, domain.ErrPageImmutable)
	}
	return fmt.Errorf("page %d of %s: %w", pageIndex, documentID, domain.ErrNotFound)
}

// SaveStatus replaces the pipeline status of a document.
func (s *documentStore) SaveStatus(ctx context.Context, documentID string, status domain.Status) error {
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshalling status: %w", err)
	}

	res, err := s.store.db.ExecContext(ctx, `
		UPDATE documents SET state = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, string(status.Derive()), string(statusJSON), status.UpdatedAt.UTC(), documentID)
	if err != nil {
		return fmt.Errorf("saving status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", documentID, domain.ErrNotFound)
	}
	return nil
}

// AppendError adds an entry to the document's error log.
func (s *documentStore) AppendError(ctx context.Context, documentID string, entry domain.StageError) error {
	err := insertError(ctx, s.store.db, documentID, entry)
	if err != nil && strings.Contains(err.Error(), "FOREIGN KEY") {
		return fmt.Errorf("document %s: %w", documentID, domain.ErrNotFound)
	}
	return err
}

// DeleteDocument removes a document; chunks, pages, errors and the
// record follow through ON DELETE CASCADE.
func (s *documentStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.store.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// AcquireLease claims the run lease in one statement: the upsert only
// overwrites a row the owner already holds or one that has expired.
func (s *documentStore) AcquireLease(ctx context.Context, documentID, owner string, now, expires time.Time) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		INSERT INTO run_leases (document_id, owner, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			owner = excluded.owner,
			expires_at = excluded.expires_at
		WHERE run_leases.owner = excluded.owner OR run_leases.expires_at <= ?
	`, documentID, owner, expires.UnixNano(), now.UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return fmt.Errorf("document %s: %w", documentID, domain.ErrNotFound)
		}
		return fmt.Errorf("acquiring lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var holder string
		if err := tx.QueryRowContext(ctx,
			"SELECT owner FROM run_leases WHERE document_id = ?", documentID).Scan(&holder); err != nil {
			return fmt.Errorf("reading lease: %w", err)
		}
		return fmt.Errorf("%w: %s held by %s", domain.ErrRunInProgress, documentID, holder)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing lease: %w", err)
	}
	return nil
}

// RenewLease moves the expiry of a lease owner still holds.
func (s *documentStore) RenewLease(ctx context.Context, documentID, owner string, expires time.Time) error {
	res, err := s.store.db.ExecContext(ctx,
		"UPDATE run_leases SET expires_at = ? WHERE document_id = ? AND owner = ?",
		expires.UnixNano(), documentID, owner)
	if err != nil {
		return fmt.Errorf("renewing lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrLeaseLost, documentID)
	}
	return nil
}

// ReleaseLease drops the lease if owner holds it.
func (s *documentStore) ReleaseLease(ctx context.Context, documentID, owner string) error {
	_, err := s.store.db.ExecContext(ctx,
		"DELETE FROM run_leases WHERE document_id = ? AND owner = ?", documentID, owner)
	if err != nil {
		return fmt.Errorf("releasing lease: %w", err)
	}
	return nil
}

// LeaseActive reports whether a lease on the document outlives now.
func (s *documentStore) LeaseActive(ctx context.Context, documentID string, now time.Time) (bool, error) {
	var n int
	err := s.store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM run_leases WHERE document_id = ? AND expires_at > ?",
		documentID, now.UnixNano()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("reading lease: %w", err)
	}
	return n > 0, nil
}

func (s *documentStore) pages(ctx context.Context, documentID string, withData bool) ([]domain.Page, error) {
	query := "SELECT idx, mime_type, data, text FROM pages WHERE document_id = ? ORDER BY idx"
	if !withData {
		query = "SELECT idx, mime_type, NULL, text FROM pages WHERE document_id = ? ORDER BY idx"
	}
	rows, err := s.store.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying pages: %w", err)
	}
	defer rows.Close()

	var pages []domain.Page //nolint:prealloc // size unknown from query
	for rows.Next() {
		var p domain.Page
		var text sql.NullString
		if err := rows.Scan(&p.Index, &p.MIMEType, &p.Data, &text); err != nil {
			return nil, fmt.Errorf("scanning page: %w", err)
		}
		if text.Valid {
			var rt domain.RecognizedText
			if err := json.Unmarshal([]byte(text.String), &rt); err != nil {
				return nil, fmt.Errorf("unmarshalling page text: %w", err)
			}
			p.Text = &rt
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pages: %w", err)
	}
	return pages, nil
}

func (s *documentStore) errorLog(ctx context.Context, documentID string) ([]domain.StageError, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT stage, message, created_at FROM stage_errors
		WHERE document_id = ? ORDER BY id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying errors: %w", err)
	}
	defer rows.Close()

	var entries []domain.StageError //nolint:prealloc // size unknown from query
	for rows.Next() {
		var e domain.StageError
		var stage string
		if err := rows.Scan(&stage, &e.Message, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning error entry: %w", err)
		}
		e.Stage = domain.Stage(stage)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating errors: %w", err)
	}
	return entries, nil
}

// ==================== Chunk Store ====================

// chunkStore implements driven.ChunkStore.
type chunkStore struct {
	store *Store
}

var _ driven.ChunkStore = (*chunkStore)(nil)

// SaveChunks replaces the chunk set of a document, keeping the embeddings
// of chunks whose id is unchanged.
func (s *chunkStore) SaveChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	keep := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		keep[c.ID] = true
	}

	rows, err := tx.QueryContext(ctx, "SELECT id FROM chunks WHERE document_id = ?", documentID)
	if err != nil {
		return fmt.Errorf("querying chunks: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scanning chunk id: %w", err)
		}
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating chunks: %w", err)
	}

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE id = ?", id); err != nil {
			return fmt.Errorf("deleting chunk: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, position, first_page, last_page,
			start_offset, end_offset, content, content_hash, embedding, embedding_model)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			position = excluded.position,
			first_page = excluded.first_page,
			last_page = excluded.last_page,
			start_offset = excluded.start_offset,
			end_offset = excluded.end_offset,
			content = excluded.content,
			content_hash = excluded.content_hash,
			embedding = COALESCE(excluded.embedding, chunks.embedding),
			embedding_model = CASE WHEN excluded.embedding IS NULL
				THEN chunks.embedding_model ELSE excluded.embedding_model END
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, documentID, c.Position, c.Pages.First, c.Pages.Last,
			c.Start, c.End, c.Content, c.ContentHash,
			embeddingArg(c.Embedding), c.EmbeddingModel); err != nil {
			return fmt.Errorf("saving chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// SaveEmbedding stores the embedding of one chunk.
func (s *chunkStore) SaveEmbedding(ctx context.Context, chunkID string, embedding []float32, model string) error {
	res, err := s.store.db.ExecContext(ctx,
		"UPDATE chunks SET embedding = ?, embedding_model = ? WHERE id = ?",
		float32SliceToBytes(embedding), model, chunkID)
	if err != nil {
		return fmt.Errorf("saving embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chunk %s: %w", chunkID, domain.ErrNotFound)
	}
	return nil
}

// GetChunks retrieves all chunks for a document ordered by position.
func (s *chunkStore) GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks WHERE document_id = ?
		ORDER BY position
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	chunks := []domain.Chunk{}
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	return chunks, nil
}

// GetChunk retrieves a specific chunk by ID.
func (s *chunkStore) GetChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks WHERE id = ?
	`, id)

	chunk, err := scanChunk(row)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("chunk %s: %w", id, domain.ErrNotFound)
	}
	return chunk, err
}

// ==================== Record Store ====================

// recordStore implements driven.RecordStore.
type recordStore struct {
	store *Store
}

var _ driven.RecordStore = (*recordStore)(nil)

// ReplaceRecord stores rec, discarding any prior record of the document.
func (s *recordStore) ReplaceRecord(ctx context.Context, rec *domain.StructuredRecord) error {
	if rec == nil || rec.DocumentID == "" {
		return fmt.Errorf("%w: record requires a document id", domain.ErrInvalidInput)
	}

	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshalling fields: %w", err)
	}
	rowsJSON, err := json.Marshal(rec.Rows)
	if err != nil {
		return fmt.Errorf("marshalling rows: %w", err)
	}
	people := rec.People
	if people == nil {
		people = []domain.Row{}
	}
	peopleJSON, err := json.Marshal(people)
	if err != nil {
		return fmt.Errorf("marshalling people: %w", err)
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO records (document_id, run_id, backend, schema_name, fields, row_values, people, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			run_id = excluded.run_id,
			backend = excluded.backend,
			schema_name = excluded.schema_name,
			fields = excluded.fields,
			row_values = excluded.row_values,
			people = excluded.people,
			created_at = excluded.created_at
	`, rec.DocumentID, rec.RunID, rec.Backend, rec.Schema,
		string(fieldsJSON), string(rowsJSON), string(peopleJSON), rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving record: %w", err)
	}
	return nil
}

// GetRecord retrieves the current record of a document.
func (s *recordStore) GetRecord(ctx context.Context, documentID string) (*domain.StructuredRecord, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT document_id, run_id, backend, schema_name, fields, row_values, people, created_at
		FROM records WHERE document_id = ?
	`, documentID)

	var rec domain.StructuredRecord
	var fieldsJSON, rowsJSON, peopleJSON string
	if err := row.Scan(&rec.DocumentID, &rec.RunID, &rec.Backend, &rec.Schema,
		&fieldsJSON, &rowsJSON, &peopleJSON, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("record of %s: %w", documentID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("scanning record: %w", err)
	}

	if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
		return nil, fmt.Errorf("unmarshalling fields: %w", err)
	}
	if err := json.Unmarshal([]byte(rowsJSON), &rec.Rows); err != nil {
		return nil, fmt.Errorf("unmarshalling rows: %w", err)
	}
	if err := json.Unmarshal([]byte(peopleJSON), &rec.People); err != nil {
		return nil, fmt.Errorf("unmarshalling people: %w", err)
	}
	if len(rec.People) == 0 {
		rec.People = nil
	}
	return &rec, nil
}

// ==================== Embedding Cache ====================

// embeddingCache implements driven.EmbeddingCache.
type embeddingCache struct {
	store *Store
}

var _ driven.EmbeddingCache = (*embeddingCache)(nil)

// Get returns the cached embedding and whether it was present.
func (c *embeddingCache) Get(ctx context.Context, contentHash, model string) ([]float32, bool, error) {
	var blob []byte
	err := c.store.db.QueryRowContext(ctx,
		"SELECT embedding FROM embedding_cache WHERE content_hash = ? AND model = ?",
		contentHash, model).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading embedding cache: %w", err)
	}
	return bytesToFloat32Slice(blob), true, nil
}

// Put stores an embedding.
func (c *embeddingCache) Put(ctx context.Context, contentHash, model string, embedding []float32) error {
	_, err := c.store.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (content_hash, model, embedding)
		VALUES (?, ?, ?)
		ON CONFLICT(content_hash, model) DO UPDATE SET embedding = excluded.embedding
	`, contentHash, model, float32SliceToBytes(embedding))
	if err != nil {
		return fmt.Errorf("writing embedding cache: %w", err)
	}
	return nil
}

// ==================== Helpers ====================

const chunkColumns = `id, document_id, position, first_page, last_page,
	start_offset, end_offset, content, content_hash, embedding, embedding_model`

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertError(ctx context.Context, db execer, documentID string, e domain.StageError) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO stage_errors (document_id, stage, message, created_at)
		VALUES (?, ?, ?, ?)
	`, documentID, string(e.Stage), e.Message, ts.UTC())
	if err != nil {
		return fmt.Errorf("saving error entry: %w", err)
	}
	return nil
}

func marshalText(text *domain.RecognizedText) (any, error) {
	if text == nil {
		return nil, nil
	}
	data, err := json.Marshal(text)
	if err != nil {
		return nil, fmt.Errorf("marshalling page text: %w", err)
	}
	return string(data), nil
}

// scanDocument scans a document row without pages or errors.
func scanDocument(row scanner) (*domain.Document, error) {
	var doc domain.Document
	var statusJSON string

	if err := row.Scan(&doc.ID, &doc.Title, &statusJSON, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	if err := json.Unmarshal([]byte(statusJSON), &doc.Status); err != nil {
		return nil, fmt.Errorf("unmarshalling status: %w", err)
	}
	if doc.Status.Stages == nil {
		doc.Status.Stages = make(map[domain.Stage]domain.StageStatus)
	}

	return &doc, nil
}

// scanChunk scans a single chunk row.
func scanChunk(row scanner) (*domain.Chunk, error) {
	var chunk domain.Chunk
	var embeddingBlob []byte

	if err := row.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Position,
		&chunk.Pages.First, &chunk.Pages.Last, &chunk.Start, &chunk.End,
		&chunk.Content, &chunk.ContentHash, &embeddingBlob, &chunk.EmbeddingModel); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}

	chunk.Embedding = bytesToFloat32Slice(embeddingBlob)
	return &chunk, nil
}

// embeddingArg binds a missing embedding as NULL.
func embeddingArg(floats []float32) any {
	if len(floats) == 0 {
		return nil
	}
	return float32SliceToBytes(floats)
}

// float32SliceToBytes converts []float32 to a little-endian byte slice.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
