// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotaeru/internal/errs"
	"github.com/hyperjump/kotaeru/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS query_engines (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		created_by TEXT,
		is_public INTEGER NOT NULL DEFAULT 1,
		llm_type TEXT,
		index_id TEXT,
		endpoint_id TEXT,
		deployed_index_name TEXT,
		deploy_status TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		engine_id TEXT NOT NULL,
		doc_url TEXT NOT NULL,
		index_start INTEGER NOT NULL,
		index_end INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (engine_id) REFERENCES query_engines(id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_engine_id ON documents(engine_id);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		engine_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (engine_id, chunk_index),
		FOREIGN KEY (document_id) REFERENCES documents(id)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_engine_id ON document_chunks(engine_id);

	CREATE TABLE IF NOT EXISTS query_references (
		id TEXT PRIMARY KEY,
		engine_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		document_url TEXT,
		chunk_id TEXT NOT NULL,
		text TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS query_results (
		id TEXT PRIMARY KEY,
		engine_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		response TEXT,
		reference_ids TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS user_queries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		engine_id TEXT NOT NULL,
		history TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_user_queries_user_id ON user_queries(user_id);
	`
	_, err := db.Exec(schema)
	return err
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure.
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint
	}
	return false
}

// CreateEngine inserts an engine. The UNIQUE constraint on name makes the
// insert itself the existence check, so two concurrent builds for the same
// name cannot both succeed.
func (s *SQLiteStorage) CreateEngine(ctx context.Context, engine *models.QueryEngine) error {
	now := time.Now()
	engine.CreatedAt = now
	engine.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_engines
		 (id, name, created_by, is_public, llm_type, index_id, endpoint_id, deployed_index_name, deploy_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		engine.ID, engine.Name, engine.CreatedBy, engine.IsPublic, engine.LLMType,
		engine.IndexID, engine.EndpointID, engine.DeployedIndexName, engine.DeployStatus,
		engine.CreatedAt, engine.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("engine %q: %w", engine.Name, errs.ErrAlreadyExists)
		}
		return err
	}
	return nil
}

func (s *SQLiteStorage) scanEngine(row *sql.Row) (*models.QueryEngine, error) {
	var e models.QueryEngine
	err := row.Scan(&e.ID, &e.Name, &e.CreatedBy, &e.IsPublic, &e.LLMType,
		&e.IndexID, &e.EndpointID, &e.DeployedIndexName, &e.DeployStatus,
		&e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

const engineColumns = `id, name, created_by, is_public, llm_type, index_id, endpoint_id, deployed_index_name, deploy_status, created_at, updated_at`

// GetEngine returns an engine by ID.
func (s *SQLiteStorage) GetEngine(ctx context.Context, id string) (*models.QueryEngine, error) {
	engine, err := s.scanEngine(s.db.QueryRowContext(ctx,
		`SELECT `+engineColumns+` FROM query_engines WHERE id = ?`, id))
	if errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("engine %s: %w", id, errs.ErrNotFound)
	}
	return engine, err
}

// GetEngineByName returns an engine by exact name.
func (s *SQLiteStorage) GetEngineByName(ctx context.Context, name string) (*models.QueryEngine, error) {
	engine, err := s.scanEngine(s.db.QueryRowContext(ctx,
		`SELECT `+engineColumns+` FROM query_engines WHERE name = ?`, name))
	if errors.Is(err, errs.ErrNotFound) {
		return nil, fmt.Errorf("engine %q: %w", name, errs.ErrNotFound)
	}
	return engine, err
}

// ListEngines returns all engines ordered by creation time.
func (s *SQLiteStorage) ListEngines(ctx context.Context) ([]*models.QueryEngine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+engineColumns+` FROM query_engines ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var engines []*models.QueryEngine
	for rows.Next() {
		var e models.QueryEngine
		if err := rows.Scan(&e.ID, &e.Name, &e.CreatedBy, &e.IsPublic, &e.LLMType,
			&e.IndexID, &e.EndpointID, &e.DeployedIndexName, &e.DeployStatus,
			&e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		engines = append(engines, &e)
	}
	return engines, rows.Err()
}

// UpdateEngine updates an existing engine.
func (s *SQLiteStorage) UpdateEngine(ctx context.Context, engine *models.QueryEngine) error {
	engine.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx,
		`UPDATE query_engines SET created_by = ?, is_public = ?, llm_type = ?, index_id = ?,
		 endpoint_id = ?, deployed_index_name = ?, deploy_status = ?, updated_at = ?
		 WHERE id = ?`,
		engine.CreatedBy, engine.IsPublic, engine.LLMType, engine.IndexID,
		engine.EndpointID, engine.DeployedIndexName, engine.DeployStatus,
		engine.UpdatedAt, engine.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("engine %s: %w", engine.ID, errs.ErrNotFound)
	}
	return nil
}

// DeleteEngine removes an engine by ID.
func (s *SQLiteStorage) DeleteEngine(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM query_engines WHERE id = ?`, id)
	return err
}

// CreateDocument inserts a document.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	doc.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, engine_id, doc_url, index_start, index_end, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.EngineID, doc.DocURL, doc.IndexStart, doc.IndexEnd, doc.CreatedAt,
	)
	return err
}

// GetDocument returns a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := s.db.QueryRowContext(ctx,
		`SELECT id, engine_id, doc_url, index_start, index_end, created_at
		 FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &doc.EngineID, &doc.DocURL, &doc.IndexStart, &doc.IndexEnd, &doc.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocumentsByEngine returns all documents for an engine ordered by index_start.
func (s *SQLiteStorage) ListDocumentsByEngine(ctx context.Context, engineID string) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, engine_id, doc_url, index_start, index_end, created_at
		 FROM documents WHERE engine_id = ? ORDER BY index_start`, engineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		if err := rows.Scan(&doc.ID, &doc.EngineID, &doc.DocURL, &doc.IndexStart, &doc.IndexEnd, &doc.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// DeleteDocumentsByEngine removes all documents for an engine.
func (s *SQLiteStorage) DeleteDocumentsByEngine(ctx context.Context, engineID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE engine_id = ?`, engineID)
	return err
}

// BatchCreateChunks inserts multiple chunks in a transaction.
func (s *SQLiteStorage) BatchCreateChunks(ctx context.Context, chunks []*models.DocumentChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO document_chunks (id, engine_id, document_id, chunk_index, text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, chunk := range chunks {
		chunk.CreatedAt = now
		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.EngineID, chunk.DocumentID, chunk.Index, chunk.Text, chunk.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetChunk returns a chunk by ID.
func (s *SQLiteStorage) GetChunk(ctx context.Context, id string) (*models.DocumentChunk, error) {
	var chunk models.DocumentChunk
	err := s.db.QueryRowContext(ctx,
		`SELECT id, engine_id, document_id, chunk_index, text, created_at
		 FROM document_chunks WHERE id = ?`, id,
	).Scan(&chunk.ID, &chunk.EngineID, &chunk.DocumentID, &chunk.Index, &chunk.Text, &chunk.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chunk %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

// GetChunkByIndex returns the chunk with the given global index within an engine.
func (s *SQLiteStorage) GetChunkByIndex(ctx context.Context, engineID string, index int64) (*models.DocumentChunk, error) {
	var chunk models.DocumentChunk
	err := s.db.QueryRowContext(ctx,
		`SELECT id, engine_id, document_id, chunk_index, text, created_at
		 FROM document_chunks WHERE engine_id = ? AND chunk_index = ?`, engineID, index,
	).Scan(&chunk.ID, &chunk.EngineID, &chunk.DocumentID, &chunk.Index, &chunk.Text, &chunk.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chunk index %d in engine %s: %w", index, engineID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

// CountChunksByEngine returns the number of chunks for an engine.
func (s *SQLiteStorage) CountChunksByEngine(ctx context.Context, engineID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_chunks WHERE engine_id = ?`, engineID).Scan(&count)
	return count, err
}

// DeleteChunksByEngine removes all chunks for an engine.
func (s *SQLiteStorage) DeleteChunksByEngine(ctx context.Context, engineID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE engine_id = ?`, engineID)
	return err
}

// CreateQueryReference inserts a query reference.
func (s *SQLiteStorage) CreateQueryReference(ctx context.Context, ref *models.QueryReference) error {
	ref.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_references (id, engine_id, document_id, document_url, chunk_id, text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ref.ID, ref.EngineID, ref.DocumentID, ref.DocumentURL, ref.ChunkID, ref.Text, ref.CreatedAt,
	)
	return err
}

// CreateQueryResult inserts a query result.
func (s *SQLiteStorage) CreateQueryResult(ctx context.Context, result *models.QueryResult) error {
	refIDs, err := json.Marshal(result.ReferenceIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal reference ids: %w", err)
	}
	result.CreatedAt = time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO query_results (id, engine_id, prompt, response, reference_ids, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		result.ID, result.EngineID, result.Prompt, result.Response, string(refIDs), result.CreatedAt,
	)
	return err
}

// CreateUserQuery inserts a user query history record.
func (s *SQLiteStorage) CreateUserQuery(ctx context.Context, query *models.UserQuery) error {
	history, err := json.Marshal(query.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	now := time.Now()
	query.CreatedAt = now
	query.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_queries (id, user_id, engine_id, history, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		query.ID, query.UserID, query.EngineID, string(history), query.CreatedAt, query.UpdatedAt,
	)
	return err
}

// GetUserQuery returns a user query record by ID.
func (s *SQLiteStorage) GetUserQuery(ctx context.Context, id string) (*models.UserQuery, error) {
	var q models.UserQuery
	var history string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, engine_id, history, created_at, updated_at
		 FROM user_queries WHERE id = ?`, id,
	).Scan(&q.ID, &q.UserID, &q.EngineID, &history, &q.CreatedAt, &q.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user query %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if history != "" {
		if err := json.Unmarshal([]byte(history), &q.History); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history: %w", err)
		}
	}
	return &q, nil
}

// AppendUserQueryHistory appends an entry to a user query's history.
func (s *SQLiteStorage) AppendUserQueryHistory(ctx context.Context, id string, entry models.UserQueryEntry) error {
	query, err := s.GetUserQuery(ctx, id)
	if err != nil {
		return err
	}
	query.History = append(query.History, entry)
	history, err := json.Marshal(query.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE user_queries SET history = ?, updated_at = ? WHERE id = ?`,
		string(history), time.Now(), id,
	)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
