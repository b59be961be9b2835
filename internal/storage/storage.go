// Package storage defines the metadata persistence interface for query
// engines, documents, chunks, and query history.
package storage

import (
	"context"

	"github.com/hyperjump/kotaeru/internal/models"
)

// Storage defines metadata persistence operations. Engine name lookups are
// exact-match; deletes by engine id are bulk deletes.
type Storage interface {
	// Engine operations. CreateEngine is create-if-absent: a duplicate name
	// fails with errs.ErrAlreadyExists and performs no mutation.
	CreateEngine(ctx context.Context, engine *models.QueryEngine) error
	GetEngine(ctx context.Context, id string) (*models.QueryEngine, error)
	GetEngineByName(ctx context.Context, name string) (*models.QueryEngine, error)
	ListEngines(ctx context.Context) ([]*models.QueryEngine, error)
	UpdateEngine(ctx context.Context, engine *models.QueryEngine) error
	DeleteEngine(ctx context.Context, id string) error

	// Document operations
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByEngine(ctx context.Context, engineID string) ([]*models.Document, error)
	DeleteDocumentsByEngine(ctx context.Context, engineID string) error

	// Chunk operations
	BatchCreateChunks(ctx context.Context, chunks []*models.DocumentChunk) error
	GetChunk(ctx context.Context, id string) (*models.DocumentChunk, error)
	GetChunkByIndex(ctx context.Context, engineID string, index int64) (*models.DocumentChunk, error)
	CountChunksByEngine(ctx context.Context, engineID string) (int64, error)
	DeleteChunksByEngine(ctx context.Context, engineID string) error

	// Query history
	CreateQueryReference(ctx context.Context, ref *models.QueryReference) error
	CreateQueryResult(ctx context.Context, result *models.QueryResult) error
	CreateUserQuery(ctx context.Context, query *models.UserQuery) error
	GetUserQuery(ctx context.Context, id string) (*models.UserQuery, error)
	AppendUserQueryHistory(ctx context.Context, id string, entry models.UserQueryEntry) error

	Close() error
}
