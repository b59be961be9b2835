// Package models defines core data structures for query engines, documents, and queries.
package models

import "time"

// Deploy status values for a QueryEngine's serving endpoint.
// A failed deploy call does not imply the index is not serving: the backing
// service may complete deployment asynchronously after the call times out,
// so the status is recorded as unknown rather than failed.
const (
	DeployStatusDeployed = "deployed"
	DeployStatusUnknown  = "unknown"
)

// QueryEngine is a named, independently built and queryable index over one
// document corpus. Name is unique across all engines.
type QueryEngine struct {
	ID                string    `json:"id" db:"id"`
	Name              string    `json:"name" db:"name"`
	CreatedBy         string    `json:"created_by" db:"created_by"`
	IsPublic          bool      `json:"is_public" db:"is_public"`
	LLMType           string    `json:"llm_type" db:"llm_type"`
	IndexID           string    `json:"index_id" db:"index_id"`
	EndpointID        string    `json:"endpoint_id" db:"endpoint_id"`
	DeployedIndexName string    `json:"deployed_index_name" db:"deployed_index_name"`
	DeployStatus      string    `json:"deploy_status" db:"deploy_status"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// Document is one ingested source file belonging to exactly one QueryEngine.
// [IndexStart, IndexEnd) is the half-open range of global chunk indices the
// document occupies in the engine's embedding space.
type Document struct {
	ID         string    `json:"id" db:"id"`
	EngineID   string    `json:"engine_id" db:"engine_id"`
	DocURL     string    `json:"doc_url" db:"doc_url"`
	IndexStart int64     `json:"index_start" db:"index_start"`
	IndexEnd   int64     `json:"index_end" db:"index_end"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// DocumentChunk is one embedded unit of text. Index is the global chunk index
// within the engine, the join key between ANN neighbor ids and the metadata store.
type DocumentChunk struct {
	ID         string    `json:"id" db:"id"`
	EngineID   string    `json:"engine_id" db:"engine_id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	Index      int64     `json:"index" db:"chunk_index"`
	Text       string    `json:"text" db:"text"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
