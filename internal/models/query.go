package models

import (
	"fmt"
	"time"
)

// QueryReference links a QueryResult to a matched chunk and its owning
// document, with a snapshot of the chunk text at query time.
type QueryReference struct {
	ID          string    `json:"id" db:"id"`
	EngineID    string    `json:"engine_id" db:"engine_id"`
	DocumentID  string    `json:"document_id" db:"document_id"`
	DocumentURL string    `json:"document_url" db:"document_url"`
	ChunkID     string    `json:"chunk_id" db:"chunk_id"`
	Text        string    `json:"text" db:"text"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// QueryResult is one answered prompt against an engine with its ordered references.
type QueryResult struct {
	ID           string    `json:"id" db:"id"`
	EngineID     string    `json:"engine_id" db:"engine_id"`
	Prompt       string    `json:"prompt" db:"prompt"`
	Response     string    `json:"response" db:"response"`
	ReferenceIDs []string  `json:"reference_ids" db:"-"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// UserQueryEntry is one prompt/response pair in a user's query history.
type UserQueryEntry struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// UserQuery is a user's append-only query history against one engine.
type UserQuery struct {
	ID        string           `json:"id" db:"id"`
	UserID    string           `json:"user_id" db:"user_id"`
	EngineID  string           `json:"engine_id" db:"engine_id"`
	History   []UserQueryEntry `json:"history" db:"-"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt time.Time        `json:"updated_at" db:"updated_at"`
}

// BuildRequest is a request to build a new query engine over a document corpus.
type BuildRequest struct {
	DocURL      string `json:"doc_url"`
	QueryEngine string `json:"query_engine"`
	UserID      string `json:"user_id"`
	IsPublic    bool   `json:"is_public"`
	LLMType     string `json:"llm_type,omitempty"`
}

// Validate checks required build request fields.
func (r *BuildRequest) Validate() error {
	if r.QueryEngine == "" {
		return fmt.Errorf("query_engine cannot be empty")
	}
	if r.DocURL == "" {
		return fmt.Errorf("doc_url cannot be empty")
	}
	return nil
}

// BuildResult is the outcome of a successful engine build.
type BuildResult struct {
	QueryEngineID    string   `json:"query_engine_id"`
	DocsProcessed    []string `json:"docs_processed"`
	DocsNotProcessed []string `json:"docs_not_processed"`
}

// QueryRequest is a request to run a prompt against a built engine.
type QueryRequest struct {
	UserID      string `json:"user_id"`
	Prompt      string `json:"prompt"`
	QueryEngine string `json:"query_engine"`
	LLMType     string `json:"llm_type,omitempty"`
	UserQueryID string `json:"user_query,omitempty"`
}

// Validate checks required query request fields.
func (r *QueryRequest) Validate() error {
	if r.Prompt == "" {
		return fmt.Errorf("prompt cannot be empty")
	}
	if r.QueryEngine == "" {
		return fmt.Errorf("query_engine cannot be empty")
	}
	return nil
}
