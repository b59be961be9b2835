// Package errs defines the error taxonomy shared across the build and query paths.
package errs

import "errors"

var (
	// ErrAlreadyExists indicates a query engine with the requested name already exists.
	ErrAlreadyExists = errors.New("query engine already exists")
	// ErrNotFound indicates a missing engine, document, or chunk reference.
	ErrNotFound = errors.New("resource not found")
	// ErrNoDocumentsIndexed indicates no document in a build survived processing.
	ErrNoDocumentsIndexed = errors.New("no documents indexed")
	// ErrSourceUnavailable indicates the document corpus could not be listed.
	ErrSourceUnavailable = errors.New("document source unavailable")
	// ErrUnsupportedType indicates a document type the parser cannot handle.
	// Per-document and non-fatal: the build records the document as unprocessed.
	ErrUnsupportedType = errors.New("unsupported document type")
	// ErrInternal wraps any unexpected fatal build failure, reported after rollback.
	ErrInternal = errors.New("internal error")
)
