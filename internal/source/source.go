// Package source enumerates and stages documents from a corpus location.
package source

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kotaeru/internal/errs"
	"github.com/hyperjump/kotaeru/internal/objstore"
)

// StagedDoc is one corpus document downloaded into the staging area.
type StagedDoc struct {
	Name string // base file name
	URL  string // full source URL
	Path string // local staging path
}

// Adapter downloads corpus documents from object storage into a staging directory.
type Adapter struct {
	store  objstore.Store
	logger *zap.Logger
}

// NewAdapter creates a source adapter over the given object store.
func NewAdapter(store objstore.Store, logger *zap.Logger) *Adapter {
	return &Adapter{store: store, logger: logger}
}

// Fetch lists the corpus at corpusURL and downloads each object into
// stagingDir. A prefix in the URL matches an exact object or a directory
// boundary, so gs://b/docs does not pick up docs-old/. Staged file names are
// prefixed with the listing position because flattening directories would
// otherwise let two objects with the same base name overwrite each other.
// A listing failure is fatal (errs.ErrSourceUnavailable); individual
// download failures are returned in failed rather than aborting the
// enumeration.
func (a *Adapter) Fetch(ctx context.Context, corpusURL, stagingDir string) (docs []StagedDoc, failed []string, err error) {
	bucket, prefix, err := objstore.ParseURL(corpusURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errs.ErrSourceUnavailable, err)
	}

	objects, err := a.store.List(ctx, bucket)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: listing %s: %v", errs.ErrSourceUnavailable, corpusURL, err)
	}

	for i, object := range objects {
		if prefix != "" && object != prefix && !strings.HasPrefix(object, prefix+"/") {
			continue
		}
		name := path.Base(object)
		url := fmt.Sprintf("gs://%s/%s", bucket, object)
		localPath := filepath.Join(stagingDir, fmt.Sprintf("%04d_%s", i, name))
		if err := a.store.Download(ctx, bucket, object, localPath); err != nil {
			a.logger.Warn("failed to download document", zap.String("url", url), zap.Error(err))
			failed = append(failed, url)
			continue
		}
		docs = append(docs, StagedDoc{Name: name, URL: url, Path: localPath})
	}
	return docs, failed, nil
}
