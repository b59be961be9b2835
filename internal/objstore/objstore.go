// Package objstore defines the object storage interface used for document
// corpora and embedding file staging.
package objstore

import (
	"context"
	"fmt"
	"strings"
)

// Store defines bucket-level object storage operations. Implementations are a
// real cloud adapter (GCS) or an in-memory store for tests and development.
type Store interface {
	// List returns the names of all objects in a bucket.
	List(ctx context.Context, bucket string) ([]string, error)
	// Download copies an object to a local file path.
	Download(ctx context.Context, bucket, object, localPath string) error
	// Upload copies a local file into a bucket under the given object name.
	Upload(ctx context.Context, bucket, object, localPath string) error
	// CreateBucket creates a bucket. Fails if the bucket already exists.
	CreateBucket(ctx context.Context, name string) error
	// DeleteBucket removes a bucket. When force is true, objects inside are
	// deleted first.
	DeleteBucket(ctx context.Context, name string, force bool) error
}

// DataBucketName returns the staging bucket name for an engine's index data.
func DataBucketName(project, engine string) string {
	return fmt.Sprintf("%s-%s-data", project, engine)
}

// ParseURL splits a gs://bucket/prefix URL into bucket and prefix.
func ParseURL(url string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(url, "gs://")
	if !ok {
		return "", "", fmt.Errorf("unsupported corpus URL %q (expected gs://)", url)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("corpus URL %q has no bucket", url)
	}
	return bucket, prefix, nil
}

// RecreateBucket ensures a fresh, empty bucket: if name already exists it is
// force-deleted and created again.
func RecreateBucket(ctx context.Context, store Store, name string) error {
	err := store.CreateBucket(ctx, name)
	if err == nil {
		return nil
	}
	if delErr := store.DeleteBucket(ctx, name, true); delErr != nil {
		return fmt.Errorf("create bucket %s: %w", name, err)
	}
	return store.CreateBucket(ctx, name)
}
