package objstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore implements Store on Google Cloud Storage.
type GCSStore struct {
	client  *storage.Client
	project string
}

// NewGCSStore creates a GCS-backed store for the given project. Credentials
// are resolved via the standard Google credential chain.
func NewGCSStore(ctx context.Context, project string, opts ...option.ClientOption) (*GCSStore, error) {
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{client: client, project: project}, nil
}

// List returns the names of all objects in bucket.
func (g *GCSStore) List(ctx context.Context, bucket string) ([]string, error) {
	var names []string
	it := g.client.Bucket(bucket).Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list bucket %s: %w", bucket, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// Download copies an object to localPath.
func (g *GCSStore) Download(ctx context.Context, bucket, object, localPath string) error {
	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("open object %s/%s: %w", bucket, object, err)
	}
	defer r.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("download %s/%s: %w", bucket, object, err)
	}
	return f.Close()
}

// Upload copies a local file into bucket under object.
func (g *GCSStore) Upload(ctx context.Context, bucket, object, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := g.client.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("upload %s/%s: %w", bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s/%s: %w", bucket, object, err)
	}
	return nil
}

// CreateBucket creates a bucket in the store's project.
func (g *GCSStore) CreateBucket(ctx context.Context, name string) error {
	if err := g.client.Bucket(name).Create(ctx, g.project, nil); err != nil {
		return fmt.Errorf("create bucket %s: %w", name, err)
	}
	return nil
}

// DeleteBucket removes a bucket, draining its objects first when force is true.
func (g *GCSStore) DeleteBucket(ctx context.Context, name string, force bool) error {
	bucket := g.client.Bucket(name)
	if force {
		it := bucket.Objects(ctx, nil)
		for {
			attrs, err := it.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return fmt.Errorf("list bucket %s for delete: %w", name, err)
			}
			if err := bucket.Object(attrs.Name).Delete(ctx); err != nil {
				return fmt.Errorf("delete object %s/%s: %w", name, attrs.Name, err)
			}
		}
	}
	if err := bucket.Delete(ctx); err != nil {
		return fmt.Errorf("delete bucket %s: %w", name, err)
	}
	return nil
}

// Close releases the underlying client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}
