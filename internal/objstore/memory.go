package objstore

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]map[string][]byte)}
}

// Put stores object bytes directly, creating the bucket if needed. Test seeding helper.
func (m *MemoryStore) Put(bucket, object string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buckets[bucket] == nil {
		m.buckets[bucket] = make(map[string][]byte)
	}
	m.buckets[bucket][object] = data
}

// Get returns object bytes, or false if absent. Test inspection helper.
func (m *MemoryStore) Get(bucket, object string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[bucket]
	if !ok {
		return nil, false
	}
	data, ok := b[object]
	return data, ok
}

// List returns sorted object names in bucket.
func (m *MemoryStore) List(ctx context.Context, bucket string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[bucket]
	if !ok {
		return nil, fmt.Errorf("bucket %s does not exist", bucket)
	}
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Download writes an object's bytes to localPath.
func (m *MemoryStore) Download(ctx context.Context, bucket, object, localPath string) error {
	data, ok := m.Get(bucket, object)
	if !ok {
		return fmt.Errorf("object %s/%s does not exist", bucket, object)
	}
	return os.WriteFile(localPath, data, 0644)
}

// Upload reads a local file into the bucket.
func (m *MemoryStore) Upload(ctx context.Context, bucket, object, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read local file: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[bucket]
	if !ok {
		return fmt.Errorf("bucket %s does not exist", bucket)
	}
	b[object] = data
	return nil
}

// CreateBucket creates an empty bucket; fails if it already exists.
func (m *MemoryStore) CreateBucket(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[name]; ok {
		return fmt.Errorf("bucket %s already exists", name)
	}
	m.buckets[name] = make(map[string][]byte)
	return nil
}

// DeleteBucket removes a bucket. Without force, a non-empty bucket is an error.
func (m *MemoryStore) DeleteBucket(ctx context.Context, name string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[name]
	if !ok {
		return fmt.Errorf("bucket %s does not exist", name)
	}
	if len(b) > 0 && !force {
		return fmt.Errorf("bucket %s is not empty", name)
	}
	delete(m.buckets, name)
	return nil
}
