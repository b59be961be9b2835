package vector

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hyperjump/kotaeru/internal/errs"
	"github.com/hyperjump/kotaeru/internal/objstore"
)

// MemoryService is an in-process Service using brute-force dot-product
// search over vectors ingested from staged embedding files. Suitable for
// tests and deployments without a managed ANN backend.
type MemoryService struct {
	store objstore.Store

	mu        sync.RWMutex
	indexes   map[string]*memIndex
	endpoints map[string]*memEndpoint
}

type memIndex struct {
	name    string
	dims    int
	ids     []int64
	vectors [][]float32
}

type memEndpoint struct {
	name     string
	public   bool
	deployed map[string]string // deployment slot id -> index id
}

// embeddingRecord is one line of an index-ingestible embedding file:
// {"id": "<integer-as-string>", "embedding": ["<float-as-string>", ...]}.
type embeddingRecord struct {
	ID        string   `json:"id"`
	Embedding []string `json:"embedding"`
}

// NewMemoryService creates an in-process ANN service that ingests embedding
// files from the given object store.
func NewMemoryService(store objstore.Store) *MemoryService {
	return &MemoryService{
		store:     store,
		indexes:   make(map[string]*memIndex),
		endpoints: make(map[string]*memEndpoint),
	}
}

// CreateIndex loads every staged embedding file in bucket and builds an index.
func (m *MemoryService) CreateIndex(ctx context.Context, name, bucket string, params IndexParams) (string, error) {
	idx, err := m.loadIndex(ctx, name, bucket, params)
	if err != nil {
		return "", fmt.Errorf("create index %s: %w", name, err)
	}

	id := "idx-" + uuid.New().String()
	m.mu.Lock()
	m.indexes[id] = idx
	m.mu.Unlock()
	return id, nil
}

// RestoreDeployment rebuilds a deployment under its persisted identifiers by
// re-ingesting the engine's staged embedding files. Index and endpoint state
// lives in process memory only, so a committed engine stops serving after a
// restart until its deployment is restored from the bucket.
func (m *MemoryService) RestoreDeployment(ctx context.Context, indexID, endpointID, deployedID, bucket string, params IndexParams) error {
	idx, err := m.loadIndex(ctx, deployedID, bucket, params)
	if err != nil {
		return fmt.Errorf("restore deployment %s: %w", deployedID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexes[indexID] = idx
	ep, ok := m.endpoints[endpointID]
	if !ok {
		ep = &memEndpoint{name: endpointID, deployed: make(map[string]string)}
		m.endpoints[endpointID] = ep
	}
	ep.deployed[deployedID] = indexID
	return nil
}

// loadIndex downloads and ingests every embedding file in bucket.
func (m *MemoryService) loadIndex(ctx context.Context, name, bucket string, params IndexParams) (*memIndex, error) {
	if params.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	objects, err := m.store.List(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("list bucket %s: %w", bucket, err)
	}

	idx := &memIndex{name: name, dims: params.Dimensions}
	tmpDir, err := os.MkdirTemp("", "vector-ingest-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	for _, object := range objects {
		if !strings.HasSuffix(object, ".json") {
			continue
		}
		localPath := filepath.Join(tmpDir, filepath.Base(object))
		if err := m.store.Download(ctx, bucket, object, localPath); err != nil {
			return nil, fmt.Errorf("download %s: %w", object, err)
		}
		if err := idx.ingestFile(localPath); err != nil {
			return nil, fmt.Errorf("ingest %s: %w", object, err)
		}
	}
	return idx, nil
}

// ingestFile reads newline-delimited embedding records into the index.
func (idx *memIndex) ingestFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec embeddingRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return fmt.Errorf("parse record: %w", err)
		}
		id, err := strconv.ParseInt(rec.ID, 10, 64)
		if err != nil {
			return fmt.Errorf("parse record id %q: %w", rec.ID, err)
		}
		if len(rec.Embedding) != idx.dims {
			return fmt.Errorf("record %d: dimension mismatch: got %d, expected %d", id, len(rec.Embedding), idx.dims)
		}
		vec := make([]float32, idx.dims)
		for i, s := range rec.Embedding {
			v, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return fmt.Errorf("record %d: parse value: %w", id, err)
			}
			vec[i] = float32(v)
		}
		idx.ids = append(idx.ids, id)
		idx.vectors = append(idx.vectors, vec)
	}
	return scanner.Err()
}

// CreateEndpoint registers a serving endpoint.
func (m *MemoryService) CreateEndpoint(ctx context.Context, name string, public bool) (string, error) {
	id := "ep-" + uuid.New().String()
	m.mu.Lock()
	m.endpoints[id] = &memEndpoint{name: name, public: public, deployed: make(map[string]string)}
	m.mu.Unlock()
	return id, nil
}

// DeployIndex attaches an index to an endpoint under deployedID.
func (m *MemoryService) DeployIndex(ctx context.Context, indexID, endpointID, deployedID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[indexID]; !ok {
		return fmt.Errorf("deploy: index %s: %w", indexID, errs.ErrNotFound)
	}
	ep, ok := m.endpoints[endpointID]
	if !ok {
		return fmt.Errorf("deploy: endpoint %s: %w", endpointID, errs.ErrNotFound)
	}
	ep.deployed[deployedID] = indexID
	return nil
}

// FindNeighbors returns the top-k neighbors by dot product in descending order.
func (m *MemoryService) FindNeighbors(ctx context.Context, endpointID, deployedID string, query []float32, k int) ([]Neighbor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ep, ok := m.endpoints[endpointID]
	if !ok {
		return nil, fmt.Errorf("find neighbors: endpoint %s: %w", endpointID, errs.ErrNotFound)
	}
	indexID, ok := ep.deployed[deployedID]
	if !ok {
		return nil, fmt.Errorf("find neighbors: deployment %s on endpoint %s: %w", deployedID, endpointID, errs.ErrNotFound)
	}
	idx := m.indexes[indexID]
	if idx == nil {
		return nil, fmt.Errorf("find neighbors: index %s: %w", indexID, errs.ErrNotFound)
	}
	if len(query) != idx.dims {
		return nil, fmt.Errorf("find neighbors: query dimension mismatch: got %d, expected %d", len(query), idx.dims)
	}
	if k <= 0 || len(idx.ids) == 0 {
		return nil, nil
	}

	neighbors := make([]Neighbor, len(idx.ids))
	for i, vec := range idx.vectors {
		var dot float64
		for j := 0; j < idx.dims; j++ {
			dot += float64(query[j] * vec[j])
		}
		neighbors[i] = Neighbor{ID: idx.ids[i], Distance: dot}
	}
	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].Distance > neighbors[j].Distance })
	if k > len(neighbors) {
		k = len(neighbors)
	}
	return neighbors[:k], nil
}

// DeleteIndex removes an index resource.
func (m *MemoryService) DeleteIndex(ctx context.Context, indexID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.indexes, indexID)
	return nil
}

// DeleteEndpoint removes an endpoint and its deployments.
func (m *MemoryService) DeleteEndpoint(ctx context.Context, endpointID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.endpoints, endpointID)
	return nil
}

// Size returns the number of vectors held by an index. Test helper.
func (m *MemoryService) Size(indexID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx := m.indexes[indexID]
	if idx == nil {
		return 0
	}
	return len(idx.ids)
}
