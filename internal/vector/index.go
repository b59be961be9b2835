// Package vector defines the ANN index service used to build and query
// approximate-nearest-neighbor indexes over staged embedding files.
package vector

import "context"

// IndexParams are the build parameters for an ANN index.
type IndexParams struct {
	Dimensions               int
	ApproximateNeighborCount int
	DistanceMeasure          string
	LeafNodeEmbeddingCount   int
	LeafNodesToSearchPercent int
}

// Neighbor is a single nearest-neighbor hit. ID is the global chunk index
// used to join back to the metadata store.
type Neighbor struct {
	ID       int64
	Distance float64
}

// DeploymentRestorer is implemented by services whose deployments can be
// lost independently of the committed engine record, such as the in-process
// service after a restart. RestoreDeployment rebuilds the deployment from
// the engine's staged embedding files under its persisted identifiers.
type DeploymentRestorer interface {
	RestoreDeployment(ctx context.Context, indexID, endpointID, deployedID, bucket string, params IndexParams) error
}

// Service manages ANN indexes and their serving endpoints. The in-process
// implementation ingests staged embedding files directly; a managed-service
// adapter implements the same operations against a remote API.
type Service interface {
	// CreateIndex builds an index named name from the embedding files staged
	// in bucket and returns the index resource identifier.
	CreateIndex(ctx context.Context, name, bucket string, params IndexParams) (string, error)
	// CreateEndpoint creates a serving endpoint and returns its identifier.
	CreateEndpoint(ctx context.Context, name string, public bool) (string, error)
	// DeployIndex attaches an index to an endpoint under a deployment slot id.
	DeployIndex(ctx context.Context, indexID, endpointID, deployedID string) error
	// FindNeighbors returns the k nearest neighbors of query from the index
	// deployed on the endpoint under deployedID, in descending similarity order.
	FindNeighbors(ctx context.Context, endpointID, deployedID string, query []float32, k int) ([]Neighbor, error)
	// DeleteIndex removes an index resource.
	DeleteIndex(ctx context.Context, indexID string) error
	// DeleteEndpoint removes an endpoint and its deployments.
	DeleteEndpoint(ctx context.Context, endpointID string) error
}
