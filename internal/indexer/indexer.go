// Package indexer builds query engines: it stages a document corpus, chunks
// and embeds the text, writes embedding files to the engine's data bucket,
// and stands up the ANN index and endpoint.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotaeru/internal/config"
	"github.com/hyperjump/kotaeru/internal/embedding"
	"github.com/hyperjump/kotaeru/internal/errs"
	"github.com/hyperjump/kotaeru/internal/extract"
	"github.com/hyperjump/kotaeru/internal/models"
	"github.com/hyperjump/kotaeru/internal/objstore"
	"github.com/hyperjump/kotaeru/internal/source"
	"github.com/hyperjump/kotaeru/internal/storage"
	"github.com/hyperjump/kotaeru/internal/vector"
)

// Builder orchestrates engine builds and teardowns.
type Builder struct {
	store     storage.Storage
	objects   objstore.Store
	src       *source.Adapter
	extractor *extract.Extractor
	chunker   *Chunker
	encoder   *embedding.BatchEncoder
	vectors   vector.Service
	cfg       *config.Config
	logger    *zap.Logger
}

// NewBuilder wires a builder from its collaborators.
func NewBuilder(store storage.Storage, objects objstore.Store, encoder *embedding.BatchEncoder, vectors vector.Service, cfg *config.Config, logger *zap.Logger) *Builder {
	return &Builder{
		store:     store,
		objects:   objects,
		src:       source.NewAdapter(objects, logger),
		extractor: extract.NewExtractor(),
		chunker:   NewChunker(cfg.Query.ChunkSize),
		encoder:   encoder,
		vectors:   vectors,
		cfg:       cfg,
		logger:    logger,
	}
}

// Build creates a new query engine over the corpus in req.DocURL.
//
// The engine record is created first so that a duplicate name fails fast with
// errs.ErrAlreadyExists and touches nothing. Documents that cannot be parsed,
// embedded, or uploaded are skipped and reported in DocsNotProcessed; a build
// where no document succeeds, or where infrastructure fails, rolls back all
// metadata written so far and removes the engine record.
func (b *Builder) Build(ctx context.Context, req *models.BuildRequest) (*models.BuildResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	engine := &models.QueryEngine{
		ID:        uuid.New().String(),
		Name:      req.QueryEngine,
		CreatedBy: req.UserID,
		IsPublic:  req.IsPublic,
		LLMType:   req.LLMType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.store.CreateEngine(ctx, engine); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: create engine: %v", errs.ErrInternal, err)
	}

	result, err := b.build(ctx, engine, req)
	if err != nil {
		// Rollback must run even when the failure was a cancelled context.
		b.rollback(context.WithoutCancel(ctx), engine)
		return nil, err
	}
	return result, nil
}

func (b *Builder) build(ctx context.Context, engine *models.QueryEngine, req *models.BuildRequest) (*models.BuildResult, error) {
	bucket := objstore.DataBucketName(b.cfg.Project, engine.Name)
	if err := objstore.RecreateBucket(ctx, b.objects, bucket); err != nil {
		return nil, fmt.Errorf("%w: prepare data bucket: %v", errs.ErrInternal, err)
	}

	stagingDir, err := os.MkdirTemp("", "kotaeru-build-")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInternal, err)
	}
	defer os.RemoveAll(stagingDir)

	docs, failed, err := b.src.Fetch(ctx, req.DocURL, stagingDir)
	if err != nil {
		return nil, err
	}

	result := &models.BuildResult{
		QueryEngineID:    engine.ID,
		DocsNotProcessed: failed,
	}

	var indexBase int64
	for _, doc := range docs {
		submitted, err := b.processDocument(ctx, engine, bucket, stagingDir, doc, indexBase)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", errs.ErrInternal, ctx.Err())
			}
			b.logger.Warn("document not processed",
				zap.String("engine", engine.Name),
				zap.String("doc", doc.URL),
				zap.Error(err))
			result.DocsNotProcessed = append(result.DocsNotProcessed, doc.URL)
			continue
		}
		indexBase += submitted
		result.DocsProcessed = append(result.DocsProcessed, doc.URL)
	}

	if len(result.DocsProcessed) == 0 {
		return nil, fmt.Errorf("%w: corpus %s", errs.ErrNoDocumentsIndexed, req.DocURL)
	}

	params := vector.IndexParams{
		Dimensions:               b.encoder.Dimensions(),
		ApproximateNeighborCount: b.cfg.Index.ApproximateNeighborCount,
		DistanceMeasure:          b.cfg.Index.DistanceMeasure,
		LeafNodeEmbeddingCount:   b.cfg.Index.LeafNodeEmbeddingCount,
		LeafNodesToSearchPercent: b.cfg.Index.LeafNodesToSearchPercent,
	}
	indexID, err := b.vectors.CreateIndex(ctx, engine.Name+"-index", bucket, params)
	if err != nil {
		return nil, fmt.Errorf("%w: create index: %v", errs.ErrInternal, err)
	}
	endpointID, err := b.vectors.CreateEndpoint(ctx, engine.Name+"-endpoint", engine.IsPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: create endpoint: %v", errs.ErrInternal, err)
	}

	engine.IndexID = indexID
	engine.EndpointID = endpointID
	engine.DeployedIndexName = engine.Name + "-deployed"

	// Deployment may complete asynchronously after the call errors, so a
	// failed deploy is recorded as unknown and does not fail the build.
	if err := b.vectors.DeployIndex(ctx, indexID, endpointID, engine.DeployedIndexName); err != nil {
		b.logger.Warn("index deploy did not confirm",
			zap.String("engine", engine.Name),
			zap.Error(err))
		engine.DeployStatus = models.DeployStatusUnknown
	} else {
		engine.DeployStatus = models.DeployStatusDeployed
	}
	engine.UpdatedAt = time.Now().UTC()
	if err := b.store.UpdateEngine(ctx, engine); err != nil {
		return nil, fmt.Errorf("%w: update engine: %v", errs.ErrInternal, err)
	}

	b.logger.Info("engine built",
		zap.String("engine", engine.Name),
		zap.Int("docs_processed", len(result.DocsProcessed)),
		zap.Int("docs_not_processed", len(result.DocsNotProcessed)),
		zap.Int64("chunks", indexBase),
		zap.String("deploy_status", engine.DeployStatus))
	return result, nil
}

// processDocument turns one staged document into uploaded embedding files and
// persisted metadata. It returns the number of chunks submitted for
// embedding, which advances the engine's global index base even for chunks
// whose embedding failed.
func (b *Builder) processDocument(ctx context.Context, engine *models.QueryEngine, bucket, stagingDir string, doc source.StagedDoc, indexBase int64) (int64, error) {
	sections, err := b.extractor.Sections(doc.Path)
	if err != nil {
		return 0, fmt.Errorf("extract: %w", err)
	}
	chunks := b.chunker.Split(sections)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("no text content")
	}

	vectors, ok, err := b.encoder.EncodeChunks(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embed: %w", err)
	}
	succeeded := 0
	for _, v := range ok {
		if v {
			succeeded++
		}
	}
	if succeeded == 0 {
		return 0, fmt.Errorf("no chunk embedded")
	}

	embedDir, err := os.MkdirTemp(stagingDir, "embed-")
	if err != nil {
		return 0, err
	}
	paths, err := writeEmbeddingFiles(embedDir, stemOf(doc.Name), indexBase, vectors, b.cfg.Index.MaxChunksPerFile)
	if err != nil {
		return 0, err
	}
	for _, path := range paths {
		object := filepath.Base(path)
		if err := b.objects.Upload(ctx, bucket, object, path); err != nil {
			return 0, fmt.Errorf("upload %s: %w", object, err)
		}
	}
	// The bucket now holds the embedding files and the chunk texts are
	// already in memory, so both local copies are released rather than
	// accumulating for the rest of the build.
	if err := os.RemoveAll(embedDir); err != nil {
		b.logger.Warn("remove embedding dir", zap.String("dir", embedDir), zap.Error(err))
	}
	if err := os.Remove(doc.Path); err != nil {
		b.logger.Warn("remove staged document", zap.String("path", doc.Path), zap.Error(err))
	}

	// Metadata is written only after every upload succeeded so the store
	// never references vectors that are not in the bucket.
	now := time.Now().UTC()
	record := &models.Document{
		ID:         uuid.New().String(),
		EngineID:   engine.ID,
		DocURL:     doc.URL,
		IndexStart: indexBase,
		IndexEnd:   indexBase + int64(len(chunks)),
		CreatedAt:  now,
	}
	if err := b.store.CreateDocument(ctx, record); err != nil {
		return 0, fmt.Errorf("persist document: %w", err)
	}
	chunkRecords := make([]*models.DocumentChunk, 0, succeeded)
	for pos, text := range chunks {
		if !ok[pos] {
			continue
		}
		chunkRecords = append(chunkRecords, &models.DocumentChunk{
			ID:         uuid.New().String(),
			EngineID:   engine.ID,
			DocumentID: record.ID,
			Index:      indexBase + int64(pos),
			Text:       text,
			CreatedAt:  now,
		})
	}
	if err := b.store.BatchCreateChunks(ctx, chunkRecords); err != nil {
		return 0, fmt.Errorf("persist chunks: %w", err)
	}
	return int64(len(chunks)), nil
}

// rollback removes everything a failed build wrote: chunks first, then
// documents, then the engine record itself. Each step is best effort.
func (b *Builder) rollback(ctx context.Context, engine *models.QueryEngine) {
	if err := b.store.DeleteChunksByEngine(ctx, engine.ID); err != nil {
		b.logger.Error("rollback: delete chunks", zap.String("engine", engine.Name), zap.Error(err))
	}
	if err := b.store.DeleteDocumentsByEngine(ctx, engine.ID); err != nil {
		b.logger.Error("rollback: delete documents", zap.String("engine", engine.Name), zap.Error(err))
	}
	if err := b.store.DeleteEngine(ctx, engine.ID); err != nil {
		b.logger.Error("rollback: delete engine", zap.String("engine", engine.Name), zap.Error(err))
	}
}

// Delete tears down an engine by name: its ANN resources, its data bucket,
// and its metadata. Resource deletions are best effort; metadata removal is not.
func (b *Builder) Delete(ctx context.Context, name string) error {
	engine, err := b.store.GetEngineByName(ctx, name)
	if err != nil {
		return err
	}
	if engine.EndpointID != "" {
		if err := b.vectors.DeleteEndpoint(ctx, engine.EndpointID); err != nil {
			b.logger.Warn("delete endpoint", zap.String("engine", name), zap.Error(err))
		}
	}
	if engine.IndexID != "" {
		if err := b.vectors.DeleteIndex(ctx, engine.IndexID); err != nil {
			b.logger.Warn("delete index", zap.String("engine", name), zap.Error(err))
		}
	}
	bucket := objstore.DataBucketName(b.cfg.Project, engine.Name)
	if err := b.objects.DeleteBucket(ctx, bucket, true); err != nil {
		b.logger.Warn("delete data bucket", zap.String("bucket", bucket), zap.Error(err))
	}
	if err := b.store.DeleteChunksByEngine(ctx, engine.ID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := b.store.DeleteDocumentsByEngine(ctx, engine.ID); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	if err := b.store.DeleteEngine(ctx, engine.ID); err != nil {
		return fmt.Errorf("delete engine: %w", err)
	}
	b.logger.Info("engine deleted", zap.String("engine", name))
	return nil
}
