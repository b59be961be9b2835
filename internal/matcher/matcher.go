// Package matcher answers prompts against a built query engine: it embeds
// the prompt, finds its nearest chunks, joins them back to their documents,
// and optionally asks a chat model for a grounded answer.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotaeru/internal/config"
	"github.com/hyperjump/kotaeru/internal/embedding"
	"github.com/hyperjump/kotaeru/internal/errs"
	"github.com/hyperjump/kotaeru/internal/models"
	"github.com/hyperjump/kotaeru/internal/objstore"
	"github.com/hyperjump/kotaeru/internal/storage"
	"github.com/hyperjump/kotaeru/internal/vector"
)

// ChatModel generates a text answer for a prompt. Optional: a matcher
// without one returns matched references with an empty response.
type ChatModel interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Response is the outcome of one query: the persisted result, its references
// in similarity order, and the id of the user's query history record.
type Response struct {
	Result      *models.QueryResult      `json:"result"`
	References  []*models.QueryReference `json:"references"`
	UserQueryID string                   `json:"user_query_id,omitempty"`
}

// Matcher runs prompts against built engines.
type Matcher struct {
	store   storage.Storage
	encoder *embedding.BatchEncoder
	vectors vector.Service
	chat    ChatModel
	cfg     *config.Config
	logger  *zap.Logger
}

// NewMatcher wires a matcher. chat may be nil.
func NewMatcher(store storage.Storage, encoder *embedding.BatchEncoder, vectors vector.Service, chat ChatModel, cfg *config.Config, logger *zap.Logger) *Matcher {
	return &Matcher{
		store:   store,
		encoder: encoder,
		vectors: vectors,
		chat:    chat,
		cfg:     cfg,
		logger:  logger,
	}
}

// Query matches req.Prompt against the named engine and persists the result.
// A neighbor id with no chunk record means the metadata store and the index
// have diverged, which is reported as an error rather than silently skipped.
func (m *Matcher) Query(ctx context.Context, req *models.QueryRequest) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	engine, err := m.store.GetEngineByName(ctx, req.QueryEngine)
	if err != nil {
		return nil, err
	}

	queryVec, err := m.encoder.EncodeOne(ctx, req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: embed prompt: %v", errs.ErrInternal, err)
	}

	neighbors, err := m.vectors.FindNeighbors(ctx, engine.EndpointID, engine.DeployedIndexName, queryVec, m.cfg.Query.NumNeighbors)
	if errors.Is(err, errs.ErrNotFound) {
		neighbors, err = m.restoreAndRetry(ctx, engine, queryVec, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find neighbors: %v", errs.ErrInternal, err)
	}

	now := time.Now().UTC()
	refs := make([]*models.QueryReference, 0, len(neighbors))
	for _, n := range neighbors {
		chunk, err := m.store.GetChunkByIndex(ctx, engine.ID, n.ID)
		if err != nil {
			return nil, fmt.Errorf("chunk index %d: %w", n.ID, err)
		}
		doc, err := m.store.GetDocument(ctx, chunk.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", chunk.DocumentID, err)
		}
		refs = append(refs, &models.QueryReference{
			ID:          uuid.New().String(),
			EngineID:    engine.ID,
			DocumentID:  doc.ID,
			DocumentURL: doc.DocURL,
			ChunkID:     chunk.ID,
			Text:        chunk.Text,
			CreatedAt:   now,
		})
	}

	response := ""
	if m.chat != nil && len(refs) > 0 {
		response, err = m.chat.Generate(ctx, m.buildPrompt(req.Prompt, refs))
		if err != nil {
			// The match itself succeeded; return references without an answer.
			m.logger.Warn("chat generation failed",
				zap.String("engine", engine.Name),
				zap.Error(err))
			response = ""
		}
	}

	result := &models.QueryResult{
		ID:        uuid.New().String(),
		EngineID:  engine.ID,
		Prompt:    req.Prompt,
		Response:  response,
		CreatedAt: now,
	}
	for _, ref := range refs {
		if err := m.store.CreateQueryReference(ctx, ref); err != nil {
			return nil, fmt.Errorf("%w: persist reference: %v", errs.ErrInternal, err)
		}
		result.ReferenceIDs = append(result.ReferenceIDs, ref.ID)
	}
	if err := m.store.CreateQueryResult(ctx, result); err != nil {
		return nil, fmt.Errorf("%w: persist result: %v", errs.ErrInternal, err)
	}

	userQueryID, err := m.recordHistory(ctx, engine.ID, req, result)
	if err != nil {
		return nil, err
	}

	m.logger.Info("query answered",
		zap.String("engine", engine.Name),
		zap.Int("references", len(refs)))
	return &Response{Result: result, References: refs, UserQueryID: userQueryID}, nil
}

// restoreAndRetry rebuilds the engine's deployment when the vector service
// no longer knows the persisted endpoint or deployment, as happens after a
// restart of the in-process service. The committed engine record and its
// data bucket are the source of truth, so the deployment is re-ingested
// under the same identifiers and the search retried once.
func (m *Matcher) restoreAndRetry(ctx context.Context, engine *models.QueryEngine, queryVec []float32, findErr error) ([]vector.Neighbor, error) {
	r, ok := m.vectors.(vector.DeploymentRestorer)
	if !ok {
		return nil, findErr
	}
	bucket := objstore.DataBucketName(m.cfg.Project, engine.Name)
	params := vector.IndexParams{
		Dimensions:               m.encoder.Dimensions(),
		ApproximateNeighborCount: m.cfg.Index.ApproximateNeighborCount,
		DistanceMeasure:          m.cfg.Index.DistanceMeasure,
		LeafNodeEmbeddingCount:   m.cfg.Index.LeafNodeEmbeddingCount,
		LeafNodesToSearchPercent: m.cfg.Index.LeafNodesToSearchPercent,
	}
	if err := r.RestoreDeployment(ctx, engine.IndexID, engine.EndpointID, engine.DeployedIndexName, bucket, params); err != nil {
		m.logger.Warn("deployment restore failed",
			zap.String("engine", engine.Name),
			zap.Error(err))
		return nil, findErr
	}
	m.logger.Info("deployment restored from data bucket", zap.String("engine", engine.Name))
	return m.vectors.FindNeighbors(ctx, engine.EndpointID, engine.DeployedIndexName, queryVec, m.cfg.Query.NumNeighbors)
}

// buildPrompt assembles the grounded chat prompt from the matched chunk texts.
func (m *Matcher) buildPrompt(question string, refs []*models.QueryReference) string {
	var sb strings.Builder
	sb.WriteString("Answer the question using only the context below.\n\nContext:\n")
	for _, ref := range refs {
		sb.WriteString(ref.Text)
		sb.WriteString("\n---\n")
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	return sb.String()
}

// recordHistory appends to an existing user query record or creates a new one.
func (m *Matcher) recordHistory(ctx context.Context, engineID string, req *models.QueryRequest, result *models.QueryResult) (string, error) {
	entry := models.UserQueryEntry{Prompt: result.Prompt, Response: result.Response}
	if req.UserQueryID != "" {
		if err := m.store.AppendUserQueryHistory(ctx, req.UserQueryID, entry); err != nil {
			return "", fmt.Errorf("user query %s: %w", req.UserQueryID, err)
		}
		return req.UserQueryID, nil
	}

	now := time.Now().UTC()
	query := &models.UserQuery{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		EngineID:  engineID,
		History:   []models.UserQueryEntry{entry},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateUserQuery(ctx, query); err != nil {
		return "", fmt.Errorf("%w: create user query: %v", errs.ErrInternal, err)
	}
	return query.ID, nil
}
