package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kotaeru/internal/config"
	"github.com/hyperjump/kotaeru/internal/embedding"
	"github.com/hyperjump/kotaeru/internal/errs"
	"github.com/hyperjump/kotaeru/internal/models"
	"github.com/hyperjump/kotaeru/internal/objstore"
	"github.com/hyperjump/kotaeru/internal/source"
	"github.com/hyperjump/kotaeru/internal/storage"
	"github.com/hyperjump/kotaeru/internal/vector"
)

type buildEnv struct {
	builder *Builder
	store   storage.Storage
	objects *objstore.MemoryStore
	cfg     *config.Config
}

func newBuildEnv(t *testing.T) *buildEnv {
	t.Helper()
	cfg := &config.Config{Project: "proj"}
	config.ApplyDefaults(cfg)
	cfg.Query.ChunkSize = 50

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	objects := objstore.NewMemoryStore()
	encoder := embedding.NewBatchEncoder(embedding.NewMockEncoder(8),
		embedding.BatchConfig{BatchSize: 5, CallsPerSecond: 10000, Workers: 4}, zap.NewNop())
	vectors := vector.NewMemoryService(objects)

	return &buildEnv{
		builder: NewBuilder(store, objects, encoder, vectors, cfg, zap.NewNop()),
		store:   store,
		objects: objects,
		cfg:     cfg,
	}
}

func (e *buildEnv) seedCorpus(t *testing.T, files map[string]string) {
	t.Helper()
	if err := e.objects.CreateBucket(context.Background(), "corpus"); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		e.objects.Put("corpus", name, []byte(content))
	}
}

func buildRequest(engine string) *models.BuildRequest {
	return &models.BuildRequest{
		DocURL:      "gs://corpus",
		QueryEngine: engine,
		UserID:      "user-1",
		IsPublic:    true,
	}
}

func TestBuilder_BuildSuccess(t *testing.T) {
	ctx := context.Background()
	env := newBuildEnv(t)
	env.seedCorpus(t, map[string]string{
		"alpha.txt": strings.Repeat("a", 120), // 3 chunks at size 50
		"beta.txt":  strings.Repeat("b", 60),  // 2 chunks
	})

	result, err := env.builder.Build(ctx, buildRequest("wiki"))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.DocsProcessed) != 2 {
		t.Fatalf("processed %d docs, want 2: %v", len(result.DocsProcessed), result.DocsNotProcessed)
	}
	if len(result.DocsNotProcessed) != 0 {
		t.Errorf("unexpected failures: %v", result.DocsNotProcessed)
	}

	engine, err := env.store.GetEngineByName(ctx, "wiki")
	if err != nil {
		t.Fatal(err)
	}
	if engine.IndexID == "" || engine.EndpointID == "" {
		t.Error("engine missing index or endpoint id")
	}
	if engine.DeployStatus != models.DeployStatusDeployed {
		t.Errorf("deploy status = %q, want deployed", engine.DeployStatus)
	}

	// Documents occupy contiguous, disjoint index ranges starting at 0.
	docs, err := env.store.ListDocumentsByEngine(ctx, engine.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	var next int64
	total := int64(0)
	for _, doc := range docs {
		if doc.IndexStart != next {
			t.Errorf("doc %s starts at %d, want %d", doc.DocURL, doc.IndexStart, next)
		}
		if doc.IndexEnd <= doc.IndexStart {
			t.Errorf("doc %s has empty range [%d,%d)", doc.DocURL, doc.IndexStart, doc.IndexEnd)
		}
		next = doc.IndexEnd
		total += doc.IndexEnd - doc.IndexStart
	}
	if total != 5 {
		t.Errorf("total chunk range = %d, want 5", total)
	}

	count, err := env.store.CountChunksByEngine(ctx, engine.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 5 {
		t.Errorf("chunk count = %d, want 5", count)
	}

	// The data bucket holds the staged embedding files the index was built from.
	bucket := objstore.DataBucketName("proj", "wiki")
	objects, err := env.objects.List(ctx, bucket)
	if err != nil {
		t.Fatal(err)
	}
	if len(objects) != 2 {
		t.Errorf("data bucket has %d files, want 2: %v", len(objects), objects)
	}
}

func TestBuilder_DuplicateNameNoMutation(t *testing.T) {
	ctx := context.Background()
	env := newBuildEnv(t)
	env.seedCorpus(t, map[string]string{"doc.txt": "hello world"})

	if _, err := env.builder.Build(ctx, buildRequest("dup")); err != nil {
		t.Fatal(err)
	}
	before, err := env.store.GetEngineByName(ctx, "dup")
	if err != nil {
		t.Fatal(err)
	}

	_, err = env.builder.Build(ctx, buildRequest("dup"))
	if !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}

	after, err := env.store.GetEngineByName(ctx, "dup")
	if err != nil {
		t.Fatal(err)
	}
	if after.ID != before.ID || after.IndexID != before.IndexID {
		t.Error("existing engine mutated by duplicate build")
	}
}

func TestBuilder_SkipsUnusableDocs(t *testing.T) {
	ctx := context.Background()
	env := newBuildEnv(t)
	env.seedCorpus(t, map[string]string{
		"good.txt":  "some real content here",
		"empty.txt": "   \n\t ",
		"image.png": "\x89PNG",
	})

	result, err := env.builder.Build(ctx, buildRequest("mixed"))
	if err != nil {
		t.Fatal(err)
	}
	if len(result.DocsProcessed) != 1 {
		t.Errorf("processed %d docs, want 1", len(result.DocsProcessed))
	}
	if len(result.DocsNotProcessed) != 2 {
		t.Errorf("failed %d docs, want 2: %v", len(result.DocsNotProcessed), result.DocsNotProcessed)
	}
}

func TestBuilder_ProcessDocumentReleasesStaging(t *testing.T) {
	ctx := context.Background()
	env := newBuildEnv(t)

	engine := &models.QueryEngine{ID: "eng-1", Name: "clean", CreatedBy: "user-1"}
	if err := env.store.CreateEngine(ctx, engine); err != nil {
		t.Fatal(err)
	}
	bucket := objstore.DataBucketName("proj", "clean")
	if err := env.objects.CreateBucket(ctx, bucket); err != nil {
		t.Fatal(err)
	}

	stagingDir := t.TempDir()
	docPath := filepath.Join(stagingDir, "0000_guide.txt")
	if err := os.WriteFile(docPath, []byte("staged text worth embedding"), 0o644); err != nil {
		t.Fatal(err)
	}
	doc := source.StagedDoc{Name: "guide.txt", URL: "gs://corpus/guide.txt", Path: docPath}

	if _, err := env.builder.processDocument(ctx, engine, bucket, stagingDir, doc, 0); err != nil {
		t.Fatal(err)
	}

	// The staged file and the per-document embedding dir are released as soon
	// as the embedding files are in the bucket, not at the end of the build.
	if _, err := os.Stat(docPath); !os.IsNotExist(err) {
		t.Errorf("staged document still present: %v", err)
	}
	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("staging dir holds %d entries after processing, want 0", len(entries))
	}
}

func TestBuilder_NoDocumentsRollsBack(t *testing.T) {
	ctx := context.Background()
	env := newBuildEnv(t)
	env.seedCorpus(t, map[string]string{"only.png": "\x89PNG"})

	_, err := env.builder.Build(ctx, buildRequest("hollow"))
	if !errors.Is(err, errs.ErrNoDocumentsIndexed) {
		t.Fatalf("err = %v, want ErrNoDocumentsIndexed", err)
	}

	// Rollback removed the engine record entirely.
	if _, err := env.store.GetEngineByName(ctx, "hollow"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("engine lookup after rollback = %v, want ErrNotFound", err)
	}
}

func TestBuilder_SourceUnavailableRollsBack(t *testing.T) {
	ctx := context.Background()
	env := newBuildEnv(t)
	// No corpus bucket exists at all.
	req := buildRequest("orphan")
	req.DocURL = "gs://missing-corpus"

	_, err := env.builder.Build(ctx, req)
	if !errors.Is(err, errs.ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
	if _, err := env.store.GetEngineByName(ctx, "orphan"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("engine lookup after rollback = %v, want ErrNotFound", err)
	}
}

func TestBuilder_ValidateRequest(t *testing.T) {
	env := newBuildEnv(t)
	if _, err := env.builder.Build(context.Background(), &models.BuildRequest{DocURL: "gs://x"}); err == nil {
		t.Error("expected error for missing engine name")
	}
	if _, err := env.builder.Build(context.Background(), &models.BuildRequest{QueryEngine: "x"}); err == nil {
		t.Error("expected error for missing doc url")
	}
}

func TestBuilder_Delete(t *testing.T) {
	ctx := context.Background()
	env := newBuildEnv(t)
	env.seedCorpus(t, map[string]string{"doc.txt": "delete me later"})

	if _, err := env.builder.Build(ctx, buildRequest("gone")); err != nil {
		t.Fatal(err)
	}
	if err := env.builder.Delete(ctx, "gone"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.store.GetEngineByName(ctx, "gone"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("engine lookup after delete = %v, want ErrNotFound", err)
	}
	if _, err := env.objects.List(ctx, objstore.DataBucketName("proj", "gone")); err == nil {
		t.Error("data bucket still exists after delete")
	}

	if err := env.builder.Delete(ctx, "never-was"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("delete unknown engine = %v, want ErrNotFound", err)
	}
}
