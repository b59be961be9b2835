package matcher

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kotaeru/internal/config"
	"github.com/hyperjump/kotaeru/internal/embedding"
	"github.com/hyperjump/kotaeru/internal/errs"
	"github.com/hyperjump/kotaeru/internal/indexer"
	"github.com/hyperjump/kotaeru/internal/models"
	"github.com/hyperjump/kotaeru/internal/objstore"
	"github.com/hyperjump/kotaeru/internal/storage"
	"github.com/hyperjump/kotaeru/internal/vector"
)

type fakeChat struct {
	prompts []string
	fail    bool
}

func (c *fakeChat) Generate(ctx context.Context, prompt string) (string, error) {
	c.prompts = append(c.prompts, prompt)
	if c.fail {
		return "", errors.New("chat unavailable")
	}
	return "canned answer", nil
}

// buildDocsEngine builds an engine named "docs" over a small corpus and
// returns the collaborators it was built with.
func buildDocsEngine(t *testing.T) (storage.Storage, *objstore.MemoryStore, *embedding.BatchEncoder, vector.Service, *config.Config) {
	t.Helper()
	ctx := context.Background()
	cfg := &config.Config{Project: "proj"}
	config.ApplyDefaults(cfg)
	cfg.Query.ChunkSize = 40
	cfg.Query.NumNeighbors = 3

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	objects := objstore.NewMemoryStore()
	if err := objects.CreateBucket(ctx, "corpus"); err != nil {
		t.Fatal(err)
	}
	objects.Put("corpus", "guide.txt", []byte(strings.Repeat("install the agent then ", 10)))
	objects.Put("corpus", "faq.txt", []byte("restarting fixes most connection problems"))

	encoder := embedding.NewBatchEncoder(embedding.NewMockEncoder(8),
		embedding.BatchConfig{BatchSize: 5, CallsPerSecond: 10000, Workers: 2}, zap.NewNop())
	vectors := vector.NewMemoryService(objects)

	builder := indexer.NewBuilder(store, objects, encoder, vectors, cfg, zap.NewNop())
	req := &models.BuildRequest{DocURL: "gs://corpus", QueryEngine: "docs", UserID: "user-1"}
	if _, err := builder.Build(ctx, req); err != nil {
		t.Fatal(err)
	}

	return store, objects, encoder, vectors, cfg
}

func newMatcherEnv(t *testing.T, chat ChatModel) (*Matcher, storage.Storage) {
	t.Helper()
	store, _, encoder, vectors, cfg := buildDocsEngine(t)
	return NewMatcher(store, encoder, vectors, chat, cfg, zap.NewNop()), store
}

func TestMatcher_QueryReturnsReferences(t *testing.T) {
	ctx := context.Background()
	chat := &fakeChat{}
	m, store := newMatcherEnv(t, chat)

	resp, err := m.Query(ctx, &models.QueryRequest{
		UserID:      "user-1",
		Prompt:      "how do I fix connection problems",
		QueryEngine: "docs",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.References) != 3 {
		t.Fatalf("got %d references, want 3", len(resp.References))
	}
	for _, ref := range resp.References {
		if ref.Text == "" || ref.DocumentURL == "" {
			t.Errorf("reference %s missing text or document url", ref.ID)
		}
	}
	if resp.Result.Response != "canned answer" {
		t.Errorf("response = %q, want canned answer", resp.Result.Response)
	}
	if len(resp.Result.ReferenceIDs) != 3 {
		t.Errorf("result carries %d reference ids, want 3", len(resp.Result.ReferenceIDs))
	}
	if len(chat.prompts) != 1 || !strings.Contains(chat.prompts[0], "how do I fix connection problems") {
		t.Error("chat prompt missing the user question")
	}

	// History record was created and holds the exchange.
	if resp.UserQueryID == "" {
		t.Fatal("no user query id returned")
	}
	uq, err := store.GetUserQuery(ctx, resp.UserQueryID)
	if err != nil {
		t.Fatal(err)
	}
	if len(uq.History) != 1 || uq.History[0].Response != "canned answer" {
		t.Errorf("history = %+v, want one canned entry", uq.History)
	}
}

func TestMatcher_QueryAppendsHistory(t *testing.T) {
	ctx := context.Background()
	m, store := newMatcherEnv(t, nil)

	first, err := m.Query(ctx, &models.QueryRequest{UserID: "u", Prompt: "first", QueryEngine: "docs"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Query(ctx, &models.QueryRequest{
		UserID:      "u",
		Prompt:      "second",
		QueryEngine: "docs",
		UserQueryID: first.UserQueryID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.UserQueryID != first.UserQueryID {
		t.Errorf("user query id changed: %s vs %s", second.UserQueryID, first.UserQueryID)
	}
	uq, err := store.GetUserQuery(ctx, first.UserQueryID)
	if err != nil {
		t.Fatal(err)
	}
	if len(uq.History) != 2 {
		t.Fatalf("history has %d entries, want 2", len(uq.History))
	}
	if uq.History[1].Prompt != "second" {
		t.Errorf("second entry prompt = %q", uq.History[1].Prompt)
	}
}

func TestMatcher_UnknownEngine(t *testing.T) {
	m, _ := newMatcherEnv(t, nil)
	_, err := m.Query(context.Background(), &models.QueryRequest{
		UserID:      "u",
		Prompt:      "anything",
		QueryEngine: "no-such-engine",
	})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMatcher_UnknownUserQuery(t *testing.T) {
	m, _ := newMatcherEnv(t, nil)
	_, err := m.Query(context.Background(), &models.QueryRequest{
		UserID:      "u",
		Prompt:      "anything",
		QueryEngine: "docs",
		UserQueryID: "does-not-exist",
	})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMatcher_ChatFailureStillReturnsReferences(t *testing.T) {
	chat := &fakeChat{fail: true}
	m, _ := newMatcherEnv(t, chat)

	resp, err := m.Query(context.Background(), &models.QueryRequest{
		UserID:      "u",
		Prompt:      "prompt",
		QueryEngine: "docs",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.References) == 0 {
		t.Error("no references returned after chat failure")
	}
	if resp.Result.Response != "" {
		t.Errorf("response = %q, want empty after chat failure", resp.Result.Response)
	}
}

func TestMatcher_NilChatEmptyResponse(t *testing.T) {
	m, _ := newMatcherEnv(t, nil)
	resp, err := m.Query(context.Background(), &models.QueryRequest{
		UserID:      "u",
		Prompt:      "prompt",
		QueryEngine: "docs",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Result.Response != "" {
		t.Errorf("response = %q, want empty with no chat model", resp.Result.Response)
	}
	if len(resp.References) == 0 {
		t.Error("expected references without a chat model")
	}
}

func TestMatcher_RestoresDeploymentAfterRestart(t *testing.T) {
	ctx := context.Background()
	store, objects, encoder, _, cfg := buildDocsEngine(t)

	// A fresh vector service has no in-memory state, as after a process
	// restart; the committed engine record and its data bucket are all that
	// survive.
	fresh := vector.NewMemoryService(objects)
	m := NewMatcher(store, encoder, fresh, nil, cfg, zap.NewNop())

	resp, err := m.Query(ctx, &models.QueryRequest{
		UserID:      "u",
		Prompt:      "how do I fix connection problems",
		QueryEngine: "docs",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.References) == 0 {
		t.Error("no references returned after deployment restore")
	}

	// The restored deployment keeps serving on the next query.
	if _, err := m.Query(ctx, &models.QueryRequest{UserID: "u", Prompt: "again", QueryEngine: "docs"}); err != nil {
		t.Fatalf("second query after restore: %v", err)
	}
}

func TestMatcher_MissingChunkRecordFails(t *testing.T) {
	ctx := context.Background()
	m, store := newMatcherEnv(t, nil)

	engine, err := store.GetEngineByName(ctx, "docs")
	if err != nil {
		t.Fatal(err)
	}
	// Drop the chunk rows behind the index's back so a neighbor id no longer
	// resolves to a record.
	if err := store.DeleteChunksByEngine(ctx, engine.ID); err != nil {
		t.Fatal(err)
	}

	resp, err := m.Query(ctx, &models.QueryRequest{UserID: "u", Prompt: "anything", QueryEngine: "docs"})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if resp != nil {
		t.Error("got a partial response for diverged index and metadata")
	}
}

func TestMatcher_ValidateRequest(t *testing.T) {
	m, _ := newMatcherEnv(t, nil)
	if _, err := m.Query(context.Background(), &models.QueryRequest{QueryEngine: "docs"}); err == nil {
		t.Error("expected error for empty prompt")
	}
	if _, err := m.Query(context.Background(), &models.QueryRequest{Prompt: "p"}); err == nil {
		t.Error("expected error for empty engine name")
	}
}
