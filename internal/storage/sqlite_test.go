package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kotaeru/internal/errs"
	"github.com/hyperjump/kotaeru/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorage_EngineCRUD(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	engine := &models.QueryEngine{
		ID:        "e1",
		Name:      "manuals",
		CreatedBy: "user1",
		IsPublic:  true,
		LLMType:   "text-embedding-004",
	}
	if err := store.CreateEngine(ctx, engine); err != nil {
		t.Fatal(err)
	}
	if engine.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	got, err := store.GetEngineByName(ctx, "manuals")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "e1" || !got.IsPublic {
		t.Errorf("got %+v", got)
	}

	got.IndexID = "idx-1"
	got.EndpointID = "ep-1"
	got.DeployStatus = models.DeployStatusDeployed
	if err := store.UpdateEngine(ctx, got); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetEngine(ctx, "e1")
	if got.IndexID != "idx-1" || got.DeployStatus != models.DeployStatusDeployed {
		t.Errorf("update not persisted: %+v", got)
	}

	engines, err := store.ListEngines(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(engines) != 1 {
		t.Errorf("expected 1 engine, got %d", len(engines))
	}

	if err := store.DeleteEngine(ctx, "e1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetEngineByName(ctx, "manuals"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSQLiteStorage_CreateEngineDuplicateName(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	if err := store.CreateEngine(ctx, &models.QueryEngine{ID: "e1", Name: "dup"}); err != nil {
		t.Fatal(err)
	}
	err := store.CreateEngine(ctx, &models.QueryEngine{ID: "e2", Name: "dup"})
	if !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	// The losing insert must not mutate the existing engine.
	got, err := store.GetEngineByName(ctx, "dup")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "e1" {
		t.Errorf("existing engine mutated: %+v", got)
	}
}

func TestSQLiteStorage_DocumentsAndChunks(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	if err := store.CreateEngine(ctx, &models.QueryEngine{ID: "e1", Name: "n"}); err != nil {
		t.Fatal(err)
	}
	doc := &models.Document{ID: "d1", EngineID: "e1", DocURL: "gs://corpus/a.txt", IndexStart: 0, IndexEnd: 3}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}

	chunks := []*models.DocumentChunk{
		{ID: "c0", EngineID: "e1", DocumentID: "d1", Index: 0, Text: "alpha"},
		{ID: "c1", EngineID: "e1", DocumentID: "d1", Index: 1, Text: "beta"},
		{ID: "c2", EngineID: "e1", DocumentID: "d1", Index: 2, Text: "gamma"},
	}
	if err := store.BatchCreateChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetChunkByIndex(ctx, "e1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "beta" || got.DocumentID != "d1" {
		t.Errorf("got %+v", got)
	}
	if _, err := store.GetChunkByIndex(ctx, "e1", 99); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing index, got %v", err)
	}

	count, err := store.CountChunksByEngine(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("count=%d, want 3", count)
	}

	docs, err := store.ListDocumentsByEngine(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].IndexEnd != 3 {
		t.Errorf("docs=%+v", docs)
	}

	if err := store.DeleteChunksByEngine(ctx, "e1"); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteDocumentsByEngine(ctx, "e1"); err != nil {
		t.Fatal(err)
	}
	count, _ = store.CountChunksByEngine(ctx, "e1")
	if count != 0 {
		t.Errorf("count=%d after delete, want 0", count)
	}
}

func TestSQLiteStorage_ChunkIndexUniquePerEngine(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	err := store.BatchCreateChunks(ctx, []*models.DocumentChunk{
		{ID: "c0", EngineID: "e1", DocumentID: "d1", Index: 0, Text: "a"},
		{ID: "c1", EngineID: "e1", DocumentID: "d1", Index: 0, Text: "b"},
	})
	if err == nil {
		t.Fatal("expected unique constraint violation for duplicate chunk index")
	}
	// The transaction rolls back as a whole.
	count, _ := store.CountChunksByEngine(ctx, "e1")
	if count != 0 {
		t.Errorf("count=%d, want 0 after rollback", count)
	}
}

func TestSQLiteStorage_UserQueryHistory(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	q := &models.UserQuery{ID: "q1", UserID: "u1", EngineID: "e1"}
	if err := store.CreateUserQuery(ctx, q); err != nil {
		t.Fatal(err)
	}
	entry := models.UserQueryEntry{Prompt: "what is x", Response: "x is y"}
	if err := store.AppendUserQueryHistory(ctx, "q1", entry); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendUserQueryHistory(ctx, "q1", models.UserQueryEntry{Prompt: "p2", Response: "r2"}); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetUserQuery(ctx, "q1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.History) != 2 || got.History[0].Prompt != "what is x" {
		t.Errorf("history=%+v", got.History)
	}
}

func TestSQLiteStorage_QueryResultAndReferences(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	ref := &models.QueryReference{ID: "r1", EngineID: "e1", DocumentID: "d1", DocumentURL: "gs://c/a.txt", ChunkID: "c1", Text: "snippet"}
	if err := store.CreateQueryReference(ctx, ref); err != nil {
		t.Fatal(err)
	}
	result := &models.QueryResult{ID: "qr1", EngineID: "e1", Prompt: "p", Response: "a", ReferenceIDs: []string{"r1"}}
	if err := store.CreateQueryResult(ctx, result); err != nil {
		t.Fatal(err)
	}
}
