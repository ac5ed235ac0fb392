package recordstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreConnectionPoolConfig tests that explicit pool settings reach the
// underlying connection pool and that the store still serves queries
// serialized over a single connection.
func TestStoreConnectionPoolConfig(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path:            ":memory:",
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	defer store.Close()

	if got := store.db.Stats().MaxOpenConnections; got != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", got)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	created, err := store.Create(ctx, "PipelineConfiguration", Entity{"code": "Primary"})
	if err != nil {
		t.Fatalf("failed to create entity: %v", err)
	}
	found, err := store.FindOne(ctx, "PipelineConfiguration",
		[]Filter{{Field: "id", Op: "is", Value: created.ID()}}, nil)
	if err != nil {
		t.Fatalf("failed to find entity: %v", err)
	}
	if found == nil {
		t.Fatal("entity not found after create")
	}
}

func TestStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("NewSQLiteStore accepted an empty path")
	}
}

// TestStoreMigrations tests that database migrations create the schema
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Check that tables exist by querying them
	tables := []string{"entities", "attachments"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestEntityCRUD tests entity create, read and update operations
func TestEntityCRUD(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	created, err := store.Create(ctx, "PipelineConfiguration", Entity{
		"code":       "Primary",
		"project_id": 7,
		"descriptor": "sgtk:descriptor:app_store?name=tk-config-basic&version=v1.0.0",
	})
	if err != nil {
		t.Fatalf("failed to create entity: %v", err)
	}
	if created.ID() == 0 {
		t.Fatal("created entity has no id")
	}

	found, err := store.FindOne(ctx, "PipelineConfiguration",
		[]Filter{{Field: "code", Op: "is", Value: "Primary"}},
		[]string{"id", "code", "project_id"})
	if err != nil {
		t.Fatalf("failed to find entity: %v", err)
	}
	if found == nil {
		t.Fatal("entity not found after create")
	}
	if found.Str("code") != "Primary" {
		t.Errorf("code = %q, want Primary", found.Str("code"))
	}
	if projectID, _ := found.Int("project_id"); projectID != 7 {
		t.Errorf("project_id = %d, want 7", projectID)
	}
	// Projection drops unrequested fields.
	if _, ok := found["descriptor"]; ok {
		t.Error("projection returned an unrequested field")
	}

	updated, err := store.Update(ctx, "PipelineConfiguration", created.ID(), Entity{
		"descriptor": "sgtk:descriptor:app_store?name=tk-config-basic&version=v2.0.0",
	})
	if err != nil {
		t.Fatalf("failed to update entity: %v", err)
	}
	if updated.Str("code") != "Primary" {
		t.Error("update lost the untouched code field")
	}

	reloaded, err := store.FindOne(ctx, "PipelineConfiguration",
		[]Filter{{Field: "id", Op: "is", Value: created.ID()}}, nil)
	if err != nil {
		t.Fatalf("failed to reload entity: %v", err)
	}
	if got := reloaded.Str("descriptor"); got != "sgtk:descriptor:app_store?name=tk-config-basic&version=v2.0.0" {
		t.Errorf("descriptor after update = %q", got)
	}
}

func TestUpdateMissingEntity(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	if _, err := store.Update(context.Background(), "PipelineConfiguration", 999, Entity{"code": "x"}); err == nil {
		t.Error("Update succeeded for a missing entity")
	}
}

// TestFindFilterOps tests each supported filter operator
func TestFindFilterOps(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	seed := []Entity{
		{"version": "v1.0.0", "status": "approved", "user_ids": []any{10, 20}},
		{"version": "v1.1.0", "status": "deprecated", "user_ids": []any{}},
		{"version": "v2.0.0", "status": "bad", "user_ids": []any{30}},
	}
	for _, entity := range seed {
		if _, err := store.Create(ctx, "AppStoreBundleVersion", entity); err != nil {
			t.Fatalf("failed to seed entity: %v", err)
		}
	}

	cases := []struct {
		name    string
		filters []Filter
		want    int
	}{
		{"is", []Filter{{Field: "status", Op: "is", Value: "approved"}}, 1},
		{"is_not", []Filter{{Field: "status", Op: "is_not", Value: "approved"}}, 2},
		{"in", []Filter{{Field: "status", Op: "in", Value: []any{"approved", "bad"}}}, 2},
		{"not_in", []Filter{{Field: "status", Op: "not_in", Value: []any{"deprecated", "bad"}}}, 1},
		{"contains", []Filter{{Field: "user_ids", Op: "contains", Value: 20}}, 1},
		{"conjunction", []Filter{
			{Field: "status", Op: "is_not", Value: "deprecated"},
			{Field: "version", Op: "is", Value: "v2.0.0"},
		}, 1},
		{"unknown op", []Filter{{Field: "status", Op: "like", Value: "%"}}, 0},
	}

	for _, tc := range cases {
		entities, err := store.Find(ctx, "AppStoreBundleVersion", tc.filters, nil, nil)
		if err != nil {
			t.Errorf("%s: Find failed: %v", tc.name, err)
			continue
		}
		if len(entities) != tc.want {
			t.Errorf("%s: matched %d entities, want %d", tc.name, len(entities), tc.want)
		}
	}
}

// TestFindSorting tests multi-key ordering
func TestFindSorting(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	for _, entity := range []Entity{
		{"name": "b", "rank": 2},
		{"name": "a", "rank": 1},
		{"name": "c", "rank": 2},
	} {
		if _, err := store.Create(ctx, "Item", entity); err != nil {
			t.Fatalf("failed to seed entity: %v", err)
		}
	}

	entities, err := store.Find(ctx, "Item", nil, nil,
		[]SortKey{{Field: "rank", Direction: "desc"}, {Field: "name", Direction: "asc"}})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	var names []string
	for _, entity := range entities {
		names = append(names, entity.Str("name"))
	}
	want := []string{"b", "c", "a"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("sort order = %v, want %v", names, want)
		}
	}
}

func TestFindScopedByEntityType(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if _, err := store.Create(ctx, "AppStoreBundle", Entity{"name": "tk-core"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(ctx, "PipelineConfiguration", Entity{"code": "Primary"}); err != nil {
		t.Fatal(err)
	}

	entities, err := store.Find(ctx, "AppStoreBundle", nil, nil, nil)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(entities) != 1 {
		t.Errorf("type scan returned %d entities, want 1", len(entities))
	}
}

// TestDownloadAttachment tests folder and file attachment payloads
func TestDownloadAttachment(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Folder payload.
	payload := filepath.Join(t.TempDir(), "bundle")
	if err := os.MkdirAll(filepath.Join(payload, "hooks"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(payload, "info.yml"), []byte("display_name: bundle\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	folderID, err := store.AddAttachment(ctx, 0, payload)
	if err != nil {
		t.Fatalf("failed to register attachment: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "out")
	if err := store.DownloadAttachment(ctx, folderID, dest); err != nil {
		t.Fatalf("failed to download attachment: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "info.yml")); err != nil {
		t.Errorf("folder payload incomplete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "hooks")); err != nil {
		t.Errorf("folder payload missing subfolder: %v", err)
	}

	// File payload lands inside the destination folder.
	file := filepath.Join(t.TempDir(), "core.zip")
	if err := os.WriteFile(file, []byte("archive"), 0o644); err != nil {
		t.Fatal(err)
	}
	fileID, err := store.AddAttachment(ctx, 0, file)
	if err != nil {
		t.Fatalf("failed to register file attachment: %v", err)
	}
	fileDest := filepath.Join(t.TempDir(), "filedest")
	if err := store.DownloadAttachment(ctx, fileID, fileDest); err != nil {
		t.Fatalf("failed to download file attachment: %v", err)
	}
	if _, err := os.Stat(filepath.Join(fileDest, "core.zip")); err != nil {
		t.Errorf("file payload missing: %v", err)
	}

	// Unknown ids fail loudly.
	if err := store.DownloadAttachment(ctx, 99999, t.TempDir()); err == nil {
		t.Error("DownloadAttachment succeeded for an unknown id")
	}
}
