package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/repository"
	"github.com/MrSnakeDoc/smartmark/internal/sources/homepage"
	redisstore "github.com/MrSnakeDoc/smartmark/internal/store/redis"
)

const bookmarksYAML = `---
- Developer:
    - Github:
        - abbr: GH
          href: https://github.com/
    - Go:
        - abbr: GO
          href: https://go.dev
- Broken:
    - Local:
        - href: /not/absolute
`

func newTestImporter(t *testing.T, content string, trigger chan struct{}) (*Importer, *redisstore.Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	t.Cleanup(func() { _ = client.Close() })
	store := redisstore.NewStore(client)

	path := filepath.Join(t.TempDir(), "bookmarks.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to create test YAML file: %v", err)
	}

	im := NewImporter(path, "owner-1", store, repository.Options{ListAttempts: 1}, logger.NewNop(), 0, trigger)
	return im, store
}

func ownerURLs(t *testing.T, store *redisstore.Store) map[string]string {
	t.Helper()
	rows, err := store.Select(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	urls := make(map[string]string, len(rows))
	for _, b := range rows {
		urls[b.URL] = b.Title
	}
	return urls
}

func TestImporter_Import(t *testing.T) {
	im, store := newTestImporter(t, bookmarksYAML, nil)

	if !im.LastImport().IsZero() {
		t.Fatal("LastImport() should be zero before the first run")
	}

	res, err := im.Import(context.Background())
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if res != (ImportResult{Imported: 2, Skipped: 1}) {
		t.Errorf("Import() = %+v", res)
	}

	urls := ownerURLs(t, store)
	if urls["https://github.com/"] != "Github" || urls["https://go.dev"] != "Go" || len(urls) != 2 {
		t.Errorf("stored bookmarks = %v", urls)
	}
	if im.LastImport().IsZero() {
		t.Error("LastImport() should be set after a successful run")
	}
}

func TestImporter_ImportIsIdempotent(t *testing.T) {
	im, store := newTestImporter(t, bookmarksYAML, nil)
	ctx := context.Background()

	repo := repository.New(store, &domain.Identity{ID: "owner-1"}, repository.Options{}, logger.NewNop())
	if _, err := repo.Create(ctx, "https://go.dev", "my own title"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	first, err := im.Import(ctx)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if first.Imported != 1 || first.Existing != 1 {
		t.Errorf("first Import() = %+v", first)
	}

	second, err := im.Import(ctx)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if second.Imported != 0 || second.Existing != 2 {
		t.Errorf("second Import() = %+v", second)
	}

	urls := ownerURLs(t, store)
	if len(urls) != 2 {
		t.Errorf("stored %d bookmarks, want 2", len(urls))
	}
	if urls["https://go.dev"] != "my own title" {
		t.Errorf("existing bookmark title changed to %q", urls["https://go.dev"])
	}
}

func TestImporter_ImportErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"no valid bookmarks", "- Broken:\n    - Local:\n        - href: ftp://nope\n", homepage.ErrNoBookmarks},
		{"invalid yaml", "- Broken: [unclosed", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im, _ := newTestImporter(t, tt.content, nil)
			_, err := im.Import(context.Background())
			if err == nil {
				t.Fatal("Import() should fail")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Import() error = %v, want %v", err, tt.wantErr)
			}
			if !im.LastImport().IsZero() {
				t.Error("LastImport() should stay zero after a failed run")
			}
		})
	}
}

func TestImporter_ManualTrigger(t *testing.T) {
	trigger := make(chan struct{}, 1)
	im, store := newTestImporter(t, bookmarksYAML, trigger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	im.Start(ctx)
	defer im.Stop()

	if len(ownerURLs(t, store)) != 2 {
		t.Fatal("Start() should run an initial import")
	}
	first := im.LastImport()

	trigger <- struct{}{}

	deadline := time.Now().Add(2 * time.Second)
	for !im.LastImport().After(first) {
		if time.Now().After(deadline) {
			t.Fatal("manual trigger did not run an import")
		}
		time.Sleep(10 * time.Millisecond)
	}

	im.Stop()
	im.Stop()
}
