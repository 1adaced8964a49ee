package repository

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
)

type fakeStore struct {
	mu         sync.Mutex
	rows       []domain.Bookmark
	selectErrs []error
	insertErr  error
	deleteErr  error
	selects    int
	inserts    int
}

func (f *fakeStore) Select(_ context.Context, ownerID string) ([]domain.Bookmark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selects++
	if len(f.selectErrs) > 0 {
		err := f.selectErrs[0]
		f.selectErrs = f.selectErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	out := make([]domain.Bookmark, 0, len(f.rows))
	for _, b := range f.rows {
		if b.OwnerID == ownerID || strings.HasPrefix(b.ID, "leak") {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) Insert(_ context.Context, b *domain.Bookmark) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.insertErr != nil {
		return f.insertErr
	}
	f.rows = append(f.rows, *b)
	return nil
}

func (f *fakeStore) Delete(_ context.Context, ownerID, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	for i, b := range f.rows {
		if b.ID == id && b.OwnerID == ownerID {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

var u1 = &domain.Identity{ID: "U1", DisplayName: "User One", Email: "u1@example.com"}

func fastOptions() Options {
	return Options{ListAttempts: 3, RetryWait: time.Millisecond, MaxWait: 2 * time.Millisecond}
}

func TestRepository_NoIdentity(t *testing.T) {
	repo := New(&fakeStore{}, nil, fastOptions(), logger.NewNop())
	ctx := context.Background()

	if _, err := repo.List(ctx); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Errorf("List() error = %v, want ErrNotAuthenticated", err)
	}
	if _, err := repo.Create(ctx, "https://x.com", ""); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Errorf("Create() error = %v, want ErrNotAuthenticated", err)
	}
	if err := repo.Delete(ctx, "id"); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Errorf("Delete() error = %v, want ErrNotAuthenticated", err)
	}
	if repo.Owner() != nil {
		t.Errorf("Owner() = %+v, want nil", repo.Owner())
	}
}

func TestRepository_CreateDefaultsTitleToURL(t *testing.T) {
	store := &fakeStore{}
	repo := New(store, u1, fastOptions(), logger.NewNop())

	b, err := repo.Create(context.Background(), "https://x.com", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if b.Title != "https://x.com" {
		t.Errorf("Title = %q, want %q", b.Title, "https://x.com")
	}
	if b.OwnerID != "U1" {
		t.Errorf("OwnerID = %q, want U1", b.OwnerID)
	}
	if b.ID == "" || b.CreatedAt.IsZero() {
		t.Errorf("Create() = %+v, want id and created_at set", b)
	}
}

func TestRepository_CreateSanitizesTitle(t *testing.T) {
	store := &fakeStore{}
	repo := New(store, u1, fastOptions(), logger.NewNop())

	b, err := repo.Create(context.Background(), "https://x.com", `<script>alert(1)</script>Hello`)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if b.Title != "alert(1)Hello" {
		t.Errorf("Title = %q, want %q", b.Title, "alert(1)Hello")
	}
}

func TestRepository_CreateRejectsInvalidURL(t *testing.T) {
	store := &fakeStore{}
	repo := New(store, u1, fastOptions(), logger.NewNop())

	for _, raw := range []string{"not a url", "ftp://x", ""} {
		if _, err := repo.Create(context.Background(), raw, "t"); !domain.IsValidation(err) {
			t.Errorf("Create(%q) error = %v, want ValidationError", raw, err)
		}
	}
	if store.inserts != 0 {
		t.Errorf("inserts = %d, want 0", store.inserts)
	}
}

func TestRepository_CreateRemoteError(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("boom")}
	repo := New(store, u1, fastOptions(), logger.NewNop())

	_, err := repo.Create(context.Background(), "https://x.com", "x")
	var re *domain.RemoteError
	if !errors.As(err, &re) || re.Op != "create" {
		t.Fatalf("Create() error = %v, want RemoteError(create)", err)
	}
}

func TestRepository_ListOrdersAndScopes(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{rows: []domain.Bookmark{
		{ID: "a", OwnerID: "U1", URL: "https://a.com", Title: "A", CreatedAt: base},
		{ID: "c", OwnerID: "U1", URL: "https://c.com", Title: "<b>C</b>", CreatedAt: base.Add(2 * time.Hour)},
		{ID: "b", OwnerID: "U1", URL: "https://b.com", Title: "", CreatedAt: base.Add(time.Hour)},
		{ID: "other", OwnerID: "U2", URL: "https://o.com", Title: "O", CreatedAt: base.Add(3 * time.Hour)},
		{ID: "leak1", OwnerID: "U2", URL: "https://l.com", Title: "L", CreatedAt: base.Add(4 * time.Hour)},
	}}
	repo := New(store, u1, fastOptions(), logger.NewNop())

	got, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	var ids, titles []string
	for _, b := range got {
		ids = append(ids, b.ID)
		titles = append(titles, b.Title)
	}
	if want := []string{"c", "b", "a"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("List() ids = %v, want %v", ids, want)
	}
	if want := []string{"C", "https://b.com", "A"}; !reflect.DeepEqual(titles, want) {
		t.Errorf("List() titles = %v, want %v", titles, want)
	}
}

func TestRepository_ListIdempotent(t *testing.T) {
	store := &fakeStore{}
	repo := New(store, u1, fastOptions(), logger.NewNop())
	ctx := context.Background()

	for _, u := range []string{"https://a.com", "https://b.com", "https://c.com"} {
		if _, err := repo.Create(ctx, u, ""); err != nil {
			t.Fatalf("Create(%s) error = %v", u, err)
		}
	}

	first, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	second, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("List() not idempotent:\n%v\n%v", first, second)
	}
	if len(first) != 3 {
		t.Errorf("List() len = %d, want 3", len(first))
	}
}

func TestRepository_ListRetries(t *testing.T) {
	tests := []struct {
		name        string
		errs        []error
		wantErr     bool
		wantSelects int
	}{
		{name: "first attempt succeeds", errs: nil, wantSelects: 1},
		{name: "recovers on second attempt", errs: []error{errors.New("down")}, wantSelects: 2},
		{name: "gives up after attempts", errs: []error{errors.New("a"), errors.New("b"), errors.New("c")}, wantErr: true, wantSelects: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{selectErrs: tt.errs}
			repo := New(store, u1, fastOptions(), logger.NewNop())

			_, err := repo.List(context.Background())
			if tt.wantErr {
				var re *domain.RemoteError
				if !errors.As(err, &re) || re.Op != "list" {
					t.Fatalf("List() error = %v, want RemoteError(list)", err)
				}
			} else if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if store.selects != tt.wantSelects {
				t.Errorf("selects = %d, want %d", store.selects, tt.wantSelects)
			}
		})
	}
}

func TestRepository_Delete(t *testing.T) {
	store := &fakeStore{rows: []domain.Bookmark{
		{ID: "mine", OwnerID: "U1", URL: "https://a.com", CreatedAt: time.Now()},
		{ID: "theirs", OwnerID: "U2", URL: "https://b.com", CreatedAt: time.Now()},
	}}
	repo := New(store, u1, fastOptions(), logger.NewNop())
	ctx := context.Background()

	if err := repo.Delete(ctx, "nonexistent"); err != nil {
		t.Errorf("Delete(nonexistent) error = %v, want nil", err)
	}
	if err := repo.Delete(ctx, "theirs"); err != nil {
		t.Errorf("Delete(theirs) error = %v, want nil", err)
	}
	if len(store.rows) != 2 {
		t.Fatalf("rows = %d, want 2 after no-op deletes", len(store.rows))
	}
	if err := repo.Delete(ctx, "mine"); err != nil {
		t.Errorf("Delete(mine) error = %v", err)
	}
	if len(store.rows) != 1 || store.rows[0].ID != "theirs" {
		t.Errorf("rows = %+v, want only theirs", store.rows)
	}

	store.deleteErr = errors.New("down")
	var re *domain.RemoteError
	if err := repo.Delete(ctx, "theirs"); !errors.As(err, &re) {
		t.Errorf("Delete() error = %v, want RemoteError", err)
	}
}
