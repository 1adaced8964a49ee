package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
)

type fakeBackend struct {
	mu        sync.Mutex
	sessions  map[string]*domain.Identity
	getErr    error
	deleteErr error
	gets      int
	deletes   int
	published []*domain.Identity
	watchers  map[string]func(*domain.Identity)
	stopped   int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sessions: make(map[string]*domain.Identity),
		watchers: make(map[string]func(*domain.Identity)),
	}
}

func (f *fakeBackend) GetSession(_ context.Context, token string) (*domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.sessions[token], nil
}

func (f *fakeBackend) DeleteSession(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.sessions, token)
	return nil
}

func (f *fakeBackend) PublishSessionChange(_ context.Context, token string, identity *domain.Identity) error {
	f.mu.Lock()
	f.published = append(f.published, identity)
	fn := f.watchers[token]
	f.mu.Unlock()
	if fn != nil {
		fn(identity)
	}
	return nil
}

func (f *fakeBackend) WatchSession(_ context.Context, token string, fn func(*domain.Identity)) func() {
	f.mu.Lock()
	f.watchers[token] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.watchers, token)
		f.stopped++
		f.mu.Unlock()
	}
}

func (f *fakeBackend) push(token string, identity *domain.Identity) {
	f.mu.Lock()
	fn := f.watchers[token]
	f.mu.Unlock()
	if fn != nil {
		fn(identity)
	}
}

var ada = &domain.Identity{ID: "u1", DisplayName: "Ada", Email: "ada@example.com"}

type captured struct {
	mu    sync.Mutex
	calls []*domain.Identity
}

func (c *captured) listen(id *domain.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, id)
}

func (c *captured) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func TestStore_CurrentResolvesOnce(t *testing.T) {
	backend := newFakeBackend()
	backend.sessions["tok"] = ada
	s := New("tok", backend, logger.NewNop())
	defer s.Close()

	for i := 0; i < 3; i++ {
		got := s.Current(context.Background())
		if !got.Equal(ada) {
			t.Fatalf("Current() = %+v, want %+v", got, ada)
		}
	}
	if backend.gets != 1 {
		t.Errorf("GetSession calls = %d, want 1", backend.gets)
	}
}

func TestStore_CurrentWithoutSession(t *testing.T) {
	tests := []struct {
		name  string
		token string
		err   error
	}{
		{name: "empty token", token: ""},
		{name: "unknown token", token: "nope"},
		{name: "backend failure", token: "tok", err: errors.New("redis down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			backend.sessions["tok"] = ada
			backend.getErr = tt.err
			s := New(tt.token, backend, logger.NewNop())

			if got := s.Current(context.Background()); got != nil {
				t.Errorf("Current() = %+v, want nil", got)
			}
		})
	}
}

func TestStore_SignOutIsIdempotent(t *testing.T) {
	backend := newFakeBackend()
	backend.sessions["tok"] = ada
	s := New("tok", backend, logger.NewNop())
	s.Current(context.Background())

	var c captured
	s.OnIdentityChange(c.listen)

	for i := 0; i < 3; i++ {
		if err := s.SignOut(context.Background()); err != nil {
			t.Fatalf("SignOut() #%d error = %v", i+1, err)
		}
	}

	if c.count() != 1 || c.calls[0] != nil {
		t.Errorf("listener calls = %v, want exactly one nil", c.calls)
	}
	if backend.deletes != 1 {
		t.Errorf("DeleteSession calls = %d, want 1", backend.deletes)
	}
	if len(backend.published) != 1 || backend.published[0] != nil {
		t.Errorf("published = %v, want one nil change", backend.published)
	}
	if backend.stopped != 1 {
		t.Errorf("watch stopped %d times, want 1", backend.stopped)
	}
	if got := s.Current(context.Background()); got != nil {
		t.Errorf("Current() after sign out = %+v, want nil", got)
	}
}

func TestStore_SignOutRemoteFailureStillSignsOutLocally(t *testing.T) {
	backend := newFakeBackend()
	backend.sessions["tok"] = ada
	backend.deleteErr = errors.New("down")
	s := New("tok", backend, logger.NewNop())
	s.Current(context.Background())

	var c captured
	s.OnIdentityChange(c.listen)

	err := s.SignOut(context.Background())
	var re *domain.RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("SignOut() error = %v, want RemoteError", err)
	}
	if c.count() != 1 {
		t.Errorf("listener calls = %d, want 1", c.count())
	}
}

func TestStore_ExternalInvalidation(t *testing.T) {
	backend := newFakeBackend()
	backend.sessions["tok"] = ada
	s := New("tok", backend, logger.NewNop())
	s.Current(context.Background())

	var c captured
	s.OnIdentityChange(c.listen)

	// Same identity again: no notification.
	backend.push("tok", ada)
	if c.count() != 0 {
		t.Fatalf("listener calls = %d, want 0 for unchanged identity", c.count())
	}

	grace := &domain.Identity{ID: "u2", DisplayName: "Grace"}
	backend.push("tok", grace)
	backend.push("tok", nil)
	backend.push("tok", ada)

	if c.count() != 2 {
		t.Fatalf("listener calls = %d, want 2", c.count())
	}
	if c.calls[0].ID != "u2" || c.calls[1] != nil {
		t.Errorf("listener calls = %v, want [u2, nil]", c.calls)
	}
	if got := s.Current(context.Background()); got != nil {
		t.Errorf("Current() = %+v, want nil after invalidation", got)
	}
}

func TestStore_DisposeListener(t *testing.T) {
	backend := newFakeBackend()
	backend.sessions["tok"] = ada
	s := New("tok", backend, logger.NewNop())
	s.Current(context.Background())

	var kept, dropped captured
	s.OnIdentityChange(kept.listen)
	dispose := s.OnIdentityChange(dropped.listen)
	dispose()
	dispose()

	_ = s.SignOut(context.Background())

	if kept.count() != 1 {
		t.Errorf("kept listener calls = %d, want 1", kept.count())
	}
	if dropped.count() != 0 {
		t.Errorf("disposed listener calls = %d, want 0", dropped.count())
	}
}

func TestStore_VerifyExpiredSession(t *testing.T) {
	backend := newFakeBackend()
	backend.sessions["tok"] = ada
	s := New("tok", backend, logger.NewNop())
	defer s.Close()

	var c captured
	s.OnIdentityChange(c.listen)

	got, err := s.Verify(context.Background())
	if err != nil || !got.Equal(ada) {
		t.Fatalf("Verify() = %+v, %v; want %+v", got, err, ada)
	}
	if c.count() != 0 {
		t.Fatalf("listener calls = %d, want none while the session is unchanged", c.count())
	}

	// record expires in the backend, nothing is published
	backend.mu.Lock()
	delete(backend.sessions, "tok")
	backend.mu.Unlock()

	got, err = s.Verify(context.Background())
	if err != nil || got != nil {
		t.Fatalf("Verify() after expiry = %+v, %v; want nil, nil", got, err)
	}
	if s.Current(context.Background()) != nil {
		t.Error("Current() should be nil after expiry")
	}
	if c.count() != 1 || c.calls[0] != nil {
		t.Errorf("listener calls = %+v, want a final nil", c.calls)
	}
	if backend.stopped != 1 {
		t.Errorf("watch stopped %d times, want 1", backend.stopped)
	}

	// a record reappearing under the same token does not sign back in
	backend.mu.Lock()
	backend.sessions["tok"] = ada
	backend.mu.Unlock()
	if got, _ := s.Verify(context.Background()); got != nil {
		t.Errorf("Verify() after sign out = %+v, want nil", got)
	}
}

func TestStore_VerifyLookupFailureKeepsIdentity(t *testing.T) {
	backend := newFakeBackend()
	backend.sessions["tok"] = ada
	s := New("tok", backend, logger.NewNop())
	defer s.Close()

	s.Current(context.Background())

	backend.mu.Lock()
	backend.getErr = errors.New("redis down")
	backend.mu.Unlock()

	if _, err := s.Verify(context.Background()); err == nil {
		t.Fatal("Verify() should return the lookup error")
	}
	if got := s.Current(context.Background()); !got.Equal(ada) {
		t.Errorf("Current() = %+v, want identity kept", got)
	}
}
