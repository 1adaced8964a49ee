// Package session tracks the identity behind one browser session token and
// notifies listeners when it changes.
package session

import (
	"context"
	"sync"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
)

// Backend persists sessions and carries identity changes between every view
// sharing a token.
type Backend interface {
	GetSession(ctx context.Context, token string) (*domain.Identity, error)
	DeleteSession(ctx context.Context, token string) error
	PublishSessionChange(ctx context.Context, token string, identity *domain.Identity) error
	WatchSession(ctx context.Context, token string, fn func(*domain.Identity)) (stop func())
}

// Listener receives the new identity; nil means signed out.
type Listener = func(identity *domain.Identity)

// Store is the session store for one live view.
type Store struct {
	token   string
	backend Backend
	logger  logger.Logger

	resolveOnce sync.Once

	mu        sync.Mutex
	current   *domain.Identity
	signedOut bool
	listeners map[uint64]Listener
	nextID    uint64
	stopWatch func()
}

// New creates a session store for token. An empty token means no session.
func New(token string, backend Backend, log logger.Logger) *Store {
	return &Store{
		token:     token,
		backend:   backend,
		logger:    log,
		listeners: make(map[uint64]Listener),
	}
}

// Current resolves the persisted session once and returns the identity
// known now. Resolution failures are logged and yield nil.
func (s *Store) Current(ctx context.Context) *domain.Identity {
	s.resolveOnce.Do(func() { s.resolve(ctx) })

	s.mu.Lock()
	defer s.mu.Unlock()
	return copyIdentity(s.current)
}

func (s *Store) resolve(ctx context.Context) {
	if s.token == "" {
		return
	}

	identity, err := s.backend.GetSession(ctx, s.token)
	if err != nil {
		s.logger.Warn("session resolution failed", logger.Error(err))
		return
	}
	if identity == nil {
		s.logger.Debug("no session for token")
		return
	}

	s.mu.Lock()
	if !s.signedOut {
		s.current = copyIdentity(identity)
	}
	s.mu.Unlock()

	stop := s.backend.WatchSession(ctx, s.token, s.apply)

	s.mu.Lock()
	if s.signedOut {
		s.mu.Unlock()
		stop()
		return
	}
	s.stopWatch = stop
	s.mu.Unlock()
}

// Verify re-reads the persisted session. A record that expired or was deleted
// without a sign-out event signs this store out and notifies listeners with
// nil. Lookup errors are returned and leave the current identity in place.
func (s *Store) Verify(ctx context.Context) (*domain.Identity, error) {
	s.resolveOnce.Do(func() { s.resolve(ctx) })

	s.mu.Lock()
	signedOut := s.signedOut
	s.mu.Unlock()
	if s.token == "" || signedOut {
		return nil, nil
	}

	identity, err := s.backend.GetSession(ctx, s.token)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		s.logger.Info("session expired")
		s.apply(nil)
		s.Close()
		return nil, nil
	}

	s.apply(identity)
	return copyIdentity(identity), nil
}

// OnIdentityChange registers fn and returns its disposer.
func (s *Store) OnIdentityChange(fn Listener) (dispose func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// SignOut invalidates the session locally and remotely, tells every other
// view sharing the token, and notifies listeners with nil. Calling it again
// is a no-op.
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	if s.signedOut {
		s.mu.Unlock()
		return nil
	}
	s.signedOut = true
	s.mu.Unlock()

	var err error
	if s.token != "" {
		if derr := s.backend.DeleteSession(ctx, s.token); derr != nil {
			s.logger.Warn("failed to delete session", logger.Error(derr))
			err = &domain.RemoteError{Op: "sign out", Err: derr}
		}
		if perr := s.backend.PublishSessionChange(ctx, s.token, nil); perr != nil {
			s.logger.Warn("failed to publish sign out", logger.Error(perr))
		}
	}

	s.apply(nil)
	s.Close()
	return err
}

// Close stops watching for remote identity changes.
func (s *Store) Close() {
	s.mu.Lock()
	stop := s.stopWatch
	s.stopWatch = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// apply installs identity and notifies listeners if it differs from the
// current one.
func (s *Store) apply(identity *domain.Identity) {
	s.mu.Lock()
	if identity == nil {
		s.signedOut = true
	} else if s.signedOut {
		s.mu.Unlock()
		return
	}
	if s.current.Equal(identity) {
		s.mu.Unlock()
		return
	}
	s.current = copyIdentity(identity)
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	if identity == nil {
		s.logger.Info("session signed out")
	} else {
		s.logger.Info("session identity changed", logger.String("identity_id", identity.ID))
	}

	for _, fn := range listeners {
		fn(copyIdentity(identity))
	}
}

func copyIdentity(identity *domain.Identity) *domain.Identity {
	if identity == nil {
		return nil
	}
	c := *identity
	return &c
}
