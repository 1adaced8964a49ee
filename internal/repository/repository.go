// Package repository performs bookmark create/list/delete against the remote
// store on behalf of exactly one identity.
package repository

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/MrSnakeDoc/smartmark/internal/backoff"
	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
)

// RemoteStore is the slice of the remote store the repository needs.
// Every call is scoped by an owner ID.
type RemoteStore interface {
	Select(ctx context.Context, ownerID string) ([]domain.Bookmark, error)
	Insert(ctx context.Context, bookmark *domain.Bookmark) error
	Delete(ctx context.Context, ownerID, id string) (bool, error)
}

// Options tunes List retries.
type Options struct {
	ListAttempts int           // total attempts per List (default: 3)
	RetryWait    time.Duration // initial wait between attempts (default: 200ms)
	MaxWait      time.Duration // cap between attempts (default: 2s)
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ListAttempts < 1 {
		o.ListAttempts = 3
	}
	if o.RetryWait <= 0 {
		o.RetryWait = 200 * time.Millisecond
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 2 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Repository is bound to one identity. A Repository built without an
// identity rejects every operation with domain.ErrNotAuthenticated.
type Repository struct {
	store  RemoteStore
	owner  *domain.Identity
	opts   Options
	logger logger.Logger

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// New creates a repository scoped to owner.
func New(store RemoteStore, owner *domain.Identity, opts Options, log logger.Logger) *Repository {
	r := &Repository{
		store:   store,
		opts:    opts.withDefaults(),
		logger:  log,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	if owner != nil {
		o := *owner
		r.owner = &o
		r.logger = log.With(logger.String("owner_id", o.ID))
	}
	return r
}

// Owner returns the identity this repository is scoped to, or nil.
func (r *Repository) Owner() *domain.Identity {
	if r.owner == nil {
		return nil
	}
	o := *r.owner
	return &o
}

// List fetches every bookmark of the owner, newest first, with sanitized
// titles. Rows carrying another owner's ID are dropped.
func (r *Repository) List(ctx context.Context) ([]domain.Bookmark, error) {
	if r.owner == nil {
		return nil, domain.ErrNotAuthenticated
	}

	wait := backoff.Policy{Initial: r.opts.RetryWait, Max: r.opts.MaxWait}.New()
	var rows []domain.Bookmark
	var err error
	for attempt := 1; ; attempt++ {
		rows, err = r.store.Select(ctx, r.owner.ID)
		if err == nil {
			break
		}
		if attempt >= r.opts.ListAttempts || ctx.Err() != nil {
			return nil, &domain.RemoteError{Op: "list", Err: err}
		}

		next := wait.Next()
		r.logger.Warn("bookmark list failed, retrying",
			logger.Int("attempt", attempt),
			logger.Duration("next_retry_in", next),
			logger.Error(err))
		if !backoff.Sleep(ctx, next) {
			return nil, &domain.RemoteError{Op: "list", Err: errors.Join(err, ctx.Err())}
		}
	}

	bookmarks := make([]domain.Bookmark, 0, len(rows))
	for _, b := range rows {
		if b.OwnerID != r.owner.ID {
			r.logger.Warn("dropping bookmark with foreign owner",
				logger.String("bookmark_id", b.ID))
			continue
		}
		b.Title = domain.NormalizeTitle(b.Title, b.URL)
		bookmarks = append(bookmarks, b)
	}
	domain.SortNewestFirst(bookmarks)

	return bookmarks, nil
}

// Create inserts one bookmark for the owner. rawURL must be an absolute
// http(s) URL; a blank title falls back to the URL.
func (r *Repository) Create(ctx context.Context, rawURL, title string) (*domain.Bookmark, error) {
	if r.owner == nil {
		return nil, domain.ErrNotAuthenticated
	}

	u, err := domain.ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}

	now := r.opts.Now().UTC()
	bookmark := &domain.Bookmark{
		ID:        r.newID(now),
		OwnerID:   r.owner.ID,
		URL:       u,
		Title:     domain.NormalizeTitle(title, u),
		CreatedAt: now,
	}

	if err := r.store.Insert(ctx, bookmark); err != nil {
		return nil, &domain.RemoteError{Op: "create", Err: err}
	}

	r.logger.Debug("bookmark created", logger.String("bookmark_id", bookmark.ID))
	return bookmark, nil
}

// Delete removes at most one bookmark of the owner. Deleting an unknown id
// succeeds without effect.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if r.owner == nil {
		return domain.ErrNotAuthenticated
	}

	removed, err := r.store.Delete(ctx, r.owner.ID, id)
	if err != nil {
		return &domain.RemoteError{Op: "delete", Err: err}
	}

	r.logger.Debug("bookmark delete",
		logger.String("bookmark_id", id),
		logger.Bool("removed", removed))
	return nil
}

func (r *Repository) newID(at time.Time) string {
	r.entropyMu.Lock()
	defer r.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), r.entropy).String()
}
