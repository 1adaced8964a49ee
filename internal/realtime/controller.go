// Package realtime keeps one live view's bookmark list consistent with the
// remote store. A Controller binds session identity changes to change feed
// subscriptions and refetches the whole list whenever anything may have
// changed.
package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
)

// ErrClosed is returned by actions issued after the controller was torn down.
var ErrClosed = errors.New("controller closed")

// SessionStore resolves the current identity and reports changes to it.
// Verify re-reads the persisted session; a nil identity means it is gone and
// the store has signed out.
type SessionStore interface {
	Current(ctx context.Context) *domain.Identity
	Verify(ctx context.Context) (*domain.Identity, error)
	OnIdentityChange(fn func(identity *domain.Identity)) (dispose func())
	SignOut(ctx context.Context) error
}

// Repository is the bookmark repository bound to one identity.
type Repository interface {
	List(ctx context.Context) ([]domain.Bookmark, error)
	Create(ctx context.Context, rawURL, title string) (*domain.Bookmark, error)
	Delete(ctx context.Context, id string) error
}

// Subscription is an open change feed handle.
type Subscription interface {
	Close() error
}

// Feed opens owner-filtered change feed subscriptions.
type Feed interface {
	Subscribe(
		ctx context.Context,
		ownerID string,
		onEvent func(domain.ChangeEvent),
		onStatus func(domain.ConnectionStatus),
	) (Subscription, error)
}

// Options wires a Controller to its collaborators.
type Options struct {
	Session      SessionStore
	Feed         Feed
	Repositories func(identity *domain.Identity) Repository
	Logger       logger.Logger

	// ResyncInterval refetches the list while the feed is not connected.
	// Zero disables it.
	ResyncInterval time.Duration

	// SessionCheckInterval re-verifies the session while authenticated so an
	// expired session signs the view out without any user action. Zero
	// disables it; writes verify the session regardless.
	SessionCheckInterval time.Duration
}

// Controller is the sync state machine for one live view.
//
// Every state mutation runs on the goroutine executing Run. Remote calls run
// on their own goroutines and post their completions back to it, so the view
// state needs no lock.
type Controller struct {
	opts  Options
	log   logger.Logger
	inbox chan func()
	done  chan struct{}

	running  atomic.Bool
	checking atomic.Bool
	snapshot atomic.Pointer[State]

	obsMu     sync.Mutex
	observers map[uint64]func(State)
	nextObs   uint64

	// Owned by the Run goroutine.
	ctx        context.Context
	state      State
	generation uint64
	repo       Repository
	sub        Subscription
	listSeq    uint64
	appliedSeq uint64
	dispose    func()
}

// New creates a controller in the Unauthenticated state. Call Run to start it.
func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	c := &Controller{
		opts:      opts,
		log:       opts.Logger,
		inbox:     make(chan func(), 64),
		done:      make(chan struct{}),
		observers: make(map[uint64]func(State)),
		state:     State{Phase: PhaseUnauthenticated},
	}
	initial := c.state.clone()
	c.snapshot.Store(&initial)
	return c
}

// State returns the latest published view state.
func (c *Controller) State() State {
	return *c.snapshot.Load()
}

// Done is closed when the controller has been torn down.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Observe registers fn to receive every published state and returns its
// disposer. fn runs on the controller goroutine and must not block or call
// back into the controller synchronously. Observers registered before Run
// see every state. The Bookmarks slice is shared and must not be modified.
func (c *Controller) Observe(fn func(State)) (dispose func()) {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.obsMu.Lock()
			delete(c.observers, id)
			c.obsMu.Unlock()
		})
	}
}

// Run drives the controller until ctx is cancelled, then tears it down:
// the identity listener is disposed, the active subscription is closed and
// late completions are dropped.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("controller already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.ctx = ctx
	defer c.teardown()

	c.dispose = c.opts.Session.OnIdentityChange(func(identity *domain.Identity) {
		c.post(func() { c.applyIdentity(identity) })
	})

	c.state = State{Phase: PhaseLoading, Loading: true}
	c.emit()

	go func() {
		identity := c.opts.Session.Current(ctx)
		c.post(func() { c.resolved(identity) })
	}()

	var resync <-chan time.Time
	if c.opts.ResyncInterval > 0 {
		ticker := time.NewTicker(c.opts.ResyncInterval)
		defer ticker.Stop()
		resync = ticker.C
	}

	var sessionCheck <-chan time.Time
	if c.opts.SessionCheckInterval > 0 {
		ticker := time.NewTicker(c.opts.SessionCheckInterval)
		defer ticker.Stop()
		sessionCheck = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-c.inbox:
			fn()
		case <-sessionCheck:
			if c.state.Phase == PhaseAuthenticated {
				c.checkSession(ctx)
			}
		case <-resync:
			if c.state.Phase == PhaseAuthenticated && c.state.Status != domain.StatusConnected {
				c.log.Debug("feed not connected, resyncing bookmarks")
				c.refresh()
			}
		}
	}
}

func (c *Controller) teardown() {
	close(c.done)

	if c.dispose != nil {
		c.dispose()
		c.dispose = nil
	}
	c.closeSubscription()
	c.repo = nil
	c.log.Debug("controller torn down")
}

// post schedules fn on the controller goroutine. It reports false once the
// controller has been torn down; fn is then dropped.
func (c *Controller) post(fn func()) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.inbox <- fn:
		return true
	case <-c.done:
		return false
	}
}

// resolved handles the startup session resolution. An identity change that
// arrived first wins.
func (c *Controller) resolved(identity *domain.Identity) {
	if c.state.Phase != PhaseLoading {
		return
	}
	if identity == nil {
		c.log.Info("no existing session")
		c.state = State{Phase: PhaseUnauthenticated}
		c.emit()
		return
	}
	c.enter(identity)
}

func (c *Controller) applyIdentity(identity *domain.Identity) {
	switch {
	case identity == nil:
		if c.state.Phase == PhaseUnauthenticated {
			return
		}
		c.leave()
		c.state = State{Phase: PhaseUnauthenticated}
		c.emit()

	case c.state.Phase == PhaseAuthenticated && domain.SameIdentity(c.state.Identity, identity):
		if !c.state.Identity.Equal(identity) {
			c.state.Identity = identity
			c.emit()
		}

	default:
		c.leave()
		c.enter(identity)
	}
}

// enter runs the authenticated entry sequence for identity: fresh list,
// fresh subscription.
func (c *Controller) enter(identity *domain.Identity) {
	c.generation++
	gen := c.generation
	c.repo = c.opts.Repositories(identity)
	c.appliedSeq = c.listSeq
	c.state = State{
		Phase:     PhaseAuthenticated,
		Identity:  identity,
		Bookmarks: []domain.Bookmark{},
		Status:    domain.StatusConnecting,
		Loading:   true,
	}
	c.log.Info("session authenticated", logger.String("identity_id", identity.ID))
	c.emit()

	c.refresh()

	sub, err := c.opts.Feed.Subscribe(c.ctx, identity.ID,
		func(event domain.ChangeEvent) {
			c.post(func() { c.onEvent(gen, event) })
		},
		func(status domain.ConnectionStatus) {
			c.post(func() { c.onStatus(gen, status) })
		},
	)
	if err != nil {
		c.log.Warn("change feed subscribe failed", logger.Error(err))
		c.state.Status = domain.StatusDisconnected
		c.emit()
		return
	}
	c.sub = sub
}

// leave closes everything bound to the current identity. Completions and
// callbacks issued for it are ignored from now on.
func (c *Controller) leave() {
	c.generation++
	c.closeSubscription()
	c.repo = nil
}

func (c *Controller) closeSubscription() {
	if c.sub == nil {
		return
	}
	if err := c.sub.Close(); err != nil {
		c.log.Warn("change feed unsubscribe failed", logger.Error(err))
	}
	c.sub = nil
}

func (c *Controller) onEvent(gen uint64, event domain.ChangeEvent) {
	if gen != c.generation {
		return
	}
	c.log.Debug("change event received",
		logger.String("kind", string(event.Kind)),
		logger.String("record_id", event.RecordID))
	c.refresh()
}

func (c *Controller) onStatus(gen uint64, status domain.ConnectionStatus) {
	if gen != c.generation || c.state.Status == status {
		return
	}
	c.state.Status = status
	c.emit()

	// Events published between the last fetch and the subscription
	// acknowledgement (or during an outage) were never delivered.
	if status == domain.StatusConnected {
		c.refresh()
	}
}

// refresh starts a full list fetch for the current identity.
func (c *Controller) refresh() {
	if c.repo == nil || c.state.Phase != PhaseAuthenticated {
		return
	}

	c.listSeq++
	seq, gen, repo, ctx := c.listSeq, c.generation, c.repo, c.ctx
	go func() {
		bookmarks, err := repo.List(ctx)
		c.post(func() { c.applyList(gen, seq, bookmarks, err) })
	}()
}

// applyList installs a fetched snapshot unless a newer one was already
// applied or the identity changed meanwhile.
func (c *Controller) applyList(gen, seq uint64, bookmarks []domain.Bookmark, err error) {
	if gen != c.generation || c.state.Phase != PhaseAuthenticated {
		return
	}

	if err != nil {
		c.log.Warn("bookmark refresh failed, keeping current list",
			logger.Uint64("seq", seq),
			logger.Error(err))
		if c.state.Loading {
			c.state.Loading = false
			c.emit()
		}
		return
	}

	if seq < c.appliedSeq {
		c.log.Debug("discarding stale bookmark list",
			logger.Uint64("seq", seq),
			logger.Uint64("applied_seq", c.appliedSeq))
		return
	}

	c.appliedSeq = seq
	c.state.Bookmarks = bookmarks
	c.state.Loading = false
	c.emit()
}

func (c *Controller) emit() {
	snap := c.state.clone()
	c.snapshot.Store(&snap)

	c.obsMu.Lock()
	observers := make([]func(State), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.obsMu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

type lease struct {
	repo Repository
	gen  uint64
}

// activeRepository fetches the current identity's repository from the
// controller goroutine.
func (c *Controller) activeRepository(ctx context.Context) (lease, error) {
	reply := make(chan lease, 1)
	if !c.post(func() { reply <- lease{repo: c.repo, gen: c.generation} }) {
		return lease{}, ErrClosed
	}

	select {
	case l := <-reply:
		if l.repo == nil {
			return lease{}, domain.ErrNotAuthenticated
		}
		return l, nil
	case <-ctx.Done():
		return lease{}, ctx.Err()
	case <-c.done:
		return lease{}, ErrClosed
	}
}

// checkSession verifies the session off the loop goroutine. A gone session
// comes back through the identity listener.
func (c *Controller) checkSession(ctx context.Context) {
	if !c.checking.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.checking.Store(false)
		if _, err := c.opts.Session.Verify(ctx); err != nil {
			c.log.Warn("session check failed", logger.Error(err))
		}
	}()
}

// verifySession confirms the session still exists before a write.
func (c *Controller) verifySession(ctx context.Context) error {
	identity, err := c.opts.Session.Verify(ctx)
	if err != nil {
		return &domain.RemoteError{Op: "session", Err: err}
	}
	if identity == nil {
		return domain.ErrNotAuthenticated
	}
	return nil
}

// refreshFor schedules a refresh if the identity behind gen is still active.
func (c *Controller) refreshFor(gen uint64) {
	c.post(func() {
		if gen == c.generation {
			c.refresh()
		}
	})
}

// Add validates rawURL, creates the bookmark and eagerly refreshes the list.
// An invalid URL returns a *domain.ValidationError without any remote call.
func (c *Controller) Add(ctx context.Context, rawURL, title string) (*domain.Bookmark, error) {
	u, err := domain.ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}

	l, err := c.activeRepository(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.verifySession(ctx); err != nil {
		return nil, err
	}

	bookmark, err := l.repo.Create(ctx, u, title)
	if err != nil {
		c.log.Warn("bookmark create failed", logger.Error(err))
		return nil, err
	}

	c.refreshFor(l.gen)
	return bookmark, nil
}

// Delete removes a bookmark and then refreshes the list whatever the outcome.
func (c *Controller) Delete(ctx context.Context, id string) error {
	l, err := c.activeRepository(ctx)
	if err != nil {
		return err
	}
	if err := c.verifySession(ctx); err != nil {
		return err
	}

	err = l.repo.Delete(ctx, id)
	if err != nil {
		c.log.Warn("bookmark delete failed",
			logger.String("bookmark_id", id),
			logger.Error(err))
	}

	c.refreshFor(l.gen)
	return err
}

// Refresh schedules a full list fetch.
func (c *Controller) Refresh() {
	c.post(c.refresh)
}

// SignOut delegates to the session store. The identity change it produces
// drives the transition to Unauthenticated.
func (c *Controller) SignOut(ctx context.Context) error {
	return c.opts.Session.SignOut(ctx)
}
