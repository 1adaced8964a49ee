// Package feed subscribes to the per-owner change feed published by the
// Redis store and reports subscription health.
package feed

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/smartmark/internal/backoff"
	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	redisstore "github.com/MrSnakeDoc/smartmark/internal/store/redis"
)

// Options controls reconnection after a transport failure.
type Options struct {
	RetryInterval time.Duration // initial wait before resubscribing (default: 500ms)
	MaxWait       time.Duration // cap between reconnection attempts (default: 10s)
	HealthCheck   time.Duration // idle time before the connection is pinged (default: 30s)
}

// Subscriber opens owner-filtered subscriptions on a shared Redis client.
type Subscriber struct {
	client *redis.Client
	opts   Options
	logger logger.Logger
}

// NewSubscriber creates a change feed subscriber on client.
func NewSubscriber(client *redis.Client, opts Options, log logger.Logger) *Subscriber {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 10 * time.Second
	}
	if opts.HealthCheck <= 0 {
		opts.HealthCheck = 30 * time.Second
	}
	return &Subscriber{client: client, opts: opts, logger: log}
}

// Subscription is the handle for one owner's feed.
type Subscription struct {
	ownerID string
	ps      *redis.PubSub
	cancel  context.CancelFunc
	once    sync.Once
	closed  atomic.Bool
	done    chan struct{}
	err     error
}

// OwnerID returns the owner this subscription is filtered on.
func (s *Subscription) OwnerID() string { return s.ownerID }

// Done is closed once the receive loop has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close releases the subscription without waiting for the receive loop, so
// it is safe to call from inside a callback. A callback the loop had already
// started may still be running when Close returns; wait on Done from outside
// the callbacks when a hard barrier is needed. Close is idempotent.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
		s.err = s.ps.Close()
	})
	return s.err
}

// Subscribe opens the change feed for ownerID. onEvent fires for every
// mutation of the owner's bookmarks and must be treated as an invalidation
// signal. onStatus reports connecting, connected and disconnected
// transitions. Both callbacks run on the subscription's goroutine.
func (s *Subscriber) Subscribe(
	ctx context.Context,
	ownerID string,
	onEvent func(domain.ChangeEvent),
	onStatus func(domain.ConnectionStatus),
) (*Subscription, error) {
	if ownerID == "" {
		return nil, domain.ErrNotAuthenticated
	}

	ctx, cancel := context.WithCancel(ctx)
	channel := redisstore.FeedChannel(ownerID)
	sub := &Subscription{
		ownerID: ownerID,
		ps:      s.client.Subscribe(ctx, channel),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go s.receive(ctx, sub, channel, onEvent, onStatus)
	return sub, nil
}

// Unsubscribe closes sub.
func (s *Subscriber) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}
	return sub.Close()
}

func (s *Subscriber) receive(
	ctx context.Context,
	sub *Subscription,
	channel string,
	onEvent func(domain.ChangeEvent),
	onStatus func(domain.ConnectionStatus),
) {
	defer close(sub.done)

	log := s.logger.With(logger.String("channel", channel))
	status := domain.ConnectionStatus("")
	report := func(next domain.ConnectionStatus) {
		if ctx.Err() != nil || next == status {
			return
		}
		status = next
		log.Debug("change feed status", logger.Stringer("status", next))
		if onStatus != nil && !sub.closed.Load() {
			onStatus(next)
		}
	}

	wait := backoff.Policy{Initial: s.opts.RetryInterval, Max: s.opts.MaxWait}.New()
	report(domain.StatusConnecting)

	for {
		msg, err := sub.ps.ReceiveTimeout(ctx, s.opts.HealthCheck)
		if ctx.Err() != nil {
			return
		}
		if isTimeout(err) {
			if err = sub.ps.Ping(ctx); err == nil {
				continue
			}
		}
		if err != nil {
			if errors.Is(err, redis.ErrClosed) {
				report(domain.StatusDisconnected)
				return
			}
			terr := &domain.SubscriptionTransportError{Channel: channel, Err: err}
			next := wait.Next()
			log.Warn("change feed transport error, reconnecting",
				logger.Duration("next_retry_in", next),
				logger.Error(terr))
			report(domain.StatusDisconnected)
			if !backoff.Sleep(ctx, next) {
				return
			}
			report(domain.StatusConnecting)
			continue
		}

		switch m := msg.(type) {
		case *redis.Subscription:
			switch m.Kind {
			case "subscribe":
				wait.Reset()
				report(domain.StatusConnected)
			case "unsubscribe":
				report(domain.StatusDisconnected)
			}
		case *redis.Message:
			event, err := redisstore.DecodeEvent(m.Payload)
			if err != nil {
				log.Warn("dropping malformed change event", logger.Error(err))
				continue
			}
			if event.OwnerID != sub.ownerID {
				log.Warn("dropping change event for foreign owner",
					logger.String("event_owner_id", event.OwnerID))
				continue
			}
			if ctx.Err() != nil || sub.closed.Load() {
				return
			}
			if onEvent != nil {
				onEvent(event)
			}
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
