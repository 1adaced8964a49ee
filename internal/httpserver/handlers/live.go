package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/mw"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/realtime"
	"github.com/MrSnakeDoc/smartmark/internal/repository"
	"github.com/MrSnakeDoc/smartmark/internal/session"
)

const (
	liveWriteTimeout = 10 * time.Second
	livePongWait     = 60 * time.Second
	livePingEvery    = livePongWait * 9 / 10
	liveMaxMessage   = 16 << 10
)

// Client → server intents.
const (
	intentAdd     = "add"
	intentDelete  = "delete"
	intentSignOut = "signOut"
	intentRefresh = "refresh"
)

type liveIntent struct {
	Type  string `json:"type"`
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
	ID    string `json:"id,omitempty"`
}

type liveError struct {
	Op      string `json:"op"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type liveFrame struct {
	Type  string          `json:"type"`
	State *realtime.State `json:"state,omitempty"`
	Error *liveError      `json:"error,omitempty"`
}

// Live serves one live view over a websocket: every state the sync
// controller publishes is pushed as a "state" frame, failed intents come
// back as "error" frames.
func Live(d deps.Deps) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     sameOrigin(d.AllowedHosts),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		token := mw.SessionToken(r, d.Cookie.Name)

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			d.Logger.Debug("websocket upgrade failed", logger.Error(err))
			return
		}
		defer ws.Close()
		defer d.LiveViews.Open()()

		log := d.Logger.With(logger.String("view", ws.RemoteAddr().String()))

		sess := session.New(token, d.Store, log)
		defer sess.Close()

		ctrl := realtime.New(realtime.Options{
			Session: sess,
			Feed:    realtime.RedisFeed(d.Subscriber),
			Repositories: func(identity *domain.Identity) realtime.Repository {
				return repository.New(d.Store, identity, d.Repository, log)
			},
			Logger:               log,
			ResyncInterval:       d.ResyncInterval,
			SessionCheckInterval: d.SessionCheck,
		})

		conn := newLiveConn(ws, log)
		ctrl.Observe(conn.pushState)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		go func() {
			if err := ctrl.Run(ctx); err != nil {
				log.Error("live controller stopped", logger.Error(err))
			}
		}()
		go func() {
			conn.writeLoop(ctx)
			cancel()
			// unblocks readLoop
			_ = ws.Close()
		}()

		conn.readLoop(ctx, ctrl)
		cancel()
		<-ctrl.Done()
		log.Debug("live view closed")
	}
}

type liveConn struct {
	ws  *websocket.Conn
	log logger.Logger

	mu      sync.Mutex
	pending *realtime.State
	wake    chan struct{}
	errs    chan liveError
}

func newLiveConn(ws *websocket.Conn, log logger.Logger) *liveConn {
	return &liveConn{
		ws:   ws,
		log:  log,
		wake: make(chan struct{}, 1),
		errs: make(chan liveError, 16),
	}
}

// pushState keeps only the latest state; intermediate ones are skipped when
// the client is slower than the controller.
func (c *liveConn) pushState(s realtime.State) {
	c.mu.Lock()
	c.pending = &s
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *liveConn) pushError(e liveError) {
	select {
	case c.errs <- e:
	default:
		c.log.Warn("live error frame dropped", logger.String("op", e.Op))
	}
}

func (c *liveConn) writeLoop(ctx context.Context) {
	ping := time.NewTicker(livePingEvery)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			c.ws.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-c.wake:
			c.mu.Lock()
			s := c.pending
			c.pending = nil
			c.mu.Unlock()
			if s == nil {
				continue
			}
			if err := c.write(liveFrame{Type: "state", State: s}); err != nil {
				return
			}

		case e := <-c.errs:
			if err := c.write(liveFrame{Type: "error", Error: &e}); err != nil {
				return
			}

		case <-ping.C:
			c.ws.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("live ping failed", logger.Error(err))
				return
			}
		}
	}
}

func (c *liveConn) write(frame liveFrame) error {
	c.ws.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	if err := c.ws.WriteJSON(frame); err != nil {
		c.log.Debug("live write failed", logger.Error(err))
		return err
	}
	return nil
}

func (c *liveConn) readLoop(ctx context.Context, ctrl *realtime.Controller) {
	c.ws.SetReadLimit(liveMaxMessage)
	c.ws.SetReadDeadline(time.Now().Add(livePongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(livePongWait))
	})

	for {
		var intent liveIntent
		if err := c.ws.ReadJSON(&intent); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("live read failed", logger.Error(err))
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(livePongWait))

		switch intent.Type {
		case intentAdd:
			go func() {
				if _, err := ctrl.Add(ctx, intent.URL, intent.Title); err != nil {
					c.pushError(intentError(intentAdd, err))
				}
			}()
		case intentDelete:
			go func() {
				if err := ctrl.Delete(ctx, intent.ID); err != nil {
					c.pushError(intentError(intentDelete, err))
				}
			}()
		case intentSignOut:
			go func() {
				if err := ctrl.SignOut(ctx); err != nil {
					c.pushError(intentError(intentSignOut, err))
				}
			}()
		case intentRefresh:
			ctrl.Refresh()
		default:
			c.pushError(liveError{Op: intent.Type, Message: "unknown intent"})
		}
	}
}

func intentError(op string, err error) liveError {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return liveError{Op: op, Field: ve.Field, Message: ve.Reason}
	case errors.Is(err, domain.ErrNotAuthenticated):
		return liveError{Op: op, Message: "not signed in"}
	case errors.Is(err, context.Canceled), errors.Is(err, realtime.ErrClosed):
		return liveError{Op: op, Message: "view closed"}
	default:
		return liveError{Op: op, Message: "remote store unavailable, try again"}
	}
}

// sameOrigin accepts requests without an Origin header, same-host origins
// and origins listed in allowedHosts.
func sameOrigin(allowedHosts []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		return strings.EqualFold(u.Host, r.Host) || mw.HostAllowed(u.Host, allowedHosts)
	}
}
