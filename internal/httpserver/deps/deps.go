package deps

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/feed"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/repository"
	redisstore "github.com/MrSnakeDoc/smartmark/internal/store/redis"
)

// Authenticator runs the OAuth login round trip.
type Authenticator interface {
	AuthCodeURL(next string) (string, error)
	Exchange(ctx context.Context, code, state string) (*domain.Identity, string, error)
}

// Cookie configures the session cookie.
type Cookie struct {
	Name   string
	Secure bool
	TTL    time.Duration
}

type Deps struct {
	Logger         logger.Logger
	StartTime      time.Time
	Version        string
	Commit         string
	BuildDate      string
	GoVersion      string
	TimeNow        func() time.Time   // for testing, defaults to time.Now
	AllowedHosts   []string           // Host headers allowed to access the server
	AllowedCIDRS   []string           // IPs allowed to access healthz/readyz/infra/admin endpoints
	TrustProxy     bool               // true if running behind a trusted reverse proxy (e.g., cloudflared)
	Store          *redisstore.Store  // bookmarks and sessions
	Subscriber     *feed.Subscriber   // change feed
	Auth           Authenticator      // OIDC login
	Cookie         Cookie             // session cookie settings
	Repository     repository.Options // list retry tuning
	ResyncInterval time.Duration      // live view resync while the feed is down
	SessionCheck   time.Duration      // live view session re-verification interval
	ImportTrigger  chan struct{}      // Channel to trigger a manual import (nil if import disabled)
	LastImport     func() time.Time   // last completed import (nil if import disabled)
	LiveViews      *LiveViews         // open /api/live connections
}

// Now returns d.TimeNow() or time.Now().
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}

// LiveViews counts open live connections.
type LiveViews struct {
	n atomic.Int64
}

// Open registers a connection and returns its release func.
func (v *LiveViews) Open() (release func()) {
	if v == nil {
		return func() {}
	}
	v.n.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			v.n.Add(-1)
		}
	}
}

func (v *LiveViews) Count() int64 {
	if v == nil {
		return 0
	}
	return v.n.Load()
}
