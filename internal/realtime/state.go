package realtime

import (
	"context"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/feed"
)

// Phase is the top-level state of a live view.
type Phase string

const (
	PhaseUnauthenticated Phase = "unauthenticated"
	PhaseLoading         Phase = "loading"
	PhaseAuthenticated   Phase = "authenticated"
)

// State is the view state published to observers.
type State struct {
	Phase     Phase                   `json:"phase"`
	Identity  *domain.Identity        `json:"identity,omitempty"`
	Bookmarks []domain.Bookmark       `json:"bookmarks"`
	Status    domain.ConnectionStatus `json:"status,omitempty"`
	Loading   bool                    `json:"loading"`
}

func (s State) clone() State {
	out := s
	if s.Identity != nil {
		id := *s.Identity
		out.Identity = &id
	}
	if s.Bookmarks == nil {
		out.Bookmarks = []domain.Bookmark{}
	}
	return out
}

type redisFeed struct {
	sub *feed.Subscriber
}

// RedisFeed adapts a change feed subscriber to the Feed interface.
func RedisFeed(sub *feed.Subscriber) Feed {
	return redisFeed{sub: sub}
}

func (f redisFeed) Subscribe(
	ctx context.Context,
	ownerID string,
	onEvent func(domain.ChangeEvent),
	onStatus func(domain.ConnectionStatus),
) (Subscription, error) {
	s, err := f.sub.Subscribe(ctx, ownerID, onEvent, onStatus)
	if err != nil {
		return nil, err
	}
	return s, nil
}
