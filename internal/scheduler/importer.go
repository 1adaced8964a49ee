package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/repository"
	"github.com/MrSnakeDoc/smartmark/internal/sources/homepage"
)

// ImportResult summarizes one import run.
type ImportResult struct {
	Imported int
	Existing int
	Skipped  int
}

// Importer copies a Homepage bookmarks.yaml into one owner's collection,
// once or periodically.
type Importer struct {
	loader        *homepage.Loader
	mapper        *homepage.Mapper
	store         repository.RemoteStore
	owner         *domain.Identity
	repoOpts      repository.Options
	logger        logger.Logger
	interval      time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
	manualTrigger chan struct{}

	mu       sync.Mutex // serializes runs
	lastUnix atomic.Int64
}

// NewImporter creates an importer for file owned by ownerID.
func NewImporter(
	file string,
	ownerID string,
	store repository.RemoteStore,
	repoOpts repository.Options,
	log logger.Logger,
	interval time.Duration,
	manualTrigger chan struct{},
) *Importer {
	return &Importer{
		loader:        homepage.NewLoader(file),
		mapper:        homepage.NewMapper(),
		store:         store,
		owner:         &domain.Identity{ID: ownerID, DisplayName: ownerID},
		repoOpts:      repoOpts,
		logger:        log.With(logger.String("file", file), logger.String("owner_id", ownerID)),
		interval:      interval,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start runs a first import, then re-imports on every tick or manual trigger.
// A failed first import is logged, not fatal: the file may appear later.
func (im *Importer) Start(ctx context.Context) {
	if _, err := im.Import(ctx); err != nil {
		im.logger.Error("initial bookmark import failed", logger.Error(err))
	}

	go func() {
		var tick <-chan time.Time
		if im.interval > 0 {
			ticker := time.NewTicker(im.interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-tick:
				if _, err := im.Import(ctx); err != nil {
					im.logger.Error("failed to import bookmarks", logger.Error(err))
				}
			case <-im.manualTrigger:
				im.logger.Info("manual bookmark import triggered")
				if _, err := im.Import(ctx); err != nil {
					im.logger.Error("failed to import bookmarks", logger.Error(err))
				}
			case <-im.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the periodic import. Safe to call more than once.
func (im *Importer) Stop() {
	im.stopOnce.Do(func() { close(im.stopCh) })
}

// LastImport returns when the last successful import finished, or the zero
// time.
func (im *Importer) LastImport() time.Time {
	n := im.lastUnix.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Import creates every bookmark from the file whose URL the owner does not
// already have. Existing bookmarks are never modified or removed.
func (im *Importer) Import(ctx context.Context) (ImportResult, error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	var res ImportResult

	config, err := im.loader.Load()
	if err != nil {
		return res, fmt.Errorf("failed to load bookmarks: %w", err)
	}

	entries, skipped, err := im.mapper.MapEntries(config)
	res.Skipped = len(skipped)
	for _, s := range skipped {
		im.logger.Warn("bookmark skipped",
			logger.String("category", s.Category),
			logger.String("name", s.Name),
			logger.String("reason", s.Reason))
	}
	if err != nil {
		return res, fmt.Errorf("failed to map bookmarks: %w", err)
	}

	repo := repository.New(im.store, im.owner, im.repoOpts, im.logger)

	current, err := repo.List(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list existing bookmarks: %w", err)
	}
	have := make(map[string]bool, len(current))
	for _, b := range current {
		have[b.URL] = true
	}

	for _, e := range entries {
		if have[e.URL] {
			res.Existing++
			continue
		}
		if _, err := repo.Create(ctx, e.URL, e.Title); err != nil {
			return res, fmt.Errorf("failed to import %q: %w", e.URL, err)
		}
		have[e.URL] = true
		res.Imported++
	}

	im.lastUnix.Store(time.Now().UnixNano())
	im.logger.Info("bookmarks imported",
		logger.Int("imported", res.Imported),
		logger.Int("existing", res.Existing),
		logger.Int("skipped", res.Skipped))

	return res, nil
}
