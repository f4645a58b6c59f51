package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	bookmarkCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tap_bookmark_commits_total",
		Help: "Bookmark commits by stream",
	}, []string{"stream"})

	bookmarkTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tap_bookmark_timestamp_seconds",
		Help: "Committed bookmark as unix seconds by stream",
	}, []string{"stream"})
)

// Manager reads and commits bookmarks on top of a Store.
type Manager struct {
	store     Store
	startDate time.Time
	logger    zerolog.Logger

	// serialises read-compare-write in Commit
	mu sync.Mutex
}

// NewManager creates a manager. startDate is the bookmark of resources that
// have never been synced; zero means a full sync.
func NewManager(store Store, startDate time.Time) *Manager {
	return &Manager{
		store:     store,
		startDate: startDate,
		logger:    log.With().Str("component", "state").Logger(),
	}
}

// Bookmark returns the replication start point for resource.
func (m *Manager) Bookmark(ctx context.Context, resource string) (*time.Time, error) {
	b, err := m.store.Get(ctx, resource)
	if errors.Is(err, ErrNoBookmark) {
		if m.startDate.IsZero() {
			return nil, nil
		}
		start := m.startDate.UTC()
		return &start, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bookmark %s: %w", resource, err)
	}
	v := b.Value
	return &v, nil
}

// Commit stores maxSeen when it is after the current bookmark and reports
// whether it did.
func (m *Manager) Commit(ctx context.Context, resource, replicationKey string, maxSeen time.Time) (bool, error) {
	if maxSeen.IsZero() {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.store.Get(ctx, resource)
	switch {
	case errors.Is(err, ErrNoBookmark):
	case err != nil:
		return false, fmt.Errorf("read bookmark %s: %w", resource, err)
	case !maxSeen.After(current.Value):
		m.logger.Debug().
			Str("stream", resource).
			Time("bookmark", current.Value).
			Time("max_seen", maxSeen).
			Msg("Bookmark unchanged")
		return false, nil
	}

	next := Bookmark{ReplicationKey: replicationKey, Value: maxSeen.UTC()}
	if err := m.store.Set(ctx, resource, next); err != nil {
		return false, fmt.Errorf("write bookmark %s: %w", resource, err)
	}

	bookmarkCommits.WithLabelValues(resource).Inc()
	bookmarkTimestamp.WithLabelValues(resource).Set(float64(next.Value.Unix()))
	m.logger.Info().
		Str("stream", resource).
		Time("bookmark", next.Value).
		Msg("Bookmark committed")
	return true, nil
}

// Snapshot returns every stored bookmark.
func (m *Manager) Snapshot(ctx context.Context) (map[string]Bookmark, error) {
	all, err := m.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("read bookmarks: %w", err)
	}
	return all, nil
}
