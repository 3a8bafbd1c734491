// Package teams maintains the cached organization team registry.
package teams

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/repo-butler/internal/config"
	"github.com/ashureev/repo-butler/internal/domain"
)

// Lister fetches the current team list from the provisioning backend.
type Lister interface {
	ListTeams(ctx context.Context) ([]domain.Team, error)
}

// Cache is a read-only snapshot of the organization's teams, refreshed by a
// periodic updater. The wizard only ever reads it; eventual consistency is
// acceptable.
type Cache struct {
	mu     sync.RWMutex
	teams  []domain.Team
	lister Lister
	cfg    config.TeamConfig
}

// NewCache creates an empty cache backed by the given lister.
func NewCache(lister Lister, cfg config.TeamConfig) *Cache {
	return &Cache{
		lister: lister,
		cfg:    cfg,
	}
}

// Refresh fetches the team list, applies classification flags, and swaps
// the snapshot.
func (c *Cache) Refresh(ctx context.Context) error {
	teams, err := c.lister.ListTeams(ctx)
	if err != nil {
		return fmt.Errorf("list teams: %w", err)
	}

	for i := range teams {
		teams[i].Security = teams[i].Name == c.cfg.Security
		teams[i].Core = teams[i].Name == c.cfg.Core
	}
	sort.Slice(teams, func(i, j int) bool {
		return teams[i].Name < teams[j].Name
	})

	c.mu.Lock()
	c.teams = teams
	c.mu.Unlock()
	return nil
}

// All returns the cached teams sorted by name.
func (c *Cache) All() []domain.Team {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Team, len(c.teams))
	copy(out, c.teams)
	return out
}

// ByID returns the cached team with the given id.
func (c *Cache) ByID(id int64) (domain.Team, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, team := range c.teams {
		if team.ID == id {
			return team, true
		}
	}
	return domain.Team{}, false
}

// Len returns the number of cached teams.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.teams)
}

// StartUpdater runs a background goroutine that refreshes the cache on the
// given interval until the context is cancelled.
func StartUpdater(ctx context.Context, cache *Cache, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("team list updater started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				if err := cache.Refresh(ctx); err != nil {
					slog.Error("team list refresh failed", "error", err)
				} else {
					slog.Debug("team list refreshed", "count", cache.Len())
				}
			case <-ctx.Done():
				slog.Info("team list updater shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
