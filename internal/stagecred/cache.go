// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package stagecred

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultFreshnessThreshold is how long a timestamped snapshot is reused
// before an ordinary access triggers a refresh.
const DefaultFreshnessThreshold = time.Minute

// Fetcher is the control-plane call the cache uses to obtain a new
// descriptor. *Client implements it.
type Fetcher interface {
	FetchDescriptor(ctx context.Context) (Descriptor, error)
}

// Cache owns at most one live Credentials snapshot. Reads are a plain
// atomic pointer load; the refresh path is a single critical section, so at
// most one configure round-trip is in flight at a time and waiters reuse
// the snapshot the winner installed.
type Cache struct {
	fetcher   Fetcher
	threshold time.Duration
	clock     clock.Clock

	// refreshMu serializes refreshes; current is swapped atomically so
	// readers never observe a torn snapshot.
	refreshMu sync.Mutex
	current   atomic.Pointer[Credentials]
}

// CacheOption customizes a Cache.
type CacheOption func(*Cache)

// WithFreshnessThreshold overrides DefaultFreshnessThreshold.
func WithFreshnessThreshold(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.threshold = d
		}
	}
}

// WithClock substitutes the wall clock, for tests.
func WithClock(clk clock.Clock) CacheOption {
	return func(c *Cache) {
		c.clock = clk
	}
}

// NewCache returns an empty cache. The first access performs the initial
// fetch.
func NewCache(fetcher Fetcher, opts ...CacheOption) *Cache {
	c := &Cache{
		fetcher:   fetcher,
		threshold: DefaultFreshnessThreshold,
		clock:     clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current returns the installed snapshot without refreshing. It may be nil.
func (c *Cache) Current() *Credentials {
	return c.current.Load()
}

// GetOrRefresh returns the cached snapshot when it is still usable and
// refreshes otherwise. Snapshots of unknown age are reused; only an
// explicit ForceRefresh discards them.
func (c *Cache) GetOrRefresh(ctx context.Context) (*Credentials, error) {
	if cur := c.current.Load(); cur != nil && c.usable(cur) {
		return cur, nil
	}
	return c.refresh(ctx, false)
}

// ForceRefresh unconditionally fetches new credentials, discarding the
// previous snapshot on success.
func (c *Cache) ForceRefresh(ctx context.Context) (*Credentials, error) {
	return c.refresh(ctx, true)
}

func (c *Cache) usable(cr *Credentials) bool {
	if !cr.AgeKnown() {
		return true
	}
	return c.clock.Now().Sub(cr.IssuedAt) < c.threshold
}

func (c *Cache) refresh(ctx context.Context, force bool) (*Credentials, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited on the lock.
	if !force {
		if cur := c.current.Load(); cur != nil && c.usable(cur) {
			return cur, nil
		}
	}

	refreshCount.Add(ctx, 1)
	desc, err := c.fetcher.FetchDescriptor(ctx)
	if err != nil {
		refreshErrors.Add(ctx, 1)
		// The previous snapshot, if any, stays installed.
		return nil, err
	}

	cr := &Credentials{
		Descriptor: desc,
		IssuedAt:   c.clock.Now(),
	}
	c.current.Store(cr)
	slog.Debug("refreshed stage credentials",
		slog.Bool("forced", force),
		slog.String("locationType", desc.StageInfo.LocationType),
		slog.Time("issuedAt", cr.IssuedAt))
	return cr, nil
}

// install replaces the snapshot without a fetch. Tests use it to model
// snapshots of unknown age.
func (c *Cache) install(cr *Credentials) {
	c.current.Store(cr)
}
