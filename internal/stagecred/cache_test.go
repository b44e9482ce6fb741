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
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// configureServer returns a control-plane stub that counts round-trips.
func configureServer(t *testing.T, delay time.Duration) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		_, _ = w.Write([]byte(configureBody))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestCache(t *testing.T, srv *httptest.Server, opts ...CacheOption) *Cache {
	t.Helper()
	client, err := NewClient(endpointFor(t, srv), time.Second)
	require.NoError(t, err)
	return NewCache(client, opts...)
}

func TestGetOrRefreshFetchesOnceWithinThreshold(t *testing.T) {
	srv, hits := configureServer(t, 0)
	mock := clock.NewMock()
	cache := newTestCache(t, srv, WithClock(mock))

	ctx := context.Background()
	first, err := cache.GetOrRefresh(ctx)
	require.NoError(t, err)
	second, err := cache.GetOrRefresh(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), hits.Load(), "second call within the threshold must reuse the snapshot")
	assert.Same(t, first, second)
	assert.True(t, first.AgeKnown())
}

func TestGetOrRefreshRefetchesAfterThreshold(t *testing.T) {
	srv, hits := configureServer(t, 0)
	mock := clock.NewMock()
	cache := newTestCache(t, srv, WithClock(mock))

	ctx := context.Background()
	first, err := cache.GetOrRefresh(ctx)
	require.NoError(t, err)

	mock.Add(DefaultFreshnessThreshold + time.Second)

	second, err := cache.GetOrRefresh(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), hits.Load())
	assert.NotSame(t, first, second)
	assert.True(t, second.IssuedAt.After(first.IssuedAt), "new snapshot must carry a later timestamp")
}

func TestGetOrRefreshHonorsCustomThreshold(t *testing.T) {
	srv, hits := configureServer(t, 0)
	mock := clock.NewMock()
	cache := newTestCache(t, srv, WithClock(mock), WithFreshnessThreshold(10*time.Second))

	ctx := context.Background()
	_, err := cache.GetOrRefresh(ctx)
	require.NoError(t, err)

	mock.Add(9 * time.Second)
	_, err = cache.GetOrRefresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())

	mock.Add(2 * time.Second)
	_, err = cache.GetOrRefresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestForceRefreshAlwaysFetches(t *testing.T) {
	srv, hits := configureServer(t, 0)
	mock := clock.NewMock()
	cache := newTestCache(t, srv, WithClock(mock))

	ctx := context.Background()
	first, err := cache.GetOrRefresh(ctx)
	require.NoError(t, err)

	mock.Add(time.Second)
	second, err := cache.ForceRefresh(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), hits.Load())
	assert.NotSame(t, first, second)
	assert.Same(t, second, cache.Current())
}

func TestUnknownAgeSnapshotReusedWithoutRefresh(t *testing.T) {
	srv, hits := configureServer(t, 0)
	cache := newTestCache(t, srv)

	unknown := &Credentials{Descriptor: Descriptor{PresignedURL: "https://stage.example.com/u"}}
	require.False(t, unknown.AgeKnown())
	cache.install(unknown)

	got, err := cache.GetOrRefresh(context.Background())
	require.NoError(t, err)
	assert.Same(t, unknown, got)
	assert.Equal(t, int64(0), hits.Load(), "unknown-age snapshots are reused, not proactively expired")

	forced, err := cache.ForceRefresh(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, unknown, forced)
	assert.Equal(t, int64(1), hits.Load())
}

func TestRefreshFailureKeepsLastGoodSnapshot(t *testing.T) {
	var fail atomic.Bool
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(configureBody))
	}))
	defer srv.Close()

	mock := clock.NewMock()
	cache := newTestCache(t, srv, WithClock(mock))

	ctx := context.Background()
	good, err := cache.GetOrRefresh(ctx)
	require.NoError(t, err)

	fail.Store(true)
	mock.Add(DefaultFreshnessThreshold + time.Second)

	_, err = cache.GetOrRefresh(ctx)
	require.ErrorIs(t, err, ErrRefresh)
	assert.Same(t, good, cache.Current(), "a failed refresh must leave the previous snapshot in place")

	_, err = cache.ForceRefresh(ctx)
	require.ErrorIs(t, err, ErrRefresh)
	assert.Same(t, good, cache.Current())
}

func TestConcurrentGetOrRefreshSingleRoundTrip(t *testing.T) {
	srv, hits := configureServer(t, 50*time.Millisecond)
	cache := newTestCache(t, srv)

	const callers = 16
	results := make([]*Credentials, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := range callers {
		go func() {
			defer wg.Done()
			cr, err := cache.GetOrRefresh(context.Background())
			assert.NoError(t, err)
			results[i] = cr
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), hits.Load(), "concurrent stale readers must coalesce into one round-trip")

	// Every caller sees a complete snapshot, never a partial one.
	for _, cr := range results {
		require.NotNil(t, cr)
		assert.Equal(t, "ingest-bucket/stage/prefix", cr.Descriptor.StageInfo.Location)
		assert.Equal(t, []string{"placeholder"}, cr.Descriptor.SourceLocations)
		assert.True(t, cr.AgeKnown())
	}
}

func TestConcurrentReadersDuringForcedRefreshSeeCompleteSnapshots(t *testing.T) {
	srv, _ := configureServer(t, 20*time.Millisecond)
	cache := newTestCache(t, srv)

	ctx := context.Background()
	_, err := cache.GetOrRefresh(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, ferr := cache.ForceRefresh(ctx)
		assert.NoError(t, ferr)
	}()

	// Readers racing the forced refresh observe either the old or the new
	// snapshot, always whole.
	for range 50 {
		cr := cache.Current()
		require.NotNil(t, cr)
		assert.Equal(t, "ingest-bucket/stage/prefix", cr.Descriptor.StageInfo.Location)
		assert.True(t, cr.AgeKnown())
	}
	wg.Wait()
}
