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

package stageupload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/stagerunner/internal/stagecred"
)

const configureBody = `{
	"presigned_url": "https://stage.example.com/upload",
	"stage_location": {
		"locationType": "S3",
		"location": "ingest-bucket/stage/prefix",
		"path": "chunks",
		"region": "us-east-1",
		"creds": {"AWS_KEY_ID": "AKIATEST", "AWS_SECRET_KEY": "secret"}
	}
}`

// newTestCache wires a credential cache to a counting control-plane stub.
func newTestCache(t *testing.T) (*stagecred.Cache, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(configureBody))
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	client, err := stagecred.NewClient(stagecred.Endpoint{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Port:   port,
	}, time.Second)
	require.NoError(t, err)

	return stagecred.NewCache(client), &hits
}

// fakeBackend records every PutRequest and pops scripted errors in order.
type fakeBackend struct {
	mu       sync.Mutex
	requests []PutRequest
	payloads [][]byte
	errs     []error
}

func (f *fakeBackend) Put(_ context.Context, req PutRequest) error {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.payloads = append(f.payloads, body)
	if len(f.errs) == 0 {
		return nil
	}
	next := f.errs[0]
	f.errs = f.errs[1:]
	return next
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func TestUploadSuccess(t *testing.T) {
	cache, hits := newTestCache(t)
	backend := &fakeBackend{}
	up := NewUploader(cache, backend)

	err := up.Upload(context.Background(), "chunks/a.bin", []byte("payload"))
	require.NoError(t, err)

	require.Equal(t, 1, backend.calls())
	req := backend.requests[0]
	assert.Equal(t, "chunks/a.bin", req.Descriptor.TargetPath)
	assert.Equal(t, []byte("payload"), backend.payloads[0])
	assert.Equal(t, int64(len("payload")), req.ContentLength)
	assert.True(t, req.DisableCompression)
	assert.True(t, req.TLSRevocationFailOpen)
	assert.Equal(t, int64(1), hits.Load(), "one initial fetch, no forced refresh")
}

func TestUploadRetriesOnceOnCredentialRejection(t *testing.T) {
	cache, hits := newTestCache(t)
	backend := &fakeBackend{errs: []error{
		fmt.Errorf("%w: stage returned status 403", ErrCredentialsRejected),
	}}
	up := NewUploader(cache, backend)

	err := up.Upload(context.Background(), "chunks/a.bin", []byte("data"))
	require.NoError(t, err)

	assert.Equal(t, 2, backend.calls(), "one attempt plus one retry")
	assert.Equal(t, int64(2), hits.Load(), "initial fetch plus exactly one forced refresh")
	assert.Equal(t, "chunks/a.bin", backend.requests[1].Descriptor.TargetPath)
}

func TestUploadSecondRejectionPropagatesWithoutAnotherRefresh(t *testing.T) {
	cache, hits := newTestCache(t)
	rejected := fmt.Errorf("%w: stage returned status 401", ErrCredentialsRejected)
	backend := &fakeBackend{errs: []error{rejected, rejected}}
	up := NewUploader(cache, backend)

	err := up.Upload(context.Background(), "chunks/a.bin", []byte("data"))
	require.ErrorIs(t, err, ErrCredentialsRejected)
	assert.NotErrorIs(t, err, ErrUploadIO, "rejection on the retry surfaces as-is")

	assert.Equal(t, 2, backend.calls())
	assert.Equal(t, int64(2), hits.Load(), "no refresh after the retry fails")
}

func TestUploadIOErrorNotRetried(t *testing.T) {
	cache, hits := newTestCache(t)
	backend := &fakeBackend{errs: []error{errors.New("connection reset")}}
	up := NewUploader(cache, backend)

	err := up.Upload(context.Background(), "chunks/a.bin", []byte("data"))
	require.ErrorIs(t, err, ErrUploadIO)

	assert.Equal(t, 1, backend.calls())
	assert.Equal(t, int64(1), hits.Load())
}

func TestUploadIOErrorOnRetrySurfacesAsIs(t *testing.T) {
	cache, _ := newTestCache(t)
	ioErr := errors.New("connection reset")
	backend := &fakeBackend{errs: []error{
		fmt.Errorf("%w: expired", ErrCredentialsRejected),
		ioErr,
	}}
	up := NewUploader(cache, backend)

	err := up.Upload(context.Background(), "chunks/a.bin", []byte("data"))
	require.ErrorIs(t, err, ioErr)
	assert.NotErrorIs(t, err, ErrUploadIO, "retry failures are not wrapped a second time")
}

func TestUploadZeroRetriesPropagatesFirstRejection(t *testing.T) {
	cache, hits := newTestCache(t)
	backend := &fakeBackend{errs: []error{
		fmt.Errorf("%w: expired", ErrCredentialsRejected),
	}}
	up := NewUploader(cache, backend, WithMaxRetries(0))

	err := up.Upload(context.Background(), "chunks/a.bin", []byte("data"))
	require.ErrorIs(t, err, ErrCredentialsRejected)
	assert.Equal(t, 1, backend.calls())
	assert.Equal(t, int64(1), hits.Load())
}

func TestConcurrentUploadsUseIndependentPaths(t *testing.T) {
	cache, _ := newTestCache(t)
	backend := &fakeBackend{}
	up := NewUploader(cache, backend)

	const uploads = 8
	var wg sync.WaitGroup
	wg.Add(uploads)
	for i := range uploads {
		go func() {
			defer wg.Done()
			p := fmt.Sprintf("chunks/%d.bin", i)
			assert.NoError(t, up.Upload(context.Background(), p, []byte{byte(i)}))
		}()
	}
	wg.Wait()

	require.Equal(t, uploads, backend.calls())

	// Each request carries its own descriptor copy with its own path.
	seen := make(map[string]bool)
	for j, req := range backend.requests {
		seen[req.Descriptor.TargetPath] = true
		require.Len(t, backend.payloads[j], 1)
		expected := fmt.Sprintf("chunks/%d.bin", backend.payloads[j][0])
		assert.Equal(t, expected, req.Descriptor.TargetPath)
	}
	assert.Len(t, seen, uploads)

	// The shared cached descriptor is never mutated.
	assert.Empty(t, cache.Current().Descriptor.TargetPath)
}
