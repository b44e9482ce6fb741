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

// Package stageupload pushes serialized chunks to the staging area using
// credentials from the stagecred cache. A rejected-credential failure
// forces one refresh and one retry; everything else surfaces immediately.
package stageupload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cardinalhq/stagerunner/internal/stagecred"
)

// DefaultMaxRetries is the number of times an upload is retried after a
// forced credential refresh.
const DefaultMaxRetries = 1

var (
	// ErrCredentialsRejected marks a transfer failure that looks like the
	// stage credentials were invalid or expired. The transport does not
	// reliably distinguish this from other failures, so detection is
	// best-effort at the backend boundary.
	ErrCredentialsRejected = errors.New("stage credentials rejected")

	// ErrUploadIO marks any other transfer failure. Never retried.
	ErrUploadIO = errors.New("stage upload failed")
)

// PutRequest is one transfer to the staging area. Descriptor is a per-call
// copy; backends may read it freely but must not assume it is shared.
type PutRequest struct {
	Descriptor    stagecred.Descriptor
	Body          io.Reader
	ContentLength int64

	// Chunks are pre-serialized; the backend must not compress them again.
	DisableCompression bool

	// TLS revocation checking is fail-open: an unavailable revocation
	// service must not block uploads.
	TLSRevocationFailOpen bool
}

// TransferBackend performs the byte transfer. Implementations report
// credential rejection by wrapping ErrCredentialsRejected; any other error
// is treated as an I/O failure.
type TransferBackend interface {
	Put(ctx context.Context, req PutRequest) error
}

// Uploader uploads chunks with cached stage credentials, refreshing them
// once when they are rejected mid-upload.
type Uploader struct {
	cache      *stagecred.Cache
	backend    TransferBackend
	maxRetries int
}

// UploaderOption customizes an Uploader.
type UploaderOption func(*Uploader)

// WithMaxRetries overrides DefaultMaxRetries.
func WithMaxRetries(n int) UploaderOption {
	return func(u *Uploader) {
		if n >= 0 {
			u.maxRetries = n
		}
	}
}

// NewUploader returns an uploader over the given cache and backend.
func NewUploader(cache *stagecred.Cache, backend TransferBackend, opts ...UploaderOption) *Uploader {
	u := &Uploader{
		cache:      cache,
		backend:    backend,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload pushes payload to targetPath on the stage. Credentials come from
// the cache without forcing a refresh; if the backend rejects them, the
// uploader forces one refresh and retries once. A second failure of any
// kind propagates to the caller.
func (u *Uploader) Upload(ctx context.Context, targetPath string, payload []byte) error {
	return u.upload(ctx, targetPath, payload, 0)
}

func (u *Uploader) upload(ctx context.Context, targetPath string, payload []byte, attempt int) error {
	creds, err := u.cache.GetOrRefresh(ctx)
	if err != nil {
		return err
	}

	req := PutRequest{
		Descriptor:            creds.Descriptor.WithPath(targetPath),
		Body:                  bytes.NewReader(payload),
		ContentLength:         int64(len(payload)),
		DisableCompression:    true,
		TLSRevocationFailOpen: true,
	}

	err = u.backend.Put(ctx, req)
	if err == nil {
		uploadCount.Add(ctx, 1)
		uploadBytes.Add(ctx, int64(len(payload)))
		return nil
	}

	if errors.Is(err, ErrCredentialsRejected) {
		if attempt >= u.maxRetries {
			return err
		}
		slog.Warn("stage credentials rejected, refreshing and retrying",
			slog.String("targetPath", targetPath),
			slog.Int("attempt", attempt))
		rejectedRetries.Add(ctx, 1)
		if _, err := u.cache.ForceRefresh(ctx); err != nil {
			return err
		}
		return u.upload(ctx, targetPath, payload, attempt+1)
	}

	uploadErrors.Add(ctx, 1)
	if attempt > 0 {
		// Retry failures surface as-is; the first pass already classified
		// the error shape.
		return err
	}
	return fmt.Errorf("%w: %w", ErrUploadIO, err)
}
