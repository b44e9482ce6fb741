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
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout limits one presigned-URL transfer.
const DefaultHTTPTimeout = 5 * time.Minute

// HTTPBackend PUTs chunk payloads to the stage's presigned base URL with
// the per-call target path appended. Go's TLS stack performs no online
// revocation checks, which matches the fail-open revocation mode the
// request asks for.
type HTTPBackend struct {
	client *http.Client
}

var _ TransferBackend = (*HTTPBackend)(nil)

// NewHTTPBackend returns a presigned-URL transfer backend.
func NewHTTPBackend(timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPBackend{
		client: &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBackend) Put(ctx context.Context, req PutRequest) error {
	// A descriptor with no presigned URL is indistinguishable from one
	// built from expired credentials; report it as a rejection so the
	// uploader refreshes and retries.
	if req.Descriptor.PresignedURL == "" {
		return fmt.Errorf("%w: descriptor has no presigned URL", ErrCredentialsRejected)
	}

	target, err := uploadURL(req.Descriptor.PresignedURL, req.Descriptor.TargetPath)
	if err != nil {
		return fmt.Errorf("build upload URL: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, target, req.Body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.ContentLength = req.ContentLength
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	if req.DisableCompression {
		httpReq.Header.Set("Content-Encoding", "identity")
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("put chunk: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: stage returned status %d", ErrCredentialsRejected, resp.StatusCode)
	default:
		return fmt.Errorf("stage returned status %d", resp.StatusCode)
	}
}

// uploadURL appends the target path to the stage's base upload URL.
func uploadURL(base, targetPath string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = path.Join(u.Path, targetPath)
	return u.String(), nil
}
