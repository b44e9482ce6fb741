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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// ConfigurePath is the control-plane path suffix for the configure call.
	ConfigurePath = "/v1/streaming/client/configure"

	// DefaultRequestTimeout limits a single configure round-trip.
	DefaultRequestTimeout = 60 * time.Second

	maxConfigureResponseSize = 4 * 1024 * 1024
)

var (
	// ErrConfiguration means the stage endpoint configuration is malformed.
	// Detected before any network call and never retried.
	ErrConfiguration = errors.New("invalid stage endpoint configuration")

	// ErrRefresh means a control-plane refresh round-trip failed. The cache
	// keeps its last-good snapshot when this is returned.
	ErrRefresh = errors.New("stage credential refresh failed")
)

// Endpoint locates the control-plane configure endpoint.
type Endpoint struct {
	Scheme string
	Host   string
	Port   int
}

// Validate rejects malformed endpoint configuration before any I/O.
func (e Endpoint) Validate() error {
	switch e.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("%w: scheme %q must be http or https", ErrConfiguration, e.Scheme)
	}
	if e.Host == "" || strings.ContainsAny(e.Host, "/ ") {
		return fmt.Errorf("%w: host %q", ErrConfiguration, e.Host)
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrConfiguration, e.Port)
	}
	return nil
}

func (e Endpoint) configureURL() string {
	u := url.URL{
		Scheme: e.Scheme,
		Host:   e.Host + ":" + strconv.Itoa(e.Port),
		Path:   ConfigurePath,
	}
	return u.String()
}

// Client fetches stage descriptors from the control plane.
type Client struct {
	endpoint Endpoint
	http     *http.Client
}

// NewClient validates the endpoint and returns a configure client.
func NewClient(endpoint Endpoint, timeout time.Duration) (*Client, error) {
	if err := endpoint.Validate(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}, nil
}

// FetchDescriptor performs one configure round-trip and adapts the response
// into the descriptor the uploader expects. Any transport, status or schema
// failure is reported as ErrRefresh.
func (c *Client) FetchDescriptor(ctx context.Context) (Descriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.configureURL(), strings.NewReader("{}"))
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: create request: %w", ErrRefresh, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %w", ErrRefresh, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Descriptor{}, fmt.Errorf("%w: configure returned status %d", ErrRefresh, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxConfigureResponseSize))
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: read response: %w", ErrRefresh, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return Descriptor{}, fmt.Errorf("%w: malformed configure response: %w", ErrRefresh, err)
	}

	adapted, err := adaptConfigureResponse(raw)
	if err != nil {
		return Descriptor{}, err
	}
	return decodeDescriptor(adapted)
}

// adaptConfigureResponse patches the field-naming mismatches between the
// configure response and the transfer metadata the uploader consumes: the
// response is wrapped in a "data" envelope, stage_location is copied to
// data.stageInfo, and a placeholder src_locations list is injected. The
// actual per-file name is overridden on every upload, but the expected
// schema requires the list to be present.
func adaptConfigureResponse(raw map[string]any) (map[string]any, error) {
	stageLocation, ok := raw["stage_location"]
	if !ok || stageLocation == nil {
		return nil, fmt.Errorf("%w: configure response missing stage_location", ErrRefresh)
	}

	data := map[string]any{}
	for k, v := range raw {
		if k == "stage_location" {
			continue
		}
		data[k] = v
	}
	data["stageInfo"] = stageLocation
	data["src_locations"] = []any{"placeholder"}

	adapted := maps.Clone(raw)
	adapted["data"] = data
	return adapted, nil
}

// transferMetadata is the uploader-facing shape of the data envelope.
type transferMetadata struct {
	StageInfo    StageInfo           `json:"stageInfo"`
	SrcLocations []string            `json:"src_locations"`
	PresignedURL string              `json:"presigned_url"`
	Command      string              `json:"command"`
	Encryption   *EncryptionMaterial `json:"encryption_material"`
}

func decodeDescriptor(adapted map[string]any) (Descriptor, error) {
	buf, err := json.Marshal(adapted["data"])
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: encode transfer metadata: %w", ErrRefresh, err)
	}
	var meta transferMetadata
	if err := json.Unmarshal(buf, &meta); err != nil {
		return Descriptor{}, fmt.Errorf("%w: decode transfer metadata: %w", ErrRefresh, err)
	}
	if meta.StageInfo.Location == "" && meta.PresignedURL == "" {
		return Descriptor{}, fmt.Errorf("%w: stage location has no destination", ErrRefresh)
	}
	return Descriptor{
		PresignedURL:    meta.PresignedURL,
		StageInfo:       meta.StageInfo,
		Encryption:      meta.Encryption,
		CommandType:     meta.Command,
		SourceLocations: meta.SrcLocations,
	}, nil
}
