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

// Package stagecred fetches and caches the short-lived staging credentials
// the chunk uploader needs. Credentials come from a control-plane configure
// endpoint, are reused across concurrent uploads, and are refreshed behind
// a single critical section so that readers only ever see complete
// snapshots.
package stagecred

import (
	"slices"
	"time"
)

// StageInfo describes the remote stage location returned by the control
// plane: where chunks land and the scoped credentials to get them there.
type StageInfo struct {
	LocationType string            `json:"locationType"`
	Location     string            `json:"location"`
	Path         string            `json:"path"`
	Region       string            `json:"region"`
	EndPoint     string            `json:"endPoint,omitempty"`
	Creds        map[string]string `json:"creds,omitempty"`
}

// EncryptionMaterial carries the key material applied to staged chunks.
type EncryptionMaterial struct {
	MasterKey string `json:"master_key"`
	QueryID   string `json:"query_id"`
	SMKID     int64  `json:"smk_id"`
}

// Descriptor is the endpoint descriptor handed to the transfer backend for
// one upload: the stage location, signing material and the per-call target
// path. The cached descriptor is shared by every in-flight upload, so it is
// never mutated; each upload works on a copy from WithPath.
type Descriptor struct {
	PresignedURL    string
	StageInfo       StageInfo
	Encryption      *EncryptionMaterial
	CommandType     string
	SourceLocations []string

	// TargetPath is empty on the cached descriptor and set per upload.
	TargetPath string
}

// WithPath returns a copy of the descriptor with the upload target path
// substituted. Concurrent uploads each get their own copy so they cannot
// clobber each other's path.
func (d Descriptor) WithPath(targetPath string) Descriptor {
	c := d
	c.TargetPath = targetPath
	c.SourceLocations = slices.Clone(d.SourceLocations)
	return c
}

// Credentials is an immutable snapshot of stage credentials plus the time
// they were obtained. A refresh always builds a new instance; uploads that
// hold a reference to a prior snapshot keep a consistent view mid-flight.
type Credentials struct {
	Descriptor Descriptor

	// IssuedAt is the wall-clock time the credentials were obtained. The
	// zero value means the age is unknown; age tracking is best-effort,
	// not a correctness guarantee.
	IssuedAt time.Time
}

// AgeKnown reports whether the snapshot carries an issue time.
func (c *Credentials) AgeKnown() bool {
	return !c.IssuedAt.IsZero()
}
