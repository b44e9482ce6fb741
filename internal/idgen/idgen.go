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

// Package idgen names the chunks uploaded to the stage. Names must be
// unique per session and sort roughly by creation time so stage listings
// stay readable.
package idgen

import (
	crand "crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// ChunkNamer produces unique chunk object names.
type ChunkNamer interface {
	// Name returns the object name for a chunk sealed at t, including the
	// given extension ("" for none).
	Name(t time.Time, ext string) string
}

// ULIDChunkNamer names chunks with monotonic ULIDs so that names minted in
// the same millisecond still sort in mint order.
type ULIDChunkNamer struct {
	entropy *ulid.MonotonicEntropy
}

var _ ChunkNamer = (*ULIDChunkNamer)(nil)

func NewULIDChunkNamer() *ULIDChunkNamer {
	return &ULIDChunkNamer{
		entropy: ulid.Monotonic(crand.Reader, 0),
	}
}

func (n *ULIDChunkNamer) Name(t time.Time, ext string) string {
	return ulid.MustNew(ulid.Timestamp(t), n.entropy).String() + ext
}

// InlineChunkNamer is a stateless variant for callers that do not need
// monotonic ordering within a millisecond.
type InlineChunkNamer struct{}

var _ ChunkNamer = (*InlineChunkNamer)(nil)

func (InlineChunkNamer) Name(_ time.Time, ext string) string {
	return ulid.Make().String() + ext
}
