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

package colstats

import (
	"context"
	"math/big"
)

// Accumulator collects statistics for a single output chunk.
type Accumulator interface {
	// Add is called once per row buffered into the chunk.
	Add(row map[string]any)

	// Finalize is called exactly once after the last row and returns the
	// accumulated statistics for the chunk.
	Finalize() ChunkStats
}

// Provider creates Accumulators, one per in-progress chunk or shard.
type Provider interface {
	NewAccumulator() Accumulator
}

// ChunkStats maps column name to that column's finalized tracker. The
// trackers are read-only once finalized.
type ChunkStats map[string]*Tracker

// ChunkAccumulator routes row values to per-column trackers by dynamic
// type. One accumulator serves one shard; accumulators from sibling shards
// are combined with MergeChunkStats before the chunk metadata is emitted.
type ChunkAccumulator struct {
	columns ChunkStats
}

var _ Accumulator = (*ChunkAccumulator)(nil)

// ChunkStatsProvider creates ChunkAccumulators.
type ChunkStatsProvider struct{}

func (ChunkStatsProvider) NewAccumulator() Accumulator {
	return NewChunkAccumulator()
}

func NewChunkAccumulator() *ChunkAccumulator {
	return &ChunkAccumulator{columns: make(ChunkStats)}
}

// Add folds one row into the per-column trackers. String and binary values
// also record their byte length. Values of types the pruning layer cannot
// order are counted and skipped.
func (a *ChunkAccumulator) Add(row map[string]any) {
	for col, v := range row {
		t := a.tracker(col)
		switch val := v.(type) {
		case nil:
			t.ObserveNull()
		case string:
			t.ObserveString(val)
			t.RecordLength(int64(len(val)))
		case []byte:
			t.ObserveString(string(val))
			t.RecordLength(int64(len(val)))
		case int:
			t.ObserveInt(big.NewInt(int64(val)))
		case int32:
			t.ObserveInt(big.NewInt(int64(val)))
		case int64:
			t.ObserveInt(big.NewInt(val))
		case uint64:
			t.ObserveInt(new(big.Int).SetUint64(val))
		case *big.Int:
			t.ObserveInt(val)
		case float32:
			t.ObserveReal(float64(val))
		case float64:
			t.ObserveReal(val)
		default:
			unsupportedValueType.Add(context.Background(), 1)
		}
	}
}

func (a *ChunkAccumulator) tracker(col string) *Tracker {
	t, ok := a.columns[col]
	if !ok {
		t = NewTracker()
		a.columns[col] = t
	}
	return t
}

// Column returns the tracker for a column, or nil if the column was never
// seen.
func (a *ChunkAccumulator) Column(col string) *Tracker {
	return a.columns[col]
}

// Finalize returns the accumulated per-column statistics. The accumulator
// must not be written to afterwards.
func (a *ChunkAccumulator) Finalize() ChunkStats {
	return a.columns
}

// MergeChunkStats combines the finalized statistics of two sibling shards.
// Columns present in only one input merge against an empty tracker, which
// is the identity for Merge. Neither input is mutated.
func MergeChunkStats(left, right ChunkStats) ChunkStats {
	combined := make(ChunkStats, max(len(left), len(right)))
	for col, t := range left {
		if other, ok := right[col]; ok {
			combined[col] = Merge(t, other)
		} else {
			combined[col] = Merge(t, NewTracker())
		}
	}
	for col, t := range right {
		if _, ok := left[col]; !ok {
			combined[col] = Merge(NewTracker(), t)
		}
	}
	return combined
}
