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

// Package colstats tracks per-column min/max, null-count and max-length
// statistics for in-progress chunks. The finalized statistics become the
// pruning metadata attached to each uploaded chunk, so the comparison
// semantics here must match what the query engine assumes when it skips
// chunks: unsigned byte-wise ordering for strings, numeric ordering for
// integers and reals.
package colstats

import (
	"math"
	"math/big"
)

// DistinctCountUnknown is the sentinel returned by Tracker.DistinctCount.
// No cardinality estimation is performed while buffering rows.
const DistinctCountUnknown int64 = -1

// Tracker accumulates statistics for a single column of one buffer shard.
// Columns are homogeneously typed, so at most one of the string, integer
// and real families is populated in practice; the caller's column-type
// knowledge routes values to the matching Observe method.
//
// A Tracker is not safe for concurrent writers. Shard trackers are combined
// with Merge, which treats both inputs as frozen and never mutates them.
type Tracker struct {
	minStr  *string
	maxStr  *string
	minInt  *big.Int
	maxInt  *big.Int
	minReal *float64
	maxReal *float64

	nullCount int64

	// binary and string columns only
	maxLength int64
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// ObserveString folds a string value into the min/max for the string family.
// Go string comparison is unsigned byte-wise over the UTF-8 encoding, which
// is exactly the order the pruning layer expects. Ties keep the stored value.
func (t *Tracker) ObserveString(v string) {
	if t.minStr == nil || *t.minStr > v {
		s := v
		t.minStr = &s
	}
	if t.maxStr == nil || *t.maxStr < v {
		s := v
		t.maxStr = &s
	}
}

// ObserveInt folds an arbitrary-precision integer into the integer family.
// The stored min/max are copies; the caller may reuse v.
func (t *Tracker) ObserveInt(v *big.Int) {
	if t.minInt == nil || t.minInt.Cmp(v) > 0 {
		t.minInt = new(big.Int).Set(v)
	}
	if t.maxInt == nil || t.maxInt.Cmp(v) < 0 {
		t.maxInt = new(big.Int).Set(v)
	}
}

// ObserveReal folds a float64 into the real family. NaN observations are
// ignored entirely so that min/max stay well ordered and merges stay
// order-independent.
func (t *Tracker) ObserveReal(v float64) {
	if math.IsNaN(v) {
		return
	}
	if t.minReal == nil || *t.minReal > v {
		f := v
		t.minReal = &f
	}
	if t.maxReal == nil || *t.maxReal < v {
		f := v
		t.maxReal = &f
	}
}

// ObserveNull counts a null row value. Null observations never affect
// min/max or max-length.
func (t *Tracker) ObserveNull() {
	t.nullCount++
}

// RecordLength tracks the byte length of the widest value seen. It is
// independent of which value family is active.
func (t *Tracker) RecordLength(n int64) {
	if n > t.maxLength {
		t.maxLength = n
	}
}

// MinString returns the byte-lexicographic minimum string observed, if any.
func (t *Tracker) MinString() (string, bool) {
	if t.minStr == nil {
		return "", false
	}
	return *t.minStr, true
}

// MaxString returns the byte-lexicographic maximum string observed, if any.
func (t *Tracker) MaxString() (string, bool) {
	if t.maxStr == nil {
		return "", false
	}
	return *t.maxStr, true
}

// MinInt returns a copy of the minimum integer observed, or nil.
func (t *Tracker) MinInt() *big.Int {
	if t.minInt == nil {
		return nil
	}
	return new(big.Int).Set(t.minInt)
}

// MaxInt returns a copy of the maximum integer observed, or nil.
func (t *Tracker) MaxInt() *big.Int {
	if t.maxInt == nil {
		return nil
	}
	return new(big.Int).Set(t.maxInt)
}

// MinReal returns the minimum real observed, if any.
func (t *Tracker) MinReal() (float64, bool) {
	if t.minReal == nil {
		return 0, false
	}
	return *t.minReal, true
}

// MaxReal returns the maximum real observed, if any.
func (t *Tracker) MaxReal() (float64, bool) {
	if t.maxReal == nil {
		return 0, false
	}
	return *t.maxReal, true
}

// NullCount returns the number of null values observed.
func (t *Tracker) NullCount() int64 {
	return t.nullCount
}

// MaxLength returns the byte length of the widest value recorded.
func (t *Tracker) MaxLength() int64 {
	return t.maxLength
}

// DistinctCount returns DistinctCountUnknown.
func (t *Tracker) DistinctCount() int64 {
	return DistinctCountUnknown
}

// Merge combines two trackers into a fresh one without mutating either
// input. It is commutative and associative, so any tree or chain of merges
// over parallel shard trackers yields the same result: per family the
// min/max of the inputs' min/max, null counts summed, max-length maxed.
func Merge(left, right *Tracker) *Tracker {
	combined := NewTracker()
	for _, t := range []*Tracker{left, right} {
		if t.minInt != nil {
			combined.ObserveInt(t.minInt)
			combined.ObserveInt(t.maxInt)
		}
		if t.minStr != nil {
			combined.ObserveString(*t.minStr)
			combined.ObserveString(*t.maxStr)
		}
		if t.minReal != nil {
			combined.ObserveReal(*t.minReal)
			combined.ObserveReal(*t.maxReal)
		}
		combined.nullCount += t.nullCount
		combined.RecordLength(t.maxLength)
	}
	return combined
}
