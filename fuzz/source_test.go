// Copyright 2025 Sonic Labs
// This file is part of Aida Testing Infrastructure for Sonic
//
// Aida is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Aida is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Aida. If not, see <http://www.gnu.org/licenses/>.

package fuzz

import (
	"math/rand"
	"testing"

	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomSource_DrawsWithinBounds(t *testing.T) {
	src := NewRandomSource(rand.New(rand.NewSource(7)))
	tests := []struct {
		name   string
		lo, hi uint256.Int
	}{
		{"small", ledger.Amount(10), ledger.Amount(20)},
		{"single", ledger.Amount(5), ledger.Amount(5)},
		{"inverted", ledger.Amount(100), ledger.Amount(0)},
		{"ether", uint256.Int{}, ledger.Ether},
		{"full", uint256.Int{}, ledger.MaxAmount},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			lo, hi := ordered(test.lo, test.hi)
			for range 100 {
				v, err := src.Between(test.lo, test.hi)
				require.NoError(t, err)
				assert.False(t, v.Lt(&lo), "%v below %v", v.Dec(), lo.Dec())
				assert.False(t, v.Gt(&hi), "%v above %v", v.Dec(), hi.Dec())
			}
			assert.Len(t, src.Take(), 100)
			assert.Empty(t, src.Take())
		})
	}
}

func TestRandomSource_IsDeterministic(t *testing.T) {
	draw := func() []string {
		src := NewRandomSource(rand.New(rand.NewSource(42)))
		for i := 1; i < 20; i++ {
			_, err := src.Index(i)
			require.NoError(t, err)
		}
		return src.Take()
	}
	assert.Equal(t, draw(), draw())
}

func TestSource_IndexOfEmptyRangeFails(t *testing.T) {
	_, err := NewRandomSource(rand.New(rand.NewSource(1))).Index(0)
	assert.Error(t, err)
}

func TestReplaySource_ReplaysRecordedDraws(t *testing.T) {
	rec := NewRandomSource(rand.New(rand.NewSource(3)))
	var want []uint256.Int
	for _, hi := range []uint64{1, 10, 1000} {
		v, err := rec.Between(uint256.Int{}, ledger.Amount(hi))
		require.NoError(t, err)
		want = append(want, v)
	}
	draws := rec.Take()

	src := NewReplaySource()
	src.Load(draws)
	assert.Equal(t, 3, src.Remaining())
	for i, hi := range []uint64{1, 10, 1000} {
		v, err := src.Between(uint256.Int{}, ledger.Amount(hi))
		require.NoError(t, err)
		assert.Equal(t, want[i], v)
	}
	assert.Zero(t, src.Remaining())
	assert.Equal(t, draws, src.Take())
}

func TestReplaySource_Diverges(t *testing.T) {
	tests := []struct {
		name  string
		draws []string
		hi    uint64
	}{
		{"exhausted", nil, 10},
		{"out of range", []string{"11"}, 10},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			src := NewReplaySource()
			src.Load(test.draws)
			_, err := src.Between(uint256.Int{}, ledger.Amount(test.hi))
			assert.True(t, errors.Is(err, ErrReplayDiverged), "got %v", err)
		})
	}
}
