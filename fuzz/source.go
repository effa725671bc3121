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

	"github.com/0xsoniclabs/lendfuzz/fuzz/record"
	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"
)

// Source provides the random draws of a run. Every value a generator uses is drawn
// through it, so a run is reproduced by feeding the recorded draws back in.
type Source interface {
	// Between draws a value in [lo, hi]. Bounds in reverse order are swapped.
	Between(lo, hi uint256.Int) (uint256.Int, error)
	// Index draws a position in [0, n); n must be positive.
	Index(n int) (int, error)
	// Take returns the draws made since the last Take.
	Take() []string
}

func ordered(lo, hi uint256.Int) (uint256.Int, uint256.Int) {
	if hi.Lt(&lo) {
		return hi, lo
	}
	return lo, hi
}

func index(s Source, n int) (int, error) {
	if n <= 0 {
		return 0, errors.Newf("cannot draw from an empty range")
	}
	v, err := s.Between(uint256.Int{}, *uint256.NewInt(uint64(n - 1)))
	if err != nil {
		return 0, err
	}
	return int(v.Uint64()), nil
}

// RandomSource draws from a seeded generator and records every draw.
type RandomSource struct {
	rg    *rand.Rand
	drawn []string
}

func NewRandomSource(rg *rand.Rand) *RandomSource {
	return &RandomSource{rg: rg}
}

func (s *RandomSource) Between(lo, hi uint256.Int) (uint256.Int, error) {
	lo, hi = ordered(lo, hi)
	var span, v uint256.Int
	span.Sub(&hi, &lo)
	for i := range v {
		v[i] = s.rg.Uint64()
	}
	if span != ledgerMax {
		var n uint256.Int
		n.AddUint64(&span, 1)
		v.Mod(&v, &n)
	}
	v.Add(&v, &lo)
	s.drawn = append(s.drawn, record.EncodeDraw(v))
	return v, nil
}

func (s *RandomSource) Index(n int) (int, error) {
	return index(s, n)
}

func (s *RandomSource) Take() []string {
	res := s.drawn
	s.drawn = nil
	return res
}

// ReplaySource hands out the draws of a recorded flow.
type ReplaySource struct {
	queue []string
	used  []string
}

func NewReplaySource() *ReplaySource {
	return &ReplaySource{}
}

// Load queues the draws of the next flow.
func (s *ReplaySource) Load(draws []string) {
	s.queue = append([]string(nil), draws...)
	s.used = nil
}

// Remaining returns the number of loaded draws not consumed yet.
func (s *ReplaySource) Remaining() int {
	return len(s.queue)
}

func (s *ReplaySource) Between(lo, hi uint256.Int) (uint256.Int, error) {
	if len(s.queue) == 0 {
		return uint256.Int{}, errors.Wrap(ErrReplayDiverged, "flow consumed more draws than recorded")
	}
	v, err := record.DecodeDraw(s.queue[0])
	if err != nil {
		return uint256.Int{}, errors.CombineErrors(ErrReplayDiverged, err)
	}
	lo, hi = ordered(lo, hi)
	if v.Lt(&lo) || v.Gt(&hi) {
		return uint256.Int{}, errors.Wrapf(ErrReplayDiverged, "recorded draw %v outside of [%v, %v]", v.Dec(), lo.Dec(), hi.Dec())
	}
	s.used = append(s.used, s.queue[0])
	s.queue = s.queue[1:]
	return v, nil
}

func (s *ReplaySource) Index(n int) (int, error) {
	return index(s, n)
}

func (s *ReplaySource) Take() []string {
	res := s.used
	s.used = nil
	return res
}
