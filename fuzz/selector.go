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
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// checkPMF checks that f is a probability mass function.
func checkPMF(f []float64) error {
	total := 0.0
	for _, x := range f {
		if x < 0.0 || x > 1.0 || math.IsNaN(x) {
			return fmt.Errorf("invalid probability (%v) in the pmf", x)
		}
		total += x
	}
	if math.Abs(total-1.0) > 1e-9 {
		return fmt.Errorf("total is not one (%v)", total)
	}
	return nil
}

// quantile returns the position of the first cumulative probability reaching u.
func quantile(f []float64, u float64) int {
	sum := 0.0 // Kahan summation of the probabilities
	c := 0.0
	lastPositive := -1
	for i, p := range f {
		y := p - c
		t := sum + y
		c = (t - sum) - y
		sum = t
		if u <= sum {
			return i
		}
		if p > 0.0 {
			lastPositive = i
		}
	}
	if lastPositive != -1 {
		return lastPositive
	}
	return 0
}

// pmfOf normalizes weights into a probability mass function.
func pmfOf(weights []uint) ([]float64, error) {
	pmf := make([]float64, len(weights))
	for i, w := range weights {
		pmf[i] = float64(w)
	}
	total := floats.Sum(pmf)
	if total == 0 {
		return nil, fmt.Errorf("all %d weights are zero", len(weights))
	}
	floats.Scale(1/total, pmf)
	if err := checkPMF(pmf); err != nil {
		return nil, err
	}
	return pmf, nil
}
