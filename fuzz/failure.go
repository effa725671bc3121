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

	"github.com/0xsoniclabs/lendfuzz/fuzz/record"
	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/cockroachdb/errors"
)

var (
	ErrReplayDiverged    = errors.New("replay diverged from recording")
	ErrUnexpectedOutcome = errors.New("unexpected flow outcome")
	ErrInvariantViolated = errors.New("invariant violated")
	ErrNoEligibleFlow    = errors.New("no eligible flow")
)

// OutcomeError reports a flow whose result contradicts its prediction.
type OutcomeError struct {
	Flow      string
	Predicted ledger.KindSet
	Actual    error // nil if the call succeeded
}

func (e *OutcomeError) Error() string {
	if e.Actual == nil {
		return fmt.Sprintf("%s succeeded, expected one of %v", e.Flow, e.Predicted)
	}
	return fmt.Sprintf("%s failed with %v, expected one of %v", e.Flow, e.Actual, e.Predicted)
}

func (e *OutcomeError) Unwrap() error {
	return ErrUnexpectedOutcome
}

// violation marks err as an invariant violation.
func violation(err error) error {
	return errors.Mark(err, ErrInvariantViolated)
}

// Failure aborts a run. It carries the position of the failing flow and the replay log
// recorded up to and including it.
type Failure struct {
	Sequence  int
	Step      int
	Flow      string
	Invariant string // empty if the flow itself failed
	Predicted ledger.KindSet
	Cause     error
	Log       *record.Log
}

func (f *Failure) Error() string {
	if f.Invariant != "" {
		return fmt.Sprintf("sequence %d, step %d: invariant %s failed after %s: %v", f.Sequence, f.Step, f.Invariant, f.Flow, f.Cause)
	}
	return fmt.Sprintf("sequence %d, step %d: flow %s failed: %v", f.Sequence, f.Step, f.Flow, f.Cause)
}

func (f *Failure) Unwrap() error {
	return f.Cause
}
