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

// Package shrink reduces a failing replay log to a shorter log reproducing the same
// failure.
package shrink

import (
	"context"
	"fmt"

	"github.com/0xsoniclabs/lendfuzz/fuzz/record"
	"github.com/cockroachdb/errors"
)

// Outcome describes the observed result of replaying a candidate log.
type Outcome int

const (
	OutcomePass Outcome = iota
	OutcomeFail
	OutcomeUnresolved
)

func (o Outcome) String() string {
	switch o {
	case OutcomePass:
		return "pass"
	case OutcomeFail:
		return "fail"
	case OutcomeUnresolved:
		return "unresolved"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// TestFunc replays a candidate log and reports the observed outcome.
type TestFunc func(ctx context.Context, log *record.Log) (Outcome, error)

// ErrInputDoesNotFail indicates the original log did not reproduce the failure.
var ErrInputDoesNotFail = errors.New("shrink: original log does not reproduce the failure")

// Config customizes the shrinking process.
type Config struct {
	MaxTests int // upper bound of replayed candidates, 0 is unbounded
	Logger   func(format string, args ...any)
}

// Stats summarizes a shrinking run.
type Stats struct {
	Original int
	Shrunk   int
	Tests    int
}

// Shrinker removes records from a failing log for as long as the failure reproduces.
type Shrinker struct {
	cfg   Config
	stats Stats
}

func NewShrinker(cfg Config) *Shrinker {
	return &Shrinker{cfg: cfg}
}

// Stats returns the statistics of the last Shrink.
func (s *Shrinker) Stats() Stats {
	return s.stats
}

var errBudgetExhausted = errors.New("test budget exhausted")

// Shrink reduces log while maintaining the failure outcome. The stages drop whole
// sequences, truncate the tail, and finally remove chunks of halving size down to
// single records.
func (s *Shrinker) Shrink(ctx context.Context, log *record.Log, test TestFunc) (*record.Log, error) {
	if test == nil {
		return nil, errors.New("shrink: test function must be provided")
	}
	if log == nil || log.Len() == 0 {
		return nil, errors.New("shrink: log is empty")
	}
	s.stats = Stats{Original: log.Len()}

	outcome, err := s.test(ctx, log, test)
	if err != nil {
		return nil, err
	}
	if outcome != OutcomeFail {
		return nil, ErrInputDoesNotFail
	}

	best := log.WithRecords(log.Records)
	for _, stage := range []func(context.Context, *record.Log, TestFunc) (*record.Log, error){
		s.dropSequences,
		s.truncateTail,
		s.removeChunks,
	} {
		best, err = stage(ctx, best, test)
		if errors.Is(err, errBudgetExhausted) {
			s.log("test budget of %d exhausted", s.cfg.MaxTests)
			break
		}
		if err != nil {
			return nil, err
		}
	}
	best.Renumber()
	s.stats.Shrunk = best.Len()
	s.log("shrunk %d records to %d in %d tests", s.stats.Original, s.stats.Shrunk, s.stats.Tests)
	return best, nil
}

func (s *Shrinker) test(ctx context.Context, log *record.Log, test TestFunc) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return OutcomeUnresolved, err
	}
	if s.cfg.MaxTests > 0 && s.stats.Tests >= s.cfg.MaxTests {
		return OutcomeUnresolved, errBudgetExhausted
	}
	s.stats.Tests++
	candidate := log.WithRecords(log.Records)
	candidate.Renumber()
	return test(ctx, candidate)
}

// dropSequences removes whole sequences, keeping at least one.
func (s *Shrinker) dropSequences(ctx context.Context, log *record.Log, test TestFunc) (*record.Log, error) {
	seqs := log.Sequences()
	for i := 0; i < len(seqs) && len(seqs) > 1; {
		var rest []record.Record
		for j, seq := range seqs {
			if j != i {
				rest = append(rest, seq...)
			}
		}
		candidate := log.WithRecords(rest)
		outcome, err := s.test(ctx, candidate, test)
		if err != nil {
			return log, err
		}
		if outcome == OutcomeFail {
			s.log("sequence reduction accepted: dropped sequence %d", i)
			log = candidate
			seqs = log.Sequences()
			continue
		}
		s.log("sequence reduction rejected: sequence %d", i)
		i++
	}
	return log, nil
}

// truncateTail finds the shortest failing prefix by binary search.
func (s *Shrinker) truncateTail(ctx context.Context, log *record.Log, test TestFunc) (*record.Log, error) {
	lo, hi := 0, log.Len()
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		candidate := log.WithRecords(log.Records[:mid])
		outcome, err := s.test(ctx, candidate, test)
		if err != nil {
			return log.WithRecords(log.Records[:hi]), err
		}
		if outcome == OutcomeFail {
			hi = mid
			s.log("tail reduction accepted: length=%d", mid)
		} else {
			lo = mid
			s.log("tail reduction rejected: length=%d", mid)
		}
	}
	return log.WithRecords(log.Records[:hi]), nil
}

// removeChunks removes runs of records, halving the run length until single records
// are tried.
func (s *Shrinker) removeChunks(ctx context.Context, log *record.Log, test TestFunc) (*record.Log, error) {
	for size := log.Len() / 2; size >= 1; size /= 2 {
		for start := 0; start < log.Len() && log.Len() > 1; {
			end := min(start+size, log.Len())
			rest := append(append([]record.Record(nil), log.Records[:start]...), log.Records[end:]...)
			if len(rest) == 0 {
				break
			}
			candidate := log.WithRecords(rest)
			outcome, err := s.test(ctx, candidate, test)
			if err != nil {
				return log, err
			}
			if outcome == OutcomeFail {
				s.log("chunk reduction accepted: removed [%d, %d)", start, end)
				log = candidate
				continue
			}
			start = end
		}
	}
	return log, nil
}

func (s *Shrinker) log(format string, args ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger(format, args...)
	}
}
