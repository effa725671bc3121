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

package shrink

import (
	"context"
	"errors"
	"testing"

	"github.com/0xsoniclabs/lendfuzz/fuzz"
	"github.com/0xsoniclabs/lendfuzz/fuzz/record"
	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/0xsoniclabs/lendfuzz/ledger/memory"
	"github.com/0xsoniclabs/lendfuzz/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logOf(flows ...string) *record.Log {
	log := record.NewLog(1, "memory")
	seq := 0
	for i, f := range flows {
		if f == "|" {
			seq++
			continue
		}
		log.Append(record.Record{Sequence: seq, Step: i, Flow: f})
	}
	return log
}

func flowsOf(log *record.Log) []string {
	var res []string
	for _, r := range log.Records {
		res = append(res, r.Flow)
	}
	return res
}

// failsWith fails if the candidate contains all flows in order within one sequence.
func failsWith(flows ...string) TestFunc {
	return func(_ context.Context, log *record.Log) (Outcome, error) {
		for _, seq := range log.Sequences() {
			next := 0
			for _, r := range seq {
				if next < len(flows) && r.Flow == flows[next] {
					next++
				}
			}
			if next == len(flows) {
				return OutcomeFail, nil
			}
		}
		return OutcomePass, nil
	}
}

func TestShrink_RemovesIrrelevantRecords(t *testing.T) {
	log := logOf("setPool", "addToPool", "borrow", "repay", "setPool", "startAuction", "advanceTime", "seizeLoan", "repay")
	s := NewShrinker(Config{})
	shrunk, err := s.Shrink(context.Background(), log, failsWith("borrow", "startAuction", "seizeLoan"))
	require.NoError(t, err)
	assert.Equal(t, []string{"borrow", "startAuction", "seizeLoan"}, flowsOf(shrunk))
	for i, r := range shrunk.Records {
		assert.Equal(t, 0, r.Sequence)
		assert.Equal(t, i, r.Step)
	}
	stats := s.Stats()
	assert.Equal(t, 9, stats.Original)
	assert.Equal(t, 3, stats.Shrunk)
	assert.Positive(t, stats.Tests)
	assert.Equal(t, 9, log.Len(), "input must not be modified")
}

func TestShrink_DropsSequences(t *testing.T) {
	log := logOf("setPool", "borrow", "|", "setPool", "repay", "|", "borrow", "seizeLoan")
	shrunk, err := NewShrinker(Config{}).Shrink(context.Background(), log, failsWith("borrow", "seizeLoan"))
	require.NoError(t, err)
	assert.Equal(t, []string{"borrow", "seizeLoan"}, flowsOf(shrunk))
	assert.Len(t, shrunk.Sequences(), 1)
}

func TestShrink_RejectsPassingInput(t *testing.T) {
	_, err := NewShrinker(Config{}).Shrink(context.Background(), logOf("setPool"), failsWith("seizeLoan"))
	assert.ErrorIs(t, err, ErrInputDoesNotFail)
}

func TestShrink_RejectsEmptyInput(t *testing.T) {
	_, err := NewShrinker(Config{}).Shrink(context.Background(), logOf(), failsWith())
	assert.Error(t, err)
	_, err = NewShrinker(Config{}).Shrink(context.Background(), logOf("setPool"), nil)
	assert.Error(t, err)
}

func TestShrink_PropagatesTestErrors(t *testing.T) {
	injected := errors.New("injected")
	calls := 0
	test := func(context.Context, *record.Log) (Outcome, error) {
		calls++
		if calls > 1 {
			return OutcomeUnresolved, injected
		}
		return OutcomeFail, nil
	}
	_, err := NewShrinker(Config{}).Shrink(context.Background(), logOf("setPool", "borrow"), test)
	assert.ErrorIs(t, err, injected)
}

func TestShrink_StopsAtTestBudget(t *testing.T) {
	log := logOf("setPool", "addToPool", "borrow", "repay", "setPool", "seizeLoan")
	s := NewShrinker(Config{MaxTests: 3})
	shrunk, err := s.Shrink(context.Background(), log, failsWith("borrow", "seizeLoan"))
	require.NoError(t, err)
	assert.Equal(t, 3, s.Stats().Tests)
	outcome, err := failsWith("borrow", "seizeLoan")(context.Background(), shrunk)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFail, outcome)
}

func TestShrink_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewShrinker(Config{}).Shrink(ctx, logOf("borrow"), failsWith("borrow"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "fail", OutcomeFail.String())
	assert.Equal(t, "unknown(7)", Outcome(7).String())
}

// TestEngineTester_ShrinksDetectedDefect pads a reproduction of a seizure defect with
// irrelevant flows and expects the shrinker to remove all of them.
func TestEngineTester_ShrinksDetectedDefect(t *testing.T) {
	steps := []record.Record{
		{Flow: "setPool", Draws: []string{"0", "0", "1", "5000000000000000000", "100"}},
		{Flow: "updateInterestRate", Draws: []string{"0", "15000"}},
		{Flow: "borrow", Draws: []string{"0", "1000000000000000000", "2"}},
		{Flow: "advanceTime", Draws: []string{"5"}},
		{Flow: "startAuction", Draws: []string{"0"}},
		{Flow: "advanceTime", Draws: []string{"200"}},
		{Flow: "advanceTime", Draws: []string{"7"}},
		{Flow: "seizeLoan", Draws: []string{"0"}},
	}
	log := record.NewLog(0, "memory")
	for i, r := range steps {
		r.Step = i
		log.Append(r)
	}
	faulty := func(context.Context) (ledger.Backend, error) {
		return memory.NewChain(memory.WithFaults(memory.Faults{SeizeKeepsOutstanding: true})), nil
	}
	test, err := NewEngineTester(EngineTesterConfig{
		Config:     fuzz.DefaultConfig(),
		NewBackend: faulty,
		Target:     &fuzz.Failure{Flow: "seizeLoan", Invariant: "outstandingLoans"},
		Options:    []fuzz.Option{fuzz.WithLogger(logger.NewLogger("CRITICAL", "Shrink-Test"))},
	})
	require.NoError(t, err)

	shrunk, err := NewShrinker(Config{}).Shrink(context.Background(), log, test)
	require.NoError(t, err)
	assert.Equal(t, []string{"setPool", "borrow", "startAuction", "advanceTime", "seizeLoan"}, flowsOf(shrunk))
	assert.Equal(t, []string{"200"}, shrunk.Records[3].Draws)
}

func TestEngineTester_PassesOnCorrectLedger(t *testing.T) {
	log := record.NewLog(0, "memory")
	log.Append(record.Record{Flow: "setPool", Draws: []string{"0", "0", "1", "5000000000000000000", "100"}})
	test, err := NewEngineTester(EngineTesterConfig{
		Config: fuzz.DefaultConfig(),
		NewBackend: func(context.Context) (ledger.Backend, error) {
			return memory.NewChain(), nil
		},
		Options: []fuzz.Option{fuzz.WithLogger(logger.NewLogger("CRITICAL", "Shrink-Test"))},
	})
	require.NoError(t, err)
	outcome, err := test(context.Background(), log)
	require.NoError(t, err)
	assert.Equal(t, OutcomePass, outcome)

	log.Records[0].Draws = log.Records[0].Draws[:2]
	outcome, err = test(context.Background(), log)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnresolved, outcome)
}

func TestEngineTester_RequiresBackendFactory(t *testing.T) {
	_, err := NewEngineTester(EngineTesterConfig{})
	assert.Error(t, err)
}
