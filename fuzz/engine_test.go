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
	"context"
	"testing"
	"time"

	"github.com/0xsoniclabs/lendfuzz/fuzz/record"
	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/0xsoniclabs/lendfuzz/ledger/memory"
	"github.com/0xsoniclabs/lendfuzz/logger"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var quiet = WithLogger(logger.NewLogger("CRITICAL", "Fuzz-Test"))

// step is a flow with the draws it consumes.
type step struct {
	flow  string
	draws []string
}

// Draws of scripted flows on the default configuration: users 0..3, tokens 0..1.
var (
	// user 0 lends 5 TKN0 against TKN1 with an auction of 100 seconds
	setPoolA = step{"setPool", []string{"0", "0", "1", "5000000000000000000", "100"}}
	// user 1 offers the same terms
	setPoolB = step{"setPool", []string{"1", "0", "1", "5000000000000000000", "100"}}
	// user 2 borrows 1 TKN0 from the first pool
	borrowA = step{"borrow", []string{"0", "1000000000000000000", "2"}}
	// the lender of the first loan starts its auction
	auction = step{"startAuction", []string{"0"}}
	// user 2 moves the first loan to the second pool, halving the debt
	refinanceToB = step{"refinance", []string{"0", "1", "500000000000000000"}}
	// user 3 lets the second pool buy the first loan
	buyIntoB = step{"buyLoan", []string{"0", "1", "3"}}
	// the lender seizes the first loan
	seize = step{"seizeLoan", []string{"0"}}
)

func warp(seconds string) step {
	return step{"advanceTime", []string{seconds}}
}

func script(steps ...step) *record.Log {
	log := record.NewLog(0, "memory")
	for i, s := range steps {
		log.Append(record.Record{Step: i, Flow: s.flow, Draws: s.draws, Outcome: record.OutcomeOK})
	}
	return log
}

var (
	seizeScript     = []step{setPoolA, borrowA, auction, warp("200"), seize}
	refinanceScript = []step{setPoolA, setPoolB, borrowA, refinanceToB}
	buyScript       = []step{setPoolA, setPoolB, borrowA, auction, warp("10"), buyIntoB}
)

func replay(t *testing.T, faults memory.Faults, steps []step) (*record.Log, error) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Replay = script(steps...)
	engine, err := NewEngine(memory.NewChain(memory.WithFaults(faults)), cfg, quiet)
	require.NoError(t, err)
	return engine.Run(context.Background())
}

func TestEngine_ScriptedFlowsSucceedOnCorrectLedger(t *testing.T) {
	tests := map[string][]step{
		"seize":     seizeScript,
		"refinance": refinanceScript,
		"buy":       buyScript,
	}
	for name, steps := range tests {
		t.Run(name, func(t *testing.T) {
			log, err := replay(t, memory.Faults{}, steps)
			require.NoError(t, err)
			require.Equal(t, len(steps), log.Len())
			for i, r := range log.Records {
				assert.Equal(t, steps[i].flow, r.Flow)
				assert.Equal(t, steps[i].draws, r.Draws)
				assert.Equal(t, record.OutcomeOK, r.Outcome)
			}
		})
	}
}

func TestEngine_DetectsProtocolDefects(t *testing.T) {
	tests := map[string]struct {
		faults    memory.Faults
		steps     []step
		flow      string
		invariant string
		cause     error
	}{
		"seizure keeps outstanding loans": {
			faults:    memory.Faults{SeizeKeepsOutstanding: true},
			steps:     seizeScript,
			flow:      "seizeLoan",
			invariant: "outstandingLoans",
			cause:     ErrInvariantViolated,
		},
		"refinance debits target twice": {
			faults:    memory.Faults{RefinanceDoubleDebit: true},
			steps:     refinanceScript,
			flow:      "refinance",
			invariant: "tokenAccounting",
			cause:     ErrInvariantViolated,
		},
		"bought loan assigned to caller": {
			faults: memory.Faults{BuyLoanCallerAsLender: true},
			steps:  buyScript,
			flow:   "buyLoan",
			cause:  ErrUnexpectedOutcome,
		},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			log, err := replay(t, test.faults, test.steps)
			require.Error(t, err)
			var failure *Failure
			require.True(t, errors.As(err, &failure), "unexpected error %v", err)
			assert.Equal(t, 0, failure.Sequence)
			assert.Equal(t, len(test.steps)-1, failure.Step)
			assert.Equal(t, test.flow, failure.Flow)
			assert.Equal(t, test.invariant, failure.Invariant)
			assert.True(t, errors.Is(err, test.cause), "cause %v", failure.Cause)
			assert.Same(t, log, failure.Log)
			assert.Equal(t, len(test.steps), log.Len())
		})
	}
}

func TestEngine_ReplayDetectsDivergence(t *testing.T) {
	extraDraw := step{"startAuction", []string{"0", "0"}}
	missingDraw := step{"setPool", []string{"0", "0", "1", "5000000000000000000"}}
	outOfRange := step{"borrow", []string{"1", "1000000000000000000", "2"}}
	tests := map[string][]step{
		"unknown flow":          {{"mint", nil}},
		"precondition violated": {borrowA},
		"unused draws":          {setPoolA, borrowA, extraDraw},
		"missing draws":         {missingDraw},
		"draw out of range":     {setPoolA, outOfRange},
	}
	for name, steps := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := replay(t, memory.Faults{}, steps)
			require.Error(t, err)
			var failure *Failure
			require.True(t, errors.As(err, &failure))
			assert.Equal(t, len(steps)-1, failure.Step)
			assert.True(t, errors.Is(err, ErrReplayDiverged), "got %v", err)
		})
	}
}

func TestEngine_StrictReplayComparesOutcomes(t *testing.T) {
	log := script(setPoolA)
	log.Records[0].Outcome = "PoolConfig"

	cfg := DefaultConfig()
	cfg.Replay = log
	engine, err := NewEngine(memory.NewChain(), cfg, quiet)
	require.NoError(t, err)
	_, err = engine.Run(context.Background())
	assert.True(t, errors.Is(err, ErrReplayDiverged), "got %v", err)

	cfg.Strict = false
	engine, err = NewEngine(memory.NewChain(), cfg, quiet)
	require.NoError(t, err)
	_, err = engine.Run(context.Background())
	assert.NoError(t, err)
}

func TestEngine_RandomCampaignPassesOnCorrectLedger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 1
	cfg.Sequences = 3
	cfg.Flows = 50
	obs := &countingObserver{}
	engine, err := NewEngine(memory.NewChain(), cfg, quiet, WithObserver(obs))
	require.NoError(t, err)

	log, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Completed, engine.State())
	assert.Equal(t, 150, log.Len())
	assert.Len(t, log.Sequences(), 3)
	assert.Equal(t, int64(1), log.Seed)

	assert.Equal(t, 3, obs.sequences)
	assert.Equal(t, 150, obs.flows)
	assert.Equal(t, 150*(len(Invariants())+1), obs.checks)
	assert.Equal(t, 1, obs.finished)
	assert.NoError(t, obs.err)
}

func TestEngine_ReplayReproducesRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 7
	cfg.Sequences = 2
	cfg.Flows = 40
	engine, err := NewEngine(memory.NewChain(), cfg, quiet)
	require.NoError(t, err)
	original, err := engine.Run(context.Background())
	require.NoError(t, err)

	cfg.Replay = original
	engine, err = NewEngine(memory.NewChain(), cfg, quiet)
	require.NoError(t, err)
	replayed, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, original.Seed, replayed.Seed)
	assert.NotEqual(t, original.RunID, replayed.RunID)
	assert.Equal(t, original.Records, replayed.Records)
}

func TestEngine_SameSeedSameRun(t *testing.T) {
	run := func() *record.Log {
		cfg := DefaultConfig()
		cfg.Seed = 99
		cfg.Flows = 30
		engine, err := NewEngine(memory.NewChain(), cfg, quiet)
		require.NoError(t, err)
		log, err := engine.Run(context.Background())
		require.NoError(t, err)
		return log
	}
	assert.Equal(t, run().Records, run().Records)
}

func TestEngine_ReportsWhenNoFlowIsEligible(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights = map[string]uint{"setPool": 0}
	engine, err := NewEngine(memory.NewChain(), cfg, quiet)
	require.NoError(t, err)
	_, err = engine.Run(context.Background())
	assert.True(t, errors.Is(err, ErrNoEligibleFlow), "got %v", err)
	assert.Equal(t, Aborted, engine.State())
}

func TestEngine_CustomInvariantAbortsRun(t *testing.T) {
	checks := 0
	inv := invariantFunc{"tripwire", func(context.Context, *RunContext) error {
		checks++
		if checks == 3 {
			return errors.New("tripped")
		}
		return nil
	}}
	cfg := DefaultConfig()
	engine, err := NewEngine(memory.NewChain(), cfg, quiet, WithInvariant(inv))
	require.NoError(t, err)
	log, err := engine.Run(context.Background())

	var failure *Failure
	require.True(t, errors.As(err, &failure), "got %v", err)
	assert.Equal(t, "tripwire", failure.Invariant)
	assert.Equal(t, 2, failure.Step)
	assert.Equal(t, 3, log.Len())
	assert.True(t, errors.Is(err, ErrInvariantViolated))
}

func TestEngine_RunsOnlyOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Flows = 5
	engine, err := NewEngine(memory.NewChain(), cfg, quiet)
	require.NoError(t, err)
	assert.Equal(t, Uninitialized, engine.State())
	assert.Nil(t, engine.RunContext())

	_, err = engine.Run(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, engine.RunContext())

	_, err = engine.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, Completed, engine.State())
}

func TestEngine_StopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine, err := NewEngine(memory.NewChain(), DefaultConfig(), quiet)
	require.NoError(t, err)
	_, err = engine.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Aborted, engine.State())
}

func TestEngine_RejectsInvalidConfig(t *testing.T) {
	tests := map[string]func(c *Config){
		"no sequences":   func(c *Config) { c.Sequences = 0 },
		"negative flows": func(c *Config) { c.Flows = -1 },
		"no users":       func(c *Config) { c.Users = 0 },
		"no tokens":      func(c *Config) { c.Tokens = 0 },
		"unknown weight": func(c *Config) { c.Weights = map[string]uint{"flashLoan": 1} },
	}
	for name, modify := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			modify(&cfg)
			_, err := NewEngine(memory.NewChain(), cfg, quiet)
			assert.Error(t, err)
		})
	}
}

func TestEngine_FailsWithTooFewAccounts(t *testing.T) {
	engine, err := NewEngine(memory.NewChain(memory.WithAccounts(2)), DefaultConfig(), quiet)
	require.NoError(t, err)
	_, err = engine.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, Aborted, engine.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func FuzzEngine(f *testing.F) {
	for _, seed := range []int64{0, 1, 2, 3, 42} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, seed int64) {
		cfg := DefaultConfig()
		cfg.Seed = seed
		cfg.Flows = 30
		engine, err := NewEngine(memory.NewChain(), cfg, quiet)
		require.NoError(t, err)
		_, err = engine.Run(context.Background())
		require.NoError(t, err)
	})
}

type countingObserver struct {
	sequences, flows, checks, finished int
	err                                error
}

func (o *countingObserver) SequenceStarted(int) {
	o.sequences++
}

func (o *countingObserver) FlowExecuted(FlowEvent) {
	o.flows++
}

func (o *countingObserver) InvariantChecked(_ string, _ time.Duration, err error) {
	o.checks++
	if err != nil {
		o.err = err
	}
}

func (o *countingObserver) RunFinished(err error) {
	o.finished++
	if err != nil {
		o.err = err
	}
}

// replayOn replays steps on backend and returns the engine for inspection.
func replayOn(t *testing.T, backend ledger.Backend, strict bool, steps ...step) (*Engine, *record.Log, error) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Replay = script(steps...)
	cfg.Strict = strict
	engine, err := NewEngine(backend, cfg, quiet)
	require.NoError(t, err)
	log, err := engine.Run(context.Background())
	return engine, log, err
}

// lenderHook wraps every lender deployed on the chain.
type lenderHook struct {
	*memory.Chain
	wrap func(ledger.Lender) ledger.Lender
}

func (h lenderHook) DeployLender(ctx context.Context, owner common.Address) (ledger.Lender, error) {
	l, err := h.Chain.DeployLender(ctx, owner)
	if err != nil {
		return nil, err
	}
	return h.wrap(l), nil
}

// halvingDebt reports half the debt on every read of a loan but the first.
type halvingDebt struct {
	ledger.Lender
	reads map[ledger.LoanID]int
}

func (l halvingDebt) GetLoanDebt(ctx context.Context, id ledger.LoanID) (uint256.Int, error) {
	debt, err := l.Lender.GetLoanDebt(ctx, id)
	l.reads[id]++
	if l.reads[id] > 1 {
		debt.Rsh(&debt, 1)
	}
	return debt, err
}

// driftingPools reports one wei more than every existing pool holds.
type driftingPools struct {
	ledger.Lender
}

func (l driftingPools) Pools(ctx context.Context, id ledger.PoolID) (ledger.Pool, error) {
	pool, err := l.Lender.Pools(ctx, id)
	if err == nil && pool.Lender != (common.Address{}) {
		pool.PoolBalance.AddUint64(&pool.PoolBalance, 1)
	}
	return pool, err
}

// lockedPools rejects simulated withdrawals.
type lockedPools struct {
	ledger.Lender
}

func (l lockedPools) RemoveFromPool(ctx context.Context, opts ledger.CallOpts, id ledger.PoolID, amount uint256.Int) error {
	if opts.Mode == ledger.Simulate {
		return ledger.Revert("removeFromPool", ledger.KindPanic)
	}
	return l.Lender.RemoveFromPool(ctx, opts, id, amount)
}

// unrepayableLoans rejects simulated repayments.
type unrepayableLoans struct {
	ledger.Lender
}

func (l unrepayableLoans) Repay(ctx context.Context, opts ledger.CallOpts, loans []ledger.LoanID) error {
	if opts.Mode == ledger.Simulate {
		return ledger.Revert("repay", ledger.KindInsufficientBalance)
	}
	return l.Lender.Repay(ctx, opts, loans)
}

func TestEngine_DetectsMisbehavingLender(t *testing.T) {
	tests := map[string]struct {
		wrap      func(ledger.Lender) ledger.Lender
		steps     []step
		invariant string
	}{
		"debt decreases": {
			wrap: func(l ledger.Lender) ledger.Lender {
				return halvingDebt{Lender: l, reads: make(map[ledger.LoanID]int)}
			},
			steps:     []step{setPoolA, borrowA, warp("10")},
			invariant: "monotonicDebt",
		},
		"remote pools drift": {
			wrap:      func(l ledger.Lender) ledger.Lender { return driftingPools{l} },
			steps:     []step{setPoolA},
			invariant: "mirrorMatchesRemote",
		},
		"pool balance cannot be withdrawn": {
			wrap:      func(l ledger.Lender) ledger.Lender { return lockedPools{l} },
			steps:     []step{setPoolA},
			invariant: "poolBalanceRecoverable",
		},
		"loans cannot be repaid": {
			wrap:      func(l ledger.Lender) ledger.Lender { return unrepayableLoans{l} },
			steps:     []step{setPoolA, borrowA},
			invariant: "loansRepayable",
		},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			backend := lenderHook{Chain: memory.NewChain(), wrap: test.wrap}
			_, log, err := replayOn(t, backend, true, test.steps...)
			require.Error(t, err)
			var failure *Failure
			require.True(t, errors.As(err, &failure), "unexpected error %v", err)
			last := test.steps[len(test.steps)-1]
			assert.Equal(t, len(test.steps)-1, failure.Step)
			assert.Equal(t, last.flow, failure.Flow)
			assert.Equal(t, test.invariant, failure.Invariant)
			assert.True(t, errors.Is(err, ErrInvariantViolated), "cause %v", failure.Cause)
			assert.Equal(t, len(test.steps), log.Len())
		})
	}
}

func TestEngine_BorrowIsMirrored(t *testing.T) {
	tenEtherPool := step{"setPool", []string{"0", "0", "1", "10000000000000000000", "100"}}
	engine, _, err := replayOn(t, memory.NewChain(), true, tenEtherPool, borrowA)
	require.NoError(t, err)

	ctx := context.Background()
	rc := engine.RunContext()
	require.Equal(t, 1, rc.Pools.Len())
	require.Equal(t, 1, rc.Loans.Len())

	var poolID ledger.PoolID
	for id, pool := range rc.Pools.All() {
		poolID = id
		assert.Equal(t, ledger.Amount(100), pool.MinLoanSize)
		assert.Equal(t, ether(2), pool.MaxLoanRatio)
		assert.Equal(t, ether(9), pool.PoolBalance)
		assert.Equal(t, ether(1), pool.OutstandingLoans)
		remote, err := rc.Lender.Pools(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, remote, pool)
	}
	for id, loan := range rc.Loans.All() {
		assert.Equal(t, ether(1), loan.Debt)
		assert.Equal(t, ether(2), loan.Collateral)
		assert.Equal(t, rc.Users[0], loan.Lender)
		assert.Equal(t, rc.Users[2], loan.Borrower)
		assert.Equal(t, poolID, loan.PoolID())
		remote, err := rc.Lender.Loans(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, remote, loan)
	}
}

func TestEngine_GiveLoanToCostlierPoolKeepsLender(t *testing.T) {
	raiseRateOfB := step{"updateInterestRate", []string{"1", "15000"}}
	giveToB := step{"giveLoan", []string{"0", "1"}}
	engine, log, err := replayOn(t, memory.NewChain(), false, setPoolA, setPoolB, borrowA, raiseRateOfB, giveToB)
	require.NoError(t, err)
	require.Equal(t, 5, log.Len())
	assert.Equal(t, ledger.KindRateTooHigh.String(), log.Records[4].Outcome)

	rc := engine.RunContext()
	local, found := rc.Loans.Get(0)
	require.True(t, found)
	assert.Equal(t, rc.Users[0], local.Lender)
	remote, err := rc.Lender.Loans(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, rc.Users[0], remote.Lender)
	assert.Equal(t, local, remote)
}

func TestEngine_InterestRateAboveMaximumIsRejected(t *testing.T) {
	tooHigh := step{"updateInterestRate", []string{"0", "105000"}}
	engine, log, err := replayOn(t, memory.NewChain(), false, setPoolA, tooHigh)
	require.NoError(t, err)
	assert.Equal(t, ledger.KindPoolConfig.String(), log.Records[1].Outcome)

	for _, pool := range engine.RunContext().Pools.All() {
		assert.Equal(t, DefaultBounds().InterestRate, pool.InterestRate)
	}
}
