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

	"github.com/0xsoniclabs/lendfuzz/fuzz/record"
	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"
)

// Blast declares which mirror entries a flow may change when it succeeds.
type Blast uint8

const (
	BlastPool     Blast = 1 << iota // pools named in Touched
	BlastLoan                       // loans named in Touched
	BlastAllPools                   // every mirrored pool
	BlastAllLoans                   // every mirrored loan
)

// Touched names the entities a flow operated on.
type Touched struct {
	Pools []ledger.PoolID
	Loans []ledger.LoanID
}

// Outcome is the validated result of a flow.
type Outcome struct {
	Predicted ledger.KindSet
	Err       error // the expected revert, nil on success
	Touched   Touched
	// DebtResets holds loans whose debt was legitimately lowered, with the new debt.
	DebtResets map[ledger.LoanID]uint256.Int
}

// Reverted reports whether the call reverted as predicted.
func (o Outcome) Reverted() bool {
	return o.Err != nil
}

// String renders the outcome the way it is recorded.
func (o Outcome) String() string {
	if o.Err == nil {
		return record.OutcomeOK
	}
	kind, _ := ledger.KindOf(o.Err)
	return kind.String()
}

// Flow is a randomized protocol operation with a predicted outcome.
type Flow struct {
	Name  string
	Blast Blast
	// Precondition reports whether the flow can run on the mirrored state.
	Precondition func(rc *RunContext) bool
	// Run generates the arguments, predicts, submits and validates the outcome. Any
	// error aborts the run.
	Run func(ctx context.Context, rc *RunContext) (Outcome, error)
	// Check, if set, verifies a successful flow after the mirrors were refreshed.
	Check func(ctx context.Context, rc *RunContext, out Outcome) error
}

// submit validates the result of a call against its prediction.
func submit(flow string, predicted ledger.KindSet, err error) (Outcome, error) {
	out := Outcome{Predicted: predicted}
	if err == nil {
		if !predicted.IsEmpty() {
			return out, &OutcomeError{Flow: flow, Predicted: predicted}
		}
		return out, nil
	}
	kind, ok := ledger.KindOf(err)
	if !ok {
		return out, errors.Wrapf(err, "%s failed", flow)
	}
	if !predicted.Has(kind) {
		return out, &OutcomeError{Flow: flow, Predicted: predicted, Actual: err}
	}
	out.Err = err
	return out, nil
}

// atomically runs fn in a single block and passes it the block's timestamp. Errors of
// fn are infrastructure failures; calls report their result through variables.
func (rc *RunContext) atomically(ctx context.Context, fn func(now uint64) error) error {
	return Atomically(ctx, rc.Chain, func() error {
		now, err := rc.Chain.PendingTimestamp(ctx)
		if err != nil {
			return errors.Wrap(err, "cannot read pending timestamp")
		}
		return fn(now)
	})
}

func hasPools(rc *RunContext) bool {
	return rc.Pools.Len() > 0
}

func hasLoans(rc *RunContext) bool {
	return rc.Loans.Len() > 0
}

// Flows returns the flow library in a fixed order.
func Flows() []*Flow {
	return []*Flow{
		{Name: "setPool", Precondition: func(*RunContext) bool { return true }, Run: runSetPool},
		{Name: "updateMaxLoanRatio", Precondition: hasPools, Run: runUpdateMaxLoanRatio},
		{Name: "updateInterestRate", Precondition: hasPools, Run: runUpdateInterestRate},
		{Name: "addToPool", Precondition: hasPools, Run: runAddToPool},
		{Name: "removeFromPool", Precondition: hasPools, Run: runRemoveFromPool},
		{Name: "borrow", Blast: BlastPool | BlastLoan, Precondition: hasPools, Run: runBorrow},
		{
			Name:  "giveLoan",
			Blast: BlastLoan | BlastAllPools,
			Precondition: func(rc *RunContext) bool {
				return hasLoans(rc) && rc.Pools.Len() > 1
			},
			Run: runGiveLoan,
		},
		{
			Name:  "refinance",
			Blast: BlastLoan | BlastAllPools,
			Precondition: func(rc *RunContext) bool {
				return hasLoans(rc) && rc.Pools.Len() > 1
			},
			Run: runRefinance,
		},
		{Name: "repay", Blast: BlastPool | BlastLoan, Precondition: hasLoans, Run: runRepay},
		{Name: "startAuction", Blast: BlastLoan, Precondition: hasLoans, Run: runStartAuction},
		{
			Name:  "buyLoan",
			Blast: BlastLoan | BlastAllPools,
			Precondition: func(rc *RunContext) bool {
				return hasLoans(rc) && hasPools(rc)
			},
			Run:   runBuyLoan,
			Check: checkBoughtLoan,
		},
		{Name: "zapBuyLoan", Blast: BlastLoan | BlastAllPools, Precondition: hasLoans, Run: runZapBuyLoan, Check: checkBoughtLoan},
		{Name: "seizeLoan", Blast: BlastPool | BlastLoan, Precondition: hasLoans, Run: runSeizeLoan},
		{
			Name: "advanceTime",
			Precondition: func(rc *RunContext) bool {
				return hasLoans(rc) && rc.Bounds.WarpMax > 0
			},
			Run: runAdvanceTime,
		},
	}
}

// FlowNames lists the names of all flows.
func FlowNames() []string {
	flows := Flows()
	names := make([]string, len(flows))
	for i, f := range flows {
		names[i] = f.Name
	}
	return names
}

func runSetPool(ctx context.Context, rc *RunContext) (Outcome, error) {
	p, err := RandomPool(ctx, rc)
	if err != nil {
		return Outcome{}, err
	}
	rc.Arg("lender", p.Lender)
	rc.Arg("loanToken", p.LoanToken)
	rc.Arg("collateralToken", p.CollateralToken)
	rc.Arg("poolBalance", p.PoolBalance)
	rc.Arg("auctionLength", p.AuctionLength)

	current := rc.pool(p.ID())
	balance, err := rc.Balance(ctx, p.LoanToken, p.Lender)
	if err != nil {
		return Outcome{}, err
	}
	predicted := predictSetPool(rc.Params, current, p, balance)
	if err := rc.approve(ctx, p.LoanToken, p.Lender, poolIncrease(current, p)); err != nil {
		return Outcome{}, err
	}
	_, err = rc.Lender.SetPool(ctx, ledger.CallOpts{From: p.Lender}, p)
	out, err := submit("setPool", predicted, err)
	if err == nil && !out.Reverted() {
		rc.Pools.Set(p.ID(), p)
	}
	return out, err
}

func runUpdateMaxLoanRatio(ctx context.Context, rc *RunContext) (Outcome, error) {
	id, pool, err := pickPool(rc)
	if err != nil {
		return Outcome{}, err
	}
	ratio, err := drawMaxLoanRatio(rc)
	if err != nil {
		return Outcome{}, err
	}
	rc.Arg("pool", id)
	rc.Arg("ratio", ratio)
	err = rc.Lender.UpdateMaxLoanRatio(ctx, ledger.CallOpts{From: pool.Lender}, id, ratio)
	out, err := submit("updateMaxLoanRatio", predictUpdateMaxLoanRatio(ratio), err)
	if err == nil && !out.Reverted() {
		pool.MaxLoanRatio = ratio
		rc.Pools.Set(id, pool)
	}
	return out, err
}

func runUpdateInterestRate(ctx context.Context, rc *RunContext) (Outcome, error) {
	id, pool, err := pickPool(rc)
	if err != nil {
		return Outcome{}, err
	}
	rate, err := drawInterestRate(rc)
	if err != nil {
		return Outcome{}, err
	}
	rc.Arg("pool", id)
	rc.Arg("rate", rate)
	err = rc.Lender.UpdateInterestRate(ctx, ledger.CallOpts{From: pool.Lender}, id, rate)
	out, err := submit("updateInterestRate", predictUpdateInterestRate(rc.Params, rate), err)
	if err == nil && !out.Reverted() {
		pool.InterestRate = rate
		rc.Pools.Set(id, pool)
	}
	return out, err
}

func runAddToPool(ctx context.Context, rc *RunContext) (Outcome, error) {
	id, pool, err := pickPool(rc)
	if err != nil {
		return Outcome{}, err
	}
	amount, err := drawPoolAmount(rc)
	if err != nil {
		return Outcome{}, err
	}
	rc.Arg("pool", id)
	rc.Arg("amount", amount)
	balance, err := rc.Balance(ctx, pool.LoanToken, pool.Lender)
	if err != nil {
		return Outcome{}, err
	}
	predicted := predictAddToPool(amount, balance)
	if err := rc.approve(ctx, pool.LoanToken, pool.Lender, amount); err != nil {
		return Outcome{}, err
	}
	err = rc.Lender.AddToPool(ctx, ledger.CallOpts{From: pool.Lender}, id, amount)
	out, err := submit("addToPool", predicted, err)
	if err == nil && !out.Reverted() {
		pool.PoolBalance.Add(&pool.PoolBalance, &amount)
		rc.Pools.Set(id, pool)
	}
	return out, err
}

func runRemoveFromPool(ctx context.Context, rc *RunContext) (Outcome, error) {
	id, pool, err := pickPool(rc)
	if err != nil {
		return Outcome{}, err
	}
	amount, err := drawPoolAmount(rc)
	if err != nil {
		return Outcome{}, err
	}
	rc.Arg("pool", id)
	rc.Arg("amount", amount)
	err = rc.Lender.RemoveFromPool(ctx, ledger.CallOpts{From: pool.Lender}, id, amount)
	out, err := submit("removeFromPool", predictRemoveFromPool(pool, amount), err)
	if err == nil && !out.Reverted() {
		pool.PoolBalance.Sub(&pool.PoolBalance, &amount)
		rc.Pools.Set(id, pool)
	}
	return out, err
}

func runBorrow(ctx context.Context, rc *RunContext) (Outcome, error) {
	b, err := RandomBorrow(rc)
	if err != nil {
		return Outcome{}, err
	}
	borrower, err := pickUser(rc)
	if err != nil {
		return Outcome{}, err
	}
	rc.Arg("borrower", borrower)
	rc.Arg("pool", b.PoolID)
	rc.Arg("debt", b.Debt)
	rc.Arg("collateral", b.Collateral)

	pool := rc.pool(b.PoolID)
	balance, err := rc.Balance(ctx, pool.CollateralToken, borrower)
	if err != nil {
		return Outcome{}, err
	}
	predicted := predictBorrow(rc.Params, pool, b, balance)
	if err := rc.approve(ctx, pool.CollateralToken, borrower, b.Collateral); err != nil {
		return Outcome{}, err
	}
	ids, err := rc.Lender.Borrow(ctx, ledger.CallOpts{From: borrower}, []ledger.Borrow{b})
	out, err := submit("borrow", predicted, err)
	if err == nil && !out.Reverted() {
		out.Touched = Touched{Pools: []ledger.PoolID{b.PoolID}, Loans: ids}
	}
	return out, err
}

func runGiveLoan(ctx context.Context, rc *RunContext) (Outcome, error) {
	g, loan, err := SelectGiveLoan(rc)
	if err != nil {
		return Outcome{}, err
	}
	rc.Arg("loan", g.LoanID)
	rc.Arg("pool", g.PoolID)

	var (
		predicted ledger.KindSet
		callErr   error
	)
	err = rc.atomically(ctx, func(now uint64) error {
		predicted = predictGiveLoan(rc.Params, loan, rc.pool(loan.PoolID()), rc.pool(g.PoolID), now)
		callErr = rc.Lender.GiveLoan(ctx, ledger.CallOpts{From: loan.Lender}, []ledger.LoanID{g.LoanID}, []ledger.PoolID{g.PoolID})
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	out, err := submit("giveLoan", predicted, callErr)
	out.Touched = Touched{Loans: []ledger.LoanID{g.LoanID}}
	return out, err
}

func runRefinance(ctx context.Context, rc *RunContext) (Outcome, error) {
	r, loan, err := SelectRefinance(ctx, rc)
	if err != nil {
		return Outcome{}, err
	}
	rc.Arg("loan", r.LoanID)
	rc.Arg("pool", r.PoolID)
	rc.Arg("debt", r.Debt)
	rc.Arg("collateral", r.Collateral)

	loanBalance, err := rc.Balance(ctx, loan.LoanToken, loan.Borrower)
	if err != nil {
		return Outcome{}, err
	}
	collateralBalance, err := rc.Balance(ctx, loan.CollateralToken, loan.Borrower)
	if err != nil {
		return Outcome{}, err
	}
	var (
		predicted ledger.KindSet
		callErr   error
	)
	err = rc.atomically(ctx, func(now uint64) error {
		predicted = predictRefinance(rc.Params, loan, rc.pool(loan.PoolID()), rc.pool(r.PoolID), r, now, loanBalance, collateralBalance)
		owed, _, collateral := refinanceLegs(rc.Params, loan, r, now)
		pulls := approvals{}
		pulls.add(loan.LoanToken, owed)
		pulls.add(loan.CollateralToken, collateral)
		if err := rc.approveAll(ctx, loan.Borrower, pulls); err != nil {
			return err
		}
		callErr = rc.Lender.Refinance(ctx, ledger.CallOpts{From: loan.Borrower}, []ledger.Refinance{r})
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	out, err := submit("refinance", predicted, callErr)
	out.Touched = Touched{Loans: []ledger.LoanID{r.LoanID}}
	if err == nil && !out.Reverted() {
		out.DebtResets = map[ledger.LoanID]uint256.Int{r.LoanID: r.Debt}
	}
	return out, err
}

func runRepay(ctx context.Context, rc *RunContext) (Outcome, error) {
	id, loan, err := pickLoan(rc)
	if err != nil {
		return Outcome{}, err
	}
	rc.Arg("loan", id)
	balance, err := rc.Balance(ctx, loan.LoanToken, loan.Borrower)
	if err != nil {
		return Outcome{}, err
	}
	var (
		predicted ledger.KindSet
		callErr   error
	)
	err = rc.atomically(ctx, func(now uint64) error {
		predicted = predictRepay(rc.Params, loan, rc.pool(loan.PoolID()), now, balance)
		debt := ledger.CurrentDebt(loan, now, rc.Params.LenderFee)
		var allowance uint256.Int
		allowance.Lsh(&debt, 1)
		if err := rc.approve(ctx, loan.LoanToken, loan.Borrower, allowance); err != nil {
			return err
		}
		callErr = rc.Lender.Repay(ctx, ledger.CallOpts{From: loan.Borrower}, []ledger.LoanID{id})
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	out, err := submit("repay", predicted, callErr)
	out.Touched = Touched{Pools: []ledger.PoolID{loan.PoolID()}, Loans: []ledger.LoanID{id}}
	return out, err
}

func runStartAuction(ctx context.Context, rc *RunContext) (Outcome, error) {
	id, loan, err := pickLoan(rc)
	if err != nil {
		return Outcome{}, err
	}
	rc.Arg("loan", id)
	var callErr error
	err = rc.atomically(ctx, func(uint64) error {
		callErr = rc.Lender.StartAuction(ctx, ledger.CallOpts{From: loan.Lender}, []ledger.LoanID{id})
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	out, err := submit("startAuction", predictStartAuction(loan), callErr)
	out.Touched = Touched{Loans: []ledger.LoanID{id}}
	return out, err
}

func runBuyLoan(ctx context.Context, rc *RunContext) (Outcome, error) {
	b, loan, err := SelectBuyLoan(rc)
	if err != nil {
		return Outcome{}, err
	}
	buyer, err := pickUser(rc)
	if err != nil {
		return Outcome{}, err
	}
	rc.Arg("loan", b.LoanID)
	rc.Arg("pool", b.PoolID)
	rc.Arg("buyer", buyer)

	var (
		predicted ledger.KindSet
		callErr   error
	)
	err = rc.atomically(ctx, func(now uint64) error {
		predicted = predictBuyLoan(rc.Params, loan, rc.pool(loan.PoolID()), rc.pool(b.PoolID), now)
		callErr = rc.Lender.BuyLoan(ctx, ledger.CallOpts{From: buyer}, b.LoanID, b.PoolID)
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	out, err := submit("buyLoan", predicted, callErr)
	out.Touched = Touched{Pools: []ledger.PoolID{b.PoolID}, Loans: []ledger.LoanID{b.LoanID}}
	return out, err
}

func runZapBuyLoan(ctx context.Context, rc *RunContext) (Outcome, error) {
	id, loan, err := SelectAuctionLoan(rc)
	if err != nil {
		return Outcome{}, err
	}
	buyer, err := pickUser(rc)
	if err != nil {
		return Outcome{}, err
	}
	zapID := ledger.PoolIDOf(buyer, loan.LoanToken, loan.CollateralToken)
	current := rc.pool(zapID)
	zap := zapPool(buyer, loan, current)
	rc.Arg("loan", id)
	rc.Arg("buyer", buyer)
	rc.Arg("poolBalance", zap.PoolBalance)

	balance, err := rc.Balance(ctx, loan.LoanToken, buyer)
	if err != nil {
		return Outcome{}, err
	}
	var (
		predicted ledger.KindSet
		callErr   error
	)
	err = rc.atomically(ctx, func(now uint64) error {
		predicted = predictZapBuyLoan(rc.Params, loan, rc.pool(loan.PoolID()), current, zap, now, balance)
		if err := rc.approve(ctx, loan.LoanToken, buyer, poolIncrease(current, zap)); err != nil {
			return err
		}
		callErr = rc.Lender.ZapBuyLoan(ctx, ledger.CallOpts{From: buyer}, zap, id)
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	out, err := submit("zapBuyLoan", predicted, callErr)
	out.Touched = Touched{Pools: []ledger.PoolID{zapID}, Loans: []ledger.LoanID{id}}
	return out, err
}

// checkBoughtLoan verifies that a bought loan moved to the buying pool.
func checkBoughtLoan(_ context.Context, rc *RunContext, out Outcome) error {
	want, id := out.Touched.Pools[0], out.Touched.Loans[0]
	loan, found := rc.Loans.Get(id)
	if !found {
		return errors.Wrapf(ErrUnexpectedOutcome, "bought loan %d vanished", id)
	}
	if got := loan.PoolID(); got != want {
		return errors.Wrapf(ErrUnexpectedOutcome, "bought loan %d belongs to pool %v, want %v", id, got, want)
	}
	return nil
}

func runSeizeLoan(ctx context.Context, rc *RunContext) (Outcome, error) {
	id, loan, err := SelectAuctionLoan(rc)
	if err != nil {
		return Outcome{}, err
	}
	rc.Arg("loan", id)
	var (
		predicted ledger.KindSet
		callErr   error
	)
	err = rc.atomically(ctx, func(now uint64) error {
		predicted = predictSeizeLoan(loan, rc.pool(loan.PoolID()), now)
		callErr = rc.Lender.SeizeLoan(ctx, ledger.CallOpts{From: loan.Lender}, []ledger.LoanID{id})
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	out, err := submit("seizeLoan", predicted, callErr)
	out.Touched = Touched{Pools: []ledger.PoolID{loan.PoolID()}, Loans: []ledger.LoanID{id}}
	return out, err
}

func runAdvanceTime(ctx context.Context, rc *RunContext) (Outcome, error) {
	warp, err := drawWarp(rc)
	if err != nil {
		return Outcome{}, err
	}
	rc.Arg("seconds", warp)
	if err := rc.Chain.Mine(ctx, warp); err != nil {
		return Outcome{}, errors.Wrap(err, "cannot advance time")
	}
	return Outcome{}, nil
}
