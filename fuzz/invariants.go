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

	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Invariant is a property checked after every flow. Checks only simulate calls.
type Invariant interface {
	Name() string
	Check(ctx context.Context, rc *RunContext) error
}

type invariantFunc struct {
	name  string
	check func(ctx context.Context, rc *RunContext) error
}

func (f invariantFunc) Name() string {
	return f.name
}

func (f invariantFunc) Check(ctx context.Context, rc *RunContext) error {
	return f.check(ctx, rc)
}

// Invariants returns the invariant library. The monotonic debt invariant is created by
// the engine since it holds state across flows.
func Invariants() []Invariant {
	return []Invariant{
		invariantFunc{"mirrorMatchesRemote", checkMirrorMatchesRemote},
		invariantFunc{"poolBalanceRecoverable", checkPoolBalanceRecoverable},
		invariantFunc{"loansRepayable", checkLoansRepayable},
		invariantFunc{"tokenAccounting", checkTokenAccounting},
		invariantFunc{"outstandingLoans", checkOutstandingLoans},
	}
}

func checkMirrorMatchesRemote(ctx context.Context, rc *RunContext) error {
	if err := rc.Pools.AssertEqualsRemote(ctx); err != nil {
		return err
	}
	return rc.Loans.AssertEqualsRemote(ctx)
}

// checkPoolBalanceRecoverable lets every lender withdraw its full pool balance.
func checkPoolBalanceRecoverable(ctx context.Context, rc *RunContext) error {
	for id, pool := range rc.Pools.All() {
		if pool.PoolBalance.IsZero() {
			continue
		}
		opts := ledger.CallOpts{From: pool.Lender, Mode: ledger.Simulate}
		if err := rc.Lender.RemoveFromPool(ctx, opts, id, pool.PoolBalance); err != nil {
			return errors.Wrapf(err, "cannot remove %v from pool %v", pool.PoolBalance.Dec(), id)
		}
	}
	return nil
}

// checkLoansRepayable repays every loan from the funded owner account.
func checkLoansRepayable(ctx context.Context, rc *RunContext) error {
	opts := ledger.CallOpts{From: rc.Owner, Mode: ledger.Simulate}
	for id := range rc.Loans.All() {
		if err := rc.Lender.Repay(ctx, opts, []ledger.LoanID{id}); err != nil {
			return errors.Wrapf(err, "cannot repay loan %d", id)
		}
	}
	return nil
}

// checkTokenAccounting requires the lender to hold exactly the pool balances and the
// collateral of all loans.
func checkTokenAccounting(ctx context.Context, rc *RunContext) error {
	expected := make(map[common.Address]uint256.Int)
	add := func(token common.Address, amount uint256.Int) {
		v := expected[token]
		v.Add(&v, &amount)
		expected[token] = v
	}
	for _, pool := range rc.Pools.All() {
		add(pool.LoanToken, pool.PoolBalance)
	}
	for _, loan := range rc.Loans.All() {
		add(loan.CollateralToken, loan.Collateral)
	}
	for _, token := range rc.Tokens {
		held, err := token.BalanceOf(ctx, rc.Lender.Address())
		if err != nil {
			return err
		}
		want := expected[token.Address()]
		if held != want {
			return errors.Newf("lender holds %v of token %v, pools and collateral account for %v", held.Dec(), token.Address(), want.Dec())
		}
	}
	return nil
}

// checkOutstandingLoans requires each pool's outstanding loans to be the sum of the
// debts of the loans it funds.
func checkOutstandingLoans(_ context.Context, rc *RunContext) error {
	funded := make(map[ledger.PoolID]uint256.Int)
	for _, loan := range rc.Loans.All() {
		id := loan.PoolID()
		v := funded[id]
		v.Add(&v, &loan.Debt)
		funded[id] = v
	}
	for id, pool := range rc.Pools.All() {
		want := funded[id]
		if pool.OutstandingLoans != want {
			return errors.Newf("pool %v has %v outstanding, its loans owe %v", id, pool.OutstandingLoans.Dec(), want.Dec())
		}
		delete(funded, id)
	}
	for id, loan := range rc.Loans.All() {
		if _, found := funded[loan.PoolID()]; found {
			return errors.Newf("loan %d is funded by unknown pool %v", id, loan.PoolID())
		}
	}
	return nil
}

// MonotonicDebt requires the debt of every loan to never decrease between checks,
// unless a flow reported a reset.
type MonotonicDebt struct {
	last map[ledger.LoanID]uint256.Int
}

func NewMonotonicDebt() *MonotonicDebt {
	return &MonotonicDebt{last: make(map[ledger.LoanID]uint256.Int)}
}

func (m *MonotonicDebt) Name() string {
	return "monotonicDebt"
}

// ResetDebt sets the last observed debt of a loan.
func (m *MonotonicDebt) ResetDebt(id ledger.LoanID, debt uint256.Int) {
	m.last[id] = debt
}

// Clear forgets all observations.
func (m *MonotonicDebt) Clear() {
	clear(m.last)
}

func (m *MonotonicDebt) Check(ctx context.Context, rc *RunContext) error {
	for id := range m.last {
		if !rc.Loans.Contains(id) {
			delete(m.last, id)
		}
	}
	for _, id := range rc.Loans.Keys() {
		debt, err := rc.Lender.GetLoanDebt(ctx, id)
		if err != nil {
			return errors.Wrapf(err, "cannot read debt of loan %d", id)
		}
		if last, found := m.last[id]; found && debt.Lt(&last) {
			return errors.Newf("debt of loan %d decreased from %v to %v", id, last.Dec(), debt.Dec())
		}
		m.last[id] = debt
	}
	return nil
}
