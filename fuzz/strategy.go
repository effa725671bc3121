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
	"iter"

	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func collect[K comparable, V any](seq iter.Seq2[K, V]) ([]K, []V) {
	var (
		keys   []K
		values []V
	)
	for k, v := range seq {
		keys = append(keys, k)
		values = append(values, v)
	}
	return keys, values
}

func pick[T any](rc *RunContext, items []T) (T, error) {
	var zero T
	i, err := rc.Source.Index(len(items))
	if err != nil {
		return zero, err
	}
	return items[i], nil
}

func pickUser(rc *RunContext) (common.Address, error) {
	return pick(rc, rc.Users)
}

func pickToken(rc *RunContext) (common.Address, error) {
	t, err := pick(rc, rc.Tokens)
	if err != nil {
		return common.Address{}, err
	}
	return t.Address(), nil
}

func pickPool(rc *RunContext) (ledger.PoolID, ledger.Pool, error) {
	return pickFrom(rc, rc.Pools.All())
}

func pickLoan(rc *RunContext) (ledger.LoanID, ledger.Loan, error) {
	return pickFrom(rc, rc.Loans.All())
}

func pickFrom[K comparable, V any](rc *RunContext, seq iter.Seq2[K, V]) (K, V, error) {
	keys, values := collect(seq)
	i, err := rc.Source.Index(len(keys))
	if err != nil {
		var (
			k K
			v V
		)
		return k, v, err
	}
	return keys[i], values[i], nil
}

// RandomPool generates a pool of a random user for a random token pair. The balance
// is bounded by the lender's loan token holdings; an existing pool keeps its
// outstanding loans.
func RandomPool(ctx context.Context, rc *RunContext) (ledger.Pool, error) {
	var p ledger.Pool
	var err error
	if p.Lender, err = pickUser(rc); err != nil {
		return p, err
	}
	if p.LoanToken, err = pickToken(rc); err != nil {
		return p, err
	}
	if p.CollateralToken, err = pickToken(rc); err != nil {
		return p, err
	}
	balance, err := rc.Balance(ctx, p.LoanToken, p.Lender)
	if err != nil {
		return p, err
	}
	if p.PoolBalance, err = rc.Source.Between(uint256.Int{}, balance); err != nil {
		return p, err
	}
	if p.AuctionLength, err = rc.Source.Between(uint256.Int{}, rc.Bounds.AuctionLengthMax); err != nil {
		return p, err
	}
	p.MinLoanSize = rc.Bounds.MinLoanSize
	p.MaxLoanRatio = rc.Bounds.MaxLoanRatio
	p.InterestRate = rc.Bounds.InterestRate
	p.OutstandingLoans = rc.pool(p.ID()).OutstandingLoans
	return p, nil
}

// RandomBorrow borrows from a random pool, collateralized at the pool's maximum ratio
// rounded up to a whole multiple.
func RandomBorrow(rc *RunContext) (ledger.Borrow, error) {
	id, pool, err := pickPool(rc)
	if err != nil {
		return ledger.Borrow{}, err
	}
	debt, err := rc.Source.Between(pool.MinLoanSize, pool.PoolBalance)
	if err != nil {
		return ledger.Borrow{}, err
	}
	factor := ledger.CeilRatio(pool.MaxLoanRatio)
	var collateral uint256.Int
	collateral.Mul(&debt, &factor)
	return ledger.Borrow{PoolID: id, Debt: debt, Collateral: collateral}, nil
}

// selectTargetPool picks a pool compatible with loan if there are at least two of them.
// Otherwise any pool is returned, which is usually an invalid target.
func selectTargetPool(rc *RunContext, loan ledger.Loan) (ledger.PoolID, error) {
	compatible, _ := collect(rc.Pools.Filter(func(_ ledger.PoolID, p ledger.Pool) bool {
		return p.LoanToken == loan.LoanToken && p.CollateralToken == loan.CollateralToken
	}))
	if len(compatible) >= 2 {
		return pick(rc, compatible)
	}
	id, _, err := pickPool(rc)
	return id, err
}

// SelectGiveLoan selects a loan and the pool to hand it to.
func SelectGiveLoan(rc *RunContext) (ledger.GiveLoan, ledger.Loan, error) {
	id, loan, err := pickLoan(rc)
	if err != nil {
		return ledger.GiveLoan{}, loan, err
	}
	pool, err := selectTargetPool(rc, loan)
	if err != nil {
		return ledger.GiveLoan{}, loan, err
	}
	return ledger.GiveLoan{LoanID: id, PoolID: pool}, loan, nil
}

// SelectRefinance moves a loan to another pool with a new debt bounded by what the
// borrower holds, collateralized at the target's maximum ratio.
func SelectRefinance(ctx context.Context, rc *RunContext) (ledger.Refinance, ledger.Loan, error) {
	id, loan, err := pickLoan(rc)
	if err != nil {
		return ledger.Refinance{}, loan, err
	}
	poolID, err := selectTargetPool(rc, loan)
	if err != nil {
		return ledger.Refinance{}, loan, err
	}
	balance, err := rc.Balance(ctx, loan.LoanToken, loan.Borrower)
	if err != nil {
		return ledger.Refinance{}, loan, err
	}
	debt, err := rc.Source.Between(uint256.Int{}, balance)
	if err != nil {
		return ledger.Refinance{}, loan, err
	}
	return ledger.Refinance{
		LoanID:     id,
		PoolID:     poolID,
		Debt:       debt,
		Collateral: ledger.CollateralFor(debt, rc.pool(poolID).MaxLoanRatio),
	}, loan, nil
}

// SelectAuctionLoan prefers loans in an auction. With fewer than two of them, any loan
// is selected.
func SelectAuctionLoan(rc *RunContext) (ledger.LoanID, ledger.Loan, error) {
	auctions := rc.Loans.Filter(func(_ ledger.LoanID, l ledger.Loan) bool { return l.InAuction() })
	ids, loans := collect(auctions)
	if len(ids) < 2 {
		return pickLoan(rc)
	}
	i, err := rc.Source.Index(len(ids))
	if err != nil {
		return 0, ledger.Loan{}, err
	}
	return ids[i], loans[i], nil
}

// SelectBuyLoan selects an auctioned loan and the pool buying it.
func SelectBuyLoan(rc *RunContext) (ledger.BuyLoan, ledger.Loan, error) {
	id, loan, err := SelectAuctionLoan(rc)
	if err != nil {
		return ledger.BuyLoan{}, loan, err
	}
	pool, err := selectTargetPool(rc, loan)
	if err != nil {
		return ledger.BuyLoan{}, loan, err
	}
	return ledger.BuyLoan{LoanID: id, PoolID: pool}, loan, nil
}

func drawInterestRate(rc *RunContext) (uint256.Int, error) {
	return rc.Source.Between(rc.Bounds.InterestRateMin, rc.Bounds.InterestRateMax)
}

func drawMaxLoanRatio(rc *RunContext) (uint256.Int, error) {
	return rc.Source.Between(rc.Bounds.MaxLoanRatioMin, rc.Bounds.MaxLoanRatioMax)
}

func drawPoolAmount(rc *RunContext) (uint256.Int, error) {
	return rc.Source.Between(uint256.Int{}, rc.Bounds.PoolAmountMax)
}

func drawWarp(rc *RunContext) (uint64, error) {
	if rc.Bounds.WarpMax == 0 {
		return 0, errors.New("time warps are disabled")
	}
	v, err := rc.Source.Between(ledger.Amount(1), ledger.Amount(rc.Bounds.WarpMax))
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}
