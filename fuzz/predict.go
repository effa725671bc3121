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
	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// The predictions below evaluate every rule an operation checks against the state
// before the call. A call is expected to succeed iff the returned set is empty; if it
// fails, its kind must be in the set.

func predictPoolConfig(params ledger.Params, current, p ledger.Pool) ledger.KindSet {
	var s ledger.KindSet
	if p.AuctionLength.IsZero() || p.AuctionLength.Gt(&params.MaxAuctionLength) {
		s = s.Add(ledger.KindPoolConfig)
	}
	if p.InterestRate.Gt(&params.MaxInterestRate) {
		s = s.Add(ledger.KindPoolConfig)
	}
	if p.OutstandingLoans != current.OutstandingLoans {
		s = s.Add(ledger.KindPoolConfig)
	}
	return s
}

// poolIncrease is the amount setPool pulls from the lender.
func poolIncrease(current, p ledger.Pool) uint256.Int {
	var diff uint256.Int
	if p.PoolBalance.Gt(&current.PoolBalance) {
		diff.Sub(&p.PoolBalance, &current.PoolBalance)
	}
	return diff
}

func predictSetPool(params ledger.Params, current, p ledger.Pool, balance uint256.Int) ledger.KindSet {
	s := predictPoolConfig(params, current, p)
	increase := poolIncrease(current, p)
	if balance.Lt(&increase) {
		s = s.Add(ledger.KindInsufficientBalance)
	}
	return s
}

func predictUpdateMaxLoanRatio(ratio uint256.Int) ledger.KindSet {
	if ratio.IsZero() {
		return ledger.KindSetOf(ledger.KindPoolConfig)
	}
	return 0
}

func predictUpdateInterestRate(params ledger.Params, rate uint256.Int) ledger.KindSet {
	if rate.Gt(&params.MaxInterestRate) {
		return ledger.KindSetOf(ledger.KindPoolConfig)
	}
	return 0
}

func predictAddToPool(amount, balance uint256.Int) ledger.KindSet {
	var s ledger.KindSet
	if amount.IsZero() {
		s = s.Add(ledger.KindPoolConfig)
	}
	if balance.Lt(&amount) {
		s = s.Add(ledger.KindInsufficientBalance)
	}
	return s
}

func predictRemoveFromPool(pool ledger.Pool, amount uint256.Int) ledger.KindSet {
	var s ledger.KindSet
	if amount.IsZero() {
		s = s.Add(ledger.KindPoolConfig)
	}
	if amount.Gt(&pool.PoolBalance) {
		s = s.Add(ledger.KindPanic)
	}
	return s
}

// predictBorrow takes the borrower's collateral token balance before the call. If both
// tokens are the same, the borrowed amount net of fees is available as collateral.
func predictBorrow(params ledger.Params, pool ledger.Pool, b ledger.Borrow, collateralBalance uint256.Int) ledger.KindSet {
	var s ledger.KindSet
	if !pool.Exists() {
		return s.Add(ledger.KindPoolConfig)
	}
	if b.Debt.Lt(&pool.MinLoanSize) {
		s = s.Add(ledger.KindLoanTooSmall)
	}
	if b.Debt.Gt(&pool.PoolBalance) {
		s = s.Add(ledger.KindLoanTooLarge)
	}
	if b.Collateral.IsZero() {
		s = s.Add(ledger.KindZeroCollateral)
	} else if ratio := ledger.LoanRatio(b.Debt, b.Collateral); ratio.Gt(&pool.MaxLoanRatio) {
		s = s.Add(ledger.KindRatioTooHigh)
	}
	available := collateralBalance
	if pool.LoanToken == pool.CollateralToken {
		fee := ledger.BasisPointsOf(b.Debt, params.BorrowerFee)
		var rest uint256.Int
		rest.Sub(&b.Debt, &fee)
		available.Add(&available, &rest)
	}
	if available.Lt(&b.Collateral) {
		s = s.Add(ledger.KindInsufficientBalance)
	}
	return s
}

// predictTakeover holds the rules a pool taking over a loan with its accrued debt
// must satisfy.
func predictTakeover(pool ledger.Pool, loan ledger.Loan, totalDebt uint256.Int) ledger.KindSet {
	var s ledger.KindSet
	if pool.PoolBalance.Lt(&totalDebt) {
		s = s.Add(ledger.KindPoolTooSmall)
	}
	if totalDebt.Lt(&pool.MinLoanSize) {
		s = s.Add(ledger.KindLoanTooSmall)
	}
	if loan.Collateral.IsZero() {
		s = s.Add(ledger.KindPanic)
	} else if ratio := ledger.LoanRatio(totalDebt, loan.Collateral); ratio.Gt(&pool.MaxLoanRatio) {
		s = s.Add(ledger.KindRatioTooHigh)
	}
	return s
}

func tokensMatch(pool ledger.Pool, loan ledger.Loan) bool {
	return pool.LoanToken == loan.LoanToken && pool.CollateralToken == loan.CollateralToken
}

// predictSettle covers the release of a loan from the pool funding it.
func predictSettle(oldPool ledger.Pool, loan ledger.Loan) ledger.KindSet {
	if oldPool.OutstandingLoans.Lt(&loan.Debt) {
		return ledger.KindSetOf(ledger.KindPanic)
	}
	return 0
}

func predictGiveLoan(params ledger.Params, loan ledger.Loan, oldPool, pool ledger.Pool, now uint64) ledger.KindSet {
	var s ledger.KindSet
	if !tokensMatch(pool, loan) {
		s = s.Add(ledger.KindTokenMismatch)
	}
	totalDebt := ledger.CurrentDebt(loan, now, params.LenderFee)
	s = s.Union(predictTakeover(pool, loan, totalDebt))
	if pool.InterestRate.Gt(&loan.InterestRate) {
		s = s.Add(ledger.KindRateTooHigh)
	}
	if pool.AuctionLength.Lt(&loan.AuctionLength) {
		s = s.Add(ledger.KindAuctionTooShort)
	}
	return s.Union(predictSettle(oldPool, loan))
}

// refinanceLegs returns what the borrower pays (owed) or receives (refund) in loan
// tokens, and what is pulled as additional collateral.
func refinanceLegs(params ledger.Params, loan ledger.Loan, r ledger.Refinance, now uint64) (owed, refund, collateral uint256.Int) {
	debtToPay := ledger.CurrentDebt(loan, now, params.LenderFee)
	switch {
	case debtToPay.Gt(&r.Debt):
		owed.Sub(&debtToPay, &r.Debt)
	case debtToPay.Lt(&r.Debt):
		var surplus uint256.Int
		surplus.Sub(&r.Debt, &debtToPay)
		fee := ledger.BasisPointsOf(surplus, params.BorrowerFee)
		refund.Sub(&surplus, &fee)
	}
	if r.Collateral.Gt(&loan.Collateral) {
		collateral.Sub(&r.Collateral, &loan.Collateral)
	}
	return owed, refund, collateral
}

func predictRefinance(params ledger.Params, loan ledger.Loan, oldPool, pool ledger.Pool, r ledger.Refinance, now uint64, loanBalance, collateralBalance uint256.Int) ledger.KindSet {
	var s ledger.KindSet
	if !tokensMatch(pool, loan) {
		s = s.Add(ledger.KindTokenMismatch)
	}
	if r.Debt.Lt(&pool.MinLoanSize) {
		s = s.Add(ledger.KindLoanTooSmall)
	}
	if r.Debt.Gt(&pool.PoolBalance) {
		s = s.Add(ledger.KindLoanTooLarge)
	}
	if r.Collateral.IsZero() {
		s = s.Add(ledger.KindPanic)
	} else if ratio := ledger.LoanRatio(r.Debt, r.Collateral); ratio.Gt(&pool.MaxLoanRatio) {
		s = s.Add(ledger.KindRatioTooHigh)
	}
	s = s.Union(predictSettle(oldPool, loan))

	owed, refund, collateral := refinanceLegs(params, loan, r, now)
	if loanBalance.Lt(&owed) {
		return s.Add(ledger.KindInsufficientBalance)
	}
	if loan.LoanToken == loan.CollateralToken {
		collateralBalance.Sub(&loanBalance, &owed)
		collateralBalance.Add(&collateralBalance, &refund)
	}
	if collateralBalance.Lt(&collateral) {
		s = s.Add(ledger.KindInsufficientBalance)
	}
	return s
}

func predictRepay(params ledger.Params, loan ledger.Loan, oldPool ledger.Pool, now uint64, balance uint256.Int) ledger.KindSet {
	s := predictSettle(oldPool, loan)
	debt := ledger.CurrentDebt(loan, now, params.LenderFee)
	if balance.Lt(&debt) {
		s = s.Add(ledger.KindInsufficientBalance)
	}
	return s
}

func predictStartAuction(loan ledger.Loan) ledger.KindSet {
	if loan.InAuction() {
		return ledger.KindSetOf(ledger.KindAuctionStarted)
	}
	return 0
}

func predictBuyLoan(params ledger.Params, loan ledger.Loan, oldPool, pool ledger.Pool, now uint64) ledger.KindSet {
	var s ledger.KindSet
	if !loan.InAuction() {
		return s.Add(ledger.KindAuctionNotStarted)
	}
	end := ledger.AuctionEnd(loan)
	ts := ledger.Amount(now)
	if ts.Gt(&end) {
		s = s.Add(ledger.KindAuctionEnded)
	}
	if !tokensMatch(pool, loan) {
		s = s.Add(ledger.KindTokenMismatch)
	}
	if loan.AuctionLength.IsZero() {
		return s.Add(ledger.KindPanic)
	}
	rate := ledger.AuctionRate(loan, now, params.MaxInterestRate)
	if pool.InterestRate.Gt(&rate) {
		s = s.Add(ledger.KindRateTooHigh)
	}
	totalDebt := ledger.CurrentDebt(loan, now, params.LenderFee)
	s = s.Union(predictTakeover(pool, loan, totalDebt))
	return s.Union(predictSettle(oldPool, loan))
}

// zapPool is the pool a buyer sets up to take over loan: twice the loan's debt,
// the shortest useful auction and the default rate.
func zapPool(buyer common.Address, loan ledger.Loan, current ledger.Pool) ledger.Pool {
	var balance uint256.Int
	balance.Lsh(&loan.Debt, 1)
	return ledger.Pool{
		Lender:           buyer,
		LoanToken:        loan.LoanToken,
		CollateralToken:  loan.CollateralToken,
		MinLoanSize:      ledger.Amount(100),
		PoolBalance:      balance,
		MaxLoanRatio:     ledger.Amount(2_000_000_000_000_000_000),
		AuctionLength:    ledger.Amount(5),
		InterestRate:     ledger.Amount(1000),
		OutstandingLoans: current.OutstandingLoans,
	}
}

// predictZapBuyLoan combines the pool update and the purchase. The purchase sees the
// pool as configured by the update; if the loan's own pool is replaced, it is settled
// against the new configuration.
func predictZapBuyLoan(params ledger.Params, loan ledger.Loan, oldPool, current, zap ledger.Pool, now uint64, balance uint256.Int) ledger.KindSet {
	s := predictSetPool(params, current, zap, balance)
	if zap.ID() == loan.PoolID() {
		oldPool = zap
	}
	return s.Union(predictBuyLoan(params, loan, oldPool, zap, now))
}

func predictSeizeLoan(loan ledger.Loan, oldPool ledger.Pool, now uint64) ledger.KindSet {
	var s ledger.KindSet
	if !loan.InAuction() {
		return s.Add(ledger.KindAuctionNotStarted)
	}
	end := ledger.AuctionEnd(loan)
	ts := ledger.Amount(now)
	if ts.Lt(&end) {
		s = s.Add(ledger.KindAuctionNotEnded)
	}
	return s.Union(predictSettle(oldPool, loan))
}
