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

package memory

import (
	"context"
	"fmt"

	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Lender is a handle to a lending protocol deployed on a Chain.
type Lender struct {
	chain *Chain
	addr  common.Address
}

func (l *Lender) Address() common.Address {
	return l.addr
}

func (l *Lender) Params(context.Context) (ledger.Params, error) {
	var params ledger.Params
	err := l.chain.view(func(w *world, _ uint64) error {
		state, err := w.lender(l.addr)
		if err != nil {
			return err
		}
		params = state.params
		return nil
	})
	return params, err
}

func (l *Lender) Pools(_ context.Context, id ledger.PoolID) (ledger.Pool, error) {
	var pool ledger.Pool
	err := l.chain.view(func(w *world, _ uint64) error {
		state, err := w.lender(l.addr)
		if err != nil {
			return err
		}
		pool = state.pools[id]
		return nil
	})
	return pool, err
}

func (l *Lender) Loans(_ context.Context, id ledger.LoanID) (ledger.Loan, error) {
	var loan ledger.Loan
	err := l.chain.view(func(w *world, _ uint64) error {
		state, err := w.lender(l.addr)
		if err != nil {
			return err
		}
		loan, err = state.loan("loans", id)
		return err
	})
	return loan, err
}

// LoanCount returns the length of the loan array, closed loans included.
func (l *Lender) LoanCount() (int, error) {
	var n int
	err := l.chain.view(func(w *world, _ uint64) error {
		state, err := w.lender(l.addr)
		if err != nil {
			return err
		}
		n = len(state.loans)
		return nil
	})
	return n, err
}

func (l *Lender) GetLoanDebt(_ context.Context, id ledger.LoanID) (uint256.Int, error) {
	var debt uint256.Int
	err := l.chain.view(func(w *world, now uint64) error {
		state, err := w.lender(l.addr)
		if err != nil {
			return err
		}
		loan, err := state.loan("getLoanDebt", id)
		if err != nil {
			return err
		}
		debt = ledger.CurrentDebt(loan, now, state.params.LenderFee)
		return nil
	})
	return debt, err
}

func (l *Lender) GetPoolID(_ context.Context, lender, loanToken, collateralToken common.Address) (ledger.PoolID, error) {
	return ledger.PoolIDOf(lender, loanToken, collateralToken), nil
}

// tx runs a protocol call as a transaction of opts.From.
func (l *Lender) tx(opts ledger.CallOpts, fn func(e *env) error) error {
	return l.chain.execute(opts, func(w *world, now uint64) error {
		state, err := w.lender(l.addr)
		if err != nil {
			return err
		}
		return fn(&env{
			w:      w,
			state:  state,
			self:   l.addr,
			sender: opts.From,
			now:    ledger.Amount(now),
			faults: l.chain.faults,
		})
	})
}

func (l *Lender) SetPool(_ context.Context, opts ledger.CallOpts, pool ledger.Pool) (ledger.PoolID, error) {
	var id ledger.PoolID
	err := l.tx(opts, func(e *env) (err error) {
		id, err = e.setPool(pool)
		return err
	})
	return id, err
}

func (l *Lender) AddToPool(_ context.Context, opts ledger.CallOpts, id ledger.PoolID, amount uint256.Int) error {
	return l.tx(opts, func(e *env) error { return e.addToPool(id, amount) })
}

func (l *Lender) RemoveFromPool(_ context.Context, opts ledger.CallOpts, id ledger.PoolID, amount uint256.Int) error {
	return l.tx(opts, func(e *env) error { return e.removeFromPool(id, amount) })
}

func (l *Lender) UpdateMaxLoanRatio(_ context.Context, opts ledger.CallOpts, id ledger.PoolID, ratio uint256.Int) error {
	return l.tx(opts, func(e *env) error { return e.updateMaxLoanRatio(id, ratio) })
}

func (l *Lender) UpdateInterestRate(_ context.Context, opts ledger.CallOpts, id ledger.PoolID, rate uint256.Int) error {
	return l.tx(opts, func(e *env) error { return e.updateInterestRate(id, rate) })
}

func (l *Lender) Borrow(_ context.Context, opts ledger.CallOpts, borrows []ledger.Borrow) ([]ledger.LoanID, error) {
	var ids []ledger.LoanID
	err := l.tx(opts, func(e *env) error {
		ids = ids[:0]
		for _, b := range borrows {
			id, err := e.borrow(b)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (l *Lender) Repay(_ context.Context, opts ledger.CallOpts, loans []ledger.LoanID) error {
	return l.tx(opts, func(e *env) error {
		for _, id := range loans {
			if err := e.repay(id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Lender) GiveLoan(_ context.Context, opts ledger.CallOpts, loans []ledger.LoanID, pools []ledger.PoolID) error {
	return l.tx(opts, func(e *env) error {
		if len(loans) != len(pools) {
			return &ledger.RevertError{Kind: ledger.KindUnknown, Op: "giveLoan", Reason: "length mismatch"}
		}
		for i := range loans {
			if err := e.giveLoan(loans[i], pools[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Lender) Refinance(_ context.Context, opts ledger.CallOpts, refinances []ledger.Refinance) error {
	return l.tx(opts, func(e *env) error {
		for _, r := range refinances {
			if err := e.refinance(r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Lender) StartAuction(_ context.Context, opts ledger.CallOpts, loans []ledger.LoanID) error {
	return l.tx(opts, func(e *env) error {
		for _, id := range loans {
			if err := e.startAuction(id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Lender) BuyLoan(_ context.Context, opts ledger.CallOpts, loan ledger.LoanID, pool ledger.PoolID) error {
	return l.tx(opts, func(e *env) error { return e.buyLoan(loan, pool) })
}

func (l *Lender) ZapBuyLoan(_ context.Context, opts ledger.CallOpts, pool ledger.Pool, loan ledger.LoanID) error {
	return l.tx(opts, func(e *env) error {
		id, err := e.setPool(pool)
		if err != nil {
			return err
		}
		return e.buyLoan(loan, id)
	})
}

func (l *Lender) SeizeLoan(_ context.Context, opts ledger.CallOpts, loans []ledger.LoanID) error {
	return l.tx(opts, func(e *env) error {
		for _, id := range loans {
			if err := e.seizeLoan(id); err != nil {
				return err
			}
		}
		return nil
	})
}

// env is the execution environment of a single protocol call.
type env struct {
	w      *world
	state  *lenderState
	self   common.Address
	sender common.Address
	now    uint256.Int
	faults Faults
}

func (s *lenderState) loan(op string, id ledger.LoanID) (ledger.Loan, error) {
	if id >= uint64(len(s.loans)) {
		return ledger.Loan{}, &ledger.RevertError{Kind: ledger.KindPanic, Op: op, Reason: fmt.Sprintf("loan %d out of bounds", id)}
	}
	return s.loans[id], nil
}

func (e *env) transfer(token, to common.Address, amount uint256.Int) error {
	t, err := e.w.token(token)
	if err != nil {
		return err
	}
	return t.transfer(e.self, to, amount)
}

func (e *env) transferFrom(token, from, to common.Address, amount uint256.Int) error {
	t, err := e.w.token(token)
	if err != nil {
		return err
	}
	return t.transferFrom(e.self, from, to, amount)
}

func add(a, b uint256.Int) uint256.Int {
	var res uint256.Int
	res.Add(&a, &b)
	return res
}

// sub reverts with an arithmetic panic on underflow.
func sub(op string, a, b uint256.Int) (uint256.Int, error) {
	var res uint256.Int
	if _, underflow := res.SubOverflow(&a, &b); underflow {
		return res, &ledger.RevertError{Kind: ledger.KindPanic, Op: op, Reason: "arithmetic underflow"}
	}
	return res, nil
}

func (e *env) ratio(op string, debt, collateral uint256.Int) (uint256.Int, error) {
	if collateral.IsZero() {
		return uint256.Int{}, &ledger.RevertError{Kind: ledger.KindPanic, Op: op, Reason: "division by zero"}
	}
	return ledger.LoanRatio(debt, collateral), nil
}

func (e *env) setPool(p ledger.Pool) (ledger.PoolID, error) {
	const op = "setPool"
	params := e.state.params
	if p.Lender != e.sender {
		return ledger.PoolID{}, ledger.Revert(op, ledger.KindUnauthorized)
	}
	if p.AuctionLength.IsZero() || p.AuctionLength.Gt(&params.MaxAuctionLength) {
		return ledger.PoolID{}, ledger.Revert(op, ledger.KindPoolConfig)
	}
	if p.InterestRate.Gt(&params.MaxInterestRate) {
		return ledger.PoolID{}, ledger.Revert(op, ledger.KindPoolConfig)
	}
	id := p.ID()
	current := e.state.pools[id]
	if p.OutstandingLoans != current.OutstandingLoans {
		return ledger.PoolID{}, ledger.Revert(op, ledger.KindPoolConfig)
	}
	switch {
	case p.PoolBalance.Gt(&current.PoolBalance):
		diff, _ := sub(op, p.PoolBalance, current.PoolBalance)
		if err := e.transferFrom(p.LoanToken, e.sender, e.self, diff); err != nil {
			return ledger.PoolID{}, err
		}
	case p.PoolBalance.Lt(&current.PoolBalance):
		diff, _ := sub(op, current.PoolBalance, p.PoolBalance)
		if err := e.transfer(p.LoanToken, e.sender, diff); err != nil {
			return ledger.PoolID{}, err
		}
	}
	e.state.pools[id] = p
	return id, nil
}

func (e *env) ownedPool(op string, id ledger.PoolID) (ledger.Pool, error) {
	pool := e.state.pools[id]
	if pool.Lender != e.sender {
		return pool, ledger.Revert(op, ledger.KindUnauthorized)
	}
	return pool, nil
}

func (e *env) addToPool(id ledger.PoolID, amount uint256.Int) error {
	const op = "addToPool"
	pool, err := e.ownedPool(op, id)
	if err != nil {
		return err
	}
	if amount.IsZero() {
		return ledger.Revert(op, ledger.KindPoolConfig)
	}
	pool.PoolBalance = add(pool.PoolBalance, amount)
	e.state.pools[id] = pool
	return e.transferFrom(pool.LoanToken, e.sender, e.self, amount)
}

func (e *env) removeFromPool(id ledger.PoolID, amount uint256.Int) error {
	const op = "removeFromPool"
	pool, err := e.ownedPool(op, id)
	if err != nil {
		return err
	}
	if amount.IsZero() {
		return ledger.Revert(op, ledger.KindPoolConfig)
	}
	if pool.PoolBalance, err = sub(op, pool.PoolBalance, amount); err != nil {
		return err
	}
	e.state.pools[id] = pool
	return e.transfer(pool.LoanToken, e.sender, amount)
}

func (e *env) updateMaxLoanRatio(id ledger.PoolID, ratio uint256.Int) error {
	const op = "updateMaxLoanRatio"
	pool, err := e.ownedPool(op, id)
	if err != nil {
		return err
	}
	if ratio.IsZero() {
		return ledger.Revert(op, ledger.KindPoolConfig)
	}
	pool.MaxLoanRatio = ratio
	e.state.pools[id] = pool
	return nil
}

func (e *env) updateInterestRate(id ledger.PoolID, rate uint256.Int) error {
	const op = "updateInterestRate"
	pool, err := e.ownedPool(op, id)
	if err != nil {
		return err
	}
	if rate.Gt(&e.state.params.MaxInterestRate) {
		return ledger.Revert(op, ledger.KindPoolConfig)
	}
	pool.InterestRate = rate
	e.state.pools[id] = pool
	return nil
}

func (e *env) borrow(b ledger.Borrow) (ledger.LoanID, error) {
	const op = "borrow"
	pool := e.state.pools[b.PoolID]
	if !pool.Exists() {
		return 0, ledger.Revert(op, ledger.KindPoolConfig)
	}
	if b.Debt.Lt(&pool.MinLoanSize) {
		return 0, ledger.Revert(op, ledger.KindLoanTooSmall)
	}
	if b.Debt.Gt(&pool.PoolBalance) {
		return 0, ledger.Revert(op, ledger.KindLoanTooLarge)
	}
	if b.Collateral.IsZero() {
		return 0, ledger.Revert(op, ledger.KindZeroCollateral)
	}
	ratio := ledger.LoanRatio(b.Debt, b.Collateral)
	if ratio.Gt(&pool.MaxLoanRatio) {
		return 0, ledger.Revert(op, ledger.KindRatioTooHigh)
	}

	loan := ledger.Loan{
		Lender:                pool.Lender,
		Borrower:              e.sender,
		LoanToken:             pool.LoanToken,
		CollateralToken:       pool.CollateralToken,
		Debt:                  b.Debt,
		Collateral:            b.Collateral,
		InterestRate:          pool.InterestRate,
		StartTimestamp:        e.now,
		AuctionStartTimestamp: ledger.NoAuction,
		AuctionLength:         pool.AuctionLength,
	}
	pool.PoolBalance, _ = sub(op, pool.PoolBalance, b.Debt)
	pool.OutstandingLoans = add(pool.OutstandingLoans, b.Debt)
	e.state.pools[b.PoolID] = pool

	fees := ledger.BasisPointsOf(b.Debt, e.state.params.BorrowerFee)
	if err := e.transfer(loan.LoanToken, e.state.params.FeeReceiver, fees); err != nil {
		return 0, err
	}
	rest, _ := sub(op, b.Debt, fees)
	if err := e.transfer(loan.LoanToken, e.sender, rest); err != nil {
		return 0, err
	}
	if err := e.transferFrom(loan.CollateralToken, e.sender, e.self, b.Collateral); err != nil {
		return 0, err
	}
	e.state.loans = append(e.state.loans, loan)
	return ledger.LoanID(len(e.state.loans) - 1), nil
}

// settle credits principal and lender interest to the pool funding loan.
func (e *env) settle(op string, loan ledger.Loan, lenderInterest uint256.Int) error {
	id := loan.PoolID()
	pool := e.state.pools[id]
	pool.PoolBalance = add(pool.PoolBalance, add(loan.Debt, lenderInterest))
	outstanding, err := sub(op, pool.OutstandingLoans, loan.Debt)
	if err != nil {
		return err
	}
	pool.OutstandingLoans = outstanding
	e.state.pools[id] = pool
	return nil
}

// fund debits amount from pool id and books it as outstanding.
func (e *env) fund(op string, id ledger.PoolID, amount uint256.Int) error {
	pool := e.state.pools[id]
	balance, err := sub(op, pool.PoolBalance, amount)
	if err != nil {
		return err
	}
	pool.PoolBalance = balance
	pool.OutstandingLoans = add(pool.OutstandingLoans, amount)
	e.state.pools[id] = pool
	return nil
}

func (e *env) interest(loan ledger.Loan) (lenderInterest, protocolInterest uint256.Int) {
	return ledger.LoanInterest(loan, e.now.Uint64(), e.state.params.LenderFee)
}

func (e *env) repay(id ledger.LoanID) error {
	const op = "repay"
	loan, err := e.state.loan(op, id)
	if err != nil {
		return err
	}
	lenderInterest, protocolInterest := e.interest(loan)
	if err := e.settle(op, loan, lenderInterest); err != nil {
		return err
	}
	if err := e.transferFrom(loan.LoanToken, e.sender, e.self, add(loan.Debt, lenderInterest)); err != nil {
		return err
	}
	if err := e.transferFrom(loan.LoanToken, e.sender, e.state.params.FeeReceiver, protocolInterest); err != nil {
		return err
	}
	if err := e.transfer(loan.CollateralToken, loan.Borrower, loan.Collateral); err != nil {
		return err
	}
	e.state.loans[id] = ledger.Loan{}
	return nil
}

func (e *env) giveLoan(loanID ledger.LoanID, poolID ledger.PoolID) error {
	const op = "giveLoan"
	loan, err := e.state.loan(op, loanID)
	if err != nil {
		return err
	}
	if e.sender != loan.Lender {
		return ledger.Revert(op, ledger.KindUnauthorized)
	}
	pool := e.state.pools[poolID]
	if pool.LoanToken != loan.LoanToken || pool.CollateralToken != loan.CollateralToken {
		return ledger.Revert(op, ledger.KindTokenMismatch)
	}
	lenderInterest, protocolInterest := e.interest(loan)
	totalDebt := add(loan.Debt, add(lenderInterest, protocolInterest))
	if pool.PoolBalance.Lt(&totalDebt) {
		return ledger.Revert(op, ledger.KindPoolTooSmall)
	}
	if totalDebt.Lt(&pool.MinLoanSize) {
		return ledger.Revert(op, ledger.KindLoanTooSmall)
	}
	ratio, err := e.ratio(op, totalDebt, loan.Collateral)
	if err != nil {
		return err
	}
	if ratio.Gt(&pool.MaxLoanRatio) {
		return ledger.Revert(op, ledger.KindRatioTooHigh)
	}
	if pool.InterestRate.Gt(&loan.InterestRate) {
		return ledger.Revert(op, ledger.KindRateTooHigh)
	}
	if pool.AuctionLength.Lt(&loan.AuctionLength) {
		return ledger.Revert(op, ledger.KindAuctionTooShort)
	}

	if err := e.transfer(loan.LoanToken, e.state.params.FeeReceiver, protocolInterest); err != nil {
		return err
	}
	if err := e.fund(op, poolID, totalDebt); err != nil {
		return err
	}
	if err := e.settle(op, loan, lenderInterest); err != nil {
		return err
	}

	loan.Lender = pool.Lender
	loan.InterestRate = pool.InterestRate
	loan.StartTimestamp = e.now
	loan.AuctionStartTimestamp = ledger.NoAuction
	loan.Debt = totalDebt
	e.state.loans[loanID] = loan
	return nil
}

func (e *env) startAuction(id ledger.LoanID) error {
	const op = "startAuction"
	loan, err := e.state.loan(op, id)
	if err != nil {
		return err
	}
	if e.sender != loan.Lender {
		return ledger.Revert(op, ledger.KindUnauthorized)
	}
	if loan.InAuction() {
		return ledger.Revert(op, ledger.KindAuctionStarted)
	}
	loan.AuctionStartTimestamp = e.now
	e.state.loans[id] = loan
	return nil
}

func (e *env) buyLoan(loanID ledger.LoanID, poolID ledger.PoolID) error {
	const op = "buyLoan"
	loan, err := e.state.loan(op, loanID)
	if err != nil {
		return err
	}
	if !loan.InAuction() {
		return ledger.Revert(op, ledger.KindAuctionNotStarted)
	}
	end := ledger.AuctionEnd(loan)
	if e.now.Gt(&end) {
		return ledger.Revert(op, ledger.KindAuctionEnded)
	}
	pool := e.state.pools[poolID]
	if pool.LoanToken != loan.LoanToken || pool.CollateralToken != loan.CollateralToken {
		return ledger.Revert(op, ledger.KindTokenMismatch)
	}
	if loan.AuctionLength.IsZero() {
		return &ledger.RevertError{Kind: ledger.KindPanic, Op: op, Reason: "division by zero"}
	}
	rate := ledger.AuctionRate(loan, e.now.Uint64(), e.state.params.MaxInterestRate)
	if pool.InterestRate.Gt(&rate) {
		return ledger.Revert(op, ledger.KindRateTooHigh)
	}
	lenderInterest, protocolInterest := e.interest(loan)
	totalDebt := add(loan.Debt, add(lenderInterest, protocolInterest))
	if pool.PoolBalance.Lt(&totalDebt) {
		return ledger.Revert(op, ledger.KindPoolTooSmall)
	}
	if totalDebt.Lt(&pool.MinLoanSize) {
		return ledger.Revert(op, ledger.KindLoanTooSmall)
	}
	ratio, err := e.ratio(op, totalDebt, loan.Collateral)
	if err != nil {
		return err
	}
	if ratio.Gt(&pool.MaxLoanRatio) {
		return ledger.Revert(op, ledger.KindRatioTooHigh)
	}

	if err := e.fund(op, poolID, totalDebt); err != nil {
		return err
	}
	if err := e.settle(op, loan, lenderInterest); err != nil {
		return err
	}
	if err := e.transfer(loan.LoanToken, e.state.params.FeeReceiver, protocolInterest); err != nil {
		return err
	}

	loan.Lender = pool.Lender
	if e.faults.BuyLoanCallerAsLender {
		loan.Lender = e.sender
	}
	loan.StartTimestamp = e.now
	loan.AuctionStartTimestamp = ledger.NoAuction
	loan.InterestRate = rate
	loan.Debt = totalDebt
	e.state.loans[loanID] = loan
	return nil
}

func (e *env) seizeLoan(id ledger.LoanID) error {
	const op = "seizeLoan"
	loan, err := e.state.loan(op, id)
	if err != nil {
		return err
	}
	if !loan.InAuction() {
		return ledger.Revert(op, ledger.KindAuctionNotStarted)
	}
	end := ledger.AuctionEnd(loan)
	if e.now.Lt(&end) {
		return ledger.Revert(op, ledger.KindAuctionNotEnded)
	}
	govFee := ledger.BasisPointsOf(loan.Collateral, e.state.params.BorrowerFee)
	if err := e.transfer(loan.CollateralToken, e.state.params.FeeReceiver, govFee); err != nil {
		return err
	}
	rest, _ := sub(op, loan.Collateral, govFee)
	if err := e.transfer(loan.CollateralToken, loan.Lender, rest); err != nil {
		return err
	}
	if !e.faults.SeizeKeepsOutstanding {
		poolID := loan.PoolID()
		pool := e.state.pools[poolID]
		outstanding, err := sub(op, pool.OutstandingLoans, loan.Debt)
		if err != nil {
			return err
		}
		pool.OutstandingLoans = outstanding
		e.state.pools[poolID] = pool
	}
	e.state.loans[id] = ledger.Loan{}
	return nil
}

func (e *env) refinance(r ledger.Refinance) error {
	const op = "refinance"
	loan, err := e.state.loan(op, r.LoanID)
	if err != nil {
		return err
	}
	if e.sender != loan.Borrower {
		return ledger.Revert(op, ledger.KindUnauthorized)
	}
	pool := e.state.pools[r.PoolID]
	if pool.LoanToken != loan.LoanToken || pool.CollateralToken != loan.CollateralToken {
		return ledger.Revert(op, ledger.KindTokenMismatch)
	}
	if r.Debt.Lt(&pool.MinLoanSize) {
		return ledger.Revert(op, ledger.KindLoanTooSmall)
	}
	if r.Debt.Gt(&pool.PoolBalance) {
		return ledger.Revert(op, ledger.KindLoanTooLarge)
	}
	ratio, err := e.ratio(op, r.Debt, r.Collateral)
	if err != nil {
		return err
	}
	if ratio.Gt(&pool.MaxLoanRatio) {
		return ledger.Revert(op, ledger.KindRatioTooHigh)
	}

	lenderInterest, protocolInterest := e.interest(loan)
	debtToPay := add(loan.Debt, add(lenderInterest, protocolInterest))
	if err := e.settle(op, loan, lenderInterest); err != nil {
		return err
	}

	switch {
	case debtToPay.Gt(&r.Debt):
		owed, _ := sub(op, debtToPay, r.Debt)
		if err := e.transferFrom(loan.LoanToken, e.sender, e.self, owed); err != nil {
			return err
		}
	case debtToPay.Lt(&r.Debt):
		surplus, _ := sub(op, r.Debt, debtToPay)
		fee := ledger.BasisPointsOf(surplus, e.state.params.BorrowerFee)
		if err := e.transfer(loan.LoanToken, e.state.params.FeeReceiver, fee); err != nil {
			return err
		}
		rest, _ := sub(op, surplus, fee)
		if err := e.transfer(loan.LoanToken, e.sender, rest); err != nil {
			return err
		}
	}
	if err := e.transfer(loan.LoanToken, e.state.params.FeeReceiver, protocolInterest); err != nil {
		return err
	}

	if err := e.fund(op, r.PoolID, r.Debt); err != nil {
		return err
	}
	if e.faults.RefinanceDoubleDebit {
		target := e.state.pools[r.PoolID]
		if target.PoolBalance, err = sub(op, target.PoolBalance, r.Debt); err != nil {
			return err
		}
		e.state.pools[r.PoolID] = target
	}

	switch {
	case r.Collateral.Gt(&loan.Collateral):
		diff, _ := sub(op, r.Collateral, loan.Collateral)
		if err := e.transferFrom(loan.CollateralToken, e.sender, e.self, diff); err != nil {
			return err
		}
	case r.Collateral.Lt(&loan.Collateral):
		diff, _ := sub(op, loan.Collateral, r.Collateral)
		if err := e.transfer(loan.CollateralToken, e.sender, diff); err != nil {
			return err
		}
	}

	loan.Debt = r.Debt
	loan.Collateral = r.Collateral
	loan.InterestRate = pool.InterestRate
	loan.StartTimestamp = e.now
	loan.AuctionStartTimestamp = ledger.NoAuction
	loan.AuctionLength = pool.AuctionLength
	loan.Lender = pool.Lender
	e.state.loans[r.LoanID] = loan
	return nil
}
