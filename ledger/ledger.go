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

// Package ledger defines the lending protocol as seen by the fuzzer: its value types,
// the closed set of rejection reasons and the interfaces every backend implements.
package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Mode selects whether a call persists its effects.
type Mode uint8

const (
	// Commit executes the call as a transaction; effects persist on success.
	Commit Mode = iota
	// Simulate executes the call against a throw-away copy of the pending state.
	Simulate
)

func (m Mode) String() string {
	if m == Simulate {
		return "simulate"
	}
	return "commit"
}

// CallOpts describe who issues a call and whether it is persisted.
type CallOpts struct {
	From common.Address
	Mode Mode
}

// Lender is a deployed instance of the lending protocol. Views are evaluated at the
// pending block, i.e. with the timestamp the next committed call will observe.
type Lender interface {
	Address() common.Address
	Params(ctx context.Context) (Params, error)

	Pools(ctx context.Context, id PoolID) (Pool, error)
	Loans(ctx context.Context, id LoanID) (Loan, error)
	GetLoanDebt(ctx context.Context, id LoanID) (uint256.Int, error)
	GetPoolID(ctx context.Context, lender, loanToken, collateralToken common.Address) (PoolID, error)

	SetPool(ctx context.Context, opts CallOpts, pool Pool) (PoolID, error)
	AddToPool(ctx context.Context, opts CallOpts, id PoolID, amount uint256.Int) error
	RemoveFromPool(ctx context.Context, opts CallOpts, id PoolID, amount uint256.Int) error
	UpdateMaxLoanRatio(ctx context.Context, opts CallOpts, id PoolID, ratio uint256.Int) error
	UpdateInterestRate(ctx context.Context, opts CallOpts, id PoolID, rate uint256.Int) error

	// Borrow returns the ids of the created loans, in request order.
	Borrow(ctx context.Context, opts CallOpts, borrows []Borrow) ([]LoanID, error)
	Repay(ctx context.Context, opts CallOpts, loans []LoanID) error
	GiveLoan(ctx context.Context, opts CallOpts, loans []LoanID, pools []PoolID) error
	Refinance(ctx context.Context, opts CallOpts, refinances []Refinance) error
	StartAuction(ctx context.Context, opts CallOpts, loans []LoanID) error
	BuyLoan(ctx context.Context, opts CallOpts, loan LoanID, pool PoolID) error
	ZapBuyLoan(ctx context.Context, opts CallOpts, pool Pool, loan LoanID) error
	SeizeLoan(ctx context.Context, opts CallOpts, loans []LoanID) error
}

// Token is an ERC20 asset used as loan or collateral token.
type Token interface {
	Address() common.Address
	BalanceOf(ctx context.Context, owner common.Address) (uint256.Int, error)
	Approve(ctx context.Context, opts CallOpts, spender common.Address, amount uint256.Int) error
	// Mint is only available on test tokens.
	Mint(ctx context.Context, opts CallOpts, to common.Address, amount uint256.Int) error
}

// Deployer provides fresh protocol and token instances.
type Deployer interface {
	DeployLender(ctx context.Context, owner common.Address) (Lender, error)
	DeployToken(ctx context.Context, owner common.Address, symbol string) (Token, error)
}

// Backend bundles everything the fuzzer needs from a ledger.
type Backend interface {
	Chain
	Deployer
}
