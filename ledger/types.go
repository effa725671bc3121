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

package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// PoolID identifies a pool by the hash of its lender and token pair.
type PoolID = common.Hash

// LoanID is the position of a loan in the protocol's loan array. Ids are never reused.
type LoanID = uint64

// NoAuction is the auction start timestamp of a loan without a running auction.
var NoAuction = func() uint256.Int {
	var v uint256.Int
	v.SetAllOne()
	return v
}()

// MaxAmount is the largest representable token amount, used for unlimited approvals.
var MaxAmount = NoAuction

// Ether is 10^18 base units of a token with 18 decimals.
var Ether = Amount(1_000_000_000_000_000_000)

// Amount converts a uint64 into a token amount.
func Amount(v uint64) uint256.Int {
	return *uint256.NewInt(v)
}

// Pool is the lender-owned liquidity pool as stored by the protocol.
type Pool struct {
	Lender           common.Address
	LoanToken        common.Address
	CollateralToken  common.Address
	MinLoanSize      uint256.Int
	PoolBalance      uint256.Int
	MaxLoanRatio     uint256.Int // 18-decimal fixed point
	AuctionLength    uint256.Int // seconds
	InterestRate     uint256.Int // basis points per year
	OutstandingLoans uint256.Int
}

// ID returns the id the protocol stores this pool under.
func (p Pool) ID() PoolID {
	return PoolIDOf(p.Lender, p.LoanToken, p.CollateralToken)
}

// Exists reports whether the pool has ever been configured.
func (p Pool) Exists() bool {
	return p.Lender != (common.Address{})
}

func (p Pool) String() string {
	return fmt.Sprintf("Pool{lender: %v, loanToken: %v, collateralToken: %v, minLoanSize: %v, balance: %v, maxLoanRatio: %v, auctionLength: %v, rate: %v, outstanding: %v}",
		p.Lender, p.LoanToken, p.CollateralToken, p.MinLoanSize.Dec(), p.PoolBalance.Dec(), p.MaxLoanRatio.Dec(),
		p.AuctionLength.Dec(), p.InterestRate.Dec(), p.OutstandingLoans.Dec())
}

// Loan is an active loan as stored by the protocol. A repaid or seized loan is zeroed.
type Loan struct {
	Lender                common.Address
	Borrower              common.Address
	LoanToken             common.Address
	CollateralToken       common.Address
	Debt                  uint256.Int
	Collateral            uint256.Int
	InterestRate          uint256.Int
	StartTimestamp        uint256.Int
	AuctionStartTimestamp uint256.Int
	AuctionLength         uint256.Int
}

// PoolID returns the id of the pool funding this loan.
func (l Loan) PoolID() PoolID {
	return PoolIDOf(l.Lender, l.LoanToken, l.CollateralToken)
}

// InAuction reports whether an auction has been started for the loan.
func (l Loan) InAuction() bool {
	return l.AuctionStartTimestamp != NoAuction
}

// IsVoid reports whether the loan has been closed.
func (l Loan) IsVoid() bool {
	return l.Debt.IsZero()
}

func (l Loan) String() string {
	auction := "none"
	if l.InAuction() {
		auction = l.AuctionStartTimestamp.Dec()
	}
	return fmt.Sprintf("Loan{lender: %v, borrower: %v, loanToken: %v, collateralToken: %v, debt: %v, collateral: %v, rate: %v, start: %v, auctionStart: %v, auctionLength: %v}",
		l.Lender, l.Borrower, l.LoanToken, l.CollateralToken, l.Debt.Dec(), l.Collateral.Dec(), l.InterestRate.Dec(),
		l.StartTimestamp.Dec(), auction, l.AuctionLength.Dec())
}

// Borrow requests Debt from a pool against Collateral.
type Borrow struct {
	PoolID     PoolID
	Debt       uint256.Int
	Collateral uint256.Int
}

// Refinance moves a loan into another pool with new debt and collateral.
type Refinance struct {
	LoanID     LoanID
	PoolID     PoolID
	Debt       uint256.Int
	Collateral uint256.Int
}

// GiveLoan transfers a loan to another pool of the same lender's choosing.
type GiveLoan struct {
	LoanID LoanID
	PoolID PoolID
}

// BuyLoan takes over a loan in auction into a pool.
type BuyLoan struct {
	LoanID LoanID
	PoolID PoolID
}

// Params are protocol-wide constants.
type Params struct {
	LenderFee        uint256.Int // basis points of interest
	BorrowerFee      uint256.Int // basis points of borrowed amount
	MaxInterestRate  uint256.Int
	MaxAuctionLength uint256.Int
	FeeReceiver      common.Address
}

// DefaultParams are the constants of the deployed lending protocol.
func DefaultParams(feeReceiver common.Address) Params {
	return Params{
		LenderFee:        Amount(1000),
		BorrowerFee:      Amount(50),
		MaxInterestRate:  Amount(100_000),
		MaxAuctionLength: Amount(3 * 24 * 60 * 60),
		FeeReceiver:      feeReceiver,
	}
}

// PoolIDOf computes keccak256(abi.encode(lender, loanToken, collateralToken)).
func PoolIDOf(lender, loanToken, collateralToken common.Address) PoolID {
	return crypto.Keccak256Hash(
		common.LeftPadBytes(lender.Bytes(), 32),
		common.LeftPadBytes(loanToken.Bytes(), 32),
		common.LeftPadBytes(collateralToken.Bytes(), 32),
	)
}
