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
	"github.com/holiman/uint256"
)

const (
	BasisPoints    = 10_000
	SecondsPerYear = 365 * 24 * 60 * 60
)

var (
	basisPoints    = uint256.NewInt(BasisPoints)
	secondsPerYear = uint256.NewInt(SecondsPerYear)
	ratioPrecision = uint256.NewInt(1_000_000_000_000_000_000)
)

// AccrueInterest splits the interest accrued on debt over elapsed seconds into the
// lender's share and the protocol fee. Every division rounds down, in the order
// gross = rate*debt*elapsed/10000/year, fee = gross*lenderFee/10000.
func AccrueInterest(debt, rate, elapsed, lenderFee uint256.Int) (lenderInterest, protocolInterest uint256.Int) {
	var gross uint256.Int
	gross.Mul(&rate, &debt)
	gross.Mul(&gross, &elapsed)
	gross.Div(&gross, basisPoints)
	gross.Div(&gross, secondsPerYear)

	protocolInterest.Mul(&gross, &lenderFee)
	protocolInterest.Div(&protocolInterest, basisPoints)
	lenderInterest.Sub(&gross, &protocolInterest)
	return lenderInterest, protocolInterest
}

// LoanInterest returns the interest accrued by loan until timestamp now.
func LoanInterest(loan Loan, now uint64, lenderFee uint256.Int) (lenderInterest, protocolInterest uint256.Int) {
	elapsed := Amount(now)
	if elapsed.Lt(&loan.StartTimestamp) {
		elapsed.Clear()
	} else {
		elapsed.Sub(&elapsed, &loan.StartTimestamp)
	}
	return AccrueInterest(loan.Debt, loan.InterestRate, elapsed, lenderFee)
}

// CurrentDebt is the principal plus all interest owed on loan at timestamp now.
func CurrentDebt(loan Loan, now uint64, lenderFee uint256.Int) uint256.Int {
	lenderInterest, protocolInterest := LoanInterest(loan, now, lenderFee)
	var total uint256.Int
	total.Add(&loan.Debt, &lenderInterest)
	total.Add(&total, &protocolInterest)
	return total
}

// LoanRatio is debt per unit of collateral in 18-decimal fixed point. The collateral
// must be non-zero.
func LoanRatio(debt, collateral uint256.Int) uint256.Int {
	var ratio uint256.Int
	ratio.Mul(&debt, ratioPrecision)
	ratio.Div(&ratio, &collateral)
	return ratio
}

// BasisPointsOf returns floor(amount*bps/10000).
func BasisPointsOf(amount, bps uint256.Int) uint256.Int {
	var res uint256.Int
	res.Mul(&amount, &bps)
	res.Div(&res, basisPoints)
	return res
}

// CollateralFor returns ceil(debt*ratio/1e18), the collateral that backs debt at ratio.
func CollateralFor(debt, ratio uint256.Int) uint256.Int {
	var num, res, rem uint256.Int
	num.Mul(&debt, &ratio)
	res.DivMod(&num, ratioPrecision, &rem)
	if !rem.IsZero() {
		res.AddUint64(&res, 1)
	}
	return res
}

// CeilRatio returns ceil(ratio/1e18).
func CeilRatio(ratio uint256.Int) uint256.Int {
	var res, rem uint256.Int
	res.DivMod(&ratio, ratioPrecision, &rem)
	if !rem.IsZero() {
		res.AddUint64(&res, 1)
	}
	return res
}

// AuctionRate is the interest rate a loan in auction is offered at. It rises linearly
// from zero at the auction start to maxRate at its end. The auction length must be
// non-zero.
func AuctionRate(loan Loan, now uint64, maxRate uint256.Int) uint256.Int {
	var elapsed, rate uint256.Int
	ts := Amount(now)
	if ts.Gt(&loan.AuctionStartTimestamp) {
		elapsed.Sub(&ts, &loan.AuctionStartTimestamp)
	}
	rate.Mul(&maxRate, &elapsed)
	rate.Div(&rate, &loan.AuctionLength)
	return rate
}

// AuctionEnd is the last timestamp at which a loan in auction can be bought.
func AuctionEnd(loan Loan) uint256.Int {
	var end uint256.Int
	end.Add(&loan.AuctionStartTimestamp, &loan.AuctionLength)
	return end
}
