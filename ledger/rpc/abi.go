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

package rpc

import (
	_ "embed"
	"math/big"
	"strings"

	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	//go:embed abi/lender.json
	lenderJSON string
	//go:embed abi/token.json
	tokenJSON string

	lenderABI = mustParse(lenderJSON)
	tokenABI  = mustParse(tokenJSON)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// poolTuple is the abi shape of ledger.Pool.
type poolTuple struct {
	Lender           common.Address
	LoanToken        common.Address
	CollateralToken  common.Address
	MinLoanSize      *big.Int
	PoolBalance      *big.Int
	MaxLoanRatio     *big.Int
	AuctionLength    *big.Int
	InterestRate     *big.Int
	OutstandingLoans *big.Int
}

type loanTuple struct {
	Lender                common.Address
	Borrower              common.Address
	LoanToken             common.Address
	CollateralToken       common.Address
	Debt                  *big.Int
	Collateral            *big.Int
	InterestRate          *big.Int
	StartTimestamp        *big.Int
	AuctionStartTimestamp *big.Int
	AuctionLength         *big.Int
}

type borrowTuple struct {
	PoolId     [32]byte
	Debt       *big.Int
	Collateral *big.Int
}

type refinanceTuple struct {
	LoanId     *big.Int
	PoolId     [32]byte
	Debt       *big.Int
	Collateral *big.Int
}

func big256(v uint256.Int) *big.Int {
	return v.ToBig()
}

func from256(v *big.Int) uint256.Int {
	if v == nil {
		return uint256.Int{}
	}
	return *uint256.MustFromBig(v)
}

func toPoolTuple(p ledger.Pool) poolTuple {
	return poolTuple{
		Lender:           p.Lender,
		LoanToken:        p.LoanToken,
		CollateralToken:  p.CollateralToken,
		MinLoanSize:      big256(p.MinLoanSize),
		PoolBalance:      big256(p.PoolBalance),
		MaxLoanRatio:     big256(p.MaxLoanRatio),
		AuctionLength:    big256(p.AuctionLength),
		InterestRate:     big256(p.InterestRate),
		OutstandingLoans: big256(p.OutstandingLoans),
	}
}

func (t poolTuple) pool() ledger.Pool {
	return ledger.Pool{
		Lender:           t.Lender,
		LoanToken:        t.LoanToken,
		CollateralToken:  t.CollateralToken,
		MinLoanSize:      from256(t.MinLoanSize),
		PoolBalance:      from256(t.PoolBalance),
		MaxLoanRatio:     from256(t.MaxLoanRatio),
		AuctionLength:    from256(t.AuctionLength),
		InterestRate:     from256(t.InterestRate),
		OutstandingLoans: from256(t.OutstandingLoans),
	}
}

func (t loanTuple) loan() ledger.Loan {
	return ledger.Loan{
		Lender:                t.Lender,
		Borrower:              t.Borrower,
		LoanToken:             t.LoanToken,
		CollateralToken:       t.CollateralToken,
		Debt:                  from256(t.Debt),
		Collateral:            from256(t.Collateral),
		InterestRate:          from256(t.InterestRate),
		StartTimestamp:        from256(t.StartTimestamp),
		AuctionStartTimestamp: from256(t.AuctionStartTimestamp),
		AuctionLength:         from256(t.AuctionLength),
	}
}

func loanIDs(ids []ledger.LoanID) []*big.Int {
	res := make([]*big.Int, len(ids))
	for i, id := range ids {
		res[i] = new(big.Int).SetUint64(id)
	}
	return res
}

func poolIDs(ids []ledger.PoolID) [][32]byte {
	res := make([][32]byte, len(ids))
	for i, id := range ids {
		res[i] = id
	}
	return res
}
