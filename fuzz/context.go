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
	"fmt"
	"maps"

	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/0xsoniclabs/lendfuzz/mirror"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ledgerMax = ledger.MaxAmount

// Bounds parameterize the value generators.
type Bounds struct {
	MinLoanSize      uint256.Int
	MaxLoanRatio     uint256.Int
	InterestRate     uint256.Int
	AuctionLengthMax uint256.Int
	PoolAmountMax    uint256.Int
	InterestRateMin  uint256.Int
	InterestRateMax  uint256.Int
	MaxLoanRatioMin  uint256.Int
	MaxLoanRatioMax  uint256.Int
	WarpMax          uint64
}

// DefaultBounds returns the default campaign bounds. Interest rate updates may exceed
// the protocol maximum so that their rejection is exercised.
func DefaultBounds() Bounds {
	return Bounds{
		MinLoanSize:      ledger.Amount(100),
		MaxLoanRatio:     ledger.Amount(2_000_000_000_000_000_000),
		InterestRate:     ledger.Amount(1000),
		AuctionLengthMax: ledger.Amount(3*24*60*60 + 10),
		PoolAmountMax:    ledger.Amount(10_000_000_000_000_000_000),
		InterestRateMin:  ledger.Amount(10_000),
		InterestRateMax:  ledger.Amount(110_000), // past the protocol maximum of 100_000
		MaxLoanRatioMin:  ledger.Amount(2_000_000_000_000_000_000),
		MaxLoanRatioMax:  ledger.Amount(3_000_000_000_000_000_000),
		WarpMax:          24 * 60 * 60,
	}
}

// RunContext is the state a flow operates on: the ledger handles, the accounts, the
// mirrors of pools and loans and the random source.
type RunContext struct {
	Chain  ledger.Chain
	Lender ledger.Lender
	Tokens []ledger.Token
	Owner  common.Address
	Users  []common.Address
	Params ledger.Params
	Bounds Bounds
	Pools  *mirror.Mirror[ledger.PoolID, ledger.Pool]
	Loans  *mirror.Mirror[ledger.LoanID, ledger.Loan]
	Source Source

	args map[string]string
}

// NewRunContext creates a context with unbound mirrors.
func NewRunContext(chain ledger.Chain, lender ledger.Lender, tokens []ledger.Token, owner common.Address, users []common.Address) *RunContext {
	return &RunContext{
		Chain:  chain,
		Lender: lender,
		Tokens: tokens,
		Owner:  owner,
		Users:  users,
		Bounds: DefaultBounds(),
		Pools:  mirror.New(mirror.WithName[ledger.PoolID, ledger.Pool]("pools")),
		Loans: mirror.New(
			mirror.WithName[ledger.LoanID, ledger.Loan]("loans"),
			mirror.WithVoid[ledger.LoanID, ledger.Loan](ledger.Loan.IsVoid),
		),
		args: make(map[string]string),
	}
}

// Bind attaches the mirrors to the lender.
func (rc *RunContext) Bind() {
	rc.Pools.Bind(rc.Lender.Pools)
	rc.Loans.Bind(rc.Lender.Loans)
}

// Reset forgets all mirrored entities.
func (rc *RunContext) Reset() {
	rc.Pools.Reset()
	rc.Loans.Reset()
	clear(rc.args)
}

// Arg records a generated argument of the running flow.
func (rc *RunContext) Arg(name string, v any) {
	switch v := v.(type) {
	case uint256.Int:
		rc.args[name] = v.Dec()
	case common.Address:
		rc.args[name] = v.Hex()
	case common.Hash:
		rc.args[name] = v.Hex()
	default:
		rc.args[name] = fmt.Sprint(v)
	}
}

func (rc *RunContext) takeArgs() map[string]string {
	if len(rc.args) == 0 {
		return nil
	}
	res := maps.Clone(rc.args)
	clear(rc.args)
	return res
}

// Token returns the handle of the token at addr.
func (rc *RunContext) Token(addr common.Address) (ledger.Token, error) {
	for _, t := range rc.Tokens {
		if t.Address() == addr {
			return t, nil
		}
	}
	return nil, errors.Newf("unknown token %v", addr)
}

// Balance returns the token balance of owner.
func (rc *RunContext) Balance(ctx context.Context, token, owner common.Address) (uint256.Int, error) {
	t, err := rc.Token(token)
	if err != nil {
		return uint256.Int{}, err
	}
	return t.BalanceOf(ctx, owner)
}

// approve lets the lender pull amount of token from owner.
func (rc *RunContext) approve(ctx context.Context, token, owner common.Address, amount uint256.Int) error {
	t, err := rc.Token(token)
	if err != nil {
		return err
	}
	if err := t.Approve(ctx, ledger.CallOpts{From: owner}, rc.Lender.Address(), amount); err != nil {
		return errors.Wrapf(err, "cannot approve %v of %v for %v", amount.Dec(), token, owner)
	}
	return nil
}

// approvals accumulates the amounts a call pulls per token.
type approvals map[common.Address]uint256.Int

func (a approvals) add(token common.Address, amount uint256.Int) {
	v := a[token]
	v.Add(&v, &amount)
	a[token] = v
}

func (rc *RunContext) approveAll(ctx context.Context, owner common.Address, a approvals) error {
	for _, t := range rc.Tokens {
		amount, found := a[t.Address()]
		if !found {
			continue
		}
		if err := rc.approve(ctx, t.Address(), owner, amount); err != nil {
			return err
		}
	}
	return nil
}

// pool returns the mirrored pool or the zero pool if unknown.
func (rc *RunContext) pool(id ledger.PoolID) ledger.Pool {
	p, _ := rc.Pools.Get(id)
	return p
}

// sync refreshes the mirror entries a flow may have changed.
func (rc *RunContext) sync(ctx context.Context, blast Blast, touched Touched) error {
	for _, id := range touched.Pools {
		rc.Pools.InsertKey(id)
	}
	for _, id := range touched.Loans {
		rc.Loans.InsertKey(id)
	}
	if blast&BlastAllPools != 0 {
		if err := rc.Pools.UpdateAll(ctx); err != nil {
			return err
		}
	} else if blast&BlastPool != 0 {
		for _, id := range touched.Pools {
			if err := rc.Pools.Update(ctx, id); err != nil {
				return err
			}
		}
	}
	if blast&BlastAllLoans != 0 {
		return rc.Loans.UpdateAll(ctx)
	}
	if blast&BlastLoan != 0 {
		for _, id := range touched.Loans {
			if err := rc.Loans.Update(ctx, id); err != nil {
				return err
			}
		}
	}
	return nil
}
