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
	"context"
	"math/big"

	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Lender is a ledger.Lender bound to a deployed contract.
type Lender struct {
	client *Client
	addr   common.Address
}

func newLender(c *Client, addr common.Address) (*Lender, error) {
	return &Lender{client: c, addr: addr}, nil
}

func (l *Lender) Address() common.Address {
	return l.addr
}

// view calls a constant method and unpacks its outputs into out.
func (l *Lender) view(ctx context.Context, out any, method string, args ...any) error {
	data, err := lenderABI.Pack(method, args...)
	if err != nil {
		return errors.Wrapf(err, "pack %v", method)
	}
	res, err := l.client.call(ctx, method, common.Address{}, l.addr, data)
	if err != nil {
		return err
	}
	if err := lenderABI.UnpackIntoInterface(out, method, res); err != nil {
		return errors.Wrapf(err, "unpack %v", method)
	}
	return nil
}

func (l *Lender) viewUint(ctx context.Context, method string, args ...any) (uint256.Int, error) {
	var res *big.Int
	if err := l.view(ctx, &res, method, args...); err != nil {
		return uint256.Int{}, err
	}
	return from256(res), nil
}

func (l *Lender) Params(ctx context.Context) (ledger.Params, error) {
	var (
		params ledger.Params
		err    error
	)
	if params.LenderFee, err = l.viewUint(ctx, "lenderFee"); err != nil {
		return params, err
	}
	if params.BorrowerFee, err = l.viewUint(ctx, "borrowerFee"); err != nil {
		return params, err
	}
	if params.MaxInterestRate, err = l.viewUint(ctx, "MAX_INTEREST_RATE"); err != nil {
		return params, err
	}
	if params.MaxAuctionLength, err = l.viewUint(ctx, "MAX_AUCTION_LENGTH"); err != nil {
		return params, err
	}
	err = l.view(ctx, &params.FeeReceiver, "feeReceiver")
	return params, err
}

func (l *Lender) Pools(ctx context.Context, id ledger.PoolID) (ledger.Pool, error) {
	var t poolTuple
	if err := l.view(ctx, &t, "pools", [32]byte(id)); err != nil {
		return ledger.Pool{}, err
	}
	return t.pool(), nil
}

func (l *Lender) Loans(ctx context.Context, id ledger.LoanID) (ledger.Loan, error) {
	var t loanTuple
	if err := l.view(ctx, &t, "loans", new(big.Int).SetUint64(id)); err != nil {
		return ledger.Loan{}, err
	}
	return t.loan(), nil
}

func (l *Lender) GetLoanDebt(ctx context.Context, id ledger.LoanID) (uint256.Int, error) {
	return l.viewUint(ctx, "getLoanDebt", new(big.Int).SetUint64(id))
}

func (l *Lender) GetPoolID(ctx context.Context, lender, loanToken, collateralToken common.Address) (ledger.PoolID, error) {
	var id [32]byte
	err := l.view(ctx, &id, "getPoolId", lender, loanToken, collateralToken)
	return id, err
}

func (l *Lender) transact(ctx context.Context, opts ledger.CallOpts, method string, args ...any) (*types.Receipt, error) {
	data, err := lenderABI.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %v", method)
	}
	return l.client.transact(ctx, method, opts, l.addr, data)
}

func (l *Lender) exec(ctx context.Context, opts ledger.CallOpts, method string, args ...any) error {
	_, err := l.transact(ctx, opts, method, args...)
	return err
}

func (l *Lender) SetPool(ctx context.Context, opts ledger.CallOpts, pool ledger.Pool) (ledger.PoolID, error) {
	if err := l.exec(ctx, opts, "setPool", toPoolTuple(pool)); err != nil {
		return ledger.PoolID{}, err
	}
	return pool.ID(), nil
}

func (l *Lender) AddToPool(ctx context.Context, opts ledger.CallOpts, id ledger.PoolID, amount uint256.Int) error {
	return l.exec(ctx, opts, "addToPool", [32]byte(id), big256(amount))
}

func (l *Lender) RemoveFromPool(ctx context.Context, opts ledger.CallOpts, id ledger.PoolID, amount uint256.Int) error {
	return l.exec(ctx, opts, "removeFromPool", [32]byte(id), big256(amount))
}

func (l *Lender) UpdateMaxLoanRatio(ctx context.Context, opts ledger.CallOpts, id ledger.PoolID, ratio uint256.Int) error {
	return l.exec(ctx, opts, "updateMaxLoanRatio", [32]byte(id), big256(ratio))
}

func (l *Lender) UpdateInterestRate(ctx context.Context, opts ledger.CallOpts, id ledger.PoolID, rate uint256.Int) error {
	return l.exec(ctx, opts, "updateInterestRate", [32]byte(id), big256(rate))
}

// Borrow reads the ids of the new loans from the Borrowed events of the receipt, so a
// committed borrow needs automine.
func (l *Lender) Borrow(ctx context.Context, opts ledger.CallOpts, borrows []ledger.Borrow) ([]ledger.LoanID, error) {
	args := make([]borrowTuple, len(borrows))
	for i, b := range borrows {
		args[i] = borrowTuple{PoolId: b.PoolID, Debt: big256(b.Debt), Collateral: big256(b.Collateral)}
	}
	receipt, err := l.transact(ctx, opts, "borrow", args)
	if err != nil || opts.Mode == ledger.Simulate {
		return nil, err
	}
	if receipt == nil {
		return nil, errors.New("borrow committed without automine, loan ids unknown")
	}
	return borrowedLoans(receipt.Logs, l.addr), nil
}

// borrowedLoans extracts the loan ids of all Borrowed events emitted by lender.
func borrowedLoans(logs []*types.Log, lender common.Address) []ledger.LoanID {
	topic := lenderABI.Events["Borrowed"].ID
	var ids []ledger.LoanID
	for _, log := range logs {
		if log.Address != lender || len(log.Topics) < 4 || log.Topics[0] != topic {
			continue
		}
		ids = append(ids, new(big.Int).SetBytes(log.Topics[3].Bytes()).Uint64())
	}
	return ids
}

func (l *Lender) Repay(ctx context.Context, opts ledger.CallOpts, loans []ledger.LoanID) error {
	return l.exec(ctx, opts, "repay", loanIDs(loans))
}

func (l *Lender) GiveLoan(ctx context.Context, opts ledger.CallOpts, loans []ledger.LoanID, pools []ledger.PoolID) error {
	return l.exec(ctx, opts, "giveLoan", loanIDs(loans), poolIDs(pools))
}

func (l *Lender) Refinance(ctx context.Context, opts ledger.CallOpts, refinances []ledger.Refinance) error {
	args := make([]refinanceTuple, len(refinances))
	for i, r := range refinances {
		args[i] = refinanceTuple{
			LoanId:     new(big.Int).SetUint64(r.LoanID),
			PoolId:     r.PoolID,
			Debt:       big256(r.Debt),
			Collateral: big256(r.Collateral),
		}
	}
	return l.exec(ctx, opts, "refinance", args)
}

func (l *Lender) StartAuction(ctx context.Context, opts ledger.CallOpts, loans []ledger.LoanID) error {
	return l.exec(ctx, opts, "startAuction", loanIDs(loans))
}

func (l *Lender) BuyLoan(ctx context.Context, opts ledger.CallOpts, loan ledger.LoanID, pool ledger.PoolID) error {
	return l.exec(ctx, opts, "buyLoan", new(big.Int).SetUint64(loan), [32]byte(pool))
}

func (l *Lender) ZapBuyLoan(ctx context.Context, opts ledger.CallOpts, pool ledger.Pool, loan ledger.LoanID) error {
	return l.exec(ctx, opts, "zapBuyLoan", toPoolTuple(pool), new(big.Int).SetUint64(loan))
}

func (l *Lender) SeizeLoan(ctx context.Context, opts ledger.CallOpts, loans []ledger.LoanID) error {
	return l.exec(ctx, opts, "seizeLoan", loanIDs(loans))
}
