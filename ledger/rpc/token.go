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
	"github.com/holiman/uint256"
)

// Token is a ledger.Token bound to a deployed ERC20 test token with a public mint.
type Token struct {
	client *Client
	addr   common.Address
}

func newToken(c *Client, addr common.Address) (*Token, error) {
	return &Token{client: c, addr: addr}, nil
}

func (t *Token) Address() common.Address {
	return t.addr
}

func (t *Token) BalanceOf(ctx context.Context, owner common.Address) (uint256.Int, error) {
	data, err := tokenABI.Pack("balanceOf", owner)
	if err != nil {
		return uint256.Int{}, errors.Wrap(err, "pack balanceOf")
	}
	res, err := t.client.call(ctx, "balanceOf", common.Address{}, t.addr, data)
	if err != nil {
		return uint256.Int{}, err
	}
	var balance *big.Int
	if err := tokenABI.UnpackIntoInterface(&balance, "balanceOf", res); err != nil {
		return uint256.Int{}, errors.Wrap(err, "unpack balanceOf")
	}
	return from256(balance), nil
}

func (t *Token) exec(ctx context.Context, opts ledger.CallOpts, method string, args ...any) error {
	data, err := tokenABI.Pack(method, args...)
	if err != nil {
		return errors.Wrapf(err, "pack %v", method)
	}
	_, err = t.client.transact(ctx, method, opts, t.addr, data)
	return err
}

func (t *Token) Approve(ctx context.Context, opts ledger.CallOpts, spender common.Address, amount uint256.Int) error {
	return t.exec(ctx, opts, "approve", spender, big256(amount))
}

func (t *Token) Mint(ctx context.Context, opts ledger.CallOpts, to common.Address, amount uint256.Int) error {
	return t.exec(ctx, opts, "mint", to, big256(amount))
}
