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

	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Token is a handle to a test token deployed on a Chain.
type Token struct {
	chain *Chain
	addr  common.Address
}

func (t *Token) Address() common.Address {
	return t.addr
}

// Symbol returns the symbol the token was deployed with.
func (t *Token) Symbol() (string, error) {
	var symbol string
	err := t.chain.view(func(w *world, _ uint64) error {
		state, err := w.token(t.addr)
		if err != nil {
			return err
		}
		symbol = state.symbol
		return nil
	})
	return symbol, err
}

func (t *Token) BalanceOf(_ context.Context, owner common.Address) (uint256.Int, error) {
	var balance uint256.Int
	err := t.chain.view(func(w *world, _ uint64) error {
		state, err := w.token(t.addr)
		if err != nil {
			return err
		}
		balance = state.balances[owner]
		return nil
	})
	return balance, err
}

// Allowance returns how much spender may transfer on behalf of owner.
func (t *Token) Allowance(_ context.Context, owner, spender common.Address) (uint256.Int, error) {
	var allowance uint256.Int
	err := t.chain.view(func(w *world, _ uint64) error {
		state, err := w.token(t.addr)
		if err != nil {
			return err
		}
		allowance = state.allowance(owner, spender)
		return nil
	})
	return allowance, err
}

func (t *Token) Approve(_ context.Context, opts ledger.CallOpts, spender common.Address, amount uint256.Int) error {
	return t.chain.execute(opts, func(w *world, _ uint64) error {
		state, err := w.token(t.addr)
		if err != nil {
			return err
		}
		state.approve(opts.From, spender, amount)
		return nil
	})
}

func (t *Token) Mint(_ context.Context, opts ledger.CallOpts, to common.Address, amount uint256.Int) error {
	return t.chain.execute(opts, func(w *world, _ uint64) error {
		state, err := w.token(t.addr)
		if err != nil {
			return err
		}
		return state.mint(to, amount)
	})
}

// Transfer moves amount from the caller to to.
func (t *Token) Transfer(_ context.Context, opts ledger.CallOpts, to common.Address, amount uint256.Int) error {
	return t.chain.execute(opts, func(w *world, _ uint64) error {
		state, err := w.token(t.addr)
		if err != nil {
			return err
		}
		return state.transfer(opts.From, to, amount)
	})
}
