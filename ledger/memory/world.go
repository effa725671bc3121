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
	"fmt"
	"maps"
	"slices"

	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// world is the complete contract state of the chain. Every transaction runs on a
// clone which replaces the world only if the transaction succeeds.
type world struct {
	nonces  map[common.Address]uint64
	tokens  map[common.Address]*tokenState
	lenders map[common.Address]*lenderState
}

type tokenState struct {
	symbol     string
	supply     uint256.Int
	balances   map[common.Address]uint256.Int
	allowances map[common.Address]map[common.Address]uint256.Int // owner -> spender
}

type lenderState struct {
	owner  common.Address
	params ledger.Params
	pools  map[ledger.PoolID]ledger.Pool
	loans  []ledger.Loan
}

func newWorld() *world {
	return &world{
		nonces:  make(map[common.Address]uint64),
		tokens:  make(map[common.Address]*tokenState),
		lenders: make(map[common.Address]*lenderState),
	}
}

func (w *world) clone() *world {
	res := &world{
		nonces:  maps.Clone(w.nonces),
		tokens:  make(map[common.Address]*tokenState, len(w.tokens)),
		lenders: make(map[common.Address]*lenderState, len(w.lenders)),
	}
	for addr, t := range w.tokens {
		allowances := make(map[common.Address]map[common.Address]uint256.Int, len(t.allowances))
		for owner, spenders := range t.allowances {
			allowances[owner] = maps.Clone(spenders)
		}
		res.tokens[addr] = &tokenState{
			symbol:     t.symbol,
			supply:     t.supply,
			balances:   maps.Clone(t.balances),
			allowances: allowances,
		}
	}
	for addr, l := range w.lenders {
		res.lenders[addr] = &lenderState{
			owner:  l.owner,
			params: l.params,
			pools:  maps.Clone(l.pools),
			loans:  slices.Clone(l.loans),
		}
	}
	return res
}

// newContractAddress derives the address of the next contract deployed by deployer.
func (w *world) newContractAddress(deployer common.Address) common.Address {
	nonce := w.nonces[deployer]
	w.nonces[deployer] = nonce + 1
	return deriveAddress(deployer, nonce)
}

func (w *world) token(addr common.Address) (*tokenState, error) {
	t, found := w.tokens[addr]
	if !found {
		return nil, &ledger.RevertError{Kind: ledger.KindUnknown, Op: "token", Reason: fmt.Sprintf("no token at %v", addr)}
	}
	return t, nil
}

func (w *world) lender(addr common.Address) (*lenderState, error) {
	l, found := w.lenders[addr]
	if !found {
		return nil, &ledger.RevertError{Kind: ledger.KindUnknown, Op: "lender", Reason: fmt.Sprintf("no lender at %v", addr)}
	}
	return l, nil
}

func (t *tokenState) allowance(owner, spender common.Address) uint256.Int {
	return t.allowances[owner][spender]
}

func (t *tokenState) approve(owner, spender common.Address, amount uint256.Int) {
	spenders, found := t.allowances[owner]
	if !found {
		spenders = make(map[common.Address]uint256.Int)
		t.allowances[owner] = spenders
	}
	spenders[spender] = amount
}

func (t *tokenState) mint(to common.Address, amount uint256.Int) error {
	var supply uint256.Int
	if _, overflow := supply.AddOverflow(&t.supply, &amount); overflow {
		return &ledger.RevertError{Kind: ledger.KindPanic, Op: "mint", Reason: "total supply overflow"}
	}
	t.supply = supply
	balance := t.balances[to]
	balance.Add(&balance, &amount)
	t.balances[to] = balance
	return nil
}

func (t *tokenState) transfer(from, to common.Address, amount uint256.Int) error {
	balance := t.balances[from]
	if balance.Lt(&amount) {
		return ledger.Revert("transfer", ledger.KindInsufficientBalance)
	}
	balance.Sub(&balance, &amount)
	t.balances[from] = balance
	receiver := t.balances[to]
	receiver.Add(&receiver, &amount)
	t.balances[to] = receiver
	return nil
}

// transferFrom checks the allowance before the balance and spends the allowance only
// on success. An allowance of MaxAmount is never decreased.
func (t *tokenState) transferFrom(spender, from, to common.Address, amount uint256.Int) error {
	allowance := t.allowance(from, spender)
	unlimited := allowance == ledger.MaxAmount
	if !unlimited && allowance.Lt(&amount) {
		return ledger.Revert("transferFrom", ledger.KindInsufficientAllowance)
	}
	if err := t.transfer(from, to, amount); err != nil {
		return err
	}
	if !unlimited {
		allowance.Sub(&allowance, &amount)
		t.approve(from, spender, allowance)
	}
	return nil
}
