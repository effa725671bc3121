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

// Package memory is a deterministic in-process ledger running the lending protocol and
// its test tokens. Transactions execute on a copy of the world state which replaces the
// current state only on success, so a rejected call never leaves partial effects.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

const (
	DefaultGenesisTime   = 1_700_000_000
	DefaultBlockInterval = 1
	DefaultAccounts      = 10
)

// Faults re-enable defects of the original lending contract. They exist to show that
// the fuzzer detects them; the zero value is the correct protocol.
type Faults struct {
	// RefinanceDoubleDebit debits the refinanced amount from the target pool twice.
	RefinanceDoubleDebit bool
	// BuyLoanCallerAsLender assigns a bought loan to the caller instead of the pool lender.
	BuyLoanCallerAsLender bool
	// SeizeKeepsOutstanding leaves the pool's outstanding loans untouched on seizure.
	SeizeKeepsOutstanding bool
}

// Option configures a Chain.
type Option func(*Chain)

// WithGenesisTime sets the timestamp of the genesis block.
func WithGenesisTime(ts uint64) Option {
	return func(c *Chain) { c.latest = ts }
}

// WithBlockInterval sets the seconds between consecutive blocks.
func WithBlockInterval(seconds uint64) Option {
	return func(c *Chain) { c.interval = seconds }
}

// WithAccounts sets the number of funded accounts.
func WithAccounts(n int) Option {
	return func(c *Chain) { c.numAccounts = n }
}

// WithFaults enables protocol defects.
func WithFaults(f Faults) Option {
	return func(c *Chain) { c.faults = f }
}

type snapshot struct {
	world    *world
	latest   uint64
	block    uint64
	automine bool
}

// Chain is an in-memory ledger implementing ledger.Backend.
type Chain struct {
	mu          sync.Mutex
	world       *world
	latest      uint64 // timestamp of the last sealed block
	interval    uint64
	block       uint64
	automine    bool
	numAccounts int
	accounts    []common.Address
	faults      Faults
	snapshots   map[ledger.SnapshotID]snapshot
	nextID      ledger.SnapshotID
}

// NewChain creates a chain at its genesis block with automine enabled.
func NewChain(opts ...Option) *Chain {
	c := &Chain{
		world:       newWorld(),
		latest:      DefaultGenesisTime,
		interval:    DefaultBlockInterval,
		automine:    true,
		numAccounts: DefaultAccounts,
		snapshots:   make(map[ledger.SnapshotID]snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	for i := 0; i < c.numAccounts; i++ {
		c.accounts = append(c.accounts, accountAddress(i))
	}
	return c
}

func accountAddress(i int) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(fmt.Sprintf("lendfuzz-account-%d", i)))[12:])
}

func deriveAddress(deployer common.Address, nonce uint64) common.Address {
	return crypto.CreateAddress(deployer, nonce)
}

func (c *Chain) Accounts(context.Context) ([]common.Address, error) {
	return append([]common.Address(nil), c.accounts...), nil
}

func (c *Chain) PendingTimestamp(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending(), nil
}

// BlockNumber returns the number of sealed blocks.
func (c *Chain) BlockNumber() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}

func (c *Chain) SetAutomine(_ context.Context, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.automine = enabled
	return nil
}

func (c *Chain) Mine(_ context.Context, advance uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seal(advance)
	return nil
}

func (c *Chain) Snapshot(context.Context) (ledger.SnapshotID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.snapshots[id] = snapshot{
		world:    c.world.clone(),
		latest:   c.latest,
		block:    c.block,
		automine: c.automine,
	}
	return id, nil
}

// Revert restores the snapshot and drops it together with all later snapshots.
func (c *Chain) Revert(_ context.Context, id ledger.SnapshotID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, found := c.snapshots[id]
	if !found {
		return errors.Newf("unknown snapshot %d", id)
	}
	for other := range c.snapshots {
		if other >= id {
			delete(c.snapshots, other)
		}
	}
	c.world = s.world
	c.latest = s.latest
	c.block = s.block
	c.automine = s.automine
	return nil
}

func (c *Chain) pending() uint64 {
	return c.latest + c.interval
}

func (c *Chain) seal(advance uint64) {
	c.latest = c.pending() + advance
	c.block++
}

// execute runs fn as a transaction in the pending block. Simulated calls and failing
// calls leave the state unchanged.
func (c *Chain) execute(opts ledger.CallOpts, fn func(w *world, now uint64) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.world.clone()
	if err := fn(w, c.pending()); err != nil {
		return err
	}
	if opts.Mode == ledger.Simulate {
		return nil
	}
	c.world = w
	if c.automine {
		c.seal(0)
	}
	return nil
}

// view runs a read-only fn against the pending state.
func (c *Chain) view(fn func(w *world, now uint64) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(c.world, c.pending())
}

// DeployLender deploys a fresh lending protocol owned by owner, which also receives fees.
func (c *Chain) DeployLender(_ context.Context, owner common.Address) (ledger.Lender, error) {
	var addr common.Address
	err := c.execute(ledger.CallOpts{From: owner}, func(w *world, _ uint64) error {
		addr = w.newContractAddress(owner)
		w.lenders[addr] = &lenderState{
			owner:  owner,
			params: ledger.DefaultParams(owner),
			pools:  make(map[ledger.PoolID]ledger.Pool),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Lender{chain: c, addr: addr}, nil
}

// DeployToken deploys a mintable ERC20 test token.
func (c *Chain) DeployToken(_ context.Context, owner common.Address, symbol string) (ledger.Token, error) {
	var addr common.Address
	err := c.execute(ledger.CallOpts{From: owner}, func(w *world, _ uint64) error {
		addr = w.newContractAddress(owner)
		w.tokens[addr] = &tokenState{
			symbol:     symbol,
			balances:   make(map[common.Address]uint256.Int),
			allowances: make(map[common.Address]map[common.Address]uint256.Int),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Token{chain: c, addr: addr}, nil
}
