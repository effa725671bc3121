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

// Package rpc binds the fuzzer to a lending protocol deployed on a development node
// reachable through JSON-RPC. The node must offer unlocked accounts and the evm_*
// methods of anvil or hardhat (setAutomine, mine, increaseTime, snapshot, revert).
package rpc

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/0xsoniclabs/lendfuzz/logger"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

const DefaultPollInterval = 50 * time.Millisecond

// ErrNotDeployed is returned when a deployment is requested that was not configured.
var ErrNotDeployed = errors.New("contract address not configured")

// Option configures a Client.
type Option func(*Client)

// WithLender sets the address of the deployed lending protocol.
func WithLender(addr common.Address) Option {
	return func(c *Client) { c.lender = addr }
}

// WithTokens sets the addresses of the deployed test tokens, in deployment order.
func WithTokens(addrs ...common.Address) Option {
	return func(c *Client) { c.tokens = append(c.tokens, addrs...) }
}

// WithPollInterval sets how often receipts are polled.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.poll = d }
}

// WithLogger replaces the client's logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Client is a ledger.Backend talking to a development node.
type Client struct {
	rpc  *gethrpc.Client
	eth  *ethclient.Client
	log  logger.Logger
	poll time.Duration

	lender common.Address
	tokens []common.Address

	mu        sync.Mutex
	automine  bool
	nextToken int
	queued    []common.Hash // transactions sent while automine is off
}

// Dial connects to the node at url.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	rc, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot dial %v", url)
	}
	return NewClient(rc, opts...), nil
}

// NewClient wraps an established rpc connection.
func NewClient(rc *gethrpc.Client, opts ...Option) *Client {
	c := &Client{
		rpc:      rc,
		eth:      ethclient.NewClient(rc),
		log:      logger.NewLogger("INFO", "Ledger-RPC"),
		poll:     DefaultPollInterval,
		automine: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := c.rpc.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, errors.Wrap(err, "eth_accounts")
	}
	return accounts, nil
}

func (c *Client) PendingTimestamp(ctx context.Context) (uint64, error) {
	header, err := c.eth.HeaderByNumber(ctx, big.NewInt(int64(gethrpc.PendingBlockNumber)))
	if err != nil {
		return 0, errors.Wrap(err, "pending header")
	}
	return header.Time, nil
}

func (c *Client) SetAutomine(ctx context.Context, enabled bool) error {
	if err := c.rpc.CallContext(ctx, nil, "evm_setAutomine", enabled); err != nil {
		return errors.Wrap(err, "evm_setAutomine")
	}
	c.mu.Lock()
	c.automine = enabled
	c.mu.Unlock()
	return nil
}

// Mine seals one block advance seconds after the regular block time and checks the
// receipts of all transactions queued while automine was off.
func (c *Client) Mine(ctx context.Context, advance uint64) error {
	if advance > 0 {
		if err := c.rpc.CallContext(ctx, nil, "evm_increaseTime", advance); err != nil {
			return errors.Wrap(err, "evm_increaseTime")
		}
	}
	if err := c.rpc.CallContext(ctx, nil, "evm_mine"); err != nil {
		return errors.Wrap(err, "evm_mine")
	}
	c.mu.Lock()
	queued := c.queued
	c.queued = nil
	c.mu.Unlock()
	for _, hash := range queued {
		if _, err := c.receipt(ctx, hash); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) Snapshot(ctx context.Context) (ledger.SnapshotID, error) {
	var id hexutil.Uint64
	if err := c.rpc.CallContext(ctx, &id, "evm_snapshot"); err != nil {
		return 0, errors.Wrap(err, "evm_snapshot")
	}
	return ledger.SnapshotID(id), nil
}

func (c *Client) Revert(ctx context.Context, id ledger.SnapshotID) error {
	var ok bool
	if err := c.rpc.CallContext(ctx, &ok, "evm_revert", hexutil.Uint64(id)); err != nil {
		return errors.Wrap(err, "evm_revert")
	}
	if !ok {
		return errors.Newf("unknown snapshot %d", id)
	}
	c.mu.Lock()
	c.queued = nil
	c.mu.Unlock()
	return nil
}

// DeployLender binds the configured lending protocol. Contracts are deployed outside
// of the fuzzer; owner must be the account that receives the protocol fees.
func (c *Client) DeployLender(ctx context.Context, owner common.Address) (ledger.Lender, error) {
	if c.lender == (common.Address{}) {
		return nil, errors.Wrap(ErrNotDeployed, "lender")
	}
	return newLender(c, c.lender)
}

// DeployToken binds the next configured token.
func (c *Client) DeployToken(_ context.Context, _ common.Address, symbol string) (ledger.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nextToken >= len(c.tokens) {
		return nil, errors.Wrapf(ErrNotDeployed, "token %v", symbol)
	}
	addr := c.tokens[c.nextToken]
	c.nextToken++
	return newToken(c, addr)
}

type txArgs struct {
	From common.Address `json:"from"`
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
}

// call evaluates a message against the pending block.
func (c *Client) call(ctx context.Context, op string, from, to common.Address, data []byte) ([]byte, error) {
	res, err := c.eth.PendingCallContract(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return nil, decodeError(op, err)
	}
	return res, nil
}

// transact preflights a message and, in commit mode, sends it from the unlocked account
// opts.From. With automine on it waits for the receipt; otherwise the transaction is
// checked by the next Mine.
func (c *Client) transact(ctx context.Context, op string, opts ledger.CallOpts, to common.Address, data []byte) (*types.Receipt, error) {
	if _, err := c.call(ctx, op, opts.From, to, data); err != nil {
		return nil, err
	}
	if opts.Mode == ledger.Simulate {
		return nil, nil
	}
	var hash common.Hash
	if err := c.rpc.CallContext(ctx, &hash, "eth_sendTransaction", txArgs{From: opts.From, To: to, Data: data}); err != nil {
		return nil, decodeError(op, err)
	}
	c.mu.Lock()
	automine := c.automine
	if !automine {
		c.queued = append(c.queued, hash)
	}
	c.mu.Unlock()
	if !automine {
		return nil, nil
	}
	return c.receipt(ctx, hash)
}

func (c *Client) receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, errors.Newf("transaction %v failed after a successful preflight", hash)
			}
			return receipt, nil
		case !errors.Is(err, ethereum.NotFound):
			return nil, errors.Wrapf(err, "receipt of %v", hash)
		}
		c.log.Debugf("waiting for receipt of %v", hash)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
