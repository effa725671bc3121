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
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ledger.Backend = (*Client)(nil)
var _ ledger.Lender = (*Lender)(nil)
var _ ledger.Token = (*Token)(nil)

type revertErr struct{ data string }

func (e *revertErr) Error() string          { return "execution reverted" }
func (e *revertErr) ErrorCode() int         { return 3 }
func (e *revertErr) ErrorData() interface{} { return e.data }

// ethService fakes the eth namespace of a development node. Calls are answered by
// selector; sent transactions get the configured receipt.
type ethService struct {
	accounts []common.Address
	results  map[string]hexutil.Bytes
	reverts  map[string]string
	receipt  *types.Receipt
	sent     []map[string]any
}

func (s *ethService) Accounts() []common.Address {
	return s.accounts
}

func (s *ethService) Call(args map[string]any, block string) (hexutil.Bytes, error) {
	input, _ := args["input"].(string)
	if input == "" {
		input, _ = args["data"].(string)
	}
	if len(input) < 10 {
		return nil, errors.New("missing input")
	}
	selector := input[:10]
	if data, found := s.reverts[selector]; found {
		return nil, &revertErr{data: data}
	}
	return s.results[selector], nil
}

func (s *ethService) SendTransaction(args map[string]any) common.Hash {
	s.sent = append(s.sent, args)
	return common.Hash{0x42}
}

func (s *ethService) GetTransactionReceipt(hash common.Hash) *types.Receipt {
	return s.receipt
}

type evmService struct {
	automine  bool
	mined     int
	increased uint64
	next      uint64
	reverted  []hexutil.Uint64
}

func (s *evmService) SetAutomine(enabled bool) error {
	s.automine = enabled
	return nil
}

func (s *evmService) Mine() error {
	s.mined++
	return nil
}

func (s *evmService) IncreaseTime(seconds uint64) error {
	s.increased += seconds
	return nil
}

func (s *evmService) Snapshot() hexutil.Uint64 {
	s.next++
	return hexutil.Uint64(s.next)
}

func (s *evmService) Revert(id hexutil.Uint64) bool {
	s.reverted = append(s.reverted, id)
	return uint64(id) <= s.next
}

func errorID(contract abi.ABI, name string) []byte {
	id := contract.Errors[name].ID
	return id[:4]
}

func selectorHex(method string) string {
	return hexutil.Encode(lenderABI.Methods[method].ID)
}

func newTestClient(t *testing.T, eth *ethService, evm *evmService, opts ...Option) *Client {
	t.Helper()
	server := gethrpc.NewServer()
	require.NoError(t, server.RegisterName("eth", eth))
	require.NoError(t, server.RegisterName("evm", evm))
	rc := gethrpc.DialInProc(server)
	t.Cleanup(func() {
		rc.Close()
		server.Stop()
	})
	opts = append([]Option{WithPollInterval(time.Millisecond)}, opts...)
	return NewClient(rc, opts...)
}

func TestClient_ChainControl(t *testing.T) {
	ctx := context.Background()
	accounts := []common.Address{{1}, {2}}
	evm := &evmService{automine: true}
	client := newTestClient(t, &ethService{accounts: accounts}, evm)

	got, err := client.Accounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, accounts, got)

	require.NoError(t, client.SetAutomine(ctx, false))
	assert.False(t, evm.automine)
	require.NoError(t, client.Mine(ctx, 0))
	require.NoError(t, client.Mine(ctx, 3600))
	assert.Equal(t, 2, evm.mined)
	assert.Equal(t, uint64(3600), evm.increased)

	id, err := client.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.SnapshotID(1), id)
	require.NoError(t, client.Revert(ctx, id))
	assert.Error(t, client.Revert(ctx, 9))
	assert.Equal(t, []hexutil.Uint64{1, 9}, evm.reverted)
}

func TestClient_DeployBindsConfiguredContracts(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, &ethService{}, &evmService{})
	_, err := client.DeployLender(ctx, common.Address{})
	assert.ErrorIs(t, err, ErrNotDeployed)

	client = newTestClient(t, &ethService{}, &evmService{},
		WithLender(common.Address{0xaa}),
		WithTokens(common.Address{0xbb}))
	lender, err := client.DeployLender(ctx, common.Address{})
	require.NoError(t, err)
	assert.Equal(t, common.Address{0xaa}, lender.Address())
	token, err := client.DeployToken(ctx, common.Address{}, "A")
	require.NoError(t, err)
	assert.Equal(t, common.Address{0xbb}, token.Address())
	_, err = client.DeployToken(ctx, common.Address{}, "B")
	assert.ErrorIs(t, err, ErrNotDeployed)
}

func TestLender_ViewsDecodeResults(t *testing.T) {
	ctx := context.Background()
	want := ledger.Pool{
		Lender:           common.Address{1},
		LoanToken:        common.Address{2},
		CollateralToken:  common.Address{3},
		MinLoanSize:      ledger.Amount(100),
		PoolBalance:      ledger.Ether,
		MaxLoanRatio:     ledger.Amount(2_000_000_000_000_000_000),
		AuctionLength:    ledger.Amount(86400),
		InterestRate:     ledger.Amount(1000),
		OutstandingLoans: ledger.Amount(5),
	}
	packed, err := lenderABI.Methods["pools"].Outputs.Pack(
		want.Lender, want.LoanToken, want.CollateralToken,
		big.NewInt(100), want.PoolBalance.ToBig(), want.MaxLoanRatio.ToBig(),
		big.NewInt(86400), big.NewInt(1000), big.NewInt(5))
	require.NoError(t, err)
	debt, err := lenderABI.Methods["getLoanDebt"].Outputs.Pack(big.NewInt(1234))
	require.NoError(t, err)

	eth := &ethService{
		results: map[string]hexutil.Bytes{
			selectorHex("pools"):       packed,
			selectorHex("getLoanDebt"): debt,
		},
	}
	client := newTestClient(t, eth, &evmService{}, WithLender(common.Address{0xaa}))
	lender, err := client.DeployLender(ctx, common.Address{})
	require.NoError(t, err)

	got, err := lender.Pools(ctx, want.ID())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	d, err := lender.GetLoanDebt(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, ledger.Amount(1234), d)
}

func TestLender_RevertsAreClassified(t *testing.T) {
	ctx := context.Background()
	panicData := hexutil.Encode(append(panicSelector[:], common.BigToHash(big.NewInt(0x32)).Bytes()...))
	eth := &ethService{
		reverts: map[string]string{
			selectorHex("getLoanDebt"):  panicData,
			selectorHex("startAuction"): hexutil.Encode(errorID(lenderABI, "AuctionStarted")),
		},
	}
	client := newTestClient(t, eth, &evmService{}, WithLender(common.Address{0xaa}))
	lender, err := client.DeployLender(ctx, common.Address{})
	require.NoError(t, err)

	_, err = lender.GetLoanDebt(ctx, 99)
	kind, ok := ledger.KindOf(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, ledger.KindPanic, kind)

	err = lender.StartAuction(ctx, ledger.CallOpts{From: common.Address{1}}, []ledger.LoanID{0})
	kind, ok = ledger.KindOf(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, ledger.KindAuctionStarted, kind)
	assert.Empty(t, eth.sent, "a failing preflight must not send")
}

func TestLender_BorrowReadsLoanIDsFromReceipt(t *testing.T) {
	ctx := context.Background()
	lenderAddr := common.Address{0xaa}
	borrower := common.Address{1}
	eth := &ethService{
		receipt: &types.Receipt{
			Status: types.ReceiptStatusSuccessful,
			TxHash: common.Hash{0x42},
			Logs: []*types.Log{{
				Address: lenderAddr,
				Topics: []common.Hash{
					lenderABI.Events["Borrowed"].ID,
					common.BytesToHash(borrower.Bytes()),
					common.BytesToHash(common.Address{2}.Bytes()),
					common.BigToHash(big.NewInt(7)),
				},
				Data:   []byte{},
				TxHash: common.Hash{0x42},
			}},
		},
	}
	client := newTestClient(t, eth, &evmService{}, WithLender(lenderAddr))
	lender, err := client.DeployLender(ctx, common.Address{})
	require.NoError(t, err)

	ids, err := lender.Borrow(ctx, ledger.CallOpts{From: borrower}, []ledger.Borrow{{Debt: ledger.Ether, Collateral: ledger.Ether}})
	require.NoError(t, err)
	assert.Equal(t, []ledger.LoanID{7}, ids)
	require.Len(t, eth.sent, 1)
	assert.Equal(t, "0x"+common.Bytes2Hex(borrower.Bytes()), eth.sent[0]["from"])

	// simulated calls stop after the preflight
	_, err = lender.Borrow(ctx, ledger.CallOpts{From: borrower, Mode: ledger.Simulate}, nil)
	require.NoError(t, err)
	assert.Len(t, eth.sent, 1)
}

func TestClient_MineChecksQueuedReceipts(t *testing.T) {
	ctx := context.Background()
	eth := &ethService{
		receipt: &types.Receipt{
			Status: types.ReceiptStatusFailed,
			TxHash: common.Hash{0x42},
			Logs:   []*types.Log{},
		},
	}
	client := newTestClient(t, eth, &evmService{}, WithLender(common.Address{0xaa}))
	lender, err := client.DeployLender(ctx, common.Address{})
	require.NoError(t, err)

	require.NoError(t, client.SetAutomine(ctx, false))
	require.NoError(t, lender.StartAuction(ctx, ledger.CallOpts{From: common.Address{1}}, []ledger.LoanID{0}))
	assert.Error(t, client.Mine(ctx, 0))
	// the queue is drained even on failure
	assert.NoError(t, client.Mine(ctx, 0))
}

func TestRevertOf(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want ledger.ErrorKind
	}{
		{"empty", nil, ledger.KindUnknown},
		{"lender error", errorID(lenderABI, "TokenMismatch"), ledger.KindTokenMismatch},
		{"token balance", errorID(tokenABI, "ERC20InsufficientBalance"), ledger.KindInsufficientBalance},
		{"token allowance", errorID(tokenABI, "ERC20InsufficientAllowance"), ledger.KindInsufficientAllowance},
		{"unknown selector", []byte{1, 2, 3, 4}, ledger.KindUnknown},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, revertOf("op", test.data).Kind)
		})
	}
}
