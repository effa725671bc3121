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
	"fmt"
	"math/big"
	"strings"

	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

var (
	panicSelector = selectorOf("Panic(uint256)")
	errorSelector = selectorOf("Error(string)")
)

// revertKinds maps custom error selectors of the lender and token contracts to kinds.
var revertKinds = func() map[[4]byte]ledger.ErrorKind {
	res := make(map[[4]byte]ledger.ErrorKind)
	for _, contract := range []abi.ABI{lenderABI, tokenABI} {
		for name, e := range contract.Errors {
			kind, ok := ledger.ParseErrorKind(strings.TrimPrefix(name, "ERC20"))
			if !ok {
				continue
			}
			var sel [4]byte
			copy(sel[:], e.ID[:4])
			res[sel] = kind
		}
	}
	return res
}()

func selectorOf(signature string) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(signature))[:4])
	return sel
}

// decodeError turns a node error carrying revert data into a *ledger.RevertError.
// Errors without revert data are returned wrapped and count as unexpected.
func decodeError(op string, err error) error {
	var dataErr gethrpc.DataError
	if !errors.As(err, &dataErr) {
		return errors.Wrap(err, op)
	}
	var data []byte
	switch v := dataErr.ErrorData().(type) {
	case string:
		decoded, decodeErr := hexutil.Decode(v)
		if decodeErr != nil {
			return errors.Wrapf(err, "%v: undecodable revert data %q", op, v)
		}
		data = decoded
	case []byte:
		data = v
	default:
		return errors.Wrap(err, op)
	}
	return revertOf(op, data)
}

func revertOf(op string, data []byte) *ledger.RevertError {
	if len(data) < 4 {
		return &ledger.RevertError{Kind: ledger.KindUnknown, Op: op, Reason: "empty revert"}
	}
	var sel [4]byte
	copy(sel[:], data[:4])
	switch sel {
	case panicSelector:
		code := new(big.Int)
		if len(data) >= 36 {
			code.SetBytes(data[4:36])
		}
		return &ledger.RevertError{Kind: ledger.KindPanic, Op: op, Reason: fmt.Sprintf("panic 0x%x", code)}
	case errorSelector:
		reason, err := abi.UnpackRevert(data)
		if err != nil {
			reason = hexutil.Encode(data)
		}
		return &ledger.RevertError{Kind: ledger.KindUnknown, Op: op, Reason: reason}
	}
	if kind, found := revertKinds[sel]; found {
		return ledger.Revert(op, kind)
	}
	return &ledger.RevertError{Kind: ledger.KindUnknown, Op: op, Reason: "unknown selector " + hexutil.Encode(sel[:])}
}
