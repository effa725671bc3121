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

package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// SnapshotID identifies a saved chain state.
type SnapshotID uint64

//go:generate mockgen -source chain.go -destination chain_mock.go -package ledger

// Chain controls block production of the ledger.
type Chain interface {
	// Accounts lists the funded accounts able to send transactions.
	Accounts(ctx context.Context) ([]common.Address, error)
	// PendingTimestamp is the timestamp of the block the next commit lands in.
	PendingTimestamp(ctx context.Context) (uint64, error)
	// SetAutomine toggles mining a block per committed call. While disabled, committed
	// calls share the pending block until Mine is called.
	SetAutomine(ctx context.Context, enabled bool) error
	// Mine seals the pending block, advance seconds after the current pending timestamp.
	Mine(ctx context.Context, advance uint64) error
	Snapshot(ctx context.Context) (SnapshotID, error)
	// Revert restores a snapshot. The snapshot is consumed.
	Revert(ctx context.Context, id SnapshotID) error
}
