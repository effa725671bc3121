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

	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/cockroachdb/errors"
)

// Atomically runs fn with automine suspended, so every call fn commits lands in the
// same block. The block is mined and automine restored even if fn fails.
func Atomically(ctx context.Context, chain ledger.Chain, fn func() error) error {
	if err := chain.SetAutomine(ctx, false); err != nil {
		return errors.Wrap(err, "cannot suspend automine")
	}
	err := fn()
	if mineErr := chain.Mine(ctx, 0); mineErr != nil {
		err = errors.CombineErrors(err, errors.Wrap(mineErr, "cannot mine atomic block"))
	}
	if autoErr := chain.SetAutomine(ctx, true); autoErr != nil {
		err = errors.CombineErrors(err, errors.Wrap(autoErr, "cannot restore automine"))
	}
	return err
}
