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

package shrink

import (
	"context"

	"github.com/0xsoniclabs/lendfuzz/fuzz"
	"github.com/0xsoniclabs/lendfuzz/fuzz/record"
	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/cockroachdb/errors"
)

// EngineTesterConfig describes how candidate logs are replayed.
type EngineTesterConfig struct {
	// Config is the campaign configuration; replay settings are overridden.
	Config fuzz.Config
	// NewBackend returns a fresh ledger for every candidate.
	NewBackend func(ctx context.Context) (ledger.Backend, error)
	// Target, if set, restricts matching failures to the same flow and invariant.
	Target  *fuzz.Failure
	Options []fuzz.Option
}

// NewEngineTester prepares a TestFunc replaying candidates without comparing recorded
// outcomes. A candidate fails if its replay ends in a *fuzz.Failure other than a
// divergence. Divergent candidates are unresolved.
func NewEngineTester(cfg EngineTesterConfig) (TestFunc, error) {
	if cfg.NewBackend == nil {
		return nil, errors.New("shrink: backend factory must be provided")
	}
	return func(ctx context.Context, log *record.Log) (Outcome, error) {
		backend, err := cfg.NewBackend(ctx)
		if err != nil {
			return OutcomeUnresolved, errors.Wrap(err, "shrink: cannot create backend")
		}
		c := cfg.Config
		c.Replay = log
		c.Strict = false
		engine, err := fuzz.NewEngine(backend, c, cfg.Options...)
		if err != nil {
			return OutcomeUnresolved, err
		}
		_, err = engine.Run(ctx)
		if err == nil {
			return OutcomePass, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return OutcomeUnresolved, err
		}
		var failure *fuzz.Failure
		if !errors.As(err, &failure) {
			return OutcomeUnresolved, err
		}
		if errors.Is(err, fuzz.ErrReplayDiverged) {
			return OutcomeUnresolved, nil
		}
		if cfg.Target != nil && (failure.Flow != cfg.Target.Flow || failure.Invariant != cfg.Target.Invariant) {
			return OutcomePass, nil
		}
		return OutcomeFail, nil
	}, nil
}
