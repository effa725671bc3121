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

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/0xsoniclabs/lendfuzz/config"
	"github.com/0xsoniclabs/lendfuzz/fuzz"
	"github.com/0xsoniclabs/lendfuzz/fuzz/record"
	"github.com/0xsoniclabs/lendfuzz/fuzz/shrink"
	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/urfave/cli/v2"
)

// ShrinkCommand minimizes a failing replay log.
var ShrinkCommand = cli.Command{
	Action:    shrinkAction,
	Name:      "shrink",
	Usage:     "minimizes a failing replay log",
	ArgsUsage: "<replay-log>",
	Flags: flags(ledgerFlags, commonFlags, []cli.Flag{
		&config.OutputFlag,
		&config.MaxTestsFlag,
	}),
	Description: `
The shrink command removes sequences and flows from a failing replay log for as
long as the replay ends with the same failure. Every candidate is replayed on a
fresh ledger.`,
}

func shrinkAction(ctx *cli.Context) error {
	if ctx.Args().Len() != 1 {
		return cli.Exit("shrink: provide exactly one replay log", 1)
	}
	cfg, logFile, err := prepare(ctx)
	if err != nil {
		return err
	}
	defer logFile.Close()
	if strings.TrimSpace(cfg.Output) == "" {
		return cli.Exit("shrink: specify --output to store the minimized replay log", 1)
	}
	log := cfg.Logger("Shrink")

	original, err := record.Read(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("failed reading replay log; %v", err)
	}
	newBackend, err := newBackendFactory(cfg)
	if err != nil {
		return err
	}
	runCtx, stop := signalContext(ctx)
	defer stop()

	tester := shrinkTester{cfg: cfg, newBackend: newBackend}
	target, err := tester.failureOf(runCtx, original)
	if err != nil {
		return err
	}
	if target == nil {
		return cli.Exit("shrink: replay log does not fail", 1)
	}
	log.Noticef("shrinking failure of %s", describe(target))

	test, err := shrink.NewEngineTester(shrink.EngineTesterConfig{
		Config:     cfg.Fuzz(),
		NewBackend: tester.fresh,
		Target:     target,
		Options:    engineOptions(cfg),
	})
	if err != nil {
		return err
	}
	shrinker := shrink.NewShrinker(shrink.Config{
		MaxTests: cfg.MaxTests,
		Logger:   log.Debugf,
	})
	start := time.Now()
	shrunk, err := shrinker.Shrink(runCtx, original, test)
	if err != nil {
		if errors.Is(err, shrink.ErrInputDoesNotFail) {
			return cli.Exit("shrink: replay log does not fail", 1)
		}
		if errors.Is(err, context.Canceled) {
			return cli.Exit("shrink: operation cancelled", 1)
		}
		return err
	}
	tester.closeAll()
	if err := record.Write(cfg.Output, shrunk); err != nil {
		return err
	}
	stats := shrinker.Stats()
	log.Noticef("reduced flows %d -> %d with %d replays in %.2fs", stats.Original, stats.Shrunk, stats.Tests, time.Since(start).Seconds())
	log.Noticef("minimized replay log written to %s", cfg.Output)
	return nil
}

// shrinkTester provides fresh backends and releases them once shrinking is done.
type shrinkTester struct {
	cfg        *config.Config
	newBackend backendFactory
	closers    []func()
}

func (t *shrinkTester) fresh(ctx context.Context) (ledger.Backend, error) {
	backend, closer, err := t.newBackend(ctx)
	if err != nil {
		return nil, err
	}
	t.closers = append(t.closers, closer)
	return backend, nil
}

func (t *shrinkTester) closeAll() {
	for _, c := range t.closers {
		c()
	}
	t.closers = nil
}

// failureOf replays log without comparing outcomes and returns the failure it ends
// with, or nil if it passes.
func (t *shrinkTester) failureOf(ctx context.Context, log *record.Log) (*fuzz.Failure, error) {
	defer t.closeAll()
	backend, err := t.fresh(ctx)
	if err != nil {
		return nil, err
	}
	fc := t.cfg.Fuzz()
	fc.Replay = log
	fc.Strict = false
	engine, err := fuzz.NewEngine(backend, fc, engineOptions(t.cfg)...)
	if err != nil {
		return nil, err
	}
	_, err = engine.Run(ctx)
	if err == nil {
		return nil, nil
	}
	var failure *fuzz.Failure
	if !errors.As(err, &failure) {
		return nil, err
	}
	if errors.Is(err, fuzz.ErrReplayDiverged) {
		return nil, cli.Exit(fmt.Sprintf("shrink: replay log does not match the ledger; %v", err), 1)
	}
	return failure, nil
}

func describe(f *fuzz.Failure) string {
	if f.Invariant != "" {
		return fmt.Sprintf("invariant %s after %s", f.Invariant, f.Flow)
	}
	return "flow " + f.Flow
}
