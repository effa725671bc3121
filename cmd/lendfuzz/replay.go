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
	"errors"
	"fmt"

	"github.com/0xsoniclabs/lendfuzz/config"
	"github.com/0xsoniclabs/lendfuzz/fuzz"
	"github.com/0xsoniclabs/lendfuzz/fuzz/record"
	"github.com/0xsoniclabs/lendfuzz/report"
	"github.com/urfave/cli/v2"
)

// ReplayCommand re-executes a recorded run.
var ReplayCommand = cli.Command{
	Action:    replayAction,
	Name:      "replay",
	Usage:     "replays a recorded run",
	ArgsUsage: "<replay-log>",
	Flags: flags(ledgerFlags, commonFlags, []cli.Flag{
		&config.NonStrictFlag,
		&config.StatsDbFlag,
	}),
	Description: `
The replay command re-executes the flows of a replay log with the recorded
random draws. Unless --non-strict is given, every flow must end with its
recorded outcome.`,
}

func replayAction(ctx *cli.Context) error {
	if ctx.Args().Len() != 1 {
		return cli.Exit("replay: provide exactly one replay log", 1)
	}
	cfg, logFile, err := prepare(ctx)
	if err != nil {
		return err
	}
	defer logFile.Close()

	replayLog, err := record.Read(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("failed reading replay log; %v", err)
	}
	newBackend, err := newBackendFactory(cfg)
	if err != nil {
		return err
	}
	runCtx, stop := signalContext(ctx)
	defer stop()
	backend, closeBackend, err := newBackend(runCtx)
	if err != nil {
		return err
	}
	defer closeBackend()

	fc := cfg.Fuzz()
	fc.Replay = replayLog
	fc.Sequences = max(1, len(replayLog.Sequences()))
	stats := report.NewStatistics()
	engine, err := fuzz.NewEngine(backend, fc, engineOptions(cfg, fuzz.WithObserver(stats))...)
	if err != nil {
		return err
	}
	replayed, runErr := engine.Run(runCtx)
	if err := writeStatistics(ctx.Context, ctx.App.Writer, cfg, replayed, stats.Summary()); err != nil {
		return err
	}
	if errors.Is(runErr, fuzz.ErrReplayDiverged) {
		return cli.Exit(fmt.Sprintf("replay: log does not match the ledger; %v", runErr), 1)
	}
	var failure *fuzz.Failure
	if errors.As(runErr, &failure) {
		return cli.Exit(fmt.Sprintf("replay: failure reproduced; %v", failure), 1)
	}
	return runErr
}
