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
	"io"

	"github.com/0xsoniclabs/lendfuzz/config"
	"github.com/0xsoniclabs/lendfuzz/fuzz/record"
	"github.com/0xsoniclabs/lendfuzz/report"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
)

// ReportCommand summarizes a replay log or the statistics database.
var ReportCommand = cli.Command{
	Action:    reportAction,
	Name:      "report",
	Usage:     "summarizes a replay log",
	ArgsUsage: "[<replay-log>]",
	Flags: flags(commonFlags, []cli.Flag{
		&config.StatsDbFlag,
		&config.WebAddrFlag,
	}),
	Description: `
The report command prints the flow outcomes of a replay log. With --web the
summary is served as charts until the command is interrupted. With --stats-db
the runs stored in the statistics database are listed.`,
}

func reportAction(ctx *cli.Context) error {
	if ctx.Args().Len() > 1 {
		return cli.Exit("report: provide at most one replay log", 1)
	}
	cfg, logFile, err := prepare(ctx)
	if err != nil {
		return err
	}
	defer logFile.Close()
	log := cfg.Logger("Report")

	if ctx.Args().Len() == 0 {
		if cfg.StatsDb == "" {
			return cli.Exit("report: provide a replay log or --stats-db", 1)
		}
		return listRuns(ctx, ctx.App.Writer, cfg.StatsDb)
	}

	replayLog, err := record.Read(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("failed reading replay log; %v", err)
	}
	summary := report.FromLog(replayLog).Summary()
	fmt.Fprintf(ctx.App.Writer, "run %s, seed %d, backend %s\n", replayLog.RunID, replayLog.Seed, replayLog.Backend)
	report.WriteTables(ctx.App.Writer, summary)

	if cfg.StatsDb != "" {
		if err := listRuns(ctx, ctx.App.Writer, cfg.StatsDb); err != nil {
			return err
		}
	}
	if cfg.WebAddr == "" {
		return nil
	}
	webCtx, stop := signalContext(ctx)
	defer stop()
	view := report.NewWebView(func() report.Summary { return summary }, nil)
	log.Noticef("serving report on http://%s, interrupt to stop", cfg.WebAddr)
	return view.Serve(webCtx, cfg.WebAddr)
}

func listRuns(ctx *cli.Context, w io.Writer, path string) (err error) {
	db, err := report.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, db.Close())
	}()
	runs, err := db.Runs(ctx.Context)
	if err != nil {
		return err
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Runs")
	t.AppendHeader(table.Row{"Run", "Seed", "Backend", "Sequences", "Executed", "Failure"})
	for _, r := range runs {
		t.AppendRow(table.Row{r.RunID, r.Seed, r.Backend, r.Sequences, r.Executed, r.Failure})
	}
	t.Render()
	return nil
}
