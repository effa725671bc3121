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
	"io"
	"time"

	"github.com/0xsoniclabs/lendfuzz/config"
	"github.com/0xsoniclabs/lendfuzz/corpus"
	"github.com/0xsoniclabs/lendfuzz/fuzz"
	"github.com/0xsoniclabs/lendfuzz/fuzz/record"
	"github.com/0xsoniclabs/lendfuzz/logger"
	"github.com/0xsoniclabs/lendfuzz/report"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

// RunCommand fuzzes the lending protocol.
var RunCommand = cli.Command{
	Action: runAction,
	Name:   "run",
	Usage:  "runs randomized flow sequences against the lending protocol",
	Flags: flags(ledgerFlags, commonFlags, []cli.Flag{
		&config.SequencesFlag,
		&config.FlowsFlag,
		&config.SeedFlag,
		&config.WeightFlag,
		&config.CampaignFlag,
		&config.RecordFlag,
		&config.FailureLogFlag,
		&config.StatsDbFlag,
		&config.WebAddrFlag,
		&config.CorpusFlag,
	}),
	Description: `
The run command executes randomized sequences of lending protocol flows,
predicts the outcome of every call and checks the protocol invariants after
every flow. A failing run writes its replay log to --failure-log.`,
}

func runAction(ctx *cli.Context) (err error) {
	cfg, logFile, err := prepare(ctx)
	if err != nil {
		return err
	}
	defer logFile.Close()
	log := cfg.Logger("Fuzz-Run")

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

	stats := report.NewStatistics()
	opts := engineOptions(cfg, fuzz.WithObserver(stats))
	if cfg.WebAddr != "" {
		reg := prometheus.NewRegistry()
		metrics, err := report.NewMetrics(reg)
		if err != nil {
			return err
		}
		opts = append(opts, fuzz.WithObserver(metrics))
		view := report.NewWebView(stats.Summary, reg)
		webCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := view.Serve(webCtx, cfg.WebAddr); err != nil {
				log.Errorf("web view stopped: %v", err)
			}
		}()
		log.Noticef("serving statistics on http://%s", cfg.WebAddr)
	}

	engine, err := fuzz.NewEngine(backend, cfg.Fuzz(), opts...)
	if err != nil {
		return err
	}
	start := time.Now()
	replayLog, runErr := engine.Run(runCtx)
	hours, minutes, seconds := logger.ParseTime(time.Since(start))
	log.Noticef("elapsed time: %v:%v:%v (h:m:s)", hours, minutes, seconds)

	summary := stats.Summary()
	if err := writeStatistics(ctx.Context, ctx.App.Writer, cfg, replayLog, summary); err != nil {
		return err
	}

	var failure *fuzz.Failure
	if errors.As(runErr, &failure) {
		if err := record.Write(cfg.FailureLog, replayLog); err != nil {
			log.Errorf("cannot write replay log: %v", err)
		} else {
			log.Noticef("replay log written to %s", cfg.FailureLog)
		}
		if err := storeFailure(cfg, failure, replayLog); err != nil {
			log.Errorf("cannot store failure in corpus: %v", err)
		}
		return cli.Exit(fmt.Sprintf("lendfuzz: %v", failure), 1)
	}
	if runErr != nil {
		return runErr
	}
	if cfg.Record != "" {
		if err := record.Write(cfg.Record, replayLog); err != nil {
			return err
		}
		log.Noticef("replay log written to %s", cfg.Record)
	}
	return nil
}

// writeStatistics prints the summary and stores it in the statistics database.
func writeStatistics(ctx context.Context, w io.Writer, cfg *config.Config, log *record.Log, summary report.Summary) (err error) {
	sinks := report.Sinks{report.NewWriterSink(w)}
	if cfg.StatsDb != "" {
		db, err := report.OpenSQLite(cfg.StatsDb)
		if err != nil {
			return err
		}
		sinks = append(sinks, db)
	}
	defer func() {
		err = errors.Join(err, sinks.Close())
	}()
	run := report.Run{Seed: cfg.Seed, Backend: cfg.Backend, Summary: summary}
	if log != nil {
		run.ID = log.RunID
		run.Seed = log.Seed
	}
	return sinks.Write(ctx, run)
}

func storeFailure(cfg *config.Config, failure *fuzz.Failure, log *record.Log) (err error) {
	if cfg.Corpus == "" {
		return nil
	}
	c, err := corpus.Open(cfg.Corpus)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, c.Close())
	}()
	return c.Put(corpus.EntryOf(failure), log)
}
