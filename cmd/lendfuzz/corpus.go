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
	"github.com/0xsoniclabs/lendfuzz/corpus"
	"github.com/0xsoniclabs/lendfuzz/fuzz/record"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
)

// CorpusCommand manages the stored failures.
var CorpusCommand = cli.Command{
	Name:  "corpus",
	Usage: "manages the corpus of failing replay logs",
	Subcommands: []*cli.Command{
		&corpusListCommand,
		&corpusShowCommand,
		&corpusRemoveCommand,
	},
}

var corpusListCommand = cli.Command{
	Action: corpusListAction,
	Name:   "ls",
	Usage:  "lists the stored failures",
	Flags:  []cli.Flag{&config.CorpusFlag},
}

var corpusShowCommand = cli.Command{
	Action:    corpusShowAction,
	Name:      "show",
	Usage:     "prints a stored failure and optionally exports its replay log",
	ArgsUsage: "<run-id>",
	Flags:     []cli.Flag{&config.CorpusFlag, &config.OutputFlag},
}

var corpusRemoveCommand = cli.Command{
	Action:    corpusRemoveAction,
	Name:      "rm",
	Usage:     "removes a stored failure",
	ArgsUsage: "<run-id>",
	Flags:     []cli.Flag{&config.CorpusFlag},
}

// withCorpus opens the corpus named by --corpus for the duration of fn.
func withCorpus(ctx *cli.Context, fn func(*corpus.Corpus) error) (err error) {
	path := ctx.Path(config.CorpusFlag.Name)
	if path == "" {
		return cli.Exit("corpus: specify the corpus directory with --corpus", 1)
	}
	c, err := corpus.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, c.Close())
	}()
	return fn(c)
}

func runID(ctx *cli.Context) (uuid.UUID, error) {
	if ctx.Args().Len() != 1 {
		return uuid.UUID{}, cli.Exit("corpus: provide exactly one run id", 1)
	}
	id, err := uuid.Parse(ctx.Args().First())
	if err != nil {
		return uuid.UUID{}, cli.Exit(fmt.Sprintf("corpus: invalid run id; %v", err), 1)
	}
	return id, nil
}

func corpusListAction(ctx *cli.Context) error {
	return withCorpus(ctx, func(c *corpus.Corpus) error {
		entries, err := c.List(ctx.Context)
		if err != nil {
			return err
		}
		t := table.NewWriter()
		t.SetOutputMirror(ctx.App.Writer)
		t.SetStyle(table.StyleLight)
		t.SetTitle(fmt.Sprintf("Corpus: %d failures", len(entries)))
		t.AppendHeader(table.Row{"Run", "Added", "Seed", "Backend", "Flow", "Invariant", "Records"})
		for _, e := range entries {
			t.AppendRow(table.Row{e.RunID, e.Added.Format("2006-01-02 15:04:05"), e.Seed, e.Backend, e.Flow, e.Invariant, e.Records})
		}
		t.Render()
		return nil
	})
}

func corpusShowAction(ctx *cli.Context) error {
	id, err := runID(ctx)
	if err != nil {
		return err
	}
	return withCorpus(ctx, func(c *corpus.Corpus) error {
		entry, log, err := c.Get(id)
		if errors.Is(err, corpus.ErrNotFound) {
			return cli.Exit(fmt.Sprintf("corpus: %v", err), 1)
		}
		if err != nil {
			return err
		}
		w := ctx.App.Writer
		fmt.Fprintf(w, "run:       %s\n", entry.RunID)
		fmt.Fprintf(w, "added:     %s\n", entry.Added.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "seed:      %d\n", entry.Seed)
		fmt.Fprintf(w, "backend:   %s\n", entry.Backend)
		fmt.Fprintf(w, "flow:      %s\n", entry.Flow)
		if entry.Invariant != "" {
			fmt.Fprintf(w, "invariant: %s\n", entry.Invariant)
		}
		fmt.Fprintf(w, "cause:     %s\n", entry.Cause)
		fmt.Fprintf(w, "records:   %d\n", entry.Records)
		if out := ctx.Path(config.OutputFlag.Name); out != "" {
			if err := record.Write(out, log); err != nil {
				return err
			}
			fmt.Fprintf(w, "replay log written to %s\n", out)
		}
		return nil
	})
}

func corpusRemoveAction(ctx *cli.Context) error {
	id, err := runID(ctx)
	if err != nil {
		return err
	}
	return withCorpus(ctx, func(c *corpus.Corpus) error {
		if err := c.Delete(id); err != nil {
			if errors.Is(err, corpus.ErrNotFound) {
				return cli.Exit(fmt.Sprintf("corpus: %v", err), 1)
			}
			return err
		}
		fmt.Fprintf(ctx.App.Writer, "removed %s\n", id)
		return nil
	})
}
