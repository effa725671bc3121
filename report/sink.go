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

package report

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Run identifies the summarized run.
type Run struct {
	ID      uuid.UUID
	Seed    int64
	Backend string
	Summary Summary
}

// Sink is a destination of run summaries.
//
//go:generate mockgen -source sink.go -destination sink_mock.go -package report
type Sink interface {
	Write(ctx context.Context, run Run) error
	Close() error
}

// Sinks forwards to all of its members.
type Sinks []Sink

func (s Sinks) Write(ctx context.Context, run Run) error {
	var errs []error
	for _, sink := range s {
		if err := sink.Write(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s Sinks) Close() error {
	var errs []error
	for _, sink := range s {
		errs = append(errs, sink.Close())
	}
	return errors.Join(errs...)
}

// WriterSink renders summaries as tables.
type WriterSink struct {
	w io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Write(_ context.Context, run Run) error {
	WriteTables(s.w, run.Summary)
	return nil
}

func (s *WriterSink) Close() error {
	return nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id    TEXT PRIMARY KEY,
	seed      INTEGER NOT NULL,
	backend   TEXT NOT NULL,
	sequences INTEGER NOT NULL,
	executed  INTEGER NOT NULL,
	failure   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS flow_stats (
	run_id    TEXT NOT NULL,
	flow      TEXT NOT NULL,
	executed  INTEGER NOT NULL,
	succeeded INTEGER NOT NULL,
	reverted  INTEGER NOT NULL,
	failed    INTEGER NOT NULL,
	mean_ns   INTEGER NOT NULL,
	p95_ns    INTEGER NOT NULL,
	PRIMARY KEY (run_id, flow)
);
CREATE TABLE IF NOT EXISTS invariant_stats (
	run_id    TEXT NOT NULL,
	invariant TEXT NOT NULL,
	checks    INTEGER NOT NULL,
	failures  INTEGER NOT NULL,
	mean_ns   INTEGER NOT NULL,
	PRIMARY KEY (run_id, invariant)
);
`

const (
	insertRun = `INSERT INTO runs (run_id, seed, backend, sequences, executed, failure)
VALUES (:run_id, :seed, :backend, :sequences, :executed, :failure)`
	insertFlow = `INSERT INTO flow_stats (run_id, flow, executed, succeeded, reverted, failed, mean_ns, p95_ns)
VALUES (:run_id, :flow, :executed, :succeeded, :reverted, :failed, :mean_ns, :p95_ns)`
	insertInvariant = `INSERT INTO invariant_stats (run_id, invariant, checks, failures, mean_ns)
VALUES (:run_id, :invariant, :checks, :failures, :mean_ns)`
	selectRuns = `SELECT run_id, seed, backend, sequences, executed, failure FROM runs ORDER BY rowid`
)

// RunRow is a stored run.
type RunRow struct {
	RunID     string `db:"run_id"`
	Seed      int64  `db:"seed"`
	Backend   string `db:"backend"`
	Sequences int    `db:"sequences"`
	Executed  int    `db:"executed"`
	Failure   string `db:"failure"`
}

type flowRow struct {
	RunID     string `db:"run_id"`
	Flow      string `db:"flow"`
	Executed  int    `db:"executed"`
	Succeeded int    `db:"succeeded"`
	Reverted  int    `db:"reverted"`
	Failed    int    `db:"failed"`
	MeanNs    int64  `db:"mean_ns"`
	P95Ns     int64  `db:"p95_ns"`
}

type invariantRow struct {
	RunID     string `db:"run_id"`
	Invariant string `db:"invariant"`
	Checks    int    `db:"checks"`
	Failures  int    `db:"failures"`
	MeanNs    int64  `db:"mean_ns"`
}

// SQLiteSink stores summaries in a sqlite3 database.
type SQLiteSink struct {
	db *sqlx.DB
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open connection to sqlite3 %s", path)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, errors.CombineErrors(errors.Wrap(err, "failed to create tables"), db.Close())
	}
	return NewSQLiteSink(db), nil
}

// NewSQLiteSink uses an open database with the schema in place.
func NewSQLiteSink(db *sqlx.DB) *SQLiteSink {
	return &SQLiteSink{db: db}
}

// Write inserts the run and its statistics in a single transaction.
func (s *SQLiteSink) Write(ctx context.Context, run Run) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "unable to begin a transaction")
	}
	defer func() {
		if err != nil {
			err = errors.CombineErrors(err, tx.Rollback())
		}
	}()

	id := run.ID.String()
	sum := run.Summary
	if _, err = tx.NamedExecContext(ctx, insertRun, RunRow{
		RunID:     id,
		Seed:      run.Seed,
		Backend:   run.Backend,
		Sequences: sum.Sequences,
		Executed:  sum.Executed,
		Failure:   sum.Failure,
	}); err != nil {
		return errors.Wrap(err, "cannot insert run")
	}
	for _, f := range sum.Flows {
		if _, err = tx.NamedExecContext(ctx, insertFlow, flowRow{
			RunID:     id,
			Flow:      f.Flow,
			Executed:  f.Executed,
			Succeeded: f.Succeeded,
			Reverted:  f.Reverted,
			Failed:    f.Failed,
			MeanNs:    f.Duration.Mean.Nanoseconds(),
			P95Ns:     f.Duration.P95.Nanoseconds(),
		}); err != nil {
			return errors.Wrapf(err, "cannot insert statistics of flow %s", f.Flow)
		}
	}
	for _, inv := range sum.Invariants {
		if _, err = tx.NamedExecContext(ctx, insertInvariant, invariantRow{
			RunID:     id,
			Invariant: inv.Invariant,
			Checks:    inv.Checks,
			Failures:  inv.Failures,
			MeanNs:    inv.Duration.Mean.Nanoseconds(),
		}); err != nil {
			return errors.Wrapf(err, "cannot insert statistics of invariant %s", inv.Invariant)
		}
	}
	return tx.Commit()
}

// Runs lists the stored runs in insertion order.
func (s *SQLiteSink) Runs(ctx context.Context) ([]RunRow, error) {
	var rows []RunRow
	if err := s.db.SelectContext(ctx, &rows, selectRuns); err != nil {
		return nil, errors.Wrap(err, "cannot list runs")
	}
	return rows, nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
