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

// Package record defines the replay log of a fuzz run: the ordered list of executed
// flows with every random draw they consumed, and its (compressed) file format.
package record

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Version of the log format written by this package.
const Version = 1

// OutcomeOK marks a flow whose call succeeded as predicted. Other outcomes are the
// name of the expected revert kind or OutcomeFailed.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

var ErrUnsupportedVersion = errors.New("unsupported log version")

// Record is a single executed flow.
type Record struct {
	Sequence int               `json:"sequence"`
	Step     int               `json:"step"`
	Flow     string            `json:"flow"`
	Draws    []string          `json:"draws"`
	Args     map[string]string `json:"args,omitempty"`
	Outcome  string            `json:"outcome"`
}

// Log is the replay log of one run.
type Log struct {
	Version int       `json:"version"`
	RunID   uuid.UUID `json:"runId"`
	Seed    int64     `json:"seed"`
	Created time.Time `json:"created"`
	Backend string    `json:"backend"`
	Records []Record  `json:"records"`
}

// NewLog starts an empty log for a run with the given seed.
func NewLog(seed int64, backend string) *Log {
	return &Log{
		Version: Version,
		RunID:   uuid.New(),
		Seed:    seed,
		Created: time.Now().UTC(),
		Backend: backend,
	}
}

func (l *Log) Append(r Record) {
	l.Records = append(l.Records, r)
}

// Len returns the number of records.
func (l *Log) Len() int {
	return len(l.Records)
}

// WithRecords returns a copy of the log header holding recs.
func (l *Log) WithRecords(recs []Record) *Log {
	res := *l
	res.Records = append([]Record(nil), recs...)
	return &res
}

// Sequences groups the records by sequence, preserving order.
func (l *Log) Sequences() [][]Record {
	var res [][]Record
	for i, r := range l.Records {
		if i == 0 || r.Sequence != l.Records[i-1].Sequence {
			res = append(res, nil)
		}
		res[len(res)-1] = append(res[len(res)-1], r)
	}
	return res
}

// Renumber assigns consecutive sequence and step numbers, keeping sequence boundaries.
// Shrinking uses it after dropping records.
func (l *Log) Renumber() {
	seq, step, prev := -1, 0, 0
	for i := range l.Records {
		original := l.Records[i].Sequence
		if i == 0 || original != prev {
			seq++
			step = 0
		}
		prev = original
		l.Records[i].Sequence = seq
		l.Records[i].Step = step
		step++
	}
}

func (l *Log) validate() error {
	if l.Version != Version {
		return errors.Wrapf(ErrUnsupportedVersion, "got %d, want %d", l.Version, Version)
	}
	for i, r := range l.Records {
		if r.Flow == "" {
			return errors.Newf("record %d has no flow", i)
		}
		for _, d := range r.Draws {
			if _, err := DecodeDraw(d); err != nil {
				return errors.Wrapf(err, "record %d", i)
			}
		}
	}
	return nil
}

// EncodeDraw renders a draw as a decimal string.
func EncodeDraw(v uint256.Int) string {
	return v.Dec()
}

// DecodeDraw parses a decimal draw.
func DecodeDraw(s string) (uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, errors.Wrapf(err, "invalid draw %q", s)
	}
	return *v, nil
}
