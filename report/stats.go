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

// Package report collects statistics of fuzz runs and presents them as console tables,
// sqlite rows, prometheus metrics and a web view.
package report

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/0xsoniclabs/lendfuzz/fuzz"
	"github.com/0xsoniclabs/lendfuzz/fuzz/record"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type flowStats struct {
	outcomes  map[string]int
	durations []float64 // seconds
}

type invariantStats struct {
	checks    int
	failures  int
	durations []float64 // seconds
}

// Statistics aggregates the events of a run. It implements fuzz.Observer and may be
// summarized while the run is in progress.
type Statistics struct {
	mu          sync.Mutex
	sequences   int
	flows       map[string]*flowStats
	invariants  map[string]*invariantStats
	transitions map[string]map[string]int
	last        string
	failure     string
}

var _ fuzz.Observer = (*Statistics)(nil)

func NewStatistics() *Statistics {
	return &Statistics{
		flows:       make(map[string]*flowStats),
		invariants:  make(map[string]*invariantStats),
		transitions: make(map[string]map[string]int),
	}
}

// FromLog derives the statistics of a recorded run. Logs carry no durations.
func FromLog(log *record.Log) *Statistics {
	s := NewStatistics()
	for i, seq := range log.Sequences() {
		s.SequenceStarted(i)
		for _, r := range seq {
			s.add(r.Flow, r.Outcome, -1)
		}
	}
	if n := log.Len(); n > 0 && log.Records[n-1].Outcome == record.OutcomeFailed {
		s.failure = "flow " + log.Records[n-1].Flow + " failed"
	}
	return s
}

func (s *Statistics) SequenceStarted(int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences++
	s.last = ""
}

func (s *Statistics) FlowExecuted(ev fuzz.FlowEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(ev.Flow, ev.Outcome, ev.Duration)
}

func (s *Statistics) add(flow, outcome string, d time.Duration) {
	f, found := s.flows[flow]
	if !found {
		f = &flowStats{outcomes: make(map[string]int)}
		s.flows[flow] = f
	}
	f.outcomes[outcome]++
	if d >= 0 {
		f.durations = append(f.durations, d.Seconds())
	}
	if s.last != "" {
		row, found := s.transitions[s.last]
		if !found {
			row = make(map[string]int)
			s.transitions[s.last] = row
		}
		row[flow]++
	}
	s.last = flow
}

func (s *Statistics) InvariantChecked(name string, d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, found := s.invariants[name]
	if !found {
		inv = &invariantStats{}
		s.invariants[name] = inv
	}
	inv.checks++
	inv.durations = append(inv.durations, d.Seconds())
	if err != nil {
		inv.failures++
	}
}

func (s *Statistics) RunFinished(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failure = err.Error()
	}
}

// Durations summarizes a sample of durations.
type Durations struct {
	Mean, StdDev, P95 time.Duration
}

func summarizeDurations(sample []float64) Durations {
	if len(sample) == 0 {
		return Durations{}
	}
	sorted := append([]float64(nil), sample...)
	sort.Float64s(sorted)
	mean, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) == 1 {
		std = 0
	}
	p95 := stat.Quantile(0.95, stat.Empirical, sorted, nil)
	seconds := func(v float64) time.Duration { return time.Duration(math.Round(v * float64(time.Second))) }
	return Durations{Mean: seconds(mean), StdDev: seconds(std), P95: seconds(p95)}
}

// FlowSummary are the statistics of one flow.
type FlowSummary struct {
	Flow      string
	Executed  int
	Succeeded int
	Reverted  int
	Failed    int
	Outcomes  map[string]int // outcome to count
	Duration  Durations
}

// InvariantSummary are the statistics of one invariant.
type InvariantSummary struct {
	Invariant string
	Checks    int
	Failures  int
	Duration  Durations
}

// Matrix holds the empirical probabilities of one flow following another within a
// sequence. Rows without successors are zero.
type Matrix struct {
	Labels []string
	P      [][]float64
}

// Summary is a snapshot of the statistics.
type Summary struct {
	Sequences   int
	Executed    int
	Flows       []FlowSummary // by decreasing execution count
	Invariants  []InvariantSummary
	Transitions Matrix
	Failure     string // empty if the run passed
}

// Summary computes the current summary.
func (s *Statistics) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := Summary{Sequences: s.sequences, Failure: s.failure}
	for name, f := range s.flows {
		fs := FlowSummary{Flow: name, Outcomes: make(map[string]int), Duration: summarizeDurations(f.durations)}
		for outcome, n := range f.outcomes {
			fs.Outcomes[outcome] = n
			fs.Executed += n
			switch outcome {
			case record.OutcomeOK:
				fs.Succeeded += n
			case record.OutcomeFailed:
				fs.Failed += n
			default:
				fs.Reverted += n
			}
		}
		res.Executed += fs.Executed
		res.Flows = append(res.Flows, fs)
	}
	sort.Slice(res.Flows, func(i, j int) bool {
		if res.Flows[i].Executed != res.Flows[j].Executed {
			return res.Flows[i].Executed > res.Flows[j].Executed
		}
		return res.Flows[i].Flow < res.Flows[j].Flow
	})
	for name, inv := range s.invariants {
		res.Invariants = append(res.Invariants, InvariantSummary{
			Invariant: name,
			Checks:    inv.checks,
			Failures:  inv.failures,
			Duration:  summarizeDurations(inv.durations),
		})
	}
	sort.Slice(res.Invariants, func(i, j int) bool {
		return res.Invariants[i].Invariant < res.Invariants[j].Invariant
	})
	res.Transitions = s.transitionMatrix(res.Flows)
	return res
}

func (s *Statistics) transitionMatrix(flows []FlowSummary) Matrix {
	m := Matrix{Labels: make([]string, len(flows)), P: make([][]float64, len(flows))}
	index := make(map[string]int, len(flows))
	for i, f := range flows {
		m.Labels[i] = f.Flow
		index[f.Flow] = i
	}
	for i, from := range m.Labels {
		row := make([]float64, len(flows))
		for to, n := range s.transitions[from] {
			row[index[to]] = float64(n)
		}
		if sum := floats.Sum(row); sum > 0 {
			floats.Scale(1/sum, row)
		}
		m.P[i] = row
	}
	return m
}
