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

// Package fuzz implements a stateful, model based fuzzer for the lending protocol. The
// engine runs sequences of randomized flows against a ledger, predicts the outcome of
// every call from mirrored state, and checks protocol invariants after every flow.
// Every run produces a replay log that reproduces it exactly.
package fuzz

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/0xsoniclabs/lendfuzz/fuzz/record"
	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/0xsoniclabs/lendfuzz/logger"
	"github.com/cockroachdb/errors"
	"github.com/holiman/uint256"
)

// State of an engine.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Running
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var transitions = map[State][]State{
	Uninitialized: {Initializing},
	Initializing:  {Ready, Aborted},
	Ready:         {Running, Aborted},
	Running:       {Completed, Aborted},
}

// Config of a run.
type Config struct {
	Sequences    int             // independent sequences, each starting from a clean ledger
	Flows        int             // flows per sequence
	Seed         int64           // seed of the random source
	Users        int             // funded user accounts
	Tokens       int             // deployed test tokens
	OwnerFunding uint256.Int     // minted to the owner per token
	UserFunding  uint256.Int     // minted to each user per token
	Weights      map[string]uint // flow weights; unlisted flows weigh 1, zero disables
	Bounds       Bounds
	Replay       *record.Log // replays the log instead of drawing fresh randomness
	Strict       bool        // replayed outcomes must match the recorded ones
	Backend      string      // name of the ledger backend, stored in the log
}

// DefaultConfig returns the configuration of the original campaign.
func DefaultConfig() Config {
	owner, user := ledger.Ether, ledger.Ether
	owner.Mul(&owner, uint256.NewInt(1000))
	user.Mul(&user, uint256.NewInt(10))
	return Config{
		Sequences:    1,
		Flows:        40,
		Users:        4,
		Tokens:       2,
		OwnerFunding: owner,
		UserFunding:  user,
		Bounds:       DefaultBounds(),
		Strict:       true,
		Backend:      "memory",
	}
}

// FlowEvent describes an executed flow.
type FlowEvent struct {
	Sequence  int
	Step      int
	Flow      string
	Outcome   string
	Predicted ledger.KindSet
	Duration  time.Duration
}

// Observer receives the progress of a run.
type Observer interface {
	SequenceStarted(seq int)
	FlowExecuted(ev FlowEvent)
	InvariantChecked(name string, duration time.Duration, err error)
	RunFinished(err error)
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(log logger.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithInvariant adds an invariant checked after the built-in ones.
func WithInvariant(inv Invariant) Option {
	return func(e *Engine) { e.invariants = append(e.invariants, inv) }
}

// WithFlows replaces the flow library.
func WithFlows(flows []*Flow) Option {
	return func(e *Engine) { e.flows = flows }
}

// Engine runs a fuzz campaign against a ledger. An engine runs once.
type Engine struct {
	cfg        Config
	backend    ledger.Backend
	log        logger.Logger
	observers  []Observer
	flows      []*Flow
	byName     map[string]*Flow
	invariants []Invariant
	debt       *MonotonicDebt
	state      State
	rc         *RunContext
	snapshot   ledger.SnapshotID
	rec        *record.Log
}

func NewEngine(backend ledger.Backend, cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Sequences < 1 {
		return nil, fmt.Errorf("number of sequences must be positive, got %d", cfg.Sequences)
	}
	if cfg.Flows < 0 {
		return nil, fmt.Errorf("number of flows must not be negative, got %d", cfg.Flows)
	}
	if cfg.Users < 1 || cfg.Tokens < 1 {
		return nil, fmt.Errorf("need at least one user and one token, got %d users and %d tokens", cfg.Users, cfg.Tokens)
	}
	e := &Engine{
		cfg:     cfg,
		backend: backend,
		flows:   Flows(),
		debt:    NewMonotonicDebt(),
		byName:  make(map[string]*Flow),
	}
	e.invariants = append(Invariants(), Invariant(e.debt))
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.NewLogger("INFO", "Fuzz-Engine")
	}
	for _, f := range e.flows {
		e.byName[f.Name] = f
	}
	for name := range cfg.Weights {
		if _, found := e.byName[name]; !found {
			return nil, fmt.Errorf("weight for unknown flow %q", name)
		}
	}
	return e, nil
}

// State returns the current state of the engine.
func (e *Engine) State() State {
	return e.state
}

// RunContext returns the context flows operate on; nil before initialization.
func (e *Engine) RunContext() *RunContext {
	return e.rc
}

func (e *Engine) transition(to State) error {
	for _, allowed := range transitions[e.state] {
		if allowed == to {
			e.state = to
			return nil
		}
	}
	return errors.Newf("invalid engine transition from %v to %v", e.state, to)
}

func (e *Engine) weight(name string) uint {
	if w, found := e.cfg.Weights[name]; found {
		return w
	}
	return 1
}

// Run executes the campaign and returns its replay log. A failing flow or invariant
// aborts the run with a *Failure.
func (e *Engine) Run(ctx context.Context) (*record.Log, error) {
	if err := e.transition(Initializing); err != nil {
		return nil, err
	}
	e.rec = record.NewLog(e.cfg.Seed, e.cfg.Backend)
	if e.cfg.Replay != nil {
		e.rec.Seed = e.cfg.Replay.Seed
	}
	err := e.initialize(ctx)
	if err == nil {
		err = e.transition(Ready)
	}
	if err == nil {
		err = e.transition(Running)
	}
	if err == nil {
		if e.cfg.Replay != nil {
			err = e.replay(ctx)
		} else {
			err = e.explore(ctx)
		}
	}
	if err != nil {
		e.state = Aborted
		e.log.Errorf("run %v aborted: %v", e.rec.RunID, err)
	} else {
		e.state = Completed
		e.log.Noticef("run %v completed: %d flows executed", e.rec.RunID, e.rec.Len())
	}
	for _, o := range e.observers {
		o.RunFinished(err)
	}
	return e.rec, err
}

// initialize deploys the protocol and funds the accounts.
func (e *Engine) initialize(ctx context.Context) error {
	accounts, err := e.backend.Accounts(ctx)
	if err != nil {
		return errors.Wrap(err, "cannot list accounts")
	}
	if len(accounts) < e.cfg.Users+1 {
		return fmt.Errorf("ledger has %d accounts, need %d", len(accounts), e.cfg.Users+1)
	}
	owner, users := accounts[0], accounts[1:e.cfg.Users+1]
	lender, err := e.backend.DeployLender(ctx, owner)
	if err != nil {
		return errors.Wrap(err, "cannot deploy lender")
	}
	tokens := make([]ledger.Token, e.cfg.Tokens)
	for i := range tokens {
		if tokens[i], err = e.backend.DeployToken(ctx, owner, fmt.Sprintf("TKN%d", i)); err != nil {
			return errors.Wrapf(err, "cannot deploy token %d", i)
		}
		ownerOpts := ledger.CallOpts{From: owner}
		if err := tokens[i].Approve(ctx, ownerOpts, lender.Address(), ledger.MaxAmount); err != nil {
			return errors.Wrap(err, "cannot approve lender for owner")
		}
		if err := tokens[i].Mint(ctx, ownerOpts, owner, e.cfg.OwnerFunding); err != nil {
			return errors.Wrap(err, "cannot fund owner")
		}
		for _, user := range users {
			if err := tokens[i].Mint(ctx, ownerOpts, user, e.cfg.UserFunding); err != nil {
				return errors.Wrapf(err, "cannot fund user %v", user)
			}
		}
	}
	e.rc = NewRunContext(e.backend, lender, tokens, owner, users)
	e.rc.Bounds = e.cfg.Bounds
	if e.rc.Params, err = lender.Params(ctx); err != nil {
		return errors.Wrap(err, "cannot read protocol parameters")
	}
	e.rc.Bind()
	if e.snapshot, err = e.backend.Snapshot(ctx); err != nil {
		return errors.Wrap(err, "cannot snapshot initial state")
	}
	e.log.Infof("lender %v deployed by %v with %d tokens and %d users", lender.Address(), owner, len(tokens), len(users))
	return nil
}

// beginSequence resets the ledger and the mirrors to the initial state.
func (e *Engine) beginSequence(ctx context.Context, seq int) error {
	if seq > 0 {
		if err := e.backend.Revert(ctx, e.snapshot); err != nil {
			return errors.Wrap(err, "cannot revert to initial state")
		}
		var err error
		if e.snapshot, err = e.backend.Snapshot(ctx); err != nil {
			return errors.Wrap(err, "cannot snapshot initial state")
		}
	}
	e.rc.Reset()
	e.debt.Clear()
	e.log.Noticef("sequence %d started", seq)
	for _, o := range e.observers {
		o.SequenceStarted(seq)
	}
	return nil
}

// explore draws flows at random.
func (e *Engine) explore(ctx context.Context) error {
	rg := rand.New(rand.NewSource(e.cfg.Seed))
	e.rc.Source = NewRandomSource(rg)
	e.log.Noticef("using random seed %d", e.cfg.Seed)
	for seq := 0; seq < e.cfg.Sequences; seq++ {
		if err := e.beginSequence(ctx, seq); err != nil {
			return err
		}
		for step := 0; step < e.cfg.Flows; step++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			flow, err := e.selectFlow(rg)
			if err != nil {
				return &Failure{Sequence: seq, Step: step, Cause: err, Log: e.rec}
			}
			if _, err := e.execute(ctx, seq, step, flow); err != nil {
				return err
			}
		}
	}
	return nil
}

// selectFlow picks an eligible flow by weight.
func (e *Engine) selectFlow(rg *rand.Rand) (*Flow, error) {
	var (
		eligible []*Flow
		weights  []uint
	)
	for _, f := range e.flows {
		w := e.weight(f.Name)
		if w == 0 || !f.Precondition(e.rc) {
			continue
		}
		eligible = append(eligible, f)
		weights = append(weights, w)
	}
	if len(eligible) == 0 {
		return nil, ErrNoEligibleFlow
	}
	pmf, err := pmfOf(weights)
	if err != nil {
		return nil, err
	}
	return eligible[quantile(pmf, rg.Float64())], nil
}

// replay executes the flows of the configured log with their recorded draws.
func (e *Engine) replay(ctx context.Context) error {
	source := NewReplaySource()
	e.rc.Source = source
	e.log.Noticef("replaying run %v with %d flows", e.cfg.Replay.RunID, e.cfg.Replay.Len())
	for seq, records := range e.cfg.Replay.Sequences() {
		if err := e.beginSequence(ctx, seq); err != nil {
			return err
		}
		for step, r := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			diverged := func(format string, args ...any) error {
				cause := errors.Wrapf(ErrReplayDiverged, format, args...)
				e.log.Warningf("sequence %d, step %d: %v", seq, step, cause)
				return &Failure{Sequence: seq, Step: step, Flow: r.Flow, Cause: cause, Log: e.rec}
			}
			flow, found := e.byName[r.Flow]
			if !found {
				return diverged("unknown flow %q", r.Flow)
			}
			if !flow.Precondition(e.rc) {
				return diverged("precondition of %s does not hold", r.Flow)
			}
			source.Load(r.Draws)
			out, err := e.execute(ctx, seq, step, flow)
			if err != nil {
				return err
			}
			if n := source.Remaining(); n > 0 {
				return diverged("%s left %d recorded draws unused", r.Flow, n)
			}
			if e.cfg.Strict && out.String() != r.Outcome {
				return diverged("%s ended with %s, recorded %s", r.Flow, out, r.Outcome)
			}
		}
	}
	return nil
}

// execute runs flow and all invariants, and records the flow.
func (e *Engine) execute(ctx context.Context, seq, step int, flow *Flow) (Outcome, error) {
	start := time.Now()
	out, err := flow.Run(ctx, e.rc)
	if err == nil && !out.Reverted() {
		err = e.rc.sync(ctx, flow.Blast, out.Touched)
		if err == nil && flow.Check != nil {
			err = flow.Check(ctx, e.rc, out)
		}
		for id, debt := range out.DebtResets {
			e.debt.ResetDebt(id, debt)
		}
	}
	outcome := out.String()
	if err != nil {
		outcome = record.OutcomeFailed
	}
	e.rec.Append(record.Record{
		Sequence: seq,
		Step:     step,
		Flow:     flow.Name,
		Draws:    e.rc.Source.Take(),
		Args:     e.rc.takeArgs(),
		Outcome:  outcome,
	})
	ev := FlowEvent{
		Sequence:  seq,
		Step:      step,
		Flow:      flow.Name,
		Outcome:   outcome,
		Predicted: out.Predicted,
		Duration:  time.Since(start),
	}
	for _, o := range e.observers {
		o.FlowExecuted(ev)
	}
	if err != nil {
		return out, &Failure{Sequence: seq, Step: step, Flow: flow.Name, Predicted: out.Predicted, Cause: err, Log: e.rec}
	}
	e.log.Debugf("sequence %d, step %d: %s -> %s", seq, step, flow.Name, outcome)

	for _, inv := range e.invariants {
		start := time.Now()
		err := inv.Check(ctx, e.rc)
		for _, o := range e.observers {
			o.InvariantChecked(inv.Name(), time.Since(start), err)
		}
		if err != nil {
			return out, &Failure{Sequence: seq, Step: step, Flow: flow.Name, Invariant: inv.Name(), Predicted: out.Predicted, Cause: violation(err), Log: e.rec}
		}
	}
	return out, nil
}
