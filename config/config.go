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

// Package config assembles the configuration of a command from its flags and an
// optional campaign file.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/0xsoniclabs/lendfuzz/fuzz"
	"github.com/0xsoniclabs/lendfuzz/ledger/memory"
	"github.com/0xsoniclabs/lendfuzz/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
)

// Config of a command.
type Config struct {
	AppName     string
	CommandName string

	LogLevel string
	LogFile  string

	Campaign  string
	Sequences int
	Flows     int
	Seed      int64
	SeedSet   bool // false selects a time based seed
	Users     int
	Tokens    int
	Weights   map[string]uint
	Bounds    fuzz.Bounds
	Faults    []string
	NonStrict bool

	Backend        string
	RpcUrl         string
	LenderAddress  string
	TokenAddresses []string

	Record     string
	FailureLog string
	StatsDb    string
	WebAddr    string
	Corpus     string
	Output     string
	MaxTests   int
}

// NewConfig creates the configuration of the running command. Precedence is flags set
// on the command line, then the campaign file, then defaults.
func NewConfig(ctx *cli.Context) (*Config, error) {
	cfg := createConfigFromFlags(ctx)
	if cfg.Campaign != "" {
		campaign, err := LoadCampaign(cfg.Campaign)
		if err != nil {
			return nil, err
		}
		if err := campaign.apply(cfg); err != nil {
			return nil, err
		}
		overrideFromFlags(ctx, cfg)
	}
	weights, err := parseWeights(getFlagValue(ctx, WeightFlag).([]string))
	if err != nil {
		return nil, err
	}
	for name, w := range weights {
		if cfg.Weights == nil {
			cfg.Weights = make(map[string]uint)
		}
		cfg.Weights[name] = w
	}
	if !cfg.SeedSet {
		cfg.Seed = time.Now().UnixNano()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overrideFromFlags restores values given on the command line after a campaign was
// applied.
func overrideFromFlags(ctx *cli.Context, cfg *Config) {
	if isSet(ctx, SequencesFlag.Name) {
		cfg.Sequences = ctx.Int(SequencesFlag.Name)
	}
	if isSet(ctx, FlowsFlag.Name) {
		cfg.Flows = ctx.Int(FlowsFlag.Name)
	}
	if isSet(ctx, SeedFlag.Name) {
		cfg.Seed = ctx.Int64(SeedFlag.Name)
		cfg.SeedSet = true
	}
	if isSet(ctx, UsersFlag.Name) {
		cfg.Users = ctx.Int(UsersFlag.Name)
	}
	if isSet(ctx, TokensFlag.Name) {
		cfg.Tokens = ctx.Int(TokensFlag.Name)
	}
}

func isSet(ctx *cli.Context, name string) bool {
	for _, f := range ctx.Command.Flags {
		if f.Names()[0] == name {
			return ctx.IsSet(name)
		}
	}
	return false
}

func parseWeights(specs []string) (map[string]uint, error) {
	res := make(map[string]uint, len(specs))
	for _, spec := range specs {
		name, value, found := strings.Cut(spec, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("invalid weight %q, expected flow=N", spec)
		}
		w, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid weight %q; %v", spec, err)
		}
		res[strings.TrimSpace(name)] = uint(w)
	}
	return res, nil
}

var faultNames = map[string]func(*memory.Faults){
	"refinance-double-debit":   func(f *memory.Faults) { f.RefinanceDoubleDebit = true },
	"buyloan-caller-as-lender": func(f *memory.Faults) { f.BuyLoanCallerAsLender = true },
	"seize-keeps-outstanding":  func(f *memory.Faults) { f.SeizeKeepsOutstanding = true },
}

// MemoryFaults returns the enabled defects of the memory ledger.
func (cfg *Config) MemoryFaults() (memory.Faults, error) {
	var res memory.Faults
	for _, name := range cfg.Faults {
		enable, found := faultNames[name]
		if !found {
			return res, fmt.Errorf("unknown fault %q", name)
		}
		enable(&res)
	}
	return res, nil
}

func (cfg *Config) validate() error {
	if cfg.Sequences < 1 {
		return fmt.Errorf("--%s must be positive, got %d", SequencesFlag.Name, cfg.Sequences)
	}
	if cfg.Flows < 0 {
		return fmt.Errorf("--%s must not be negative, got %d", FlowsFlag.Name, cfg.Flows)
	}
	if cfg.Users < 1 || cfg.Tokens < 1 {
		return fmt.Errorf("need at least one user and one token, got %d users and %d tokens", cfg.Users, cfg.Tokens)
	}
	if _, err := cfg.MemoryFaults(); err != nil {
		return err
	}
	switch cfg.Backend {
	case "memory":
	case "rpc":
		if cfg.LenderAddress != "" && !common.IsHexAddress(cfg.LenderAddress) {
			return fmt.Errorf("invalid lender address %q", cfg.LenderAddress)
		}
		for _, addr := range cfg.TokenAddresses {
			if !common.IsHexAddress(addr) {
				return fmt.Errorf("invalid token address %q", addr)
			}
		}
	default:
		return fmt.Errorf("unknown backend %q, use \"memory\" or \"rpc\"", cfg.Backend)
	}
	return nil
}

// Fuzz returns the engine configuration.
func (cfg *Config) Fuzz() fuzz.Config {
	res := fuzz.DefaultConfig()
	res.Sequences = cfg.Sequences
	res.Flows = cfg.Flows
	res.Seed = cfg.Seed
	res.Users = cfg.Users
	res.Tokens = cfg.Tokens
	res.Weights = cfg.Weights
	res.Bounds = cfg.Bounds
	res.Strict = !cfg.NonStrict
	res.Backend = cfg.Backend
	return res
}

// Logger creates a logger for module honoring the configured level.
func (cfg *Config) Logger(module string) logger.Logger {
	return logger.NewLogger(cfg.LogLevel, module)
}
