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

package config

import (
	"github.com/0xsoniclabs/lendfuzz/fuzz"
	"github.com/0xsoniclabs/lendfuzz/logger"
	"github.com/urfave/cli/v2"
)

// createConfigFromFlags returns Config instance with user specified values or the default ones
func createConfigFromFlags(ctx *cli.Context) *Config {
	cfg := &Config{
		AppName:     ctx.App.HelpName,
		CommandName: ctx.Command.Name,

		Backend:        getFlagValue(ctx, BackendFlag).(string),
		Campaign:       getFlagValue(ctx, CampaignFlag).(string),
		Corpus:         getFlagValue(ctx, CorpusFlag).(string),
		FailureLog:     getFlagValue(ctx, FailureLogFlag).(string),
		Faults:         getFlagValue(ctx, FaultFlag).([]string),
		Flows:          getFlagValue(ctx, FlowsFlag).(int),
		LenderAddress:  getFlagValue(ctx, LenderAddressFlag).(string),
		LogFile:        getFlagValue(ctx, logger.LogFileFlag).(string),
		LogLevel:       getFlagValue(ctx, logger.LogLevelFlag).(string),
		MaxTests:       getFlagValue(ctx, MaxTestsFlag).(int),
		NonStrict:      getFlagValue(ctx, NonStrictFlag).(bool),
		Output:         getFlagValue(ctx, OutputFlag).(string),
		Record:         getFlagValue(ctx, RecordFlag).(string),
		RpcUrl:         getFlagValue(ctx, RpcUrlFlag).(string),
		Seed:           getFlagValue(ctx, SeedFlag).(int64),
		SeedSet:        isSet(ctx, SeedFlag.Name),
		Sequences:      getFlagValue(ctx, SequencesFlag).(int),
		StatsDb:        getFlagValue(ctx, StatsDbFlag).(string),
		TokenAddresses: getFlagValue(ctx, TokenAddressFlag).([]string),
		Tokens:         getFlagValue(ctx, TokensFlag).(int),
		Users:          getFlagValue(ctx, UsersFlag).(int),
		WebAddr:        getFlagValue(ctx, WebAddrFlag).(string),
		Bounds:         fuzz.DefaultBounds(),
	}

	return cfg
}

// getFlagValue returns value specified by user if flag is present in cli context, otherwise return default flag value
func getFlagValue(ctx *cli.Context, flag interface{}) interface{} {
	cmdFlags := ctx.Command.Flags
	for _, cmdFlag := range cmdFlags {
		switch f := flag.(type) {
		case cli.IntFlag:
			if cmdFlag.Names()[0] == f.Name {
				return ctx.Int(f.Name)
			}

		case cli.Int64Flag:
			if cmdFlag.Names()[0] == f.Name {
				return ctx.Int64(f.Name)
			}

		case cli.StringFlag:
			if cmdFlag.Names()[0] == f.Name {
				return ctx.String(f.Name)
			}

		case cli.PathFlag:
			if cmdFlag.Names()[0] == f.Name {
				return ctx.Path(f.Name)
			}

		case cli.BoolFlag:
			if cmdFlag.Names()[0] == f.Name {
				return ctx.Bool(f.Name)
			}

		case cli.StringSliceFlag:
			if cmdFlag.Names()[0] == f.Name {
				return ctx.StringSlice(f.Name)
			}
		}
	}

	// If flag not found, return the default value of the flag
	switch f := flag.(type) {
	case cli.IntFlag:
		return f.Value
	case cli.Int64Flag:
		return f.Value
	case cli.StringFlag:
		return f.Value
	case cli.PathFlag:
		return f.Value
	case cli.BoolFlag:
		return f.Value
	case cli.StringSliceFlag:
		if f.Value == nil {
			return []string{}
		}
		return f.Value.Value()
	}

	return nil
}
