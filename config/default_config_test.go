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
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/urfave/cli/v2"
)

// newContext returns a context of a command accepting cmdFlags, with the values of set.
func newContext(cmdFlags []cli.Flag, set func(*flag.FlagSet)) *cli.Context {
	app := cli.NewApp()
	app.HelpName = "lendfuzz"
	app.Commands = []*cli.Command{{Name: "run", Flags: cmdFlags}}
	fs := flag.NewFlagSet("run", 0)
	if set != nil {
		set(fs)
	}
	ctx := cli.NewContext(app, fs, nil)
	ctx.Command = app.Commands[0]
	return ctx
}

func TestGetFlagValue(t *testing.T) {
	cmdFlags := []cli.Flag{&SequencesFlag, &SeedFlag, &BackendFlag, &RecordFlag, &NonStrictFlag, &WeightFlag}
	tests := map[string]struct {
		set      func(*flag.FlagSet)
		flag     interface{}
		expected interface{}
	}{
		"int given": {
			set:      func(fs *flag.FlagSet) { fs.Int(SequencesFlag.Name, 12, "") },
			flag:     SequencesFlag,
			expected: 12,
		},
		"int64 given": {
			set:      func(fs *flag.FlagSet) { fs.Int64(SeedFlag.Name, -3, "") },
			flag:     SeedFlag,
			expected: int64(-3),
		},
		"string given": {
			set:      func(fs *flag.FlagSet) { fs.String(BackendFlag.Name, "rpc", "") },
			flag:     BackendFlag,
			expected: "rpc",
		},
		"path given": {
			set:      func(fs *flag.FlagSet) { fs.String(RecordFlag.Name, "/tmp/run.json.zst", "") },
			flag:     RecordFlag,
			expected: "/tmp/run.json.zst",
		},
		"bool given": {
			set:      func(fs *flag.FlagSet) { fs.Bool(NonStrictFlag.Name, true, "") },
			flag:     NonStrictFlag,
			expected: true,
		},
		"string slice given": {
			set: func(fs *flag.FlagSet) {
				fs.Var(cli.NewStringSlice("borrow=3", "repay=0"), WeightFlag.Name, "")
			},
			flag:     WeightFlag,
			expected: []string{"borrow=3", "repay=0"},
		},
		"int of other command": {
			flag:     FlowsFlag,
			expected: 40,
		},
		"string of other command": {
			flag:     FailureLogFlag,
			expected: "lendfuzz-failure.json.gz",
		},
		"string slice of other command": {
			flag:     FaultFlag,
			expected: []string{},
		},
		"bool of other command": {
			flag:     cli.BoolFlag{Name: "unused"},
			expected: false,
		},
		"unsupported flag type": {
			flag:     cli.Float64Flag{Name: "ratio"},
			expected: nil,
		},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := newContext(cmdFlags, test.set)
			assert.Equal(t, test.expected, getFlagValue(ctx, test.flag))
		})
	}
}

func TestCreateConfigFromFlags_UsesFlagDefaults(t *testing.T) {
	ctx := newContext(nil, nil)
	cfg := createConfigFromFlags(ctx)
	assert.Equal(t, "lendfuzz", cfg.AppName)
	assert.Equal(t, "run", cfg.CommandName)
	assert.Equal(t, "memory", cfg.Backend)
	assert.Equal(t, 1, cfg.Sequences)
	assert.Equal(t, 40, cfg.Flows)
	assert.Equal(t, 4, cfg.Users)
	assert.Equal(t, 2, cfg.Tokens)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.False(t, cfg.SeedSet)
	assert.Empty(t, cfg.Faults)
	assert.Empty(t, cfg.TokenAddresses)
}
