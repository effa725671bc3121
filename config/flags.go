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

import "github.com/urfave/cli/v2"

var (
	SequencesFlag = cli.IntFlag{
		Name:  "sequences",
		Usage: "number of flow sequences, each starting from a fresh ledger",
		Value: 1,
	}
	FlowsFlag = cli.IntFlag{
		Name:  "flows",
		Usage: "number of flows per sequence",
		Value: 40,
	}
	SeedFlag = cli.Int64Flag{
		Name:  "seed",
		Usage: "seed of the random source; a time based seed is used if not set",
	}
	UsersFlag = cli.IntFlag{
		Name:  "users",
		Usage: "number of funded user accounts",
		Value: 4,
	}
	TokensFlag = cli.IntFlag{
		Name:  "tokens",
		Usage: "number of deployed test tokens",
		Value: 2,
	}
	WeightFlag = cli.StringSliceFlag{
		Name:  "weight",
		Usage: "relative weight of a flow as flow=N; N=0 disables the flow",
	}
	CampaignFlag = cli.PathFlag{
		Name:  "campaign",
		Usage: "campaign file (.yaml, .yml or .toml) with sizes, weights and bounds; flags take precedence",
	}
	FaultFlag = cli.StringSliceFlag{
		Name:  "fault",
		Usage: "enable a protocol defect of the memory ledger (refinance-double-debit, buyloan-caller-as-lender, seize-keeps-outstanding)",
	}
	BackendFlag = cli.StringFlag{
		Name:  "backend",
		Usage: "ledger backend (\"memory\" or \"rpc\")",
		Value: "memory",
	}
	RpcUrlFlag = cli.StringFlag{
		Name:  "rpc-url",
		Usage: "url of the development node used by the rpc backend",
		Value: "http://127.0.0.1:8545",
	}
	LenderAddressFlag = cli.StringFlag{
		Name:  "lender",
		Usage: "address of the deployed lending protocol (rpc backend)",
	}
	TokenAddressFlag = cli.StringSliceFlag{
		Name:  "token",
		Usage: "address of a deployed test token, in order (rpc backend)",
	}
	NonStrictFlag = cli.BoolFlag{
		Name:  "non-strict",
		Usage: "do not compare replayed outcomes with the recorded ones",
	}
	RecordFlag = cli.PathFlag{
		Name:  "record",
		Usage: "write the replay log of a passing run to the given file (.gz and .zst are compressed)",
	}
	FailureLogFlag = cli.PathFlag{
		Name:  "failure-log",
		Usage: "file receiving the replay log of a failing run",
		Value: "lendfuzz-failure.json.gz",
	}
	StatsDbFlag = cli.PathFlag{
		Name:  "stats-db",
		Usage: "sqlite3 database receiving the run statistics",
	}
	WebAddrFlag = cli.StringFlag{
		Name:  "web",
		Usage: "serve statistics and metrics on the given address, e.g. localhost:8080",
	}
	CorpusFlag = cli.PathFlag{
		Name:  "corpus",
		Usage: "leveldb directory storing the replay logs of failing runs",
	}
	OutputFlag = cli.PathFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "output file",
	}
	MaxTestsFlag = cli.IntFlag{
		Name:  "max-tests",
		Usage: "upper bound of replayed candidates while shrinking, 0 is unbounded",
	}
)
