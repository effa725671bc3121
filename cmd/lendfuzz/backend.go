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
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/0xsoniclabs/lendfuzz/config"
	"github.com/0xsoniclabs/lendfuzz/fuzz"
	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/0xsoniclabs/lendfuzz/ledger/memory"
	"github.com/0xsoniclabs/lendfuzz/ledger/rpc"
	"github.com/0xsoniclabs/lendfuzz/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
)

// ledgerFlags select and configure the ledger backend.
var ledgerFlags = []cli.Flag{
	&config.BackendFlag,
	&config.RpcUrlFlag,
	&config.LenderAddressFlag,
	&config.TokenAddressFlag,
	&config.FaultFlag,
	&config.UsersFlag,
	&config.TokensFlag,
}

var commonFlags = []cli.Flag{
	&logger.LogLevelFlag,
	&logger.LogFileFlag,
}

func flags(groups ...[]cli.Flag) []cli.Flag {
	var res []cli.Flag
	for _, g := range groups {
		res = append(res, g...)
	}
	return res
}

// backendFactory creates a fresh ledger per call.
type backendFactory func(ctx context.Context) (ledger.Backend, func(), error)

func newBackendFactory(cfg *config.Config) (backendFactory, error) {
	switch cfg.Backend {
	case "memory":
		faults, err := cfg.MemoryFaults()
		if err != nil {
			return nil, err
		}
		return func(context.Context) (ledger.Backend, func(), error) {
			return memory.NewChain(memory.WithAccounts(cfg.Users+1), memory.WithFaults(faults)), func() {}, nil
		}, nil
	case "rpc":
		opts := []rpc.Option{rpc.WithLogger(cfg.Logger("Ledger-RPC"))}
		if cfg.LenderAddress != "" {
			opts = append(opts, rpc.WithLender(common.HexToAddress(cfg.LenderAddress)))
		}
		for _, addr := range cfg.TokenAddresses {
			opts = append(opts, rpc.WithTokens(common.HexToAddress(addr)))
		}
		return func(ctx context.Context) (ledger.Backend, func(), error) {
			client, err := rpc.Dial(ctx, cfg.RpcUrl, opts...)
			if err != nil {
				return nil, nil, err
			}
			return client, client.Close, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// prepare builds the configuration of a command and attaches the log file.
func prepare(ctx *cli.Context) (*config.Config, io.Closer, error) {
	cfg, err := config.NewConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.AttachFile(cfg.LogFile), nil
}

// signalContext is cancelled on interrupt.
func signalContext(ctx *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
}

func engineOptions(cfg *config.Config, extra ...fuzz.Option) []fuzz.Option {
	return append([]fuzz.Option{fuzz.WithLogger(cfg.Logger("Fuzz-Engine"))}, extra...)
}
