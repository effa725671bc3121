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

package fuzz

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/0xsoniclabs/lendfuzz/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestAtomically_MinesOneBlockAroundFn(t *testing.T) {
	ctrl := gomock.NewController(t)
	chain := ledger.NewMockChain(ctrl)
	ctx := context.Background()

	called := false
	gomock.InOrder(
		chain.EXPECT().SetAutomine(ctx, false),
		chain.EXPECT().Mine(ctx, uint64(0)),
		chain.EXPECT().SetAutomine(ctx, true),
	)
	err := Atomically(ctx, chain, func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestAtomically_RestoresAutomineOnFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	chain := ledger.NewMockChain(ctrl)
	ctx := context.Background()

	injected := errors.New("injected")
	gomock.InOrder(
		chain.EXPECT().SetAutomine(ctx, false),
		chain.EXPECT().Mine(ctx, uint64(0)).Return(errors.New("mining failed")),
		chain.EXPECT().SetAutomine(ctx, true),
	)
	err := Atomically(ctx, chain, func() error { return injected })
	require.Error(t, err)
	assert.ErrorIs(t, err, injected)
	assert.True(t, strings.Contains(err.Error(), "injected"))
}

func TestAtomically_DoesNotRunFnIfAutomineCannotBeSuspended(t *testing.T) {
	ctrl := gomock.NewController(t)
	chain := ledger.NewMockChain(ctrl)
	ctx := context.Background()

	chain.EXPECT().SetAutomine(ctx, false).Return(errors.New("not supported"))
	err := Atomically(ctx, chain, func() error {
		t.Fatal("fn must not be called")
		return nil
	})
	assert.Error(t, err)
}
