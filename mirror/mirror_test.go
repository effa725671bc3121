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

package mirror

import (
	"context"
	"maps"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Owner  string
	Amount uint64
}

type remoteStore map[int]entry

func (r remoteStore) fetch(_ context.Context, key int) (entry, error) {
	return r[key], nil
}

func newBound(remote remoteStore) *Mirror[int, entry] {
	m := New(WithName[int, entry]("entries"), WithVoid[int, entry](func(e entry) bool { return e.Amount == 0 }))
	m.Bind(remote.fetch)
	return m
}

func TestMirror_RemoteOperationsRequireBinding(t *testing.T) {
	m := New[int, entry]()
	ctx := context.Background()
	assert.ErrorIs(t, m.Update(ctx, 1), ErrNotBound)
	assert.ErrorIs(t, m.UpdateAll(ctx), ErrNotBound)
	assert.ErrorIs(t, m.AssertEqualsRemote(ctx), ErrNotBound)

	// local operations work without binding
	m.Set(1, entry{"a", 1})
	got, ok := m.Get(1)
	require.True(t, ok)
	assert.Equal(t, entry{"a", 1}, got)
}

func TestMirror_KeysKeepInsertionOrder(t *testing.T) {
	m := New[int, entry]()
	for _, k := range []int{5, 3, 9, 1} {
		m.Set(k, entry{Amount: uint64(k)})
	}
	m.Set(3, entry{Amount: 33})
	assert.Equal(t, []int{5, 3, 9, 1}, m.Keys())

	m.DeleteKey(9)
	assert.Equal(t, []int{5, 3, 1}, m.Keys())
	assert.Equal(t, 3, m.Len())

	m.Set(9, entry{Amount: 9})
	assert.Equal(t, []int{5, 3, 1, 9}, m.Keys())
}

func TestMirror_InsertKeyIsStaleUntilRefreshed(t *testing.T) {
	remote := remoteStore{7: {"x", 70}}
	m := newBound(remote)
	ctx := context.Background()

	m.InsertKey(7)
	assert.True(t, m.Contains(7))
	_, ok := m.Get(7)
	assert.False(t, ok)

	err := m.AssertEqualsRemote(ctx)
	var divergence *DivergenceError
	require.ErrorAs(t, err, &divergence)
	assert.Contains(t, divergence.Reason, "never refreshed")

	require.NoError(t, m.Update(ctx, 7))
	got, ok := m.Get(7)
	require.True(t, ok)
	assert.Equal(t, entry{"x", 70}, got)
	assert.NoError(t, m.AssertEqualsRemote(ctx))
}

func TestMirror_UpdateDeletesVoidEntries(t *testing.T) {
	remote := remoteStore{1: {"a", 10}, 2: {"b", 20}}
	m := newBound(remote)
	ctx := context.Background()
	m.Set(1, entry{"a", 10})
	m.Set(2, entry{"b", 20})

	delete(remote, 1)
	require.NoError(t, m.UpdateAll(ctx))
	assert.False(t, m.Contains(1))
	assert.Equal(t, []int{2}, m.Keys())
	assert.NoError(t, m.AssertEqualsRemote(ctx))
}

func TestMirror_AssertEqualsRemoteReportsDiff(t *testing.T) {
	remote := remoteStore{1: {"a", 10}}
	m := newBound(remote)
	m.Set(1, entry{"a", 11})

	err := m.AssertEqualsRemote(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDivergence))

	var divergence *DivergenceError
	require.ErrorAs(t, err, &divergence)
	assert.Equal(t, "entries", divergence.Mirror)
	assert.Equal(t, "1", divergence.Key)
	assert.Contains(t, divergence.Diff, "Amount")
}

func TestMirror_DeletedKeysMustBeVoidRemotely(t *testing.T) {
	remote := remoteStore{4: {"d", 40}}
	m := newBound(remote)
	ctx := context.Background()
	m.Set(4, entry{"d", 40})
	m.DeleteKey(4)

	err := m.AssertEqualsRemote(ctx)
	var divergence *DivergenceError
	require.ErrorAs(t, err, &divergence)
	assert.Contains(t, divergence.Reason, "was deleted")

	delete(remote, 4)
	assert.NoError(t, m.AssertEqualsRemote(ctx))
}

func TestMirror_FilterIsLazyAndRestartable(t *testing.T) {
	m := New[int, entry]()
	for i := 1; i <= 5; i++ {
		m.Set(i, entry{Amount: uint64(i * 10)})
	}
	m.InsertKey(6)

	calls := 0
	seq := m.Filter(func(_ int, e entry) bool {
		calls++
		return e.Amount >= 30
	})
	assert.Zero(t, calls)

	first := maps.Collect(seq)
	second := maps.Collect(seq)
	assert.Equal(t, first, second)
	assert.Equal(t, map[int]entry{3: {Amount: 30}, 4: {Amount: 40}, 5: {Amount: 50}}, first)

	// early termination stops evaluating the predicate
	calls = 0
	for k := range seq {
		assert.Equal(t, 3, k)
		break
	}
	assert.Equal(t, 3, calls)

	// filtering has no side effects
	assert.Equal(t, 6, m.Len())
}

func TestMirror_Reset(t *testing.T) {
	remote := remoteStore{}
	m := newBound(remote)
	m.Set(1, entry{"a", 1})
	m.DeleteKey(1)
	m.Set(2, entry{"b", 2})

	m.Reset()
	assert.Zero(t, m.Len())
	assert.NoError(t, m.AssertEqualsRemote(context.Background()))
}
