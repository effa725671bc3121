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

package corpus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/0xsoniclabs/lendfuzz/fuzz"
	"github.com/0xsoniclabs/lendfuzz/fuzz/record"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openCorpus(t *testing.T) *Corpus {
	t.Helper()
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, c.Close()) })
	return c
}

func failingLog(seed int64) *record.Log {
	log := record.NewLog(seed, "memory")
	log.Append(record.Record{Flow: "setPool", Draws: []string{"0", "0", "1", "5000000000000000000", "100"}, Outcome: record.OutcomeOK})
	log.Append(record.Record{Step: 1, Flow: "seizeLoan", Draws: []string{"0"}, Outcome: record.OutcomeFailed})
	return log
}

func TestCorpus_PutAndGet(t *testing.T) {
	c := openCorpus(t)
	log := failingLog(7)
	require.NoError(t, c.Put(Entry{Flow: "seizeLoan", Invariant: "outstandingLoans", Cause: "mismatch"}, log))

	entry, got, err := c.Get(log.RunID)
	require.NoError(t, err)
	assert.Equal(t, log.RunID, entry.RunID)
	assert.Equal(t, int64(7), entry.Seed)
	assert.Equal(t, "memory", entry.Backend)
	assert.Equal(t, "outstandingLoans", entry.Invariant)
	assert.Equal(t, 2, entry.Records)
	assert.False(t, entry.Added.IsZero())
	assert.Equal(t, log.Records, got.Records)
	assert.Equal(t, log.RunID, got.RunID)
}

func TestCorpus_PutReplacesEntry(t *testing.T) {
	c := openCorpus(t)
	log := failingLog(1)
	require.NoError(t, c.Put(Entry{Flow: "seizeLoan"}, log))
	require.NoError(t, c.Put(Entry{Flow: "repay"}, log))
	entries, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "repay", entries[0].Flow)
}

func TestCorpus_ListOrdersByAddition(t *testing.T) {
	c := openCorpus(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := range 3 {
		log := failingLog(int64(i))
		ids = append(ids, log.RunID)
		require.NoError(t, c.Put(Entry{Added: base.Add(time.Duration(3-i) * time.Hour)}, log))
	}
	entries, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ids[2], entries[0].RunID)
	assert.Equal(t, ids[1], entries[1].RunID)
	assert.Equal(t, ids[0], entries[2].RunID)
}

func TestCorpus_Delete(t *testing.T) {
	c := openCorpus(t)
	log := failingLog(1)
	require.NoError(t, c.Put(Entry{}, log))
	require.NoError(t, c.Delete(log.RunID))

	_, _, err := c.Get(log.RunID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, c.Delete(log.RunID), ErrNotFound)
}

func TestCorpus_RejectsNilLog(t *testing.T) {
	assert.Error(t, openCorpus(t).Put(Entry{}, nil))
}

func TestCorpus_ListHonorsCancellation(t *testing.T) {
	c := openCorpus(t)
	require.NoError(t, c.Put(Entry{}, failingLog(1)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEntryOf(t *testing.T) {
	entry := EntryOf(&fuzz.Failure{Flow: "refinance", Invariant: "tokenAccounting", Cause: errors.New("lender balance off")})
	assert.Equal(t, Entry{Flow: "refinance", Invariant: "tokenAccounting", Cause: "lender balance off"}, entry)
	assert.Empty(t, EntryOf(&fuzz.Failure{Flow: "repay"}).Cause)
}
