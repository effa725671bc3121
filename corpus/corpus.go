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

// Package corpus stores the replay logs of failing runs in a LevelDB database.
package corpus

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/0xsoniclabs/lendfuzz/fuzz"
	"github.com/0xsoniclabs/lendfuzz/fuzz/record"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	entryPrefix = "e:"
	logPrefix   = "l:"
)

var ErrNotFound = errors.New("corpus: entry not found")

// Entry describes a stored failure.
type Entry struct {
	RunID     uuid.UUID `json:"runId"`
	Seed      int64     `json:"seed"`
	Backend   string    `json:"backend"`
	Flow      string    `json:"flow"`
	Invariant string    `json:"invariant,omitempty"`
	Cause     string    `json:"cause"`
	Records   int       `json:"records"`
	Added     time.Time `json:"added"`
}

// EntryOf describes a failure aborting a run.
func EntryOf(f *fuzz.Failure) Entry {
	entry := Entry{Flow: f.Flow, Invariant: f.Invariant}
	if f.Cause != nil {
		entry.Cause = f.Cause.Error()
	}
	return entry
}

// Corpus is a LevelDB backed collection of failing replay logs keyed by run id.
type Corpus struct {
	db *leveldb.DB
}

// Open opens or creates the corpus in directory path.
func Open(path string) (*Corpus, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open corpus %s", path)
	}
	return &Corpus{db: db}, nil
}

func (c *Corpus) Close() error {
	return c.db.Close()
}

// Put stores log under its run id, replacing an existing entry. The entry's RunID,
// Seed, Backend and Records fields are taken from log.
func (c *Corpus) Put(entry Entry, log *record.Log) error {
	if log == nil {
		return errors.New("corpus: log must not be nil")
	}
	entry.RunID = log.RunID
	entry.Seed = log.Seed
	entry.Backend = log.Backend
	entry.Records = log.Len()
	if entry.Added.IsZero() {
		entry.Added = time.Now().UTC()
	}
	meta, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "cannot encode corpus entry")
	}
	var buf bytes.Buffer
	if err := record.Encode(&buf, record.Zstd, log); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(key(entryPrefix, log.RunID), meta)
	batch.Put(key(logPrefix, log.RunID), buf.Bytes())
	return errors.Wrap(c.db.Write(batch, nil), "cannot write corpus entry")
}

// Get loads the entry and log of a run.
func (c *Corpus) Get(id uuid.UUID) (Entry, *record.Log, error) {
	entry, err := c.entry(id)
	if err != nil {
		return Entry{}, nil, err
	}
	data, err := c.db.Get(key(logPrefix, id), nil)
	if err != nil {
		return Entry{}, nil, c.notFound(err, id)
	}
	log, err := record.Decode(bytes.NewReader(data), record.Zstd)
	if err != nil {
		return Entry{}, nil, errors.Wrapf(err, "corrupted log of run %s", id)
	}
	return entry, log, nil
}

func (c *Corpus) entry(id uuid.UUID) (Entry, error) {
	var entry Entry
	data, err := c.db.Get(key(entryPrefix, id), nil)
	if err != nil {
		return entry, c.notFound(err, id)
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return entry, errors.Wrapf(err, "corrupted entry of run %s", id)
	}
	return entry, nil
}

// Delete removes a run. Deleting a missing run fails with ErrNotFound.
func (c *Corpus) Delete(id uuid.UUID) error {
	if _, err := c.entry(id); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Delete(key(entryPrefix, id))
	batch.Delete(key(logPrefix, id))
	return errors.Wrap(c.db.Write(batch, nil), "cannot delete corpus entry")
}

// List returns all entries ordered by the time they were added.
func (c *Corpus) List(ctx context.Context) ([]Entry, error) {
	iter := c.db.NewIterator(util.BytesPrefix([]byte(entryPrefix)), nil)
	defer iter.Release()
	var entries []Entry
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var entry Entry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			return nil, errors.Wrapf(err, "corrupted entry %x", iter.Key())
		}
		entries = append(entries, entry)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "cannot iterate corpus")
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Added.Before(entries[j].Added)
	})
	return entries, nil
}

func (c *Corpus) notFound(err error, id uuid.UUID) error {
	if errors.Is(err, leveldb.ErrNotFound) {
		return errors.Wrapf(ErrNotFound, "run %s", id)
	}
	return errors.Wrapf(err, "cannot read run %s", id)
}

func key(prefix string, id uuid.UUID) []byte {
	return append([]byte(prefix), id[:]...)
}
