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

// Package mirror keeps a local copy of remotely stored entities keyed by id.
//
// A Mirror never talks to the remote side implicitly. Local reads and writes only touch
// the cache; Update, UpdateAll and AssertEqualsRemote go through the bound fetch
// function. Keys are kept in insertion order so that iteration, and therefore every
// random choice derived from it, is deterministic.
package mirror

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
)

var (
	// ErrNotBound is returned by remote operations of a mirror without fetch function.
	ErrNotBound = errors.New("mirror: no fetch function bound")
	// ErrDivergence marks a local value that differs from the remote one.
	ErrDivergence = errors.New("mirror: local state diverged from remote")
)

// FetchFunc reads the current remote value of key.
type FetchFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// DivergenceError describes the first key whose local value differs from the remote.
type DivergenceError struct {
	Mirror string
	Key    string
	Reason string
	Diff   string // go-cmp diff, -local +remote
}

func (e *DivergenceError) Error() string {
	if e.Diff == "" {
		return fmt.Sprintf("mirror %s: key %s %s", e.Mirror, e.Key, e.Reason)
	}
	return fmt.Sprintf("mirror %s: key %s %s (-local +remote):\n%s", e.Mirror, e.Key, e.Reason, e.Diff)
}

func (e *DivergenceError) Unwrap() error {
	return ErrDivergence
}

// Mirror is a local, insertion ordered copy of a remote mapping K -> V.
type Mirror[K comparable, V comparable] struct {
	name    string
	fetch   FetchFunc[K, V]
	void    func(V) bool
	keys    []K
	values  map[K]V
	stale   map[K]struct{}
	deleted map[K]struct{}
}

// Option configures a Mirror.
type Option[K comparable, V comparable] func(*Mirror[K, V])

// WithName sets the name used in divergence reports.
func WithName[K comparable, V comparable](name string) Option[K, V] {
	return func(m *Mirror[K, V]) {
		m.name = name
	}
}

// WithVoid declares which remote values mean "no entity". Refreshing a key to a void
// value removes it, and deleted keys must be void remotely.
func WithVoid[K comparable, V comparable](void func(V) bool) Option[K, V] {
	return func(m *Mirror[K, V]) {
		m.void = void
	}
}

// New creates an empty, unbound mirror.
func New[K comparable, V comparable](opts ...Option[K, V]) *Mirror[K, V] {
	m := &Mirror[K, V]{
		name:    "mirror",
		values:  make(map[K]V),
		stale:   make(map[K]struct{}),
		deleted: make(map[K]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.void == nil {
		m.void = func(v V) bool {
			var zero V
			return v == zero
		}
	}
	return m
}

// Bind attaches the remote fetch function. It must be called before any remote operation.
func (m *Mirror[K, V]) Bind(fetch FetchFunc[K, V]) {
	m.fetch = fetch
}

// Reset forgets all keys and tombstones but keeps the binding.
func (m *Mirror[K, V]) Reset() {
	m.keys = nil
	clear(m.values)
	clear(m.stale)
	clear(m.deleted)
}

// Len returns the number of tracked keys.
func (m *Mirror[K, V]) Len() int {
	return len(m.keys)
}

// Keys returns the tracked keys in insertion order.
func (m *Mirror[K, V]) Keys() []K {
	return slices.Clone(m.keys)
}

// Contains reports whether key is tracked.
func (m *Mirror[K, V]) Contains(key K) bool {
	_, found := m.values[key]
	return found
}

// Get returns the local value of key. The result is false for unknown keys and for keys
// that were inserted but not refreshed yet.
func (m *Mirror[K, V]) Get(key K) (V, bool) {
	v, found := m.values[key]
	if !found {
		return v, false
	}
	if _, stale := m.stale[key]; stale {
		var zero V
		return zero, false
	}
	return v, true
}

// Set writes the local value of key, tracking it if needed.
func (m *Mirror[K, V]) Set(key K, value V) {
	m.track(key)
	m.values[key] = value
	delete(m.stale, key)
}

// InsertKey tracks a key discovered remotely. Its value is unknown until refreshed.
func (m *Mirror[K, V]) InsertKey(key K) {
	if m.Contains(key) {
		return
	}
	m.track(key)
	var zero V
	m.values[key] = zero
	m.stale[key] = struct{}{}
}

// DeleteKey stops tracking key and remembers that the remote entity is gone.
func (m *Mirror[K, V]) DeleteKey(key K) {
	if !m.Contains(key) {
		return
	}
	delete(m.values, key)
	delete(m.stale, key)
	m.keys = slices.DeleteFunc(m.keys, func(k K) bool { return k == key })
	m.deleted[key] = struct{}{}
}

func (m *Mirror[K, V]) track(key K) {
	if _, found := m.values[key]; !found {
		m.keys = append(m.keys, key)
	}
	delete(m.deleted, key)
}

// All iterates over all refreshed entries in insertion order.
func (m *Mirror[K, V]) All() iter.Seq2[K, V] {
	return m.Filter(func(K, V) bool { return true })
}

// Filter lazily yields the refreshed entries matching pred, in insertion order. The
// sequence may be iterated any number of times and does not modify the mirror; it must
// not be iterated while the mirror is being modified.
func (m *Mirror[K, V]) Filter(pred func(K, V) bool) iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for _, k := range m.keys {
			v, ok := m.Get(k)
			if !ok || !pred(k, v) {
				continue
			}
			if !yield(k, v) {
				return
			}
		}
	}
}

// Update refreshes key from remote. A void remote value deletes the key.
func (m *Mirror[K, V]) Update(ctx context.Context, key K) error {
	if m.fetch == nil {
		return ErrNotBound
	}
	v, err := m.fetch(ctx, key)
	if err != nil {
		return errors.Wrapf(err, "mirror %s: cannot fetch %v", m.name, key)
	}
	if m.void(v) {
		if m.Contains(key) {
			m.DeleteKey(key)
		} else {
			m.deleted[key] = struct{}{}
		}
		return nil
	}
	m.Set(key, v)
	return nil
}

// UpdateAll refreshes every tracked key.
func (m *Mirror[K, V]) UpdateAll(ctx context.Context) error {
	if m.fetch == nil {
		return ErrNotBound
	}
	for _, k := range m.Keys() {
		if err := m.Update(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

// AssertEqualsRemote compares every tracked key with its remote value and every
// deleted key with the void value. The first mismatch is returned as a *DivergenceError.
func (m *Mirror[K, V]) AssertEqualsRemote(ctx context.Context) error {
	if m.fetch == nil {
		return ErrNotBound
	}
	for _, k := range m.keys {
		if _, stale := m.stale[k]; stale {
			return &DivergenceError{Mirror: m.name, Key: fmt.Sprint(k), Reason: "was inserted but never refreshed"}
		}
		remote, err := m.fetch(ctx, k)
		if err != nil {
			return errors.Wrapf(err, "mirror %s: cannot fetch %v", m.name, k)
		}
		local := m.values[k]
		if local != remote {
			return &DivergenceError{
				Mirror: m.name,
				Key:    fmt.Sprint(k),
				Reason: "differs from remote",
				Diff:   cmp.Diff(local, remote),
			}
		}
	}
	for _, k := range sortedKeys(m.deleted) {
		remote, err := m.fetch(ctx, k)
		if err != nil {
			return errors.Wrapf(err, "mirror %s: cannot fetch %v", m.name, k)
		}
		if !m.void(remote) {
			return &DivergenceError{Mirror: m.name, Key: fmt.Sprint(k), Reason: fmt.Sprintf("was deleted but remote holds %v", remote)}
		}
	}
	return nil
}

// sortedKeys orders tombstones by their printed form so reports are reproducible.
func sortedKeys[K comparable](set map[K]struct{}) []K {
	res := make([]K, 0, len(set))
	for k := range set {
		res = append(res, k)
	}
	slices.SortFunc(res, func(a, b K) int {
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	})
	return res
}
