/*
 * Copyright (C) 2024 The reprogo authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-process Store used whenever no external document
// store collaborator is configured. It keeps every record in memory for
// the lifetime of one pack invocation — enough to be the buffer between
// the ingestor and the provenance-tree builder within a single run.
type MemStore struct {
	mu      sync.Mutex
	byKey   map[string]Record
	order   []string
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{byKey: make(map[string]Record)}
}

// Upsert implements Store.
func (m *MemStore) Upsert(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byKey[rec.Key]; !exists {
		m.order = append(m.order, rec.Key)
	}
	m.byKey[rec.Key] = rec
	return nil
}

// FindByPID implements Store.
func (m *MemStore) FindByPID(_ context.Context, pid int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, key := range m.order {
		rec := m.byKey[key]
		if rec.PID == pid {
			out = append(out, rec)
		}
	}
	return out, nil
}

// FindMostRecentByArgv implements Store.
func (m *MemStore) FindMostRecentByArgv(_ context.Context, argv string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := normalizeWhitespace(argv)

	var candidates []Record
	for _, key := range m.order {
		rec := m.byKey[key]
		for _, ph := range rec.Phases {
			if normalizeWhitespace(ph.ExecveArgv) == target {
				candidates = append(candidates, rec)
				break
			}
		}
	}
	if len(candidates) == 0 {
		return Record{}, false, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreationTime.After(candidates[j].CreationTime)
	})
	return candidates[0], true, nil
}

// All implements Store.
func (m *MemStore) All(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.byKey[key])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreationTime.Before(out[j].CreationTime) })
	return out, nil
}

// Close implements Store.
func (m *MemStore) Close(context.Context) error { return nil }

// normalizeWhitespace collapses runs of whitespace into a single space
// and trims the ends, resolving the Open Question about how the argv
// query should compare strings: full match, not the one-character strip
// the original tool applied.
func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
