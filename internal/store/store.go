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

import "context"

// Store is the document-store contract: an index on pid, an
// index on most_recent_event_timestamp (not modelled explicitly — the
// in-process implementation has no indexes to speak of), a find-by-argv
// query sorted by creation_time descending, and upsert by the
// "{creation_time}-{pid}" key.
type Store interface {
	// Upsert inserts or replaces rec under rec.Key.
	Upsert(ctx context.Context, rec Record) error

	// FindByPID returns every record ever persisted for pid, in
	// insertion order.
	FindByPID(ctx context.Context, pid int) ([]Record, error)

	// FindMostRecentByArgv returns the most recently created record
	// that has some phase whose argv equals argv exactly after
	// whitespace normalisation (collapse runs of whitespace, trim
	// ends) — a full-string match, not the trailing-character-stripped
	// comparison the original tool used (see Open Questions).
	FindMostRecentByArgv(ctx context.Context, argv string) (Record, bool, error)

	// All returns every persisted record, ordered by creation_time
	// ascending. The provenance-tree builder uses this for its
	// ppid/creation_time descent since ppid is not one of the indexed
	// fields the document-store contract names.
	All(ctx context.Context) ([]Record, error)

	// Close releases any resources the store holds.
	Close(ctx context.Context) error
}
