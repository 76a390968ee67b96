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

// Package process maintains per-pid process and phase state folded from
// trace.Events, and exposes serialisable snapshots for persistence.
package process

import (
	"log"
	"sort"
	"strings"
	"time"

	"github.com/anonymouse64/reprogo/internal/reprogoconfig"
)

// Rename records a single RENAME syscall observed within a phase.
type Rename struct {
	Time time.Time
	Old  string
	New  string
}

// Phase is the span of a process between one execve and the next (or
// between creation and first execve, or between last execve and exit).
type Phase struct {
	StartTime time.Time

	ProcessName    string
	ExecveFilename string
	ExecvePWD      string
	ExecveArgv     string
	ExecveEnv      map[string]string

	FilesRead    map[string][]time.Time
	FilesWritten map[string][]time.Time
	Dirs         map[string][]time.Time
	FilesRenamed []Rename
	Symlinks     map[string]string

	nameChanges int
}

// NewPhase returns an empty Phase starting at t.
func NewPhase(t time.Time) *Phase {
	return &Phase{
		StartTime:    t,
		FilesRead:    make(map[string][]time.Time),
		FilesWritten: make(map[string][]time.Time),
		Dirs:         make(map[string][]time.Time),
		Symlinks:     make(map[string]string),
	}
}

// IsEmpty reports whether this phase recorded nothing: no process name,
// no file/dir access, no renames. Empty phases are dropped when a
// process is serialised.
func (p *Phase) IsEmpty() bool {
	return p.ProcessName == "" &&
		len(p.FilesRead) == 0 &&
		len(p.FilesWritten) == 0 &&
		len(p.Dirs) == 0 &&
		len(p.FilesRenamed) == 0
}

// setProcessName applies the "updated at most once" rule from the data
// model: the first observed name is free, one further change is allowed,
// and any change beyond that is logged and ignored.
func (p *Phase) setProcessName(name string) {
	if name == "" || name == p.ProcessName {
		return
	}
	if p.ProcessName == "" {
		p.ProcessName = name
		return
	}
	if p.nameChanges == 0 {
		log.Printf("process name changed from %q to %q", p.ProcessName, name)
		p.ProcessName = name
		p.nameChanges++
		return
	}
	log.Printf("ignoring further process name change from %q to %q", p.ProcessName, name)
}

// recordAccess appends t to m[path], applying the coalesce/out-of-order
// rules from the data model, unless path is under an ignored prefix.
func recordAccess(m map[string][]time.Time, path string, t time.Time, window time.Duration) {
	if reprogoconfig.IsIgnoredPath(path) {
		return
	}
	m[path] = addTimestamp(m[path], t, window)
}

// addTimestamp folds t into an already-processed timestamp list: an
// out-of-order arrival is inserted and the list re-sorted (with a
// warning); a near-duplicate within window of the latest entry is
// discarded; anything else is appended.
func addTimestamp(list []time.Time, t time.Time, window time.Duration) []time.Time {
	if len(list) == 0 {
		return []time.Time{t}
	}
	last := list[len(list)-1]
	switch {
	case t.Before(last):
		log.Printf("out of order timestamp %v before %v, sorting", t, last)
		list = append(list, t)
		sort.Slice(list, func(i, j int) bool { return list[i].Before(list[j]) })
		return list
	case t.Sub(last) < window:
		return list
	default:
		return append(list, t)
	}
}

// parseEnvBlob splits an EXECVE env payload (";"-separated k=v pairs,
// matching the --env CLI flag format) into a map.
func parseEnvBlob(blob string) map[string]string {
	out := make(map[string]string)
	if blob == "" {
		return out
	}
	for _, kv := range strings.Split(blob, ";") {
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}
