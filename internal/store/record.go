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

// Package store models the document-store collaborator: a single
// persistent buffer between the trace ingestor and the provenance-tree
// builder. It defines the Store interface every backend must satisfy,
// an in-process MemStore for local runs, and a MongoStore adapter for
// when a real external store is configured.
package store

import (
	"fmt"
	"time"

	"github.com/anonymouse64/reprogo/internal/process"
)

// PhaseRecord is the persisted form of a process.Phase. Field names carry
// bson tags even though MemStore never touches BSON: the shape is
// wire-compatible with the real document-store collaborator, which is
// MongoDB-backed.
type PhaseRecord struct {
	StartTime      time.Time           `bson:"start_time"`
	ProcessName    string              `bson:"process_name"`
	ExecveFilename string              `bson:"execve_filename"`
	ExecvePWD      string              `bson:"execve_pwd"`
	ExecveArgv     string              `bson:"execve_argv"`
	ExecveEnv      map[string]string   `bson:"execve_env"`
	FilesRead      map[string][]int64  `bson:"files_read"`
	FilesWritten   map[string][]int64  `bson:"files_written"`
	Dirs           map[string][]int64  `bson:"dirs"`
	FilesRenamed   []RenameRecord      `bson:"files_renamed"`
	Symlinks       map[string]string   `bson:"symlinks"`
}

// RenameRecord is the persisted form of process.Rename.
type RenameRecord struct {
	Time int64  `bson:"time"`
	Old  string `bson:"old"`
	New  string `bson:"new"`
}

// Record is the persisted form of a process.Process, keyed by
// "{creation_time}-{pid}" per the document-store contract.
type Record struct {
	Key string `bson:"_id"`

	PID                      int           `bson:"pid"`
	PPID                     int           `bson:"ppid"`
	UID                      int           `bson:"uid"`
	OtherUIDs                []int         `bson:"other_uids"`
	CreationTime             time.Time     `bson:"creation_time"`
	ExitTime                 *time.Time    `bson:"exit_time,omitempty"`
	ExitCode                 *int          `bson:"exit_code,omitempty"`
	Exited                   bool          `bson:"exited"`
	MostRecentEventTimestamp time.Time     `bson:"most_recent_event_timestamp"`
	Phases                   []PhaseRecord `bson:"phases"`
}

// KeyFor builds the persistence key for a process created at t with the
// given pid.
func KeyFor(t time.Time, pid int) string {
	return fmt.Sprintf("%d-%d", t.UnixNano(), pid)
}

// ToRecord converts a live process.Process into its persisted form.
func ToRecord(p *process.Process) Record {
	rec := Record{
		Key:                      KeyFor(p.CreationTime, p.PID),
		PID:                      p.PID,
		PPID:                     p.PPID,
		UID:                      p.UID,
		OtherUIDs:                p.OtherUIDs,
		CreationTime:             p.CreationTime,
		ExitTime:                 p.ExitTime,
		ExitCode:                 p.ExitCode,
		Exited:                   p.Exited,
		MostRecentEventTimestamp: p.MostRecentEventTimestamp,
	}
	for _, ph := range p.Phases {
		rec.Phases = append(rec.Phases, PhaseRecord{
			StartTime:      ph.StartTime,
			ProcessName:    ph.ProcessName,
			ExecveFilename: ph.ExecveFilename,
			ExecvePWD:      ph.ExecvePWD,
			ExecveArgv:     ph.ExecveArgv,
			ExecveEnv:      ph.ExecveEnv,
			FilesRead:      toEpochs(ph.FilesRead),
			FilesWritten:   toEpochs(ph.FilesWritten),
			Dirs:           toEpochs(ph.Dirs),
			FilesRenamed:   toRenameRecords(ph.FilesRenamed),
			Symlinks:       ph.Symlinks,
		})
	}
	return rec
}

func toEpochs(m map[string][]time.Time) map[string][]int64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string][]int64, len(m))
	for k, times := range m {
		ns := make([]int64, len(times))
		for i, t := range times {
			ns[i] = t.UnixNano()
		}
		out[k] = ns
	}
	return out
}

func toRenameRecords(rs []process.Rename) []RenameRecord {
	if len(rs) == 0 {
		return nil
	}
	out := make([]RenameRecord, len(rs))
	for i, r := range rs {
		out[i] = RenameRecord{Time: r.Time.UnixNano(), Old: r.Old, New: r.New}
	}
	return out
}
