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

// Package trace decodes the kernel-probe's line-oriented trace format
// into typed Event records. It owns no state of its own; the ingestor
// (internal/ingest) drives it over a stream and enforces ordering
// invariants such as OPEN_ABSPATH immediately preceding an OPEN_* event.
package trace

import "time"

// Kind identifies which syscall category an Event describes.
type Kind string

// Recognised event kinds, one per syscall category in the kernel-probe
// contract.
const (
	KindOpenRead        Kind = "OPEN_READ"
	KindOpenWrite        Kind = "OPEN_WRITE"
	KindOpenReadWrite    Kind = "OPEN_READWRITE"
	KindOpenAtRead       Kind = "OPENAT_READ"
	KindOpenAtWrite      Kind = "OPENAT_WRITE"
	KindOpenAtReadWrite  Kind = "OPENAT_READWRITE"
	KindOpenAbspath      Kind = "OPEN_ABSPATH"
	KindStat             Kind = "STAT"
	KindStatAt           Kind = "STAT_AT"
	KindAccess           Kind = "ACCESS"
	KindAccessAt         Kind = "ACCESS_AT"
	KindTruncate         Kind = "TRUNCATE"
	KindRead             Kind = "READ"
	KindWrite            Kind = "WRITE"
	KindMmapRead         Kind = "MMAP_READ"
	KindMmapWrite        Kind = "MMAP_WRITE"
	KindMmapReadWrite    Kind = "MMAP_READWRITE"
	KindClose            Kind = "CLOSE"
	KindDup              Kind = "DUP"
	KindDup2             Kind = "DUP2"
	KindPipe             Kind = "PIPE"
	KindSymlink          Kind = "SYMLINK"
	KindSymlinkAt        Kind = "SYMLINK_AT"
	KindRename           Kind = "RENAME"
	KindFork             Kind = "FORK"
	KindExecve           Kind = "EXECVE"
	KindExecveReturn     Kind = "EXECVE_RETURN"
	KindChdir            Kind = "CHDIR"
	KindExitGroup        Kind = "EXIT_GROUP"
)

// openKinds is used by ModeFor to recover the access mode (r/w/rw) that
// an OPEN_* or OPENAT_* variant implies.
var openKinds = map[Kind]AccessMode{
	KindOpenRead:       ModeRead,
	KindOpenWrite:      ModeWrite,
	KindOpenReadWrite:  ModeReadWrite,
	KindOpenAtRead:      ModeRead,
	KindOpenAtWrite:     ModeWrite,
	KindOpenAtReadWrite: ModeReadWrite,
}

// AccessMode is the mode a file descriptor was opened with.
type AccessMode string

// Recognised access modes.
const (
	ModeRead      AccessMode = "r"
	ModeWrite     AccessMode = "w"
	ModeReadWrite AccessMode = "rw"
)

// ModeFor reports the AccessMode implied by an OPEN_* / OPENAT_* kind, and
// whether that kind is in fact an open variant.
func ModeFor(k Kind) (AccessMode, bool) {
	m, ok := openKinds[k]
	return m, ok
}

// Event is the typed decoding of one kernel-probe trace line. Every
// variant carries the six always-present fields; payload fields beyond
// that are populated according to Kind and left zero otherwise.
type Event struct {
	Time    time.Time
	PID     int
	PPID    int
	UID     int
	Name    string
	Kind    Kind

	// Payload fields. Which ones are meaningful depends on Kind.
	FD       int    // OPEN* (resulting fd), CLOSE/READ/WRITE/MMAP*/DUP* (operand fd)
	NewFD    int    // DUP/DUP2 (resulting fd)
	Path     string // OPEN*, STAT*, ACCESS*, TRUNCATE, SYMLINK*, RENAME (destination), CHDIR
	OldPath  string // RENAME, SYMLINK* (link target source)
	AbsPath  string // OPEN_ABSPATH
	Argv     string // EXECVE
	Env      string // EXECVE
	PWD      string // EXECVE
	ChildPID int    // FORK
	ExitCode int    // EXIT_GROUP
}
