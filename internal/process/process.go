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

package process

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/anonymouse64/reprogo/internal/reprogoconfig"
	"github.com/anonymouse64/reprogo/internal/trace"
)

var osStat = os.Stat

// FDEntry is one row of a process's file-descriptor table.
type FDEntry struct {
	Path string
	Mode trace.AccessMode
}

// PipeEnd identifies one end of an open pipe: the pid that created it and
// its read/write file descriptors.
type PipeEnd struct {
	CreatorPID int
	ReadFD     int
	WriteFD    int
}

// Process is the per-pid state the pipeline folds trace.Events into. It
// never holds a pointer back into the Arena that owns it: operations that
// need to look at or create other processes (fork, in particular) take
// the Arena explicitly, per the arena-of-records design note.
type Process struct {
	PID         int
	PPID        int
	UID         int
	OtherUIDs   []int
	CreationTime time.Time
	ExitTime    *time.Time
	ExitCode    *int
	Exited      bool

	MostRecentEventTimestamp time.Time

	Phases []*Phase

	FDTable   map[int]FDEntry
	OpenPipes map[PipeEnd]struct{}

	WDir string

	pendingAbsPath string
}

// New returns a Process created at t with an initial empty phase.
func New(pid, ppid, uid int, t time.Time) *Process {
	p := &Process{
		PID:                      pid,
		PPID:                     ppid,
		UID:                      uid,
		CreationTime:             t,
		MostRecentEventTimestamp: t,
		FDTable:                  make(map[int]FDEntry),
		OpenPipes:                make(map[PipeEnd]struct{}),
	}
	p.Phases = append(p.Phases, NewPhase(t))
	return p
}

func (p *Process) currentPhase() *Phase {
	return p.Phases[len(p.Phases)-1]
}

// Arena is the pid-keyed table of live processes. Code that needs to
// reach "some other process" (fork's parent/child relationship) always
// goes through the Arena rather than holding a pointer into it.
type Arena struct {
	processes map[int]*Process
}

// NewArena returns an empty Arena.
func NewArena() *Arena {
	return &Arena{processes: make(map[int]*Process)}
}

// Get returns the live Process for pid, if any.
func (a *Arena) Get(pid int) (*Process, bool) {
	p, ok := a.processes[pid]
	return p, ok
}

// GetOrCreate returns the live Process for pid, creating one at t if this
// is the first time pid has been seen (a process observed mid-stream
// without a FORK event, e.g. the initially traced command).
func (a *Arena) GetOrCreate(pid, ppid, uid int, t time.Time) *Process {
	if p, ok := a.processes[pid]; ok {
		return p
	}
	p := New(pid, ppid, uid, t)
	a.processes[pid] = p
	return p
}

// Put registers p in the arena under p.PID.
func (a *Arena) Put(p *Process) {
	a.processes[p.PID] = p
}

// Delete removes pid from the live table (called once it has been
// persisted after exit).
func (a *Arena) Delete(pid int) {
	delete(a.processes, pid)
}

// Live returns every process still in the arena, for end-of-stream
// finalisation.
func (a *Arena) Live() []*Process {
	out := make([]*Process, 0, len(a.processes))
	for _, p := range a.processes {
		out = append(out, p)
	}
	return out
}

func resolveAgainst(path, wdir string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(wdir, path))
}

// AddEntry folds ev into the process's state, possibly creating a child
// process in arena (FORK), transitioning to a new phase (EXECVE), or
// finalising the process (EXIT_GROUP). It returns whether this event
// terminated the process, so the ingestor knows to persist and evict it.
func (p *Process) AddEntry(arena *Arena, ev trace.Event, cfg *reprogoconfig.Config) (exited bool, err error) {
	if ev.Time.After(p.MostRecentEventTimestamp) {
		p.MostRecentEventTimestamp = ev.Time
	}
	if ev.Kind != trace.KindExecve {
		// An EXECVE line carries the pre-exec name; the new phase takes it
		// below, and the outgoing phase is left untouched so that it is
		// dropped if it recorded nothing else.
		p.currentPhase().setProcessName(ev.Name)
	}

	window := cfg.CoalesceWindow
	if window == 0 {
		window = reprogoconfig.FileAccessCoalesceWindow
	}

	switch {
	case ev.Kind == trace.KindFork:
		child := New(ev.ChildPID, p.PID, p.UID, ev.Time)
		for fd, entry := range p.FDTable {
			child.FDTable[fd] = entry
		}
		for pipe := range p.OpenPipes {
			child.OpenPipes[pipe] = struct{}{}
		}
		child.WDir = p.WDir
		arena.Put(child)

	case ev.Kind == trace.KindOpenAbspath:
		p.pendingAbsPath = ev.AbsPath

	case isOpenKind(ev.Kind):
		mode, _ := trace.ModeFor(ev.Kind)
		abs := ev.Path
		if p.pendingAbsPath != "" {
			abs = p.pendingAbsPath
			p.pendingAbsPath = ""
			if abs != ev.Path {
				p.currentPhase().Symlinks[ev.Path] = abs
			}
		}
		if _, collision := p.FDTable[ev.FD]; collision {
			log.Printf("pid %d: fd %d reopened while still in use", p.PID, ev.FD)
		}
		p.FDTable[ev.FD] = FDEntry{Path: abs, Mode: mode}
		switch mode {
		case trace.ModeRead:
			recordAccess(p.currentPhase().FilesRead, abs, ev.Time, window)
		case trace.ModeWrite:
			recordAccess(p.currentPhase().FilesWritten, abs, ev.Time, window)
		case trace.ModeReadWrite:
			recordAccess(p.currentPhase().FilesRead, abs, ev.Time, window)
			recordAccess(p.currentPhase().FilesWritten, abs, ev.Time, window)
		}

	case ev.Kind == trace.KindClose:
		delete(p.FDTable, ev.FD)

	case ev.Kind == trace.KindRead:
		if entry, ok := p.FDTable[ev.FD]; ok {
			recordAccess(p.currentPhase().FilesRead, entry.Path, ev.Time, window)
		}

	case ev.Kind == trace.KindWrite:
		if entry, ok := p.FDTable[ev.FD]; ok {
			recordAccess(p.currentPhase().FilesWritten, entry.Path, ev.Time, window)
		}

	case ev.Kind == trace.KindMmapRead:
		if entry, ok := p.FDTable[ev.FD]; ok {
			recordAccess(p.currentPhase().FilesRead, entry.Path, ev.Time, window)
		}

	case ev.Kind == trace.KindMmapWrite:
		if entry, ok := p.FDTable[ev.FD]; ok {
			recordAccess(p.currentPhase().FilesWritten, entry.Path, ev.Time, window)
		}

	case ev.Kind == trace.KindMmapReadWrite:
		if entry, ok := p.FDTable[ev.FD]; ok {
			recordAccess(p.currentPhase().FilesRead, entry.Path, ev.Time, window)
			if entry.Mode == trace.ModeWrite || entry.Mode == trace.ModeReadWrite {
				recordAccess(p.currentPhase().FilesWritten, entry.Path, ev.Time, window)
			}
		}

	case ev.Kind == trace.KindDup || ev.Kind == trace.KindDup2:
		if entry, ok := p.FDTable[ev.FD]; ok {
			p.FDTable[ev.NewFD] = entry
		}

	case ev.Kind == trace.KindPipe:
		p.OpenPipes[PipeEnd{CreatorPID: p.PID, ReadFD: ev.FD, WriteFD: ev.NewFD}] = struct{}{}

	case ev.Kind == trace.KindStat || ev.Kind == trace.KindStatAt ||
		ev.Kind == trace.KindAccess || ev.Kind == trace.KindAccessAt:
		abs := resolveAgainst(ev.Path, p.WDir)
		recordAccess(p.currentPhase().FilesRead, abs, ev.Time, window)

	case ev.Kind == trace.KindTruncate:
		abs := resolveAgainst(ev.Path, p.WDir)
		recordAccess(p.currentPhase().FilesWritten, abs, ev.Time, window)

	case ev.Kind == trace.KindRename:
		oldAbs := resolveAgainst(ev.OldPath, p.WDir)
		newAbs := resolveAgainst(ev.Path, p.WDir)
		phase := p.currentPhase()
		phase.FilesRenamed = append(phase.FilesRenamed, Rename{Time: ev.Time, Old: oldAbs, New: newAbs})

	case ev.Kind == trace.KindSymlink || ev.Kind == trace.KindSymlinkAt:
		target := resolveAgainst(ev.OldPath, p.WDir)
		phase := p.currentPhase()
		phase.Symlinks[ev.Path] = target
		if isDirectory(target) {
			recordAccess(phase.Dirs, ev.Path, ev.Time, window)
		} else {
			recordAccess(phase.FilesRead, ev.Path, ev.Time, window)
		}

	case ev.Kind == trace.KindChdir:
		p.WDir = resolveAgainst(ev.Path, p.WDir)

	case ev.Kind == trace.KindExecve:
		if p.currentPhase().IsEmpty() {
			p.Phases = p.Phases[:len(p.Phases)-1]
		}
		next := NewPhase(ev.Time)
		next.ExecveFilename = ev.Path
		next.ExecvePWD = ev.PWD
		next.ExecveArgv = ev.Argv
		next.ExecveEnv = parseEnvBlob(ev.Env)
		next.setProcessName(ev.Name)
		p.Phases = append(p.Phases, next)
		p.WDir = ev.PWD

	case ev.Kind == trace.KindExitGroup:
		p.Exited = true
		t := ev.Time
		p.ExitTime = &t
		code := ev.ExitCode
		p.ExitCode = &code
		p.finalize()
		return true, nil
	}

	return false, nil
}

func isOpenKind(k trace.Kind) bool {
	_, ok := trace.ModeFor(k)
	return ok
}

// isDirectory is overridable in tests; in production it checks the real
// filesystem, which is valid because pack-time classification always
// runs against the same disk state the trace was captured from.
var isDirectory = func(path string) bool {
	info, err := osStat(path)
	return err == nil && info.IsDir()
}

// finalize drops empty phases and patches exit_time forward if any
// phase's latest recorded timestamp runs past it.
func (p *Process) finalize() {
	kept := p.Phases[:0]
	for _, ph := range p.Phases {
		if !ph.IsEmpty() {
			kept = append(kept, ph)
		}
	}
	p.Phases = kept

	if p.ExitTime == nil {
		return
	}
	limit := p.ExitTime.Add(reprogoconfig.ExitGraceWindow)
	var latest time.Time
	for _, ph := range p.Phases {
		latest = latestOf(latest, maxTimestamp(ph))
	}
	if latest.After(limit) {
		log.Printf("pid %d: patching exit_time forward to %v to cover late event", p.PID, latest)
		p.ExitTime = &latest
	}
}

func maxTimestamp(ph *Phase) time.Time {
	var latest time.Time
	scan := func(m map[string][]time.Time) {
		for _, ts := range m {
			if len(ts) == 0 {
				continue
			}
			if last := ts[len(ts)-1]; last.After(latest) {
				latest = last
			}
		}
	}
	scan(ph.FilesRead)
	scan(ph.FilesWritten)
	scan(ph.Dirs)
	for _, r := range ph.FilesRenamed {
		if r.Time.After(latest) {
			latest = r.Time
		}
	}
	return latest
}

func latestOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// FinalizeAtEndOfStream is called by the ingestor for every process still
// live when the trace stream ends: it synthesises an exit.
func (p *Process) FinalizeAtEndOfStream(lastEventTime time.Time) {
	p.Exited = true
	p.ExitTime = &lastEventTime
	code := -1
	p.ExitCode = &code
	p.finalize()
}
