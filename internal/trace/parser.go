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

package trace

import (
	"strconv"
	"strings"
	"time"

	"github.com/anonymouse64/reprogo/internal/reprogoconfig"
	"github.com/anonymouse64/reprogo/internal/reprogoerrors"
)

// arity is the exact number of payload fields (beyond the first six
// common ones) each kind requires. EXECVE is variable-arity and handled
// separately.
var arity = map[Kind]int{
	KindOpenRead:       2,
	KindOpenWrite:      2,
	KindOpenReadWrite:  2,
	KindOpenAtRead:      2,
	KindOpenAtWrite:     2,
	KindOpenAtReadWrite: 2,
	KindOpenAbspath:     1,
	KindStat:            1,
	KindStatAt:          1,
	KindAccess:          1,
	KindAccessAt:        1,
	KindTruncate:        1,
	KindRead:            1,
	KindWrite:           1,
	KindMmapRead:        1,
	KindMmapWrite:       1,
	KindMmapReadWrite:   1,
	KindClose:           1,
	KindDup:             2,
	KindDup2:            2,
	KindPipe:            2,
	KindSymlink:         2,
	KindSymlinkAt:       2,
	KindRename:          2,
	KindFork:            1,
	KindExecveReturn:    0,
	KindChdir:           1,
	KindExitGroup:       1,
}

// Parse decodes a single trace line into an Event. It fails with
// *reprogoerrors.MalformedTrace when the line has the wrong arity or an
// unparseable numeric field for its syscall kind. Parse is stateless:
// enforcing that OPEN_ABSPATH immediately precedes its OPEN_* event is
// the ingestor's job (internal/ingest), not this function's.
func Parse(line string) (Event, error) {
	fail := func(err error) (Event, error) {
		return Event{}, &reprogoerrors.MalformedTrace{Line: line, Err: err}
	}

	fields := strings.Split(line, reprogoconfig.FieldDelimiter)
	if len(fields) < 6 {
		return fail(errTooFewFields(len(fields)))
	}

	tsMillis, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return fail(err)
	}
	pid, err := strconv.Atoi(fields[1])
	if err != nil {
		return fail(err)
	}
	ppid, err := strconv.Atoi(fields[2])
	if err != nil {
		return fail(err)
	}
	uid, err := strconv.Atoi(fields[3])
	if err != nil {
		return fail(err)
	}

	ev := Event{
		Time: time.UnixMilli(tsMillis),
		PID:  pid,
		PPID: ppid,
		UID:  uid,
		Name: fields[4],
		Kind: Kind(fields[5]),
	}

	rest := fields[6:]

	if ev.Kind == KindExecve {
		return parseExecve(ev, rest, line)
	}

	want, known := arity[ev.Kind]
	if !known {
		return fail(errUnknownSyscall(string(ev.Kind)))
	}
	if len(rest) != want {
		return fail(errWrongArity(ev.Kind, want, len(rest)))
	}

	switch ev.Kind {
	case KindOpenRead, KindOpenWrite, KindOpenReadWrite,
		KindOpenAtRead, KindOpenAtWrite, KindOpenAtReadWrite:
		fd, err := strconv.Atoi(rest[0])
		if err != nil {
			return fail(err)
		}
		ev.FD = fd
		ev.Path = rest[1]
	case KindOpenAbspath:
		ev.AbsPath = rest[0]
	case KindStat, KindStatAt, KindAccess, KindAccessAt, KindTruncate, KindChdir:
		ev.Path = rest[0]
	case KindRead, KindWrite, KindMmapRead, KindMmapWrite, KindMmapReadWrite, KindClose:
		fd, err := strconv.Atoi(rest[0])
		if err != nil {
			return fail(err)
		}
		ev.FD = fd
	case KindDup, KindDup2, KindPipe:
		fd, err := strconv.Atoi(rest[0])
		if err != nil {
			return fail(err)
		}
		newFD, err := strconv.Atoi(rest[1])
		if err != nil {
			return fail(err)
		}
		ev.FD = fd
		ev.NewFD = newFD
	case KindSymlink, KindSymlinkAt:
		ev.OldPath = rest[0]
		ev.Path = rest[1]
	case KindRename:
		ev.OldPath = rest[0]
		ev.Path = rest[1]
	case KindFork:
		childPID, err := strconv.Atoi(rest[0])
		if err != nil {
			return fail(err)
		}
		ev.ChildPID = childPID
	case KindExecveReturn:
		// no payload
	case KindExitGroup:
		code, err := strconv.Atoi(rest[0])
		if err != nil {
			return fail(err)
		}
		ev.ExitCode = code
	}

	return ev, nil
}

// parseExecve handles the one variable-arity line shape: argv may itself
// contain the field delimiter, so everything between pwd and the final
// (env) field is re-joined verbatim.
func parseExecve(ev Event, rest []string, line string) (Event, error) {
	if len(rest) < 4 {
		return Event{}, &reprogoerrors.MalformedTrace{Line: line, Err: errWrongArity(KindExecve, 4, len(rest))}
	}
	ev.Path = rest[0]
	ev.PWD = rest[1]
	ev.Env = rest[len(rest)-1]
	ev.Argv = strings.Join(rest[2:len(rest)-1], reprogoconfig.FieldDelimiter)
	return ev, nil
}
