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

// Package ingest drives the trace parser (internal/trace) over the whole
// kernel-probe output stream, folding each event into the right process
// (internal/process) and persisting finished processes through a
// document-store Store (internal/store).
package ingest

import (
	"bufio"
	"context"
	"io"
	"log"
	"time"

	"github.com/anonymouse64/reprogo/internal/process"
	"github.com/anonymouse64/reprogo/internal/reprogoconfig"
	"github.com/anonymouse64/reprogo/internal/store"
	"github.com/anonymouse64/reprogo/internal/trace"
)

// maxConsecutiveParseErrors bounds how many malformed lines in a row the
// ingestor tolerates before treating the stream as unreadable. A single
// bad line warns and continues; a run of them means the probe's output is
// not being produced in the expected format at all.
const maxConsecutiveParseErrors = 20

// Ingestor drives trace.Parse over a stream and folds the result into an
// Arena, persisting processes as they exit.
type Ingestor struct {
	Store store.Store
	Config *reprogoconfig.Config

	arena *process.Arena

	// pendingAbsPathPID tracks which pid issued the most recent
	// OPEN_ABSPATH, to warn if it isn't immediately followed by an
	// open on that same pid.
	pendingAbsPathPID int
	havePendingAbsPath bool

	exitedPPIDs map[int]bool

	lastEventTime time.Time
}

// New returns an Ingestor backed by s.
func New(s store.Store, cfg *reprogoconfig.Config) *Ingestor {
	return &Ingestor{
		Store:       s,
		Config:      cfg,
		arena:       process.NewArena(),
		exitedPPIDs: make(map[int]bool),
	}
}

// Run scans r line by line, feeding each parsed event through the
// process model and persisting any process that exits. At EOF, every
// process still live is persisted with a synthetic exit.
func (in *Ingestor) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	consecutiveErrors := 0
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		ev, err := trace.Parse(line)
		if err != nil {
			log.Printf("skipping malformed trace line: %v", err)
			consecutiveErrors++
			if consecutiveErrors > maxConsecutiveParseErrors {
				return err
			}
			continue
		}
		consecutiveErrors = 0

		in.checkAbspathOrdering(ev)

		if ev.Time.After(in.lastEventTime) {
			in.lastEventTime = ev.Time
		}

		if err := in.handle(ctx, ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	return in.finalizeRemaining(ctx)
}

func (in *Ingestor) checkAbspathOrdering(ev trace.Event) {
	if in.havePendingAbsPath {
		openish := ev.Kind != trace.KindOpenAbspath
		if ev.PID != in.pendingAbsPathPID || !isOpenLikeForOrderingCheck(ev.Kind) {
			if openish {
				log.Printf("pid %d: OPEN_ABSPATH was not immediately followed by an open", in.pendingAbsPathPID)
			}
		}
		in.havePendingAbsPath = false
	}
	if ev.Kind == trace.KindOpenAbspath {
		in.havePendingAbsPath = true
		in.pendingAbsPathPID = ev.PID
	}
}

func isOpenLikeForOrderingCheck(k trace.Kind) bool {
	_, ok := trace.ModeFor(k)
	return ok
}

func (in *Ingestor) handle(ctx context.Context, ev trace.Event) error {
	p := in.arena.GetOrCreate(ev.PID, ev.PPID, ev.UID, ev.Time)

	exited, err := p.AddEntry(in.arena, ev, in.Config)
	if err != nil {
		return err
	}
	if exited {
		if err := in.Store.Upsert(ctx, store.ToRecord(p)); err != nil {
			return err
		}
		in.arena.Delete(p.PID)
		in.exitedPPIDs[p.PPID] = true
	}
	return nil
}

// finalizeRemaining persists every process still live at end of stream,
// giving each a synthetic exit code of -1 at the timestamp of the last
// observed event.
func (in *Ingestor) finalizeRemaining(ctx context.Context) error {
	for _, p := range in.arena.Live() {
		p.FinalizeAtEndOfStream(in.lastEventTime)
		if err := in.Store.Upsert(ctx, store.ToRecord(p)); err != nil {
			return err
		}
		in.exitedPPIDs[p.PPID] = true
	}
	return nil
}
