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

package process_test

import (
	"testing"
	"time"

	. "gopkg.in/check.v1"

	"github.com/anonymouse64/reprogo/internal/process"
	"github.com/anonymouse64/reprogo/internal/reprogoconfig"
	"github.com/anonymouse64/reprogo/internal/trace"
)

func Test(t *testing.T) { TestingT(t) }

type processSuite struct {
	arena *process.Arena
	cfg   *reprogoconfig.Config
}

var _ = Suite(&processSuite{})

func (s *processSuite) SetUpTest(c *C) {
	s.arena = process.NewArena()
	s.cfg = reprogoconfig.New("/rep")
}

func t(sec int64) time.Time { return time.Unix(sec, 0) }

func (s *processSuite) TestForkCopiesFDTable(c *C) {
	parent := process.New(100, 1, 1000, t(0))
	parent.FDTable[4] = process.FDEntry{Path: "/data/in.txt", Mode: trace.ModeRead}
	s.arena.Put(parent)

	_, err := parent.AddEntry(s.arena, trace.Event{Kind: trace.KindFork, Time: t(1), PID: 100, ChildPID: 101}, s.cfg)
	c.Assert(err, IsNil)

	child, ok := s.arena.Get(101)
	c.Assert(ok, Equals, true)
	c.Check(child.FDTable[4].Path, Equals, "/data/in.txt")
}

func (s *processSuite) TestCoalescingDropsRepeatWithinWindow(c *C) {
	p := process.New(100, 1, 1000, t(0))
	s.arena.Put(p)

	ev := trace.Event{Kind: trace.KindOpenRead, Time: t(0), PID: 100, FD: 4, Path: "/data/in.txt"}
	_, err := p.AddEntry(s.arena, ev, s.cfg)
	c.Assert(err, IsNil)

	ev2 := trace.Event{Kind: trace.KindRead, Time: t(0).Add(50 * time.Millisecond), PID: 100, FD: 4}
	_, err = p.AddEntry(s.arena, ev2, s.cfg)
	c.Assert(err, IsNil)

	c.Check(len(p.Phases[0].FilesRead["/data/in.txt"]), Equals, 1)
}

func (s *processSuite) TestCloseOnUnknownFDIsIgnored(c *C) {
	p := process.New(100, 1, 1000, t(0))
	s.arena.Put(p)
	_, err := p.AddEntry(s.arena, trace.Event{Kind: trace.KindClose, Time: t(0), PID: 100, FD: 99}, s.cfg)
	c.Assert(err, IsNil)
}

func (s *processSuite) TestIgnoredPrefixExcludedFromMaps(c *C) {
	p := process.New(100, 1, 1000, t(0))
	s.arena.Put(p)
	ev := trace.Event{Kind: trace.KindOpenRead, Time: t(0), PID: 100, FD: 5, Path: "/proc/self/status"}
	_, err := p.AddEntry(s.arena, ev, s.cfg)
	c.Assert(err, IsNil)
	c.Check(p.FDTable[5].Path, Equals, "/proc/self/status")
	c.Check(len(p.Phases[0].FilesRead), Equals, 0)
}

func (s *processSuite) TestExitPatchesForwardOnLateTimestamp(c *C) {
	p := process.New(100, 1, 1000, t(0))
	s.arena.Put(p)
	p.AddEntry(s.arena, trace.Event{Kind: trace.KindOpenRead, Time: t(0), PID: 100, FD: 4, Path: "/data/in.txt"}, s.cfg)
	p.AddEntry(s.arena, trace.Event{Kind: trace.KindRead, Time: t(5), PID: 100, FD: 4}, s.cfg)
	_, err := p.AddEntry(s.arena, trace.Event{Kind: trace.KindExitGroup, Time: t(1), PID: 100, ExitCode: 0}, s.cfg)
	c.Assert(err, IsNil)
	c.Assert(p.ExitTime, NotNil)
	c.Check(p.ExitTime.Unix(), Equals, int64(5))
}

func (s *processSuite) TestEmptyPhaseDroppedOnExecve(c *C) {
	p := process.New(100, 1, 1000, t(0))
	s.arena.Put(p)
	_, err := p.AddEntry(s.arena, trace.Event{
		Kind: trace.KindExecve, Time: t(1), PID: 100,
		Path: "/bin/true", PWD: "/home/u", Argv: "/bin/true", Env: "HOME=/home/u",
	}, s.cfg)
	c.Assert(err, IsNil)
	c.Check(len(p.Phases), Equals, 1)
	c.Check(p.Phases[0].ExecveFilename, Equals, "/bin/true")
}
