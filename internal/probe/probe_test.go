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

package probe

import (
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/anonymouse64/reprogo/internal/commands"
)

func TestCommandResolvesProbeAndBuildsArgs(t *testing.T) {
	restoreUID := commands.MockUID("0")
	defer restoreUID()

	orig := execLookPath
	defer func() { execLookPath = orig }()
	execLookPath = func(name string) (string, error) {
		if name != "pass-lite" {
			t.Fatalf("looked up unexpected probe name %q", name)
		}
		return "/usr/bin/pass-lite", nil
	}

	tr := Tracer{}
	cmd, err := tr.Command("/tmp/session", []string{"grep", "foo"})
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	want := []string{"/usr/bin/pass-lite", "--output-dir", "/tmp/session", "--", "grep", "foo"}
	if len(cmd.Args) != len(want) {
		t.Fatalf("args = %v, want %v", cmd.Args, want)
	}
	for i := range want {
		if cmd.Args[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q", i, cmd.Args[i], want[i])
		}
	}
}

func TestCommandUsesOverriddenProbePath(t *testing.T) {
	restoreUID := commands.MockUID("0")
	defer restoreUID()

	orig := execLookPath
	defer func() { execLookPath = orig }()
	execLookPath = func(name string) (string, error) {
		if name != "custom-probe" {
			t.Fatalf("looked up unexpected probe name %q", name)
		}
		return "/opt/custom-probe", nil
	}

	tr := Tracer{ProbePath: "custom-probe"}
	if _, err := tr.Command("/tmp/session", []string{"true"}); err != nil {
		t.Fatalf("Command: %v", err)
	}
}

func TestStartCreatesOutputDirAndResolvesOutPath(t *testing.T) {
	restoreUID := commands.MockUID("0")
	defer restoreUID()

	orig := execLookPath
	defer func() { execLookPath = orig }()
	truePath, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true(1) not available")
	}
	execLookPath = func(name string) (string, error) { return truePath, nil }

	dir := filepath.Join(t.TempDir(), "nested", "session")
	tr := Tracer{}
	s, err := tr.Start(dir, []string{"true"}, nil, nil, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if s.OutPath != dir+"/pass-lite.out" {
		t.Fatalf("OutPath = %q", s.OutPath)
	}
}

func TestStartDocStoreWaitsForReady(t *testing.T) {
	orig := execCommand
	defer func() { execCommand = orig }()
	execCommand = func(prog string, args ...string) *exec.Cmd {
		return exec.Command("sleep", "5")
	}

	calls := 0
	ready := func() bool {
		calls++
		return calls >= 3
	}

	d, err := StartDocStore("mongod", nil, ready, time.Second, time.Millisecond)
	if err != nil {
		t.Fatalf("StartDocStore: %v", err)
	}
	if calls < 3 {
		t.Fatalf("expected ready to be polled at least 3 times, got %d", calls)
	}
	if err := d.cmd.Process.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	_ = d.cmd.Wait()
}

func TestStartDocStoreTimesOut(t *testing.T) {
	orig := execCommand
	defer func() { execCommand = orig }()
	execCommand = func(prog string, args ...string) *exec.Cmd {
		return exec.Command("sleep", "5")
	}

	_, err := StartDocStore("mongod", nil, func() bool { return false }, 5*time.Millisecond, time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}
