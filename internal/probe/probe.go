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

// Package probe manages the lifecycle of the two external collaborators
// the core pipeline depends on but does not implement itself: the
// kernel-probe script that emits pass-lite.out, and the document store
// process that buffers trace records until the provenance builder runs.
package probe

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/anonymouse64/reprogo/internal/commands"
)

// DefaultProbePath is the probe binary looked up on PATH when the caller
// does not override it.
const DefaultProbePath = "pass-lite"

// execLookPath is a seam for tests to stub out PATH resolution.
var execLookPath = exec.LookPath

// Tracer builds the exec.Cmd that invokes the kernel-probe script against
// a traced command: pick the binary, assemble its arguments, and
// sudo-wrap it since tracing needs elevated privileges.
type Tracer struct {
	// ProbePath overrides DefaultProbePath.
	ProbePath string
}

// Command returns the exec.Cmd that runs probePath against dir (the
// per-session directory pass-lite.out is written into) and cmdline (the
// traced command and its arguments).
func (t Tracer) Command(dir string, cmdline []string) (*exec.Cmd, error) {
	probePath := t.ProbePath
	if probePath == "" {
		probePath = DefaultProbePath
	}

	resolved, err := execLookPath(probePath)
	if err != nil {
		return nil, fmt.Errorf("cannot find an installed kernel probe (%s): %w", probePath, err)
	}

	args := []string{resolved, "--output-dir", dir, "--"}
	args = append(args, cmdline...)

	cmd := &exec.Cmd{
		Path: args[0],
		Args: args,
	}
	if err := commands.AddSudoIfNeeded(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Session wraps one running kernel-probe invocation.
type Session struct {
	cmd     *exec.Cmd
	OutPath string
}

// Start resolves and launches the probe against cmdline, writing its
// output file into dir.
func (t Tracer) Start(dir string, cmdline []string, env []string, stdout, stderr *os.File) (*Session, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	cmd, err := t.Command(dir, cmdline)
	if err != nil {
		return nil, err
	}
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting kernel probe: %w", err)
	}

	return &Session{cmd: cmd, OutPath: dir + "/pass-lite.out"}, nil
}

// Wait blocks until the probed command (and the probe script wrapping
// it) exits.
func (s *Session) Wait() error {
	return s.cmd.Wait()
}

// DocStore manages the external document-store daemon's lifecycle:
// spawn, poll for readiness, and shut down.
type DocStore struct {
	cmd *exec.Cmd
}

// execCommand is a seam for tests to stub out process creation without
// touching the real exec.Command.
var execCommand = func(prog string, args ...string) *exec.Cmd {
	return exec.Command(prog, args...)
}

// StartDocStore launches bin (e.g. a mongod-compatible binary) with args
// and waits up to readyTimeout for it to start accepting connections,
// polling every pollInterval via a caller-supplied readiness probe.
func StartDocStore(bin string, args []string, ready func() bool, readyTimeout, pollInterval time.Duration) (*DocStore, error) {
	cmd := execCommand(bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting document store: %w", err)
	}

	deadline := time.Now().Add(readyTimeout)
	for {
		if ready == nil || ready() {
			return &DocStore{cmd: cmd}, nil
		}
		if time.Now().After(deadline) {
			_ = cmd.Process.Kill()
			return nil, fmt.Errorf("document store did not become ready within %s", readyTimeout)
		}
		time.Sleep(pollInterval)
	}
}

// Shutdown signals the document store to terminate and waits for it to
// exit.
func (d *DocStore) Shutdown() error {
	if d.cmd.Process == nil {
		return nil
	}
	if err := d.cmd.Process.Signal(os.Interrupt); err != nil {
		return err
	}
	return d.cmd.Wait()
}

// FreeCaches drops kernel filesystem caches before tracing, for
// repeatable cold-cache measurements. Requires passwordless sudo.
func FreeCaches() error {
	for _, level := range []int{1, 2, 3} {
		out, err := execCommand("sudo", "sysctl", "-q", fmt.Sprintf("vm.drop_caches=%d", level)).CombinedOutput()
		if err != nil {
			return fmt.Errorf("dropping caches: %w: %s", err, out)
		}
	}
	return nil
}
