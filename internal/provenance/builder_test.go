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

package provenance_test

import (
	"context"
	"strings"
	"testing"

	"github.com/anonymouse64/reprogo/internal/ingest"
	"github.com/anonymouse64/reprogo/internal/provenance"
	"github.com/anonymouse64/reprogo/internal/reprogoconfig"
	"github.com/anonymouse64/reprogo/internal/store"
)

// runLines ingests lines into a fresh MemStore and returns it.
func runLines(t *testing.T, lines []string) store.Store {
	t.Helper()
	s := store.NewMemStore()
	cfg := reprogoconfig.New(t.TempDir())
	in := ingest.New(s, cfg)
	if err := in.Run(context.Background(), strings.NewReader(strings.Join(lines, "\n"))); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return s
}

func TestBuildAttachesChildUnderRoot(t *testing.T) {
	lines := []string{
		"0||100||1||1000||run.sh||EXECVE||./run.sh||/home/u||./run.sh a.txt||HOME=/home/u",
		"1||100||1||1000||run.sh||FORK||101",
		"2||101||100||1000||run.sh||EXECVE||/usr/bin/awk||/home/u||awk -f script.awk a.txt||HOME=/home/u",
		"3||101||100||1000||awk||OPEN_ABSPATH||/home/u/script.awk",
		"4||101||100||1000||awk||OPEN_READ||4||/home/u/script.awk",
		"5||101||100||1000||awk||EXIT_GROUP||0",
		"6||100||1||1000||run.sh||EXIT_GROUP||0",
	}
	s := runLines(t, lines)

	tree, err := provenance.Build(context.Background(), s, "./run.sh a.txt")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if tree.Root.PID != 100 {
		t.Fatalf("expected root pid 100, got %d", tree.Root.PID)
	}
	if len(tree.Root.Children) != 1 {
		t.Fatalf("expected 1 child of root, got %d", len(tree.Root.Children))
	}
	child := tree.Root.Children[0]
	if child.PID != 101 {
		t.Fatalf("expected child pid 101, got %d", child.PID)
	}

	if !tree.Root.FilesRead["/home/u/script.awk"] {
		t.Fatalf("expected root to inherit child's file read after UpdateRootInformation, got %+v", tree.Root.FilesRead)
	}
}

func TestBuildMissingMainPhase(t *testing.T) {
	s := store.NewMemStore()
	_, err := provenance.Build(context.Background(), s, "./nonexistent")
	if err == nil {
		t.Fatal("expected error for command with no matching process")
	}
}

func TestUpdateRootInformationIdempotent(t *testing.T) {
	lines := []string{
		"0||100||1||1000||run.sh||EXECVE||./run.sh||/home/u||./run.sh a.txt||HOME=/home/u;PATH=/bin",
		"1||100||1||1000||run.sh||FORK||101",
		"2||101||100||1000||run.sh||EXECVE||/usr/bin/awk||/home/u||awk -f script.awk a.txt||HOME=/home/u;PATH=/usr/bin",
		"3||101||100||1000||awk||OPEN_ABSPATH||/home/u/script.awk",
		"4||101||100||1000||awk||OPEN_READ||4||/home/u/script.awk",
		"5||101||100||1000||awk||EXIT_GROUP||0",
		"6||100||1||1000||run.sh||EXIT_GROUP||0",
	}
	s := runLines(t, lines)

	tree, err := provenance.Build(context.Background(), s, "./run.sh a.txt")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	before := len(tree.Root.FilesRead)
	beforePath := tree.Root.Env["PATH"]

	provenance.UpdateRootInformation(tree)
	provenance.UpdateRootInformation(tree)

	if len(tree.Root.FilesRead) != before {
		t.Fatalf("files_read changed across repeated UpdateRootInformation calls: %d -> %d", before, len(tree.Root.FilesRead))
	}
	if tree.Root.Env["PATH"] != beforePath {
		t.Fatalf("root's own PATH was overwritten by a descendant's: got %q, want %q", tree.Root.Env["PATH"], beforePath)
	}
}
