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

package classify_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/anonymouse64/reprogo/internal/classify"
	"github.com/anonymouse64/reprogo/internal/ingest"
	"github.com/anonymouse64/reprogo/internal/provenance"
	"github.com/anonymouse64/reprogo/internal/reprogoconfig"
	"github.com/anonymouse64/reprogo/internal/store"
)

func buildTree(t *testing.T, lines []string, command string) *provenance.Tree {
	t.Helper()
	s := store.NewMemStore()
	cfg := reprogoconfig.New(t.TempDir())
	in := ingest.New(s, cfg)
	if err := in.Run(context.Background(), strings.NewReader(strings.Join(lines, "\n"))); err != nil {
		t.Fatalf("Run: %v", err)
	}
	tree, err := provenance.Build(context.Background(), s, command)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return tree
}

func noLookup() classify.PathLookup {
	return classify.PathLookup{
		Exists:   func(string) bool { return false },
		Readlink: func(string) (string, error) { return "", errors.New("not a symlink") },
	}
}

// TestS1SingleInputSingleOutput matches scenario S1 from the concrete
// scenario list.
func TestS1SingleInputSingleOutput(t *testing.T) {
	lines := []string{
		"0||200||1||1000||grep||EXECVE||/usr/bin/grep||/home/u||/usr/bin/grep pattern /data/in.txt||HOME=/home/u",
		"1||200||1||1000||grep||OPEN_ABSPATH||/usr/bin/grep",
		"2||200||1||1000||grep||OPEN_READ||3||/usr/bin/grep",
		"3||200||1||1000||grep||OPEN_ABSPATH||/lib/libc.so.6",
		"4||200||1||1000||grep||OPEN_READ||4||/lib/libc.so.6",
		"5||200||1||1000||grep||OPEN_ABSPATH||/data/in.txt",
		"6||200||1||1000||grep||OPEN_READ||5||/data/in.txt",
		"7||200||1||1000||grep||EXIT_GROUP||0",
	}
	tree := buildTree(t, lines, "/usr/bin/grep pattern /data/in.txt")

	res := classify.Tree(tree, noLookup())

	if res.MainProgram != "/usr/bin/grep" {
		t.Fatalf("main_program = %q, want /usr/bin/grep", res.MainProgram)
	}
	if !res.MainInputFiles["/data/in.txt"] || len(res.MainInputFiles) != 1 {
		t.Fatalf("main_input_files = %v, want {/data/in.txt}", res.MainInputFiles)
	}
	if !res.DependenciesRoot["/lib/libc.so.6"] || len(res.DependenciesRoot) != 1 {
		t.Fatalf("dependencies_root = %v, want {/lib/libc.so.6}", res.DependenciesRoot)
	}

	if len(tree.Root.ArgvDict) != 2 {
		t.Fatalf("expected 2 argv entries, got %d", len(tree.Root.ArgvDict))
	}
	if !tree.Root.ArgvDict[1].InputFile {
		t.Fatalf("expected argv[2] (/data/in.txt) marked input_file")
	}
}

// TestS2ImplicitDataDemotion matches scenario S2.
func TestS2ImplicitDataDemotion(t *testing.T) {
	lines := []string{
		"0||200||1||1000||grep||EXECVE||/usr/bin/grep||/home/u||/usr/bin/grep pattern /data/in.txt||HOME=/home/u",
		"1||200||1||1000||grep||OPEN_ABSPATH||/usr/bin/grep",
		"2||200||1||1000||grep||OPEN_READ||3||/usr/bin/grep",
		"3||200||1||1000||grep||OPEN_ABSPATH||/lib/libc.so.6",
		"4||200||1||1000||grep||OPEN_READ||4||/lib/libc.so.6",
		"5||200||1||1000||grep||OPEN_ABSPATH||/data/in.txt",
		"6||200||1||1000||grep||OPEN_READ||5||/data/in.txt",
		"7||200||1||1000||grep||OPEN_ABSPATH||/home/u/aux.csv",
		"8||200||1||1000||grep||OPEN_READ||6||/home/u/aux.csv",
		"9||200||1||1000||grep||EXIT_GROUP||0",
	}
	tree := buildTree(t, lines, "/usr/bin/grep pattern /data/in.txt")

	res := classify.Tree(tree, noLookup())

	if res.DependenciesRoot["/home/u/aux.csv"] {
		t.Fatalf("aux.csv should have been demoted out of dependencies_root, got %v", res.DependenciesRoot)
	}
	if !res.ChildInputFiles["/home/u/aux.csv"] {
		t.Fatalf("aux.csv should have been demoted into child_input_files, got %v", res.ChildInputFiles)
	}
	if !res.DependenciesRoot["/lib/libc.so.6"] {
		t.Fatalf("libc should remain a dependency, got %v", res.DependenciesRoot)
	}
}

// TestS5ForkExec matches scenario S5.
func TestS5ForkExec(t *testing.T) {
	lines := []string{
		"0||100||1||1000||run.sh||EXECVE||./run.sh||/home/u||./run.sh a.txt||HOME=/home/u",
		"1||100||1||1000||run.sh||FORK||101",
		"2||101||100||1000||run.sh||EXECVE||/usr/bin/awk||/home/u||awk -f script.awk a.txt||HOME=/home/u",
		"3||101||100||1000||awk||OPEN_ABSPATH||/home/u/script.awk",
		"4||101||100||1000||awk||OPEN_READ||4||/home/u/script.awk",
		"5||101||100||1000||awk||OPEN_ABSPATH||/home/u/a.txt",
		"6||101||100||1000||awk||OPEN_READ||5||/home/u/a.txt",
		"7||101||100||1000||awk||EXIT_GROUP||0",
		"8||100||1||1000||run.sh||EXIT_GROUP||0",
	}
	tree := buildTree(t, lines, "./run.sh a.txt")

	res := classify.Tree(tree, noLookup())

	if !tree.Root.FilesRead["/home/u/script.awk"] {
		t.Fatalf("expected root to inherit script.awk via aggregation, got %+v", tree.Root.FilesRead)
	}
	if !res.MainInputFiles["/home/u/a.txt"] {
		t.Fatalf("expected a.txt to be classified as main input, got %v", res.MainInputFiles)
	}
	if !res.ChildInputFiles["/home/u/script.awk"] {
		t.Fatalf("expected script.awk to be classified as child input, got %v", res.ChildInputFiles)
	}
}
