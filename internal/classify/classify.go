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

// Package classify partitions every path a provenance.Tree observed into
// one of five roles — main program, main input, child input, dependency,
// directory — by comparing each node's parsed argv against its
// files_read/files_written sets.
package classify

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/anonymouse64/reprogo/internal/provenance"
)

// Result is the root-level aggregation produced after every node in the
// tree has been classified individually.
type Result struct {
	MainProgram      string
	ChildPrograms    map[string]bool
	MainInputFiles   map[string]bool
	ChildInputFiles  map[string]bool
	DependenciesRoot map[string]bool
	Dirs             map[string]bool
	SymlinkTargets   map[string]string
}

// PathLookup resolves a program name the way the shell would: absolute
// paths are kept, relative ones are tried against wdir and then searched
// on path. It is a seam so tests can fake "exists on disk at classify
// time" without touching the real filesystem.
type PathLookup struct {
	// Exists reports whether path exists on disk. Defaults to os.Stat.
	Exists func(path string) bool
	// Readlink resolves path if it is a symlink. Defaults to os.Readlink.
	Readlink func(path string) (string, error)
	// Path is the process's effective PATH, colon-separated.
	Path string
}

// DefaultPathLookup returns a PathLookup backed by the real filesystem and
// the given PATH value.
func DefaultPathLookup(path string) PathLookup {
	return PathLookup{
		Exists: func(p string) bool {
			_, err := os.Stat(p)
			return err == nil
		},
		Readlink: os.Readlink,
		Path:     path,
	}
}

// Tree classifies every node of t in place, then returns the root-level
// aggregation.
func Tree(t *provenance.Tree, lookup PathLookup) Result {
	for _, n := range t.Nodes() {
		classifyNode(n, lookup)
	}
	return aggregate(t.Root, t.Nodes())
}

// classifyNode fills in n's ArgvDict, Program, InputFiles, OutputFiles and
// Dependencies from its raw argv/files_read/files_written/dirs.
func classifyNode(n *provenance.Node, lookup PathLookup) {
	n.InputFiles = make(map[string]bool)
	n.OutputFiles = make(map[string]bool)
	n.Dependencies = make(map[string]bool)

	tokens := strings.Fields(n.Argv)
	if len(tokens) == 0 {
		return
	}

	n.Program = resolveProgram(n, tokens[0], lookup)
	n.ArgvDict = parseArgv(tokens[1:])

	for i := range n.ArgvDict {
		entry := &n.ArgvDict[i]
		resolved := resolveAgainst(entry.Value, n.PWD)

		if n.FilesRead[normpath(resolved)] {
			entry.InputFile = true
			entry.Value = normpath(resolved)
			n.InputFiles[entry.Value] = true
			continue
		}
		if n.FilesWritten[normpath(resolved)] {
			entry.OutputFile = true
			entry.Value = normpath(resolved)
			n.OutputFiles[entry.Value] = true
			continue
		}
		if filepath.IsAbs(entry.Value) && filepath.Ext(entry.Value) == "" {
			entry.Dir = true
		}
	}

	for path := range n.FilesRead {
		if n.InputFiles[path] || path == n.Program {
			continue
		}
		n.Dependencies[path] = true
	}
}

// resolveProgram implements the program-resolution rule: absolute
// stays as-is, otherwise try wdir/t0 on disk, otherwise search PATH. A
// symlink result is recorded into the node's symlink_to_target.
func resolveProgram(n *provenance.Node, t0 string, lookup PathLookup) string {
	resolved := t0
	switch {
	case filepath.IsAbs(t0):
		resolved = filepath.Clean(t0)
	default:
		candidate := filepath.Clean(filepath.Join(n.PWD, t0))
		if lookup.Exists != nil && lookup.Exists(candidate) {
			resolved = candidate
		} else if found, ok := searchPath(t0, lookup); ok {
			resolved = found
		} else {
			resolved = candidate
		}
	}

	if lookup.Readlink != nil {
		if target, err := lookup.Readlink(resolved); err == nil && target != "" {
			if !filepath.IsAbs(target) {
				target = filepath.Clean(filepath.Join(filepath.Dir(resolved), target))
			}
			n.SymlinkToTarget[resolved] = target
		}
	}
	return resolved
}

func searchPath(name string, lookup PathLookup) (string, bool) {
	if lookup.Path == "" || lookup.Exists == nil {
		return "", false
	}
	for _, dir := range strings.Split(lookup.Path, ":") {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if lookup.Exists(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// parseArgv classifies each token after t0 as a path or a plain flag/value.
func parseArgv(tokens []string) []provenance.ArgvEntry {
	var entries []provenance.ArgvEntry
	var pendingFlag *string

	for _, tok := range tokens {
		if strings.HasPrefix(tok, "-") && !strings.Contains(tok, "=") {
			flag := tok
			pendingFlag = &flag
			continue
		}

		entry := provenance.ArgvEntry{Value: tok, Flag: pendingFlag}
		pendingFlag = nil

		if eq := strings.Index(tok, "="); eq >= 0 {
			prefix := tok[:eq+1]
			entry.Prefix = &prefix
			entry.Value = tok[eq+1:]
		}

		if ext := filepath.Ext(entry.Value); ext != "" {
			entry.Suffix = &ext
		}

		entries = append(entries, entry)
	}
	return entries
}

func resolveAgainst(path, wdir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(wdir, path)
}

func normpath(p string) string {
	return filepath.Clean(p)
}

// aggregate rolls every node's classified paths up into the root's view.
func aggregate(root *provenance.Node, all []*provenance.Node) Result {
	res := Result{
		MainProgram:      root.Program,
		ChildPrograms:    make(map[string]bool),
		MainInputFiles:   root.InputFiles,
		ChildInputFiles:  make(map[string]bool),
		DependenciesRoot: make(map[string]bool),
		Dirs:             make(map[string]bool),
		SymlinkTargets:   make(map[string]string),
	}

	for _, n := range all {
		for link, target := range n.SymlinkToTarget {
			res.SymlinkTargets[link] = target
		}
		for _, e := range n.ArgvDict {
			if e.Dir {
				res.Dirs[e.Value] = true
			}
		}
		if n == root {
			continue
		}
		res.ChildPrograms[n.Program] = true
		for path := range n.InputFiles {
			if !res.MainInputFiles[path] {
				res.ChildInputFiles[path] = true
			}
		}
	}

	for path := range root.Dependencies {
		if res.ChildInputFiles[path] {
			continue
		}
		res.DependenciesRoot[path] = true
	}

	// Demotion heuristic: a dependency sharing a non-trivial path prefix
	// with wdir probably lives alongside the real inputs and is data, not
	// a library dependency.
	for path := range res.DependenciesRoot {
		if cp := commonPathPrefix(path, root.PWD); cp != "" && cp != "/" {
			delete(res.DependenciesRoot, path)
			res.ChildInputFiles[path] = true
		}
	}

	return res
}

// commonPathPrefix returns the longest common prefix of a and b, cut at a
// path separator boundary.
func commonPathPrefix(a, b string) string {
	aParts := strings.Split(filepath.Clean(a), string(filepath.Separator))
	bParts := strings.Split(filepath.Clean(b), string(filepath.Separator))
	var common []string
	for i := 0; i < len(aParts) && i < len(bParts); i++ {
		if aParts[i] != bParts[i] {
			break
		}
		common = append(common, aParts[i])
	}
	joined := strings.Join(common, string(filepath.Separator))
	if joined == "" {
		return ""
	}
	if !strings.HasPrefix(joined, "/") {
		joined = "/" + joined
	}
	return joined
}
