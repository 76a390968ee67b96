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

package provenance

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/anonymouse64/reprogo/internal/reprogoerrors"
	"github.com/anonymouse64/reprogo/internal/store"
)

// Tree is the provenance tree rooted at the traced command.
type Tree struct {
	Root *Node

	byID map[int]*Node
}

// NodeByID looks up a node by its dense id, for callers (the classifier)
// that need to refer back to a specific node after the tree is built.
func (t *Tree) NodeByID(id int) (*Node, bool) {
	n, ok := t.byID[id]
	return n, ok
}

// Nodes returns every node in the tree in build order: the root process's
// phase nodes first (in phase order, so the root is first only when its
// main phase is its first phase), then descendants.
func (t *Tree) Nodes() []*Node {
	out := make([]*Node, 0, len(t.byID))
	for id := 0; id < len(t.byID); id++ {
		out = append(out, t.byID[id])
	}
	return out
}

// Build queries s for the process whose argv matches command and
// assembles the provenance tree rooted at it: the root's other
// phases become extra child nodes, and every process whose ppid matches a
// node's pid and whose creation_time falls at or after the root's start
// time is attached beneath that node, recursively.
//
// update_root_information then unions every descendant's files_read,
// files_written, dirs and symlink_to_target into the root, and merges env
// first-writer-wins so the root's own environment entries are preserved.
func Build(ctx context.Context, s store.Store, command string) (*Tree, error) {
	mainRec, found, err := s.FindMostRecentByArgv(ctx, command)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &reprogoerrors.MissingMainPhase{Command: command}
	}

	mainIdx := -1
	target := normalizeWhitespace(command)
	for i, ph := range mainRec.Phases {
		if normalizeWhitespace(ph.ExecveArgv) == target {
			mainIdx = i
			break
		}
	}
	if mainIdx < 0 {
		return nil, &reprogoerrors.MissingMainPhase{Command: command}
	}

	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}

	b := &builder{byPPID: make(map[int][]store.Record), byID: make(map[int]*Node)}
	for _, rec := range all {
		if rec.Key == mainRec.Key {
			continue
		}
		b.byPPID[rec.PPID] = append(b.byPPID[rec.PPID], rec)
	}
	for _, recs := range b.byPPID {
		sort.Slice(recs, func(i, j int) bool { return recs[i].CreationTime.Before(recs[j].CreationTime) })
	}

	phaseNodes := b.nodesForRecord(mainRec)
	root := phaseNodes[mainIdx]
	for i, n := range phaseNodes {
		if i == mainIdx {
			continue
		}
		n.Parent = root
		root.Children = append(root.Children, n)
	}

	b.descend(mainRec.PID, root, root.StartTime)

	t := &Tree{Root: root, byID: b.byID}
	UpdateRootInformation(t)
	return t, nil
}

type builder struct {
	byPPID map[int][]store.Record
	byID   map[int]*Node
	nextID int
}

// nodesForRecord builds one Node per phase of rec, preserving phase order.
func (b *builder) nodesForRecord(rec store.Record) []*Node {
	nodes := make([]*Node, 0, len(rec.Phases))
	for _, ph := range rec.Phases {
		n := newNode(b.nextID, rec.PID, ph.ExecveArgv, ph.ExecvePWD, ph.StartTime, ph.ExecveEnv)
		b.nextID++
		for path := range ph.FilesRead {
			n.FilesRead[path] = true
		}
		for path := range ph.FilesWritten {
			n.FilesWritten[path] = true
		}
		for path := range ph.Dirs {
			n.Dirs[path] = true
		}
		for link, tgt := range ph.Symlinks {
			n.SymlinkToTarget[link] = tgt
		}
		b.byID[n.ID] = n
		nodes = append(nodes, n)
	}
	if len(nodes) == 0 {
		// A process with no recorded phases still occupies a spot in the
		// tree (e.g. it forked and exited before ever exec'ing).
		n := newNode(b.nextID, rec.PID, "", "", rec.CreationTime, nil)
		b.nextID++
		b.byID[n.ID] = n
		nodes = append(nodes, n)
	}
	return nodes
}

// descend attaches every record whose ppid equals pid and whose
// creation_time is at or after notBefore as children of parent, then
// recurses using each child's primary (first) phase node as the new
// attachment point for its own descendants.
func (b *builder) descend(pid int, parent *Node, notBefore time.Time) {
	for _, rec := range b.byPPID[pid] {
		if rec.CreationTime.Before(notBefore) {
			continue
		}
		nodes := b.nodesForRecord(rec)
		for _, n := range nodes {
			n.Parent = parent
			parent.Children = append(parent.Children, n)
		}
		b.descend(rec.PID, nodes[0], notBefore)
	}
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
